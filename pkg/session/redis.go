package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/platinummonkey/gatehouse/pkg/observability"
)

const (
	sessionKeyPrefix = "session:"
	userKeyPrefix    = "sessions:user:"
	createdIndexKey  = "sessions:by_created"
)

// RedisStore persists sessions in Redis so that multiple instances share
// login state. Each session lives under its own key with a Redis TTL, with a
// ZSET ordered by creation time for bulk expiry and a per-user SET for
// single logout lookups.
type RedisStore struct {
	log      *observability.Logger
	redis    *redis.Client
	lifetime time.Duration

	// expireFreq throttles bulk index sweeps; lastExpire guards it.
	expireFreq time.Duration
	mu         sync.Mutex
	lastExpire time.Time
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore connects to Redis at addr and returns a store evicting
// sessions after lifetime. Index sweeps run at most once per expireFreq.
func NewRedisStore(logger *observability.Logger, addr, password string, lifetime, expireFreq time.Duration) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0, // use default DB
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisStore{
		log:        logger,
		redis:      client,
		lifetime:   lifetime,
		expireFreq: expireFreq,
	}, nil
}

// NewRedisStoreWithClient wraps an existing client. Used by tests.
func NewRedisStoreWithClient(logger *observability.Logger, client *redis.Client, lifetime, expireFreq time.Duration) *RedisStore {
	return &RedisStore{
		log:        logger,
		redis:      client,
		lifetime:   lifetime,
		expireFreq: expireFreq,
	}
}

// Close closes the Redis connection.
func (r *RedisStore) Close() error {
	return r.redis.Close()
}

// AddSession stores sess under a fresh random session ID and indexes it by
// creation time and by user.
func (r *RedisStore) AddSession(ctx context.Context, sess *SSOSession) (string, error) {
	id := uuid.NewString()
	sess.SessionID = id
	sess.CreatedAt = time.Now()

	data, err := json.Marshal(sess)
	if err != nil {
		return "", fmt.Errorf("failed to marshal session: %w", err)
	}

	pipe := r.redis.TxPipeline()
	pipe.Set(ctx, sessionKeyPrefix+id, data, r.lifetime)
	pipe.ZAdd(ctx, createdIndexKey, &redis.Z{
		Score:  float64(sess.CreatedAt.Unix()),
		Member: id,
	})
	pipe.SAdd(ctx, userKeyPrefix+sess.UserID, id)
	pipe.Expire(ctx, userKeyPrefix+sess.UserID, r.lifetime)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("failed to store session: %w", err)
	}

	r.log.WithFields(map[string]interface{}{
		"session_id": id,
		"user_id":    sess.UserID,
	}).Debug("Stored SSO session")
	return id, nil
}

// GetSession fetches a session by ID, or (nil, nil) when the key has expired
// or never existed.
func (r *RedisStore) GetSession(ctx context.Context, sessionID string) (*SSOSession, error) {
	data, err := r.redis.Get(ctx, sessionKeyPrefix+sessionID).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch session: %w", err)
	}

	var sess SSOSession
	if err := json.Unmarshal([]byte(data), &sess); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session %s: %w", sessionID, err)
	}
	return &sess, nil
}

// RemoveSession deletes a session and its index entries.
func (r *RedisStore) RemoveSession(ctx context.Context, sessionID string) (bool, error) {
	// Fetch first so the user index entry can be removed too.
	sess, err := r.GetSession(ctx, sessionID)
	if err != nil {
		return false, err
	}

	pipe := r.redis.TxPipeline()
	del := pipe.Del(ctx, sessionKeyPrefix+sessionID)
	pipe.ZRem(ctx, createdIndexKey, sessionID)
	if sess != nil {
		pipe.SRem(ctx, userKeyPrefix+sess.UserID, sessionID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("failed to remove session: %w", err)
	}
	return del.Val() > 0, nil
}

// SessionsForUser returns every live session in the user's index. Fetching
// an entry whose session key has since expired drops it from the index.
func (r *RedisStore) SessionsForUser(ctx context.Context, userID string) ([]*SSOSession, error) {
	ids, err := r.redis.SMembers(ctx, userKeyPrefix+userID).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions for user: %w", err)
	}

	var sessions []*SSOSession
	for _, id := range ids {
		sess, err := r.GetSession(ctx, id)
		if err != nil {
			return nil, err
		}
		if sess == nil {
			r.redis.SRem(ctx, userKeyPrefix+userID, id)
			r.redis.ZRem(ctx, createdIndexKey, id)
			continue
		}
		sessions = append(sessions, sess)
	}
	return sessions, nil
}

// ExpireOldSessions sweeps the creation-time index for sessions past the
// store lifetime. Redis already expires the session keys themselves; the
// sweep keeps the indexes from growing unbounded. Sweeps are throttled to at
// most one per expireFreq unless force is set.
func (r *RedisStore) ExpireOldSessions(ctx context.Context, force bool) error {
	r.mu.Lock()
	if !force && time.Since(r.lastExpire) < r.expireFreq {
		r.mu.Unlock()
		return nil
	}
	r.lastExpire = time.Now()
	r.mu.Unlock()

	cutoff := time.Now().Add(-r.lifetime).Unix()
	ids, err := r.redis.ZRangeByScore(ctx, createdIndexKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", cutoff),
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to scan expired sessions: %w", err)
	}
	if len(ids) == 0 {
		return nil
	}

	for _, id := range ids {
		// Best effort cleanup of the user index before deleting the key.
		if sess, err := r.GetSession(ctx, id); err == nil && sess != nil {
			r.redis.SRem(ctx, userKeyPrefix+sess.UserID, id)
		}
		r.redis.Del(ctx, sessionKeyPrefix+id)
	}
	if err := r.redis.ZRemRangeByScore(ctx, createdIndexKey, "-inf", fmt.Sprintf("%d", cutoff)).Err(); err != nil {
		return fmt.Errorf("failed to trim session index: %w", err)
	}

	r.log.WithField("count", len(ids)).Info("Expired old SSO sessions")
	return nil
}
