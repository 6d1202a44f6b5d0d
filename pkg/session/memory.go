package session

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/gatehouse/pkg/cache"
	"github.com/platinummonkey/gatehouse/pkg/observability"
)

// MemoryStore keeps sessions in an in-process expiring cache. Suitable for
// single-instance deployments and tests; sessions do not survive restarts.
type MemoryStore struct {
	log      *observability.Logger
	lifetime time.Duration
	cache    *cache.Cache[*SSOSession]
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a MemoryStore evicting sessions after lifetime.
func NewMemoryStore(logger *observability.Logger, lifetime time.Duration) *MemoryStore {
	return &MemoryStore{
		log:      logger,
		lifetime: lifetime,
		cache:    cache.New[*SSOSession]("sso_sessions", logger, lifetime, cache.NoOpLock{}),
	}
}

// SetHooks installs eviction and purge-skip observers on the backing cache.
func (m *MemoryStore) SetHooks(onEvict func(n int), onSkip func()) {
	m.cache.SetHooks(onEvict, onSkip)
}

// AddSession stores sess under a fresh random session ID.
func (m *MemoryStore) AddSession(_ context.Context, sess *SSOSession) (string, error) {
	id := uuid.NewString()
	sess.SessionID = id
	sess.CreatedAt = time.Now()
	m.cache.Add(id, sess)
	m.log.WithFields(map[string]interface{}{
		"session_id": id,
		"user_id":    sess.UserID,
	}).Debug("Stored SSO session")
	return id, nil
}

// GetSession fetches a session by ID, returning (nil, nil) on a miss or when
// the entry has outlived the store's lifetime but not yet been purged.
func (m *MemoryStore) GetSession(_ context.Context, sessionID string) (*SSOSession, error) {
	sess, ok := m.cache.Get(sessionID)
	if !ok {
		return nil, nil
	}
	if time.Since(sess.CreatedAt) > m.lifetime {
		return nil, nil
	}
	return sess, nil
}

// RemoveSession deletes a session by ID.
func (m *MemoryStore) RemoveSession(_ context.Context, sessionID string) (bool, error) {
	return m.cache.Delete(sessionID), nil
}

// SessionsForUser scans the cache for all live sessions belonging to userID.
func (m *MemoryStore) SessionsForUser(_ context.Context, userID string) ([]*SSOSession, error) {
	var sessions []*SSOSession
	for _, sess := range m.cache.Items() {
		if sess.UserID == userID && time.Since(sess.CreatedAt) <= m.lifetime {
			sessions = append(sessions, sess)
		}
	}
	return sessions, nil
}

// ExpireOldSessions purges sessions older than the store lifetime. The
// memory store purges opportunistically on every AddSession as well, so this
// is only needed as a periodic safety net. force is ignored.
func (m *MemoryStore) ExpireOldSessions(_ context.Context, _ bool) error {
	m.cache.PurgeExpired(time.Now().Add(-m.lifetime))
	return nil
}
