package loginstate

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/gatehouse/pkg/observability"
)

const ticketKeyPrefix = "ticket:"

// redisBackend shares tickets between instances through Redis, so a login
// form rendered by one instance can be submitted to another.
type redisBackend struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewRedisStore creates a Store with Redis ticket storage over an existing
// client.
func NewRedisStore(logger *observability.Logger, parser *Parser, client *redis.Client, ttl time.Duration) *Store {
	return NewStore(logger, parser, &redisBackend{redis: client, ttl: ttl})
}

func (r *redisBackend) get(ctx context.Context, key string) (*Ticket, error) {
	data, err := r.redis.Get(ctx, ticketKeyPrefix+key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch ticket: %w", err)
	}
	var t Ticket
	if err := json.Unmarshal([]byte(data), &t); err != nil {
		return nil, fmt.Errorf("failed to unmarshal ticket %s: %w", key, err)
	}
	return &t, nil
}

func (r *redisBackend) put(ctx context.Context, t *Ticket) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to marshal ticket: %w", err)
	}
	if err := r.redis.Set(ctx, ticketKeyPrefix+t.Key, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store ticket: %w", err)
	}
	return nil
}

func (r *redisBackend) delete(ctx context.Context, key string) (bool, error) {
	n, err := r.redis.Del(ctx, ticketKeyPrefix+key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to delete ticket: %w", err)
	}
	return n > 0, nil
}
