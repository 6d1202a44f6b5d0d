package loginstate

import (
	"context"
	"time"

	"github.com/platinummonkey/gatehouse/pkg/cache"
	"github.com/platinummonkey/gatehouse/pkg/observability"
)

// memoryBackend keeps tickets in an in-process expiring cache.
type memoryBackend struct {
	cache *cache.Cache[*Ticket]
}

func newMemoryBackend(logger *observability.Logger, ttl time.Duration) *memoryBackend {
	return &memoryBackend{
		cache: cache.New[*Ticket]("login_tickets", logger, ttl, cache.NoOpLock{}),
	}
}

func (m *memoryBackend) get(_ context.Context, key string) (*Ticket, error) {
	t, ok := m.cache.Get(key)
	if !ok {
		return nil, nil
	}
	return t, nil
}

func (m *memoryBackend) put(_ context.Context, t *Ticket) error {
	m.cache.Add(t.Key, t)
	return nil
}

func (m *memoryBackend) delete(_ context.Context, key string) (bool, error) {
	return m.cache.Delete(key), nil
}
