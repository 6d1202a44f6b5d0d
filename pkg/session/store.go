package session

import (
	"time"

	"github.com/platinummonkey/gatehouse/pkg/observability"
)

// NewStore selects a session backend. A non-empty redisAddr selects the
// shared Redis store, otherwise sessions stay in process memory.
func NewStore(logger *observability.Logger, redisAddr, redisPassword string, lifetime, expireFreq time.Duration) (Store, error) {
	if redisAddr != "" {
		return NewRedisStore(logger, redisAddr, redisPassword, lifetime, expireFreq)
	}
	return NewMemoryStore(logger, lifetime), nil
}
