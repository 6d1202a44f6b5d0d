package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/platinummonkey/gatehouse/pkg/observability"
)

// TryLocker is the locking policy used to serialize purge passes. A purge
// pass attempts a non-blocking acquisition; when the lock is unavailable the
// pass is skipped entirely so eviction never blocks the caller.
//
// *sync.Mutex satisfies TryLocker.
type TryLocker interface {
	TryLock() bool
	Unlock()
}

// NoOpLock always acquires. Used when no real concurrency control is needed,
// making every purge pass unconditional.
type NoOpLock struct{}

// TryLock always succeeds.
func (NoOpLock) TryLock() bool { return true }

// Unlock does nothing.
func (NoOpLock) Unlock() {}

// Key derives a stable cache key from raw data (hex-encoded SHA-256).
func Key(data string) string {
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}

type age struct {
	at  time.Time
	key string
}

type entry[V any] struct {
	value V
	at    time.Time
}

// Cache is a TTL-evicting map from string keys to values of type V.
// Values are replaced wholesale on Add, never patched in place.
type Cache[V any] struct {
	name string
	log  *observability.Logger
	ttl  time.Duration
	lock TryLocker

	mu   sync.RWMutex
	data map[string]entry[V]
	ages []age // insertion order, oldest first

	onEvict func(n int)
	onSkip  func()
}

// New creates a Cache. A nil lock means NoOpLock (unconditional purging).
func New[V any](name string, logger *observability.Logger, ttl time.Duration, lock TryLocker) *Cache[V] {
	if lock == nil {
		lock = NoOpLock{}
	}
	return &Cache[V]{
		name: name,
		log:  logger,
		ttl:  ttl,
		lock: lock,
		data: make(map[string]entry[V]),
	}
}

// SetHooks installs optional observers for evictions and skipped purge
// passes, typically backed by Prometheus counters.
func (c *Cache[V]) SetHooks(onEvict func(n int), onSkip func()) {
	c.onEvict = onEvict
	c.onSkip = onSkip
}

// Add inserts or overwrites key, stamping the current time, then runs a
// purge pass. Any number of unrelated expired entries may be evicted as a
// side effect.
func (c *Cache[V]) Add(key string, value V) {
	c.AddAt(key, value, time.Now())
}

// AddAt is Add with an injected timestamp. Meant for tests only.
func (c *Cache[V]) AddAt(key string, value V, now time.Time) {
	c.mu.Lock()
	c.data[key] = entry[V]{value: value, at: now}
	c.ages = append(c.ages, age{at: now, key: key})
	c.mu.Unlock()

	c.PurgeExpired(now.Add(-c.ttl))
}

// Get returns the value for key. No recency refresh; a logically expired
// entry may still be returned until the next purge pass removes it.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	e, ok := c.data[key]
	c.mu.RUnlock()
	return e.value, ok
}

// Delete removes key, reporting whether an entry existed. Deleting a
// nonexistent key is a logged no-op.
func (c *Cache[V]) Delete(key string) bool {
	c.mu.Lock()
	_, ok := c.data[key]
	if ok {
		delete(c.data, key)
	}
	c.mu.Unlock()

	if !ok {
		c.log.Debugf("Failed deleting key %q from %s cache (entry did not exist)", key, c.name)
	}
	return ok
}

// PurgeExpired removes entries inserted at or before threshold, strictly
// oldest-first, stopping at the first still-valid entry. The pass is skipped
// when the purge lock cannot be acquired without blocking.
func (c *Cache[V]) PurgeExpired(threshold time.Time) {
	if !c.lock.TryLock() {
		// Another worker is purging; eviction is best-effort.
		c.log.Debugf("Skipping purge of %s cache, lock not acquired", c.name)
		if c.onSkip != nil {
			c.onSkip()
		}
		return
	}
	defer c.lock.Unlock()

	evicted := 0
	c.mu.Lock()
	for len(c.ages) > 0 {
		oldest := c.ages[0]
		if oldest.at.After(threshold) {
			// Entry not expired; everything behind it is younger.
			break
		}
		c.ages = c.ages[1:]
		// An overwritten key leaves a stale age record; only evict when the
		// live entry is the one this record stamped.
		if cur, ok := c.data[oldest.key]; ok && cur.at.Equal(oldest.at) {
			delete(c.data, oldest.key)
			evicted++
			c.log.Debugf("Purged %s cache entry %s, %s over limit", c.name, oldest.key, threshold.Sub(oldest.at))
		}
	}
	c.mu.Unlock()

	if evicted > 0 && c.onEvict != nil {
		c.onEvict(evicted)
	}
}

// Len returns the number of live entries.
func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}

// Items returns a snapshot of the cache contents.
func (c *Cache[V]) Items() map[string]V {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]V, len(c.data))
	for k, e := range c.data {
		out[k] = e.value
	}
	return out
}
