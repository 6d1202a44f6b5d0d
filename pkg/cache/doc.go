// Package cache implements a TTL-evicting key/value cache with strict
// insertion-order purging and pluggable, non-blocking purge locking.
//
// Eviction is lazy: every Add performs a purge pass over the age-ordered
// queue, removing expired entries oldest-first and stopping at the first
// still-valid entry. Lookups never refresh recency; expiry is purely
// time-based. Callers that care about staleness must re-validate entry age
// themselves, because a logically expired entry may remain visible briefly
// until the next purge pass.
package cache
