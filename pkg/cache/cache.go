package cache

import (
	"time"
)

// Cache is the contract shared by all cache implementations. Every method is
// synchronous and safe for concurrent use.
type Cache[K comparable, V any] interface {
	// Get returns the value and true if key is present and unexpired.
	// A hit marks the key most recently used.
	Get(key K) (V, bool)

	// Set inserts or replaces key using the default TTL.
	Set(key K, value V)

	// SetWithTTL inserts or replaces key with an explicit TTL.
	// A ttl <= 0 falls back to the default TTL.
	SetWithTTL(key K, value V, ttl time.Duration)

	// Has reports whether key is present and unexpired without touching recency.
	Has(key K) bool

	// Peek returns the value like Get but leaves recency and hit/miss
	// counters alone. Expired entries are still removed.
	Peek(key K) (V, bool)

	// Delete removes key and reports whether a live entry existed.
	Delete(key K) bool

	// Clear removes all entries. Cumulative statistics are preserved.
	Clear()

	// Size returns the number of live entries after removing expired ones.
	Size() int

	// Keys returns live keys from most to least recently used.
	Keys() []K

	// Stats returns a snapshot of the cache statistics.
	Stats() StatsSummary
}

// EvictReason describes why an entry left the cache.
type EvictReason int

const (
	// EvictCapacity means the entry was least recently used when the cache was full.
	EvictCapacity EvictReason = iota
	// EvictExpired means the entry outlived its TTL.
	EvictExpired
	// EvictDeleted means the entry was removed by Delete.
	EvictDeleted
	// EvictCleared means the entry was removed by Clear.
	EvictCleared
)

// String returns the reason name used in logs.
func (r EvictReason) String() string {
	switch r {
	case EvictCapacity:
		return "capacity"
	case EvictExpired:
		return "expired"
	case EvictDeleted:
		return "deleted"
	case EvictCleared:
		return "cleared"
	default:
		return "unknown"
	}
}

// EvictCallback is called after an entry has been removed, outside the cache lock.
type EvictCallback[K comparable, V any] func(key K, value V, reason EvictReason)

// Clock abstracts time so expiration can be tested deterministically.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns the wall clock.
func SystemClock() Clock {
	return systemClock{}
}
