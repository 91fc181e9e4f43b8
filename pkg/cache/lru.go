package cache

import (
	"fmt"
	"sync"
	"time"

	"github.com/c360/tablecache/errors"
)

// entry is a node of the intrusive recency list.
type entry[K comparable, V any] struct {
	key        K
	value      V
	expiresAt  time.Time
	accessedAt time.Time

	prev, next *entry[K, V]
}

func (e *entry[K, V]) expired(now time.Time) bool {
	return !now.Before(e.expiresAt)
}

// removed is an entry waiting for its eviction callback.
type removed[K comparable, V any] struct {
	key    K
	value  V
	reason EvictReason
}

// LRU is a bounded cache that evicts the least recently used entry when full
// and treats entries older than their TTL as absent.
//
// A single mutex guards the map and the list since Get reorders the list.
type LRU[K comparable, V any] struct {
	mu         sync.Mutex
	maxSize    int
	defaultTTL time.Duration
	items      map[K]*entry[K, V]
	head       *entry[K, V] // most recently used
	tail       *entry[K, V] // least recently used

	clock   Clock
	stats   *Statistics   // always present
	metrics *cacheMetrics // nil unless WithMetrics
	evictFn EvictCallback[K, V]
}

var _ Cache[string, int] = (*LRU[string, int])(nil)

// NewLRU creates an LRU cache holding at most maxSize entries, each living for
// defaultTTL unless set with an explicit TTL.
func NewLRU[K comparable, V any](maxSize int, defaultTTL time.Duration, options ...Option[K, V]) (*LRU[K, V], error) {
	if maxSize <= 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "cache", "NewLRU",
			fmt.Sprintf("validate max_size (must be positive, got %d)", maxSize))
	}
	if defaultTTL <= 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "cache", "NewLRU",
			fmt.Sprintf("validate ttl (must be positive, got %v)", defaultTTL))
	}

	opts := applyOptions(options...)

	var metrics *cacheMetrics
	if opts.metricsReg != nil {
		var err error
		metrics, err = newCacheMetrics(opts.metricsReg, opts.metricsComponent)
		if err != nil {
			return nil, errors.WrapTransient(err, "cache", "NewLRU", "metrics registration")
		}
	}

	return &LRU[K, V]{
		maxSize:    maxSize,
		defaultTTL: defaultTTL,
		items:      make(map[K]*entry[K, V], maxSize),
		clock:      opts.clock,
		stats:      NewStatistics(),
		metrics:    metrics,
		evictFn:    opts.evictCallback,
	}, nil
}

// Get returns the value for key if present and unexpired, marking it most recently used.
func (c *LRU[K, V]) Get(key K) (V, bool) {
	var pending []removed[K, V]
	defer func() { c.notify(pending) }()

	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	e, ok := c.items[key]
	if !ok {
		c.recordMiss()
		return zero, false
	}

	now := c.clock.Now()
	if e.expired(now) {
		c.removeLocked(e, EvictExpired, &pending)
		c.recordMiss()
		c.updateSizeLocked()
		return zero, false
	}

	c.moveToFront(e)
	e.accessedAt = now
	c.recordHit()
	return e.value, true
}

// Set inserts or replaces key using the default TTL.
func (c *LRU[K, V]) Set(key K, value V) {
	c.SetWithTTL(key, value, c.defaultTTL)
}

// SetWithTTL inserts or replaces key. A ttl <= 0 uses the default TTL.
func (c *LRU[K, V]) SetWithTTL(key K, value V, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	var pending []removed[K, V]
	defer func() { c.notify(pending) }()

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	if e, ok := c.items[key]; ok {
		e.value = value
		e.expiresAt = now.Add(ttl)
		e.accessedAt = now
		c.moveToFront(e)
	} else {
		e := &entry[K, V]{
			key:        key,
			value:      value,
			expiresAt:  now.Add(ttl),
			accessedAt: now,
		}
		c.items[key] = e
		c.pushFront(e)
	}

	for len(c.items) > c.maxSize {
		c.removeLocked(c.tail, EvictCapacity, &pending)
	}

	c.stats.Set()
	if c.metrics != nil {
		c.metrics.recordSet()
	}
	c.updateSizeLocked()
}

// Has reports whether key is present and unexpired. Recency and hit counters are untouched.
func (c *LRU[K, V]) Has(key K) bool {
	var pending []removed[K, V]
	defer func() { c.notify(pending) }()

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[key]
	if !ok {
		return false
	}
	if e.expired(c.clock.Now()) {
		c.removeLocked(e, EvictExpired, &pending)
		c.updateSizeLocked()
		return false
	}
	return true
}

// Peek returns the live value for key without touching recency or counting
// a hit or miss.
func (c *LRU[K, V]) Peek(key K) (V, bool) {
	var pending []removed[K, V]
	defer func() { c.notify(pending) }()

	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	e, ok := c.items[key]
	if !ok {
		return zero, false
	}
	if e.expired(c.clock.Now()) {
		c.removeLocked(e, EvictExpired, &pending)
		c.updateSizeLocked()
		return zero, false
	}
	return e.value, true
}

// Delete removes key and reports whether a live entry was removed.
// An entry that had already expired is dropped but reported as absent.
func (c *LRU[K, V]) Delete(key K) bool {
	var pending []removed[K, V]
	defer func() { c.notify(pending) }()

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[key]
	if !ok {
		return false
	}

	live := !e.expired(c.clock.Now())
	if live {
		c.removeLocked(e, EvictDeleted, &pending)
	} else {
		c.removeLocked(e, EvictExpired, &pending)
	}
	c.updateSizeLocked()
	return live
}

// Clear removes every entry. Cumulative statistics are kept.
func (c *LRU[K, V]) Clear() {
	var pending []removed[K, V]

	c.mu.Lock()
	if c.evictFn != nil {
		pending = make([]removed[K, V], 0, len(c.items))
		for e := c.tail; e != nil; e = e.prev {
			pending = append(pending, removed[K, V]{key: e.key, value: e.value, reason: EvictCleared})
		}
	}
	c.items = make(map[K]*entry[K, V], c.maxSize)
	c.head, c.tail = nil, nil
	c.updateSizeLocked()
	c.mu.Unlock()

	c.notify(pending)
}

// Size returns the number of live entries. It sweeps expired entries first
// and is therefore O(n).
func (c *LRU[K, V]) Size() int {
	var pending []removed[K, V]
	defer func() { c.notify(pending) }()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.sweepLocked(&pending)
	return len(c.items)
}

// Keys returns live keys ordered from most to least recently used.
func (c *LRU[K, V]) Keys() []K {
	var pending []removed[K, V]
	defer func() { c.notify(pending) }()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.sweepLocked(&pending)
	keys := make([]K, 0, len(c.items))
	for e := c.head; e != nil; e = e.next {
		keys = append(keys, e.key)
	}
	return keys
}

// Stats sweeps expired entries and returns a statistics snapshot.
func (c *LRU[K, V]) Stats() StatsSummary {
	var pending []removed[K, V]
	defer func() { c.notify(pending) }()

	c.mu.Lock()
	c.sweepLocked(&pending)
	size := len(c.items)
	c.mu.Unlock()

	return c.stats.Summary(size, c.maxSize)
}

// Statistics exposes the live counters.
func (c *LRU[K, V]) Statistics() *Statistics {
	return c.stats
}

// MaxSize returns the configured capacity.
func (c *LRU[K, V]) MaxSize() int {
	return c.maxSize
}

// DefaultTTL returns the TTL applied by Set.
func (c *LRU[K, V]) DefaultTTL() time.Duration {
	return c.defaultTTL
}

// sweepLocked removes every expired entry. Must be called with mu held.
func (c *LRU[K, V]) sweepLocked(pending *[]removed[K, V]) {
	now := c.clock.Now()
	swept := false
	for e := c.head; e != nil; {
		next := e.next
		if e.expired(now) {
			c.removeLocked(e, EvictExpired, pending)
			swept = true
		}
		e = next
	}
	if swept {
		c.updateSizeLocked()
	}
}

// removeLocked unlinks e, counts the removal and queues the callback.
// Must be called with mu held.
func (c *LRU[K, V]) removeLocked(e *entry[K, V], reason EvictReason, pending *[]removed[K, V]) {
	c.unlink(e)
	delete(c.items, e.key)

	switch reason {
	case EvictCapacity:
		c.stats.Eviction()
		if c.metrics != nil {
			c.metrics.recordEviction()
		}
	case EvictExpired:
		c.stats.Expiration()
		if c.metrics != nil {
			c.metrics.recordExpiration()
		}
	case EvictDeleted:
		c.stats.Delete()
		if c.metrics != nil {
			c.metrics.recordDelete()
		}
	}

	if c.evictFn != nil {
		*pending = append(*pending, removed[K, V]{key: e.key, value: e.value, reason: reason})
	}
}

// notify runs eviction callbacks. Must be called without mu held.
func (c *LRU[K, V]) notify(pending []removed[K, V]) {
	if c.evictFn == nil {
		return
	}
	for _, r := range pending {
		c.evictFn(r.key, r.value, r.reason)
	}
}

func (c *LRU[K, V]) recordHit() {
	c.stats.Hit()
	if c.metrics != nil {
		c.metrics.recordHit()
	}
}

func (c *LRU[K, V]) recordMiss() {
	c.stats.Miss()
	if c.metrics != nil {
		c.metrics.recordMiss()
	}
}

func (c *LRU[K, V]) updateSizeLocked() {
	if c.metrics != nil {
		c.metrics.updateSize(len(c.items))
	}
}

func (c *LRU[K, V]) pushFront(e *entry[K, V]) {
	e.prev = nil
	e.next = c.head
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *LRU[K, V]) unlink(e *entry[K, V]) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
	e.prev, e.next = nil, nil
}

func (c *LRU[K, V]) moveToFront(e *entry[K, V]) {
	if c.head == e {
		return
	}
	c.unlink(e)
	c.pushFront(e)
}
