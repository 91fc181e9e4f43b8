// Package cache provides a generic, thread-safe LRU cache with per-entry TTL
// expiration, plus a Loader that collapses concurrent misses for the same key
// into a single upstream computation.
//
// # Overview
//
// Cache is the contract every implementation satisfies. LRU is the bounded
// implementation: a hash map for O(1) lookup paired with an intrusive doubly
// linked list ordered from most to least recently used. Noop is returned by
// NewFromConfig when caching is disabled.
//
// Expiration is lazy. An expired entry is never returned; it is removed on the
// read that observes it, and Size, Keys and Stats sweep the whole structure
// before answering. There is no background goroutine.
//
// # Quick Start
//
//	c, err := cache.NewLRU[string, *Evaluation](1000, 5*time.Minute)
//	if err != nil {
//		return err
//	}
//	c.Set(fen, eval)
//	if eval, ok := c.Get(fen); ok {
//		...
//	}
//
// # Stampede Prevention
//
// A Loader layers a second cache of in-flight computations over the data cache:
//
//	data, _ := cache.NewLRU[string, *Evaluation](1000, 5*time.Minute)
//	inflight, _ := cache.NewLRU[string, *cache.Call[*Evaluation]](100, 30*time.Second)
//	loader, _ := cache.NewLoader(data, inflight, fetch)
//
//	eval, err := loader.GetOrCompute(ctx, fen)
//
// The first caller for a missing key registers a Call before starting the
// computation; everyone arriving afterwards waits on that Call. Successful
// results populate the data cache. Failures only clear the in-flight entry so
// the next caller retries.
//
// # Observability
//
// Statistics are always collected and exposed through Stats. WithMetrics also
// exports them to Prometheus under the tablecache_cache_* names with a
// component label.
package cache
