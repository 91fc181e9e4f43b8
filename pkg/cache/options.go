package cache

import (
	"github.com/c360/tablecache/metric"
)

// Option configures an LRU cache using the functional options pattern.
type Option[K comparable, V any] func(*cacheOptions[K, V])

// cacheOptions holds internal configuration for cache instances.
// Statistics are always collected; metrics are optional.
type cacheOptions[K comparable, V any] struct {
	metricsReg       *metric.MetricsRegistry
	metricsComponent string
	evictCallback    EvictCallback[K, V]
	clock            Clock
}

// WithMetrics exports cache statistics as Prometheus metrics labelled with
// component. Ignored when registry is nil or component is empty.
func WithMetrics[K comparable, V any](registry *metric.MetricsRegistry, component string) Option[K, V] {
	return func(opts *cacheOptions[K, V]) {
		if registry != nil && component != "" {
			opts.metricsReg = registry
			opts.metricsComponent = component
		}
	}
}

// WithEvictionCallback sets a function called whenever an entry leaves the cache.
func WithEvictionCallback[K comparable, V any](callback EvictCallback[K, V]) Option[K, V] {
	return func(opts *cacheOptions[K, V]) {
		opts.evictCallback = callback
	}
}

// WithClock replaces the time source used for expiration.
func WithClock[K comparable, V any](clock Clock) Option[K, V] {
	return func(opts *cacheOptions[K, V]) {
		if clock != nil {
			opts.clock = clock
		}
	}
}

func applyOptions[K comparable, V any](options ...Option[K, V]) *cacheOptions[K, V] {
	opts := &cacheOptions[K, V]{
		clock: SystemClock(),
	}

	for _, opt := range options {
		if opt != nil {
			opt(opts)
		}
	}

	return opts
}
