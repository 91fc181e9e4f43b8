package cache

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/tablecache/errors"
	"github.com/c360/tablecache/metric"
	"github.com/c360/tablecache/pkg/retry"
)

// ComputeFunc produces the value for a key on a cache miss.
type ComputeFunc[K comparable, V any] func(ctx context.Context, key K) (V, error)

// Call is a computation in progress. It is stored in the in-flight cache so
// concurrent callers can wait on the same result.
type Call[V any] struct {
	done chan struct{}
	val  V
	err  error
}

func newCall[V any]() *Call[V] {
	return &Call[V]{done: make(chan struct{})}
}

// Done is closed once the result is available.
func (c *Call[V]) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until the computation finishes or ctx ends. An ended ctx only
// abandons the wait; the computation keeps running for other callers.
func (c *Call[V]) Wait(ctx context.Context) (V, error) {
	select {
	case <-c.done:
		return c.val, c.err
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	}
}

// LoaderStats is a snapshot of a Loader and its two caches.
type LoaderStats struct {
	Data         StatsSummary `json:"data"`
	InFlight     StatsSummary `json:"inflight"`
	Computations int64        `json:"computations"`
	Coalesced    int64        `json:"coalesced"`
	Failures     int64        `json:"failures"`
}

// LoaderOption configures a Loader.
type LoaderOption func(*loaderOptions)

type loaderOptions struct {
	logger           *slog.Logger
	metricsReg       *metric.MetricsRegistry
	metricsComponent string
	retry            *retry.Config
}

// WithLoaderLogger sets the logger used for computation failures.
func WithLoaderLogger(logger *slog.Logger) LoaderOption {
	return func(opts *loaderOptions) {
		if logger != nil {
			opts.logger = logger
		}
	}
}

// WithLoaderMetrics exports loader counters and compute latency to Prometheus.
func WithLoaderMetrics(registry *metric.MetricsRegistry, component string) LoaderOption {
	return func(opts *loaderOptions) {
		if registry != nil && component != "" {
			opts.metricsReg = registry
			opts.metricsComponent = component
		}
	}
}

// WithRetry retries transient compute failures with backoff. Errors that
// errors.IsTransient does not recognise fail immediately.
func WithRetry(cfg retry.Config) LoaderOption {
	return func(opts *loaderOptions) {
		opts.retry = &cfg
	}
}

// Loader fronts a ComputeFunc with a data cache and collapses concurrent
// misses for one key into a single computation tracked in an in-flight cache.
type Loader[K comparable, V any] struct {
	// mu covers check-and-register and completion so a key is never
	// missing from both caches while its computation is running.
	mu       sync.Mutex
	data     Cache[K, V]
	inflight Cache[K, *Call[V]]
	compute  ComputeFunc[K, V]

	logger  *slog.Logger
	retry   *retry.Config
	metrics *loaderMetrics

	computations atomic.Int64
	coalesced    atomic.Int64
	failures     atomic.Int64
}

// NewLoader creates a Loader. All three arguments are required.
func NewLoader[K comparable, V any](
	data Cache[K, V], inflight Cache[K, *Call[V]], compute ComputeFunc[K, V], options ...LoaderOption,
) (*Loader[K, V], error) {
	if data == nil || inflight == nil || compute == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "cache", "NewLoader",
			"validate arguments (data, inflight and compute are required)")
	}

	opts := &loaderOptions{logger: slog.Default()}
	for _, opt := range options {
		if opt != nil {
			opt(opts)
		}
	}

	if opts.retry != nil {
		if err := opts.retry.Validate(); err != nil {
			return nil, errors.WrapInvalid(err, "cache", "NewLoader", "validate retry config")
		}
	}

	var metrics *loaderMetrics
	if opts.metricsReg != nil {
		var err error
		metrics, err = newLoaderMetrics(opts.metricsReg, opts.metricsComponent)
		if err != nil {
			return nil, errors.WrapTransient(err, "cache", "NewLoader", "metrics registration")
		}
	}

	return &Loader[K, V]{
		data:     data,
		inflight: inflight,
		compute:  compute,
		logger:   opts.logger,
		retry:    opts.retry,
		metrics:  metrics,
	}, nil
}

// GetOrCompute returns the cached value for key, joins a computation already
// running for key, or starts one. Every caller of a shared computation sees
// the same value or the same error. Failures are never cached.
func (l *Loader[K, V]) GetOrCompute(ctx context.Context, key K) (V, error) {
	l.mu.Lock()
	if v, ok := l.data.Get(key); ok {
		l.mu.Unlock()
		return v, nil
	}
	if call, ok := l.inflight.Get(key); ok {
		l.mu.Unlock()
		l.coalesced.Add(1)
		if l.metrics != nil {
			l.metrics.coalesced.Inc()
		}
		l.logger.Debug("Joining in-flight computation", "key", key)
		return call.Wait(ctx)
	}
	call := newCall[V]()
	l.inflight.Set(key, call)
	l.mu.Unlock()

	l.computations.Add(1)
	if l.metrics != nil {
		l.metrics.computations.Inc()
	}

	go l.run(context.WithoutCancel(ctx), key, call)

	return call.Wait(ctx)
}

// run executes the computation and publishes its result.
func (l *Loader[K, V]) run(ctx context.Context, key K, call *Call[V]) {
	start := time.Now()
	v, err := l.computeWithRetry(ctx, key)
	if l.metrics != nil {
		l.metrics.duration.Observe(time.Since(start).Seconds())
	}

	l.mu.Lock()
	if err == nil {
		l.data.Set(key, v)
	}
	if current, ok := l.inflight.Peek(key); ok && current == call {
		l.inflight.Delete(key)
	}
	l.mu.Unlock()

	if err != nil {
		l.failures.Add(1)
		if l.metrics != nil {
			l.metrics.failures.Inc()
		}
		l.logger.Warn("Computation failed",
			"key", fmt.Sprint(key),
			"class", errors.Classify(err).String(),
			"error", err)
	}

	call.val, call.err = v, err
	close(call.done)
}

func (l *Loader[K, V]) computeWithRetry(ctx context.Context, key K) (V, error) {
	if l.retry == nil {
		return l.invoke(ctx, key)
	}

	v, err := retry.DoWithResult(ctx, *l.retry, func() (V, error) {
		v, err := l.invoke(ctx, key)
		if err != nil && !errors.IsTransient(err) {
			return v, retry.NonRetryable(err)
		}
		return v, err
	})

	var nre *retry.NonRetryableError
	if stderrors.As(err, &nre) {
		err = nre.Err
	}
	return v, err
}

// invoke calls compute, turning a panic into an error.
func (l *Loader[K, V]) invoke(ctx context.Context, key K) (v V, err error) {
	defer func() {
		if r := recover(); r != nil {
			var zero V
			v = zero
			err = errors.WrapFatal(fmt.Errorf("%w: %v", errors.ErrComputePanic, r),
				"cache", "GetOrCompute", "compute")
		}
	}()
	return l.compute(ctx, key)
}

// Invalidate drops the cached value for key and reports whether one existed.
func (l *Loader[K, V]) Invalidate(key K) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.data.Delete(key)
}

// Clear drops every cached value. Running computations are unaffected.
func (l *Loader[K, V]) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.data.Clear()
}

// Stats returns a snapshot of the loader and both caches.
func (l *Loader[K, V]) Stats() LoaderStats {
	return LoaderStats{
		Data:         l.data.Stats(),
		InFlight:     l.inflight.Stats(),
		Computations: l.computations.Load(),
		Coalesced:    l.coalesced.Load(),
		Failures:     l.failures.Load(),
	}
}

type loaderMetrics struct {
	computations prometheus.Counter
	coalesced    prometheus.Counter
	failures     prometheus.Counter
	duration     prometheus.Histogram
}

func newLoaderMetrics(registry *metric.MetricsRegistry, component string) (*loaderMetrics, error) {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "tablecache",
			Subsystem:   "loader",
			Name:        name,
			ConstLabels: prometheus.Labels{"component": component},
			Help:        help,
		})
	}

	m := &loaderMetrics{
		computations: counter("computations_total", "Total number of computations started"),
		coalesced:    counter("coalesced_total", "Total number of requests that joined a running computation"),
		failures:     counter("failures_total", "Total number of failed computations"),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "tablecache",
			Subsystem:   "loader",
			Name:        "compute_duration_seconds",
			ConstLabels: prometheus.Labels{"component": component},
			Help:        "Duration of computations including retries",
			Buckets:     prometheus.DefBuckets,
		}),
	}

	if err := registry.RegisterCounter(component, "loader_computations", m.computations); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(component, "loader_coalesced", m.coalesced); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(component, "loader_failures", m.failures); err != nil {
		return nil, err
	}
	if err := registry.RegisterHistogram(component, "loader_compute_duration", m.duration); err != nil {
		return nil, err
	}

	return m, nil
}
