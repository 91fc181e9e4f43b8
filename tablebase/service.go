package tablebase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/c360/tablecache/errors"
	"github.com/c360/tablecache/health"
	"github.com/c360/tablecache/metric"
	"github.com/c360/tablecache/pkg/cache"
	"github.com/c360/tablecache/pkg/retry"
)

// Health component names reported by the service.
const (
	ComponentUpstream = "upstream"
	ComponentCache    = "cache"
)

// ServiceConfig configures the caching layer in front of a Fetcher.
type ServiceConfig struct {
	DataCache        cache.Config `json:"data_cache" yaml:"data_cache"`
	InFlightCache    cache.Config `json:"inflight_cache" yaml:"inflight_cache"`
	Retry            retry.Config `json:"retry" yaml:"retry"`
	BatchConcurrency int          `json:"batch_concurrency" yaml:"batch_concurrency"`
	MaxBatchSize     int          `json:"max_batch_size" yaml:"max_batch_size"`
}

// DefaultServiceConfig returns defaults. Tablebase answers never change, so
// the data TTL is long; the in-flight TTL only bounds leaked computations.
//
// The in-flight cache must stay enabled, and its max_size must exceed the
// peak number of distinct positions fetched at once. A running computation
// evicted for capacity is invisible to later callers, who start a duplicate
// fetch. Validate enforces at least BatchConcurrency.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		DataCache:        cache.Config{Enabled: true, MaxSize: 10000, TTL: time.Hour},
		InFlightCache:    cache.Config{Enabled: true, MaxSize: 1000, TTL: 30 * time.Second},
		Retry:            retry.DefaultConfig(),
		BatchConcurrency: 4,
		MaxBatchSize:     64,
	}
}

// Validate checks the configuration.
func (c ServiceConfig) Validate() error {
	if err := c.DataCache.Validate(); err != nil {
		return errors.WrapInvalid(err, "tablebase", "Validate", "data_cache")
	}
	if err := c.InFlightCache.Validate(); err != nil {
		return errors.WrapInvalid(err, "tablebase", "Validate", "inflight_cache")
	}
	if err := c.Retry.Validate(); err != nil {
		return errors.WrapInvalid(err, "tablebase", "Validate", "retry")
	}
	if !c.InFlightCache.Enabled {
		return errors.WrapInvalid(
			fmt.Errorf("%w: inflight_cache must be enabled to coalesce concurrent lookups", errors.ErrInvalidConfig),
			"tablebase", "Validate", "inflight_cache")
	}
	if c.BatchConcurrency <= 0 || c.MaxBatchSize <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "tablebase", "Validate",
			"validate batch limits (batch_concurrency and max_batch_size must be positive)")
	}
	if c.InFlightCache.MaxSize < c.BatchConcurrency {
		return errors.WrapInvalid(
			fmt.Errorf("%w: inflight_cache.max_size %d is below batch_concurrency %d",
				errors.ErrInvalidConfig, c.InFlightCache.MaxSize, c.BatchConcurrency),
			"tablebase", "Validate", "inflight_cache")
	}
	return nil
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics exports cache and loader metrics to registry.
func WithMetrics(registry *metric.MetricsRegistry) ServiceOption {
	return func(s *Service) {
		s.registry = registry
	}
}

// WithMonitor reports upstream and cache health to monitor.
func WithMonitor(monitor *health.Monitor) ServiceOption {
	return func(s *Service) {
		if monitor != nil {
			s.monitor = monitor
		}
	}
}

// BatchResult is the outcome for one position of a batch.
type BatchResult struct {
	FEN        string      `json:"fen"`
	Evaluation *Evaluation `json:"evaluation,omitempty"`
	Error      string      `json:"error,omitempty"`
	Err        error       `json:"-"`
}

// Service evaluates positions through a data cache and an in-flight cache so
// repeated and concurrent lookups of one position reach the upstream once.
type Service struct {
	fetcher  Fetcher
	config   ServiceConfig
	loader   *cache.Loader[string, *Evaluation]
	logger   *slog.Logger
	registry *metric.MetricsRegistry
	monitor  *health.Monitor
}

// NewService builds the caches and loader around fetcher.
func NewService(fetcher Fetcher, cfg ServiceConfig, opts ...ServiceOption) (*Service, error) {
	if fetcher == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "tablebase", "NewService", "validate fetcher")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Service{
		fetcher: fetcher,
		config:  cfg,
		logger:  slog.Default(),
		monitor: health.NewMonitor(health.DefaultFailureThreshold),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.logger = s.logger.With("component", "tablebase")

	data, err := cache.NewFromConfig[string, *Evaluation](cfg.DataCache,
		cache.WithMetrics[string, *Evaluation](s.registry, "tablebase_data"),
		cache.WithEvictionCallback[string, *Evaluation](s.logEviction))
	if err != nil {
		return nil, errors.Wrap(err, "tablebase", "NewService", "create data cache")
	}

	inflight, err := cache.NewFromConfig[string, *cache.Call[*Evaluation]](cfg.InFlightCache,
		cache.WithMetrics[string, *cache.Call[*Evaluation]](s.registry, "tablebase_inflight"))
	if err != nil {
		return nil, errors.Wrap(err, "tablebase", "NewService", "create in-flight cache")
	}

	s.loader, err = cache.NewLoader(data, inflight, s.fetch,
		cache.WithRetry(cfg.Retry),
		cache.WithLoaderLogger(s.logger),
		cache.WithLoaderMetrics(s.registry, "tablebase"))
	if err != nil {
		return nil, errors.Wrap(err, "tablebase", "NewService", "create loader")
	}

	s.monitor.UpdateHealthy(ComponentUpstream, "No requests yet")
	return s, nil
}

// fetch is the loader's compute step.
func (s *Service) fetch(ctx context.Context, fen string) (*Evaluation, error) {
	eval, err := s.fetcher.Fetch(ctx, fen)
	s.monitor.RecordResult(ComponentUpstream, err)
	if err != nil {
		return nil, err
	}
	if eval == nil {
		return nil, errors.WrapFatal(errors.ErrInvalidData, "tablebase", "fetch", "empty evaluation")
	}
	return eval, nil
}

func (s *Service) logEviction(fen string, _ *Evaluation, reason cache.EvictReason) {
	if reason == cache.EvictCapacity {
		s.logger.Debug("Evicted evaluation", "fen", fen, "reason", reason.String())
	}
}

// Evaluate returns the tablebase evaluation for fen.
func (s *Service) Evaluate(ctx context.Context, fen string) (*Evaluation, error) {
	key, err := NormalizeFEN(fen)
	if err != nil {
		return nil, err
	}
	return s.loader.GetOrCompute(ctx, key)
}

// EvaluateBatch evaluates several positions concurrently. Per-position
// failures are reported in the results; the error is only set for an
// oversized batch.
func (s *Service) EvaluateBatch(ctx context.Context, fens []string) ([]BatchResult, error) {
	if len(fens) > s.config.MaxBatchSize {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: batch of %d exceeds limit %d", errors.ErrInvalidData, len(fens), s.config.MaxBatchSize),
			"tablebase", "EvaluateBatch", "validate batch")
	}

	results := make([]BatchResult, len(fens))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.BatchConcurrency)

	for i, fen := range fens {
		g.Go(func() error {
			eval, err := s.Evaluate(gctx, fen)
			results[i] = BatchResult{FEN: fen, Evaluation: eval, Err: err}
			if err != nil {
				results[i].Error = err.Error()
			}
			return nil
		})
	}
	_ = g.Wait()

	return results, nil
}

// Invalidate drops the cached evaluation for fen.
func (s *Service) Invalidate(fen string) (bool, error) {
	key, err := NormalizeFEN(fen)
	if err != nil {
		return false, err
	}
	return s.loader.Invalidate(key), nil
}

// Clear drops all cached evaluations.
func (s *Service) Clear() {
	s.loader.Clear()
	s.logger.Info("Cache cleared")
}

// Stats returns cache and loader statistics.
func (s *Service) Stats() cache.LoaderStats {
	return s.loader.Stats()
}

// Health reports aggregated upstream and cache health.
func (s *Service) Health() health.Status {
	stats := s.loader.Stats()
	s.monitor.Update(ComponentCache,
		health.NewHealthy(ComponentCache, "Serving").WithMetrics(&health.Metrics{
			CacheSize:    stats.Data.Size,
			CacheHitRate: stats.Data.HitRate,
		}))
	return s.monitor.AggregateHealth("tablebase")
}

// RunStatsLogger logs cache statistics every interval until ctx ends.
func (s *Service) RunStatsLogger(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			stats := s.loader.Stats()
			s.logger.Info("Cache statistics",
				"size", stats.Data.Size,
				"max_size", stats.Data.MaxSize,
				"hits", stats.Data.Hits,
				"misses", stats.Data.Misses,
				"hit_rate", stats.Data.HitRate,
				"evictions", stats.Data.Evictions,
				"expirations", stats.Data.Expirations,
				"computations", stats.Computations,
				"coalesced", stats.Coalesced,
				"failures", stats.Failures)
		}
	}
}
