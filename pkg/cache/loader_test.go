package cache

import (
	"context"
	stderrors "errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/c360/tablecache/errors"
	"github.com/c360/tablecache/metric"
	"github.com/c360/tablecache/pkg/retry"
)

type payload struct {
	key string
	n   int64
}

func newTestLoader(t *testing.T, compute ComputeFunc[string, *payload], opts ...LoaderOption) *Loader[string, *payload] {
	t.Helper()
	data, err := NewLRU[string, *payload](100, time.Minute)
	require.NoError(t, err)
	inflight, err := NewLRU[string, *Call[*payload]](100, 10*time.Second)
	require.NoError(t, err)

	loader, err := NewLoader(data, inflight, compute, opts...)
	require.NoError(t, err)
	return loader
}

func TestNewLoader_RequiresArguments(t *testing.T) {
	data, err := NewLRU[string, int](10, time.Minute)
	require.NoError(t, err)
	inflight, err := NewLRU[string, *Call[int]](10, time.Minute)
	require.NoError(t, err)
	compute := func(context.Context, string) (int, error) { return 0, nil }

	_, err = NewLoader[string, int](nil, inflight, compute)
	assert.True(t, errors.IsInvalid(err))
	_, err = NewLoader[string, int](data, nil, compute)
	assert.True(t, errors.IsInvalid(err))
	_, err = NewLoader[string, int](data, inflight, nil)
	assert.True(t, errors.IsInvalid(err))

	_, err = NewLoader[string, int](data, inflight, compute, WithRetry(retry.Config{MaxAttempts: -1}))
	assert.True(t, errors.IsInvalid(err))
}

func TestLoader_StampedeRunsComputeOnce(t *testing.T) {
	var calls atomic.Int64
	release := make(chan struct{})

	loader := newTestLoader(t, func(_ context.Context, key string) (*payload, error) {
		n := calls.Add(1)
		<-release
		return &payload{key: key, n: n}, nil
	})

	const callers = 10
	results := make([]*payload, callers)
	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < callers; i++ {
		g.Go(func() error {
			v, err := loader.GetOrCompute(ctx, "k")
			results[i] = v
			return err
		})
	}

	require.Eventually(t, func() bool {
		return loader.Stats().Coalesced == callers-1
	}, 2*time.Second, time.Millisecond)
	close(release)
	require.NoError(t, g.Wait())

	assert.Equal(t, int64(1), calls.Load(), "compute must run exactly once")
	for i := 1; i < callers; i++ {
		assert.Same(t, results[0], results[i])
	}

	stats := loader.Stats()
	assert.Equal(t, int64(1), stats.Computations)
	assert.Zero(t, stats.Failures)
	assert.Equal(t, 1, stats.Data.Size)
	assert.Equal(t, 0, stats.InFlight.Size, "in-flight entry is removed on completion")
	assert.Equal(t, int64(callers-1), stats.InFlight.Hits, "only coalesced joins count as in-flight hits")
	assert.Equal(t, int64(1), stats.InFlight.Misses)

	v, err := loader.GetOrCompute(context.Background(), "k")
	require.NoError(t, err)
	assert.Same(t, results[0], v, "later calls are served from the data cache")
	assert.Equal(t, int64(1), calls.Load())
}

func TestLoader_FailureIsSharedAndNotCached(t *testing.T) {
	boom := stderrors.New("boom")
	var calls atomic.Int64
	release := make(chan struct{})
	var fail atomic.Bool
	fail.Store(true)

	loader := newTestLoader(t, func(_ context.Context, key string) (*payload, error) {
		calls.Add(1)
		<-release
		if fail.Load() {
			return nil, boom
		}
		return &payload{key: key}, nil
	})

	g := new(errgroup.Group)
	errs := make([]error, 3)
	for i := range errs {
		g.Go(func() error {
			_, errs[i] = loader.GetOrCompute(context.Background(), "k")
			return nil
		})
	}
	require.Eventually(t, func() bool { return loader.Stats().Coalesced == 2 }, 2*time.Second, time.Millisecond)
	close(release)
	require.NoError(t, g.Wait())

	for _, err := range errs {
		assert.ErrorIs(t, err, boom)
	}
	assert.Equal(t, int64(1), calls.Load())

	stats := loader.Stats()
	assert.Equal(t, int64(1), stats.Failures)
	assert.Zero(t, stats.Data.Size, "failures never populate the data cache")
	assert.Zero(t, stats.InFlight.Size, "failures clear the in-flight entry")

	fail.Store(false)
	v, err := loader.GetOrCompute(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, "k", v.key)
	assert.Equal(t, int64(2), calls.Load(), "a later call retries the computation")
}

func TestLoader_PanicBecomesError(t *testing.T) {
	var calls atomic.Int64
	loader := newTestLoader(t, func(_ context.Context, key string) (*payload, error) {
		if calls.Add(1) == 1 {
			panic("exploded")
		}
		return &payload{key: key}, nil
	})

	_, err := loader.GetOrCompute(context.Background(), "k")
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrComputePanic)
	assert.Contains(t, err.Error(), "exploded")

	v, err := loader.GetOrCompute(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, "k", v.key)
}

func TestLoader_RetriesTransientErrors(t *testing.T) {
	var calls atomic.Int64
	loader := newTestLoader(t, func(_ context.Context, key string) (*payload, error) {
		if calls.Add(1) < 3 {
			return nil, errors.WrapTransient(errors.ErrUpstreamUnavailable, "test", "compute", "fetch")
		}
		return &payload{key: key}, nil
	}, WithRetry(retry.Config{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2,
	}))

	v, err := loader.GetOrCompute(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, "k", v.key)
	assert.Equal(t, int64(3), calls.Load())
	assert.Equal(t, int64(1), loader.Stats().Computations)
}

func TestLoader_DoesNotRetryInvalidErrors(t *testing.T) {
	var calls atomic.Int64
	loader := newTestLoader(t, func(context.Context, string) (*payload, error) {
		calls.Add(1)
		return nil, errors.WrapInvalid(errors.ErrInvalidData, "test", "compute", "parse")
	}, WithRetry(retry.Config{MaxAttempts: 5, InitialDelay: time.Millisecond}))

	_, err := loader.GetOrCompute(context.Background(), "k")
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrInvalidData)
	assert.False(t, retry.IsNonRetryable(err), "retry marker is stripped before returning")
	assert.True(t, errors.IsInvalid(err))
	assert.Equal(t, int64(1), calls.Load())
}

func TestLoader_WaiterCancellationDoesNotStopComputation(t *testing.T) {
	var calls atomic.Int64
	release := make(chan struct{})
	loader := newTestLoader(t, func(ctx context.Context, key string) (*payload, error) {
		calls.Add(1)
		select {
		case <-release:
			return &payload{key: key}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := loader.GetOrCompute(ctx, "k")
		firstErr <- err
	}()
	require.Eventually(t, func() bool { return calls.Load() == 1 }, 2*time.Second, time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	second := make(chan *payload, 1)
	go func() {
		v, _ := loader.GetOrCompute(context.Background(), "k")
		second <- v
	}()
	require.Eventually(t, func() bool { return loader.Stats().Coalesced == 1 }, 2*time.Second, time.Millisecond)

	close(release)
	v := <-second
	require.NotNil(t, v)
	assert.Equal(t, "k", v.key)
	assert.Equal(t, int64(1), calls.Load())
}

func TestLoader_Invalidate(t *testing.T) {
	var calls atomic.Int64
	loader := newTestLoader(t, func(_ context.Context, key string) (*payload, error) {
		return &payload{key: key, n: calls.Add(1)}, nil
	})

	v, err := loader.GetOrCompute(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, int64(1), v.n)

	assert.True(t, loader.Invalidate("k"))
	assert.False(t, loader.Invalidate("k"))

	v, err = loader.GetOrCompute(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, int64(2), v.n)

	loader.Clear()
	assert.Zero(t, loader.Stats().Data.Size)
}

func TestLoader_Metrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	loader := newTestLoader(t, func(_ context.Context, key string) (*payload, error) {
		if key == "bad" {
			return nil, stderrors.New("nope")
		}
		return &payload{key: key}, nil
	}, WithLoaderMetrics(registry, "loader_test"))

	_, err := loader.GetOrCompute(context.Background(), "good")
	require.NoError(t, err)
	_, err = loader.GetOrCompute(context.Background(), "bad")
	require.Error(t, err)

	assert.Equal(t, float64(2), testutil.ToFloat64(loader.metrics.computations))
	assert.Equal(t, float64(1), testutil.ToFloat64(loader.metrics.failures))
	assert.Equal(t, 1, testutil.CollectAndCount(loader.metrics.duration))

	_, err = NewLoader(loader.data, loader.inflight, loader.compute, WithLoaderMetrics(registry, "loader_test"))
	assert.Error(t, err, "duplicate metric registration must fail")
}
