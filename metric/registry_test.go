package metric

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/tablecache/errors"
)

func gatheredNames(t *testing.T, registry *MetricsRegistry) map[string]bool {
	t.Helper()
	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	return names
}

func TestNewMetricsRegistry(t *testing.T) {
	registry := NewMetricsRegistry()

	require.NotNil(t, registry)
	assert.NotNil(t, registry.PrometheusRegistry())
	assert.Same(t, registry.Metrics, registry.CoreMetrics())

	names := gatheredNames(t, registry)
	assert.True(t, names["go_goroutines"], "runtime collector should be registered")
}

func TestMetricsRegistry_RegisterKinds(t *testing.T) {
	registry := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_counter", Help: "c"})
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "test_gauge", Help: "g"})
	histogram := prometheus.NewHistogram(prometheus.HistogramOpts{Name: "test_histogram", Help: "h"})
	counterVec := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "test_counter_vec", Help: "cv"}, []string{"k"})
	histogramVec := prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: "test_histogram_vec", Help: "hv"}, []string{"k"})

	require.NoError(t, registry.RegisterCounter("svc", "counter", counter))
	require.NoError(t, registry.RegisterGauge("svc", "gauge", gauge))
	require.NoError(t, registry.RegisterHistogram("svc", "histogram", histogram))
	require.NoError(t, registry.RegisterCounterVec("svc", "counter_vec", counterVec))
	require.NoError(t, registry.RegisterHistogramVec("svc", "histogram_vec", histogramVec))

	counter.Inc()
	gauge.Set(42)
	histogram.Observe(0.1)
	counterVec.WithLabelValues("a").Inc()
	histogramVec.WithLabelValues("a").Observe(0.2)

	names := gatheredNames(t, registry)
	for _, name := range []string{"test_counter", "test_gauge", "test_histogram", "test_counter_vec", "test_histogram_vec"} {
		assert.True(t, names[name], "%s should be registered", name)
	}
	assert.Equal(t, float64(42), testutil.ToFloat64(gauge))
}

func TestMetricsRegistry_PreventDuplicateRegistration(t *testing.T) {
	registry := NewMetricsRegistry()

	first := prometheus.NewCounter(prometheus.CounterOpts{Name: "dup_counter", Help: "first"})
	second := prometheus.NewCounter(prometheus.CounterOpts{Name: "dup_counter", Help: "second"})

	require.NoError(t, registry.RegisterCounter("svc", "dup", first))

	err := registry.RegisterCounter("svc", "dup", second)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
	assert.Contains(t, err.Error(), "already registered")

	// Same prometheus name under a different key is rejected by prometheus itself,
	// both for a conflicting help string and for an identical descriptor
	err = registry.RegisterCounter("other", "dup", second)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
	assert.False(t, errors.IsFatal(err))

	same := prometheus.NewCounter(prometheus.CounterOpts{Name: "dup_counter", Help: "first"})
	err = registry.RegisterCounter("third", "dup", same)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	assert.False(t, registry.Unregister("other", "dup"), "failed registrations are not tracked")
}

func TestMetricsRegistry_Unregister(t *testing.T) {
	registry := NewMetricsRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "gone_counter", Help: "c"})
	counter.Inc()

	require.NoError(t, registry.RegisterCounter("svc", "gone", counter))
	assert.True(t, gatheredNames(t, registry)["gone_counter"])

	assert.True(t, registry.Unregister("svc", "gone"))
	assert.False(t, registry.Unregister("svc", "gone"))
	assert.False(t, gatheredNames(t, registry)["gone_counter"])

	// Key is free again
	assert.NoError(t, registry.RegisterCounter("svc", "gone", counter))
}

func TestMetricsRegistry_ThreadSafety(t *testing.T) {
	registry := NewMetricsRegistry()

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			counter := prometheus.NewCounter(prometheus.CounterOpts{
				Name: fmt.Sprintf("concurrent_counter_%d", i),
				Help: "c",
			})
			errs <- registry.RegisterCounter("svc", fmt.Sprintf("c%d", i), counter)
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
}

func TestCoreMetrics_RecordRequest(t *testing.T) {
	registry := NewMetricsRegistry()
	core := registry.CoreMetrics()

	core.RecordRequest("/v1/evaluate", http.MethodGet, 200, 15*time.Millisecond)
	core.RecordRequest("/v1/evaluate", http.MethodGet, 200, 5*time.Millisecond)
	core.RecordRequest("/v1/evaluate", http.MethodGet, 503, time.Millisecond)

	assert.Equal(t, float64(2), testutil.ToFloat64(core.HTTPRequests.WithLabelValues("/v1/evaluate", "GET", "200")))
	assert.Equal(t, float64(1), testutil.ToFloat64(core.HTTPRequests.WithLabelValues("/v1/evaluate", "GET", "503")))
}

func TestServer_Handler(t *testing.T) {
	registry := NewMetricsRegistry()
	registry.CoreMetrics().RecordRequest("/v1/cache/stats", http.MethodGet, 200, time.Millisecond)

	srv := httptest.NewServer(NewServer("", "", registry).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "tablecache_http_requests_total")

	resp, err = http.Get(srv.URL + "/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_Defaults(t *testing.T) {
	s := NewServer("", "", NewMetricsRegistry())
	assert.Equal(t, ":9090/metrics", s.Address())
	assert.NoError(t, s.Shutdown(t.Context()))
}

func TestServer_StartAfterShutdown(t *testing.T) {
	s := NewServer("127.0.0.1:0", "", NewMetricsRegistry())
	require.NoError(t, s.Shutdown(t.Context()))

	err := s.Start()
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrShuttingDown)
	assert.True(t, errors.IsInvalid(err))
}
