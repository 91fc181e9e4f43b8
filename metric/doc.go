// Package metric provides the Prometheus registry and metrics HTTP server shared by
// every tablecache component.
//
// Components never talk to a global Prometheus registry. They receive a
// *MetricsRegistry and register their collectors under a component name:
//
//	registry := metric.NewMetricsRegistry()
//	entries, err := cache.NewLRU[string, *tablebase.Evaluation](10_000, 10*time.Minute,
//	    cache.WithMetrics[string, *tablebase.Evaluation](registry, "tablebase_data"))
//
// Registration keys are "component.metric"; registering the same key twice returns an
// invalid-class error instead of panicking, so two caches with the same component name
// fail at construction time.
//
// The registry also carries the core HTTP API metrics (Metrics) and the Go runtime and
// process collectors. Server exposes everything at /metrics (OpenMetrics enabled) with
// a /health probe on a dedicated port.
package metric
