package health

import (
	"sync"
	"time"

	"github.com/c360/tablecache/errors"
)

// DefaultFailureThreshold is the number of consecutive failures after which a
// degraded component is reported unhealthy.
const DefaultFailureThreshold = 3

type tracked struct {
	status  Status
	metrics Metrics
}

// Monitor tracks health of multiple components in a thread-safe manner
type Monitor struct {
	mu        sync.RWMutex
	statuses  map[string]*tracked
	threshold int
}

// NewMonitor creates a monitor. A threshold <= 0 uses DefaultFailureThreshold.
func NewMonitor(threshold int) *Monitor {
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}
	return &Monitor{
		statuses:  make(map[string]*tracked),
		threshold: threshold,
	}
}

// Update replaces the status for a named component
func (m *Monitor) Update(name string, status Status) {
	m.mu.Lock()
	defer m.mu.Unlock()

	status.Component = name
	if status.Timestamp.IsZero() {
		status.Timestamp = time.Now()
	}

	t := m.entry(name)
	t.status = status
}

// UpdateHealthy is a convenience method to update a component as healthy
func (m *Monitor) UpdateHealthy(name, message string) {
	m.Update(name, NewHealthy(name, message))
}

// UpdateDegraded is a convenience method to update a component as degraded
func (m *Monitor) UpdateDegraded(name, message string) {
	m.Update(name, NewDegraded(name, message))
}

// RecordResult folds the outcome of one operation into the component status.
// Invalid errors are caller mistakes and leave the status untouched. Other
// failures degrade the component until threshold consecutive failures make
// it unhealthy; one success restores it.
func (m *Monitor) RecordResult(name string, err error) {
	if err != nil && errors.IsInvalid(err) {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	t := m.entry(name)
	now := time.Now()

	if err == nil {
		t.metrics.ConsecutiveFailures = 0
		t.metrics.LastSuccess = now
		t.status = NewHealthy(name, "Operating normally")
		return
	}

	t.metrics.ConsecutiveFailures++
	t.metrics.TotalFailures++
	t.metrics.LastFailure = now

	msg := sanitizeErrorMessage(err.Error())
	if t.metrics.ConsecutiveFailures >= m.threshold || errors.IsFatal(err) {
		t.status = NewUnhealthy(name, msg)
	} else {
		t.status = NewDegraded(name, msg)
	}
}

// entry returns the tracked record for name, creating it. Must hold mu.
func (m *Monitor) entry(name string) *tracked {
	t, ok := m.statuses[name]
	if !ok {
		t = &tracked{status: NewHealthy(name, "No activity yet")}
		m.statuses[name] = t
	}
	return t
}

func (t *tracked) snapshot() Status {
	metrics := t.metrics
	if t.status.Metrics != nil {
		metrics.CacheSize = t.status.Metrics.CacheSize
		metrics.CacheHitRate = t.status.Metrics.CacheHitRate
	}
	return t.status.WithMetrics(&metrics)
}

// Get retrieves the health status for a named component
func (m *Monitor) Get(name string) (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, exists := m.statuses[name]
	if !exists {
		return Status{}, false
	}
	return t.snapshot(), true
}

// GetAll returns a copy of all current health statuses
func (m *Monitor) GetAll() map[string]Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string]Status, len(m.statuses))
	for name, t := range m.statuses {
		result[name] = t.snapshot()
	}
	return result
}

// Remove removes a component from monitoring
func (m *Monitor) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.statuses, name)
}

// AggregateHealth returns an aggregated health status for the entire system
func (m *Monitor) AggregateHealth(systemName string) Status {
	m.mu.RLock()
	subStatuses := make([]Status, 0, len(m.statuses))
	for _, t := range m.statuses {
		subStatuses = append(subStatuses, t.snapshot())
	}
	m.mu.RUnlock()

	return Aggregate(systemName, subStatuses)
}

// Count returns the number of components being monitored
func (m *Monitor) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.statuses)
}
