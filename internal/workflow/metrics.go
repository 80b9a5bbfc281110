package workflow

import (
	"sync"
	"time"
)

// durationBuckets are the upper bounds, in seconds, of the execution
// duration histogram.
var durationBuckets = []float64{1, 5, 15, 60, 300, 900}

// Metrics counts workflow executions by outcome and tracks a coarse
// duration histogram. All methods are safe for concurrent use.
type Metrics struct {
	mu        sync.Mutex
	started   int64
	completed int64
	failed    int64
	cancelled int64
	durations []int64
	totalSecs float64
}

// NewMetrics creates an empty metrics collector
func NewMetrics() *Metrics {
	return &Metrics{durations: make([]int64, len(durationBuckets)+1)}
}

// RecordStart counts a submitted execution.
func (m *Metrics) RecordStart() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started++
}

// RecordCompletion counts a successful execution and its duration.
func (m *Metrics) RecordCompletion(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completed++
	m.observe(d)
}

// RecordFailure counts an execution that ended in the error state.
func (m *Metrics) RecordFailure(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failed++
	m.observe(d)
}

// RecordCancellation counts a cancelled execution.
func (m *Metrics) RecordCancellation() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelled++
}

func (m *Metrics) observe(d time.Duration) {
	secs := d.Seconds()
	m.totalSecs += secs
	for i, bound := range durationBuckets {
		if secs <= bound {
			m.durations[i]++
			return
		}
	}
	m.durations[len(durationBuckets)]++
}

// Snapshot returns the current counters as a plain key-value map.
func (m *Metrics) Snapshot() map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	finished := m.completed + m.failed
	avg := 0.0
	if finished > 0 {
		avg = m.totalSecs / float64(finished)
	}

	histogram := make(map[string]int64, len(m.durations))
	for i, bound := range durationBuckets {
		histogram[time.Duration(bound*float64(time.Second)).String()] = m.durations[i]
	}
	histogram["+Inf"] = m.durations[len(durationBuckets)]

	return map[string]interface{}{
		"workflows_started":    m.started,
		"workflows_completed":  m.completed,
		"workflows_failed":     m.failed,
		"workflows_cancelled":  m.cancelled,
		"avg_duration_seconds": avg,
		"duration_histogram":   histogram,
	}
}
