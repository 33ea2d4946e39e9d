package registry

import (
	"sync"
	"time"
)

// Metrics is the per-model counter set, updated atomically at
// the end of each successful or failed call. Uses sum/count bookkeeping
// under one mutex rather than sync/atomic fields, since avgLatencyMs is a
// derived value and
// lastUsedAt/loadTimeMs need to move together.
type Metrics struct {
	mu             sync.Mutex
	InferenceCount int64     `json:"inference_count"`
	TotalTokens    int64     `json:"total_tokens"`
	latencySumMs   int64
	AvgLatencyMs   float64   `json:"avg_latency_ms"`
	LastUsedAt     time.Time `json:"last_used_at"`
	LoadTimeMs     int64     `json:"load_time_ms"`
	ErrorCount     int64     `json:"error_count"`
}

// Snapshot returns a value copy safe to read without holding the lock.
func (m *Metrics) Snapshot() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Metrics{
		InferenceCount: m.InferenceCount,
		TotalTokens:    m.TotalTokens,
		latencySumMs:   m.latencySumMs,
		AvgLatencyMs:   m.AvgLatencyMs,
		LastUsedAt:     m.LastUsedAt,
		LoadTimeMs:     m.LoadTimeMs,
		ErrorCount:     m.ErrorCount,
	}
}

// RecordSuccess folds one successful inference call into the running average.
func (m *Metrics) RecordSuccess(tokens int, latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.InferenceCount++
	m.TotalTokens += int64(tokens)
	m.latencySumMs += latency.Milliseconds()
	m.AvgLatencyMs = float64(m.latencySumMs) / float64(m.InferenceCount)
	m.LastUsedAt = time.Now()
}

// RecordError folds one failed inference call into the counters.
func (m *Metrics) RecordError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ErrorCount++
	m.LastUsedAt = time.Now()
}

// RecordLoad records how long a loader took to produce a handle.
func (m *Metrics) RecordLoad(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LoadTimeMs = d.Milliseconds()
}

// Touch updates LastUsedAt without touching the other counters (used by the
// pipeline when a request is served from cache). LRU eviction reads the
// handle's own LastUsedAt, not this field.
func (m *Metrics) Touch() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LastUsedAt = time.Now()
}
