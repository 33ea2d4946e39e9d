package router

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/sony/gobreaker"

	"github.com/aiserve/modelrouter/internal/resilience"
)

// HealthTracker gates candidates by per-model circuit breaker state,
// wrapping resilience.CircuitBreaker (already generic over a "service"
// name) keyed by model id instead of provider name.
type HealthTracker struct {
	breakers *resilience.CircuitBreaker
}

// NewHealthTracker builds a tracker with sane default breaker
// settings (60s stats window, 30s open-to-half-open timeout, trips at a
// 60% failure ratio once at least 10 requests have been observed).
func NewHealthTracker() *HealthTracker {
	return &HealthTracker{breakers: resilience.NewCircuitBreaker(resilience.DefaultSettings)}
}

// RecordSuccess/RecordFailure feed the breaker for modelID via a no-op/err
// Execute call, since gobreaker only observes outcomes through Execute.
func (h *HealthTracker) RecordSuccess(modelID string) {
	_, _ = h.breakers.Execute(modelID, func() (interface{}, error) { return nil, nil })
}

func (h *HealthTracker) RecordFailure(modelID string) {
	_, _ = h.breakers.Execute(modelID, func() (interface{}, error) { return nil, errObservedFailure })
}

var errObservedFailure = errors.New("router: observed backend failure")

// Healthy reports whether modelID's breaker is not open.
func (h *HealthTracker) Healthy(modelID string) bool {
	return h.breakers.GetState(modelID) != gobreaker.StateOpen
}

// Monitor runs until ctx is cancelled and, on every tick, logs each breaker
// that is currently open. It recomputes no quality, latency or cost scores;
// candidates are scored from fresh registry snapshots on every Select.
// Default cadence is 30s.
func (h *HealthTracker) Monitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, name := range h.breakers.ListBreakers() {
				if h.breakers.GetState(name) == gobreaker.StateOpen {
					log.Printf("router: model %q circuit breaker is open", name)
				}
			}
		}
	}
}
