package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/aiserve/modelrouter/internal/cache"
	"github.com/aiserve/modelrouter/internal/metrics"
	"github.com/aiserve/modelrouter/internal/registry"
	"github.com/aiserve/modelrouter/internal/router"
)

// ObservabilityHandler serves health/metrics, aggregating registry size,
// per-model circuit state, and cache hit rate into a single structured
// health endpoint alongside the process-wide Prometheus/JSON exporters.
type ObservabilityHandler struct {
	registry *registry.Registry
	health   *router.HealthTracker
	cache    *cache.MultiLayerCache
}

func NewObservabilityHandler(reg *registry.Registry, health *router.HealthTracker, c *cache.MultiLayerCache) *ObservabilityHandler {
	return &ObservabilityHandler{registry: reg, health: health, cache: c}
}

// HandleMetrics returns Prometheus-formatted metrics.
func (h *ObservabilityHandler) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	m := metrics.GetMetrics()
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, m.ToPrometheus())
}

// HandleStats returns JSON-formatted statistics.
func (h *ObservabilityHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, metrics.GetMetrics().ToJSON())
}

// HandleHealth reports registry size, per-model circuit breaker state, and
// cache hit rate.
func (h *ObservabilityHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	snapshots := h.registry.List()

	models := make([]map[string]interface{}, 0, len(snapshots))
	openBreakers := 0
	for _, s := range snapshots {
		healthy := h.health == nil || h.health.Healthy(s.Descriptor.ID)
		if !healthy {
			openBreakers++
		}
		models = append(models, map[string]interface{}{
			"id":      s.Descriptor.ID,
			"status":  string(s.Status),
			"loaded":  s.Loaded,
			"healthy": healthy,
		})
	}

	status := "ok"
	if openBreakers > 0 && openBreakers == len(snapshots) && len(snapshots) > 0 {
		status = "unhealthy"
	} else if openBreakers > 0 {
		status = "degraded"
	}

	var cacheStats cache.Stats
	if h.cache != nil {
		cacheStats = h.cache.Stats()
	}

	health := map[string]interface{}{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"registry": map[string]interface{}{
			"size":   h.registry.Size(),
			"models": models,
		},
		"cache": map[string]interface{}{
			"hit_rate":       h.cache.HitRate(),
			"local_hit_rate": h.cache.LocalHitRate(),
			"local_hits":     cacheStats.LocalHits,
			"local_misses":   cacheStats.LocalMisses,
			"redis_hits":     cacheStats.RedisHits,
			"redis_misses":   cacheStats.RedisMisses,
		},
	}

	if status == "unhealthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(health)
		return
	}
	respondJSON(w, http.StatusOK, health)
}
