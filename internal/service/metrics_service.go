package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsSnapshot is a lightweight aggregate for the admin status endpoint.
type MetricsSnapshot struct {
	CacheHitRatio            float64   `json:"cache_hit_ratio"`
	CacheHits                uint64    `json:"cache_hits"`
	CacheMisses              uint64    `json:"cache_misses"`
	RequestsTotal            uint64    `json:"requests_total"`
	AverageRequestDurationMs float64   `json:"average_request_duration_ms"`
	BookingsTotal            uint64    `json:"bookings_total"`
	BookingConflicts         uint64    `json:"booking_conflicts"`
	SyncAttemptsTotal        uint64    `json:"sync_attempts_total"`
	Goroutines               int       `json:"goroutines"`
	GeneratedAt              time.Time `json:"generated_at"`
}

// MetricsService encapsulates Prometheus instrumentation and provides
// lightweight snapshots for API consumption.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	bookingTotal    *prometheus.CounterVec
	slotComputation prometheus.Observer
	syncAttempts    *prometheus.CounterVec
	outboxDrained   prometheus.Counter
	cacheWrite      prometheus.Observer
	cacheHitRatio   prometheus.Gauge
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter

	cacheHitCount        uint64
	cacheMissCount       uint64
	requestCount         uint64
	requestDurationTotal uint64
	bookingCount         uint64
	bookingConflictCount uint64
	syncAttemptCount     uint64
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	bookingTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bookings_total",
		Help: "Booking attempts by outcome",
	}, []string{"outcome"})

	slotComputation := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "slot_computation_seconds",
		Help:    "Duration of availability slot computations",
		Buckets: prometheus.DefBuckets,
	})

	syncAttempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_attempts_total",
		Help: "Calendar sync attempts by direction and outcome",
	}, []string{"direction", "outcome"})

	outboxDrained := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "outbox_events_dispatched_total",
		Help: "Domain events delivered from the outbox",
	})

	cacheWrite := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_write_seconds",
		Help:    "Latency for cache set operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheHitRatio := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cache_hit_ratio",
		Help: "Ratio of cache hits to total cache lookups",
	})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, bookingTotal, slotComputation,
		syncAttempts, outboxDrained, cacheWrite, cacheHitRatio, cacheHits, cacheMisses, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:        registry,
		handler:         handler,
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		bookingTotal:    bookingTotal,
		slotComputation: slotComputation,
		syncAttempts:    syncAttempts,
		outboxDrained:   outboxDrained,
		cacheWrite:      cacheWrite,
		cacheHitRatio:   cacheHitRatio,
		cacheHits:       cacheHits,
		cacheMisses:     cacheMisses,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics and aggregates simple stats for snapshots.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
	atomic.AddUint64(&m.requestCount, 1)
	atomic.AddUint64(&m.requestDurationTotal, uint64(duration.Nanoseconds()))
}

// ObserveBooking counts a booking attempt by outcome ("confirmed",
// "requested", "conflict", "error").
func (m *MetricsService) ObserveBooking(outcome string) {
	if m == nil {
		return
	}
	m.bookingTotal.WithLabelValues(outcome).Inc()
	atomic.AddUint64(&m.bookingCount, 1)
	if outcome == "conflict" {
		atomic.AddUint64(&m.bookingConflictCount, 1)
	}
}

// ObserveSlotComputation records the latency of one availability computation.
func (m *MetricsService) ObserveSlotComputation(duration time.Duration) {
	if m == nil || m.slotComputation == nil {
		return
	}
	m.slotComputation.Observe(duration.Seconds())
}

// ObserveSyncAttempt counts one calendar sync attempt.
func (m *MetricsService) ObserveSyncAttempt(direction, outcome string) {
	if m == nil {
		return
	}
	m.syncAttempts.WithLabelValues(direction, outcome).Inc()
	atomic.AddUint64(&m.syncAttemptCount, 1)
}

// ObserveOutboxDispatched counts delivered domain events.
func (m *MetricsService) ObserveOutboxDispatched(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.outboxDrained.Add(float64(n))
}

// ObserveCacheWrite tracks the duration for cache write operations.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil || m.cacheWrite == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// RecordCacheOperation records cache hit/miss metrics and updates hit ratio.
func (m *MetricsService) RecordCacheOperation(hit bool, _ time.Duration) {
	if m == nil {
		return
	}
	if hit {
		m.cacheHits.Inc()
		atomic.AddUint64(&m.cacheHitCount, 1)
	} else {
		m.cacheMisses.Inc()
		atomic.AddUint64(&m.cacheMissCount, 1)
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	total := hits + misses
	if total > 0 {
		m.cacheHitRatio.Set(float64(hits) / float64(total))
	}
}

// Snapshot returns aggregated metrics suitable for the admin status endpoint.
func (m *MetricsService) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	requests := atomic.LoadUint64(&m.requestCount)
	reqDuration := atomic.LoadUint64(&m.requestDurationTotal)

	var cacheRatio float64
	totalLookups := hits + misses
	if totalLookups > 0 {
		cacheRatio = float64(hits) / float64(totalLookups)
	}

	var avgRequestMs float64
	if requests > 0 {
		avgRequestMs = float64(reqDuration) / float64(requests) / float64(time.Millisecond)
	}

	return MetricsSnapshot{
		CacheHitRatio:            cacheRatio,
		CacheHits:                hits,
		CacheMisses:              misses,
		RequestsTotal:            requests,
		AverageRequestDurationMs: avgRequestMs,
		BookingsTotal:            atomic.LoadUint64(&m.bookingCount),
		BookingConflicts:         atomic.LoadUint64(&m.bookingConflictCount),
		SyncAttemptsTotal:        atomic.LoadUint64(&m.syncAttemptCount),
		Goroutines:               runtime.NumGoroutine(),
		GeneratedAt:              time.Now().UTC(),
	}
}
