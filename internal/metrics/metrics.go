// Package metrics exposes Prometheus collectors for the staffwatch service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	crawlCyclesTotal           *prometheus.CounterVec
	fetchesTotal               *prometheus.CounterVec
	fetchDurationSeconds       prometheus.Histogram
	activeFetches              prometheus.Gauge
	snapshotsAppendedTotal     prometheus.Counter
	cacheRequestsTotal         *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlCyclesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "staffwatch_crawl_cycles_total",
				Help: "Total number of crawl cycles executed, labeled by result.",
			},
			[]string{"result"},
		)

		fetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "staffwatch_fetches_total",
				Help: "Total number of source fetches, labeled by terminal status.",
			},
			[]string{"status"},
		)

		fetchDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "staffwatch_fetch_duration_seconds",
				Help:    "Histogram of per-source fetch latencies including retries.",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80},
			},
		)

		activeFetches = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "staffwatch_active_fetches",
				Help: "Number of fetches currently in flight.",
			},
		)

		snapshotsAppendedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "staffwatch_snapshots_appended_total",
				Help: "Total number of snapshots appended to the store.",
			},
		)

		cacheRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "staffwatch_cache_requests_total",
				Help: "Result cache lookups, labeled by operation and outcome.",
			},
			[]string{"operation", "outcome"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveCycle increments the cycle counter for the given result.
func ObserveCycle(result string) {
	crawlCyclesTotal.WithLabelValues(result).Inc()
}

// ObserveFetch records the terminal status and duration of one source fetch.
func ObserveFetch(status string, duration time.Duration) {
	fetchesTotal.WithLabelValues(status).Inc()
	fetchDurationSeconds.Observe(duration.Seconds())
}

// IncActiveFetches increments the in-flight fetch gauge.
func IncActiveFetches() {
	activeFetches.Inc()
}

// DecActiveFetches decrements the in-flight fetch gauge.
func DecActiveFetches() {
	activeFetches.Dec()
}

// ObserveAppend counts a snapshot append.
func ObserveAppend() {
	snapshotsAppendedTotal.Inc()
}

// ObserveCache records a cache lookup outcome (hit, miss, coalesced).
func ObserveCache(operation, outcome string) {
	cacheRequestsTotal.WithLabelValues(operation, outcome).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
