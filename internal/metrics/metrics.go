// Package metrics exposes Prometheus collectors for the fetch service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
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
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15, 30},
		},
		[]string{"method", "route"},
	)

	poolAcquisitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_pool_acquisitions_total",
			Help: "Session acquisitions, labeled by outcome (reused, created, exhausted, closed, error).",
		},
		[]string{"outcome"},
	)

	poolSessionsLive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "session_pool_sessions_live",
			Help: "Number of browser sessions currently open.",
		},
	)

	poolSessionsBusy = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "session_pool_sessions_busy",
			Help: "Number of browser sessions currently leased.",
		},
	)

	cacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "result_cache_lookups_total",
			Help: "Result cache lookups, labeled by result (hit, miss).",
		},
		[]string{"result"},
	)

	cacheEvictionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "result_cache_evictions_total",
			Help: "Expired entries removed by the cache sweeper.",
		},
	)

	fetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fetch_requests_total",
			Help: "Orchestrated fetches, labeled by post type and result code.",
		},
		[]string{"type", "code"},
	)

	fetchDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fetch_duration_seconds",
			Help:    "Wall time of orchestrated fetches, labeled by post type.",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 15, 20},
		},
		[]string{"type"},
	)

	downloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "downloads_total",
			Help: "Proxied downloads, labeled by result code.",
		},
		[]string{"code"},
	)

	rateLimitRejectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rate_limit_rejections_total",
			Help: "API requests rejected by the per-client rate limiter.",
		},
	)
)

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveAcquire records the outcome of a session acquisition.
func ObserveAcquire(outcome string) {
	poolAcquisitionsTotal.WithLabelValues(outcome).Inc()
}

// SetPoolSessions publishes the live and busy session counts.
func SetPoolSessions(live, busy int) {
	poolSessionsLive.Set(float64(live))
	poolSessionsBusy.Set(float64(busy))
}

// ObserveCacheLookup records a cache hit or miss.
func ObserveCacheLookup(hit bool) {
	if hit {
		cacheLookupsTotal.WithLabelValues("hit").Inc()
		return
	}
	cacheLookupsTotal.WithLabelValues("miss").Inc()
}

// ObserveCacheEvictions adds n swept entries.
func ObserveCacheEvictions(n int) {
	if n > 0 {
		cacheEvictionsTotal.Add(float64(n))
	}
}

// ObserveFetch records an orchestrated fetch outcome. An empty code means success.
func ObserveFetch(postType, code string, duration time.Duration) {
	if code == "" {
		code = "OK"
	}
	fetchesTotal.WithLabelValues(postType, code).Inc()
	fetchDurationSeconds.WithLabelValues(postType).Observe(duration.Seconds())
}

// ObserveDownload records a proxied download outcome. An empty code means success.
func ObserveDownload(code string) {
	if code == "" {
		code = "OK"
	}
	downloadsTotal.WithLabelValues(code).Inc()
}

// ObserveRateLimitRejection counts a request refused by the rate limiter.
func ObserveRateLimitRejection() {
	rateLimitRejectionsTotal.Inc()
}
