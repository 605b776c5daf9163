// Package telemetry holds the process-wide Prometheus collectors and the
// OpenTelemetry tracer used across jobharvest.
package telemetry

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
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
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"method", "route"},
	)

	adapterRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobharvest_adapter_requests_total",
			Help: "Vendor API requests issued by source adapters, labeled by kind and status.",
		},
		[]string{"kind", "status"},
	)

	enrichmentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobharvest_enrichments_total",
			Help: "Description fetches performed by the consumer, labeled by result.",
		},
		[]string{"result"},
	)

	queueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "jobharvest_queue_pending",
			Help: "Items enqueued for ingestion and not yet processed.",
		},
	)

	rateLimitDelaySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "jobharvest_rate_limit_delay_seconds",
			Help:    "Histogram of rate limit wait durations.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"provider"},
	)

	postScanTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobharvest_postscan_total",
			Help: "Classification and notification outcomes, labeled by step and result.",
		},
		[]string{"step", "result"},
	)
)

// Handler returns the standard Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware is a chi middleware that records HTTP request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := "unknown"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		ObserveHTTPRequest(r.Method, route, rec.statusCode, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.statusCode = code
	rec.ResponseWriter.WriteHeader(code)
}

// SanitizeSite extracts the lowercased hostname from a URL.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// ObserveHTTPRequest records metrics for an API request.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveAdapterRequest counts one vendor request. A zero status means the
// request failed before a response arrived.
func ObserveAdapterRequest(kind string, status int) {
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	adapterRequestsTotal.WithLabelValues(kind, label).Inc()
}

// ObserveEnrichment counts a description fetch outcome.
func ObserveEnrichment(ok bool) {
	result := "ok"
	if !ok {
		result = "failed"
	}
	enrichmentsTotal.WithLabelValues(result).Inc()
}

// SetQueuePending publishes the ingestion queue backlog.
func SetQueuePending(n int) {
	queueDepth.Set(float64(n))
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(provider string, duration time.Duration) {
	rateLimitDelaySeconds.WithLabelValues(provider).Observe(duration.Seconds())
}

// ObservePostScan counts a classifier or notifier outcome.
func ObservePostScan(step, result string) {
	postScanTotal.WithLabelValues(step, result).Inc()
}
