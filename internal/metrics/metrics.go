// Package metrics provides Prometheus metrics for the docvault server.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docvault_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docvault_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// Cache metrics
	cacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docvault_cache_lookups_total",
			Help: "Cache lookups by result",
		},
		[]string{"result"},
	)

	// Fetch metrics
	fetchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "docvault_fetch_duration_seconds",
			Help:    "Time to download a document from the content store",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 300, 600},
		},
	)

	fetchBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "docvault_fetch_bytes_total",
			Help: "Total bytes downloaded from the content store",
		},
	)

	fetchErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "docvault_fetch_errors_total",
			Help: "Failed content store downloads",
		},
	)

	fetchInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "docvault_fetch_in_flight",
			Help: "Keys currently being fetched",
		},
	)

	fetchWaiters = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "docvault_fetch_waiters_total",
			Help: "Requests that waited on another request's fetch",
		},
	)

	// Streaming metrics
	streamBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "docvault_stream_bytes_total",
			Help: "Total bytes streamed to clients",
		},
	)

	activeStreams = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "docvault_active_streams",
			Help: "Streams currently being served",
		},
	)

	// Document events
	documentActions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docvault_document_actions_total",
			Help: "Recorded document actions",
		},
		[]string{"action"},
	)

	// Sync metrics
	syncRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docvault_sync_runs_total",
			Help: "Sync cycles by outcome",
		},
		[]string{"status"},
	)

	syncDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "docvault_sync_duration_seconds",
			Help:    "Duration of a sync cycle",
			Buckets: prometheus.DefBuckets,
		},
	)

	syncDocuments = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docvault_sync_documents_total",
			Help: "Documents seen by sync cycles",
		},
		[]string{"change"},
	)

	// Auth metrics
	authAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docvault_auth_attempts_total",
			Help: "Login attempts by outcome",
		},
		[]string{"status"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records a completed HTTP request.
func RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordCacheLookup records a cache hit or miss.
func RecordCacheLookup(hit bool) {
	if hit {
		cacheLookups.WithLabelValues("hit").Inc()
		return
	}
	cacheLookups.WithLabelValues("miss").Inc()
}

// RecordFetch records a finished content store download.
func RecordFetch(bytes int64, duration time.Duration, success bool) {
	fetchDuration.Observe(duration.Seconds())
	fetchBytes.Add(float64(bytes))
	if !success {
		fetchErrors.Inc()
	}
}

// SetFetchInFlight sets the number of keys being fetched.
func SetFetchInFlight(n int) {
	fetchInFlight.Set(float64(n))
}

// RecordFetchWaiter counts a request that waited on a concurrent fetch.
func RecordFetchWaiter() {
	fetchWaiters.Inc()
}

// RecordStreamBytes adds bytes written to a client.
func RecordStreamBytes(n int64) {
	streamBytes.Add(float64(n))
}

// StreamStarted increments the active stream gauge.
func StreamStarted() { activeStreams.Inc() }

// StreamFinished decrements the active stream gauge.
func StreamFinished() { activeStreams.Dec() }

// RecordDocumentAction counts a recorded view, download or status change.
func RecordDocumentAction(action string) {
	documentActions.WithLabelValues(action).Inc()
}

// RecordSync records a finished sync cycle.
func RecordSync(added, updated int, duration time.Duration, success bool) {
	syncDuration.Observe(duration.Seconds())
	syncDocuments.WithLabelValues("added").Add(float64(added))
	syncDocuments.WithLabelValues("updated").Add(float64(updated))
	if success {
		syncRuns.WithLabelValues("success").Inc()
		return
	}
	syncRuns.WithLabelValues("failure").Inc()
}

// RecordAuthAttempt records a login attempt.
func RecordAuthAttempt(success bool) {
	status := "failure"
	if success {
		status = "success"
	}
	authAttempts.WithLabelValues(status).Inc()
}

// Middleware records request count and duration per matched route.
func Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			} else {
				status = fiber.StatusInternalServerError
			}
		}

		RecordHTTPRequest(c.Method(), c.Route().Path, status, time.Since(start))
		return err
	}
}
