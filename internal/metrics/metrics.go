// Package metrics provides Prometheus metrics for the content service and browser.
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
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "librarian_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "librarian_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// Catalog metrics
	catalogMutationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "librarian_catalog_mutations_total",
			Help: "Catalog mutations by operation and result",
		},
		[]string{"operation", "result"},
	)

	itemsAffectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "librarian_catalog_items_affected_total",
			Help: "Items successfully changed by catalog mutations",
		},
		[]string{"operation"},
	)

	// Content transfer metrics
	contentBytesUploaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "librarian_content_bytes_uploaded_total",
			Help: "Total bytes uploaded to item content",
		},
	)

	contentBytesDownloaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "librarian_content_bytes_downloaded_total",
			Help: "Total bytes served from item content",
		},
	)

	// Auth metrics
	authAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "librarian_auth_attempts_total",
			Help: "Total authentication attempts",
		},
		[]string{"result"},
	)

	// Database metrics
	dbQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "librarian_db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"query"},
	)

	dbConnectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "librarian_db_connections_open",
			Help: "Number of open database connections",
		},
	)

	// SSE metrics
	sseConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "librarian_sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)

	sseEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "librarian_sse_events_total",
			Help: "Total SSE events published",
		},
		[]string{"type"},
	)

	// S3 metrics
	s3OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "librarian_s3_operation_duration_seconds",
			Help:    "S3 operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	s3OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "librarian_s3_operations_total",
			Help: "Total S3 operations",
		},
		[]string{"operation", "status"},
	)

	// Browser engine metrics
	moveOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "librarian_move_outcomes_total",
			Help: "Move attempts by outcome",
		},
		[]string{"outcome"},
	)

	reconcileDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "librarian_reconcile_duration_seconds",
			Help:    "Time to reload the tree and restore navigation after a mutation",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"result"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// RecordHTTPRequest records an HTTP request metric.
func RecordHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordCatalogMutation records a catalog mutation and the number of items it changed.
func RecordCatalogMutation(operation string, success bool, items int) {
	catalogMutationsTotal.WithLabelValues(operation, status(success)).Inc()
	if items > 0 {
		itemsAffectedTotal.WithLabelValues(operation).Add(float64(items))
	}
}

// RecordContentUpload records uploaded bytes.
func RecordContentUpload(bytes int64) {
	contentBytesUploaded.Add(float64(bytes))
}

// RecordContentDownload records served bytes.
func RecordContentDownload(bytes int64) {
	contentBytesDownloaded.Add(float64(bytes))
}

// RecordAuthAttempt records an authentication attempt.
func RecordAuthAttempt(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	authAttemptsTotal.WithLabelValues(result).Inc()
}

// RecordDBQuery records a database query duration.
func RecordDBQuery(query string, duration time.Duration) {
	dbQueryDuration.WithLabelValues(query).Observe(duration.Seconds())
}

// SetDBConnectionsOpen sets the number of open database connections.
func SetDBConnectionsOpen(count int) {
	dbConnectionsOpen.Set(float64(count))
}

// SetSSEConnectionsActive sets the number of SSE subscribers.
func SetSSEConnectionsActive(count int64) {
	sseConnectionsActive.Set(float64(count))
}

// RecordSSEEvent records a published SSE event.
func RecordSSEEvent(eventType string) {
	sseEventsTotal.WithLabelValues(eventType).Inc()
}

// RecordS3Operation records an S3 operation.
func RecordS3Operation(operation string, duration time.Duration, success bool) {
	s3OperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
	s3OperationsTotal.WithLabelValues(operation, status(success)).Inc()
}

// RecordMoveOutcome records the terminal outcome of a move.
func RecordMoveOutcome(outcome string) {
	moveOutcomesTotal.WithLabelValues(outcome).Inc()
}

// RecordReconcile records a reconciliation pass. result is "landed" or "fallback".
func RecordReconcile(result string, duration time.Duration) {
	reconcileDuration.WithLabelValues(result).Observe(duration.Seconds())
}

// statusRecorder captures the response status for Middleware.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Middleware records request count and latency labelled by the matched route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		RecordHTTPRequest(r.Method, route, rec.status, time.Since(start))
	})
}
