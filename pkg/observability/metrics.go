package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal tracks total number of HTTP requests
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "echo_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "code"},
	)

	// RequestDuration tracks request duration
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "echo_http_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	// ActiveRequests tracks currently active requests
	ActiveRequests = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "echo_http_active_requests",
			Help: "Number of active HTTP requests",
		},
		[]string{"route"},
	)

	StatementsParsed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "echo_import_statements_parsed_total",
			Help: "Statements parsed, by declared format",
		},
		[]string{"format"},
	)

	ParseWarnings = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "echo_import_warnings_total",
			Help: "Non-fatal parser warnings, by declared format",
		},
		[]string{"format"},
	)

	DuplicatesFlagged = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "echo_import_duplicates_total",
			Help: "Incoming transactions flagged as duplicates of stored ones",
		},
	)

	CategorizerFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "echo_import_categorizer_fallbacks_total",
			Help: "Batches categorized by the keyword fallback after the primary categorizer failed",
		},
	)

	TransactionsImported = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "echo_import_transactions_inserted_total",
			Help: "Transactions inserted by confirmed imports",
		},
	)

	PatternsDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "echo_recurring_patterns_detected_total",
			Help: "Recurring patterns emitted by detection runs, by frequency",
		},
		[]string{"frequency"},
	)

	PatternUpsertFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "echo_recurring_upsert_failures_total",
			Help: "Recurring patterns that failed to persist",
		},
	)
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware collects Prometheus metrics for every request. route should be a
// low-cardinality label such as the mux pattern.
func Middleware(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Track active requests
		ActiveRequests.WithLabelValues(route).Inc()
		defer ActiveRequests.WithLabelValues(route).Dec()

		// Track duration
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		RequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		RequestsTotal.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
	})
}
