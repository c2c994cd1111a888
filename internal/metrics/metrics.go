// Package metrics exposes Prometheus instrumentation for the tracker.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mail_tracker"

// Skip reasons reported by the ingestor.
const (
	ReasonMalformed  = "malformed"
	ReasonNotFound   = "not_found"
	ReasonDuplicate  = "duplicate"
	ReasonUntracked  = "untracked"
	kindUnknownLabel = "unknown"
)

var (
	eventsIngestedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_ingested_total",
			Help:      "Webhook events correlated and persisted",
		},
		[]string{"kind"},
	)

	eventsSkippedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_skipped_total",
			Help:      "Webhook events dropped without persistence",
		},
		[]string{"kind", "reason"},
	)

	eventsFailedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_failed_total",
			Help:      "Webhook events that failed to persist or notify",
		},
		[]string{"kind", "stage"},
	)

	statsQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stats_query_duration_seconds",
			Help:      "Stats query duration in seconds",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"granularity"},
	)

	retentionRemovedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retention_removed_total",
			Help:      "Send records removed by the retention cleaner",
		},
		[]string{"policy"},
	)

	outboxRelayedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_relayed_total",
			Help:      "Outbox notifications relayed to the stream",
		},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)
)

func kindLabel(kind string) string {
	if kind == "" {
		return kindUnknownLabel
	}

	return kind
}

// RecordIngested counts a persisted event.
func RecordIngested(kind string) {
	eventsIngestedTotal.WithLabelValues(kindLabel(kind)).Inc()
}

// RecordSkipped counts an event dropped for reason.
func RecordSkipped(kind, reason string) {
	eventsSkippedTotal.WithLabelValues(kindLabel(kind), reason).Inc()
}

// RecordFailed counts an event that failed at stage (lookup, persist, notify).
func RecordFailed(kind, stage string) {
	eventsFailedTotal.WithLabelValues(kindLabel(kind), stage).Inc()
}

// RecordStatsQuery observes a stats query.
func RecordStatsQuery(granularity string, duration time.Duration) {
	statsQueryDuration.WithLabelValues(granularity).Observe(duration.Seconds())
}

// RecordRetention counts removed send records.
func RecordRetention(policy string, removed int64) {
	retentionRemovedTotal.WithLabelValues(policy).Add(float64(removed))
}

// RecordRelayed counts one relayed outbox notification.
func RecordRelayed() {
	outboxRelayedTotal.Inc()
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request counts and latency per chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			path = rctx.RoutePattern()
		}

		httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusRecorder) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusRecorder) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}
