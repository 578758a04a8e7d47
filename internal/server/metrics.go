package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metric label values shared across registrations.
const (
	// labelHandler partitions HTTP metrics by route pattern rather than the
	// raw URL path.
	labelHandler = "handler"

	outcomeOK      = "ok"
	outcomeError   = "error"
	outcomeTimeout = "timeout"
	outcomeInvalid = "invalid"
)

// serverMetrics holds all Prometheus metrics owned by the HTTP server.
// Retrieval and rebuild metrics live in the rag package.
type serverMetrics struct {
	// generateRequestsTotal counts completed /api/generate requests by outcome.
	generateRequestsTotal *prometheus.CounterVec

	// generateDurationSeconds records /api/generate latency by outcome.
	generateDurationSeconds *prometheus.HistogramVec

	// generateInFlight is the number of chat model calls currently running.
	generateInFlight prometheus.Gauge

	// httpRequestsTotal counts all HTTP requests by method, route and status.
	httpRequestsTotal *prometheus.CounterVec

	// httpDurationSeconds records the latency of all HTTP requests.
	httpDurationSeconds *prometheus.HistogramVec
}

// newServerMetrics registers all server metrics against reg. promauto.With
// keeps tests hermetic when they pass a fresh registry.
func newServerMetrics(reg prometheus.Registerer) *serverMetrics {
	factory := promauto.With(reg)

	return &serverMetrics{
		generateRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kbrag",
			Subsystem: "generate",
			Name:      "requests_total",
			Help:      "Total number of /api/generate requests completed, partitioned by outcome.",
		}, []string{"outcome"}),

		generateDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "kbrag",
			Subsystem: "generate",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of /api/generate requests including retrieval.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"outcome"}),

		generateInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "kbrag",
			Subsystem: "generate",
			Name:      "in_flight",
			Help:      "Number of chat model calls currently in progress.",
		}),

		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kbrag",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled by the server, partitioned by method, handler, and status code.",
		}, []string{"method", labelHandler, "code"}),

		httpDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "kbrag",
			Subsystem: "http",
			Name:      "duration_seconds",
			Help:      "Latency of HTTP requests handled by the server.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", labelHandler}),
	}
}

// observeGenerate records one finished /api/generate request.
func (m *serverMetrics) observeGenerate(outcome string, d time.Duration) {
	m.generateRequestsTotal.WithLabelValues(outcome).Inc()
	m.generateDurationSeconds.WithLabelValues(outcome).Observe(d.Seconds())
}

// instrument records request counts and latency for every request served by
// mux. The route label is the matched ServeMux pattern, which the mux sets
// on the request it is handed.
func (m *serverMetrics) instrument(mux *http.ServeMux) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		mux.ServeHTTP(rw, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		m.httpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.status)).Inc()
		m.httpDurationSeconds.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
