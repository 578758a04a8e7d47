package rag

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Retrieval outcomes recorded on kbrag_retrieval_requests_total.
const (
	outcomeOK       = "ok"
	outcomeNoMatch  = "no_match"
	outcomeNotReady = "not_ready"
	outcomeTimeout  = "timeout"
	outcomeError    = "error"
)

// Metrics holds the Prometheus collectors owned by the retrieval engine.
// A nil *Metrics is valid and records nothing, which keeps tests that do
// not care about metrics free of registry plumbing.
type Metrics struct {
	// retrievals counts Retrieve calls partitioned by outcome. "not_ready"
	// and "no_match" are kept apart so an unbuilt index never hides behind
	// an empty-but-healthy result.
	retrievals *prometheus.CounterVec

	// retrievalSeconds records Retrieve latency including the query embedding.
	retrievalSeconds prometheus.Histogram

	// rebuilds counts Rebuild calls partitioned by outcome.
	rebuilds *prometheus.CounterVec

	// rebuildSeconds records the duration of successful rebuilds.
	rebuildSeconds prometheus.Histogram

	// indexEntries is the number of entries in the active index.
	indexEntries prometheus.Gauge

	// skippedRecords counts corpus texts rejected before embedding.
	skippedRecords prometheus.Counter
}

// NewMetrics registers the retrieval collectors against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		retrievals: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kbrag",
			Subsystem: "retrieval",
			Name:      "requests_total",
			Help:      "Retrieve calls partitioned by outcome (ok, no_match, not_ready, timeout, error).",
		}, []string{"outcome"}),

		retrievalSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "kbrag",
			Subsystem: "retrieval",
			Name:      "duration_seconds",
			Help:      "Latency of Retrieve calls including query embedding and index search.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}),

		rebuilds: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kbrag",
			Subsystem: "index",
			Name:      "rebuilds_total",
			Help:      "Index rebuilds partitioned by outcome (ok, rejected, error).",
		}, []string{"outcome"}),

		rebuildSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "kbrag",
			Subsystem: "index",
			Name:      "rebuild_duration_seconds",
			Help:      "Duration of successful index rebuilds.",
			Buckets:   []float64{.1, .5, 1, 5, 10, 30, 60, 120, 300},
		}),

		indexEntries: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "kbrag",
			Subsystem: "index",
			Name:      "entries",
			Help:      "Number of entries in the active index.",
		}),

		skippedRecords: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "kbrag",
			Subsystem: "index",
			Name:      "skipped_records_total",
			Help:      "Corpus texts skipped before embedding because the index cannot store them.",
		}),
	}
}

func (m *Metrics) observeRetrieval(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.retrievals.WithLabelValues(outcome).Inc()
	m.retrievalSeconds.Observe(seconds)
}

func (m *Metrics) observeRebuild(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.rebuilds.WithLabelValues(outcome).Inc()
	if outcome == outcomeOK {
		m.rebuildSeconds.Observe(seconds)
	}
}

func (m *Metrics) setEntries(n int) {
	if m == nil {
		return
	}
	m.indexEntries.Set(float64(n))
}

func (m *Metrics) skipped(n int) {
	if m == nil || n == 0 {
		return
	}
	m.skippedRecords.Add(float64(n))
}
