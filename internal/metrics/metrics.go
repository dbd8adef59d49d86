package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all custom Prometheus metrics for the sync pipeline
type Metrics struct {
	// Reconciliation outcomes by terminal state
	SyncOutcomes *prometheus.CounterVec

	// Records dropped during normalization, by rejection reason
	RecordsDropped *prometheus.CounterVec

	// Profile entries dropped inside otherwise accepted records
	ProfileEntriesDropped prometheus.Counter

	// Which body shape the unwrapper matched
	UnwrapShapes *prometheus.CounterVec

	// Upstream evaluations API latency by operation
	UpstreamLatency *prometheus.HistogramVec

	// Upstream failures by operation and class
	UpstreamErrors *prometheus.CounterVec

	// WordPress pass-through cache hits/misses
	ContentCache *prometheus.CounterVec
}

var (
	globalMetrics *Metrics
	initOnce      sync.Once
)

// Init initializes the Prometheus metrics against the default registry.
// Safe to call more than once; later calls return the first instance.
func Init() *Metrics {
	initOnce.Do(func() {
		globalMetrics = &Metrics{
			SyncOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "bienestar_sync_outcomes_total",
				Help: "Assessment history reconciliations by outcome",
			}, []string{"outcome"}), // merged, soft_failed, superseded, discarded

			RecordsDropped: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "bienestar_records_dropped_total",
				Help: "Remote assessment records rejected during normalization",
			}, []string{"reason"}),

			ProfileEntriesDropped: promauto.NewCounter(prometheus.CounterOpts{
				Name: "bienestar_profile_entries_dropped_total",
				Help: "Emotional profile entries dropped inside accepted records",
			}),

			UnwrapShapes: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "bienestar_unwrap_shapes_total",
				Help: "Response body shapes matched by the unwrapper",
			}, []string{"shape"}), // direct, quoted, embedded, failed

			UpstreamLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "bienestar_upstream_request_duration_seconds",
				Help:    "Evaluations API request latency in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20},
			}, []string{"op"}),

			UpstreamErrors: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "bienestar_upstream_errors_total",
				Help: "Evaluations API failures by operation and class",
			}, []string{"op", "class"}),

			ContentCache: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "bienestar_content_cache_total",
				Help: "WordPress pass-through cache lookups",
			}, []string{"result"}), // hit, miss
		}
	})
	return globalMetrics
}

// Get returns the global metrics instance, or nil before Init
func Get() *Metrics {
	return globalMetrics
}

// RecordSyncOutcome records a terminal reconciliation state
func RecordSyncOutcome(outcome string) {
	if m := Get(); m != nil {
		m.SyncOutcomes.WithLabelValues(outcome).Inc()
	}
}

// RecordDropped records a rejected record
func RecordDropped(reason string) {
	if m := Get(); m != nil {
		m.RecordsDropped.WithLabelValues(reason).Inc()
	}
}

// RecordProfileEntriesDropped records dropped profile entries
func RecordProfileEntriesDropped(n int) {
	if m := Get(); m != nil && n > 0 {
		m.ProfileEntriesDropped.Add(float64(n))
	}
}

// RecordUnwrapShape records the matched body shape
func RecordUnwrapShape(shape string) {
	if m := Get(); m != nil {
		m.UnwrapShapes.WithLabelValues(shape).Inc()
	}
}

// RecordUpstream records latency and, when class is non-empty, an error
func RecordUpstream(op string, seconds float64, class string) {
	m := Get()
	if m == nil {
		return
	}
	m.UpstreamLatency.WithLabelValues(op).Observe(seconds)
	if class != "" {
		m.UpstreamErrors.WithLabelValues(op, class).Inc()
	}
}

// RecordContentCache records a WordPress cache lookup
func RecordContentCache(hit bool) {
	if m := Get(); m != nil {
		result := "miss"
		if hit {
			result = "hit"
		}
		m.ContentCache.WithLabelValues(result).Inc()
	}
}
