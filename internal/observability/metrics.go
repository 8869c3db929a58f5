// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Ingestion metrics
	StoriesInserted  prometheus.Counter
	StoriesFinalized *prometheus.CounterVec
	FinalizeRetries  prometheus.Counter

	// Blacklist metrics
	BlacklistChecks prometheus.Counter
	BlacklistHits   prometheus.Counter
	BlacklistSize   prometheus.Gauge
	RebuildDuration prometheus.Histogram
	RebuildErrors   prometheus.Counter

	// Export / reporting metrics
	StoriesExported  prometheus.Counter
	SnapshotsServed  prometheus.Counter
	SnapshotFailures prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "success_library"
	}

	return &Metrics{
		StoriesInserted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "stories_inserted_total",
			Help:      "Total number of stories inserted as PENDING",
		}),
		StoriesFinalized: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "classifier",
			Name:      "stories_finalized_total",
			Help:      "Total number of stories finalized by outcome and reason",
		}, []string{"outcome", "reason"}),
		FinalizeRetries: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "classifier",
			Name:      "finalize_retries_total",
			Help:      "Total number of finalize retries due to store unavailability",
		}),

		BlacklistChecks: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "blacklist",
			Name:      "checks_total",
			Help:      "Total number of blacklist lookups",
		}),
		BlacklistHits: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "blacklist",
			Name:      "hits_total",
			Help:      "Total number of blacklist lookups that returned true",
		}),
		BlacklistSize: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "blacklist",
			Name:      "cache_size",
			Help:      "Number of token addresses in the blacklist cache",
		}),
		RebuildDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "blacklist",
			Name:      "rebuild_duration_seconds",
			Help:      "Blacklist cache rebuild duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		RebuildErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "blacklist",
			Name:      "rebuild_errors_total",
			Help:      "Total number of failed blacklist cache rebuilds",
		}),

		StoriesExported: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "export",
			Name:      "stories_exported_total",
			Help:      "Total number of stories written to export output",
		}),
		SnapshotsServed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "metrics",
			Name:      "snapshots_served_total",
			Help:      "Total number of metrics snapshots computed",
		}),
		SnapshotFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "metrics",
			Name:      "snapshot_failures_total",
			Help:      "Total number of snapshot computations that were partial or failed",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordInserted increments the stories inserted counter.
func RecordInserted() {
	DefaultMetrics.StoriesInserted.Inc()
}

// RecordFinalized records a finalized story.
func RecordFinalized(outcome, reason string) {
	DefaultMetrics.StoriesFinalized.WithLabelValues(outcome, reason).Inc()
}

// RecordFinalizeRetry increments the finalize retry counter.
func RecordFinalizeRetry() {
	DefaultMetrics.FinalizeRetries.Inc()
}

// RecordBlacklistCheck records one blacklist lookup and its result.
func RecordBlacklistCheck(hit bool) {
	DefaultMetrics.BlacklistChecks.Inc()
	if hit {
		DefaultMetrics.BlacklistHits.Inc()
	}
}

// RecordRebuild records a completed cache rebuild.
func RecordRebuild(seconds float64, size int) {
	DefaultMetrics.RebuildDuration.Observe(seconds)
	DefaultMetrics.BlacklistSize.Set(float64(size))
}

// RecordRebuildError records a failed cache rebuild.
func RecordRebuildError() {
	DefaultMetrics.RebuildErrors.Inc()
}

// RecordExported adds to the exported stories counter.
func RecordExported(n int) {
	DefaultMetrics.StoriesExported.Add(float64(n))
}

// RecordSnapshot records a snapshot computation.
func RecordSnapshot(partial bool) {
	DefaultMetrics.SnapshotsServed.Inc()
	if partial {
		DefaultMetrics.SnapshotFailures.Inc()
	}
}
