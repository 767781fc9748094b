// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics of the engine.
type Metrics struct {
	// Engine metrics
	HeightsApplied prometheus.Counter
	Tip            prometheus.Gauge
	TotalSupply    prometheus.Gauge
	ApplyErrors    *prometheus.CounterVec

	// Flush metrics
	FlushDuration prometheus.Histogram
	RowsFlushed   prometheus.Counter

	// Reconcile and roll-up metrics
	ReconcileDuration prometheus.Histogram
	ReconciledRows    prometheus.Counter
	RollupBuckets     prometheus.Counter

	// Storage metrics
	SeriesResets *prometheus.CounterVec

	// Checkpoint metrics
	CheckpointsWritten prometheus.Counter
	ResumeHeight       prometheus.Gauge
	ResumeResets       prometheus.Counter

	// Publish metrics
	PublishErrors prometheus.Counter

	// Health metrics
	LastFlush prometheus.Gauge
}

// NewMetrics registers every metric with reg. A nil reg uses the default
// registerer.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	if namespace == "" {
		namespace = "utxo_cohorts"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		HeightsApplied: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "heights_applied_total",
			Help:      "Total number of blocks applied to the cohort engine",
		}),
		Tip: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "tip_height",
			Help:      "Last applied height",
		}),
		TotalSupply: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "total_supply_sats",
			Help:      "Live UTXO supply at the tip",
		}),
		ApplyErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "apply_errors_total",
			Help:      "Blocks rejected by the engine",
		}, []string{"reason"}),

		FlushDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "flush",
			Name:      "duration_seconds",
			Help:      "Duration of batched series flushes",
			Buckets:   prometheus.DefBuckets,
		}),
		RowsFlushed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "flush",
			Name:      "rows_total",
			Help:      "Series rows written to the column store",
		}),

		ReconcileDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "duration_seconds",
			Help:      "Duration of derived cohort reconciliation",
			Buckets:   prometheus.DefBuckets,
		}),
		ReconciledRows: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "rows_total",
			Help:      "Derived cohort rows computed",
		}),
		RollupBuckets: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rollup",
			Name:      "buckets_total",
			Help:      "Time buckets rolled up across every series",
		}),

		SeriesResets: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "series_resets_total",
			Help:      "Stored series discarded on version mismatch",
		}, []string{"series"}),

		CheckpointsWritten: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "checkpoint",
			Name:      "written_total",
			Help:      "Engine snapshots written",
		}),
		ResumeHeight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "checkpoint",
			Name:      "resume_height",
			Help:      "First height applied after the last resume",
		}),
		ResumeResets: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "checkpoint",
			Name:      "resume_resets_total",
			Help:      "Resumes that discarded every stored row",
		}),

		PublishErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "publish",
			Name:      "errors_total",
			Help:      "Failed height notifications",
		}),

		LastFlush: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_flush_timestamp",
			Help:      "Unix time of the last successful flush",
		}),
	}
}

// OnSeriesReset is a vec.Options.OnReset hook.
func (m *Metrics) OnSeriesReset(name string, _, _ uint64) {
	m.SeriesResets.WithLabelValues(name).Inc()
}

// Handler returns an HTTP handler for the /metrics endpoint of g.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// NewServeMux returns the /metrics and /health routes.
func NewServeMux(g prometheus.Gatherer) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(g))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return mux
}
