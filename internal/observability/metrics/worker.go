package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ReconcileMetrics observes orphan sweeps run by the worker or on demand.
type ReconcileMetrics struct {
	sweepsTotal    *prometheus.CounterVec
	sweepDuration  prometheus.Histogram
	scanned        prometheus.Gauge
	orphansFound   prometheus.Counter
	orphansDeleted prometheus.Counter
	deleteFailures prometheus.Counter
	lastSweep      prometheus.Gauge
}

func NewReconcileMetrics(service string, reg prometheus.Registerer) *ReconcileMetrics {
	constLabels := prometheus.Labels{"service": service}

	sweepsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "reconcile",
			Name:        "sweeps_total",
			Help:        "Completed orphan sweeps by status.",
			ConstLabels: constLabels,
		},
		[]string{"status"},
	)
	sweepDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "reconcile",
			Name:        "sweep_duration_seconds",
			Help:        "Orphan sweep duration in seconds.",
			Buckets:     []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 300},
			ConstLabels: constLabels,
		},
	)
	scanned := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "reconcile",
			Name:        "artifacts_scanned",
			Help:        "Artifacts listed by the latest sweep.",
			ConstLabels: constLabels,
		},
	)
	orphansFound := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "reconcile",
			Name:        "orphans_found_total",
			Help:        "Artifacts found without a metadata record.",
			ConstLabels: constLabels,
		},
	)
	orphansDeleted := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "reconcile",
			Name:        "orphans_deleted_total",
			Help:        "Orphaned artifacts removed.",
			ConstLabels: constLabels,
		},
	)
	deleteFailures := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "reconcile",
			Name:        "delete_failures_total",
			Help:        "Orphan deletions that failed.",
			ConstLabels: constLabels,
		},
	)
	lastSweep := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "reconcile",
			Name:        "last_sweep_timestamp_seconds",
			Help:        "Unix time of the latest completed sweep.",
			ConstLabels: constLabels,
		},
	)

	reg.MustRegister(sweepsTotal, sweepDuration, scanned, orphansFound, orphansDeleted, deleteFailures, lastSweep)

	return &ReconcileMetrics{
		sweepsTotal:    sweepsTotal,
		sweepDuration:  sweepDuration,
		scanned:        scanned,
		orphansFound:   orphansFound,
		orphansDeleted: orphansDeleted,
		deleteFailures: deleteFailures,
		lastSweep:      lastSweep,
	}
}

func (m *ReconcileMetrics) ObserveSweep(scanned, orphans, deleted, failed int, duration time.Duration) {
	status := "success"
	if failed > 0 {
		status = "partial"
	}
	m.sweepsTotal.WithLabelValues(status).Inc()
	m.sweepDuration.Observe(duration.Seconds())
	m.scanned.Set(float64(scanned))
	m.orphansFound.Add(float64(orphans))
	m.orphansDeleted.Add(float64(deleted))
	m.deleteFailures.Add(float64(failed))
	m.lastSweep.SetToCurrentTime()
}
