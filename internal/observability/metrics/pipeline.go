package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PipelineMetrics observes batch ingestion, the embedding cache and breaker
// transitions of outbound dependencies.
type PipelineMetrics struct {
	service string

	unitsTotal         *prometheus.CounterVec
	unitDuration       *prometheus.HistogramVec
	unitsInFlight      *prometheus.GaugeVec
	extractionsTotal   *prometheus.CounterVec
	extractionDuration *prometheus.HistogramVec
	batchesTotal       *prometheus.CounterVec
	batchUnits         prometheus.Histogram
	rejectedTotal      prometheus.Counter
	embedCacheTotal    *prometheus.CounterVec
	breakerState       *prometheus.GaugeVec
}

func NewPipelineMetrics(service string, reg prometheus.Registerer) *PipelineMetrics {
	constLabels := prometheus.Labels{"service": service}

	unitsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "pipeline",
			Name:        "units_total",
			Help:        "Logical document units finished, by kind, terminal state and error kind.",
			ConstLabels: constLabels,
		},
		[]string{"kind", "state", "error_kind"},
	)
	unitDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "pipeline",
			Name:        "unit_duration_seconds",
			Help:        "Time from unit start to terminal state.",
			Buckets:     []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			ConstLabels: constLabels,
		},
		[]string{"kind", "state"},
	)
	unitsInFlight := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "pipeline",
			Name:        "units_in_flight",
			Help:        "Units currently being processed.",
			ConstLabels: constLabels,
		},
		[]string{"kind"},
	)
	extractionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "pipeline",
			Name:        "extractions_total",
			Help:        "Text extractions by item kind and status.",
			ConstLabels: constLabels,
		},
		[]string{"kind", "status"},
	)
	extractionDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "pipeline",
			Name:        "extraction_duration_seconds",
			Help:        "Text extraction duration in seconds.",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: constLabels,
		},
		[]string{"kind"},
	)
	batchesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "pipeline",
			Name:        "batches_total",
			Help:        "Completed batches by outcome.",
			ConstLabels: constLabels,
		},
		[]string{"outcome"},
	)
	batchUnits := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "pipeline",
			Name:        "batch_units",
			Help:        "Logical document units per batch.",
			Buckets:     []float64{0, 1, 2, 4, 8, 16, 32, 64, 128},
			ConstLabels: constLabels,
		},
	)
	rejectedTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "pipeline",
			Name:        "rejected_inputs_total",
			Help:        "Inputs rejected by classification.",
			ConstLabels: constLabels,
		},
	)
	embedCacheTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "embed_cache",
			Name:        "lookups_total",
			Help:        "Embedding cache lookups by result.",
			ConstLabels: constLabels,
		},
		[]string{"result"},
	)
	breakerState := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "resilience",
			Name:        "breaker_open",
			Help:        "1 while the circuit breaker of an operation is open, 0.5 while half-open.",
			ConstLabels: constLabels,
		},
		[]string{"operation"},
	)

	reg.MustRegister(
		unitsTotal,
		unitDuration,
		unitsInFlight,
		extractionsTotal,
		extractionDuration,
		batchesTotal,
		batchUnits,
		rejectedTotal,
		embedCacheTotal,
		breakerState,
	)

	return &PipelineMetrics{
		service:            service,
		unitsTotal:         unitsTotal,
		unitDuration:       unitDuration,
		unitsInFlight:      unitsInFlight,
		extractionsTotal:   extractionsTotal,
		extractionDuration: extractionDuration,
		batchesTotal:       batchesTotal,
		batchUnits:         batchUnits,
		rejectedTotal:      rejectedTotal,
		embedCacheTotal:    embedCacheTotal,
		breakerState:       breakerState,
	}
}

func (m *PipelineMetrics) StartUnit(kind string) {
	m.unitsInFlight.WithLabelValues(kind).Inc()
}

func (m *PipelineMetrics) FinishUnit(kind, state, errorKind string, duration time.Duration) {
	m.unitsInFlight.WithLabelValues(kind).Dec()
	m.unitsTotal.WithLabelValues(kind, state, errorKind).Inc()
	m.unitDuration.WithLabelValues(kind, state).Observe(duration.Seconds())
}

func (m *PipelineMetrics) ObserveExtraction(kind string, ok bool, duration time.Duration) {
	status := "success"
	if !ok {
		status = "error"
	}
	m.extractionsTotal.WithLabelValues(kind, status).Inc()
	m.extractionDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

func (m *PipelineMetrics) ObserveBatch(total, succeeded, failed, rejected int) {
	outcome := "complete"
	switch {
	case total == 0:
		outcome = "no_valid_input"
	case failed > 0 && succeeded == 0:
		outcome = "failed"
	case failed > 0:
		outcome = "partial"
	}
	m.batchesTotal.WithLabelValues(outcome).Inc()
	m.batchUnits.Observe(float64(total))
	if rejected > 0 {
		m.rejectedTotal.Add(float64(rejected))
	}
}

func (m *PipelineMetrics) CacheHit() {
	m.embedCacheTotal.WithLabelValues("hit").Inc()
}

func (m *PipelineMetrics) CacheMiss() {
	m.embedCacheTotal.WithLabelValues("miss").Inc()
}

// BreakerStateChanged matches resilience.StateListener.
func (m *PipelineMetrics) BreakerStateChanged(operation, _, to string) {
	value := 0.0
	switch to {
	case "open":
		value = 1
	case "half-open":
		value = 0.5
	}
	m.breakerState.WithLabelValues(operation).Set(value)
}
