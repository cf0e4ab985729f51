package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain repository.Metrics using Prometheus.
type Recorder struct {
	mergeOutcomes *prometheus.CounterVec
	errorsTotal   *prometheus.CounterVec
	published     *prometheus.CounterVec
	latency       *prometheus.HistogramVec
}

// New registers the recorder on the default Prometheus registry.
func New() *Recorder {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry registers the recorder on reg.
func NewWithRegistry(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		mergeOutcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mergewatch_merge_outcomes_total",
				Help: "Anomalies by reconciliation outcome",
			},
			[]string{"kind"},
		),
		errorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mergewatch_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		published: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mergewatch_anomalies_published_total",
				Help: "Reconciled anomalies published downstream",
			},
			[]string{"sink"},
		),
		latency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mergewatch_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

// RecordMergeOutcome adds n anomalies to the outcome counter of kind.
func (r *Recorder) RecordMergeOutcome(kind string, n int) {
	if n <= 0 {
		return
	}
	r.mergeOutcomes.WithLabelValues(kind).Add(float64(n))
}

// RecordPublished counts anomalies delivered to a sink (kafka, websocket).
func (r *Recorder) RecordPublished(sink string, n int) {
	if n <= 0 {
		return
	}
	r.published.WithLabelValues(sink).Add(float64(n))
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}
