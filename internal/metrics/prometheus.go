package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "hyperopt"

// TrialMetrics exports run telemetry to Prometheus. It implements
// solver.Recorder.
type TrialMetrics struct {
	trials    *prometheus.CounterVec
	durations *prometheus.HistogramVec
	batches   *prometheus.HistogramVec
	best      *prometheus.GaugeVec
	inflight  prometheus.Gauge
}

// NewTrialMetrics registers the run metrics with reg. A nil reg uses the
// default registerer.
func NewTrialMetrics(reg prometheus.Registerer) *TrialMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &TrialMetrics{
		trials: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trials_total",
			Help:      "Completed trials by strategy and status",
		}, []string{LabelStrategy, LabelStatus}),
		durations: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "trial_duration_seconds",
			Help:      "Time from booking to completion of a trial",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{LabelStrategy, LabelStatus}),
		batches: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_size",
			Help:      "Candidates per dispatched batch",
			Buckets:   []float64{1, 2, 4, 8, 16, 32, 64, 128, 256},
		}, []string{LabelStrategy}),
		best: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "best_loss",
			Help:      "Lowest loss seen so far",
		}, []string{LabelStrategy}),
		inflight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "inflight_trials",
			Help:      "Trials booked but not completed",
		}),
	}
}

func (m *TrialMetrics) TrialCompleted(strategy, status string, d time.Duration) {
	m.trials.WithLabelValues(strategy, status).Inc()
	m.durations.WithLabelValues(strategy, status).Observe(d.Seconds())
}

func (m *TrialMetrics) BatchDispatched(strategy string, size int) {
	m.batches.WithLabelValues(strategy).Observe(float64(size))
}

func (m *TrialMetrics) BestUpdated(strategy string, loss float64) {
	m.best.WithLabelValues(strategy).Set(loss)
}

func (m *TrialMetrics) SetInFlight(n int) {
	m.inflight.Set(float64(n))
}
