package metrics

import (
	"sort"
	"strings"
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/GoSim-25-26J-441/hyperopt/internal/solver"
)

// Series names recorded by the collector
const (
	SeriesTrialDuration = "trial_duration_seconds"
	SeriesBatchSize     = "batch_size"
	SeriesBestLoss      = "best_loss"
)

// Label names
const (
	LabelStrategy = "strategy"
	LabelStatus   = "status"
)

// StrategyLabels labels a series by strategy
func StrategyLabels(strategy string) map[string]string {
	return map[string]string{LabelStrategy: strategy}
}

// TrialLabels labels a series by strategy and trial status
func TrialLabels(strategy, status string) map[string]string {
	return map[string]string{LabelStrategy: strategy, LabelStatus: status}
}

// Tee fans one solver.Recorder call out to several recorders
type Tee []solver.Recorder

func (t Tee) TrialCompleted(strategy, status string, d time.Duration) {
	for _, r := range t {
		r.TrialCompleted(strategy, status, d)
	}
}

func (t Tee) BatchDispatched(strategy string, size int) {
	for _, r := range t {
		r.BatchDispatched(strategy, size)
	}
}

func (t Tee) BestUpdated(strategy string, loss float64) {
	for _, r := range t {
		r.BestUpdated(strategy, loss)
	}
}

func (t Tee) SetInFlight(n int) {
	for _, r := range t {
		r.SetInFlight(n)
	}
}

// labelKey builds a stable map key from labels
func labelKey(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(labels[k])
		b.WriteByte(',')
	}
	return b.String()
}

func copyLabels(labels map[string]string) map[string]string {
	if labels == nil {
		return nil
	}
	out := make(map[string]string, len(labels))
	for k, v := range labels {
		out[k] = v
	}
	return out
}

func calculateAggregation(values []float64) *Aggregation {
	if len(values) == 0 {
		return nil
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	sum := floats.Sum(sorted)
	return &Aggregation{
		Count: int64(len(sorted)),
		Sum:   sum,
		Min:   sorted[0],
		Max:   sorted[len(sorted)-1],
		Mean:  sum / float64(len(sorted)),
		P50:   percentile(sorted, 0.50),
		P95:   percentile(sorted, 0.95),
		P99:   percentile(sorted, 0.99),
	}
}

// percentile interpolates linearly between the closest ranks of sorted
func percentile(sorted []float64, p float64) float64 {
	switch len(sorted) {
	case 0:
		return 0
	case 1:
		return sorted[0]
	}
	index := p * float64(len(sorted)-1)
	lower := int(index)
	upper := lower + 1
	if upper >= len(sorted) {
		return sorted[len(sorted)-1]
	}
	weight := index - float64(lower)
	return sorted[lower]*(1-weight) + sorted[upper]*weight
}
