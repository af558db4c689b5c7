package solver

import (
	"fmt"
	"math"
)

// BatchStep is the best-so-far snapshot taken after each batch
type BatchStep struct {
	Batch    int
	BestLoss float64
	HasBest  bool
}

// Stopper decides whether a run should end early
type Stopper interface {
	// ShouldStop inspects the batch history and returns a reason when stopping
	ShouldStop(history []BatchStep) (bool, string)
	Name() string
}

// NoImprovementStopper stops after Patience batches in which the best loss did
// not drop by more than MinDelta
type NoImprovementStopper struct {
	Patience int
	MinDelta float64
}

func (s *NoImprovementStopper) Name() string {
	return "no_improvement"
}

func (s *NoImprovementStopper) ShouldStop(history []BatchStep) (bool, string) {
	if s.Patience <= 0 || len(history) <= s.Patience {
		return false, ""
	}

	// reference is the best at the last batch that improved by more than MinDelta
	ref := math.Inf(1)
	lastImproved := -1
	for i, step := range history {
		if !step.HasBest {
			continue
		}
		if step.BestLoss < ref-s.MinDelta || lastImproved < 0 {
			ref = step.BestLoss
			lastImproved = i
		}
	}
	if lastImproved < 0 {
		return false, ""
	}

	since := len(history) - 1 - lastImproved
	if since >= s.Patience {
		return true, fmt.Sprintf("no improvement above %g for %d batches (best %g at batch %d)", s.MinDelta, since, ref, history[lastImproved].Batch)
	}
	return false, ""
}

// TargetStopper stops once the best loss reaches Target
type TargetStopper struct {
	Target float64
}

func (s *TargetStopper) Name() string {
	return "target_loss"
}

func (s *TargetStopper) ShouldStop(history []BatchStep) (bool, string) {
	if len(history) == 0 {
		return false, ""
	}
	last := history[len(history)-1]
	if last.HasBest && last.BestLoss <= s.Target {
		return true, fmt.Sprintf("best loss %g reached target %g", last.BestLoss, s.Target)
	}
	return false, ""
}

// AnyStopper stops when any of its stoppers does
type AnyStopper struct {
	stoppers []Stopper
}

// NewAnyStopper combines stoppers; nil entries are skipped
func NewAnyStopper(stoppers ...Stopper) *AnyStopper {
	s := &AnyStopper{}
	for _, st := range stoppers {
		if st != nil {
			s.stoppers = append(s.stoppers, st)
		}
	}
	return s
}

func (s *AnyStopper) Name() string {
	return "any"
}

// Len returns the number of combined stoppers
func (s *AnyStopper) Len() int {
	return len(s.stoppers)
}

func (s *AnyStopper) ShouldStop(history []BatchStep) (bool, string) {
	for _, st := range s.stoppers {
		if stop, reason := st.ShouldStop(history); stop {
			return true, fmt.Sprintf("%s: %s", st.Name(), reason)
		}
	}
	return false, ""
}

// stopperFromSettings builds the early-stopping policy from validated settings
func stopperFromSettings(s Settings) *AnyStopper {
	var stoppers []Stopper
	if p := s.Int(SettingPatience); p > 0 {
		stoppers = append(stoppers, &NoImprovementStopper{Patience: p, MinDelta: s.Float(SettingMinDelta)})
	}
	if s.Has(SettingTargetLoss) {
		stoppers = append(stoppers, &TargetStopper{Target: s.Float(SettingTargetLoss)})
	}
	return NewAnyStopper(stoppers...)
}
