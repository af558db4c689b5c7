package strategy

import (
	"context"

	"github.com/GoSim-25-26J-441/hyperopt/internal/candidate"
	"github.com/GoSim-25-26J-441/hyperopt/internal/sampling"
	"github.com/GoSim-25-26J-441/hyperopt/internal/solver"
	"github.com/GoSim-25-26J-441/hyperopt/internal/space"
)

// firstHaltonBase is the smallest prime used as a Halton base
const firstHaltonBase = 3

// QuasiRandom covers the numeric dimensions with a Halton sequence, one
// prime base per numeric dimension in insertion order. Categorical axes
// are drawn independently and do not consume a base.
type QuasiRandom struct {
	plan *plan
}

// NewQuasiRandom creates a quasi-random search strategy
func NewQuasiRandom() *QuasiRandom { return &QuasiRandom{} }

func (q *QuasiRandom) Name() string { return NameQuasiRandom }

func (q *QuasiRandom) RegisterSettings(reg *solver.SettingsRegistry) {
	reg.Register(solver.MaxIterationsSpec(true))
	reg.Register(batchSizeSpec())
}

func (q *QuasiRandom) ConvertSpace(sp *space.Space, settings solver.Settings) (solver.StrategySpace, error) {
	n := settings.Int(solver.SettingMaxIterations)
	src := seeded(settings)

	var numeric []int
	for i, hp := range sp.All() {
		if hp.Domain.Numeric() {
			numeric = append(numeric, i)
		}
	}
	seq, err := sampling.HaltonSequence(n, sampling.Primes(len(numeric), firstHaltonBase))
	if err != nil {
		return nil, err
	}

	names := sp.Names()
	items := make([]*candidate.Candidate, n)
	for row, pt := range seq {
		values := make([]any, sp.Len())
		for d, i := range numeric {
			if values[i], err = sampling.Scale(sp.At(i), pt[d]); err != nil {
				return nil, err
			}
		}
		for i, hp := range sp.All() {
			if hp.Domain.Numeric() {
				continue
			}
			if values[i], err = sampling.Categorical(src, hp.Choices); err != nil {
				return nil, err
			}
		}
		if items[row], err = candidate.New(names, values); err != nil {
			return nil, err
		}
	}

	q.plan = newPlan(items, settings.Int(solver.SettingBatchSize))
	return q.plan, nil
}

func (q *QuasiRandom) NextBatch(context.Context, solver.StrategySpace) ([]*candidate.Candidate, error) {
	return q.plan.next(), nil
}

func (q *QuasiRandom) Observe([]solver.Observation) error { return nil }
