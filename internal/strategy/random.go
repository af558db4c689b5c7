package strategy

import (
	"context"

	"github.com/GoSim-25-26J-441/hyperopt/internal/candidate"
	"github.com/GoSim-25-26J-441/hyperopt/internal/sampling"
	"github.com/GoSim-25-26J-441/hyperopt/internal/solver"
	"github.com/GoSim-25-26J-441/hyperopt/internal/space"
	"github.com/GoSim-25-26J-441/hyperopt/pkg/utils"
)

// Random draws one independent candidate per batch from each
// hyperparameter's distribution
type Random struct {
	sp        *space.Space
	src       *utils.RandSource
	remaining int
}

// NewRandom creates a random search strategy
func NewRandom() *Random { return &Random{} }

func (r *Random) Name() string { return NameRandom }

func (r *Random) RegisterSettings(reg *solver.SettingsRegistry) {
	reg.Register(solver.MaxIterationsSpec(true))
}

func (r *Random) ConvertSpace(sp *space.Space, settings solver.Settings) (solver.StrategySpace, error) {
	r.sp = sp
	r.src = seeded(settings)
	r.remaining = settings.Int(solver.SettingMaxIterations)
	return sp, nil
}

func (r *Random) NextBatch(context.Context, solver.StrategySpace) ([]*candidate.Candidate, error) {
	if r.remaining <= 0 {
		return nil, nil
	}
	c, err := draw(r.src, r.sp)
	if err != nil {
		return nil, err
	}
	r.remaining--
	return []*candidate.Candidate{c}, nil
}

func (r *Random) Observe([]solver.Observation) error { return nil }

func draw(src *utils.RandSource, sp *space.Space) (*candidate.Candidate, error) {
	values := make([]any, sp.Len())
	for i, hp := range sp.All() {
		v, err := sampling.Sample(src, hp)
		if err != nil {
			return nil, err
		}
		values[i] = v
	}
	return candidate.New(sp.Names(), values)
}

func seeded(settings solver.Settings) *utils.RandSource {
	return utils.NewRandSource(int64(settings.Int(solver.SettingSeed)))
}
