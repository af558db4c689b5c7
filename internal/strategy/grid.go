package strategy

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/GoSim-25-26J-441/hyperopt/internal/candidate"
	"github.com/GoSim-25-26J-441/hyperopt/internal/sampling"
	"github.com/GoSim-25-26J-441/hyperopt/internal/solver"
	"github.com/GoSim-25-26J-441/hyperopt/internal/space"
	"github.com/GoSim-25-26J-441/hyperopt/pkg/logger"
)

// SettingDefaultFrequency is the grid size of numeric axes without a frequency
const SettingDefaultFrequency = "default_frequency"

const defaultFrequency = 5

// Grid enumerates the Cartesian product of per-axis grids in row-major
// order: the first hyperparameter varies slowest.
type Grid struct {
	log   *slog.Logger
	names []string
	axes  [][]any
	total int
	next  int
	batch int
}

// NewGrid creates a grid search strategy
func NewGrid(log *slog.Logger) *Grid { return &Grid{log: logger.Or(log)} }

func (g *Grid) Name() string { return NameGrid }

func (g *Grid) RegisterSettings(reg *solver.SettingsRegistry) {
	reg.Register(solver.MaxIterationsSpec(false))
	reg.Register(batchSizeSpec())
	reg.Register(solver.SettingSpec{
		Name:        SettingDefaultFrequency,
		Kind:        space.KindInteger,
		Default:     defaultFrequency,
		Min:         solver.Bound(1),
		Description: "points per numeric axis when no frequency is given",
	})
}

func (g *Grid) ConvertSpace(sp *space.Space, settings solver.Settings) (solver.StrategySpace, error) {
	fallback := settings.Int(SettingDefaultFrequency)

	g.names = sp.Names()
	g.axes = make([][]any, sp.Len())
	g.total = 1
	for i, hp := range sp.All() {
		n := hp.Frequency
		if n == 0 && hp.Domain.Numeric() {
			n = fallback
			g.log.Warn("no frequency for grid axis, using default", "param", hp.Name, "frequency", n)
		}
		axis, err := sampling.Grid(hp, n)
		if err != nil {
			return nil, err
		}
		if len(axis) == 0 {
			return nil, fmt.Errorf("grid axis %q is empty", hp.Name)
		}
		if hp.Domain.Numeric() && len(axis) < n {
			g.log.Warn("grid axis has fewer distinct points than its frequency",
				"param", hp.Name, "frequency", n, "points", len(axis))
		}
		g.axes[i] = axis
		g.total *= len(axis)
	}
	if settings.Has(solver.SettingMaxIterations) {
		g.total = min(g.total, settings.Int(solver.SettingMaxIterations))
	}
	g.batch = settings.Int(solver.SettingBatchSize)
	g.next = 0
	return g.axes, nil
}

// Size returns the number of grid points that will be visited
func (g *Grid) Size() int { return g.total }

func (g *Grid) NextBatch(context.Context, solver.StrategySpace) ([]*candidate.Candidate, error) {
	end := g.total
	if g.batch > 0 {
		end = min(g.next+g.batch, g.total)
	}
	out := make([]*candidate.Candidate, 0, end-g.next)
	for ; g.next < end; g.next++ {
		c, err := candidate.New(g.names, g.point(g.next))
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// point decodes a flat index into per-axis values, last axis fastest
func (g *Grid) point(k int) []any {
	values := make([]any, len(g.axes))
	for i := len(g.axes) - 1; i >= 0; i-- {
		n := len(g.axes[i])
		values[i] = g.axes[i][k%n]
		k /= n
	}
	return values
}

func (g *Grid) Observe([]solver.Observation) error { return nil }
