// Package strategy holds the built-in search strategies and the default
// registry that maps their names to solver entries.
package strategy

import (
	"log/slog"

	"github.com/GoSim-25-26J-441/hyperopt/internal/candidate"
	"github.com/GoSim-25-26J-441/hyperopt/internal/solver"
	"github.com/GoSim-25-26J-441/hyperopt/internal/space"
	"github.com/GoSim-25-26J-441/hyperopt/pkg/logger"
)

// Built-in strategy names
const (
	NameRandom      = "random"
	NameQuasiRandom = "quasirandom"
	NameGrid        = "grid"
	NameTPE         = "tpe"
	NameBayesian    = "bayesian"
	NameSwarm       = "swarm"
)

// continuousDomains are accepted by the surrogate and swarm strategies
var continuousDomains = []space.Domain{space.DomainUniform, space.DomainLogUniform, space.DomainCategorical}

// Default returns a registry with every built-in strategy
func Default() *solver.Registry {
	return NewRegistry(nil)
}

// NewRegistry returns a registry with every built-in strategy logging to log
func NewRegistry(log *slog.Logger) *solver.Registry {
	log = logger.Or(log)
	r := solver.NewRegistry()
	r.MustRegister(solver.Entry{
		Name:        NameRandom,
		Description: "independent draws from each hyperparameter's distribution",
		Factory:     func() solver.Strategy { return NewRandom() },
	})
	r.MustRegister(solver.Entry{
		Name:        NameQuasiRandom,
		Description: "Halton low-discrepancy sequence over numeric axes",
		Factory:     func() solver.Strategy { return NewQuasiRandom() },
	})
	r.MustRegister(solver.Entry{
		Name:        NameGrid,
		Description: "row-major Cartesian product of per-axis grids",
		Factory:     func() solver.Strategy { return NewGrid(log) },
	})
	r.MustRegister(solver.Entry{
		Name:        NameTPE,
		Description: "tree-structured Parzen estimator",
		Factory:     func() solver.Strategy { return NewTPE(log) },
	})
	r.MustRegister(solver.Entry{
		Name:        NameBayesian,
		Description: "Gaussian-process surrogate with an acquisition function",
		Domains:     continuousDomains,
		Factory:     func() solver.Strategy { return NewBayesian(log) },
	})
	r.MustRegister(solver.Entry{
		Name:        NameSwarm,
		Description: "particle swarm, one batch per generation",
		Domains:     continuousDomains,
		Factory:     func() solver.Strategy { return NewSwarm(log) },
	})
	return r
}

func batchSizeSpec() solver.SettingSpec {
	return solver.SettingSpec{
		Name:        solver.SettingBatchSize,
		Kind:        space.KindInteger,
		Default:     0,
		Min:         solver.Bound(0),
		Description: "candidates per batch, 0 delivers everything at once",
	}
}

// plan hands out a precomputed candidate list in chunks
type plan struct {
	items []*candidate.Candidate
	pos   int
	batch int
}

func newPlan(items []*candidate.Candidate, batch int) *plan {
	return &plan{items: items, batch: batch}
}

func (p *plan) next() []*candidate.Candidate {
	end := len(p.items)
	if p.batch > 0 {
		end = min(p.pos+p.batch, end)
	}
	out := p.items[p.pos:end]
	p.pos = end
	return out
}
