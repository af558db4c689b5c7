package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/GoSim-25-26J-441/hyperopt/internal/candidate"
	"github.com/GoSim-25-26J-441/hyperopt/internal/driver"
	"github.com/GoSim-25-26J-441/hyperopt/internal/driver/gp"
	"github.com/GoSim-25-26J-441/hyperopt/internal/driver/pso"
	"github.com/GoSim-25-26J-441/hyperopt/internal/driver/tpe"
	"github.com/GoSim-25-26J-441/hyperopt/internal/sampling"
	"github.com/GoSim-25-26J-441/hyperopt/internal/solver"
	"github.com/GoSim-25-26J-441/hyperopt/internal/space"
	"github.com/GoSim-25-26J-441/hyperopt/pkg/logger"
	"github.com/GoSim-25-26J-441/hyperopt/pkg/utils"
)

// DriverFactory builds a driver for the translated dimensions
type DriverFactory func(dims []driver.Dim, settings solver.Settings, src *utils.RandSource) (driver.Driver, error)

// AdapterConfig describes a driver-backed strategy
type AdapterConfig struct {
	Name     string
	Settings []solver.SettingSpec
	Factory  DriverFactory
	// BatchSize returns how many suggestions to ask for per batch
	BatchSize func(solver.Settings) int
	// CountGenerations makes max_iterations count batches instead of
	// evaluations
	CountGenerations bool
	Log              *slog.Logger
}

// DriverAdapter runs an opaque ask/tell driver as a solver strategy. Log
// axes are handed to the driver in log space, categories as index
// dimensions. Pending suggestions are matched back by candidate ID.
type DriverAdapter struct {
	cfg AdapterConfig
	log *slog.Logger

	sp        *space.Space
	drv       driver.Driver
	keys      map[string]string
	batch     int
	remaining int
}

// NewDriverAdapter creates an adapter from cfg
func NewDriverAdapter(cfg AdapterConfig) *DriverAdapter {
	if cfg.BatchSize == nil {
		cfg.BatchSize = func(solver.Settings) int { return 1 }
	}
	return &DriverAdapter{cfg: cfg, log: logger.Or(cfg.Log).With("strategy", cfg.Name)}
}

func (a *DriverAdapter) Name() string { return a.cfg.Name }

func (a *DriverAdapter) RegisterSettings(reg *solver.SettingsRegistry) {
	reg.Register(solver.MaxIterationsSpec(true))
	for _, s := range a.cfg.Settings {
		reg.Register(s)
	}
}

func (a *DriverAdapter) ConvertSpace(sp *space.Space, settings solver.Settings) (solver.StrategySpace, error) {
	dims := Dims(sp)
	drv, err := a.cfg.Factory(dims, settings, seeded(settings))
	if err != nil {
		return nil, err
	}
	a.sp = sp
	a.drv = drv
	a.keys = make(map[string]string)
	a.batch = max(a.cfg.BatchSize(settings), 1)
	a.remaining = settings.Int(solver.SettingMaxIterations)
	a.log.Debug("driver ready", "dims", len(dims), "batch", a.batch, "budget", a.remaining)
	return dims, nil
}

func (a *DriverAdapter) NextBatch(context.Context, solver.StrategySpace) ([]*candidate.Candidate, error) {
	if a.remaining <= 0 {
		return nil, nil
	}
	n := a.batch
	if !a.cfg.CountGenerations {
		n = min(n, a.remaining)
	}
	sugs, err := a.drv.Ask(n)
	if err != nil {
		return nil, fmt.Errorf("driver ask: %w", err)
	}

	names := a.sp.Names()
	out := make([]*candidate.Candidate, 0, len(sugs))
	for _, s := range sugs {
		values, err := Decode(a.sp, s.X)
		if err != nil {
			return nil, err
		}
		c, err := candidate.New(names, values)
		if err != nil {
			return nil, err
		}
		a.keys[c.ID()] = s.Key
		out = append(out, c)
	}

	if a.cfg.CountGenerations {
		a.remaining--
	} else {
		a.remaining -= len(out)
	}
	return out, nil
}

func (a *DriverAdapter) Observe(results []solver.Observation) error {
	for _, o := range results {
		id := o.Candidate.ID()
		key, ok := a.keys[id]
		if !ok {
			return fmt.Errorf("observation for unknown candidate %s", id)
		}
		delete(a.keys, id)
		if err := a.drv.Tell(key, o.Loss); err != nil {
			return fmt.Errorf("driver tell: %w", err)
		}
	}
	return nil
}

// Dims translates a space into driver dimensions
func Dims(sp *space.Space) []driver.Dim {
	dims := make([]driver.Dim, sp.Len())
	for i, hp := range sp.All() {
		switch hp.Domain {
		case space.DomainCategorical:
			dims[i] = driver.Dim{Categories: len(hp.Choices)}
		case space.DomainLogUniform:
			dims[i] = driver.Dim{Lo: math.Log(hp.Lo), Hi: math.Log(hp.Hi)}
		default:
			dims[i] = driver.Dim{Lo: hp.Lo, Hi: hp.Hi, Integral: hp.Kind == space.KindInteger}
		}
	}
	return dims
}

// Decode maps a driver vector back onto typed hyperparameter values
func Decode(sp *space.Space, x []float64) ([]any, error) {
	if len(x) != sp.Len() {
		return nil, fmt.Errorf("driver returned %d coordinates for %d hyperparameters", len(x), sp.Len())
	}
	values := make([]any, sp.Len())
	for i, hp := range sp.All() {
		switch hp.Domain {
		case space.DomainCategorical:
			idx := utils.Clamp(int(x[i]), 0, len(hp.Choices)-1)
			values[i] = hp.Choices[idx]
		case space.DomainLogUniform:
			values[i] = sampling.Cast(hp.Kind, math.Exp(x[i]), hp.Lo, hp.Hi)
		default:
			values[i] = sampling.Cast(hp.Kind, x[i], hp.Lo, hp.Hi)
		}
	}
	return values, nil
}

// Driver settings
const (
	SettingStartupTrials  = "startup_trials"
	SettingGamma          = "gamma"
	SettingEICandidates   = "ei_candidates"
	SettingInitialSamples = "initial_samples"
	SettingCandidates     = "candidates"
	SettingAcquisition    = "acquisition"
	SettingBeta           = "beta"
	SettingXi             = "xi"
	SettingLengthScale    = "length_scale"
	SettingNoise          = "noise"
	SettingPopulationSize = "population_size"
	SettingInertia        = "inertia"
	SettingCognitive      = "cognitive"
	SettingSocial         = "social"
)

func intSpec(name string, def int, desc string) solver.SettingSpec {
	return solver.SettingSpec{Name: name, Kind: space.KindInteger, Default: def, Min: solver.Bound(1), Description: desc}
}

func realSpec(name string, def float64, desc string) solver.SettingSpec {
	return solver.SettingSpec{Name: name, Kind: space.KindReal, Default: def, Min: solver.Bound(0), Description: desc}
}

// NewTPE creates the tree-structured Parzen estimator strategy
func NewTPE(log *slog.Logger) *DriverAdapter {
	def := tpe.DefaultConfig()
	gamma := realSpec(SettingGamma, def.Gamma, "fraction of trials considered good")
	gamma.Max = solver.Bound(1)
	return NewDriverAdapter(AdapterConfig{
		Name: NameTPE,
		Log:  log,
		Settings: []solver.SettingSpec{
			intSpec(SettingStartupTrials, def.StartupTrials, "random trials before the model is used"),
			gamma,
			intSpec(SettingEICandidates, def.EICandidates, "draws scored per dimension"),
		},
		Factory: func(dims []driver.Dim, s solver.Settings, src *utils.RandSource) (driver.Driver, error) {
			return tpe.New(dims, tpe.Config{
				StartupTrials: s.Int(SettingStartupTrials),
				Gamma:         s.Float(SettingGamma),
				EICandidates:  s.Int(SettingEICandidates),
			}, src)
		},
	})
}

// NewBayesian creates the Gaussian-process strategy
func NewBayesian(log *slog.Logger) *DriverAdapter {
	def := gp.DefaultConfig()
	allowed := make([]any, len(gp.AcquisitionNames))
	for i, n := range gp.AcquisitionNames {
		allowed[i] = n
	}
	return NewDriverAdapter(AdapterConfig{
		Name: NameBayesian,
		Log:  log,
		Settings: []solver.SettingSpec{
			intSpec(SettingInitialSamples, def.InitialSamples, "random trials before the surrogate is fitted"),
			intSpec(SettingCandidates, def.Candidates, "random points scored per suggestion"),
			{Name: SettingAcquisition, Kind: space.KindString, Default: def.Acquisition, Allowed: allowed, Description: "acquisition function"},
			realSpec(SettingBeta, def.Beta, "exploration weight of ucb"),
			realSpec(SettingXi, def.Xi, "minimum improvement for pi and ei"),
			realSpec(SettingLengthScale, def.LengthScale, "RBF length scale in unit space"),
			realSpec(SettingNoise, def.Noise, "observation noise added to the kernel"),
		},
		Factory: func(dims []driver.Dim, s solver.Settings, src *utils.RandSource) (driver.Driver, error) {
			return gp.New(dims, gp.Config{
				InitialSamples: s.Int(SettingInitialSamples),
				Candidates:     s.Int(SettingCandidates),
				Acquisition:    s.String(SettingAcquisition),
				Beta:           s.Float(SettingBeta),
				Xi:             s.Float(SettingXi),
				LengthScale:    s.Float(SettingLengthScale),
				Noise:          s.Float(SettingNoise),
			}, src)
		},
	})
}

// NewSwarm creates the particle swarm strategy. max_iterations counts
// generations.
func NewSwarm(log *slog.Logger) *DriverAdapter {
	def := pso.DefaultConfig()
	return NewDriverAdapter(AdapterConfig{
		Name: NameSwarm,
		Log:  log,
		Settings: []solver.SettingSpec{
			intSpec(SettingPopulationSize, def.Population, "particles per generation"),
			realSpec(SettingInertia, def.Inertia, "velocity inertia"),
			realSpec(SettingCognitive, def.Cognitive, "pull towards each particle's best"),
			realSpec(SettingSocial, def.Social, "pull towards the swarm's best"),
		},
		BatchSize:        func(s solver.Settings) int { return s.Int(SettingPopulationSize) },
		CountGenerations: true,
		Factory: func(dims []driver.Dim, s solver.Settings, src *utils.RandSource) (driver.Driver, error) {
			return pso.New(dims, pso.Config{
				Population: s.Int(SettingPopulationSize),
				Inertia:    s.Float(SettingInertia),
				Cognitive:  s.Float(SettingCognitive),
				Social:     s.Float(SettingSocial),
			}, src)
		},
	})
}
