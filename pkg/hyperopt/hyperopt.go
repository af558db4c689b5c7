// Package hyperopt is the public entry point: describe a search space, pick
// a strategy through settings, and minimize a black-box function.
//
//	p := hyperopt.NewProject()
//	p.AddHyperparameter("x", "uniform", []any{-10, 10}, "real")
//	p.AddSetting("solver", "random")
//	p.AddSetting("max_iterations", 100)
//	s, err := hyperopt.NewSolver(p, fn)
//	err = s.Run(ctx, true)
//	res := s.Results()
package hyperopt

import (
	"context"
	"errors"
	"log/slog"

	"github.com/GoSim-25-26J-441/hyperopt/internal/blackbox"
	"github.com/GoSim-25-26J-441/hyperopt/internal/candidate"
	"github.com/GoSim-25-26J-441/hyperopt/internal/ledger"
	"github.com/GoSim-25-26J-441/hyperopt/internal/solver"
	"github.com/GoSim-25-26J-441/hyperopt/internal/space"
	"github.com/GoSim-25-26J-441/hyperopt/internal/strategy"
	"github.com/GoSim-25-26J-441/hyperopt/pkg/config"
)

type (
	// Candidate is one point of the search space
	Candidate = candidate.Candidate
	// Trial is one recorded evaluation
	Trial = ledger.Trial
	// Results is the outcome of a run
	Results = solver.Results
	// Func is the objective to minimize
	Func = blackbox.Func
	// DataLoader produces the data handed to Func
	DataLoader = blackbox.DataLoader
	// Preprocess transforms loaded data
	Preprocess = blackbox.Preprocess
	// Evaluator runs batches of candidates, locally or on remote workers
	Evaluator = solver.Evaluator
	// Recorder receives run telemetry
	Recorder = solver.Recorder
)

// Re-exported error types, for errors.As
type (
	SetupError     = solver.SetupError
	StrategyError  = solver.StrategyError
	ExecutionError = solver.ExecutionError
	SettingError   = solver.SettingError
)

// ErrAlreadyRun is returned by a second call to Run
var ErrAlreadyRun = solver.ErrAlreadyRun

// Project is a search space plus settings
type Project struct {
	inner *solver.Project
	errs  []error
}

// NewProject creates an empty project
func NewProject() *Project {
	return &Project{inner: solver.NewProject()}
}

// HyperparameterOption tunes AddHyperparameter
type HyperparameterOption func(*hpOptions)

type hpOptions struct {
	frequency int
}

// WithFrequency sets the number of grid samples along the axis
func WithFrequency(n int) HyperparameterOption {
	return func(o *hpOptions) { o.frequency = n }
}

// AddHyperparameter appends a hyperparameter in the loose form used by
// project files: data is [lo, hi], [lo, hi, count] or the categorical list.
// Domain and kind names accept the usual aliases. Errors are also kept and
// reported again by NewSolver.
func (p *Project) AddHyperparameter(name, domain string, data []any, kind string, opts ...HyperparameterOption) error {
	var o hpOptions
	for _, opt := range opts {
		opt(&o)
	}
	err := p.addHyperparameter(name, domain, data, kind, o.frequency)
	if err != nil {
		p.errs = append(p.errs, err)
	}
	return err
}

func (p *Project) addHyperparameter(name, domain string, data []any, kind string, frequency int) error {
	d, err := space.ParseDomain(domain)
	if err != nil {
		return &space.FieldError{Param: name, Field: "domain", Reason: err.Error()}
	}
	k, err := space.ParseKind(kind)
	if err != nil {
		return &space.FieldError{Param: name, Field: "type", Reason: err.Error()}
	}
	hp, err := space.NewHyperparameter(name, d, k, data, frequency)
	if err != nil {
		return err
	}
	return p.inner.AddHyperparameter(hp)
}

// AddSetting sets a scalar option such as solver, max_iterations or seed
func (p *Project) AddSetting(name string, value any) {
	p.inner.AddSetting(name, value)
}

// Names lists the hyperparameters in declaration order
func (p *Project) Names() []string {
	return p.inner.Space.Names()
}

// ProjectFromConfig builds a project from a parsed project file
func ProjectFromConfig(pf *config.ProjectFile) (*Project, error) {
	inner, err := pf.Project()
	if err != nil {
		return nil, &solver.SetupError{Err: err}
	}
	return &Project{inner: inner}, nil
}

// LoadProject reads a YAML project file
func LoadProject(path string) (*Project, error) {
	pf, err := config.LoadProject(path)
	if err != nil {
		return nil, &solver.SetupError{Err: err}
	}
	return ProjectFromConfig(pf)
}

// Option configures NewSolver
type Option func(*options)

type options struct {
	loader     blackbox.DataLoader
	preprocess blackbox.Preprocess
	callback   func(Trial)
	log        *slog.Logger
	workers    int
	evaluator  solver.Evaluator
	recorder   solver.Recorder
	registry   *solver.Registry
	stoppers   []solver.Stopper
	runID      string
}

// WithDataLoader loads data once per run
func WithDataLoader(fn DataLoader) Option {
	return func(o *options) { o.loader = fn }
}

// WithPreprocess transforms the loaded data once per run
func WithPreprocess(fn Preprocess) Option {
	return func(o *options) { o.preprocess = fn }
}

// WithCallback is called after every trial
func WithCallback(fn func(Trial)) Option {
	return func(o *options) { o.callback = fn }
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithWorkers evaluates each batch on n local goroutines. n <= 0 uses one
// per CPU.
func WithWorkers(n int) Option {
	return func(o *options) {
		o.workers = n
		if n <= 0 {
			o.workers = -1
		}
	}
}

// WithEvaluator replaces local evaluation, typically with a
// distributed.Wrapper. fn is ignored on the master in that case.
func WithEvaluator(ev Evaluator) Option {
	return func(o *options) { o.evaluator = ev }
}

// WithRecorder sends run telemetry to r
func WithRecorder(r Recorder) Option {
	return func(o *options) { o.recorder = r }
}

// WithRegistry resolves strategies in reg instead of the built-in registry
func WithRegistry(reg *solver.Registry) Option {
	return func(o *options) { o.registry = reg }
}

// WithStopper adds an early-stopping rule
func WithStopper(st solver.Stopper) Option {
	return func(o *options) { o.stoppers = append(o.stoppers, st) }
}

// WithRunID names the run in logs, results and checkpoints instead of a
// generated id
func WithRunID(id string) Option {
	return func(o *options) { o.runID = id }
}

// Solver runs one optimization
type Solver struct {
	inner *solver.Solver
}

// NewSolver resolves the strategy named by the solver setting and prepares
// a run of fn over the project
func NewSolver(p *Project, fn Func, opts ...Option) (*Solver, error) {
	if p == nil {
		return nil, errors.New("project is required")
	}
	if err := errors.Join(p.errs...); err != nil {
		return nil, &solver.SetupError{Err: err}
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.registry == nil {
		o.registry = strategy.NewRegistry(o.log)
	}
	entry, err := o.registry.Lookup(p.inner.Strategy())
	if err != nil {
		return nil, &solver.SetupError{Err: err}
	}

	ev := o.evaluator
	if ev == nil {
		bb, err := blackbox.New(fn,
			blackbox.WithDataLoader(o.loader),
			blackbox.WithPreprocess(o.preprocess),
			blackbox.WithLogger(o.log),
		)
		if err != nil {
			return nil, &solver.SetupError{Err: err}
		}
		ev = bb
		if o.workers != 0 {
			ev = blackbox.NewLocalPool(bb, o.workers)
		}
	}

	sopts := []solver.Option{solver.WithLogger(o.log), solver.WithRecorder(o.recorder)}
	if o.callback != nil {
		sopts = append(sopts, solver.WithCallback(o.callback))
	}
	for _, st := range o.stoppers {
		sopts = append(sopts, solver.WithStopper(st))
	}
	if o.runID != "" {
		sopts = append(sopts, solver.WithRunID(o.runID))
	}
	inner, err := solver.New(p.inner, entry, ev, sopts...)
	if err != nil {
		return nil, err
	}
	return &Solver{inner: inner}, nil
}

// Run executes the search. See solver.Solver.Run for the error contract.
func (s *Solver) Run(ctx context.Context, printStats bool) error {
	return s.inner.Run(ctx, printStats)
}

// Results returns the history, the best point and timing statistics
func (s *Solver) Results() Results {
	return s.inner.Results()
}

// RunID identifies the run in logs and checkpoints
func (s *Solver) RunID() string {
	return s.inner.RunID()
}

// Strategies lists the built-in strategy names
func Strategies() []string {
	return strategy.Default().Names()
}
