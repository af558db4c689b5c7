// Package solver runs the strategy-agnostic search loop: it validates the
// project, asks a strategy for candidate batches, dispatches them to an
// evaluator and records every trial in the ledger.
package solver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"sync"
	"time"

	"github.com/GoSim-25-26J-441/hyperopt/internal/candidate"
	"github.com/GoSim-25-26J-441/hyperopt/internal/ledger"
	"github.com/GoSim-25-26J-441/hyperopt/internal/sampling"
	"github.com/GoSim-25-26J-441/hyperopt/internal/space"
	"github.com/GoSim-25-26J-441/hyperopt/pkg/logger"
	"github.com/GoSim-25-26J-441/hyperopt/pkg/utils"
)

// closeTimeout bounds evaluator shutdown after the run context is gone
const closeTimeout = 10 * time.Second

// Recorder receives run telemetry. internal/metrics implements it.
type Recorder interface {
	TrialCompleted(strategy, status string, d time.Duration)
	BatchDispatched(strategy string, size int)
	BestUpdated(strategy string, loss float64)
	SetInFlight(n int)
}

type nopRecorder struct{}

func (nopRecorder) TrialCompleted(string, string, time.Duration) {}
func (nopRecorder) BatchDispatched(string, int)                  {}
func (nopRecorder) BestUpdated(string, float64)                  {}
func (nopRecorder) SetInFlight(int)                              {}

// Option configures a Solver
type Option func(*Solver)

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(s *Solver) { s.log = l }
}

// WithRecorder sets the telemetry sink
func WithRecorder(r Recorder) Option {
	return func(s *Solver) {
		if r != nil {
			s.recorder = r
		}
	}
}

// WithCallback sets a per-trial callback. It takes precedence over a
// callback carried by the evaluator.
func WithCallback(fn func(ledger.Trial)) Option {
	return func(s *Solver) { s.callback = fn }
}

// WithStopper adds an early-stopping policy on top of the settings-driven ones
func WithStopper(st Stopper) Option {
	return func(s *Solver) { s.extraStoppers = append(s.extraStoppers, st) }
}

// WithLedger replaces the trial ledger, mainly to inject a clock in tests
func WithLedger(l *ledger.Ledger) Option {
	return func(s *Solver) { s.ledger = l }
}

// WithRunID sets the identifier used in logs and checkpoints
func WithRunID(id string) Option {
	return func(s *Solver) { s.runID = id }
}

// Solver drives one run of a strategy over a project
type Solver struct {
	project       *Project
	entry         Entry
	eval          Evaluator
	ledger        *ledger.Ledger
	log           *slog.Logger
	recorder      Recorder
	callback      func(ledger.Trial)
	extraStoppers []Stopper
	runID         string

	// set during setup
	strategy Strategy
	settings Settings
	stopper  *AnyStopper
	bestTID  int

	mu         sync.Mutex
	ran        bool
	wall       time.Duration
	stopReason string
}

// New creates a solver for project using the strategy described by e and
// evaluating through ev. Nothing is validated until Run.
func New(project *Project, e Entry, ev Evaluator, opts ...Option) (*Solver, error) {
	if project == nil || project.Space == nil {
		return nil, fmt.Errorf("project with a search space is required")
	}
	if e.Factory == nil {
		return nil, fmt.Errorf("strategy entry %q has no factory", e.Name)
	}
	if ev == nil {
		return nil, fmt.Errorf("evaluator is required")
	}
	s := &Solver{
		project:  project,
		entry:    e,
		eval:     ev,
		recorder: nopRecorder{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.ledger == nil {
		s.ledger = ledger.New()
	}
	if s.runID == "" {
		s.runID = utils.GenerateRunID()
	}
	if s.callback == nil {
		if cc, ok := ev.(CallbackCarrier); ok {
			s.callback = cc.Callback()
		}
	}
	s.log = logger.Or(s.log).With("run_id", s.runID, "strategy", e.Name)
	return s, nil
}

// Ledger exposes the trial ledger
func (s *Solver) Ledger() *ledger.Ledger { return s.ledger }

// RunID returns the run identifier
func (s *Solver) RunID() string { return s.runID }

// Settings returns the validated settings, available once Run has started
func (s *Solver) Settings() Settings { return s.settings.Clone() }

// Run executes the search. It returns nil when the strategy is exhausted or
// an early-stopping rule fires, a *SetupError when the project is invalid,
// a *StrategyError when the strategy fails and an *ExecutionError when the
// evaluator fails. Black-box errors only produce failed trials. The evaluator
// is closed on every path so remote workers are always released.
func (s *Solver) Run(ctx context.Context, printStats bool) (err error) {
	s.mu.Lock()
	if s.ran {
		s.mu.Unlock()
		return ErrAlreadyRun
	}
	s.ran = true
	s.mu.Unlock()

	start := time.Now()
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
		defer cancel()
		if cerr := s.eval.Close(closeCtx); cerr != nil {
			if err == nil {
				err = &ExecutionError{Phase: "close", Err: cerr}
			} else {
				s.log.Warn("failed to close evaluator", "error", cerr)
			}
		}

		s.mu.Lock()
		s.wall = time.Since(start)
		s.mu.Unlock()
		s.logSummary(printStats, err)
	}()

	sp, err := s.setup(ctx)
	if err != nil {
		return err
	}
	return s.loop(ctx, sp)
}

func (s *Solver) setup(ctx context.Context) (StrategySpace, error) {
	s.strategy = s.entry.Factory()

	var errs []error
	if err := s.project.Space.Validate(s.entry.Domains...); err != nil {
		errs = append(errs, err)
	}

	reg := NewSettingsRegistry()
	RegisterCommon(reg)
	s.strategy.RegisterSettings(reg)
	settings, err := reg.Validate(s.project.Settings)
	if err != nil {
		errs = append(errs, err)
	} else if name := settings.String(SettingSolver); name != s.entry.Name {
		errs = append(errs, &SettingError{Name: SettingSolver, Reason: fmt.Sprintf("%q does not match strategy %q", name, s.entry.Name)})
	}
	if err := errors.Join(errs...); err != nil {
		return nil, &SetupError{Err: err}
	}

	if settings.Int(SettingSeed) == 0 {
		settings[SettingSeed] = int(time.Now().UnixNano())
	}
	if dir := settings.String(SettingOutputDir); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, &SetupError{Err: fmt.Errorf("failed to create output directory: %w", err)}
		}
	}
	s.settings = settings
	s.stopper = NewAnyStopper(append([]Stopper{stopperFromSettings(settings)}, s.extraStoppers...)...)

	if se, ok := s.eval.(SetupEvaluator); ok {
		if err := se.Setup(ctx, map[string]any(settings.Clone())); err != nil {
			return nil, &SetupError{Err: fmt.Errorf("evaluator setup: %w", err)}
		}
	}

	var sp StrategySpace
	err = s.guard("convert_space", func() (err error) {
		sp, err = s.strategy.ConvertSpace(s.project.Space, settings.Clone())
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("run started",
		"hyperparameters", s.project.Space.Names(),
		"seed", settings.Int(SettingSeed),
	)
	return sp, nil
}

func (s *Solver) loop(ctx context.Context, sp StrategySpace) error {
	var history []BatchStep
	for batchNo := 1; ; batchNo++ {
		if err := ctx.Err(); err != nil {
			s.setStopReason("cancelled")
			return err
		}

		var batch []*candidate.Candidate
		err := s.guard("next_batch", func() (err error) {
			batch, err = s.strategy.NextBatch(ctx, sp)
			return err
		})
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			s.setStopReason("strategy exhausted")
			return nil
		}
		if batch, err = s.conformBatch(batch); err != nil {
			return &StrategyError{Strategy: s.entry.Name, Phase: "next_batch", Err: err}
		}

		obs, err := s.evaluate(ctx, batch)
		if err != nil {
			return err
		}

		if err := s.guard("observe", func() error { return s.strategy.Observe(obs) }); err != nil {
			return err
		}

		best, hasBest := s.ledger.Best()
		if hasBest && best.TID != s.bestTID {
			s.bestTID = best.TID
			s.onNewBest(best)
		}
		history = append(history, BatchStep{Batch: batchNo, BestLoss: best.Loss, HasBest: hasBest})
		if stop, reason := s.stopper.ShouldStop(history); stop {
			s.setStopReason(reason)
			s.log.Info("stopping early", "reason", reason)
			return nil
		}
	}
}

// evaluate books, dispatches and records one batch. Trials are completed in
// batch order whatever order the evaluator finished them in.
func (s *Solver) evaluate(ctx context.Context, batch []*candidate.Candidate) ([]Observation, error) {
	tids := make([]int, len(batch))
	for i, c := range batch {
		tid, err := s.ledger.Begin(c)
		if err != nil {
			return nil, &ExecutionError{Phase: "book", CandidateID: c.ID(), Err: err}
		}
		tids[i] = tid
	}
	s.recorder.BatchDispatched(s.entry.Name, len(batch))
	s.recorder.SetInFlight(s.ledger.InFlight())

	outcomes, evalErr := s.eval.EvaluateBatch(ctx, batch)
	if evalErr == nil && len(outcomes) != len(batch) {
		evalErr = fmt.Errorf("evaluator returned %d outcomes for %d candidates", len(outcomes), len(batch))
	}
	if evalErr != nil {
		// close the books on the abandoned batch before failing the run
		for i, tid := range tids {
			s.complete(tid, batch[i], ledger.Failed("abandoned: "+evalErr.Error()))
		}
		s.recorder.SetInFlight(s.ledger.InFlight())
		return nil, &ExecutionError{Phase: "evaluate", TID: tids[0], CandidateID: batch[0].ID(), Err: evalErr}
	}

	obs := make([]Observation, len(batch))
	for i, tid := range tids {
		tr, err := s.complete(tid, batch[i], outcomes[i])
		if err != nil {
			return nil, err
		}
		loss := tr.Loss
		if tr.Status != ledger.StatusOK {
			loss = math.Inf(1)
		}
		obs[i] = Observation{Candidate: batch[i], Loss: loss, Status: tr.Status}
	}
	s.recorder.SetInFlight(s.ledger.InFlight())
	return obs, nil
}

func (s *Solver) complete(tid int, c *candidate.Candidate, out ledger.Outcome) (ledger.Trial, error) {
	tr, err := s.ledger.Complete(tid, out)
	if err != nil {
		return tr, &ExecutionError{Phase: "record", TID: tid, CandidateID: c.ID(), Err: err}
	}

	s.recorder.TrialCompleted(s.entry.Name, string(tr.Status), tr.Duration())
	if tr.Status == ledger.StatusFailed {
		s.log.Warn("trial failed", "error", &EvaluationError{TID: tid, CandidateID: c.ID(), Err: errors.New(tr.Error)})
	} else {
		s.log.Debug("trial completed", "tid", tid, "loss", tr.Loss, "params", c.Format())
	}
	s.invokeCallback(tr)
	return tr, nil
}

func (s *Solver) invokeCallback(tr ledger.Trial) {
	if s.callback == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.log.Warn("trial callback panicked", "tid", tr.TID, "panic", r)
		}
	}()
	s.callback(tr)
}

func (s *Solver) onNewBest(best ledger.Trial) {
	s.recorder.BestUpdated(s.entry.Name, best.Loss)
	s.log.Info("new best", "tid", best.TID, "loss", best.Loss, "params", best.Params.Format())

	dir := s.settings.String(SettingOutputDir)
	if dir == "" {
		return
	}
	cp := Checkpoint{
		RunID:    s.runID,
		Strategy: s.entry.Name,
		TID:      best.TID,
		Loss:     best.Loss,
		Params:   best.Params.Map(),
		Trials:   s.ledger.Len(),
		Updated:  time.Now().UTC(),
	}
	if err := WriteCheckpoint(dir, cp); err != nil {
		s.log.Warn("failed to write best checkpoint", "dir", dir, "error", err)
	}
}

// guard runs a strategy hook, wrapping errors and panics as StrategyError
func (s *Solver) guard(phase string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &StrategyError{Strategy: s.entry.Name, Phase: phase, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	if err := fn(); err != nil {
		return &StrategyError{Strategy: s.entry.Name, Phase: phase, Err: err}
	}
	return nil
}

func (s *Solver) conformBatch(batch []*candidate.Candidate) ([]*candidate.Candidate, error) {
	out := make([]*candidate.Candidate, len(batch))
	for i, c := range batch {
		cc, err := s.conform(c)
		if err != nil {
			return nil, err
		}
		out[i] = cc
	}
	return out, nil
}

// conform puts a proposed candidate into canonical order, clamps numeric
// values into [lo, hi] and maps categorical values onto the declared
// choices. The candidate ID is kept so strategies can match observations.
func (s *Solver) conform(c *candidate.Candidate) (*candidate.Candidate, error) {
	if c == nil {
		return nil, fmt.Errorf("nil candidate")
	}
	sp := s.project.Space
	if c.Len() != sp.Len() {
		return nil, fmt.Errorf("candidate has %d parameters, space has %d", c.Len(), sp.Len())
	}

	values := make([]any, sp.Len())
	for i, hp := range sp.All() {
		v, ok := c.Get(hp.Name)
		if !ok {
			return nil, fmt.Errorf("candidate %s has no value for %q", c.ID(), hp.Name)
		}
		if hp.Domain == space.DomainCategorical {
			idx := hp.IndexOf(v)
			if idx < 0 {
				return nil, fmt.Errorf("candidate %s: %v is not a choice of %q", c.ID(), v, hp.Name)
			}
			values[i] = hp.Choices[idx]
			continue
		}
		x, ok := space.ToFloat(v)
		if !ok {
			return nil, fmt.Errorf("candidate %s: %q must be numeric, got %T", c.ID(), hp.Name, v)
		}
		values[i] = sampling.Cast(hp.Kind, x, hp.Lo, hp.Hi)
		if values[i] != v {
			s.log.Debug("value adjusted to bounds", "param", hp.Name, "from", v, "to", values[i])
		}
	}
	return candidate.Restore(c.ID(), sp.Names(), values)
}

func (s *Solver) setStopReason(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopReason = reason
}

// Results returns the history and best of the run. Failed trials are always
// included.
func (s *Solver) Results() Results {
	s.mu.Lock()
	wall, reason := s.wall, s.stopReason
	s.mu.Unlock()

	trials := s.ledger.History()
	r := Results{
		RunID:      s.runID,
		Strategy:   s.entry.Name,
		History:    buildHistory(s.project.Space.Names(), trials),
		Trials:     trials,
		BestLoss:   math.NaN(),
		Stats:      s.ledger.Stats(wall),
		StopReason: reason,
	}
	if best, ok := s.ledger.Best(); ok {
		r.Best = best.Params.Map()
		r.BestLoss = best.Loss
		r.BestTID = best.TID
		r.HasBest = true
	}
	return r
}

func (s *Solver) logSummary(printStats bool, runErr error) {
	level := slog.LevelDebug
	if printStats {
		level = slog.LevelInfo
	}
	r := s.Results()
	attrs := []any{
		"trials", r.Stats.Trials,
		"ok", r.Stats.OK,
		"failed", r.Stats.Failed,
		"mean_trial_ms", utils.Round(utils.Millis(r.Stats.MeanDuration), 3),
		"blackbox_ms", utils.Round(utils.Millis(r.Stats.BlackBoxTime), 3),
		"overhead_ms", utils.Round(utils.Millis(r.Stats.Overhead), 3),
		"wall", utils.FormatDuration(r.Stats.Wall),
	}
	if r.HasBest {
		attrs = append(attrs, "best_tid", r.BestTID, "best_loss", r.BestLoss, "best_params", r.Best)
	}
	if r.StopReason != "" {
		attrs = append(attrs, "stop_reason", r.StopReason)
	}
	if runErr != nil {
		attrs = append(attrs, "error", runErr)
		level = slog.LevelError
	}
	s.log.Log(context.Background(), level, "run finished", attrs...)
}
