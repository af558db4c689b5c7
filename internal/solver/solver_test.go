package solver

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoSim-25-26J-441/hyperopt/internal/candidate"
	"github.com/GoSim-25-26J-441/hyperopt/internal/ledger"
	"github.com/GoSim-25-26J-441/hyperopt/internal/space"
	"github.com/GoSim-25-26J-441/hyperopt/pkg/logger"
)

// scriptedStrategy replays fixed batches of x values
type scriptedStrategy struct {
	batches   [][]map[string]any
	next      int
	observed  [][]Observation
	failOn    string
	panicOn   string
	converted bool
}

func (s *scriptedStrategy) Name() string { return "scripted" }

func (s *scriptedStrategy) RegisterSettings(r *SettingsRegistry) {
	r.Register(MaxIterationsSpec(false))
}

func (s *scriptedStrategy) ConvertSpace(sp *space.Space, _ Settings) (StrategySpace, error) {
	if s.failOn == "convert_space" {
		return nil, errors.New("cannot convert")
	}
	s.converted = true
	return sp.Names(), nil
}

func (s *scriptedStrategy) NextBatch(_ context.Context, st StrategySpace) ([]*candidate.Candidate, error) {
	if s.panicOn == "next_batch" {
		panic("boom")
	}
	if s.failOn == "next_batch" {
		return nil, errors.New("no ideas")
	}
	if s.next >= len(s.batches) {
		return nil, nil
	}
	names := st.([]string)
	var out []*candidate.Candidate
	for _, m := range s.batches[s.next] {
		c, err := candidate.FromMap(names, m)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	s.next++
	return out, nil
}

func (s *scriptedStrategy) Observe(results []Observation) error {
	s.observed = append(s.observed, results)
	return nil
}

// funcEvaluator evaluates sequentially with fn
type funcEvaluator struct {
	fn       func(c *candidate.Candidate) ledger.Outcome
	err      error
	mu       sync.Mutex
	closed   int
	setup    map[string]any
	seen     []*candidate.Candidate
	callback func(ledger.Trial)
}

func (e *funcEvaluator) EvaluateBatch(_ context.Context, batch []*candidate.Candidate) ([]ledger.Outcome, error) {
	if e.err != nil {
		return nil, e.err
	}
	out := make([]ledger.Outcome, len(batch))
	for i, c := range batch {
		e.seen = append(e.seen, c)
		out[i] = e.fn(c)
	}
	return out, nil
}

func (e *funcEvaluator) Close(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed++
	return nil
}

func (e *funcEvaluator) Setup(_ context.Context, settings map[string]any) error {
	e.setup = settings
	return nil
}

func (e *funcEvaluator) Callback() func(ledger.Trial) { return e.callback }

func squareLoss(c *candidate.Candidate) ledger.Outcome {
	x, _ := c.Float("x")
	return ledger.Outcome{Loss: x * x}
}

func xProject(t *testing.T) *Project {
	t.Helper()
	p := NewProject()
	require.NoError(t, p.AddHyperparameter(space.Hyperparameter{Name: "x", Domain: space.DomainUniform, Kind: space.KindReal, Lo: -10, Hi: 10}))
	p.AddSetting(SettingSolver, "scripted")
	return p
}

func newTestSolver(t *testing.T, p *Project, strat *scriptedStrategy, ev Evaluator, opts ...Option) *Solver {
	t.Helper()
	entry := Entry{Name: "scripted", Factory: func() Strategy { return strat }}
	s, err := New(p, entry, ev, append([]Option{WithLogger(logger.Discard())}, opts...)...)
	require.NoError(t, err)
	return s
}

func TestSolverRunRecordsEveryTrial(t *testing.T) {
	strat := &scriptedStrategy{batches: [][]map[string]any{
		{{"x": 3.0}},
		{{"x": -1.0}, {"x": 2.0}},
	}}
	ev := &funcEvaluator{fn: squareLoss}
	s := newTestSolver(t, xProject(t), strat, ev)

	require.NoError(t, s.Run(context.Background(), true))

	r := s.Results()
	assert.Equal(t, 3, r.History.Len())
	assert.Equal(t, []string{"tid", "duration_ms", "loss", "status", "x"}, r.History.Columns)
	assert.Equal(t, []any{1, 2, 3}, r.History.Column("tid"))
	assert.Equal(t, []any{9.0, 1.0, 4.0}, r.History.Column("loss"))
	assert.Equal(t, []any{"ok", "ok", "ok"}, r.History.Column("status"))
	assert.True(t, r.HasBest)
	assert.Equal(t, map[string]any{"x": -1.0}, r.Best)
	assert.Equal(t, 2, r.BestTID)
	assert.Equal(t, "strategy exhausted", r.StopReason)
	assert.Equal(t, 1, ev.closed, "evaluator must be closed exactly once")
	assert.NotNil(t, ev.setup, "evaluator setup should run")
	assert.NotZero(t, s.Settings().Int(SettingSeed), "seed 0 is replaced")

	require.Len(t, strat.observed, 2)
	assert.Len(t, strat.observed[1], 2)
	assert.Equal(t, 1.0, strat.observed[1][0].Loss)

	assert.ErrorIs(t, s.Run(context.Background(), false), ErrAlreadyRun)
}

func TestSolverClampsAndKeepsIDs(t *testing.T) {
	p := xProject(t)
	require.NoError(t, p.AddHyperparameter(space.Hyperparameter{Name: "n", Domain: space.DomainUniform, Kind: space.KindInteger, Lo: 0, Hi: 5}))
	require.NoError(t, p.AddHyperparameter(space.Hyperparameter{Name: "opt", Domain: space.DomainCategorical, Kind: space.KindString, Choices: []any{"adam", "sgd"}}))

	strat := &scriptedStrategy{batches: [][]map[string]any{
		{{"x": 25.0, "n": 7.6, "opt": "sgd"}, {"x": -12.0, "n": 2.4, "opt": "adam"}},
	}}
	ev := &funcEvaluator{fn: squareLoss}
	s := newTestSolver(t, p, strat, ev)
	require.NoError(t, s.Run(context.Background(), false))

	require.Len(t, ev.seen, 2)
	assert.Equal(t, map[string]any{"x": 10.0, "n": 5, "opt": "sgd"}, ev.seen[0].Map())
	assert.Equal(t, map[string]any{"x": -10.0, "n": 2, "opt": "adam"}, ev.seen[1].Map())

	// observations carry the IDs the evaluator saw
	for i, o := range strat.observed[0] {
		assert.Equal(t, ev.seen[i].ID(), o.Candidate.ID())
	}
}

func TestSolverRejectsUnknownCategory(t *testing.T) {
	p := NewProject()
	require.NoError(t, p.AddHyperparameter(space.Hyperparameter{Name: "opt", Domain: space.DomainCategorical, Kind: space.KindString, Choices: []any{"adam"}}))
	p.AddSetting(SettingSolver, "scripted")

	strat := &scriptedStrategy{batches: [][]map[string]any{{{"opt": "lbfgs"}}}}
	ev := &funcEvaluator{fn: squareLoss}
	err := newTestSolver(t, p, strat, ev).Run(context.Background(), false)

	var se *StrategyError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "next_batch", se.Phase)
	assert.Equal(t, 1, ev.closed)
}

func TestSolverFailedTrials(t *testing.T) {
	strat := &scriptedStrategy{batches: [][]map[string]any{
		{{"x": 1.0}, {"x": 2.0}, {"x": 3.0}},
	}}
	ev := &funcEvaluator{fn: func(c *candidate.Candidate) ledger.Outcome {
		x, _ := c.Float("x")
		if x == 1 {
			return ledger.Failed("exploded")
		}
		return ledger.Outcome{Loss: x}
	}}
	var calls []ledger.Trial
	ev.callback = func(tr ledger.Trial) { calls = append(calls, tr) }

	s := newTestSolver(t, xProject(t), strat, ev)
	require.NoError(t, s.Run(context.Background(), true))

	r := s.Results()
	assert.Equal(t, 3, r.History.Len(), "failed trials are never omitted")
	assert.Equal(t, 1, r.Stats.Failed)
	assert.Equal(t, 2, r.Stats.OK)
	assert.Equal(t, map[string]any{"x": 2.0}, r.Best)
	assert.True(t, math.IsNaN(r.History.Rows[0][2].(float64)))

	obs := strat.observed[0]
	assert.True(t, math.IsInf(obs[0].Loss, 1), "strategy sees +Inf for failures")
	assert.Equal(t, ledger.StatusFailed, obs[0].Status)

	require.Len(t, calls, 3, "callback runs once per trial")
	assert.Equal(t, 1, calls[0].TID)
	assert.Equal(t, "exploded", calls[0].Error)
}

func TestSolverSetupErrorsAreEnumerated(t *testing.T) {
	p := NewProject()
	require.NoError(t, p.AddHyperparameter(space.Hyperparameter{Name: "a", Domain: space.DomainUniform, Kind: space.KindReal, Lo: 2, Hi: 1}))
	require.NoError(t, p.AddHyperparameter(space.Hyperparameter{Name: "b", Domain: space.DomainNormal, Kind: space.KindReal, Lo: 0, Hi: 1}))
	p.AddSetting(SettingPatience, "soon")

	strat := &scriptedStrategy{}
	ev := &funcEvaluator{fn: squareLoss}
	entry := Entry{Name: "scripted", Domains: []space.Domain{space.DomainUniform}, Factory: func() Strategy { return strat }}
	s, err := New(p, entry, ev, WithLogger(logger.Discard()))
	require.NoError(t, err)

	err = s.Run(context.Background(), false)
	var se *SetupError
	require.ErrorAs(t, err, &se)
	for _, want := range []string{`"a"`, `"b"`, SettingSolver, SettingPatience} {
		assert.Contains(t, err.Error(), want)
	}
	assert.False(t, strat.converted, "strategy must not run after setup failure")
	assert.Equal(t, 1, ev.closed, "evaluator closed even on setup failure")
}

func TestSolverSolverNameMismatch(t *testing.T) {
	p := xProject(t)
	p.AddSetting(SettingSolver, "grid")
	err := newTestSolver(t, p, &scriptedStrategy{}, &funcEvaluator{fn: squareLoss}).Run(context.Background(), false)

	var se *SetupError
	assert.ErrorAs(t, err, &se)
}

func TestSolverStrategyErrors(t *testing.T) {
	tests := []struct {
		name  string
		strat *scriptedStrategy
		phase string
	}{
		{"convert", &scriptedStrategy{failOn: "convert_space"}, "convert_space"},
		{"next batch", &scriptedStrategy{failOn: "next_batch"}, "next_batch"},
		{"panic", &scriptedStrategy{panicOn: "next_batch"}, "next_batch"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := &funcEvaluator{fn: squareLoss}
			err := newTestSolver(t, xProject(t), tt.strat, ev).Run(context.Background(), false)

			var se *StrategyError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tt.phase, se.Phase)
			assert.Equal(t, 1, ev.closed)
		})
	}
}

func TestSolverEvaluatorFailureAbandonsBatch(t *testing.T) {
	strat := &scriptedStrategy{batches: [][]map[string]any{{{"x": 1.0}, {"x": 2.0}}}}
	lost := errors.New("worker 2 disappeared")
	ev := &funcEvaluator{err: lost}

	s := newTestSolver(t, xProject(t), strat, ev)
	err := s.Run(context.Background(), false)

	var ee *ExecutionError
	require.ErrorAs(t, err, &ee)
	assert.ErrorIs(t, err, lost)
	assert.Equal(t, 1, ee.TID)
	assert.Equal(t, 1, ev.closed)

	assert.Equal(t, 0, s.Ledger().InFlight(), "every started trial is completed")
	assert.Equal(t, 2, s.Ledger().FailedCount())
}

func TestSolverEarlyStopping(t *testing.T) {
	var batches [][]map[string]any
	for i := 0; i < 20; i++ {
		batches = append(batches, []map[string]any{{"x": 5.0}})
	}
	strat := &scriptedStrategy{batches: batches}
	p := xProject(t)
	p.AddSetting(SettingPatience, 3)

	s := newTestSolver(t, p, strat, &funcEvaluator{fn: squareLoss})
	require.NoError(t, s.Run(context.Background(), false))

	r := s.Results()
	assert.Equal(t, 4, r.History.Len())
	assert.Contains(t, r.StopReason, "no_improvement")
}

func TestSolverCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ev := &funcEvaluator{fn: squareLoss}
	strat := &scriptedStrategy{batches: [][]map[string]any{{{"x": 1.0}}}}
	err := newTestSolver(t, xProject(t), strat, ev).Run(ctx, false)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, ev.closed)
}

func TestSolverWritesBestCheckpoint(t *testing.T) {
	dir := t.TempDir()
	p := xProject(t)
	p.AddSetting(SettingOutputDir, dir)

	strat := &scriptedStrategy{batches: [][]map[string]any{
		{{"x": 4.0}},
		{{"x": 0.5}},
		{{"x": 3.0}},
	}}
	s := newTestSolver(t, p, strat, &funcEvaluator{fn: squareLoss})
	require.NoError(t, s.Run(context.Background(), false))

	cp, err := ReadCheckpoint(dir)
	require.NoError(t, err)
	assert.Equal(t, 2, cp.TID)
	assert.Equal(t, 0.25, cp.Loss)
	assert.Equal(t, map[string]any{"x": 0.5}, cp.Params)
	assert.Equal(t, "scripted", cp.Strategy)
	assert.Equal(t, s.RunID(), cp.RunID)
}

func TestSolverInjectedLedgerAndRunID(t *testing.T) {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	l := ledger.New(ledger.WithClock(func() time.Time { return base }))
	strat := &scriptedStrategy{batches: [][]map[string]any{
		{{"x": 2.0}, {"x": 1.0}},
	}}
	s := newTestSolver(t, xProject(t), strat, &funcEvaluator{fn: squareLoss}, WithLedger(l), WithRunID("run-fixed"))
	require.NoError(t, s.Run(context.Background(), false))

	assert.Same(t, l, s.Ledger())
	assert.Equal(t, "run-fixed", s.RunID())
	r := s.Results()
	assert.Equal(t, "run-fixed", r.RunID)
	require.Len(t, r.Trials, 2)
	for _, tr := range r.Trials {
		assert.Equal(t, base, tr.BookTime)
		assert.Equal(t, base, tr.RefreshTime)
		assert.Zero(t, tr.Duration())
	}
	assert.Equal(t, []any{0.0, 0.0}, r.History.Column(ColumnDurationMs))
}

func TestNewValidatesArguments(t *testing.T) {
	entry := Entry{Name: "scripted", Factory: func() Strategy { return &scriptedStrategy{} }}
	ev := &funcEvaluator{fn: squareLoss}

	_, err := New(nil, entry, ev)
	assert.Error(t, err)
	_, err = New(NewProject(), Entry{Name: "x"}, ev)
	assert.Error(t, err)
	_, err = New(NewProject(), entry, nil)
	assert.Error(t, err)
}
