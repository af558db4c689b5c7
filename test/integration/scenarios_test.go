//go:build integration
// +build integration

package integration_test

import (
	"context"
	"errors"
	"math"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoSim-25-26J-441/hyperopt/internal/blackbox"
	"github.com/GoSim-25-26J-441/hyperopt/internal/candidate"
	"github.com/GoSim-25-26J-441/hyperopt/internal/distributed"
	"github.com/GoSim-25-26J-441/hyperopt/internal/ledger"
	"github.com/GoSim-25-26J-441/hyperopt/internal/objective"
	"github.com/GoSim-25-26J-441/hyperopt/internal/solver"
	"github.com/GoSim-25-26J-441/hyperopt/internal/space"
	"github.com/GoSim-25-26J-441/hyperopt/internal/strategy"
	"github.com/GoSim-25-26J-441/hyperopt/pkg/hyperopt"
	"github.com/GoSim-25-26J-441/hyperopt/pkg/logger"
)

func sphereProject(t *testing.T, solverName string, iterations, seed int) *hyperopt.Project {
	t.Helper()
	p := hyperopt.NewProject()
	require.NoError(t, p.AddHyperparameter("x", "uniform", []any{-10, 10}, "real"))
	require.NoError(t, p.AddHyperparameter("y", "uniform", []any{-10, 10}, "real"))
	p.AddSetting("solver", solverName)
	p.AddSetting("max_iterations", iterations)
	p.AddSetting("seed", seed)
	return p
}

func sphere(t *testing.T) objective.Objective {
	t.Helper()
	o, err := objective.New(objective.NameSphere)
	require.NoError(t, err)
	return o
}

// Random search over two dimensions finds the unit disk in almost every
// seeded run
func TestScenarioRandomTwoDims(t *testing.T) {
	const runs = 20
	hits := 0
	for seed := 1; seed <= runs; seed++ {
		s, err := hyperopt.NewSolver(sphereProject(t, "random", 1000, seed), sphere(t).Evaluate, hyperopt.WithLogger(logger.Discard()))
		require.NoError(t, err)
		require.NoError(t, s.Run(context.Background(), false))

		res := s.Results()
		require.Equal(t, 1000, res.History.Len())
		require.Equal(t, 1000, res.Stats.OK, "all trials ok")
		if res.BestLoss <= 1.0 {
			hits++
		}
	}
	assert.GreaterOrEqual(t, hits, runs-1)
}

func TestScenarioGridIntegerAxis(t *testing.T) {
	p := hyperopt.NewProject()
	require.NoError(t, p.AddHyperparameter("n", "uniform", []any{0, 10}, "integer", hyperopt.WithFrequency(11)))
	p.AddSetting("solver", "grid")

	fn := func(_ context.Context, _ any, c *candidate.Candidate) (float64, error) {
		n, err := c.Int("n")
		if err != nil {
			return 0, err
		}
		return float64((n - 7) * (n - 7)), nil
	}
	s, err := hyperopt.NewSolver(p, fn, hyperopt.WithLogger(logger.Discard()))
	require.NoError(t, err)
	require.NoError(t, s.Run(context.Background(), false))

	res := s.Results()
	assert.Equal(t, 11, res.History.Len())
	assert.Equal(t, map[string]any{"n": 7}, res.Best)
	assert.Equal(t, 0.0, res.BestLoss)
}

func TestScenarioLogUniformGrid(t *testing.T) {
	p := hyperopt.NewProject()
	require.NoError(t, p.AddHyperparameter("lr", "loguniform", []any{1e-4, 1.0}, "real", hyperopt.WithFrequency(5)))
	p.AddSetting("solver", "grid")

	ld, err := objective.New(objective.NameLogDistance)
	require.NoError(t, err)
	s, err := hyperopt.NewSolver(p, ld.Evaluate, hyperopt.WithLogger(logger.Discard()))
	require.NoError(t, err)
	require.NoError(t, s.Run(context.Background(), false))

	res := s.Results()
	lrs := res.History.Column("lr")
	require.Len(t, lrs, 5)
	for i, want := range []float64{1e-4, 1e-3, 1e-2, 1e-1, 1} {
		assert.InEpsilon(t, want, lrs[i].(float64), 1e-9)
	}
	assert.InEpsilon(t, 1e-2, res.Best["lr"].(float64), 1e-9)
	assert.InDelta(t, 0, res.BestLoss, 1e-12)
}

func TestScenarioFailingBlackBox(t *testing.T) {
	flaky, err := objective.Flaky(sphere(t), 0.1, 7)
	require.NoError(t, err)

	var mu sync.Mutex
	var failedSeen []ledger.Trial
	s, err := hyperopt.NewSolver(sphereProject(t, "random", 100, 11), flaky.Evaluate,
		hyperopt.WithLogger(logger.Discard()),
		hyperopt.WithCallback(func(tr hyperopt.Trial) {
			if tr.Status == ledger.StatusFailed {
				mu.Lock()
				failedSeen = append(failedSeen, tr)
				mu.Unlock()
			}
		}),
	)
	require.NoError(t, err)
	require.NoError(t, s.Run(context.Background(), false), "black-box errors never fail the run")

	res := s.Results()
	assert.Equal(t, 100, res.History.Len())
	assert.Equal(t, 100, res.Stats.OK+res.Stats.Failed)
	assert.InDelta(t, 10, res.Stats.Failed, 8)
	assert.Len(t, failedSeen, res.Stats.Failed)

	bestOK := math.Inf(1)
	for _, tr := range res.Trials {
		if tr.Status == ledger.StatusFailed {
			assert.True(t, math.IsNaN(tr.Loss))
			assert.Contains(t, tr.Error, objective.ErrInjected.Error())
			continue
		}
		bestOK = math.Min(bestOK, tr.Loss)
	}
	assert.Equal(t, bestOK, res.BestLoss, "best comes from ok trials only")
}

func trialMultiset(res hyperopt.Results) map[string]int {
	out := make(map[string]int)
	for _, tr := range res.Trials {
		out[tr.Params.Key()+"|"+formatLoss(tr.Loss)]++
	}
	return out
}

func formatLoss(l float64) string {
	return strconv.FormatUint(math.Float64bits(l), 16)
}

func TestScenarioParallelEquivalence(t *testing.T) {
	for _, name := range []string{"random", "quasirandom"} {
		t.Run(name, func(t *testing.T) {
			project := func() *hyperopt.Project {
				p := sphereProject(t, name, 64, 5)
				p.AddSetting("batch_size", 16)
				return p
			}
			single, err := hyperopt.NewSolver(project(), sphere(t).Evaluate, hyperopt.WithLogger(logger.Discard()))
			require.NoError(t, err)
			require.NoError(t, single.Run(context.Background(), false))

			group, err := distributed.NewLocalGroup(5)
			require.NoError(t, err)
			var wg sync.WaitGroup
			workerErrs := make([]error, 4)
			for i, comm := range group[1:] {
				bb, err := blackbox.New(sphere(t).Evaluate, blackbox.WithLogger(logger.Discard()))
				require.NoError(t, err)
				wg.Add(1)
				go func() {
					defer wg.Done()
					workerErrs[i] = distributed.RunWorker(context.Background(), comm, bb, logger.Discard())
				}()
			}
			w, err := distributed.NewWrapper(group[0])
			require.NoError(t, err)

			parallel, err := hyperopt.NewSolver(project(), nil,
				hyperopt.WithEvaluator(w), hyperopt.WithLogger(logger.Discard()))
			require.NoError(t, err)
			require.NoError(t, parallel.Run(context.Background(), false))
			wg.Wait()

			for _, err := range workerErrs {
				assert.NoError(t, err)
			}
			assert.Equal(t, trialMultiset(single.Results()), trialMultiset(parallel.Results()))
			assert.Equal(t, single.Results().Best, parallel.Results().Best)
		})
	}
}

// brokenStrategy proposes one batch and then fails
type brokenStrategy struct{ calls int }

func (b *brokenStrategy) Name() string                              { return "broken" }
func (b *brokenStrategy) RegisterSettings(*solver.SettingsRegistry) {}
func (b *brokenStrategy) ConvertSpace(sp *space.Space, _ solver.Settings) (solver.StrategySpace, error) {
	return sp, nil
}
func (b *brokenStrategy) NextBatch(context.Context, solver.StrategySpace) ([]*candidate.Candidate, error) {
	b.calls++
	if b.calls == 2 {
		return nil, errors.New("surrogate diverged")
	}
	var out []*candidate.Candidate
	for i := range 8 {
		c, err := candidate.New([]string{"x", "y"}, []any{float64(i), 1.0})
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}
func (b *brokenStrategy) Observe([]solver.Observation) error { return nil }

func TestScenarioPoisonOnStrategyError(t *testing.T) {
	reg := strategy.NewRegistry(logger.Discard())
	require.NoError(t, reg.Register(solver.Entry{Name: "broken", Factory: func() solver.Strategy { return &brokenStrategy{} }}))

	group, err := distributed.NewLocalGroup(4)
	require.NoError(t, err)
	done := make(chan error, 3)
	for _, comm := range group[1:] {
		bb, err := blackbox.New(sphere(t).Evaluate, blackbox.WithLogger(logger.Discard()))
		require.NoError(t, err)
		go func() { done <- distributed.RunWorker(context.Background(), comm, bb, logger.Discard()) }()
	}
	w, err := distributed.NewWrapper(group[0])
	require.NoError(t, err)

	p := sphereProject(t, "broken", 10, 1)
	s, err := hyperopt.NewSolver(p, nil, hyperopt.WithEvaluator(w), hyperopt.WithRegistry(reg), hyperopt.WithLogger(logger.Discard()))
	require.NoError(t, err)
	err = s.Run(context.Background(), false)

	var se *hyperopt.StrategyError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 8, s.Results().History.Len())

	for range 3 {
		select {
		case err := <-done:
			assert.NoError(t, err, "every worker received poison")
		case <-time.After(5 * time.Second):
			t.Fatal("a worker is still waiting for work")
		}
	}
}
