package hyperopt

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoSim-25-26J-441/hyperopt/pkg/logger"
)

func sphere(_ context.Context, _ any, c *Candidate) (float64, error) {
	x, _ := c.Float("x")
	y, _ := c.Float("y")
	return x*x + y*y, nil
}

func sphereProject(t *testing.T, solverName string, iterations int) *Project {
	t.Helper()
	p := NewProject()
	require.NoError(t, p.AddHyperparameter("x", "uniform", []any{-10, 10}, "real"))
	require.NoError(t, p.AddHyperparameter("y", "uniform", []any{-10, 10}, "real"))
	p.AddSetting("solver", solverName)
	p.AddSetting("max_iterations", iterations)
	p.AddSetting("seed", 2024)
	return p
}

func TestRandomSearch(t *testing.T) {
	var calls atomic.Int64
	s, err := NewSolver(sphereProject(t, "random", 1000), sphere,
		WithLogger(logger.Discard()),
		WithCallback(func(Trial) { calls.Add(1) }),
	)
	require.NoError(t, err)
	require.NoError(t, s.Run(context.Background(), false))

	res := s.Results()
	assert.Equal(t, 1000, res.History.Len())
	assert.Equal(t, 1000, res.Stats.OK)
	assert.True(t, res.HasBest)
	assert.LessOrEqual(t, res.BestLoss, 1.0)
	assert.Equal(t, int64(1000), calls.Load())
	assert.NotEmpty(t, s.RunID())

	assert.ErrorIs(t, s.Run(context.Background(), false), ErrAlreadyRun)
}

func TestWithRunID(t *testing.T) {
	s, err := NewSolver(sphereProject(t, "random", 5), sphere, WithRunID("sweep-a"), WithLogger(logger.Discard()))
	require.NoError(t, err)
	require.NoError(t, s.Run(context.Background(), false))
	assert.Equal(t, "sweep-a", s.RunID())
	assert.Equal(t, "sweep-a", s.Results().RunID)
}

func TestLocalWorkers(t *testing.T) {
	p := sphereProject(t, "quasirandom", 40)
	p.AddSetting("batch_size", 8)
	s, err := NewSolver(p, sphere, WithWorkers(4), WithLogger(logger.Discard()))
	require.NoError(t, err)
	require.NoError(t, s.Run(context.Background(), false))
	assert.Equal(t, 40, s.Results().History.Len())
}

func TestDataLoaderFeedsObjective(t *testing.T) {
	p := NewProject()
	require.NoError(t, p.AddHyperparameter("n", "uniform", []any{0, 10}, "int", WithFrequency(11)))
	p.AddSetting("solver", "grid")

	fn := func(_ context.Context, data any, c *Candidate) (float64, error) {
		target := data.(int)
		n, _ := c.Int("n")
		d := float64(n - target)
		return d * d, nil
	}
	s, err := NewSolver(p, fn,
		WithDataLoader(func(context.Context, map[string]any) (any, error) { return 3, nil }),
		WithPreprocess(func(_ context.Context, data any, _ map[string]any) (any, error) { return data.(int) + 4, nil }),
		WithLogger(logger.Discard()),
	)
	require.NoError(t, err)
	require.NoError(t, s.Run(context.Background(), false))

	res := s.Results()
	assert.Equal(t, 11, res.History.Len())
	assert.Equal(t, map[string]any{"n": 7}, res.Best)
	assert.Equal(t, 0.0, res.BestLoss)
}

func TestSetupErrors(t *testing.T) {
	p := NewProject()
	assert.Error(t, p.AddHyperparameter("x", "gaussian", []any{0, 1}, "real"))
	assert.Error(t, p.AddHyperparameter("y", "uniform", []any{0, 1}, "complex"))
	p.AddSetting("solver", "random")

	_, err := NewSolver(p, sphere)
	var se *SetupError
	require.ErrorAs(t, err, &se)
	assert.Contains(t, err.Error(), "x")
	assert.Contains(t, err.Error(), "y")

	_, err = NewSolver(sphereProject(t, "annealing", 10), sphere)
	require.ErrorAs(t, err, &se)
	var settingErr *SettingError
	assert.True(t, errors.As(err, &settingErr))

	_, err = NewSolver(nil, sphere)
	assert.Error(t, err)
}

func TestRunReportsSetupError(t *testing.T) {
	p := NewProject()
	require.NoError(t, p.AddHyperparameter("x", "uniform", []any{-1, 1}, "real"))
	p.AddSetting("solver", "random")

	s, err := NewSolver(p, sphere, WithLogger(logger.Discard()))
	require.NoError(t, err)
	err = s.Run(context.Background(), false)
	var se *SetupError
	assert.ErrorAs(t, err, &se, "random needs max_iterations")
}

func TestLoadProject(t *testing.T) {
	path := filepath.Join(t.TempDir(), "project.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
hyperparameter:
  lr: { domain: loguniform, data: [0.0001, 1], type: real, frequency: 5 }
settings:
  solver: grid
`), 0o644))

	p, err := LoadProject(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"lr"}, p.Names())

	_, err = LoadProject(filepath.Join(t.TempDir(), "missing.yaml"))
	var se *SetupError
	assert.ErrorAs(t, err, &se)
}

func TestStrategies(t *testing.T) {
	assert.Equal(t, []string{"bayesian", "grid", "quasirandom", "random", "swarm", "tpe"}, Strategies())
}
