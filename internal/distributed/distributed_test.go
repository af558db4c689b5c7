package distributed

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoSim-25-26J-441/hyperopt/internal/blackbox"
	"github.com/GoSim-25-26J-441/hyperopt/internal/candidate"
	"github.com/GoSim-25-26J-441/hyperopt/internal/solver"
	"github.com/GoSim-25-26J-441/hyperopt/internal/space"
	"github.com/GoSim-25-26J-441/hyperopt/internal/strategy"
	"github.com/GoSim-25-26J-441/hyperopt/pkg/logger"
)

func sphere(_ context.Context, _ any, c *candidate.Candidate) (float64, error) {
	x, _ := c.Float("x")
	y, _ := c.Float("y")
	return x*x + y*y, nil
}

func newBlackbox(t *testing.T, fn blackbox.Func) *blackbox.Blackbox {
	t.Helper()
	bb, err := blackbox.New(fn, blackbox.WithLogger(logger.Discard()))
	require.NoError(t, err)
	return bb
}

func sphereProject(t *testing.T, settings map[string]any) *solver.Project {
	t.Helper()
	p := solver.NewProject()
	require.NoError(t, p.AddHyperparameter(space.Hyperparameter{Name: "x", Domain: space.DomainUniform, Kind: space.KindReal, Lo: -10, Hi: 10}))
	require.NoError(t, p.AddHyperparameter(space.Hyperparameter{Name: "y", Domain: space.DomainUniform, Kind: space.KindReal, Lo: -10, Hi: 10}))
	for k, v := range settings {
		p.AddSetting(k, v)
	}
	return p
}

func runWith(t *testing.T, p *solver.Project, entry solver.Entry, ev solver.Evaluator) (solver.Results, error) {
	t.Helper()
	s, err := solver.New(p, entry, ev, solver.WithLogger(logger.Discard()))
	require.NoError(t, err)
	err = s.Run(context.Background(), false)
	return s.Results(), err
}

// startWorkers runs RunWorker on ranks 1..n-1 and returns a function that
// waits for all of them
func startWorkers(t *testing.T, group []Communicator, ev PointEvaluator) func() []error {
	t.Helper()
	if se, ok := ev.(SetupEvaluator); ok {
		ev = &setupOnce{SetupEvaluator: se}
	}
	var wg sync.WaitGroup
	errs := make([]error, len(group)-1)
	for i, comm := range group[1:] {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = RunWorker(context.Background(), comm, ev, logger.Discard())
		}()
	}
	return func() []error {
		done := make(chan struct{})
		go func() {
			wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatalf("workers still blocked after the run returned")
		}
		return errs
	}
}

type trialKey struct {
	tid  int
	x, y float64
	loss float64
}

func trialSet(r solver.Results) map[trialKey]bool {
	out := make(map[trialKey]bool)
	for _, tr := range r.Trials {
		x, _ := tr.Params.Float("x")
		y, _ := tr.Params.Float("y")
		out[trialKey{tid: tr.TID, x: x, y: y, loss: tr.Loss}] = true
	}
	return out
}

func TestParallelEquivalence(t *testing.T) {
	tests := []struct {
		name     string
		settings map[string]any
	}{
		{"random", map[string]any{"solver": strategy.NameRandom, "max_iterations": 64, "seed": 1234}},
		{"quasirandom batches", map[string]any{"solver": strategy.NameQuasiRandom, "max_iterations": 64, "seed": 1234, "batch_size": 16}},
	}
	reg := strategy.NewRegistry(logger.Discard())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry, err := reg.Lookup(tt.settings["solver"].(string))
			require.NoError(t, err)

			single, err := runWith(t, sphereProject(t, tt.settings), entry, newBlackbox(t, sphere))
			require.NoError(t, err)

			group, err := NewLocalGroup(5)
			require.NoError(t, err)
			wait := startWorkers(t, group, newBlackbox(t, sphere))
			w, err := NewWrapper(group[0], WithWrapperLogger(logger.Discard()))
			require.NoError(t, err)
			assert.Equal(t, 4, w.Workers())

			parallel, err := runWith(t, sphereProject(t, tt.settings), entry, w)
			require.NoError(t, err)
			for _, err := range wait() {
				assert.NoError(t, err)
			}

			assert.Equal(t, 64, parallel.History.Len())
			assert.Equal(t, trialSet(single), trialSet(parallel))
			assert.Equal(t, single.Best, parallel.Best)
		})
	}
}

// failingStrategy proposes one good batch then fails
type failingStrategy struct {
	calls int
}

func (f *failingStrategy) Name() string                              { return "failing" }
func (f *failingStrategy) RegisterSettings(*solver.SettingsRegistry) {}
func (f *failingStrategy) ConvertSpace(sp *space.Space, _ solver.Settings) (solver.StrategySpace, error) {
	return sp, nil
}
func (f *failingStrategy) NextBatch(context.Context, solver.StrategySpace) ([]*candidate.Candidate, error) {
	f.calls++
	if f.calls > 1 {
		return nil, errors.New("strategy blew up")
	}
	var out []*candidate.Candidate
	for i := range 6 {
		c, err := candidate.New([]string{"x", "y"}, []any{float64(i), 0.0})
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}
func (f *failingStrategy) Observe([]solver.Observation) error { return nil }

func TestPoisonDeliveredOnStrategyError(t *testing.T) {
	group, err := NewLocalGroup(4)
	require.NoError(t, err)
	wait := startWorkers(t, group, newBlackbox(t, sphere))
	w, err := NewWrapper(group[0])
	require.NoError(t, err)

	entry := solver.Entry{Name: "failing", Factory: func() solver.Strategy { return &failingStrategy{} }}
	r, err := runWith(t, sphereProject(t, map[string]any{"solver": "failing"}), entry, w)

	var se *solver.StrategyError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 6, r.History.Len(), "first batch completed before the failure")
	for _, err := range wait() {
		assert.NoError(t, err, "workers exit cleanly on poison")
	}
}

func TestTransportErrorAbandonsBatch(t *testing.T) {
	group, err := NewLocalGroup(3)
	require.NoError(t, err)

	// rank 1 serves, rank 2 has gone away
	var wg sync.WaitGroup
	wg.Add(1)
	var workerErr error
	go func() {
		defer wg.Done()
		workerErr = RunWorker(context.Background(), group[1], newBlackbox(t, sphere), logger.Discard())
	}()
	require.NoError(t, group[2].Close())

	w, err := NewWrapper(group[0])
	require.NoError(t, err)
	entry, err := strategy.Default().Lookup(strategy.NameQuasiRandom)
	require.NoError(t, err)

	s, err := solver.New(sphereProject(t, map[string]any{"solver": strategy.NameQuasiRandom, "max_iterations": 4}), entry, w, solver.WithLogger(logger.Discard()))
	require.NoError(t, err)
	err = s.Run(context.Background(), false)

	var ee *solver.ExecutionError
	require.ErrorAs(t, err, &ee)
	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 2, te.Rank)
	assert.Equal(t, 0, s.Ledger().InFlight())
	assert.Equal(t, 4, s.Ledger().FailedCount())

	// the survivor either sees poison or finds the master gone; it must not hang
	wg.Wait()
	if workerErr != nil {
		assert.ErrorIs(t, workerErr, ErrClosed)
	}
}

func TestWrapperCloseSendsPoisonOnce(t *testing.T) {
	group, err := NewLocalGroup(3)
	require.NoError(t, err)
	w, err := NewWrapper(group[0])
	require.NoError(t, err)

	require.NoError(t, w.Close(context.Background()))
	require.NoError(t, w.Close(context.Background()))

	for _, worker := range group[1:] {
		m, err := worker.Recv(context.Background())
		require.NoError(t, err)
		assert.True(t, m.Poison)
		assert.Equal(t, MasterRank, m.Source)

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		_, err = worker.Recv(ctx)
		cancel()
		assert.ErrorIs(t, err, context.DeadlineExceeded, "poison is sent exactly once")
	}
}

func TestWrapperMapsWorkerFailures(t *testing.T) {
	group, err := NewLocalGroup(3)
	require.NoError(t, err)
	fn := func(_ context.Context, _ any, c *candidate.Candidate) (float64, error) {
		x, _ := c.Float("x")
		if x < 0 {
			return 0, errors.New("negative")
		}
		return x, nil
	}
	wait := startWorkers(t, group, newBlackbox(t, fn))
	w, err := NewWrapper(group[0])
	require.NoError(t, err)

	var batch []*candidate.Candidate
	for _, x := range []float64{1, -1, 2, -2, 3} {
		c, err := candidate.New([]string{"x"}, []any{x})
		require.NoError(t, err)
		batch = append(batch, c)
	}
	out, err := w.EvaluateBatch(context.Background(), batch)
	require.NoError(t, err)
	require.Len(t, out, 5)

	assert.Equal(t, 1.0, out[0].Loss)
	assert.True(t, math.IsNaN(out[1].Loss))
	assert.Equal(t, "negative", out[1].Err)
	assert.Equal(t, 3.0, out[4].Loss)
	for i := 1; i < len(out); i++ {
		assert.False(t, out[i].Start.Before(out[i-1].Start))
	}

	require.NoError(t, w.Close(context.Background()))
	wait()
}

func TestNewWrapperValidation(t *testing.T) {
	group, err := NewLocalGroup(2)
	require.NoError(t, err)

	_, err = NewWrapper(nil)
	assert.Error(t, err)
	_, err = NewWrapper(group[1])
	assert.Error(t, err, "workers cannot be masters")

	_, err = NewLocalGroup(1)
	assert.Error(t, err)
}

func TestLocalGroup(t *testing.T) {
	group, err := NewLocalGroup(2)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, group[0].Send(ctx, 1, Message{Tag: TagCandidateOut, CandidateID: "a"}))
	m, err := group[1].Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", m.CandidateID)
	assert.Equal(t, 0, m.Source)

	assert.Error(t, group[0].Send(ctx, 7, Message{}))

	require.NoError(t, group[1].Close())
	require.NoError(t, group[1].Close())
	assert.ErrorIs(t, group[0].Send(ctx, 1, Message{}), ErrClosed)
	_, err = group[1].Recv(ctx)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestTagString(t *testing.T) {
	assert.Equal(t, "candidate_out", TagCandidateOut.String())
	assert.Equal(t, "result_in", TagResultIn.String())
	assert.Equal(t, "tag(9)", Tag(9).String())
}

// windowComm records how many candidates each worker holds at once
type windowComm struct {
	Communicator
	mu      sync.Mutex
	pending map[int]int
	peak    int
}

func (c *windowComm) Send(ctx context.Context, to int, m Message) error {
	if m.Tag == TagCandidateOut {
		c.mu.Lock()
		c.pending[to]++
		c.peak = max(c.peak, c.pending[to])
		c.mu.Unlock()
	}
	return c.Communicator.Send(ctx, to, m)
}

func (c *windowComm) Recv(ctx context.Context) (Message, error) {
	m, err := c.Communicator.Recv(ctx)
	if err == nil && m.Tag == TagResultIn {
		c.mu.Lock()
		c.pending[m.Source]--
		c.mu.Unlock()
	}
	return m, err
}

func gridBatch(t *testing.T, n int) []*candidate.Candidate {
	t.Helper()
	out := make([]*candidate.Candidate, n)
	for i := range out {
		c, err := candidate.New([]string{"x", "y"}, []any{float64(i%21) - 10, float64(i%13) - 6})
		require.NoError(t, err)
		out[i] = c
	}
	return out
}

func TestWrapperBatchLargerThanInboxes(t *testing.T) {
	tests := []struct {
		name    string
		workers int
		opts    []WrapperOption
		window  int
	}{
		{"one worker", 1, nil, DefaultWindow},
		{"three workers window 1", 3, []WrapperOption{WithWindow(1)}, 1},
		{"two workers window 64", 2, []WrapperOption{WithWindow(64)}, 64},
		{"zero window clamps to 1", 2, []WrapperOption{WithWindow(0)}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			group, err := NewLocalGroup(tt.workers + 1)
			require.NoError(t, err)
			wait := startWorkers(t, group, newBlackbox(t, sphere))
			comm := &windowComm{Communicator: group[0], pending: make(map[int]int)}
			w, err := NewWrapper(comm, tt.opts...)
			require.NoError(t, err)

			batch := gridBatch(t, 20*localInbox)
			ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
			defer cancel()
			out, err := w.EvaluateBatch(ctx, batch)
			require.NoError(t, err)
			require.Len(t, out, len(batch))
			for i, c := range batch {
				want, _ := sphere(ctx, nil, c)
				require.Equal(t, want, out[i].Loss, "candidate %d", i)
				require.Empty(t, out[i].Err)
			}
			assert.LessOrEqual(t, comm.peak, tt.window)

			require.NoError(t, w.Close(context.Background()))
			for _, err := range wait() {
				assert.NoError(t, err)
			}
		})
	}
}

func TestWorkerSetupLoadsData(t *testing.T) {
	group, err := NewLocalGroup(3)
	require.NoError(t, err)

	var mu sync.Mutex
	var seen []any
	loads := 0
	fn := func(ctx context.Context, data any, c *candidate.Candidate) (float64, error) {
		mu.Lock()
		seen = append(seen, data)
		mu.Unlock()
		return sphere(ctx, data, c)
	}
	loader := func(_ context.Context, settings map[string]any) (any, error) {
		mu.Lock()
		loads++
		mu.Unlock()
		return "dataset-" + settings["split"].(string), nil
	}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, comm := range group[1:] {
		bb, err := blackbox.New(fn, blackbox.WithDataLoader(loader), blackbox.WithLogger(logger.Discard()))
		require.NoError(t, err)
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = RunWorker(context.Background(), comm, bb, logger.Discard(),
				WithWorkerSettings(map[string]any{"split": "train"}))
		}()
	}
	w, err := NewWrapper(group[0])
	require.NoError(t, err)

	entry, err := strategy.Default().Lookup(strategy.NameRandom)
	require.NoError(t, err)
	r, err := runWith(t, sphereProject(t, map[string]any{"solver": strategy.NameRandom, "max_iterations": 6, "seed": 3}), entry, w)
	require.NoError(t, err)
	wg.Wait()
	for _, err := range errs {
		assert.NoError(t, err)
	}

	assert.Equal(t, 6, r.Stats.OK)
	assert.Equal(t, 2, loads, "one load per worker")
	require.Len(t, seen, 6)
	for _, d := range seen {
		assert.Equal(t, "dataset-train", d)
	}
}

func TestWorkerSetupFailureFailsTrials(t *testing.T) {
	group, err := NewLocalGroup(2)
	require.NoError(t, err)

	calls := 0
	fn := func(ctx context.Context, data any, c *candidate.Candidate) (float64, error) {
		calls++
		return sphere(ctx, data, c)
	}
	bb, err := blackbox.New(fn,
		blackbox.WithDataLoader(func(context.Context, map[string]any) (any, error) {
			return nil, errors.New("disk gone")
		}),
		blackbox.WithLogger(logger.Discard()))
	require.NoError(t, err)
	wait := startWorkers(t, group, bb)
	w, err := NewWrapper(group[0])
	require.NoError(t, err)

	entry, err := strategy.Default().Lookup(strategy.NameRandom)
	require.NoError(t, err)
	r, err := runWith(t, sphereProject(t, map[string]any{"solver": strategy.NameRandom, "max_iterations": 4, "seed": 3}), entry, w)
	require.NoError(t, err, "setup failures surface as failed trials")
	for _, err := range wait() {
		assert.NoError(t, err)
	}

	assert.Equal(t, 0, calls)
	assert.Equal(t, 4, r.Stats.Failed)
	for _, tr := range r.Trials {
		assert.True(t, math.IsNaN(tr.Loss))
		assert.Contains(t, tr.Error, "worker setup failed")
		assert.Contains(t, tr.Error, "disk gone")
	}
}
