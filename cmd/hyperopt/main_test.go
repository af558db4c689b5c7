package main

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoSim-25-26J-441/hyperopt/pkg/logger"
)

func execute(t *testing.T, ctx context.Context, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func writeProject(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "project.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

const gridProject = `
hyperparameter:
  x: { domain: uniform, data: [-2, 2], type: int, frequency: 5 }
  y: { domain: uniform, data: [-1, 1], type: real, frequency: 3 }
settings:
  solver: grid
objective: sphere
`

func TestStrategiesCommand(t *testing.T) {
	out, err := execute(t, context.Background(), "strategies")
	require.NoError(t, err)
	for _, want := range []string{"grid", "tpe", "swarm", "max_iterations", "rosenbrock"} {
		assert.Contains(t, out, want)
	}
}

func TestRunCommand(t *testing.T) {
	path := writeProject(t, gridProject)
	out, err := execute(t, context.Background(), "run", "--config", path, "--log-level", "error", "--stats=false")
	require.NoError(t, err)
	assert.Contains(t, out, "strategy:   grid")
	assert.Contains(t, out, "trials:     15 (15 ok, 0 failed)")
	assert.Contains(t, out, "best loss:  0")
	assert.Contains(t, out, "x = 0")
}

func TestRunCommandRunID(t *testing.T) {
	path := writeProject(t, gridProject)
	out, err := execute(t, context.Background(), "run", "--config", path, "--log-level", "error", "--run-id", "nightly-7")
	require.NoError(t, err)
	assert.Contains(t, out, "run:        nightly-7")
}

func TestRunCommandParallelWithFailures(t *testing.T) {
	path := writeProject(t, gridProject)
	out, err := execute(t, context.Background(), "run", "--config", path, "--parallel", "4",
		"--objective", "rastrigin", "--failure-rate", "1", "--log-level", "error")
	require.NoError(t, err, "failed trials do not fail the run")
	assert.Contains(t, out, "(0 ok, 15 failed)")
	assert.Contains(t, out, "best:       none")
}

func TestRunCommandErrors(t *testing.T) {
	noObjective := writeProject(t, "hyperparameter:\n  x: {domain: uniform, data: [0, 1], type: real}\nsettings:\n  solver: grid\n")

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing config flag", []string{"run"}, "config"},
		{"missing file", []string{"run", "--config", filepath.Join(t.TempDir(), "nope.yaml")}, "failed to read project file"},
		{"no objective", []string{"run", "--config", noObjective}, "no objective"},
		{"unknown objective", []string{"run", "--config", noObjective, "--objective", "teapot"}, "unknown objective"},
		{"exclusive flags", []string{"run", "--config", noObjective, "--worker", "a:1", "--parallel", "2"}, "none of the others"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, context.Background(), tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestRunCommandWithRemoteWorkers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var addrs []string
	done := make(chan error, 2)
	for range 2 {
		lis, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		addrs = append(addrs, lis.Addr().String())
		go func() {
			done <- serveWorker(ctx, lis, &workerFlags{objective: "sphere"}, logger.Discard())
		}()
	}

	path := writeProject(t, gridProject)
	out, err := execute(t, context.Background(), "run", "--config", path,
		"--worker", addrs[0], "--worker", addrs[1], "--log-level", "error")
	require.NoError(t, err)
	assert.Contains(t, out, "trials:     15 (15 ok, 0 failed)")
	assert.Contains(t, out, "best loss:  0")

	cancel()
	for range 2 {
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("worker did not stop")
		}
	}
}

func TestWorkerRejectsUnknownObjective(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	err = serveWorker(context.Background(), lis, &workerFlags{objective: "teapot"}, logger.Discard())
	assert.Error(t, err)
}
