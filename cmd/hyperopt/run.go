package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/GoSim-25-26J-441/hyperopt/internal/distributed"
	"github.com/GoSim-25-26J-441/hyperopt/internal/metrics"
	"github.com/GoSim-25-26J-441/hyperopt/internal/objective"
	"github.com/GoSim-25-26J-441/hyperopt/pkg/config"
	"github.com/GoSim-25-26J-441/hyperopt/pkg/hyperopt"
	"github.com/GoSim-25-26J-441/hyperopt/pkg/utils"
)

type runFlags struct {
	configPath  string
	objective   string
	failureRate float64
	workers     []string
	parallel    int
	metricsAddr string
	stats       bool
	runID       string
}

func newRunCmd(g *globalFlags) *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run an optimization described by a project file",
		Long: `Runs the strategy named by settings.solver over the project's search space.

Evaluation is sequential by default, spread over local goroutines with
--parallel, or sent to remote workers with one --worker flag per address.

Examples:
  hyperopt run --config project.yaml --objective sphere
  hyperopt run --config project.yaml --parallel 8
  hyperopt run --config project.yaml --worker 10.0.0.2:50061 --worker 10.0.0.3:50061`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runOptimization(cmd.Context(), cmd.OutOrStdout(), g.logger(cmd.ErrOrStderr()), f)
		},
	}
	cmd.Flags().StringVarP(&f.configPath, "config", "c", "", "project file (YAML)")
	cmd.Flags().StringVar(&f.objective, "objective", "", "built-in objective, overrides the project file")
	cmd.Flags().Float64Var(&f.failureRate, "failure-rate", 0, "fraction of points that fail on purpose")
	cmd.Flags().StringArrayVar(&f.workers, "worker", nil, "remote worker address, repeatable")
	cmd.Flags().IntVar(&f.parallel, "parallel", 1, "local evaluation goroutines, 0 for one per CPU")
	cmd.Flags().StringVar(&f.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	cmd.Flags().BoolVar(&f.stats, "stats", true, "log timing statistics at the end")
	cmd.Flags().StringVar(&f.runID, "run-id", "", "run identifier, generated when empty")
	_ = cmd.MarkFlagRequired("config")
	cmd.MarkFlagsMutuallyExclusive("worker", "parallel")
	return cmd
}

func runOptimization(ctx context.Context, out io.Writer, log *slog.Logger, f *runFlags) error {
	pf, err := config.LoadProject(f.configPath)
	if err != nil {
		return err
	}
	name := f.objective
	if name == "" {
		name = pf.Objective
	}
	if name == "" {
		return errors.New("no objective: pass --objective or set objective in the project file")
	}
	obj, err := buildObjective(name, f.failureRate)
	if err != nil {
		return err
	}
	project, err := hyperopt.ProjectFromConfig(pf)
	if err != nil {
		return err
	}

	collector := metrics.NewCollector()
	recorders := metrics.Tee{collector}
	if f.metricsAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		recorders = append(recorders, metrics.NewTrialMetrics(reg))
		srv := startMetricsServer(f.metricsAddr, reg, log)
		defer shutdownServer(srv, log)
	}

	opts := []hyperopt.Option{hyperopt.WithLogger(log), hyperopt.WithRecorder(recorders), hyperopt.WithRunID(f.runID)}
	var wrapper *distributed.Wrapper
	if len(f.workers) > 0 {
		comm, err := distributed.DialWorkers(ctx, f.workers, distributed.WithDialLogger(log))
		if err != nil {
			return err
		}
		wrapper, err = distributed.NewWrapper(comm, distributed.WithWrapperLogger(log))
		if err != nil {
			comm.Close()
			return err
		}
		opts = append(opts, hyperopt.WithEvaluator(wrapper))
	} else if f.parallel != 1 {
		opts = append(opts, hyperopt.WithWorkers(f.parallel))
	}

	s, err := hyperopt.NewSolver(project, obj.Evaluate, opts...)
	if err != nil {
		if wrapper != nil {
			// workers are released only by poison
			_ = wrapper.Close(context.WithoutCancel(ctx))
		}
		return err
	}
	collector.Start()
	runErr := s.Run(ctx, f.stats)
	collector.Stop()

	printResults(out, name, s.Results(), collector.Summary())
	return runErr
}

func buildObjective(name string, failureRate float64) (objective.Objective, error) {
	obj, err := objective.New(name)
	if err != nil {
		return nil, err
	}
	if failureRate > 0 {
		return objective.Flaky(obj, failureRate, 1)
	}
	return obj, nil
}

func startMetricsServer(addr string, reg *prometheus.Registry, log *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}
	go func() {
		log.Info("metrics server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server error", "error", err)
		}
	}()
	return srv
}

func shutdownServer(srv *http.Server, log *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("metrics shutdown error", "error", err)
	}
}

func printResults(w io.Writer, objectiveName string, res hyperopt.Results, sum metrics.Summary) {
	fmt.Fprintf(w, "run:        %s\n", res.RunID)
	fmt.Fprintf(w, "strategy:   %s\n", res.Strategy)
	fmt.Fprintf(w, "objective:  %s\n", objectiveName)
	fmt.Fprintf(w, "trials:     %d (%d ok, %d failed) in %d batches\n", res.History.Len(), res.Stats.OK, res.Stats.Failed, sum.Batches)
	if res.StopReason != "" {
		fmt.Fprintf(w, "stopped:    %s\n", res.StopReason)
	}
	if agg := sum.Aggregations[metrics.SeriesTrialDuration]; agg != nil {
		fmt.Fprintf(w, "durations:  p50 %s, p95 %s\n",
			utils.FormatDuration(time.Duration(agg.P50*float64(time.Second))),
			utils.FormatDuration(time.Duration(agg.P95*float64(time.Second))))
	}
	if !res.HasBest {
		fmt.Fprintln(w, "best:       none")
		return
	}
	fmt.Fprintf(w, "best loss:  %g (trial %d)\n", res.BestLoss, res.BestTID)
	keys := make([]string, 0, len(res.Best))
	for k := range res.Best {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "  %s = %v\n", k, res.Best[k])
	}
}
