package main

import (
	"context"
	"log/slog"
	"net"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"github.com/GoSim-25-26J-441/hyperopt/internal/blackbox"
	"github.com/GoSim-25-26J-441/hyperopt/internal/distributed"
)

type workerFlags struct {
	listen      string
	objective   string
	failureRate float64
}

func newWorkerCmd(g *globalFlags) *cobra.Command {
	f := &workerFlags{}
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Serve evaluations for a remote master",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			log := g.logger(cmd.ErrOrStderr())
			lis, err := net.Listen("tcp", f.listen)
			if err != nil {
				return err
			}
			return serveWorker(cmd.Context(), lis, f, log)
		},
	}
	cmd.Flags().StringVar(&f.listen, "listen", ":50061", "gRPC listen address")
	cmd.Flags().StringVar(&f.objective, "objective", "sphere", "built-in objective to evaluate")
	cmd.Flags().Float64Var(&f.failureRate, "failure-rate", 0, "fraction of points that fail on purpose")
	return cmd
}

// serveWorker serves until ctx is done, then stops gracefully
func serveWorker(ctx context.Context, lis net.Listener, f *workerFlags, log *slog.Logger) error {
	obj, err := buildObjective(f.objective, f.failureRate)
	if err != nil {
		lis.Close()
		return err
	}
	bb, err := blackbox.New(obj.Evaluate, blackbox.WithLogger(log))
	if err != nil {
		lis.Close()
		return err
	}

	// TODO: add TLS credentials before exposing workers outside a trusted network.
	gs := grpc.NewServer()
	distributed.NewWorkerServer(bb, log).Register(gs)

	errCh := make(chan error, 1)
	go func() {
		log.Info("worker listening", "addr", lis.Addr().String(), "objective", obj.Name())
		errCh <- gs.Serve(lis)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		log.Info("shutdown requested")
		gs.GracefulStop()
		return nil
	}
}
