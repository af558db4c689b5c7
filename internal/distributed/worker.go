package distributed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/GoSim-25-26J-441/hyperopt/internal/candidate"
	"github.com/GoSim-25-26J-441/hyperopt/internal/ledger"
	"github.com/GoSim-25-26J-441/hyperopt/pkg/logger"
)

// PointEvaluator evaluates one candidate. *blackbox.Blackbox implements it.
type PointEvaluator interface {
	Evaluate(ctx context.Context, c *candidate.Candidate) ledger.Outcome
}

// SetupEvaluator is a PointEvaluator that loads its data before the first
// candidate. *blackbox.Blackbox implements it.
type SetupEvaluator interface {
	PointEvaluator
	Setup(ctx context.Context, settings map[string]any) error
}

// WorkerOption configures RunWorker and NewWorkerServer
type WorkerOption func(*workerConfig)

type workerConfig struct {
	settings map[string]any
}

// WithWorkerSettings sets the settings handed to the evaluator's Setup
func WithWorkerSettings(settings map[string]any) WorkerOption {
	return func(c *workerConfig) { c.settings = settings }
}

// RunWorker receives candidates, evaluates them and replies to the sender
// until poison arrives. It returns nil on poison and the transport error
// otherwise.
//
// When ev implements SetupEvaluator its Setup runs once before the first
// receive. If it fails the worker keeps serving and reports every candidate
// as failed, so the master is never left waiting.
func RunWorker(ctx context.Context, comm Communicator, ev PointEvaluator, log *slog.Logger, opts ...WorkerOption) error {
	var cfg workerConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	log = logger.Or(log).With("rank", comm.Rank())

	var setupErr error
	if se, ok := ev.(SetupEvaluator); ok {
		if setupErr = se.Setup(ctx, cfg.settings); setupErr != nil {
			log.Error("worker setup failed", "error", setupErr)
		}
	}

	served := 0
	for {
		m, err := comm.Recv(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				log.Info("master hung up", "served", served)
				return nil
			}
			return &TransportError{Rank: MasterRank, Op: "recv", Err: err}
		}
		if m.Poison {
			log.Info("worker stopping", "served", served)
			return nil
		}
		if m.Tag != TagCandidateOut {
			log.Warn("ignoring message", "tag", m.Tag.String(), "source", m.Source)
			continue
		}

		reply := Message{Tag: TagResultIn, CandidateID: m.CandidateID}
		var out ledger.Outcome
		if setupErr != nil {
			out = ledger.Failed(fmt.Sprintf("worker setup failed: %v", setupErr))
		} else {
			out = evaluate(ctx, ev, m)
		}
		reply.Loss, reply.Error = out.Loss, out.Err
		reply.Status = string(ledger.StatusOK)
		if out.Err != "" {
			reply.Status = string(ledger.StatusFailed)
		}
		if err := comm.Send(ctx, m.Source, reply); err != nil {
			return &TransportError{Rank: m.Source, Op: "send", Err: err}
		}
		served++
		log.Debug("candidate evaluated", "candidate_id", m.CandidateID, "loss", out.Loss)
	}
}

func evaluate(ctx context.Context, ev PointEvaluator, m Message) ledger.Outcome {
	c, err := candidate.Restore(m.CandidateID, m.Names, m.Values)
	if err != nil {
		return ledger.Failed(fmt.Sprintf("malformed candidate: %v", err))
	}
	return ev.Evaluate(ctx, c)
}

// setupOnce shares one Setup across every stream served by a WorkerServer
type setupOnce struct {
	SetupEvaluator
	once sync.Once
	err  error
}

func (s *setupOnce) Setup(ctx context.Context, settings map[string]any) error {
	s.once.Do(func() { s.err = s.SetupEvaluator.Setup(ctx, settings) })
	return s.err
}
