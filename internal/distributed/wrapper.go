package distributed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/GoSim-25-26J-441/hyperopt/internal/candidate"
	"github.com/GoSim-25-26J-441/hyperopt/internal/ledger"
	"github.com/GoSim-25-26J-441/hyperopt/pkg/logger"
)

// DefaultWindow is how many candidates a worker may hold unanswered
const DefaultWindow = 8

// WrapperOption configures a Wrapper
type WrapperOption func(*Wrapper)

// WithWrapperLogger sets the master logger
func WithWrapperLogger(l *slog.Logger) WrapperOption {
	return func(w *Wrapper) { w.log = l }
}

// WithWindow sets how many candidates each worker may hold unanswered.
// Values below 1 mean 1.
func WithWindow(n int) WrapperOption {
	return func(w *Wrapper) { w.window = max(n, 1) }
}

// WithTrialCallback sets the per-trial callback reported to the solver
func WithTrialCallback(fn func(ledger.Trial)) WrapperOption {
	return func(w *Wrapper) { w.callback = fn }
}

// Wrapper is the master side evaluator. Candidate i of a batch goes to
// worker 1 + i mod (size-1); results are matched back by candidate ID.
// Each worker holds at most window unanswered candidates, so transport
// buffers never fill up whatever the batch size.
type Wrapper struct {
	comm     Communicator
	log      *slog.Logger
	callback func(ledger.Trial)
	now      func() time.Time
	window   int

	poison sync.Once
	closed error
}

// NewWrapper creates the master evaluator over comm, which must be rank 0
// of a group with at least one worker
func NewWrapper(comm Communicator, opts ...WrapperOption) (*Wrapper, error) {
	if comm == nil {
		return nil, errors.New("communicator is required")
	}
	if comm.Rank() != MasterRank {
		return nil, fmt.Errorf("wrapper must run on rank %d, got %d", MasterRank, comm.Rank())
	}
	if comm.Size() < 2 {
		return nil, fmt.Errorf("need at least one worker, group size is %d", comm.Size())
	}
	w := &Wrapper{comm: comm, now: time.Now, window: DefaultWindow}
	for _, opt := range opts {
		opt(w)
	}
	w.log = logger.Or(w.log)
	return w, nil
}

// Workers returns the number of worker ranks
func (w *Wrapper) Workers() int { return w.comm.Size() - 1 }

// Callback returns the per-trial callback
func (w *Wrapper) Callback() func(ledger.Trial) { return w.callback }

// EvaluateBatch scatters the batch and gathers exactly one result per
// candidate. Sends are issued in batch order and interleaved with receives:
// when the next candidate's worker is at its window the master waits for a
// result first. Start is the send time and End the receive time on the
// master.
func (w *Wrapper) EvaluateBatch(ctx context.Context, batch []*candidate.Candidate) ([]ledger.Outcome, error) {
	workers := w.Workers()
	index := make(map[string]int, len(batch))
	for i, c := range batch {
		if _, dup := index[c.ID()]; dup {
			return nil, fmt.Errorf("candidate %s appears twice in the batch", c.ID())
		}
		index[c.ID()] = i
	}

	out := make([]ledger.Outcome, len(batch))
	got := make([]bool, len(batch))
	sentAt := make([]time.Time, len(batch))
	pending := make([]int, workers+1)
	next := 0

	for received := 0; received < len(batch); {
		for next < len(batch) {
			to := 1 + next%workers
			if pending[to] >= w.window {
				break
			}
			c := batch[next]
			sentAt[next] = w.now()
			m := Message{Tag: TagCandidateOut, CandidateID: c.ID(), Names: c.Keys(), Values: c.Values()}
			if err := w.comm.Send(ctx, to, m); err != nil {
				return nil, &TransportError{Rank: to, Op: "send", Err: err}
			}
			pending[to]++
			next++
		}

		m, err := w.comm.Recv(ctx)
		if err != nil {
			return nil, &TransportError{Rank: m.Source, Op: "recv", Err: err}
		}
		if m.Tag != TagResultIn {
			return nil, &TransportError{Rank: m.Source, Op: "recv", Err: fmt.Errorf("unexpected %s message", m.Tag)}
		}
		i, ok := index[m.CandidateID]
		if !ok || i >= next || got[i] {
			return nil, &TransportError{Rank: m.Source, Op: "recv", Err: fmt.Errorf("unexpected result for candidate %s", m.CandidateID)}
		}
		got[i] = true
		pending[1+i%workers]--
		received++
		out[i] = outcomeOf(m, sentAt[i], w.now())
	}
	return out, nil
}

func outcomeOf(m Message, start, end time.Time) ledger.Outcome {
	out := ledger.Outcome{Loss: m.Loss, Err: m.Error, Start: start, End: end}
	if m.Status == string(ledger.StatusFailed) {
		if out.Err == "" {
			out.Err = "worker reported failure"
		}
		out.Loss = math.NaN()
	}
	return out
}

// Close sends poison to every worker exactly once and closes the
// communicator. Later calls return the first result.
func (w *Wrapper) Close(ctx context.Context) error {
	w.poison.Do(func() {
		var errs []error
		for rank := 1; rank < w.comm.Size(); rank++ {
			if err := w.comm.Send(ctx, rank, Message{Tag: TagCandidateOut, Poison: true}); err != nil {
				errs = append(errs, &TransportError{Rank: rank, Op: "poison", Err: err})
			}
		}
		w.log.Debug("poison sent", "workers", w.Workers(), "failed", len(errs))
		if err := w.comm.Close(); err != nil {
			errs = append(errs, err)
		}
		w.closed = errors.Join(errs...)
	})
	return w.closed
}
