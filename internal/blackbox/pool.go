package blackbox

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/GoSim-25-26J-441/hyperopt/internal/candidate"
	"github.com/GoSim-25-26J-441/hyperopt/internal/ledger"
)

// LocalPool evaluates a batch concurrently in process. Candidates start in
// batch order, at most workers at a time, and outcomes come back in batch
// order.
type LocalPool struct {
	bb      *Blackbox
	workers int
}

// NewLocalPool wraps bb. workers <= 0 uses one worker per CPU.
func NewLocalPool(bb *Blackbox, workers int) *LocalPool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &LocalPool{bb: bb, workers: workers}
}

// Workers returns the concurrency limit
func (p *LocalPool) Workers() int { return p.workers }

// Setup prepares the shared black box
func (p *LocalPool) Setup(ctx context.Context, settings map[string]any) error {
	return p.bb.Setup(ctx, settings)
}

// Callback returns the black box callback
func (p *LocalPool) Callback() func(ledger.Trial) { return p.bb.Callback() }

func (p *LocalPool) EvaluateBatch(ctx context.Context, batch []*candidate.Candidate) ([]ledger.Outcome, error) {
	out := make([]ledger.Outcome, len(batch))
	var g errgroup.Group
	g.SetLimit(p.workers)

	// each goroutine stamps its start before the next one is launched, so
	// book times follow batch order
	started := make(chan struct{})
	for i, c := range batch {
		if err := ctx.Err(); err != nil {
			out[i] = cancelled(err, p.bb.now())
			continue
		}
		g.Go(func() error {
			start := p.bb.now()
			started <- struct{}{}
			if err := ctx.Err(); err != nil {
				out[i] = cancelled(err, start)
				return nil
			}
			out[i] = p.bb.evaluateAt(ctx, c, start)
			return nil
		})
		<-started
	}
	return out, g.Wait()
}

// Close releases nothing
func (p *LocalPool) Close(context.Context) error { return nil }
