// Package blackbox wraps a user objective into an evaluator the solver can
// drive. It loads data once per run, times every call and turns errors,
// panics and non-finite losses into failed outcomes.
package blackbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/GoSim-25-26J-441/hyperopt/internal/candidate"
	"github.com/GoSim-25-26J-441/hyperopt/internal/ledger"
	"github.com/GoSim-25-26J-441/hyperopt/pkg/logger"
	"github.com/GoSim-25-26J-441/hyperopt/pkg/utils"
)

// Func is the objective. data is whatever the loader and preprocess steps
// produced, or nil when there is no loader.
type Func func(ctx context.Context, data any, params *candidate.Candidate) (float64, error)

// DataLoader produces the dataset once per run
type DataLoader func(ctx context.Context, settings map[string]any) (any, error)

// Preprocess transforms the loaded data. A nil result keeps the original.
type Preprocess func(ctx context.Context, data any, settings map[string]any) (any, error)

// Option configures a Blackbox
type Option func(*Blackbox)

// WithDataLoader sets the data loader
func WithDataLoader(fn DataLoader) Option {
	return func(b *Blackbox) { b.loader = fn }
}

// WithPreprocess sets the preprocessing step
func WithPreprocess(fn Preprocess) Option {
	return func(b *Blackbox) { b.preprocess = fn }
}

// WithCallback sets a function called with every completed trial
func WithCallback(fn func(ledger.Trial)) Option {
	return func(b *Blackbox) { b.callback = fn }
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(b *Blackbox) { b.log = l }
}

// withClock replaces time.Now in tests
func withClock(now func() time.Time) Option {
	return func(b *Blackbox) { b.now = now }
}

// Blackbox evaluates candidates one at a time
type Blackbox struct {
	fn         Func
	loader     DataLoader
	preprocess Preprocess
	callback   func(ledger.Trial)
	log        *slog.Logger
	now        func() time.Time
	data       any
}

// New wraps fn
func New(fn Func, opts ...Option) (*Blackbox, error) {
	if fn == nil {
		return nil, errors.New("objective function is required")
	}
	b := &Blackbox{fn: fn, now: time.Now}
	for _, opt := range opts {
		opt(b)
	}
	b.log = logger.Or(b.log)
	return b, nil
}

// Setup runs the data loader and preprocess steps
func (b *Blackbox) Setup(ctx context.Context, settings map[string]any) error {
	if b.loader == nil {
		return nil
	}
	data, err := b.loader(ctx, settings)
	if err != nil {
		return fmt.Errorf("data loader: %w", err)
	}
	if b.preprocess != nil {
		out, err := b.preprocess(ctx, data, settings)
		if err != nil {
			return fmt.Errorf("preprocess: %w", err)
		}
		if out != nil {
			data = out
		}
	}
	b.data = data
	b.log.Debug("black box data ready", "type", fmt.Sprintf("%T", data))
	return nil
}

// Data returns the prepared dataset
func (b *Blackbox) Data() any { return b.data }

// Callback returns the per-trial callback, if any
func (b *Blackbox) Callback() func(ledger.Trial) { return b.callback }

// Evaluate runs the objective for c
func (b *Blackbox) Evaluate(ctx context.Context, c *candidate.Candidate) ledger.Outcome {
	return b.evaluateAt(ctx, c, b.now())
}

func (b *Blackbox) evaluateAt(ctx context.Context, c *candidate.Candidate, start time.Time) ledger.Outcome {
	loss, err := b.call(ctx, c)
	end := b.now()

	var out ledger.Outcome
	switch {
	case err != nil:
		out = ledger.Failed(err.Error())
	case !utils.IsFinite(loss):
		out = ledger.Failed(fmt.Sprintf("objective returned non-finite loss %v", loss))
	default:
		out = ledger.Outcome{Loss: loss}
	}
	out.Start, out.End = start, end
	return out
}

func (b *Blackbox) call(ctx context.Context, c *candidate.Candidate) (loss float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Debug("objective panicked", "candidate_id", c.ID(), "stack", string(debug.Stack()))
			err = fmt.Errorf("objective panicked: %v", r)
		}
	}()
	return b.fn(ctx, b.data, c)
}

// EvaluateBatch evaluates the batch in order on the calling goroutine.
// Candidates not started before ctx is done are reported as failed.
func (b *Blackbox) EvaluateBatch(ctx context.Context, batch []*candidate.Candidate) ([]ledger.Outcome, error) {
	out := make([]ledger.Outcome, len(batch))
	for i, c := range batch {
		if err := ctx.Err(); err != nil {
			out[i] = cancelled(err, b.now())
			continue
		}
		out[i] = b.Evaluate(ctx, c)
	}
	return out, nil
}

// Close releases nothing; it exists to satisfy the evaluator contract
func (b *Blackbox) Close(context.Context) error { return nil }

func cancelled(err error, at time.Time) ledger.Outcome {
	out := ledger.Failed("not evaluated: " + err.Error())
	out.Start, out.End = at, at
	return out
}
