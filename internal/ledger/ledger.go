// Package ledger is the append-only record of evaluated candidates.
package ledger

import (
	"fmt"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/GoSim-25-26J-441/hyperopt/internal/candidate"
	"github.com/GoSim-25-26J-441/hyperopt/pkg/utils"
)

// Status is the outcome class of a trial
type Status string

const (
	StatusOK     Status = "ok"
	StatusFailed Status = "failed"
)

// Trial is one completed evaluation. Trials are never mutated once appended.
type Trial struct {
	TID         int
	CandidateID string
	Params      *candidate.Candidate
	Loss        float64
	Status      Status
	Error       string
	BookTime    time.Time
	RefreshTime time.Time
}

// Duration is the time between booking and refresh
func (t Trial) Duration() time.Duration {
	return t.RefreshTime.Sub(t.BookTime)
}

// Outcome is what an evaluator reports for one candidate. Zero Start/End
// fall back to the booking time and the completion time.
type Outcome struct {
	Loss  float64
	Err   string
	Start time.Time
	End   time.Time
}

// Failed builds an outcome for a candidate that could not be evaluated
func Failed(msg string) Outcome {
	return Outcome{Loss: math.NaN(), Err: msg}
}

type pending struct {
	c      *candidate.Candidate
	booked time.Time
}

// Ledger assigns trial IDs and stores completed trials
type Ledger struct {
	mu       sync.RWMutex
	now      func() time.Time
	nextTID  int
	inflight map[int]pending
	trials   []Trial
}

// Option configures a Ledger
type Option func(*Ledger)

// WithClock replaces time.Now, mainly for tests
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// New creates an empty ledger
func New(opts ...Option) *Ledger {
	l := &Ledger{
		now:      time.Now,
		nextTID:  1,
		inflight: make(map[int]pending),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Begin books c and returns its trial ID. IDs increase strictly from 1.
func (l *Ledger) Begin(c *candidate.Candidate) (int, error) {
	if c == nil {
		return 0, fmt.Errorf("ledger: nil candidate")
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	tid := l.nextTID
	l.nextTID++
	l.inflight[tid] = pending{c: c, booked: l.now()}
	return tid, nil
}

// Complete appends the trial for tid. The status is ok only when no error was
// reported and the loss is finite; failed trials store NaN.
func (l *Ledger) Complete(tid int, out Outcome) (Trial, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	p, ok := l.inflight[tid]
	if !ok {
		return Trial{}, fmt.Errorf("ledger: trial %d is not in flight", tid)
	}
	delete(l.inflight, tid)

	book := p.booked
	if !out.Start.IsZero() && out.Start.After(book) {
		book = out.Start
	}
	refresh := out.End
	if refresh.IsZero() {
		refresh = l.now()
	}
	if refresh.Before(book) {
		refresh = book
	}

	tr := Trial{
		TID:         tid,
		CandidateID: p.c.ID(),
		Params:      p.c,
		Loss:        out.Loss,
		Status:      StatusOK,
		Error:       out.Err,
		BookTime:    book,
		RefreshTime: refresh,
	}
	if out.Err != "" || !utils.IsFinite(out.Loss) {
		tr.Status = StatusFailed
		tr.Loss = math.NaN()
		if tr.Error == "" {
			tr.Error = fmt.Sprintf("non-finite loss %v", out.Loss)
		}
	}

	// keep append order equal to TID order even if completions interleave
	i, _ := slices.BinarySearchFunc(l.trials, tid, func(t Trial, id int) int { return t.TID - id })
	l.trials = slices.Insert(l.trials, i, tr)
	return tr, nil
}

// Best returns the ok trial with the lowest loss, ties going to the lower TID
func (l *Ledger) Best() (Trial, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var (
		best  Trial
		found bool
	)
	for _, t := range l.trials {
		if t.Status != StatusOK {
			continue
		}
		if !found || t.Loss < best.Loss {
			best, found = t, true
		}
	}
	return best, found
}

// Len returns the number of completed trials
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.trials)
}

// OKCount returns the number of ok trials
func (l *Ledger) OKCount() int {
	return l.count(StatusOK)
}

// FailedCount returns the number of failed trials
func (l *Ledger) FailedCount() int {
	return l.count(StatusFailed)
}

func (l *Ledger) count(s Status) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := 0
	for _, t := range l.trials {
		if t.Status == s {
			n++
		}
	}
	return n
}

// InFlight returns the number of booked but not completed trials
func (l *Ledger) InFlight() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.inflight)
}

// History returns a copy of the completed trials ordered by TID
func (l *Ledger) History() []Trial {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return slices.Clone(l.trials)
}
