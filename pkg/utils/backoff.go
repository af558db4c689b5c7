package utils

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

// Backoff yields the wait before retry number attempt (0-indexed)
type Backoff interface {
	Delay(attempt int) time.Duration
}

// ConstantBackoff waits the same amount before every retry
type ConstantBackoff struct {
	Wait time.Duration
}

// Delay implements Backoff
func (c ConstantBackoff) Delay(int) time.Duration {
	return c.Wait
}

// LinearBackoff grows the wait by Base per attempt up to Max
type LinearBackoff struct {
	Base time.Duration
	Max  time.Duration
}

// Delay implements Backoff
func (l LinearBackoff) Delay(attempt int) time.Duration {
	return min(l.Base*time.Duration(attempt+1), l.Max)
}

// ExponentialBackoff multiplies the wait by Multiplier per attempt up to Max.
// With Jitter the result is scaled by a factor in [0.5, 1.5).
type ExponentialBackoff struct {
	Base       time.Duration
	Max        time.Duration
	Multiplier float64
	Jitter     bool
}

// Delay implements Backoff
func (e ExponentialBackoff) Delay(attempt int) time.Duration {
	mult := e.Multiplier
	if mult <= 0 {
		mult = 2
	}
	d := math.Min(float64(e.Base)*math.Pow(mult, float64(attempt)), float64(e.Max))
	if e.Jitter {
		d *= 0.5 + rand.Float64()
	}
	return time.Duration(d)
}

// ParseBackoff builds a backoff from its config name. An empty kind selects
// exponential with jitter; a zero max caps at 30s.
func ParseBackoff(kind string, base, max time.Duration) (Backoff, error) {
	if max <= 0 {
		max = 30 * time.Second
	}
	switch kind {
	case "constant":
		return ConstantBackoff{Wait: base}, nil
	case "linear":
		return LinearBackoff{Base: base, Max: max}, nil
	case "", "exponential":
		return ExponentialBackoff{Base: base, Max: max, Multiplier: 2, Jitter: true}, nil
	default:
		return nil, fmt.Errorf("unknown backoff %q", kind)
	}
}

// Retry calls fn up to attempts times, sleeping per b between failures. It
// stops early when ctx is done and returns the last error from fn.
func Retry(ctx context.Context, attempts int, b Backoff, fn func(attempt int) error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := range attempts {
		if err = fn(i); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		t := time.NewTimer(b.Delay(i))
		select {
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("%w (last error: %v)", ctx.Err(), err)
		case <-t.C:
		}
	}
	return err
}
