package objective

import (
	"context"
	"errors"
	"fmt"

	"github.com/GoSim-25-26J-441/hyperopt/internal/candidate"
)

// ErrInjected is returned by Flaky for the calls it fails
var ErrInjected = errors.New("injected failure")

// Flaky fails a fixed fraction of candidates. Whether a candidate fails
// depends only on its parameters and seed, so the same point fails in every
// process and in every order.
func Flaky(o Objective, rate float64, seed uint64) (Objective, error) {
	if rate < 0 || rate > 1 {
		return nil, fmt.Errorf("failure rate must be in [0, 1], got %v", rate)
	}
	return &flaky{inner: o, rate: rate, seed: seed}, nil
}

type flaky struct {
	inner Objective
	rate  float64
	seed  uint64
}

func (f *flaky) Name() string { return f.inner.Name() }

func (f *flaky) Description() string {
	return fmt.Sprintf("%s, failing %.0f%% of points", f.inner.Description(), f.rate*100)
}

func (f *flaky) Evaluate(ctx context.Context, data any, params *candidate.Candidate) (float64, error) {
	if f.rate > 0 && unit(mix(params.Hash()^f.seed)) < f.rate {
		return 0, ErrInjected
	}
	return f.inner.Evaluate(ctx, data, params)
}

// mix is the splitmix64 finalizer
func mix(z uint64) uint64 {
	z += 0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

func unit(z uint64) float64 {
	return float64(z>>11) / (1 << 53)
}
