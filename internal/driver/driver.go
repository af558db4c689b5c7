// Package driver defines the ask/tell contract for model-based optimizers
// and the bookkeeping they share. Drivers work on plain float vectors; the
// strategy adapter translates between candidates and vectors.
package driver

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"sync"

	"github.com/GoSim-25-26J-441/hyperopt/pkg/utils"
)

// ErrUnknownKey is returned by Tell for a key that is not pending
var ErrUnknownKey = errors.New("unknown suggestion key")

// Driver proposes points and learns from their losses. Lower is better.
type Driver interface {
	Ask(n int) ([]Suggestion, error)
	Tell(key string, loss float64) error
}

// Suggestion is one proposed point
type Suggestion struct {
	Key string
	X   []float64
}

// Dim describes one coordinate. Categories > 0 makes it an index
// dimension with values 0..Categories-1 and Lo/Hi are ignored.
type Dim struct {
	Lo, Hi     float64
	Integral   bool
	Categories int
}

// Bounds returns the continuous range a driver may move in
func (d Dim) Bounds() (float64, float64) {
	if d.Categories > 0 {
		return 0, float64(d.Categories)
	}
	return d.Lo, d.Hi
}

// Snap maps a continuous coordinate onto a valid value
func (d Dim) Snap(v float64) float64 {
	if d.Categories > 0 {
		return float64(utils.Clamp(int(math.Floor(v)), 0, d.Categories-1))
	}
	v = utils.Clamp(v, d.Lo, d.Hi)
	if d.Integral {
		v = utils.Clamp(math.Round(v), math.Ceil(d.Lo), math.Floor(d.Hi))
	}
	return v
}

// Unit maps a value into [0, 1]
func (d Dim) Unit(v float64) float64 {
	if d.Categories > 0 {
		return (v + 0.5) / float64(d.Categories)
	}
	return (v - d.Lo) / (d.Hi - d.Lo)
}

// FromUnit maps u in [0, 1] back onto a snapped value
func (d Dim) FromUnit(u float64) float64 {
	lo, hi := d.Bounds()
	return d.Snap(lo + utils.Clamp(u, 0, 1)*(hi-lo))
}

// Sample draws a uniform point of the dimension
func (d Dim) Sample(src *utils.RandSource) float64 {
	if d.Categories > 0 {
		return float64(src.IntN(d.Categories))
	}
	return d.FromUnit(src.Float64())
}

// CheckDims rejects empty or malformed dimension lists
func CheckDims(dims []Dim) error {
	if len(dims) == 0 {
		return fmt.Errorf("at least one dimension is required")
	}
	var errs []error
	for i, d := range dims {
		switch {
		case d.Categories < 0:
			errs = append(errs, fmt.Errorf("dim %d: negative category count", i))
		case d.Categories > 0:
		case math.IsNaN(d.Lo) || math.IsNaN(d.Hi) || math.IsInf(d.Lo, 0) || math.IsInf(d.Hi, 0):
			errs = append(errs, fmt.Errorf("dim %d: bounds must be finite", i))
		case d.Lo >= d.Hi:
			errs = append(errs, fmt.Errorf("dim %d: lo %g must be below hi %g", i, d.Lo, d.Hi))
		}
	}
	return errors.Join(errs...)
}

// SampleAll draws one uniform point over dims
func SampleAll(src *utils.RandSource, dims []Dim) []float64 {
	x := make([]float64, len(dims))
	for i, d := range dims {
		x[i] = d.Sample(src)
	}
	return x
}

// Observation is a told point
type Observation struct {
	X    []float64
	Loss float64
}

// Book tracks pending suggestions and completed observations
type Book struct {
	mu      sync.Mutex
	next    int
	pending map[string][]float64
	history []Observation
}

// NewBook creates an empty book
func NewBook() *Book {
	return &Book{pending: make(map[string][]float64)}
}

// Issue registers x as pending and returns its suggestion
func (b *Book) Issue(x []float64) Suggestion {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	key := strconv.Itoa(b.next)
	b.pending[key] = x
	return Suggestion{Key: key, X: append([]float64(nil), x...)}
}

// Resolve moves a pending suggestion into the history. NaN losses are
// stored as +Inf.
func (b *Book) Resolve(key string, loss float64) (Observation, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	x, ok := b.pending[key]
	if !ok {
		return Observation{}, fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}
	delete(b.pending, key)
	if math.IsNaN(loss) {
		loss = math.Inf(1)
	}
	o := Observation{X: x, Loss: loss}
	b.history = append(b.history, o)
	return o, nil
}

// Observations returns a copy of the history
func (b *Book) Observations() []Observation {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Observation(nil), b.history...)
}

// Pending returns the number of outstanding suggestions
func (b *Book) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Told returns the number of observations
func (b *Book) Told() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.history)
}

// SortByLoss orders observations best first, keeping tell order on ties
func SortByLoss(obs []Observation) {
	sort.SliceStable(obs, func(i, j int) bool { return obs[i].Loss < obs[j].Loss })
}
