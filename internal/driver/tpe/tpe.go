// Package tpe implements a Tree-structured Parzen Estimator driver.
//
// After a random startup phase the observations are split at the gamma
// quantile of the loss into a "good" set and a "bad" set. Each dimension
// gets a Parzen density per set (Gaussian kernels in unit space plus a flat
// prior, smoothed frequencies for categories). Candidates are drawn from
// the good density and the one maximizing l(x)/g(x) is proposed.
package tpe

import (
	"fmt"
	"math"
	"sync"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/GoSim-25-26J-441/hyperopt/internal/driver"
	"github.com/GoSim-25-26J-441/hyperopt/pkg/utils"
)

const (
	minBandwidth = 0.02
	maxBandwidth = 1.0
)

// Config holds the estimator parameters
type Config struct {
	// StartupTrials are drawn uniformly before the model is used
	StartupTrials int
	// Gamma is the fraction of observations considered good
	Gamma float64
	// EICandidates is the number of draws scored per dimension
	EICandidates int
}

// DefaultConfig returns the usual TPE defaults
func DefaultConfig() Config {
	return Config{StartupTrials: 10, Gamma: 0.25, EICandidates: 24}
}

// Driver is a TPE optimizer
type Driver struct {
	mu   sync.Mutex
	dims []driver.Dim
	cfg  Config
	src  *utils.RandSource
	book *driver.Book
}

// New creates a TPE driver over dims
func New(dims []driver.Dim, cfg Config, src *utils.RandSource) (*Driver, error) {
	if err := driver.CheckDims(dims); err != nil {
		return nil, err
	}
	if cfg.Gamma <= 0 || cfg.Gamma >= 1 {
		return nil, fmt.Errorf("gamma must be in (0, 1), got %g", cfg.Gamma)
	}
	if cfg.EICandidates < 1 {
		return nil, fmt.Errorf("ei_candidates must be positive, got %d", cfg.EICandidates)
	}
	if cfg.StartupTrials < 1 {
		cfg.StartupTrials = 1
	}
	if src == nil {
		src = utils.NewRandSource(0)
	}
	return &Driver{dims: dims, cfg: cfg, src: src, book: driver.NewBook()}, nil
}

// Ask proposes n points. Points of one call do not see each other.
func (d *Driver) Ask(n int) ([]driver.Suggestion, error) {
	if n < 1 {
		return nil, fmt.Errorf("ask for at least one point, got %d", n)
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	obs := d.book.Observations()
	out := make([]driver.Suggestion, 0, n)
	for range n {
		var x []float64
		if len(obs) < d.cfg.StartupTrials {
			x = driver.SampleAll(d.src, d.dims)
		} else {
			x = d.propose(obs)
		}
		out = append(out, d.book.Issue(x))
	}
	return out, nil
}

// Tell records the loss of a pending suggestion
func (d *Driver) Tell(key string, loss float64) error {
	_, err := d.book.Resolve(key, loss)
	return err
}

// Observations returns everything told so far
func (d *Driver) Observations() []driver.Observation {
	return d.book.Observations()
}

func (d *Driver) propose(obs []driver.Observation) []float64 {
	driver.SortByLoss(obs)
	nBelow := utils.Clamp(int(math.Ceil(d.cfg.Gamma*float64(len(obs)))), 1, len(obs))
	below, above := obs[:nBelow], obs[nBelow:]

	x := make([]float64, len(d.dims))
	for j, dim := range d.dims {
		if dim.Categories > 0 {
			x[j] = d.proposeCategory(j, dim.Categories, below, above)
			continue
		}
		x[j] = dim.FromUnit(d.proposeNumeric(j, dim, below, above))
	}
	return x
}

func (d *Driver) proposeNumeric(j int, dim driver.Dim, below, above []driver.Observation) float64 {
	l := newParzen(column(j, dim, below), d.src)
	g := newParzen(column(j, dim, above), d.src)

	best, bestScore := 0.0, math.Inf(-1)
	for range d.cfg.EICandidates {
		u := l.sample(d.src)
		score := math.Log(l.density(u)) - math.Log(g.density(u))
		if score > bestScore {
			best, bestScore = u, score
		}
	}
	return best
}

func (d *Driver) proposeCategory(j, categories int, below, above []driver.Observation) float64 {
	wl := frequencies(j, categories, below)
	wg := frequencies(j, categories, above)
	draw := distuv.NewCategorical(wl, d.src)

	best, bestScore := 0, math.Inf(-1)
	for range d.cfg.EICandidates {
		c := int(draw.Rand())
		score := math.Log(wl[c]) - math.Log(wg[c])
		if score > bestScore {
			best, bestScore = c, score
		}
	}
	return float64(best)
}

func column(j int, dim driver.Dim, obs []driver.Observation) []float64 {
	out := make([]float64, len(obs))
	for i, o := range obs {
		out[i] = dim.Unit(o.X[j])
	}
	return out
}

// frequencies returns add-one smoothed category probabilities
func frequencies(j, categories int, obs []driver.Observation) []float64 {
	w := make([]float64, categories)
	for i := range w {
		w[i] = 1
	}
	for _, o := range obs {
		w[int(o.X[j])]++
	}
	total := float64(categories + len(obs))
	for i := range w {
		w[i] /= total
	}
	return w
}

// parzen is a mixture of Gaussian kernels and a flat prior on [0, 1]
type parzen struct {
	kernels []distuv.Normal
}

func newParzen(points []float64, src *utils.RandSource) parzen {
	bw := bandwidth(points)
	p := parzen{kernels: make([]distuv.Normal, len(points))}
	for i, mu := range points {
		p.kernels[i] = distuv.Normal{Mu: mu, Sigma: bw, Src: src}
	}
	return p
}

// bandwidth follows Silverman's rule of thumb
func bandwidth(points []float64) float64 {
	if len(points) < 2 {
		return 0.25
	}
	sd := stat.StdDev(points, nil)
	bw := 1.06 * sd * math.Pow(float64(len(points)), -0.2)
	return utils.Clamp(bw, minBandwidth, maxBandwidth)
}

func (p parzen) density(u float64) float64 {
	sum := 1.0
	for _, k := range p.kernels {
		sum += k.Prob(u)
	}
	return sum / float64(len(p.kernels)+1)
}

func (p parzen) sample(src *utils.RandSource) float64 {
	k := src.IntN(len(p.kernels) + 1)
	if k == len(p.kernels) {
		return src.Float64()
	}
	return utils.Clamp(p.kernels[k].Rand(), 0, 1)
}
