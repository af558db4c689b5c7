// Package gp implements a Gaussian-process surrogate driver.
package gp

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/GoSim-25-26J-441/hyperopt/internal/driver"
	"github.com/GoSim-25-26J-441/hyperopt/pkg/utils"
)

const (
	minVariance  = 1e-12
	jitterTries  = 6
	localShare   = 4 // one in localShare candidates perturbs the incumbent
	localSpread  = 0.1
	failedMargin = 1.0
)

// Config holds the surrogate parameters
type Config struct {
	// InitialSamples are drawn uniformly before the model is fitted
	InitialSamples int
	// Candidates is the number of random points scored per suggestion
	Candidates  int
	Acquisition string
	Beta        float64
	Xi          float64
	// LengthScale of the RBF kernel in unit space
	LengthScale float64
	// Noise is added to the kernel diagonal
	Noise float64
}

// DefaultConfig returns the usual surrogate defaults
func DefaultConfig() Config {
	return Config{
		InitialSamples: 5,
		Candidates:     256,
		Acquisition:    AcquisitionEI,
		Beta:           2.0,
		Xi:             0.01,
		LengthScale:    0.25,
		Noise:          1e-6,
	}
}

// Driver is a Bayesian optimizer with a GP surrogate
type Driver struct {
	mu   sync.Mutex
	dims []driver.Dim
	cfg  Config
	acq  Acquisition
	src  *utils.RandSource
	book *driver.Book
}

// New creates a GP driver over dims
func New(dims []driver.Dim, cfg Config, src *utils.RandSource) (*Driver, error) {
	if err := driver.CheckDims(dims); err != nil {
		return nil, err
	}
	acq, err := ParseAcquisition(cfg.Acquisition)
	if err != nil {
		return nil, err
	}
	if cfg.LengthScale <= 0 {
		return nil, fmt.Errorf("length_scale must be positive, got %g", cfg.LengthScale)
	}
	if cfg.Candidates < 1 {
		return nil, fmt.Errorf("candidates must be positive, got %d", cfg.Candidates)
	}
	if cfg.Noise < 0 {
		return nil, fmt.Errorf("noise must not be negative, got %g", cfg.Noise)
	}
	if src == nil {
		src = utils.NewRandSource(0)
	}
	return &Driver{dims: dims, cfg: cfg, acq: acq, src: src, book: driver.NewBook()}, nil
}

// Ask proposes n points. Points chosen earlier in the same call are added
// to the model at their predicted mean so the batch spreads out.
func (d *Driver) Ask(n int) ([]driver.Suggestion, error) {
	if n < 1 {
		return nil, fmt.Errorf("ask for at least one point, got %d", n)
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	xs, ys := d.training()
	out := make([]driver.Suggestion, 0, n)
	for range n {
		var x []float64
		if d.book.Told()+d.book.Pending() < d.cfg.InitialSamples || len(xs) == 0 {
			x = driver.SampleAll(d.src, d.dims)
		} else {
			m, err := fit(xs, ys, d.cfg.LengthScale, d.cfg.Noise)
			if err != nil {
				return nil, err
			}
			var mean float64
			x, mean = d.choose(m, xs, ys)
			xs = append(xs, d.unit(x))
			ys = append(ys, mean)
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

// training returns unit-space inputs and standardized losses. Failed
// points are kept at a loss worse than any success so the model avoids
// them.
func (d *Driver) training() ([][]float64, []float64) {
	obs := d.book.Observations()
	var finite []float64
	for _, o := range obs {
		if utils.IsFinite(o.Loss) {
			finite = append(finite, o.Loss)
		}
	}
	if len(finite) == 0 {
		return nil, nil
	}
	worst := floats.Max(finite)
	mean, sd := stat.MeanStdDev(finite, nil)
	if !(sd > 0) {
		sd = 1
	}

	xs := make([][]float64, len(obs))
	ys := make([]float64, len(obs))
	for i, o := range obs {
		loss := o.Loss
		if !utils.IsFinite(loss) {
			loss = worst + failedMargin*sd
		}
		xs[i] = d.unit(o.X)
		ys[i] = (loss - mean) / sd
	}
	return xs, ys
}

func (d *Driver) unit(x []float64) []float64 {
	u := make([]float64, len(x))
	for i, dim := range d.dims {
		u[i] = dim.Unit(x[i])
	}
	return u
}

// choose scores random and local candidates and returns the most promising
// one with its predicted mean
func (d *Driver) choose(m *model, xs [][]float64, ys []float64) ([]float64, float64) {
	bestIdx := floats.MinIdx(ys)
	params := AcquisitionParams{Beta: d.cfg.Beta, Xi: d.cfg.Xi, BestSoFar: ys[bestIdx], Src: d.src}
	incumbent := xs[bestIdx]

	var bestX []float64
	bestScore, bestMean := math.Inf(1), 0.0
	for i := range d.cfg.Candidates {
		var x []float64
		if i%localShare == localShare-1 {
			x = d.perturb(incumbent)
		} else {
			x = driver.SampleAll(d.src, d.dims)
		}
		mean, variance := m.predict(d.unit(x))
		score := d.acq(mean, variance, params)
		if bestX == nil || score < bestScore {
			bestX, bestScore, bestMean = x, score, mean
		}
	}
	return bestX, bestMean
}

func (d *Driver) perturb(u []float64) []float64 {
	x := make([]float64, len(u))
	for i, dim := range d.dims {
		x[i] = dim.FromUnit(d.src.NormFloat64(u[i], localSpread))
	}
	return x
}

// model is a fitted GP with an RBF kernel
type model struct {
	xs    [][]float64
	chol  mat.Cholesky
	alpha *mat.VecDense
	scale float64
}

func rbf(a, b []float64, scale float64) float64 {
	dist := floats.Distance(a, b, 2)
	return math.Exp(-dist * dist / (2 * scale * scale))
}

func fit(xs [][]float64, ys []float64, scale, noise float64) (*model, error) {
	n := len(xs)
	k := mat.NewSymDense(n, nil)
	for i := range n {
		for j := i; j < n; j++ {
			k.SetSym(i, j, rbf(xs[i], xs[j], scale))
		}
	}

	m := &model{xs: xs, scale: scale}
	jitter := noise
	for try := 0; ; try++ {
		kn := mat.NewSymDense(n, nil)
		kn.CopySym(k)
		for i := range n {
			kn.SetSym(i, i, k.At(i, i)+jitter)
		}
		if m.chol.Factorize(kn) {
			break
		}
		if try == jitterTries {
			return nil, errors.New("kernel matrix is not positive definite")
		}
		jitter = math.Max(jitter*10, 1e-8)
	}

	m.alpha = mat.NewVecDense(n, nil)
	if err := m.chol.SolveVecTo(m.alpha, mat.NewVecDense(n, append([]float64(nil), ys...))); err != nil {
		return nil, fmt.Errorf("failed to solve GP system: %w", err)
	}
	return m, nil
}

func (m *model) predict(u []float64) (float64, float64) {
	n := len(m.xs)
	ks := mat.NewVecDense(n, nil)
	for i, x := range m.xs {
		ks.SetVec(i, rbf(u, x, m.scale))
	}
	mean := mat.Dot(ks, m.alpha)

	v := mat.NewVecDense(n, nil)
	if err := m.chol.SolveVecTo(v, ks); err != nil {
		return mean, 1
	}
	variance := 1 - mat.Dot(ks, v)
	return mean, math.Max(variance, minVariance)
}
