// Package pso implements a particle swarm driver.
//
// Ask hands out the particles of the current generation. Once every particle
// of the generation has been told, velocities and positions are updated
// with the standard inertia/cognitive/social rule and the next generation
// becomes available.
package pso

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/GoSim-25-26J-441/hyperopt/internal/driver"
	"github.com/GoSim-25-26J-441/hyperopt/pkg/utils"
)

// ErrGenerationPending is returned by Ask when every particle of the current
// generation is out and not all have been told yet
var ErrGenerationPending = errors.New("current generation is still being evaluated")

const (
	initialVelocity = 0.1
	maxVelocity     = 0.5
)

// Config holds the swarm coefficients
type Config struct {
	Population int
	Inertia    float64
	Cognitive  float64
	Social     float64
}

// DefaultConfig returns the constriction coefficients of Clerc and Kennedy
func DefaultConfig() Config {
	return Config{Population: 10, Inertia: 0.7298, Cognitive: 1.49618, Social: 1.49618}
}

// Particle is one member of the swarm
type Particle struct {
	Pos       []float64
	Vel       []float64
	BestPos   []float64
	Objective float64
	Best      float64
}

// Driver is a particle swarm optimizer
type Driver struct {
	mu        sync.Mutex
	dims      []driver.Dim
	cfg       Config
	src       *utils.RandSource
	book      *driver.Book
	particles []Particle
	keys      map[string]int

	gbest      []float64
	gbestLoss  float64
	generation int
	issued     int
	told       int
}

// New creates a swarm over dims with random initial positions
func New(dims []driver.Dim, cfg Config, src *utils.RandSource) (*Driver, error) {
	if err := driver.CheckDims(dims); err != nil {
		return nil, err
	}
	if cfg.Population < 1 {
		return nil, fmt.Errorf("population_size must be positive, got %d", cfg.Population)
	}
	if src == nil {
		src = utils.NewRandSource(0)
	}
	d := &Driver{
		dims:      dims,
		cfg:       cfg,
		src:       src,
		book:      driver.NewBook(),
		keys:      make(map[string]int),
		gbestLoss: math.Inf(1),
	}
	d.particles = make([]Particle, cfg.Population)
	for i := range d.particles {
		p := Particle{
			Pos:       make([]float64, len(dims)),
			Vel:       make([]float64, len(dims)),
			Objective: math.Inf(1),
			Best:      math.Inf(1),
		}
		for j, dim := range dims {
			lo, hi := dim.Bounds()
			span := hi - lo
			p.Pos[j] = src.UniformFloat64(lo, hi)
			p.Vel[j] = src.UniformFloat64(-initialVelocity*span, initialVelocity*span)
		}
		p.BestPos = append([]float64(nil), p.Pos...)
		d.particles[i] = p
	}
	return d, nil
}

// Ask returns up to n particles of the current generation that have not
// been handed out yet
func (d *Driver) Ask(n int) ([]driver.Suggestion, error) {
	if n < 1 {
		return nil, fmt.Errorf("ask for at least one point, got %d", n)
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.issued == len(d.particles) {
		return nil, ErrGenerationPending
	}
	var out []driver.Suggestion
	for ; n > 0 && d.issued < len(d.particles); n-- {
		p := d.particles[d.issued]
		x := make([]float64, len(d.dims))
		for j, dim := range d.dims {
			x[j] = dim.Snap(p.Pos[j])
		}
		s := d.book.Issue(x)
		d.keys[s.Key] = d.issued
		d.issued++
		out = append(out, s)
	}
	return out, nil
}

// Tell records a particle's loss and advances the swarm once the whole
// generation is in
func (d *Driver) Tell(key string, loss float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	idx, ok := d.keys[key]
	if !ok {
		return fmt.Errorf("%w: %q", driver.ErrUnknownKey, key)
	}
	o, err := d.book.Resolve(key, loss)
	if err != nil {
		return err
	}
	delete(d.keys, key)

	p := &d.particles[idx]
	p.Objective = o.Loss
	if o.Loss < p.Best {
		p.Best = o.Loss
		copy(p.BestPos, p.Pos)
	}
	if o.Loss < d.gbestLoss {
		d.gbestLoss = o.Loss
		d.gbest = append(d.gbest[:0], p.Pos...)
	}

	d.told++
	if d.told == len(d.particles) {
		d.advance()
	}
	return nil
}

// Generation returns the number of completed generations
func (d *Driver) Generation() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.generation
}

// Best returns the best position seen and its loss
func (d *Driver) Best() ([]float64, float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]float64(nil), d.gbest...), d.gbestLoss
}

func (d *Driver) advance() {
	d.generation++
	d.issued, d.told = 0, 0
	if d.gbest == nil {
		// every particle failed, keep exploring from where they are
		return
	}

	for i := range d.particles {
		p := &d.particles[i]
		for j, dim := range d.dims {
			lo, hi := dim.Bounds()
			vmax := maxVelocity * (hi - lo)

			r1, r2 := d.src.Float64(), d.src.Float64()
			v := d.cfg.Inertia*p.Vel[j] +
				d.cfg.Cognitive*r1*(p.BestPos[j]-p.Pos[j]) +
				d.cfg.Social*r2*(d.gbest[j]-p.Pos[j])
			v = utils.Clamp(v, -vmax, vmax)

			x := p.Pos[j] + v
			if x < lo || x > hi {
				x = utils.Clamp(x, lo, hi)
				v = 0
			}
			p.Pos[j], p.Vel[j] = x, v
		}
	}
}
