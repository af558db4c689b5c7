// Package objective holds the built-in benchmark black boxes the CLI and
// the end-to-end tests optimize.
package objective

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/GoSim-25-26J-441/hyperopt/internal/candidate"
)

// Objective is a black box with a name. Lower is better.
type Objective interface {
	Name() string
	Description() string
	Evaluate(ctx context.Context, data any, params *candidate.Candidate) (float64, error)
}

// Built-in objective names
const (
	NameSphere      = "sphere"
	NameRosenbrock  = "rosenbrock"
	NameRastrigin   = "rastrigin"
	NameAckley      = "ackley"
	NameLogDistance = "log_distance"
)

var builtins = map[string]func() Objective{
	NameSphere:      func() Objective { return &vectorObjective{name: NameSphere, desc: "sum of squares, minimum 0 at the origin", fn: sphere} },
	NameRosenbrock:  func() Objective { return &vectorObjective{name: NameRosenbrock, desc: "banana valley, minimum 0 at (1, ..., 1)", fn: rosenbrock, minDims: 2} },
	NameRastrigin:   func() Objective { return &vectorObjective{name: NameRastrigin, desc: "many local minima, global minimum 0 at the origin", fn: rastrigin} },
	NameAckley:      func() Objective { return &vectorObjective{name: NameAckley, desc: "flat outer region, minimum 0 at the origin", fn: ackley} },
	NameLogDistance: func() Objective { return &vectorObjective{name: NameLogDistance, desc: "|log10(v) + 2| summed, minimum 0 at 0.01", fn: logDistance} },
}

// New returns the built-in objective called name
func New(name string) (Objective, error) {
	f, ok := builtins[name]
	if !ok {
		return nil, &UnknownObjectiveError{Name: name}
	}
	return f(), nil
}

// Names lists the built-in objectives alphabetically
func Names() []string {
	names := make([]string, 0, len(builtins))
	for n := range builtins {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// vectorObjective reads every numeric parameter, in declaration order, as
// one coordinate. Strings and booleans are ignored.
type vectorObjective struct {
	name    string
	desc    string
	fn      func(x []float64) (float64, error)
	minDims int
}

func (o *vectorObjective) Name() string        { return o.name }
func (o *vectorObjective) Description() string { return o.desc }

func (o *vectorObjective) Evaluate(ctx context.Context, _ any, params *candidate.Candidate) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	x := Coordinates(params)
	if len(x) == 0 {
		return 0, &InvalidCandidateError{Objective: o.name, Reason: "no numeric parameters"}
	}
	if len(x) < o.minDims {
		return 0, &InvalidCandidateError{Objective: o.name, Reason: fmt.Sprintf("needs at least %d numeric parameters, got %d", o.minDims, len(x))}
	}
	return o.fn(x)
}

// Coordinates extracts the numeric values of params in declaration order
func Coordinates(params *candidate.Candidate) []float64 {
	if params == nil {
		return nil
	}
	var x []float64
	for _, v := range params.Values() {
		switch n := v.(type) {
		case int:
			x = append(x, float64(n))
		case float64:
			x = append(x, n)
		}
	}
	return x
}

func sphere(x []float64) (float64, error) {
	sum := 0.0
	for _, v := range x {
		sum += v * v
	}
	return sum, nil
}

func rosenbrock(x []float64) (float64, error) {
	sum := 0.0
	for i := 0; i < len(x)-1; i++ {
		a := x[i+1] - x[i]*x[i]
		b := 1 - x[i]
		sum += 100*a*a + b*b
	}
	return sum, nil
}

func rastrigin(x []float64) (float64, error) {
	sum := 10 * float64(len(x))
	for _, v := range x {
		sum += v*v - 10*math.Cos(2*math.Pi*v)
	}
	return sum, nil
}

func ackley(x []float64) (float64, error) {
	n := float64(len(x))
	sq, cs := 0.0, 0.0
	for _, v := range x {
		sq += v * v
		cs += math.Cos(2 * math.Pi * v)
	}
	return -20*math.Exp(-0.2*math.Sqrt(sq/n)) - math.Exp(cs/n) + 20 + math.E, nil
}

func logDistance(x []float64) (float64, error) {
	sum := 0.0
	for _, v := range x {
		if v <= 0 {
			return 0, fmt.Errorf("log_distance needs positive values, got %v", v)
		}
		sum += math.Abs(math.Log10(v) + 2)
	}
	return sum, nil
}
