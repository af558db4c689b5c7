// Package sampling draws hyperparameter values for each domain and builds the
// deterministic point sets used by grid and quasi-random search.
package sampling

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/GoSim-25-26J-441/hyperopt/internal/space"
	"github.com/GoSim-25-26J-441/hyperopt/pkg/utils"
)

// sigmas is the width of [lo, hi] in standard deviations for the normal domain
const sigmas = 6.0

// DomainError reports bounds or a domain that cannot be sampled
type DomainError struct {
	Param  string
	Reason string
}

func (e *DomainError) Error() string {
	if e.Param == "" {
		return "sampling: " + e.Reason
	}
	return fmt.Sprintf("sampling %q: %s", e.Param, e.Reason)
}

func checkRange(lo, hi float64) error {
	if !utils.IsFinite(lo) || !utils.IsFinite(hi) || lo >= hi {
		return &DomainError{Reason: fmt.Sprintf("invalid bounds [%v, %v]", lo, hi)}
	}
	return nil
}

// Cast clamps x into [lo, hi] and converts it to kind. Integers are rounded
// half away from zero and kept inside the integral part of the range.
func Cast(kind space.Kind, x, lo, hi float64) any {
	if math.IsNaN(x) {
		x = lo
	}
	x = utils.Clamp(x, lo, hi)
	if kind == space.KindInteger {
		return utils.Clamp(utils.RoundInt(x), int(math.Ceil(lo)), int(math.Floor(hi)))
	}
	return x
}

// Uniform draws x ~ U(lo, hi)
func Uniform(src *utils.RandSource, lo, hi float64, kind space.Kind) (any, error) {
	if err := checkRange(lo, hi); err != nil {
		return nil, err
	}
	return Cast(kind, src.UniformFloat64(lo, hi), lo, hi), nil
}

// Normal draws from N((lo+hi)/2, (hi-lo)/6) and clamps into [lo, hi]
func Normal(src *utils.RandSource, lo, hi float64, kind space.Kind) (any, error) {
	if err := checkRange(lo, hi); err != nil {
		return nil, err
	}
	d := distuv.Normal{Mu: (lo + hi) / 2, Sigma: (hi - lo) / sigmas, Src: src}
	return Cast(kind, d.Rand(), lo, hi), nil
}

// LogUniform draws exp(u) with u ~ U(ln lo, ln hi)
func LogUniform(src *utils.RandSource, lo, hi float64, kind space.Kind) (any, error) {
	if err := checkRange(lo, hi); err != nil {
		return nil, err
	}
	if lo <= 0 {
		return nil, &DomainError{Reason: fmt.Sprintf("loguniform requires lo > 0, got %v", lo)}
	}
	u := src.UniformFloat64(math.Log(lo), math.Log(hi))
	return Cast(kind, math.Exp(u), lo, hi), nil
}

// Categorical picks one of choices uniformly
func Categorical(src *utils.RandSource, choices []any) (any, error) {
	if len(choices) == 0 {
		return nil, &DomainError{Reason: "categorical list is empty"}
	}
	return choices[src.IntN(len(choices))], nil
}

// Sample draws one value for hp
func Sample(src *utils.RandSource, hp space.Hyperparameter) (any, error) {
	var (
		v   any
		err error
	)
	switch hp.Domain {
	case space.DomainUniform:
		v, err = Uniform(src, hp.Lo, hp.Hi, hp.Kind)
	case space.DomainNormal:
		v, err = Normal(src, hp.Lo, hp.Hi, hp.Kind)
	case space.DomainLogUniform:
		v, err = LogUniform(src, hp.Lo, hp.Hi, hp.Kind)
	case space.DomainCategorical:
		v, err = Categorical(src, hp.Choices)
	default:
		err = &DomainError{Reason: fmt.Sprintf("unknown domain %v", hp.Domain)}
	}
	return v, withParam(err, hp.Name)
}

// Scale maps a unit coordinate u in [0, 1) into hp's domain: linearly for
// uniform, in log space for loguniform, through the inverse normal CDF for
// normal. Categorical axes index into the choices.
func Scale(hp space.Hyperparameter, u float64) (any, error) {
	u = utils.Clamp(u, 0, math.Nextafter(1, 0))
	switch hp.Domain {
	case space.DomainUniform:
		return Cast(hp.Kind, hp.Lo+u*(hp.Hi-hp.Lo), hp.Lo, hp.Hi), nil
	case space.DomainLogUniform:
		if hp.Lo <= 0 {
			return nil, &DomainError{Param: hp.Name, Reason: "loguniform requires lo > 0"}
		}
		lo, hi := math.Log(hp.Lo), math.Log(hp.Hi)
		return Cast(hp.Kind, math.Exp(lo+u*(hi-lo)), hp.Lo, hp.Hi), nil
	case space.DomainNormal:
		if u == 0 {
			return Cast(hp.Kind, hp.Lo, hp.Lo, hp.Hi), nil
		}
		return Cast(hp.Kind, normalAt(hp.Lo, hp.Hi, u), hp.Lo, hp.Hi), nil
	case space.DomainCategorical:
		if len(hp.Choices) == 0 {
			return nil, &DomainError{Param: hp.Name, Reason: "categorical list is empty"}
		}
		return hp.Choices[int(u*float64(len(hp.Choices)))], nil
	default:
		return nil, &DomainError{Param: hp.Name, Reason: fmt.Sprintf("unknown domain %v", hp.Domain)}
	}
}

// normalAt maps quantile p through the 6-sigma normal over [lo, hi]
func normalAt(lo, hi, p float64) float64 {
	mu, sigma := (lo+hi)/2, (hi-lo)/sigmas
	return mu + sigma*distuv.UnitNormal.Quantile(p)
}

func withParam(err error, name string) error {
	if de, ok := err.(*DomainError); ok && de.Param == "" {
		return &DomainError{Param: name, Reason: de.Reason}
	}
	return err
}
