package sampling

import (
	"fmt"
	"math"

	"github.com/GoSim-25-26J-441/hyperopt/internal/space"
	"github.com/GoSim-25-26J-441/hyperopt/pkg/utils"
)

// UniformGrid returns n equally spaced points including both endpoints
func UniformGrid(lo, hi float64, n int) ([]float64, error) {
	if err := checkGrid(lo, hi, n); err != nil {
		return nil, err
	}
	return utils.Linspace(lo, hi, n), nil
}

// NormalGrid places n points at the standard normal quantiles (i+1)/(n+1),
// mapped into [lo, hi] with the 6-sigma convention
func NormalGrid(lo, hi float64, n int) ([]float64, error) {
	if err := checkGrid(lo, hi, n); err != nil {
		return nil, err
	}
	out := make([]float64, n)
	for i := range out {
		p := float64(i+1) / float64(n+1)
		out[i] = utils.Clamp(normalAt(lo, hi, p), lo, hi)
	}
	return out, nil
}

// LogUniformGrid returns n points equally spaced in log10 space
func LogUniformGrid(lo, hi float64, n int) ([]float64, error) {
	if err := checkGrid(lo, hi, n); err != nil {
		return nil, err
	}
	if lo <= 0 {
		return nil, &DomainError{Reason: fmt.Sprintf("loguniform requires lo > 0, got %v", lo)}
	}
	exps := utils.Linspace(math.Log10(lo), math.Log10(hi), n)
	out := make([]float64, n)
	for i, e := range exps {
		// decade grids land on exact powers of ten
		if r := math.Round(e); math.Abs(e-r) < 1e-9 {
			e = r
		}
		out[i] = utils.Clamp(math.Pow(10, e), lo, hi)
	}
	return out, nil
}

func checkGrid(lo, hi float64, n int) error {
	if n < 1 {
		return &DomainError{Reason: fmt.Sprintf("grid needs at least one point, got %d", n)}
	}
	return checkRange(lo, hi)
}

// Grid returns the axis values for hp with n points. Categorical axes yield
// their choices verbatim; integer axes are rounded and deduplicated, so they
// may hold fewer than n values.
func Grid(hp space.Hyperparameter, n int) ([]any, error) {
	var (
		pts []float64
		err error
	)
	switch hp.Domain {
	case space.DomainCategorical:
		if len(hp.Choices) == 0 {
			return nil, &DomainError{Param: hp.Name, Reason: "categorical list is empty"}
		}
		return append([]any(nil), hp.Choices...), nil
	case space.DomainUniform:
		pts, err = UniformGrid(hp.Lo, hp.Hi, n)
	case space.DomainNormal:
		pts, err = NormalGrid(hp.Lo, hp.Hi, n)
	case space.DomainLogUniform:
		pts, err = LogUniformGrid(hp.Lo, hp.Hi, n)
	default:
		err = &DomainError{Reason: fmt.Sprintf("unknown domain %v", hp.Domain)}
	}
	if err != nil {
		return nil, withParam(err, hp.Name)
	}

	out := make([]any, 0, len(pts))
	seen := make(map[int]bool)
	for _, p := range pts {
		v := Cast(hp.Kind, p, hp.Lo, hp.Hi)
		if i, ok := v.(int); ok {
			if seen[i] {
				continue
			}
			seen[i] = true
		}
		out = append(out, v)
	}
	return out, nil
}
