package gp

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/GoSim-25-26J-441/hyperopt/pkg/utils"
)

// Acquisition scores a prediction. Lower values are more promising.
type Acquisition func(mean, variance float64, p AcquisitionParams) float64

// AcquisitionParams carries the knobs of the acquisition functions
type AcquisitionParams struct {
	// Beta weighs uncertainty in UCB
	Beta float64
	// Xi is the minimum improvement for PI and EI
	Xi float64
	// BestSoFar is the lowest standardized loss observed
	BestSoFar float64
	// Src drives Thompson sampling
	Src *utils.RandSource
}

// Acquisition function names accepted by ParseAcquisition
const (
	AcquisitionEI       = "ei"
	AcquisitionPI       = "pi"
	AcquisitionUCB      = "ucb"
	AcquisitionThompson = "thompson"
)

// AcquisitionNames lists the supported functions
var AcquisitionNames = []string{AcquisitionEI, AcquisitionPI, AcquisitionUCB, AcquisitionThompson}

// ParseAcquisition resolves an acquisition function by name
func ParseAcquisition(name string) (Acquisition, error) {
	switch name {
	case AcquisitionEI, "":
		return ExpectedImprovement, nil
	case AcquisitionPI:
		return ProbabilityOfImprovement, nil
	case AcquisitionUCB:
		return UCB, nil
	case AcquisitionThompson:
		return ThompsonSampling, nil
	default:
		return nil, fmt.Errorf("unknown acquisition function %q", name)
	}
}

// UCB is the lower confidence bound for minimization
func UCB(mean, variance float64, p AcquisitionParams) float64 {
	return mean - p.Beta*math.Sqrt(variance)
}

// ProbabilityOfImprovement returns the probability of not improving on the
// best by at least Xi
func ProbabilityOfImprovement(mean, variance float64, p AcquisitionParams) float64 {
	z := (mean - p.BestSoFar + p.Xi) / math.Sqrt(variance)
	return distuv.UnitNormal.CDF(z)
}

// ExpectedImprovement returns the negated expected improvement over the best
func ExpectedImprovement(mean, variance float64, p AcquisitionParams) float64 {
	sd := math.Sqrt(variance)
	imp := p.BestSoFar - mean - p.Xi
	z := imp / sd
	return -(imp*distuv.UnitNormal.CDF(z) + sd*distuv.UnitNormal.Prob(z))
}

// ThompsonSampling draws from the posterior at the point
func ThompsonSampling(mean, variance float64, p AcquisitionParams) float64 {
	return p.Src.NormFloat64(mean, math.Sqrt(variance))
}
