package surrogate

import (
	"gonum.org/v1/gonum/stat/distuv"
)

// ExpectedImprovement is the EI acquisition function. It is always phrased
// for minimization; callers maximizing an objective should negate targets
// before fitting the surrogate.
type ExpectedImprovement struct {
	bestObserved float64
	// xi trades exploration against exploitation.
	xi float64
}

// NewExpectedImprovement creates an EI function with the given incumbent
// value and exploration parameter.
func NewExpectedImprovement(bestObserved, xi float64) *ExpectedImprovement {
	return &ExpectedImprovement{bestObserved: bestObserved, xi: xi}
}

// UpdateBest replaces the incumbent value.
func (ei *ExpectedImprovement) UpdateBest(best float64) {
	ei.bestObserved = best
}

// BestObserved returns the incumbent value.
func (ei *ExpectedImprovement) BestObserved() float64 {
	return ei.bestObserved
}

// Compute evaluates EI for a predicted mean and standard deviation.
// The result is non-negative.
func (ei *ExpectedImprovement) Compute(mu, sigma float64) float64 {
	improvement := ei.bestObserved - mu - ei.xi
	if improvement <= 0 {
		return 0
	}
	if sigma <= 1e-10 {
		// Prediction is effectively deterministic.
		return improvement
	}
	z := improvement / sigma
	n := distuv.UnitNormal
	return improvement*n.CDF(z) + sigma*n.Prob(z)
}

// UpperConfidenceBound is the UCB acquisition function (lower confidence
// bound under minimization): mu - beta * sigma, negated so that larger is
// better like EI.
type UpperConfidenceBound struct {
	// Beta controls how strongly uncertainty is rewarded.
	Beta float64
}

// Compute evaluates the acquisition value for a predicted mean and
// standard deviation.
func (u *UpperConfidenceBound) Compute(mu, sigma float64) float64 {
	return -(mu - u.Beta*sigma)
}

// Acquisition scores candidate points from surrogate predictions; higher
// is better.
type Acquisition interface {
	Compute(mu, sigma float64) float64
}

var (
	_ Acquisition = (*ExpectedImprovement)(nil)
	_ Acquisition = (*UpperConfidenceBound)(nil)
)
