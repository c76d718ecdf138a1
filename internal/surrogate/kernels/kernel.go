// Package kernels provides covariance functions for the Gaussian process
// surrogate.
package kernels

import (
	"fmt"
	"math"
)

// Kernel is a covariance function over points in the (transformed) search
// space.
type Kernel interface {
	// Eval computes the covariance between two points.
	Eval(x1, x2 []float64) float64

	// Hyperparameters returns the current hyperparameters.
	Hyperparameters() []float64

	// SetHyperparameters replaces the kernel's hyperparameters.
	SetHyperparameters(params []float64) error
}

func squaredDistance(x1, x2 []float64) float64 {
	var sum float64
	for i := range x1 {
		d := x1[i] - x2[i]
		sum += d * d
	}
	return sum
}

// RBF is the squared-exponential kernel.
type RBF struct {
	lengthScale float64
	variance    float64
}

// NewRBF creates an RBF kernel. Both parameters must be positive.
func NewRBF(lengthScale, variance float64) (*RBF, error) {
	if lengthScale <= 0 || variance <= 0 {
		return nil, fmt.Errorf("kernel parameters must be positive, got lengthScale=%v variance=%v", lengthScale, variance)
	}
	return &RBF{lengthScale: lengthScale, variance: variance}, nil
}

// Eval computes the RBF covariance between x1 and x2.
func (k *RBF) Eval(x1, x2 []float64) float64 {
	r2 := squaredDistance(x1, x2) / (2 * k.lengthScale * k.lengthScale)
	return k.variance * math.Exp(-r2)
}

// Hyperparameters returns [lengthScale, variance].
func (k *RBF) Hyperparameters() []float64 {
	return []float64{k.lengthScale, k.variance}
}

// SetHyperparameters replaces [lengthScale, variance].
func (k *RBF) SetHyperparameters(params []float64) error {
	if len(params) != 2 {
		return fmt.Errorf("expected 2 hyperparameters, got %d", len(params))
	}
	if params[0] <= 0 || params[1] <= 0 {
		return fmt.Errorf("hyperparameters must be positive, got %v", params)
	}
	k.lengthScale, k.variance = params[0], params[1]
	return nil
}

// Matern52 is the Matérn kernel with smoothness 5/2, the usual default for
// Bayesian optimization surrogates.
type Matern52 struct {
	lengthScale float64
	variance    float64
}

// NewMatern52 creates a Matérn 5/2 kernel. Both parameters must be positive.
func NewMatern52(lengthScale, variance float64) (*Matern52, error) {
	if lengthScale <= 0 || variance <= 0 {
		return nil, fmt.Errorf("kernel parameters must be positive, got lengthScale=%v variance=%v", lengthScale, variance)
	}
	return &Matern52{lengthScale: lengthScale, variance: variance}, nil
}

// Eval computes the Matérn 5/2 covariance between x1 and x2.
func (k *Matern52) Eval(x1, x2 []float64) float64 {
	r := math.Sqrt(squaredDistance(x1, x2)) / k.lengthScale
	sqrt5r := math.Sqrt(5) * r
	poly := 1 + sqrt5r + (5.0/3.0)*r*r
	return k.variance * poly * math.Exp(-sqrt5r)
}

// Hyperparameters returns [lengthScale, variance].
func (k *Matern52) Hyperparameters() []float64 {
	return []float64{k.lengthScale, k.variance}
}

// SetHyperparameters replaces [lengthScale, variance].
func (k *Matern52) SetHyperparameters(params []float64) error {
	if len(params) != 2 {
		return fmt.Errorf("expected 2 hyperparameters, got %d", len(params))
	}
	if params[0] <= 0 || params[1] <= 0 {
		return fmt.Errorf("hyperparameters must be positive, got %v", params)
	}
	k.lengthScale, k.variance = params[0], params[1]
	return nil
}
