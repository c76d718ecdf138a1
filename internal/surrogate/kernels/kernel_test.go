package kernels

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewKernelValidation(t *testing.T) {
	_, err := NewRBF(0, 1)
	require.Error(t, err)
	_, err = NewRBF(1, -1)
	require.Error(t, err)
	_, err = NewMatern52(-1, 1)
	require.Error(t, err)
	_, err = NewMatern52(1, 0)
	require.Error(t, err)
}

func TestKernelProperties(t *testing.T) {
	rbf, err := NewRBF(1.0, 2.0)
	require.NoError(t, err)
	matern, err := NewMatern52(1.0, 2.0)
	require.NoError(t, err)

	for name, k := range map[string]Kernel{"rbf": rbf, "matern52": matern} {
		t.Run(name, func(t *testing.T) {
			a := []float64{0.1, 0.2}
			b := []float64{0.8, 0.9}

			// Variance on the diagonal.
			assert.InDelta(t, 2.0, k.Eval(a, a), 1e-12)

			// Symmetry.
			assert.InDelta(t, k.Eval(a, b), k.Eval(b, a), 1e-12)

			// Covariance decays with distance.
			near := k.Eval(a, []float64{0.15, 0.25})
			far := k.Eval(a, b)
			assert.Greater(t, near, far)
			assert.Greater(t, far, 0.0)
		})
	}
}

func TestRBFKnownValue(t *testing.T) {
	k, err := NewRBF(1.0, 1.0)
	require.NoError(t, err)

	// exp(-r^2 / 2) with r = 1.
	got := k.Eval([]float64{0}, []float64{1})
	assert.InDelta(t, math.Exp(-0.5), got, 1e-12)
}

func TestMatern52KnownValue(t *testing.T) {
	k, err := NewMatern52(1.0, 1.0)
	require.NoError(t, err)

	// (1 + sqrt(5) r + 5/3 r^2) exp(-sqrt(5) r) with r = 1.
	r := 1.0
	want := (1 + math.Sqrt(5)*r + (5.0/3.0)*r*r) * math.Exp(-math.Sqrt(5)*r)
	got := k.Eval([]float64{0}, []float64{1})
	assert.InDelta(t, want, got, 1e-12)
}

func TestSetHyperparameters(t *testing.T) {
	k, err := NewRBF(1.0, 1.0)
	require.NoError(t, err)

	require.NoError(t, k.SetHyperparameters([]float64{2.0, 3.0}))
	assert.Equal(t, []float64{2.0, 3.0}, k.Hyperparameters())

	require.Error(t, k.SetHyperparameters([]float64{1.0}))
	require.Error(t, k.SetHyperparameters([]float64{-1.0, 1.0}))
}
