package surrogate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/taigalabs/taiga/internal/surrogate/kernels"
)

func newTestGP(t *testing.T) *GP {
	t.Helper()
	kernel, err := kernels.NewRBF(1.0, 1.0)
	require.NoError(t, err)
	return NewGP(kernel, 1e-6, nil)
}

func TestGPFitValidation(t *testing.T) {
	gp := newTestGP(t)

	require.Error(t, gp.Fit(nil, nil))
	require.Error(t, gp.Fit(mat.NewDense(1, 1, []float64{0}), mat.NewVecDense(2, []float64{0, 1})))
	assert.False(t, gp.Trained())
}

func TestGPFitAndPredict(t *testing.T) {
	gp := newTestGP(t)

	x := mat.NewDense(4, 1, []float64{0.0, 0.3, 0.6, 1.0})
	y := mat.NewVecDense(4, []float64{0.0, 0.09, 0.36, 1.0})
	require.NoError(t, gp.Fit(x, y))
	assert.True(t, gp.Trained())

	// At training points the posterior mean interpolates closely.
	mean, variance, err := gp.Predict(mat.NewDense(2, 1, []float64{0.3, 1.0}))
	require.NoError(t, err)
	assert.InDelta(t, 0.09, mean.AtVec(0), 0.05)
	assert.InDelta(t, 1.0, mean.AtVec(1), 0.05)
	assert.Less(t, variance.AtVec(0), 0.01)

	// Away from the data, uncertainty grows.
	_, farVar, err := gp.Predict(mat.NewDense(1, 1, []float64{3.0}))
	require.NoError(t, err)
	assert.Greater(t, farVar.AtVec(0), variance.AtVec(0))
}

func TestGPPredictPoint(t *testing.T) {
	gp := newTestGP(t)
	x := mat.NewDense(2, 2, []float64{0, 0, 1, 1})
	y := mat.NewVecDense(2, []float64{1.0, 2.0})
	require.NoError(t, gp.Fit(x, y))

	mu, sigma2, err := gp.PredictPoint([]float64{0, 0})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, mu, 0.05)
	assert.GreaterOrEqual(t, sigma2, 0.0)
}

func TestGPPredictBeforeFit(t *testing.T) {
	gp := newTestGP(t)
	_, _, err := gp.Predict(mat.NewDense(1, 1, []float64{0}))
	require.Error(t, err)
}

func TestGPJitterEscalation(t *testing.T) {
	// Duplicate rows make the kernel matrix singular without noise; the
	// jitter escalation must still produce a usable factorization.
	kernel, err := kernels.NewRBF(1.0, 1.0)
	require.NoError(t, err)
	gp := NewGP(kernel, 0, nil)

	x := mat.NewDense(3, 1, []float64{0.5, 0.5, 0.9})
	y := mat.NewVecDense(3, []float64{1.0, 1.0, 2.0})
	require.NoError(t, gp.Fit(x, y))

	mu, sigma2, err := gp.PredictPoint([]float64{0.5})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, mu, 0.1)
	assert.GreaterOrEqual(t, sigma2, 0.0)
}

func TestGPRefit(t *testing.T) {
	gp := newTestGP(t)

	x1 := mat.NewDense(2, 1, []float64{0, 1})
	y1 := mat.NewVecDense(2, []float64{0, 1})
	require.NoError(t, gp.Fit(x1, y1))

	x2 := mat.NewDense(3, 1, []float64{0, 0.5, 1})
	y2 := mat.NewVecDense(3, []float64{0, 2, 0})
	require.NoError(t, gp.Fit(x2, y2))

	mu, _, err := gp.PredictPoint([]float64{0.5})
	require.NoError(t, err)
	assert.InDelta(t, 2.0, mu, 0.2)
}
