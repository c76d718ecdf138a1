// Package surrogate implements the Gaussian process model and acquisition
// functions backing the model adapters.
package surrogate

import (
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/taigalabs/taiga/internal/surrogate/kernels"
)

// GP is a Gaussian process regression model.
type GP struct {
	kernel   kernels.Kernel
	noiseVar float64

	// Training data, stored by Fit.
	x *mat.Dense
	y *mat.VecDense

	// Precomputed solve of K alpha = y and the Cholesky factor of K.
	alpha *mat.VecDense
	chol  *mat.Cholesky

	pool   *matrixPool
	logger *zap.Logger
}

// NewGP creates a Gaussian process with the given kernel and noise variance.
func NewGP(kernel kernels.Kernel, noiseVar float64, logger *zap.Logger) *GP {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GP{
		kernel:   kernel,
		noiseVar: noiseVar,
		pool:     newMatrixPool(),
		logger:   logger.Named("gaussian_process"),
	}
}

// Trained reports whether Fit has succeeded at least once.
func (gp *GP) Trained() bool { return gp.alpha != nil }

// Fit trains the model on inputs X (nSamples x nFeatures) and targets y.
func (gp *GP) Fit(x *mat.Dense, y *mat.VecDense) error {
	if x == nil || y == nil {
		return errors.New("gaussian_process: Fit: input matrices must not be nil")
	}
	nSamples, nFeatures := x.Dims()
	if nSamples == 0 || nFeatures == 0 {
		return errors.New("gaussian_process: Fit: input matrix X must not be empty")
	}
	if nSamples != y.Len() {
		return fmt.Errorf("gaussian_process: Fit: X has %d samples but y has length %d", nSamples, y.Len())
	}

	gp.logger.Debug("fitting GP",
		zap.Int("samples", nSamples),
		zap.Int("features", nFeatures),
		zap.Float64("noise_var", gp.noiseVar),
	)

	gp.x = mat.DenseCopyOf(x)
	gp.y = mat.VecDenseCopyOf(y)

	k := gp.kernelMatrix(x, nSamples)
	defer gp.pool.putSym(k)

	alpha, chol, err := gp.factorizeAndSolve(k, y, nSamples)
	if err != nil {
		return fmt.Errorf("gaussian_process: Fit: %w", err)
	}
	gp.alpha = alpha
	gp.chol = chol
	return nil
}

// kernelMatrix builds K(X, X) with the noise variance on the diagonal.
func (gp *GP) kernelMatrix(x *mat.Dense, n int) *mat.SymDense {
	k := gp.pool.getSym(n)
	for i := 0; i < n; i++ {
		xi := x.RawRowView(i)
		k.SetSym(i, i, gp.kernel.Eval(xi, xi)+gp.noiseVar)
		for j := i + 1; j < n; j++ {
			k.SetSym(i, j, gp.kernel.Eval(xi, x.RawRowView(j)))
		}
	}
	return k
}

// factorizeAndSolve computes a Cholesky factor of K and alpha = K^-1 y,
// escalating diagonal jitter until factorization succeeds.
func (gp *GP) factorizeAndSolve(k *mat.SymDense, y *mat.VecDense, n int) (*mat.VecDense, *mat.Cholesky, error) {
	jitter := 0.0
	const maxAttempts = 8
	for attempt := 0; attempt < maxAttempts; attempt++ {
		trial := mat.NewSymDense(n, nil)
		trial.CopySym(k)
		if jitter > 0 {
			for i := 0; i < n; i++ {
				trial.SetSym(i, i, trial.At(i, i)+jitter)
			}
		}

		var chol mat.Cholesky
		if !chol.Factorize(trial) {
			if jitter == 0 {
				jitter = 1e-10
			} else {
				jitter *= 10
			}
			gp.logger.Debug("Cholesky factorization failed, increasing jitter",
				zap.Int("attempt", attempt+1),
				zap.Float64("jitter", jitter),
			)
			continue
		}

		alpha := mat.NewVecDense(n, nil)
		if err := chol.SolveVecTo(alpha, y); err != nil {
			if jitter == 0 {
				jitter = 1e-10
			} else {
				jitter *= 10
			}
			continue
		}
		return alpha, &chol, nil
	}
	return nil, nil, errors.New("kernel matrix is not positive definite after jitter escalation")
}

// Predict returns the posterior mean and variance at each row of x.
func (gp *GP) Predict(x *mat.Dense) (mean, variance *mat.VecDense, err error) {
	if x == nil {
		return nil, nil, errors.New("gaussian_process: Predict: input matrix is nil")
	}
	if !gp.Trained() {
		return nil, nil, errors.New("gaussian_process: Predict: model is not trained")
	}

	nTest, _ := x.Dims()
	nTrain, _ := gp.x.Dims()

	mean = mat.NewVecDense(nTest, nil)
	variance = mat.NewVecDense(nTest, nil)

	kStar := gp.pool.getDense(nTest, nTrain)
	defer gp.pool.putDense(kStar)
	kss := make([]float64, nTest)
	for i := 0; i < nTest; i++ {
		xi := x.RawRowView(i)
		kss[i] = gp.kernel.Eval(xi, xi) + gp.noiseVar
		for j := 0; j < nTrain; j++ {
			kStar.Set(i, j, gp.kernel.Eval(xi, gp.x.RawRowView(j)))
		}
	}

	mean.MulVec(kStar, gp.alpha)

	// variance_i = k(x_i, x_i) - k_*^T K^-1 k_*, via the Cholesky factor.
	v := mat.NewDense(nTrain, nTest, nil)
	if err := gp.chol.SolveTo(v, kStar.T()); err != nil {
		return nil, nil, fmt.Errorf("gaussian_process: Predict: %w", err)
	}
	for i := 0; i < nTest; i++ {
		var reduction float64
		for j := 0; j < nTrain; j++ {
			val := v.At(j, i)
			reduction += kStar.At(i, j) * val
		}
		variance.SetVec(i, math.Max(0, kss[i]-reduction))
	}
	return mean, variance, nil
}

// PredictPoint is a convenience wrapper for a single test point.
func (gp *GP) PredictPoint(point []float64) (mean, variance float64, err error) {
	x := mat.NewDense(1, len(point), point)
	mu, sigma2, err := gp.Predict(x)
	if err != nil {
		return 0, 0, err
	}
	return mu.AtVec(0), sigma2.AtVec(0), nil
}
