package adapter

import (
	"context"
	"math"
	"math/rand"
	"sort"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"

	"github.com/taigalabs/taiga/internal/core"
	"github.com/taigalabs/taiga/internal/surrogate"
	"github.com/taigalabs/taiga/internal/surrogate/kernels"
)

// ModelKeyGP is the registry key of the Gaussian-process model.
const ModelKeyGP = "gp_ei"

// minGPObservations is the fewest objective observations the GP will fit.
const minGPObservations = 2

func init() {
	Register(ModelKeyGP, func(exp *core.Experiment) (Adapter, error) {
		return NewGPAdapter(exp.SearchSpace, GPOptions{})
	})
}

// GPOptions configures the GP adapter.
type GPOptions struct {
	// NoiseVariance added to the kernel diagonal. Defaults to 1e-6.
	NoiseVariance float64
	// Xi is the EI exploration parameter. Defaults to 0.01.
	Xi float64
	// Seed for the candidate generator. 0 derives one from the clock.
	Seed int64
	// Logger used for fit diagnostics.
	Logger *zap.Logger
}

// GPAdapter fits a Gaussian process to observed objective values and
// proposes new arms by maximizing Expected Improvement with multi-start
// Nelder-Mead.
type GPAdapter struct {
	searchSpace core.SearchSpace
	chain       Chain
	gp          *surrogate.GP
	acq         *surrogate.ExpectedImprovement
	rng         *rand.Rand
	logger      *zap.Logger

	// Set by Fit.
	minimize bool
	trainX   [][]float64
}

// NewGPAdapter creates a GP adapter over the given search space.
func NewGPAdapter(ss core.SearchSpace, opts GPOptions) (*GPAdapter, error) {
	if err := ss.Validate(); err != nil {
		return nil, err
	}
	if opts.NoiseVariance <= 0 {
		opts.NoiseVariance = 1e-6
	}
	if opts.Xi <= 0 {
		opts.Xi = 0.01
	}
	if opts.Seed == 0 {
		opts.Seed = time.Now().UnixNano()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	kernel, err := kernels.NewMatern52(1.0, 1.0)
	if err != nil {
		return nil, err
	}
	logMask := make([]bool, len(ss.Parameters))
	for i, p := range ss.Parameters {
		logMask[i] = p.LogScale
	}
	scale := logUnitScale(ss, logMask)
	return &GPAdapter{
		searchSpace: ss,
		chain:       Chain{&LogScale{Mask: logMask}, &scale},
		gp:          surrogate.NewGP(kernel, opts.NoiseVariance, opts.Logger),
		acq:         surrogate.NewExpectedImprovement(math.Inf(1), opts.Xi),
		rng:         rand.New(rand.NewSource(opts.Seed)),
		logger:      opts.Logger.Named("gp_adapter"),
	}, nil
}

// logUnitScale builds a unit scaler over log-transformed bounds so that the
// chain composes as log, then scale to [0,1].
func logUnitScale(ss core.SearchSpace, mask []bool) UnitScale {
	bounds := ss.Bounds()
	for i := range bounds {
		if mask[i] {
			bounds[i][0] = math.Log10(bounds[i][0])
			bounds[i][1] = math.Log10(bounds[i][1])
		}
	}
	return UnitScale{Bounds: bounds}
}

// Fit trains the GP on the experiment's objective observations. Returns
// *core.DataRequiredError when too few observations are attached.
func (g *GPAdapter) Fit(ctx context.Context, exp *core.Experiment, data core.Data) error {
	if exp.OptimizationConfig == nil {
		return core.NewUserInputErrorf("experiment %q has no optimization config", exp.Name)
	}
	objective := exp.OptimizationConfig.Objective
	obs := data.ForMetric(objective).Observations
	if len(obs) < minGPObservations {
		return core.NewDataRequiredErrorf(
			"model %s requires at least %d observations of metric %q, have %d",
			ModelKeyGP, minGPObservations, objective, len(obs),
		)
	}
	g.minimize = exp.OptimizationConfig.Minimize

	dims := len(g.searchSpace.Parameters)
	x := mat.NewDense(len(obs), dims, nil)
	y := mat.NewVecDense(len(obs), nil)
	g.trainX = make([][]float64, len(obs))
	for i, o := range obs {
		arm, ok := exp.ArmForName(o.ArmName)
		if !ok {
			return core.NewUserInputErrorf("observation references unknown arm %q", o.ArmName)
		}
		point, err := g.searchSpace.PointFromMap(arm.Parameters)
		if err != nil {
			return err
		}
		transformed := g.chain.Forward(point)
		x.SetRow(i, transformed)
		g.trainX[i] = transformed
		val := o.Mean
		if !g.minimize {
			// The surrogate and EI always minimize.
			val = -val
		}
		y.SetVec(i, val)
	}

	if err := g.gp.Fit(x, y); err != nil {
		return err
	}
	best := math.Inf(1)
	for i := 0; i < y.Len(); i++ {
		best = math.Min(best, y.AtVec(i))
	}
	g.acq.UpdateBest(best)
	g.logger.Debug("fitted GP adapter",
		zap.Int("observations", len(obs)),
		zap.Float64("incumbent", best),
	)
	return nil
}

// Predict returns objective means and variances at the given features.
func (g *GPAdapter) Predict(features []core.ObservationFeatures) ([]float64, []float64, error) {
	if !g.gp.Trained() {
		return nil, nil, core.NewDataRequiredErrorf("model %s has not been fit", ModelKeyGP)
	}
	means := make([]float64, len(features))
	variances := make([]float64, len(features))
	for i, f := range features {
		point, err := g.searchSpace.PointFromMap(f.Parameters)
		if err != nil {
			return nil, nil, err
		}
		mu, sigma2, err := g.gp.PredictPoint(g.chain.Forward(point))
		if err != nil {
			return nil, nil, err
		}
		if !g.minimize {
			mu = -mu
		}
		means[i] = mu
		variances[i] = sigma2
	}
	return means, variances, nil
}

// Gen proposes n arms by maximizing Expected Improvement, avoiding points
// close to pending observations and to each other.
func (g *GPAdapter) Gen(ctx context.Context, n int, pending map[string][]core.ObservationFeatures, fixed *core.ObservationFeatures) (*core.GeneratorRun, error) {
	if n < 1 {
		return nil, core.NewUserInputErrorf("number of arms to generate must be positive, got %d", n)
	}
	if !g.gp.Trained() {
		return nil, core.NewDataRequiredErrorf("model %s must be fit before generation", ModelKeyGP)
	}

	avoid := g.transformedPendingPoints(pending)
	candidates := g.maximizeAcquisition()

	arms := make([]core.Arm, 0, n)
	const minSeparation = 1e-3
	for _, c := range candidates {
		if len(arms) == n {
			break
		}
		if tooClose(c, avoid, minSeparation) {
			continue
		}
		avoid = append(avoid, c)
		arm, err := g.armFromUnitPoint(c, fixed)
		if err != nil {
			return nil, err
		}
		arms = append(arms, arm)
	}
	// Fall back to random points when the acquisition surface collapsed
	// onto already-pending locations.
	for len(arms) < n {
		c := g.randomUnitPoint()
		if tooClose(c, avoid, minSeparation) {
			continue
		}
		avoid = append(avoid, c)
		arm, err := g.armFromUnitPoint(c, fixed)
		if err != nil {
			return nil, err
		}
		arms = append(arms, arm)
	}

	return &core.GeneratorRun{
		Arms:     arms,
		ModelKey: ModelKeyGP,
		Time:     time.Now(),
	}, nil
}

// maximizeAcquisition runs multi-start Nelder-Mead on the negated EI over
// the unit cube and returns the resulting points sorted best first.
func (g *GPAdapter) maximizeAcquisition() [][]float64 {
	dims := len(g.searchSpace.Parameters)
	nStarts := 5 + int(5*math.Sqrt(float64(dims)))

	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			clamped := make([]float64, len(x))
			for i, v := range x {
				clamped[i] = math.Max(0, math.Min(1, v))
			}
			mu, sigma2, err := g.gp.PredictPoint(clamped)
			if err != nil {
				return math.Inf(1)
			}
			return -g.acq.Compute(mu, math.Sqrt(math.Max(0, sigma2)))
		},
	}
	settings := &optimize.Settings{
		Converger: &optimize.FunctionConverge{
			Absolute:   1e-8,
			Relative:   1e-8,
			Iterations: 100,
		},
	}

	type scored struct {
		point []float64
		value float64
	}
	results := make([]scored, 0, nStarts)
	for s := 0; s < nStarts; s++ {
		start := g.randomUnitPoint()
		method := &optimize.NelderMead{}
		res, err := optimize.Minimize(problem, start, settings, method)
		if err != nil || res == nil {
			continue
		}
		point := make([]float64, dims)
		for i, v := range res.X {
			point[i] = math.Max(0, math.Min(1, v))
		}
		results = append(results, scored{point: point, value: res.F})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].value < results[j].value })

	points := make([][]float64, len(results))
	for i, r := range results {
		points[i] = r.point
	}
	return points
}

// transformedPendingPoints maps pending observation features into the unit
// cube so distance checks happen in model space.
func (g *GPAdapter) transformedPendingPoints(pending map[string][]core.ObservationFeatures) [][]float64 {
	seen := make(map[string]struct{})
	var points [][]float64
	for _, feats := range pending {
		for _, f := range feats {
			point, err := g.searchSpace.PointFromMap(f.Parameters)
			if err != nil {
				continue
			}
			transformed := g.chain.Forward(point)
			key := pointKey(transformed)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			points = append(points, transformed)
		}
	}
	return points
}

func (g *GPAdapter) randomUnitPoint() []float64 {
	point := make([]float64, len(g.searchSpace.Parameters))
	for i := range point {
		point[i] = g.rng.Float64()
	}
	return point
}

func (g *GPAdapter) armFromUnitPoint(unit []float64, fixed *core.ObservationFeatures) (core.Arm, error) {
	point := g.chain.Inverse(unit)
	params, err := g.searchSpace.MapFromPoint(point)
	if err != nil {
		return core.Arm{}, err
	}
	if fixed != nil {
		for k, v := range fixed.Parameters {
			params[k] = v
		}
	}
	return core.Arm{Parameters: params}, nil
}

func tooClose(point []float64, others [][]float64, tol float64) bool {
	for _, o := range others {
		var sum float64
		for i := range point {
			d := point[i] - o[i]
			sum += d * d
		}
		if math.Sqrt(sum) < tol {
			return true
		}
	}
	return false
}

func pointKey(point []float64) string {
	key := make([]byte, 0, len(point)*9)
	for _, v := range point {
		// Quantize so float noise does not defeat deduplication.
		q := int64(math.Round(v * 1e9))
		for shift := 0; shift < 64; shift += 8 {
			key = append(key, byte(q>>shift))
		}
		key = append(key, ':')
	}
	return string(key)
}
