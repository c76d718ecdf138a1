package adapter

import (
	"context"
	"math/rand"
	"time"

	"github.com/taigalabs/taiga/internal/core"
)

// ModelKeyLatinHypercube is the registry key of the space-filling
// initialization model.
const ModelKeyLatinHypercube = "latin_hypercube"

func init() {
	Register(ModelKeyLatinHypercube, func(exp *core.Experiment) (Adapter, error) {
		return NewLatinHypercube(exp.SearchSpace, 0), nil
	})
}

// LatinHypercube proposes space-filling points via Latin hypercube
// sampling. It requires no observed data and is typically used for the
// initialization phase of a strategy.
type LatinHypercube struct {
	searchSpace core.SearchSpace
	chain       Chain
	rng         *rand.Rand
}

// NewLatinHypercube creates a sampler over the given search space. A seed
// of 0 derives one from the clock.
func NewLatinHypercube(ss core.SearchSpace, seed int64) *LatinHypercube {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	bounds := ss.Bounds()
	return &LatinHypercube{
		searchSpace: ss,
		chain:       Chain{&UnitScale{Bounds: bounds}},
		rng:         rand.New(rand.NewSource(seed)),
	}
}

// Fit is a no-op: sampling needs no observations.
func (l *LatinHypercube) Fit(ctx context.Context, exp *core.Experiment, data core.Data) error {
	return nil
}

// Predict is not supported for the sampling model.
func (l *LatinHypercube) Predict(features []core.ObservationFeatures) ([]float64, []float64, error) {
	return nil, nil, core.NewUnsupportedErrorf("%s does not support prediction", ModelKeyLatinHypercube)
}

// Gen proposes n stratified points across the search space.
func (l *LatinHypercube) Gen(ctx context.Context, n int, pending map[string][]core.ObservationFeatures, fixed *core.ObservationFeatures) (*core.GeneratorRun, error) {
	if n < 1 {
		return nil, core.NewUserInputErrorf("number of arms to generate must be positive, got %d", n)
	}
	points := l.sampleUnitCube(n)
	arms := make([]core.Arm, n)
	for i, p := range points {
		point := l.chain.Inverse(p)
		params, err := l.searchSpace.MapFromPoint(point)
		if err != nil {
			return nil, err
		}
		if fixed != nil {
			for k, v := range fixed.Parameters {
				params[k] = v
			}
		}
		arms[i] = core.Arm{Parameters: params}
	}
	return &core.GeneratorRun{
		Arms:     arms,
		ModelKey: ModelKeyLatinHypercube,
		Time:     time.Now(),
	}, nil
}

// sampleUnitCube draws n stratified samples per dimension and shuffles the
// strata independently, yielding a Latin hypercube design in [0,1]^d.
func (l *LatinHypercube) sampleUnitCube(n int) [][]float64 {
	dims := len(l.searchSpace.Parameters)
	points := make([][]float64, n)
	for j := range points {
		points[j] = make([]float64, dims)
	}
	column := make([]float64, n)
	for d := 0; d < dims; d++ {
		for j := 0; j < n; j++ {
			column[j] = (float64(j) + l.rng.Float64()) / float64(n)
		}
		l.rng.Shuffle(n, func(a, b int) {
			column[a], column[b] = column[b], column[a]
		})
		for j := 0; j < n; j++ {
			points[j][d] = column[j]
		}
	}
	return points
}
