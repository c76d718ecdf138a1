package generation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taigalabs/taiga/internal/adapter"
	"github.com/taigalabs/taiga/internal/core"
)

// fakeModel is a deterministic Adapter for exercising the strategy state
// machine without a real statistical model.
type fakeModel struct {
	fitCalls int
	genCalls int
	fitErr   error
	genErr   error
	// genErrAfter, when positive, makes Gen fail once genCalls exceeds it.
	genErrAfter int
}

func (f *fakeModel) Fit(ctx context.Context, exp *core.Experiment, data core.Data) error {
	f.fitCalls++
	return f.fitErr
}

func (f *fakeModel) Predict(features []core.ObservationFeatures) ([]float64, []float64, error) {
	return nil, nil, core.NewUnsupportedErrorf("fake model does not predict")
}

func (f *fakeModel) Gen(ctx context.Context, n int, pending map[string][]core.ObservationFeatures, fixed *core.ObservationFeatures) (*core.GeneratorRun, error) {
	f.genCalls++
	if f.genErr != nil {
		return nil, f.genErr
	}
	if f.genErrAfter > 0 && f.genCalls > f.genErrAfter {
		return nil, core.NewDataRequiredErrorf("fake model needs more data")
	}
	arms := make([]core.Arm, n)
	for i := range arms {
		arms[i] = core.Arm{Parameters: map[string]float64{"x": float64(f.genCalls*100 + i)}}
	}
	return &core.GeneratorRun{Arms: arms}, nil
}

func fakeSpec(key string, model *fakeModel) GeneratorSpec {
	return GeneratorSpec{
		ModelKey: key,
		Factory: func(exp *core.Experiment) (adapter.Adapter, error) {
			return model, nil
		},
	}
}

func newTestExperiment(t *testing.T, name string) *core.Experiment {
	t.Helper()
	exp, err := core.NewExperiment(name, core.SearchSpace{
		Parameters: []core.RangeParameter{{Name: "x", Min: 0, Max: 1000}},
	}, &core.OptimizationConfig{Objective: "loss", Minimize: true})
	require.NoError(t, err)
	return exp
}

func twoStepStrategy(t *testing.T, a, b *fakeModel, aTrials, bTrials int) *GenerationStrategy {
	t.Helper()
	gs, err := NewGenerationStrategy(StrategyConfig{
		Steps: []GenerationStep{
			{Spec: fakeSpec("model_a", a), NumTrials: aTrials},
			{Spec: fakeSpec("model_b", b), NumTrials: bTrials},
		},
	})
	require.NoError(t, err)
	return gs
}

func TestNewGenerationStrategyValidation(t *testing.T) {
	node, err := NewGenerationNode(NodeConfig{
		Name:  "init",
		Specs: []GeneratorSpec{fakeSpec("model_a", &fakeModel{})},
	})
	require.NoError(t, err)

	tests := []struct {
		name    string
		cfg     StrategyConfig
		wantErr string
	}{
		{
			name:    "neither steps nor nodes",
			cfg:     StrategyConfig{},
			wantErr: "either steps or nodes",
		},
		{
			name: "both steps and nodes",
			cfg: StrategyConfig{
				Steps: []GenerationStep{{Spec: fakeSpec("model_a", &fakeModel{}), NumTrials: 1}},
				Nodes: []*GenerationNode{node},
			},
			wantErr: "either steps or nodes",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewGenerationStrategy(tt.cfg)
			require.Error(t, err)
			assert.IsType(t, &MisconfiguredError{}, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNewGenerationStrategyNodeGraphValidation(t *testing.T) {
	mustNode := func(cfg NodeConfig) *GenerationNode {
		node, err := NewGenerationNode(cfg)
		require.NoError(t, err)
		return node
	}
	spec := func() GeneratorSpec { return fakeSpec("model_a", &fakeModel{}) }

	t.Run("duplicate node names", func(t *testing.T) {
		_, err := NewGenerationStrategy(StrategyConfig{Nodes: []*GenerationNode{
			mustNode(NodeConfig{Name: "init", Specs: []GeneratorSpec{spec()}}),
			mustNode(NodeConfig{Name: "init", Specs: []GeneratorSpec{spec()}}),
		}})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unique")
	})

	t.Run("unknown transition target", func(t *testing.T) {
		_, err := NewGenerationStrategy(StrategyConfig{Nodes: []*GenerationNode{
			mustNode(NodeConfig{
				Name:     "init",
				Specs:    []GeneratorSpec{spec()},
				Criteria: []TransitionCriterion{&MinTrials{Threshold: 1, Target: "missing"}},
			}),
		}})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "missing")
	})

	t.Run("non-parallelism criterion without target", func(t *testing.T) {
		_, err := NewGenerationStrategy(StrategyConfig{Nodes: []*GenerationNode{
			mustNode(NodeConfig{
				Name:     "init",
				Specs:    []GeneratorSpec{spec()},
				Criteria: []TransitionCriterion{&MinTrials{Threshold: 1}},
			}),
		}})
		require.Error(t, err)
		assert.IsType(t, &MisconfiguredError{}, err)
	})

	t.Run("edge criteria disagree on continue generation", func(t *testing.T) {
		_, err := NewGenerationStrategy(StrategyConfig{Nodes: []*GenerationNode{
			mustNode(NodeConfig{
				Name:  "init",
				Specs: []GeneratorSpec{spec()},
				Criteria: []TransitionCriterion{
					&MinTrials{Threshold: 1, Target: "next", ContinueGen: true},
					&AutoTransitionAfterGen{Target: "next", ContinueGen: false},
				},
			}),
			mustNode(NodeConfig{Name: "next", Specs: []GeneratorSpec{spec()}}),
		}})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "continue-trial-generation")
	})
}

func TestStrategyDefaultName(t *testing.T) {
	gs := twoStepStrategy(t, &fakeModel{}, &fakeModel{}, 2, UnlimitedTrials)
	assert.Equal(t, "GenerationStep_0+GenerationStep_1", gs.Name())
	assert.False(t, gs.IsNodeBased())
}

func TestStrategyStepProgression(t *testing.T) {
	modelA := &fakeModel{}
	modelB := &fakeModel{}
	gs := twoStepStrategy(t, modelA, modelB, 2, UnlimitedTrials)
	exp := newTestExperiment(t, "progression")
	ctx := context.Background()

	// First two trials come from the first step's model.
	for i := 0; i < 2; i++ {
		gr, err := gs.Gen(ctx, exp, nil, 1)
		require.NoError(t, err)
		assert.Equal(t, "model_a", gr.ModelKey)
		assert.Equal(t, "GenerationStep_0", gr.GenerationNodeName)

		idx, err := gs.CurrentStepIndex()
		require.NoError(t, err)
		assert.Equal(t, 0, idx)

		_, err = exp.NewTrial(gr)
		require.NoError(t, err)
	}

	// The third trial triggers the transition to the second step.
	gr, err := gs.Gen(ctx, exp, nil, 1)
	require.NoError(t, err)
	assert.Equal(t, "model_b", gr.ModelKey)
	assert.Equal(t, "GenerationStep_1", gr.GenerationNodeName)

	idx, err := gs.CurrentStepIndex()
	require.NoError(t, err)
	assert.Equal(t, 1, idx)

	assert.Equal(t, "GenerationStep_0", gs.CurrentNode().PreviousNodeName())
	assert.Len(t, gs.GeneratorRuns(), 3)
	assert.Same(t, gr, gs.LastGeneratorRun())
}

func TestStrategyFailedTrialsDoNotCount(t *testing.T) {
	modelA := &fakeModel{}
	modelB := &fakeModel{}
	gs := twoStepStrategy(t, modelA, modelB, 1, UnlimitedTrials)
	exp := newTestExperiment(t, "failed-trials")
	ctx := context.Background()

	gr, err := gs.Gen(ctx, exp, nil, 1)
	require.NoError(t, err)
	trial, err := exp.NewTrial(gr)
	require.NoError(t, err)
	require.NoError(t, exp.MarkFailed(trial.Index))

	// The failed trial does not satisfy the first step's quota.
	gr, err = gs.Gen(ctx, exp, nil, 1)
	require.NoError(t, err)
	assert.Equal(t, "model_a", gr.ModelKey)
}

func TestStrategyCompleted(t *testing.T) {
	gs := twoStepStrategy(t, &fakeModel{}, &fakeModel{}, 1, 1)
	exp := newTestExperiment(t, "completed")
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		gr, err := gs.Gen(ctx, exp, nil, 1)
		require.NoError(t, err)
		_, err = exp.NewTrial(gr)
		require.NoError(t, err)
	}

	assert.True(t, gs.OptimizationComplete())
	_, err := gs.Gen(ctx, exp, nil, 1)
	require.Error(t, err)
	assert.IsType(t, &StrategyCompletedError{}, err)

	limit, done, err := gs.CurrentGeneratorRunLimit()
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, 0, limit)
}

func TestStrategyExperimentRebind(t *testing.T) {
	gs := twoStepStrategy(t, &fakeModel{}, &fakeModel{}, 2, UnlimitedTrials)
	ctx := context.Background()

	exp1 := newTestExperiment(t, "first")
	_, err := gs.Gen(ctx, exp1, nil, 1)
	require.NoError(t, err)

	// Re-binding the same experiment by name is fine.
	_, err = gs.Gen(ctx, exp1, nil, 1)
	require.NoError(t, err)

	exp2 := newTestExperiment(t, "second")
	_, err = gs.Gen(ctx, exp2, nil, 1)
	require.Error(t, err)
	assert.IsType(t, &core.UnsupportedError{}, err)
}

func TestStrategyDataRequiredPropagates(t *testing.T) {
	model := &fakeModel{fitErr: core.NewDataRequiredErrorf("need observations")}
	gs, err := NewGenerationStrategy(StrategyConfig{
		Steps: []GenerationStep{{Spec: fakeSpec("model_a", model), NumTrials: UnlimitedTrials}},
	})
	require.NoError(t, err)
	exp := newTestExperiment(t, "data-required")

	// No partial progress: the error must surface.
	_, err = gs.GenForMultipleTrials(context.Background(), exp, nil, 1, 2, nil)
	require.Error(t, err)
	assert.IsType(t, &core.DataRequiredError{}, err)
}

func TestStrategyDataRequiredPartialProgress(t *testing.T) {
	model := &fakeModel{genErrAfter: 1}
	gs, err := NewGenerationStrategy(StrategyConfig{
		Steps: []GenerationStep{{Spec: fakeSpec("model_a", model), NumTrials: UnlimitedTrials}},
	})
	require.NoError(t, err)
	exp := newTestExperiment(t, "partial")

	// The second trial's failure is swallowed; one trial comes back.
	trials, err := gs.GenForMultipleTrials(context.Background(), exp, nil, 1, 3, nil)
	require.NoError(t, err)
	assert.Len(t, trials, 1)
	assert.Len(t, trials[0], 1)
}

func TestStrategyNumTrialsClampedToNodeBudget(t *testing.T) {
	modelA := &fakeModel{}
	gs := twoStepStrategy(t, modelA, &fakeModel{}, 2, UnlimitedTrials)
	exp := newTestExperiment(t, "clamp")

	trials, err := gs.GenForMultipleTrials(context.Background(), exp, nil, 1, 10, nil)
	require.NoError(t, err)
	// The first step allows two more trials; the request is clamped.
	assert.Len(t, trials, 2)
}

func TestStrategyMultiNodeTrial(t *testing.T) {
	modelA := &fakeModel{}
	modelB := &fakeModel{}
	nodeA, err := NewGenerationNode(NodeConfig{
		Name:     "init",
		Specs:    []GeneratorSpec{fakeSpec("model_a", modelA)},
		Criteria: []TransitionCriterion{&AutoTransitionAfterGen{Target: "refine", ContinueGen: true}},
	})
	require.NoError(t, err)
	nodeB, err := NewGenerationNode(NodeConfig{
		Name:  "refine",
		Specs: []GeneratorSpec{fakeSpec("model_b", modelB)},
	})
	require.NoError(t, err)

	gs, err := NewGenerationStrategy(StrategyConfig{Nodes: []*GenerationNode{nodeA, nodeB}})
	require.NoError(t, err)
	assert.True(t, gs.IsNodeBased())
	exp := newTestExperiment(t, "multi-node")

	trials, err := gs.GenForMultipleTrials(context.Background(), exp, nil, 1, 1, nil)
	require.NoError(t, err)
	require.Len(t, trials, 1)
	require.Len(t, trials[0], 2)
	assert.Equal(t, "init", trials[0][0].GenerationNodeName)
	assert.Equal(t, "refine", trials[0][1].GenerationNodeName)
	assert.Equal(t, "init", nodeB.PreviousNodeName())

	// Gen is restricted to single-generator-run trials.
	fresh, err := gs.CloneReset()
	require.NoError(t, err)
	exp2 := newTestExperiment(t, "multi-node-2")
	_, err = fresh.Gen(context.Background(), exp2, nil, 1)
	require.Error(t, err)
	assert.IsType(t, &core.UnsupportedError{}, err)

	// Step accessors are unavailable on node graphs.
	_, err = gs.CurrentStepIndex()
	require.Error(t, err)
	_, err = gs.ModelTransitions()
	require.Error(t, err)
}

func TestStrategyCloneReset(t *testing.T) {
	gs := twoStepStrategy(t, &fakeModel{}, &fakeModel{}, 1, UnlimitedTrials)
	exp := newTestExperiment(t, "clone")
	ctx := context.Background()

	gr, err := gs.Gen(ctx, exp, nil, 1)
	require.NoError(t, err)
	_, err = exp.NewTrial(gr)
	require.NoError(t, err)

	clone, err := gs.CloneReset()
	require.NoError(t, err)
	assert.Equal(t, gs.Name(), clone.Name())
	assert.Nil(t, clone.Experiment())
	assert.Empty(t, clone.GeneratorRuns())
	assert.Equal(t, "GenerationStep_0", clone.CurrentNodeName())

	// No criterion structs are shared between the clone and the original.
	for i, node := range gs.Nodes() {
		for j, criterion := range node.Criteria() {
			assert.NotSame(t, criterion, clone.Nodes()[i].Criteria()[j])
		}
	}

	// The clone binds to a fresh experiment; the original is unaffected.
	exp2 := newTestExperiment(t, "clone-target")
	_, err = clone.Gen(ctx, exp2, nil, 1)
	require.NoError(t, err)
	assert.Equal(t, "clone", gs.Experiment().Name)
	assert.Len(t, gs.GeneratorRuns(), 1)
}

func TestStrategyPendingObservationsExtended(t *testing.T) {
	gs := twoStepStrategy(t, &fakeModel{}, &fakeModel{}, 3, UnlimitedTrials)
	exp := newTestExperiment(t, "pending")
	pending := make(map[string][]core.ObservationFeatures)

	trials, err := gs.GenForMultipleTrials(context.Background(), exp, pending, 1, 2, nil)
	require.NoError(t, err)
	require.Len(t, trials, 2)

	// The caller's map is cloned, never mutated.
	assert.Empty(t, pending)

	// The two trials proposed different points.
	p0 := trials[0][0].Arms[0].Parameters["x"]
	p1 := trials[1][0].Arms[0].Parameters["x"]
	assert.NotEqual(t, p0, p1)
}

func TestStrategyArmsPerNodeValidation(t *testing.T) {
	gs := twoStepStrategy(t, &fakeModel{}, &fakeModel{}, 2, UnlimitedTrials)
	exp := newTestExperiment(t, "arms-per-node")

	_, err := gs.GenForMultipleTrials(context.Background(), exp, nil, 1, 1,
		map[string]int{"GenerationStep_0": 2})
	require.Error(t, err)
	assert.IsType(t, &core.UserInputError{}, err)
	assert.Contains(t, err.Error(), "GenerationStep_1")

	trials, err := gs.GenForMultipleTrials(context.Background(), exp, nil, 1, 1,
		map[string]int{"GenerationStep_0": 3, "GenerationStep_1": 2})
	require.NoError(t, err)
	require.Len(t, trials, 1)
	assert.Len(t, trials[0][0].Arms, 3)
}

func TestStrategyCurrentGeneratorRunLimit(t *testing.T) {
	gs, err := NewGenerationStrategy(StrategyConfig{
		Steps: []GenerationStep{
			{Spec: fakeSpec("model_a", &fakeModel{}), NumTrials: 3, MaxParallelism: 1},
		},
	})
	require.NoError(t, err)
	exp := newTestExperiment(t, "limit")
	ctx := context.Background()

	gr, err := gs.Gen(ctx, exp, nil, 1)
	require.NoError(t, err)
	trial, err := exp.NewTrial(gr)
	require.NoError(t, err)

	limit, done, err := gs.CurrentGeneratorRunLimit()
	require.NoError(t, err)
	assert.False(t, done)
	assert.Equal(t, 1, limit)

	// A running trial saturates the parallelism gate.
	require.NoError(t, exp.MarkRunning(trial.Index))
	limit, done, err = gs.CurrentGeneratorRunLimit()
	require.NoError(t, err)
	assert.False(t, done)
	assert.Equal(t, 0, limit)

	// Completing it frees the slot; the parallelism gate still caps the
	// answer at one new trial at a time.
	require.NoError(t, exp.AttachData(trial.Index, []core.Observation{
		{ArmName: gr.Arms[0].Name, MetricName: "loss", Mean: 1.0},
	}))
	limit, _, err = gs.CurrentGeneratorRunLimit()
	require.NoError(t, err)
	assert.Equal(t, 1, limit)
}

func TestStrategySkipFitReusesModel(t *testing.T) {
	model := &fakeModel{}
	gs, err := NewGenerationStrategy(StrategyConfig{
		Steps: []GenerationStep{{Spec: fakeSpec("model_a", model), NumTrials: UnlimitedTrials}},
	})
	require.NoError(t, err)
	exp := newTestExperiment(t, "skip-fit")

	trials, err := gs.GenForMultipleTrials(context.Background(), exp, nil, 1, 3, nil)
	require.NoError(t, err)
	assert.Len(t, trials, 3)
	// One fit serves the whole batch; each trial still generates.
	assert.Equal(t, 1, model.fitCalls)
	assert.Equal(t, 3, model.genCalls)
}
