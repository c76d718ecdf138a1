package generation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taigalabs/taiga/internal/core"
)

// addTrial generates one arm from the node and registers it as a trial.
func addTrial(t *testing.T, exp *core.Experiment, node *GenerationNode) *core.Trial {
	t.Helper()
	gr, err := node.Gen(context.Background(), exp, GenArgs{N: 1})
	require.NoError(t, err)
	trial, err := exp.NewTrial(gr)
	require.NoError(t, err)
	return trial
}

func testNode(t *testing.T, name string) *GenerationNode {
	t.Helper()
	node, err := NewGenerationNode(NodeConfig{
		Name:  name,
		Specs: []GeneratorSpec{fakeSpec("m", &fakeModel{})},
	})
	require.NoError(t, err)
	return node
}

func TestMinTrialsStatusFilters(t *testing.T) {
	exp := newTestExperiment(t, "min-trials")
	node := testNode(t, "init")

	running := addTrial(t, exp, node)
	require.NoError(t, exp.MarkRunning(running.Index))
	failed := addTrial(t, exp, node)
	require.NoError(t, exp.MarkFailed(failed.Index))
	addTrial(t, exp, node) // candidate

	tests := []struct {
		name      string
		criterion *MinTrials
		want      bool
	}{
		{
			name:      "all statuses",
			criterion: &MinTrials{Threshold: 3, Target: "next"},
			want:      true,
		},
		{
			name:      "excluding failed",
			criterion: &MinTrials{Threshold: 3, Target: "next", NotInStatuses: []core.TrialStatus{core.TrialStatusFailed}},
			want:      false,
		},
		{
			name:      "only running",
			criterion: &MinTrials{Threshold: 1, Target: "next", OnlyInStatuses: []core.TrialStatus{core.TrialStatusRunning}},
			want:      true,
		},
		{
			name:      "only completed",
			criterion: &MinTrials{Threshold: 1, Target: "next", OnlyInStatuses: []core.TrialStatus{core.TrialStatusCompleted}},
			want:      false,
		},
		{
			name:      "unlimited sentinel never met",
			criterion: &MinTrials{Threshold: -1, Target: "next"},
			want:      false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			met, err := tt.criterion.IsMet(exp, node)
			require.NoError(t, err)
			assert.Equal(t, tt.want, met)
		})
	}
}

func TestMinTrialsFromNodeOnly(t *testing.T) {
	exp := newTestExperiment(t, "from-node")
	nodeA := testNode(t, "a")
	nodeB := testNode(t, "b")
	addTrial(t, exp, nodeA)
	addTrial(t, exp, nodeB)

	c := &MinTrials{Threshold: 2, Target: "next", FromNodeOnly: true}
	met, err := c.IsMet(exp, nodeA)
	require.NoError(t, err)
	assert.False(t, met)

	c2 := &MinTrials{Threshold: 2, Target: "next"}
	met, err = c2.IsMet(exp, nodeA)
	require.NoError(t, err)
	assert.True(t, met)
}

func TestMinimumDataObservations(t *testing.T) {
	exp := newTestExperiment(t, "min-data")
	node := testNode(t, "init")
	c := &MinimumDataObservations{Threshold: 1, Metric: "loss", Target: "next"}

	met, err := c.IsMet(exp, node)
	assert.False(t, met)
	require.Error(t, err)
	assert.IsType(t, &core.DataRequiredError{}, err)

	trial := addTrial(t, exp, node)
	require.NoError(t, exp.AttachData(trial.Index, []core.Observation{
		{ArmName: trial.Arms()[0].Name, MetricName: "loss", Mean: 0.5},
	}))

	met, err = c.IsMet(exp, node)
	require.NoError(t, err)
	assert.True(t, met)

	// A different metric does not satisfy the criterion.
	other := &MinimumDataObservations{Threshold: 1, Metric: "latency", Target: "next"}
	met, err = other.IsMet(exp, node)
	assert.False(t, met)
	require.Error(t, err)
}

func TestMaxGenerationParallelism(t *testing.T) {
	exp := newTestExperiment(t, "parallelism")
	node := testNode(t, "init")
	c := &MaxGenerationParallelism{Threshold: 1}

	met, err := c.IsMet(exp, node)
	require.NoError(t, err)
	assert.False(t, met)
	assert.Empty(t, c.TransitionTo())
	assert.False(t, c.ContinueTrialGeneration())

	trial := addTrial(t, exp, node)
	require.NoError(t, exp.MarkRunning(trial.Index))

	met, err = c.IsMet(exp, node)
	require.NoError(t, err)
	assert.True(t, met)
}

func TestAutoTransitionAfterGen(t *testing.T) {
	exp := newTestExperiment(t, "auto")
	node := testNode(t, "init")
	c := &AutoTransitionAfterGen{Target: "next", ContinueGen: true}

	met, err := c.IsMet(exp, node)
	require.NoError(t, err)
	assert.False(t, met)

	_, err = node.Gen(context.Background(), exp, GenArgs{N: 1})
	require.NoError(t, err)

	met, err = c.IsMet(exp, node)
	require.NoError(t, err)
	assert.True(t, met)
	assert.True(t, c.ContinueTrialGeneration())
}

func TestCriterionClasses(t *testing.T) {
	assert.Equal(t, CriterionClassMinTrials, (&MinTrials{}).Class())
	assert.Equal(t, CriterionClassMaxParallelism, (&MaxGenerationParallelism{}).Class())
	assert.True(t, isParallelismClass((&MaxGenerationParallelism{}).Class()))
	assert.False(t, isParallelismClass((&MinTrials{}).Class()))
}
