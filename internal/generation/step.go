package generation

import (
	"fmt"

	"github.com/taigalabs/taiga/internal/core"
)

// UnlimitedTrials is the sentinel num-trials value meaning the step's
// model generates new trials indefinitely.
const UnlimitedTrials = -1

// GenerationStep is the restricted, backward-compatible definition of a
// fixed-length strategy phase: use one model for NumTrials trials, then
// move to the next step. Step sequences are compiled into standard
// generation nodes at strategy construction.
type GenerationStep struct {
	// ModelKey names the step's single model; Spec may override it with a
	// full spec carrying a custom factory.
	ModelKey string
	Spec     GeneratorSpec

	// NumTrials is the number of trials this step generates before the
	// strategy moves on, or UnlimitedTrials.
	NumTrials int
	// MaxParallelism limits concurrently running trials while this step is
	// active; 0 means no limit.
	MaxParallelism int
	// CompletionCriteria allow a non-final step to use UnlimitedTrials by
	// declaring its own exit conditions.
	CompletionCriteria []TransitionCriterion
	// DefaultArmCount, when positive, fixes the arms generated per trial.
	DefaultArmCount int
}

// StepMeta is the step metadata payload carried by nodes compiled from
// GenerationSteps. Its presence is what distinguishes a step-based node;
// behavior branches on the payload rather than on a separate type.
type StepMeta struct {
	NumTrials      int
	MaxParallelism int
	// Index is the step's position in the compiled sequence.
	Index int
}

// stepNodeName derives the auto-generated node name for step index idx.
func stepNodeName(idx int) string {
	return fmt.Sprintf("GenerationStep_%d", idx)
}

// compileSteps validates a step sequence and lowers it into generation
// nodes with auto-wired transition criteria from step i to step i+1.
//
// Validation rules:
//  1. Only the final step may use UnlimitedTrials, unless the step
//     declares explicit completion criteria.
//  2. NumTrials is positive or UnlimitedTrials.
//  3. MaxParallelism is zero (unset) or positive.
func compileSteps(steps []GenerationStep) ([]*GenerationNode, error) {
	nodes := make([]*GenerationNode, 0, len(steps))
	for idx, step := range steps {
		if step.NumTrials == UnlimitedTrials && len(step.CompletionCriteria) == 0 {
			if idx < len(steps)-1 {
				return nil, core.NewUserInputErrorf(
					"only the last step in a generation strategy may have NumTrials=-1; "+
						"step %d uses the sentinel without completion criteria", idx,
				)
			}
		} else if step.NumTrials < 1 && step.NumTrials != UnlimitedTrials {
			return nil, core.NewUserInputErrorf(
				"NumTrials must be positive or -1 (unlimited) for all generation steps, got %d for step %d",
				step.NumTrials, idx,
			)
		}
		if step.MaxParallelism < 0 {
			return nil, core.NewUserInputErrorf(
				"MaxParallelism must be unset or positive, got %d for step %d (model %s)",
				step.MaxParallelism, idx, step.ModelKey,
			)
		}

		spec := step.Spec
		if spec.ModelKey == "" {
			spec.ModelKey = step.ModelKey
		}
		if spec.ModelKey == "" {
			return nil, core.NewUserInputErrorf("step %d does not name a model", idx)
		}

		// Wire this step to its positional successor. The final step keeps
		// an empty target; firing it means the strategy is exhausted.
		target := ""
		if idx < len(steps)-1 {
			target = stepNodeName(idx + 1)
		}

		var criteria []TransitionCriterion
		if step.NumTrials != UnlimitedTrials {
			criteria = append(criteria, &MinTrials{
				Threshold:     step.NumTrials,
				Target:        target,
				NotInStatuses: []core.TrialStatus{core.TrialStatusFailed, core.TrialStatusAbandoned},
				FromNodeOnly:  true,
			})
		}
		criteria = append(criteria, step.CompletionCriteria...)
		if step.MaxParallelism > 0 {
			criteria = append(criteria, &MaxGenerationParallelism{Threshold: step.MaxParallelism})
		}

		node, err := NewGenerationNode(NodeConfig{
			Name:            stepNodeName(idx),
			Specs:           []GeneratorSpec{spec},
			Criteria:        criteria,
			DefaultArmCount: step.DefaultArmCount,
		})
		if err != nil {
			return nil, err
		}
		node.step = &StepMeta{
			NumTrials:      step.NumTrials,
			MaxParallelism: step.MaxParallelism,
			Index:          idx,
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}
