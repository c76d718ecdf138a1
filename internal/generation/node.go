// Package generation implements the generation strategy engine: the
// stateful graph of generation nodes that decides which model to fit, when
// to transition between models, and how to produce candidate generator
// runs from experiment data.
package generation

import (
	"context"
	"time"

	"github.com/taigalabs/taiga/internal/adapter"
	"github.com/taigalabs/taiga/internal/core"
)

// DefaultN is the number of arms generated when the caller requests none.
const DefaultN = 1

// GeneratorSpec binds a model key to the factory producing its adapter.
// When Factory is nil it is resolved from the adapter registry by key;
// strategies using unregistered factories are not resumable after a
// process restart.
type GeneratorSpec struct {
	ModelKey string
	Factory  adapter.Factory
}

func (s GeneratorSpec) resolveFactory() (adapter.Factory, error) {
	if s.Factory != nil {
		return s.Factory, nil
	}
	f, ok := adapter.Lookup(s.ModelKey)
	if !ok {
		return nil, core.NewUserInputErrorf("model key %q is not registered and no factory was provided", s.ModelKey)
	}
	return f, nil
}

// registered reports whether the spec's model can be restored by key alone.
func (s GeneratorSpec) registered() bool {
	return s.Factory == nil && adapter.IsRegistered(s.ModelKey)
}

// NodeConfig is the serializable definition of a generation node. Nodes
// are always rebuilt from their config, and cloning a config deep-copies
// its criteria, which is what makes CloneReset produce strategies sharing
// no mutable state.
type NodeConfig struct {
	Name     string
	Specs    []GeneratorSpec
	Criteria []TransitionCriterion
	// DefaultArmCount, when positive, overrides the caller's requested n
	// for this node.
	DefaultArmCount int
}

func (c NodeConfig) clone() NodeConfig {
	cloned := c
	cloned.Specs = append([]GeneratorSpec(nil), c.Specs...)
	cloned.Criteria = make([]TransitionCriterion, len(c.Criteria))
	for i, criterion := range c.Criteria {
		cloned.Criteria[i] = criterion.Clone()
	}
	return cloned
}

// GenerationNode wraps one or more model specs, its transition criteria
// and generation parameters. A node is constructed once with its strategy
// and mutated in place (previous-node bookkeeping, cached fitted model,
// skip flag) as generation proceeds.
type GenerationNode struct {
	cfg NodeConfig
	// step holds the step metadata payload for nodes compiled from
	// GenerationSteps; nil for graph-native nodes.
	step *StepMeta

	prevNodeName string
	shouldSkip   bool
	// fitted caches the adapter from the last Fit; cleared on node
	// transition so model reuse never crosses node boundaries.
	fitted  adapter.Adapter
	lastRun *core.GeneratorRun
}

// NewGenerationNode builds a node from its config.
func NewGenerationNode(cfg NodeConfig) (*GenerationNode, error) {
	if cfg.Name == "" {
		return nil, NewMisconfiguredErrorf("every generation node must be named")
	}
	if len(cfg.Specs) == 0 {
		return nil, NewMisconfiguredErrorf("node %q must declare at least one model spec", cfg.Name)
	}
	return &GenerationNode{cfg: cfg.clone()}, nil
}

// Name returns the node's unique name within its strategy.
func (n *GenerationNode) Name() string { return n.cfg.Name }

// Criteria returns the node's transition criteria.
func (n *GenerationNode) Criteria() []TransitionCriterion { return n.cfg.Criteria }

// Config returns a copy of the node's serializable definition.
func (n *GenerationNode) Config() NodeConfig { return n.cfg.clone() }

// StepMeta returns the step metadata payload, or nil for graph-native
// nodes.
func (n *GenerationNode) StepMeta() *StepMeta { return n.step }

// PreviousNodeName returns the name of the node that was current before
// this one, or empty if this node has not been transitioned into.
func (n *GenerationNode) PreviousNodeName() string { return n.prevNodeName }

// SetShouldSkip marks the node to deliberately produce nothing on its next
// generation attempt. The flag is reset each time the node becomes the
// generation target.
func (n *GenerationNode) SetShouldSkip(skip bool) { n.shouldSkip = skip }

// ShouldSkip reports the current skip flag.
func (n *GenerationNode) ShouldSkip() bool { return n.shouldSkip }

// FittedAdapter returns the cached fitted model handle, if any.
func (n *GenerationNode) FittedAdapter() adapter.Adapter { return n.fitted }

func (n *GenerationNode) clearModelState() {
	n.fitted = nil
	n.lastRun = nil
}

// TransitionEdges groups the node's criteria by transition target: all
// criteria sharing one target form one edge of the strategy graph. The
// returned target order follows criteria declaration order; the empty
// target collects criteria without one.
func (n *GenerationNode) TransitionEdges() (targets []string, edges map[string][]TransitionCriterion) {
	edges = make(map[string][]TransitionCriterion)
	for _, c := range n.cfg.Criteria {
		target := c.TransitionTo()
		if _, seen := edges[target]; !seen {
			targets = append(targets, target)
		}
		edges[target] = append(edges[target], c)
	}
	return targets, edges
}

// ShouldTransitionToNextNode evaluates the node's transition edges against
// the experiment. It returns true and the resolved target name when an
// edge fires (every criterion on it met); the target may be empty when the
// firing edge does not name one, in which case the strategy applies its
// positional fallback. When no edge fires it returns false and the node's
// own name, identifying the node as the generation source.
//
// Criteria that need unattached data either propagate a
// *core.DataRequiredError (raiseDataRequiredError true) or count as unmet.
// Repeated calls without an intervening Gen are side-effect free.
func (n *GenerationNode) ShouldTransitionToNextNode(exp *core.Experiment, raiseDataRequiredError bool) (bool, string, error) {
	targets, edges := n.TransitionEdges()
	for _, target := range targets {
		criteria := edges[target]
		if allParallelism(criteria) {
			// Parallelism gates never advance the pointer by themselves.
			continue
		}
		fired := true
		for _, c := range criteria {
			met, err := c.IsMet(exp, n)
			if err != nil {
				if _, dataRequired := err.(*core.DataRequiredError); dataRequired && !raiseDataRequiredError {
					fired = false
					break
				}
				return false, n.cfg.Name, err
			}
			if !met {
				fired = false
				break
			}
		}
		if fired {
			return true, target, nil
		}
	}
	return false, n.cfg.Name, nil
}

// IsCompleted reports whether the node is complete for generation
// purposes: some transition edge fires. Nodes without firing criteria are
// never complete.
func (n *GenerationNode) IsCompleted(exp *core.Experiment) bool {
	met, _, err := n.ShouldTransitionToNextNode(exp, false)
	return err == nil && met
}

// GenArgs carries the caller-facing generation inputs down to a node.
type GenArgs struct {
	// N is the requested number of arms; 0 falls back to the node's
	// default arm count, then DefaultN.
	N int
	// Data overrides the experiment's attached data when non-nil.
	Data *core.Data
	// Pending maps metric names to features of arms awaiting evaluation.
	Pending map[string][]core.ObservationFeatures
	// FixedFeatures override parameters on every proposed arm.
	FixedFeatures *core.ObservationFeatures
	// ArmsPerNode overrides the arm count per node name.
	ArmsPerNode map[string]int
	// SkipFit reuses the adapter fitted by a prior call in the same
	// multi-node trial instead of refitting.
	SkipFit bool
}

// armCount resolves how many arms this node should produce.
func (n *GenerationNode) armCount(args GenArgs) int {
	if count, ok := args.ArmsPerNode[n.cfg.Name]; ok {
		return count
	}
	if n.cfg.DefaultArmCount > 0 {
		return n.cfg.DefaultArmCount
	}
	if args.N > 0 {
		return args.N
	}
	return DefaultN
}

// Gen fits the node's adapter (unless a prior fit in the same multi-node
// trial remains valid) and produces a generator run. It returns (nil, nil)
// only when the node's skip flag is set: the node was visited but
// deliberately produces nothing this round.
func (n *GenerationNode) Gen(ctx context.Context, exp *core.Experiment, args GenArgs) (*core.GeneratorRun, error) {
	if n.shouldSkip {
		return nil, nil
	}
	spec := n.cfg.Specs[0]
	if n.fitted == nil || !args.SkipFit {
		factory, err := spec.resolveFactory()
		if err != nil {
			return nil, err
		}
		model, err := factory(exp)
		if err != nil {
			return nil, err
		}
		data := exp.LookupData()
		if args.Data != nil {
			data = *args.Data
		}
		if err := model.Fit(ctx, exp, data); err != nil {
			return nil, err
		}
		n.fitted = model
	}
	gr, err := n.fitted.Gen(ctx, n.armCount(args), args.Pending, args.FixedFeatures)
	if err != nil {
		return nil, err
	}
	gr.GenerationNodeName = n.cfg.Name
	if gr.ModelKey == "" {
		gr.ModelKey = spec.ModelKey
	}
	if gr.Time.IsZero() {
		gr.Time = time.Now()
	}
	n.lastRun = gr
	return gr, nil
}

// NewTrialLimit returns how many more trials the node may generate before
// it must transition: -1 for unlimited, otherwise the remaining budget.
// With raiseGenerationErrors set, an exhausted parallelism gate surfaces
// as a *MaxParallelismReachedError instead of a zero limit.
func (n *GenerationNode) NewTrialLimit(exp *core.Experiment, raiseGenerationErrors bool) (int, error) {
	limit := -1
	for _, c := range n.cfg.Criteria {
		switch criterion := c.(type) {
		case *MinTrials:
			remaining := criterion.remainingTrials(exp, n)
			if remaining >= 0 && (limit == -1 || remaining < limit) {
				limit = remaining
			}
		case *MaxGenerationParallelism:
			running := exp.RunningTrialCount()
			available := criterion.Threshold - running
			if available < 0 {
				available = 0
			}
			if available == 0 && raiseGenerationErrors {
				return 0, &MaxParallelismReachedError{
					NodeName: n.cfg.Name,
					Limit:    criterion.Threshold,
					Running:  running,
				}
			}
			if limit == -1 || available < limit {
				limit = available
			}
		}
	}
	return limit, nil
}

func allParallelism(criteria []TransitionCriterion) bool {
	for _, c := range criteria {
		if !isParallelismClass(c.Class()) {
			return false
		}
	}
	return len(criteria) > 0
}
