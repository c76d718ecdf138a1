package generation

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/taigalabs/taiga/internal/adapter"
	"github.com/taigalabs/taiga/internal/core"
)

// maxGenerationLoopIterations bounds the multi-node inner loop as a guard
// against node graphs that skip forever without producing arms.
const maxGenerationLoopIterations = 100

// StrategyConfig defines a generation strategy. Exactly one of Steps or
// Nodes must be provided.
type StrategyConfig struct {
	// Name of the strategy; defaults to the node names joined with "+".
	Name string
	// Steps defines a linear, fixed-length-phase strategy.
	Steps []GenerationStep
	// Nodes defines a node-graph strategy.
	Nodes []*GenerationNode
	// Logger used for strategy diagnostics.
	Logger *zap.Logger
}

// GenerationStrategy orchestrates which model generates new points for
// which trials. It owns the ordered list of generation nodes, tracks the
// current node, drives the generate-transition loop and accumulates the
// generator-run history.
//
// A strategy is single-threaded: callers must not invoke its methods
// concurrently.
type GenerationStrategy struct {
	name      string
	nodes     []*GenerationNode
	curr      *GenerationNode
	stepBased bool
	// steps retains the original step definitions so CloneReset can
	// rebuild a step-based strategy from configuration.
	steps []GenerationStep

	usesRegisteredModels bool
	generatorRuns        []*core.GeneratorRun
	experiment           *core.Experiment
	model                adapter.Adapter
	logger               *zap.Logger
}

// NewGenerationStrategy validates the config and constructs the strategy.
// Step sequences are compiled into nodes with auto-wired transition
// criteria; node graphs are validated for name uniqueness, resolvable
// transition targets and edge consistency.
func NewGenerationStrategy(cfg StrategyConfig) (*GenerationStrategy, error) {
	hasSteps := len(cfg.Steps) > 0
	hasNodes := len(cfg.Nodes) > 0
	if hasSteps == hasNodes {
		return nil, NewMisconfiguredErrorf("a generation strategy must contain either steps or nodes, not both or neither")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	gs := &GenerationStrategy{
		stepBased: hasSteps,
		logger:    logger.Named("generation_strategy"),
	}

	if hasSteps {
		nodes, err := compileSteps(cfg.Steps)
		if err != nil {
			return nil, err
		}
		gs.nodes = nodes
		gs.steps = append([]GenerationStep(nil), cfg.Steps...)
	} else {
		if err := validateNodeGraph(cfg.Nodes, gs.logger); err != nil {
			return nil, err
		}
		gs.nodes = cfg.Nodes
	}
	gs.curr = gs.nodes[0]

	gs.usesRegisteredModels = true
	for _, node := range gs.nodes {
		for _, spec := range node.cfg.Specs {
			if !spec.registered() {
				gs.usesRegisteredModels = false
			}
		}
	}
	if !gs.usesRegisteredModels {
		gs.logger.Warn("strategy uses models via custom factories; optimization is not resumable if interrupted")
	}

	gs.name = cfg.Name
	if gs.name == "" {
		gs.name = defaultStrategyName(gs.nodes)
	}
	return gs, nil
}

// validateNodeGraph checks the invariants of a node-graph strategy:
// pairwise-distinct node names, every transition target resolvable, only
// parallelism gates without a target, and agreement on
// continue-trial-generation along each edge.
func validateNodeGraph(nodes []*GenerationNode, logger *zap.Logger) error {
	names := make(map[string]struct{}, len(nodes))
	for _, node := range nodes {
		if _, dup := names[node.Name()]; dup {
			return NewMisconfiguredErrorf("all node names in a generation strategy must be unique; %q repeats", node.Name())
		}
		names[node.Name()] = struct{}{}
	}

	anyTarget := false
	for _, node := range nodes {
		targets, edges := node.TransitionEdges()
		for _, target := range targets {
			criteria := edges[target]
			if target == "" {
				for _, c := range criteria {
					if !isParallelismClass(c.Class()) {
						return NewMisconfiguredErrorf(
							"only %s criteria may omit a transition target, but %s on node %q does",
							CriterionClassMaxParallelism, c.Class(), node.Name(),
						)
					}
				}
				continue
			}
			anyTarget = true
			if _, ok := names[target]; !ok {
				return NewMisconfiguredErrorf(
					"transition target %q on node %q does not correspond to any node in this strategy",
					target, node.Name(),
				)
			}
			agreed := criteria[0].ContinueTrialGeneration()
			for _, c := range criteria[1:] {
				if c.ContinueTrialGeneration() != agreed {
					return NewMisconfiguredErrorf(
						"all transition criteria on the edge from node %q to node %q must agree on continue-trial-generation",
						node.Name(), target,
					)
				}
			}
		}
	}
	if len(nodes) > 1 && !anyTarget {
		logger.Warn("no node in this strategy declares a transition target; the strategy cannot move between nodes")
	}
	return nil
}

func defaultStrategyName(nodes []*GenerationNode) string {
	names := make([]string, len(nodes))
	for i, node := range nodes {
		names[i] = node.Name()
	}
	return strings.Join(names, "+")
}

// Name returns the strategy name.
func (gs *GenerationStrategy) Name() string { return gs.name }

// Nodes returns the strategy's nodes in declaration order.
func (gs *GenerationStrategy) Nodes() []*GenerationNode { return gs.nodes }

// IsNodeBased reports whether the strategy was built from a node graph
// rather than a step sequence.
func (gs *GenerationStrategy) IsNodeBased() bool { return !gs.stepBased }

// CurrentNode returns the node the strategy will generate from next.
func (gs *GenerationStrategy) CurrentNode() *GenerationNode { return gs.curr }

// CurrentNodeName returns the current node's name.
func (gs *GenerationStrategy) CurrentNodeName() string { return gs.curr.Name() }

// CurrentStepIndex returns the index of the current generation step. It is
// only supported on step-based strategies.
func (gs *GenerationStrategy) CurrentStepIndex() (int, error) {
	if !gs.stepBased {
		return 0, core.NewUnsupportedErrorf("CurrentStepIndex is not supported for node-based generation strategies")
	}
	return gs.curr.step.Index, nil
}

// ModelTransitions is permanently disabled. The model key recorded on each
// generator run carries the same information.
func (gs *GenerationStrategy) ModelTransitions() ([]int, error) {
	if !gs.stepBased {
		return nil, core.NewUnsupportedErrorf("ModelTransitions is not supported for node-based generation strategies")
	}
	return nil, core.NewUnsupportedErrorf("ModelTransitions is no longer supported; use the ModelKey field on generator runs instead")
}

// Model returns the adapter behind the most recent generation, or nil if
// the strategy has not generated yet.
func (gs *GenerationStrategy) Model() adapter.Adapter { return gs.model }

// Experiment returns the experiment this strategy generates for, or nil if
// none has been bound yet.
func (gs *GenerationStrategy) Experiment() *core.Experiment { return gs.experiment }

// GeneratorRuns returns the chronological history of generator runs
// produced through this strategy.
func (gs *GenerationStrategy) GeneratorRuns() []*core.GeneratorRun { return gs.generatorRuns }

// LastGeneratorRun returns the most recent generator run, or nil if none
// have been produced. Used to restore model state when resuming an
// interrupted optimization.
func (gs *GenerationStrategy) LastGeneratorRun() *core.GeneratorRun {
	if len(gs.generatorRuns) == 0 {
		return nil
	}
	return gs.generatorRuns[len(gs.generatorRuns)-1]
}

// UsesNonRegisteredModels reports whether the strategy involves models
// that cannot be restored by key and therefore cannot be stored.
func (gs *GenerationStrategy) UsesNonRegisteredModels() bool {
	return !gs.usesRegisteredModels
}

// OptimizationComplete reports whether every node is completed: no more
// generation is possible anywhere in the graph.
func (gs *GenerationStrategy) OptimizationComplete() bool {
	if gs.experiment == nil {
		return false
	}
	for _, node := range gs.nodes {
		if !node.IsCompleted(gs.experiment) {
			return false
		}
	}
	return true
}

// bindExperiment associates the strategy with an experiment. A strategy is
// permanently associated with the first experiment it generates for;
// binding a different one by name is an error.
func (gs *GenerationStrategy) bindExperiment(exp *core.Experiment) error {
	if exp == nil {
		return core.NewUserInputErrorf("an experiment is required for generation")
	}
	if gs.experiment != nil && gs.experiment.Name != exp.Name {
		return core.NewUnsupportedErrorf(
			"this generation strategy has been used for experiment %q; cannot reset it to %q. "+
				"Create a new generation strategy for a new optimization",
			gs.experiment.Name, exp.Name,
		)
	}
	gs.experiment = exp
	return nil
}

func (gs *GenerationStrategy) nodeByName(name string) (*GenerationNode, bool) {
	for _, node := range gs.nodes {
		if node.Name() == name {
			return node, true
		}
	}
	return nil, false
}

// Gen produces the next generator run for the experiment: exactly one,
// destined to become a single trial. Strategies whose node graph would
// contribute several generator runs to one trial must use
// GenForMultipleTrials instead; Gen fails loudly in that case.
//
// The pending map is extended in place with the proposed arms.
func (gs *GenerationStrategy) Gen(
	ctx context.Context,
	exp *core.Experiment,
	pending map[string][]core.ObservationFeatures,
	n int,
) (*core.GeneratorRun, error) {
	if err := gs.bindExperiment(exp); err != nil {
		return nil, err
	}
	grs, err := gs.genWithMultipleNodes(ctx, exp, GenArgs{N: n, Pending: pending}, true)
	if err != nil {
		return nil, err
	}
	if len(grs) > 1 {
		return nil, core.NewUnsupportedErrorf(
			"Gen expects a single trial with one generator run, but the strategy produced %d generator runs; "+
				"use GenForMultipleTrials for batch trials spanning nodes",
			len(grs),
		)
	}
	if len(grs) == 0 {
		return nil, core.NewUnsupportedErrorf("the strategy produced no generator runs; every visited node was skipped")
	}
	return grs[0], nil
}

// GenForMultipleTrials produces generator runs for up to numTrials trials,
// allowing several nodes (and therefore models) to contribute generator
// runs to each trial. The outer slice has one entry per suggested trial.
//
// The caller's pending map is deep-copied once and then evolves across
// trials, so arms proposed for trial k are pending while generating trial
// k+1. numTrials is clamped to the current node's remaining trial budget
// when that budget is finite. A DataRequiredError surfaced after at least
// one trial's runs were produced ends generation early and returns the
// partial result.
func (gs *GenerationStrategy) GenForMultipleTrials(
	ctx context.Context,
	exp *core.Experiment,
	pending map[string][]core.ObservationFeatures,
	n int,
	numTrials int,
	armsPerNode map[string]int,
) ([][]*core.GeneratorRun, error) {
	if err := gs.bindExperiment(exp); err != nil {
		return nil, err
	}
	if pending == nil {
		pending = core.ExtractPendingObservations(exp)
	} else {
		pending = core.ClonePendingObservations(pending)
	}

	limit, err := gs.curr.NewTrialLimit(exp, false)
	if err != nil {
		return nil, err
	}
	if limit == -1 {
		numTrials = max(numTrials, 1)
	} else {
		numTrials = max(min(numTrials, limit), 1)
	}

	var trials [][]*core.GeneratorRun
	for i := 0; i < numTrials; i++ {
		args := GenArgs{N: n, Pending: pending, ArmsPerNode: armsPerNode}
		grs, err := gs.genWithMultipleNodes(ctx, exp, args, len(trials) < 1)
		if err != nil {
			if _, dataRequired := err.(*core.DataRequiredError); dataRequired && len(trials) > 0 {
				gs.logger.Debug("model required more data; returning partial trials",
					zap.Int("trials_produced", len(trials)),
					zap.Error(err),
				)
				break
			}
			return nil, err
		}
		trials = append(trials, grs)
	}
	return trials, nil
}

// CurrentGeneratorRunLimit first tries to advance the strategy to the next
// node, which is safe because the next Gen call picks up from there, then
// reports how many generator runs can be produced right now (assuming each
// becomes its own trial; -1 means unlimited) and whether the strategy is
// exhausted.
func (gs *GenerationStrategy) CurrentGeneratorRunLimit() (int, bool, error) {
	if gs.experiment == nil {
		return 0, false, core.NewUserInputErrorf("no experiment is bound to this generation strategy")
	}
	if _, err := gs.maybeTransitionToNextNode(false); err != nil {
		if _, completed := err.(*StrategyCompletedError); completed {
			return 0, true, nil
		}
		return 0, false, err
	}
	limit, err := gs.curr.NewTrialLimit(gs.experiment, false)
	if err != nil {
		return 0, false, err
	}
	return limit, false, nil
}

// CloneReset copies this strategy without its state: same node
// configuration, empty history, no bound experiment, no cached models.
// Nodes are rebuilt from configuration, so the clone shares no mutable
// state with the original.
func (gs *GenerationStrategy) CloneReset() (*GenerationStrategy, error) {
	cfg := StrategyConfig{Name: gs.name, Logger: gs.logger}
	if gs.stepBased {
		cfg.Steps = append([]GenerationStep(nil), gs.steps...)
	} else {
		cfg.Nodes = make([]*GenerationNode, len(gs.nodes))
		for i, node := range gs.nodes {
			rebuilt, err := NewGenerationNode(node.Config())
			if err != nil {
				return nil, err
			}
			cfg.Nodes[i] = rebuilt
		}
	}
	return NewGenerationStrategy(cfg)
}

// ---------------------- Candidate generation helpers ----------------------

// genWithMultipleNodes produces the generator runs for a single trial,
// looping across nodes when the transition criteria mark the trial as
// spanning nodes.
func (gs *GenerationStrategy) genWithMultipleNodes(
	ctx context.Context,
	exp *core.Experiment,
	args GenArgs,
	firstGenerationInMulti bool,
) ([]*core.GeneratorRun, error) {
	if err := gs.bindExperiment(exp); err != nil {
		return nil, err
	}
	if gs.OptimizationComplete() {
		return nil, &StrategyCompletedError{StrategyName: gs.name}
	}
	if err := gs.validateArmsPerNode(args.ArmsPerNode); err != nil {
		return nil, err
	}
	if args.Pending == nil {
		args.Pending = make(map[string][]core.ObservationFeatures)
	}

	var grsThisGen []*core.GeneratorRun
	continueGenForTrial := true
	for iterations := 0; continueGenForTrial; iterations++ {
		if iterations >= maxGenerationLoopIterations {
			return nil, NewMisconfiguredErrorf(
				"generation for one trial did not terminate after %d node visits; "+
					"the node graph likely skips in a cycle", maxGenerationLoopIterations,
			)
		}

		shouldTransition, targetName, err := gs.curr.ShouldTransitionToNextNode(exp, false)
		if err != nil {
			return grsThisGen, err
		}
		if shouldTransition {
			if target, ok := gs.nodeByName(targetName); ok {
				target.prevNodeName = gs.curr.Name()
				// Reset the skip flag only now, so node state stays as
				// fresh as possible when criteria re-evaluate it.
				target.shouldSkip = false
			}
		}
		transitioned, err := gs.maybeTransitionToNextNode(false)
		if err != nil {
			return grsThisGen, err
		}

		args.SkipFit = !(firstGenerationInMulti || transitioned)
		gr, err := gs.curr.Gen(ctx, exp, args)
		if err != nil {
			if _, dataRequired := err.(*core.DataRequiredError); dataRequired && len(grsThisGen) > 0 {
				// Partial progress is valid: return the runs already
				// produced for this trial.
				gs.logger.Debug("model required more data", zap.Error(err))
				break
			}
			return grsThisGen, err
		}
		gs.model = gs.curr.fitted
		if gr == nil {
			// The node was visited but deliberately skipped this round.
			continue
		}
		gs.generatorRuns = append(gs.generatorRuns, gr)
		grsThisGen = append(grsThisGen, gr)
		// Arms generated so far must be pending for the remaining nodes in
		// this loop and for future calls.
		core.ExtendPendingObservations(exp, args.Pending, gr)
		continueGenForTrial, err = gs.shouldContinueGenForTrial(exp)
		if err != nil {
			return grsThisGen, err
		}
	}
	return grsThisGen, nil
}

// shouldContinueGenForTrial determines whether another node should
// contribute a generator run to the trial currently being generated.
// Continuing always means transitioning, because each node generates once
// per trial loop; it happens only when every criterion on the firing edge
// marks continue-trial-generation.
func (gs *GenerationStrategy) shouldContinueGenForTrial(exp *core.Experiment) (bool, error) {
	shouldTransition, targetName, err := gs.curr.ShouldTransitionToNextNode(exp, false)
	if err != nil {
		return false, err
	}
	if !shouldTransition || targetName == "" || targetName == gs.curr.Name() {
		return false, nil
	}
	_, edges := gs.curr.TransitionEdges()
	for _, c := range edges[targetName] {
		if !c.ContinueTrialGeneration() {
			return false, nil
		}
	}
	return true, nil
}

// maybeTransitionToNextNode moves the strategy to the next node when the
// current node is completed. It returns a *StrategyCompletedError when the
// current node is complete but the whole strategy is exhausted, so callers
// can distinguish "nothing to do" from "truly done".
func (gs *GenerationStrategy) maybeTransitionToNextNode(raiseDataRequiredError bool) (bool, error) {
	move, targetName, err := gs.curr.ShouldTransitionToNextNode(gs.experiment, raiseDataRequiredError)
	if err != nil {
		return false, err
	}
	if !move {
		return false, nil
	}
	if gs.OptimizationComplete() {
		return false, &StrategyCompletedError{StrategyName: gs.name}
	}
	if targetName == "" {
		// The firing edge named no target: fall back to the positional
		// successor. Step compilation is the only construction that can
		// produce this shape.
		idx := gs.nodeIndex(gs.curr)
		if idx < 0 || idx+1 >= len(gs.nodes) {
			return false, &StrategyCompletedError{StrategyName: gs.name}
		}
		targetName = gs.nodes[idx+1].Name()
	}
	target, ok := gs.nodeByName(targetName)
	if !ok {
		return false, NewMisconfiguredErrorf("transition target %q does not correspond to any node", targetName)
	}
	gs.logger.Debug("transitioning between generation nodes",
		zap.String("from", gs.curr.Name()),
		zap.String("to", target.Name()),
	)
	gs.curr = target
	// A new node's model is initialized from scratch; fitted models never
	// carry across node boundaries.
	target.clearModelState()
	gs.model = nil
	return true, nil
}

func (gs *GenerationStrategy) nodeIndex(node *GenerationNode) int {
	for i, other := range gs.nodes {
		if other == node {
			return i
		}
	}
	return -1
}

// validateArmsPerNode checks that an explicit arms-per-node map covers
// every node in the strategy.
func (gs *GenerationStrategy) validateArmsPerNode(armsPerNode map[string]int) error {
	if armsPerNode == nil {
		return nil
	}
	var missing []string
	for _, node := range gs.nodes {
		if _, ok := armsPerNode[node.Name()]; !ok {
			missing = append(missing, node.Name())
		}
	}
	if len(missing) > 0 {
		return core.NewUserInputErrorf(
			"every node must have an arm count in armsPerNode; missing: %s",
			strings.Join(missing, ", "),
		)
	}
	return nil
}
