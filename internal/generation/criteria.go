package generation

import (
	"strings"

	"github.com/taigalabs/taiga/internal/core"
)

// Criterion class names, used for edge validation and introspection.
const (
	CriterionClassMinTrials               = "MinTrials"
	CriterionClassMinimumDataObservations = "MinimumDataObservations"
	CriterionClassMaxParallelism          = "MaxGenerationParallelism"
	CriterionClassAutoTransitionAfterGen  = "AutoTransitionAfterGen"
)

// TransitionCriterion is a predicate evaluated against a node and the live
// experiment state to decide whether the node is complete and where to go
// next. Criteria together form the edges of the generation strategy graph.
type TransitionCriterion interface {
	// IsMet reports whether the criterion is satisfied. It may return a
	// *core.DataRequiredError when the decision needs observations that
	// are not attached yet; callers decide whether to propagate it or
	// treat the criterion as unmet.
	IsMet(exp *core.Experiment, node *GenerationNode) (bool, error)

	// TransitionTo names the node to move to when the criterion fires.
	// Empty means no target: the criterion gates this node without ever
	// advancing the pointer by itself.
	TransitionTo() string

	// ContinueTrialGeneration indicates whether, after transitioning,
	// generation should keep filling the same trial (multi-node batch
	// trial) or stop so the next node generates for the next trial.
	ContinueTrialGeneration() bool

	// Class returns the criterion class name.
	Class() string

	// Clone returns an independent copy. Node configs deep-copy their
	// criteria through it, so rebuilt strategies share no criterion state
	// with their source.
	Clone() TransitionCriterion
}

// MinTrials fires once the experiment holds at least Threshold trials
// matching the status filters. When FromNodeOnly is set, only trials
// produced by the node the criterion is attached to are counted.
type MinTrials struct {
	Threshold int
	Target    string
	// OnlyInStatuses restricts counting to these statuses; empty counts all.
	OnlyInStatuses []core.TrialStatus
	// NotInStatuses excludes trials in these statuses from the count.
	NotInStatuses []core.TrialStatus
	FromNodeOnly  bool
	ContinueGen   bool
}

// IsMet reports whether enough qualifying trials exist.
func (c *MinTrials) IsMet(exp *core.Experiment, node *GenerationNode) (bool, error) {
	if c.Threshold < 0 {
		// Sentinel threshold: unlimited trials, never complete.
		return false, nil
	}
	fromNode := ""
	if c.FromNodeOnly {
		fromNode = node.Name()
	}
	return exp.CountTrials(c.OnlyInStatuses, c.NotInStatuses, fromNode) >= c.Threshold, nil
}

// TransitionTo returns the target node name.
func (c *MinTrials) TransitionTo() string { return c.Target }

// ContinueTrialGeneration reports whether generation continues in the same
// trial after this criterion fires.
func (c *MinTrials) ContinueTrialGeneration() bool { return c.ContinueGen }

// Class returns the criterion class name.
func (c *MinTrials) Class() string { return CriterionClassMinTrials }

// Clone returns an independent copy of the criterion.
func (c *MinTrials) Clone() TransitionCriterion {
	cloned := *c
	cloned.OnlyInStatuses = append([]core.TrialStatus(nil), c.OnlyInStatuses...)
	cloned.NotInStatuses = append([]core.TrialStatus(nil), c.NotInStatuses...)
	return &cloned
}

// remainingTrials returns how many more qualifying trials the node may
// produce before this criterion fires, or -1 for unlimited.
func (c *MinTrials) remainingTrials(exp *core.Experiment, node *GenerationNode) int {
	if c.Threshold < 0 {
		return -1
	}
	fromNode := ""
	if c.FromNodeOnly {
		fromNode = node.Name()
	}
	remaining := c.Threshold - exp.CountTrials(c.OnlyInStatuses, c.NotInStatuses, fromNode)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// MinimumDataObservations fires once the experiment has attached at least
// Threshold observations of the configured metric (all metrics when Metric
// is empty). While the data is missing it signals a distinguished
// data-required condition instead of an ordinary "not met".
type MinimumDataObservations struct {
	Threshold   int
	Metric      string
	Target      string
	ContinueGen bool
}

// IsMet reports whether enough observations are attached; when they are
// not, the returned error is a *core.DataRequiredError.
func (c *MinimumDataObservations) IsMet(exp *core.Experiment, node *GenerationNode) (bool, error) {
	data := exp.LookupData()
	if c.Metric != "" {
		data = data.ForMetric(c.Metric)
	}
	if data.NumObservations() >= c.Threshold {
		return true, nil
	}
	metric := c.Metric
	if metric == "" {
		metric = "any metric"
	}
	return false, core.NewDataRequiredErrorf(
		"node %q requires %d observations of %s before transitioning, have %d",
		node.Name(), c.Threshold, metric, data.NumObservations(),
	)
}

// TransitionTo returns the target node name.
func (c *MinimumDataObservations) TransitionTo() string { return c.Target }

// ContinueTrialGeneration reports whether generation continues in the same
// trial after this criterion fires.
func (c *MinimumDataObservations) ContinueTrialGeneration() bool { return c.ContinueGen }

// Class returns the criterion class name.
func (c *MinimumDataObservations) Class() string { return CriterionClassMinimumDataObservations }

// Clone returns an independent copy of the criterion.
func (c *MinimumDataObservations) Clone() TransitionCriterion {
	cloned := *c
	return &cloned
}

// MaxGenerationParallelism gates generation on the number of concurrently
// running trials. It never names a transition target: reaching the limit
// means "stay and wait", not "advance".
type MaxGenerationParallelism struct {
	Threshold int
}

// IsMet reports whether the running-trial count has reached the limit.
func (c *MaxGenerationParallelism) IsMet(exp *core.Experiment, node *GenerationNode) (bool, error) {
	return exp.RunningTrialCount() >= c.Threshold, nil
}

// TransitionTo always returns empty: this criterion never advances the
// pointer by itself.
func (c *MaxGenerationParallelism) TransitionTo() string { return "" }

// ContinueTrialGeneration is always false for a parallelism gate.
func (c *MaxGenerationParallelism) ContinueTrialGeneration() bool { return false }

// Class returns the criterion class name.
func (c *MaxGenerationParallelism) Class() string { return CriterionClassMaxParallelism }

// Clone returns an independent copy of the criterion.
func (c *MaxGenerationParallelism) Clone() TransitionCriterion {
	cloned := *c
	return &cloned
}

// AutoTransitionAfterGen fires as soon as the node it is attached to has
// produced a generator run, enabling batch trials where several nodes
// contribute arms to the same trial.
type AutoTransitionAfterGen struct {
	Target      string
	ContinueGen bool
}

// IsMet reports whether the node has generated since it last became the
// transition target.
func (c *AutoTransitionAfterGen) IsMet(exp *core.Experiment, node *GenerationNode) (bool, error) {
	return node.lastRun != nil, nil
}

// TransitionTo returns the target node name.
func (c *AutoTransitionAfterGen) TransitionTo() string { return c.Target }

// ContinueTrialGeneration reports whether generation continues in the same
// trial after this criterion fires.
func (c *AutoTransitionAfterGen) ContinueTrialGeneration() bool { return c.ContinueGen }

// Class returns the criterion class name.
func (c *AutoTransitionAfterGen) Class() string { return CriterionClassAutoTransitionAfterGen }

// Clone returns an independent copy of the criterion.
func (c *AutoTransitionAfterGen) Clone() TransitionCriterion {
	cloned := *c
	return &cloned
}

// isParallelismClass reports whether a criterion class is a parallelism
// gate, the one class allowed to omit a transition target.
func isParallelismClass(class string) bool {
	return strings.Contains(class, CriterionClassMaxParallelism)
}
