package core

import "fmt"

// Experiment holds trials, attached observations and the optimization
// objective for one optimization. The generation strategy holds a single
// non-owning reference to an experiment; it never mutates it beyond
// triggering new trials indirectly through returned generator runs.
type Experiment struct {
	Name               string
	SearchSpace        SearchSpace
	OptimizationConfig *OptimizationConfig
	// StatusQuo is the current baseline arm, if any.
	StatusQuo *Arm
	// TrackingMetrics are observed but not optimized.
	TrackingMetrics []string

	trials      []*Trial
	dataByTrial map[int][]Observation
	armsByName  map[string]Arm
}

// NewExperiment creates an experiment over the given search space.
func NewExperiment(name string, ss SearchSpace, optCfg *OptimizationConfig) (*Experiment, error) {
	if name == "" {
		return nil, NewUserInputErrorf("experiment name must not be empty")
	}
	if err := ss.Validate(); err != nil {
		return nil, err
	}
	return &Experiment{
		Name:               name,
		SearchSpace:        ss,
		OptimizationConfig: optCfg,
		dataByTrial:        make(map[int][]Observation),
		armsByName:         make(map[string]Arm),
	}, nil
}

// Trials returns all trials on the experiment, in creation order.
func (e *Experiment) Trials() []*Trial { return e.trials }

// Trial returns the trial with the given index.
func (e *Experiment) Trial(index int) (*Trial, bool) {
	if index < 0 || index >= len(e.trials) {
		return nil, false
	}
	return e.trials[index], true
}

// NewTrial creates a trial from the given generator runs and registers its
// arms. Arm names are assigned as "<trial>_<arm>" if unset.
func (e *Experiment) NewTrial(grs ...*GeneratorRun) (*Trial, error) {
	if len(grs) == 0 {
		return nil, NewUserInputErrorf("a trial requires at least one generator run")
	}
	t := &Trial{
		Index:              len(e.trials),
		Status:             TrialStatusCandidate,
		GeneratorRuns:      grs,
		GenerationNodeName: grs[0].GenerationNodeName,
	}
	armIdx := 0
	for _, gr := range grs {
		for i := range gr.Arms {
			if gr.Arms[i].Name == "" {
				gr.Arms[i].Name = fmt.Sprintf("%d_%d", t.Index, armIdx)
			}
			e.armsByName[gr.Arms[i].Name] = gr.Arms[i]
			armIdx++
		}
	}
	e.trials = append(e.trials, t)
	return t, nil
}

// ArmForName looks up a registered arm by name.
func (e *Experiment) ArmForName(name string) (Arm, bool) {
	a, ok := e.armsByName[name]
	return a, ok
}

// MarkRunning moves a trial from a pre-run status to RUNNING.
func (e *Experiment) MarkRunning(trialIndex int) error {
	t, ok := e.Trial(trialIndex)
	if !ok {
		return NewUserInputErrorf("no trial with index %d on experiment %q", trialIndex, e.Name)
	}
	if t.Status.Terminal() {
		return NewUserInputErrorf("trial %d is already in terminal status %s", trialIndex, t.Status)
	}
	t.Status = TrialStatusRunning
	return nil
}

// MarkFailed moves a trial to FAILED.
func (e *Experiment) MarkFailed(trialIndex int) error {
	t, ok := e.Trial(trialIndex)
	if !ok {
		return NewUserInputErrorf("no trial with index %d on experiment %q", trialIndex, e.Name)
	}
	t.Status = TrialStatusFailed
	return nil
}

// AttachData records observations for a trial and marks it completed.
func (e *Experiment) AttachData(trialIndex int, observations []Observation) error {
	t, ok := e.Trial(trialIndex)
	if !ok {
		return NewUserInputErrorf("no trial with index %d on experiment %q", trialIndex, e.Name)
	}
	for i := range observations {
		observations[i].TrialIndex = trialIndex
		if _, ok := e.armsByName[observations[i].ArmName]; !ok {
			return NewUserInputErrorf("observation references unknown arm %q", observations[i].ArmName)
		}
	}
	e.dataByTrial[trialIndex] = append(e.dataByTrial[trialIndex], observations...)
	t.Status = TrialStatusCompleted
	return nil
}

// LookupData returns all observations attached to the experiment, in trial
// order.
func (e *Experiment) LookupData() Data {
	var obs []Observation
	for _, t := range e.trials {
		obs = append(obs, e.dataByTrial[t.Index]...)
	}
	return Data{Observations: obs}
}

// CountTrials returns the number of trials matching the status filters.
// Empty onlyIn means all statuses are counted; notIn excludes statuses.
// If fromNode is non-empty only trials produced by that generation node
// are counted.
func (e *Experiment) CountTrials(onlyIn, notIn []TrialStatus, fromNode string) int {
	count := 0
	for _, t := range e.trials {
		if fromNode != "" && t.GenerationNodeName != fromNode {
			continue
		}
		if len(onlyIn) > 0 && !statusIn(t.Status, onlyIn) {
			continue
		}
		if statusIn(t.Status, notIn) {
			continue
		}
		count++
	}
	return count
}

// RunningTrialCount returns the number of trials currently running.
func (e *Experiment) RunningTrialCount() int {
	return e.CountTrials([]TrialStatus{TrialStatusRunning}, nil, "")
}

// MetricNames returns the objective metric followed by tracking metrics.
func (e *Experiment) MetricNames() []string {
	var names []string
	if e.OptimizationConfig != nil {
		names = append(names, e.OptimizationConfig.Objective)
	}
	names = append(names, e.TrackingMetrics...)
	return names
}

func statusIn(s TrialStatus, statuses []TrialStatus) bool {
	for _, other := range statuses {
		if s == other {
			return true
		}
	}
	return false
}
