package core

import "time"

// Arm is one concrete parameter configuration to be evaluated. Arms are
// named when they are attached to a trial.
type Arm struct {
	Name       string
	Parameters map[string]float64
}

// Clone returns a deep copy of the arm.
func (a Arm) Clone() Arm {
	params := make(map[string]float64, len(a.Parameters))
	for k, v := range a.Parameters {
		params[k] = v
	}
	return Arm{Name: a.Name, Parameters: params}
}

// ObservationFeatures identifies a point in the search space, optionally
// tied to the trial it belongs to. Used to describe pending points that
// models should avoid re-suggesting.
type ObservationFeatures struct {
	Parameters map[string]float64
	TrialIndex int
}

// GeneratorRun is an immutable record of arms proposed by one generation
// call, together with provenance describing which model produced them.
type GeneratorRun struct {
	Arms []Arm
	// ModelKey identifies the model that produced the arms.
	ModelKey string
	// GenerationNodeName is the name of the generation node that produced
	// this run.
	GenerationNodeName string
	Time               time.Time
}

// TrialStatus describes the lifecycle state of a trial.
type TrialStatus string

const (
	TrialStatusCandidate TrialStatus = "CANDIDATE"
	TrialStatusStaged    TrialStatus = "STAGED"
	TrialStatusRunning   TrialStatus = "RUNNING"
	TrialStatusCompleted TrialStatus = "COMPLETED"
	TrialStatusFailed    TrialStatus = "FAILED"
	TrialStatusAbandoned TrialStatus = "ABANDONED"
)

// Terminal reports whether the status is a terminal one.
func (s TrialStatus) Terminal() bool {
	switch s {
	case TrialStatusCompleted, TrialStatusFailed, TrialStatusAbandoned:
		return true
	}
	return false
}

// Trial is one or more arms evaluated together as a unit in an experiment.
type Trial struct {
	Index  int
	Status TrialStatus
	// GeneratorRuns that contributed arms to this trial, in order.
	GeneratorRuns []*GeneratorRun
	// GenerationNodeName records which generation node produced the first
	// generator run of this trial. Used for node-scoped trial counting.
	GenerationNodeName string
}

// Arms returns all arms across the trial's generator runs.
func (t *Trial) Arms() []Arm {
	var arms []Arm
	for _, gr := range t.GeneratorRuns {
		arms = append(arms, gr.Arms...)
	}
	return arms
}

// Observation is a single observed measurement of one metric for one arm.
type Observation struct {
	ArmName    string
	MetricName string
	Mean       float64
	SEM        float64
	TrialIndex int
}

// Data is a collection of observations attached to an experiment.
type Data struct {
	Observations []Observation
}

// Empty reports whether the data holds no observations.
func (d Data) Empty() bool { return len(d.Observations) == 0 }

// NumObservations returns the number of observations in the data.
func (d Data) NumObservations() int { return len(d.Observations) }

// ForMetric returns the subset of observations for the named metric.
func (d Data) ForMetric(metric string) Data {
	var obs []Observation
	for _, o := range d.Observations {
		if o.MetricName == metric {
			obs = append(obs, o)
		}
	}
	return Data{Observations: obs}
}

// OptimizationConfig describes the objective of an experiment.
type OptimizationConfig struct {
	// Objective is the name of the metric being optimized.
	Objective string
	// Minimize indicates lower objective values are better.
	Minimize bool
}
