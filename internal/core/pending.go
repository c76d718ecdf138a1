package core

// ExtractPendingObservations collects, per metric, the features of arms in
// non-terminal trials. Models use this map to avoid re-suggesting points
// that are already being evaluated.
func ExtractPendingObservations(e *Experiment) map[string][]ObservationFeatures {
	pending := make(map[string][]ObservationFeatures)
	metrics := e.MetricNames()
	if len(metrics) == 0 {
		return pending
	}
	for _, t := range e.Trials() {
		if t.Status.Terminal() {
			continue
		}
		for _, arm := range t.Arms() {
			feat := ObservationFeatures{Parameters: arm.Parameters, TrialIndex: t.Index}
			for _, m := range metrics {
				pending[m] = append(pending[m], feat)
			}
		}
	}
	return pending
}

// ExtendPendingObservations appends the arms of a generator run to the
// pending map for every metric on the experiment. The map is mutated in
// place.
func ExtendPendingObservations(e *Experiment, pending map[string][]ObservationFeatures, gr *GeneratorRun) {
	metrics := e.MetricNames()
	for _, arm := range gr.Arms {
		feat := ObservationFeatures{Parameters: arm.Parameters, TrialIndex: -1}
		for _, m := range metrics {
			pending[m] = append(pending[m], feat)
		}
	}
}

// ClonePendingObservations deep-copies a pending-observations map so the
// copy can be mutated without affecting the caller's map.
func ClonePendingObservations(pending map[string][]ObservationFeatures) map[string][]ObservationFeatures {
	cloned := make(map[string][]ObservationFeatures, len(pending))
	for metric, feats := range pending {
		copied := make([]ObservationFeatures, len(feats))
		for i, f := range feats {
			params := make(map[string]float64, len(f.Parameters))
			for k, v := range f.Parameters {
				params[k] = v
			}
			copied[i] = ObservationFeatures{Parameters: params, TrialIndex: f.TrialIndex}
		}
		cloned[metric] = copied
	}
	return cloned
}
