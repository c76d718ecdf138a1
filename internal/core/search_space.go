package core

// RangeParameter describes one continuous dimension of the search space.
type RangeParameter struct {
	Name string
	// Lower and upper bounds, inclusive.
	Min, Max float64
	// LogScale indicates the parameter should be modeled in log space.
	LogScale bool
}

// SearchSpace is the set of parameters an experiment optimizes over.
type SearchSpace struct {
	Parameters []RangeParameter
}

// Validate checks that the search space is well formed.
func (ss SearchSpace) Validate() error {
	if len(ss.Parameters) == 0 {
		return NewUserInputErrorf("search space must contain at least one parameter")
	}
	seen := make(map[string]struct{}, len(ss.Parameters))
	for _, p := range ss.Parameters {
		if p.Name == "" {
			return NewUserInputErrorf("search space parameters must be named")
		}
		if _, ok := seen[p.Name]; ok {
			return NewUserInputErrorf("duplicate parameter name %q in search space", p.Name)
		}
		seen[p.Name] = struct{}{}
		if !(p.Min < p.Max) {
			return NewUserInputErrorf("parameter %q has invalid bounds [%v, %v]", p.Name, p.Min, p.Max)
		}
		if p.LogScale && p.Min <= 0 {
			return NewUserInputErrorf("parameter %q is log-scaled but has non-positive lower bound %v", p.Name, p.Min)
		}
	}
	return nil
}

// Bounds returns the [min, max] bounds of each parameter, in declaration
// order.
func (ss SearchSpace) Bounds() [][2]float64 {
	bounds := make([][2]float64, len(ss.Parameters))
	for i, p := range ss.Parameters {
		bounds[i] = [2]float64{p.Min, p.Max}
	}
	return bounds
}

// ParameterNames returns parameter names in declaration order.
func (ss SearchSpace) ParameterNames() []string {
	names := make([]string, len(ss.Parameters))
	for i, p := range ss.Parameters {
		names[i] = p.Name
	}
	return names
}

// PointFromMap converts a named parameterization into a point ordered by
// the search space's parameter declaration order.
func (ss SearchSpace) PointFromMap(params map[string]float64) ([]float64, error) {
	point := make([]float64, len(ss.Parameters))
	for i, p := range ss.Parameters {
		v, ok := params[p.Name]
		if !ok {
			return nil, NewUserInputErrorf("parameterization is missing parameter %q", p.Name)
		}
		point[i] = v
	}
	return point, nil
}

// MapFromPoint converts an ordered point into a named parameterization.
func (ss SearchSpace) MapFromPoint(point []float64) (map[string]float64, error) {
	if len(point) != len(ss.Parameters) {
		return nil, NewUserInputErrorf("point has %d values but search space has %d parameters", len(point), len(ss.Parameters))
	}
	params := make(map[string]float64, len(point))
	for i, p := range ss.Parameters {
		params[p.Name] = point[i]
	}
	return params, nil
}
