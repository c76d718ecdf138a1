package adapter

import "math"

// Transform is one reversible step in the data transform chain applied
// around model fitting and generation. Forward maps a point from parameter
// space toward model space; Inverse undoes it.
type Transform interface {
	Name() string
	Forward(x []float64) []float64
	Inverse(x []float64) []float64
}

// Chain is an ordered list of transforms. Forward applies them in order,
// Inverse in reverse order.
type Chain []Transform

// Forward applies every transform in order.
func (c Chain) Forward(x []float64) []float64 {
	out := append([]float64(nil), x...)
	for _, t := range c {
		out = t.Forward(out)
	}
	return out
}

// Inverse undoes every transform, last first.
func (c Chain) Inverse(x []float64) []float64 {
	out := append([]float64(nil), x...)
	for i := len(c) - 1; i >= 0; i-- {
		out = c[i].Inverse(out)
	}
	return out
}

// UnitScale maps each dimension from its bounds onto [0, 1].
type UnitScale struct {
	Bounds [][2]float64
}

// Name returns the transform name.
func (u *UnitScale) Name() string { return "unit_scale" }

// Forward scales a point into the unit cube.
func (u *UnitScale) Forward(x []float64) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		lo, hi := u.Bounds[i][0], u.Bounds[i][1]
		out[i] = (v - lo) / (hi - lo)
	}
	return out
}

// Inverse scales a unit-cube point back to the original bounds.
func (u *UnitScale) Inverse(x []float64) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		lo, hi := u.Bounds[i][0], u.Bounds[i][1]
		out[i] = lo + v*(hi-lo)
	}
	return out
}

// LogScale applies log10 to flagged dimensions. Dimensions are flagged by
// the mask; unflagged dimensions pass through unchanged.
type LogScale struct {
	Mask []bool
}

// Name returns the transform name.
func (l *LogScale) Name() string { return "log_scale" }

// Forward takes log10 of flagged dimensions.
func (l *LogScale) Forward(x []float64) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		if i < len(l.Mask) && l.Mask[i] {
			out[i] = math.Log10(v)
		} else {
			out[i] = v
		}
	}
	return out
}

// Inverse exponentiates flagged dimensions.
func (l *LogScale) Inverse(x []float64) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		if i < len(l.Mask) && l.Mask[i] {
			out[i] = math.Pow(10, v)
		} else {
			out[i] = v
		}
	}
	return out
}
