package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchSpaceValidate(t *testing.T) {
	tests := []struct {
		name    string
		ss      SearchSpace
		wantErr string
	}{
		{
			name:    "empty",
			ss:      SearchSpace{},
			wantErr: "at least one parameter",
		},
		{
			name:    "unnamed parameter",
			ss:      SearchSpace{Parameters: []RangeParameter{{Min: 0, Max: 1}}},
			wantErr: "named",
		},
		{
			name: "duplicate names",
			ss: SearchSpace{Parameters: []RangeParameter{
				{Name: "x", Min: 0, Max: 1},
				{Name: "x", Min: 0, Max: 2},
			}},
			wantErr: "duplicate",
		},
		{
			name:    "inverted bounds",
			ss:      SearchSpace{Parameters: []RangeParameter{{Name: "x", Min: 2, Max: 1}}},
			wantErr: "invalid bounds",
		},
		{
			name:    "log scale with zero lower bound",
			ss:      SearchSpace{Parameters: []RangeParameter{{Name: "x", Min: 0, Max: 1, LogScale: true}}},
			wantErr: "log-scaled",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.ss.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	ok := SearchSpace{Parameters: []RangeParameter{
		{Name: "lr", Min: 1e-5, Max: 1e-1, LogScale: true},
		{Name: "depth", Min: 1, Max: 12},
	}}
	assert.NoError(t, ok.Validate())
	assert.Equal(t, [][2]float64{{1e-5, 1e-1}, {1, 12}}, ok.Bounds())
	assert.Equal(t, []string{"lr", "depth"}, ok.ParameterNames())
}

func TestPointMapRoundTrip(t *testing.T) {
	ss := SearchSpace{Parameters: []RangeParameter{
		{Name: "a", Min: 0, Max: 1},
		{Name: "b", Min: 0, Max: 1},
	}}

	point, err := ss.PointFromMap(map[string]float64{"b": 2, "a": 1})
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2}, point)

	params, err := ss.MapFromPoint(point)
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"a": 1, "b": 2}, params)

	_, err = ss.PointFromMap(map[string]float64{"a": 1})
	require.Error(t, err)
	assert.IsType(t, &UserInputError{}, err)

	_, err = ss.MapFromPoint([]float64{1})
	require.Error(t, err)
	assert.IsType(t, &UserInputError{}, err)
}
