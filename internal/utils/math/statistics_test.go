package math

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMedian(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		want   float64
		ok     bool
	}{
		{"empty", nil, 0, false},
		{"odd", []float64{3, 1, 2}, 2, true},
		{"even", []float64{4, 1, 3, 2}, 2.5, true},
		{"single", []float64{7}, 7, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Median(tt.values)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMedianDoesNotMutateInput(t *testing.T) {
	values := []float64{3, 1, 2}
	_, _ = Median(values)
	assert.Equal(t, []float64{3, 1, 2}, values)
}

func TestMode(t *testing.T) {
	mode, ok := Mode([]string{"b", "a", "b", "c"})
	assert.True(t, ok)
	assert.Equal(t, "b", mode)

	// tie between "b" and "a" resolves to the smaller value
	mode, ok = Mode([]string{"b", "a", "b", "a"})
	assert.True(t, ok)
	assert.Equal(t, "a", mode)

	_, ok = Mode(nil)
	assert.False(t, ok)
}

func TestMeanMinMaxSum(t *testing.T) {
	values := []float64{2, 8, 5}
	assert.Equal(t, 5.0, Mean(values))
	assert.Equal(t, 15.0, Sum(values))
	lo, hi := MinMax(values)
	assert.Equal(t, 2.0, lo)
	assert.Equal(t, 8.0, hi)
	assert.Equal(t, 0.0, Mean(nil))
	assert.InDelta(t, 3.0, StandardDeviation(values), 1e-9)
}
