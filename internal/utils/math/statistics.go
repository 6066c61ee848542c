package math

import (
	"math"
	"sort"
)

// Mean calculates the arithmetic mean of a slice of float64 values
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}

	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// Median calculates the median of a slice of float64 values. The input is
// not modified. The second result is false for an empty slice.
func Median(values []float64) (float64, bool) {
	if len(values) == 0 {
		return 0, false
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	n := len(sorted)
	if n%2 == 0 {
		return (sorted[n/2-1] + sorted[n/2]) / 2, true
	}
	return sorted[n/2], true
}

// Mode returns the most frequent string. Ties resolve to the lexically
// smallest value so the result does not depend on row order. The second
// result is false for an empty slice.
func Mode(values []string) (string, bool) {
	if len(values) == 0 {
		return "", false
	}

	frequency := make(map[string]int)
	for _, v := range values {
		frequency[v]++
	}

	var mode string
	maxFreq := 0
	for val, freq := range frequency {
		if freq > maxFreq || (freq == maxFreq && val < mode) {
			maxFreq = freq
			mode = val
		}
	}

	return mode, true
}

// Variance calculates the sample variance of a slice of float64 values
func Variance(values []float64) float64 {
	if len(values) <= 1 {
		return 0
	}

	mean := Mean(values)
	sumSquaredDiff := 0.0

	for _, v := range values {
		diff := v - mean
		sumSquaredDiff += diff * diff
	}

	return sumSquaredDiff / float64(len(values)-1)
}

// StandardDeviation calculates the standard deviation of a slice of float64 values
func StandardDeviation(values []float64) float64 {
	return math.Sqrt(Variance(values))
}

// MinMax returns the smallest and largest values; both are 0 for an empty slice.
func MinMax(values []float64) (min, max float64) {
	if len(values) == 0 {
		return 0, 0
	}
	min, max = values[0], values[0]
	for _, v := range values[1:] {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return min, max
}

// Sum adds the values.
func Sum(values []float64) float64 {
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum
}
