// Package logits turns raw policy scores into decisions and reportable
// probabilities.
package logits

import "math"

// Argmax returns the index of the largest value. Ties resolve to the
// earliest index, NaN never wins, and ok is false for an empty slice.
func Argmax(x []float32) (idx int, ok bool) {
	if len(x) == 0 {
		return 0, false
	}
	bestI := 0
	bestV := x[0]
	for i := 1; i < len(x); i++ {
		if x[i] > bestV || (isNaN(bestV) && !isNaN(x[i])) {
			bestV = x[i]
			bestI = i
		}
	}
	return bestI, true
}

// Softmax returns the probability distribution over x. The input is not
// modified. Exponentials are accumulated in float64 after subtracting the
// maximum.
func Softmax(x []float32) []float32 {
	out := make([]float32, len(x))
	if len(x) == 0 {
		return out
	}
	maxv := math.Inf(-1)
	for _, v := range x {
		maxv = math.Max(maxv, float64(v))
	}
	var sum float64
	exps := make([]float64, len(x))
	for i, v := range x {
		exps[i] = math.Exp(float64(v) - maxv)
		sum += exps[i]
	}
	if sum == 0 || math.IsNaN(sum) || math.IsInf(sum, 0) {
		return out
	}
	for i, e := range exps {
		out[i] = float32(e / sum)
	}
	return out
}

// Rank returns the indices of x ordered from largest to smallest value,
// keeping index order among equal values.
func Rank(x []float32) []int {
	idx := make([]int, len(x))
	for i := range idx {
		idx[i] = i
	}
	// insertion sort: policy heads have a handful of entries
	for i := 1; i < len(idx); i++ {
		for j := i; j > 0 && x[idx[j]] > x[idx[j-1]]; j-- {
			idx[j], idx[j-1] = idx[j-1], idx[j]
		}
	}
	return idx
}

func isNaN(v float32) bool { return math.IsNaN(float64(v)) }
