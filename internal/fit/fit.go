// Package fit scores a simulated hydrograph against observations.
//
// The metrics assume both slices hold only comparable values. Callers select
// the days that have an observation with Select (or use Evaluate) first.
package fit

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Score bundles the fit metrics for one simulation.
type Score struct {
	RMSE float64
	NSE  float64
}

// RMSE is the root mean squared error between obs and sim. It is NaN for
// empty input.
func RMSE(obs, sim []float64) float64 {
	if len(obs) == 0 || len(obs) != len(sim) {
		return math.NaN()
	}
	return floats.Distance(obs, sim, 2) / math.Sqrt(float64(len(obs)))
}

// NSE is the Nash-Sutcliffe efficiency: 1 minus the residual sum of squares
// over the variance of the observations. A perfect fit is exactly 1. When the
// observations are constant and the fit is not perfect the score is -Inf.
func NSE(obs, sim []float64) float64 {
	if len(obs) == 0 || len(obs) != len(sim) {
		return math.NaN()
	}
	d := floats.Distance(obs, sim, 2)
	ssRes := d * d
	if ssRes == 0 {
		return 1
	}

	mean := stat.Mean(obs, nil)
	var ssTot float64
	for _, v := range obs {
		ssTot += (v - mean) * (v - mean)
	}
	if ssTot == 0 {
		return math.Inf(-1)
	}
	return 1 - ssRes/ssTot
}

// Select returns values at the given indices.
func Select(values []float64, idx []int) []float64 {
	out := make([]float64, len(idx))
	for i, j := range idx {
		out[i] = values[j]
	}
	return out
}

// ValidIndices returns the indices of values that are not NaN.
func ValidIndices(values []float64) []int {
	idx := make([]int, 0, len(values))
	for i, v := range values {
		if !math.IsNaN(v) {
			idx = append(idx, i)
		}
	}
	return idx
}

// Evaluate scores sim against obs on the indices in idx.
func Evaluate(obs, sim []float64, idx []int) Score {
	o := Select(obs, idx)
	s := Select(sim, idx)
	return Score{
		RMSE: RMSE(o, s),
		NSE:  NSE(o, s),
	}
}

// Less orders RMSE values with NaN treated as +Inf, so a broken candidate
// never wins a comparison against a finite one.
func Less(a, b float64) bool {
	if math.IsNaN(a) {
		return false
	}
	if math.IsNaN(b) {
		return true
	}
	return a < b
}
