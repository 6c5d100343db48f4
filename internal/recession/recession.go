// Package recession turns daily recharge into a synthetic well hydrograph with
// a linear reservoir drained by the master recession curve.
//
// Levels are in millimeters below ground surface, so recharge lowers the
// number and recession raises it. The curve parameters are fitted against
// meters; the conversion happens in types.Recession.RateMM.
package recession

import (
	"fmt"

	"github.com/chrissnell/gwrecharge/internal/types"
)

// Direction selects which end of the observed record anchors the hydrograph.
type Direction string

const (
	// Forward starts at the first observation and steps forward in time.
	Forward Direction = "forward"
	// Backward starts at the last observation and steps back in time, which
	// lets the hydrograph be extended before the first measurement.
	Backward Direction = "backward"
)

// Propagate builds the synthetic hydrograph driven by recharge (mm/day). The
// result has len(recharge)+1 levels in mm. Only the anchoring end of
// observedMM is read.
func Propagate(recharge []float64, curve types.Recession, observedMM []float64, sy float64, dir Direction) ([]float64, error) {
	if len(observedMM) == 0 {
		return nil, fmt.Errorf("no observed level to anchor the hydrograph: %w", types.ErrInvalidArgument)
	}
	if !(sy > 0) {
		return nil, fmt.Errorf("specific yield must be positive, got %v: %w", sy, types.ErrInvalidArgument)
	}

	switch dir {
	case Forward:
		return forward(recharge, curve, observedMM[0], sy), nil
	case Backward:
		return backward(recharge, curve, observedMM[len(observedMM)-1], sy), nil
	default:
		return nil, fmt.Errorf("unsupported propagation direction %q: %w", dir, types.ErrInvalidArgument)
	}
}

func forward(recharge []float64, curve types.Recession, start, sy float64) []float64 {
	level := make([]float64, len(recharge)+1)
	level[0] = start
	for i, r := range recharge {
		level[i+1] = level[i] - r/sy + curve.RateMM(level[i])
	}
	return level
}

// backward inverts the forward step: level[i] is the state that the forward
// recurrence would carry to level[i+1], i.e. the root of
//
//	h + max(0, 1000*B - A*h) = level[i+1] + recharge[i]/Sy
//
// The left side is piecewise linear and increasing for A < 1, so each branch of
// the clamp has a closed form and exactly one of them is consistent.
func backward(recharge []float64, curve types.Recession, end, sy float64) []float64 {
	level := make([]float64, len(recharge)+1)
	level[len(recharge)] = end
	for i := len(recharge) - 1; i >= 0; i-- {
		level[i] = solveStep(level[i+1]+recharge[i]/sy, curve, level[i+1])
	}
	return level
}

func solveStep(y float64, curve types.Recession, next float64) float64 {
	bMM := curve.B * 1000

	// recession inactive: h = y, valid when the clamp is engaged at y
	if bMM-curve.A*y <= 0 {
		return y
	}

	// recession active: h + bMM - A*h = y
	if denom := 1 - curve.A; denom != 0 {
		h := (y - bMM) / denom
		if bMM-curve.A*h >= 0 {
			return h
		}
	}

	// A >= 1 folds the curve over and the step has no unique inverse. Fall
	// back to the explicit step evaluated at the known state.
	return y - curve.RateMM(next)
}

// ToMM converts levels in meters below ground to millimeters, keeping NaN for
// missing observations.
func ToMM(levelsM []float64) []float64 {
	out := make([]float64, len(levelsM))
	for i, v := range levelsM {
		out[i] = v * 1000
	}
	return out
}

// ToMeters converts levels in millimeters to meters below ground.
func ToMeters(levelsMM []float64) []float64 {
	out := make([]float64, len(levelsMM))
	for i, v := range levelsMM {
		out[i] = v / 1000
	}
	return out
}
