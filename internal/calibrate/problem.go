// Package calibrate fits the surface water budget to an observed hydrograph.
//
// Solver calibrates the storage capacity RASmax for a fixed runoff coefficient
// with a damped one-parameter Gauss-Newton iteration. Searcher sweeps the runoff
// coefficient over a coarse and then a fine grid, running the solver at each
// candidate, and keeps the candidate with the lowest RMSE.
package calibrate

import (
	"fmt"
	"math"

	"github.com/chrissnell/gwrecharge/internal/budget"
	"github.com/chrissnell/gwrecharge/internal/types"
)

// Problem is everything a calibration needs, already aligned on one daily
// window. Forcing and ObservedMM share the window length; Valid lists the days
// that carry an observation. A Problem is read-only once built and can be
// shared by concurrent solves.
type Problem struct {
	Sy         float64
	Forcing    budget.Forcing
	ObservedMM []float64
	Valid      []int
	Recession  types.Recession
}

// Validate rejects structurally unusable problems before any simulation runs.
func (p *Problem) Validate() error {
	if !(p.Sy > 0) || math.IsInf(p.Sy, 0) {
		return fmt.Errorf("specific yield must be a positive number, got %v: %w", p.Sy, types.ErrInvalidArgument)
	}
	n := p.Forcing.Len()
	if n < 2 {
		return fmt.Errorf("calibration window needs at least two days, got %d: %w", n, types.ErrInvalidArgument)
	}
	if len(p.Forcing.Precip) != n || len(p.Forcing.TAvg) != n || len(p.ObservedMM) != n {
		return fmt.Errorf("forcing and observations have mismatched lengths: %w", types.ErrInvalidArgument)
	}
	if len(p.Valid) == 0 {
		return fmt.Errorf("no observed water level in the calibration window: %w", types.ErrInvalidArgument)
	}
	for _, i := range p.Valid {
		if i < 0 || i >= n || math.IsNaN(p.ObservedMM[i]) {
			return fmt.Errorf("valid index %d does not point at an observation: %w", i, types.ErrInvalidArgument)
		}
	}
	if math.IsNaN(p.ObservedMM[0]) {
		return fmt.Errorf("the first day of the window has no observation to start the hydrograph from: %w", types.ErrInvalidArgument)
	}
	return nil
}

// Len returns the number of days in the window.
func (p *Problem) Len() int {
	return p.Forcing.Len()
}
