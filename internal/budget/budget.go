// Package budget implements the daily surface water budget that turns
// precipitation, temperature and potential evapotranspiration into groundwater
// recharge.
//
// Each day's precipitation is partitioned between rain and snowpack with a
// degree-day melt model. Available water is split into runoff (Cru) and
// infiltration; infiltration fills the readily available storage (RAS) bucket
// up to RASmax and the excess becomes recharge. Actual evapotranspiration is
// drawn from the bucket.
package budget

import (
	"math"
)

const (
	// DefaultTMelt is the air temperature (°C) above which precipitation falls
	// as rain and the snowpack melts.
	DefaultTMelt = 1.5

	// DefaultMeltCoeff is the degree-day melt coefficient in mm/°C/day.
	DefaultMeltCoeff = 4.0
)

// Params are the surface model parameters for one simulation.
type Params struct {
	Cru       float64 // runoff coefficient, fraction of available water
	RASmax    float64 // bucket capacity in mm
	TMelt     float64
	MeltCoeff float64
}

// NewParams returns parameters with the default melt threshold and coefficient.
func NewParams(cru, rasMax float64) Params {
	return Params{
		Cru:       cru,
		RASmax:    rasMax,
		TMelt:     DefaultTMelt,
		MeltCoeff: DefaultMeltCoeff,
	}
}

// Forcing is the daily weather driving the model. All slices share one length.
type Forcing struct {
	PET    []float64 // potential evapotranspiration, mm
	Precip []float64 // total precipitation, mm
	TAvg   []float64 // mean air temperature, °C
}

// Len returns the number of simulated days.
func (f Forcing) Len() int {
	return len(f.PET)
}

// Slice returns the forcing restricted to days [from, to).
func (f Forcing) Slice(from, to int) Forcing {
	return Forcing{
		PET:    f.PET[from:to],
		Precip: f.Precip[from:to],
		TAvg:   f.TAvg[from:to],
	}
}

// State holds every daily term of one simulation. Slices are allocated fresh
// by Simulate and share the forcing length; the last day carries no outgoing
// flux, so its RU, I, ETR and RECHG entries stay at zero.
type State struct {
	PAVL  []float64 // water available at the surface
	PACC  []float64 // snowpack water equivalent
	RU    []float64 // runoff
	I     []float64 // infiltration
	RAS   []float64 // readily available storage
	ETR   []float64 // actual evapotranspiration
	RECHG []float64 // recharge
}

// Simulate runs the water budget over the forcing with explicit daily steps.
// Rules for day i set the available water and snowpack of day i+1.
//
// RASmax is taken as given: the solver may probe negative capacities or report
// +Inf for an insensitive storage. A negative capacity leaves no room in the
// bucket; an infinite one stores all infiltration and yields no recharge.
func Simulate(p Params, f Forcing) *State {
	n := f.Len()
	s := &State{
		PAVL:  make([]float64, n),
		PACC:  make([]float64, n),
		RU:    make([]float64, n),
		I:     make([]float64, n),
		RAS:   make([]float64, n),
		ETR:   make([]float64, n),
		RECHG: make([]float64, n),
	}
	if n == 0 {
		return s
	}

	s.RAS[0] = p.RASmax

	for i := 0; i < n-1; i++ {
		melt := math.Max(0, p.MeltCoeff*(f.TAvg[i]-p.TMelt))

		if f.TAvg[i] > p.TMelt {
			if melt >= s.PACC[i] {
				// rain on bare ground, the whole pack goes with it
				s.PAVL[i+1] = s.PACC[i] + f.Precip[i]
				s.PACC[i+1] = 0
			} else {
				// rain on snow
				s.PAVL[i+1] = melt
				s.PACC[i+1] = s.PACC[i] - melt + f.Precip[i]
			}
		} else {
			s.PAVL[i+1] = 0
			s.PACC[i+1] = s.PACC[i] + f.Precip[i]
		}

		s.RU[i] = p.Cru * s.PAVL[i]
		s.I[i] = s.PAVL[i] - s.RU[i]

		dRAS := math.Min(s.I[i], capacity(p.RASmax, s.RAS[i]))
		s.RAS[i+1] = s.RAS[i] + dRAS
		s.RECHG[i] = s.I[i] - dRAS

		s.ETR[i] = math.Min(f.PET[i], s.RAS[i])
		s.RAS[i+1] -= s.ETR[i]
	}

	return s
}

// Recharge runs Simulate and returns only the daily recharge.
func Recharge(p Params, f Forcing) []float64 {
	return Simulate(p, f).RECHG
}

// capacity is the room left in the bucket. Inf-Inf would be NaN, which would
// poison every later day, so an infinite bucket always has infinite room.
func capacity(rasMax, ras float64) float64 {
	if math.IsInf(rasMax, 1) {
		return math.Inf(1)
	}
	return rasMax - ras
}
