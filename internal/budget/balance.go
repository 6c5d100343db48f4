package budget

import (
	"fmt"
	"time"

	"github.com/chrissnell/gwrecharge/internal/types"
	"gonum.org/v1/gonum/floats"
)

// Balance is the water balance of one simulation over the days that carry a
// flux (all but the last). Inflow is the water made available at the surface;
// it must equal Runoff + Recharge + ET + StorageChange.
type Balance struct {
	Inflow        float64
	Runoff        float64
	Recharge      float64
	ET            float64
	StorageChange float64
}

// Residual is the mass-balance error of the run, in mm.
func (b Balance) Residual() float64 {
	return b.Inflow - (b.Runoff + b.Recharge + b.ET + b.StorageChange)
}

// Balance totals the state's fluxes.
func (s *State) Balance() Balance {
	n := len(s.PAVL)
	if n < 2 {
		return Balance{}
	}
	last := n - 1
	return Balance{
		Inflow:        floats.Sum(s.PAVL[:last]),
		Runoff:        floats.Sum(s.RU[:last]),
		Recharge:      floats.Sum(s.RECHG[:last]),
		ET:            floats.Sum(s.ETR[:last]),
		StorageChange: s.RAS[last] - s.RAS[0],
	}
}

// Yearly groups the simulated fluxes by calendar year. dates must line up with
// the state and the precipitation that drove it.
func Yearly(dates []time.Time, precip []float64, s *State) ([]types.YearlyBudget, error) {
	if len(dates) != len(s.RECHG) || len(precip) != len(s.RECHG) {
		return nil, fmt.Errorf("yearly budget needs %d dates and precipitation values, got %d and %d: %w",
			len(s.RECHG), len(dates), len(precip), types.ErrInvalidArgument)
	}

	var out []types.YearlyBudget
	for i, d := range dates {
		year := d.Year()
		if len(out) == 0 || out[len(out)-1].Year != year {
			out = append(out, types.YearlyBudget{Year: year})
		}
		yb := &out[len(out)-1]
		yb.Precip += precip[i]
		yb.Runoff += s.RU[i]
		yb.ET += s.ETR[i]
		yb.Recharge += s.RECHG[i]
		yb.Days++
	}
	return out, nil
}
