// Package mrc estimates recharge directly from a hydrograph with the
// water-table fluctuation method, using the master recession curve to project
// where the water table would have gone without recharge.
package mrc

import (
	"fmt"
	"math"
	"time"

	"github.com/chrissnell/gwrecharge/internal/types"
)

// Column describes the soil profile as layers. Depths holds the layer limits
// in meters below ground, starting at 0 and increasing; Sy holds the specific
// yield of each layer, so len(Depths) == len(Sy)+1.
type Column struct {
	Depths []float64 `json:"depths_m" yaml:"depths_m"`
	Sy     []float64 `json:"sy" yaml:"sy"`
}

// Uniform returns a single-layer column.
func Uniform(depth, sy float64) Column {
	return Column{Depths: []float64{0, depth}, Sy: []float64{sy}}
}

// Validate checks the layer geometry.
func (c Column) Validate() error {
	if len(c.Sy) == 0 || len(c.Depths) != len(c.Sy)+1 {
		return fmt.Errorf("soil column needs one more depth than layers, got %d depths and %d layers: %w",
			len(c.Depths), len(c.Sy), types.ErrInvalidArgument)
	}
	if c.Depths[0] != 0 {
		return fmt.Errorf("soil column must start at the ground surface: %w", types.ErrInvalidArgument)
	}
	for i := 1; i < len(c.Depths); i++ {
		if !(c.Depths[i] > c.Depths[i-1]) {
			return fmt.Errorf("soil layer limits must increase: %w", types.ErrInvalidArgument)
		}
	}
	for _, sy := range c.Sy {
		if !(sy > 0) {
			return fmt.Errorf("layer specific yield must be positive, got %v: %w", sy, types.ErrInvalidArgument)
		}
	}
	return nil
}

// Bottom returns the depth of the base of the column.
func (c Column) Bottom() float64 {
	return c.Depths[len(c.Depths)-1]
}

// Period is the recharge between two consecutive observations.
type Period struct {
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	Recharge float64   `json:"recharge_mm"`
}

// Recharge computes the recharge over each interval between consecutive
// observed levels. Readings must lie between the ground surface and the base
// of the column. The result is usually positive; a recession curve that
// overshoots the data gives negative values, which are kept.
func Recharge(levels *types.WaterLevelSeries, col Column) ([]Period, error) {
	if err := levels.Validate(); err != nil {
		return nil, err
	}
	if err := col.Validate(); err != nil {
		return nil, err
	}

	var dates []time.Time
	var h []float64
	for i, v := range levels.Level {
		if math.IsNaN(v) {
			continue
		}
		if v < 0 || v >= col.Bottom() {
			return nil, fmt.Errorf("water level %v m on %s is outside the soil column [0, %v): %w",
				v, levels.Dates[i].Format("2006-01-02"), col.Bottom(), types.ErrInvalidArgument)
		}
		dates = append(dates, levels.Dates[i])
		h = append(h, v)
	}
	if len(h) < 2 {
		return nil, fmt.Errorf("need at least two observed levels: %w", types.ErrInvalidArgument)
	}

	a, b := levels.Recession.A, levels.Recession.B
	out := make([]Period, len(h)-1)
	for i := range out {
		dt := dates[i+1].Sub(dates[i]).Hours() / 24

		// Crank-Nicolson step of the recession from h[i]
		hp := ((1-a*dt/2)*h[i] + b*dt) / (1 + a*dt/2)
		hp = math.Max(0, math.Min(hp, math.Nextafter(col.Bottom(), 0)))

		r := col.storage(math.Min(hp, h[i+1]), math.Max(hp, h[i+1]))
		out[i] = Period{
			Start:    dates[i],
			End:      dates[i+1],
			Recharge: sign(hp-h[i+1]) * r * 1000,
		}
	}
	return out, nil
}

// storage is the drainable water, in m, held between depths top and bottom.
func (c Column) storage(top, bottom float64) float64 {
	iTop, iBot := c.layer(top), c.layer(bottom)
	var s float64
	for k := iTop; k <= iBot; k++ {
		s += (c.Depths[k+1] - c.Depths[k]) * c.Sy[k]
	}
	s -= (c.Depths[iBot+1] - bottom) * c.Sy[iBot]
	s -= (top - c.Depths[iTop]) * c.Sy[iTop]
	return s
}

// layer returns the index of the layer containing depth z.
func (c Column) layer(z float64) int {
	k := 0
	for i := 0; i < len(c.Sy); i++ {
		if c.Depths[i] <= z {
			k = i
		}
	}
	return k
}

func sign(v float64) float64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}
