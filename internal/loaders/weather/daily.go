// Package weather loads daily weather records and turns them into the
// gap-free series the calibration needs.
package weather

import (
	"fmt"
	"math"
	"time"

	"github.com/chrissnell/gwrecharge/internal/log"
	"github.com/chrissnell/gwrecharge/internal/pet"
	"github.com/chrissnell/gwrecharge/internal/types"
)

// Daily is a raw daily record as a source delivers it: days may be missing and
// values may be NaN. PET is nil when the source has no evapotranspiration.
type Daily struct {
	Station   string
	Latitude  float64
	Longitude float64
	Elevation float64

	Dates  []time.Time
	TAvg   []float64
	Precip []float64
	PET    []float64
}

// Series cleans the record into a contiguous WeatherSeries:
//   - leading and trailing days without any value are dropped
//   - missing days are inserted
//   - missing temperature and PET are interpolated linearly, missing
//     precipitation is taken as zero
//   - PET is estimated with Thornthwaite when the source has none
func (d *Daily) Series() (*types.WeatherSeries, error) {
	if len(d.TAvg) != len(d.Dates) || len(d.Precip) != len(d.Dates) || (d.PET != nil && len(d.PET) != len(d.Dates)) {
		return nil, fmt.Errorf("weather record columns have mismatched lengths: %w", types.ErrInvalidArgument)
	}

	first, last := -1, -1
	for i := range d.Dates {
		if d.hasData(i) {
			if first < 0 {
				first = i
			}
			last = i
		}
	}
	if first < 0 {
		return nil, fmt.Errorf("weather record for %q has no data: %w", d.Station, types.ErrInvalidArgument)
	}
	if dropped := first + len(d.Dates) - 1 - last; dropped > 0 {
		log.Debugf("dropped %d empty rows at the ends of the weather record", dropped)
	}

	start := types.Midnight(d.Dates[first])
	for i := first + 1; i <= last; i++ {
		if types.DaysBetween(d.Dates[i-1], d.Dates[i]) < 1 {
			return nil, fmt.Errorf("weather dates are not increasing at %s: %w",
				d.Dates[i].Format("2006-01-02"), types.ErrInvalidArgument)
		}
	}
	n := types.DaysBetween(start, d.Dates[last]) + 1

	s := &types.WeatherSeries{
		Station:  d.Station,
		Latitude: d.Latitude,
		Dates:    make([]time.Time, n),
		TAvg:     nanSlice(n),
		Precip:   nanSlice(n),
		PET:      nanSlice(n),
	}
	for k := range s.Dates {
		s.Dates[k] = start.Add(time.Duration(k) * types.Day)
	}

	for i := first; i <= last; i++ {
		k := types.DaysBetween(start, d.Dates[i])
		s.TAvg[k] = d.TAvg[i]
		s.Precip[k] = d.Precip[i]
		if d.PET != nil {
			s.PET[k] = d.PET[i]
		}
	}
	if inserted := n - (last - first + 1); inserted > 0 {
		log.Infof("inserted %d missing days into the weather record of %q", inserted, d.Station)
	}

	if err := interpolate(s.TAvg); err != nil {
		return nil, fmt.Errorf("mean temperature: %w", err)
	}
	zeroMissing(s.Precip)

	if d.PET != nil {
		if err := interpolate(s.PET); err != nil {
			return nil, fmt.Errorf("potential evapotranspiration: %w", err)
		}
	} else {
		estimated, err := pet.Estimate(s.Dates, s.TAvg, d.Latitude)
		if err != nil {
			return nil, err
		}
		s.PET = estimated
		log.Infof("estimated potential evapotranspiration with Thornthwaite for %q (latitude %.2f)", d.Station, d.Latitude)
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (d *Daily) hasData(i int) bool {
	if !math.IsNaN(d.TAvg[i]) || !math.IsNaN(d.Precip[i]) {
		return true
	}
	return d.PET != nil && !math.IsNaN(d.PET[i])
}

// interpolate fills NaN runs linearly between their neighbours and holds the
// nearest value beyond the ends.
func interpolate(x []float64) error {
	known := make([]int, 0, len(x))
	for i, v := range x {
		if !math.IsNaN(v) {
			known = append(known, i)
		}
	}
	if len(known) == 0 {
		return fmt.Errorf("no value to interpolate from: %w", types.ErrInvalidArgument)
	}
	if len(known) == len(x) {
		return nil
	}

	for i := 0; i < known[0]; i++ {
		x[i] = x[known[0]]
	}
	for k := 1; k < len(known); k++ {
		lo, hi := known[k-1], known[k]
		for i := lo + 1; i < hi; i++ {
			w := float64(i-lo) / float64(hi-lo)
			x[i] = x[lo] + w*(x[hi]-x[lo])
		}
	}
	for i := known[len(known)-1] + 1; i < len(x); i++ {
		x[i] = x[known[len(known)-1]]
	}
	return nil
}

func zeroMissing(x []float64) {
	for i, v := range x {
		if math.IsNaN(v) {
			x[i] = 0
		}
	}
}

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}
