package types

import (
	"fmt"
	"math"
	"time"
)

// Day is the daily timestep shared by every series in the calibration.
const Day = 24 * time.Hour

// WeatherSeries is a contiguous daily weather record. Precipitation and potential
// evapotranspiration are in millimeters, temperature in degrees Celsius. Loaders
// hand over a gap-free series; the calibration never mutates it.
type WeatherSeries struct {
	Station  string      `json:"station,omitempty"`
	Latitude float64     `json:"latitude,omitempty"`
	Dates    []time.Time `json:"dates"`
	Precip   []float64   `json:"precip_mm"`
	TAvg     []float64   `json:"tavg_c"`
	PET      []float64   `json:"pet_mm"`
}

// Len returns the number of days in the series
func (w *WeatherSeries) Len() int {
	return len(w.Dates)
}

// Validate checks that the series is non-empty, that all columns have the same
// length, and that the dates advance by exactly one day.
func (w *WeatherSeries) Validate() error {
	n := len(w.Dates)
	if n == 0 {
		return fmt.Errorf("weather series is empty: %w", ErrInvalidArgument)
	}
	if len(w.Precip) != n || len(w.TAvg) != n || len(w.PET) != n {
		return fmt.Errorf("weather series columns have mismatched lengths (dates=%d precip=%d tavg=%d pet=%d): %w",
			n, len(w.Precip), len(w.TAvg), len(w.PET), ErrInvalidArgument)
	}
	for i := 1; i < n; i++ {
		if DaysBetween(w.Dates[i-1], w.Dates[i]) != 1 {
			return fmt.Errorf("weather series is not contiguous at %s: %w",
				w.Dates[i].Format("2006-01-02"), ErrInvalidArgument)
		}
	}
	for i := 0; i < n; i++ {
		if math.IsNaN(w.Precip[i]) || math.IsNaN(w.TAvg[i]) || math.IsNaN(w.PET[i]) {
			return fmt.Errorf("weather series has a missing value on %s: %w",
				w.Dates[i].Format("2006-01-02"), ErrInvalidArgument)
		}
	}
	return nil
}

// Recession holds the master recession curve parameters fitted upstream.
// The recession rate in meters per day is B - A*h, h in meters below ground,
// clamped at zero.
type Recession struct {
	A float64 `json:"a" yaml:"a"`
	B float64 `json:"b" yaml:"b"`
}

// RateMM returns the clamped recession rate in mm/day for a level given in mm.
func (r Recession) RateMM(levelMM float64) float64 {
	return math.Max(0, (r.B-r.A*levelMM/1000)*1000)
}

// WaterLevelSeries is an observed well hydrograph in meters below ground
// surface. Dates are strictly increasing but may skip days; a NaN level marks a
// day the loader knows about but has no reading for.
type WaterLevelSeries struct {
	Well      string      `json:"well,omitempty"`
	Dates     []time.Time `json:"dates"`
	Level     []float64   `json:"level_mbgs"`
	Recession Recession   `json:"recession"`
}

// Len returns the number of records in the series
func (l *WaterLevelSeries) Len() int {
	return len(l.Dates)
}

// Validate checks lengths and ordering of the water level record.
func (l *WaterLevelSeries) Validate() error {
	n := len(l.Dates)
	if n == 0 {
		return fmt.Errorf("water level series is empty: %w", ErrInvalidArgument)
	}
	if len(l.Level) != n {
		return fmt.Errorf("water level series has %d dates but %d levels: %w", n, len(l.Level), ErrInvalidArgument)
	}
	for i := 1; i < n; i++ {
		if DaysBetween(l.Dates[i-1], l.Dates[i]) < 1 {
			return fmt.Errorf("water level dates are not strictly increasing at %s: %w",
				l.Dates[i].Format("2006-01-02"), ErrInvalidArgument)
		}
	}
	return nil
}

// Midnight truncates t to the start of its calendar day in UTC.
func Midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns the number of whole calendar days from a to b.
func DaysBetween(a, b time.Time) int {
	return int(math.Round(Midnight(b).Sub(Midnight(a)).Hours() / 24))
}
