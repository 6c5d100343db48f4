package engine

import (
	"fmt"
	"math"
	"time"

	"github.com/chrissnell/gwrecharge/internal/budget"
	"github.com/chrissnell/gwrecharge/internal/fit"
	"github.com/chrissnell/gwrecharge/internal/recession"
	"github.com/chrissnell/gwrecharge/internal/types"
)

// Window is the daily period shared by the weather record and the well
// hydrograph. Index k is the same day in every slice, except ForcingDates
// which trails Dates by the recharge lag.
type Window struct {
	Dates        []time.Time
	ForcingDates []time.Time
	Forcing      budget.Forcing
	ObservedM    []float64 // mbgs, NaN on days without a reading
	ObservedMM   []float64
	Valid        []int
	Lag          int
}

// Len returns the number of days in the window.
func (w *Window) Len() int {
	return len(w.Dates)
}

// Align cuts the overlap between the weather and water level records. Recharge
// generated at the surface on day d reaches the water table on day d+lag, so
// the forcing for window day t is the weather of day t-lag. The window is
// trimmed to start and end on an observed level.
func Align(weather *types.WeatherSeries, levels *types.WaterLevelSeries, lag int) (*Window, error) {
	if err := weather.Validate(); err != nil {
		return nil, err
	}
	if err := levels.Validate(); err != nil {
		return nil, err
	}
	if lag < 0 {
		return nil, fmt.Errorf("recharge lag must not be negative, got %d: %w", lag, types.ErrInvalidArgument)
	}

	weatherStart := types.Midnight(weather.Dates[0])
	forcedStart := weatherStart.Add(time.Duration(lag) * types.Day)
	forcedEnd := forcedStart.Add(time.Duration(weather.Len()-1) * types.Day)

	start := maxTime(forcedStart, types.Midnight(levels.Dates[0]))
	end := minTime(forcedEnd, types.Midnight(levels.Dates[levels.Len()-1]))
	if end.Before(start) {
		return nil, fmt.Errorf("weather (%s to %s, lag %d) and water levels (%s to %s) do not overlap: %w",
			weatherStart.Format("2006-01-02"), types.Midnight(weather.Dates[weather.Len()-1]).Format("2006-01-02"), lag,
			levels.Dates[0].Format("2006-01-02"), levels.Dates[levels.Len()-1].Format("2006-01-02"),
			types.ErrDataAlignment)
	}

	n := types.DaysBetween(start, end) + 1
	obs := daily(levels, start, n)

	valid := fit.ValidIndices(obs)
	if len(valid) == 0 {
		return nil, fmt.Errorf("no water level observation between %s and %s: %w",
			start.Format("2006-01-02"), end.Format("2006-01-02"), types.ErrDataAlignment)
	}
	first, last := valid[0], valid[len(valid)-1]
	if first == last {
		return nil, fmt.Errorf("only one observed day (%s) overlaps the weather record: %w",
			start.Add(time.Duration(first)*types.Day).Format("2006-01-02"), types.ErrDataAlignment)
	}

	obs = obs[first : last+1]
	start = start.Add(time.Duration(first) * types.Day)
	n = len(obs)

	offset := types.DaysBetween(weatherStart, start) - lag
	win := &Window{
		Dates:        make([]time.Time, n),
		ForcingDates: weather.Dates[offset : offset+n],
		Forcing: budget.Forcing{
			PET:    weather.PET[offset : offset+n],
			Precip: weather.Precip[offset : offset+n],
			TAvg:   weather.TAvg[offset : offset+n],
		},
		ObservedM:  obs,
		ObservedMM: recession.ToMM(obs),
		Valid:      fit.ValidIndices(obs),
		Lag:        lag,
	}
	for k := range win.Dates {
		win.Dates[k] = start.Add(time.Duration(k) * types.Day)
	}
	return win, nil
}

// daily places the readings on a daily grid starting at start, leaving NaN on
// days without one.
func daily(levels *types.WaterLevelSeries, start time.Time, n int) []float64 {
	out := make([]float64, n)
	for k := range out {
		out[k] = math.NaN()
	}
	for i, d := range levels.Dates {
		if k := types.DaysBetween(start, d); k >= 0 && k < n {
			out[k] = levels.Level[i]
		}
	}
	return out
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
