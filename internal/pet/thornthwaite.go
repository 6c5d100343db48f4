// Package pet estimates daily potential evapotranspiration when a weather
// record does not carry it.
package pet

import (
	"fmt"
	"math"
	"time"

	"github.com/chrissnell/gwrecharge/internal/types"
	"github.com/chrissnell/gwrecharge/pkg/solar"
	"gonum.org/v1/gonum/stat"
)

// MonthlyNormals averages daily values into monthly means and then averages
// those across years, per calendar month. Months with a missing day do not
// count; a calendar month with no complete month is NaN.
func MonthlyNormals(dates []time.Time, values []float64) [12]float64 {
	type key struct {
		year  int
		month time.Month
	}
	sums := make(map[key]float64)
	counts := make(map[key]int)
	for i, d := range dates {
		if math.IsNaN(values[i]) {
			continue
		}
		k := key{d.Year(), d.Month()}
		sums[k] += values[i]
		counts[k]++
	}

	var perMonth [12][]float64
	for k, n := range counts {
		if n < daysIn(k.year, k.month) {
			continue
		}
		perMonth[k.month-1] = append(perMonth[k.month-1], sums[k]/float64(n))
	}

	var normals [12]float64
	for m := range normals {
		if len(perMonth[m]) == 0 {
			normals[m] = math.NaN()
			continue
		}
		normals[m] = stat.Mean(perMonth[m], nil)
	}
	return normals
}

// HeatIndex is the Thornthwaite annual heat index of the monthly temperature
// normals. Months below freezing and unknown months add nothing.
func HeatIndex(normals [12]float64) float64 {
	var index float64
	for _, ta := range normals {
		if math.IsNaN(ta) || ta <= 0 {
			continue
		}
		index += math.Pow(ta/5, 1.514)
	}
	return index
}

// Thornthwaite returns daily PET in mm from mean daily temperature, the
// monthly temperature normals of the station and its latitude.
func Thornthwaite(dates []time.Time, tavg []float64, latitude float64, normals [12]float64) ([]float64, error) {
	if len(dates) != len(tavg) {
		return nil, fmt.Errorf("thornthwaite needs one temperature per date, got %d dates and %d temperatures: %w",
			len(dates), len(tavg), types.ErrInvalidArgument)
	}

	out := make([]float64, len(dates))
	index := HeatIndex(normals)
	if index == 0 {
		return out, nil
	}
	a := 6.75e-7*index*index*index - 7.71e-5*index*index + 1.7912e-2*index + 0.49239

	for i, d := range dates {
		t := math.Max(0, tavg[i])
		if t == 0 {
			continue
		}
		monthly := 16 * math.Pow(10*t/index, a)
		out[i] = monthly * (solar.DayLength(d, latitude) / 12) / 30
	}
	return out, nil
}

// Estimate computes normals from the record itself and then Thornthwaite PET.
func Estimate(dates []time.Time, tavg []float64, latitude float64) ([]float64, error) {
	if len(dates) != len(tavg) {
		return nil, fmt.Errorf("pet estimate needs one temperature per date: %w", types.ErrInvalidArgument)
	}
	return Thornthwaite(dates, tavg, latitude, MonthlyNormals(dates, tavg))
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
