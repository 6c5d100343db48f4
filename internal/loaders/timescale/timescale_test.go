package timescale

import (
	"math"
	"testing"
	"time"

	"github.com/chrissnell/gwrecharge/internal/database"
)

func ptr(v float64) *float64 { return &v }

func TestConversions(t *testing.T) {
	tests := []struct {
		name     string
		got      float64
		expected float64
	}{
		{name: "freezing", got: FahrenheitToCelsius(32), expected: 0},
		{name: "boiling", got: FahrenheitToCelsius(212), expected: 100},
		{name: "minus forty", got: FahrenheitToCelsius(-40), expected: -40},
		{name: "one inch", got: InchesToMM(1), expected: 25.4},
		{name: "no rain", got: InchesToMM(0), expected: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if math.Abs(tt.got-tt.expected) > 1e-9 {
				t.Errorf("got %v, want %v", tt.got, tt.expected)
			}
		})
	}
}

func TestToDaily(t *testing.T) {
	day := time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)
	rows := []database.DailyBucket{
		{Bucket: day, OutTemp: ptr(68), PeriodRain: ptr(0.5)},
		{Bucket: day.AddDate(0, 0, 1), MaxOutTemp: ptr(86), MinOutTemp: ptr(50)},
		{Bucket: day.AddDate(0, 0, 3).Add(3 * time.Hour)},
	}

	d := ToDaily(rows, "backyard", 45.5)
	if d.Station != "backyard" || d.Latitude != 45.5 || d.PET != nil {
		t.Errorf("unexpected metadata %+v", d)
	}
	if math.Abs(d.TAvg[0]-20) > 1e-9 || math.Abs(d.Precip[0]-12.7) > 1e-9 {
		t.Errorf("day 0 converted to %v °C / %v mm", d.TAvg[0], d.Precip[0])
	}
	if math.Abs(d.TAvg[1]-20) > 1e-9 {
		t.Errorf("day 1 should fall back to the midpoint of its extremes, got %v", d.TAvg[1])
	}
	if !math.IsNaN(d.Precip[1]) || !math.IsNaN(d.TAvg[2]) {
		t.Errorf("NULL aggregates should be missing values")
	}
	if !d.Dates[2].Equal(day.AddDate(0, 0, 3)) {
		t.Errorf("bucket should be truncated to its day, got %s", d.Dates[2])
	}

	s, err := d.Series()
	if err != nil {
		t.Fatalf("Series: %v", err)
	}
	// the empty June 4 is dropped
	if s.Len() != 2 {
		t.Errorf("expected 2 days after cleaning, got %d", s.Len())
	}
}
