package solar

import (
	"math"
	"time"

	"github.com/soniakeys/meeus/v3/julian"
)

func degToRad(deg float64) float64 { return deg * math.Pi / 180.0 }
func radToDeg(rad float64) float64 { return rad * 180.0 / math.Pi }
func fixAngle(a float64) float64   { return a - 360.0*math.Floor(a/360.0) }

// Declination returns the apparent solar declination in degrees at time t.
func Declination(t time.Time) float64 {
	jd := julian.TimeToJD(t.UTC())
	T := (jd - 2451545.0) / 36525.0

	L0 := fixAngle(280.46646 + T*(36000.76983+T*0.0003032))
	M := fixAngle(357.52911 + T*(35999.05029-T*0.0001537))
	C := math.Sin(degToRad(M))*(1.914602-T*(0.004817+T*0.000014)) +
		math.Sin(degToRad(2*M))*(0.019993-T*0.000101) +
		math.Sin(degToRad(3*M))*0.000289
	Ω := 125.04 - 1934.136*T
	λ := L0 + C - 0.00569 - 0.00478*math.Sin(degToRad(Ω))
	eps0 := 23 + (26+(21.448-T*(46.815+T*(0.00059-T*0.001813)))/60)/60

	return radToDeg(math.Asin(math.Sin(degToRad(eps0)) * math.Sin(degToRad(λ))))
}

// DayLength returns the number of daylight hours on the calendar day of t at
// the given latitude, taking the sun's declination at local noon. Polar day
// returns 24 and polar night 0.
func DayLength(t time.Time, latitude float64) float64 {
	y, m, d := t.Date()
	noon := time.Date(y, m, d, 12, 0, 0, 0, time.UTC)

	cosH := -math.Tan(degToRad(latitude)) * math.Tan(degToRad(Declination(noon)))
	switch {
	case cosH <= -1:
		return 24
	case cosH >= 1:
		return 0
	}

	// 15 degrees of hour angle per hour, on both sides of noon
	return 2 * radToDeg(math.Acos(cosH)) / 15.0
}
