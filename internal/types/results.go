package types

import (
	"encoding/json"
	"math"
	"time"
)

// SolverStatus records how the RASmax solver terminated for a candidate.
type SolverStatus string

const (
	// StatusConverged means the RASmax update fell under the tolerance.
	StatusConverged SolverStatus = "converged"
	// StatusClamped means the estimate went negative and was clamped to zero.
	StatusClamped SolverStatus = "clamped"
	// StatusInsensitive means the simulated levels did not respond to RASmax;
	// RASmax is reported as +Inf.
	StatusInsensitive SolverStatus = "insensitive"
	// StatusIterationLimit means the iteration budget ran out; the last
	// estimate is returned as is.
	StatusIterationLimit SolverStatus = "iteration_limit"
)

// FitResult is the outcome of calibrating RASmax for one (Cru, Sy) pair.
// Levels and recharge are in millimeters.
type FitResult struct {
	Cru                float64      `json:"cru"`
	RASmax             float64      `json:"rasmax_mm"`
	SimulatedLevel     []float64    `json:"simulated_level_mm"`
	DailyRecharge      []float64    `json:"daily_recharge_mm"`
	RMSE               float64      `json:"rmse_mm"`
	NSE                float64      `json:"nse"`
	MeanAnnualRecharge float64      `json:"recharge_mm_yr"`
	Status             SolverStatus `json:"status"`
	Iterations         int          `json:"iterations"`
}

// Converged reports whether the solver met its tolerance.
func (f *FitResult) Converged() bool {
	return f.Status == StatusConverged
}

// CandidateScore is one row of a Cru sweep.
type CandidateScore struct {
	Cru        float64      `json:"cru"`
	RASmax     float64      `json:"rasmax_mm"`
	RMSE       float64      `json:"rmse_mm"`
	Status     SolverStatus `json:"status"`
	Iterations int          `json:"iterations"`
}

// CalibrationResult is the best fit found by the Cru search for a fixed
// specific yield, along with the sweep tables that led to it.
type CalibrationResult struct {
	ID        string           `json:"id,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
	Station   string           `json:"station,omitempty"`
	Well      string           `json:"well,omitempty"`
	Sy        float64          `json:"sy"`
	Best      FitResult        `json:"best"`
	Coarse    []CandidateScore `json:"coarse"`
	Fine      []CandidateScore `json:"fine"`
	Dates     []time.Time      `json:"dates"`
	Observed  []float64        `json:"observed_level_mm"`
}

// FitScore summarizes goodness of fit and recharge for a result.
type FitScore struct {
	RMSE               float64 `json:"rmse_mm"`
	NSE                float64 `json:"nse"`
	MeanAnnualRecharge float64 `json:"recharge_mm_yr"`
}

// ExportRow is one line of the tabular export. The last day of a window has
// no outgoing flux, so HasRecharge is false there.
type ExportRow struct {
	Time          time.Time `json:"time"`
	SimulatedMbgs float64   `json:"simulated_level_mbgs"`
	ObservedMbgs  float64   `json:"observed_level_mbgs"`
	RechargeMM    float64   `json:"recharge_mm"`
	HasRecharge   bool      `json:"-"`
}

// YearlyBudget is the water budget of one calendar year, all terms in mm.
type YearlyBudget struct {
	Year     int     `json:"year"`
	Precip   float64 `json:"precip_mm"`
	Runoff   float64 `json:"runoff_mm"`
	ET       float64 `json:"et_mm"`
	Recharge float64 `json:"recharge_mm"`
	Days     int     `json:"days"`
}

// encoding/json refuses Inf and NaN, and RASmax is +Inf for insensitive
// candidates. Non-finite scalars are written as null.

// MarshalJSON implements json.Marshaler
func (f FitResult) MarshalJSON() ([]byte, error) {
	type alias FitResult
	return json.Marshal(struct {
		alias
		RASmax *float64 `json:"rasmax_mm"`
		RMSE   *float64 `json:"rmse_mm"`
		NSE    *float64 `json:"nse"`
	}{
		alias:  alias(f),
		RASmax: finite(f.RASmax),
		RMSE:   finite(f.RMSE),
		NSE:    finite(f.NSE),
	})
}

// MarshalJSON implements json.Marshaler
func (c CandidateScore) MarshalJSON() ([]byte, error) {
	type alias CandidateScore
	return json.Marshal(struct {
		alias
		RASmax *float64 `json:"rasmax_mm"`
		RMSE   *float64 `json:"rmse_mm"`
	}{
		alias:  alias(c),
		RASmax: finite(c.RASmax),
		RMSE:   finite(c.RMSE),
	})
}

// MarshalJSON implements json.Marshaler
func (s FitScore) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		RMSE               *float64 `json:"rmse_mm"`
		NSE                *float64 `json:"nse"`
		MeanAnnualRecharge *float64 `json:"recharge_mm_yr"`
	}{
		RMSE:               finite(s.RMSE),
		NSE:                finite(s.NSE),
		MeanAnnualRecharge: finite(s.MeanAnnualRecharge),
	})
}

// MarshalJSON implements json.Marshaler. Missing observations are null.
func (r CalibrationResult) MarshalJSON() ([]byte, error) {
	type alias CalibrationResult
	observed := make([]*float64, len(r.Observed))
	for i, v := range r.Observed {
		observed[i] = finite(v)
	}
	return json.Marshal(struct {
		alias
		Observed []*float64 `json:"observed_level_mm"`
	}{
		alias:    alias(r),
		Observed: observed,
	})
}

// MarshalJSON implements json.Marshaler. Days without an observation have a
// null observed level.
func (e ExportRow) MarshalJSON() ([]byte, error) {
	type alias ExportRow
	out := struct {
		alias
		SimulatedMbgs *float64 `json:"simulated_level_mbgs"`
		ObservedMbgs  *float64 `json:"observed_level_mbgs"`
		RechargeMM    *float64 `json:"recharge_mm"`
	}{
		alias:         alias(e),
		SimulatedMbgs: finite(e.SimulatedMbgs),
		ObservedMbgs:  finite(e.ObservedMbgs),
	}
	if e.HasRecharge {
		out.RechargeMM = finite(e.RechargeMM)
	}
	return json.Marshal(out)
}

func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
