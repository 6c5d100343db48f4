// Package export writes calibration results as tab-delimited text.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/chrissnell/gwrecharge/internal/engine"
	"github.com/chrissnell/gwrecharge/internal/types"
)

// Write writes the parameter block, the results block and the daily table
// of observed level, simulated level and recharge.
func Write(w io.Writer, result *types.CalibrationResult) error {
	out := csv.NewWriter(w)
	out.Comma = '\t'

	best := result.Best
	records := [][]string{
		{"*** Model Parameters ***"},
		{},
		{"Sy :", fmt.Sprintf("%0.2f", result.Sy)},
		{"RASmax (mm) :", format(best.RASmax, 0)},
		{"Cru :", fmt.Sprintf("%0.2f", best.Cru)},
		{},
		{"*** Model Results ***"},
		{},
		{"RMSE (mm) :", format(best.RMSE, 0)},
		{"NSE :", format(best.NSE, 2)},
		{"Rechg (mm/y) :", format(best.MeanAnnualRecharge, 0)},
		{"Solver status :", string(best.Status)},
		{},
		{"*** Observed and Predicted Water Level ***"},
		{},
		{"Date", "hobs (mbgs)", "hpre (mbgs)", "Rechg (mm/d)"},
	}

	for _, row := range engine.ExportTable(result) {
		rec := []string{
			row.Time.Format("2006-01-02"),
			format(row.ObservedMbgs, 3),
			format(row.SimulatedMbgs, 3),
		}
		if row.HasRecharge {
			rec = append(rec, format(row.RechargeMM, 2))
		}
		records = append(records, rec)
	}

	if err := out.WriteAll(records); err != nil {
		return fmt.Errorf("error writing export: %w", err)
	}
	return nil
}

// WriteBudget writes the yearly water budget table.
func WriteBudget(w io.Writer, years []types.YearlyBudget) error {
	out := csv.NewWriter(w)
	out.Comma = '\t'

	records := [][]string{{"Year", "Days", "Ptot (mm)", "Runoff (mm)", "ETR (mm)", "Rechg (mm)"}}
	for _, y := range years {
		records = append(records, []string{
			strconv.Itoa(y.Year),
			strconv.Itoa(y.Days),
			format(y.Precip, 1),
			format(y.Runoff, 1),
			format(y.ET, 1),
			format(y.Recharge, 1),
		})
	}

	if err := out.WriteAll(records); err != nil {
		return fmt.Errorf("error writing water budget: %w", err)
	}
	return nil
}

// format renders a number with the given decimals; a missing value is an
// empty cell and an unbounded one is "inf".
func format(v float64, decimals int) string {
	switch {
	case math.IsNaN(v):
		return ""
	case math.IsInf(v, 1):
		return "inf"
	case math.IsInf(v, -1):
		return "-inf"
	}
	return strconv.FormatFloat(v, 'f', decimals, 64)
}
