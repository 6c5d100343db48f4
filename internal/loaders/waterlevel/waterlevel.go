// Package waterlevel loads an observed well hydrograph from a spreadsheet or
// a delimited text file.
//
// Both layouts hold key/value header rows (Well Name, Latitude, Longitude,
// MRC A, MRC B) followed by a table whose first header cell is Date or Time.
// The first column of the table is the date, either as a spreadsheet serial
// day or as text; the second is the water level in meters below ground.
package waterlevel

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/chrissnell/gwrecharge/internal/log"
	"github.com/chrissnell/gwrecharge/internal/types"
	"github.com/xuri/excelize/v2"
)

var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02 15:04",
	"2006/01/02",
}

// Load reads a hydrograph file, choosing the reader from the extension:
// .xlsx/.xlsm workbooks, .csv comma-separated, anything else tab-separated.
// sheet selects the worksheet of a workbook; empty means the first one.
func Load(path, sheet string) (*types.WaterLevelSeries, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("error opening water level file: %w", err)
	}
	defer f.Close()

	var series *types.WaterLevelSeries
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		series, err = ReadWorkbook(f, sheet)
	case ".csv":
		series, err = ReadDelimited(f, ',')
	default:
		series, err = ReadDelimited(f, '\t')
	}
	if err != nil {
		return nil, fmt.Errorf("error reading water level file %s: %w", path, err)
	}
	return series, nil
}

// ReadWorkbook reads the hydrograph from a worksheet of an Excel workbook.
func ReadWorkbook(r io.Reader, sheet string) (*types.WaterLevelSeries, error) {
	wb, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer wb.Close()

	if sheet == "" {
		sheets := wb.GetSheetList()
		if len(sheets) == 0 {
			return nil, fmt.Errorf("workbook has no sheet: %w", types.ErrInvalidArgument)
		}
		sheet = sheets[0]
	}

	rows, err := wb.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %q: %w", sheet, err)
	}
	return parseRows(rows)
}

// ReadDelimited reads the hydrograph from delimited text.
func ReadDelimited(r io.Reader, comma rune) (*types.WaterLevelSeries, error) {
	reader := csv.NewReader(r)
	reader.Comma = comma
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}
	return parseRows(rows)
}

func parseRows(rows [][]string) (*types.WaterLevelSeries, error) {
	series := &types.WaterLevelSeries{}
	table := false
	merged := 0

	// running sum of the readings of the last day
	var sum float64
	var count int

	for i, row := range rows {
		key := cell(row, 0)
		if key == "" {
			continue
		}

		if !table {
			switch key {
			case "Well Name", "Well name", "Well":
				series.Well = cell(row, 1)
			case "MRC A":
				series.Recession.A = number(cell(row, 1))
			case "MRC B":
				series.Recession.B = number(cell(row, 1))
			case "Date", "Time":
				table = true
			}
			continue
		}

		date, err := parseDate(key)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+1, err)
		}
		level := number(cell(row, 1))

		// several readings on one day collapse into their mean
		if n := len(series.Dates); n > 0 && types.DaysBetween(series.Dates[n-1], date) == 0 {
			merged++
			if !math.IsNaN(level) {
				sum += level
				count++
				series.Level[n-1] = sum / float64(count)
			}
			continue
		}

		sum, count = 0, 0
		if !math.IsNaN(level) {
			sum, count = level, 1
		}
		series.Dates = append(series.Dates, types.Midnight(date))
		series.Level = append(series.Level, level)
	}

	if !table {
		return nil, fmt.Errorf("no Date/Time table found: %w", types.ErrInvalidArgument)
	}
	if math.IsNaN(series.Recession.A) || math.IsNaN(series.Recession.B) {
		return nil, fmt.Errorf("MRC parameters are not numbers: %w", types.ErrInvalidArgument)
	}
	if merged > 0 {
		log.Debugf("averaged %d sub-daily water level readings for %q", merged, series.Well)
	}
	if err := series.Validate(); err != nil {
		return nil, err
	}
	return series, nil
}

func parseDate(s string) (time.Time, error) {
	if serial, err := strconv.ParseFloat(s, 64); err == nil {
		t, err := excelize.ExcelDateToTime(serial, false)
		if err != nil {
			return time.Time{}, fmt.Errorf("bad spreadsheet date %q: %v: %w", s, err, types.ErrInvalidArgument)
		}
		return t.UTC(), nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q: %w", s, types.ErrInvalidArgument)
}

func cell(row []string, i int) string {
	if i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func number(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return math.NaN()
	}
	return v
}
