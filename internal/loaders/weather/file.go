package weather

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/chrissnell/gwrecharge/internal/types"
)

// Column names of the tab-delimited weather format.
const (
	colYear   = "Year"
	colMonth  = "Month"
	colDay    = "Day"
	colTMax   = "Max Temp (deg C)"
	colTMin   = "Min Temp (deg C)"
	colTAvg   = "Mean Temp (deg C)"
	colPrecip = "Total Precip (mm)"
	colPET    = "ETP (mm)"
)

// Load reads a weather file from disk. See Parse for the format.
func Load(path string) (*Daily, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("error opening weather file: %w", err)
	}
	defer f.Close()

	d, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("error reading weather file %s: %w", path, err)
	}
	return d, nil
}

// Parse reads the tab-delimited weather format: key/value header rows
// (Station Name, Latitude, Longitude, Elevation, ...) and then a table whose
// header row starts with Year. Year, Month, Day and Total Precip are required;
// Mean Temp may be replaced by Max and Min Temp; ETP is optional. Empty or
// unparsable cells are missing values.
func Parse(r io.Reader) (*Daily, error) {
	reader := csv.NewReader(r)
	reader.Comma = '\t'
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	d := &Daily{}
	var cols map[string]int

	line := 0
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		line++
		if len(row) == 0 || strings.TrimSpace(row[0]) == "" {
			continue
		}

		if cols == nil {
			key := strings.TrimSpace(row[0])
			switch key {
			case "Station Name":
				d.Station = cell(row, 1)
			case "Latitude":
				d.Latitude = headerNumber(cell(row, 1))
			case "Longitude":
				d.Longitude = headerNumber(cell(row, 1))
			case "Elevation":
				d.Elevation = headerNumber(cell(row, 1))
			case colYear:
				cols = make(map[string]int, len(row))
				for i, name := range row {
					cols[strings.TrimSpace(name)] = i
				}
				if err := checkColumns(cols); err != nil {
					return nil, err
				}
				if _, ok := cols[colPET]; ok {
					d.PET = []float64{}
				}
			}
			continue
		}

		if err := d.appendRow(row, cols, line); err != nil {
			return nil, err
		}
	}

	if cols == nil {
		return nil, fmt.Errorf("no data table found: %w", types.ErrInvalidArgument)
	}
	if len(d.Dates) == 0 {
		return nil, fmt.Errorf("weather data table is empty: %w", types.ErrInvalidArgument)
	}
	return d, nil
}

func checkColumns(cols map[string]int) error {
	for _, name := range []string{colYear, colMonth, colDay, colPrecip} {
		if _, ok := cols[name]; !ok {
			return fmt.Errorf("missing column %q: %w", name, types.ErrInvalidArgument)
		}
	}
	if _, ok := cols[colTAvg]; ok {
		return nil
	}
	_, hasMax := cols[colTMax]
	_, hasMin := cols[colTMin]
	if !hasMax || !hasMin {
		return fmt.Errorf("missing column %q: %w", colTAvg, types.ErrInvalidArgument)
	}
	return nil
}

func (d *Daily) appendRow(row []string, cols map[string]int, line int) error {
	year, errY := strconv.Atoi(cell(row, cols[colYear]))
	month, errM := strconv.Atoi(cell(row, cols[colMonth]))
	day, errD := strconv.Atoi(cell(row, cols[colDay]))
	if err := errors.Join(errY, errM, errD); err != nil {
		return fmt.Errorf("line %d: bad date: %v: %w", line, err, types.ErrInvalidArgument)
	}
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return fmt.Errorf("line %d: bad date %d-%d-%d: %w", line, year, month, day, types.ErrInvalidArgument)
	}

	tavg := math.NaN()
	if i, ok := cols[colTAvg]; ok {
		tavg = number(cell(row, i))
	}
	if math.IsNaN(tavg) {
		if iMax, ok := cols[colTMax]; ok {
			if iMin, ok := cols[colTMin]; ok {
				tavg = (number(cell(row, iMax)) + number(cell(row, iMin))) / 2
			}
		}
	}

	d.Dates = append(d.Dates, time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC))
	d.TAvg = append(d.TAvg, tavg)
	d.Precip = append(d.Precip, number(cell(row, cols[colPrecip])))
	if i, ok := cols[colPET]; ok {
		d.PET = append(d.PET, number(cell(row, i)))
	}
	return nil
}

func cell(row []string, i int) string {
	if i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// number parses a cell, treating anything unparsable as missing.
func number(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return math.NaN()
	}
	return v
}

// headerNumber parses a header value; station metadata defaults to zero.
func headerNumber(s string) float64 {
	if v := number(s); !math.IsNaN(v) {
		return v
	}
	return 0
}
