// Package timescale reads daily weather from a remoteweather TimescaleDB
// database, so that a station already logging to TimescaleDB can drive the
// recharge calibration directly.
package timescale

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/chrissnell/gwrecharge/internal/database"
	"github.com/chrissnell/gwrecharge/internal/loaders/weather"
	"github.com/chrissnell/gwrecharge/internal/log"
	"github.com/chrissnell/gwrecharge/internal/types"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Source pulls one station's daily aggregates.
type Source struct {
	db       *gorm.DB
	station  string
	latitude float64
	logger   *zap.SugaredLogger
}

// NewSource creates a source for the named station. latitude is used to
// estimate evapotranspiration, which stations do not record.
func NewSource(db *gorm.DB, station string, latitude float64, logger *zap.SugaredLogger) *Source {
	return &Source{
		db:       db,
		station:  station,
		latitude: latitude,
		logger:   log.OrNop(logger),
	}
}

// Fetch returns the raw daily record between from and to (inclusive). A zero
// time leaves that end of the range open.
func (s *Source) Fetch(ctx context.Context, from, to time.Time) (*weather.Daily, error) {
	var rows []database.DailyBucket

	query := s.db.WithContext(ctx).Table(database.DailyView).Where("stationname = ?", s.station)
	if !from.IsZero() {
		query = query.Where("bucket >= ?", from)
	}
	if !to.IsZero() {
		query = query.Where("bucket <= ?", to)
	}
	if err := query.Order("bucket").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("error querying %s for station %s: %w", database.DailyView, s.station, err)
	}

	s.logger.Debugw("fetched daily weather", "station", s.station, "rows", len(rows))
	if len(rows) == 0 {
		return nil, fmt.Errorf("station %q has no daily weather: %w", s.station, types.ErrInvalidArgument)
	}
	return ToDaily(rows, s.station, s.latitude), nil
}

// Load fetches the record and cleans it into a gap-free series with
// Thornthwaite evapotranspiration.
func (s *Source) Load(ctx context.Context, from, to time.Time) (*types.WeatherSeries, error) {
	d, err := s.Fetch(ctx, from, to)
	if err != nil {
		return nil, err
	}
	return d.Series()
}

// ToDaily converts remoteweather's imperial aggregates (°F, inches) into a
// metric daily record. A day without an average temperature falls back to the
// midpoint of its extremes.
func ToDaily(rows []database.DailyBucket, station string, latitude float64) *weather.Daily {
	d := &weather.Daily{
		Station:  station,
		Latitude: latitude,
		Dates:    make([]time.Time, len(rows)),
		TAvg:     make([]float64, len(rows)),
		Precip:   make([]float64, len(rows)),
	}
	for i, r := range rows {
		d.Dates[i] = types.Midnight(r.Bucket)

		tf := value(r.OutTemp)
		if math.IsNaN(tf) {
			tf = (value(r.MaxOutTemp) + value(r.MinOutTemp)) / 2
		}
		d.TAvg[i] = FahrenheitToCelsius(tf)
		d.Precip[i] = InchesToMM(value(r.PeriodRain))
	}
	return d
}

// FahrenheitToCelsius converts a temperature.
func FahrenheitToCelsius(f float64) float64 {
	return (f - 32) * 5 / 9
}

// InchesToMM converts a depth of water.
func InchesToMM(in float64) float64 {
	return in * 25.4
}

func value(v *float64) float64 {
	if v == nil {
		return math.NaN()
	}
	return *v
}
