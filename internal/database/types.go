package database

import "time"

// DailyBucket is one row of the weather_1d continuous aggregate, restricted
// to the columns the water budget needs. Aggregates over a day without
// readings come back NULL.
type DailyBucket struct {
	Bucket      time.Time `gorm:"column:bucket"`
	StationName string    `gorm:"column:stationname"`
	OutTemp     *float64  `gorm:"column:outtemp"`
	MaxOutTemp  *float64  `gorm:"column:max_outtemp"`
	MinOutTemp  *float64  `gorm:"column:min_outtemp"`
	PeriodRain  *float64  `gorm:"column:period_rain"`
}

// DailyView is the name of the daily aggregate view.
const DailyView = "weather_1d"
