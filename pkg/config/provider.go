package config

import (
	"errors"
	"fmt"
	"math"
)

// ConfigProvider defines the interface for configuration data sources
type ConfigProvider interface {
	// Load complete configuration
	LoadConfig() (*ConfigData, error)

	// Get specific configuration sections
	GetSources() (*SourcesData, error)
	GetCalibration() (*CalibrationData, error)
	GetStorageConfig() (*StorageData, error)
	GetServer() (*ServerData, error)

	IsReadOnly() bool
	Close() error
}

// Weather source types
const (
	WeatherSourceFile        = "file"
	WeatherSourceTimescaleDB = "timescaledb"
)

// ConfigData represents the complete configuration structure
type ConfigData struct {
	Sources     SourcesData     `json:"sources"`
	Calibration CalibrationData `json:"calibration"`
	Storage     StorageData     `json:"storage,omitempty"`
	Server      ServerData      `json:"server,omitempty"`
}

// SourcesData names where the weather record and the hydrograph come from
type SourcesData struct {
	Weather    WeatherSourceData    `json:"weather"`
	WaterLevel WaterLevelSourceData `json:"water_level"`
}

// WeatherSourceData is either a weather file or a remoteweather TimescaleDB
// station.
type WeatherSourceData struct {
	Type             string  `json:"type"`
	Path             string  `json:"path,omitempty"`
	ConnectionString string  `json:"connection_string,omitempty"`
	Station          string  `json:"station,omitempty"`
	Latitude         float64 `json:"latitude,omitempty"`
	From             string  `json:"from,omitempty"`
	To               string  `json:"to,omitempty"`
}

// WaterLevelSourceData points at a hydrograph file. A non-zero RecessionA or
// RecessionB overrides the curve stored in the file.
type WaterLevelSourceData struct {
	Path       string  `json:"path"`
	Sheet      string  `json:"sheet,omitempty"`
	RecessionA float64 `json:"recession_a,omitempty"`
	RecessionB float64 `json:"recession_b,omitempty"`
}

// CalibrationData holds the model settings
type CalibrationData struct {
	SpecificYield   float64         `json:"specific_yield"`
	CruList         []float64       `json:"cru_list,omitempty"`
	// RechargeLagDays delays surface recharge before it reaches the water
	// table. 0 by default; the original toolbox calibrations used 10.
	RechargeLagDays int             `json:"recharge_lag_days,omitempty"`
	Solver          SolverData      `json:"solver,omitempty"`
	Search          SearchData      `json:"search,omitempty"`
	SoilColumn      *SoilColumnData `json:"soil_column,omitempty"`
}

// SoilColumnData is the layered profile used by the water-table fluctuation
// estimate: layer limits in meters below ground and one specific yield per
// layer.
type SoilColumnData struct {
	Depths []float64 `json:"depths_m"`
	Sy     []float64 `json:"sy"`
}

// SolverData overrides RASmax solver settings; zero values and a nil TMelt
// keep the defaults
type SolverData struct {
	InitialRASmax      float64  `json:"initial_rasmax,omitempty"`
	Perturbation       float64  `json:"perturbation,omitempty"`
	Tolerance          float64  `json:"tolerance,omitempty"`
	OvershootTolerance float64  `json:"overshoot_tolerance,omitempty"`
	MaxIterations      int      `json:"max_iterations,omitempty"`
	MaxDampingSteps    int      `json:"max_damping_steps,omitempty"`
	TMelt              *float64 `json:"tmelt,omitempty"`
	MeltCoeff          float64  `json:"melt_coeff,omitempty"`
}

// SearchData overrides the Cru grids; zero values keep the defaults
type SearchData struct {
	CoarseStart   float64 `json:"coarse_start,omitempty"`
	CoarseStop    float64 `json:"coarse_stop,omitempty"`
	CoarseStep    float64 `json:"coarse_step,omitempty"`
	FineHalfWidth float64 `json:"fine_half_width,omitempty"`
	FineStep      float64 `json:"fine_step,omitempty"`
	Parallelism   int     `json:"parallelism,omitempty"`
}

// StorageData holds the configuration for the result store
type StorageData struct {
	SQLite *SQLiteData `json:"sqlite,omitempty"`
}

// SQLiteData locates the calibration run database
type SQLiteData struct {
	Path string `json:"path"`
}

// ServerData configures the REST server
type ServerData struct {
	Enabled    bool   `json:"enabled"`
	Cert       string `json:"cert,omitempty"`
	Key        string `json:"key,omitempty"`
	ListenAddr string `json:"listen_addr,omitempty"`
	Port       int    `json:"port,omitempty"`
}

// Defaults
const (
	DefaultSQLitePath = "gwrecharge.db"
	DefaultListenAddr = "0.0.0.0"
	DefaultPort       = 8080
)

// ApplyDefaults fills in settings left empty.
func (c *ConfigData) ApplyDefaults() {
	if c.Sources.Weather.Type == "" {
		c.Sources.Weather.Type = WeatherSourceFile
	}
	if c.Storage.SQLite == nil {
		c.Storage.SQLite = &SQLiteData{}
	}
	if c.Storage.SQLite.Path == "" {
		c.Storage.SQLite.Path = DefaultSQLitePath
	}
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = DefaultListenAddr
	}
	if c.Server.Port == 0 {
		c.Server.Port = DefaultPort
	}
}

// Validate checks the configuration for settings the calibration cannot run
// with. All problems are reported together.
func (c *ConfigData) Validate() error {
	var errs []error

	w := c.Sources.Weather
	switch w.Type {
	case WeatherSourceFile:
		if w.Path == "" {
			errs = append(errs, errors.New("sources.weather.path is required for a file source"))
		}
	case WeatherSourceTimescaleDB:
		if w.ConnectionString == "" {
			errs = append(errs, errors.New("sources.weather.connection-string is required for a timescaledb source"))
		}
		if w.Station == "" {
			errs = append(errs, errors.New("sources.weather.station is required for a timescaledb source"))
		}
		if w.Latitude < -90 || w.Latitude > 90 {
			errs = append(errs, fmt.Errorf("sources.weather.latitude %v is outside [-90, 90]", w.Latitude))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown weather source type %q", w.Type))
	}

	if c.Sources.WaterLevel.Path == "" {
		errs = append(errs, errors.New("sources.water-level.path is required"))
	}

	sy := c.Calibration.SpecificYield
	if !(sy > 0) || math.IsInf(sy, 0) {
		errs = append(errs, fmt.Errorf("calibration.specific-yield must be positive, got %v", sy))
	}
	for _, cru := range c.Calibration.CruList {
		if cru < 0 || cru > 1 {
			errs = append(errs, fmt.Errorf("calibration.cru-list value %v is outside [0, 1]", cru))
		}
	}
	if col := c.Calibration.SoilColumn; col != nil && len(col.Depths) != len(col.Sy)+1 {
		errs = append(errs, fmt.Errorf("calibration.soil-column needs one more depth than layers, got %d depths and %d layers",
			len(col.Depths), len(col.Sy)))
	}
	if c.Calibration.RechargeLagDays < 0 {
		errs = append(errs, fmt.Errorf("calibration.recharge-lag-days must not be negative, got %d", c.Calibration.RechargeLagDays))
	}

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d is out of range", c.Server.Port))
	}
	if (c.Server.Cert == "") != (c.Server.Key == "") {
		errs = append(errs, errors.New("server.cert and server.key must be set together"))
	}

	return errors.Join(errs...)
}
