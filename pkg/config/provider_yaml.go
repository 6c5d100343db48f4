package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// YAMLProvider implements ConfigProvider for YAML configuration files
type YAMLProvider struct {
	filename string
	config   *ConfigData
}

// NewYAMLProvider creates a new YAML configuration provider
func NewYAMLProvider(filename string) *YAMLProvider {
	return &YAMLProvider{
		filename: filename,
	}
}

// LoadConfig loads the complete configuration from the YAML file, applies
// defaults and validates it.
func (y *YAMLProvider) LoadConfig() (*ConfigData, error) {
	cfgFile, err := os.ReadFile(y.filename)
	if err != nil {
		return nil, err
	}

	config, err := Parse(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", y.filename, err)
	}

	y.config = config
	return config, nil
}

// Parse decodes a YAML document into a validated ConfigData.
func Parse(doc []byte) (*ConfigData, error) {
	// Load into temporary struct with YAML tags
	var yamlConfig struct {
		Sources     SourcesYAML     `yaml:"sources"`
		Calibration CalibrationYAML `yaml:"calibration"`
		Storage     StorageYAML     `yaml:"storage,omitempty"`
		Server      ServerYAML      `yaml:"server,omitempty"`
	}

	if err := yaml.Unmarshal(doc, &yamlConfig); err != nil {
		return nil, err
	}

	// Convert to our internal format
	w := yamlConfig.Sources.Weather
	l := yamlConfig.Sources.WaterLevel
	c := yamlConfig.Calibration
	config := &ConfigData{
		Sources: SourcesData{
			Weather: WeatherSourceData{
				Type:             w.Type,
				Path:             w.Path,
				ConnectionString: w.ConnectionString,
				Station:          w.Station,
				Latitude:         w.Latitude,
				From:             w.From,
				To:               w.To,
			},
			WaterLevel: WaterLevelSourceData{
				Path:       l.Path,
				Sheet:      l.Sheet,
				RecessionA: l.RecessionA,
				RecessionB: l.RecessionB,
			},
		},
		Calibration: CalibrationData{
			SpecificYield:   c.SpecificYield,
			CruList:         c.CruList,
			RechargeLagDays: c.RechargeLagDays,
			Solver: SolverData{
				InitialRASmax:      c.Solver.InitialRASmax,
				Perturbation:       c.Solver.Perturbation,
				Tolerance:          c.Solver.Tolerance,
				OvershootTolerance: c.Solver.OvershootTolerance,
				MaxIterations:      c.Solver.MaxIterations,
				MaxDampingSteps:    c.Solver.MaxDampingSteps,
				TMelt:              c.Solver.TMelt,
				MeltCoeff:          c.Solver.MeltCoeff,
			},
			Search: SearchData{
				CoarseStart:   c.Search.CoarseStart,
				CoarseStop:    c.Search.CoarseStop,
				CoarseStep:    c.Search.CoarseStep,
				FineHalfWidth: c.Search.FineHalfWidth,
				FineStep:      c.Search.FineStep,
				Parallelism:   c.Search.Parallelism,
			},
		},
		Server: ServerData{
			Enabled:    yamlConfig.Server.Enabled,
			Cert:       yamlConfig.Server.Cert,
			Key:        yamlConfig.Server.Key,
			ListenAddr: yamlConfig.Server.ListenAddr,
			Port:       yamlConfig.Server.Port,
		},
	}

	if c.SoilColumn != nil {
		config.Calibration.SoilColumn = &SoilColumnData{
			Depths: c.SoilColumn.Depths,
			Sy:     c.SoilColumn.Sy,
		}
	}

	// Convert storage
	if yamlConfig.Storage.SQLite != nil {
		config.Storage.SQLite = &SQLiteData{
			Path: yamlConfig.Storage.SQLite.Path,
		}
	}

	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

func (y *YAMLProvider) loaded() (*ConfigData, error) {
	if y.config == nil {
		return y.LoadConfig()
	}
	return y.config, nil
}

// GetSources returns the input data sources
func (y *YAMLProvider) GetSources() (*SourcesData, error) {
	config, err := y.loaded()
	if err != nil {
		return nil, err
	}
	return &config.Sources, nil
}

// GetCalibration returns the calibration settings
func (y *YAMLProvider) GetCalibration() (*CalibrationData, error) {
	config, err := y.loaded()
	if err != nil {
		return nil, err
	}
	return &config.Calibration, nil
}

// GetStorageConfig returns storage configuration
func (y *YAMLProvider) GetStorageConfig() (*StorageData, error) {
	config, err := y.loaded()
	if err != nil {
		return nil, err
	}
	return &config.Storage, nil
}

// GetServer returns the REST server configuration
func (y *YAMLProvider) GetServer() (*ServerData, error) {
	config, err := y.loaded()
	if err != nil {
		return nil, err
	}
	return &config.Server, nil
}

// IsReadOnly returns true since YAML files are read-only through this interface
func (y *YAMLProvider) IsReadOnly() bool {
	return true
}

// Close is a no-op for YAML provider
func (y *YAMLProvider) Close() error {
	return nil
}

// YAML-specific structs with proper YAML tags for parsing the file format

type SourcesYAML struct {
	Weather    WeatherSourceYAML    `yaml:"weather"`
	WaterLevel WaterLevelSourceYAML `yaml:"water-level"`
}

type WeatherSourceYAML struct {
	Type             string  `yaml:"type,omitempty"`
	Path             string  `yaml:"path,omitempty"`
	ConnectionString string  `yaml:"connection-string,omitempty"`
	Station          string  `yaml:"station,omitempty"`
	Latitude         float64 `yaml:"latitude,omitempty"`
	From             string  `yaml:"from,omitempty"`
	To               string  `yaml:"to,omitempty"`
}

type WaterLevelSourceYAML struct {
	Path       string  `yaml:"path"`
	Sheet      string  `yaml:"sheet,omitempty"`
	RecessionA float64 `yaml:"recession-a,omitempty"`
	RecessionB float64 `yaml:"recession-b,omitempty"`
}

type CalibrationYAML struct {
	SpecificYield   float64         `yaml:"specific-yield"`
	CruList         []float64       `yaml:"cru-list,omitempty"`
	RechargeLagDays int             `yaml:"recharge-lag-days,omitempty"`
	Solver          SolverYAML      `yaml:"solver,omitempty"`
	Search          SearchYAML      `yaml:"search,omitempty"`
	SoilColumn      *SoilColumnYAML `yaml:"soil-column,omitempty"`
}

type SoilColumnYAML struct {
	Depths []float64 `yaml:"depths"`
	Sy     []float64 `yaml:"sy"`
}

type SolverYAML struct {
	InitialRASmax      float64  `yaml:"initial-rasmax,omitempty"`
	Perturbation       float64  `yaml:"perturbation,omitempty"`
	Tolerance          float64  `yaml:"tolerance,omitempty"`
	OvershootTolerance float64  `yaml:"overshoot-tolerance,omitempty"`
	MaxIterations      int      `yaml:"max-iterations,omitempty"`
	MaxDampingSteps    int      `yaml:"max-damping-steps,omitempty"`
	TMelt              *float64 `yaml:"tmelt,omitempty"`
	MeltCoeff          float64  `yaml:"melt-coeff,omitempty"`
}

type SearchYAML struct {
	CoarseStart   float64 `yaml:"coarse-start,omitempty"`
	CoarseStop    float64 `yaml:"coarse-stop,omitempty"`
	CoarseStep    float64 `yaml:"coarse-step,omitempty"`
	FineHalfWidth float64 `yaml:"fine-half-width,omitempty"`
	FineStep      float64 `yaml:"fine-step,omitempty"`
	Parallelism   int     `yaml:"parallelism,omitempty"`
}

type StorageYAML struct {
	SQLite *SQLiteYAML `yaml:"sqlite,omitempty"`
}

type SQLiteYAML struct {
	Path string `yaml:"path"`
}

type ServerYAML struct {
	Enabled    bool   `yaml:"enabled"`
	Cert       string `yaml:"cert,omitempty"`
	Key        string `yaml:"key,omitempty"`
	ListenAddr string `yaml:"listen-addr,omitempty"`
	Port       int    `yaml:"port,omitempty"`
}
