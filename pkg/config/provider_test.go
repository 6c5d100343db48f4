package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleYAML = `
sources:
  weather:
    type: file
    path: /data/weather/stmartin.tsv
  water-level:
    path: /data/wells/PO-01.xlsx
    sheet: Levels
    recession-a: 0.0012
calibration:
  specific-yield: 0.15
  cru-list: [0.1, 0.2, 0.3]
  recharge-lag-days: 5
  solver:
    max-iterations: 80
    tmelt: 0
  search:
    parallelism: 2
  soil-column:
    depths: [0, 1.5, 20]
    sy: [0.2, 0.08]
server:
  enabled: true
  port: 9090
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if cfg.Sources.Weather.Type != WeatherSourceFile || cfg.Sources.Weather.Path != "/data/weather/stmartin.tsv" {
		t.Errorf("unexpected weather source %+v", cfg.Sources.Weather)
	}
	if cfg.Sources.WaterLevel.Sheet != "Levels" || cfg.Sources.WaterLevel.RecessionA != 0.0012 {
		t.Errorf("unexpected water level source %+v", cfg.Sources.WaterLevel)
	}
	if cfg.Calibration.SpecificYield != 0.15 || len(cfg.Calibration.CruList) != 3 || cfg.Calibration.RechargeLagDays != 5 {
		t.Errorf("unexpected calibration %+v", cfg.Calibration)
	}
	if cfg.Calibration.Solver.MaxIterations != 80 || cfg.Calibration.Search.Parallelism != 2 {
		t.Errorf("solver or search overrides lost: %+v", cfg.Calibration)
	}
	if tm := cfg.Calibration.Solver.TMelt; tm == nil || *tm != 0 {
		t.Errorf("expected an explicit 0 °C melt threshold, got %v", tm)
	}
	if col := cfg.Calibration.SoilColumn; col == nil || len(col.Depths) != 3 || col.Sy[1] != 0.08 {
		t.Errorf("unexpected soil column %+v", cfg.Calibration.SoilColumn)
	}
	if !cfg.Server.Enabled || cfg.Server.Port != 9090 || cfg.Server.ListenAddr != DefaultListenAddr {
		t.Errorf("unexpected server %+v", cfg.Server)
	}
	if cfg.Storage.SQLite == nil || cfg.Storage.SQLite.Path != DefaultSQLitePath {
		t.Errorf("expected the default SQLite path, got %+v", cfg.Storage.SQLite)
	}
}

func TestParseMeltThreshold(t *testing.T) {
	tests := []struct {
		name     string
		line     string
		expected *float64
	}{
		{name: "absent keeps the default", line: "", expected: nil},
		{name: "zero is kept", line: "    tmelt: 0\n", expected: ptr(0)},
		{name: "negative is kept", line: "    tmelt: -0.5\n", expected: ptr(-0.5)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := strings.Replace(sampleYAML, "    tmelt: 0\n", tt.line, 1)
			cfg, err := Parse([]byte(doc))
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			got := cfg.Calibration.Solver.TMelt
			switch {
			case tt.expected == nil && got != nil:
				t.Errorf("expected no melt threshold, got %v", *got)
			case tt.expected != nil && (got == nil || *got != *tt.expected):
				t.Errorf("expected melt threshold %v, got %v", *tt.expected, got)
			}
		})
	}
}

func ptr(v float64) *float64 {
	return &v
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		yaml     string
		expected string
	}{
		{
			name: "missing specific yield",
			yaml: `
sources:
  weather: {path: w.tsv}
  water-level: {path: l.csv}
`,
			expected: "specific-yield",
		},
		{
			name: "timescaledb without station",
			yaml: `
sources:
  weather: {type: timescaledb, connection-string: "host=db"}
  water-level: {path: l.csv}
calibration: {specific-yield: 0.1}
`,
			expected: "station",
		},
		{
			name: "unknown source",
			yaml: `
sources:
  weather: {type: ftp}
  water-level: {path: l.csv}
calibration: {specific-yield: 0.1}
`,
			expected: "unknown weather source",
		},
		{
			name: "runoff coefficient out of range",
			yaml: `
sources:
  weather: {path: w.tsv}
  water-level: {path: l.csv}
calibration: {specific-yield: 0.1, cru-list: [0.2, 1.4]}
`,
			expected: "cru-list",
		},
		{
			name: "soil column layers",
			yaml: `
sources:
  weather: {path: w.tsv}
  water-level: {path: l.csv}
calibration: {specific-yield: 0.1, soil-column: {depths: [0, 10], sy: [0.1, 0.2]}}
`,
			expected: "soil-column",
		},
		{
			name: "cert without key",
			yaml: `
sources:
  weather: {path: w.tsv}
  water-level: {path: l.csv}
calibration: {specific-yield: 0.1}
server: {cert: server.pem}
`,
			expected: "server.cert",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(err.Error(), tt.expected) {
				t.Errorf("error %q does not mention %q", err, tt.expected)
			}
		})
	}
}

func TestYAMLProvider(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gwrecharge.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o600); err != nil {
		t.Fatal(err)
	}

	p := NewYAMLProvider(path)
	defer p.Close()

	calib, err := p.GetCalibration()
	if err != nil {
		t.Fatalf("GetCalibration: %v", err)
	}
	if calib.SpecificYield != 0.15 {
		t.Errorf("unexpected specific yield %v", calib.SpecificYield)
	}

	server, err := p.GetServer()
	if err != nil {
		t.Fatalf("GetServer: %v", err)
	}
	if server.Port != 9090 {
		t.Errorf("unexpected port %d", server.Port)
	}
	if !p.IsReadOnly() {
		t.Error("YAML provider should be read-only")
	}

	if _, err := NewYAMLProvider(filepath.Join(t.TempDir(), "missing.yaml")).LoadConfig(); err == nil {
		t.Error("expected an error for a missing file")
	}
}
