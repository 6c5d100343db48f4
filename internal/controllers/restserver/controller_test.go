package restserver

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/chrissnell/gwrecharge/internal/metrics"
	"github.com/chrissnell/gwrecharge/internal/mrc"
	"github.com/chrissnell/gwrecharge/internal/store"
	"github.com/chrissnell/gwrecharge/internal/types"
	"github.com/chrissnell/gwrecharge/pkg/config"
	"github.com/prometheus/client_golang/prometheus"
)

var testDay = time.Date(2021, 6, 1, 0, 0, 0, 0, time.UTC)

type fakeCalibrator struct {
	mu     sync.Mutex
	lastSy float64
}

func (f *fakeCalibrator) Run(ctx context.Context, sy float64) (*types.CalibrationResult, error) {
	if !(sy > 0) {
		return nil, fmt.Errorf("specific yield %v: %w", sy, types.ErrInvalidArgument)
	}
	f.mu.Lock()
	f.lastSy = sy
	f.mu.Unlock()

	return &types.CalibrationResult{
		Well: "PO-01",
		Sy:   sy,
		Best: types.FitResult{
			Cru:                0.3,
			RASmax:             math.Inf(1),
			SimulatedLevel:     []float64{2500, 2490, 2480},
			DailyRecharge:      []float64{1.5, 0},
			RMSE:               4,
			NSE:                0.8,
			MeanAnnualRecharge: 273.75,
			Status:             types.StatusInsensitive,
		},
		Dates:    []time.Time{testDay, testDay.Add(types.Day), testDay.Add(2 * types.Day)},
		Observed: []float64{2500, math.NaN(), 2482},
	}, nil
}

func (f *fakeCalibrator) MultiFit(ctx context.Context, sy float64, crus []float64) ([]types.FitResult, error) {
	if len(crus) == 0 {
		return nil, fmt.Errorf("no Cru: %w", types.ErrInvalidArgument)
	}
	fits := make([]types.FitResult, len(crus))
	for i, cru := range crus {
		fits[i] = types.FitResult{Cru: cru, RASmax: 50, Status: types.StatusConverged}
	}
	return fits, nil
}

func (f *fakeCalibrator) WaterBudget(result *types.CalibrationResult) ([]types.YearlyBudget, error) {
	return []types.YearlyBudget{{Year: 2021, Precip: 10, Runoff: 3, ET: 5.5, Recharge: 1.5, Days: 3}}, nil
}

func (f *fakeCalibrator) MRCRecharge(col mrc.Column) ([]mrc.Period, error) {
	if err := col.Validate(); err != nil {
		return nil, err
	}
	return []mrc.Period{
		{Start: testDay, End: testDay.Add(types.Day), Recharge: 12},
		{Start: testDay.Add(types.Day), End: testDay.Add(2 * types.Day), Recharge: -2},
	}, nil
}

func newTestServer(t *testing.T) (http.Handler, *fakeCalibrator) {
	t.Helper()

	runs, err := store.Open(filepath.Join(t.TempDir(), "runs.db"), nil)
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { runs.Close() })

	reg := prometheus.NewRegistry()
	if err := metrics.Register(reg); err != nil {
		t.Fatalf("registering metrics: %v", err)
	}

	calib := &fakeCalibrator{}
	ctrl, err := NewController(context.Background(), &sync.WaitGroup{}, config.ServerData{}, Backend{
		Calibrator: calib,
		Runs:       runs,
		Gatherer:   reg,
		Defaults:   config.CalibrationData{SpecificYield: 0.15, CruList: []float64{0.1, 0.2}},
	}, nil)
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	return ctrl.Router(), calib
}

func do(h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func createRun(t *testing.T, h http.Handler) string {
	t.Helper()
	rec := do(h, http.MethodPost, "/calibrations", `{"sy": 0.2}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("POST /calibrations: %d %s", rec.Code, rec.Body)
	}
	var created struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decoding created run: %v", err)
	}
	if rec.Header().Get("Location") != "/calibrations/"+created.ID {
		t.Errorf("unexpected Location %q", rec.Header().Get("Location"))
	}
	return created.ID
}

func TestCreateCalibration(t *testing.T) {
	h, calib := newTestServer(t)

	id := createRun(t, h)
	if id == "" {
		t.Fatal("created run has no ID")
	}
	if calib.lastSy != 0.2 {
		t.Errorf("calibrated with sy=%v, want 0.2", calib.lastSy)
	}

	rec := do(h, http.MethodPost, "/calibrations", "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("POST without a body: %d %s", rec.Code, rec.Body)
	}
	if calib.lastSy != 0.15 {
		t.Errorf("expected the configured sy, got %v", calib.lastSy)
	}
	if !strings.Contains(rec.Body.String(), `"rasmax_mm":null`) {
		t.Errorf("an infinite RASmax should be null in JSON: %s", rec.Body)
	}
}

func TestErrorStatus(t *testing.T) {
	h, _ := newTestServer(t)

	tests := []struct {
		name     string
		method   string
		target   string
		body     string
		expected int
	}{
		{name: "negative specific yield", method: http.MethodPost, target: "/calibrations", body: `{"sy": -0.1}`, expected: http.StatusBadRequest},
		{name: "malformed body", method: http.MethodPost, target: "/calibrations", body: `{"sy": `, expected: http.StatusBadRequest},
		{name: "unknown field", method: http.MethodPost, target: "/calibrations", body: `{"specific_yield": 0.1}`, expected: http.StatusBadRequest},
		{name: "missing run", method: http.MethodGet, target: "/calibrations/nope", expected: http.StatusNotFound},
		{name: "missing export", method: http.MethodGet, target: "/calibrations/nope/export", expected: http.StatusNotFound},
		{name: "missing budget", method: http.MethodGet, target: "/calibrations/nope/budget", expected: http.StatusNotFound},
		{name: "wrong method", method: http.MethodDelete, target: "/calibrations", expected: http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(h, tt.method, tt.target, tt.body)
			if rec.Code != tt.expected {
				t.Errorf("%s %s: status %d, want %d (%s)", tt.method, tt.target, rec.Code, tt.expected, rec.Body)
			}
		})
	}
}

func TestGetAndListCalibrations(t *testing.T) {
	h, _ := newTestServer(t)
	id := createRun(t, h)

	rec := do(h, http.MethodGet, "/calibrations/"+id, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET run: %d %s", rec.Code, rec.Body)
	}
	var result map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decoding run: %v", err)
	}
	if result["id"] != id || result["well"] != "PO-01" {
		t.Errorf("unexpected run %v", result)
	}

	rec = do(h, http.MethodGet, "/calibrations/"+id+"?format=msgpack", "")
	if rec.Header().Get("Content-Type") != "application/x-msgpack" {
		t.Errorf("expected MessagePack, got %q", rec.Header().Get("Content-Type"))
	}

	rec = do(h, http.MethodGet, "/calibrations", "")
	var runs []store.Summary
	if err := json.Unmarshal(rec.Body.Bytes(), &runs); err != nil {
		t.Fatalf("decoding list: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != id || runs[0].RASmax != nil {
		t.Errorf("unexpected list %+v", runs)
	}
}

func TestExportAndBudget(t *testing.T) {
	h, _ := newTestServer(t)
	id := createRun(t, h)

	rec := do(h, http.MethodGet, "/calibrations/"+id+"/export", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("export: %d %s", rec.Code, rec.Body)
	}
	if !strings.HasPrefix(rec.Header().Get("Content-Type"), "text/tab-separated-values") {
		t.Errorf("unexpected Content-Type %q", rec.Header().Get("Content-Type"))
	}
	if !strings.Contains(rec.Body.String(), "hobs (mbgs)\thpre (mbgs)") || !strings.Contains(rec.Body.String(), "2021-06-03") {
		t.Errorf("export is missing the level table:\n%s", rec.Body)
	}

	rec = do(h, http.MethodGet, "/calibrations/"+id+"/budget", "")
	var years []types.YearlyBudget
	if err := json.Unmarshal(rec.Body.Bytes(), &years); err != nil {
		t.Fatalf("decoding budget: %v", err)
	}
	if len(years) != 1 || years[0].Year != 2021 {
		t.Errorf("unexpected budget %+v", years)
	}

	rec = do(h, http.MethodGet, "/calibrations/"+id+"/budget?format=tsv", "")
	if !strings.HasPrefix(rec.Body.String(), "Year\tDays") {
		t.Errorf("unexpected budget table:\n%s", rec.Body)
	}
}

func TestCreateFits(t *testing.T) {
	h, _ := newTestServer(t)

	tests := []struct {
		name     string
		body     string
		expected []float64
	}{
		{name: "explicit list", body: `{"sy": 0.1, "cru": [0.05, 0.25, 0.45]}`, expected: []float64{0.05, 0.25, 0.45}},
		{name: "configured list", body: `{}`, expected: []float64{0.1, 0.2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(h, http.MethodPost, "/fits", tt.body)
			if rec.Code != http.StatusOK {
				t.Fatalf("POST /fits: %d %s", rec.Code, rec.Body)
			}
			var resp FitsResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decoding fits: %v", err)
			}
			if len(resp.Fits) != len(tt.expected) {
				t.Fatalf("expected %d fits, got %d", len(tt.expected), len(resp.Fits))
			}
			for i, f := range resp.Fits {
				if f.Cru != tt.expected[i] {
					t.Errorf("fit %d has Cru %v, want %v", i, f.Cru, tt.expected[i])
				}
			}
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h, _ := newTestServer(t)
	do(h, http.MethodGet, "/calibrations", "")

	rec := do(h, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /metrics: %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `gwrecharge_http_requests_total{code="2xx",route="/calibrations"}`) {
		t.Errorf("request counter missing from /metrics:\n%s", rec.Body)
	}
}

func TestCreateMRCRecharge(t *testing.T) {
	h, _ := newTestServer(t)

	tests := []struct {
		name     string
		body     string
		status   int
		expected mrc.Column
	}{
		{name: "default column", body: "", status: http.StatusOK, expected: mrc.Uniform(defaultColumnDepth, 0.15)},
		{name: "layered column", body: `{"soil_column": {"depths_m": [0, 2, 30], "sy": [0.2, 0.05]}}`, status: http.StatusOK,
			expected: mrc.Column{Depths: []float64{0, 2, 30}, Sy: []float64{0.2, 0.05}}},
		{name: "bad column", body: `{"soil_column": {"depths_m": [0], "sy": [0.2]}}`, status: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(h, http.MethodPost, "/mrc", tt.body)
			if rec.Code != tt.status {
				t.Fatalf("POST /mrc: %d %s", rec.Code, rec.Body)
			}
			if tt.status != http.StatusOK {
				return
			}

			var resp MRCResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decoding response: %v", err)
			}
			if resp.Total != 10 || len(resp.Periods) != 2 {
				t.Errorf("unexpected response %+v", resp)
			}
			if len(resp.Column.Sy) != len(tt.expected.Sy) || resp.Column.Sy[0] != tt.expected.Sy[0] ||
				resp.Column.Bottom() != tt.expected.Bottom() {
				t.Errorf("column %+v, want %+v", resp.Column, tt.expected)
			}
		})
	}
}
