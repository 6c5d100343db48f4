package restserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/chrissnell/gwrecharge/internal/export"
	"github.com/chrissnell/gwrecharge/internal/mrc"
	"github.com/chrissnell/gwrecharge/internal/types"
	"github.com/chrissnell/gwrecharge/pkg/responseformat"
	"github.com/gorilla/mux"
)

// maxBodyBytes bounds request bodies; the largest is a Cru list.
const maxBodyBytes = 1 << 20

// Handlers contains all HTTP handlers for the REST server
type Handlers struct {
	controller *Controller
	formatter  *responseformat.Formatter
}

// NewHandlers creates a new handlers instance
func NewHandlers(ctrl *Controller) *Handlers {
	return &Handlers{
		controller: ctrl,
		formatter:  responseformat.NewFormatter(),
	}
}

// CalibrationRequest is the body of POST /calibrations. Sy defaults to the
// configured specific yield.
type CalibrationRequest struct {
	Sy *float64 `json:"sy,omitempty"`
}

// FitsRequest is the body of POST /fits. Cru defaults to the configured list.
type FitsRequest struct {
	Sy  *float64  `json:"sy,omitempty"`
	Cru []float64 `json:"cru,omitempty"`
}

// FitsResponse lists one RASmax fit per requested Cru, in request order.
type FitsResponse struct {
	Sy   float64           `json:"sy"`
	Fits []types.FitResult `json:"fits"`
}

// CreateCalibration runs the Cru search, stores the result and returns it
func (h *Handlers) CreateCalibration(w http.ResponseWriter, req *http.Request) {
	var body CalibrationRequest
	if err := decodeBody(w, req, &body); err != nil {
		h.writeError(w, req, err)
		return
	}

	sy := h.controller.backend.Defaults.SpecificYield
	if body.Sy != nil {
		sy = *body.Sy
	}

	result, err := h.controller.backend.Calibrator.Run(req.Context(), sy)
	if err != nil {
		h.writeError(w, req, err)
		return
	}

	id, err := h.controller.backend.Runs.Save(req.Context(), result)
	if err != nil {
		h.writeError(w, req, err)
		return
	}

	h.controller.logger.Infow("calibration stored", "id", id, "sy", sy,
		"cru", result.Best.Cru, "rasmax", result.Best.RASmax, "rmse", result.Best.RMSE)

	h.formatter.WriteResponse(w, req, http.StatusCreated, result, map[string]string{
		"Location": "/calibrations/" + id,
	})
}

// ListCalibrations returns the stored runs, newest first
func (h *Handlers) ListCalibrations(w http.ResponseWriter, req *http.Request) {
	runs, err := h.controller.backend.Runs.List(req.Context())
	if err != nil {
		h.writeError(w, req, err)
		return
	}
	h.formatter.WriteResponse(w, req, http.StatusOK, runs, nil)
}

// GetCalibration returns one stored run
func (h *Handlers) GetCalibration(w http.ResponseWriter, req *http.Request) {
	result, err := h.controller.backend.Runs.Get(req.Context(), mux.Vars(req)["id"])
	if err != nil {
		h.writeError(w, req, err)
		return
	}
	h.formatter.WriteResponse(w, req, http.StatusOK, result, nil)
}

// ExportCalibration returns a stored run as a tab-delimited file
func (h *Handlers) ExportCalibration(w http.ResponseWriter, req *http.Request) {
	id := mux.Vars(req)["id"]
	result, err := h.controller.backend.Runs.Get(req.Context(), id)
	if err != nil {
		h.writeError(w, req, err)
		return
	}

	var buf bytes.Buffer
	if err := export.Write(&buf, result); err != nil {
		h.writeError(w, req, err)
		return
	}
	writeTSV(w, fmt.Sprintf("calibration-%s.tsv", id), buf.Bytes())
}

// GetWaterBudget reruns the surface budget of a stored run and returns its
// yearly totals. format=tsv returns a tab-delimited table.
func (h *Handlers) GetWaterBudget(w http.ResponseWriter, req *http.Request) {
	id := mux.Vars(req)["id"]
	result, err := h.controller.backend.Runs.Get(req.Context(), id)
	if err != nil {
		h.writeError(w, req, err)
		return
	}

	years, err := h.controller.backend.Calibrator.WaterBudget(result)
	if err != nil {
		h.writeError(w, req, err)
		return
	}

	if req.URL.Query().Get("format") == "tsv" {
		var buf bytes.Buffer
		if err := export.WriteBudget(&buf, years); err != nil {
			h.writeError(w, req, err)
			return
		}
		writeTSV(w, fmt.Sprintf("budget-%s.tsv", id), buf.Bytes())
		return
	}
	h.formatter.WriteResponse(w, req, http.StatusOK, years, nil)
}

// CreateFits solves RASmax at each requested Cru for side-by-side comparison
func (h *Handlers) CreateFits(w http.ResponseWriter, req *http.Request) {
	var body FitsRequest
	if err := decodeBody(w, req, &body); err != nil {
		h.writeError(w, req, err)
		return
	}

	defaults := h.controller.backend.Defaults
	sy := defaults.SpecificYield
	if body.Sy != nil {
		sy = *body.Sy
	}
	crus := body.Cru
	if len(crus) == 0 {
		crus = defaults.CruList
	}

	fits, err := h.controller.backend.Calibrator.MultiFit(req.Context(), sy, crus)
	if err != nil {
		h.writeError(w, req, err)
		return
	}
	h.formatter.WriteResponse(w, req, http.StatusOK, FitsResponse{Sy: sy, Fits: fits}, nil)
}

// defaultColumnDepth is the base, in m, of the single-layer soil column used
// when neither the request nor the configuration describes one.
const defaultColumnDepth = 100

// MRCRequest is the body of POST /mrc.
type MRCRequest struct {
	Column *mrc.Column `json:"soil_column,omitempty"`
}

// MRCResponse is the water-table fluctuation recharge of each interval
// between readings, with the total over the record.
type MRCResponse struct {
	Column  mrc.Column   `json:"soil_column"`
	Periods []mrc.Period `json:"periods"`
	Total   float64      `json:"total_recharge_mm"`
}

// CreateMRCRecharge estimates recharge from the hydrograph alone
func (h *Handlers) CreateMRCRecharge(w http.ResponseWriter, req *http.Request) {
	var body MRCRequest
	if err := decodeBody(w, req, &body); err != nil {
		h.writeError(w, req, err)
		return
	}

	col := h.soilColumn()
	if body.Column != nil {
		col = *body.Column
	}

	periods, err := h.controller.backend.Calibrator.MRCRecharge(col)
	if err != nil {
		h.writeError(w, req, err)
		return
	}

	resp := MRCResponse{Column: col, Periods: periods}
	for _, p := range periods {
		resp.Total += p.Recharge
	}
	h.formatter.WriteResponse(w, req, http.StatusOK, resp, nil)
}

// soilColumn returns the configured soil column, or a uniform one at the
// configured specific yield.
func (h *Handlers) soilColumn() mrc.Column {
	defaults := h.controller.backend.Defaults
	if c := defaults.SoilColumn; c != nil {
		return mrc.Column{Depths: c.Depths, Sy: c.Sy}
	}
	return mrc.Uniform(defaultColumnDepth, defaults.SpecificYield)
}

// decodeBody reads an optional JSON body into v. An empty body leaves v as is.
func decodeBody(w http.ResponseWriter, req *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, req.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("bad request body: %v: %w", err, types.ErrInvalidArgument)
	}
	return nil
}

func writeTSV(w http.ResponseWriter, filename string, body []byte) {
	w.Header().Set("Content-Type", "text/tab-separated-values; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

// statusFor maps an error to the HTTP status returned to the client
func statusFor(err error) int {
	switch {
	case errors.Is(err, types.ErrInvalidArgument), errors.Is(err, types.ErrDataAlignment):
		return http.StatusBadRequest
	case errors.Is(err, types.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, req *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.controller.logger.Errorw("request failed", "method", req.Method, "path", req.URL.Path, "error", err)
	} else {
		h.controller.logger.Debugw("request rejected", "method", req.Method, "path", req.URL.Path, "status", status, "error", err)
	}
	h.formatter.WriteError(w, req, status, err)
}
