// Package engine is the entry point of the recharge calibration. It aligns a
// weather record with a well hydrograph once and then runs calibrations,
// multi-Cru comparisons, hindcasts and water budgets against that window.
package engine

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/chrissnell/gwrecharge/internal/budget"
	"github.com/chrissnell/gwrecharge/internal/calibrate"
	"github.com/chrissnell/gwrecharge/internal/fit"
	"github.com/chrissnell/gwrecharge/internal/log"
	"github.com/chrissnell/gwrecharge/internal/mrc"
	"github.com/chrissnell/gwrecharge/internal/recession"
	"github.com/chrissnell/gwrecharge/internal/types"
	"go.uber.org/zap"
)

// Engine holds an aligned window and the calibrators that run against it.
// It is safe for concurrent use.
type Engine struct {
	window    *Window
	levels    *types.WaterLevelSeries
	recession types.Recession
	station   string
	well      string

	solverCfg calibrate.SolverConfig
	searchCfg calibrate.SearchConfig
	lag       int

	solver   *calibrate.Solver
	searcher *calibrate.Searcher
	logger   *zap.SugaredLogger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger used by the engine and its calibrators.
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithSolverConfig overrides the RASmax solver settings.
func WithSolverConfig(cfg calibrate.SolverConfig) Option {
	return func(e *Engine) {
		e.solverCfg = cfg
	}
}

// WithSearchConfig overrides the Cru grids and sweep parallelism.
func WithSearchConfig(cfg calibrate.SearchConfig) Option {
	return func(e *Engine) {
		e.searchCfg = cfg
	}
}

// WithRechargeLag delays recharge by the given number of days between the
// surface and the water table. The default is no lag; a 10 day lag
// reproduces the toolbox calibrations.
func WithRechargeLag(days int) Option {
	return func(e *Engine) {
		e.lag = days
	}
}

// New aligns the two records and prepares the calibrators.
func New(weather *types.WeatherSeries, levels *types.WaterLevelSeries, opts ...Option) (*Engine, error) {
	e := &Engine{
		solverCfg: calibrate.DefaultSolverConfig(),
		searchCfg: calibrate.DefaultSearchConfig(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = log.OrNop(e.logger)

	window, err := Align(weather, levels, e.lag)
	if err != nil {
		return nil, err
	}
	e.window = window
	e.levels = levels
	e.recession = levels.Recession
	e.station = weather.Station
	e.well = levels.Well

	e.solver = calibrate.NewSolver(e.solverCfg, e.logger.Named("solver"))
	e.searcher = calibrate.NewSearcher(e.solver, e.searchCfg, e.logger.Named("search"))

	e.logger.Infow("aligned calibration window",
		"station", weather.Station, "well", levels.Well,
		"start", window.Dates[0].Format("2006-01-02"),
		"end", window.Dates[window.Len()-1].Format("2006-01-02"),
		"days", window.Len(), "observations", len(window.Valid), "lag", e.lag)

	return e, nil
}

// Window returns the aligned window. Callers must not modify it.
func (e *Engine) Window() *Window {
	return e.window
}

// Recession returns the master recession curve of the well.
func (e *Engine) Recession() types.Recession {
	return e.recession
}

func (e *Engine) problem(sy float64) *calibrate.Problem {
	return &calibrate.Problem{
		Sy:         sy,
		Forcing:    e.window.Forcing,
		ObservedMM: e.window.ObservedMM,
		Valid:      e.window.Valid,
		Recession:  e.recession,
	}
}

// Run calibrates Cru and RASmax for the specific yield sy.
func (e *Engine) Run(ctx context.Context, sy float64) (*types.CalibrationResult, error) {
	res, err := e.searcher.Search(ctx, e.problem(sy))
	if err != nil {
		return nil, fmt.Errorf("calibrating sy=%v: %w", sy, err)
	}
	res.CreatedAt = time.Now().UTC()
	res.Station = e.station
	res.Well = e.well
	res.Dates = e.window.Dates
	res.Observed = e.window.ObservedMM
	return res, nil
}

// MultiFit solves RASmax at each of the given runoff coefficients without the
// outer search, for side-by-side comparison.
func (e *Engine) MultiFit(ctx context.Context, sy float64, crus []float64) ([]types.FitResult, error) {
	p := e.problem(sy)
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return e.searcher.Sweep(ctx, p, crus)
}

// Hindcast rebuilds the hydrograph of a result backwards from the last
// observation of the window.
func (e *Engine) Hindcast(result *types.CalibrationResult, sy float64) ([]float64, error) {
	if err := e.matches(result); err != nil {
		return nil, err
	}
	return recession.Propagate(result.Best.DailyRecharge, e.recession, e.window.ObservedMM, sy, recession.Backward)
}

// WaterBudget reruns the surface budget of a result and totals it by calendar
// year of the weather record.
func (e *Engine) WaterBudget(result *types.CalibrationResult) ([]types.YearlyBudget, error) {
	if err := e.matches(result); err != nil {
		return nil, err
	}
	params := e.solver.Config().Params(result.Best.Cru, result.Best.RASmax)
	state := budget.Simulate(params, e.window.Forcing)
	return budget.Yearly(e.window.ForcingDates, e.window.Forcing.Precip, state)
}

// MRCRecharge estimates recharge between consecutive readings of the whole
// hydrograph with the water-table fluctuation method. It needs no weather and
// no calibration, and serves as an independent check on Run.
func (e *Engine) MRCRecharge(col mrc.Column) ([]mrc.Period, error) {
	return mrc.Recharge(e.levels, col)
}

// matches checks that a result was calibrated on this engine's window.
func (e *Engine) matches(result *types.CalibrationResult) error {
	if result == nil {
		return fmt.Errorf("no calibration result: %w", types.ErrInvalidArgument)
	}
	n := e.window.Len()
	if len(result.Best.DailyRecharge) != n-1 || len(result.Dates) != n || !result.Dates[0].Equal(e.window.Dates[0]) {
		return fmt.Errorf("calibration result does not cover the engine's window: %w", types.ErrInvalidArgument)
	}
	return nil
}

// ScoreFit scores the best fit of a result against its observations.
func ScoreFit(result *types.CalibrationResult) types.FitScore {
	score := fit.Evaluate(result.Observed, result.Best.SimulatedLevel, fit.ValidIndices(result.Observed))
	return types.FitScore{
		RMSE:               score.RMSE,
		NSE:                score.NSE,
		MeanAnnualRecharge: calibrate.MeanAnnualRecharge(result.Best.DailyRecharge),
	}
}

// ExportTable lays a result out day by day in meters below ground. The last
// day has no recharge.
func ExportTable(result *types.CalibrationResult) []types.ExportRow {
	rows := make([]types.ExportRow, len(result.Dates))
	for i, d := range result.Dates {
		row := types.ExportRow{
			Time:          d,
			SimulatedMbgs: math.NaN(),
			ObservedMbgs:  math.NaN(),
		}
		if i < len(result.Best.SimulatedLevel) {
			row.SimulatedMbgs = result.Best.SimulatedLevel[i] / 1000
		}
		if i < len(result.Observed) {
			row.ObservedMbgs = result.Observed[i] / 1000
		}
		if i < len(result.Best.DailyRecharge) {
			row.RechargeMM = result.Best.DailyRecharge[i]
			row.HasRecharge = true
		}
		rows[i] = row
	}
	return rows
}
