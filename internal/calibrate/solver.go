package calibrate

import (
	"context"
	"fmt"
	"math"

	"github.com/chrissnell/gwrecharge/internal/budget"
	"github.com/chrissnell/gwrecharge/internal/fit"
	"github.com/chrissnell/gwrecharge/internal/log"
	"github.com/chrissnell/gwrecharge/internal/metrics"
	"github.com/chrissnell/gwrecharge/internal/recession"
	"github.com/chrissnell/gwrecharge/internal/types"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// SolverConfig holds the Gauss-Newton tunables.
type SolverConfig struct {
	// InitialRASmax is the starting estimate in mm (100)
	InitialRASmax float64 `yaml:"initial_rasmax" json:"initial_rasmax"`
	// Perturbation is the relative step used for the numerical derivative (0.1)
	Perturbation float64 `yaml:"perturbation" json:"perturbation"`
	// Tolerance ends the iteration when RASmax moves less than this many mm (1.0)
	Tolerance float64 `yaml:"tolerance" json:"tolerance"`
	// OvershootTolerance is the RMSE increase in mm that triggers damping (0.1)
	OvershootTolerance float64 `yaml:"overshoot_tolerance" json:"overshoot_tolerance"`
	// MaxIterations is the Gauss-Newton iteration budget (50)
	MaxIterations int `yaml:"max_iterations" json:"max_iterations"`
	// MaxDampingSteps bounds how many times one step can be halved (60)
	MaxDampingSteps int `yaml:"max_damping_steps" json:"max_damping_steps"`

	// TMelt is the rain/snow and melt threshold in °C (1.5); nil keeps the
	// default and 0 is a valid threshold
	TMelt     *float64 `yaml:"tmelt" json:"tmelt"`
	MeltCoeff float64  `yaml:"melt_coeff" json:"melt_coeff"`
}

// DefaultSolverConfig returns the standard solver settings.
func DefaultSolverConfig() SolverConfig {
	return SolverConfig{
		InitialRASmax:      100,
		Perturbation:       0.1,
		Tolerance:          1.0,
		OvershootTolerance: 0.1,
		MaxIterations:      50,
		MaxDampingSteps:    60,
		TMelt:              Float64(budget.DefaultTMelt),
		MeltCoeff:          budget.DefaultMeltCoeff,
	}
}

// withDefaults fills zero fields from DefaultSolverConfig.
func (c SolverConfig) withDefaults() SolverConfig {
	d := DefaultSolverConfig()
	if c.InitialRASmax == 0 {
		c.InitialRASmax = d.InitialRASmax
	}
	if c.Perturbation == 0 {
		c.Perturbation = d.Perturbation
	}
	if c.Tolerance == 0 {
		c.Tolerance = d.Tolerance
	}
	if c.OvershootTolerance == 0 {
		c.OvershootTolerance = d.OvershootTolerance
	}
	if c.MaxIterations == 0 {
		c.MaxIterations = d.MaxIterations
	}
	if c.MaxDampingSteps == 0 {
		c.MaxDampingSteps = d.MaxDampingSteps
	}
	if c.TMelt == nil {
		c.TMelt = d.TMelt
	}
	if c.MeltCoeff == 0 {
		c.MeltCoeff = d.MeltCoeff
	}
	return c
}

// Params returns the budget parameters for one candidate. The config must have
// its defaults applied.
func (c SolverConfig) Params(cru, rasMax float64) budget.Params {
	return budget.Params{
		Cru:       cru,
		RASmax:    rasMax,
		TMelt:     *c.TMelt,
		MeltCoeff: c.MeltCoeff,
	}
}

// Float64 returns a pointer to v.
func Float64(v float64) *float64 {
	return &v
}

// Solver calibrates RASmax for one runoff coefficient at a time. It holds no
// per-solve state and is safe for concurrent use.
type Solver struct {
	cfg    SolverConfig
	logger *zap.SugaredLogger
}

// NewSolver creates a solver. Zero config fields and a nil TMelt take their
// defaults.
func NewSolver(cfg SolverConfig, logger *zap.SugaredLogger) *Solver {
	return &Solver{
		cfg:    cfg.withDefaults(),
		logger: log.OrNop(logger),
	}
}

// Config returns the effective solver settings.
func (s *Solver) Config() SolverConfig {
	return s.cfg
}

// evaluation is one forward run of the coupled model.
type evaluation struct {
	rasMax   float64
	recharge []float64 // days that carry a flux, len = window-1
	level    []float64 // mm, len = window
	simValid []float64 // level at the observed days
	rmse     float64
}

func (s *Solver) evaluate(p *Problem, obsValid []float64, cru, rasMax float64) (evaluation, error) {
	rechg := budget.Recharge(s.cfg.Params(cru, rasMax), p.Forcing)
	flux := rechg[:len(rechg)-1]

	level, err := recession.Propagate(flux, p.Recession, p.ObservedMM, p.Sy, recession.Forward)
	if err != nil {
		return evaluation{}, err
	}

	simValid := fit.Select(level, p.Valid)
	return evaluation{
		rasMax:   rasMax,
		recharge: flux,
		level:    level,
		simValid: simValid,
		rmse:     fit.RMSE(obsValid, simValid),
	}, nil
}

// Solve calibrates RASmax for the given runoff coefficient.
//
// Numerical dead ends are results, not errors: a model that does not respond
// to RASmax yields RASmax=+Inf (StatusInsensitive), a negative estimate is
// clamped to zero (StatusClamped) and an exhausted iteration budget returns the
// last estimate (StatusIterationLimit). Errors are reserved for invalid input
// and context cancellation.
func (s *Solver) Solve(ctx context.Context, p *Problem, cru float64) (types.FitResult, error) {
	if err := p.Validate(); err != nil {
		return types.FitResult{}, err
	}
	if math.IsNaN(cru) || cru < 0 || cru > 1 {
		return types.FitResult{}, fmt.Errorf("runoff coefficient must be within [0, 1], got %v: %w", cru, types.ErrInvalidArgument)
	}

	obsValid := fit.Select(p.ObservedMM, p.Valid)
	dRAS := s.cfg.Perturbation

	cur, err := s.evaluate(p, obsValid, cru, s.cfg.InitialRASmax)
	if err != nil {
		return types.FitResult{}, err
	}

	X := make([]float64, len(p.Valid))
	dh := make([]float64, len(p.Valid))

	for it := 1; ; it++ {
		if err := ctx.Err(); err != nil {
			return types.FitResult{}, err
		}

		if it > s.cfg.MaxIterations {
			s.logger.Warnw("RASmax did not converge",
				"cru", cru, "sy", p.Sy, "rasmax", cur.rasMax, "rmse", cur.rmse, "iterations", s.cfg.MaxIterations)
			return s.result(p, cru, cur, types.StatusIterationLimit, s.cfg.MaxIterations), nil
		}

		// Jacobian of the simulated levels with respect to RASmax
		step := cur.rasMax * dRAS
		pert, err := s.evaluate(p, obsValid, cru, cur.rasMax*(1+dRAS))
		if err != nil {
			return types.FitResult{}, err
		}
		for k := range X {
			X[k] = (pert.simValid[k] - cur.simValid[k]) / step
		}

		xtx := floats.Dot(X, X)
		if floats.Sum(X) == 0 || xtx == 0 || math.IsNaN(xtx) || math.IsInf(xtx, 0) {
			s.logger.Debugw("levels insensitive to RASmax", "cru", cru, "sy", p.Sy, "rasmax", cur.rasMax)
			cur.rasMax = math.Inf(1)
			return s.result(p, cru, cur, types.StatusInsensitive, it), nil
		}

		floats.SubTo(dh, obsValid, cur.simValid)
		dr := floats.Dot(X, dh) / xtx

		prev := cur
		cur, dr, _, err = s.dampedStep(p, obsValid, cru, prev, dr)
		if err != nil {
			return types.FitResult{}, err
		}

		s.logger.Debugw("gauss-newton step",
			"cru", cru, "iteration", it, "rasmax", cur.rasMax, "step", dr, "rmse", cur.rmse)

		if cur.rasMax < 0 {
			cur, err = s.evaluate(p, obsValid, cru, 0)
			if err != nil {
				return types.FitResult{}, err
			}
			return s.result(p, cru, cur, types.StatusClamped, it), nil
		}

		if math.Abs(cur.rasMax-prev.rasMax) < s.cfg.Tolerance {
			return s.result(p, cru, cur, types.StatusConverged, it), nil
		}
	}
}

// dampedStep evaluates prev.rasMax+dr and halves dr while the fit worsens by
// more than OvershootTolerance, at most MaxDampingSteps times. It returns the
// accepted evaluation, the accepted step and the number of halvings.
func (s *Solver) dampedStep(p *Problem, obsValid []float64, cru float64, prev evaluation, dr float64) (evaluation, float64, int, error) {
	for damp := 0; ; damp++ {
		next, err := s.evaluate(p, obsValid, cru, prev.rasMax+dr)
		if err != nil {
			return evaluation{}, dr, damp, err
		}
		if next.rmse-prev.rmse > s.cfg.OvershootTolerance && damp < s.cfg.MaxDampingSteps {
			dr *= 0.5
			continue
		}
		return next, dr, damp, nil
	}
}

func (s *Solver) result(p *Problem, cru float64, e evaluation, status types.SolverStatus, iterations int) types.FitResult {
	metrics.ObserveSolve(string(status), iterations)

	obsValid := fit.Select(p.ObservedMM, p.Valid)
	return types.FitResult{
		Cru:                cru,
		RASmax:             e.rasMax,
		SimulatedLevel:     e.level,
		DailyRecharge:      e.recharge,
		RMSE:               e.rmse,
		NSE:                fit.NSE(obsValid, e.simValid),
		MeanAnnualRecharge: MeanAnnualRecharge(e.recharge),
		Status:             status,
		Iterations:         iterations,
	}
}

// MeanAnnualRecharge is the mean daily recharge scaled to a 365-day year.
func MeanAnnualRecharge(daily []float64) float64 {
	if len(daily) == 0 {
		return 0
	}
	return stat.Mean(daily, nil) * 365
}
