package calibrate

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"time"

	"github.com/chrissnell/gwrecharge/internal/fit"
	"github.com/chrissnell/gwrecharge/internal/log"
	"github.com/chrissnell/gwrecharge/internal/metrics"
	"github.com/chrissnell/gwrecharge/internal/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// SearchConfig describes the two runoff coefficient grids.
type SearchConfig struct {
	CoarseStart float64 `yaml:"coarse_start" json:"coarse_start"`
	CoarseStop  float64 `yaml:"coarse_stop" json:"coarse_stop"`
	CoarseStep  float64 `yaml:"coarse_step" json:"coarse_step"`

	// FineHalfWidth is how far either side of the coarse winner the fine grid
	// reaches.
	FineHalfWidth float64 `yaml:"fine_half_width" json:"fine_half_width"`
	FineStep      float64 `yaml:"fine_step" json:"fine_step"`

	// Parallelism caps concurrent solves; 0 uses GOMAXPROCS.
	Parallelism int `yaml:"parallelism" json:"parallelism"`
}

// DefaultSearchConfig returns the standard grids: 0.05 to 0.65 by 0.05, then
// ±0.05 around the best coarse value by 0.01.
func DefaultSearchConfig() SearchConfig {
	return SearchConfig{
		CoarseStart:   0.05,
		CoarseStop:    0.65,
		CoarseStep:    0.05,
		FineHalfWidth: 0.05,
		FineStep:      0.01,
	}
}

func (c SearchConfig) withDefaults() SearchConfig {
	d := DefaultSearchConfig()
	if c.CoarseStep <= 0 {
		c.CoarseStart, c.CoarseStop, c.CoarseStep = d.CoarseStart, d.CoarseStop, d.CoarseStep
	}
	if c.FineStep <= 0 {
		c.FineHalfWidth, c.FineStep = d.FineHalfWidth, d.FineStep
	}
	if c.Parallelism <= 0 {
		c.Parallelism = runtime.GOMAXPROCS(0)
	}
	return c
}

// Searcher runs the coarse-then-fine runoff coefficient search.
type Searcher struct {
	solver *Solver
	cfg    SearchConfig
	logger *zap.SugaredLogger
}

// NewSearcher creates a searcher around solver.
func NewSearcher(solver *Solver, cfg SearchConfig, logger *zap.SugaredLogger) *Searcher {
	return &Searcher{
		solver: solver,
		cfg:    cfg.withDefaults(),
		logger: log.OrNop(logger),
	}
}

// Search calibrates Cru and RASmax for the problem's specific yield. The
// returned result carries the best fit and every candidate score; ties on RMSE
// go to the lowest Cru.
func (s *Searcher) Search(ctx context.Context, p *Problem) (*types.CalibrationResult, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	start := time.Now()

	coarseGrid := Grid(s.cfg.CoarseStart, s.cfg.CoarseStop, s.cfg.CoarseStep)
	coarse, err := s.Sweep(ctx, p, coarseGrid)
	if err != nil {
		return nil, err
	}
	bestCoarse := Best(coarse)
	s.logger.Debugw("coarse search done", "sy", p.Sy, "cru", coarse[bestCoarse].Cru, "rmse", coarse[bestCoarse].RMSE)

	center := coarse[bestCoarse].Cru
	fineGrid := Grid(center-s.cfg.FineHalfWidth, center+s.cfg.FineHalfWidth, s.cfg.FineStep)
	fine, err := s.Sweep(ctx, p, fineGrid)
	if err != nil {
		return nil, err
	}
	best := fine[Best(fine)]

	// the fine grid contains the coarse winner, but rounding of the grid
	// values can still leave it behind on an exact tie
	if fit.Less(coarse[bestCoarse].RMSE, best.RMSE) {
		best = coarse[bestCoarse]
	}

	metrics.ObserveCalibration(time.Since(start))
	s.logger.Infow("calibration finished",
		"sy", p.Sy, "cru", best.Cru, "rasmax", best.RASmax, "rmse", best.RMSE,
		"nse", best.NSE, "recharge_mm_yr", best.MeanAnnualRecharge, "status", best.Status,
		"elapsed", time.Since(start))

	return &types.CalibrationResult{
		Sy:     p.Sy,
		Best:   best,
		Coarse: scores(coarse),
		Fine:   scores(fine),
	}, nil
}

// Sweep solves every runoff coefficient concurrently. Results come back in the
// order of crus regardless of completion order.
func (s *Searcher) Sweep(ctx context.Context, p *Problem, crus []float64) ([]types.FitResult, error) {
	if len(crus) == 0 {
		return nil, fmt.Errorf("no runoff coefficients to evaluate: %w", types.ErrInvalidArgument)
	}
	for _, c := range crus {
		if math.IsNaN(c) || c < 0 || c > 1 {
			return nil, fmt.Errorf("runoff coefficient must be within [0, 1], got %v: %w", c, types.ErrInvalidArgument)
		}
	}

	results := make([]types.FitResult, len(crus))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Parallelism)
	for i, cru := range crus {
		g.Go(func() error {
			r, err := s.solver.Solve(gctx, p, cru)
			if err != nil {
				return fmt.Errorf("cru %.2f: %w", cru, err)
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Best returns the index of the lowest-RMSE result. The first one wins ties
// and NaN never wins against a number.
func Best(results []types.FitResult) int {
	best := 0
	for i := 1; i < len(results); i++ {
		if fit.Less(results[i].RMSE, results[best].RMSE) {
			best = i
		}
	}
	return best
}

// Grid returns the values from start to stop inclusive by step, rounded to the
// hundredth so that repeated addition does not drift, and restricted to the
// valid [0, 1] coefficient range.
func Grid(start, stop, step float64) []float64 {
	n := int(math.Round((stop - start) / step))
	out := make([]float64, 0, n+1)
	for k := 0; k <= n; k++ {
		v := math.Round((start+float64(k)*step)*100) / 100
		if v < 0 || v > 1 {
			continue
		}
		out = append(out, v)
	}
	return out
}

func scores(results []types.FitResult) []types.CandidateScore {
	out := make([]types.CandidateScore, len(results))
	for i, r := range results {
		out[i] = types.CandidateScore{
			Cru:        r.Cru,
			RASmax:     r.RASmax,
			RMSE:       r.RMSE,
			Status:     r.Status,
			Iterations: r.Iterations,
		}
	}
	return out
}
