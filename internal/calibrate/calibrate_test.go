package calibrate

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/chrissnell/gwrecharge/internal/budget"
	"github.com/chrissnell/gwrecharge/internal/fit"
	"github.com/chrissnell/gwrecharge/internal/recession"
	"github.com/chrissnell/gwrecharge/internal/types"
)

var testCurve = types.Recession{A: 0.01, B: 0.03}

// seasonalForcing builds two years of weather with a snowy winter, a wet
// autumn and summer evapotranspiration.
func seasonalForcing(n int) budget.Forcing {
	f := budget.Forcing{
		PET:    make([]float64, n),
		Precip: make([]float64, n),
		TAvg:   make([]float64, n),
	}
	for i := 0; i < n; i++ {
		season := math.Sin(2 * math.Pi * float64(i-100) / 365)
		f.TAvg[i] = 8 + 14*season
		f.PET[i] = math.Max(0, 3.5*season)
		if i%3 == 0 {
			f.Precip[i] = 6
		}
		if i%17 == 0 {
			f.Precip[i] += 25
		}
	}
	return f
}

// syntheticProblem observes the model itself every week, so the true
// parameters reproduce the observations exactly.
func syntheticProblem(t *testing.T, cru, rasMax float64) *Problem {
	t.Helper()

	f := seasonalForcing(730)
	rechg := budget.Recharge(budget.NewParams(cru, rasMax), f)
	truth, err := recession.Propagate(rechg[:len(rechg)-1], testCurve, []float64{3000}, 0.1, recession.Forward)
	if err != nil {
		t.Fatalf("building synthetic hydrograph: %v", err)
	}

	obs := make([]float64, len(truth))
	for i := range obs {
		obs[i] = math.NaN()
		if i%7 == 0 {
			obs[i] = truth[i]
		}
	}

	return &Problem{
		Sy:         0.1,
		Forcing:    f,
		ObservedMM: obs,
		Valid:      fit.ValidIndices(obs),
		Recession:  testCurve,
	}
}

func flatProblem() *Problem {
	f := seasonalForcing(400)
	obs := make([]float64, f.Len())
	for i := range obs {
		obs[i] = 2000
	}
	return &Problem{
		Sy:         0.15,
		Forcing:    f,
		ObservedMM: obs,
		Valid:      fit.ValidIndices(obs),
		Recession:  types.Recession{A: 0.01, B: 0.02},
	}
}

func TestSolverRecoversRASmax(t *testing.T) {
	p := syntheticProblem(t, 0.3, 60)
	s := NewSolver(SolverConfig{}, nil)

	initial, err := s.evaluate(p, fit.Select(p.ObservedMM, p.Valid), 0.3, s.Config().InitialRASmax)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}

	res, err := s.Solve(context.Background(), p, 0.3)
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}

	if res.Status == types.StatusInsensitive || res.Status == types.StatusClamped {
		t.Fatalf("unexpected status %s", res.Status)
	}
	if !(res.RMSE < initial.rmse) {
		t.Errorf("solver did not improve the fit: %v >= %v", res.RMSE, initial.rmse)
	}
	if math.Abs(res.RASmax-60) > 15 {
		t.Errorf("RASmax = %v, want close to 60", res.RASmax)
	}
	if len(res.SimulatedLevel) != p.Len() || len(res.DailyRecharge) != p.Len()-1 {
		t.Errorf("unexpected series lengths %d/%d", len(res.SimulatedLevel), len(res.DailyRecharge))
	}
	if res.Iterations < 1 {
		t.Errorf("expected at least one iteration, got %d", res.Iterations)
	}
}

func TestSolverTerminalStates(t *testing.T) {
	tests := []struct {
		name       string
		rasMax     float64
		cfg        SolverConfig
		expected   types.SolverStatus
		iterations int
	}{
		{name: "converged", rasMax: 60, expected: types.StatusConverged},
		{name: "clamped at zero", rasMax: 0, expected: types.StatusClamped},
		{name: "iteration limit", rasMax: 60, cfg: SolverConfig{MaxIterations: 1, Tolerance: 1e-12},
			expected: types.StatusIterationLimit, iterations: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := syntheticProblem(t, 0.3, tt.rasMax)
			s := NewSolver(tt.cfg, nil)

			res, err := s.Solve(context.Background(), p, 0.3)
			if err != nil {
				t.Fatalf("Solve: %v", err)
			}
			if res.Status != tt.expected {
				t.Fatalf("expected status %s, got %s (RASmax %v after %d iterations)",
					tt.expected, res.Status, res.RASmax, res.Iterations)
			}
			if tt.iterations > 0 && res.Iterations != tt.iterations {
				t.Errorf("expected %d iterations, got %d", tt.iterations, res.Iterations)
			}

			// the reported fit is the model run at the reported RASmax
			at, err := s.evaluate(p, fit.Select(p.ObservedMM, p.Valid), 0.3, res.RASmax)
			if err != nil {
				t.Fatalf("evaluate: %v", err)
			}
			if res.RMSE != at.rmse {
				t.Errorf("RMSE %v does not match the model at RASmax=%v (%v)", res.RMSE, res.RASmax, at.rmse)
			}
			if tt.expected == types.StatusClamped && res.RASmax != 0 {
				t.Errorf("clamped RASmax = %v, want 0", res.RASmax)
			}
		})
	}
}

func TestSolverDampedStep(t *testing.T) {
	p := syntheticProblem(t, 0.3, 60)
	obsValid := fit.Select(p.ObservedMM, p.Valid)

	tests := []struct {
		name     string
		cfg      SolverConfig
		halvings int
	}{
		{name: "halves until the fit holds", cfg: SolverConfig{}},
		{name: "bounded halvings", cfg: SolverConfig{MaxDampingSteps: 2}, halvings: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSolver(tt.cfg, nil)
			prev, err := s.evaluate(p, obsValid, 0.3, 60)
			if err != nil {
				t.Fatalf("evaluate: %v", err)
			}

			// a step far past the true RASmax ruins the fit
			next, dr, halvings, err := s.dampedStep(p, obsValid, 0.3, prev, 1000)
			if err != nil {
				t.Fatalf("dampedStep: %v", err)
			}
			if halvings == 0 {
				t.Fatalf("expected the step to be damped")
			}
			if next.rasMax != 60+dr || dr != 1000/math.Pow(2, float64(halvings)) {
				t.Errorf("accepted RASmax %v with step %v after %d halvings", next.rasMax, dr, halvings)
			}

			if tt.halvings > 0 {
				if halvings != tt.halvings {
					t.Errorf("expected %d halvings, got %d", tt.halvings, halvings)
				}
				return
			}
			if next.rmse-prev.rmse > s.Config().OvershootTolerance {
				t.Errorf("accepted step worsens RMSE by %v mm", next.rmse-prev.rmse)
			}
		})
	}
}

func TestSolverMeltThreshold(t *testing.T) {
	tests := []struct {
		name     string
		tmelt    *float64
		expected float64
	}{
		{name: "default", tmelt: nil, expected: budget.DefaultTMelt},
		{name: "zero degrees", tmelt: Float64(0), expected: 0},
		{name: "below zero", tmelt: Float64(-1), expected: -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewSolver(SolverConfig{TMelt: tt.tmelt, MeltCoeff: 3}, nil).Config()
			if *cfg.TMelt != tt.expected {
				t.Errorf("TMelt = %v, want %v", *cfg.TMelt, tt.expected)
			}
			if got := cfg.Params(0.2, 50).TMelt; got != tt.expected {
				t.Errorf("budget TMelt = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestSolverInsensitive(t *testing.T) {
	p := flatProblem()
	for i := range p.Forcing.Precip {
		p.Forcing.Precip[i] = 0
	}

	res, err := NewSolver(SolverConfig{}, nil).Solve(context.Background(), p, 0.2)
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if res.Status != types.StatusInsensitive {
		t.Fatalf("expected status %s, got %s", types.StatusInsensitive, res.Status)
	}
	if !math.IsInf(res.RASmax, 1) {
		t.Errorf("expected RASmax=+Inf, got %v", res.RASmax)
	}
	// no recharge and a water table at the curve's equilibrium: nothing moves
	if !(res.RMSE < 1e-6) {
		t.Errorf("expected a finite zero RMSE, got %v", res.RMSE)
	}
	if res.MeanAnnualRecharge != 0 {
		t.Errorf("expected no recharge, got %v", res.MeanAnnualRecharge)
	}
}

func TestSolverInvalidArguments(t *testing.T) {
	s := NewSolver(SolverConfig{}, nil)
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(p *Problem)
		cru    float64
	}{
		{name: "zero specific yield", mutate: func(p *Problem) { p.Sy = 0 }, cru: 0.2},
		{name: "NaN specific yield", mutate: func(p *Problem) { p.Sy = math.NaN() }, cru: 0.2},
		{name: "no observations", mutate: func(p *Problem) { p.Valid = nil }, cru: 0.2},
		{name: "mismatched lengths", mutate: func(p *Problem) { p.ObservedMM = p.ObservedMM[:10] }, cru: 0.2},
		{name: "unanchored start", mutate: func(p *Problem) { p.ObservedMM[0] = math.NaN(); p.Valid = p.Valid[1:] }, cru: 0.2},
		{name: "runoff above one", mutate: func(p *Problem) {}, cru: 1.5},
		{name: "negative runoff", mutate: func(p *Problem) {}, cru: -0.1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := flatProblem()
			tt.mutate(p)
			if _, err := s.Solve(ctx, p, tt.cru); !errors.Is(err, types.ErrInvalidArgument) {
				t.Errorf("expected ErrInvalidArgument, got %v", err)
			}
		})
	}
}

func TestSolverCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewSolver(SolverConfig{}, nil).Solve(ctx, syntheticProblem(t, 0.3, 60), 0.3)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestSearchFlatHydrographPicksCoarseMinimum(t *testing.T) {
	p := flatProblem()
	searcher := NewSearcher(NewSolver(SolverConfig{}, nil), SearchConfig{}, nil)

	res, err := searcher.Search(context.Background(), p)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	if len(res.Coarse) != 13 {
		t.Fatalf("expected 13 coarse candidates, got %d", len(res.Coarse))
	}

	winner := 0
	for i, c := range res.Coarse {
		if math.IsNaN(c.RMSE) {
			t.Fatalf("coarse candidate %v has NaN RMSE", c.Cru)
		}
		if c.RMSE < res.Coarse[winner].RMSE {
			winner = i
		}
	}
	for _, c := range res.Coarse {
		if res.Coarse[winner].RMSE > c.RMSE {
			t.Errorf("coarse optimum %v (RMSE %v) is worse than Cru %v (RMSE %v)",
				res.Coarse[winner].Cru, res.Coarse[winner].RMSE, c.Cru, c.RMSE)
		}
	}

	if res.Best.RMSE > res.Coarse[winner].RMSE {
		t.Errorf("fine search lost the coarse optimum: %v > %v", res.Best.RMSE, res.Coarse[winner].RMSE)
	}
	for _, c := range res.Fine {
		if math.Abs(c.Cru-res.Coarse[winner].Cru) > 0.05+1e-9 {
			t.Errorf("fine candidate %v outside the window around %v", c.Cru, res.Coarse[winner].Cru)
		}
	}
}

func TestSearchIsDeterministic(t *testing.T) {
	p := syntheticProblem(t, 0.2, 80)
	cfg := SearchConfig{Parallelism: 4}

	first, err := NewSearcher(NewSolver(SolverConfig{}, nil), cfg, nil).Search(context.Background(), p)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	second, err := NewSearcher(NewSolver(SolverConfig{}, nil), SearchConfig{Parallelism: 1}, nil).Search(context.Background(), p)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	if first.Best.Cru != second.Best.Cru || first.Best.RMSE != second.Best.RMSE {
		t.Errorf("parallel and serial searches disagree: %v/%v vs %v/%v",
			first.Best.Cru, first.Best.RMSE, second.Best.Cru, second.Best.RMSE)
	}
}

func TestBestTieBreak(t *testing.T) {
	results := []types.FitResult{
		{Cru: 0.1, RMSE: math.NaN()},
		{Cru: 0.2, RMSE: 5},
		{Cru: 0.3, RMSE: 3},
		{Cru: 0.4, RMSE: 3},
		{Cru: 0.5, RMSE: math.Inf(1)},
	}
	if got := Best(results); got != 2 {
		t.Errorf("Best = %d (Cru %v), want index 2", got, results[got].Cru)
	}
}

func TestGrid(t *testing.T) {
	tests := []struct {
		name              string
		start, stop, step float64
		expected          []float64
	}{
		{name: "coarse", start: 0.05, stop: 0.65, step: 0.05,
			expected: []float64{0.05, 0.1, 0.15, 0.2, 0.25, 0.3, 0.35, 0.4, 0.45, 0.5, 0.55, 0.6, 0.65}},
		{name: "fine clipped at zero", start: -0.03, stop: 0.07, step: 0.01,
			expected: []float64{0, 0.01, 0.02, 0.03, 0.04, 0.05, 0.06, 0.07}},
		{name: "fine around 0.3", start: 0.25, stop: 0.35, step: 0.01,
			expected: []float64{0.25, 0.26, 0.27, 0.28, 0.29, 0.3, 0.31, 0.32, 0.33, 0.34, 0.35}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Grid(tt.start, tt.stop, tt.step)
			if len(got) != len(tt.expected) {
				t.Fatalf("Grid = %v, want %v", got, tt.expected)
			}
			for i := range got {
				if got[i] != tt.expected[i] {
					t.Errorf("Grid[%d] = %v, want %v", i, got[i], tt.expected[i])
				}
			}
		})
	}
}

func TestSweepRejectsBadCoefficients(t *testing.T) {
	searcher := NewSearcher(NewSolver(SolverConfig{}, nil), SearchConfig{}, nil)
	if _, err := searcher.Sweep(context.Background(), flatProblem(), nil); !errors.Is(err, types.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument for an empty list, got %v", err)
	}
	if _, err := searcher.Sweep(context.Background(), flatProblem(), []float64{0.2, 2}); !errors.Is(err, types.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument for Cru=2, got %v", err)
	}
}
