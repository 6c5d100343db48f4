package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/chrissnell/gwrecharge/internal/calibrate"
	"github.com/chrissnell/gwrecharge/internal/controllers/restserver"
	"github.com/chrissnell/gwrecharge/internal/database"
	"github.com/chrissnell/gwrecharge/internal/engine"
	"github.com/chrissnell/gwrecharge/internal/loaders/timescale"
	"github.com/chrissnell/gwrecharge/internal/loaders/waterlevel"
	"github.com/chrissnell/gwrecharge/internal/loaders/weather"
	"github.com/chrissnell/gwrecharge/internal/log"
	"github.com/chrissnell/gwrecharge/internal/metrics"
	"github.com/chrissnell/gwrecharge/internal/store"
	"github.com/chrissnell/gwrecharge/internal/types"
	"github.com/chrissnell/gwrecharge/pkg/config"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// App represents the main application
type App struct {
	configProvider config.ConfigProvider
	logger         *zap.SugaredLogger
}

// New creates a new application instance
func New(configProvider config.ConfigProvider, logger *zap.SugaredLogger) *App {
	return &App{
		configProvider: configProvider,
		logger:         log.OrNop(logger),
	}
}

// Engine loads the configured weather and water level records and aligns
// them into a calibration engine.
func (a *App) Engine(ctx context.Context) (*engine.Engine, error) {
	cfg, err := a.configProvider.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("error loading configuration: %w", err)
	}

	w, err := LoadWeather(ctx, cfg.Sources.Weather, a.logger)
	if err != nil {
		return nil, err
	}

	levels, err := LoadLevels(cfg.Sources.WaterLevel)
	if err != nil {
		return nil, err
	}

	return engine.New(w, levels, EngineOptions(cfg.Calibration, a.logger.Named("engine"))...)
}

// Run serves calibrations over REST and blocks until shutdown
func (a *App) Run(ctx context.Context) error {
	var wg sync.WaitGroup

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cfg, err := a.configProvider.LoadConfig()
	if err != nil {
		return fmt.Errorf("error loading configuration: %w", err)
	}

	eng, err := a.Engine(ctx)
	if err != nil {
		return err
	}

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return fmt.Errorf("error registering metrics: %w", err)
	}

	runs, err := store.Open(cfg.Storage.SQLite.Path, a.logger.Named("store"))
	if err != nil {
		return err
	}
	defer runs.Close()

	rest, err := restserver.NewController(ctx, &wg, cfg.Server, restserver.Backend{
		Calibrator: eng,
		Runs:       runs,
		Gatherer:   prometheus.DefaultGatherer,
		Defaults:   cfg.Calibration,
	}, a.logger.Named("rest"))
	if err != nil {
		return err
	}
	if err := rest.StartController(); err != nil {
		return err
	}

	log.Info("Application started successfully")

	// Set up signal handling
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)

	// Wait for shutdown signal
	select {
	case <-sigs:
		log.Info("shutdown signal received, initiating graceful shutdown...")
	case <-ctx.Done():
		log.Info("context cancelled, shutting down...")
	}

	// Cancel context to signal all goroutines to stop
	cancel()

	// Wait for all workers to terminate
	log.Info("waiting for all workers to terminate...")
	wg.Wait()
	log.Info("shutdown complete")

	return nil
}

// LoadWeather reads the weather record from a file or a remoteweather
// TimescaleDB station.
func LoadWeather(ctx context.Context, src config.WeatherSourceData, logger *zap.SugaredLogger) (*types.WeatherSeries, error) {
	switch src.Type {
	case config.WeatherSourceFile, "":
		d, err := weather.Load(src.Path)
		if err != nil {
			return nil, err
		}
		return d.Series()

	case config.WeatherSourceTimescaleDB:
		from, err := parseDay(src.From)
		if err != nil {
			return nil, err
		}
		to, err := parseDay(src.To)
		if err != nil {
			return nil, err
		}

		db, err := database.CreateConnection(src.ConnectionString)
		if err != nil {
			return nil, fmt.Errorf("could not connect to the weather database: %w", err)
		}
		if sqlDB, err := db.DB(); err == nil {
			defer sqlDB.Close()
		}

		return timescale.NewSource(db, src.Station, src.Latitude, logger).Load(ctx, from, to)

	default:
		return nil, fmt.Errorf("unknown weather source type %q: %w", src.Type, types.ErrInvalidArgument)
	}
}

// LoadLevels reads the hydrograph. Recession coefficients set in the
// configuration replace those stored in the file.
func LoadLevels(src config.WaterLevelSourceData) (*types.WaterLevelSeries, error) {
	levels, err := waterlevel.Load(src.Path, src.Sheet)
	if err != nil {
		return nil, err
	}
	if src.RecessionA != 0 {
		levels.Recession.A = src.RecessionA
	}
	if src.RecessionB != 0 {
		levels.Recession.B = src.RecessionB
	}
	return levels, nil
}

// EngineOptions translates the calibration settings into engine options.
func EngineOptions(c config.CalibrationData, logger *zap.SugaredLogger) []engine.Option {
	return []engine.Option{
		engine.WithLogger(logger),
		engine.WithRechargeLag(c.RechargeLagDays),
		engine.WithSolverConfig(calibrate.SolverConfig{
			InitialRASmax:      c.Solver.InitialRASmax,
			Perturbation:       c.Solver.Perturbation,
			Tolerance:          c.Solver.Tolerance,
			OvershootTolerance: c.Solver.OvershootTolerance,
			MaxIterations:      c.Solver.MaxIterations,
			MaxDampingSteps:    c.Solver.MaxDampingSteps,
			TMelt:              c.Solver.TMelt,
			MeltCoeff:          c.Solver.MeltCoeff,
		}),
		engine.WithSearchConfig(calibrate.SearchConfig{
			CoarseStart:   c.Search.CoarseStart,
			CoarseStop:    c.Search.CoarseStop,
			CoarseStep:    c.Search.CoarseStep,
			FineHalfWidth: c.Search.FineHalfWidth,
			FineStep:      c.Search.FineStep,
			Parallelism:   c.Search.Parallelism,
		}),
	}
}

// parseDay parses a YYYY-MM-DD bound; empty leaves the bound open.
func parseDay(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad date %q, want YYYY-MM-DD: %w", s, types.ErrInvalidArgument)
	}
	return t, nil
}
