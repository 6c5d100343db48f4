package restserver

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chrissnell/gwrecharge/internal/log"
	"github.com/chrissnell/gwrecharge/internal/metrics"
	"github.com/chrissnell/gwrecharge/internal/mrc"
	"github.com/chrissnell/gwrecharge/internal/store"
	"github.com/chrissnell/gwrecharge/internal/types"
	"github.com/chrissnell/gwrecharge/pkg/config"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Calibrator runs calibrations against a fixed aligned window.
type Calibrator interface {
	Run(ctx context.Context, sy float64) (*types.CalibrationResult, error)
	MultiFit(ctx context.Context, sy float64, crus []float64) ([]types.FitResult, error)
	WaterBudget(result *types.CalibrationResult) ([]types.YearlyBudget, error)
	MRCRecharge(col mrc.Column) ([]mrc.Period, error)
}

// RunStore keeps calibration results between requests.
type RunStore interface {
	Save(ctx context.Context, result *types.CalibrationResult) (string, error)
	Get(ctx context.Context, id string) (*types.CalibrationResult, error)
	List(ctx context.Context) ([]store.Summary, error)
}

// Backend is what the REST server serves.
type Backend struct {
	Calibrator Calibrator
	Runs       RunStore
	Gatherer   prometheus.Gatherer
	// Defaults supply Sy and the Cru list when a request omits them.
	Defaults config.CalibrationData
}

// Controller represents the REST server controller
type Controller struct {
	ctx        context.Context
	wg         *sync.WaitGroup
	restConfig config.ServerData
	Server     http.Server
	backend    Backend
	logger     *zap.SugaredLogger
	handlers   *Handlers
}

// NewController creates a new REST server controller
func NewController(ctx context.Context, wg *sync.WaitGroup, rc config.ServerData, backend Backend, logger *zap.SugaredLogger) (*Controller, error) {
	if backend.Calibrator == nil || backend.Runs == nil {
		return nil, fmt.Errorf("REST server needs a calibrator and a run store")
	}
	logger = log.OrNop(logger)

	// If a ListenAddr was not provided, listen on all interfaces
	if rc.ListenAddr == "" {
		logger.Info("server.listen-addr not provided; defaulting to 0.0.0.0 (all interfaces)")
		rc.ListenAddr = config.DefaultListenAddr
	}

	// Set default HTTP port if not specified
	if rc.Port == 0 {
		logger.Infof("server.port not provided; defaulting to %d", config.DefaultPort)
		rc.Port = config.DefaultPort
	}

	if backend.Gatherer == nil {
		backend.Gatherer = prometheus.DefaultGatherer
	}

	ctrl := &Controller{
		ctx:        ctx,
		wg:         wg,
		restConfig: rc,
		backend:    backend,
		logger:     logger,
	}
	ctrl.handlers = NewHandlers(ctrl)

	ctrl.Server.Addr = fmt.Sprintf("%v:%v", rc.ListenAddr, rc.Port)
	ctrl.Server.Handler = ctrl.Router()
	ctrl.Server.ReadHeaderTimeout = 10 * time.Second

	return ctrl, nil
}

// StartController starts the REST server
func (c *Controller) StartController() error {
	c.logger.Infof("Starting REST server on %s...", c.Server.Addr)
	c.wg.Add(1)

	go func() {
		defer c.wg.Done()

		if c.restConfig.Cert != "" && c.restConfig.Key != "" {
			if err := c.Server.ListenAndServeTLS(c.restConfig.Cert, c.restConfig.Key); err != http.ErrServerClosed {
				c.logger.Errorf("REST server error: %v", err)
			}
		} else {
			if err := c.Server.ListenAndServe(); err != http.ErrServerClosed {
				c.logger.Errorf("REST server error: %v", err)
			}
		}
	}()

	go func() {
		<-c.ctx.Done()
		c.logger.Info("Shutting down the REST server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		c.Server.Shutdown(shutdownCtx)
	}()

	return nil
}

// Router configures the HTTP router with all endpoints
func (c *Controller) Router() http.Handler {
	router := mux.NewRouter()
	router.Use(c.metricsMiddleware)

	router.HandleFunc("/calibrations", c.handlers.CreateCalibration).Methods(http.MethodPost)
	router.HandleFunc("/calibrations", c.handlers.ListCalibrations).Methods(http.MethodGet)
	router.HandleFunc("/calibrations/{id}", c.handlers.GetCalibration).Methods(http.MethodGet)
	router.HandleFunc("/calibrations/{id}/export", c.handlers.ExportCalibration).Methods(http.MethodGet)
	router.HandleFunc("/calibrations/{id}/budget", c.handlers.GetWaterBudget).Methods(http.MethodGet)
	router.HandleFunc("/fits", c.handlers.CreateFits).Methods(http.MethodPost)
	router.HandleFunc("/mrc", c.handlers.CreateMRCRecharge).Methods(http.MethodPost)

	router.Handle("/metrics", promhttp.HandlerFor(c.backend.Gatherer, promhttp.HandlerOpts{}))

	return router
}

// statusRecorder remembers the status code written by a handler
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// metricsMiddleware counts requests by route template and status class
func (c *Controller) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := r.URL.Path
		if current := mux.CurrentRoute(r); current != nil {
			if tpl, err := current.GetPathTemplate(); err == nil {
				route = tpl
			}
		}

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		metrics.ObserveRequest(route, rec.status)
		c.logger.Debugw("handled request", "method", r.Method, "route", route,
			"status", rec.status, "duration", time.Since(start))
	})
}
