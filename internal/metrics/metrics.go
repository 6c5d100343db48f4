// Package metrics exposes Prometheus collectors for calibration work.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "gwrecharge"

var (
	solvesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rasmax_solves_total",
			Help:      "RASmax solves completed, partitioned by solver status.",
		},
		[]string{"status"},
	)

	solveIterations = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rasmax_solve_iterations",
			Help:      "Gauss-Newton iterations used per RASmax solve.",
			Buckets:   []float64{1, 2, 3, 5, 8, 13, 21, 34, 50},
		},
	)

	calibrationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "calibration_seconds",
			Help:      "Wall time of a full Cru/RASmax calibration.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		},
	)

	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "REST requests handled, partitioned by route and status code.",
		},
		[]string{"route", "code"},
	)
)

// Register attaches the collectors to reg. Registering twice is not an error.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		solvesTotal,
		solveIterations,
		calibrationSeconds,
		requestsTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveSolve records the outcome of one RASmax solve.
func ObserveSolve(status string, iterations int) {
	solvesTotal.WithLabelValues(status).Inc()
	solveIterations.Observe(float64(iterations))
}

// ObserveCalibration records the duration of a full calibration.
func ObserveCalibration(d time.Duration) {
	if d < 0 {
		d = 0
	}
	calibrationSeconds.Observe(d.Seconds())
}

// ObserveRequest counts a handled REST request.
func ObserveRequest(route string, code int) {
	requestsTotal.WithLabelValues(route, statusText(code)).Inc()
}

func statusText(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
