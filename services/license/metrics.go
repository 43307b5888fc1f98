package license

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	metricsOnce sync.Once

	operationTotal    *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	sweepExpired      prometheus.Counter
)

func initMetrics() {
	operationTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "licensing",
			Subsystem: "license",
			Name:      "operations_total",
			Help:      "License operations by outcome.",
		},
		[]string{"operation", "outcome"},
	)

	operationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "licensing",
			Subsystem: "license",
			Name:      "operation_duration_seconds",
			Help:      "License operation latency including store round trips.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 5},
		},
		[]string{"operation"},
	)

	sweepExpired = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "licensing",
		Subsystem: "license",
		Name:      "sweep_expired_total",
		Help:      "Rows marked expired by the expiry sweep.",
	})

	prometheus.MustRegister(operationTotal, operationDuration, sweepExpired)
}

// outcome labels
const (
	outcomeOK    = "ok"
	outcomeError = "error"
)

func recordOperation(op, outcome string, started time.Time) {
	metricsOnce.Do(initMetrics)

	operationTotal.WithLabelValues(op, outcome).Inc()
	operationDuration.WithLabelValues(op).Observe(time.Since(started).Seconds())
}

func recordResult(op string, res *Result, err error, started time.Time) {
	switch {
	case err != nil:
		recordOperation(op, outcomeError, started)
	case res == nil || res.Valid:
		recordOperation(op, outcomeOK, started)
	default:
		recordOperation(op, res.Code.String(), started)
	}
}

func recordSwept(n int64) {
	metricsOnce.Do(initMetrics)
	sweepExpired.Add(float64(n))
}
