package storage

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Instruments are the Prometheus collectors shared by every backend,
// labeled by provider and operation. Create one per registry; the
// per-backend Recorder feeds it.
type Instruments struct {
	Operations *prometheus.CounterVec
	Errors     *prometheus.CounterVec
	Duration   *prometheus.HistogramVec
}

// NewInstruments registers the storage collectors with the given
// registerer.
func NewInstruments(reg prometheus.Registerer) *Instruments {
	factory := promauto.With(reg)
	return &Instruments{
		Operations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "psp_storage_operations_total",
				Help: "Total storage operations by provider and operation",
			},
			[]string{"provider", "operation"},
		),
		Errors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "psp_storage_errors_total",
				Help: "Total failed storage operations by provider and operation",
			},
			[]string{"provider", "operation"},
		),
		Duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "psp_storage_operation_duration_seconds",
				Help:    "Storage operation duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"provider", "operation"},
		),
	}
}

// Recorder tracks one backend's operation counts for the Metrics()
// snapshot and optionally forwards observations to shared Prometheus
// instruments.
type Recorder struct {
	provider    string
	instruments *Instruments

	operations atomic.Int64
	errors     atomic.Int64
	totalNanos atomic.Int64
}

// NewRecorder creates a recorder for the named provider. instruments
// may be nil; the snapshot still works.
func NewRecorder(provider string, instruments *Instruments) *Recorder {
	return &Recorder{provider: provider, instruments: instruments}
}

// Observe records one completed operation.
func (r *Recorder) Observe(operation string, start time.Time, failed bool) {
	elapsed := time.Since(start)
	r.operations.Add(1)
	r.totalNanos.Add(int64(elapsed))
	if failed {
		r.errors.Add(1)
	}

	if r.instruments != nil {
		r.instruments.Operations.WithLabelValues(r.provider, operation).Inc()
		r.instruments.Duration.WithLabelValues(r.provider, operation).Observe(elapsed.Seconds())
		if failed {
			r.instruments.Errors.WithLabelValues(r.provider, operation).Inc()
		}
	}
}

// Snapshot returns the aggregate view behind Provider.Metrics().
func (r *Recorder) Snapshot() Metrics {
	ops := r.operations.Load()
	total := time.Duration(r.totalNanos.Load())
	var avg time.Duration
	if ops > 0 {
		avg = total / time.Duration(ops)
	}
	return Metrics{
		Operations:  ops,
		Errors:      r.errors.Load(),
		TotalTime:   total,
		AverageTime: avg,
	}
}
