// Package metrics holds the Prometheus collectors for cortex kernel resources.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Kernel resources, labeled by op: create, attach, force, remove.
	Segments   *prometheus.CounterVec
	Semaphores *prometheus.CounterVec

	// Failures, labeled by class: clean, dirty.
	Errors           *prometheus.CounterVec
	TeardownFailures prometheus.Counter

	LiveHandles prometheus.Gauge
	LockWait    prometheus.Histogram
}

// Default is registered with the Prometheus default registerer.
var Default = New(prometheus.DefaultRegisterer)

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Segments: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cortex_segments_total",
				Help: "Shared memory segment operations that succeeded",
			},
			[]string{"op"},
		),
		Semaphores: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cortex_semaphores_total",
				Help: "Semaphore set operations that succeeded",
			},
			[]string{"op"},
		),
		Errors: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cortex_errors_total",
				Help: "Failed operations by clean/dirty class",
			},
			[]string{"class"},
		),
		TeardownFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "cortex_finalizer_failures_total",
			Help: "Teardowns run by the garbage collector that left kernel resources behind",
		}),
		LiveHandles: f.NewGauge(prometheus.GaugeOpts{
			Name: "cortex_live_handles",
			Help: "Handles built and not yet torn down",
		}),
		LockWait: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "cortex_lock_wait_seconds",
			Help:    "Time spent blocked in Acquire",
			Buckets: []float64{.00001, .0001, .001, .01, .1, 1, 10},
		}),
	}
}
