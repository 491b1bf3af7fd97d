// Package metrics defines the prometheus collectors corelog exposes,
// named after and grouped the way the teacher's internal/metrics
// package does (one package-level registration point, `_total`/
// `_seconds` suffixes, label sets kept small). Unlike the teacher,
// collectors are built from a constructor taking a prometheus.Registerer
// rather than registered against the global default registry, so
// multiple Logger instances (and tests) never collide on duplicate
// registration.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "corelog"

// Metrics bundles corelog's Prometheus collectors. No other corelog
// package imports or updates them.
type Metrics struct {
	QueueDepth       *prometheus.GaugeVec
	QueueUtilization *prometheus.GaugeVec

	PressureLevel prometheus.Gauge

	WorkerCount   prometheus.Gauge
	WorkersActive prometheus.Gauge

	CircuitBreakerState *prometheus.GaugeVec

	AuditEventsTotal prometheus.Counter

	ProcessingDuration   *prometheus.HistogramVec
	BatchFlushDuration   prometheus.Histogram

	DroppedTotal *prometheus.CounterVec
}

// New constructs and registers every collector against reg. Pass
// prometheus.NewRegistry() in tests to avoid touching the global
// default registry.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		QueueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Current number of entries in a queue lane",
		}, []string{"lane"}),

		QueueUtilization: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_utilization",
			Help:      "Current occupancy of a queue lane as a fraction of capacity",
		}, []string{"lane"}),

		PressureLevel: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pressure_level",
			Help:      "Current pressure monitor level (0=NORMAL, 1=ELEVATED, 2=HIGH, 3=CRITICAL)",
		}),

		WorkerCount: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "worker_count",
			Help:      "Configured worker pool size",
		}),

		WorkersActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "workers_active",
			Help:      "Current live worker goroutine count",
		}),

		CircuitBreakerState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state per sink (0=closed, 1=open, 2=half_open)",
		}, []string{"sink"}),

		AuditEventsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_events_total",
			Help:      "Total number of audit events appended",
		}),

		ProcessingDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "processing_duration_seconds",
			Help:      "Time spent running one envelope through the pipeline",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
		}, []string{"stage"}),

		BatchFlushDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_flush_duration_seconds",
			Help:      "Time spent flushing one worker batch to sinks",
			Buckets:   prometheus.DefBuckets,
		}),

		DroppedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_total",
			Help:      "Total number of events dropped, by lane and reason",
		}, []string{"lane", "reason"}),
	}
}
