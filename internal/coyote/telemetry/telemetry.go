// Package telemetry wraps the structured logging and metrics surface of the
// engine. The Scheduler Core and RunTest record metrics through it; no
// engine code writes to its logger. It intentionally
// exposes no package-level singleton: every Runtime carries its own
// *Telemetry instance, following the "no global mutable scheduler state"
// guidance the engine was designed around.
package telemetry

import (
	"io"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// Telemetry bundles a logger and a metrics registry for one engine instance.
type Telemetry struct {
	Log zerolog.Logger

	registry *prometheus.Registry

	iterations       prometheus.Counter
	bugsByCategory   *prometheus.CounterVec
	stepsPerIter     prometheus.Histogram
	operationsActive prometheus.Gauge
	maxStepsHits     prometheus.Counter
}

// Option configures a Telemetry instance.
type Option func(*Telemetry)

// WithWriter directs log output to w instead of os.Stderr.
func WithWriter(w io.Writer) Option {
	return func(t *Telemetry) {
		t.Log = t.Log.Output(w)
	}
}

// WithLevel sets the minimum log level.
func WithLevel(level zerolog.Level) Option {
	return func(t *Telemetry) {
		t.Log = t.Log.Level(level)
	}
}

// New constructs a Telemetry instance bound to a fresh Prometheus registry
// (never the global prometheus.DefaultRegisterer, to keep multiple Runtimes
// in one process from colliding on metric names).
func New(component string, opts ...Option) *Telemetry {
	reg := prometheus.NewRegistry()

	t := &Telemetry{
		Log:      zerolog.New(os.Stderr).With().Timestamp().Str("component", component).Logger(),
		registry: reg,
		iterations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "coyote",
			Name:      "iterations_total",
			Help:      "Number of testing iterations executed.",
		}),
		bugsByCategory: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coyote",
			Name:      "bugs_total",
			Help:      "Number of bug findings, by category.",
		}, []string{"category"}),
		stepsPerIter: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "coyote",
			Name:      "scheduled_steps",
			Help:      "Scheduled steps per iteration.",
			Buckets:   prometheus.ExponentialBuckets(4, 2, 14),
		}),
		operationsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "coyote",
			Name:      "operations_active",
			Help:      "Number of non-completed operations in the current iteration.",
		}),
		maxStepsHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "coyote",
			Name:      "max_steps_bound_hits_total",
			Help:      "Number of iterations that ended by exhausting a step budget.",
		}),
	}

	reg.MustRegister(t.iterations, t.bugsByCategory, t.stepsPerIter, t.operationsActive, t.maxStepsHits)

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// Registry returns the Prometheus registry backing this instance, for a
// collaborator to serve over /metrics.
func (t *Telemetry) Registry() *prometheus.Registry {
	return t.registry
}

// IterationStarted records the start of a new testing iteration.
func (t *Telemetry) IterationStarted() {
	t.iterations.Inc()
}

// BugFound records a finding by category (matches coyoteerr.Category values).
func (t *Telemetry) BugFound(category string) {
	t.bugsByCategory.WithLabelValues(category).Inc()
}

// StepsRecorded records the number of scheduled steps an iteration took.
func (t *Telemetry) StepsRecorded(n int) {
	t.stepsPerIter.Observe(float64(n))
}

// SetActiveOperations updates the live operation-count gauge.
func (t *Telemetry) SetActiveOperations(n int) {
	t.operationsActive.Set(float64(n))
}

// MaxStepsBoundHit records an iteration ending via a step-budget exhaustion.
func (t *Telemetry) MaxStepsBoundHit() {
	t.maxStepsHits.Inc()
}
