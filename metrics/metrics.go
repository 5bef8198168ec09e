// Package metrics defines the engine's Prometheus instrumentation: one
// counter for evaluated models, gauges for beam width and active workers,
// and a histogram for per-model fit duration. A Metrics value is created
// once per process (or per test, unregistered) and threaded into the
// search driver.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles the engine's instrumentation. All fields are safe for
// concurrent use, per the prometheus client's own guarantees.
type Metrics struct {
	ModelsEvaluated prometheus.Counter
	LooplessModels  prometheus.Counter
	LoopyModels     prometheus.Counter
	NonConverged    prometheus.Counter
	BeamWidth       prometheus.Gauge
	ActiveWorkers   prometheus.Gauge
	FitSeconds      prometheus.Histogram
}

// New builds a Metrics bundle and registers it with reg. Pass nil to build
// an unregistered bundle (tests, or a caller that registers elsewhere).
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ModelsEvaluated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "occam_models_evaluated_total",
			Help: "Total number of models evaluated across all searches.",
		}),
		LooplessModels: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "occam_loopless_models_evaluated_total",
			Help: "Total number of loopless (BP-fit) models evaluated.",
		}),
		LoopyModels: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "occam_loopy_models_evaluated_total",
			Help: "Total number of loopy (IPF-fit) models evaluated.",
		}),
		NonConverged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "occam_fit_non_converged_total",
			Help: "Total number of IPF fits that hit the iteration cap.",
		}),
		BeamWidth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "occam_beam_width",
			Help: "Size of the current search level's beam.",
		}),
		ActiveWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "occam_pool_active_workers",
			Help: "Number of work pool tasks currently executing.",
		}),
		FitSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "occam_fit_seconds",
			Help:    "Duration of a single model fit (BP or IPF).",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 16),
		}),
	}

	if reg != nil {
		reg.MustRegister(m.ModelsEvaluated, m.LooplessModels, m.LoopyModels,
			m.NonConverged, m.BeamWidth, m.ActiveWorkers, m.FitSeconds)
	}

	return m
}

// Nop returns an unregistered Metrics bundle whose methods are safe to call
// but never observed by any collector; used where a caller does not want
// metrics wired to the default registry (tests, one-off Fit requests).
func Nop() *Metrics { return New(nil) }
