// Package metrics registers the gateway's Prometheus collectors,
// grounded on the reference node's infrastructure/clock/metrics.go
// custom-collector pattern.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles every counter/gauge the watcher and scheduler touch.
// One instance is built at startup and threaded through the components
// that report to it; nothing reaches for a package-level default
// registry — New registers against the Registerer it is given.
type Metrics struct {
	ReconcileTotal       prometheus.Counter
	ReconcileErrorsTotal prometheus.Counter
	SchedulerTickSeconds *prometheus.HistogramVec
	IntentsByStatus      *prometheus.GaugeVec
	ObservationsTotal    *prometheus.CounterVec
	ReorgTotal           prometheus.Counter
}

// New constructs and registers the gateway's metrics against reg. Pass
// prometheus.NewRegistry() in tests to avoid collisions with the default
// registry across test runs.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ReconcileTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "btcpay_watcher_reconcile_total",
			Help: "Number of transactions fed through the observation reconciler.",
		}),
		ReconcileErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "btcpay_watcher_reconcile_errors_total",
			Help: "Number of per-output reconciliation errors (logged and skipped).",
		}),
		SchedulerTickSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "btcpay_scheduler_tick_duration_seconds",
			Help: "Duration of each scheduler tick by task name.",
		}, []string{"task"}),
		IntentsByStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "btcpay_intents_by_status",
			Help: "Current intent count by lifecycle status.",
		}, []string{"status"}),
		ObservationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "btcpay_observations_total",
			Help: "Observations applied to the state machine, by source.",
		}, []string{"source"}),
		ReorgTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "btcpay_reorg_total",
			Help: "Number of confirmed->processing reorg demotions.",
		}),
	}

	reg.MustRegister(
		m.ReconcileTotal,
		m.ReconcileErrorsTotal,
		m.SchedulerTickSeconds,
		m.IntentsByStatus,
		m.ObservationsTotal,
		m.ReorgTotal,
	)
	return m
}
