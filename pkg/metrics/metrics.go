// Package metrics defines and registers the Prometheus metrics exposed by
// the master coordinator: session/balance gauges, dispatch counters and
// latency histograms, and blacklist/respawn counters.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SessionsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "master_sessions_total",
			Help: "Current number of sessions by FSM state",
		},
		[]string{"state"},
	)

	BalanceDistribution = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "master_session_balance",
			Help: "Current balance value per session, keyed by node id",
		},
		[]string{"node_id"},
	)

	JobsDispatchedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "master_jobs_dispatched_total",
			Help: "Total number of jobs handed to slaves",
		},
	)

	JobsRefusedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "master_jobs_refused_total",
			Help: "Total number of job requests the workflow engine refused",
		},
	)

	JobsNotReadyTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "master_jobs_not_ready_total",
			Help: "Total number of job requests postponed because no data was ready yet",
		},
	)

	UpdatesAppliedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "master_updates_applied_total",
			Help: "Total number of slave updates applied to the workflow engine",
		},
	)

	BlacklistedNodesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "master_blacklisted_nodes_total",
			Help: "Total number of nodes blacklisted for hanging or exceeding the job timeout",
		},
	)

	RespawnAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "master_respawn_attempts_total",
			Help: "Total number of respawn attempts by outcome",
		},
		[]string{"outcome"},
	)

	BalanceAnomalyTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "master_balance_anomaly_total",
			Help: "Total number of times balance exceeded the expected 0-1 range",
		},
	)

	JobGenerationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "master_job_generation_duration_seconds",
			Help:    "Time taken by the workflow engine to generate a job",
			Buckets: prometheus.DefBuckets,
		},
	)

	UpdateApplyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "master_update_apply_duration_seconds",
			Help:    "Time taken by the workflow engine to apply an update",
			Buckets: prometheus.DefBuckets,
		},
	)

	DNSResolutionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "master_dns_resolution_duration_seconds",
			Help:    "Time taken to resolve a slave's reverse DNS hostname",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(
		SessionsTotal,
		BalanceDistribution,
		JobsDispatchedTotal,
		JobsRefusedTotal,
		JobsNotReadyTotal,
		UpdatesAppliedTotal,
		BlacklistedNodesTotal,
		RespawnAttemptsTotal,
		BalanceAnomalyTotal,
		JobGenerationDuration,
		UpdateApplyDuration,
		DNSResolutionDuration,
	)
}

// Handler returns the Prometheus HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
