// Package metrics registers the prometheus instruments for the tracking
// loop. A single Registry value is shared by the merge engine, the alert
// orchestrator and the scheduler.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry bundles the planwatch instruments. NewRegistry registers them
// on a fresh prometheus registry so tests can create as many as they like.
type Registry struct {
	Registerer *prometheus.Registry

	ImportsTotal    *prometheus.CounterVec
	AlertsCreated   *prometheus.CounterVec
	AlertsEscalated prometheus.Counter
	ResponsesTotal  *prometheus.CounterVec
	JobRuns         *prometheus.CounterVec
	JobDuration     *prometheus.HistogramVec
	QueueSendsTotal *prometheus.CounterVec
}

func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	m := &Registry{
		Registerer: reg,
		ImportsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "planwatch_imports_total",
			Help: "Import batches by final status.",
		}, []string{"status"}),
		AlertsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "planwatch_alerts_created_total",
			Help: "Alerts created by type.",
		}, []string{"type"}),
		AlertsEscalated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "planwatch_alerts_escalated_total",
			Help: "Alerts escalated to a higher chain level.",
		}),
		ResponsesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "planwatch_responses_total",
			Help: "Status responses by reported status.",
		}, []string{"reported_status"}),
		JobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "planwatch_job_runs_total",
			Help: "Scheduler job runs by job id and outcome.",
		}, []string{"job", "outcome"}),
		JobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "planwatch_job_duration_seconds",
			Help:    "Scheduler job wall-clock duration.",
			Buckets: prometheus.DefBuckets,
		}, []string{"job"}),
		QueueSendsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "planwatch_queue_sends_total",
			Help: "Outbound queue sends by outcome.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(
		m.ImportsTotal,
		m.AlertsCreated,
		m.AlertsEscalated,
		m.ResponsesTotal,
		m.JobRuns,
		m.JobDuration,
		m.QueueSendsTotal,
	)
	return m
}
