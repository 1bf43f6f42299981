// Package metrics exposes the orchestrator's Prometheus instrumentation:
// per-pool load and queue depth gauges, task throughput and retry
// counters, scraped by the HTTP operator surface's /api/v1/metrics route.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/truongnat/agentic-sdlc-orchestrator/internal/pool"
)

// Registry owns the orchestrator's Prometheus collectors and refreshes the
// pool gauges on demand from a pool.Manager snapshot.
type Registry struct {
	reg *prometheus.Registry

	poolLoad       *prometheus.GaugeVec
	poolQueueDepth *prometheus.GaugeVec
	poolInstances  *prometheus.GaugeVec
	tasksTotal     *prometheus.CounterVec
	taskRetries    prometheus.Counter
}

// NewRegistry builds and registers the orchestrator's collectors against a
// fresh prometheus.Registry.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		reg: reg,
		poolLoad: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "asdlc",
			Subsystem: "pool",
			Name:      "current_load",
			Help:      "Fraction of alive instances currently busy, per role.",
		}, []string{"role"}),
		poolQueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "asdlc",
			Subsystem: "pool",
			Name:      "queued_tasks",
			Help:      "Tasks waiting in a pool's inbound queue, per role.",
		}, []string{"role"}),
		poolInstances: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "asdlc",
			Subsystem: "pool",
			Name:      "instances",
			Help:      "Instance count by role and state.",
		}, []string{"role", "state"}),
		tasksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "asdlc",
			Subsystem: "task",
			Name:      "completed_total",
			Help:      "Tasks that reached a terminal status, by role and outcome.",
		}, []string{"role", "outcome"}),
		taskRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "asdlc",
			Subsystem: "task",
			Name:      "retries_total",
			Help:      "Total task retry attempts issued by the recovery strategy.",
		}),
	}

	reg.MustRegister(r.poolLoad, r.poolQueueDepth, r.poolInstances, r.tasksTotal, r.taskRetries)
	return r
}

// Gatherer exposes the underlying prometheus.Gatherer for an HTTP handler
// to serve.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// RecordTaskOutcome increments the completed-task counter for a role and
// terminal outcome (completed, failed, skipped).
func (r *Registry) RecordTaskOutcome(role, outcome string) {
	r.tasksTotal.WithLabelValues(role, outcome).Inc()
}

// RecordRetry increments the retry counter once per recovery-strategy
// RETRY or REASSIGN decision.
func (r *Registry) RecordRetry() {
	r.taskRetries.Inc()
}

// RefreshPoolGauges snapshots every pool in mgr into the load/queue/instance
// gauges. Callers typically run this on a short ticker, or just before
// serving a scrape.
func (r *Registry) RefreshPoolGauges(mgr *pool.Manager) {
	for role, m := range mgr.AggregateMetrics() {
		r.poolLoad.WithLabelValues(role).Set(m.CurrentLoad)
		r.poolQueueDepth.WithLabelValues(role).Set(float64(m.QueuedTasks))
		r.poolInstances.WithLabelValues(role, "idle").Set(float64(m.IdleInstances))
		r.poolInstances.WithLabelValues(role, "busy").Set(float64(m.BusyInstances))
		r.poolInstances.WithLabelValues(role, "failed").Set(float64(m.FailedInstances))
	}
}
