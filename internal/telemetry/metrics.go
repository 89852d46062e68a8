package telemetry

import "github.com/prometheus/client_golang/prometheus"

// DispatchGuardFailuresTotal counts every guard (RBAC, lock, revision)
// rejection the Dispatcher returns, keyed by (tool, code, reason).
var DispatchGuardFailuresTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "toolgate",
		Subsystem: "dispatch",
		Name:      "guard_failures_total",
		Help:      "Total number of dispatcher guard rejections.",
	},
	[]string{"tool", "code", "reason"},
)

// DispatchRequestDuration tracks Handle latency by tool and outcome.
var DispatchRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "toolgate",
		Subsystem: "dispatch",
		Name:      "request_duration_seconds",
		Help:      "Dispatcher.Handle latency in seconds.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	},
	[]string{"tool", "ok"},
)

// JobsClaimedTotal counts jobs claimed by the worker, by kind.
var JobsClaimedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "toolgate",
		Subsystem: "worker",
		Name:      "jobs_claimed_total",
		Help:      "Total number of jobs claimed by the worker loop.",
	},
	[]string{"kind"},
)

// JobsDeadLetteredTotal counts jobs that exhausted their retry budget.
var JobsDeadLetteredTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "toolgate",
		Subsystem: "worker",
		Name:      "jobs_dead_lettered_total",
		Help:      "Total number of jobs dead-lettered after exhausting attempts.",
	},
	[]string{"kind"},
)

// BackendHealthChecksTotal counts heartbeat GetHealth calls, by resulting
// availability.
var BackendHealthChecksTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "toolgate",
		Subsystem: "worker",
		Name:      "backend_health_checks_total",
		Help:      "Total number of backend heartbeat health checks, by availability.",
	},
	[]string{"kind", "availability"},
)

// All returns every toolgate-specific metric for registration.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		DispatchGuardFailuresTotal,
		DispatchRequestDuration,
		JobsClaimedTotal,
		JobsDeadLetteredTotal,
		BackendHealthChecksTotal,
	}
}

// DispatcherMetrics adapts DispatchGuardFailuresTotal to the dispatcher
// package's FailureRecorder interface without dispatcher importing
// prometheus directly.
type DispatcherMetrics struct{}

func (DispatcherMetrics) RecordGuardFailure(tool, code, reason string) {
	DispatchGuardFailuresTotal.WithLabelValues(tool, code, reason).Inc()
}
