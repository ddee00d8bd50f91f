/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "updatehelper"

// Scheduler metrics.
var (
	SchedulerTicksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "scheduler",
		Name:      "ticks_total",
		Help:      "Driver ticks executed.",
	})

	SchedulerTickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "scheduler",
		Name:      "tick_duration_seconds",
		Help:      "Time spent evaluating every stored timer in one tick.",
		Buckets:   prometheus.DefBuckets,
	})

	TimerFiresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "scheduler",
		Name:      "timer_fires_total",
		Help:      "Timer firings by variant.",
	}, []string{"variant"})

	TimerMissedRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "scheduler",
		Name:      "timer_missed_runs_total",
		Help:      "Occurrences that elapsed without a dedicated firing.",
	}, []string{"timer_id"})

	TimerSkipsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "scheduler",
		Name:      "timer_skips_total",
		Help:      "Timers skipped during a tick by reason.",
	}, []string{"reason"})

	ActionRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "scheduler",
		Name:      "action_runs_total",
		Help:      "Action executions by action type and result.",
	}, []string{"type", "result"})

	ActionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "scheduler",
		Name:      "action_duration_seconds",
		Help:      "Action execution time.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"type"})

	OptionNoopWritesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "options",
		Name:      "noop_writes_total",
		Help:      "Writes the options store reported as unchanged.",
	})

	LeaderElectionChanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "leader",
		Name:      "election_changes_total",
		Help:      "Leadership transitions observed by this instance.",
	}, []string{"instance_id", "state"})

	LeaderElectionStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "leader",
		Name:      "is_leader",
		Help:      "1 when this instance holds the driver lease.",
	}, []string{"instance_id"})
)

// Update helper metrics.
var (
	UpdateRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "updates",
		Name:      "requests_total",
		Help:      "Requests sent to update servers by endpoint and result.",
	}, []string{"endpoint", "result"})

	UpdatesAvailable = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "updates",
		Name:      "available",
		Help:      "Plugins with a newer version at the last check.",
	})

	PackageDownloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "updates",
		Name:      "package_downloads_total",
		Help:      "Package downloads by result.",
	}, []string{"result"})
)

// Database metrics.
var (
	DatabaseQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "db",
		Name:      "query_duration_seconds",
		Help:      "Database operation latency by operation and table.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	}, []string{"operation", "table"})

	DatabaseErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "db",
		Name:      "errors_total",
		Help:      "Failed database operations.",
	}, []string{"operation", "error_type"})

	DatabaseConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "db",
		Name:      "connections_active",
		Help:      "Open database connections.",
	})
)

// HTTP API metrics.
var (
	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "api",
		Name:      "requests_total",
		Help:      "HTTP requests by method, route and status.",
	}, []string{"method", "endpoint", "status"})

	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "api",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "endpoint", "status"})

	APIActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "api",
		Name:      "active_connections",
		Help:      "In-flight HTTP requests.",
	})
)

// Handler exposes the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
