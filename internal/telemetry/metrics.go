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

const namespace = "chronograph"

// Planner metrics.
var (
	PlannerReservationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "planner",
		Name:      "reservations_total",
		Help:      "Slots reserved, by strategy and whether a freed slot was reused.",
	}, []string{"strategy", "kind"})

	PlannerSlotsFreedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "planner",
		Name:      "slots_freed_total",
		Help:      "Slots released back to their plan.",
	}, []string{"strategy"})

	PlannerConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "planner",
		Name:      "conflicts_total",
		Help:      "Optimistic concurrency conflicts seen while saving plans.",
	})

	PlannerSkippedDays = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "planner",
		Name:      "skipped_days",
		Help:      "Full working days skipped before a slot was found.",
		Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 21},
	})
)

// Job scheduler metrics.
var (
	JobsArmedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "jobs",
		Name:      "armed_total",
		Help:      "Jobs added or replaced, by kind.",
	}, []string{"kind"})

	JobsFiredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "jobs",
		Name:      "fired_total",
		Help:      "Jobs executed, by kind and outcome.",
	}, []string{"kind", "outcome"})

	JobsMisfiredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "jobs",
		Name:      "misfired_total",
		Help:      "Jobs dropped because they were later than their misfire grace.",
	}, []string{"kind"})

	JobsPending = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "jobs",
		Name:      "pending",
		Help:      "Jobs with an armed timer on this instance.",
	})

	SchedulerTicksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "jobs",
		Name:      "sync_ticks_total",
		Help:      "Job table reconciliation ticks.",
	})

	SchedulerErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "jobs",
		Name:      "errors_total",
		Help:      "Job scheduler errors, by stage.",
	}, []string{"stage"})

	LeaderStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "jobs",
		Name:      "is_leader",
		Help:      "1 when this instance dispatches timers.",
	})

	LeaderChangesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "jobs",
		Name:      "leader_changes_total",
		Help:      "Leadership transitions, by direction.",
	}, []string{"transition"})
)

// Resync and registry metrics.
var (
	ResyncPagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "resync",
		Name:      "pages_total",
		Help:      "Change feed pages processed, by direction.",
	}, []string{"direction"})

	ResyncErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "resync",
		Name:      "errors_total",
		Help:      "Crawler and handler failures, by operation.",
	}, []string{"operation"})

	ResyncLastSweep = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "resync",
		Name:      "last_sweep_timestamp_seconds",
		Help:      "Unix time of the last finished forward sweep.",
	})

	RegistryRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "registry",
		Name:      "requests_total",
		Help:      "Outbound registry requests, by method and status code.",
	}, []string{"method", "code"})

	RegistryRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "registry",
		Name:      "retries_total",
		Help:      "Outbound requests retried after a transport failure.",
	})
)

// Storage metrics.
var (
	DatabaseQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "db",
		Name:      "query_duration_seconds",
		Help:      "Database operation latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation", "table"})

	DatabaseErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "db",
		Name:      "errors_total",
		Help:      "Database operation errors.",
	}, []string{"operation", "kind"})

	DatabaseConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "db",
		Name:      "connections_open",
		Help:      "Open database connections.",
	})

	CacheOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "operations_total",
		Help:      "Cache lookups, by key family and result.",
	}, []string{"family", "result"})
)

// HTTP front door metrics.
var (
	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "api",
		Name:      "request_duration_seconds",
		Help:      "Inbound request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "api",
		Name:      "requests_total",
		Help:      "Inbound requests.",
	}, []string{"method", "route", "status"})

	APIActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "api",
		Name:      "active_requests",
		Help:      "Requests currently being served.",
	})
)

// Handler exposes the prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
