package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ItemsCollected tracks total records collected per session
	ItemsCollected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_items_collected_total",
			Help: "Total number of records collected",
		},
		[]string{"session"},
	)

	// ItemsSkipped tracks items skipped per session and reason
	ItemsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_items_skipped_total",
			Help: "Total number of items skipped",
		},
		[]string{"session", "reason"},
	)

	// ItemsDegraded tracks records collected with missing optional fields
	ItemsDegraded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_items_degraded_total",
			Help: "Total number of records collected in degraded form",
		},
		[]string{"session"},
	)

	// RoundsTotal tracks completed collect rounds per session
	RoundsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_rounds_total",
			Help: "Total number of collect rounds run",
		},
		[]string{"session"},
	)

	// RunsAborted tracks runs that ended with an abort verdict
	RunsAborted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_runs_aborted_total",
			Help: "Total number of aborted runs",
		},
		[]string{"session"},
	)

	// EnsureAttempts tracks anchor recovery attempts per target and outcome
	EnsureAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_ensure_attempts_total",
			Help: "Total number of anchor ensure calls",
		},
		[]string{"target", "result"},
	)

	// EnsureDuration tracks how long anchor recovery takes
	EnsureDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "harvester_ensure_duration_seconds",
			Help:    "Anchor ensure duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"target"},
	)

	// GateWaitSeconds tracks how long callers wait for a search permit
	GateWaitSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "harvester_gate_wait_seconds",
			Help:    "Time spent waiting for a search permit",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120},
		},
	)

	// GateGrants tracks granted search permits
	GateGrants = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "harvester_gate_grants_total",
			Help: "Total number of search permits granted",
		},
	)

	// GateTimeouts tracks permit waits that timed out
	GateTimeouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "harvester_gate_timeouts_total",
			Help: "Total number of permit waits that timed out",
		},
	)

	// GateQueueDepth tracks callers currently queued at the gate
	GateQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "harvester_gate_queue_depth",
			Help: "Number of callers waiting for a search permit",
		},
	)

	// SearchBudgetUsed tracks searches consumed against the daily budget
	SearchBudgetUsed = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "harvester_search_budget_used",
			Help: "Searches consumed from the daily budget",
		},
	)

	// SnapshotSaves tracks progress snapshot writes per session
	SnapshotSaves = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_snapshot_saves_total",
			Help: "Total number of progress snapshot saves",
		},
		[]string{"session"},
	)

	// FailedItemsPending tracks the failed item backlog per session
	FailedItemsPending = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "harvester_failed_items_pending",
			Help: "Failed items awaiting reprocessing",
		},
		[]string{"session"},
	)

	// DriverErrors tracks driver-level failures per driver and kind
	DriverErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_driver_errors_total",
			Help: "Total number of browser driver errors",
		},
		[]string{"driver", "kind"},
	)

	// DBConnectionPoolUsage tracks database pool utilization
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "harvester_db_connection_pool_usage",
			Help: "Database connection pool usage percentage",
		},
	)
)
