package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RestartsTotal tracks restart cycles started, by trigger reason.
	RestartsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_restarts_total",
			Help: "Total number of restart cycles started",
		},
		[]string{"reason"},
	)

	// RestartsThrottledTotal tracks triggers dropped by the restart throttle.
	RestartsThrottledTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "warden_restarts_throttled_total",
			Help: "Total number of restart triggers dropped by throttling",
		},
	)

	// RestartAttempts mirrors the supervisor's attempt counter.
	RestartAttempts = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "warden_restart_attempts",
			Help: "Current restart attempt counter",
		},
	)

	// SupervisorPhase is 1 for the active phase label and 0 for the others.
	SupervisorPhase = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "warden_supervisor_phase",
			Help: "Restart supervisor phase (1 = active)",
		},
		[]string{"phase"},
	)

	// FailuresTotal tracks classified failures by class and source.
	FailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_failures_total",
			Help: "Total number of failures seen by the dispatcher",
		},
		[]string{"class", "source"},
	)

	// EventsDroppedTotal tracks failure events dropped because the bus was full.
	EventsDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "warden_events_dropped_total",
			Help: "Total number of failure events dropped",
		},
	)

	// RetryAttemptsTotal tracks retry executor attempts by operation and outcome.
	RetryAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_retry_attempts_total",
			Help: "Total number of retried operation attempts",
		},
		[]string{"operation", "outcome"},
	)

	// SecondsSinceHealthCheck is updated by the watchdog.
	SecondsSinceHealthCheck = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "warden_seconds_since_health_check",
			Help: "Seconds since the liveness timestamp was last stamped",
		},
	)

	// StateSavesTotal tracks durable state writes.
	StateSavesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_state_saves_total",
			Help: "Total number of state store saves",
		},
		[]string{"outcome"},
	)

	// MessagesProcessedTotal tracks inbound messages by outcome.
	MessagesProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_messages_processed_total",
			Help: "Total number of inbound messages processed",
		},
		[]string{"outcome"},
	)

	// SendLatency tracks outbound reply latency.
	SendLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "warden_send_latency_seconds",
			Help:    "Outbound reply latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// StateDBPoolUsage tracks Postgres connection pool usage percentage.
	StateDBPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "warden_state_db_pool_usage_percent",
			Help: "Postgres state backend connection pool usage percentage",
		},
	)
)
