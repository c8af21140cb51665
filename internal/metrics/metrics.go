package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Evaluation metrics
	EvaluationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alertresolver_evaluations_total",
			Help: "Alert definitions processed per tick by outcome",
		},
		[]string{"alert_type", "outcome"}, // outcome: throttled, quiet, raise, resolve, failed
	)

	EvaluationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alertresolver_evaluation_failures_total",
			Help: "Alert evaluations that returned an error or panicked",
		},
		[]string{"alert_type", "reason"}, // reason: error, panic
	)

	// Dispatch metrics
	ChannelDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alertresolver_channel_deliveries_total",
			Help: "Notification deliveries per channel",
		},
		[]string{"channel", "action", "status"}, // action: raise, resolve; status: ok, failed
	)

	SkipSuppressions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alertresolver_skip_suppressions_total",
			Help: "Raise candidates suppressed by an active skip alert",
		},
		[]string{"channel", "alert_type"},
	)

	ChannelBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "alertresolver_channel_breaker_state",
			Help: "Circuit breaker state per channel (0=closed, 1=open, 2=half-open)",
		},
		[]string{"channel"},
	)

	// Tick metrics
	TickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "alertresolver_tick_duration_seconds",
			Help:    "Duration of one ProcessAlerts run",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)

	TicksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alertresolver_ticks_total",
			Help: "Ticks by trigger and result",
		},
		[]string{"trigger", "result"}, // result: ok, failed, rejected
	)

	RecoveredPanics = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alertresolver_recovered_panics_total",
			Help: "Panics recovered inside the engine",
		},
		[]string{"component"},
	)
)
