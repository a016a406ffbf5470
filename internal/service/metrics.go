package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	turnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fiction_turns_total",
		Help: "Total number of processed turns by outcome.",
	}, []string{"outcome"}) // completed, recovered

	turnRevisions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fiction_turn_revisions_total",
		Help: "Total number of times validation sent a turn back to planning.",
	})

	turnRecoveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fiction_turn_recoveries_total",
		Help: "Total number of turns that ended in the recover state, by cause.",
	}, []string{"cause"}) // validation, error, limit

	turnDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fiction_turn_duration_seconds",
		Help:    "Duration of turn processing.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})

	toolFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fiction_tool_failures_total",
		Help: "Total number of failed plan steps by tool.",
	}, []string{"tool"})

	narrationFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fiction_narration_fallbacks_total",
		Help: "Total number of turns narrated from templates after generator failure.",
	})

	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fiction_active_sessions",
		Help: "Number of sessions held in memory by the orchestrator.",
	})
)
