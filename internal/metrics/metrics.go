package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TurnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "familiar_turns_total",
			Help: "Total number of conversation turns by outcome",
		},
		[]string{"outcome"},
	)

	TurnDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "familiar_turn_duration_seconds",
			Help:    "Duration of a full conversation turn in seconds",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		},
	)

	TurnSteps = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "familiar_turn_steps",
			Help:    "Completion calls made per turn",
			Buckets: prometheus.LinearBuckets(1, 1, 10),
		},
	)

	LLMRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "familiar_llm_requests_total",
			Help: "Total number of completion requests by mode and status",
		},
		[]string{"mode", "status"},
	)

	LLMLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "familiar_llm_latency_seconds",
			Help: "Completion request latency in seconds",
		},
		[]string{"mode"},
	)

	ToolCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "familiar_tool_calls_total",
			Help: "Total number of tool calls by tool and outcome",
		},
		[]string{"tool", "outcome"},
	)

	Classifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "familiar_significance_classifications_total",
			Help: "Significance classifications by score; failures are counted as \"unknown\"",
		},
		[]string{"score"},
	)

	ActiveTurns = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "familiar_active_turns",
			Help: "Number of turns currently running",
		},
	)
)
