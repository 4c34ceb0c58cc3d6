package chat

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	llmCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "aerodesk",
			Name:      "llm_calls_total",
			Help:      "Total LLM API calls",
		},
		[]string{"role", "status"}, // role: "supervisor", "specialist"
	)

	llmDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "aerodesk",
			Name:      "llm_duration_seconds",
			Help:      "Duration of LLM API calls in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~50s
		},
		[]string{"role"},
	)

	llmTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "aerodesk",
			Name:      "llm_tokens_total",
			Help:      "Total LLM tokens consumed",
		},
		[]string{"direction"}, // "input", "output"
	)

	specialistCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "aerodesk",
			Name:      "specialist_calls_total",
			Help:      "Specialist dispatches per domain and status",
		},
		[]string{"domain", "status"},
	)

	specialistDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "aerodesk",
			Name:      "specialist_duration_seconds",
			Help:      "Duration of specialist dispatches in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		},
		[]string{"domain"},
	)

	emergencyEscalationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "aerodesk",
			Name:      "emergency_escalations_total",
			Help:      "Queries short-circuited by the emergency pre-filter",
		},
	)

	streamDeltasTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "aerodesk",
			Name:      "stream_deltas_total",
			Help:      "Attributed text deltas emitted to callers",
		},
	)

	chatsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "aerodesk",
			Name:      "chats_active",
			Help:      "Number of currently active chat requests",
		},
	)
)
