package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Tool call counters
	ToolCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mcpchat",
			Subsystem: "orchestrator",
			Name:      "tool_calls_total",
			Help:      "Total tool invocations",
		},
		[]string{"tool_name", "status"},
	)

	// Tool duration histogram
	ToolDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mcpchat",
			Subsystem: "orchestrator",
			Name:      "tool_duration_seconds",
			Help:      "Tool execution duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"tool_name"},
	)

	// Model call counters
	ModelCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mcpchat",
			Subsystem: "orchestrator",
			Name:      "model_calls_total",
			Help:      "Total model chat completions issued",
		},
		[]string{"status"},
	)

	// Rounds per orchestration
	OrchestrationRounds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "mcpchat",
			Subsystem: "orchestrator",
			Name:      "rounds_per_invocation",
			Help:      "Tool execution rounds per orchestration",
			Buckets:   []float64{1, 2, 3, 5, 8, 10, 15},
		},
	)

	// Retry counters by kind (auto_fix, backoff, llm)
	RetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mcpchat",
			Subsystem: "orchestrator",
			Name:      "retries_total",
			Help:      "Retry attempts by kind",
		},
		[]string{"kind"},
	)

	// Discovery cache lookups
	CacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mcpchat",
			Subsystem: "discovery",
			Name:      "cache_lookups_total",
			Help:      "Discovery cache lookups by result",
		},
		[]string{"result"},
	)

	// Request counters
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mcpchat",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)
)
