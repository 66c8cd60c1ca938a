package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects engine-level Prometheus metrics: model call latency and
// token burn, tool execution outcomes, retries, and breaker transitions.
type Metrics struct {
	// ModelRequestDuration measures model API call latency in seconds.
	// Labels: provider, model
	ModelRequestDuration *prometheus.HistogramVec

	// ModelRequestCounter counts model requests.
	// Labels: provider, model, status (success|error)
	ModelRequestCounter *prometheus.CounterVec

	// ModelTokensUsed tracks token consumption.
	// Labels: provider, model, type (input|output)
	ModelTokensUsed *prometheus.CounterVec

	// ToolExecutionCounter counts tool invocations.
	// Labels: tool, status (success|error|denied|circuit_open)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool
	ToolExecutionDuration *prometheus.HistogramVec

	// RetryCounter counts retry sleeps by error category.
	// Labels: category
	RetryCounter *prometheus.CounterVec

	// BreakerTransitions counts circuit breaker state changes.
	// Labels: tool, to_state
	BreakerTransitions *prometheus.CounterVec

	// ActiveAgents gauges currently running agents by role.
	ActiveAgents *prometheus.GaugeVec
}

// NewMetrics creates and registers all engine metrics with the given
// registerer. Pass nil to use the Prometheus default registry; tests pass a
// fresh prometheus.NewRegistry() to avoid duplicate registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		ModelRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "strand_model_request_duration_seconds",
				Help:    "Duration of model API requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),
		ModelRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "strand_model_requests_total",
				Help: "Total model requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),
		ModelTokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "strand_model_tokens_total",
				Help: "Total tokens used by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),
		ToolExecutionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "strand_tool_executions_total",
				Help: "Total tool invocations by tool and status",
			},
			[]string{"tool", "status"},
		),
		ToolExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "strand_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool"},
		),
		RetryCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "strand_retries_total",
				Help: "Total retry sleeps by error category",
			},
			[]string{"category"},
		),
		BreakerTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "strand_breaker_transitions_total",
				Help: "Circuit breaker state transitions by tool and target state",
			},
			[]string{"tool", "to_state"},
		),
		ActiveAgents: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "strand_active_agents",
				Help: "Currently running agents by role",
			},
			[]string{"role"},
		),
	}
}
