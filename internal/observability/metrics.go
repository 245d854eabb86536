package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks run, LLM, tool, failover and compaction activity.
//
// Usage:
//
//	reg := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(reg)
//	metrics.RecordLLMRequest("anthropic", "claude-sonnet-4", "success", 1.2, 812, 96)
type Metrics struct {
	// RunsTotal counts finished runs.
	// Labels: agent_id, status (complete|error|aborted)
	RunsTotal *prometheus.CounterVec

	// RunDuration measures run wall time in seconds.
	// Labels: agent_id
	RunDuration *prometheus.HistogramVec

	// ActiveRuns is the number of runs currently executing.
	ActiveRuns prometheus.Gauge

	// LLMRequestDuration measures LLM API call latency in seconds.
	// Labels: provider, model
	LLMRequestDuration *prometheus.HistogramVec

	// LLMRequestCounter counts LLM requests.
	// Labels: provider, model, status (success|error class)
	LLMRequestCounter *prometheus.CounterVec

	// LLMTokensUsed tracks token consumption.
	// Labels: provider, model, type (input|output)
	LLMTokensUsed *prometheus.CounterVec

	// ToolExecutionCounter counts tool invocations.
	// Labels: tool_name, status (success|error)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool_name
	ToolExecutionDuration *prometheus.HistogramVec

	// ModelSwitches counts failover transitions.
	// Labels: from, to, reason
	ModelSwitches *prometheus.CounterVec

	// Compactions counts context compaction passes.
	// Labels: strategy
	Compactions *prometheus.CounterVec

	// SubagentSpawns counts spawned subagent runs.
	// Labels: status (complete|error|rejected)
	SubagentSpawns *prometheus.CounterVec
}

// NewMetrics creates all collectors and registers them with reg. A nil reg
// uses the default Prometheus registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		RunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_runs_total",
				Help: "Total number of agent runs by agent and terminal status",
			},
			[]string{"agent_id", "status"},
		),

		RunDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentcore_run_duration_seconds",
				Help:    "Duration of agent runs in seconds",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
			[]string{"agent_id"},
		),

		ActiveRuns: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "agentcore_active_runs",
				Help: "Number of agent runs currently executing",
			},
		),

		LLMRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentcore_llm_request_duration_seconds",
				Help:    "Duration of LLM API requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),

		LLMRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_llm_requests_total",
				Help: "Total number of LLM requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),

		LLMTokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_llm_tokens_total",
				Help: "Total number of tokens used by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),

		ToolExecutionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_tool_executions_total",
				Help: "Total number of tool executions by tool name and status",
			},
			[]string{"tool_name", "status"},
		),

		ToolExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentcore_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name"},
		),

		ModelSwitches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_model_switches_total",
				Help: "Total number of failover model switches",
			},
			[]string{"from", "to", "reason"},
		),

		Compactions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_compactions_total",
				Help: "Total number of context compaction passes by strategy",
			},
			[]string{"strategy"},
		),

		SubagentSpawns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentcore_subagent_spawns_total",
				Help: "Total number of subagent spawns by outcome",
			},
			[]string{"status"},
		),
	}
}

// RunStarted increments the active run gauge.
func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}
	m.ActiveRuns.Inc()
}

// RunFinished records a run's terminal status and duration.
func (m *Metrics) RunFinished(agentID, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.ActiveRuns.Dec()
	m.RunsTotal.WithLabelValues(agentID, status).Inc()
	m.RunDuration.WithLabelValues(agentID).Observe(durationSeconds)
}

// RecordLLMRequest records an LLM call with its latency and token counts.
func (m *Metrics) RecordLLMRequest(provider, model, status string, durationSeconds float64, inputTokens, outputTokens int) {
	if m == nil {
		return
	}
	m.LLMRequestCounter.WithLabelValues(provider, model, status).Inc()
	m.LLMRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
	if inputTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "output").Add(float64(outputTokens))
	}
}

// RecordToolExecution records a tool invocation.
func (m *Metrics) RecordToolExecution(toolName, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.ToolExecutionCounter.WithLabelValues(toolName, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName).Observe(durationSeconds)
}

func (m *Metrics) RecordModelSwitch(from, to, reason string) {
	if m == nil {
		return
	}
	m.ModelSwitches.WithLabelValues(from, to, reason).Inc()
}

func (m *Metrics) RecordCompaction(strategy string) {
	if m == nil {
		return
	}
	m.Compactions.WithLabelValues(strategy).Inc()
}

func (m *Metrics) RecordSubagentSpawn(status string) {
	if m == nil {
		return
	}
	m.SubagentSpawns.WithLabelValues(status).Inc()
}
