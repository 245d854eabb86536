// Package system provides built-in tools that report on the running core.
package system

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/haasonsaas/agentcore/internal/observability"
	"github.com/haasonsaas/agentcore/internal/tools"
	"github.com/haasonsaas/agentcore/internal/usage"
)

// UsageToolName is the registered name of the usage tool.
const UsageToolName = "usage_report"

// UsageTool reports token usage recorded by the tracker.
type UsageTool struct {
	tracker *usage.Tracker
}

// NewUsageTool creates a usage tool over tracker.
func NewUsageTool(tracker *usage.Tracker) *UsageTool {
	return &UsageTool{tracker: tracker}
}

// Name returns the tool name.
func (t *UsageTool) Name() string { return UsageToolName }

// Description returns the tool description.
func (t *UsageTool) Description() string {
	return "Report token usage: for the current session, for an agent, or per model."
}

// Schema returns the JSON schema for the tool parameters.
func (t *UsageTool) Schema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {
    "scope": {"type": "string", "enum": ["session", "agent", "models"], "description": "What to report. Defaults to session."},
    "agent": {"type": "string", "description": "Agent id for the agent scope."}
  }
}`)
}

// Execute formats the requested totals.
func (t *UsageTool) Execute(ctx context.Context, params json.RawMessage) (*tools.Result, error) {
	if t.tracker == nil {
		return tools.ErrorResult("usage tracking unavailable"), nil
	}

	var input struct {
		Scope string `json:"scope"`
		Agent string `json:"agent"`
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &input); err != nil {
			return tools.ErrorResult(fmt.Sprintf("invalid parameters: %v", err)), nil
		}
	}

	switch strings.ToLower(strings.TrimSpace(input.Scope)) {
	case "", "session":
		key := observability.SessionKey(ctx)
		if key == "" {
			return tools.ErrorResult("no session in context"), nil
		}
		return &tools.Result{Content: "Session " + key + ": " + usage.FormatUsage(t.tracker.SessionTotal(key))}, nil
	case "agent":
		if strings.TrimSpace(input.Agent) == "" {
			return tools.ErrorResult("agent is required for the agent scope"), nil
		}
		return &tools.Result{Content: "Agent " + input.Agent + ": " + usage.FormatUsage(t.tracker.AgentTotal(input.Agent))}, nil
	case "models":
		totals := t.tracker.ModelTotals()
		if len(totals) == 0 {
			return &tools.Result{Content: "No usage recorded."}, nil
		}
		var b strings.Builder
		for _, m := range totals {
			fmt.Fprintf(&b, "%s/%s: %d requests, %s\n", m.Provider, m.Model, m.Requests, usage.FormatUsage(m.Usage))
		}
		return &tools.Result{Content: strings.TrimRight(b.String(), "\n")}, nil
	default:
		return tools.ErrorResult(fmt.Sprintf("unknown scope %q", input.Scope)), nil
	}
}
