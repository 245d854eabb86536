package models

import "encoding/json"

// Usage is a pair of token counters.
type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// Add returns the element-wise sum of u and other.
func (u Usage) Add(other Usage) Usage {
	return Usage{
		InputTokens:  u.InputTokens + other.InputTokens,
		OutputTokens: u.OutputTokens + other.OutputTokens,
	}
}

// Total returns input plus output tokens.
func (u Usage) Total() int64 {
	return u.InputTokens + u.OutputTokens
}

// IsZero reports whether no tokens were counted.
func (u Usage) IsZero() bool {
	return u.InputTokens == 0 && u.OutputTokens == 0
}

// Budget bounds the resources a subagent chain may still consume. A zero
// limit is unlimited in that dimension.
type Budget struct {
	MaxTokens    int64 `json:"max_tokens,omitempty" yaml:"max_tokens"`
	MaxToolCalls int   `json:"max_tool_calls,omitempty" yaml:"max_tool_calls"`

	SpentTokens    int64 `json:"spent_tokens,omitempty" yaml:"-"`
	SpentToolCalls int   `json:"spent_tool_calls,omitempty" yaml:"-"`
}

// Exhausted reports whether any limited dimension has been used up.
func (b Budget) Exhausted() bool {
	return (b.MaxTokens > 0 && b.SpentTokens >= b.MaxTokens) ||
		(b.MaxToolCalls > 0 && b.SpentToolCalls >= b.MaxToolCalls)
}

// Consume charges usage and tool calls against the budget.
func (b *Budget) Consume(u Usage, toolCalls int) {
	b.SpentTokens += u.Total()
	b.SpentToolCalls += toolCalls
}

// Absorb adds the spend recorded in a child run's budget.
func (b *Budget) Absorb(child Budget) {
	b.SpentTokens += child.SpentTokens
	b.SpentToolCalls += child.SpentToolCalls
}

// Remaining returns a fresh budget holding what is left. Callers check
// Exhausted first; a used-up dimension is returned as 1 so it stays limited.
func (b Budget) Remaining() Budget {
	var out Budget
	if b.MaxTokens > 0 {
		out.MaxTokens = max(b.MaxTokens-b.SpentTokens, 1)
	}
	if b.MaxToolCalls > 0 {
		out.MaxToolCalls = max(b.MaxToolCalls-b.SpentToolCalls, 1)
	}
	return out
}

// RunParams describes one inbound turn handed to the engine.
type RunParams struct {
	SessionKey string    `json:"session_key"`
	Messages   []Message `json:"messages"`

	// AgentID, when set, bypasses binding resolution.
	AgentID string `json:"agent_id,omitempty"`

	// Model, when set, replaces the agent's primary model as
	// "provider/model". The agent's fallbacks still apply.
	Model string `json:"model,omitempty"`

	// Depth is the subagent nesting level; top-level runs use 0.
	Depth int `json:"depth,omitempty"`

	// RunID is generated when empty.
	RunID string `json:"run_id,omitempty"`

	// Budget is inherited from a parent run when this run is a subagent.
	// The run charges it in place, including what its own children spend.
	Budget *Budget `json:"budget,omitempty"`
}

// ToolCallRecord is the outcome of one tool invocation within a run.
type ToolCallRecord struct {
	ID      string          `json:"id"`
	Name    string          `json:"name"`
	Input   json.RawMessage `json:"input"`
	Output  string          `json:"output"`
	IsError bool            `json:"is_error"`
}

// RunResult is produced once per successful run.
type RunResult struct {
	RunID     string           `json:"run_id"`
	AgentID   string           `json:"agent_id"`
	Model     string           `json:"model"`
	Response  string           `json:"response"`
	ToolCalls []ToolCallRecord `json:"tool_calls"`
	Usage     Usage            `json:"usage"`

	// Messages holds the transcript entries appended during the run.
	Messages []Message `json:"messages,omitempty"`
}
