package models

import "time"

// Event is a single observable step of a run.
//
// Design principles:
//   - Single Type discriminator with optional payload pointers
//   - Monotonic Sequence within a run for ordering guarantees
//   - Exactly one terminal event (complete or error) per finished run;
//     an aborted run ends without one
type Event struct {
	Type       EventType `json:"type"`
	Sequence   uint64    `json:"seq"`
	RunID      string    `json:"run_id,omitempty"`
	SessionKey string    `json:"session_key,omitempty"`
	Time       time.Time `json:"time"`

	// Exactly one payload is non-nil for a given Type.
	Text        *TextDelta        `json:"text,omitempty"`
	ToolStart   *ToolCallStart    `json:"tool_start,omitempty"`
	ToolResult  *ToolCallResult   `json:"tool_result,omitempty"`
	ModelSwitch *ModelSwitch      `json:"model_switch,omitempty"`
	Usage       *Usage            `json:"usage,omitempty"`
	Error       *ErrorPayload     `json:"error,omitempty"`
	Complete    *RunResult        `json:"complete,omitempty"`
	Compaction  *CompactionNotice `json:"compaction,omitempty"`
}

// EventType identifies the kind of event.
type EventType string

const (
	EventTextDelta      EventType = "text_delta"
	EventToolCallStart  EventType = "tool_call_start"
	EventToolCallResult EventType = "tool_call_result"
	EventModelSwitch    EventType = "model_switch"
	EventUsage          EventType = "usage"
	EventCompaction     EventType = "compaction"
	EventError          EventType = "error"
	EventComplete       EventType = "complete"
)

// IsTerminal reports whether the event ends a run's stream.
func (e Event) IsTerminal() bool {
	return e.Type == EventComplete || e.Type == EventError
}

// TextDelta carries streamed model text.
type TextDelta struct {
	Text string `json:"text"`
}

// ToolCallStart announces a tool dispatch.
type ToolCallStart struct {
	Name   string `json:"name"`
	CallID string `json:"call_id"`
}

// ToolCallResult carries a tool's outcome.
type ToolCallResult struct {
	CallID  string `json:"call_id"`
	Result  string `json:"result"`
	IsError bool   `json:"is_error"`
}

// ModelSwitch records a failover from one model to the next.
type ModelSwitch struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Reason string `json:"reason"`
}

// ErrorPayload is the terminal failure message.
type ErrorPayload struct {
	Message string `json:"message"`
}

// CompactionNotice records that the working transcript was compacted.
type CompactionNotice struct {
	Strategy       string `json:"strategy"`
	TokensBefore   int    `json:"tokens_before"`
	TokensAfter    int    `json:"tokens_after"`
	MessagesBefore int    `json:"messages_before"`
	MessagesAfter  int    `json:"messages_after"`

	// Summary is set when the summary strategy replaced older messages.
	Summary string `json:"summary,omitempty"`
}

// NewTextDeltaEvent builds a text_delta event.
func NewTextDeltaEvent(text string) Event {
	return Event{Type: EventTextDelta, Text: &TextDelta{Text: text}}
}

// NewToolCallStartEvent builds a tool_call_start event.
func NewToolCallStartEvent(name, callID string) Event {
	return Event{Type: EventToolCallStart, ToolStart: &ToolCallStart{Name: name, CallID: callID}}
}

// NewToolCallResultEvent builds a tool_call_result event.
func NewToolCallResultEvent(callID, result string, isError bool) Event {
	return Event{Type: EventToolCallResult, ToolResult: &ToolCallResult{CallID: callID, Result: result, IsError: isError}}
}

// NewModelSwitchEvent builds a model_switch event.
func NewModelSwitchEvent(from, to, reason string) Event {
	return Event{Type: EventModelSwitch, ModelSwitch: &ModelSwitch{From: from, To: to, Reason: reason}}
}

// NewUsageEvent builds a usage event.
func NewUsageEvent(u Usage) Event {
	return Event{Type: EventUsage, Usage: &u}
}

// NewErrorEvent builds a terminal error event.
func NewErrorEvent(message string) Event {
	return Event{Type: EventError, Error: &ErrorPayload{Message: message}}
}

// NewCompleteEvent builds a terminal complete event.
func NewCompleteEvent(result *RunResult) Event {
	return Event{Type: EventComplete, Complete: result}
}

// NewCompactionEvent builds a compaction event.
func NewCompactionEvent(n CompactionNotice) Event {
	return Event{Type: EventCompaction, Compaction: &n}
}
