// Package tools defines the contract between the execution pipeline and
// tool implementations, plus a registry that validates arguments against
// each tool's JSON schema before dispatch.
package tools

import (
	"context"
	"encoding/json"
	"errors"
)

var (
	// ErrToolNotFound indicates a requested tool doesn't exist.
	ErrToolNotFound = errors.New("tool not found")

	// ErrToolPanic indicates a tool panicked during execution.
	ErrToolPanic = errors.New("tool panicked")
)

// Tool is a capability the model may invoke.
type Tool interface {
	// Name returns the tool name for LLM function calling.
	// Must be a valid function name (alphanumeric, underscores).
	Name() string

	// Description returns a natural language description of what the tool does.
	Description() string

	// Schema returns the JSON Schema defining the tool's parameters. A nil
	// schema disables argument validation.
	Schema() json.RawMessage

	// Execute runs the tool. Returning an error is equivalent to returning
	// an error result carrying the error text.
	Execute(ctx context.Context, args json.RawMessage) (*Result, error)
}

// Result is the output of one tool execution.
type Result struct {
	Content  string         `json:"content"`
	IsError  bool           `json:"is_error,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ErrorResult builds an error result.
func ErrorResult(msg string) *Result {
	return &Result{Content: msg, IsError: true}
}

// Func adapts a function to the Tool interface.
type Func struct {
	ToolName        string
	ToolDescription string
	ToolSchema      json.RawMessage
	Fn              func(ctx context.Context, args json.RawMessage) (*Result, error)
}

// NewFunc creates a function-backed tool.
func NewFunc(name, description string, schema json.RawMessage, fn func(ctx context.Context, args json.RawMessage) (*Result, error)) *Func {
	return &Func{ToolName: name, ToolDescription: description, ToolSchema: schema, Fn: fn}
}

func (f *Func) Name() string            { return f.ToolName }
func (f *Func) Description() string     { return f.ToolDescription }
func (f *Func) Schema() json.RawMessage { return f.ToolSchema }

// Execute calls Fn.
func (f *Func) Execute(ctx context.Context, args json.RawMessage) (*Result, error) {
	if f.Fn == nil {
		return ErrorResult("tool " + f.ToolName + " has no implementation"), nil
	}
	return f.Fn(ctx, args)
}
