package agent

import (
	"errors"
	"fmt"
	"strings"

	"github.com/haasonsaas/agentcore/internal/tools"
)

// Common sentinel errors for agent runs
var (
	// ErrAborted is returned when a run is cancelled through its abort handle.
	// No terminal event is emitted for it.
	ErrAborted = errors.New("run aborted")

	// ErrMaxIterations indicates the tool loop exceeded its iteration limit
	ErrMaxIterations = errors.New("max iterations exceeded")

	// ErrNoMessages indicates a run was started without any input
	ErrNoMessages = errors.New("run has no messages")

	// ErrBudgetExceeded indicates a subagent run used up its inherited budget
	ErrBudgetExceeded = errors.New("run budget exceeded")

	// ErrToolTimeout indicates a tool execution timed out
	ErrToolTimeout = errors.New("tool execution timed out")
)

// Phase is a state of the execution pipeline.
type Phase string

const (
	PhaseResolving      Phase = "resolving"
	PhasePromptBuilding Phase = "prompt_building"
	PhaseCalling        Phase = "calling"
	PhaseStreaming      Phase = "streaming"
	PhaseToolDispatch   Phase = "tool_dispatch"
	PhaseCompleting     Phase = "completing"
	PhaseFailed         Phase = "failed"
	PhaseAborted        Phase = "aborted"
)

// LoopError represents an error that occurred during a run with context
// about which phase and iteration it happened in.
type LoopError struct {
	Phase     Phase
	Iteration int
	Message   string
	Cause     error
}

// Error implements the error interface.
func (e *LoopError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("run failed at %s (iteration %d): %s", e.Phase, e.Iteration, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("run failed at %s (iteration %d): %v", e.Phase, e.Iteration, e.Cause)
	}
	return fmt.Sprintf("run failed at %s (iteration %d)", e.Phase, e.Iteration)
}

// Unwrap returns the underlying error.
func (e *LoopError) Unwrap() error {
	return e.Cause
}

// ToolErrorType categorizes tool execution failures.
type ToolErrorType string

const (
	ToolErrorTimeout   ToolErrorType = "timeout"
	ToolErrorPanic     ToolErrorType = "panic"
	ToolErrorCancelled ToolErrorType = "cancelled"
	ToolErrorExecution ToolErrorType = "execution"
)

// ToolError is a failed tool execution. Its text is what the model sees in
// the error result.
type ToolError struct {
	Type       ToolErrorType
	ToolName   string
	ToolCallID string
	Message    string
	Cause      error
}

// Error implements the error interface.
func (e *ToolError) Error() string {
	parts := []string{fmt.Sprintf("[tool:%s]", e.Type)}
	if e.ToolName != "" {
		parts = append(parts, e.ToolName)
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, " ")
}

// Unwrap returns the underlying error.
func (e *ToolError) Unwrap() error {
	return e.Cause
}

// NewToolError creates a ToolError classified from cause.
func NewToolError(toolName, callID string, cause error) *ToolError {
	err := &ToolError{
		Type:       classifyToolError(cause),
		ToolName:   toolName,
		ToolCallID: callID,
		Cause:      cause,
	}
	if cause != nil {
		err.Message = cause.Error()
	}
	return err
}

func classifyToolError(err error) ToolErrorType {
	switch {
	case errors.Is(err, ErrToolTimeout):
		return ToolErrorTimeout
	case errors.Is(err, tools.ErrToolPanic):
		return ToolErrorPanic
	case errors.Is(err, ErrAborted):
		return ToolErrorCancelled
	default:
		return ToolErrorExecution
	}
}

// GetToolError extracts a ToolError from an error chain.
func GetToolError(err error) (*ToolError, bool) {
	var toolErr *ToolError
	if errors.As(err, &toolErr) {
		return toolErr, true
	}
	return nil, false
}
