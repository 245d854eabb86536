package subagent

import "errors"

// Resource-limit errors. Spawn wraps them with the values that tripped the
// limit.
var (
	ErrMaxDepthExceeded = errors.New("maximum agent depth exceeded")
	ErrModelNotAllowed  = errors.New("model not allowed for subagent")
	ErrBudgetExhausted  = errors.New("subagent budget exhausted")
	ErrNoExecutor       = errors.New("subagent executor not configured")
	ErrEmptyTask        = errors.New("subagent task is required")
)
