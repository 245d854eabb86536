package agent

import (
	"time"

	"github.com/haasonsaas/agentcore/internal/config"
)

// LoopConfig bounds the tool loop of a single run.
type LoopConfig struct {
	// MaxIterations limits provider round trips per run.
	// Default: 10
	MaxIterations int

	// MaxTokens is the response token limit passed to providers.
	// Default: 4096
	MaxTokens int

	// ParallelTools dispatches the tool calls of one response concurrently.
	// Events are still emitted in request order.
	ParallelTools bool

	// MaxParallelTools caps concurrent tool executions (0 = unlimited).
	MaxParallelTools int

	// ToolTimeout bounds a single tool execution (0 = no limit).
	ToolTimeout time.Duration

	// MemoryWindow is how many recent messages the memory provider sees.
	// Default: 10
	MemoryWindow int
}

// DefaultLoopConfig returns the default loop configuration.
func DefaultLoopConfig() LoopConfig {
	return LoopConfig{
		MaxIterations: 10,
		MaxTokens:     4096,
		MemoryWindow:  10,
	}
}

// LoopConfigFrom converts the execution section of the configuration.
func LoopConfigFrom(cfg config.ExecutionConfig) LoopConfig {
	return sanitizeLoopConfig(LoopConfig{
		MaxIterations: cfg.MaxIterations,
		MaxTokens:     cfg.MaxTokens,
		ParallelTools: cfg.ParallelTools,
		ToolTimeout:   cfg.ToolTimeout,
	})
}

func sanitizeLoopConfig(cfg LoopConfig) LoopConfig {
	defaults := DefaultLoopConfig()
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = defaults.MaxIterations
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaults.MaxTokens
	}
	if cfg.MaxParallelTools < 0 {
		cfg.MaxParallelTools = 0
	}
	if cfg.ToolTimeout < 0 {
		cfg.ToolTimeout = 0
	}
	if cfg.MemoryWindow <= 0 {
		cfg.MemoryWindow = defaults.MemoryWindow
	}
	return cfg
}
