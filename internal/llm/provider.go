// Package llm defines the provider contract the execution core streams
// completions through, a registry of named providers, and the structured
// provider error used for failover classification.
//
// Architecture:
//
//	┌──────────────┐  CompletionRequest  ┌────────────┐
//	│   Pipeline   │────────────────────►│  Provider  │ (anthropic, openai,
//	│              │◄────────────────────│            │  google, bedrock)
//	└──────────────┘   <-chan *Chunk     └────────────┘
//	        │
//	        ▼ on Chunk.Error / Complete error
//	 ┌─────────────┐
//	 │  Classify   │ → auth | rate_limited | context_overflow | transient | fatal
//	 └─────────────┘
package llm

import (
	"context"
	"encoding/json"

	"github.com/haasonsaas/agentcore/pkg/models"
)

// Provider streams model completions.
//
// Implementations must be safe for concurrent use. Each Complete call owns
// its returned channel and closes it once the stream ends. A stream ends
// with exactly one chunk that has Done set or Error set.
type Provider interface {
	// Name returns the registry id (e.g. "anthropic").
	Name() string

	// Complete starts a streaming completion. An immediate error means no
	// stream was opened; errors after that arrive as a chunk.
	Complete(ctx context.Context, req *CompletionRequest) (<-chan *Chunk, error)
}

// ToolSpec is the model-facing description of a callable tool.
type ToolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Schema      json.RawMessage `json:"schema"`
}

// CompletionRequest contains all parameters for a completion request.
type CompletionRequest struct {
	// Model is the provider-local model id (without the "provider/" prefix).
	Model string `json:"model"`

	// System is the assembled system prompt. Providers with a dedicated
	// system slot send it there; inline-system providers prepend it.
	System string `json:"system,omitempty"`

	// Messages is the normalized transcript.
	Messages []models.Message `json:"messages"`

	Tools     []ToolSpec `json:"tools,omitempty"`
	MaxTokens int        `json:"max_tokens,omitempty"`
}

// Chunk is a single element of a streaming response.
type Chunk struct {
	// Text contains partial response text.
	Text string `json:"text,omitempty"`

	// ToolCall contains a complete tool execution request.
	ToolCall *models.ToolCall `json:"tool_call,omitempty"`

	// Done marks successful completion; token counts ride on this chunk.
	Done bool `json:"done,omitempty"`

	// Error terminates the stream.
	Error error `json:"-"`

	InputTokens  int `json:"input_tokens,omitempty"`
	OutputTokens int `json:"output_tokens,omitempty"`
}
