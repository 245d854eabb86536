// Package providers adapts vendor SDKs (Anthropic, OpenAI, Google Gemini,
// AWS Bedrock) to the llm.Provider streaming contract.
//
// Every adapter maps vendor errors onto llm.ProviderError so the failover
// controller can classify them, and none of them retries internally.
package providers

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/haasonsaas/agentcore/internal/llm"
)

const defaultMaxTokens = 4096

func modelOrDefault(model, fallback string) string {
	if strings.TrimSpace(model) == "" {
		return fallback
	}
	return model
}

func maxTokensOrDefault(n int) int {
	if n <= 0 {
		return defaultMaxTokens
	}
	return n
}

// send delivers a chunk unless the consumer has gone away.
func send(ctx context.Context, chunks chan<- *llm.Chunk, chunk *llm.Chunk) bool {
	select {
	case chunks <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}

func rawOrEmptyObject(s string) json.RawMessage {
	if strings.TrimSpace(s) == "" {
		return json.RawMessage(`{}`)
	}
	return json.RawMessage(s)
}

// decodeToolInput parses a stored tool input into a generic object.
func decodeToolInput(raw json.RawMessage) (map[string]any, error) {
	input := map[string]any{}
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return input, nil
	}
	if err := json.Unmarshal(raw, &input); err != nil {
		return nil, err
	}
	return input, nil
}

// parseRetryAfter reads a Retry-After header in seconds or HTTP-date form.
func parseRetryAfter(v string) (time.Duration, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil && secs >= 0 {
		return time.Duration(secs * float64(time.Second)), true
	}
	if t, err := time.Parse(time.RFC1123, v); err == nil {
		if d := time.Until(t); d > 0 {
			return d, true
		}
		return 0, true
	}
	return 0, false
}
