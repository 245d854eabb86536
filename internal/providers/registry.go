package providers

import (
	"context"
	"fmt"
	"sort"

	"github.com/haasonsaas/agentcore/internal/config"
	"github.com/haasonsaas/agentcore/internal/llm"
)

// BuildRegistry creates one provider per configured entry. Unknown ids
// with a base_url are treated as OpenAI-compatible endpoints.
func BuildRegistry(ctx context.Context, cfg *config.Config) (*llm.Registry, error) {
	registry := llm.NewRegistry()
	if cfg == nil {
		return registry, nil
	}

	ids := make([]string, 0, len(cfg.Providers))
	for id := range cfg.Providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		provider, err := NewProvider(ctx, id, cfg.Providers[id])
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", id, err)
		}
		registry.Register(provider)
	}
	return registry, nil
}

// NewProvider constructs the adapter for a single provider id.
func NewProvider(ctx context.Context, id string, pc config.ProviderConfig) (llm.Provider, error) {
	switch id {
	case "anthropic":
		return NewAnthropicProvider(AnthropicConfig{
			Name:         id,
			APIKey:       pc.APIKey,
			BaseURL:      pc.BaseURL,
			DefaultModel: pc.DefaultModel,
		})
	case "openai":
		return NewOpenAIProvider(OpenAIConfig{
			Name:         id,
			APIKey:       pc.APIKey,
			BaseURL:      pc.BaseURL,
			DefaultModel: pc.DefaultModel,
		})
	case "google", "gemini":
		return NewGoogleProvider(GoogleConfig{
			Name:         id,
			APIKey:       pc.APIKey,
			BaseURL:      pc.BaseURL,
			DefaultModel: pc.DefaultModel,
		})
	case "bedrock":
		return NewBedrockProvider(ctx, BedrockConfig{
			Name:            id,
			Region:          pc.Region,
			AccessKeyID:     pc.AccessKeyID,
			SecretAccessKey: pc.SecretAccessKey,
			SessionToken:    pc.SessionToken,
			DefaultModel:    pc.DefaultModel,
			BaseURL:         pc.BaseURL,
		})
	default:
		if pc.BaseURL == "" {
			return nil, fmt.Errorf("unknown provider %q (set base_url for an OpenAI-compatible endpoint)", id)
		}
		return NewOpenAIProvider(OpenAIConfig{
			Name:         id,
			APIKey:       pc.APIKey,
			BaseURL:      pc.BaseURL,
			DefaultModel: pc.DefaultModel,
		})
	}
}
