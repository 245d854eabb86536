package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"math"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"google.golang.org/genai"

	"github.com/haasonsaas/agentcore/internal/llm"
	"github.com/haasonsaas/agentcore/pkg/models"
)

// GoogleProvider streams completions from the Gemini API.
type GoogleProvider struct {
	name         string
	client       *genai.Client
	defaultModel string
}

// GoogleConfig configures a GoogleProvider.
type GoogleConfig struct {
	// Name overrides the registry id. Default: "google".
	Name         string
	APIKey       string
	BaseURL      string
	DefaultModel string
	HTTPClient   *http.Client
}

const defaultGoogleModel = "gemini-2.0-flash"

// NewGoogleProvider creates a Gemini provider.
func NewGoogleProvider(cfg GoogleConfig) (*GoogleProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("google: API key is required")
	}
	if cfg.Name == "" {
		cfg.Name = "google"
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = defaultGoogleModel
	}

	clientCfg := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: cfg.HTTPClient,
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(context.Background(), clientCfg)
	if err != nil {
		return nil, fmt.Errorf("google: failed to create client: %w", err)
	}

	return &GoogleProvider{
		name:         cfg.Name,
		client:       client,
		defaultModel: cfg.DefaultModel,
	}, nil
}

func (p *GoogleProvider) Name() string {
	return p.name
}

func (p *GoogleProvider) Complete(ctx context.Context, req *llm.CompletionRequest) (<-chan *llm.Chunk, error) {
	model := modelOrDefault(req.Model, p.defaultModel)
	contents := convertGeminiMessages(req.Messages)
	config := buildGeminiConfig(req)

	chunks := make(chan *llm.Chunk)
	go func() {
		defer close(chunks)
		stream := p.client.Models.GenerateContentStream(ctx, model, contents, config)
		p.processStream(ctx, stream, chunks, model)
	}()
	return chunks, nil
}

// processStream forwards text parts and function calls. Gemini does not
// always assign call ids, so missing ones are generated.
func (p *GoogleProvider) processStream(ctx context.Context, stream iter.Seq2[*genai.GenerateContentResponse, error], chunks chan<- *llm.Chunk, model string) {
	var inputTokens, outputTokens int

	for resp, err := range stream {
		if err != nil {
			send(ctx, chunks, &llm.Chunk{Error: p.wrapError(err, model)})
			return
		}
		if resp == nil {
			continue
		}
		if resp.UsageMetadata != nil {
			inputTokens = int(resp.UsageMetadata.PromptTokenCount)
			outputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
		}

		for _, candidate := range resp.Candidates {
			if candidate == nil || candidate.Content == nil {
				continue
			}
			for _, part := range candidate.Content.Parts {
				if part == nil {
					continue
				}
				if part.Text != "" && !part.Thought {
					if !send(ctx, chunks, &llm.Chunk{Text: part.Text}) {
						return
					}
				}
				if fc := part.FunctionCall; fc != nil {
					args, err := json.Marshal(fc.Args)
					if err != nil || fc.Args == nil {
						args = []byte("{}")
					}
					id := fc.ID
					if id == "" {
						id = "call_" + uuid.NewString()
					}
					if !send(ctx, chunks, &llm.Chunk{ToolCall: &models.ToolCall{ID: id, Name: fc.Name, Input: args}}) {
						return
					}
				}
			}
		}
	}

	if err := ctx.Err(); err != nil {
		return
	}
	send(ctx, chunks, &llm.Chunk{Done: true, InputTokens: inputTokens, OutputTokens: outputTokens})
}

func convertGeminiMessages(messages []models.Message) []*genai.Content {
	names := map[string]string{}
	for _, msg := range messages {
		for _, tc := range msg.ToolCalls {
			names[tc.ID] = tc.Name
		}
	}

	var result []*genai.Content
	for _, msg := range messages {
		if msg.Role == models.RoleSystem {
			continue
		}
		content := &genai.Content{Role: genai.RoleUser}
		if msg.Role == models.RoleAssistant {
			content.Role = genai.RoleModel
		}

		for _, tr := range msg.ToolResults {
			var response map[string]any
			if err := json.Unmarshal([]byte(tr.Content), &response); err != nil {
				response = map[string]any{"result": tr.Content}
			}
			if tr.IsError {
				response = map[string]any{"error": tr.Content}
			}
			content.Parts = append(content.Parts, &genai.Part{
				FunctionResponse: &genai.FunctionResponse{
					ID:       tr.ToolCallID,
					Name:     names[tr.ToolCallID],
					Response: response,
				},
			})
		}
		if msg.Content != "" {
			content.Parts = append(content.Parts, &genai.Part{Text: msg.Content})
		}
		for _, tc := range msg.ToolCalls {
			args, err := decodeToolInput(tc.Input)
			if err != nil {
				args = map[string]any{}
			}
			content.Parts = append(content.Parts, &genai.Part{
				FunctionCall: &genai.FunctionCall{ID: tc.ID, Name: tc.Name, Args: args},
			})
		}

		if len(content.Parts) > 0 {
			result = append(result, content)
		}
	}
	return result
}

func buildGeminiConfig(req *llm.CompletionRequest) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{}
	if req.System != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.System}}}
	}
	if req.MaxTokens > 0 {
		// #nosec G115 -- bounded by min
		config.MaxOutputTokens = int32(min(req.MaxTokens, math.MaxInt32))
	}
	if len(req.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
		for _, tool := range req.Tools {
			decl := &genai.FunctionDeclaration{Name: tool.Name, Description: tool.Description}
			var schema any
			if len(tool.Schema) > 0 && json.Unmarshal(tool.Schema, &schema) == nil {
				decl.ParametersJsonSchema = schema
			}
			decls = append(decls, decl)
		}
		config.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}
	return config
}

func (p *GoogleProvider) wrapError(err error, model string) error {
	if _, ok := llm.GetProviderError(err); ok {
		return err
	}

	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	switch {
	case errors.As(err, &apiErr):
	case errors.As(err, &apiErrPtr) && apiErrPtr != nil:
		apiErr = *apiErrPtr
	default:
		return llm.NewProviderError(p.name, model, err)
	}

	providerErr := (&llm.ProviderError{Provider: p.name, Model: model, Cause: err}).WithStatus(apiErr.Code)
	if apiErr.Status != "" && !strings.ContainsAny(apiErr.Status, " ") {
		providerErr = providerErr.WithCode(apiErr.Status)
	}
	msg := apiErr.Message
	if msg == "" {
		msg = fmt.Sprintf("gemini request failed with status %d", apiErr.Code)
	}
	return providerErr.WithMessage(msg)
}
