package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"

	"github.com/haasonsaas/agentcore/internal/llm"
	"github.com/haasonsaas/agentcore/pkg/models"
)

// converseStreamer is the subset of the Bedrock runtime client used here.
type converseStreamer interface {
	ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error)
}

// BedrockProvider streams completions through the Bedrock Converse API.
type BedrockProvider struct {
	name         string
	client       converseStreamer
	defaultModel string
}

// BedrockConfig configures a BedrockProvider. Without static credentials
// the default AWS credential chain is used.
type BedrockConfig struct {
	// Name overrides the registry id. Default: "bedrock".
	Name            string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	DefaultModel    string

	// BaseURL overrides the runtime endpoint.
	BaseURL string
}

const defaultBedrockModel = "anthropic.claude-3-5-sonnet-20241022-v2:0"

// NewBedrockProvider loads AWS configuration and creates the runtime client.
func NewBedrockProvider(ctx context.Context, cfg BedrockConfig) (*BedrockProvider, error) {
	if cfg.Name == "" {
		cfg.Name = "bedrock"
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = defaultBedrockModel
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithRetryMaxAttempts(1),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			cfg.SessionToken,
		)))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("bedrock: failed to load AWS config: %w", err)
	}

	client := bedrockruntime.NewFromConfig(awsCfg, func(o *bedrockruntime.Options) {
		if cfg.BaseURL != "" {
			o.BaseEndpoint = aws.String(cfg.BaseURL)
		}
	})
	return newBedrockProvider(cfg.Name, client, cfg.DefaultModel), nil
}

func newBedrockProvider(name string, client converseStreamer, defaultModel string) *BedrockProvider {
	return &BedrockProvider{name: name, client: client, defaultModel: defaultModel}
}

func (p *BedrockProvider) Name() string {
	return p.name
}

func (p *BedrockProvider) Complete(ctx context.Context, req *llm.CompletionRequest) (<-chan *llm.Chunk, error) {
	model := modelOrDefault(req.Model, p.defaultModel)
	input, err := buildConverseInput(req, model)
	if err != nil {
		return nil, p.wrapError(err, model)
	}

	chunks := make(chan *llm.Chunk)
	go func() {
		defer close(chunks)
		out, err := p.client.ConverseStream(ctx, input)
		if err != nil {
			send(ctx, chunks, &llm.Chunk{Error: p.wrapError(err, model)})
			return
		}
		stream := out.GetStream()
		defer stream.Close()
		p.processEvents(ctx, stream.Events(), stream.Err, chunks, model)
	}()
	return chunks, nil
}

// processEvents converts Converse stream events. streamErr is consulted
// once the event channel closes.
func (p *BedrockProvider) processEvents(ctx context.Context, events <-chan types.ConverseStreamOutput, streamErr func() error, chunks chan<- *llm.Chunk, model string) {
	var (
		currentToolCall *models.ToolCall
		toolInput       strings.Builder
		inputTokens     int
		outputTokens    int
		stopped         bool
	)

	for {
		var event types.ConverseStreamOutput
		var ok bool
		select {
		case <-ctx.Done():
			return
		case event, ok = <-events:
		}
		if !ok {
			break
		}

		switch ev := event.(type) {
		case *types.ConverseStreamOutputMemberContentBlockStart:
			if toolUse, ok := ev.Value.Start.(*types.ContentBlockStartMemberToolUse); ok {
				currentToolCall = &models.ToolCall{
					ID:   aws.ToString(toolUse.Value.ToolUseId),
					Name: aws.ToString(toolUse.Value.Name),
				}
				toolInput.Reset()
			}

		case *types.ConverseStreamOutputMemberContentBlockDelta:
			switch delta := ev.Value.Delta.(type) {
			case *types.ContentBlockDeltaMemberText:
				if delta.Value != "" && !send(ctx, chunks, &llm.Chunk{Text: delta.Value}) {
					return
				}
			case *types.ContentBlockDeltaMemberToolUse:
				if delta.Value.Input != nil {
					toolInput.WriteString(*delta.Value.Input)
				}
			}

		case *types.ConverseStreamOutputMemberContentBlockStop:
			if currentToolCall != nil {
				currentToolCall.Input = rawOrEmptyObject(toolInput.String())
				if !send(ctx, chunks, &llm.Chunk{ToolCall: currentToolCall}) {
					return
				}
				currentToolCall = nil
			}

		case *types.ConverseStreamOutputMemberMessageStop:
			stopped = true

		case *types.ConverseStreamOutputMemberMetadata:
			if usage := ev.Value.Usage; usage != nil {
				inputTokens = int(aws.ToInt32(usage.InputTokens))
				outputTokens = int(aws.ToInt32(usage.OutputTokens))
			}
		}
	}

	if streamErr != nil {
		if err := streamErr(); err != nil {
			send(ctx, chunks, &llm.Chunk{Error: p.wrapError(err, model)})
			return
		}
	}
	if !stopped && currentToolCall != nil {
		currentToolCall.Input = rawOrEmptyObject(toolInput.String())
		if !send(ctx, chunks, &llm.Chunk{ToolCall: currentToolCall}) {
			return
		}
	}
	send(ctx, chunks, &llm.Chunk{Done: true, InputTokens: inputTokens, OutputTokens: outputTokens})
}

func buildConverseInput(req *llm.CompletionRequest, model string) (*bedrockruntime.ConverseStreamInput, error) {
	input := &bedrockruntime.ConverseStreamInput{
		ModelId:  aws.String(model),
		Messages: convertBedrockMessages(req.Messages),
	}
	if req.System != "" {
		input.System = []types.SystemContentBlock{
			&types.SystemContentBlockMemberText{Value: req.System},
		}
	}
	if req.MaxTokens > 0 {
		input.InferenceConfig = &types.InferenceConfiguration{
			// #nosec G115 -- bounded by min
			MaxTokens: aws.Int32(int32(min(req.MaxTokens, math.MaxInt32))),
		}
	}
	if len(req.Tools) > 0 {
		tools := make([]types.Tool, 0, len(req.Tools))
		for _, tool := range req.Tools {
			var schema any
			if err := json.Unmarshal(tool.Schema, &schema); err != nil || schema == nil {
				schema = map[string]any{"type": "object", "properties": map[string]any{}}
			}
			spec := types.ToolSpecification{
				Name:        aws.String(tool.Name),
				InputSchema: &types.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(schema)},
			}
			if tool.Description != "" {
				spec.Description = aws.String(tool.Description)
			}
			tools = append(tools, &types.ToolMemberToolSpec{Value: spec})
		}
		input.ToolConfig = &types.ToolConfiguration{Tools: tools}
	}
	return input, nil
}

func convertBedrockMessages(messages []models.Message) []types.Message {
	result := make([]types.Message, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == models.RoleSystem {
			continue
		}

		var content []types.ContentBlock
		for _, tr := range msg.ToolResults {
			block := types.ToolResultBlock{
				ToolUseId: aws.String(tr.ToolCallID),
				Content: []types.ToolResultContentBlock{
					&types.ToolResultContentBlockMemberText{Value: tr.Content},
				},
			}
			if tr.IsError {
				block.Status = types.ToolResultStatusError
			}
			content = append(content, &types.ContentBlockMemberToolResult{Value: block})
		}
		if msg.Content != "" {
			content = append(content, &types.ContentBlockMemberText{Value: msg.Content})
		}
		for _, tc := range msg.ToolCalls {
			input, err := decodeToolInput(tc.Input)
			if err != nil {
				input = map[string]any{}
			}
			content = append(content, &types.ContentBlockMemberToolUse{
				Value: types.ToolUseBlock{
					ToolUseId: aws.String(tc.ID),
					Name:      aws.String(tc.Name),
					Input:     document.NewLazyDocument(input),
				},
			})
		}
		if len(content) == 0 {
			continue
		}

		role := types.ConversationRoleUser
		if msg.Role == models.RoleAssistant {
			role = types.ConversationRoleAssistant
		}
		result = append(result, types.Message{Role: role, Content: content})
	}
	return result
}

func (p *BedrockProvider) wrapError(err error, model string) error {
	if _, ok := llm.GetProviderError(err); ok {
		return err
	}

	providerErr := &llm.ProviderError{Provider: p.name, Model: model, Cause: err}
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		providerErr = providerErr.WithStatus(respErr.HTTPStatusCode())
		if requestID := respErr.ServiceRequestID(); requestID != "" {
			providerErr = providerErr.WithRequestID(requestID)
		}
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		providerErr = providerErr.WithCode(apiErr.ErrorCode())
		if msg := apiErr.ErrorMessage(); msg != "" {
			return providerErr.WithMessage(msg)
		}
	}
	return providerErr.WithMessage(err.Error())
}
