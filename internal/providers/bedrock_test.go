package providers

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"

	"github.com/haasonsaas/agentcore/internal/llm"
	"github.com/haasonsaas/agentcore/pkg/models"
)

type failingStreamer struct{ err error }

func (f failingStreamer) ConverseStream(context.Context, *bedrockruntime.ConverseStreamInput, ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error) {
	return nil, f.err
}

func TestBedrockProcessEvents(t *testing.T) {
	p := newBedrockProvider("bedrock", nil, defaultBedrockModel)
	events := make(chan types.ConverseStreamOutput, 8)
	events <- &types.ConverseStreamOutputMemberContentBlockDelta{Value: types.ContentBlockDeltaEvent{
		Delta: &types.ContentBlockDeltaMemberText{Value: "Let me add."},
	}}
	events <- &types.ConverseStreamOutputMemberContentBlockStart{Value: types.ContentBlockStartEvent{
		Start: &types.ContentBlockStartMemberToolUse{Value: types.ToolUseBlockStart{
			ToolUseId: aws.String("tu_1"),
			Name:      aws.String("add"),
		}},
	}}
	events <- &types.ConverseStreamOutputMemberContentBlockDelta{Value: types.ContentBlockDeltaEvent{
		Delta: &types.ContentBlockDeltaMemberToolUse{Value: types.ToolUseBlockDelta{Input: aws.String(`{"a":2,`)}},
	}}
	events <- &types.ConverseStreamOutputMemberContentBlockDelta{Value: types.ContentBlockDeltaEvent{
		Delta: &types.ContentBlockDeltaMemberToolUse{Value: types.ToolUseBlockDelta{Input: aws.String(`"b":2}`)}},
	}}
	events <- &types.ConverseStreamOutputMemberContentBlockStop{}
	events <- &types.ConverseStreamOutputMemberMessageStop{}
	events <- &types.ConverseStreamOutputMemberMetadata{Value: types.ConverseStreamMetadataEvent{
		Usage: &types.TokenUsage{InputTokens: aws.Int32(20), OutputTokens: aws.Int32(8)},
	}}
	close(events)

	chunks := make(chan *llm.Chunk, 8)
	p.processEvents(context.Background(), events, func() error { return nil }, chunks, "m")
	close(chunks)

	text, calls, last := collect(t, chunks)
	if text != "Let me add." {
		t.Errorf("text = %q", text)
	}
	if len(calls) != 1 || calls[0].ID != "tu_1" || string(calls[0].Input) != `{"a":2,"b":2}` {
		t.Fatalf("calls = %+v", calls)
	}
	if !last.Done || last.InputTokens != 20 || last.OutputTokens != 8 {
		t.Errorf("final chunk = %+v", last)
	}
}

func TestBedrockStreamErrorAfterEvents(t *testing.T) {
	p := newBedrockProvider("bedrock", nil, defaultBedrockModel)
	events := make(chan types.ConverseStreamOutput)
	close(events)

	chunks := make(chan *llm.Chunk, 2)
	streamErr := &smithy.GenericAPIError{Code: "ModelTimeoutException", Message: "model timed out"}
	p.processEvents(context.Background(), events, func() error { return streamErr }, chunks, "m")
	close(chunks)

	_, _, last := collect(t, chunks)
	if last == nil || last.Error == nil {
		t.Fatalf("expected error chunk, got %+v", last)
	}
	if got := llm.Classify(last.Error); got != llm.ClassTransient {
		t.Errorf("Classify() = %s, want transient", got)
	}
}

func TestBedrockCompleteSurfacesCallErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want llm.ErrorClass
	}{
		{"throttled", &smithy.GenericAPIError{Code: "ThrottlingException", Message: "Too many requests"}, llm.ClassRateLimited},
		{"denied", &smithy.GenericAPIError{Code: "AccessDeniedException", Message: "not authorized"}, llm.ClassAuth},
		{"overflow", &smithy.GenericAPIError{Code: "ValidationException", Message: "Input is too long for requested model"}, llm.ClassContextOverflow},
		{"invalid", &smithy.GenericAPIError{Code: "ValidationException", Message: "malformed"}, llm.ClassFatal},
		{"network", errors.New("dial tcp: connection refused"), llm.ClassTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newBedrockProvider("bedrock", failingStreamer{err: tt.err}, defaultBedrockModel)
			ch, err := p.Complete(context.Background(), &llm.CompletionRequest{Messages: []models.Message{models.UserMessage("hi")}})
			if err != nil {
				t.Fatalf("Complete() error = %v", err)
			}
			_, _, last := collect(t, ch)
			if last == nil || last.Error == nil {
				t.Fatalf("expected error chunk, got %+v", last)
			}
			pe, ok := llm.GetProviderError(last.Error)
			if !ok {
				t.Fatalf("error %T is not a ProviderError", last.Error)
			}
			if pe.Class != tt.want {
				t.Errorf("Class = %s, want %s (%v)", pe.Class, tt.want, pe)
			}
			if pe.Model != defaultBedrockModel {
				t.Errorf("Model = %q", pe.Model)
			}
		})
	}
}

func TestBuildConverseInput(t *testing.T) {
	req := &llm.CompletionRequest{
		System:    "sys",
		MaxTokens: 256,
		Messages: []models.Message{
			models.SystemMessage("dropped"),
			models.UserMessage("add"),
			{Role: models.RoleAssistant, Content: "ok", ToolCalls: []models.ToolCall{{ID: "c1", Name: "add", Input: json.RawMessage(`{"a":1}`)}}},
			{Role: models.RoleTool, ToolResults: []models.ToolResult{{ToolCallID: "c1", Content: "bad", IsError: true}}},
		},
		Tools: []llm.ToolSpec{{Name: "add", Description: "adds", Schema: json.RawMessage(`{"type":"object"}`)}},
	}
	input, err := buildConverseInput(req, "model-x")
	if err != nil {
		t.Fatalf("buildConverseInput() error = %v", err)
	}
	if aws.ToString(input.ModelId) != "model-x" || len(input.System) != 1 {
		t.Errorf("input = %+v", input)
	}
	if aws.ToInt32(input.InferenceConfig.MaxTokens) != 256 {
		t.Errorf("MaxTokens = %d", aws.ToInt32(input.InferenceConfig.MaxTokens))
	}
	if len(input.Messages) != 3 {
		t.Fatalf("messages = %d, want 3", len(input.Messages))
	}
	if input.Messages[1].Role != types.ConversationRoleAssistant || len(input.Messages[1].Content) != 2 {
		t.Errorf("assistant message = %+v", input.Messages[1])
	}
	result, ok := input.Messages[2].Content[0].(*types.ContentBlockMemberToolResult)
	if !ok || result.Value.Status != types.ToolResultStatusError {
		t.Errorf("tool result = %+v", input.Messages[2].Content[0])
	}
	if input.ToolConfig == nil || len(input.ToolConfig.Tools) != 1 {
		t.Errorf("tool config = %+v", input.ToolConfig)
	}
}
