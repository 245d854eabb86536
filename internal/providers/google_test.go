package providers

import (
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"google.golang.org/genai"

	"github.com/haasonsaas/agentcore/internal/llm"
	"github.com/haasonsaas/agentcore/pkg/models"
)

func TestConvertGeminiMessages(t *testing.T) {
	msgs := []models.Message{
		models.SystemMessage("dropped"),
		models.UserMessage("weather?"),
		{Role: models.RoleAssistant, ToolCalls: []models.ToolCall{{ID: "c1", Name: "weather", Input: json.RawMessage(`{"city":"Oslo"}`)}}},
		{Role: models.RoleTool, ToolResults: []models.ToolResult{
			{ToolCallID: "c1", Content: `{"temp":3}`},
		}},
		{Role: models.RoleTool, ToolResults: []models.ToolResult{
			{ToolCallID: "c1", Content: "boom", IsError: true},
		}},
	}
	out := convertGeminiMessages(msgs)
	if len(out) != 4 {
		t.Fatalf("contents = %d, want 4", len(out))
	}
	if out[1].Role != genai.RoleModel || out[1].Parts[0].FunctionCall.Args["city"] != "Oslo" {
		t.Errorf("model content = %+v", out[1].Parts[0])
	}
	resp := out[2].Parts[0].FunctionResponse
	if resp.Name != "weather" || resp.Response["temp"] != float64(3) {
		t.Errorf("function response = %+v", resp)
	}
	if out[3].Parts[0].FunctionResponse.Response["error"] != "boom" {
		t.Errorf("error response = %+v", out[3].Parts[0].FunctionResponse)
	}
}

func TestBuildGeminiConfig(t *testing.T) {
	cfg := buildGeminiConfig(&llm.CompletionRequest{
		System:    "sys",
		MaxTokens: 100,
		Tools:     []llm.ToolSpec{{Name: "weather", Schema: json.RawMessage(`{"type":"object"}`)}},
	})
	if cfg.SystemInstruction == nil || cfg.SystemInstruction.Parts[0].Text != "sys" {
		t.Errorf("SystemInstruction = %+v", cfg.SystemInstruction)
	}
	if cfg.MaxOutputTokens != 100 {
		t.Errorf("MaxOutputTokens = %d", cfg.MaxOutputTokens)
	}
	if len(cfg.Tools) != 1 || cfg.Tools[0].FunctionDeclarations[0].ParametersJsonSchema == nil {
		t.Errorf("Tools = %+v", cfg.Tools)
	}
}

func TestGoogleWrapError(t *testing.T) {
	p := &GoogleProvider{name: "google"}
	tests := []struct {
		name string
		err  error
		want llm.ErrorClass
	}{
		{"exhausted", genai.APIError{Code: http.StatusTooManyRequests, Status: "RESOURCE_EXHAUSTED", Message: "quota"}, llm.ClassRateLimited},
		{"denied", &genai.APIError{Code: http.StatusForbidden, Status: "PERMISSION_DENIED", Message: "nope"}, llm.ClassAuth},
		{"unavailable", genai.APIError{Code: http.StatusServiceUnavailable, Status: "UNAVAILABLE"}, llm.ClassTransient},
		{"plain", errors.New("context window exceeded"), llm.ClassContextOverflow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := llm.Classify(p.wrapError(tt.err, "gemini")); got != tt.want {
				t.Errorf("Classify() = %s, want %s", got, tt.want)
			}
		})
	}
}
