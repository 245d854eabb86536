package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/agentcore/internal/llm"
	"github.com/haasonsaas/agentcore/pkg/models"
)

func newTestOpenAI(t *testing.T, handler http.HandlerFunc) *OpenAIProvider {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	p, err := NewOpenAIProvider(OpenAIConfig{Name: "local", BaseURL: server.URL + "/v1"})
	if err != nil {
		t.Fatalf("NewOpenAIProvider() error = %v", err)
	}
	return p
}

func writeOpenAIStream(w http.ResponseWriter, chunks ...string) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	for _, c := range chunks {
		fmt.Fprintf(w, "data: %s\n\n", c)
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
}

func TestOpenAIStreamsTextThroughBaseURL(t *testing.T) {
	var req openai.ChatCompletionRequest
	p := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &req)
		writeOpenAIStream(w,
			`{"id":"1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"role":"assistant","content":"2 + 2"}}]}`,
			`{"id":"1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"content":" = 4"},"finish_reason":"stop"}]}`,
			`{"id":"1","object":"chat.completion.chunk","choices":[],"usage":{"prompt_tokens":7,"completion_tokens":4,"total_tokens":11}}`,
		)
	})

	ch, err := p.Complete(context.Background(), &llm.CompletionRequest{
		Model:  "local-model",
		System: "be brief",
		Messages: []models.Message{
			models.SystemMessage("inline rule"),
			models.UserMessage("what is 2+2"),
		},
	})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	text, _, last := collect(t, ch)
	if text != "2 + 2 = 4" {
		t.Errorf("text = %q", text)
	}
	if !last.Done || last.InputTokens != 7 || last.OutputTokens != 4 {
		t.Errorf("final chunk = %+v", last)
	}
	if p.Name() != "local" {
		t.Errorf("Name() = %q", p.Name())
	}
	if req.Model != "local-model" || !req.Stream {
		t.Errorf("request = %+v", req)
	}
	if len(req.Messages) != 3 || req.Messages[0].Content != "be brief" || req.Messages[1].Content != "inline rule" {
		t.Errorf("messages = %+v", req.Messages)
	}
}

func TestOpenAIAccumulatesToolCalls(t *testing.T) {
	p := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		writeOpenAIStream(w,
			`{"id":"1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"add","arguments":"{\"a\":"}}]}}]}`,
			`{"id":"1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"tool_calls":[{"index":1,"id":"call_2","type":"function","function":{"name":"now","arguments":""}}]}}]}`,
			`{"id":"1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"2,\"b\":2}"}}]}}]}`,
			`{"id":"1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}`,
		)
	})

	ch, err := p.Complete(context.Background(), &llm.CompletionRequest{Messages: []models.Message{models.UserMessage("add")}})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	_, calls, last := collect(t, ch)
	if len(calls) != 2 {
		t.Fatalf("tool calls = %d, want 2", len(calls))
	}
	if calls[0].ID != "call_1" || string(calls[0].Input) != `{"a":2,"b":2}` {
		t.Errorf("first call = %+v (%s)", calls[0], calls[0].Input)
	}
	if calls[1].Name != "now" || string(calls[1].Input) != `{}` {
		t.Errorf("second call = %+v (%s)", calls[1], calls[1].Input)
	}
	if !last.Done {
		t.Errorf("final chunk = %+v", last)
	}
}

func TestOpenAIErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   llm.ErrorClass
	}{
		{"rate limited", http.StatusTooManyRequests, `{"error":{"message":"Rate limit reached","type":"requests","code":"rate_limit_exceeded"}}`, llm.ClassRateLimited},
		{"auth", http.StatusUnauthorized, `{"error":{"message":"Incorrect API key provided","type":"invalid_request_error","code":"invalid_api_key"}}`, llm.ClassAuth},
		{"overflow", http.StatusBadRequest, `{"error":{"message":"This model's maximum context length is 8192 tokens","type":"invalid_request_error","code":"context_length_exceeded"}}`, llm.ClassContextOverflow},
		{"server", http.StatusBadGateway, `bad gateway`, llm.ClassTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			})
			ch, err := p.Complete(context.Background(), &llm.CompletionRequest{Messages: []models.Message{models.UserMessage("hi")}})
			if err != nil {
				t.Fatalf("Complete() error = %v", err)
			}
			_, _, last := collect(t, ch)
			if last == nil || last.Error == nil {
				t.Fatalf("expected error chunk, got %+v", last)
			}
			if got := llm.Classify(last.Error); got != tt.want {
				t.Errorf("Classify() = %s, want %s (%v)", got, tt.want, last.Error)
			}
		})
	}
}

func TestConvertOpenAIMessages(t *testing.T) {
	msgs := []models.Message{
		models.UserMessage("add"),
		{Role: models.RoleAssistant, ToolCalls: []models.ToolCall{{ID: "c1", Name: "add"}}},
		{Role: models.RoleTool, ToolResults: []models.ToolResult{{ToolCallID: "c1", Content: "4"}, {ToolCallID: "c2", Content: "5"}}},
	}
	out := convertOpenAIMessages(msgs, "")
	if len(out) != 4 {
		t.Fatalf("messages = %d, want 4", len(out))
	}
	if out[1].ToolCalls[0].Function.Arguments != "{}" {
		t.Errorf("arguments = %q", out[1].ToolCalls[0].Function.Arguments)
	}
	if out[3].Role != openai.ChatMessageRoleTool || out[3].ToolCallID != "c2" {
		t.Errorf("tool message = %+v", out[3])
	}

	tools := convertOpenAITools([]llm.ToolSpec{{Name: "x"}})
	if params, ok := tools[0].Function.Parameters.(map[string]any); !ok || params["type"] != "object" {
		t.Errorf("parameters = %#v", tools[0].Function.Parameters)
	}
}

func TestNewOpenAIProviderRequiresKeyOrURL(t *testing.T) {
	if _, err := NewOpenAIProvider(OpenAIConfig{}); err == nil || !strings.Contains(err.Error(), "API key") {
		t.Errorf("NewOpenAIProvider() error = %v", err)
	}
}
