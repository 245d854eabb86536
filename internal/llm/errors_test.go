package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status int
		want   ErrorClass
	}{
		{401, ClassAuth},
		{402, ClassAuth},
		{403, ClassAuth},
		{429, ClassRateLimited},
		{413, ClassContextOverflow},
		{408, ClassTransient},
		{500, ClassTransient},
		{503, ClassTransient},
		{529, ClassTransient},
		{400, ClassFatal},
		{404, ClassFatal},
		{422, ClassFatal},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.status), func(t *testing.T) {
			err := NewProviderError("anthropic", "m", errors.New("request failed")).WithStatus(tt.status)
			if err.Class != tt.want {
				t.Errorf("status %d class = %s, want %s", tt.status, err.Class, tt.want)
			}
			if got := Classify(err); got != tt.want {
				t.Errorf("Classify() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestOverflowBeatsBadRequest(t *testing.T) {
	err := NewProviderError("anthropic", "claude", errors.New("bad request")).
		WithStatus(400).
		WithCode("invalid_request_error").
		WithMessage("prompt is too long: 210000 tokens > 200000 maximum")
	if err.Class != ClassContextOverflow {
		t.Errorf("class = %s, want %s", err.Class, ClassContextOverflow)
	}

	err = NewProviderError("openai", "gpt-4o", nil).WithStatus(400).WithCode("context_length_exceeded")
	if err.Class != ClassContextOverflow {
		t.Errorf("class = %s, want %s", err.Class, ClassContextOverflow)
	}
}

func TestCodeOverridesStatus(t *testing.T) {
	err := NewProviderError("bedrock", "claude", nil).WithStatus(400).WithCode("ThrottlingException")
	if err.Class != ClassRateLimited {
		t.Errorf("class = %s, want %s", err.Class, ClassRateLimited)
	}
}

func TestClassifyPlainErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{"nil", nil, ""},
		{"deadline", context.DeadlineExceeded, ClassTransient},
		{"wrapped deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), ClassTransient},
		{"canceled", context.Canceled, ClassFatal},
		{"rate limit text", errors.New("Rate limit reached for requests"), ClassRateLimited},
		{"auth text", errors.New("invalid api key provided"), ClassAuth},
		{"overflow text", errors.New("This model's maximum context length is 8192 tokens"), ClassContextOverflow},
		{"connection reset", errors.New("read tcp: connection reset by peer"), ClassTransient},
		{"model missing", errors.New("model_not_found"), ClassFatal},
		{"unknown", errors.New("something odd happened"), ClassTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}

func TestProviderErrorFormatting(t *testing.T) {
	cause := errors.New("upstream")
	err := NewProviderError("openai", "gpt-4o", cause).
		WithStatus(429).
		WithCode("rate_limit_exceeded").
		WithRequestID("req_1").
		WithRetryAfter(2 * time.Second)

	msg := err.Error()
	for _, want := range []string{"[rate_limited]", "openai", "model=gpt-4o", "status=429", "code=rate_limit_exceeded"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Error() = %q, missing %q", msg, want)
		}
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is(err, cause) = false, want true")
	}

	wrapped := fmt.Errorf("stream: %w", err)
	pe, ok := GetProviderError(wrapped)
	if !ok {
		t.Fatal("GetProviderError() ok = false")
	}
	if pe.RetryAfter != 2*time.Second {
		t.Errorf("RetryAfter = %v, want 2s", pe.RetryAfter)
	}
	if !IsContextOverflow(NewProviderError("x", "y", nil).WithStatus(413)) {
		t.Error("IsContextOverflow(413) = false, want true")
	}
}
