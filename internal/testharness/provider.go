// Package testharness provides scripted providers and event recorders for
// exercising the execution pipeline without network access.
package testharness

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/haasonsaas/agentcore/internal/llm"
	"github.com/haasonsaas/agentcore/pkg/models"
)

// ErrScriptExhausted is sent when a provider is called more often than scripted.
var ErrScriptExhausted = errors.New("scripted provider has no steps left")

// Step is one scripted provider response.
type Step struct {
	// Text is streamed as one chunk per element.
	Text      []string
	ToolCalls []models.ToolCall
	Usage     models.Usage

	// Err is delivered as an error chunk after any text.
	Err error

	// CallErr is returned from Complete itself.
	CallErr error

	// Block holds the stream open until the request context ends.
	Block bool
}

// Text builds a step that streams parts and finishes.
func Text(parts ...string) Step {
	return Step{Text: parts}
}

// ToolCall builds a step requesting a single tool invocation.
func ToolCall(id, name, input string) Step {
	return Step{ToolCalls: []models.ToolCall{{ID: id, Name: name, Input: []byte(input)}}}
}

// Fail builds a step that reports err mid-stream.
func Fail(err error) Step {
	return Step{Err: err}
}

// WithUsage returns a copy of s reporting u.
func (s Step) WithUsage(in, out int64) Step {
	s.Usage = models.Usage{InputTokens: in, OutputTokens: out}
	return s
}

// Provider replays scripted steps in order and records every request.
type Provider struct {
	name string

	mu       sync.Mutex
	steps    []Step
	next     int
	repeat   bool
	requests []llm.CompletionRequest

	// OnCall runs before each response is streamed.
	OnCall func(call int, req *llm.CompletionRequest)
}

// NewProvider creates a provider registered under name.
func NewProvider(name string, steps ...Step) *Provider {
	return &Provider{name: name, steps: steps}
}

// RepeatLast makes the final step answer every call past the end of the script.
func (p *Provider) RepeatLast() *Provider {
	p.mu.Lock()
	p.repeat = true
	p.mu.Unlock()
	return p
}

func (p *Provider) Name() string { return p.name }

// Calls returns how many times Complete was invoked.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

// Requests returns copies of every request received.
func (p *Provider) Requests() []llm.CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]llm.CompletionRequest(nil), p.requests...)
}

func (p *Provider) Complete(ctx context.Context, req *llm.CompletionRequest) (<-chan *llm.Chunk, error) {
	p.mu.Lock()
	recorded := *req
	recorded.Messages = models.CloneMessages(req.Messages)
	p.requests = append(p.requests, recorded)
	call := len(p.requests)

	var step Step
	switch {
	case p.next < len(p.steps):
		step = p.steps[p.next]
		p.next++
	case p.repeat && len(p.steps) > 0:
		step = p.steps[len(p.steps)-1]
	default:
		step = Step{Err: fmt.Errorf("%s: %w", p.name, ErrScriptExhausted)}
	}
	onCall := p.OnCall
	p.mu.Unlock()

	if onCall != nil {
		onCall(call, req)
	}
	if step.CallErr != nil {
		return nil, step.CallErr
	}

	out := make(chan *llm.Chunk)
	go func() {
		defer close(out)
		emit := func(c *llm.Chunk) bool {
			select {
			case out <- c:
				return true
			case <-ctx.Done():
				return false
			}
		}
		for _, text := range step.Text {
			if !emit(&llm.Chunk{Text: text}) {
				return
			}
		}
		if step.Block {
			<-ctx.Done()
			return
		}
		if step.Err != nil {
			emit(&llm.Chunk{Error: step.Err})
			return
		}
		for i := range step.ToolCalls {
			tc := step.ToolCalls[i]
			if !emit(&llm.Chunk{ToolCall: &tc}) {
				return
			}
		}
		emit(&llm.Chunk{
			Done:         true,
			InputTokens:  int(step.Usage.InputTokens),
			OutputTokens: int(step.Usage.OutputTokens),
		})
	}()
	return out, nil
}
