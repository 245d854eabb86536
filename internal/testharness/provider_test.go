package testharness

import (
	"context"
	"errors"
	"testing"

	"github.com/haasonsaas/agentcore/internal/llm"
	"github.com/haasonsaas/agentcore/pkg/models"
)

func drainChunks(ch <-chan *llm.Chunk) []*llm.Chunk {
	var out []*llm.Chunk
	for c := range ch {
		out = append(out, c)
	}
	return out
}

func TestProviderReplaysScript(t *testing.T) {
	p := NewProvider("fake",
		Text("hel", "lo").WithUsage(3, 2),
		ToolCall("c1", "add", `{"a":1}`),
	)
	req := &llm.CompletionRequest{Messages: []models.Message{models.UserMessage("hi")}}

	ch, err := p.Complete(context.Background(), req)
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	chunks := drainChunks(ch)
	if len(chunks) != 3 || chunks[0].Text != "hel" || !chunks[2].Done || chunks[2].InputTokens != 3 {
		t.Errorf("first call chunks = %+v", chunks)
	}

	ch, _ = p.Complete(context.Background(), req)
	chunks = drainChunks(ch)
	if len(chunks) != 2 || chunks[0].ToolCall == nil || chunks[0].ToolCall.Name != "add" {
		t.Errorf("second call chunks = %+v", chunks)
	}

	ch, _ = p.Complete(context.Background(), req)
	chunks = drainChunks(ch)
	if len(chunks) != 1 || !errors.Is(chunks[0].Error, ErrScriptExhausted) {
		t.Errorf("third call chunks = %+v", chunks)
	}
	if p.Calls() != 3 || len(p.Requests()) != 3 {
		t.Errorf("Calls() = %d", p.Calls())
	}
}

func TestProviderBlockHonoursContext(t *testing.T) {
	p := NewProvider("fake", Step{Block: true})
	ctx, cancel := context.WithCancel(context.Background())
	ch, err := p.Complete(ctx, &llm.CompletionRequest{})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	cancel()
	if chunks := drainChunks(ch); len(chunks) != 0 {
		t.Errorf("chunks after cancel = %+v", chunks)
	}
}

func TestRecorder(t *testing.T) {
	var r Recorder
	r.Emit(models.NewTextDeltaEvent("a"))
	r.Emit(models.NewCompleteEvent(&models.RunResult{}))
	if r.Count(models.EventTextDelta) != 1 || len(r.Terminal()) != 1 {
		t.Errorf("Types() = %v", r.Types())
	}
}
