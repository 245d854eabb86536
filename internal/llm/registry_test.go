package llm

import (
	"context"
	"errors"
	"testing"
)

type namedProvider string

func (p namedProvider) Name() string { return string(p) }

func (p namedProvider) Complete(context.Context, *CompletionRequest) (<-chan *Chunk, error) {
	ch := make(chan *Chunk, 1)
	ch <- &Chunk{Done: true}
	close(ch)
	return ch, nil
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry(namedProvider("openai"), namedProvider("anthropic"))
	reg.Register(nil)

	p, err := reg.Get("anthropic")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if p.Name() != "anthropic" {
		t.Errorf("Name() = %q, want anthropic", p.Name())
	}

	if _, err := reg.Get("missing"); !errors.Is(err, ErrProviderNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrProviderNotFound", err)
	}

	names := reg.Names()
	if len(names) != 2 || names[0] != "anthropic" || names[1] != "openai" {
		t.Errorf("Names() = %v, want [anthropic openai]", names)
	}
}
