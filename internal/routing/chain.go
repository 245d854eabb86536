package routing

import (
	"fmt"
	"strings"
)

// ModelRef identifies a model on a specific provider.
type ModelRef struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

// String renders the reference as "provider/model".
func (r ModelRef) String() string {
	return r.Provider + "/" + r.Model
}

// ParseModelRef parses "provider/model". A bare model id uses
// defaultProvider. Model ids may themselves contain slashes.
func ParseModelRef(ref, defaultProvider string) (ModelRef, error) {
	ref = strings.TrimSpace(ref)
	provider, model, ok := strings.Cut(ref, "/")
	if !ok {
		provider, model = defaultProvider, ref
	}
	provider = strings.TrimSpace(provider)
	model = strings.TrimSpace(model)
	if provider == "" || model == "" {
		return ModelRef{}, fmt.Errorf("malformed model reference %q", ref)
	}
	return ModelRef{Provider: provider, Model: model}, nil
}

// ModelChain is an agent's primary model plus ordered fallbacks.
type ModelChain struct {
	Primary   ModelRef   `json:"primary"`
	Fallbacks []ModelRef `json:"fallbacks,omitempty"`
}

// Models returns primary then fallbacks with duplicates removed.
func (c ModelChain) Models() []ModelRef {
	seen := make(map[ModelRef]bool, 1+len(c.Fallbacks))
	out := make([]ModelRef, 0, 1+len(c.Fallbacks))
	for _, ref := range append([]ModelRef{c.Primary}, c.Fallbacks...) {
		if ref.Model == "" || seen[ref] {
			continue
		}
		seen[ref] = true
		out = append(out, ref)
	}
	return out
}

// Len returns the number of distinct models in the chain.
func (c ModelChain) Len() int { return len(c.Models()) }

// Contains reports whether ref is part of the chain.
func (c ModelChain) Contains(ref ModelRef) bool {
	for _, m := range c.Models() {
		if m == ref {
			return true
		}
	}
	return false
}

// WithPrimary returns a copy of the chain led by ref. The previous primary
// becomes the first fallback.
func (c ModelChain) WithPrimary(ref ModelRef) ModelChain {
	if ref == c.Primary {
		return c
	}
	fallbacks := make([]ModelRef, 0, 1+len(c.Fallbacks))
	fallbacks = append(fallbacks, c.Primary)
	fallbacks = append(fallbacks, c.Fallbacks...)
	return ModelChain{Primary: ref, Fallbacks: fallbacks}
}
