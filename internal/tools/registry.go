package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/haasonsaas/agentcore/internal/llm"
)

// Tool parameter limits to prevent resource exhaustion
const (
	// MaxToolNameLength is the maximum length of a tool name.
	MaxToolNameLength = 256

	// MaxToolParamsSize is the maximum size of tool parameters JSON (10MB).
	MaxToolParamsSize = 10 << 20
)

type entry struct {
	tool   Tool
	schema *jsonschema.Schema
}

// Registry manages available tools with thread-safe registration and lookup.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]entry
}

// NewRegistry creates a registry holding tools. It panics on a tool whose
// schema does not compile; use Register to handle that as an error.
func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: make(map[string]entry)}
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			panic(err)
		}
	}
	return r
}

// Register adds a tool, replacing any tool with the same name.
func (r *Registry) Register(t Tool) error {
	if t == nil {
		return fmt.Errorf("register tool: nil tool")
	}
	name := t.Name()
	if name == "" || len(name) > MaxToolNameLength {
		return fmt.Errorf("register tool: invalid name %q", name)
	}

	e := entry{tool: t}
	if raw := bytes.TrimSpace(t.Schema()); len(raw) > 0 {
		schema, err := jsonschema.CompileString("tool_"+name+".json", string(raw))
		if err != nil {
			return fmt.Errorf("register tool %s: compile schema: %w", name, err)
		}
		e.schema = schema
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[name] = e
	return nil
}

// Unregister removes a tool from the registry by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tools[name]
	return e.tool, ok
}

// Names returns registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// List returns the tools permitted by allow, sorted by name. An empty
// allowlist permits every tool; entries may be glob patterns such as "fs_*".
func (r *Registry) List(allow []string) []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.tools))
	for name, e := range r.tools {
		if Allowed(allow, name) {
			out = append(out, e.tool)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Scoped returns a new registry holding the tools permitted by allow plus
// extra, which are filtered by the same allowlist. Compiled schemas are
// shared with r.
func (r *Registry) Scoped(allow []string, extra ...Tool) (*Registry, error) {
	out := &Registry{tools: make(map[string]entry)}
	r.mu.RLock()
	for name, e := range r.tools {
		if Allowed(allow, name) {
			out.tools[name] = e
		}
	}
	r.mu.RUnlock()

	for _, t := range extra {
		if t == nil || !Allowed(allow, t.Name()) {
			continue
		}
		if err := out.Register(t); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Specs returns provider-facing definitions for the permitted tools.
func (r *Registry) Specs(allow []string) []llm.ToolSpec {
	tools := r.List(allow)
	specs := make([]llm.ToolSpec, 0, len(tools))
	for _, t := range tools {
		specs = append(specs, llm.ToolSpec{Name: t.Name(), Description: t.Description(), Schema: t.Schema()})
	}
	return specs
}

// Allowed reports whether name passes the allowlist.
func Allowed(allow []string, name string) bool {
	if len(allow) == 0 {
		return true
	}
	for _, pattern := range allow {
		if pattern == name || pattern == "*" {
			return true
		}
		if ok, err := path.Match(pattern, name); err == nil && ok {
			return true
		}
	}
	return false
}

// Execute runs a tool by name. Unknown tools, oversized or malformed
// arguments, and schema violations produce error results rather than Go
// errors so the model can correct itself. A returned error means the tool
// itself failed.
func (r *Registry) Execute(ctx context.Context, name string, args json.RawMessage) (res *Result, err error) {
	if len(name) > MaxToolNameLength {
		return ErrorResult(fmt.Sprintf("tool name exceeds maximum length of %d characters", MaxToolNameLength)), nil
	}
	if len(args) > MaxToolParamsSize {
		return ErrorResult(fmt.Sprintf("tool parameters exceed maximum size of %d bytes", MaxToolParamsSize)), nil
	}

	r.mu.RLock()
	e, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return ErrorResult(fmt.Sprintf("%s: %s", ErrToolNotFound, name)), nil
	}

	if len(bytes.TrimSpace(args)) == 0 {
		args = json.RawMessage(`{}`)
	}
	if e.schema != nil {
		var payload any
		if err := json.Unmarshal(args, &payload); err != nil {
			return ErrorResult(fmt.Sprintf("invalid arguments for %s: %v", name, err)), nil
		}
		if err := e.schema.Validate(payload); err != nil {
			return ErrorResult(fmt.Sprintf("invalid arguments for %s: %v", name, err)), nil
		}
	}

	defer func() {
		if rec := recover(); rec != nil {
			res = nil
			err = fmt.Errorf("%w: %s: %v", ErrToolPanic, name, rec)
		}
	}()

	res, err = e.tool.Execute(ctx, args)
	if err != nil {
		return nil, err
	}
	if res == nil {
		res = &Result{}
	}
	return res, nil
}
