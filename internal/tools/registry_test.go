package tools

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
)

const addSchema = `{
	"type": "object",
	"properties": {
		"a": {"type": "number"},
		"b": {"type": "number"}
	},
	"required": ["a", "b"],
	"additionalProperties": false
}`

func addTool(calls *atomic.Int32) *Func {
	return NewFunc("add", "Adds two numbers", json.RawMessage(addSchema), func(_ context.Context, args json.RawMessage) (*Result, error) {
		calls.Add(1)
		var in struct{ A, B float64 }
		if err := json.Unmarshal(args, &in); err != nil {
			return nil, err
		}
		return &Result{Content: strconv.FormatFloat(in.A+in.B, 'f', -1, 64)}, nil
	})
}

func TestExecute(t *testing.T) {
	var calls atomic.Int32
	r := NewRegistry(addTool(&calls))

	tests := []struct {
		name      string
		tool      string
		args      string
		wantErr   bool
		content   string
		wantCalls int32
	}{
		{"valid", "add", `{"a":2,"b":2}`, false, "4", 1},
		{"missing field", "add", `{"a":2}`, true, "invalid arguments for add", 0},
		{"wrong type", "add", `{"a":"two","b":2}`, true, "invalid arguments for add", 0},
		{"extra field", "add", `{"a":1,"b":2,"c":3}`, true, "invalid arguments for add", 0},
		{"malformed json", "add", `{"a":`, true, "invalid arguments for add", 0},
		{"unknown tool", "sub", `{}`, true, "tool not found: sub", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls.Store(0)
			res, err := r.Execute(context.Background(), tt.tool, json.RawMessage(tt.args))
			if err != nil {
				t.Fatalf("Execute() error = %v", err)
			}
			if res.IsError != tt.wantErr {
				t.Errorf("IsError = %v, want %v (%s)", res.IsError, tt.wantErr, res.Content)
			}
			if !strings.Contains(res.Content, tt.content) {
				t.Errorf("Content = %q, want %q", res.Content, tt.content)
			}
			if calls.Load() != tt.wantCalls {
				t.Errorf("tool calls = %d, want %d", calls.Load(), tt.wantCalls)
			}
		})
	}
}

func TestExecuteToolErrorAndPanic(t *testing.T) {
	boom := errors.New("boom")
	r := NewRegistry(
		NewFunc("fails", "", nil, func(context.Context, json.RawMessage) (*Result, error) { return nil, boom }),
		NewFunc("panics", "", nil, func(context.Context, json.RawMessage) (*Result, error) { panic("bad") }),
		NewFunc("empty", "", nil, func(context.Context, json.RawMessage) (*Result, error) { return nil, nil }),
	)

	if _, err := r.Execute(context.Background(), "fails", nil); !errors.Is(err, boom) {
		t.Errorf("Execute(fails) error = %v, want boom", err)
	}
	if _, err := r.Execute(context.Background(), "panics", nil); !errors.Is(err, ErrToolPanic) {
		t.Errorf("Execute(panics) error = %v, want ErrToolPanic", err)
	}
	res, err := r.Execute(context.Background(), "empty", nil)
	if err != nil || res == nil || res.IsError {
		t.Errorf("Execute(empty) = %+v, %v", res, err)
	}
}

func TestRegisterRejectsBadSchema(t *testing.T) {
	r := NewRegistry()
	bad := NewFunc("bad", "", json.RawMessage(`{"type": 12}`), nil)
	if err := r.Register(bad); err == nil {
		t.Error("Register() with invalid schema succeeded")
	}
	if err := r.Register(NewFunc("", "", nil, nil)); err == nil {
		t.Error("Register() with empty name succeeded")
	}
}

func TestListAndSpecsHonourAllowlist(t *testing.T) {
	var calls atomic.Int32
	r := NewRegistry(
		addTool(&calls),
		NewFunc("fs_read", "Reads", nil, nil),
		NewFunc("fs_write", "Writes", nil, nil),
	)

	tests := []struct {
		allow []string
		want  string
	}{
		{nil, "add,fs_read,fs_write"},
		{[]string{"add"}, "add"},
		{[]string{"fs_*"}, "fs_read,fs_write"},
		{[]string{"*"}, "add,fs_read,fs_write"},
		{[]string{"nothing"}, ""},
	}
	for _, tt := range tests {
		var names []string
		for _, tool := range r.List(tt.allow) {
			names = append(names, tool.Name())
		}
		if got := strings.Join(names, ","); got != tt.want {
			t.Errorf("List(%v) = %q, want %q", tt.allow, got, tt.want)
		}
	}

	specs := r.Specs([]string{"add"})
	if len(specs) != 1 || specs[0].Description != "Adds two numbers" || len(specs[0].Schema) == 0 {
		t.Errorf("Specs() = %+v", specs)
	}
	if got := strings.Join(r.Names(), ","); got != "add,fs_read,fs_write" {
		t.Errorf("Names() = %q", got)
	}
}

func TestScopedSharesToolsAndFiltersExtras(t *testing.T) {
	var calls atomic.Int32
	base := NewRegistry(addTool(&calls), NewFunc("fs_read", "Reads", nil, nil))

	extra := NewFunc("spawn_agent", "Spawns", nil, func(context.Context, json.RawMessage) (*Result, error) {
		return &Result{Content: "spawned"}, nil
	})
	scoped, err := base.Scoped([]string{"add", "spawn_*"}, extra)
	if err != nil {
		t.Fatalf("Scoped() error = %v", err)
	}
	if got := strings.Join(scoped.Names(), ","); got != "add,spawn_agent" {
		t.Errorf("Names() = %q", got)
	}
	res, err := scoped.Execute(context.Background(), "add", json.RawMessage(`{"a":1}`))
	if err != nil || !res.IsError {
		t.Errorf("Execute() = %+v, %v; want schema rejection", res, err)
	}
	if _, ok := base.Get("spawn_agent"); ok {
		t.Error("extra tool leaked into the base registry")
	}

	denied, err := base.Scoped([]string{"add"}, extra)
	if err != nil {
		t.Fatalf("Scoped() error = %v", err)
	}
	if _, ok := denied.Get("spawn_agent"); ok {
		t.Error("extra tool bypassed the allowlist")
	}
}
