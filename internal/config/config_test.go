package config

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const validYAML = `
default_agent: main
providers:
  anthropic:
    api_key: test
  openai:
    api_key: test
agents:
  main:
    model: anthropic/claude-sonnet-4
    fallbacks: [openai/gpt-4o]
  support:
    model: claude-haiku
    context_window:
      hard_limit: 1000
      min_available: 100
failover:
  rate_limit:
    mode: switch
    wait_budget: 10s
bindings:
  - agent_id: support
    match:
      channel: slack
  - agent_id: main
    match:
      channel: slack
      peer: alice
`

func TestLoadValidConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, "config.yaml", validYAML))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.DefaultAgent != "main" {
		t.Errorf("DefaultAgent = %q, want main", cfg.DefaultAgent)
	}
	if len(cfg.Bindings) != 2 || cfg.Bindings[0].AgentID != "support" {
		t.Errorf("Bindings = %+v, want declared order preserved", cfg.Bindings)
	}
	if cfg.Bindings[1].Match.Peer == nil || *cfg.Bindings[1].Match.Peer != "alice" {
		t.Errorf("Bindings[1].Match.Peer = %v, want alice", cfg.Bindings[1].Match.Peer)
	}
	if cfg.Bindings[0].Match.Peer != nil {
		t.Error("absent predicate decoded as non-nil")
	}
	if cfg.Failover.RateLimit.WaitBudget != 10*time.Second {
		t.Errorf("WaitBudget = %v, want 10s", cfg.Failover.RateLimit.WaitBudget)
	}
	if cfg.Failover.RateLimit.MaxWaits != 3 {
		t.Errorf("MaxWaits default = %d, want 3", cfg.Failover.RateLimit.MaxWaits)
	}
	if !cfg.Failover.CompactOnOverflowEnabled() {
		t.Error("CompactOnOverflowEnabled() = false, want default true")
	}
	if cfg.Agents["support"].Name != "support" {
		t.Errorf("agent name default = %q, want support", cfg.Agents["support"].Name)
	}

	g := cfg.GuardFor("support")
	if g.HardLimit != 1000 || g.WarnThreshold != 0.8 {
		t.Errorf("GuardFor(support) = %+v, want hard 1000 warn 0.8", g)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, "config.yaml", validYAML+"\nextra: true\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestLoadRejectsWrongType(t *testing.T) {
	path := writeConfig(t, "config.yaml", strings.Replace(validYAML, "hard_limit: 1000", "hard_limit: lots", 1))
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "schema") {
		t.Fatalf("Load() error = %v, want schema error", err)
	}
}

func TestLoadValidatesBindings(t *testing.T) {
	path := writeConfig(t, "config.yaml", validYAML+`
  - agent_id: ghost
    match:
      channel: discord
`)
	_, err := Load(path)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Load() error = %v, want ValidationError", err)
	}
	if !strings.Contains(err.Error(), `bindings[2].agent_id: unknown agent "ghost"`) {
		t.Errorf("error = %v, want unknown binding agent", err)
	}
}

func TestLoadValidatesProviderReferences(t *testing.T) {
	path := writeConfig(t, "config.yaml", strings.Replace(validYAML, "openai/gpt-4o", "mistral/large", 1))
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), `unconfigured provider "mistral"`) {
		t.Fatalf("Load() error = %v, want unconfigured provider", err)
	}
}

func TestLoadValidatesRateLimitMode(t *testing.T) {
	path := writeConfig(t, "config.yaml", strings.Replace(validYAML, "mode: switch", "mode: panic", 1))
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown rate limit mode")
	}
}

func TestLoadJSON5WithInclude(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "providers.yaml"), []byte(`
providers:
  anthropic:
    api_key: ${AGENTCORE_TEST_KEY}
`), 0o600); err != nil {
		t.Fatal(err)
	}
	main := filepath.Join(dir, "config.json5")
	if err := os.WriteFile(main, []byte(`{
  // comments are allowed
  "$include": "providers.yaml",
  agents: { main: { model: "anthropic/claude" } },
}`), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("AGENTCORE_TEST_KEY", "sk-test")

	cfg, err := Load(main)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Providers["anthropic"].APIKey != "sk-test" {
		t.Errorf("APIKey = %q, want expanded env value", cfg.Providers["anthropic"].APIKey)
	}
}

func TestIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.yaml")
	b := filepath.Join(dir, "b.yaml")
	_ = os.WriteFile(a, []byte("$include: b.yaml\n"), 0o600)
	_ = os.WriteFile(b, []byte("$include: a.yaml\n"), 0o600)

	_, err := LoadRaw(a)
	if !errors.Is(err, ErrIncludeCycle) {
		t.Fatalf("LoadRaw() error = %v, want ErrIncludeCycle", err)
	}
	if !strings.Contains(err.Error(), "a.yaml -> ") || !strings.Contains(err.Error(), "b.yaml -> ") {
		t.Errorf("cycle error should name the include chain: %v", err)
	}
}

func TestLoadRawLayersIncludesInOrder(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"base.yaml": "execution:\n  max_iterations: 5\n  parallel_tools: true\nagents:\n  main:\n    model: a/one\n    fallbacks: [b/two, c/three]\n",
		"over.yaml": "execution:\n  max_iterations: 9\n",
		"main.yaml": "$include: [base.yaml, \" \", over.yaml]\nagents:\n  main:\n    fallbacks: [d/four]\n",
	}
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600); err != nil {
			t.Fatal(err)
		}
	}

	raw, err := LoadRaw(filepath.Join(dir, "main.yaml"))
	if err != nil {
		t.Fatalf("LoadRaw() error = %v", err)
	}
	if _, ok := raw[includeKey]; ok {
		t.Error("include directive left in merged document")
	}
	exec := raw["execution"].(map[string]any)
	if exec["max_iterations"] != 9 || exec["parallel_tools"] != true {
		t.Errorf("execution = %v, want later include to win per key", exec)
	}
	main := raw["agents"].(map[string]any)["main"].(map[string]any)
	if main["model"] != "a/one" {
		t.Errorf("model = %v, want value kept from base", main["model"])
	}
	if fb := main["fallbacks"].([]any); len(fb) != 1 || fb[0] != "d/four" {
		t.Errorf("fallbacks = %v, want list replaced by including file", fb)
	}
}

func TestLoadRawExpandsEnvInValuesOnly(t *testing.T) {
	t.Setenv("AGENTCORE_TEST_MODEL", "anthropic/claude")
	t.Setenv("include", "oops")
	dir := t.TempDir()
	_ = os.WriteFile(filepath.Join(dir, "agents.yaml"), []byte("agents:\n  main:\n    model: ${AGENTCORE_TEST_MODEL}\n"), 0o600)
	main := filepath.Join(dir, "main.yaml")
	_ = os.WriteFile(main, []byte("$include: agents.yaml\ndefault_agent: main\n"), 0o600)

	cfg, err := Load(main)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := cfg.Agents["main"].Model; got != "anthropic/claude" {
		t.Errorf("model = %q, want expanded env value", got)
	}
}

func TestOverlayLeavesInputsUntouched(t *testing.T) {
	base := map[string]any{"a": map[string]any{"x": 1}}
	top := map[string]any{"a": map[string]any{"y": 2}}
	got := overlay(base, top)
	if len(got["a"].(map[string]any)) != 2 {
		t.Errorf("overlay = %v", got)
	}
	if len(base["a"].(map[string]any)) != 1 || len(top["a"].(map[string]any)) != 1 {
		t.Errorf("inputs modified: base = %v, top = %v", base, top)
	}
}

func TestJSONSchema(t *testing.T) {
	data, err := JSONSchema()
	if err != nil {
		t.Fatalf("JSONSchema() error = %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("schema is not JSON: %v", err)
	}
	for _, key := range []string{"default_agent", "bindings", "failover"} {
		if !strings.Contains(string(data), `"`+key+`"`) {
			t.Errorf("schema missing %q", key)
		}
	}
}

func TestValidateVersion(t *testing.T) {
	if err := ValidateVersion(CurrentVersion); err != nil {
		t.Errorf("ValidateVersion(current) = %v", err)
	}
	err := ValidateVersion(CurrentVersion + 1)
	var verr *VersionError
	if !errors.As(err, &verr) || !strings.Contains(err.Error(), "newer") {
		t.Errorf("ValidateVersion(next) = %v, want newer-than-build error", err)
	}
}

func TestWatchReloadsSnapshot(t *testing.T) {
	path := writeConfig(t, "config.yaml", validYAML)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	snap := NewSnapshot(cfg)

	changed := make(chan *Config, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w, err := Watch(ctx, path, snap, WatchOptions{
		Debounce: 20 * time.Millisecond,
		OnChange: func(c *Config) {
			select {
			case changed <- c:
			default:
			}
		},
	})
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	defer w.Close()

	updated := strings.Replace(validYAML, "default_agent: main", "default_agent: support", 1)
	if err := os.WriteFile(path, []byte(updated), 0o600); err != nil {
		t.Fatal(err)
	}

	select {
	case c := <-changed:
		if c.DefaultAgent != "support" {
			t.Errorf("reloaded DefaultAgent = %q, want support", c.DefaultAgent)
		}
		if snap.Load().DefaultAgent != "support" {
			t.Error("snapshot not swapped")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("config change not observed")
	}
}

func writeConfig(t *testing.T, name, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}
