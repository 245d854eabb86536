package config

import (
	"fmt"
	"sort"
	"strings"
)

// ValidationError collects every semantic problem found in a config.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Issues) == 0 {
		return "config validation failed"
	}
	return "config validation failed: " + strings.Join(e.Issues, "; ")
}

// Validate checks the cross-field rules the schema cannot express.
// It expects defaults to have been applied.
func Validate(cfg *Config) error {
	if cfg == nil {
		return &ValidationError{Issues: []string{"config is nil"}}
	}
	var issues []string

	if err := ValidateVersion(cfg.Version); err != nil {
		issues = append(issues, err.Error())
	}

	if len(cfg.Agents) == 0 {
		issues = append(issues, "agents: at least one agent is required")
	}
	if _, ok := cfg.Agents[cfg.DefaultAgent]; !ok && len(cfg.Agents) > 0 {
		issues = append(issues, fmt.Sprintf("default_agent: unknown agent %q", cfg.DefaultAgent))
	}

	ids := make([]string, 0, len(cfg.Agents))
	for id := range cfg.Agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		issues = append(issues, validateAgent(cfg, id, cfg.Agents[id])...)
	}

	for i, b := range cfg.Bindings {
		path := fmt.Sprintf("bindings[%d]", i)
		if strings.TrimSpace(b.AgentID) == "" {
			issues = append(issues, path+".agent_id: required")
			continue
		}
		if _, ok := cfg.Agents[b.AgentID]; !ok {
			issues = append(issues, fmt.Sprintf("%s.agent_id: unknown agent %q", path, b.AgentID))
		}
	}

	if len(cfg.Providers) > 0 {
		if _, ok := cfg.Providers[cfg.DefaultProvider]; !ok {
			issues = append(issues, fmt.Sprintf("default_provider: %q is not configured", cfg.DefaultProvider))
		}
	}

	issues = append(issues, validateGuard("context_window", cfg.ContextWindow)...)

	switch cfg.Failover.RateLimit.Mode {
	case RateLimitWait, RateLimitSwitch:
	default:
		issues = append(issues, fmt.Sprintf("failover.rate_limit.mode: must be %q or %q", RateLimitWait, RateLimitSwitch))
	}
	if cfg.Failover.MaxTransientRetries < 0 {
		issues = append(issues, "failover.max_transient_retries: must not be negative")
	}
	if j := cfg.Failover.RateLimit.Jitter; j < 0 || j > 1 {
		issues = append(issues, "failover.rate_limit.jitter: must be between 0 and 1")
	}

	switch cfg.Sessions.Backend {
	case BackendMemory:
	case BackendSQLite, BackendPostgres:
		if strings.TrimSpace(cfg.Sessions.DSN) == "" {
			issues = append(issues, fmt.Sprintf("sessions.dsn: required for %s backend", cfg.Sessions.Backend))
		}
	default:
		issues = append(issues, fmt.Sprintf("sessions.backend: unsupported backend %q", cfg.Sessions.Backend))
	}

	if len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}
	return nil
}

func validateAgent(cfg *Config, id string, agent AgentConfig) []string {
	var issues []string
	path := "agents." + id

	refs := agent.ModelRefs()
	if len(refs) == 0 {
		issues = append(issues, path+".model: required")
	}
	for _, ref := range refs {
		provider, model, ok := strings.Cut(ref, "/")
		if !ok {
			provider, model = cfg.DefaultProvider, ref
		}
		if strings.TrimSpace(model) == "" || strings.TrimSpace(provider) == "" {
			issues = append(issues, fmt.Sprintf("%s: malformed model reference %q", path, ref))
			continue
		}
		if len(cfg.Providers) > 0 {
			if _, ok := cfg.Providers[provider]; !ok {
				issues = append(issues, fmt.Sprintf("%s: model %q uses unconfigured provider %q", path, ref, provider))
			}
		}
	}

	if agent.MaxIterations < 0 {
		issues = append(issues, path+".max_iterations: must not be negative")
	}
	if agent.Subagents.MaxDepth < 0 {
		issues = append(issues, path+".subagents.max_depth: must not be negative")
	}
	issues = append(issues, validateGuard(path+".context_window", cfg.GuardFor(id))...)
	return issues
}

func validateGuard(path string, g ContextWindowConfig) []string {
	var issues []string
	if g.WarnThreshold <= 0 || g.WarnThreshold > 1 {
		issues = append(issues, path+".warn_threshold: must be in (0, 1]")
	}
	if g.HardLimit <= 0 {
		issues = append(issues, path+".hard_limit: must be positive")
	}
	if g.MinAvailable < 0 || (g.HardLimit > 0 && g.MinAvailable >= g.HardLimit) {
		issues = append(issues, path+".min_available: must be below hard_limit")
	}
	return issues
}
