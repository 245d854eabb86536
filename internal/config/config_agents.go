package config

// DefaultAgentID is used when no default agent is configured.
const DefaultAgentID = "main"

// AgentConfig describes one agent.
type AgentConfig struct {
	Name         string `yaml:"name"`
	SystemPrompt string `yaml:"system_prompt"`

	// Model is the primary model, as "provider/model" or a bare model id.
	Model string `yaml:"model"`

	// Fallbacks are tried in order after the primary fails.
	Fallbacks []string `yaml:"fallbacks"`

	// Tools restricts the tool catalog. Empty means every registered tool.
	Tools []string `yaml:"tools"`

	Skills    string `yaml:"skills"`
	Workspace string `yaml:"workspace"`

	ContextWindow ContextWindowConfig `yaml:"context_window"`

	// MaxIterations overrides execution.max_iterations when positive.
	MaxIterations int `yaml:"max_iterations"`

	Subagents SubagentConfig `yaml:"subagents"`
}

// ContextWindowConfig holds the context guard thresholds.
type ContextWindowConfig struct {
	// WarnThreshold is the fraction of HardLimit at which compaction starts.
	WarnThreshold float64 `yaml:"warn_threshold"`
	HardLimit     int     `yaml:"hard_limit"`

	// MinAvailable tokens are reserved for the response.
	MinAvailable int `yaml:"min_available"`
}

// SubagentConfig bounds what an agent may spawn.
type SubagentConfig struct {
	MaxDepth      int          `yaml:"max_depth"`
	AllowedModels []string     `yaml:"allowed_models"`
	Budget        BudgetConfig `yaml:"budget"`
}

// BudgetConfig caps the resources a spawned child may consume.
// Zero means unlimited.
type BudgetConfig struct {
	MaxTokens    int64 `yaml:"max_tokens"`
	MaxToolCalls int   `yaml:"max_tool_calls"`
}

// Binding routes sessions matching Match to AgentID.
type Binding struct {
	AgentID string       `yaml:"agent_id"`
	Match   BindingMatch `yaml:"match"`
}

// BindingMatch holds optional predicates. A nil field matches anything;
// every non-nil field must match.
type BindingMatch struct {
	Channel   *string `yaml:"channel"`
	AccountID *string `yaml:"account_id"`
	Peer      *string `yaml:"peer"`
	GuildID   *string `yaml:"guild_id"`
}

// ModelRefs returns the primary and fallback model references in order.
func (a AgentConfig) ModelRefs() []string {
	out := make([]string, 0, 1+len(a.Fallbacks))
	if a.Model != "" {
		out = append(out, a.Model)
	}
	return append(out, a.Fallbacks...)
}
