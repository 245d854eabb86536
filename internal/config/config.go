package config

import (
	"fmt"
	"time"
)

// Config is the main configuration structure for agentcore.
type Config struct {
	Version int `yaml:"version"`

	// DefaultAgent handles sessions no binding matches.
	DefaultAgent string `yaml:"default_agent"`

	// DefaultProvider is used for model references without a provider prefix.
	DefaultProvider string `yaml:"default_provider"`

	Agents   map[string]AgentConfig `yaml:"agents"`
	Bindings []Binding              `yaml:"bindings"`

	Providers map[string]ProviderConfig `yaml:"providers"`

	// ContextWindow holds the guard thresholds agents inherit.
	ContextWindow ContextWindowConfig `yaml:"context_window"`

	Execution     ExecutionConfig     `yaml:"execution"`
	Failover      FailoverConfig      `yaml:"failover"`
	Compaction    CompactionConfig    `yaml:"compaction"`
	Sessions      SessionsConfig      `yaml:"sessions"`
	Logging       LoggingConfig       `yaml:"logging"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ExecutionConfig bounds the tool loop of a single run.
type ExecutionConfig struct {
	MaxIterations int           `yaml:"max_iterations"`
	MaxTokens     int           `yaml:"max_tokens"`
	ParallelTools bool          `yaml:"parallel_tools"`
	ToolTimeout   time.Duration `yaml:"tool_timeout" jsonschema:"oneof_type=string;integer"`
}

// Load reads, validates and parses the configuration file.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, err
	}
	if err := ValidateRaw(raw); err != nil {
		return nil, err
	}
	cfg, err := decodeStrict(raw)
	if err != nil {
		return nil, err
	}

	applyDefaults(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Agent returns the named agent configuration.
func (c *Config) Agent(id string) (AgentConfig, bool) {
	if c == nil {
		return AgentConfig{}, false
	}
	agent, ok := c.Agents[id]
	return agent, ok
}

// Provider returns the named provider configuration.
func (c *Config) Provider(id string) (ProviderConfig, bool) {
	if c == nil {
		return ProviderConfig{}, false
	}
	p, ok := c.Providers[id]
	return p, ok
}

// GuardFor returns the effective context window thresholds for an agent,
// falling back to the global values field by field.
func (c *Config) GuardFor(agentID string) ContextWindowConfig {
	out := c.ContextWindow
	agent, ok := c.Agent(agentID)
	if !ok {
		return out
	}
	if agent.ContextWindow.WarnThreshold > 0 {
		out.WarnThreshold = agent.ContextWindow.WarnThreshold
	}
	if agent.ContextWindow.HardLimit > 0 {
		out.HardLimit = agent.ContextWindow.HardLimit
	}
	if agent.ContextWindow.MinAvailable > 0 {
		out.MinAvailable = agent.ContextWindow.MinAvailable
	}
	return out
}

func applyDefaults(cfg *Config) {
	if cfg.Version == 0 {
		cfg.Version = CurrentVersion
	}
	if cfg.DefaultProvider == "" {
		cfg.DefaultProvider = "anthropic"
	}
	if cfg.DefaultAgent == "" {
		cfg.DefaultAgent = DefaultAgentID
	}

	if cfg.ContextWindow.WarnThreshold == 0 {
		cfg.ContextWindow.WarnThreshold = 0.8
	}
	if cfg.ContextWindow.HardLimit == 0 {
		cfg.ContextWindow.HardLimit = 128_000
	}
	if cfg.ContextWindow.MinAvailable == 0 {
		cfg.ContextWindow.MinAvailable = 4_096
	}

	if cfg.Execution.MaxIterations == 0 {
		cfg.Execution.MaxIterations = 10
	}
	if cfg.Execution.MaxTokens == 0 {
		cfg.Execution.MaxTokens = 4_096
	}
	if cfg.Execution.ToolTimeout == 0 {
		cfg.Execution.ToolTimeout = 2 * time.Minute
	}

	applyFailoverDefaults(&cfg.Failover)
	applyCompactionDefaults(&cfg.Compaction)
	applySessionDefaults(&cfg.Sessions)

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Observability.Tracing.ServiceName == "" {
		cfg.Observability.Tracing.ServiceName = "agentcore"
	}
	if cfg.Observability.Tracing.SamplingRate == 0 {
		cfg.Observability.Tracing.SamplingRate = 1
	}

	for id, agent := range cfg.Agents {
		if agent.Name == "" {
			agent.Name = id
		}
		cfg.Agents[id] = agent
	}
}

// String renders a short summary for logs.
func (c *Config) String() string {
	if c == nil {
		return "<nil config>"
	}
	return fmt.Sprintf("agents=%d bindings=%d providers=%d default_agent=%s",
		len(c.Agents), len(c.Bindings), len(c.Providers), c.DefaultAgent)
}
