package config

import "time"

// ProviderConfig configures one model provider.
type ProviderConfig struct {
	APIKey       string `yaml:"api_key"`
	DefaultModel string `yaml:"default_model"`
	BaseURL      string `yaml:"base_url"`

	// Bedrock only.
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	SessionToken    string `yaml:"session_token"`
}

// FailoverConfig controls retry and model switching.
type FailoverConfig struct {
	// MaxTransientRetries is the number of same-model retries for
	// transient failures before switching.
	MaxTransientRetries int `yaml:"max_transient_retries"`

	// CompactOnOverflow compacts and retries once on context overflow.
	CompactOnOverflow *bool `yaml:"compact_on_overflow"`

	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig selects between waiting and switching on rate limits.
type RateLimitConfig struct {
	// Mode is "wait" (backoff on the same model, then switch once the
	// budget is spent) or "switch" (advance immediately).
	Mode string `yaml:"mode" jsonschema:"enum=wait,enum=switch"`

	MaxWaits       int           `yaml:"max_waits"`
	WaitBudget     time.Duration `yaml:"wait_budget" jsonschema:"oneof_type=string;integer"`
	InitialBackoff time.Duration `yaml:"initial_backoff" jsonschema:"oneof_type=string;integer"`
	MaxBackoff     time.Duration `yaml:"max_backoff" jsonschema:"oneof_type=string;integer"`
	Factor         float64       `yaml:"factor"`
	Jitter         float64       `yaml:"jitter"`
}

const (
	RateLimitWait   = "wait"
	RateLimitSwitch = "switch"
)

// CompactOnOverflowEnabled reports the effective overflow policy.
func (f FailoverConfig) CompactOnOverflowEnabled() bool {
	return f.CompactOnOverflow == nil || *f.CompactOnOverflow
}

func applyFailoverDefaults(f *FailoverConfig) {
	if f.MaxTransientRetries == 0 {
		f.MaxTransientRetries = 2
	}
	if f.RateLimit.Mode == "" {
		f.RateLimit.Mode = RateLimitWait
	}
	if f.RateLimit.MaxWaits == 0 {
		f.RateLimit.MaxWaits = 3
	}
	if f.RateLimit.WaitBudget == 0 {
		f.RateLimit.WaitBudget = 30 * time.Second
	}
	if f.RateLimit.InitialBackoff == 0 {
		f.RateLimit.InitialBackoff = time.Second
	}
	if f.RateLimit.MaxBackoff == 0 {
		f.RateLimit.MaxBackoff = 20 * time.Second
	}
	if f.RateLimit.Factor == 0 {
		f.RateLimit.Factor = 2
	}
	if f.RateLimit.Jitter == 0 {
		f.RateLimit.Jitter = 0.1
	}
}
