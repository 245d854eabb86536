// Package failover decides what happens after a provider call fails: retry
// the same model, wait out a rate limit, compact and retry, or advance along
// the agent's model chain until it is exhausted.
package failover

import (
	"time"

	"github.com/haasonsaas/agentcore/internal/backoff"
	"github.com/haasonsaas/agentcore/internal/config"
)

// RateLimitMode selects how rate limits are handled.
type RateLimitMode string

const (
	// ModeWait backs off on the same model until MaxWaits or WaitBudget is
	// spent, then switches.
	ModeWait RateLimitMode = "wait"
	// ModeSwitch advances to the next model immediately.
	ModeSwitch RateLimitMode = "switch"
)

// RateLimitPolicy bounds waiting on a rate-limited model.
type RateLimitPolicy struct {
	Mode       RateLimitMode
	MaxWaits   int
	WaitBudget time.Duration
	Backoff    backoff.Policy
}

// Policy configures a Controller.
type Policy struct {
	MaxTransientRetries int
	RateLimit           RateLimitPolicy
	CompactOnOverflow   bool
}

// DefaultPolicy mirrors the configuration defaults.
func DefaultPolicy() Policy {
	return Policy{
		MaxTransientRetries: 2,
		RateLimit: RateLimitPolicy{
			Mode:       ModeWait,
			MaxWaits:   3,
			WaitBudget: 30 * time.Second,
			Backoff: backoff.Policy{
				Initial: time.Second,
				Max:     20 * time.Second,
				Factor:  2,
				Jitter:  0.1,
			},
		},
		CompactOnOverflow: true,
	}
}

// PolicyFromConfig converts the failover configuration section.
func PolicyFromConfig(cfg config.FailoverConfig) Policy {
	mode := ModeWait
	if cfg.RateLimit.Mode == config.RateLimitSwitch {
		mode = ModeSwitch
	}
	return Policy{
		MaxTransientRetries: cfg.MaxTransientRetries,
		RateLimit: RateLimitPolicy{
			Mode:       mode,
			MaxWaits:   cfg.RateLimit.MaxWaits,
			WaitBudget: cfg.RateLimit.WaitBudget,
			Backoff: backoff.Policy{
				Initial: cfg.RateLimit.InitialBackoff,
				Max:     cfg.RateLimit.MaxBackoff,
				Factor:  cfg.RateLimit.Factor,
				Jitter:  cfg.RateLimit.Jitter,
			}.Normalize(),
		},
		CompactOnOverflow: cfg.CompactOnOverflowEnabled(),
	}
}
