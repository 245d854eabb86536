package compaction

import "github.com/haasonsaas/agentcore/internal/config"

// Severity grades how close a context is to its hard limit.
type Severity int

const (
	SeverityNone Severity = iota
	SeverityWarn
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityWarn:
		return "warn"
	case SeverityCritical:
		return "critical"
	default:
		return "none"
	}
}

// Guard holds the context window thresholds for one agent.
type Guard struct {
	// WarnThreshold is the fraction of HardLimit at which compaction starts.
	WarnThreshold float64
	HardLimit     int
	// MinAvailable is the headroom below HardLimit that counts as critical.
	MinAvailable int
}

// NewGuard converts configured thresholds into a Guard.
func NewGuard(cfg config.ContextWindowConfig) Guard {
	return Guard{
		WarnThreshold: cfg.WarnThreshold,
		HardLimit:     cfg.HardLimit,
		MinAvailable:  cfg.MinAvailable,
	}
}

// NeedsCompaction reports whether tokens reached the warn breakpoint.
func (g Guard) NeedsCompaction(tokens int) bool {
	if g.HardLimit <= 0 {
		return false
	}
	return float64(tokens) >= g.WarnThreshold*float64(g.HardLimit)
}

// Severity grades tokens against the guard.
func (g Guard) Severity(tokens int) Severity {
	if g.HardLimit <= 0 {
		return SeverityNone
	}
	if tokens >= g.HardLimit-g.MinAvailable {
		return SeverityCritical
	}
	if g.NeedsCompaction(tokens) {
		return SeverityWarn
	}
	return SeverityNone
}

// Available returns the tokens left before the hard limit.
func (g Guard) Available(tokens int) int {
	if avail := g.HardLimit - tokens; avail > 0 {
		return avail
	}
	return 0
}
