// Package usage provides token usage tracking per request, session, agent
// and model, plus display formatting.
package usage

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/haasonsaas/agentcore/pkg/models"
)

// Record represents the token usage reported by a single provider call.
type Record struct {
	SessionKey string       `json:"session_key"`
	AgentID    string       `json:"agent_id"`
	Provider   string       `json:"provider"`
	Model      string       `json:"model"`
	Usage      models.Usage `json:"usage"`
	Timestamp  time.Time    `json:"timestamp"`
}

// ModelTotal is the aggregate for one provider/model pair.
type ModelTotal struct {
	Provider string       `json:"provider"`
	Model    string       `json:"model"`
	Usage    models.Usage `json:"usage"`
	Requests int64        `json:"requests"`
}

// Tracker accumulates usage. Totals only grow until ResetSession.
type Tracker struct {
	mu        sync.RWMutex
	bySession map[string]models.Usage
	byAgent   map[string]models.Usage
	byModel   map[string]*ModelTotal
	recent    []Record
	maxRecent int
	now       func() time.Time
}

// TrackerConfig configures the usage tracker.
type TrackerConfig struct {
	// MaxRecent bounds the ring of recent records kept for inspection.
	MaxRecent int
}

// DefaultTrackerConfig returns default tracker configuration.
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{MaxRecent: 1000}
}

// NewTracker creates a new usage tracker.
func NewTracker(config TrackerConfig) *Tracker {
	if config.MaxRecent <= 0 {
		config.MaxRecent = DefaultTrackerConfig().MaxRecent
	}
	return &Tracker{
		bySession: make(map[string]models.Usage),
		byAgent:   make(map[string]models.Usage),
		byModel:   make(map[string]*ModelTotal),
		maxRecent: config.MaxRecent,
		now:       time.Now,
	}
}

// Record adds a usage record and returns the session total after it.
func (t *Tracker) Record(r Record) models.Usage {
	t.mu.Lock()
	defer t.mu.Unlock()

	if r.Timestamp.IsZero() {
		r.Timestamp = t.now()
	}

	session := t.bySession[r.SessionKey].Add(r.Usage)
	t.bySession[r.SessionKey] = session
	if r.AgentID != "" {
		t.byAgent[r.AgentID] = t.byAgent[r.AgentID].Add(r.Usage)
	}

	key := r.Provider + "/" + r.Model
	total := t.byModel[key]
	if total == nil {
		total = &ModelTotal{Provider: r.Provider, Model: r.Model}
		t.byModel[key] = total
	}
	total.Usage = total.Usage.Add(r.Usage)
	total.Requests++

	t.recent = append(t.recent, r)
	if len(t.recent) > t.maxRecent {
		t.recent = t.recent[len(t.recent)-t.maxRecent:]
	}
	return session
}

// SessionTotal returns the accumulated usage for a session.
func (t *Tracker) SessionTotal(sessionKey string) models.Usage {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.bySession[sessionKey]
}

// AgentTotal returns the accumulated usage for an agent across sessions.
func (t *Tracker) AgentTotal(agentID string) models.Usage {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.byAgent[agentID]
}

// ResetSession clears a session's total. Agent and model totals are kept.
func (t *Tracker) ResetSession(sessionKey string) {
	t.mu.Lock()
	delete(t.bySession, sessionKey)
	t.mu.Unlock()
}

// ModelTotals returns per-model aggregates sorted by provider/model.
func (t *Tracker) ModelTotals() []ModelTotal {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]ModelTotal, 0, len(t.byModel))
	for _, v := range t.byModel {
		out = append(out, *v)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Provider != out[j].Provider {
			return out[i].Provider < out[j].Provider
		}
		return out[i].Model < out[j].Model
	})
	return out
}

// RecentRecords returns up to limit of the most recent records, oldest first.
func (t *Tracker) RecentRecords(limit int) []Record {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if limit <= 0 || limit > len(t.recent) {
		limit = len(t.recent)
	}
	out := make([]Record, limit)
	copy(out, t.recent[len(t.recent)-limit:])
	return out
}

// FormatTokenCount formats a token count for display.
func FormatTokenCount(count int64) string {
	if count <= 0 {
		return "0"
	}
	if count >= 1_000_000 {
		return fmt.Sprintf("%.1fm", float64(count)/1_000_000)
	}
	if count >= 10_000 {
		return fmt.Sprintf("%dk", count/1_000)
	}
	if count >= 1_000 {
		return fmt.Sprintf("%.1fk", float64(count)/1_000)
	}
	return fmt.Sprintf("%d", count)
}

// FormatUsage formats usage with an input/output breakdown.
func FormatUsage(u models.Usage) string {
	if u.IsZero() {
		return "0 tokens"
	}
	return fmt.Sprintf("%s tokens (in: %s, out: %s)",
		FormatTokenCount(u.Total()), FormatTokenCount(u.InputTokens), FormatTokenCount(u.OutputTokens))
}
