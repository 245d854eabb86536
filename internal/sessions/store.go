// Package sessions persists conversation history and compaction
// bookkeeping per session key.
package sessions

import (
	"context"
	"fmt"
	"time"

	"github.com/haasonsaas/agentcore/internal/config"
	"github.com/haasonsaas/agentcore/pkg/models"
)

// CompactionRecord tracks how often a session has been compacted.
type CompactionRecord struct {
	Count           int       `json:"count"`
	LastCompactedAt time.Time `json:"last_compacted_at"`
	LastSummary     string    `json:"last_summary,omitempty"`
	LastStrategy    string    `json:"last_strategy,omitempty"`
}

// Store is the interface for session persistence.
type Store interface {
	// AppendMessages adds messages to the end of a session's history.
	AppendMessages(ctx context.Context, key string, msgs []models.Message) error

	// GetHistory returns up to limit of the most recent messages, oldest
	// first. A limit <= 0 returns everything. Unknown keys have no history.
	GetHistory(ctx context.Context, key string, limit int) ([]models.Message, error)

	// Compact records a compaction and returns the updated record.
	Compact(ctx context.Context, key, strategy, summary string) (CompactionRecord, error)

	// GetCompactionRecord returns the zero record for never-compacted keys.
	GetCompactionRecord(ctx context.Context, key string) (CompactionRecord, error)

	Close() error
}

// Open creates the store selected by configuration.
func Open(ctx context.Context, cfg config.SessionsConfig) (Store, error) {
	switch cfg.Backend {
	case "", config.BackendMemory:
		return NewMemoryStore(), nil
	case config.BackendPostgres, config.BackendSQLite:
		return OpenSQLStore(ctx, SQLConfig{
			Dialect:         Dialect(cfg.Backend),
			DSN:             cfg.DSN,
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: cfg.ConnMaxLifetime,
		})
	default:
		return nil, fmt.Errorf("unknown session backend %q", cfg.Backend)
	}
}
