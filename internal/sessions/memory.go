package sessions

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/agentcore/pkg/models"
)

// maxMessagesPerSession limits messages stored per session to prevent unbounded memory growth.
// When exceeded, old messages are trimmed to maintain the limit.
const maxMessagesPerSession = 1000

// MemoryStore provides an in-memory Store implementation for testing and local runs.
type MemoryStore struct {
	mu       sync.RWMutex
	messages map[string][]models.Message
	records  map[string]CompactionRecord
	now      func() time.Time
}

// NewMemoryStore creates a new in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		messages: map[string][]models.Message{},
		records:  map[string]CompactionRecord{},
		now:      time.Now,
	}
}

func (m *MemoryStore) AppendMessages(ctx context.Context, key string, msgs []models.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, msg := range msgs {
		clone := msg.Clone()
		if clone.ID == "" {
			clone.ID = uuid.NewString()
		}
		if clone.CreatedAt.IsZero() {
			clone.CreatedAt = m.now()
		}
		clone.SessionKey = key
		m.messages[key] = append(m.messages[key], clone)
	}

	if excess := len(m.messages[key]) - maxMessagesPerSession; excess > 0 {
		m.messages[key] = append([]models.Message(nil), m.messages[key][excess:]...)
	}
	return nil
}

func (m *MemoryStore) GetHistory(ctx context.Context, key string, limit int) ([]models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	messages := m.messages[key]
	start := 0
	if limit > 0 && len(messages) > limit {
		start = len(messages) - limit
	}
	out := models.CloneMessages(messages[start:])
	if out == nil {
		out = []models.Message{}
	}
	return out, nil
}

func (m *MemoryStore) Compact(ctx context.Context, key, strategy, summary string) (CompactionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec := m.records[key]
	rec.Count++
	rec.LastCompactedAt = m.now()
	rec.LastStrategy = strategy
	if summary != "" {
		rec.LastSummary = summary
	}
	m.records[key] = rec
	return rec, nil
}

func (m *MemoryStore) GetCompactionRecord(ctx context.Context, key string) (CompactionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.records[key], nil
}

func (m *MemoryStore) Close() error { return nil }
