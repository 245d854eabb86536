package sessions

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/haasonsaas/agentcore/pkg/models"
)

// Dialect selects SQL flavour and driver.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

func (d Dialect) driver() (string, error) {
	switch d {
	case DialectPostgres:
		return "postgres", nil
	case DialectSQLite:
		return "sqlite", nil
	default:
		return "", fmt.Errorf("unsupported sql dialect %q", d)
	}
}

// SQLConfig holds configuration for a database-backed store.
type SQLConfig struct {
	Dialect         Dialect
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
}

// SQLStore implements Store on postgres or sqlite.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

// OpenSQLStore opens, pings and migrates a database-backed store.
func OpenSQLStore(ctx context.Context, cfg SQLConfig) (*SQLStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("dsn is required")
	}
	driver, err := cfg.Dialect.driver()
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := NewSQLStore(db, cfg.Dialect)
	if err := store.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewSQLStore wraps an open database.
func NewSQLStore(db *sql.DB, dialect Dialect) *SQLStore {
	return &SQLStore{db: db, dialect: dialect, now: time.Now}
}

// DB exposes the underlying database connection.
func (s *SQLStore) DB() *sql.DB {
	return s.db
}

// Migrate creates the tables if they do not exist.
func (s *SQLStore) Migrate(ctx context.Context) error {
	timestamp := "TIMESTAMP"
	if s.dialect == DialectPostgres {
		timestamp = "TIMESTAMPTZ"
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS session_messages (
			id TEXT PRIMARY KEY,
			session_key TEXT NOT NULL,
			position BIGINT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			tool_calls TEXT NOT NULL DEFAULT '',
			tool_results TEXT NOT NULL DEFAULT '',
			metadata TEXT NOT NULL DEFAULT '',
			created_at ` + timestamp + ` NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS session_messages_key_position ON session_messages (session_key, position)`,
		`CREATE TABLE IF NOT EXISTS session_compactions (
			session_key TEXT PRIMARY KEY,
			count INTEGER NOT NULL,
			last_compacted_at ` + timestamp + ` NOT NULL,
			last_summary TEXT NOT NULL DEFAULT '',
			last_strategy TEXT NOT NULL DEFAULT ''
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate sessions schema: %w", err)
		}
	}
	return nil
}

func (s *SQLStore) AppendMessages(ctx context.Context, key string, msgs []models.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin append: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var last int64
	err = tx.QueryRowContext(ctx, s.rebind(`SELECT COALESCE(MAX(position), 0) FROM session_messages WHERE session_key = ?`), key).Scan(&last)
	if err != nil {
		return fmt.Errorf("failed to read history position: %w", err)
	}

	insert := s.rebind(`INSERT INTO session_messages (id, session_key, position, role, content, tool_calls, tool_results, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	for i, msg := range msgs {
		id := msg.ID
		if id == "" {
			id = uuid.NewString()
		}
		created := msg.CreatedAt
		if created.IsZero() {
			created = s.now()
		}
		calls, err := encodeJSON(msg.ToolCalls, len(msg.ToolCalls) == 0)
		if err != nil {
			return fmt.Errorf("failed to encode tool calls: %w", err)
		}
		results, err := encodeJSON(msg.ToolResults, len(msg.ToolResults) == 0)
		if err != nil {
			return fmt.Errorf("failed to encode tool results: %w", err)
		}
		meta, err := encodeJSON(msg.Metadata, len(msg.Metadata) == 0)
		if err != nil {
			return fmt.Errorf("failed to encode metadata: %w", err)
		}
		if _, err := tx.ExecContext(ctx, insert,
			id, key, last+int64(i)+1, string(msg.Role), msg.Content, calls, results, meta, created.UTC(),
		); err != nil {
			return fmt.Errorf("failed to append message: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit append: %w", err)
	}
	return nil
}

func (s *SQLStore) GetHistory(ctx context.Context, key string, limit int) ([]models.Message, error) {
	query := `SELECT id, role, content, tool_calls, tool_results, metadata, created_at
		FROM session_messages WHERE session_key = ? ORDER BY position DESC`
	args := []any{key}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get history: %w", err)
	}
	defer rows.Close()

	out := []models.Message{}
	for rows.Next() {
		var (
			msg                  models.Message
			role                 string
			calls, results, meta string
		)
		if err := rows.Scan(&msg.ID, &role, &msg.Content, &calls, &results, &meta, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msg.Role = models.Role(role)
		msg.SessionKey = key
		if err := decodeJSON(calls, &msg.ToolCalls); err != nil {
			return nil, fmt.Errorf("failed to decode tool calls: %w", err)
		}
		if err := decodeJSON(results, &msg.ToolResults); err != nil {
			return nil, fmt.Errorf("failed to decode tool results: %w", err)
		}
		if err := decodeJSON(meta, &msg.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata: %w", err)
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate history: %w", err)
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *SQLStore) Compact(ctx context.Context, key, strategy, summary string) (CompactionRecord, error) {
	_, err := s.db.ExecContext(ctx, s.rebind(`INSERT INTO session_compactions (session_key, count, last_compacted_at, last_summary, last_strategy)
		VALUES (?, 1, ?, ?, ?)
		ON CONFLICT (session_key) DO UPDATE SET
			count = session_compactions.count + 1,
			last_compacted_at = excluded.last_compacted_at,
			last_summary = CASE WHEN excluded.last_summary = '' THEN session_compactions.last_summary ELSE excluded.last_summary END,
			last_strategy = excluded.last_strategy`),
		key, s.now().UTC(), summary, strategy)
	if err != nil {
		return CompactionRecord{}, fmt.Errorf("failed to record compaction: %w", err)
	}
	return s.GetCompactionRecord(ctx, key)
}

func (s *SQLStore) GetCompactionRecord(ctx context.Context, key string) (CompactionRecord, error) {
	var rec CompactionRecord
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT count, last_compacted_at, last_summary, last_strategy
		FROM session_compactions WHERE session_key = ?`), key).
		Scan(&rec.Count, &rec.LastCompactedAt, &rec.LastSummary, &rec.LastStrategy)
	if errors.Is(err, sql.ErrNoRows) {
		return CompactionRecord{}, nil
	}
	if err != nil {
		return CompactionRecord{}, fmt.Errorf("failed to get compaction record: %w", err)
	}
	return rec, nil
}

// Close closes the database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// rebind rewrites ? placeholders to $n for postgres.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteString("$" + strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func encodeJSON(v any, empty bool) (string, error) {
	if empty {
		return "", nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeJSON(raw string, v any) error {
	if raw == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw), v)
}
