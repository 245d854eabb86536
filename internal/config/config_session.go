package config

import "time"

// SessionsConfig selects the session store.
type SessionsConfig struct {
	// Backend is "memory", "sqlite" or "postgres".
	Backend string `yaml:"backend" jsonschema:"enum=memory,enum=sqlite,enum=postgres"`

	// DSN is the database URL or sqlite file path.
	DSN string `yaml:"dsn"`

	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" jsonschema:"oneof_type=string;integer"`
}

// Session backends.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// CompactionConfig tunes the compaction strategies.
type CompactionConfig struct {
	// KeepRecent messages survive summary and hard-clear passes verbatim.
	KeepRecent int `yaml:"keep_recent"`

	// MaxToolResultChars triggers tool result truncation.
	MaxToolResultChars int `yaml:"max_tool_result_chars"`

	// ChunkTokens bounds the chunks formed by adaptive chunking.
	ChunkTokens int `yaml:"chunk_tokens"`
}

func applySessionDefaults(s *SessionsConfig) {
	if s.Backend == "" {
		s.Backend = BackendMemory
	}
	if s.MaxOpenConns == 0 {
		s.MaxOpenConns = 10
	}
	if s.MaxIdleConns == 0 {
		s.MaxIdleConns = 5
	}
	if s.ConnMaxLifetime == 0 {
		s.ConnMaxLifetime = 5 * time.Minute
	}
}

func applyCompactionDefaults(c *CompactionConfig) {
	if c.KeepRecent == 0 {
		c.KeepRecent = 10
	}
	if c.MaxToolResultChars == 0 {
		c.MaxToolResultChars = 8_000
	}
	if c.ChunkTokens == 0 {
		c.ChunkTokens = 4_000
	}
}
