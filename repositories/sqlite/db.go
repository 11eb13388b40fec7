package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// schema contains every table and index the orchestrator persists. Timestamps
// are stored as unix milliseconds so range queries and ordering compare as
// plain integers.
const schema = `
	-- Fallback state singleton document
	CREATE TABLE IF NOT EXISTS fallback_state (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		document TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);

	-- Task outcomes, one row per task ID
	CREATE TABLE IF NOT EXISTS task_outcomes (
		task_id TEXT PRIMARY KEY,
		description TEXT NOT NULL,
		backend TEXT NOT NULL,
		mode TEXT NOT NULL,
		success INTEGER NOT NULL,
		content TEXT NOT NULL DEFAULT '',
		prompt_tokens INTEGER NOT NULL DEFAULT 0,
		completion_tokens INTEGER NOT NULL DEFAULT 0,
		cost_usd REAL NOT NULL DEFAULT 0,
		error_summary TEXT NOT NULL DEFAULT '',
		attempts INTEGER NOT NULL DEFAULT 0,
		latency_ms INTEGER NOT NULL DEFAULT 0,
		completed_at INTEGER NOT NULL,
		reported INTEGER NOT NULL DEFAULT 0,
		reported_at INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_task_outcomes_reported ON task_outcomes(reported);
	CREATE INDEX IF NOT EXISTS idx_task_outcomes_completed_at ON task_outcomes(completed_at);
`

// DB wraps the SQLite connection shared by the process-local stores.
type DB struct {
	conn   *sql.DB
	path   string
	logger *zap.Logger
}

// Open opens or creates the orchestrator database at path. The parent
// directory is created when missing and the schema is applied.
func Open(path string, logger *zap.Logger) (*DB, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db := &DB{
		conn:   conn,
		path:   path,
		logger: logger,
	}

	if err := db.initSchema(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("sqlite store opened", zap.String("path", path))
	return db, nil
}

// OpenInMemory creates a private in-memory database, used by tests.
func OpenInMemory(logger *zap.Logger) (*DB, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	conn, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory database: %w", err)
	}

	// An in-memory database exists per connection; the pool must stay at
	// one connection or statements would land in separate empty databases.
	conn.SetMaxOpenConns(1)

	db := &DB{
		conn:   conn,
		path:   ":memory:",
		logger: logger,
	}

	if err := db.initSchema(context.Background()); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return db, nil
}

// initSchema creates the tables and indexes
func (db *DB) initSchema(ctx context.Context) error {
	_, err := db.conn.ExecContext(ctx, schema)
	return err
}

// Ping verifies the database is reachable
func (db *DB) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := db.conn.PingContext(ctx); err != nil {
		return fmt.Errorf("sqlite health check failed: %w", err)
	}
	return nil
}

// Path returns the database file path
func (db *DB) Path() string {
	return db.path
}

// Close closes the database connection
func (db *DB) Close() error {
	db.logger.Debug("closing sqlite store", zap.String("path", db.path))
	return db.conn.Close()
}
