package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/taskpilot/taskpilot/config"
	"go.uber.org/zap"
)

// DB wraps the sql.DB connection pool
type DB struct {
	*sql.DB
	logger *zap.Logger
}

// NewDB creates a new database connection pool
func NewDB(cfg config.DatabaseConfig, logger *zap.Logger) (*DB, error) {
	dsn := cfg.DSN()

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("database connection established",
		zap.String("connection", cfg.LogString()))

	return &DB{
		DB:     db,
		logger: logger,
	}, nil
}

// Close closes the database connection pool
func (db *DB) Close() error {
	db.logger.Info("closing database connection")
	return db.DB.Close()
}

// Ping performs a health check on the database
func (db *DB) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}

	// Check if we can query
	var result int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("database query check failed: %w", err)
	}

	return nil
}

// Stats returns database connection pool statistics
func (db *DB) Stats() sql.DBStats {
	return db.DB.Stats()
}

// InitSchema initializes the database schema. Timestamps are stored as
// unix milliseconds to match the SQLite store, so rows compare identically
// across drivers.
func (db *DB) InitSchema(ctx context.Context) error {
	schema := `
		-- Singleton fallback state document
		CREATE TABLE IF NOT EXISTS fallback_state (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			document JSONB NOT NULL,
			updated_at BIGINT NOT NULL
		);

		-- Durable task outcomes
		CREATE TABLE IF NOT EXISTS task_outcomes (
			task_id TEXT PRIMARY KEY,
			description TEXT NOT NULL,
			backend TEXT NOT NULL,
			mode TEXT NOT NULL,
			success BOOLEAN NOT NULL,
			content TEXT NOT NULL DEFAULT '',
			prompt_tokens INTEGER NOT NULL DEFAULT 0,
			completion_tokens INTEGER NOT NULL DEFAULT 0,
			cost_usd DOUBLE PRECISION NOT NULL DEFAULT 0,
			error_summary TEXT NOT NULL DEFAULT '',
			attempts INTEGER NOT NULL DEFAULT 0,
			latency_ms BIGINT NOT NULL DEFAULT 0,
			completed_at BIGINT NOT NULL,
			reported BOOLEAN NOT NULL DEFAULT FALSE,
			reported_at BIGINT
		);

		-- Indexes for the reporter and budget queries
		CREATE INDEX IF NOT EXISTS idx_task_outcomes_reported ON task_outcomes(reported);
		CREATE INDEX IF NOT EXISTS idx_task_outcomes_completed_at ON task_outcomes(completed_at);
	`

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	db.logger.Info("database schema initialized successfully")
	return nil
}
