package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/taskpilot/taskpilot/models"
	"github.com/taskpilot/taskpilot/repositories"
)

// StateStore persists the singleton fallback state as a JSONB document in
// a single-row table.
type StateStore struct {
	db     *DB
	logger *zap.Logger
}

// NewStateStore creates a PostgreSQL-backed fallback state store
func NewStateStore(db *DB, logger *zap.Logger) repositories.StateStore {
	return &StateStore{
		db:     db,
		logger: logger,
	}
}

// Load retrieves the current fallback state. A missing row means the
// orchestrator has never entered fallback, so a pristine state is returned.
func (s *StateStore) Load(ctx context.Context) (*models.FallbackState, error) {
	query := `SELECT document FROM fallback_state WHERE id = 1`

	var document []byte
	err := s.db.QueryRowContext(ctx, query).Scan(&document)
	if err == sql.ErrNoRows {
		return models.NewFallbackState(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load fallback state: %w", err)
	}

	var state models.FallbackState
	if err := json.Unmarshal(document, &state); err != nil {
		return nil, fmt.Errorf("failed to decode fallback state: %w", err)
	}
	if state.ActiveTasks == nil {
		state.ActiveTasks = make(map[string]models.TaskRecord)
	}

	return &state, nil
}

// Save replaces the persisted fallback state
func (s *StateStore) Save(ctx context.Context, state *models.FallbackState) error {
	document, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode fallback state: %w", err)
	}

	query := `
		INSERT INTO fallback_state (id, document, updated_at)
		VALUES (1, $1, $2)
		ON CONFLICT (id) DO UPDATE SET
			document = EXCLUDED.document,
			updated_at = EXCLUDED.updated_at`

	// lib/pq sends []byte as bytea, which a JSONB column rejects
	_, err = s.db.ExecContext(ctx, query, string(document), time.Now().UTC().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to save fallback state: %w", err)
	}

	s.logger.Debug("fallback state saved",
		zap.Bool("enabled", state.Enabled),
		zap.String("reason", state.Reason),
		zap.Int("active_tasks", len(state.ActiveTasks)))

	return nil
}
