package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/taskpilot/taskpilot/models"
	"github.com/taskpilot/taskpilot/repositories"
	"github.com/taskpilot/taskpilot/services"
)

// OutcomeStore persists task outcomes one row per task ID, implementing
// repositories.OutcomeStore.
type OutcomeStore struct {
	db     *DB
	logger *zap.Logger
}

// NewOutcomeStore creates a sqlite-backed outcome store
func NewOutcomeStore(db *DB, logger *zap.Logger) repositories.OutcomeStore {
	return &OutcomeStore{
		db:     db,
		logger: logger,
	}
}

// Append writes a completed task outcome. Task IDs are unique; writing the
// same ID twice is an error, outcomes are append-only.
func (s *OutcomeStore) Append(ctx context.Context, outcome *models.TaskOutcome) error {
	query := `
		INSERT INTO task_outcomes (
			task_id, description, backend, mode, success, content,
			prompt_tokens, completion_tokens, cost_usd, error_summary,
			attempts, latency_ms, completed_at, reported, reported_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	reportedAt := sql.NullInt64{}
	if outcome.ReportedAt != nil {
		reportedAt = sql.NullInt64{Int64: outcome.ReportedAt.UnixMilli(), Valid: true}
	}

	_, err := s.db.conn.ExecContext(ctx, query,
		outcome.TaskID,
		outcome.Description,
		outcome.Backend,
		string(outcome.Mode),
		outcome.Success,
		outcome.Content,
		outcome.PromptTokens,
		outcome.CompletionTokens,
		outcome.CostUSD,
		outcome.ErrorSummary,
		outcome.Attempts,
		outcome.LatencyMs,
		outcome.CompletedAt.UnixMilli(),
		outcome.Reported,
		reportedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append task outcome: %w", err)
	}

	s.logger.Debug("task outcome appended",
		zap.String("task_id", outcome.TaskID),
		zap.String("backend", outcome.Backend),
		zap.Bool("success", outcome.Success),
	)
	return nil
}

// GetByTaskID retrieves a single outcome by task ID
func (s *OutcomeStore) GetByTaskID(ctx context.Context, taskID string) (*models.TaskOutcome, error) {
	query := `
		SELECT task_id, description, backend, mode, success, content,
		       prompt_tokens, completion_tokens, cost_usd, error_summary,
		       attempts, latency_ms, completed_at, reported, reported_at
		FROM task_outcomes
		WHERE task_id = ?
	`

	outcome := &models.TaskOutcome{}
	var completedAt int64
	var reportedAt sql.NullInt64

	err := s.db.conn.QueryRowContext(ctx, query, taskID).Scan(
		&outcome.TaskID,
		&outcome.Description,
		&outcome.Backend,
		&outcome.Mode,
		&outcome.Success,
		&outcome.Content,
		&outcome.PromptTokens,
		&outcome.CompletionTokens,
		&outcome.CostUSD,
		&outcome.ErrorSummary,
		&outcome.Attempts,
		&outcome.LatencyMs,
		&completedAt,
		&outcome.Reported,
		&reportedAt,
	)
	if err == sql.ErrNoRows {
		return nil, services.NewDomainError(services.ErrorTypeNotFound,
			fmt.Sprintf("task outcome not found: %s", taskID), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task outcome: %w", err)
	}

	hydrateTimes(outcome, completedAt, reportedAt)
	return outcome, nil
}

// ListUnreported returns undelivered outcomes, oldest first
func (s *OutcomeStore) ListUnreported(ctx context.Context) ([]*models.TaskOutcome, error) {
	query := `
		SELECT task_id, description, backend, mode, success, content,
		       prompt_tokens, completion_tokens, cost_usd, error_summary,
		       attempts, latency_ms, completed_at, reported, reported_at
		FROM task_outcomes
		WHERE reported = 0
		ORDER BY completed_at ASC, task_id ASC
	`

	rows, err := s.db.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list unreported outcomes: %w", err)
	}
	defer rows.Close()

	var outcomes []*models.TaskOutcome
	for rows.Next() {
		outcome := &models.TaskOutcome{}
		var completedAt int64
		var reportedAt sql.NullInt64

		err := rows.Scan(
			&outcome.TaskID,
			&outcome.Description,
			&outcome.Backend,
			&outcome.Mode,
			&outcome.Success,
			&outcome.Content,
			&outcome.PromptTokens,
			&outcome.CompletionTokens,
			&outcome.CostUSD,
			&outcome.ErrorSummary,
			&outcome.Attempts,
			&outcome.LatencyMs,
			&completedAt,
			&outcome.Reported,
			&reportedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task outcome: %w", err)
		}

		hydrateTimes(outcome, completedAt, reportedAt)
		outcomes = append(outcomes, outcome)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating task outcome rows: %w", err)
	}

	return outcomes, nil
}

// MarkReported flags an outcome as delivered. Marking an already reported
// outcome refreshes its reported timestamp.
func (s *OutcomeStore) MarkReported(ctx context.Context, taskID string) error {
	query := `UPDATE task_outcomes SET reported = 1, reported_at = ? WHERE task_id = ?`

	result, err := s.db.conn.ExecContext(ctx, query, time.Now().UTC().UnixMilli(), taskID)
	if err != nil {
		return fmt.Errorf("failed to mark outcome reported: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return services.NewDomainError(services.ErrorTypeNotFound,
			fmt.Sprintf("task outcome not found: %s", taskID), nil)
	}

	s.logger.Debug("task outcome marked reported", zap.String("task_id", taskID))
	return nil
}

// CostSince sums the cost of outcomes completed at or after t
func (s *OutcomeStore) CostSince(ctx context.Context, t time.Time) (float64, error) {
	query := `SELECT COALESCE(SUM(cost_usd), 0) FROM task_outcomes WHERE completed_at >= ?`

	var total float64
	if err := s.db.conn.QueryRowContext(ctx, query, t.UnixMilli()).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to sum outcome cost: %w", err)
	}
	return total, nil
}

// CountCompleted returns the total number of recorded outcomes
func (s *OutcomeStore) CountCompleted(ctx context.Context) (int, error) {
	var count int
	if err := s.db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM task_outcomes`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count outcomes: %w", err)
	}
	return count, nil
}

// CountUnreported returns the number of undelivered outcomes
func (s *OutcomeStore) CountUnreported(ctx context.Context) (int, error) {
	var count int
	if err := s.db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM task_outcomes WHERE reported = 0`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count unreported outcomes: %w", err)
	}
	return count, nil
}

// hydrateTimes converts the stored millisecond timestamps back to time values
func hydrateTimes(outcome *models.TaskOutcome, completedAt int64, reportedAt sql.NullInt64) {
	outcome.CompletedAt = time.UnixMilli(completedAt).UTC()
	if reportedAt.Valid {
		t := time.UnixMilli(reportedAt.Int64).UTC()
		outcome.ReportedAt = &t
	}
}
