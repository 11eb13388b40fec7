package repositories

import (
	"context"
	"time"

	"github.com/taskpilot/taskpilot/models"
)

// StateStore persists the singleton fallback state as one logical document.
type StateStore interface {
	// Load retrieves the current fallback state. A store with no saved
	// state returns a pristine normal-mode state, not an error.
	Load(ctx context.Context) (*models.FallbackState, error)

	// Save replaces the persisted fallback state.
	Save(ctx context.Context, state *models.FallbackState) error
}

// OutcomeStore is the durable, append-only record of task outcomes. Outcomes
// are individually addressable by task ID so a reporting process can mark
// them delivered exactly once across restarts.
type OutcomeStore interface {
	// Append writes a completed task outcome. Outcomes are immutable after
	// the write except for the reported flag.
	Append(ctx context.Context, outcome *models.TaskOutcome) error

	// GetByTaskID retrieves a single outcome by task ID
	GetByTaskID(ctx context.Context, taskID string) (*models.TaskOutcome, error)

	// ListUnreported returns outcomes not yet delivered to the caller,
	// oldest first
	ListUnreported(ctx context.Context) ([]*models.TaskOutcome, error)

	// MarkReported flags an outcome as delivered
	MarkReported(ctx context.Context, taskID string) error

	// CostSince sums the cost of outcomes completed at or after t
	CostSince(ctx context.Context, t time.Time) (float64, error)

	// CountCompleted returns the total number of recorded outcomes
	CountCompleted(ctx context.Context) (int, error)

	// CountUnreported returns the number of undelivered outcomes
	CountUnreported(ctx context.Context) (int, error)
}

// Pinger verifies connectivity to the backing store.
type Pinger interface {
	// Ping checks that the store is reachable
	Ping(ctx context.Context) error
}

// Stores aggregates the persistence interfaces plus the health probe.
type Stores struct {
	State    StateStore
	Outcomes OutcomeStore
	Pinger   Pinger
}
