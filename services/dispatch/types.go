package dispatch

import (
	"time"

	"github.com/taskpilot/taskpilot/models"
	"github.com/taskpilot/taskpilot/services/backends"
)

// Request represents one task submission from a caller
type Request struct {
	// TaskID is optional; a fresh ID is generated when empty
	TaskID string `json:"task_id,omitempty"`

	// Description is the natural-language task text
	Description string `json:"description"`

	// Mode selects how backends treat the task. Empty defaults to chat.
	Mode models.TaskMode `json:"mode,omitempty"`

	// WorkingContext is optional extra material passed to the backend
	WorkingContext string `json:"working_context,omitempty"`

	// Timeout bounds each backend attempt. Zero means the configured default.
	Timeout time.Duration `json:"-"`

	// Preferences are the caller's routing hints
	Preferences models.Preferences `json:"preferences"`
}

// Attempt records a single backend try within the fallback chain
type Attempt struct {
	Backend     string `json:"backend"`
	Success     bool   `json:"success"`
	Error       string `json:"error,omitempty"`
	RateLimited bool   `json:"rate_limited,omitempty"`
	LatencyMs   int    `json:"latency_ms"`
}

// Result is the orchestrator's terminal answer for one dispatched task.
// Exactly one of three shapes comes back: blocked (no execution), success
// (Output set), or failure (Err aggregates the chain's attempt errors).
type Result struct {
	TaskID string `json:"task_id"`

	// Routed reports whether a routing decision was executed. Blocked tasks
	// are never routed.
	Routed bool `json:"routed"`

	// Blocked marks a task held back by the fallback policy. Distinct from
	// failure: zero backend calls were made and the caller must wait or act
	// manually.
	Blocked     bool   `json:"blocked,omitempty"`
	BlockReason string `json:"block_reason,omitempty"`

	// Backend is the backend that produced the result, empty when none did
	Backend string `json:"backend,omitempty"`

	Success bool `json:"success"`

	// Output holds the winning attempt's payload on success
	Output *backends.ExecuteResult `json:"output,omitempty"`

	// Decision is the scorer's verdict that seeded the attempt chain
	Decision models.RoutingDecision `json:"decision"`

	// Attempts lists every backend try in chain order
	Attempts []Attempt `json:"attempts,omitempty"`

	// Err aggregates attempt errors when the whole chain failed
	Err string `json:"error,omitempty"`

	// FallbackActive reports whether fallback routing was in effect
	FallbackActive bool `json:"fallback_active"`

	LatencyMs   int       `json:"latency_ms"`
	CompletedAt time.Time `json:"completed_at"`
}

// RouteView is the dry-run routing surface: the decision the dispatcher
// would act on right now, without executing anything.
type RouteView struct {
	Decision models.RoutingDecision `json:"decision"`

	// Counts are the classifier's per-backend pattern match counts
	Counts models.MatchCounts `json:"match_counts"`

	// AttemptPlan is the fallback chain the dispatcher would walk
	AttemptPlan []string `json:"attempt_plan"`

	FallbackActive bool `json:"fallback_active"`

	// WouldBlock reports whether the blocking policy would hold the task
	WouldBlock bool `json:"would_block"`
}

// Config holds the dispatcher execution policy
type Config struct {
	// AttemptTimeout bounds a single backend execution call
	AttemptTimeout time.Duration

	// BackendRPS and BackendBurst shape the client-side per-backend rate
	// limiter. Zero RPS disables limiting.
	BackendRPS   float64
	BackendBurst int

	// DailyBudgetUSD caps paid-backend spend over a rolling day. Zero
	// disables the budget cutoff.
	DailyBudgetUSD float64
}

// DefaultConfig returns the standard dispatch policy
func DefaultConfig() Config {
	return Config{
		AttemptTimeout: 5 * time.Minute,
		BackendRPS:     1,
		BackendBurst:   2,
	}
}
