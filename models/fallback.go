package models

import "time"

// Fallback reasons recorded on the state when the orchestrator leaves
// normal operation.
const (
	FallbackReasonRateLimit = "rate-limit"
	FallbackReasonBudget    = "budget-exhausted"
	FallbackReasonManual    = "manual"
)

// FallbackState is the singleton operating state of the orchestrator. It is
// persisted as one document and mutated only under the fallback manager's
// lock. Completed task outcomes live in the outcome store, not here.
type FallbackState struct {
	Enabled bool   `json:"enabled"`
	Reason  string `json:"reason,omitempty"`

	// RateLimitUntil is the cooldown horizon. A horizon in the past means
	// the state reads as normal again; expiry happens lazily on read, never
	// on a timer.
	RateLimitUntil *time.Time `json:"rate_limit_until,omitempty"`

	// ActiveTasks holds the in-flight task records keyed by task ID.
	ActiveTasks map[string]TaskRecord `json:"active_tasks"`

	UpdatedAt time.Time `json:"updated_at"`
}

// NewFallbackState returns the pristine normal-mode state
func NewFallbackState() *FallbackState {
	return &FallbackState{
		ActiveTasks: make(map[string]TaskRecord),
		UpdatedAt:   time.Now().UTC(),
	}
}

// ExpireIfDue clears the fallback flags when the cooldown horizon has
// passed. It reports whether the state changed so callers know to persist.
func (s *FallbackState) ExpireIfDue(now time.Time) bool {
	if !s.Enabled || s.RateLimitUntil == nil {
		return false
	}
	if now.Before(*s.RateLimitUntil) {
		return false
	}
	s.Enabled = false
	s.Reason = ""
	s.RateLimitUntil = nil
	s.UpdatedAt = now.UTC()
	return true
}

// Enter puts the state into fallback with the given reason and optional
// cooldown horizon.
func (s *FallbackState) Enter(reason string, until *time.Time, now time.Time) {
	s.Enabled = true
	s.Reason = reason
	s.RateLimitUntil = until
	s.UpdatedAt = now.UTC()
}

// Clear returns the state to normal operation
func (s *FallbackState) Clear(now time.Time) {
	s.Enabled = false
	s.Reason = ""
	s.RateLimitUntil = nil
	s.UpdatedAt = now.UTC()
}

// CooldownRemaining is the time left until automatic recovery, zero when no
// horizon is set or it has already passed.
func (s *FallbackState) CooldownRemaining(now time.Time) time.Duration {
	if s.RateLimitUntil == nil {
		return 0
	}
	d := s.RateLimitUntil.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// StatusSummary is the read-only view of orchestrator state exposed by the
// status surface.
type StatusSummary struct {
	FallbackEnabled   bool       `json:"fallback_enabled"`
	Reason            string     `json:"reason,omitempty"`
	RateLimitUntil    *time.Time `json:"rate_limit_until,omitempty"`
	CooldownRemaining string     `json:"cooldown_remaining,omitempty"`
	ActiveTasks       int        `json:"active_tasks"`
	CompletedTasks    int        `json:"completed_tasks"`
	UnreportedTasks   int        `json:"unreported_tasks"`
	UpdatedAt         time.Time  `json:"updated_at"`
}
