package backends

import (
	"context"
	"time"

	"github.com/taskpilot/taskpilot/models"
)

// Backend is the uniform execution contract every backend adapter satisfies.
// Adapters translate the orchestrator's request into whatever transport the
// backend speaks; callers never see transport details.
type Backend interface {
	// ID returns the registry identifier (e.g., "reasoning", "agentcli")
	ID() string

	// Execute runs one task attempt. Failures come back as *BackendError so
	// the dispatcher can read retryability and rate-limit signals.
	//
	// Failed attempts are retried against other backends without rolling
	// back anything this call already did, so execution must be idempotent
	// or side-effect-free. Backends that cannot promise that must not sit
	// in automatic fallback chains.
	Execute(ctx context.Context, req *ExecuteRequest) (*ExecuteResult, error)

	// IsAvailable checks whether the backend can currently take work
	IsAvailable(ctx context.Context) bool
}

// ExecuteRequest is a single task attempt handed to a backend
type ExecuteRequest struct {
	// TaskID identifies the attempt in logs and records
	TaskID string `json:"task_id"`

	// Description is the natural-language task text
	Description string `json:"description"`

	// Mode selects how the backend should treat the task
	Mode models.TaskMode `json:"mode"`

	// WorkingContext is optional extra material (file contents, prior
	// output) the backend may use.
	WorkingContext string `json:"working_context,omitempty"`

	// Timeout bounds the attempt. Zero means the adapter default.
	Timeout time.Duration `json:"-"`
}

// ExecuteResult is the payload of a successful attempt
type ExecuteResult struct {
	Backend          string        `json:"backend"`
	Content          string        `json:"content"`
	PromptTokens     int           `json:"prompt_tokens"`
	CompletionTokens int           `json:"completion_tokens"`
	CostUSD          float64       `json:"cost_usd"`
	Latency          time.Duration `json:"latency"`
}

// TotalTokens is the combined prompt and completion token count
func (r *ExecuteResult) TotalTokens() int {
	return r.PromptTokens + r.CompletionTokens
}

// BackendError represents an error from a backend adapter
type BackendError struct {
	// Backend that generated the error
	Backend string

	// Code is the adapter-specific error code
	Code string

	// Message is the error message
	Message string

	// StatusCode is the HTTP status code (if applicable)
	StatusCode int

	// Retryable indicates the same request may succeed elsewhere or later
	Retryable bool

	// RateLimited marks quota or rate-limit rejections; the dispatcher
	// turns these into a fallback transition.
	RateLimited bool

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface
func (e *BackendError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap implements error unwrapping
func (e *BackendError) Unwrap() error {
	return e.Cause
}

// NewBackendError creates a new backend error
func NewBackendError(backend, code, message string, statusCode int, retryable bool, cause error) *BackendError {
	return &BackendError{
		Backend:    backend,
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
		Retryable:  retryable,
		Cause:      cause,
	}
}

// NewRateLimitError creates a backend error flagged as a rate-limit rejection
func NewRateLimitError(backend, message string, statusCode int, cause error) *BackendError {
	return &BackendError{
		Backend:     backend,
		Code:        "rate_limited",
		Message:     message,
		StatusCode:  statusCode,
		Retryable:   true,
		RateLimited: true,
		Cause:       cause,
	}
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	if backendErr, ok := err.(*BackendError); ok {
		return backendErr.Retryable
	}
	return false
}

// IsRateLimited checks if an error carries a structured rate-limit signal
func IsRateLimited(err error) bool {
	if backendErr, ok := err.(*BackendError); ok {
		return backendErr.RateLimited
	}
	return false
}
