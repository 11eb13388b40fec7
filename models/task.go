package models

import (
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// TaskStatus represents the lifecycle state of a dispatched task
type TaskStatus string

const (
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusSucceeded TaskStatus = "succeeded"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusBlocked   TaskStatus = "blocked" // Held back by fallback policy, never executed
)

// TaskMode selects how a backend should treat the task
type TaskMode string

const (
	ModeChat  TaskMode = "chat"  // Plain question/answer
	ModeCode  TaskMode = "code"  // Code generation or editing
	ModeAgent TaskMode = "agent" // Multi-step agentic work
)

// Valid reports whether the mode is one of the known values
func (m TaskMode) Valid() bool {
	switch m {
	case ModeChat, ModeCode, ModeAgent:
		return true
	default:
		return false
	}
}

// NewTaskID generates a short URL-safe task identifier
func NewTaskID() string {
	id, err := gonanoid.New()
	if err != nil {
		// gonanoid only fails when the OS entropy source does; nothing
		// sensible can continue past that.
		panic(err)
	}
	return "task_" + id
}

// TaskRecord is the in-flight record of a single execution attempt. One is
// created per attempt and removed when the attempt resolves; the set of live
// records is persisted inside FallbackState.
type TaskRecord struct {
	TaskID      string     `json:"task_id" db:"task_id"`
	Description string     `json:"description" db:"description"`
	Backend     string     `json:"backend" db:"backend"`
	Mode        TaskMode   `json:"mode" db:"mode"`
	Status      TaskStatus `json:"status" db:"status"`
	StartedAt   time.Time  `json:"started_at" db:"started_at"`
}

// NewTaskRecord creates a running record for an attempt against a backend
func NewTaskRecord(taskID, description, backend string, mode TaskMode) TaskRecord {
	return TaskRecord{
		TaskID:      taskID,
		Description: description,
		Backend:     backend,
		Mode:        mode,
		Status:      TaskStatusRunning,
		StartedAt:   time.Now().UTC(),
	}
}

// TaskOutcome is the durable, append-only result record of a task. Outcomes
// are addressable by task ID and carry a reported flag so downstream
// consumers can poll exactly the records they have not yet seen.
type TaskOutcome struct {
	TaskID      string   `json:"task_id" db:"task_id"`
	Description string   `json:"description" db:"description"`
	Backend     string   `json:"backend" db:"backend"`
	Mode        TaskMode `json:"mode" db:"mode"`
	Success     bool     `json:"success" db:"success"`

	// Result payload for successes
	Content          string  `json:"content,omitempty" db:"content"`
	PromptTokens     int     `json:"prompt_tokens" db:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens" db:"completion_tokens"`
	CostUSD          float64 `json:"cost_usd" db:"cost_usd"`

	// Error summary for failures and blocks
	ErrorSummary string `json:"error_summary,omitempty" db:"error_summary"`

	Attempts    int        `json:"attempts" db:"attempts"`
	LatencyMs   int        `json:"latency_ms" db:"latency_ms"`
	CompletedAt time.Time  `json:"completed_at" db:"completed_at"`
	Reported    bool       `json:"reported" db:"reported"`
	ReportedAt  *time.Time `json:"reported_at,omitempty" db:"reported_at"`
}

// NewTaskOutcome creates an unreported outcome shell for a task. Callers fill
// in the success or failure payload before persisting it.
func NewTaskOutcome(taskID, description, backend string, mode TaskMode) *TaskOutcome {
	return &TaskOutcome{
		TaskID:      taskID,
		Description: description,
		Backend:     backend,
		Mode:        mode,
		CompletedAt: time.Now().UTC(),
	}
}

// MarkSucceeded fills the outcome with a successful result payload
func (o *TaskOutcome) MarkSucceeded(content string, promptTokens, completionTokens int, costUSD float64, latencyMs int) {
	o.Success = true
	o.Content = content
	o.PromptTokens = promptTokens
	o.CompletionTokens = completionTokens
	o.CostUSD = costUSD
	o.LatencyMs = latencyMs
	o.CompletedAt = time.Now().UTC()
}

// MarkFailed fills the outcome with a failure summary
func (o *TaskOutcome) MarkFailed(summary string) {
	o.Success = false
	o.ErrorSummary = summary
	o.CompletedAt = time.Now().UTC()
}

// MarkReported flags the outcome as consumed by a downstream reporter
func (o *TaskOutcome) MarkReported() {
	o.Reported = true
	now := time.Now().UTC()
	o.ReportedAt = &now
}

// TotalTokens is the combined prompt and completion token count
func (o *TaskOutcome) TotalTokens() int {
	return o.PromptTokens + o.CompletionTokens
}

// TableName returns the table name for the TaskOutcome model
func (TaskOutcome) TableName() string {
	return "task_outcomes"
}
