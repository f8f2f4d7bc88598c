// Package task defines the resolved, executable representation of what
// action a request asks for, and persists tasks with their status
// transitions for later querying by trace identifier.
package task

import "time"

// Task statuses. A task is created pending, moves to completed or failed
// after dispatch, or to blocked when enforcement vetoes it before dispatch.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusBlocked   = "blocked"
)

// Result statuses for one execution dispatch.
const (
	ResultSuccess = "success"
	ResultError   = "error"
)

// Task is one resolved intent. Parameters are task-type specific (recipient,
// subject, body, schedule time).
type Task struct {
	TraceID    string            `json:"trace_id"`
	TaskType   string            `json:"task_type"`
	Parameters map[string]string `json:"parameters,omitempty"`
	Status     string            `json:"status"`
	Execution  *Result           `json:"execution,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// Result is the normalized outcome of one execution dispatch. Attached to
// the task by the dispatcher and never modified afterwards.
type Result struct {
	Status         string    `json:"status"`
	ProviderMethod string    `json:"provider_method"`
	Detail         string    `json:"detail,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}
