package models

import "time"

// SessionStatus represents the lifecycle state of an automation session
type SessionStatus string

const (
	StatusActive    SessionStatus = "active"
	StatusPaused    SessionStatus = "paused"
	StatusCompleted SessionStatus = "completed"
	StatusError     SessionStatus = "error"
	StatusIdle      SessionStatus = "idle"
)

// Terminal reports whether the status admits no further transitions
func (s SessionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// Session is the authoritative record of one automation run, from task
// creation to terminal state. The session manager owns it; every other
// component reads a snapshot.
type Session struct {
	TaskID    string        `json:"taskId"`
	Status    SessionStatus `json:"status"`
	IsPaused  bool          `json:"isPaused"`
	StartedAt time.Time     `json:"startedAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

// ProcessingStatus is the fine-grained phase within a single iteration.
// It drives UI feedback and doubles as one of the completion signals; it
// has no other effect on control flow.
type ProcessingStatus string

const (
	ProcessingIdle             ProcessingStatus = "idle"
	ProcessingParsing          ProcessingStatus = "parsing"
	ProcessingUpdating         ProcessingStatus = "updating"
	ProcessingExecutingActions ProcessingStatus = "executing_actions"
	ProcessingWaitingForServer ProcessingStatus = "waiting_for_server"
	ProcessingCompleted        ProcessingStatus = "completed"
	ProcessingError            ProcessingStatus = "error"
	ProcessingPaused           ProcessingStatus = "paused"
	ProcessingStopping         ProcessingStatus = "stopping"
)

// PendingUpdateStatus tags an in-flight DOM round trip
type PendingUpdateStatus string

const (
	UpdateWaitingForServer PendingUpdateStatus = "waiting_for_server"
	UpdateCompleted        PendingUpdateStatus = "completed"
	UpdateError            PendingUpdateStatus = "error"
)

// PendingUpdate represents one DOM-to-server round trip. At most one record
// is logically current per task; the next iteration supersedes it.
type PendingUpdate struct {
	ID         string              `json:"id"`
	TaskID     string              `json:"taskId"`
	Status     PendingUpdateStatus `json:"status"`
	CreatedAt  time.Time           `json:"createdAt"`
	ResolvedAt *time.Time          `json:"resolvedAt,omitempty"`
}

// Tab is a browser content surface the agent automates against
type Tab struct {
	ID       int    `json:"id"`
	URL      string `json:"url"`
	Title    string `json:"title,omitempty"`
	Active   bool   `json:"active"`
	WindowID int    `json:"windowId,omitempty"`
}

// TaskState mirrors loop progress to durable storage so UI surfaces can
// recover it after a restart. The in-memory engine counters stay
// authoritative while the process lives.
type TaskState struct {
	TaskID           string           `json:"taskId"`
	Iterations       int              `json:"iterations"`
	ProcessingStatus ProcessingStatus `json:"processingStatus"`
	IsDone           bool             `json:"isDone"`
	UpdatedAt        time.Time        `json:"updatedAt"`
}
