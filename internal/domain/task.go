package domain

import (
	"encoding/json"
	"time"
)

// TaskType names a unit of asynchronous work. The set is open: any type with a
// registered handler can be enqueued.
type TaskType string

const (
	TaskTypeImageGeneration TaskType = "image-generation"
	TaskTypePlanGeneration  TaskType = "plan-generation"
)

// TaskStatus enumerates task lifecycle states.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

// Terminal reports whether no further automatic transition will happen.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// InterruptedTaskMessage is recorded on tasks that were running when the
// worker process went away.
const InterruptedTaskMessage = "Task interrupted by service restart"

// Task is a queued unit of work. Output and Error are mutually exclusive.
type Task struct {
	ID          string          `json:"id"`
	Type        TaskType        `json:"type"`
	Status      TaskStatus      `json:"status"`
	Input       json.RawMessage `json:"input"`
	Output      json.RawMessage `json:"output"`
	Error       *string         `json:"error"`
	RelatedID   *string         `json:"relatedId"`
	RelatedMeta *string         `json:"relatedMeta"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// Related links a task to the business object it works for.
type Related struct {
	ID   string
	Meta string
}

// TaskFilter narrows task listings. Zero values match everything.
type TaskFilter struct {
	Status    TaskStatus
	Type      TaskType
	RelatedID string
	Limit     int
	Offset    int
}
