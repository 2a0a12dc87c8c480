package schema

import (
	"encoding/json"
	"time"
)

// TaskStatus is the lifecycle state of a server-side task (draft).
type TaskStatus string

const (
	TaskStatusWorking       TaskStatus = "working"
	TaskStatusInputRequired TaskStatus = "input_required"
	TaskStatusCompleted     TaskStatus = "completed"
	TaskStatusFailed        TaskStatus = "failed"
	TaskStatusCancelled     TaskStatus = "cancelled"
)

// IsTerminal reports whether no further status changes can occur.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	}
	return false
}

// Task is a snapshot of one server-side task.
type Task struct {
	TaskID        string     `json:"taskId"`                  // Server-assigned identifier
	Status        TaskStatus `json:"status"`                  // Current lifecycle state
	StatusMessage string     `json:"statusMessage,omitempty"` // Human readable status detail
	CreatedAt     *time.Time `json:"createdAt,omitempty"`     // When the server created the task
	LastUpdatedAt *time.Time `json:"lastUpdatedAt,omitempty"` // When the status last changed
	TTL           int64      `json:"ttl,omitempty"`           // Result retention in milliseconds
	PollInterval  int64      `json:"pollInterval,omitempty"`  // Suggested poll interval in milliseconds
}

// CreateTaskResult is the immediate response to a task-augmented request.
// The actual payload is fetched later through tasks/result.
type CreateTaskResult struct {
	Meta map[string]interface{} `json:"_meta,omitempty"`
	Task Task                   `json:"task"`
}

// ListTasksRequestParams contains parameters for task listing requests.
type ListTasksRequestParams struct {
	PaginatedRequestParams // Embeds pagination cursor
}

// ListTasksResult is the response to a tasks list request.
type ListTasksResult struct {
	PaginatedResult                            // Embeds next cursor
	Meta            map[string]json.RawMessage `json:"_meta,omitempty"`
	Tasks           []Task                     `json:"tasks"`
}

type GetTaskRequestParams struct {
	TaskID string `json:"taskId"`
}

// GetTaskResult is the server's response to a tasks/get request.
type GetTaskResult struct {
	Meta map[string]interface{} `json:"_meta,omitempty"`
	Task
}

// GetTaskPayloadRequestParams contains parameters for a tasks/result request.
// The result body is the payload of the augmented request and has no fixed
// shape, so callers decode it themselves.
type GetTaskPayloadRequestParams struct {
	TaskID string `json:"taskId"`
}

type CancelTaskRequestParams struct {
	TaskID string `json:"taskId"`
}

// CancelTaskResult is the server's response to a tasks/cancel request.
type CancelTaskResult struct {
	Meta map[string]interface{} `json:"_meta,omitempty"`
	Task
}

// TaskStatusNotificationParams is the payload of notifications/tasks/status,
// a full snapshot of the task that changed.
type TaskStatusNotificationParams = Task
