package client

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/patvice/ruby-llm-mcp-sub002/shared/mcp/schema"
)

// taskPollFloor is the minimum sleep between task refreshes, applied even
// when the server suggests a shorter pollInterval.
const taskPollFloor = 250 * time.Millisecond

// TaskRegistry tracks server-side task snapshots by taskId. It is fed from
// tasks/get and tasks/list responses and from notifications/tasks/status;
// whichever snapshot carries the newer lastUpdatedAt wins, with ties kept
// on the existing record so a racing notification cannot roll a task back.
type TaskRegistry struct {
	mu    sync.Mutex
	tasks map[string]schema.Task
}

func NewTaskRegistry() *TaskRegistry {
	return &TaskRegistry{tasks: make(map[string]schema.Task)}
}

// Upsert merges one snapshot and reports whether it replaced the stored
// record.
func (r *TaskRegistry) Upsert(task schema.Task) bool {
	if task.TaskID == "" {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweepLocked(time.Now())

	existing, ok := r.tasks[task.TaskID]
	if ok && !newerThan(task.LastUpdatedAt, existing.LastUpdatedAt) {
		return false
	}
	r.tasks[task.TaskID] = task
	return true
}

// newerThan reports whether a is strictly newer than b. A missing timestamp
// never wins against a present one.
func newerThan(a, b *time.Time) bool {
	switch {
	case a == nil:
		return false
	case b == nil:
		return true
	default:
		return a.After(*b)
	}
}

// Get returns the stored snapshot for a task id.
func (r *TaskRegistry) Get(id string) (schema.Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	return t, ok
}

// List returns every tracked task ordered by id.
func (r *TaskRegistry) List() []schema.Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweepLocked(time.Now())
	out := make([]schema.Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TaskID < out[j].TaskID })
	return out
}

// Cancel marks a task cancelled. Unknown ids get a synthesized cancelled
// record, matching server-side cancel semantics.
func (r *TaskRegistry) Cancel(id string) schema.Task {
	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()

	task, ok := r.tasks[id]
	if !ok {
		task = schema.Task{TaskID: id}
	}
	if !task.Status.IsTerminal() {
		task.Status = schema.TaskStatusCancelled
		task.LastUpdatedAt = &now
	}
	r.tasks[id] = task
	return task
}

// sweepLocked drops terminal records whose TTL has lapsed. Eviction is
// opportunistic; correctness never depends on it.
func (r *TaskRegistry) sweepLocked(now time.Time) {
	for id, t := range r.tasks {
		if t.TTL <= 0 || !t.Status.IsTerminal() || t.LastUpdatedAt == nil {
			continue
		}
		if now.Sub(*t.LastUpdatedAt) > time.Duration(t.TTL)*time.Millisecond {
			delete(r.tasks, id)
		}
	}
}

// ListTasks fetches the server's task list, merging every snapshot into the
// registry.
func (c *Client) ListTasks(ctx context.Context, opts ...ListOption) ([]schema.Task, error) {
	settings := newListSettings(opts)
	var all []schema.Task
	cursor := settings.cursor
	for {
		var page schema.ListTasksResult
		params := schema.ListTasksRequestParams{PaginatedRequestParams: schema.PaginatedRequestParams{Cursor: cursor}}
		if err := c.callInto(ctx, "tasks/list", params, &page, c.newCallSettings(settings.callOpts)); err != nil {
			return nil, err
		}
		for _, t := range page.Tasks {
			c.taskReg.Upsert(t)
		}
		all = append(all, page.Tasks...)
		if settings.cursor != nil {
			// Caller drives pagination; hand back the single page.
			return all, nil
		}
		if page.NextCursor == nil || *page.NextCursor == "" {
			return all, nil
		}
		cursor = page.NextCursor
	}
}

// GetTask refreshes one task from the server. The returned snapshot is the
// registry's merged view, so a newer status notification is never undone by
// a stale poll response.
func (c *Client) GetTask(ctx context.Context, id string, opts ...CallOption) (schema.Task, error) {
	var result schema.GetTaskResult
	params := schema.GetTaskRequestParams{TaskID: id}
	if err := c.callInto(ctx, "tasks/get", params, &result, c.newCallSettings(opts)); err != nil {
		return schema.Task{}, err
	}
	c.taskReg.Upsert(result.Task)
	if merged, ok := c.taskReg.Get(id); ok {
		return merged, nil
	}
	return result.Task, nil
}

// TaskResult fetches the payload of a finished task. The shape depends on
// the augmented request, so the raw result is returned for the caller to
// decode.
func (c *Client) TaskResult(ctx context.Context, id string, opts ...CallOption) (json.RawMessage, error) {
	params := schema.GetTaskPayloadRequestParams{TaskID: id}
	raw, err := c.call(ctx, "tasks/result", params, c.newCallSettings(opts))
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	return *raw, nil
}

// CancelTask asks the server to cancel a task and merges the resulting
// snapshot.
func (c *Client) CancelTask(ctx context.Context, id string, opts ...CallOption) (schema.Task, error) {
	var result schema.CancelTaskResult
	params := schema.CancelTaskRequestParams{TaskID: id}
	if err := c.callInto(ctx, "tasks/cancel", params, &result, c.newCallSettings(opts)); err != nil {
		return schema.Task{}, err
	}
	c.taskReg.Upsert(result.Task)
	return result.Task, nil
}

// WaitForTask polls until the task reaches a terminal status. The registry
// is consulted before every round trip, so a status notification that
// already delivered the terminal state short-circuits the next poll. The
// sleep honors the server's suggested pollInterval with a 250 ms floor.
// input_required is not terminal; polling continues through it.
func (c *Client) WaitForTask(ctx context.Context, id string, opts ...CallOption) (schema.Task, error) {
	for {
		if task, ok := c.taskReg.Get(id); ok && task.Status.IsTerminal() {
			return task, nil
		}

		task, err := c.GetTask(ctx, id, opts...)
		if err != nil {
			return schema.Task{}, err
		}
		if task.Status.IsTerminal() {
			return task, nil
		}

		interval := taskPollFloor
		if task.PollInterval > 0 {
			if suggested := time.Duration(task.PollInterval) * time.Millisecond; suggested > interval {
				interval = suggested
			}
		}
		select {
		case <-time.After(interval):
		case <-ctx.Done():
			return schema.Task{}, ctx.Err()
		}
	}
}
