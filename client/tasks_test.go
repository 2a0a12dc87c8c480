package client_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patvice/ruby-llm-mcp-sub002/client"
	"github.com/patvice/ruby-llm-mcp-sub002/shared"
	"github.com/patvice/ruby-llm-mcp-sub002/shared/mcp/schema"
)

func taskAt(id string, status schema.TaskStatus, updated time.Time) schema.Task {
	return schema.Task{TaskID: id, Status: status, LastUpdatedAt: &updated}
}

func TestTaskRegistryNewerSnapshotWins(t *testing.T) {
	base := time.Now().UTC()
	later := base.Add(time.Second)

	t.Run("newer replaces older", func(t *testing.T) {
		reg := client.NewTaskRegistry()
		require.True(t, reg.Upsert(taskAt("t1", schema.TaskStatusWorking, base)))
		require.True(t, reg.Upsert(taskAt("t1", schema.TaskStatusCompleted, later)))

		got, ok := reg.Get("t1")
		require.True(t, ok)
		assert.Equal(t, schema.TaskStatusCompleted, got.Status)
	})

	t.Run("older arrival cannot roll back", func(t *testing.T) {
		reg := client.NewTaskRegistry()
		require.True(t, reg.Upsert(taskAt("t1", schema.TaskStatusCompleted, later)))
		assert.False(t, reg.Upsert(taskAt("t1", schema.TaskStatusWorking, base)))

		got, _ := reg.Get("t1")
		assert.Equal(t, schema.TaskStatusCompleted, got.Status)
	})

	t.Run("equal timestamps keep the stored record", func(t *testing.T) {
		reg := client.NewTaskRegistry()
		require.True(t, reg.Upsert(taskAt("t1", schema.TaskStatusCompleted, base)))
		assert.False(t, reg.Upsert(taskAt("t1", schema.TaskStatusWorking, base)))

		got, _ := reg.Get("t1")
		assert.Equal(t, schema.TaskStatusCompleted, got.Status)
	})

	t.Run("a snapshot without a timestamp never wins", func(t *testing.T) {
		reg := client.NewTaskRegistry()
		require.True(t, reg.Upsert(taskAt("t1", schema.TaskStatusWorking, base)))
		assert.False(t, reg.Upsert(schema.Task{TaskID: "t1", Status: schema.TaskStatusFailed}))

		got, _ := reg.Get("t1")
		assert.Equal(t, schema.TaskStatusWorking, got.Status)
	})

	t.Run("a timestamp beats an undated record", func(t *testing.T) {
		reg := client.NewTaskRegistry()
		require.True(t, reg.Upsert(schema.Task{TaskID: "t1", Status: schema.TaskStatusWorking}))
		require.True(t, reg.Upsert(taskAt("t1", schema.TaskStatusCompleted, base)))

		got, _ := reg.Get("t1")
		assert.Equal(t, schema.TaskStatusCompleted, got.Status)
	})

	t.Run("blank ids are ignored", func(t *testing.T) {
		reg := client.NewTaskRegistry()
		assert.False(t, reg.Upsert(schema.Task{Status: schema.TaskStatusWorking}))
		assert.Empty(t, reg.List())
	})
}

func TestTaskRegistryCancel(t *testing.T) {
	t.Run("synthesizes a record for unknown ids", func(t *testing.T) {
		reg := client.NewTaskRegistry()
		got := reg.Cancel("never-seen")
		assert.Equal(t, "never-seen", got.TaskID)
		assert.Equal(t, schema.TaskStatusCancelled, got.Status)
		require.NotNil(t, got.LastUpdatedAt)

		stored, ok := reg.Get("never-seen")
		require.True(t, ok)
		assert.Equal(t, schema.TaskStatusCancelled, stored.Status)
	})

	t.Run("leaves terminal tasks untouched", func(t *testing.T) {
		reg := client.NewTaskRegistry()
		reg.Upsert(taskAt("done", schema.TaskStatusCompleted, time.Now()))

		got := reg.Cancel("done")
		assert.Equal(t, schema.TaskStatusCompleted, got.Status, "completion is final")
	})
}

func TestTaskRegistryEvictsExpiredResults(t *testing.T) {
	reg := client.NewTaskRegistry()
	stale := time.Now().Add(-time.Hour)

	expired := taskAt("expired", schema.TaskStatusCompleted, stale)
	expired.TTL = 1000
	reg.Upsert(expired)

	running := taskAt("running", schema.TaskStatusWorking, stale)
	running.TTL = 1000
	reg.Upsert(running)

	pinned := taskAt("pinned", schema.TaskStatusCompleted, stale)
	reg.Upsert(pinned)

	ids := make([]string, 0, 3)
	for _, task := range reg.List() {
		ids = append(ids, task.TaskID)
	}
	assert.Equal(t, []string{"pinned", "running"}, ids,
		"only terminal records with a lapsed retention window are dropped")
}

func TestListTasksMergesIntoRegistry(t *testing.T) {
	now := time.Now().UTC()
	c, ft := newTestClient(t)
	ft.stub("tasks/list", func(msg *shared.Message) *shared.Message {
		var params schema.ListTasksRequestParams
		decodeRequestParams(t, msg, &params)

		var result schema.ListTasksResult
		if params.Cursor == nil {
			next := schema.Cursor("more")
			result.Tasks = []schema.Task{taskAt("t1", schema.TaskStatusWorking, now)}
			result.NextCursor = &next
		} else {
			result.Tasks = []schema.Task{taskAt("t2", schema.TaskStatusCompleted, now)}
		}
		resp, _ := shared.NewResponse(msg.ID, result)
		return resp
	})
	startClient(t, c)

	tasks, err := c.ListTasks(context.Background())
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Len(t, ft.requests("tasks/list"), 2)

	_, ok := c.Tasks().Get("t2")
	assert.True(t, ok, "list responses feed the registry")
}

func TestGetTaskPrefersNewerRegistrySnapshot(t *testing.T) {
	base := time.Now().UTC()
	c, ft := newTestClient(t)
	ft.stubResult("tasks/get", schema.GetTaskResult{
		Task: taskAt("t1", schema.TaskStatusWorking, base),
	})
	startClient(t, c)

	// A status notification lands before the poll response is processed.
	ft.deliver(serverNotification(t, "notifications/tasks/status",
		taskAt("t1", schema.TaskStatusCompleted, base.Add(time.Second))))
	require.Eventually(t, func() bool {
		task, ok := c.Tasks().Get("t1")
		return ok && task.Status == schema.TaskStatusCompleted
	}, 2*time.Second, 5*time.Millisecond)

	got, err := c.GetTask(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, schema.TaskStatusCompleted, got.Status,
		"a stale poll must not undo a newer notification")
}

func TestWaitForTaskShortCircuitsOnNotification(t *testing.T) {
	base := time.Now().UTC()
	c, ft := newTestClient(t)
	working := taskAt("t1", schema.TaskStatusWorking, base)
	working.PollInterval = 50
	ft.stubResult("tasks/get", schema.GetTaskResult{Task: working})
	startClient(t, c)

	go func() {
		// Hand the terminal state over while WaitForTask sleeps off its
		// first poll.
		time.Sleep(50 * time.Millisecond)
		ft.deliver(serverNotification(t, "notifications/tasks/status",
			taskAt("t1", schema.TaskStatusCompleted, base.Add(time.Second))))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	task, err := c.WaitForTask(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, schema.TaskStatusCompleted, task.Status)
	assert.Len(t, ft.requests("tasks/get"), 1,
		"the registry satisfies the second round without touching the wire")
}

func TestWaitForTaskKeepsPollingThroughInputRequired(t *testing.T) {
	base := time.Now().UTC()
	c, ft := newTestClient(t)

	var polls int
	ft.stub("tasks/get", func(msg *shared.Message) *shared.Message {
		polls++
		status := schema.TaskStatusInputRequired
		updated := base.Add(time.Duration(polls) * time.Second)
		if polls >= 2 {
			status = schema.TaskStatusCompleted
		}
		resp, _ := shared.NewResponse(msg.ID, schema.GetTaskResult{Task: taskAt("t1", status, updated)})
		return resp
	})
	startClient(t, c)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	task, err := c.WaitForTask(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, schema.TaskStatusCompleted, task.Status)
	assert.Len(t, ft.requests("tasks/get"), 2, "input_required is not terminal")
}

func TestCancelTask(t *testing.T) {
	now := time.Now().UTC()
	c, ft := newTestClient(t)
	ft.stubResult("tasks/cancel", schema.CancelTaskResult{
		Task: taskAt("t1", schema.TaskStatusCancelled, now),
	})
	startClient(t, c)

	task, err := c.CancelTask(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, schema.TaskStatusCancelled, task.Status)

	reqs := ft.requests("tasks/cancel")
	require.Len(t, reqs, 1)
	var params schema.CancelTaskRequestParams
	decodeRequestParams(t, reqs[0], &params)
	assert.Equal(t, "t1", params.TaskID)

	stored, ok := c.Tasks().Get("t1")
	require.True(t, ok)
	assert.Equal(t, schema.TaskStatusCancelled, stored.Status)
}

func TestTaskResultReturnsRawPayload(t *testing.T) {
	c, ft := newTestClient(t)
	ft.stubResult("tasks/result", schema.CallToolResult{
		Content: []schema.Content{schema.NewTextContent("indexed 814 files")},
	})
	startClient(t, c)

	raw, err := c.TaskResult(context.Background(), "t1")
	require.NoError(t, err)
	assert.Contains(t, string(raw), "indexed 814 files",
		"the payload shape depends on the augmented request, callers decode it")

	reqs := ft.requests("tasks/result")
	require.Len(t, reqs, 1)
	var params schema.GetTaskPayloadRequestParams
	decodeRequestParams(t, reqs[0], &params)
	assert.Equal(t, "t1", params.TaskID)
}
