package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/patvice/ruby-llm-mcp-sub002/client/handlers"
	"github.com/patvice/ruby-llm-mcp-sub002/shared"
	"github.com/patvice/ruby-llm-mcp-sub002/shared/mcp/schema"
)

// cancelledCallText is the result text a denied or timed-out approval
// produces. Hosts surface it to the model verbatim.
const cancelledCallText = "Tool call was cancelled by the client"

type toolCache struct {
	mu      sync.RWMutex
	byName  map[string]schema.Tool
	order   []string
	fetched bool
}

func newToolCache() *toolCache {
	return &toolCache{byName: make(map[string]schema.Tool)}
}

func (tc *toolCache) replace(tools []schema.Tool) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.byName = make(map[string]schema.Tool, len(tools))
	tc.order = tc.order[:0]
	for _, t := range tools {
		if _, dup := tc.byName[t.Name]; !dup {
			tc.order = append(tc.order, t.Name)
		}
		tc.byName[t.Name] = t
	}
	tc.fetched = true
}

func (tc *toolCache) reset() {
	tc.mu.Lock()
	tc.byName = make(map[string]schema.Tool)
	tc.order = nil
	tc.fetched = false
	tc.mu.Unlock()
}

func (tc *toolCache) get(name string) (schema.Tool, bool) {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	t, ok := tc.byName[name]
	return t, ok
}

func (tc *toolCache) list() ([]schema.Tool, bool) {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	if !tc.fetched {
		return nil, false
	}
	out := make([]schema.Tool, 0, len(tc.order))
	for _, name := range tc.order {
		out = append(out, tc.byName[name])
	}
	return out, true
}

// ListTools returns every tool the server offers. Pages are followed
// transparently; the result is cached until the server reports a change or
// the caller asks for a refresh.
func (c *Client) ListTools(ctx context.Context, opts ...ListOption) ([]schema.Tool, error) {
	settings := newListSettings(opts)
	if settings.cursor != nil {
		var page schema.ListToolsResult
		params := schema.ListToolsRequestParams{PaginatedRequestParams: schema.PaginatedRequestParams{Cursor: settings.cursor}}
		if err := c.callInto(ctx, "tools/list", params, &page, c.newCallSettings(settings.callOpts)); err != nil {
			return nil, err
		}
		return page.Tools, nil
	}
	if !settings.refresh {
		if cached, ok := c.tools.list(); ok {
			return cached, nil
		}
	}

	var all []schema.Tool
	var cursor *schema.Cursor
	for {
		var page schema.ListToolsResult
		params := schema.ListToolsRequestParams{PaginatedRequestParams: schema.PaginatedRequestParams{Cursor: cursor}}
		if err := c.callInto(ctx, "tools/list", params, &page, c.newCallSettings(settings.callOpts)); err != nil {
			return nil, err
		}
		all = append(all, page.Tools...)
		if page.NextCursor == nil || *page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}
	c.tools.replace(all)
	return all, nil
}

// Tool looks a tool up by name, fetching the list first if needed.
func (c *Client) Tool(ctx context.Context, name string) (schema.Tool, error) {
	if t, ok := c.tools.get(name); ok {
		return t, nil
	}
	if _, err := c.ListTools(ctx); err != nil {
		return schema.Tool{}, err
	}
	if t, ok := c.tools.get(name); ok {
		return t, nil
	}
	return schema.Tool{}, &shared.ToolNotFoundError{Name: name}
}

// CallTool invokes a tool. When an approval gate is installed the decision
// runs first; anything but an approval produces a cancelled-execution
// result without touching the wire. Server-side execution errors come back
// as values with IsError set, and structured content that violates the
// tool's declared output schema is downgraded to an execution error as
// well, keeping the server's text fallback intact.
func (c *Client) CallTool(ctx context.Context, name string, args schema.Arguments, opts ...CallOption) (*schema.CallToolResult, error) {
	tool, err := c.Tool(ctx, name)
	if err != nil {
		return nil, err
	}
	if denied, result := c.gateToolCall(ctx, name, args); denied {
		return result, nil
	}
	if args == nil {
		args = schema.Arguments{}
	}

	params := schema.CallToolRequestParams{Name: name, Arguments: args}
	var result schema.CallToolResult
	if err := c.callInto(ctx, "tools/call", params, &result, c.newCallSettings(opts)); err != nil {
		return nil, err
	}

	if len(tool.OutputSchema) > 0 && result.StructuredContent != nil {
		if verr := validateAgainstSchema(tool.OutputSchema, result.StructuredContent); verr != nil {
			c.logger.Warn("Tool returned structured content violating its output schema",
				zap.String("tool", name), zap.Error(verr))
			result.IsError = true
			result.Content = append(result.Content,
				schema.NewTextContent(fmt.Sprintf("structured content does not match output schema: %v", verr)))
		}
	}
	return &result, nil
}

// CallToolTask submits a task-augmented tool call. The server answers with
// a task handle immediately; the payload is fetched later through
// TaskResult once WaitForTask reports a terminal status.
func (c *Client) CallToolTask(ctx context.Context, name string, args schema.Arguments, ttl time.Duration, opts ...CallOption) (schema.Task, error) {
	if _, err := c.Tool(ctx, name); err != nil {
		return schema.Task{}, err
	}
	if denied, _ := c.gateToolCall(ctx, name, args); denied {
		return schema.Task{}, fmt.Errorf("tool call %q was not approved", name)
	}
	if args == nil {
		args = schema.Arguments{}
	}

	params := schema.CallToolRequestParams{Name: name, Arguments: args}
	if ttl > 0 {
		params.Task = &schema.TaskMetadata{TTL: ttl.Milliseconds()}
	} else {
		params.Task = &schema.TaskMetadata{}
	}
	var result schema.CreateTaskResult
	if err := c.callInto(ctx, "tools/call", params, &result, c.newCallSettings(opts)); err != nil {
		return schema.Task{}, err
	}
	c.taskReg.Upsert(result.Task)
	return result.Task, nil
}

// gateToolCall runs the approval pipeline. It reports whether the call was
// blocked, along with the cancelled-execution result to hand the caller.
// Deferred decisions block on the approval registry with the handler's
// timeout; fail-closed means any non-approval outcome blocks the call.
func (c *Client) gateToolCall(ctx context.Context, name string, args schema.Arguments) (bool, *schema.CallToolResult) {
	if c.toolApproval == nil {
		return false, nil
	}
	req := handlers.Request{Method: "tools/call", Name: name, Arguments: args}
	decision := handlers.Normalize(c.toolApproval.Execute(ctx, req))

	if id, timeout, ok := decision.Deferred(); ok {
		decision = c.approvals.Wait(ctx, id, timeout)
	}
	if decision.Approved() {
		return false, nil
	}
	reason := decision.Reason()
	c.logger.Info("Tool call blocked by approval gate",
		zap.String("tool", name), zap.String("reason", reason))
	return true, &schema.CallToolResult{
		IsError: true,
		Content: []schema.Content{schema.NewTextContent(cancelledCallText)},
	}
}
