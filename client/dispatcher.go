package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/patvice/ruby-llm-mcp-sub002/shared"
	"github.com/patvice/ruby-llm-mcp-sub002/shared/mcp/schema"
)

// Inbound request throttle. Servers drive this channel, so the ceiling is
// generous; it exists to stop a misbehaving server from saturating the
// client with sampling or elicitation rounds.
const (
	inboundRPS   = 50
	inboundBurst = 100
)

// dispatcher executes server-to-client requests. Every request runs in its
// own worker with a cancellable context; a notifications/cancelled naming
// its id terminates the worker and suppresses the response.
type dispatcher struct {
	client  *Client
	logger  *zap.Logger
	limiter *rate.Limiter

	mu      sync.Mutex
	running map[string]context.CancelFunc
	wg      sync.WaitGroup
}

func newDispatcher(c *Client) *dispatcher {
	return &dispatcher{
		client:  c,
		logger:  c.logger.With(zap.String("component", "dispatcher")),
		limiter: rate.NewLimiter(rate.Limit(inboundRPS), inboundBurst),
		running: make(map[string]context.CancelFunc),
	}
}

// Dispatch starts a worker for one inbound request. It never blocks the
// receive loop.
func (d *dispatcher) Dispatch(msg *shared.Message) {
	method := shared.NilIfNil(msg.Method)
	logger := d.logger.With(
		zap.String("method", method),
		zap.String("request_id", msg.ID.String()))

	if !d.limiter.Allow() {
		logger.Warn("Inbound request throttled")
		d.respond(shared.NewErrorResponse(msg.ID, &shared.JSONRPCError{
			Code:    shared.JSONRPCErrorServerError,
			Message: "rate limit exceeded",
		}))
		return
	}

	base := d.client.runCtx
	if base == nil {
		base = context.Background()
	}
	ctx, cancel := context.WithCancel(base)
	key := msg.ID.Key()

	d.mu.Lock()
	d.running[key] = cancel
	d.mu.Unlock()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			cancel()
			d.mu.Lock()
			delete(d.running, key)
			d.mu.Unlock()
		}()
		d.serve(ctx, msg, method, logger)
	}()
}

// cancelInbound terminates the worker handling the given request id. The
// worker exits without answering.
func (d *dispatcher) cancelInbound(id schema.RequestID) {
	d.mu.Lock()
	cancel := d.running[id.Key()]
	d.mu.Unlock()
	if cancel != nil {
		d.logger.Debug("Cancelling inbound request on server demand",
			zap.String("request_id", id.String()))
		cancel()
	}
}

// wait blocks until all in-flight workers finished.
func (d *dispatcher) wait() { d.wg.Wait() }

func (d *dispatcher) serve(ctx context.Context, msg *shared.Message, method string, logger *zap.Logger) {
	result, rpcErr := d.invoke(ctx, msg, method, logger)

	// A cancelled worker stays silent, whether the peer asked for it or
	// the client is shutting down.
	if ctx.Err() != nil {
		logger.Debug("Inbound request cancelled, response suppressed")
		return
	}

	if rpcErr != nil {
		d.respond(shared.NewErrorResponse(msg.ID, rpcErr))
		return
	}
	resp, err := shared.NewResponse(msg.ID, result)
	if err != nil {
		logger.Error("Failed to encode response", zap.Error(err))
		d.respond(shared.NewErrorResponse(msg.ID, shared.NewJSONRPCError(err)))
		return
	}
	d.respond(resp)
}

// invoke routes the request and absorbs handler panics into -32603.
func (d *dispatcher) invoke(ctx context.Context, msg *shared.Message, method string, logger *zap.Logger) (result interface{}, rpcErr *shared.JSONRPCError) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Handler panicked", zap.Any("panic", r))
			result = nil
			rpcErr = &shared.JSONRPCError{
				Code:    shared.JSONRPCErrorInternal,
				Message: fmt.Sprintf("internal error: %v", r),
			}
		}
	}()

	switch method {
	case "ping":
		return struct{}{}, nil
	case "roots/list":
		return d.client.roots.listResult(), nil
	case "sampling/createMessage":
		return d.client.handleSampling(ctx, msg.Params)
	case "elicitation/create":
		return d.client.handleElicitation(ctx, msg.Params)
	case "logging/setLevel":
		return d.client.handleSetLevel(msg.Params)
	case "tasks/list":
		return d.serveTaskList(msg.Params)
	case "tasks/get":
		return d.serveTaskGet(msg.Params)
	case "tasks/result":
		return d.serveTaskResult(msg.Params)
	case "tasks/cancel":
		return d.serveTaskCancel(msg.Params)
	default:
		logger.Debug("Unknown server request method")
		return nil, shared.NewMethodNotFoundError(method)
	}
}

func (d *dispatcher) respond(msg *shared.Message) {
	base := d.client.runCtx
	if base == nil {
		base = context.Background()
	}
	ctx, cancel := context.WithTimeout(base, 10*time.Second)
	defer cancel()
	if err := d.client.transport.Send(ctx, msg); err != nil {
		d.logger.Warn("Failed to send response to server request",
			zap.String("request_id", msg.ID.String()), zap.Error(err))
	}
}

func (d *dispatcher) serveTaskList(params *json.RawMessage) (interface{}, *shared.JSONRPCError) {
	// The registry is small; pagination cursors are accepted and ignored.
	return schema.ListTasksResult{Tasks: d.client.taskReg.List()}, nil
}

func (d *dispatcher) serveTaskGet(params *json.RawMessage) (interface{}, *shared.JSONRPCError) {
	var req schema.GetTaskRequestParams
	if err := decodeParams(params, &req); err != nil {
		return nil, shared.NewInvalidParamsError(err)
	}
	task, ok := d.client.taskReg.Get(req.TaskID)
	if !ok {
		return nil, shared.NewInvalidParamsError(fmt.Errorf("unknown task %q", req.TaskID))
	}
	return schema.GetTaskResult{Task: task}, nil
}

func (d *dispatcher) serveTaskResult(params *json.RawMessage) (interface{}, *shared.JSONRPCError) {
	var req schema.GetTaskPayloadRequestParams
	if err := decodeParams(params, &req); err != nil {
		return nil, shared.NewInvalidParamsError(err)
	}
	// The registry holds status snapshots, not payloads; results live with
	// the server that ran the task.
	return nil, shared.NewInvalidParamsError(fmt.Errorf("no result recorded for task %q", req.TaskID))
}

func (d *dispatcher) serveTaskCancel(params *json.RawMessage) (interface{}, *shared.JSONRPCError) {
	var req schema.CancelTaskRequestParams
	if err := decodeParams(params, &req); err != nil {
		return nil, shared.NewInvalidParamsError(err)
	}
	return schema.CancelTaskResult{Task: d.client.taskReg.Cancel(req.TaskID)}, nil
}

// handleSetLevel updates the level filter applied to notifications/message
// before they reach the user callback.
func (c *Client) handleSetLevel(params *json.RawMessage) (interface{}, *shared.JSONRPCError) {
	var req schema.SetLevelRequestParams
	if err := decodeParams(params, &req); err != nil {
		return nil, shared.NewInvalidParamsError(err)
	}
	if !req.Level.IsValid() {
		return nil, shared.NewInvalidParamsError(fmt.Errorf("unknown logging level %q", req.Level))
	}
	c.mu.Lock()
	c.minLogLevel = req.Level
	c.mu.Unlock()
	c.logger.Debug("Updated logging level filter", zap.String("level", string(req.Level)))
	return struct{}{}, nil
}

func decodeParams(raw *json.RawMessage, out interface{}) error {
	if raw == nil || len(*raw) == 0 {
		return fmt.Errorf("missing params")
	}
	return json.Unmarshal(*raw, out)
}
