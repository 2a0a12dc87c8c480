package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/patvice/ruby-llm-mcp-sub002/shared"
	"github.com/patvice/ruby-llm-mcp-sub002/shared/mcp/schema"
)

// callSettings shape one outbound request.
type callSettings struct {
	timeout     time.Duration
	cancellable bool
	onProgress  func(schema.ProgressNotificationParams)
}

// CallOption adjusts a single request.
type CallOption func(*callSettings)

// WithTimeout overrides the definition's request timeout for one call.
func WithTimeout(d time.Duration) CallOption {
	return func(s *callSettings) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithProgress subscribes to progress notifications for one call. A fresh
// progress token is injected into the request's _meta and matched against
// incoming notifications/progress.
func WithProgress(f func(schema.ProgressNotificationParams)) CallOption {
	return func(s *callSettings) { s.onProgress = f }
}

func (c *Client) newCallSettings(opts []CallOption) callSettings {
	s := callSettings{timeout: c.def.RequestTimeout, cancellable: true}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

func (c *Client) nextRequestID() schema.RequestID {
	return schema.RequestID_FromUInt64(c.nextID.Add(1))
}

// call sends one request and blocks until its response, an error, the
// timeout or transport shutdown. On timeout the pending entry is removed
// and notifications/cancelled goes out exactly once.
func (c *Client) call(ctx context.Context, method string, params interface{}, settings callSettings) (*json.RawMessage, error) {
	raw, err := encodeParams(params)
	if err != nil {
		return nil, fmt.Errorf("marshal %s params: %w", method, err)
	}
	if settings.onProgress != nil {
		token := uuid.NewString()
		raw, err = injectProgressToken(raw, token)
		if err != nil {
			return nil, fmt.Errorf("inject progress token for %s: %w", method, err)
		}
		c.progress.register(token, settings.onProgress)
		defer c.progress.drop(token)
	}

	id := c.nextRequestID()
	pc := c.calls.Register(id, method, settings.cancellable)
	msg := shared.NewRequest(id, method, raw)

	if err := c.transport.Send(ctx, msg); err != nil {
		c.calls.Fail(id, err)
		<-pc.Deliveries()
		return nil, err
	}

	timer := time.NewTimer(settings.timeout)
	defer timer.Stop()

	select {
	case d := <-pc.Deliveries():
		respMsg, derr := d.Unpack()
		return c.finishCall(method, respMsg, derr)
	case <-timer.C:
		if c.calls.MarkTimedOut(id) {
			c.notifyCancelled(id, "request timed out")
			return nil, &shared.TimeoutError{RequestID: &id, Method: method, Timeout: settings.timeout}
		}
		// The response won the race and already sits in the slot.
		d := <-pc.Deliveries()
		respMsg, derr := d.Unpack()
		return c.finishCall(method, respMsg, derr)
	case <-ctx.Done():
		if c.calls.MarkTimedOut(id) {
			c.notifyCancelled(id, "request context cancelled")
			return nil, ctx.Err()
		}
		d := <-pc.Deliveries()
		respMsg, derr := d.Unpack()
		return c.finishCall(method, respMsg, derr)
	}
}

func (c *Client) finishCall(method string, msg *shared.Message, err error) (*json.RawMessage, error) {
	if err != nil {
		return nil, err
	}
	if msg.Error != nil {
		c.logger.Debug("Server returned error response",
			zap.String("method", method),
			zap.Int("code", msg.Error.Code),
			zap.String("message", msg.Error.Message))
		return nil, msg.Error
	}
	return msg.Result, nil
}

// callInto runs call and decodes the result into out.
func (c *Client) callInto(ctx context.Context, method string, params, out interface{}, settings callSettings) error {
	raw, err := c.call(ctx, method, params, settings)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if raw == nil {
		return fmt.Errorf("%s returned no result", method)
	}
	if err := json.Unmarshal(*raw, out); err != nil {
		return fmt.Errorf("parse %s result: %w", method, err)
	}
	return nil
}

// notify sends a notification. Nothing is awaited.
func (c *Client) notify(ctx context.Context, method string, params interface{}) error {
	raw, err := encodeParams(params)
	if err != nil {
		return fmt.Errorf("marshal %s params: %w", method, err)
	}
	return c.transport.Send(ctx, shared.NewNotification(method, raw))
}

// notifyCancelled tells the server to stop working on a request. Failures
// are logged and swallowed; the caller already has its outcome.
func (c *Client) notifyCancelled(id schema.RequestID, reason string) {
	base := c.runCtx
	if base == nil {
		base = context.Background()
	}
	ctx, cancel := context.WithTimeout(base, 5*time.Second)
	defer cancel()
	params := schema.CancelledNotificationParams{RequestID: id, Reason: reason}
	if err := c.notify(ctx, "notifications/cancelled", params); err != nil {
		c.logger.Debug("Failed to send cancellation notification",
			zap.String("request_id", id.String()), zap.Error(err))
	}
}

// CancelInFlight cancels an outstanding request by id. The waiter receives
// ErrRequestCancelled; the server is notified when the call was actually
// torn down here. Terminal outcomes free the id.
func (c *Client) CancelInFlight(id schema.RequestID) shared.CancelOutcome {
	outcome := c.calls.Cancel(id)
	if outcome == shared.CancelOutcomeCancelled {
		c.notifyCancelled(id, "client cancelled request")
	}
	return outcome
}

// PendingCalls reports how many requests await a response.
func (c *Client) PendingCalls() int { return c.calls.Len() }

// encodeParams marshals request params, passing through pre-encoded raw
// payloads and mapping nil to an absent params field.
func encodeParams(params interface{}) (*json.RawMessage, error) {
	switch v := params.(type) {
	case nil:
		return nil, nil
	case *json.RawMessage:
		return v, nil
	case json.RawMessage:
		return &v, nil
	default:
		data, err := json.Marshal(params)
		if err != nil {
			return nil, err
		}
		raw := json.RawMessage(data)
		return &raw, nil
	}
}

// injectProgressToken grafts _meta.progressToken onto already-encoded
// params. Existing _meta members survive.
func injectProgressToken(raw *json.RawMessage, token string) (*json.RawMessage, error) {
	body := map[string]json.RawMessage{}
	if raw != nil && len(*raw) > 0 {
		if err := json.Unmarshal(*raw, &body); err != nil {
			return nil, err
		}
	}
	meta := map[string]interface{}{}
	if existing, ok := body["_meta"]; ok {
		if err := json.Unmarshal(existing, &meta); err != nil {
			return nil, err
		}
	}
	meta["progressToken"] = token
	encodedMeta, err := json.Marshal(meta)
	if err != nil {
		return nil, err
	}
	body["_meta"] = encodedMeta
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	out := json.RawMessage(data)
	return &out, nil
}
