package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"
	backoff "gopkg.in/cenkalti/backoff.v1"

	"github.com/patvice/ruby-llm-mcp-sub002/config"
	"github.com/patvice/ruby-llm-mcp-sub002/shared"
)

const (
	headerSessionID       = "Mcp-Session-Id"
	headerProtocolVersion = "MCP-Protocol-Version"
	headerLastEventID     = "Last-Event-ID"

	terminateTimeout = 5 * time.Second
)

var (
	errStreamUnsupported = errors.New("server does not support the GET event stream")
	errStreamGone        = errors.New("event stream is gone")
)

// StreamableHTTP implements the streamable HTTP transport from protocol
// revision 2025-03-26: every envelope is POSTed to a single endpoint, the
// server answers with 202, a JSON body or a per-request SSE stream, and an
// optional long-lived GET stream carries unsolicited server traffic. The
// server may assign a session id that all later requests must echo.
type StreamableHTTP struct {
	endpoint      *url.URL
	headers       map[string]string
	logger        *zap.Logger
	limiter       *slidingWindow
	reconnect     config.ReconnectConfig
	streamTimeout time.Duration

	httpClient *http.Client

	messages chan *shared.Message
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	downOnce sync.Once

	mu             sync.Mutex
	session        string
	protocol       string
	lastEventID    string
	retryHint      time.Duration
	started        bool
	streaming      bool
	streamDisabled bool
	closed         bool
}

// NewStreamableHTTP builds a streamable HTTP transport for the
// definition's URL.
func NewStreamableHTTP(def config.Definition, auth Authorizer, logger *zap.Logger) (*StreamableHTTP, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	u, err := url.Parse(def.URL)
	if err != nil {
		return nil, &shared.ConfigurationError{Field: "url", Reason: fmt.Sprintf("invalid endpoint URL %q: %v", def.URL, err)}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, &shared.ConfigurationError{Field: "url", Reason: fmt.Sprintf("unsupported scheme %q", u.Scheme)}
	}

	streamTimeout := def.StreamTimeout
	if streamTimeout <= 0 {
		streamTimeout = config.DefaultStreamTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &StreamableHTTP{
		endpoint:      u,
		headers:       def.Headers,
		logger:        logger.With(zap.String("transport", "streamable"), zap.String("url", u.String())),
		limiter:       newSlidingWindow(rateLimitOf(def)),
		reconnect:     normalizedReconnect(def.Reconnect),
		streamTimeout: streamTimeout,
		httpClient:    &http.Client{Transport: newAuthTransport(baseRoundTripper(def.HTTPVersion), auth, true)},
		messages:      make(chan *shared.Message, messageBuffer),
		ctx:           ctx,
		cancel:        cancel,
		session:       def.SessionID,
	}, nil
}

func (t *StreamableHTTP) Messages() <-chan *shared.Message { return t.messages }

// SetProtocolVersion pins the MCP-Protocol-Version header attached to
// every request after the handshake.
func (t *StreamableHTTP) SetProtocolVersion(version string) {
	t.mu.Lock()
	t.protocol = version
	t.mu.Unlock()
}

// SessionID reports the server-assigned session, if any.
func (t *StreamableHTTP) SessionID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.session
}

// Start marks the transport usable. There is nothing to dial: the server
// assigns state on the first POST and the GET stream opens after the
// initialized notification is accepted.
func (t *StreamableHTTP) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return shared.NewTransportError("streamable start", errTransportClosed)
	}
	t.started = true
	return nil
}

// Send POSTs one envelope and routes whatever shape the server answers
// with: 202 for fire-and-forget, a JSON body, or a per-request SSE stream.
func (t *StreamableHTTP) Send(ctx context.Context, msg *shared.Message) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}
	t.mu.Lock()
	closed, started := t.closed, t.started
	t.mu.Unlock()
	if closed {
		return shared.NewTransportError("streamable send", errTransportClosed)
	}
	if !started {
		return shared.NewTransportError("streamable send", errors.New("transport not started"))
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint.String(), bytes.NewReader(data))
	if err != nil {
		return shared.NewTransportError("streamable send", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	t.decorate(req.Header)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		var authErr *shared.AuthenticationRequiredError
		if errors.As(err, &authErr) {
			return authErr
		}
		return shared.NewTransportError("streamable send", err)
	}
	return t.handleResponse(resp, msg)
}

func (t *StreamableHTTP) handleResponse(resp *http.Response, sent *shared.Message) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if sid := resp.Header.Get(headerSessionID); sid != "" {
			t.adoptSession(sid)
		}
	}

	switch {
	case resp.StatusCode == http.StatusAccepted:
		drain(resp)
		if isInitializedNotification(sent) {
			t.ensureEventStream()
		}
		return nil

	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		media, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
		switch media {
		case "application/json":
			defer drain(resp)
			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return shared.NewTransportError("streamable send", fmt.Errorf("read response body: %w", err))
			}
			if len(bytes.TrimSpace(body)) == 0 {
				return nil
			}
			msgs, err := shared.ParseMessages(body)
			if err != nil {
				return shared.NewTransportError("streamable send", fmt.Errorf("parse response body: %w", err))
			}
			for _, m := range msgs {
				t.deliver(m)
			}
			return nil
		case "text/event-stream":
			if t.ctx.Err() != nil {
				drain(resp)
				return shared.NewTransportError("streamable send", errTransportClosed)
			}
			t.wg.Add(1)
			go func() {
				defer t.wg.Done()
				defer resp.Body.Close()
				stop := context.AfterFunc(t.ctx, func() { resp.Body.Close() })
				defer stop()
				if err := shared.ReadSSE(t.ctx, resp.Body, t.handleSSEEvent); err != nil && t.ctx.Err() == nil {
					t.logger.Debug("Request stream ended", zap.Error(err))
				}
			}()
			return nil
		default:
			drain(resp)
			return shared.NewTransportError("streamable send", fmt.Errorf("unexpected content type %q", resp.Header.Get("Content-Type")))
		}

	case resp.StatusCode == http.StatusNotFound:
		drain(resp)
		if sid := t.clearSession(); sid != "" {
			return &shared.SessionExpiredError{SessionID: sid}
		}
		return shared.NewTransportError("streamable send", errors.New("endpoint not found (404)"))

	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		drain(resp)
		return &shared.AuthenticationRequiredError{
			Detail: fmt.Sprintf("server rejected the request with status %d", resp.StatusCode),
		}

	default:
		drain(resp)
		return shared.NewTransportError("streamable send", fmt.Errorf("unexpected status %d", resp.StatusCode))
	}
}

func isInitializedNotification(msg *shared.Message) bool {
	return msg != nil && msg.IsNotification() && shared.NilIfNil(msg.Method) == "notifications/initialized"
}

// handleSSEEvent processes one record from a POST or GET stream. Every
// record id feeds Last-Event-ID resumption, including ids on data-less
// priming records; only data-bearing records carry envelopes.
func (t *StreamableHTTP) handleSSEEvent(ev shared.SSEEvent) {
	if ev.ID != "" || ev.Retry > 0 {
		t.mu.Lock()
		if ev.ID != "" {
			t.lastEventID = ev.ID
		}
		if ev.Retry > 0 {
			t.retryHint = ev.Retry
		}
		t.mu.Unlock()
	}
	if ev.Data == "" {
		return
	}
	if ev.Event != "message" {
		t.logger.Debug("Ignoring SSE event", zap.String("event", ev.Event))
		return
	}
	msgs, err := shared.ParseMessages([]byte(ev.Data))
	if err != nil {
		t.logger.Warn("Discarding unparseable SSE record", zap.Error(err))
		return
	}
	for _, msg := range msgs {
		t.deliver(msg)
	}
}

func (t *StreamableHTTP) deliver(msg *shared.Message) {
	select {
	case t.messages <- msg:
	case <-t.ctx.Done():
	}
}

func (t *StreamableHTTP) adoptSession(sid string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.session == "" {
		t.session = sid
		t.logger.Debug("Adopted server session", zap.String("sessionID", sid))
	}
}

func (t *StreamableHTTP) clearSession() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	sid := t.session
	t.session = ""
	return sid
}

func (t *StreamableHTTP) decorate(h http.Header) {
	t.mu.Lock()
	session, protocol := t.session, t.protocol
	t.mu.Unlock()
	if session != "" {
		h.Set(headerSessionID, session)
	}
	if protocol != "" {
		h.Set(headerProtocolVersion, protocol)
	}
	for k, v := range t.headers {
		h.Set(k, v)
	}
}

// ensureEventStream opens the long-lived GET stream once.
func (t *StreamableHTTP) ensureEventStream() {
	t.mu.Lock()
	if t.streaming || t.streamDisabled || t.closed {
		t.mu.Unlock()
		return
	}
	t.streaming = true
	t.mu.Unlock()
	t.wg.Add(1)
	go t.runEventStream()
}

// runEventStream keeps the GET stream alive on the reconnect schedule,
// resuming from the last seen event id.
func (t *StreamableHTTP) runEventStream() {
	defer t.wg.Done()

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = t.reconnect.InitialDelay
	expo.Multiplier = t.reconnect.GrowFactor
	expo.MaxInterval = t.reconnect.MaxDelay
	expo.MaxElapsedTime = 0
	bo := backoff.WithContext(expo, t.ctx)
	attempts := 0

	for {
		if t.ctx.Err() != nil {
			return
		}
		err := t.openEventStream()
		switch {
		case t.ctx.Err() != nil:
			return
		case errors.Is(err, errStreamUnsupported):
			t.mu.Lock()
			t.streamDisabled = true
			t.mu.Unlock()
			t.logger.Debug("Server does not expose a GET event stream")
			return
		case errors.Is(err, errStreamGone):
			return
		case err == nil:
			// Server closed the stream cleanly; reconnect fresh.
			bo.Reset()
			attempts = 0
		default:
			attempts++
			if t.reconnect.MaxRetries > 0 && attempts > t.reconnect.MaxRetries {
				t.logger.Warn("Giving up on the event stream",
					zap.Int("attempts", attempts-1), zap.Error(err))
				return
			}
		}

		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			return
		}
		// An explicit retry: field from the server overrides the schedule.
		t.mu.Lock()
		if t.retryHint > 0 {
			wait = t.retryHint
		}
		t.mu.Unlock()
		t.logger.Debug("Reopening event stream", zap.Duration("in", wait), zap.Error(err))
		select {
		case <-time.After(wait):
		case <-t.ctx.Done():
			return
		}
	}
}

// openEventStream runs one GET stream connection. Each connection lives at
// most streamTimeout; hitting that deadline is a routine rotation, not a
// failure, and the next connection resumes from the last seen event id.
func (t *StreamableHTTP) openEventStream() error {
	streamCtx, cancelStream := context.WithTimeout(t.ctx, t.streamTimeout)
	defer cancelStream()

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, t.endpoint.String(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	t.decorate(req.Header)
	t.mu.Lock()
	if t.lastEventID != "" {
		req.Header.Set(headerLastEventID, t.lastEventID)
	}
	t.mu.Unlock()

	resp, err := t.httpClient.Do(req)
	if err != nil {
		var authErr *shared.AuthenticationRequiredError
		if errors.As(err, &authErr) {
			t.logger.Warn("Event stream authorization failed", zap.Error(authErr))
			return errStreamGone
		}
		return err
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusMethodNotAllowed:
		drain(resp)
		return errStreamUnsupported
	case http.StatusNotFound:
		drain(resp)
		if sid := t.clearSession(); sid != "" {
			t.logger.Warn("Session expired on the event stream", zap.String("sessionID", sid))
		}
		return errStreamGone
	case http.StatusUnauthorized, http.StatusForbidden:
		drain(resp)
		t.logger.Warn("Event stream rejected", zap.Int("status", resp.StatusCode))
		return errStreamGone
	default:
		drain(resp)
		return fmt.Errorf("unexpected status %d from event stream", resp.StatusCode)
	}

	media, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if media != "text/event-stream" {
		drain(resp)
		return fmt.Errorf("unexpected content type %q from event stream", resp.Header.Get("Content-Type"))
	}

	defer resp.Body.Close()
	stop := context.AfterFunc(streamCtx, func() { resp.Body.Close() })
	defer stop()
	err = shared.ReadSSE(streamCtx, resp.Body, t.handleSSEEvent)
	if errors.Is(err, context.DeadlineExceeded) && t.ctx.Err() == nil {
		return nil
	}
	return err
}

// Close tears the transport down and asks the server to discard the
// session, when one was assigned.
func (t *StreamableHTTP) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	session := t.session
	t.mu.Unlock()

	t.cancel()
	if session != "" {
		t.terminateSession(session)
	}
	t.wg.Wait()
	t.downOnce.Do(func() { close(t.messages) })
	t.logger.Debug("Streamable transport closed")
	return nil
}

// terminateSession sends the best-effort DELETE. Servers answer 200, 204
// or 404; 405 means client-initiated termination is not supported.
func (t *StreamableHTTP) terminateSession(session string) {
	ctx, cancel := context.WithTimeout(context.Background(), terminateTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, t.endpoint.String(), nil)
	if err != nil {
		return
	}
	req.Header.Set(headerSessionID, session)
	t.mu.Lock()
	protocol := t.protocol
	t.mu.Unlock()
	if protocol != "" {
		req.Header.Set(headerProtocolVersion, protocol)
	}
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		t.logger.Debug("Session termination request failed", zap.Error(err))
		return
	}
	defer drain(resp)
	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent, http.StatusNotFound:
	case http.StatusMethodNotAllowed:
		t.logger.Debug("Server does not support client-initiated session termination")
	default:
		t.logger.Debug("Unexpected status terminating session", zap.Int("status", resp.StatusCode))
	}
}

var _ Transport = (*StreamableHTTP)(nil)
var _ SessionCarrier = (*StreamableHTTP)(nil)
