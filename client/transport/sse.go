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
	"strings"
	"sync"
	"time"

	"github.com/r3labs/sse/v2"
	"go.uber.org/zap"
	backoff "gopkg.in/cenkalti/backoff.v1"

	"github.com/patvice/ruby-llm-mcp-sub002/config"
	"github.com/patvice/ruby-llm-mcp-sub002/shared"
)

// SSE implements the HTTP+SSE transport from protocol revision 2024-11-05:
// a long-lived GET stream carries every server-to-client envelope, and the
// first "endpoint" event names the URL client-to-server envelopes are
// POSTed to.
type SSE struct {
	streamURL *url.URL
	headers   map[string]string
	logger    *zap.Logger
	limiter   *slidingWindow
	bootWait  time.Duration

	httpClient *http.Client
	sseClient  *sse.Client
	events     chan *sse.Event

	messages chan *shared.Message
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	ready     chan struct{} // closed once the endpoint event arrives
	readyOnce sync.Once
	downOnce  sync.Once

	reconnect config.ReconnectConfig

	mu       sync.Mutex
	endpoint *url.URL
	fatal    error
	attempts int
	started  bool
	closed   bool
}

// NewSSE builds an SSE transport for the definition's URL. The stream is
// not opened until Start.
func NewSSE(def config.Definition, auth Authorizer, logger *zap.Logger) (*SSE, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	u, err := url.Parse(def.URL)
	if err != nil {
		return nil, &shared.ConfigurationError{Field: "url", Reason: fmt.Sprintf("invalid SSE URL %q: %v", def.URL, err)}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, &shared.ConfigurationError{Field: "url", Reason: fmt.Sprintf("unsupported scheme %q", u.Scheme)}
	}

	wait := def.RequestTimeout
	if wait <= 0 {
		wait = config.DefaultRequestTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &SSE{
		streamURL:  u,
		headers:    def.Headers,
		logger:     logger.With(zap.String("transport", "sse"), zap.String("url", u.String())),
		limiter:    newSlidingWindow(rateLimitOf(def)),
		bootWait:   wait,
		httpClient: &http.Client{Transport: newAuthTransport(baseRoundTripper(def.HTTPVersion), auth, true)},
		messages:   make(chan *shared.Message, messageBuffer),
		ctx:        ctx,
		cancel:     cancel,
		ready:      make(chan struct{}),
		reconnect:  normalizedReconnect(def.Reconnect),
	}, nil
}

// normalizedReconnect guards the zero value; definitions are normally
// normalized before transports are built.
func normalizedReconnect(rc config.ReconnectConfig) config.ReconnectConfig {
	if rc.InitialDelay <= 0 {
		rc.InitialDelay = config.DefaultReconnectInitialDelay
	}
	if rc.MaxDelay <= 0 {
		rc.MaxDelay = config.DefaultReconnectMaxDelay
	}
	if rc.GrowFactor <= 1 {
		rc.GrowFactor = config.DefaultReconnectGrowFactor
	}
	return rc
}

func (t *SSE) Messages() <-chan *shared.Message { return t.messages }

// SetProtocolVersion is a no-op: the 2024-11-05 transport predates the
// protocol version header.
func (t *SSE) SetProtocolVersion(string) {}

// Start opens the event stream and blocks until the server announces the
// message endpoint, the bootstrap deadline passes, or the stream fails.
func (t *SSE) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return shared.NewTransportError("sse start", errTransportClosed)
	}
	if t.started {
		t.mu.Unlock()
		return nil
	}
	t.started = true

	client := sse.NewClient(t.streamURL.String(), sse.ClientMaxBufferSize(maxLineBytes))
	client.Connection = t.httpClient
	client.Headers = map[string]string{
		"Accept":        "text/event-stream",
		"Cache-Control": "no-cache",
	}
	for k, v := range t.headers {
		client.Headers[k] = v
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = t.reconnect.InitialDelay
	expo.Multiplier = t.reconnect.GrowFactor
	expo.MaxInterval = t.reconnect.MaxDelay
	expo.MaxElapsedTime = 0
	client.ReconnectStrategy = backoff.WithContext(expo, t.ctx)
	client.ReconnectNotify = func(err error, next time.Duration) {
		t.logger.Warn("Event stream disconnected, reconnecting",
			zap.Error(err), zap.Duration("retryIn", next))
		t.noteAttempt()
	}
	client.ResponseValidator = t.validateStreamResponse

	t.sseClient = client
	t.events = make(chan *sse.Event, messageBuffer)
	t.mu.Unlock()

	t.wg.Add(1)
	go t.consumeEvents()

	if err := client.SubscribeChanWithContext(t.ctx, "", t.events); err != nil {
		if fatal := t.fatalErr(); fatal != nil {
			err = fatal
		}
		t.teardown()
		return shared.NewTransportError("sse start", err)
	}

	select {
	case <-t.ready:
		t.logger.Debug("SSE transport ready")
		return nil
	case <-time.After(t.bootWait):
		t.teardown()
		return shared.NewTransportError("sse start", errors.New("timed out waiting for endpoint event"))
	case <-ctx.Done():
		t.teardown()
		return ctx.Err()
	case <-t.ctx.Done():
		err := t.fatalErr()
		if err == nil {
			err = errors.New("event stream closed before endpoint event")
		}
		t.teardown()
		return shared.NewTransportError("sse start", err)
	}
}

// validateStreamResponse maps stream handshake statuses to transport
// outcomes: 401/403 and 405 end the stream for good, anything else
// non-200 is retried on the reconnect schedule.
func (t *SSE) validateStreamResponse(_ *sse.Client, resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusOK:
		t.resetAttempts()
		return nil
	case http.StatusUnauthorized, http.StatusForbidden:
		err := &shared.AuthenticationRequiredError{
			Detail: fmt.Sprintf("event stream rejected with status %d", resp.StatusCode),
		}
		t.failStream(err)
		return err
	case http.StatusMethodNotAllowed:
		err := errors.New("server does not accept SSE connections (405)")
		t.failStream(err)
		return err
	default:
		return fmt.Errorf("unexpected status %d from event stream", resp.StatusCode)
	}
}

func (t *SSE) noteAttempt() {
	t.mu.Lock()
	t.attempts++
	exhausted := t.reconnect.MaxRetries > 0 && t.attempts > t.reconnect.MaxRetries
	t.mu.Unlock()
	if exhausted {
		t.failStream(fmt.Errorf("giving up after %d reconnect attempts", t.reconnect.MaxRetries))
	}
}

func (t *SSE) resetAttempts() {
	t.mu.Lock()
	t.attempts = 0
	t.mu.Unlock()
}

// failStream records the first fatal stream error and cancels the
// subscription context, which stops the reconnect loop.
func (t *SSE) failStream(err error) {
	t.mu.Lock()
	if t.fatal == nil {
		t.fatal = err
	}
	t.mu.Unlock()
	t.cancel()
}

func (t *SSE) fatalErr() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fatal
}

func (t *SSE) consumeEvents() {
	defer t.wg.Done()
	for {
		select {
		case ev, ok := <-t.events:
			if !ok {
				return
			}
			t.handleEvent(ev)
		case <-t.ctx.Done():
			return
		}
	}
}

func (t *SSE) handleEvent(ev *sse.Event) {
	switch string(ev.Event) {
	case "endpoint":
		t.handleEndpointEvent(ev.Data)
	case "", "message":
		if len(bytes.TrimSpace(ev.Data)) == 0 {
			return
		}
		msgs, err := shared.ParseMessages(ev.Data)
		if err != nil {
			t.logger.Warn("Discarding unparseable SSE message", zap.Error(err))
			return
		}
		for _, msg := range msgs {
			t.deliver(msg)
		}
	case "ping":
		// Keepalive, nothing to do.
	default:
		t.logger.Debug("Ignoring SSE event", zap.String("event", string(ev.Event)))
	}
}

// handleEndpointEvent learns the POST endpoint. The payload is either a
// bare URI reference or a JSON object {"url": ..., "last_event_id": ...};
// relative references resolve against the stream URL.
func (t *SSE) handleEndpointEvent(data []byte) {
	raw := strings.TrimSpace(string(data))
	if raw == "" {
		t.logger.Warn("Endpoint event carried no payload")
		return
	}

	target := raw
	lastEventID := ""
	if strings.HasPrefix(raw, "{") {
		var payload struct {
			URL         string `json:"url"`
			LastEventID string `json:"last_event_id"`
		}
		if err := json.Unmarshal(data, &payload); err != nil {
			t.logger.Warn("Malformed endpoint event payload", zap.Error(err))
			return
		}
		target = payload.URL
		lastEventID = payload.LastEventID
	}
	if target == "" {
		t.logger.Warn("Endpoint event payload is missing the url")
		return
	}

	ref, err := url.Parse(target)
	if err != nil {
		t.logger.Warn("Endpoint event carried an invalid URL", zap.String("url", target), zap.Error(err))
		return
	}
	resolved := t.streamURL.ResolveReference(ref)

	t.mu.Lock()
	t.endpoint = resolved
	client := t.sseClient
	t.mu.Unlock()

	if lastEventID != "" && client != nil {
		client.LastEventID.Store([]byte(lastEventID))
	}
	t.logger.Debug("Learned message endpoint", zap.String("endpoint", resolved.String()))
	t.readyOnce.Do(func() { close(t.ready) })
}

func (t *SSE) deliver(msg *shared.Message) {
	select {
	case t.messages <- msg:
	case <-t.ctx.Done():
	}
}

// Send POSTs one envelope to the endpoint announced by the server. The
// reply normally arrives over the event stream; servers that answer
// inline get their body parsed and delivered the same way.
func (t *SSE) Send(ctx context.Context, msg *shared.Message) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}

	select {
	case <-t.ready:
	case <-ctx.Done():
		return ctx.Err()
	case <-t.ctx.Done():
		return shared.NewTransportError("sse send", errTransportClosed)
	}

	t.mu.Lock()
	endpoint := t.endpoint
	closed := t.closed
	t.mu.Unlock()
	if closed || endpoint == nil {
		return shared.NewTransportError("sse send", errTransportClosed)
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(data))
	if err != nil {
		return shared.NewTransportError("sse send", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		var authErr *shared.AuthenticationRequiredError
		if errors.As(err, &authErr) {
			return authErr
		}
		return shared.NewTransportError("sse send", err)
	}
	defer drain(resp)

	switch {
	case resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusNoContent:
		return nil
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		t.deliverInlineBody(resp)
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &shared.AuthenticationRequiredError{
			Detail: fmt.Sprintf("message endpoint rejected the request with status %d", resp.StatusCode),
		}
	default:
		return shared.NewTransportError("sse send", fmt.Errorf("unexpected status %d from message endpoint", resp.StatusCode))
	}
}

func (t *SSE) deliverInlineBody(resp *http.Response) {
	media, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if media != "application/json" {
		return
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxLineBytes))
	if err != nil || len(bytes.TrimSpace(body)) == 0 {
		return
	}
	msgs, err := shared.ParseMessages(body)
	if err != nil {
		t.logger.Warn("Discarding unparseable POST response body", zap.Error(err))
		return
	}
	for _, msg := range msgs {
		t.deliver(msg)
	}
}

// Close cancels the stream subscription; the r3labs client tears its
// bookkeeping down when the subscription context ends.
func (t *SSE) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()
	t.teardown()
	t.logger.Debug("SSE transport closed")
	return nil
}

func (t *SSE) teardown() {
	t.cancel()
	t.wg.Wait()
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	t.downOnce.Do(func() { close(t.messages) })
}

var _ Transport = (*SSE)(nil)
