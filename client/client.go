// Package client implements an MCP client: it speaks JSON-RPC 2.0 over a
// pluggable transport, runs the initialize handshake, correlates responses
// with waiting callers, dispatches server-initiated requests and keeps
// per-server caches of tools, resources, templates and prompts.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/patvice/ruby-llm-mcp-sub002/client/handlers"
	"github.com/patvice/ruby-llm-mcp-sub002/client/oauth"
	"github.com/patvice/ruby-llm-mcp-sub002/client/transport"
	"github.com/patvice/ruby-llm-mcp-sub002/config"
	"github.com/patvice/ruby-llm-mcp-sub002/shared"
	"github.com/patvice/ruby-llm-mcp-sub002/shared/mcp/schema"
)

// Status is the lifecycle state of a client connection.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusReady
	StatusClosed
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusReady:
		return "ready"
	case StatusClosed:
		return "closed"
	default:
		return "disconnected"
	}
}

// exitNotifier is implemented by transports whose peer can die on its own,
// such as a child process.
type exitNotifier interface {
	OnExit(hook func(err error))
}

// Client is one connection to an MCP server.
type Client struct {
	def    config.Definition
	logger *zap.Logger

	transport transport.Transport
	calls     *shared.CallTable
	nextID    atomic.Uint64

	runCtx context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	dispatcher *dispatcher
	progress   *progressBoard
	taskReg    *TaskRegistry
	approvals  *handlers.Registry

	tools     *toolCache
	resources *resourceCache
	templates *templateCache
	prompts   *promptCache
	roots     *rootSet
	subs      *subscriptionSet

	clientInfo schema.Implementation
	extensions map[string]json.RawMessage

	samplingHandler SamplingHandler
	samplingTools   bool
	samplingContext bool

	elicitationHandler ElicitationHandler
	elicitationForm    bool
	elicitationURL     bool

	toolApproval handlers.Handler

	oauthProvider *oauth.Provider

	mu           sync.RWMutex
	status       Status
	serverInfo   *schema.Implementation
	serverCaps   *schema.ServerCapabilities
	negotiated   string
	instructions string
	minLogLevel  schema.LoggingLevel

	onLoggingMessage      func(schema.LoggingMessageNotificationParams)
	onResourceUpdated     func(uri string)
	onToolListChanged     func()
	onResourceListChanged func()
	onPromptListChanged   func()
	onProgressUnmatched   func(schema.ProgressNotificationParams)
}

// New builds a client for the given definition. The connection is not opened
// until Start.
func New(def config.Definition, opts ...Option) (*Client, error) {
	def.Normalize()
	if err := def.Validate(); err != nil {
		return nil, err
	}

	c := &Client{
		def:             def,
		logger:          zap.NewNop(),
		clientInfo:      schema.Implementation{Name: "ruby-llm-mcp-go", Version: "0.1.0"},
		minLogLevel:     schema.LoggingLevelDebug,
		elicitationForm: true,
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	c.logger = c.logger.With(zap.String("mcp_client", def.Name))

	if c.transport == nil {
		auth, err := c.buildAuthorizer()
		if err != nil {
			return nil, err
		}
		tr, err := transport.New(def, auth, c.logger)
		if err != nil {
			return nil, err
		}
		c.transport = tr
	}

	c.calls = shared.NewCallTable(c.logger)
	c.progress = newProgressBoard(c.logger)
	c.taskReg = NewTaskRegistry()
	c.approvals = handlers.NewRegistry(c.logger)
	c.tools = newToolCache()
	c.resources = newResourceCache()
	c.templates = newTemplateCache()
	c.prompts = newPromptCache()
	c.roots = newRootSet(def.Roots)
	c.subs = newSubscriptionSet()
	c.dispatcher = newDispatcher(c)
	return c, nil
}

// buildAuthorizer turns the definition's OAuth block into a provider. An
// explicitly injected provider wins over the config.
func (c *Client) buildAuthorizer() (transport.Authorizer, error) {
	if c.oauthProvider != nil {
		return c.oauthProvider, nil
	}
	if c.def.OAuth == nil {
		return nil, nil
	}
	serverURL := c.def.OAuth.ServerURL
	if serverURL == "" {
		serverURL = c.def.URL
	}
	p, err := oauth.New(oauth.Options{
		ServerURL:    serverURL,
		Issuer:       c.def.OAuth.Issuer,
		ClientID:     c.def.OAuth.ClientID,
		ClientSecret: c.def.OAuth.ClientSecret,
		Scopes:       c.def.OAuth.Scopes,
		GrantType:    c.def.OAuth.GrantType,
		RedirectURI:  c.def.OAuth.RedirectURL,
		ClientName:   c.clientInfo.Name,
		Storage:      oauth.NewMemoryStorage(),
		Logger:       c.logger,
	})
	if err != nil {
		return nil, err
	}
	c.oauthProvider = p
	return p, nil
}

// Name returns the definition name the client was built from.
func (c *Client) Name() string { return c.def.Name }

// Status returns the lifecycle state.
func (c *Client) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// ServerInfo returns the implementation block from the initialize response,
// or nil before the handshake completed.
func (c *Client) ServerInfo() *schema.Implementation {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverInfo
}

// ServerCapabilities returns the capabilities the server announced, or nil
// before the handshake completed.
func (c *Client) ServerCapabilities() *schema.ServerCapabilities {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverCaps
}

// NegotiatedVersion returns the protocol revision the server chose.
func (c *Client) NegotiatedVersion() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.negotiated
}

// Instructions returns the usage instructions the server sent, if any.
func (c *Client) Instructions() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.instructions
}

// SessionID returns the server-assigned session identifier on transports
// that track one, or "".
func (c *Client) SessionID() string {
	if sc, ok := c.transport.(transport.SessionCarrier); ok {
		return sc.SessionID()
	}
	return ""
}

// Approvals returns the registry that resolves deferred tool approvals.
func (c *Client) Approvals() *handlers.Registry { return c.approvals }

// Tasks returns the registry tracking server-side tasks.
func (c *Client) Tasks() *TaskRegistry { return c.taskReg }

// Start connects the transport and runs the initialize handshake. It returns
// once notifications/initialized went out and the client accepts requests.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	switch c.status {
	case StatusClosed:
		c.mu.Unlock()
		return errors.New("client is closed")
	case StatusDisconnected:
	default:
		c.mu.Unlock()
		return shared.ErrAlreadyInitialized
	}
	c.status = StatusConnecting
	c.runCtx, c.cancel = context.WithCancel(context.Background())
	c.mu.Unlock()

	if r, ok := c.transport.(transport.Restartable); ok {
		r.OnRestart(c.replayInitialize)
	}
	if e, ok := c.transport.(exitNotifier); ok {
		e.OnExit(c.handleTransportExit)
	}

	if err := c.transport.Start(ctx); err != nil {
		c.setStatus(StatusDisconnected)
		c.cancel()
		return err
	}

	c.wg.Add(1)
	go c.receiveLoop()

	if err := c.initialize(ctx); err != nil {
		c.teardown()
		c.setStatus(StatusDisconnected)
		return err
	}
	c.setStatus(StatusReady)
	c.logger.Info("MCP client ready",
		zap.String("server", c.ServerInfo().Name),
		zap.String("protocol_version", c.NegotiatedVersion()))
	return nil
}

// Close terminates the connection. Pending calls receive a TransportError,
// in-flight inbound workers are cancelled, and the transport is torn down.
// Close is idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.status == StatusClosed {
		c.mu.Unlock()
		return nil
	}
	started := c.status != StatusDisconnected || c.cancel != nil
	c.status = StatusClosed
	c.mu.Unlock()

	if !started {
		return c.transport.Close()
	}
	c.teardown()
	return nil
}

func (c *Client) teardown() {
	if c.cancel != nil {
		c.cancel()
	}
	if err := c.transport.Close(); err != nil {
		c.logger.Warn("Transport close failed", zap.Error(err))
	}
	c.wg.Wait()
	c.dispatcher.wait()
	// The receive loop drained on channel close; this covers calls that
	// raced past it.
	c.calls.DrainAll(shared.NewTransportError("close", errors.New("client closed")))
}

func (c *Client) setStatus(s Status) {
	c.mu.Lock()
	c.status = s
	c.mu.Unlock()
}

// handleTransportExit fires when a stdio child dies on its own. Waiters are
// failed immediately instead of running into their timeouts; the next Send
// respawns the child and replays the handshake.
func (c *Client) handleTransportExit(err error) {
	n := c.calls.DrainAll(err)
	if n > 0 {
		c.logger.Warn("Server process exited with calls in flight",
			zap.Int("drained", n), zap.Error(err))
	}
}

// receiveLoop routes every inbound envelope. Responses resolve pending
// calls, requests go to the dispatcher, notifications are handled inline so
// their wire order is preserved.
func (c *Client) receiveLoop() {
	defer c.wg.Done()
	for msg := range c.transport.Messages() {
		if msg == nil || !msg.Valid() {
			c.logger.Debug("Dropping unclassifiable envelope")
			continue
		}
		switch {
		case msg.IsResponse():
			c.calls.Resolve(msg)
		case msg.IsRequest():
			c.dispatcher.Dispatch(msg)
		default:
			c.handleNotification(msg)
		}
	}
	c.calls.DrainAll(shared.NewTransportError("receive", errors.New("transport closed")))
	c.mu.Lock()
	if c.status != StatusClosed {
		c.status = StatusDisconnected
	}
	c.mu.Unlock()
}

// Ping checks the server is alive. Pings are not cancellable per protocol.
func (c *Client) Ping(ctx context.Context, opts ...CallOption) error {
	settings := c.newCallSettings(opts)
	settings.cancellable = false
	_, err := c.call(ctx, "ping", struct{}{}, settings)
	return err
}

// SetLoggingLevel asks the server to only send notifications/message at the
// given severity or above.
func (c *Client) SetLoggingLevel(ctx context.Context, level schema.LoggingLevel, opts ...CallOption) error {
	if !level.IsValid() {
		return fmt.Errorf("unknown logging level %q", level)
	}
	_, err := c.call(ctx, "logging/setLevel", schema.SetLevelRequestParams{Level: level}, c.newCallSettings(opts))
	return err
}

// OnLoggingMessage registers the callback for notifications/message that
// pass the client-side level filter.
func (c *Client) OnLoggingMessage(f func(schema.LoggingMessageNotificationParams)) {
	c.mu.Lock()
	c.onLoggingMessage = f
	c.mu.Unlock()
}

// OnResourceUpdated registers the callback invoked when a subscribed
// resource changes on the server.
func (c *Client) OnResourceUpdated(f func(uri string)) {
	c.mu.Lock()
	c.onResourceUpdated = f
	c.mu.Unlock()
}

// OnToolListChanged registers the callback invoked after the tool cache is
// invalidated by notifications/tools/list_changed.
func (c *Client) OnToolListChanged(f func()) {
	c.mu.Lock()
	c.onToolListChanged = f
	c.mu.Unlock()
}

// OnResourceListChanged registers the callback invoked after the resource
// caches are invalidated by notifications/resources/list_changed.
func (c *Client) OnResourceListChanged(f func()) {
	c.mu.Lock()
	c.onResourceListChanged = f
	c.mu.Unlock()
}

// OnPromptListChanged registers the callback invoked after the prompt cache
// is invalidated by notifications/prompts/list_changed.
func (c *Client) OnPromptListChanged(f func()) {
	c.mu.Lock()
	c.onPromptListChanged = f
	c.mu.Unlock()
}
