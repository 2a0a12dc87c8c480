package client

import (
	"encoding/json"
	"errors"

	"go.uber.org/zap"

	"github.com/patvice/ruby-llm-mcp-sub002/client/handlers"
	"github.com/patvice/ruby-llm-mcp-sub002/client/oauth"
	"github.com/patvice/ruby-llm-mcp-sub002/client/transport"
	"github.com/patvice/ruby-llm-mcp-sub002/shared/mcp/schema"
)

// Option customizes a client during construction.
type Option func(*Client) error

// WithLogger replaces the default no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) error {
		if logger == nil {
			return errors.New("logger must not be nil")
		}
		c.logger = logger
		return nil
	}
}

// WithTransport injects a pre-built transport instead of constructing one
// from the definition.
func WithTransport(t transport.Transport) Option {
	return func(c *Client) error {
		if t == nil {
			return errors.New("transport must not be nil")
		}
		c.transport = t
		return nil
	}
}

// WithClientInfo overrides the implementation block sent during initialize.
func WithClientInfo(name, version string) Option {
	return func(c *Client) error {
		c.clientInfo = schema.Implementation{Name: name, Version: version}
		return nil
	}
}

// WithOAuthProvider injects a configured OAuth provider, overriding any
// oauth block in the definition.
func WithOAuthProvider(p *oauth.Provider) Option {
	return func(c *Client) error {
		c.oauthProvider = p
		return nil
	}
}

// WithSamplingHandler enables the sampling capability: the server may ask
// the client to run an LLM completion on its behalf. The draft tools and
// context sub-capabilities are only advertised when opted in through
// SamplingWithTools / SamplingWithContext.
func WithSamplingHandler(h SamplingHandler, opts ...SamplingOption) Option {
	return func(c *Client) error {
		if h == nil {
			return errors.New("sampling handler must not be nil")
		}
		c.samplingHandler = h
		for _, opt := range opts {
			opt(c)
		}
		return nil
	}
}

// SamplingOption opts a sampling sub-capability in.
type SamplingOption func(*Client)

// SamplingWithTools advertises that sampling requests may carry forwarded
// tool definitions.
func SamplingWithTools() SamplingOption {
	return func(c *Client) { c.samplingTools = true }
}

// SamplingWithContext advertises that the client can include conversation
// context in sampled completions.
func SamplingWithContext() SamplingOption {
	return func(c *Client) { c.samplingContext = true }
}

// WithElicitationHandler enables the elicitation capability. Form mode is
// advertised by default; pass schema.ElicitationModeURL to also accept
// out-of-band browser elicitations.
func WithElicitationHandler(h ElicitationHandler, modes ...string) Option {
	return func(c *Client) error {
		if h == nil {
			return errors.New("elicitation handler must not be nil")
		}
		c.elicitationHandler = h
		if len(modes) == 0 {
			c.elicitationForm = true
			return nil
		}
		c.elicitationForm = false
		for _, m := range modes {
			switch m {
			case schema.ElicitationModeForm:
				c.elicitationForm = true
			case schema.ElicitationModeURL:
				c.elicitationURL = true
			default:
				return errors.New("unknown elicitation mode " + m)
			}
		}
		return nil
	}
}

// WithToolApproval installs a human-in-the-loop gate in front of every
// tools/call. A denied or non-normalized decision short-circuits the call
// before it reaches the wire.
func WithToolApproval(h handlers.Handler) Option {
	return func(c *Client) error {
		if h == nil {
			return errors.New("approval handler must not be nil")
		}
		c.toolApproval = h
		return nil
	}
}

// WithExtensions advertises negotiated protocol extensions. They are only
// sent on protocol revisions that know the capability (2025-06-18 and
// later, and drafts).
func WithExtensions(ext map[string]json.RawMessage) Option {
	return func(c *Client) error {
		c.extensions = ext
		return nil
	}
}

// OnUnmatchedProgress registers a callback for progress notifications whose
// token no subscriber owns. They are dropped otherwise.
func OnUnmatchedProgress(f func(schema.ProgressNotificationParams)) Option {
	return func(c *Client) error {
		c.onProgressUnmatched = f
		return nil
	}
}
