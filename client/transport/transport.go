package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"

	"github.com/patvice/ruby-llm-mcp-sub002/config"
	"github.com/patvice/ruby-llm-mcp-sub002/shared"
	"go.uber.org/zap"
)

// Transport moves JSON-RPC envelopes between the client engine and one MCP
// server. Implementations own the wire details (child process pipes, SSE
// streams, streamable HTTP sessions); the engine only sees envelopes.
type Transport interface {
	// Start establishes the connection. For stdio this spawns the child
	// process, for HTTP+SSE it opens the stream and waits for the endpoint
	// event. Start returns once the transport can accept Send calls.
	Start(ctx context.Context) error

	// Send writes one envelope to the server.
	Send(ctx context.Context, msg *shared.Message) error

	// Messages delivers every inbound envelope: responses, server requests
	// and notifications alike. The channel is closed when the transport
	// shuts down for good.
	Messages() <-chan *shared.Message

	// SetProtocolVersion records the negotiated protocol version so HTTP
	// transports can attach it to subsequent requests.
	SetProtocolVersion(version string)

	// Close tears the connection down and releases resources. Close is
	// idempotent.
	Close() error
}

// Restartable is implemented by transports that can respawn a dead peer.
// The engine registers a hook that fails the old generation's in-flight
// calls and replays the initialize handshake on the new connection.
type Restartable interface {
	OnRestart(hook func(ctx context.Context) error)
}

// SessionCarrier is implemented by transports that track a server-assigned
// session identifier.
type SessionCarrier interface {
	SessionID() string
}

// Authorizer supplies bearer credentials for HTTP transports and reacts to
// authorization challenges. *oauth.Provider satisfies it.
type Authorizer interface {
	Authorization(ctx context.Context) (string, bool)
	HandleChallenge(ctx context.Context, resp *http.Response) (string, error)
}

// messageBuffer is the inbound channel depth shared by all transports.
const messageBuffer = 100

// New builds the transport selected by the definition. The returned
// transport is not started.
func New(def config.Definition, auth Authorizer, logger *zap.Logger) (Transport, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch def.Transport {
	case config.TransportStdio:
		return NewStdio(def, logger), nil
	case config.TransportSSE:
		return NewSSE(def, auth, logger)
	case config.TransportStreamable, "":
		return NewStreamableHTTP(def, auth, logger)
	default:
		return nil, &shared.ConfigurationError{Field: "transport", Reason: fmt.Sprintf("unknown transport type %q", def.Transport)}
	}
}

// authTransport decorates an http.RoundTripper with bearer injection and
// challenge-driven reauthorization: a 401 or 403 answer is handed to the
// Authorizer and the original request is retried exactly once with the
// refreshed credentials.
type authTransport struct {
	base http.RoundTripper
	auth Authorizer
	// stripConnection removes the Connection header r3labs/sse insists on
	// adding; HTTP/2 rejects connection-specific headers.
	stripConnection bool
}

func newAuthTransport(base http.RoundTripper, auth Authorizer, stripConnection bool) *authTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &authTransport{base: base, auth: auth, stripConnection: stripConnection}
}

// baseRoundTripper applies the definition's HTTP version pin. HTTP/2 only
// happens over TLS (ALPN); pinning http2 on a cleartext URL degrades to
// HTTP/1.1 the same way the default negotiation does.
func baseRoundTripper(version string) http.RoundTripper {
	base, ok := http.DefaultTransport.(*http.Transport)
	if !ok || version == "" {
		return nil
	}
	t := base.Clone()
	switch version {
	case config.HTTPVersion1:
		t.ForceAttemptHTTP2 = false
		t.TLSNextProto = make(map[string]func(string, *tls.Conn) http.RoundTripper)
	case config.HTTPVersion2:
		t.ForceAttemptHTTP2 = true
	}
	return t
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	out := req.Clone(req.Context())
	if t.stripConnection {
		out.Header.Del("Connection")
	}
	if t.auth != nil {
		if header, ok := t.auth.Authorization(req.Context()); ok {
			out.Header.Set("Authorization", header)
		}
	}

	resp, err := t.base.RoundTrip(out)
	if err != nil || t.auth == nil {
		return resp, err
	}
	if resp.StatusCode != http.StatusUnauthorized && resp.StatusCode != http.StatusForbidden {
		return resp, nil
	}

	header, chErr := t.auth.HandleChallenge(req.Context(), resp)
	if chErr != nil {
		drain(resp)
		return nil, chErr
	}

	retry, ok := rewind(req)
	if !ok {
		// Body cannot be replayed; the caller gets the challenge response.
		return resp, nil
	}
	drain(resp)
	if t.stripConnection {
		retry.Header.Del("Connection")
	}
	retry.Header.Set("Authorization", header)
	return t.base.RoundTrip(retry)
}

// rewind clones the request with a fresh body for the single retry.
func rewind(req *http.Request) (*http.Request, bool) {
	out := req.Clone(req.Context())
	if req.Body == nil {
		return out, true
	}
	if req.GetBody == nil {
		return nil, false
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, false
	}
	out.Body = body
	return out, true
}

func drain(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()
}
