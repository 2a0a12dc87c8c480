package shared

import (
	"errors"
	"fmt"
	"time"

	"github.com/patvice/ruby-llm-mcp-sub002/shared/mcp/schema"
)

// ErrRequestCancelled is delivered to a waiter whose in-flight request was
// cancelled locally before a response arrived.
var ErrRequestCancelled = errors.New("request was cancelled")

// ErrAlreadyInitialized is returned when Start is called on a running client.
var ErrAlreadyInitialized = errors.New("client already initialized")

// TransportError reports a failure of the underlying byte transport. All
// pending requests are failed with one when the connection dies, so waiters
// can tell a dead transport from a server-side error response.
type TransportError struct {
	Op    string // "start", "send", "receive" or "close"
	Cause error
}

func (e *TransportError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("transport %s failed", e.Op)
	}
	return fmt.Sprintf("transport %s failed: %v", e.Op, e.Cause)
}

func (e *TransportError) Unwrap() error { return e.Cause }

func NewTransportError(op string, cause error) *TransportError {
	return &TransportError{Op: op, Cause: cause}
}

// TimeoutError reports that no response arrived within the request timeout.
// The id is kept so callers can correlate with the cancellation notification
// the client sent on their behalf.
type TimeoutError struct {
	RequestID *schema.RequestID
	Method    string
	Timeout   time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("request %s (%s) timed out after %s", e.RequestID.String(), e.Method, e.Timeout)
}

// SessionExpiredError reports that the server no longer recognizes the
// session id. The caller must reconnect and re-initialize.
type SessionExpiredError struct {
	SessionID string
}

func (e *SessionExpiredError) Error() string {
	return fmt.Sprintf("session %s has expired or was terminated by the server", e.SessionID)
}

// AuthenticationRequiredError reports that the server rejected the request
// with an authorization challenge the client could not satisfy.
type AuthenticationRequiredError struct {
	Detail string // Server-provided detail, usually from WWW-Authenticate
	Cause  error
}

func (e *AuthenticationRequiredError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("authentication required: %s", e.Detail)
	}
	return "authentication required"
}

func (e *AuthenticationRequiredError) Unwrap() error { return e.Cause }

// ToolNotFoundError reports a lookup of a tool the server never announced.
type ToolNotFoundError struct {
	Name string
}

func (e *ToolNotFoundError) Error() string {
	return fmt.Sprintf("tool not found: %s", e.Name)
}

// ResourceNotFoundError reports a lookup of an unknown resource.
type ResourceNotFoundError struct {
	Name string
}

func (e *ResourceNotFoundError) Error() string {
	return fmt.Sprintf("resource not found: %s", e.Name)
}

// ResourceError reports a resource operation that failed for a reason other
// than the resource being unknown, such as subscribing against a server
// without the capability.
type ResourceError struct {
	URI    string
	Reason string
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("resource %s: %s", e.URI, e.Reason)
}

// PromptError reports an invalid prompt instantiation, such as a missing
// required argument.
type PromptError struct {
	Name   string
	Reason string
}

func (e *PromptError) Error() string {
	return fmt.Sprintf("prompt %s: %s", e.Name, e.Reason)
}

// PromptNotFoundError reports a lookup of an unknown prompt.
type PromptNotFoundError struct {
	Name string
}

func (e *PromptNotFoundError) Error() string {
	return fmt.Sprintf("prompt not found: %s", e.Name)
}

// TemplateError reports an invalid URI template expansion.
type TemplateError struct {
	Template string
	Reason   string
}

func (e *TemplateError) Error() string {
	return fmt.Sprintf("uri template %q: %s", e.Template, e.Reason)
}

// CompletionError wraps a server-side completion/complete failure.
type CompletionError struct {
	Argument string
	Cause    error
}

func (e *CompletionError) Error() string {
	return fmt.Sprintf("completion for argument %q failed: %v", e.Argument, e.Cause)
}

func (e *CompletionError) Unwrap() error { return e.Cause }

// ConfigurationError reports an invalid client definition.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

// UnknownRequestError reports a server-to-client request the dispatcher has
// no handler for.
type UnknownRequestError struct {
	Method string
}

func (e *UnknownRequestError) Error() string {
	return fmt.Sprintf("no handler registered for server request %q", e.Method)
}
