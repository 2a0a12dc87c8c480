package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/patvice/ruby-llm-mcp-sub002/shared"
)

// Transport kinds a client definition may name.
const (
	TransportStdio      = "stdio"
	TransportSSE        = "sse"
	TransportStreamable = "streamable"
)

// HTTP version pins for the HTTP transports. Empty lets net/http negotiate.
const (
	HTTPVersion1 = "http1"
	HTTPVersion2 = "http2"
)

// Defaults applied by Normalize.
const (
	DefaultRequestTimeout = 8 * time.Second
	DefaultStreamTimeout  = 1 * time.Hour

	DefaultReconnectInitialDelay = 1 * time.Second
	DefaultReconnectMaxDelay     = 30 * time.Second
	DefaultReconnectGrowFactor   = 1.5
	DefaultReconnectMaxRetries   = 2
)

// Definition describes one MCP server connection.
type Definition struct {
	Name      string
	Transport string // "stdio", "sse" or "streamable"

	// Stdio transport.
	Command string
	Args    []string
	Env     map[string]string

	// HTTP transports.
	URL         string
	Headers     map[string]string
	HTTPVersion string // "http1" or "http2", empty negotiates
	SessionID   string // Pre-assigned streamable session to resume

	RequestTimeout  time.Duration // Per-request deadline
	StreamTimeout   time.Duration // Cap on one GET event-stream connection before it rotates
	ProtocolVersion string        // Optional pin, overrides the default advertisement
	Roots           []string      // Filesystem roots exposed through roots/list
	Start           *bool         // Connect on registry add, default true

	OAuth     *OAuthConfig
	RateLimit *RateLimitConfig
	Reconnect ReconnectConfig
	Tasks     TasksConfig
}

// OAuthConfig configures authorization for HTTP transports.
type OAuthConfig struct {
	ServerURL    string   // Protected resource, defaults to the transport URL
	Issuer       string   // Authorization server, discovered from the resource when empty
	ClientID     string   // Pre-registered client id, dynamic registration when empty
	ClientSecret string
	Scopes       []string
	GrantType    string // authorization_code (default) or client_credentials
	RedirectURL  string // Loopback callback, an ephemeral port when empty
}

// RateLimitConfig bounds outgoing POST frequency on HTTP transports.
type RateLimitConfig struct {
	Limit    int           // Requests allowed per interval
	Interval time.Duration // Window size
}

// ReconnectConfig shapes stream reconnection backoff.
type ReconnectConfig struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	GrowFactor   float64
	MaxRetries   int
}

// TasksConfig opts a client into the draft task capability.
type TasksConfig struct {
	Enabled bool
}

// AutoStart reports whether the registry should connect immediately.
func (d *Definition) AutoStart() bool {
	return d.Start == nil || *d.Start
}

// Normalize fills defaults in place.
func (d *Definition) Normalize() {
	if d.RequestTimeout <= 0 {
		d.RequestTimeout = DefaultRequestTimeout
	}
	if d.StreamTimeout <= 0 {
		d.StreamTimeout = DefaultStreamTimeout
	}
	if d.Reconnect.InitialDelay <= 0 {
		d.Reconnect.InitialDelay = DefaultReconnectInitialDelay
	}
	if d.Reconnect.MaxDelay <= 0 {
		d.Reconnect.MaxDelay = DefaultReconnectMaxDelay
	}
	if d.Reconnect.GrowFactor <= 1 {
		d.Reconnect.GrowFactor = DefaultReconnectGrowFactor
	}
	if d.Reconnect.MaxRetries <= 0 {
		d.Reconnect.MaxRetries = DefaultReconnectMaxRetries
	}
}

// Validate checks the definition is complete enough to build a client.
func (d *Definition) Validate() error {
	if d.Name == "" {
		return &shared.ConfigurationError{Field: "name", Reason: "must not be empty"}
	}
	switch d.Transport {
	case TransportStdio:
		if d.Command == "" {
			return &shared.ConfigurationError{Field: "command", Reason: "required for stdio transport"}
		}
		if d.OAuth != nil {
			return &shared.ConfigurationError{Field: "oauth", Reason: "not applicable to stdio transport"}
		}
	case TransportSSE, TransportStreamable:
		if d.URL == "" {
			return &shared.ConfigurationError{Field: "url", Reason: fmt.Sprintf("required for %s transport", d.Transport)}
		}
		u, err := url.Parse(d.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return &shared.ConfigurationError{Field: "url", Reason: "must be an absolute http(s) URL"}
		}
		switch d.HTTPVersion {
		case "", HTTPVersion1, HTTPVersion2:
		default:
			return &shared.ConfigurationError{Field: "version", Reason: "must be http1 or http2"}
		}
		if d.OAuth != nil {
			switch d.OAuth.GrantType {
			case "", "authorization_code", "client_credentials":
			default:
				return &shared.ConfigurationError{Field: "oauth.grant_type", Reason: "must be authorization_code or client_credentials"}
			}
		}
	case "":
		return &shared.ConfigurationError{Field: "transport", Reason: "must be one of stdio, sse, streamable"}
	default:
		return &shared.ConfigurationError{Field: "transport", Reason: fmt.Sprintf("unknown transport %q", d.Transport)}
	}
	if d.RateLimit != nil && (d.RateLimit.Limit <= 0 || d.RateLimit.Interval <= 0) {
		return &shared.ConfigurationError{Field: "rate_limit", Reason: "limit and interval must be positive"}
	}
	return nil
}

// FromMap builds a Definition from a loosely typed map, the shape produced
// by YAML or JSON decoding. Durations are given in milliseconds.
func FromMap(name string, raw map[string]interface{}) (Definition, error) {
	d := Definition{Name: name}

	if v, ok := stringValue(raw, "name"); ok {
		d.Name = v
	}
	if v, ok := stringValue(raw, "transport"); ok {
		d.Transport = v
	} else if v, ok := stringValue(raw, "transport_type"); ok {
		d.Transport = v
	}
	d.Command, _ = stringValue(raw, "command")
	d.URL, _ = stringValue(raw, "url")
	d.HTTPVersion, _ = stringValue(raw, "version")
	d.SessionID, _ = stringValue(raw, "session_id")
	d.ProtocolVersion, _ = stringValue(raw, "protocol_version")
	d.Args = stringSlice(raw["args"])
	d.Roots = stringSlice(raw["roots"])
	d.Env = stringMap(raw["env"])
	d.Headers = stringMap(raw["headers"])

	if ms, ok := millis(raw["request_timeout"]); ok {
		d.RequestTimeout = ms
	}
	if ms, ok := millis(raw["sse_timeout"]); ok {
		d.StreamTimeout = ms
	}
	if v, ok := raw["start"].(bool); ok {
		d.Start = &v
	}

	if sub := mapValue(raw["oauth"]); sub != nil {
		oc := &OAuthConfig{}
		oc.ServerURL, _ = stringValue(sub, "server_url")
		oc.Issuer, _ = stringValue(sub, "issuer")
		oc.ClientID, _ = stringValue(sub, "client_id")
		oc.ClientSecret, _ = stringValue(sub, "client_secret")
		oc.GrantType, _ = stringValue(sub, "grant_type")
		if uri, ok := stringValue(sub, "redirect_uri"); ok {
			oc.RedirectURL = uri
		} else {
			oc.RedirectURL, _ = stringValue(sub, "redirect_url")
		}
		oc.Scopes = stringSlice(sub["scopes"])
		if len(oc.Scopes) == 0 {
			if scope, ok := stringValue(sub, "scope"); ok {
				oc.Scopes = strings.Fields(scope)
			}
		}
		d.OAuth = oc
	}

	if sub := mapValue(raw["rate_limit"]); sub != nil {
		rl := &RateLimitConfig{}
		if n, ok := intValue(sub["limit"]); ok {
			rl.Limit = n
		}
		if ms, ok := millis(sub["interval"]); ok {
			rl.Interval = ms
		}
		d.RateLimit = rl
	}

	if sub := reconnectSection(raw); sub != nil {
		if ms, ok := firstMillis(sub, "initial_delay", "initial_reconnection_delay"); ok {
			d.Reconnect.InitialDelay = ms
		}
		if ms, ok := firstMillis(sub, "max_delay", "max_reconnection_delay"); ok {
			d.Reconnect.MaxDelay = ms
		}
		if f, ok := firstFloat(sub, "grow_factor", "reconnection_delay_grow_factor"); ok {
			d.Reconnect.GrowFactor = f
		}
		if n, ok := intValue(sub["max_retries"]); ok {
			d.Reconnect.MaxRetries = n
		}
	}

	if sub := mapValue(raw["tasks"]); sub != nil {
		if v, ok := sub["enabled"].(bool); ok {
			d.Tasks.Enabled = v
		}
	}

	d.Normalize()
	if err := d.Validate(); err != nil {
		return Definition{}, err
	}
	return d, nil
}

func stringValue(m map[string]interface{}, key string) (string, bool) {
	if m == nil {
		return "", false
	}
	v, ok := m[key].(string)
	return v, ok && v != ""
}

// reconnectSection accepts the section under any of its accepted names.
func reconnectSection(raw map[string]interface{}) map[string]interface{} {
	for _, key := range []string{"reconnect", "reconnection", "reconnection_options"} {
		if sub := mapValue(raw[key]); sub != nil {
			return sub
		}
	}
	return nil
}

func firstMillis(m map[string]interface{}, keys ...string) (time.Duration, bool) {
	for _, key := range keys {
		if ms, ok := millis(m[key]); ok {
			return ms, true
		}
	}
	return 0, false
}

func firstFloat(m map[string]interface{}, keys ...string) (float64, bool) {
	for _, key := range keys {
		if f, ok := floatValue(m[key]); ok {
			return f, true
		}
	}
	return 0, false
}

func mapValue(v interface{}) map[string]interface{} {
	switch m := v.(type) {
	case map[string]interface{}:
		return m
	case map[interface{}]interface{}:
		// Older YAML decoders produce interface keys.
		out := make(map[string]interface{}, len(m))
		for k, val := range m {
			if ks, ok := k.(string); ok {
				out[ks] = val
			}
		}
		return out
	}
	return nil
}

func stringSlice(v interface{}) []string {
	switch s := v.(type) {
	case []string:
		return append([]string{}, s...)
	case []interface{}:
		out := make([]string, 0, len(s))
		for _, item := range s {
			if str, ok := item.(string); ok {
				out = append(out, str)
			}
		}
		return out
	}
	return nil
}

func stringMap(v interface{}) map[string]string {
	m := mapValue(v)
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, val := range m {
		if s, ok := val.(string); ok {
			out[k] = s
		}
	}
	return out
}

func intValue(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}

func floatValue(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func millis(v interface{}) (time.Duration, bool) {
	n, ok := intValue(v)
	if !ok || n <= 0 {
		return 0, false
	}
	return time.Duration(n) * time.Millisecond, true
}
