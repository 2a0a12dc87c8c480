package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patvice/ruby-llm-mcp-sub002/shared"
)

func TestFromMapFullDefinition(t *testing.T) {
	raw := map[string]interface{}{
		"transport":       "streamable",
		"url":             "https://mcp.example.com/rpc",
		"headers":         map[string]interface{}{"X-Team": "search"},
		"request_timeout": 12000,
		"sse_timeout":     600000,
		"session_id":      "sess-0042",
		"roots":           []interface{}{"/srv/data"},
		"oauth": map[string]interface{}{
			"server_url": "https://api.example.com",
			"client_id":  "app-1",
			"scopes":     []interface{}{"mcp.read", "mcp.write"},
		},
		"rate_limit": map[string]interface{}{
			"limit":    10,
			"interval": 1000,
		},
		"reconnect": map[string]interface{}{
			"initial_delay": 500,
			"max_delay":     5000,
			"grow_factor":   2.0,
			"max_retries":   4,
		},
		"tasks": map[string]interface{}{"enabled": true},
	}

	def, err := FromMap("search", raw)
	require.NoError(t, err)

	assert.Equal(t, "search", def.Name)
	assert.Equal(t, TransportStreamable, def.Transport)
	assert.Equal(t, "https://mcp.example.com/rpc", def.URL)
	assert.Equal(t, map[string]string{"X-Team": "search"}, def.Headers)
	assert.Equal(t, 12*time.Second, def.RequestTimeout)
	assert.Equal(t, 10*time.Minute, def.StreamTimeout)
	assert.Equal(t, "sess-0042", def.SessionID)
	assert.Equal(t, []string{"/srv/data"}, def.Roots)

	require.NotNil(t, def.OAuth)
	assert.Equal(t, "https://api.example.com", def.OAuth.ServerURL)
	assert.Equal(t, "app-1", def.OAuth.ClientID)
	assert.Equal(t, []string{"mcp.read", "mcp.write"}, def.OAuth.Scopes)

	require.NotNil(t, def.RateLimit)
	assert.Equal(t, 10, def.RateLimit.Limit)
	assert.Equal(t, time.Second, def.RateLimit.Interval)

	assert.Equal(t, 500*time.Millisecond, def.Reconnect.InitialDelay)
	assert.Equal(t, 5*time.Second, def.Reconnect.MaxDelay)
	assert.Equal(t, 2.0, def.Reconnect.GrowFactor)
	assert.Equal(t, 4, def.Reconnect.MaxRetries)
	assert.True(t, def.Tasks.Enabled)
	assert.True(t, def.AutoStart())
}

func TestFromMapAppliesDefaults(t *testing.T) {
	def, err := FromMap("local", map[string]interface{}{
		"transport": "stdio",
		"command":   "mcp-fs",
		"args":      []interface{}{"--root", "/tmp"},
	})
	require.NoError(t, err)

	assert.Equal(t, DefaultRequestTimeout, def.RequestTimeout)
	assert.Equal(t, DefaultStreamTimeout, def.StreamTimeout)
	assert.Equal(t, DefaultReconnectInitialDelay, def.Reconnect.InitialDelay)
	assert.Equal(t, DefaultReconnectMaxDelay, def.Reconnect.MaxDelay)
	assert.Equal(t, DefaultReconnectGrowFactor, def.Reconnect.GrowFactor)
	assert.Equal(t, DefaultReconnectMaxRetries, def.Reconnect.MaxRetries)
	assert.Equal(t, []string{"--root", "/tmp"}, def.Args)
}

func TestFromMapAcceptsTransportTypeAlias(t *testing.T) {
	def, err := FromMap("alias", map[string]interface{}{
		"transport_type": "sse",
		"url":            "http://localhost:4000/sse",
	})
	require.NoError(t, err)
	assert.Equal(t, TransportSSE, def.Transport)
}

func TestFromMapRecognizesWireOptionAliases(t *testing.T) {
	raw := map[string]interface{}{
		"transport": "sse",
		"url":       "https://mcp.example.com/sse",
		"version":   "http1",
		"reconnection_options": map[string]interface{}{
			"initial_reconnection_delay":     250,
			"max_reconnection_delay":         8000,
			"reconnection_delay_grow_factor": 1.5,
			"max_retries":                    7,
		},
	}
	def, err := FromMap("wire", raw)
	require.NoError(t, err)

	assert.Equal(t, HTTPVersion1, def.HTTPVersion)
	assert.Equal(t, 250*time.Millisecond, def.Reconnect.InitialDelay)
	assert.Equal(t, 8*time.Second, def.Reconnect.MaxDelay)
	assert.Equal(t, 1.5, def.Reconnect.GrowFactor)
	assert.Equal(t, 7, def.Reconnect.MaxRetries)
}

func TestFromMapValidation(t *testing.T) {
	cases := []struct {
		name  string
		raw   map[string]interface{}
		field string
	}{
		{"missing transport", map[string]interface{}{"url": "http://x"}, "transport"},
		{"unknown transport", map[string]interface{}{"transport": "pigeon"}, "transport"},
		{"stdio without command", map[string]interface{}{"transport": "stdio"}, "command"},
		{"sse without url", map[string]interface{}{"transport": "sse"}, "url"},
		{"relative url", map[string]interface{}{"transport": "streamable", "url": "/rpc"}, "url"},
		{"bad http version", map[string]interface{}{"transport": "sse", "url": "http://x/sse", "version": "spdy"}, "version"},
		{"oauth on stdio", map[string]interface{}{"transport": "stdio", "command": "x", "oauth": map[string]interface{}{"client_id": "a"}}, "oauth"},
		{"bad rate limit", map[string]interface{}{"transport": "sse", "url": "http://x/sse", "rate_limit": map[string]interface{}{"limit": 0, "interval": 100}}, "rate_limit"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := FromMap("bad", tc.raw)
			require.Error(t, err)
			var cfgErr *shared.ConfigurationError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tc.field, cfgErr.Field)
		})
	}
}

func TestMapValueInterfaceKeys(t *testing.T) {
	raw := map[string]interface{}{
		"transport": "stdio",
		"command":   "srv",
		"env": map[interface{}]interface{}{
			"TOKEN": "abc",
		},
	}
	def, err := FromMap("legacy", raw)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"TOKEN": "abc"}, def.Env)
}
