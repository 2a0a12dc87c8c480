package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/patvice/ruby-llm-mcp-sub002/shared"
	"github.com/patvice/ruby-llm-mcp-sub002/shared/mcp/schema"
)

// advertisedVersion is the protocol revision offered during initialize,
// honoring an explicit pin from the definition.
func (c *Client) advertisedVersion() string {
	if c.def.ProtocolVersion != "" {
		return c.def.ProtocolVersion
	}
	return schema.PROTOCOL_VERSION
}

// supportsExtensions reports whether a revision knows the extensions
// capability: 2025-06-18 and later, plus any draft label.
func supportsExtensions(version string) bool {
	if version == schema.PROTOCOL_VERSION_DRAFT || strings.HasPrefix(version, "DRAFT-") {
		return true
	}
	return schema.ProtocolVersionAtLeast(version, schema.PROTOCOL_VERSION_2025_06_18)
}

// buildCapabilities assembles the capability block for the advertised
// revision. Sub-capabilities the user did not opt into stay silent.
func (c *Client) buildCapabilities() schema.ClientCapabilities {
	caps := schema.ClientCapabilities{
		Roots: &schema.Capability{ListChanged: true},
	}
	if c.samplingHandler != nil {
		sampling := &schema.SamplingCapability{}
		if c.samplingTools {
			sampling.Tools = &struct{}{}
		}
		if c.samplingContext {
			sampling.Context = &struct{}{}
		}
		caps.Sampling = sampling
	}
	if c.elicitationHandler != nil {
		elicitation := &schema.ElicitationCapability{}
		if c.elicitationForm {
			elicitation.Form = &struct{}{}
		}
		if c.elicitationURL {
			elicitation.URL = &struct{}{}
		}
		caps.Elicitation = elicitation
	}
	if c.def.Tasks.Enabled {
		// list and cancel only; the client never claims task-augmented
		// request support.
		caps.Tasks = &schema.TasksCapability{
			List:   &struct{}{},
			Cancel: &struct{}{},
		}
	}
	if len(c.extensions) > 0 && supportsExtensions(c.advertisedVersion()) {
		caps.Extensions = c.extensions
	}
	return caps
}

// initialize runs the MCP handshake: initialize request, version check,
// notifications/initialized. An unsupported server-chosen version is fatal.
func (c *Client) initialize(ctx context.Context) error {
	params := schema.InitializeRequestParams{
		ProtocolVersion: c.advertisedVersion(),
		ClientInfo:      c.clientInfo,
		Capabilities:    c.buildCapabilities(),
	}
	settings := c.newCallSettings(nil)
	settings.cancellable = false

	raw, err := c.call(ctx, "initialize", params, settings)
	if err != nil {
		return fmt.Errorf("initialize failed: %w", err)
	}
	if raw == nil {
		return fmt.Errorf("initialize returned no result")
	}
	var result schema.InitializeResult
	if err := json.Unmarshal(*raw, &result); err != nil {
		return fmt.Errorf("parse initialize result: %w", err)
	}

	if !schema.IsSupportedProtocolVersion(result.ProtocolVersion) {
		return fmt.Errorf("server %q chose unsupported protocol version %q",
			c.def.Name, result.ProtocolVersion)
	}

	c.mu.Lock()
	c.serverInfo = &result.ServerInfo
	c.serverCaps = &result.Capabilities
	c.negotiated = result.ProtocolVersion
	c.instructions = result.Instructions
	c.mu.Unlock()

	c.transport.SetProtocolVersion(result.ProtocolVersion)

	if err := c.notify(ctx, "notifications/initialized", nil); err != nil {
		return fmt.Errorf("send initialized notification: %w", err)
	}
	c.logger.Debug("Initialize handshake complete",
		zap.String("server_name", result.ServerInfo.Name),
		zap.String("negotiated_version", result.ProtocolVersion))
	return nil
}

// replayInitialize re-runs the handshake on a transport that respawned its
// peer. The old generation's waiters are failed first; the fresh server
// starts from a clean slate and must be initialized again before the write
// that triggered the restart is retried.
func (c *Client) replayInitialize(ctx context.Context) error {
	c.calls.DrainAll(shared.NewTransportError("send", errors.New("server process restarted")))
	c.logger.Info("Replaying initialize handshake after transport restart")
	return c.initialize(ctx)
}
