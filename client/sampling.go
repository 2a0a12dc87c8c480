package client

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/patvice/ruby-llm-mcp-sub002/shared"
	"github.com/patvice/ruby-llm-mcp-sub002/shared/mcp/schema"
)

// SamplingHandler runs an LLM completion on the server's behalf. The
// handler owns model selection; the client only normalizes the result
// before it goes back out.
type SamplingHandler interface {
	CreateMessage(ctx context.Context, params *schema.CreateMessageRequestParams) (*schema.CreateMessageResult, error)
}

// SamplingFunc adapts a function to the SamplingHandler interface.
type SamplingFunc func(ctx context.Context, params *schema.CreateMessageRequestParams) (*schema.CreateMessageResult, error)

func (f SamplingFunc) CreateMessage(ctx context.Context, params *schema.CreateMessageRequestParams) (*schema.CreateMessageResult, error) {
	return f(ctx, params)
}

func (c *Client) handleSampling(ctx context.Context, raw *json.RawMessage) (interface{}, *shared.JSONRPCError) {
	if c.samplingHandler == nil {
		return nil, &shared.JSONRPCError{
			Code:    shared.JSONRPCErrorMethodNotFound,
			Message: "client does not support sampling",
		}
	}
	var params schema.CreateMessageRequestParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, shared.NewInvalidParamsError(err)
	}

	result, err := c.samplingHandler.CreateMessage(ctx, &params)
	if err != nil {
		c.logger.Warn("Sampling handler failed", zap.Error(err))
		return nil, &shared.JSONRPCError{
			Code:    shared.JSONRPCErrorInternal,
			Message: fmt.Sprintf("sampling failed: %v", err),
		}
	}
	if result == nil {
		return nil, &shared.JSONRPCError{
			Code:    shared.JSONRPCErrorInternal,
			Message: "sampling handler returned no result",
		}
	}

	if result.Role == "" {
		result.Role = schema.RoleAssistant
	}
	result.StopReason = mapStopReason(result.StopReason)
	return result, nil
}

// mapStopReason normalizes provider stop reasons to the protocol's
// camelCase vocabulary. snake_case values are converted generically, so
// end_turn, max_tokens, tool_use, pause_turn and stop_sequence all land on
// their camelCase forms and unknown x_y values become xY. refusal has no
// underscore and passes through; an absent reason defaults to endTurn.
func mapStopReason(raw string) string {
	if raw == "" {
		return schema.StopReasonEndTurn
	}
	if !strings.Contains(raw, "_") {
		return raw
	}
	parts := strings.Split(raw, "_")
	var b strings.Builder
	b.WriteString(parts[0])
	for _, p := range parts[1:] {
		if p == "" {
			continue
		}
		b.WriteString(strings.ToUpper(p[:1]))
		b.WriteString(p[1:])
	}
	return b.String()
}
