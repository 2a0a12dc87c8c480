package client

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/patvice/ruby-llm-mcp-sub002/shared"
	"github.com/patvice/ruby-llm-mcp-sub002/shared/mcp/schema"
)

// ElicitationHandler collects structured input from the user when the
// server asks for it.
type ElicitationHandler interface {
	Elicit(ctx context.Context, params *schema.ElicitRequestParams) (*schema.ElicitResult, error)
}

// ElicitationFunc adapts a function to the ElicitationHandler interface.
type ElicitationFunc func(ctx context.Context, params *schema.ElicitRequestParams) (*schema.ElicitResult, error)

func (f ElicitationFunc) Elicit(ctx context.Context, params *schema.ElicitRequestParams) (*schema.ElicitResult, error) {
	return f(ctx, params)
}

func (c *Client) handleElicitation(ctx context.Context, raw *json.RawMessage) (interface{}, *shared.JSONRPCError) {
	if c.elicitationHandler == nil {
		return nil, &shared.JSONRPCError{
			Code:    shared.JSONRPCErrorMethodNotFound,
			Message: "client does not support elicitation",
		}
	}
	var params schema.ElicitRequestParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, shared.NewInvalidParamsError(err)
	}

	mode := params.Mode
	if mode == "" {
		mode = schema.ElicitationModeForm
	}
	switch mode {
	case schema.ElicitationModeForm:
		if !c.elicitationForm {
			return nil, shared.NewInvalidParamsError(fmt.Errorf("elicitation mode %q not supported", mode))
		}
	case schema.ElicitationModeURL:
		if !c.elicitationURL {
			return nil, shared.NewInvalidParamsError(fmt.Errorf("elicitation mode %q not supported", mode))
		}
	default:
		return nil, shared.NewInvalidParamsError(fmt.Errorf("unknown elicitation mode %q", mode))
	}

	result, err := c.elicitationHandler.Elicit(ctx, &params)
	if err != nil {
		c.logger.Warn("Elicitation handler failed", zap.Error(err))
		return nil, &shared.JSONRPCError{
			Code:    shared.JSONRPCErrorInternal,
			Message: fmt.Sprintf("elicitation failed: %v", err),
		}
	}
	if result == nil {
		return nil, &shared.JSONRPCError{
			Code:    shared.JSONRPCErrorInternal,
			Message: "elicitation handler returned no result",
		}
	}

	switch result.Action {
	case schema.ElicitationActionAccept:
		// Accepted content must satisfy the requested schema before it is
		// handed back to the server.
		content := result.Content
		if content == nil {
			content = map[string]interface{}{}
		}
		if err := validateAgainstSchema(params.RequestedSchema, content); err != nil {
			c.logger.Warn("Elicitation content rejected by schema", zap.Error(err))
			return nil, &shared.JSONRPCError{
				Code:    shared.JSONRPCErrorInternal,
				Message: fmt.Sprintf("elicited content does not match requested schema: %v", err),
			}
		}
	case schema.ElicitationActionDecline, schema.ElicitationActionCancel:
		result.Content = nil
	default:
		return nil, &shared.JSONRPCError{
			Code:    shared.JSONRPCErrorInternal,
			Message: fmt.Sprintf("elicitation handler returned unknown action %q", result.Action),
		}
	}
	return result, nil
}
