package client

import (
	"context"

	"go.uber.org/zap"

	"github.com/patvice/ruby-llm-mcp-sub002/shared"
	"github.com/patvice/ruby-llm-mcp-sub002/shared/mcp/schema"
)

// CompleteOption adjusts a completion request.
type CompleteOption func(*completeSettings)

type completeSettings struct {
	contextArgs map[string]string
	callOpts    []CallOption
}

// WithCompletionContext attaches previously resolved arguments so the
// server can narrow its suggestions. The context field only exists from
// revision 2025-06-18 on; on older negotiated versions it is dropped.
func WithCompletionContext(args map[string]string) CompleteOption {
	return func(s *completeSettings) { s.contextArgs = args }
}

// WithCompleteCallOptions applies per-request options to the completion
// round trip.
func WithCompleteCallOptions(opts ...CallOption) CompleteOption {
	return func(s *completeSettings) { s.callOpts = append(s.callOpts, opts...) }
}

// Complete performs completion/complete for a ref/prompt or ref/resource
// reference. Server failures are wrapped in CompletionError.
func (c *Client) Complete(ctx context.Context, ref schema.CompletionReference, argument, value string, opts ...CompleteOption) (*schema.CompletionInfo, error) {
	var settings completeSettings
	for _, opt := range opts {
		opt(&settings)
	}

	params := schema.CompleteRequestParams{
		Ref:      ref,
		Argument: schema.CompleteArgument{Name: argument, Value: value},
	}
	if len(settings.contextArgs) > 0 {
		if schema.ProtocolVersionAtLeast(c.NegotiatedVersion(), schema.PROTOCOL_VERSION_2025_06_18) {
			params.Context = &schema.CompletionContext{Arguments: settings.contextArgs}
		} else {
			c.logger.Debug("Dropping completion context on pre-2025-06-18 connection",
				zap.String("negotiated_version", c.NegotiatedVersion()))
		}
	}

	var result schema.CompleteResult
	if err := c.callInto(ctx, "completion/complete", params, &result, c.newCallSettings(settings.callOpts)); err != nil {
		return nil, &shared.CompletionError{Argument: argument, Cause: err}
	}
	return &result.Completion, nil
}
