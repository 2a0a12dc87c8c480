package client_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patvice/ruby-llm-mcp-sub002/client"
	"github.com/patvice/ruby-llm-mcp-sub002/shared"
	"github.com/patvice/ruby-llm-mcp-sub002/shared/mcp/schema"
)

func stubPromptList(ft *fakeTransport, prompts ...schema.Prompt) {
	ft.stubResult("prompts/list", schema.ListPromptsResult{Prompts: prompts})
}

func greetingPrompt() schema.Prompt {
	return schema.Prompt{
		Name:        "greeting",
		Description: "Generates a personal greeting",
		Arguments: []schema.PromptArgument{
			{Name: "name", Required: true},
			{Name: "tone", Required: false},
		},
	}
}

func TestListPromptsCaches(t *testing.T) {
	c, ft := newTestClient(t)
	stubPromptList(ft, greetingPrompt(), schema.Prompt{Name: "farewell"})
	startClient(t, c)

	prompts, err := c.ListPrompts(context.Background())
	require.NoError(t, err)
	require.Len(t, prompts, 2)

	p, err := c.Prompt(context.Background(), "greeting")
	require.NoError(t, err)
	assert.Len(t, p.Arguments, 2)
	assert.Len(t, ft.requests("prompts/list"), 1)

	_, err = c.Prompt(context.Background(), "eulogy")
	var nf *shared.PromptNotFoundError
	require.ErrorAs(t, err, &nf)
}

func TestGetPromptChecksRequiredArgumentsLocally(t *testing.T) {
	c, ft := newTestClient(t)
	stubPromptList(ft, greetingPrompt())
	startClient(t, c)

	_, err := c.GetPrompt(context.Background(), "greeting", map[string]string{"tone": "formal"})
	var pe *shared.PromptError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "greeting", pe.Name)
	assert.Contains(t, pe.Reason, "missing required argument name")
	assert.Empty(t, ft.requests("prompts/get"), "invalid instantiations never reach the wire")
}

func TestGetPrompt(t *testing.T) {
	c, ft := newTestClient(t)
	stubPromptList(ft, greetingPrompt())
	ft.stubResult("prompts/get", schema.GetPromptResult{
		Description: "A formal greeting",
		Messages: []schema.PromptMessage{{
			Role:    schema.RoleUser,
			Content: schema.NewTextContent("Dear Ada,"),
		}},
	})
	startClient(t, c)

	result, err := c.GetPrompt(context.Background(), "greeting", map[string]string{
		"name": "Ada",
		"tone": "formal",
	})
	require.NoError(t, err)
	require.Len(t, result.Messages, 1)
	assert.Equal(t, schema.RoleUser, result.Messages[0].Role)

	reqs := ft.requests("prompts/get")
	require.Len(t, reqs, 1)
	var params schema.GetPromptRequestParams
	decodeRequestParams(t, reqs[0], &params)
	assert.Equal(t, "greeting", params.Name)
	assert.Equal(t, "Ada", params.Arguments["name"])
}

func TestCompletePrompt(t *testing.T) {
	c, ft := newTestClient(t)
	stubPromptList(ft, greetingPrompt())
	ft.stubResult("completion/complete", schema.CompleteResult{
		Completion: schema.CompletionInfo{Values: []string{"formal", "friendly"}},
	})
	startClient(t, c)

	info, err := c.CompletePrompt(context.Background(), "greeting", "tone", "f")
	require.NoError(t, err)
	assert.Equal(t, []string{"formal", "friendly"}, info.Values)

	reqs := ft.requests("completion/complete")
	require.Len(t, reqs, 1)
	var params schema.CompleteRequestParams
	decodeRequestParams(t, reqs[0], &params)
	assert.Equal(t, schema.CompletionRefPrompt, params.Ref.Type)
	assert.Equal(t, "greeting", params.Ref.Name)
}

func TestCompletionContextIsVersionGated(t *testing.T) {
	resolved := map[string]string{"name": "Ada"}

	t.Run("attached on the current revision", func(t *testing.T) {
		c, ft := newTestClient(t)
		stubPromptList(ft, greetingPrompt())
		ft.stubResult("completion/complete", schema.CompleteResult{})
		startClient(t, c)

		_, err := c.CompletePrompt(context.Background(), "greeting", "tone", "f",
			client.WithCompletionContext(resolved))
		require.NoError(t, err)

		reqs := ft.requests("completion/complete")
		require.Len(t, reqs, 1)
		var params schema.CompleteRequestParams
		decodeRequestParams(t, reqs[0], &params)
		require.NotNil(t, params.Context)
		assert.Equal(t, "Ada", params.Context.Arguments["name"])
	})

	t.Run("dropped on an older negotiated revision", func(t *testing.T) {
		def := testDefinition()
		def.ProtocolVersion = schema.PROTOCOL_VERSION_2025_03_26
		c, ft := newTestClientWithDef(t, def)

		result := defaultInitializeResult()
		result.ProtocolVersion = schema.PROTOCOL_VERSION_2025_03_26
		ft.stubResult("initialize", result)
		stubPromptList(ft, greetingPrompt())
		ft.stubResult("completion/complete", schema.CompleteResult{})
		startClient(t, c)

		_, err := c.CompletePrompt(context.Background(), "greeting", "tone", "f",
			client.WithCompletionContext(resolved))
		require.NoError(t, err)

		reqs := ft.requests("completion/complete")
		require.Len(t, reqs, 1)
		var raw map[string]json.RawMessage
		decodeRequestParams(t, reqs[0], &raw)
		assert.NotContains(t, raw, "context", "pre-2025-06-18 servers do not know the field")
	})
}

func TestCompleteWrapsServerErrors(t *testing.T) {
	c, ft := newTestClient(t)
	stubPromptList(ft, greetingPrompt())
	ft.stubError("completion/complete", -32603, "completion backend offline")
	startClient(t, c)

	_, err := c.CompletePrompt(context.Background(), "greeting", "tone", "f")
	var ce *shared.CompletionError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "tone", ce.Argument)

	var rpcErr *shared.JSONRPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, -32603, rpcErr.Code)
}
