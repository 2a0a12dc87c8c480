package shared_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patvice/ruby-llm-mcp-sub002/shared"
	"github.com/patvice/ruby-llm-mcp-sub002/shared/mcp/schema"
)

func TestParseMessagesSingle(t *testing.T) {
	data := []byte(`{"jsonrpc":"2.0","id":1,"method":"tools/list","params":{}}`)

	msgs, err := shared.ParseMessages(data)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	msg := msgs[0]
	assert.True(t, msg.IsRequest())
	assert.False(t, msg.IsNotification())
	assert.False(t, msg.IsResponse())
	assert.Equal(t, "tools/list", *msg.Method)
	assert.Equal(t, "1", msg.ID.String())
}

func TestParseMessagesBatch(t *testing.T) {
	data := []byte(`[
		{"jsonrpc":"2.0","id":"a","result":{"ok":true}},
		{"jsonrpc":"2.0","method":"notifications/progress","params":{"progress":0.5,"progressToken":"t1"}}
	]`)

	msgs, err := shared.ParseMessages(data)
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	assert.True(t, msgs[0].IsResponse())
	assert.True(t, msgs[1].IsNotification())
	assert.False(t, msgs[1].IsRequest())
}

func TestParseMessagesInvalid(t *testing.T) {
	_, err := shared.ParseMessages([]byte(`not json at all`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid JSON-RPC message")
}

func TestMessageValid(t *testing.T) {
	var empty shared.Message
	assert.False(t, empty.Valid(), "an envelope with no method, result or error is not classifiable")

	errMsg := shared.NewErrorResponse(nil, shared.NewJSONRPCError(assert.AnError))
	assert.True(t, errMsg.Valid())
	assert.True(t, errMsg.IsResponse())
}

func TestMessageMarshalShapes(t *testing.T) {
	id := schema.RequestID_FromString("req-1")

	t.Run("request", func(t *testing.T) {
		params := json.RawMessage(`{"name":"calc"}`)
		msg := shared.NewRequest(id, "tools/call", &params)
		out, err := json.Marshal(msg)
		require.NoError(t, err)
		assert.JSONEq(t, `{"jsonrpc":"2.0","id":"req-1","method":"tools/call","params":{"name":"calc"}}`, string(out))
	})

	t.Run("result wins over method", func(t *testing.T) {
		msg, err := shared.NewResponse(&id, map[string]bool{"ok": true})
		require.NoError(t, err)
		out, err := json.Marshal(msg)
		require.NoError(t, err)
		assert.JSONEq(t, `{"jsonrpc":"2.0","id":"req-1","result":{"ok":true}}`, string(out))
	})

	t.Run("error shape", func(t *testing.T) {
		msg := shared.NewErrorResponse(&id, &shared.JSONRPCError{Code: shared.JSONRPCErrorMethodNotFound, Message: "nope"})
		out, err := json.Marshal(msg)
		require.NoError(t, err)
		assert.JSONEq(t, `{"jsonrpc":"2.0","id":"req-1","error":{"code":-32601,"message":"nope"}}`, string(out))
	})

	t.Run("notification has no id", func(t *testing.T) {
		msg := shared.NewNotification("notifications/initialized", nil)
		out, err := json.Marshal(msg)
		require.NoError(t, err)
		assert.JSONEq(t, `{"jsonrpc":"2.0","method":"notifications/initialized"}`, string(out))
	})
}

func TestRequestIDRoundTrip(t *testing.T) {
	t.Run("numeric id keeps numeric form", func(t *testing.T) {
		var msg shared.Message
		require.NoError(t, json.Unmarshal([]byte(`{"jsonrpc":"2.0","id":42,"result":{}}`), &msg))
		assert.Equal(t, "42", msg.ID.String())

		out, err := json.Marshal(&msg)
		require.NoError(t, err)
		assert.Contains(t, string(out), `"id":42`)
	})

	t.Run("string and numeric ids key differently", func(t *testing.T) {
		numeric := schema.RequestID_FromUInt64(7)
		str := schema.RequestID_FromString("7")
		assert.NotEqual(t, numeric.Key(), str.Key())
	})
}
