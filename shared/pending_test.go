package shared_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/patvice/ruby-llm-mcp-sub002/shared"
	"github.com/patvice/ruby-llm-mcp-sub002/shared/mcp/schema"
)

func receiveDelivery(t *testing.T, pc *shared.PendingCall) (*shared.Message, error) {
	t.Helper()
	select {
	case d := <-pc.Deliveries():
		return d.Unpack()
	case <-time.After(time.Second):
		t.Fatal("no delivery within 1s")
		return nil, nil
	}
}

func TestCallTableResolveDeliversResponse(t *testing.T) {
	table := shared.NewCallTable(zaptest.NewLogger(t))
	id := schema.RequestID_FromString("r1")
	pc := table.Register(id, "tools/list", true)

	resp, err := shared.NewResponse(&id, map[string]string{"hello": "world"})
	require.NoError(t, err)
	require.True(t, table.Resolve(resp))

	msg, derr := receiveDelivery(t, pc)
	require.NoError(t, derr)
	require.NotNil(t, msg)
	assert.Equal(t, "r1", msg.ID.Value)
	assert.Equal(t, 0, table.Len())
}

func TestCallTableDropsUnknownResponse(t *testing.T) {
	table := shared.NewCallTable(zaptest.NewLogger(t))
	id := schema.RequestID_FromString("ghost")
	resp, err := shared.NewResponse(&id, struct{}{})
	require.NoError(t, err)

	assert.False(t, table.Resolve(resp), "a response nobody waits for is dropped")
}

func TestCallTableDropsLateResponseAfterTimeout(t *testing.T) {
	table := shared.NewCallTable(zaptest.NewLogger(t))
	id := schema.RequestID_FromString("slow")
	pc := table.Register(id, "tools/call", true)

	table.MarkTimedOut(id)
	_, derr := receiveDelivery(t, pc)
	assert.ErrorIs(t, derr, shared.ErrRequestCancelled)

	resp, err := shared.NewResponse(&id, struct{}{})
	require.NoError(t, err)
	assert.False(t, table.Resolve(resp), "the late response must be dropped, not delivered")
}

func TestCallTableDrainAllFailsEveryWaiter(t *testing.T) {
	table := shared.NewCallTable(zaptest.NewLogger(t))
	var calls []*shared.PendingCall
	for _, key := range []string{"a", "b", "c"} {
		calls = append(calls, table.Register(schema.RequestID_FromString(key), "ping", true))
	}

	cause := shared.NewTransportError("receive", assert.AnError)
	assert.Equal(t, 3, table.DrainAll(cause))

	for _, pc := range calls {
		_, derr := receiveDelivery(t, pc)
		var te *shared.TransportError
		require.ErrorAs(t, derr, &te)
		assert.Equal(t, "receive", te.Op)
	}
	assert.Equal(t, 0, table.Len())
}

func TestCallTableCancelOutcomes(t *testing.T) {
	table := shared.NewCallTable(zaptest.NewLogger(t))

	t.Run("pending call is cancelled", func(t *testing.T) {
		id := schema.RequestID_FromString("c1")
		pc := table.Register(id, "tools/call", true)

		assert.Equal(t, shared.CancelOutcomeCancelled, table.Cancel(id))
		_, derr := receiveDelivery(t, pc)
		assert.ErrorIs(t, derr, shared.ErrRequestCancelled)
	})

	t.Run("second cancel reports already cancelled", func(t *testing.T) {
		id := schema.RequestID_FromString("c1")
		assert.Equal(t, shared.CancelOutcomeAlreadyCancelled, table.Cancel(id))
	})

	t.Run("completed call reports already completed", func(t *testing.T) {
		id := schema.RequestID_FromString("c2")
		pc := table.Register(id, "resources/read", true)
		resp, err := shared.NewResponse(&id, struct{}{})
		require.NoError(t, err)
		require.True(t, table.Resolve(resp))
		_, _ = receiveDelivery(t, pc)

		assert.Equal(t, shared.CancelOutcomeAlreadyCompleted, table.Cancel(id))
	})

	t.Run("unknown id reports not found", func(t *testing.T) {
		assert.Equal(t, shared.CancelOutcomeNotFound, table.Cancel(schema.RequestID_FromString("never-sent")))
	})

	t.Run("non-cancellable call stays pending", func(t *testing.T) {
		id := schema.RequestID_FromString("init")
		pc := table.Register(id, "initialize", false)

		assert.Equal(t, shared.CancelOutcomeNotCancellable, table.Cancel(id))
		assert.Equal(t, 1, table.Len())

		resp, err := shared.NewResponse(&id, struct{}{})
		require.NoError(t, err)
		require.True(t, table.Resolve(resp), "the call must still be resolvable after a refused cancel")
		msg, derr := receiveDelivery(t, pc)
		require.NoError(t, derr)
		assert.NotNil(t, msg)
	})
}

func TestCancelOutcomeStrings(t *testing.T) {
	assert.Equal(t, "cancelled", shared.CancelOutcomeCancelled.String())
	assert.Equal(t, "already_cancelled", shared.CancelOutcomeAlreadyCancelled.String())
	assert.Equal(t, "already_completed", shared.CancelOutcomeAlreadyCompleted.String())
	assert.Equal(t, "not_cancellable", shared.CancelOutcomeNotCancellable.String())
	assert.Equal(t, "not_found", shared.CancelOutcomeNotFound.String())
}
