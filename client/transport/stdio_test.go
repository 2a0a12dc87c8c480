package transport_test

import (
	"context"
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/patvice/ruby-llm-mcp-sub002/client/transport"
	"github.com/patvice/ruby-llm-mcp-sub002/config"
	"github.com/patvice/ruby-llm-mcp-sub002/shared"
	schema "github.com/patvice/ruby-llm-mcp-sub002/shared/mcp/schema"
)

func shStdio(t *testing.T, script string) *transport.Stdio {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	def := config.Definition{
		Name:      "test",
		Transport: config.TransportStdio,
		Command:   "/bin/sh",
		Args:      []string{"-c", script},
	}
	return transport.NewStdio(def, zap.NewNop())
}

func TestStdio_RoundTrip(t *testing.T) {
	tr := shStdio(t, `while read line; do printf '%s\n' '{"jsonrpc":"2.0","id":1,"result":{"ok":true}}'; done`)
	require.NoError(t, tr.Start(context.Background()))
	defer tr.Close()

	err := tr.Send(context.Background(), shared.NewRequest(schema.RequestID_FromUInt64(1), "tools/list", nil))
	require.NoError(t, err)

	msg := waitMessage(t, tr.Messages())
	assert.True(t, msg.IsResponse())
	assert.Equal(t, "1", msg.ID.Key())
}

func TestStdio_StderrDoesNotDisturbFraming(t *testing.T) {
	script := `while read line; do echo "server log line" >&2; printf '%s\n' '{"jsonrpc":"2.0","id":2,"result":{}}'; done`
	tr := shStdio(t, script)
	require.NoError(t, tr.Start(context.Background()))
	defer tr.Close()

	require.NoError(t, tr.Send(context.Background(), shared.NewRequest(schema.RequestID_FromUInt64(2), "ping", nil)))
	msg := waitMessage(t, tr.Messages())
	assert.True(t, msg.IsResponse())
}

func TestStdio_CloseKillsLingeringChild(t *testing.T) {
	tr := shStdio(t, `sleep 30`)
	require.NoError(t, tr.Start(context.Background()))

	start := time.Now()
	require.NoError(t, tr.Close())
	assert.Less(t, time.Since(start), 3*time.Second, "Close must not wait for the child's own timetable")
}

func TestStdio_RestartReplaysHandshake(t *testing.T) {
	// The child answers exactly one request and exits, forcing the next
	// send through the respawn path.
	script := `read line; printf '%s\n' '{"jsonrpc":"2.0","id":9,"result":{}}'`
	tr := shStdio(t, script)

	var restarts atomic.Int32
	tr.OnRestart(func(ctx context.Context) error {
		restarts.Add(1)
		return nil
	})
	exited := make(chan error, 1)
	tr.OnExit(func(err error) {
		select {
		case exited <- err:
		default:
		}
	})

	require.NoError(t, tr.Start(context.Background()))
	defer tr.Close()

	require.NoError(t, tr.Send(context.Background(), shared.NewRequest(schema.RequestID_FromUInt64(9), "initialize", nil)))
	waitMessage(t, tr.Messages())

	select {
	case err := <-exited:
		var transportErr *shared.TransportError
		require.ErrorAs(t, err, &transportErr)
	case <-time.After(2 * time.Second):
		t.Fatal("the exit hook never fired")
	}

	require.NoError(t, tr.Send(context.Background(), shared.NewRequest(schema.RequestID_FromUInt64(10), "tools/list", nil)))
	assert.EqualValues(t, 1, restarts.Load())

	msg := waitMessage(t, tr.Messages())
	assert.True(t, msg.IsResponse(), "the respawned child must answer the retried send")
}

func TestStdio_SendAfterCloseFails(t *testing.T) {
	tr := shStdio(t, `while read line; do :; done`)
	require.NoError(t, tr.Start(context.Background()))
	require.NoError(t, tr.Close())

	err := tr.Send(context.Background(), shared.NewRequest(schema.RequestID_FromUInt64(3), "ping", nil))
	var transportErr *shared.TransportError
	require.ErrorAs(t, err, &transportErr)
}
