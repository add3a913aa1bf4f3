package session

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kcls/osrfgo/addr"
	"github.com/kcls/osrfgo/bus"
	"github.com/kcls/osrfgo/fabricerr"
	"github.com/kcls/osrfgo/logger"
	"github.com/kcls/osrfgo/osrfmsg"
)

func newTestLogger() logger.Logger {
	return logger.NewConsoleLogger(logger.NewTextPrinter(io.Discard), func(int) {})
}

func mustVal(t *testing.T, v any) osrfmsg.Value {
	t.Helper()
	val, err := osrfmsg.NewValue(v)
	require.NoError(t, err)
	return val
}

func TestServerRespondCompleteSendsResultThenComplete(t *testing.T) {
	t.Parallel()

	broker := newFakeBrokerForSession()
	ctx := context.Background()

	client := addr.Client("user", "d", "opensrf.settings")
	worker := addr.Service("router", "d", "opensrf.settings")

	busConn := bus.NewClient(broker, worker, "d")
	clientConn := bus.NewClient(broker, client, "d")

	srv := NewServer(newTestLogger(), busConn, "opensrf.settings", "thread-1", client)
	srv.BeginRequest(1, false)

	require.NoError(t, srv.RespondComplete(ctx, mustVal(t, "hello")))
	require.True(t, srv.RespondedComplete())

	tmResult, err := clientConn.Recv(ctx, 0, nil)
	require.NoError(t, err)
	require.NotNil(t, tmResult)
	require.Len(t, tmResult.Body, 1)
	_, isResult := tmResult.Body[0].Payload.(osrfmsg.Result)
	require.True(t, isResult)

	tmStatus, err := clientConn.Recv(ctx, 0, nil)
	require.NoError(t, err)
	require.NotNil(t, tmStatus)
	status, isStatus := tmStatus.Body[0].Payload.(osrfmsg.Status)
	require.True(t, isStatus)
	require.Equal(t, fabricerr.CodeComplete, status.StatusCode)

	// A further respond is silently dropped: no new message queued.
	require.NoError(t, srv.Respond(ctx, mustVal(t, "late")))
	tmNone, err := clientConn.Recv(ctx, 0, nil)
	require.NoError(t, err)
	require.Nil(t, tmNone)
}

func TestServerAtomicQueueFlushesAsArray(t *testing.T) {
	t.Parallel()

	broker := newFakeBrokerForSession()
	ctx := context.Background()

	client := addr.Client("user", "d", "opensrf.settings")
	worker := addr.Service("router", "d", "opensrf.settings")

	busConn := bus.NewClient(broker, worker, "d")
	clientConn := bus.NewClient(broker, client, "d")

	srv := NewServer(newTestLogger(), busConn, "opensrf.settings", "thread-2", client)
	srv.BeginRequest(1, true)

	require.NoError(t, srv.Respond(ctx, mustVal(t, 1)))
	require.NoError(t, srv.Respond(ctx, mustVal(t, 2)))
	require.NoError(t, srv.SendComplete(ctx))

	tmResult, err := clientConn.Recv(ctx, 0, nil)
	require.NoError(t, err)
	require.NotNil(t, tmResult)
	result, ok := tmResult.Body[0].Payload.(osrfmsg.Result)
	require.True(t, ok)

	var got []int
	require.NoError(t, result.Content.Decode(&got))
	require.Equal(t, []int{1, 2}, got)

	tmStatus, err := clientConn.Recv(ctx, 0, nil)
	require.NoError(t, err)
	require.NotNil(t, tmStatus)
	_, isStatus := tmStatus.Body[0].Payload.(osrfmsg.Status)
	require.True(t, isStatus)
}

func TestServerRespondErrorEndsWithoutComplete(t *testing.T) {
	t.Parallel()

	broker := newFakeBrokerForSession()
	ctx := context.Background()

	client := addr.Client("user", "d", "opensrf.settings")
	worker := addr.Service("router", "d", "opensrf.settings")

	busConn := bus.NewClient(broker, worker, "d")
	clientConn := bus.NewClient(broker, client, "d")

	srv := NewServer(newTestLogger(), busConn, "opensrf.settings", "thread-3", client)
	srv.BeginRequest(1, false)

	require.NoError(t, srv.RespondError(ctx, fabricerr.CodeInternalServerErr, "boom"))
	require.True(t, srv.RespondedComplete())

	tm, err := clientConn.Recv(ctx, 0, nil)
	require.NoError(t, err)
	require.Len(t, tm.Body, 1)

	status, ok := tm.Body[0].Payload.(osrfmsg.Status)
	require.True(t, ok)
	require.Equal(t, fabricerr.CodeInternalServerErr, status.StatusCode)
}
