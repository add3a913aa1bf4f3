package worker

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kcls/osrfgo/addr"
	"github.com/kcls/osrfgo/bus"
	"github.com/kcls/osrfgo/fabricerr"
	"github.com/kcls/osrfgo/logger"
	"github.com/kcls/osrfgo/osrfmsg"
	"github.com/kcls/osrfgo/session"
)

func testLogger() logger.Logger {
	return logger.NewConsoleLogger(logger.NewTextPrinter(io.Discard), func(int) {})
}

func TestWorkerEchoStatelessRoundTrip(t *testing.T) {
	t.Parallel()

	broker := newFakeBroker()
	ctx := context.Background()

	workerAddr := addr.Client("router", "d", "opensrf.settings")
	callerAddr := addr.Client("user", "d", "opensrf.settings")

	w := New(testLogger(), bus.NewClient(broker, workerAddr, "d"), "opensrf.settings", nil, Config{
		IdlePoll: 50 * time.Millisecond,
	})

	req := osrfmsg.NewRequest(ctx, 1, "opensrf.system.echo", []osrfmsg.Value{mustVal(t, "a"), mustVal(t, "b")})
	tm := osrfmsg.NewTransportMessage(workerAddr.String(), callerAddr.String(), "thread-1", req)
	require.NoError(t, broker.Publish(ctx, workerAddr.String(), mustEncode(t, tm)))

	runCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()
	_ = w.Run(runCtx)

	clientConn := bus.NewClient(broker, callerAddr, "d")

	first, err := clientConn.Recv(ctx, 0, nil)
	require.NoError(t, err)
	require.NotNil(t, first)
	result, ok := first.Body[0].Payload.(osrfmsg.Result)
	require.True(t, ok)
	var s string
	require.NoError(t, result.Content.Decode(&s))
	require.Equal(t, "a", s)

	second, err := clientConn.Recv(ctx, 0, nil)
	require.NoError(t, err)
	require.NotNil(t, second)
	_, isResult := second.Body[0].Payload.(osrfmsg.Result)
	require.True(t, isResult)
}

func TestWorkerUnknownMethodReturnsNotFound(t *testing.T) {
	t.Parallel()

	broker := newFakeBroker()
	ctx := context.Background()

	workerAddr := addr.Client("router", "d", "opensrf.settings")
	callerAddr := addr.Client("user", "d", "opensrf.settings")

	w := New(testLogger(), bus.NewClient(broker, workerAddr, "d"), "opensrf.settings", nil, Config{
		IdlePoll: 50 * time.Millisecond,
	})

	req := osrfmsg.NewRequest(ctx, 1, "opensrf.bogus.method", nil)
	tm := osrfmsg.NewTransportMessage(workerAddr.String(), callerAddr.String(), "thread-2", req)
	require.NoError(t, broker.Publish(ctx, workerAddr.String(), mustEncode(t, tm)))

	runCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()
	_ = w.Run(runCtx)

	clientConn := bus.NewClient(broker, callerAddr, "d")
	reply, err := clientConn.Recv(ctx, 0, nil)
	require.NoError(t, err)
	require.NotNil(t, reply)
	status, ok := reply.Body[0].Payload.(osrfmsg.Status)
	require.True(t, ok)
	require.Equal(t, fabricerr.CodeNotFound, status.StatusCode)
}

func TestWorkerArityMismatchReturnsBadRequest(t *testing.T) {
	t.Parallel()

	broker := newFakeBroker()
	ctx := context.Background()

	workerAddr := addr.Client("router", "d", "opensrf.settings")
	callerAddr := addr.Client("user", "d", "opensrf.settings")

	handlers := map[string]Registration{
		"app.needs.one": {Handler: func(ctx context.Context, s *session.Server, params []osrfmsg.Value) error {
			return s.RespondComplete(ctx, params[0])
		}, Arity: Exactly(1)},
	}

	w := New(testLogger(), bus.NewClient(broker, workerAddr, "d"), "app", handlers, Config{
		IdlePoll: 50 * time.Millisecond,
	})

	req := osrfmsg.NewRequest(ctx, 1, "app.needs.one", nil)
	tm := osrfmsg.NewTransportMessage(workerAddr.String(), callerAddr.String(), "thread-3", req)
	require.NoError(t, broker.Publish(ctx, workerAddr.String(), mustEncode(t, tm)))

	runCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()
	_ = w.Run(runCtx)

	clientConn := bus.NewClient(broker, callerAddr, "d")
	reply, err := clientConn.Recv(ctx, 0, nil)
	require.NoError(t, err)
	require.NotNil(t, reply)
	status, ok := reply.Body[0].Payload.(osrfmsg.Status)
	require.True(t, ok)
	require.Equal(t, fabricerr.CodeBadRequest, status.StatusCode)
}

func TestResolveMethodNameStripsAtomicSuffix(t *testing.T) {
	t.Parallel()

	method, atomic := resolveMethodName("app.search.atomic")
	require.Equal(t, "app.search", method)
	require.True(t, atomic)

	method, atomic = resolveMethodName("app.search")
	require.Equal(t, "app.search", method)
	require.False(t, atomic)
}
