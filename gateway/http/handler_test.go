package http

import (
	"context"
	"io"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"github.com/kcls/osrfgo/addr"
	"github.com/kcls/osrfgo/bus"
	"github.com/kcls/osrfgo/fabricerr"
	"github.com/kcls/osrfgo/logger"
	"github.com/kcls/osrfgo/osrfmsg"
)

func testLogger() logger.Logger {
	return logger.NewConsoleLogger(logger.NewTextPrinter(io.Discard), func(int) {})
}

// fakeBroker is a minimal in-memory bus.Broker, letting a test stand in for
// the router+worker side of a relayed call.
type fakeBroker struct {
	mu     sync.Mutex
	queues map[string][][]byte
	woken  map[string]chan struct{}
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		queues: make(map[string][][]byte),
		woken:  make(map[string]chan struct{}),
	}
}

func (f *fakeBroker) wakeChan(addr string) chan struct{} {
	ch, ok := f.woken[addr]
	if !ok {
		ch = make(chan struct{}, 1)
		f.woken[addr] = ch
	}
	return ch
}

func (f *fakeBroker) Publish(ctx context.Context, addr string, payload []byte) error {
	f.mu.Lock()
	f.queues[addr] = append(f.queues[addr], payload)
	ch := f.wakeChan(addr)
	f.mu.Unlock()
	select {
	case ch <- struct{}{}:
	default:
	}
	return nil
}

func (f *fakeBroker) tryPop(addr string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	q := f.queues[addr]
	if len(q) == 0 {
		return nil, false
	}
	payload := q[0]
	f.queues[addr] = q[1:]
	return payload, true
}

func (f *fakeBroker) Recv(ctx context.Context, addr string, timeout time.Duration) ([]byte, error) {
	if payload, ok := f.tryPop(addr); ok {
		return payload, nil
	}
	if timeout == 0 {
		return nil, nil
	}
	f.mu.Lock()
	ch := f.wakeChan(addr)
	f.mu.Unlock()

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}
	for {
		select {
		case <-ch:
			if payload, ok := f.tryPop(addr); ok {
				return payload, nil
			}
		case <-deadline:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (f *fakeBroker) Clear(ctx context.Context, addr string) error { return nil }
func (f *fakeBroker) Close() error                                 { return nil }

// popRequest waits for one TransportMessage queued at addr, decoding it.
func (f *fakeBroker) popRequest(t *testing.T, addr string) *osrfmsg.TransportMessage {
	t.Helper()
	payload, err := f.Recv(context.Background(), addr, time.Second)
	require.NoError(t, err)
	require.NotNil(t, payload, "expected a request queued at %s", addr)
	tm, err := osrfmsg.Decode(payload)
	require.NoError(t, err)
	return tm
}

// newTestServer builds a Server whose dial func hands out fakeBroker-backed
// bus.Clients instead of dialing Redis, so relay's per-request connect can
// be exercised without a real broker.
func newTestServer(t *testing.T, broker *fakeBroker) (*Server, addr.Address) {
	t.Helper()
	routerAddr := addr.Router("router", "d")
	busCfg := bus.Config{Domain: "d", Self: addr.Client("user", "d", "http-gateway")}
	srv := NewServer(testLogger(), busCfg, routerAddr, Config{RequestTimeout: time.Second})
	srv.dial = func(ctx context.Context, cfg bus.Config) (*bus.Client, error) {
		return bus.NewClient(broker, cfg.Self, cfg.Domain), nil
	}
	return srv, routerAddr
}

func TestHandleGatewaySuccess(t *testing.T) {
	t.Parallel()
	broker := newFakeBroker()
	srv, routerAddr := newTestServer(t, broker)

	go func() {
		tm := broker.popRequest(t, routerAddr.String())
		trace := tm.Body[0].ThreadTrace
		ctx := context.Background()
		result := osrfmsg.NewResult(ctx, trace, mustValue(t, "pong"))
		complete := osrfmsg.NewStatus(ctx, trace, fabricerr.CodeComplete, fabricerr.CodeComplete.Label())
		reply := osrfmsg.NewTransportMessage(tm.From, tm.To, tm.Thread, result, complete)
		require.NoError(t, broker.Publish(ctx, tm.From, mustEncode(t, reply)))
	}()

	w := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/osrf-gateway?service=opensrf.settings&method=opensrf.settings.ping&param=%22hi%22", nil)
	srv.handleGateway(w, r)

	require.Equal(t, 200, w.Code)

	var resp gatewayResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, 200, resp.Status)
	require.Len(t, resp.Payload, 1)
}

func TestHandleGatewayMissingServiceOrMethod(t *testing.T) {
	t.Parallel()
	broker := newFakeBroker()
	srv, _ := newTestServer(t, broker)

	w := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/osrf-gateway?service=opensrf.settings", nil)
	srv.handleGateway(w, r)

	require.Equal(t, 400, w.Code)
}

func TestHandleGatewayMalformedParam(t *testing.T) {
	t.Parallel()
	broker := newFakeBroker()
	srv, _ := newTestServer(t, broker)

	w := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/osrf-gateway?service=opensrf.settings&method=m&param=not-json", nil)
	srv.handleGateway(w, r)

	require.Equal(t, 400, w.Code)
}

func TestHandleGatewayFailureStatus(t *testing.T) {
	t.Parallel()
	broker := newFakeBroker()
	srv, routerAddr := newTestServer(t, broker)

	go func() {
		tm := broker.popRequest(t, routerAddr.String())
		trace := tm.Body[0].ThreadTrace
		ctx := context.Background()
		fail := osrfmsg.NewStatus(ctx, trace, fabricerr.CodeServiceNotFound, fabricerr.CodeServiceNotFound.Label())
		reply := osrfmsg.NewTransportMessage(tm.From, tm.To, tm.Thread, fail)
		require.NoError(t, broker.Publish(ctx, tm.From, mustEncode(t, reply)))
	}()

	w := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/osrf-gateway?service=opensrf.settings&method=m", nil)
	srv.handleGateway(w, r)

	require.Equal(t, 400, w.Code)
}

func TestHandleGatewayTimeout(t *testing.T) {
	t.Parallel()
	broker := newFakeBroker()
	srv, _ := newTestServer(t, broker)
	srv.cfg.RequestTimeout = 50 * time.Millisecond

	w := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/osrf-gateway?service=opensrf.settings&method=m", nil)
	srv.handleGateway(w, r)

	require.Equal(t, 400, w.Code)
}

func mustValue(t *testing.T, v any) osrfmsg.Value {
	t.Helper()
	val, err := osrfmsg.NewValue(v)
	require.NoError(t, err)
	return val
}

func mustEncode(t *testing.T, tm *osrfmsg.TransportMessage) []byte {
	t.Helper()
	b, err := osrfmsg.Encode(tm)
	require.NoError(t, err)
	return b
}
