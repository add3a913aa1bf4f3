package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kcls/osrfgo/osrfmsg"
)

// fakeBroker is a minimal in-memory bus.Broker used to exercise the worker
// dispatch loop without a real Redis connection.
type fakeBroker struct {
	mu     sync.Mutex
	queues map[string][][]byte
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{queues: make(map[string][][]byte)}
}

func (f *fakeBroker) Publish(ctx context.Context, addr string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queues[addr] = append(f.queues[addr], payload)
	return nil
}

func (f *fakeBroker) Recv(ctx context.Context, addr string, timeout time.Duration) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	q := f.queues[addr]
	if len(q) == 0 {
		return nil, nil
	}
	payload := q[0]
	f.queues[addr] = q[1:]
	return payload, nil
}

func (f *fakeBroker) Clear(ctx context.Context, addr string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.queues, addr)
	return nil
}

func (f *fakeBroker) Close() error { return nil }

func mustVal(t *testing.T, v any) osrfmsg.Value {
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
