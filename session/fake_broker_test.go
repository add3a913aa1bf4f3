package session

import (
	"context"
	"sync"
	"time"
)

// fakeBroker is a minimal in-memory bus.Broker used to exercise session
// logic without a real Redis connection. It matches the FIFO-per-address
// semantics bus.RedisBroker provides.
type fakeBroker struct {
	mu     sync.Mutex
	queues map[string][][]byte
}

func newFakeBrokerForSession() *fakeBroker {
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

func (f *fakeBroker) hasQueued(addr string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queues[addr]) > 0
}
