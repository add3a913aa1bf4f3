package bus

import (
	"context"
	"sync"
	"time"
)

// fakeBroker is an in-memory Broker used to test Client without a real
// Redis connection. It models the same list-queue semantics as RedisBroker:
// Publish appends, Recv pops FIFO and blocks (bounded by timeout) until a
// payload is available or ctx is done.
type fakeBroker struct {
	mu     sync.Mutex
	queues map[string][][]byte
	woken  map[string]chan struct{}
	closed bool
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
		t := time.NewTimer(timeout)
		defer t.Stop()
		deadline = t.C
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

func (f *fakeBroker) Clear(ctx context.Context, addr string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.queues, addr)
	return nil
}

func (f *fakeBroker) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}
