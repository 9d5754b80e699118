package so_arm_hold

import (
	"context"
	"sync"
)

// Barrier lets one goroutine block until named events are triggered by another.
// Events triggered before the wait starts are remembered and consumed by the
// next wait that names them.
type Barrier struct {
	mu      sync.Mutex
	cond    *sync.Cond
	fired   map[string]struct{}
	awaited map[string]struct{}
}

// NewBarrier returns an empty barrier.
func NewBarrier() *Barrier {
	b := &Barrier{
		fired:   make(map[string]struct{}),
		awaited: make(map[string]struct{}),
	}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Trigger fires event. A waiter blocked on it is released; otherwise the
// event is kept until a wait consumes it.
func (b *Barrier) Trigger(event string) {
	b.mu.Lock()
	if _, ok := b.awaited[event]; ok {
		delete(b.awaited, event)
	} else {
		b.fired[event] = struct{}{}
	}
	b.mu.Unlock()
	b.cond.Broadcast()
}

// Wait blocks until every event has been triggered.
func (b *Barrier) Wait(events ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.register(events)
	for b.pending(events) {
		b.cond.Wait()
	}
}

// WaitContext is Wait bounded by ctx. On cancellation the events still
// pending are withdrawn, the events already received are kept for the next
// wait and ctx.Err() is returned.
func (b *Barrier) WaitContext(ctx context.Context, events ...string) error {
	stop := context.AfterFunc(ctx, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.cond.Broadcast()
	})
	defer stop()

	b.mu.Lock()
	defer b.mu.Unlock()

	b.register(events)
	for b.pending(events) {
		if err := ctx.Err(); err != nil {
			for _, ev := range events {
				if _, ok := b.awaited[ev]; ok {
					delete(b.awaited, ev)
				} else {
					b.fired[ev] = struct{}{}
				}
			}
			return err
		}
		b.cond.Wait()
	}
	return nil
}

// register consumes already-fired events and marks the rest as awaited. Callers hold mu.
func (b *Barrier) register(events []string) {
	for _, ev := range events {
		if _, ok := b.fired[ev]; ok {
			delete(b.fired, ev)
			continue
		}
		b.awaited[ev] = struct{}{}
	}
}

// pending reports whether any event is still awaited. Callers hold mu.
func (b *Barrier) pending(events []string) bool {
	for _, ev := range events {
		if _, ok := b.awaited[ev]; ok {
			return true
		}
	}
	return false
}
