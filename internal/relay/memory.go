package relay

import (
	"context"
	"sync"
)

// MemoryBus is an in-process Relay shared by several hubs. Tests use it to
// stand in for Redis.
type MemoryBus struct {
	mu   sync.RWMutex
	subs []chan Envelope
}

// NewMemoryBus creates an empty bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{}
}

func (b *MemoryBus) Publish(ctx context.Context, env Envelope) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- env:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context, handle func(Envelope)) error {
	ch := make(chan Envelope, 64)
	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return nil
		case env := <-ch:
			handle(env)
		}
	}
}

func (b *MemoryBus) Close() error { return nil }

// Subscribers returns the number of active subscriptions.
func (b *MemoryBus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
