package event

import (
	"context"
	"sync"
)

// Handler consumes one published event payload. The concrete payload type
// is determined by the topic (see the payload structs in this package).
type Handler func(ctx context.Context, payload any)

// Bus is the publish/subscribe transport between the engine, the
// evaluation workers, and external subscribers. The in-process MemoryBus
// serves tests and single-process deployments; natsbus provides a
// broker-backed implementation for production.
type Bus interface {
	// Publish delivers the payload to all subscribers of the topic.
	Publish(ctx context.Context, topic string, payload any) error

	// Subscribe registers a handler for a topic. The returned function
	// removes the subscription.
	Subscribe(topic string, h Handler) (unsubscribe func())

	// Close releases transport resources.
	Close() error
}

// MemoryBus is an in-process Bus. Publish dispatches synchronously to the
// handlers subscribed at call time, in subscription order. Handlers that
// need to call back into the engine must not block: engine callbacks only
// enqueue mailbox messages, so synchronous dispatch cannot deadlock.
type MemoryBus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[string][]subscription
}

type subscription struct {
	id int
	h  Handler
}

// NewMemoryBus creates an empty in-process bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[string][]subscription)}
}

// Publish delivers the payload to every handler subscribed to the topic.
func (b *MemoryBus) Publish(ctx context.Context, topic string, payload any) error {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs[topic]))
	for _, s := range b.subs[topic] {
		handlers = append(handlers, s.h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(ctx, payload)
	}
	return nil
}

// Subscribe registers a handler for the topic.
func (b *MemoryBus) Subscribe(topic string, h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	subID := b.nextID
	b.nextID++
	b.subs[topic] = append(b.subs[topic], subscription{id: subID, h: h})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		list := b.subs[topic]
		for i, s := range list {
			if s.id == subID {
				b.subs[topic] = append(list[:i], list[i+1:]...)
				return
			}
		}
	}
}

// Close is a no-op for the memory bus.
func (b *MemoryBus) Close() error { return nil }
