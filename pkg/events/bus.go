// Package events provides the typed publish/subscribe bus the agent core
// uses to expose state changes to external observers. The rendering layer
// subscribes to the bus; the core never holds a reference to any consumer.
package events

import (
	"sync"

	"github.com/kelvincushman/browserclaw/pkg/logging"
)

// Kind identifies the type of event carried on the bus.
type Kind string

const (
	KindMessagesUpdated Kind = "messages_updated" // KindMessagesUpdated carries a full []*types.Message snapshot.
	KindStatusChanged   Kind = "status_changed"   // KindStatusChanged carries a types.Status value.
	KindQueueChanged    Kind = "queue_changed"    // KindQueueChanged carries a snapshot of the pending queue.
	KindUsageReported   Kind = "usage_reported"   // KindUsageReported carries an *llm.Usage after each model call.
)

// Handler receives an event payload. Handlers run synchronously on the
// emitting goroutine in subscription order.
type Handler func(payload interface{})

type subscription struct {
	id      int
	handler Handler
}

// Bus is a per-session event register. Multiple subscribers per kind are
// supported; a panicking handler is isolated and logged so the remaining
// handlers still run.
type Bus struct {
	mu     sync.Mutex
	nextID int
	subs   map[Kind][]subscription
	closed bool
	log    *logging.Logger
}

// NewBus creates an empty event bus.
func NewBus() *Bus {
	log, _ := logging.NewLogger("events")
	return &Bus{
		subs: make(map[Kind][]subscription),
		log:  log,
	}
}

// Subscribe registers a handler for the given event kind and returns a
// function that removes the subscription. Subscribing to a closed bus is a
// no-op whose unsubscribe function does nothing.
func (b *Bus) Subscribe(kind Kind, handler Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed || handler == nil {
		return func() {}
	}

	b.nextID++
	id := b.nextID
	b.subs[kind] = append(b.subs[kind], subscription{id: id, handler: handler})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		list := b.subs[kind]
		for i, s := range list {
			if s.id == id {
				b.subs[kind] = append(list[:i:i], list[i+1:]...)
				return
			}
		}
	}
}

// Emit delivers the payload to every subscriber of the kind, synchronously,
// in subscription order. A handler panic does not prevent later handlers
// from running.
func (b *Bus) Emit(kind Kind, payload interface{}) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	handlers := make([]subscription, len(b.subs[kind]))
	copy(handlers, b.subs[kind])
	b.mu.Unlock()

	for _, s := range handlers {
		b.dispatch(kind, s.handler, payload)
	}
}

// dispatch runs one handler, isolating panics so the bus stays usable.
func (b *Bus) dispatch(kind Kind, handler Handler, payload interface{}) {
	defer func() {
		if r := recover(); r != nil && b.log != nil {
			b.log.Errorf("subscriber for %s panicked: %v", kind, r)
		}
	}()
	handler(payload)
}

// Close drops every subscription and rejects further emits. Used by
// Conversation.Destroy to guarantee no observer outlives the session.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subs = make(map[Kind][]subscription)
}
