// Package conversation holds the single source of truth for a chat session:
// the ordered message list and the FIFO queue of user messages accepted
// while a cycle is running. Every mutation goes through the store and is
// announced on the event bus; no component keeps a long-lived mutable
// reference to the message slice outside the store's own methods.
package conversation

import (
	"sync"

	"github.com/kelvincushman/browserclaw/pkg/events"
	"github.com/kelvincushman/browserclaw/pkg/types"
)

// Store is the conversation state store. All methods are synchronous,
// in-memory operations; none block.
type Store struct {
	mu       sync.Mutex
	bus      *events.Bus
	messages []*types.Message
	queue    []*types.Message
}

// NewStore creates an empty store publishing on the given bus.
func NewStore(bus *events.Bus) *Store {
	return &Store{bus: bus}
}

// Messages returns a snapshot copy of the message list.
func (s *Store) Messages() []*types.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return snapshot(s.messages)
}

// Last returns the most recent message, or nil when the list is empty.
func (s *Store) Last() *types.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.messages) == 0 {
		return nil
	}
	return s.messages[len(s.messages)-1]
}

// Update applies a read-modify-write transform against the latest message
// list and emits a messages_updated snapshot. The transform runs under the
// store lock and must not call back into the store.
func (s *Store) Update(transform func(messages []*types.Message) []*types.Message) {
	s.mu.Lock()
	s.messages = transform(s.messages)
	snap := snapshot(s.messages)
	s.mu.Unlock()

	s.bus.Emit(events.KindMessagesUpdated, snap)
}

// Append adds messages to the end of the list.
func (s *Store) Append(messages ...*types.Message) {
	if len(messages) == 0 {
		return
	}
	s.Update(func(list []*types.Message) []*types.Message {
		return append(list, messages...)
	})
}

// Enqueue accepts a fully-formed user message while a cycle is busy. The
// queue is drained in FIFO order at the start of each loop iteration.
func (s *Store) Enqueue(msg *types.Message) {
	s.mu.Lock()
	s.queue = append(s.queue, msg)
	snap := snapshot(s.queue)
	s.mu.Unlock()

	s.bus.Emit(events.KindQueueChanged, snap)
}

// Queue returns a snapshot copy of the pending queue.
func (s *Store) Queue() []*types.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return snapshot(s.queue)
}

// QueueLen returns the number of pending messages.
func (s *Store) QueueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// DrainQueue removes and returns every pending message in submission order.
// Emits queue_changed only when the queue was non-empty.
func (s *Store) DrainQueue() []*types.Message {
	s.mu.Lock()
	drained := s.queue
	s.queue = nil
	s.mu.Unlock()

	if len(drained) > 0 {
		s.bus.Emit(events.KindQueueChanged, []*types.Message{})
	}
	return drained
}

// ClearQueue discards every pending message. Used by Abort.
func (s *Store) ClearQueue() {
	s.mu.Lock()
	hadPending := len(s.queue) > 0
	s.queue = nil
	s.mu.Unlock()

	if hadPending {
		s.bus.Emit(events.KindQueueChanged, []*types.Message{})
	}
}

// Reset replaces the message list with the given initial messages and
// clears the queue. This is the only way a message leaves the store other
// than an Update transform.
func (s *Store) Reset(initial []*types.Message) {
	s.mu.Lock()
	s.messages = snapshot(initial)
	hadPending := len(s.queue) > 0
	s.queue = nil
	snap := snapshot(s.messages)
	s.mu.Unlock()

	s.bus.Emit(events.KindMessagesUpdated, snap)
	if hadPending {
		s.bus.Emit(events.KindQueueChanged, []*types.Message{})
	}
}

// snapshot copies the slice header so subscribers never observe later
// appends. Message pointers are shared; parts of settled messages are
// immutable by contract.
func snapshot(list []*types.Message) []*types.Message {
	out := make([]*types.Message, len(list))
	copy(out, list)
	return out
}
