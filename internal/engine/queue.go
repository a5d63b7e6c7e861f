package engine

import (
	"sync"

	"github.com/roach88/concord/internal/crdt"
	"github.com/roach88/concord/internal/document"
)

// EventType distinguishes inbound event kinds.
type EventType int

const (
	// EventTypeOperation carries one remote operation.
	EventTypeOperation EventType = iota + 1
	// EventTypeSnapshot carries a remote document snapshot.
	EventTypeSnapshot
)

// String returns the event type name used in logs and metrics.
func (t EventType) String() string {
	switch t {
	case EventTypeOperation:
		return "operation"
	case EventTypeSnapshot:
		return "snapshot"
	}
	return "unknown"
}

// Event is one inbound transport message addressed to a document.
type Event struct {
	Type       EventType
	DocumentID string
	Operation  *crdt.Operation
	Snapshot   *document.Snapshot
}

// OperationEvent builds an EventTypeOperation event.
func OperationEvent(documentID string, op crdt.Operation) Event {
	return Event{Type: EventTypeOperation, DocumentID: documentID, Operation: &op}
}

// SnapshotEvent builds an EventTypeSnapshot event.
func SnapshotEvent(documentID string, snap document.Snapshot) Event {
	return Event{Type: EventTypeSnapshot, DocumentID: documentID, Snapshot: &snap}
}

// validate checks that the event carries the body its type promises.
func (ev Event) validate() error {
	switch ev.Type {
	case EventTypeOperation:
		if ev.Operation == nil {
			return newInvalidEventError(ev, "operation event missing operation")
		}
	case EventTypeSnapshot:
		if ev.Snapshot == nil {
			return newInvalidEventError(ev, "snapshot event missing snapshot")
		}
	default:
		return newInvalidEventError(ev, "unknown event type")
	}
	return nil
}

// eventQueue is an unbounded inbox drained in batches by the Run loop.
// Producers never block on a slow merge; arrival order carries no meaning
// for convergence, but a batch preserves it anyway so logs read naturally.
type eventQueue struct {
	mu      sync.Mutex
	pending []Event
	spare   []Event // previous batch, reused once the loop is done with it
	closed  bool
	// ready holds at most one token: pushes coalesce into a single wakeup.
	// It is closed by close so a waiting loop wakes for the final drain.
	ready chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{
		pending: make([]Event, 0, 64),
		ready:   make(chan struct{}, 1),
	}
}

// push appends ev. It reports false once the queue is closed.
func (q *eventQueue) push(ev Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.pending = append(q.pending, ev)
	select {
	case q.ready <- struct{}{}:
	default:
	}
	return true
}

// drain removes and returns every pending event. The returned slice is
// valid until the next drain.
func (q *eventQueue) drain() []Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil
	}
	batch := q.pending
	// Clear the old batch so it does not pin operations and snapshots.
	clear(q.spare)
	q.pending, q.spare = q.spare[:0], batch
	return batch
}

// wait returns the wakeup channel for use in a select.
func (q *eventQueue) wait() <-chan struct{} {
	return q.ready
}

func (q *eventQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// finished reports whether the queue is closed with nothing left to drain.
func (q *eventQueue) finished() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed && len(q.pending) == 0
}

// close stops accepting events. Safe to call more than once.
func (q *eventQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.ready)
}
