package engine

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/concord/internal/clock"
	"github.com/roach88/concord/internal/crdt"
	"github.com/roach88/concord/internal/document"
	"github.com/roach88/concord/internal/ir"
)

func testOp(field string, t int64) crdt.Operation {
	return crdt.Operation{
		Actor:   "B",
		Stamp:   clock.Stamp{Time: t, Actor: "B"},
		Field:   field,
		Payload: crdt.Assign{Value: ir.Int(t)},
	}
}

func TestEventQueue_DrainKeepsArrivalOrder(t *testing.T) {
	q := newEventQueue()
	for i := int64(1); i <= 3; i++ {
		require.True(t, q.push(OperationEvent("doc", testOp("title", i))))
	}

	batch := q.drain()
	require.Len(t, batch, 3)
	for i, ev := range batch {
		assert.Equal(t, int64(i+1), ev.Operation.Stamp.Time)
	}
	assert.Nil(t, q.drain())
	assert.Equal(t, 0, q.len())
}

func TestEventQueue_BatchesDoNotAlias(t *testing.T) {
	q := newEventQueue()
	q.push(OperationEvent("doc", testOp("title", 1)))
	first := q.drain()
	require.Len(t, first, 1)
	firstTime := first[0].Operation.Stamp.Time

	q.push(OperationEvent("doc", testOp("title", 2)))
	q.push(OperationEvent("doc", testOp("title", 3)))
	second := q.drain()
	require.Len(t, second, 2)
	assert.Equal(t, int64(2), second[0].Operation.Stamp.Time)
	assert.Equal(t, int64(1), firstTime)
}

func TestEventQueue_WaitCoalescesPushes(t *testing.T) {
	q := newEventQueue()
	q.push(OperationEvent("doc", testOp("title", 1)))
	q.push(OperationEvent("doc", testOp("title", 2)))

	<-q.wait()
	select {
	case <-q.wait():
		t.Fatal("two pushes should leave a single wakeup")
	default:
	}
	assert.Len(t, q.drain(), 2)
}

func TestEventQueue_WaitSignalsLatePush(t *testing.T) {
	q := newEventQueue()
	go func() {
		time.Sleep(10 * time.Millisecond)
		q.push(SnapshotEvent("doc", document.Snapshot{SchemaVersion: 2}))
	}()

	select {
	case <-q.wait():
		batch := q.drain()
		require.Len(t, batch, 1)
		assert.Equal(t, "snapshot", batch[0].Type.String())
		assert.Equal(t, 2, batch[0].Snapshot.SchemaVersion)
	case <-time.After(time.Second):
		t.Fatal("wait did not signal")
	}
}

func TestEventQueue_Close(t *testing.T) {
	q := newEventQueue()
	q.push(OperationEvent("doc", testOp("title", 1)))
	q.close()
	q.close()

	assert.False(t, q.push(OperationEvent("doc", testOp("title", 2))))
	assert.False(t, q.finished(), "pending events must still drain after close")
	assert.Len(t, q.drain(), 1)
	assert.True(t, q.finished())

	select {
	case <-q.wait():
	default:
		t.Fatal("closed queue should wake waiters")
	}
}

func TestEvent_Validate(t *testing.T) {
	tests := []struct {
		name string
		ev   Event
		ok   bool
	}{
		{"operation", OperationEvent("doc", testOp("title", 1)), true},
		{"snapshot", SnapshotEvent("doc", document.Snapshot{}), true},
		{"operation without body", Event{Type: EventTypeOperation, DocumentID: "doc"}, false},
		{"snapshot without body", Event{Type: EventTypeSnapshot, DocumentID: "doc"}, false},
		{"unknown type", Event{Type: 9, DocumentID: "doc"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.ev.validate()
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			var rerr *RuntimeError
			require.True(t, errors.As(err, &rerr))
			assert.Equal(t, ErrCodeInvalidEvent, rerr.Code)
			assert.Equal(t, "doc", rerr.DocumentID)
		})
	}
}

func TestEventQueue_ConcurrentProducers(t *testing.T) {
	q := newEventQueue()

	const producers = 10
	const perProducer = 100

	var wg sync.WaitGroup
	for p := range producers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perProducer {
				q.push(OperationEvent("doc", testOp("title", int64(p*1000+i))))
			}
		}()
	}

	seen := map[int64]bool{}
	done := make(chan struct{})
	go func() {
		defer close(done)
		for len(seen) < producers*perProducer {
			select {
			case <-q.wait():
			case <-time.After(10 * time.Millisecond):
			}
			for _, ev := range q.drain() {
				seen[ev.Operation.Stamp.Time] = true
			}
		}
	}()

	wg.Wait()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("consumer timeout")
	}
	assert.Len(t, seen, producers*perProducer)
}
