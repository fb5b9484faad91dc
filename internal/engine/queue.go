package engine

import (
	"context"
	"sync"

	"github.com/roach88/tripsync/internal/channel"
	"github.com/roach88/tripsync/internal/model"
	"github.com/roach88/tripsync/internal/trip"
)

// EventType distinguishes between event kinds.
type EventType int

const (
	// EventTypeCommand is a local mutation submitted through Do.
	EventTypeCommand EventType = iota + 1
	// EventTypeBroadcast is a decoded envelope from the trip topic.
	EventTypeBroadcast
	// EventTypePresence is a decoded presence broadcast.
	EventTypePresence
	// EventTypeState is a channel lifecycle transition.
	EventTypeState
)

func (t EventType) String() string {
	switch t {
	case EventTypeCommand:
		return "command"
	case EventTypeBroadcast:
		return "broadcast"
	case EventTypePresence:
		return "presence"
	case EventTypeState:
		return "state"
	default:
		return "unknown"
	}
}

// Command is a local mutation run on the engine goroutine.
type Command func(ctx context.Context, s *trip.Store) error

// Event is one unit of work for the Run loop. Which fields are set depends
// on Type.
type Event struct {
	Type     EventType
	TripID   int64
	Envelope model.Envelope
	Raw      []byte
	Presence model.PresenceBroadcast
	State    channel.State
	Command  Command

	done chan error
}

// eventQueue is a thread-safe unbounded FIFO.
//
// Producers are the channel goroutine, timers and Do callers; the Run loop
// is the only consumer. The signal channel lets Run wait on the queue and
// ctx together.
type eventQueue struct {
	mu     sync.Mutex
	events []Event
	closed bool
	signal chan struct{} // buffered, size 1
}

func newEventQueue() *eventQueue {
	return &eventQueue{
		events: make([]Event, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds e to the back of the queue.
// Returns false if the queue is closed.
func (q *eventQueue) Enqueue(e Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.events = append(q.events, e)

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue pops the front event without blocking.
func (q *eventQueue) TryDequeue() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return Event{}, false
	}
	e := q.events[0]
	// Drop the slot's references so payloads can be collected.
	q.events[0] = Event{}
	if len(q.events) == 1 {
		q.events = q.events[:0]
	} else {
		q.events = q.events[1:]
	}
	return e, true
}

// Wait returns a channel that fires when events may be available. It is
// closed by Close.
func (q *eventQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Close stops further enqueues and wakes the waiter.
func (q *eventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}

// Drain removes and returns everything still queued.
func (q *eventQueue) Drain() []Event {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := q.events
	q.events = nil
	return out
}
