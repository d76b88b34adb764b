// Package eventqueue implements component C: a thread-safe FIFO of
// outbound client events (pointer, key, cut-text), gated on connection
// state so it never grows unbounded while the engine is disconnected.
package eventqueue

import "sync"

// Sink is the subset of the RFB adapter an event needs to fire itself.
type Sink interface {
	SendPointerEvent(x, y int, buttonMask uint8)
	SendKeyEvent(key uint32, down bool)
	SendClientCutText(text string)
}

// Event is the tagged-variant message the queue carries. Exactly one of
// the three fire paths below runs per event, replacing the original's
// inheritance hierarchy (KeyClientEvent/PointerClientEvent/ClientCutEvent)
// with a single monomorphic struct plus a kind tag, per spec.md §9's
// "Polymorphic events" design note.
type Event struct {
	kind       kind
	x, y       int
	buttonMask uint8
	key        uint32
	pressed    bool
	cutText    string
}

type kind int

const (
	kindPointer kind = iota
	kindKey
	kindCut
)

// NewPointerEvent builds a pointer-move/button event.
func NewPointerEvent(x, y int, buttonMask uint8) Event {
	return Event{kind: kindPointer, x: x, y: y, buttonMask: buttonMask}
}

// NewKeyEvent builds a key press/release event.
func NewKeyEvent(key uint32, pressed bool) Event {
	return Event{kind: kindKey, key: key, pressed: pressed}
}

// NewCutEvent builds a clipboard cut-text event.
func NewCutEvent(text string) Event {
	return Event{kind: kindCut, cutText: text}
}

// fire dispatches the event to the sink; it is the Go analogue of the
// original's virtual MessageEvent::fire(rfbClient*).
func (e Event) fire(sink Sink) {
	switch e.kind {
	case kindPointer:
		sink.SendPointerEvent(e.x, e.y, e.buttonMask)
	case kindKey:
		sink.SendKeyEvent(e.key, e.pressed)
	case kindCut:
		sink.SendClientCutText(e.cutText)
	}
}

// Queue is a FIFO of pending Events guarded by a mutex. Enqueue is gated
// by a caller-supplied predicate (typically "is the connection currently
// Connected?") so events never pile up while detached.
type Queue struct {
	mu     sync.Mutex
	events []Event
}

// New creates an empty Queue.
func New() *Queue {
	return &Queue{}
}

// Enqueue appends e unless allowed returns false, in which case the event
// is silently dropped (spec.md §4.C).
func (q *Queue) Enqueue(e Event, allowed func() bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if allowed != nil && !allowed() {
		return
	}
	q.events = append(q.events, e)
}

// Len reports the number of pending events, mostly for tests.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Drain dequeues and fires every pending event, one at a time, releasing
// the internal lock for the duration of each fire call so a slow sink
// never blocks concurrent Enqueue calls (spec.md §4.C / §5).
func (q *Queue) Drain(sink Sink) {
	for {
		q.mu.Lock()
		if len(q.events) == 0 {
			q.mu.Unlock()
			return
		}
		next := q.events[0]
		q.events = q.events[1:]
		q.mu.Unlock()

		next.fire(sink)
	}
}
