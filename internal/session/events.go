package session

// ReliableEvent is an opaque outbound event payload (§4.G: "Events — opaque
// to this spec; reliable events must be re-queued on loss"). The id is
// assigned by the queue and is what OutstandingPackage.Events records for
// NotifyDelivered bookkeeping.
type ReliableEvent struct {
	ID   uint64
	Data []byte
}

// EventQueue holds events awaiting their first send and events already sent
// but not yet acked (tracked externally by id; Requeue reinserts them).
type EventQueue struct {
	nextID  uint64
	pending []ReliableEvent
}

// NewEventQueue constructs an empty queue.
func NewEventQueue() *EventQueue {
	return &EventQueue{nextID: 1}
}

// Enqueue appends a new event, assigning it an id, and returns that id.
func (q *EventQueue) Enqueue(data []byte) uint64 {
	if q == nil {
		return 0
	}
	id := q.nextID
	q.nextID++
	q.pending = append(q.pending, ReliableEvent{ID: id, Data: data})
	return id
}

// Drain removes and returns every currently pending event, for the outbound
// send path to include in the next package.
func (q *EventQueue) Drain() []ReliableEvent {
	if q == nil || len(q.pending) == 0 {
		return nil
	}
	out := q.pending
	q.pending = nil
	return out
}

// Requeue reinserts previously-drained events whose package was lost,
// identified by id; data must be supplied by the caller since the queue
// does not retain sent events once drained.
func (q *EventQueue) Requeue(events []ReliableEvent) {
	if q == nil {
		return
	}
	q.pending = append(q.pending, events...)
}

// Len reports the number of events currently queued for send.
func (q *EventQueue) Len() int {
	if q == nil {
		return 0
	}
	return len(q.pending)
}
