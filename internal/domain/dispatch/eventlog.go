package dispatch

import (
	"sync"
	"time"
)

// EventLog is the append-then-patch sequence of attempts for one run.
// Canonical order is attempt order; entries are never removed or reordered.
// Writers are the run loop only; Snapshot is safe from any goroutine.
type EventLog struct {
	mu     sync.RWMutex
	events []SendEvent
	index  map[int64]int
	nextID int64
}

// NewEventLog creates an empty log with room for capacity attempts.
func NewEventLog(capacity int) *EventLog {
	return &EventLog{
		events: make([]SendEvent, 0, capacity),
		index:  make(map[int64]int, capacity),
	}
}

// Append records a new attempt in sending state and returns it with its id.
// POST: returned event has Status == StatusSending and an id greater than any before it
func (l *EventLog) Append(ev SendEvent) SendEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextID++
	ev.ID = l.nextID
	ev.Status = StatusSending
	ev.Reason = ""
	l.index[ev.ID] = len(l.events)
	l.events = append(l.events, ev)
	return ev
}

// Complete patches a sending event to its terminal status.
// PRE: status is terminal
// POST: event transitions once; later calls return ErrEventFinalized
func (l *EventLog) Complete(id int64, status Status, reason string, at time.Time) (SendEvent, error) {
	if !status.IsTerminal() {
		return SendEvent{}, ErrInvalidStatus
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	i, ok := l.index[id]
	if !ok {
		return SendEvent{}, ErrEventNotFound
	}
	ev := &l.events[i]
	if ev.Status.IsTerminal() {
		return *ev, ErrEventFinalized
	}
	ev.Status = status
	ev.Reason = reason
	ev.At = at
	return *ev, nil
}

// Snapshot returns a copy of all events in attempt order.
func (l *EventLog) Snapshot() []SendEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]SendEvent, len(l.events))
	copy(out, l.events)
	return out
}

// Len returns the number of attempts recorded.
func (l *EventLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}
