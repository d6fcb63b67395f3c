package events

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"leadmailer/internal/domain/dispatch"
)

// Event types published by the hub.
const (
	TypeSendEvent = "send_event"
	TypeProgress  = "progress"
)

// Event is one buffered notification. Data is the JSON payload.
type Event struct {
	ID    int64           `json:"id"`
	Type  string          `json:"type"`
	RunID string          `json:"run_id"`
	At    time.Time       `json:"at"`
	Data  json.RawMessage `json:"data"`
}

// Decode unmarshals Data into v.
func (e Event) Decode(v any) error {
	return json.Unmarshal(e.Data, v)
}

// DefaultCapacity is the ring size used when none is given.
const DefaultCapacity = 256

// subscriberBuffer bounds each subscriber channel; a full channel drops events.
const subscriberBuffer = 128

// Hub is an in-memory pub/sub with a ring buffer for late subscribers.
// It receives dispatch snapshots as an observer and fans them out to SSE
// clients and the CLI progress view.
type Hub struct {
	nextID atomic.Int64
	now    func() time.Time

	mu    sync.Mutex
	ring  []Event
	start int
	size  int

	subs      map[int]chan Event
	nextSubID int
}

// NewHub creates a hub buffering the last capacity events.
// PRE: capacity > 0, otherwise DefaultCapacity is used
func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Hub{
		now:  time.Now,
		ring: make([]Event, capacity),
		subs: make(map[int]chan Event),
	}
}

// OnEvent publishes a send event snapshot.
func (h *Hub) OnEvent(runID string, ev dispatch.SendEvent) {
	h.Publish(TypeSendEvent, runID, ev)
}

// OnProgress publishes a progress snapshot.
func (h *Hub) OnProgress(p dispatch.Progress) {
	h.Publish(TypeProgress, p.RunID, p)
}

// Publish buffers an event and offers it to every subscriber without blocking.
// POST: Event ids increase by one per call
func (h *Hub) Publish(eventType, runID string, data any) {
	payload := json.RawMessage("{}")
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			payload = b
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ev := Event{
		ID:    h.nextID.Add(1),
		Type:  eventType,
		RunID: runID,
		At:    h.now().UTC(),
		Data:  payload,
	}
	h.pushLocked(ev)
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribe returns a channel of future events and a cancel func that closes it.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextSubID
	h.nextSubID++
	ch := make(chan Event, subscriberBuffer)
	h.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			close(ch)
			h.mu.Unlock()
		})
	}
	return ch, cancel
}

// SnapshotSince returns buffered events with ID > lastID, oldest first.
// A lastID of 0 returns the whole buffer.
func (h *Hub) SnapshotSince(lastID int64) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Event, 0, h.size)
	for i := 0; i < h.size; i++ {
		ev := h.ring[(h.start+i)%len(h.ring)]
		if ev.ID > lastID {
			out = append(out, ev)
		}
	}
	return out
}

// Subscribers returns the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) pushLocked(ev Event) {
	capacity := len(h.ring)
	if h.size < capacity {
		h.ring[(h.start+h.size)%capacity] = ev
		h.size++
		return
	}
	h.ring[h.start] = ev
	h.start = (h.start + 1) % capacity
}
