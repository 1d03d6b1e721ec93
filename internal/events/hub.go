// Package events fans lifecycle notifications out to in-process subscribers
// (SSE clients, the watch TUI) and keeps a short replay buffer.
package events

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// Notification types published by the relay.
const (
	TypeWorkerStarting  = "worker.starting"
	TypeWorkerReady     = "worker.ready"
	TypeWorkerFailed    = "worker.failed"
	TypeWorkerExited    = "worker.exited"
	TypeEventQueued     = "event.queued"
	TypeEventDispatched = "event.dispatched"
	TypeQueueDrained    = "queue.drained"
	TypeHandlesSaved    = "handles.saved"
)

// Notice is one published notification.
type Notice struct {
	ID   int64           `json:"id"`
	Type string          `json:"type"`
	At   time.Time       `json:"at"`
	Data json.RawMessage `json:"data"`
}

// Hub is an in-memory pub/sub with a ring buffer for late subscribers.
// A nil *Hub drops everything it is given.
type Hub struct {
	nextID atomic.Int64

	mu    sync.Mutex
	ring  []Notice
	start int
	size  int

	subs      map[int]chan Notice
	nextSubID int
}

func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = 256
	}
	return &Hub{
		ring: make([]Notice, capacity),
		subs: make(map[int]chan Notice),
	}
}

// Publish stamps and broadcasts a notice. It never blocks on slow subscribers.
func (h *Hub) Publish(typ string, data any) {
	if h == nil {
		return
	}

	payload := json.RawMessage(`{}`)
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			payload = b
		}
	}

	h.mu.Lock()
	n := Notice{
		ID:   h.nextID.Add(1),
		Type: typ,
		At:   time.Now().UTC(),
		Data: payload,
	}
	h.push(n)
	for _, ch := range h.subs {
		select {
		case ch <- n:
		default:
		}
	}
	h.mu.Unlock()
}

// Subscribe returns a buffered channel of future notices and a cancel func
// that closes it.
func (h *Hub) Subscribe() (<-chan Notice, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextSubID
	h.nextSubID++
	ch := make(chan Notice, 128)
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

// Since returns buffered notices with ID > lastID, oldest first.
func (h *Hub) Since(lastID int64) []Notice {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Notice, 0, h.size)
	for i := 0; i < h.size; i++ {
		n := h.ring[(h.start+i)%len(h.ring)]
		if n.ID > lastID {
			out = append(out, n)
		}
	}
	return out
}

// Subscribers reports the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) push(n Notice) {
	if h.size < len(h.ring) {
		h.ring[(h.start+h.size)%len(h.ring)] = n
		h.size++
		return
	}
	h.ring[h.start] = n
	h.start = (h.start + 1) % len(h.ring)
}
