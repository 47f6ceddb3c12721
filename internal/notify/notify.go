// Package notify fans out per-plant change events to dashboard consumers.
package notify

import (
	"sync"
	"sync/atomic"
	"time"

	"codeberg.org/mutker/pvdash/internal/plant"
)

// Kind tells which part of a plant's derived state changed.
type Kind string

const (
	KindGauge  Kind = "gauge"
	KindSeries Kind = "series"
)

// Event is published once per successful update of a plant's derived state.
type Event struct {
	Key  plant.Key `json:"plantKey"`
	Kind Kind      `json:"kind"`
	At   time.Time `json:"at"`
}

// Publisher is what the updater needs from a hub.
type Publisher interface {
	Publish(Event)
}

// Hub delivers events to subscribers without ever blocking the publisher.
// A subscriber whose buffer is full misses the event.
type Hub struct {
	mu      sync.RWMutex
	subs    map[uint64]chan Event
	nextID  uint64
	dropped atomic.Uint64
}

func NewHub() *Hub {
	return &Hub{subs: make(map[uint64]chan Event)}
}

// Subscribe registers a subscriber with the given buffer size. The returned
// cancel function unsubscribes and closes the channel; it is safe to call
// more than once.
func (h *Hub) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)

	h.mu.Lock()
	h.nextID++
	id := h.nextID
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
}

func (h *Hub) Publish(e Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, ch := range h.subs {
		select {
		case ch <- e:
		default:
			h.dropped.Add(1)
		}
	}
}

// Dropped returns how many deliveries were skipped because of full buffers.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
