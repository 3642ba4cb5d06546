package events

import (
	"sync"
	"time"
)

// Hub fans events out to subscribers. Publishing never blocks: a
// subscriber whose channel is full misses the event
type Hub struct {
	subs map[chan Event]struct{}
	mu   sync.Mutex
}

const subscriberBufferSize = 16

// NewHub creates an empty event hub
func NewHub() *Hub {
	return &Hub{
		subs: map[chan Event]struct{}{},
	}
}

// Subscribe registers a new subscriber, returning its channel and an
// unsubscribe function. The channel is closed on unsubscribe
func (h *Hub) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBufferSize)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Publish stamps the event and delivers it to every subscriber that has
// room for it
func (h *Hub) Publish(typ Type, payload any) {
	ev := Event{
		Type:      typ,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribers returns the current subscriber count
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
