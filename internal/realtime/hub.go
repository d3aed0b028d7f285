// Package realtime streams an org's domain events to websocket clients.
package realtime

import (
	"context"
	"encoding/json"
	"sync"

	"medilink/internal/events"
)

// Subscriber streams raw event payloads for one org until stop is called or ctx ends.
type Subscriber interface {
	Subscribe(ctx context.Context, orgID string) (<-chan []byte, func(), error)
}

// Hub is an in-process fan-out used when no Redis is configured. It serves a single server instance only.
type Hub struct {
	mu   sync.Mutex
	subs map[string]map[chan []byte]struct{}
	buf  int
}

// NewHub returns a Hub whose subscribers buffer up to buf messages; a slow subscriber misses the overflow.
func NewHub(buf int) *Hub {
	if buf <= 0 {
		buf = 16
	}
	return &Hub{subs: make(map[string]map[chan []byte]struct{}), buf: buf}
}

// Send delivers e to every subscriber of its orgs. It never blocks on a subscriber.
func (h *Hub) Send(_ context.Context, e events.Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, org := range e.OrgIDs {
		for ch := range h.subs[org] {
			select {
			case ch <- payload:
			default:
			}
		}
	}
	return nil
}

func (h *Hub) Subscribe(ctx context.Context, orgID string) (<-chan []byte, func(), error) {
	ch := make(chan []byte, h.buf)
	h.mu.Lock()
	if h.subs[orgID] == nil {
		h.subs[orgID] = make(map[chan []byte]struct{})
	}
	h.subs[orgID][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[orgID], ch)
			if len(h.subs[orgID]) == 0 {
				delete(h.subs, orgID)
			}
			h.mu.Unlock()
			close(ch)
		})
	}
	return ch, stop, nil
}

// Subscribers returns the number of live subscriptions for orgID.
func (h *Hub) Subscribers(orgID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[orgID])
}
