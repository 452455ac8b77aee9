// README: Session registry for real-time channels; exposes Publish to the core.
package ws

import (
	"encoding/json"
	"log"
	"sync"
	"time"
)

// frame is the wire envelope for every outbound event. The timestamp is
// appended by the server at publish time.
type frame struct {
	Event     string `json:"event"`
	Data      any    `json:"data,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

// Hub owns the map of connected sessions keyed by per-user channel. The
// core never touches connections; it only publishes. A channel may hold
// several sessions (one user on multiple devices).
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]map[*Session]struct{}
}

func NewHub() *Hub {
	return &Hub{sessions: make(map[string]map[*Session]struct{})}
}

// Publish delivers one event to every session on the channel. Delivery is
// best-effort and non-blocking: a party with no active session receives
// nothing, and a session with a full buffer has the event dropped.
func (h *Hub) Publish(channel, event string, payload any) {
	data, err := json.Marshal(frame{
		Event:     event,
		Data:      payload,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		log.Printf("ws: marshal %s event: %v", event, err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.sessions[channel] {
		select {
		case s.send <- data:
		default:
			log.Printf("ws: buffer full on %s, dropping %s", channel, event)
		}
	}
}

func (h *Hub) register(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.sessions[s.channel]
	if !ok {
		set = make(map[*Session]struct{})
		h.sessions[s.channel] = set
	}
	set[s] = struct{}{}
}

func (h *Hub) unregister(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.sessions[s.channel]
	if !ok {
		return
	}
	delete(set, s)
	if len(set) == 0 {
		delete(h.sessions, s.channel)
	}
}
