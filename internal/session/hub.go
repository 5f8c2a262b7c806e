package session

import (
	"sync"

	"go.uber.org/zap"
)

// Hub fans state changes out to the live connections of each session.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[chan State]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[chan State]struct{})}
}

// Subscribe returns a channel of state snapshots for one session and a
// function that releases it.
func (h *Hub) Subscribe(id string) (<-chan State, func()) {
	ch := make(chan State, 8)
	h.mu.Lock()
	if h.subs[id] == nil {
		h.subs[id] = make(map[chan State]struct{})
	}
	h.subs[id][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[id], ch)
			if len(h.subs[id]) == 0 {
				delete(h.subs, id)
			}
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Publish never blocks; a slow subscriber misses intermediate snapshots.
func (h *Hub) Publish(id string, s State) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs[id] {
		select {
		case ch <- s:
		default:
			zap.L().Warn("state subscriber full, dropping update", zap.String("session_id", id))
		}
	}
}

func (h *Hub) Subscribers(id string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[id])
}
