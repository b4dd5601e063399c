package room

import (
	"log/slog"
	"sort"
	"sync"
)

// Hub owns the worker's rooms by name.
type Hub struct {
	mu     sync.Mutex
	rooms  map[string]*Room
	logger *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{rooms: make(map[string]*Room), logger: logger}
}

// Open returns the live room called name, creating it if needed.
func (h *Hub) Open(name string) *Room {
	h.mu.Lock()
	defer h.mu.Unlock()
	if r, ok := h.rooms[name]; ok {
		return r
	}
	r := newRoom(name, h.logger, h.remove)
	h.rooms[name] = r
	return r
}

func (h *Hub) Get(name string) (*Room, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[name]
	return r, ok
}

func (h *Hub) Names() []string {
	h.mu.Lock()
	out := make([]string, 0, len(h.rooms))
	for name := range h.rooms {
		out = append(out, name)
	}
	h.mu.Unlock()
	sort.Strings(out)
	return out
}

// CloseAll closes every open room with reason.
func (h *Hub) CloseAll(reason string) {
	h.mu.Lock()
	rooms := make([]*Room, 0, len(h.rooms))
	for _, r := range h.rooms {
		rooms = append(rooms, r)
	}
	h.mu.Unlock()
	for _, r := range rooms {
		r.Close(reason)
	}
}

func (h *Hub) remove(r *Room) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cur, ok := h.rooms[r.name]; ok && cur == r {
		delete(h.rooms, r.name)
	}
}
