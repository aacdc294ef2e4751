package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/tutu-network/pana/internal/domain"
	"github.com/tutu-network/pana/internal/infra/observability"
)

// ─── Observer Event Stream ──────────────────────────────────────────────────
// GET /api/events delivers every observer event to the UI as Server-Sent
// Events: "event: <kind>\ndata: <json>\n\n".

// HeartbeatInterval is the interval between SSE keep-alive comments.
const HeartbeatInterval = 30 * time.Second

// Hub fans observer events out to SSE clients. It implements
// domain.Observer; a client whose buffer is full misses the event.
type Hub struct {
	mu      sync.RWMutex
	clients map[chan domain.Event]struct{}
	buffer  int
}

// NewHub creates an event hub.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[chan domain.Event]struct{}),
		buffer:  64,
	}
}

// Notify implements domain.Observer. It never blocks.
func (h *Hub) Notify(ev domain.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.clients {
		select {
		case ch <- ev:
		default:
			observability.EventsDropped.Inc()
		}
	}
}

// Subscribe registers a client. Returns the channel and an unsubscribe func.
func (h *Hub) Subscribe() (<-chan domain.Event, func()) {
	ch := make(chan domain.Event, h.buffer)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.clients, ch)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleSSE serves the event stream.
func (h *Hub) HandleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	ch, unsub := h.Subscribe()
	defer unsub()

	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	heartbeat := time.NewTicker(HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
		case ev := <-ch:
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
