// ABOUTME: Server-sent event stream of the player view
// ABOUTME: Fans out a fresh view to every connected client on each snapshot or playback change
package http

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	EventsBuffer      = 8
	HeartbeatInterval = 25 * time.Second
)

type EventsHandler struct {
	feed   Feed
	player Player
	log    zerolog.Logger

	mu      sync.Mutex
	clients map[chan []byte]struct{}

	done      chan struct{}
	closeOnce sync.Once
}

func NewEventsHandler(f Feed, p Player, log zerolog.Logger) *EventsHandler {
	return &EventsHandler{
		feed:    f,
		player:  p,
		log:     log.With().Str("component", "events").Logger(),
		clients: make(map[chan []byte]struct{}),
		done:    make(chan struct{}),
	}
}

// Close ends every open stream so server shutdown does not wait on them.
func (h *EventsHandler) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

func (h *EventsHandler) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *EventsHandler) encode() []byte {
	b, err := json.Marshal(BuildView(h.feed, h.player))
	if err != nil {
		h.log.Error().Err(err).Msg("encode view")
		return nil
	}
	return b
}

// Notify sends the current view to every client. Clients that are behind
// miss the update; the next one carries the full state anyway. The view is
// read under h.mu so clients see views in the order they were taken.
func (h *EventsHandler) Notify() {
	h.mu.Lock()
	defer h.mu.Unlock()

	b := h.encode()
	if b == nil {
		return
	}
	for ch := range h.clients {
		select {
		case ch <- b:
		default:
			h.log.Debug().Msg("slow events client, dropping update")
		}
	}
}

// add registers a client and returns its first view, taken under the same
// lock so no older view can follow it.
func (h *EventsHandler) add() (chan []byte, []byte) {
	ch := make(chan []byte, EventsBuffer)
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[ch] = struct{}{}
	return ch, h.encode()
}

func (h *EventsHandler) remove(ch chan []byte) {
	h.mu.Lock()
	delete(h.clients, ch)
	h.mu.Unlock()
}

func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	ch, first := h.add()
	defer h.remove(ch)

	write := func(b []byte) bool {
		if _, err := w.Write([]byte("data: ")); err != nil {
			return false
		}
		if _, err := w.Write(b); err != nil {
			return false
		}
		if _, err := w.Write([]byte("\n\n")); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	if first != nil && !write(first) {
		return
	}

	heartbeat := time.NewTicker(HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-h.done:
			return
		case <-heartbeat.C:
			if _, err := w.Write([]byte(": ping\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case b := <-ch:
			if !write(b) {
				return
			}
		}
	}
}
