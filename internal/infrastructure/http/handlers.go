// ABOUTME: HTTP handlers for the local player API
// ABOUTME: Implements now-playing view, toggle, event stream, metrics and health check routes
package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/harper/radio-nowplaying/internal/domain/feed"
	"github.com/harper/radio-nowplaying/internal/domain/nowplaying"
	"github.com/harper/radio-nowplaying/internal/domain/playback"
)

const ToggleTimeout = 20 * time.Second

type Feed interface {
	Snapshot() *nowplaying.Snapshot
	State() feed.State
}

type Player interface {
	Playing() bool
	Toggle(ctx context.Context) error
}

// View is what a player UI renders.
type View struct {
	Loaded      bool              `json:"loaded"`
	Connection  string            `json:"connection"`
	Station     string            `json:"station,omitempty"`
	ListenURL   string            `json:"listen_url,omitempty"`
	CurrentSong *nowplaying.Song  `json:"current_song,omitempty"`
	History     []nowplaying.Song `json:"history"`
	Playing     bool              `json:"playing"`
}

func BuildView(f Feed, p Player) View {
	snap := f.Snapshot()
	v := View{
		Loaded:     snap != nil,
		Connection: f.State().String(),
		History:    []nowplaying.Song{},
		Playing:    p.Playing(),
	}
	if snap == nil {
		return v
	}

	v.Station = snap.StationName()
	v.ListenURL, _ = snap.ListenURL()
	v.CurrentSong = snap.CurrentSong
	if snap.History != nil {
		v.History = snap.History
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

type NowPlayingHandler struct {
	feed   Feed
	player Player
}

func NewNowPlayingHandler(f Feed, p Player) *NowPlayingHandler {
	return &NowPlayingHandler{feed: f, player: p}
}

func (h *NowPlayingHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, BuildView(h.feed, h.player))
}

type ToggleHandler struct {
	feed   Feed
	player Player
	log    zerolog.Logger
}

func NewToggleHandler(f Feed, p Player, log zerolog.Logger) *ToggleHandler {
	return &ToggleHandler{feed: f, player: p, log: log.With().Str("component", "api").Logger()}
}

func (h *ToggleHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	type response struct {
		View
		Error string `json:"error,omitempty"`
	}

	// The toggle finishes even if the client goes away.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), ToggleTimeout)
	defer cancel()

	err := h.player.Toggle(ctx)
	status := http.StatusOK
	switch {
	case err == nil:
	case errors.Is(err, playback.ErrNothingToPlay):
		status = http.StatusConflict
	case errors.Is(err, playback.ErrClosed):
		status = http.StatusServiceUnavailable
	case errors.Is(err, playback.ErrPlaybackFailed):
		status = http.StatusBadGateway
	default:
		status = http.StatusInternalServerError
	}
	if err != nil {
		h.log.Warn().Err(err).Int("status", status).Msg("toggle")
	}

	resp := response{View: BuildView(h.feed, h.player)}
	if err != nil {
		resp.Error = err.Error()
	}
	writeJSON(w, status, resp)
}

func HealthzHandler(w http.ResponseWriter, r *http.Request) {
	type response struct {
		OK bool `json:"ok"`
	}

	writeJSON(w, http.StatusOK, response{OK: true})
}

// NewMux wires every route. gatherer may be nil to leave /metrics out.
func NewMux(f Feed, p Player, events *EventsHandler, gatherer prometheus.Gatherer, log zerolog.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/nowplaying", NewNowPlayingHandler(f, p))
	mux.Handle("/toggle", NewToggleHandler(f, p, log))
	mux.Handle("/events", events)
	mux.HandleFunc("/healthz", HealthzHandler)
	if gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}
