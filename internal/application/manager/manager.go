// ABOUTME: Player manager wiring the feed, playback controller, API and mirror together
// ABOUTME: Builds every component from config and owns their start and shutdown order
package manager

import (
	"context"
	"errors"
	"fmt"
	nethttp "net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/harper/radio-nowplaying/internal/application/config"
	"github.com/harper/radio-nowplaying/internal/domain"
	"github.com/harper/radio-nowplaying/internal/domain/feed"
	"github.com/harper/radio-nowplaying/internal/domain/nowplaying"
	"github.com/harper/radio-nowplaying/internal/domain/playback"
	"github.com/harper/radio-nowplaying/internal/infrastructure/audio"
	"github.com/harper/radio-nowplaying/internal/infrastructure/http"
	"github.com/harper/radio-nowplaying/internal/infrastructure/metrics"
	"github.com/harper/radio-nowplaying/internal/infrastructure/redis"
	"github.com/harper/radio-nowplaying/internal/infrastructure/source"
	"github.com/harper/radio-nowplaying/internal/infrastructure/sse"
)

// SnapshotMirror receives every new snapshot without blocking the feed.
type SnapshotMirror interface {
	Publish(snap *nowplaying.Snapshot) bool
	Close() error
}

// Options replaces the default adapters; zero values build the real ones.
type Options struct {
	Transport domain.FeedTransport
	Engine    domain.AudioEngine
	Mirror    SnapshotMirror
	Registry  *prometheus.Registry
}

type Manager struct {
	Feed     *feed.Manager
	Player   *playback.Controller
	Events   *http.EventsHandler
	Registry *prometheus.Registry

	log     zerolog.Logger
	mirror  SnapshotMirror
	unsub   func()
	stopped sync.Once
}

func NewFromConfig(ctx context.Context, cfg *config.Config, log zerolog.Logger, opts Options) (*Manager, error) {
	feedURL, err := sse.ConnectURL(cfg.Feed.URL, cfg.Feed.Channel)
	if err != nil {
		return nil, fmt.Errorf("feed url: %w", err)
	}

	reg := opts.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	m := metrics.New(reg)

	transport := opts.Transport
	if transport == nil {
		transport = sse.NewClient(sse.Config{
			ConnectTimeout: cfg.Feed.ConnectTimeout(),
			HeaderTimeout:  cfg.Feed.HeaderTimeout(),
			IdleTimeout:    cfg.Feed.IdleTimeout(),
			Headers:        cfg.Feed.RequestHeaders,
		}, log)
	}

	engine := opts.Engine
	if engine == nil {
		engine = audio.NewEngine(source.NewHTTP(source.HTTPConfig{
			ConnectTimeout: cfg.Playback.ConnectTimeout(),
			HeaderTimeout:  cfg.Playback.HeaderTimeout(),
			Headers:        cfg.Playback.RequestHeaders,
		}), log)
	}

	mirror := opts.Mirror
	if mirror == nil && cfg.Redis.Addr != "" {
		rm, err := redis.NewMirror(ctx, redis.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Channel:  cfg.Redis.Channel,
		}, log)
		if err != nil {
			// The player works without the mirror.
			log.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis mirror disabled")
		} else {
			mirror = rm
		}
	}

	mgr := &Manager{
		Registry: reg,
		log:      log.With().Str("component", "manager").Logger(),
		mirror:   mirror,
	}

	mgr.Feed = feed.New(feed.Config{
		URL:            feedURL,
		ReconnectDelay: cfg.ReconnectDelay(),
	}, transport, log, m)

	mgr.Player = playback.New(playback.Config{Volume: cfg.Playback.Volume}, engine, mgr.Feed, log, m)
	mgr.Events = http.NewEventsHandler(mgr.Feed, mgr.Player, log)

	mgr.unsub = mgr.Feed.Subscribe(mgr.onSnapshot)
	mgr.Player.OnChange(func(bool) { mgr.Events.Notify() })

	return mgr, nil
}

func (m *Manager) onSnapshot(snap *nowplaying.Snapshot) {
	if snap.CurrentSong != nil {
		m.log.Info().
			Str("station", snap.StationName()).
			Str("artist", snap.CurrentSong.Artist).
			Str("title", snap.CurrentSong.Title).
			Msg("now playing")
	}

	m.Events.Notify()
	if m.mirror != nil {
		m.mirror.Publish(snap)
	}
}

// Handler serves the local API.
func (m *Manager) Handler() nethttp.Handler {
	return http.NewMux(m.Feed, m.Player, m.Events, m.Registry, m.log)
}

func (m *Manager) Start() error {
	m.Feed.Start()
	return nil
}

// Shutdown stops playback, closes the feed and the mirror. Safe to call more
// than once.
func (m *Manager) Shutdown(ctx context.Context) error {
	var errs []error
	m.stopped.Do(func() {
		m.Events.Close()

		if err := m.Player.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop playback: %w", err))
		}

		m.Feed.Stop()
		m.unsub()

		if m.mirror != nil {
			if err := m.mirror.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close mirror: %w", err))
			}
		}
	})
	return errors.Join(errs...)
}
