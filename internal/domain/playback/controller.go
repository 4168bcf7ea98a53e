// ABOUTME: Playback controller owning at most one live audio handle
// ABOUTME: Turns play/stop/toggle intents into handle load, stop and release against the current listen URL
package playback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/harper/radio-nowplaying/internal/domain"
	"github.com/harper/radio-nowplaying/internal/infrastructure/metrics"
)

var (
	ErrNothingToPlay  = errors.New("no stream url known yet")
	ErrPlaybackFailed = errors.New("playback failed")
	ErrClosed         = errors.New("playback controller closed")
)

// URLSource yields the stream URL of the latest snapshot.
type URLSource interface {
	ListenURL() (string, bool)
}

type Config struct {
	Volume float64
}

type Controller struct {
	engine  domain.AudioEngine
	urls    URLSource
	volume  float64
	log     zerolog.Logger
	metrics *metrics.Metrics

	// mu is held across engine calls so load and release never overlap.
	mu      sync.Mutex
	handle  domain.PlaybackHandle
	playing atomic.Bool
	closed  bool

	listenersMu sync.Mutex
	listeners   []func(bool)
}

func New(cfg Config, engine domain.AudioEngine, urls URLSource, log zerolog.Logger, m *metrics.Metrics) *Controller {
	return &Controller{
		engine:  engine,
		urls:    urls,
		volume:  cfg.Volume,
		log:     log.With().Str("component", "playback").Logger(),
		metrics: m,
	}
}

// Playing does not wait for an in-flight load or release.
func (c *Controller) Playing() bool {
	return c.playing.Load()
}

// OnChange registers fn to be called with the playing state after every
// successful play or stop.
func (c *Controller) OnChange(fn func(playing bool)) {
	c.listenersMu.Lock()
	c.listeners = append(c.listeners, fn)
	c.listenersMu.Unlock()
}

// Play starts the current stream. It is a no-op while a handle is live and
// returns ErrNothingToPlay when no listen URL is known.
func (c *Controller) Play(ctx context.Context) error {
	c.mu.Lock()
	wasPlaying := c.handle != nil
	err := c.playLocked(ctx)
	playing := c.handle != nil
	c.mu.Unlock()

	if playing != wasPlaying {
		c.emit(playing)
	}
	return err
}

// Stop halts and releases the live handle, if any.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	wasPlaying := c.handle != nil
	err := c.stopLocked(ctx)
	c.mu.Unlock()

	if wasPlaying {
		c.emit(false)
	}
	return err
}

// Toggle stops when playing and plays otherwise.
func (c *Controller) Toggle(ctx context.Context) error {
	c.mu.Lock()
	var err error
	wasPlaying := c.handle != nil
	if wasPlaying {
		err = c.stopLocked(ctx)
	} else {
		err = c.playLocked(ctx)
	}
	playing := c.handle != nil
	c.mu.Unlock()

	if playing != wasPlaying {
		c.emit(playing)
	}
	return err
}

// Close releases every held resource. Later Play and Toggle calls return
// ErrClosed.
func (c *Controller) Close(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	wasPlaying := c.handle != nil
	err := c.stopLocked(ctx)
	c.mu.Unlock()

	if wasPlaying {
		c.emit(false)
	}
	return err
}

func (c *Controller) playLocked(ctx context.Context) error {
	if c.closed {
		return ErrClosed
	}
	if c.handle != nil {
		c.log.Debug().Str("handle", c.handle.ID()).Msg("already playing")
		return nil
	}

	url, ok := c.urls.ListenURL()
	if !ok {
		c.log.Warn().Msg("no listen url, cannot play")
		return ErrNothingToPlay
	}

	h, err := c.engine.Load(ctx, url, domain.LoadOptions{Volume: c.volume})
	if err != nil {
		c.metrics.PlaybackFailed()
		c.log.Error().Err(err).Str("url", url).Msg("load stream")
		return fmt.Errorf("%w: load %s: %v", ErrPlaybackFailed, url, err)
	}

	if err := h.Play(ctx); err != nil {
		c.metrics.PlaybackFailed()
		c.log.Error().Err(err).Str("url", url).Str("handle", h.ID()).Msg("start playback")
		if uerr := h.Unload(ctx); uerr != nil {
			c.log.Warn().Err(uerr).Str("handle", h.ID()).Msg("release failed handle")
		}
		return fmt.Errorf("%w: play %s: %v", ErrPlaybackFailed, url, err)
	}

	c.handle = h
	c.playing.Store(true)
	c.metrics.PlaybackStarted()
	c.log.Info().Str("url", url).Str("handle", h.ID()).Msg("playback started")
	return nil
}

// stopLocked always clears the handle, even when the engine reports errors.
func (c *Controller) stopLocked(ctx context.Context) error {
	h := c.handle
	if h == nil {
		return nil
	}
	c.handle = nil
	c.playing.Store(false)
	c.metrics.PlaybackStopped()

	var errs []error
	if err := h.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop: %w", err))
	}
	if err := h.Unload(ctx); err != nil {
		errs = append(errs, fmt.Errorf("unload: %w", err))
	}

	if err := errors.Join(errs...); err != nil {
		c.log.Warn().Err(err).Str("handle", h.ID()).Msg("playback release")
		return err
	}

	c.log.Info().Str("handle", h.ID()).Msg("playback stopped")
	return nil
}

func (c *Controller) emit(playing bool) {
	c.listenersMu.Lock()
	listeners := make([]func(bool), len(c.listeners))
	copy(listeners, c.listeners)
	c.listenersMu.Unlock()

	for _, fn := range listeners {
		fn(playing)
	}
}
