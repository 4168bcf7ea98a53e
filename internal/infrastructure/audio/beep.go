// ABOUTME: Audio engine decoding MP3 radio streams and playing them through the system speaker
// ABOUTME: Each handle owns one HTTP stream, decoder and speaker control; unload releases all three
package audio

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/effects"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/speaker"
	"github.com/rs/zerolog"

	"github.com/harper/radio-nowplaying/internal/domain"
)

const (
	SpeakerSampleRate = beep.SampleRate(44100)
	SpeakerBufferSize = 250 * time.Millisecond
	ResampleQuality   = 4
	MinVolumeExponent = -10.0
)

// StreamOpener yields a byte source for a listen URL.
type StreamOpener interface {
	Stream(url string) domain.StreamSource
}

type Engine struct {
	streams StreamOpener
	log     zerolog.Logger

	mu          sync.Mutex
	speakerInit bool
}

func NewEngine(streams StreamOpener, log zerolog.Logger) *Engine {
	return &Engine{
		streams: streams,
		log:     log.With().Str("component", "audio").Logger(),
	}
}

func (e *Engine) ensureSpeaker() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.speakerInit {
		return nil
	}
	if err := speaker.Init(SpeakerSampleRate, SpeakerSampleRate.N(SpeakerBufferSize)); err != nil {
		return fmt.Errorf("init speaker: %w", err)
	}
	e.speakerInit = true
	e.log.Debug().Int("sample_rate", int(SpeakerSampleRate)).Dur("buffer", SpeakerBufferSize).Msg("speaker initialized")
	return nil
}

func (e *Engine) Load(ctx context.Context, url string, opts domain.LoadOptions) (domain.PlaybackHandle, error) {
	// The stream outlives the caller's request; only Unload ends it.
	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	// Abandoning the load aborts the connect as well.
	stopWatch := context.AfterFunc(ctx, cancel)
	body, err := e.streams.Stream(url).Connect(streamCtx)
	stopWatch()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("open stream: %w", err)
	}

	streamer, format, err := mp3.Decode(body)
	if err != nil {
		body.Close()
		cancel()
		return nil, fmt.Errorf("decode mp3: %w", err)
	}

	if err := e.ensureSpeaker(); err != nil {
		streamer.Close()
		cancel()
		return nil, err
	}

	var s beep.Streamer = streamer
	if format.SampleRate != SpeakerSampleRate {
		s = beep.Resample(ResampleQuality, format.SampleRate, SpeakerSampleRate, streamer)
	}

	vol := &effects.Volume{
		Streamer: s,
		Base:     2,
		Volume:   volumeExponent(opts.Volume),
		Silent:   opts.Volume <= 0,
	}
	ctrl := &beep.Ctrl{Streamer: vol, Paused: true}

	speaker.Play(ctrl)

	h := &handle{
		id:       uuid.NewString(),
		ctrl:     ctrl,
		streamer: streamer,
		cancel:   cancel,
	}
	e.log.Debug().Str("handle", h.id).Str("url", url).Int("stream_rate", int(format.SampleRate)).Msg("stream loaded")
	return h, nil
}

// volumeExponent maps a linear 0..1+ volume onto the base-2 exponent used by
// effects.Volume.
func volumeExponent(v float64) float64 {
	if v <= 0 {
		return MinVolumeExponent
	}
	exp := math.Log2(v)
	if exp < MinVolumeExponent {
		return MinVolumeExponent
	}
	return exp
}

type handle struct {
	id       string
	ctrl     *beep.Ctrl
	streamer beep.StreamSeekCloser
	cancel   context.CancelFunc

	unloadOnce sync.Once
	unloadErr  error
}

func (h *handle) ID() string {
	return h.id
}

func (h *handle) Play(ctx context.Context) error {
	speaker.Lock()
	defer speaker.Unlock()
	if h.ctrl.Streamer == nil {
		return fmt.Errorf("handle %s already unloaded", h.id)
	}
	h.ctrl.Paused = false
	return nil
}

func (h *handle) Stop(ctx context.Context) error {
	speaker.Lock()
	h.ctrl.Paused = true
	speaker.Unlock()
	return nil
}

func (h *handle) Unload(ctx context.Context) error {
	h.unloadOnce.Do(func() {
		speaker.Lock()
		h.ctrl.Streamer = nil
		speaker.Unlock()

		h.cancel()
		if err := h.streamer.Close(); err != nil {
			h.unloadErr = fmt.Errorf("close decoder: %w", err)
		}
	})
	return h.unloadErr
}
