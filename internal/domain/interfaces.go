// ABOUTME: Domain interfaces for dependency inversion
// ABOUTME: Feed transport, audio engine and stream source capabilities used by the core
package domain

import (
	"context"
	"io"
)

// StreamSource provides raw audio stream bytes
type StreamSource interface {
	Connect(ctx context.Context) (io.ReadCloser, error)
}

type FeedEventKind int

const (
	FeedOpen FeedEventKind = iota
	FeedMessage
	FeedError
)

// FeedEvent is one signal from a push subscription. Data is set for
// messages, Err for errors.
type FeedEvent struct {
	Kind FeedEventKind
	Data string
	Err  error
}

// FeedSubscription is a single open push channel. Events is closed once
// the subscription has ended and no more events will be delivered.
type FeedSubscription interface {
	Events() <-chan FeedEvent
	Close() error
}

// FeedTransport opens push subscriptions. Handshake failures are delivered
// as FeedError events rather than returned.
type FeedTransport interface {
	Subscribe(ctx context.Context, url string) (FeedSubscription, error)
}

// LoadOptions for a new handle. Handles load paused.
type LoadOptions struct {
	Volume float64
}

// PlaybackHandle is one loaded audio stream.
type PlaybackHandle interface {
	ID() string
	Play(ctx context.Context) error
	Stop(ctx context.Context) error
	Unload(ctx context.Context) error
}

// AudioEngine loads streams into playback handles.
type AudioEngine interface {
	Load(ctx context.Context, url string, opts LoadOptions) (PlaybackHandle, error)
}
