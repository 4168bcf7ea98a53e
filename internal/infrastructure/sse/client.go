// ABOUTME: Server-sent events client implementing the feed transport over a long-lived HTTP GET
// ABOUTME: Reports open, message and error events; handshake failures arrive as error events
package sse

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/harper/radio-nowplaying/internal/domain"
)

var (
	ErrStreamEnded = errors.New("event stream ended")
	ErrIdleTimeout = errors.New("event stream idle")
)

// Config for the client. A positive IdleTimeout ends a stream that delivers
// no bytes, keep-alives included, for that long.
type Config struct {
	ConnectTimeout time.Duration
	HeaderTimeout  time.Duration
	IdleTimeout    time.Duration
	Headers        map[string]string
}

type Client struct {
	cfg    Config
	client *http.Client
	log    zerolog.Logger
}

func NewClient(cfg Config, log zerolog.Logger) *Client {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: cfg.ConnectTimeout,
		}).DialContext,
		ResponseHeaderTimeout: cfg.HeaderTimeout,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &Client{
		cfg: cfg,
		client: &http.Client{
			Transport: transport,
			Timeout:   0, // Event streams stay open
		},
		log: log.With().Str("component", "sse").Logger(),
	}
}

func (c *Client) Subscribe(ctx context.Context, url string) (domain.FeedSubscription, error) {
	ctx, cancel := context.WithCancel(ctx)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-store")
	for k, v := range c.cfg.Headers {
		req.Header.Set(k, v)
	}

	s := &subscription{
		events: make(chan domain.FeedEvent),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go s.run(ctx, c.client, req, c.cfg.IdleTimeout, c.log)

	return s, nil
}

type subscription struct {
	events chan domain.FeedEvent
	cancel context.CancelFunc
	done   chan struct{}
}

func (s *subscription) Events() <-chan domain.FeedEvent {
	return s.events
}

// Close aborts the request and waits for the reader goroutine to exit.
func (s *subscription) Close() error {
	s.cancel()
	<-s.done
	return nil
}

func (s *subscription) emit(ctx context.Context, ev domain.FeedEvent) bool {
	select {
	case s.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *subscription) run(ctx context.Context, client *http.Client, req *http.Request, idle time.Duration, log zerolog.Logger) {
	defer close(s.done)
	defer close(s.events)

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() == nil {
			s.emit(ctx, domain.FeedEvent{Kind: domain.FeedError, Err: fmt.Errorf("http request: %w", err)})
		}
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		s.emit(ctx, domain.FeedEvent{Kind: domain.FeedError, Err: fmt.Errorf("unexpected status: %d", resp.StatusCode)})
		return
	}

	if !s.emit(ctx, domain.FeedEvent{Kind: domain.FeedOpen}) {
		return
	}

	var body io.Reader = resp.Body
	if idle > 0 {
		ir := newIdleReader(resp.Body, idle)
		defer ir.stop()
		body = ir
	}

	err = ReadEvents(body, func(ev Event) bool {
		if ev.Name != "" && ev.Name != "message" {
			log.Debug().Str("event", ev.Name).Msg("skipping named event")
			return true
		}
		return s.emit(ctx, domain.FeedEvent{Kind: domain.FeedMessage, Data: ev.Data})
	})

	if ctx.Err() != nil {
		return
	}
	if err == nil {
		err = ErrStreamEnded
	}
	s.emit(ctx, domain.FeedEvent{Kind: domain.FeedError, Err: err})
}

// idleReader closes the body once no bytes have arrived for timeout, which
// unblocks the pending Read.
type idleReader struct {
	body    io.ReadCloser
	timeout time.Duration
	timer   *time.Timer
	expired atomic.Bool
}

func newIdleReader(body io.ReadCloser, timeout time.Duration) *idleReader {
	r := &idleReader{body: body, timeout: timeout}
	r.timer = time.AfterFunc(timeout, func() {
		r.expired.Store(true)
		body.Close()
	})
	return r
}

func (r *idleReader) Read(p []byte) (int, error) {
	n, err := r.body.Read(p)
	if r.expired.Load() {
		return n, fmt.Errorf("%w: no data for %v", ErrIdleTimeout, r.timeout)
	}
	if n > 0 {
		r.timer.Reset(r.timeout)
	}
	return n, err
}

func (r *idleReader) stop() {
	r.timer.Stop()
}
