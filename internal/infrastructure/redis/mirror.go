// ABOUTME: Mirrors now-playing snapshots into Redis for other local consumers
// ABOUTME: Stores the latest snapshot under a key and publishes each one on a channel
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	redislib "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/harper/radio-nowplaying/internal/domain/nowplaying"
)

const (
	QueueSize    = 16
	PingAttempts = 5
	PingBackoff  = 200 * time.Millisecond
	WriteTimeout = 3 * time.Second
)

type Config struct {
	Addr     string
	Password string
	DB       int
	Channel  string
}

// store is the subset of the Redis client the mirror writes through.
type store interface {
	Set(ctx context.Context, key string, value []byte) error
	Publish(ctx context.Context, channel string, value []byte) error
	Close() error
}

type clientStore struct {
	c *redislib.Client
}

func (s clientStore) Set(ctx context.Context, key string, value []byte) error {
	return s.c.Set(ctx, key, value, 0).Err()
}

func (s clientStore) Publish(ctx context.Context, channel string, value []byte) error {
	return s.c.Publish(ctx, channel, value).Err()
}

func (s clientStore) Close() error {
	return s.c.Close()
}

// Connect opens a client and pings it with doubling backoff until it answers.
func Connect(ctx context.Context, cfg Config) (*redislib.Client, error) {
	client := redislib.NewClient(&redislib.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	backoff := PingBackoff
	var err error
	for attempt := 1; attempt <= PingAttempts; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, WriteTimeout)
		err = client.Ping(pingCtx).Err()
		cancel()
		if err == nil {
			return client, nil
		}

		if attempt < PingAttempts {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				_ = client.Close()
				return nil, ctx.Err()
			}
			backoff *= 2
		}
	}

	_ = client.Close()
	return nil, fmt.Errorf("ping redis %s: %w", cfg.Addr, err)
}

// Mirror writes snapshots from a bounded queue on its own goroutine so the
// feed never waits on Redis. Snapshots arriving while the queue is full are
// dropped.
type Mirror struct {
	store   store
	channel string
	key     string
	log     zerolog.Logger

	queue   chan *nowplaying.Snapshot
	done    chan struct{}
	stopped chan struct{}

	closeOnce sync.Once
}

func NewMirror(ctx context.Context, cfg Config, log zerolog.Logger) (*Mirror, error) {
	client, err := Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return newMirror(clientStore{c: client}, cfg.Channel, log), nil
}

func newMirror(s store, channel string, log zerolog.Logger) *Mirror {
	m := &Mirror{
		store:   s,
		channel: channel,
		key:     channel + ":latest",
		log:     log.With().Str("component", "redis").Logger(),
		queue:   make(chan *nowplaying.Snapshot, QueueSize),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go m.run()
	return m
}

// Publish enqueues snap. It reports false when the snapshot was dropped.
func (m *Mirror) Publish(snap *nowplaying.Snapshot) bool {
	if snap == nil {
		return false
	}
	select {
	case <-m.done:
		return false
	default:
	}
	select {
	case m.queue <- snap:
		return true
	default:
		m.log.Warn().Msg("mirror queue full, dropping snapshot")
		return false
	}
}

func (m *Mirror) run() {
	defer close(m.stopped)
	for {
		select {
		case <-m.done:
			return
		case snap := <-m.queue:
			if err := m.write(snap); err != nil {
				m.log.Error().Err(err).Msg("mirror snapshot")
			}
		}
	}
}

func (m *Mirror) write(snap *nowplaying.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), WriteTimeout)
	defer cancel()

	if err := m.store.Set(ctx, m.key, data); err != nil {
		return fmt.Errorf("set %s: %w", m.key, err)
	}
	if err := m.store.Publish(ctx, m.channel, data); err != nil {
		return fmt.Errorf("publish %s: %w", m.channel, err)
	}
	return nil
}

func (m *Mirror) Close() error {
	var err error
	m.closeOnce.Do(func() {
		close(m.done)
		<-m.stopped
		err = m.store.Close()
	})
	return err
}
