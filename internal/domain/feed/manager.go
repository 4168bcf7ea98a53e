// ABOUTME: Event feed manager keeping the now-playing snapshot in sync with a push subscription
// ABOUTME: One loop goroutine serializes commands, transport events and reconnect timer firings
package feed

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/harper/radio-nowplaying/internal/domain"
	"github.com/harper/radio-nowplaying/internal/domain/nowplaying"
	"github.com/harper/radio-nowplaying/internal/infrastructure/metrics"
)

const DefaultReconnectDelay = 5 * time.Second

var errFeedClosed = errors.New("feed closed by transport")

type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

type Config struct {
	URL            string
	ReconnectDelay time.Duration
}

// timerFunc returns a channel that fires once after d and a function that
// cancels it.
type timerFunc func(d time.Duration) (<-chan time.Time, func() bool)

func newRealTimer(d time.Duration) (<-chan time.Time, func() bool) {
	t := time.NewTimer(d)
	return t.C, t.Stop
}

type cmdKind int

const (
	cmdStart cmdKind = iota
	cmdStop
)

type command struct {
	kind cmdKind
	ack  chan struct{}
}

type subscriber struct {
	id uint64
	fn func(*nowplaying.Snapshot)
}

type Manager struct {
	url       string
	delay     time.Duration
	transport domain.FeedTransport
	log       zerolog.Logger
	metrics   *metrics.Metrics
	newTimer  timerFunc

	snapshot atomic.Pointer[nowplaying.Snapshot]
	state    atomic.Int32

	subsMu  sync.Mutex
	subs    []subscriber
	nextSub uint64

	mu     sync.Mutex
	cmds   chan command
	done   chan struct{}
	cancel context.CancelFunc
}

func New(cfg Config, transport domain.FeedTransport, log zerolog.Logger, m *metrics.Metrics) *Manager {
	delay := cfg.ReconnectDelay
	if delay <= 0 {
		delay = DefaultReconnectDelay
	}

	return &Manager{
		url:       cfg.URL,
		delay:     delay,
		transport: transport,
		log:       log.With().Str("component", "feed").Logger(),
		metrics:   m,
		newTimer:  newRealTimer,
	}
}

// Snapshot returns the latest snapshot, or nil before the first update.
func (m *Manager) Snapshot() *nowplaying.Snapshot {
	return m.snapshot.Load()
}

func (m *Manager) ListenURL() (string, bool) {
	return m.Snapshot().ListenURL()
}

func (m *Manager) State() State {
	return State(m.state.Load())
}

// Subscribe registers fn to receive every new snapshot. fn runs on the feed
// loop right after the replacement and must not call Start or Stop.
func (m *Manager) Subscribe(fn func(*nowplaying.Snapshot)) (unsubscribe func()) {
	m.subsMu.Lock()
	m.nextSub++
	id := m.nextSub
	m.subs = append(m.subs, subscriber{id: id, fn: fn})
	m.subsMu.Unlock()

	return func() {
		m.subsMu.Lock()
		defer m.subsMu.Unlock()
		for i, s := range m.subs {
			if s.id == id {
				m.subs = append(m.subs[:i:i], m.subs[i+1:]...)
				return
			}
		}
	}
}

// Start opens the subscription, replacing any open one.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.done == nil {
		ctx, cancel := context.WithCancel(context.Background())
		m.cmds = make(chan command)
		m.done = make(chan struct{})
		m.cancel = cancel
		go m.run(ctx, m.cmds, m.done)
	}

	ack := make(chan struct{})
	m.cmds <- command{kind: cmdStart, ack: ack}
	<-ack
}

// Stop closes the subscription and cancels any pending reconnect. Events
// still in flight from the closed subscription are dropped.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.done == nil {
		return
	}

	m.cmds <- command{kind: cmdStop}
	<-m.done
	m.cancel()

	m.cmds = nil
	m.done = nil
	m.cancel = nil
}

func (m *Manager) setState(s State) {
	prev := State(m.state.Swap(int32(s)))
	if prev != s {
		m.log.Debug().Str("from", prev.String()).Str("to", s.String()).Msg("connection state changed")
	}
	m.metrics.FeedState(int(s))
}

// loop holds the state only the run goroutine touches.
type loop struct {
	m         *Manager
	ctx       context.Context
	sub       domain.FeedSubscription
	events    <-chan domain.FeedEvent
	retry     <-chan time.Time
	stopRetry func() bool
}

func (m *Manager) run(ctx context.Context, cmds <-chan command, done chan struct{}) {
	defer close(done)

	l := &loop{m: m, ctx: ctx}

	for {
		select {
		case cmd := <-cmds:
			switch cmd.kind {
			case cmdStart:
				l.cancelRetry()
				l.connect()
				close(cmd.ack)
			case cmdStop:
				l.cancelRetry()
				l.closeSub()
				m.setState(Disconnected)
				m.log.Info().Msg("feed stopped")
				return
			}

		case ev, ok := <-l.events:
			if !ok {
				l.fail(errFeedClosed)
				continue
			}
			l.handle(ev)

		case <-l.retry:
			l.retry = nil
			l.stopRetry = nil
			m.metrics.FeedReconnect()
			m.log.Info().Str("url", m.url).Msg("reconnecting feed")
			l.connect()
		}
	}
}

func (l *loop) connect() {
	l.closeSub()
	l.m.setState(Connecting)
	l.m.log.Info().Str("url", l.m.url).Msg("connecting feed")

	sub, err := l.m.transport.Subscribe(l.ctx, l.m.url)
	if err != nil {
		l.fail(err)
		return
	}

	l.sub = sub
	l.events = sub.Events()
}

func (l *loop) closeSub() {
	if l.sub == nil {
		return
	}
	if err := l.sub.Close(); err != nil {
		l.m.log.Debug().Err(err).Msg("close subscription")
	}
	l.sub = nil
	l.events = nil
}

func (l *loop) cancelRetry() {
	if l.stopRetry != nil {
		l.stopRetry()
	}
	l.retry = nil
	l.stopRetry = nil
}

// fail drops the current subscription and schedules a single reconnect.
// Errors never surface past the log.
func (l *loop) fail(err error) {
	l.m.metrics.FeedError()
	l.m.log.Warn().Err(err).Dur("retry_in", l.m.delay).Msg("feed error")

	l.closeSub()
	l.cancelRetry()
	l.retry, l.stopRetry = l.m.newTimer(l.m.delay)
	l.m.setState(Reconnecting)
}

func (l *loop) handle(ev domain.FeedEvent) {
	switch ev.Kind {
	case domain.FeedOpen:
		l.m.setState(Connected)
		l.m.log.Info().Msg("feed connected")
	case domain.FeedMessage:
		l.m.handleMessage(ev.Data)
	case domain.FeedError:
		err := ev.Err
		if err == nil {
			err = errFeedClosed
		}
		l.fail(err)
	}
}

func (m *Manager) handleMessage(data string) {
	if nowplaying.IsKeepAlive(data) {
		m.metrics.FeedMessage(metrics.OutcomeKeepAlive)
		return
	}

	snap, err := nowplaying.Decode(data)
	if err != nil {
		m.metrics.FeedMessage(metrics.OutcomeMalformed)
		m.log.Warn().Err(err).Msg("discarding feed message")
		return
	}
	if snap == nil {
		m.metrics.FeedMessage(metrics.OutcomeIgnored)
		return
	}

	m.snapshot.Store(snap)
	m.metrics.FeedMessage(metrics.OutcomeUpdated)

	ev := m.log.Debug().Str("station", snap.StationName())
	if snap.CurrentSong != nil {
		ev = ev.Str("artist", snap.CurrentSong.Artist).Str("title", snap.CurrentSong.Title)
	}
	ev.Int("history", len(snap.History)).Msg("now playing updated")

	m.notify(snap)
}

func (m *Manager) notify(snap *nowplaying.Snapshot) {
	m.subsMu.Lock()
	subs := make([]subscriber, len(m.subs))
	copy(subs, m.subs)
	m.subsMu.Unlock()

	for _, s := range subs {
		s.fn(snap)
	}
}
