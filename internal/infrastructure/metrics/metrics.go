// ABOUTME: Prometheus collectors for the feed subscription and playback handle
// ABOUTME: Registered on a caller-supplied registerer; a nil *Metrics records nothing
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Message outcomes recorded by FeedMessage.
const (
	OutcomeKeepAlive = "keepalive"
	OutcomeUpdated   = "updated"
	OutcomeIgnored   = "ignored"
	OutcomeMalformed = "malformed"
)

type Metrics struct {
	feedMessages     *prometheus.CounterVec
	feedErrors       prometheus.Counter
	feedReconnects   prometheus.Counter
	feedState        prometheus.Gauge
	playbackActive   prometheus.Gauge
	playbackStarts   prometheus.Counter
	playbackFailures prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		feedMessages: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "nowplaying_feed_messages_total", Help: "Feed messages by outcome"},
			[]string{"outcome"},
		),
		feedErrors: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "nowplaying_feed_errors_total", Help: "Transport errors reported by the feed"},
		),
		feedReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "nowplaying_feed_reconnects_total", Help: "Reconnection attempts"},
		),
		feedState: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "nowplaying_feed_connection_state", Help: "0 disconnected, 1 connecting, 2 connected, 3 reconnecting"},
		),
		playbackActive: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "nowplaying_playback_active_handles", Help: "Live playback handles"},
		),
		playbackStarts: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "nowplaying_playback_starts_total", Help: "Playback handles started"},
		),
		playbackFailures: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "nowplaying_playback_failures_total", Help: "Failed playback acquisitions"},
		),
	}

	reg.MustRegister(
		m.feedMessages,
		m.feedErrors,
		m.feedReconnects,
		m.feedState,
		m.playbackActive,
		m.playbackStarts,
		m.playbackFailures,
	)
	return m
}

func (m *Metrics) FeedMessage(outcome string) {
	if m == nil {
		return
	}
	m.feedMessages.WithLabelValues(outcome).Inc()
}

func (m *Metrics) FeedError() {
	if m == nil {
		return
	}
	m.feedErrors.Inc()
}

func (m *Metrics) FeedReconnect() {
	if m == nil {
		return
	}
	m.feedReconnects.Inc()
}

func (m *Metrics) FeedState(state int) {
	if m == nil {
		return
	}
	m.feedState.Set(float64(state))
}

func (m *Metrics) PlaybackStarted() {
	if m == nil {
		return
	}
	m.playbackStarts.Inc()
	m.playbackActive.Set(1)
}

func (m *Metrics) PlaybackStopped() {
	if m == nil {
		return
	}
	m.playbackActive.Set(0)
}

func (m *Metrics) PlaybackFailed() {
	if m == nil {
		return
	}
	m.playbackFailures.Inc()
}
