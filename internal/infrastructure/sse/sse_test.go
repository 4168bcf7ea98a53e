// ABOUTME: Tests for the server-sent events client, parser and URL builder
// ABOUTME: Uses httptest servers to exercise open, message, error and close paths
package sse

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/harper/radio-nowplaying/internal/domain"
)

func TestReadEvents(t *testing.T) {
	stream := ": welcome\n" +
		"data: .\n\n" +
		"id: 7\r\n" +
		"data: {\"a\":1,\r\n" +
		"data: \"b\":2}\r\n\r\n" +
		"event: ping\n" +
		"data: named\n\n" +
		"retry: 1000\n\n" +
		"data:nospace\n\n"

	var got []Event
	err := ReadEvents(strings.NewReader(stream), func(ev Event) bool {
		got = append(got, ev)
		return true
	})
	if err != nil {
		t.Fatalf("ReadEvents failed: %v", err)
	}

	if len(got) != 4 {
		t.Fatalf("expected 4 events, got %d: %+v", len(got), got)
	}
	if got[0].Data != "." {
		t.Errorf("expected keep-alive data, got %q", got[0].Data)
	}
	if got[1].Data != "{\"a\":1,\n\"b\":2}" || got[1].ID != "7" {
		t.Errorf("unexpected multi-line event %+v", got[1])
	}
	if got[2].Name != "ping" || got[2].Data != "named" {
		t.Errorf("unexpected named event %+v", got[2])
	}
	if got[3].Data != "nospace" || got[3].Name != "" || got[3].ID != "7" {
		t.Errorf("unexpected event %+v", got[3])
	}
}

func TestReadEvents_StopEarly(t *testing.T) {
	count := 0
	err := ReadEvents(strings.NewReader("data: 1\n\ndata: 2\n\n"), func(ev Event) bool {
		count++
		return false
	})
	if err != nil {
		t.Fatalf("ReadEvents failed: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 event, got %d", count)
	}
}

func TestConnectURL(t *testing.T) {
	raw, err := ConnectURL("https://radio.example/api/live/nowplaying/sse", "station:ourmusic")
	if err != nil {
		t.Fatalf("ConnectURL failed: %v", err)
	}

	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse result: %v", err)
	}
	if u.Host != "radio.example" || u.Path != "/api/live/nowplaying/sse" {
		t.Errorf("unexpected url %s", raw)
	}

	var directive struct {
		Subs map[string]struct {
			Recover bool `json:"recover"`
		} `json:"subs"`
	}
	if err := json.Unmarshal([]byte(u.Query().Get("cf_connect")), &directive); err != nil {
		t.Fatalf("decode cf_connect: %v", err)
	}
	sub, ok := directive.Subs["station:ourmusic"]
	if !ok || !sub.Recover {
		t.Errorf("expected recover subscription for station:ourmusic, got %+v", directive.Subs)
	}
}

func TestConnectURL_Invalid(t *testing.T) {
	for _, base := range []string{"", "/relative/path", "://bad"} {
		if _, err := ConnectURL(base, "station:x"); err == nil {
			t.Errorf("expected error for %q", base)
		}
	}
}

func next(t *testing.T, ch <-chan domain.FeedEvent) domain.FeedEvent {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if !ok {
			t.Fatal("events channel closed early")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return domain.FeedEvent{}
}

func TestClient_Subscribe(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") != "text/event-stream" {
			t.Errorf("expected Accept: text/event-stream, got %q", r.Header.Get("Accept"))
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("data: .\n\nevent: other\ndata: skip\n\ndata: {\"pub\":{}}\n\n"))
	}))
	defer server.Close()

	c := NewClient(Config{ConnectTimeout: time.Second}, zerolog.Nop())
	sub, err := c.Subscribe(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Close()

	if ev := next(t, sub.Events()); ev.Kind != domain.FeedOpen {
		t.Fatalf("expected open, got %+v", ev)
	}
	if ev := next(t, sub.Events()); ev.Kind != domain.FeedMessage || ev.Data != "." {
		t.Errorf("expected keep-alive message, got %+v", ev)
	}
	if ev := next(t, sub.Events()); ev.Kind != domain.FeedMessage || ev.Data != `{"pub":{}}` {
		t.Errorf("expected json message, got %+v", ev)
	}

	ev := next(t, sub.Events())
	if ev.Kind != domain.FeedError || !errors.Is(ev.Err, ErrStreamEnded) {
		t.Errorf("expected stream-ended error, got %+v", ev)
	}

	select {
	case _, ok := <-sub.Events():
		if ok {
			t.Error("expected events channel to be closed")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("events channel not closed")
	}
}

func TestClient_Subscribe_BadStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	c := NewClient(Config{}, zerolog.Nop())
	sub, err := c.Subscribe(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Subscribe should report handshake failures as events, got %v", err)
	}
	defer sub.Close()

	ev := next(t, sub.Events())
	if ev.Kind != domain.FeedError || ev.Err == nil {
		t.Errorf("expected error event, got %+v", ev)
	}
}

func TestClient_Subscribe_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	addr := server.URL
	server.Close()

	c := NewClient(Config{ConnectTimeout: time.Second}, zerolog.Nop())
	sub, err := c.Subscribe(context.Background(), addr)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Close()

	if ev := next(t, sub.Events()); ev.Kind != domain.FeedError {
		t.Errorf("expected error event, got %+v", ev)
	}
}

func TestClient_Close(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer server.Close()
	defer close(release)

	c := NewClient(Config{}, zerolog.Nop())
	sub, err := c.Subscribe(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	if ev := next(t, sub.Events()); ev.Kind != domain.FeedOpen {
		t.Fatalf("expected open, got %+v", ev)
	}

	closed := make(chan struct{})
	go func() {
		sub.Close()
		close(closed)
	}()

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return")
	}

	// No error event is reported for a locally closed subscription.
	for ev := range sub.Events() {
		t.Errorf("unexpected event after close: %+v", ev)
	}
}

func TestClient_IdleTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("data: .\n\n"))
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer server.Close()

	c := NewClient(Config{IdleTimeout: 100 * time.Millisecond}, zerolog.Nop())
	sub, err := c.Subscribe(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Close()

	if ev := next(t, sub.Events()); ev.Kind != domain.FeedOpen {
		t.Fatalf("expected open, got %+v", ev)
	}
	if ev := next(t, sub.Events()); ev.Kind != domain.FeedMessage || ev.Data != "." {
		t.Fatalf("expected keep-alive message, got %+v", ev)
	}

	ev := next(t, sub.Events())
	if ev.Kind != domain.FeedError || !errors.Is(ev.Err, ErrIdleTimeout) {
		t.Errorf("expected idle timeout error, got %+v", ev)
	}
}

func TestClient_IdleTimeout_KeepAlivesHoldStream(t *testing.T) {
	stop := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()

		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-r.Context().Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				w.Write([]byte("data: .\n\n"))
				w.(http.Flusher).Flush()
			}
		}
	}))
	defer server.Close()
	defer close(stop)

	c := NewClient(Config{IdleTimeout: 150 * time.Millisecond}, zerolog.Nop())
	sub, err := c.Subscribe(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Close()

	if ev := next(t, sub.Events()); ev.Kind != domain.FeedOpen {
		t.Fatalf("expected open, got %+v", ev)
	}

	deadline := time.After(500 * time.Millisecond)
	for {
		select {
		case ev := <-sub.Events():
			if ev.Kind == domain.FeedError {
				t.Fatalf("stream with keep-alives timed out: %v", ev.Err)
			}
		case <-deadline:
			return
		}
	}
}
