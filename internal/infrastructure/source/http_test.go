// ABOUTME: Tests for the HTTP stream source
// ABOUTME: Verifies request headers, body passthrough and non-200 rejection
package source

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPSource_Connect(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Icy-MetaData") != "0" {
			t.Errorf("expected Icy-MetaData: 0 header")
		}
		if r.Header.Get("User-Agent") != "nowplaying-test" {
			t.Errorf("expected custom User-Agent, got %q", r.Header.Get("User-Agent"))
		}

		w.Header().Set("Content-Type", "audio/mpeg")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("audio data"))
	}))
	defer server.Close()

	src := NewHTTP(HTTPConfig{
		URL:            server.URL,
		ConnectTimeout: 5 * time.Second,
		HeaderTimeout:  10 * time.Second,
		Headers:        map[string]string{"User-Agent": "nowplaying-test"},
	})

	reader, err := src.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer reader.Close()

	body, _ := io.ReadAll(reader)
	if string(body) != "audio data" {
		t.Errorf("expected 'audio data', got %q", body)
	}
}

func TestHTTPSource_Connect_BadStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	src := NewHTTP(HTTPConfig{URL: server.URL})

	if _, err := src.Connect(context.Background()); err == nil {
		t.Fatal("expected error for 503 response")
	}
}

func TestHTTPSource_Stream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/listen/radio.mp3" {
			t.Errorf("expected /listen/radio.mp3, got %s", r.URL.Path)
		}
		if r.Header.Get("User-Agent") != "nowplaying-test" {
			t.Errorf("expected custom User-Agent, got %q", r.Header.Get("User-Agent"))
		}
		w.Write([]byte("frames"))
	}))
	defer server.Close()

	base := NewHTTP(HTTPConfig{Headers: map[string]string{"User-Agent": "nowplaying-test"}})

	stream, ok := base.Stream(server.URL + "/listen/radio.mp3").(*HTTPSource)
	if !ok {
		t.Fatal("expected *HTTPSource")
	}
	if stream.client != base.client {
		t.Error("expected streams to share the base client")
	}
	if base.cfg.URL != "" {
		t.Errorf("base url must stay unset, got %s", base.cfg.URL)
	}

	reader, err := stream.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer reader.Close()

	body, _ := io.ReadAll(reader)
	if string(body) != "frames" {
		t.Errorf("expected 'frames', got %q", body)
	}
}
