// ABOUTME: Tests for the speaker-backed audio engine
// ABOUTME: Covers volume mapping and load failures that happen before the speaker is touched
package audio

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/harper/radio-nowplaying/internal/domain"
	"github.com/harper/radio-nowplaying/internal/infrastructure/source"
)

func TestVolumeExponent(t *testing.T) {
	cases := []struct {
		in   float64
		want float64
	}{
		{1, 0},
		{0.5, -1},
		{2, 1},
		{0, MinVolumeExponent},
		{-3, MinVolumeExponent},
		{1e-9, MinVolumeExponent},
	}

	for _, c := range cases {
		if got := volumeExponent(c.in); got != c.want {
			t.Errorf("volumeExponent(%v): expected %v, got %v", c.in, c.want, got)
		}
	}
}

func TestEngine_Load_BadStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	e := NewEngine(source.NewHTTP(source.HTTPConfig{ConnectTimeout: time.Second}), zerolog.Nop())

	h, err := e.Load(context.Background(), server.URL, domain.LoadOptions{Volume: 1})
	if err == nil {
		t.Fatal("expected error for 404 stream")
	}
	if h != nil {
		t.Error("expected no handle on failure")
	}
}

func TestEngine_Load_NotMP3(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Write([]byte("definitely not an mp3 frame"))
	}))
	defer server.Close()

	e := NewEngine(source.NewHTTP(source.HTTPConfig{}), zerolog.Nop())

	if _, err := e.Load(context.Background(), server.URL, domain.LoadOptions{Volume: 1}); err == nil {
		t.Fatal("expected decode error")
	}
	if e.speakerInit {
		t.Error("speaker must not be initialised when decoding fails")
	}
}

type stubSource struct {
	err error
}

func (s stubSource) Connect(ctx context.Context) (io.ReadCloser, error) {
	return nil, s.err
}

type recordingOpener struct {
	urls []string
	err  error
}

func (o *recordingOpener) Stream(url string) domain.StreamSource {
	o.urls = append(o.urls, url)
	return stubSource{err: o.err}
}

func TestEngine_Load_UsesOpener(t *testing.T) {
	refused := errors.New("connection refused")
	opener := &recordingOpener{err: refused}
	e := NewEngine(opener, zerolog.Nop())

	_, err := e.Load(context.Background(), "https://radio.example/listen.mp3", domain.LoadOptions{Volume: 1})
	if !errors.Is(err, refused) {
		t.Errorf("expected opener error, got %v", err)
	}
	if len(opener.urls) != 1 || opener.urls[0] != "https://radio.example/listen.mp3" {
		t.Errorf("expected one stream for the listen url, got %v", opener.urls)
	}
}
