// ABOUTME: HTTP stream source opening a station listen URL for the audio engine
// ABOUTME: Long-lived GET with connect/header timeouts, ICY metadata disabled
package source

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/harper/radio-nowplaying/internal/domain"
)

type HTTPConfig struct {
	URL            string
	ConnectTimeout time.Duration
	HeaderTimeout  time.Duration
	Headers        map[string]string
}

type HTTPSource struct {
	cfg    HTTPConfig
	client *http.Client
}

func NewHTTP(cfg HTTPConfig) *HTTPSource {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: cfg.ConnectTimeout,
		}).DialContext,
		ResponseHeaderTimeout: cfg.HeaderTimeout,
		DisableCompression:    true,
		ExpectContinueTimeout: 1 * time.Second,
	}

	client := &http.Client{
		Transport: transport,
		Timeout:   0, // No total timeout for streaming
	}

	return &HTTPSource{
		cfg:    cfg,
		client: client,
	}
}

// Stream returns a source for url sharing this source's client and headers.
func (h *HTTPSource) Stream(url string) domain.StreamSource {
	s := *h
	s.cfg.URL = url
	return &s
}

func (h *HTTPSource) Connect(ctx context.Context) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	// Interleaved ICY blocks would corrupt the decoder input
	req.Header.Set("Icy-MetaData", "0")

	for k, v := range h.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	return resp.Body, nil
}
