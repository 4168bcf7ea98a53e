// ABOUTME: Email and password session client for the station's account service
// ABOUTME: Signs in or registers, keeps the session cookie and reads the current session back
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/net/publicsuffix"
)

const DefaultTimeout = 10 * time.Second

var (
	ErrNoSession   = errors.New("no active session")
	ErrBadResponse = errors.New("unexpected auth response")
)

type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

type Session struct {
	ID        string    `json:"id"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type SessionInfo struct {
	Session Session `json:"session"`
	User    User    `json:"user"`
}

// Client talks to an auth service mounted at BaseURL, e.g.
// https://host/api/auth.
type Client struct {
	baseURL string
	http    *http.Client
	log     zerolog.Logger
}

func NewClient(baseURL string, timeout time.Duration, log zerolog.Logger) (*Client, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("cookie jar: %w", err)
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Jar: jar, Timeout: timeout},
		log:     log.With().Str("component", "auth").Logger(),
	}, nil
}

func (c *Client) SignIn(ctx context.Context, email, password string) (*User, error) {
	body := map[string]string{"email": email, "password": password}
	return c.authenticate(ctx, "/sign-in/email", body)
}

// SignUp registers a new account. An empty name falls back to the local part
// of the email.
func (c *Client) SignUp(ctx context.Context, email, password, name string) (*User, error) {
	if name == "" {
		name, _, _ = strings.Cut(email, "@")
	}
	body := map[string]string{"email": email, "password": password, "name": name}
	return c.authenticate(ctx, "/sign-up/email", body)
}

func (c *Client) authenticate(ctx context.Context, path string, body map[string]string) (*User, error) {
	var resp struct {
		User *User `json:"user"`
	}
	if err := c.do(ctx, http.MethodPost, path, body, &resp); err != nil {
		return nil, err
	}
	if resp.User == nil {
		return nil, fmt.Errorf("%w: %s returned no user", ErrBadResponse, path)
	}

	c.log.Info().Str("email", resp.User.Email).Str("path", path).Msg("authenticated")
	return resp.User, nil
}

// Session returns the current session or ErrNoSession.
func (c *Client) Session(ctx context.Context) (*SessionInfo, error) {
	var info *SessionInfo
	if err := c.do(ctx, http.MethodGet, "/get-session", nil, &info); err != nil {
		return nil, err
	}
	if info == nil || info.User.ID == "" {
		return nil, ErrNoSession
	}
	return info, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Message string `json:"message"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&apiErr)
		if apiErr.Message != "" {
			return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, apiErr.Message)
		}
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	return nil
}
