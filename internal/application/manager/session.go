// ABOUTME: Account gate run before the player starts
// ABOUTME: Reuses a live session or signs in (or registers) with the configured credentials
package manager

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/harper/radio-nowplaying/internal/application/config"
	"github.com/harper/radio-nowplaying/internal/infrastructure/auth"
)

type SessionClient interface {
	Session(ctx context.Context) (*auth.SessionInfo, error)
	SignIn(ctx context.Context, email, password string) (*auth.User, error)
	SignUp(ctx context.Context, email, password, name string) (*auth.User, error)
}

// EnsureSession returns the signed-in user, authenticating when needed.
func EnsureSession(ctx context.Context, client SessionClient, cfg config.AuthConfig, log zerolog.Logger) (*auth.User, error) {
	info, err := client.Session(ctx)
	if err == nil {
		return &info.User, nil
	}
	if !errors.Is(err, auth.ErrNoSession) {
		return nil, fmt.Errorf("check session: %w", err)
	}

	if cfg.SignUp {
		if _, err := client.SignUp(ctx, cfg.Email, cfg.Password, cfg.Name); err != nil {
			return nil, fmt.Errorf("sign up: %w", err)
		}
	} else {
		if _, err := client.SignIn(ctx, cfg.Email, cfg.Password); err != nil {
			return nil, fmt.Errorf("sign in: %w", err)
		}
	}

	// Refresh the session after login or register.
	info, err = client.Session(ctx)
	if err != nil {
		return nil, fmt.Errorf("session after sign in: %w", err)
	}

	log.Info().Str("email", info.User.Email).Msg("welcome")
	return &info.User, nil
}
