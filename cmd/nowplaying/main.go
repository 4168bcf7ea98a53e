// ABOUTME: Main entry point for the now-playing radio player
// ABOUTME: Loads config, signs in if required, follows the station feed and serves the local API
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	nethttp "net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/harper/radio-nowplaying/internal/application/config"
	"github.com/harper/radio-nowplaying/internal/application/manager"
	"github.com/harper/radio-nowplaying/internal/domain/playback"
	"github.com/harper/radio-nowplaying/internal/infrastructure/auth"
	"github.com/harper/radio-nowplaying/internal/infrastructure/http"
	"github.com/harper/radio-nowplaying/internal/infrastructure/logging"
)

const (
	AuthTimeout     = 30 * time.Second
	ShutdownTimeout = 10 * time.Second
	ToggleTimeout   = 20 * time.Second
)

func main() {
	if err := run(); err != nil {
		zlog.Fatal().Err(err).Msg("fatal")
	}
}

func run() error {
	cfgPath := "config.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logging.New(logging.Options{Level: cfg.Logging.Level, JSON: cfg.Logging.JSON}, os.Stderr)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Auth.URL != "" {
		client, err := auth.NewClient(cfg.Auth.URL, AuthTimeout, log)
		if err != nil {
			return err
		}
		authCtx, cancel := context.WithTimeout(ctx, AuthTimeout)
		_, err = manager.EnsureSession(authCtx, client, cfg.Auth, log)
		cancel()
		if err != nil {
			return fmt.Errorf("authenticate: %w", err)
		}
	}

	mgr, err := manager.NewFromConfig(ctx, cfg, log, manager.Options{})
	if err != nil {
		return fmt.Errorf("create manager: %w", err)
	}

	if err := mgr.Start(); err != nil {
		return fmt.Errorf("start feed: %w", err)
	}

	serverErr := make(chan error, 1)
	var srv *nethttp.Server
	if cfg.APIEnabled() {
		addr := fmt.Sprintf("%s:%d", cfg.Listen.Host, cfg.Listen.Port)
		srv = &nethttp.Server{
			Addr:         addr,
			Handler:      mgr.Handler(),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 0, // Event streams
			BaseContext: func(_ net.Listener) context.Context {
				return context.Background()
			},
		}

		go func() {
			log.Info().Str("addr", addr).Msg("listening on http://" + addr + " (try /nowplaying)")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
				serverErr <- fmt.Errorf("http server: %w", err)
			}
		}()
	}

	quit := make(chan struct{})
	go readCommands(os.Stdin, mgr, log, quit)

	var runErr error
	select {
	case <-ctx.Done():
	case <-quit:
	case runErr = <-serverErr:
	}

	log.Info().Msg("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()

	// Open event streams would hold the server shutdown until the deadline.
	mgr.Events.Close()

	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil && runErr == nil {
			runErr = fmt.Errorf("shutdown: %w", err)
		}
	}

	if err := mgr.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("shutdown player")
	}

	log.Info().Msg("shutdown complete")
	return runErr
}

// readCommands toggles on "p" or an empty line, prints the view on "s" and
// quits on "q". End of input leaves the player running until a signal.
func readCommands(r io.Reader, mgr *manager.Manager, log zerolog.Logger, quit chan<- struct{}) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		switch strings.ToLower(strings.TrimSpace(scanner.Text())) {
		case "", "p":
			ctx, cancel := context.WithTimeout(context.Background(), ToggleTimeout)
			err := mgr.Player.Toggle(ctx)
			cancel()
			switch {
			case errors.Is(err, playback.ErrClosed):
				return
			case errors.Is(err, playback.ErrNothingToPlay):
				fmt.Println("nothing to play yet, waiting for the station feed")
			case err != nil:
				fmt.Println("playback failed:", err)
			}
			printView(mgr)
		case "s":
			printView(mgr)
		case "q":
			close(quit)
			return
		default:
			fmt.Println("p/Enter: play or stop, s: status, q: quit")
		}
	}
	if err := scanner.Err(); err != nil {
		log.Warn().Err(err).Msg("read stdin")
	}
}

func printView(mgr *manager.Manager) {
	v := http.BuildView(mgr.Feed, mgr.Player)
	if !v.Loaded {
		fmt.Printf("[%s] loading...\n", v.Connection)
		return
	}

	state := "stopped"
	if v.Playing {
		state = "playing"
	}
	fmt.Printf("[%s] %s (%s)\n", v.Connection, v.Station, state)
	if v.CurrentSong != nil {
		fmt.Printf("  now: %s - %s\n", v.CurrentSong.Artist, v.CurrentSong.Title)
	}
	for i, s := range v.History {
		fmt.Printf("  %d. %s - %s\n", i+1, s.Artist, s.Title)
	}
}
