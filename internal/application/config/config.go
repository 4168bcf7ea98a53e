// ABOUTME: YAML configuration parsing, environment overrides and validation
// ABOUTME: Defines the station feed, playback, local API, auth, redis and logging settings
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const EnvPrefix = "NOWPLAYING_"

type Config struct {
	Listen   ListenConfig   `yaml:"listen"`
	Station  StationConfig  `yaml:"station"`
	Feed     FeedConfig     `yaml:"feed"`
	Playback PlaybackConfig `yaml:"playback"`
	Auth     AuthConfig     `yaml:"auth"`
	Redis    RedisConfig    `yaml:"redis"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ListenConfig is the local API address. Port 0 disables the API.
type ListenConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type StationConfig struct {
	ID string `yaml:"id"`
}

type FeedConfig struct {
	URL              string            `yaml:"url"`
	Channel          string            `yaml:"channel"`
	ReconnectDelayMs int               `yaml:"reconnect_delay_ms"`
	ConnectTimeoutMs int               `yaml:"connect_timeout_ms"`
	HeaderTimeoutMs  int               `yaml:"header_timeout_ms"`
	IdleTimeoutMs    int               `yaml:"idle_timeout_ms"`
	RequestHeaders   map[string]string `yaml:"request_headers"`
}

type PlaybackConfig struct {
	Volume           float64           `yaml:"volume"`
	ConnectTimeoutMs int               `yaml:"connect_timeout_ms"`
	HeaderTimeoutMs  int               `yaml:"header_timeout_ms"`
	RequestHeaders   map[string]string `yaml:"request_headers"`
}

// AuthConfig gates the player behind a signed-in session when URL is set.
type AuthConfig struct {
	URL      string `yaml:"url"`
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SignUp   bool   `yaml:"sign_up"`
}

// RedisConfig enables the snapshot mirror when Addr is set.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Channel  string `yaml:"channel"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

func Defaults() Config {
	return Config{
		Listen: ListenConfig{Host: "127.0.0.1", Port: 8080},
		Feed: FeedConfig{
			ReconnectDelayMs: 5000,
			ConnectTimeoutMs: 10000,
			HeaderTimeoutMs:  15000,
			IdleTimeoutMs:    60000,
		},
		Playback: PlaybackConfig{
			Volume:           1,
			ConnectTimeoutMs: 10000,
			HeaderTimeoutMs:  15000,
		},
		Redis:   RedisConfig{Channel: "nowplaying"},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads path (skipped when empty) over the defaults, then applies
// .env and NOWPLAYING_* environment overrides.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}

		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
	}

	// A missing .env is normal
	_ = godotenv.Load()

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if cfg.Feed.Channel == "" && cfg.Station.ID != "" {
		cfg.Feed.Channel = "station:" + cfg.Station.ID
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyEnv() error {
	strs := map[string]*string{
		"FEED_URL":       &c.Feed.URL,
		"FEED_CHANNEL":   &c.Feed.Channel,
		"STATION_ID":     &c.Station.ID,
		"LISTEN_HOST":    &c.Listen.Host,
		"LOG_LEVEL":      &c.Logging.Level,
		"AUTH_URL":       &c.Auth.URL,
		"AUTH_EMAIL":     &c.Auth.Email,
		"AUTH_PASSWORD":  &c.Auth.Password,
		"REDIS_ADDR":     &c.Redis.Addr,
		"REDIS_PASSWORD": &c.Redis.Password,
		"REDIS_CHANNEL":  &c.Redis.Channel,
	}
	for key, dst := range strs {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"LISTEN_PORT":        &c.Listen.Port,
		"REDIS_DB":           &c.Redis.DB,
		"RECONNECT_DELAY_MS": &c.Feed.ReconnectDelayMs,
		"IDLE_TIMEOUT_MS":    &c.Feed.IdleTimeoutMs,
	}
	for key, dst := range ints {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
			}
			*dst = n
		}
	}

	if v, ok := os.LookupEnv(EnvPrefix + "VOLUME"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%sVOLUME: %w", EnvPrefix, err)
		}
		c.Playback.Volume = f
	}

	if v, ok := os.LookupEnv(EnvPrefix + "LOG_JSON"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sLOG_JSON: %w", EnvPrefix, err)
		}
		c.Logging.JSON = b
	}

	return nil
}

func (c *Config) Validate() error {
	if c.Feed.URL == "" {
		return errors.New("feed.url is required")
	}
	if c.Feed.Channel == "" {
		return errors.New("feed.channel or station.id is required")
	}
	if c.Feed.ReconnectDelayMs <= 0 {
		return errors.New("feed.reconnect_delay_ms must be positive")
	}
	if c.Feed.IdleTimeoutMs < 0 {
		return errors.New("feed.idle_timeout_ms must not be negative")
	}
	if c.Playback.Volume < 0 || c.Playback.Volume > 1 {
		return errors.New("playback.volume must be between 0 and 1")
	}
	if c.Listen.Port < 0 || c.Listen.Port > 65535 {
		return errors.New("listen.port must be between 0 and 65535")
	}
	if c.Auth.URL != "" && (c.Auth.Email == "" || c.Auth.Password == "") {
		return errors.New("auth.email and auth.password are required when auth.url is set")
	}
	return nil
}

func (c *Config) ReconnectDelay() time.Duration {
	return time.Duration(c.Feed.ReconnectDelayMs) * time.Millisecond
}

func (c *Config) APIEnabled() bool {
	return c.Listen.Port > 0
}

func ms(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}

func (c FeedConfig) ConnectTimeout() time.Duration     { return ms(c.ConnectTimeoutMs) }
func (c FeedConfig) HeaderTimeout() time.Duration      { return ms(c.HeaderTimeoutMs) }
func (c FeedConfig) IdleTimeout() time.Duration        { return ms(c.IdleTimeoutMs) }
func (c PlaybackConfig) ConnectTimeout() time.Duration { return ms(c.ConnectTimeoutMs) }
func (c PlaybackConfig) HeaderTimeout() time.Duration  { return ms(c.HeaderTimeoutMs) }
