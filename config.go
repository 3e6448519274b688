package blivedm

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/c-basalt/blivedm-dump/internal/logging"
)

// Default configuration values.
const (
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultAuthTimeout       = 10 * time.Second
	DefaultHandshakeTimeout  = 10 * time.Second
	DefaultReconnectDelay    = 1 * time.Second
	DefaultMaxReconnectDelay = 30 * time.Second
	DefaultJitterFraction    = 0.25
)

// Config holds the configuration for a Client. Zero fields take defaults.
type Config struct {
	// HeartbeatInterval is the period of keep-alive packets while connected.
	// Fallback: BLIVEDM_HEARTBEAT_INTERVAL environment variable.
	HeartbeatInterval time.Duration

	// AuthTimeout bounds the wait for the auth reply.
	// Fallback: BLIVEDM_AUTH_TIMEOUT environment variable.
	AuthTimeout time.Duration

	// HandshakeTimeout bounds the WebSocket opening handshake.
	HandshakeTimeout time.Duration

	// ReconnectDelay is the delay after the first failed attempt; it doubles
	// per consecutive failure up to MaxReconnectDelay.
	// Fallback: BLIVEDM_RECONNECT_DELAY environment variable.
	ReconnectDelay time.Duration

	// MaxReconnectDelay caps the reconnect delay before jitter.
	// Fallback: BLIVEDM_MAX_RECONNECT_DELAY environment variable.
	MaxReconnectDelay time.Duration

	// JitterFraction stretches reconnect delays by a random factor in
	// [1, 1+JitterFraction). Negative disables jitter.
	JitterFraction float64

	// Logger receives operational logs. Defaults to a no-op logger.
	Logger *slog.Logger

	// Metrics receives connection and stream counters. Optional.
	Metrics Metrics
}

// resolveConfig fills empty fields from environment variables and defaults,
// then validates the result.
func resolveConfig(cfg Config) (Config, error) {
	var err error
	if cfg.HeartbeatInterval, err = durationOr(cfg.HeartbeatInterval, "BLIVEDM_HEARTBEAT_INTERVAL", DefaultHeartbeatInterval); err != nil {
		return cfg, err
	}
	if cfg.AuthTimeout, err = durationOr(cfg.AuthTimeout, "BLIVEDM_AUTH_TIMEOUT", DefaultAuthTimeout); err != nil {
		return cfg, err
	}
	if cfg.ReconnectDelay, err = durationOr(cfg.ReconnectDelay, "BLIVEDM_RECONNECT_DELAY", DefaultReconnectDelay); err != nil {
		return cfg, err
	}
	if cfg.MaxReconnectDelay, err = durationOr(cfg.MaxReconnectDelay, "BLIVEDM_MAX_RECONNECT_DELAY", DefaultMaxReconnectDelay); err != nil {
		return cfg, err
	}
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if cfg.JitterFraction == 0 {
		cfg.JitterFraction = DefaultJitterFraction
	}
	if cfg.JitterFraction < 0 {
		cfg.JitterFraction = 0
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = nopMetrics{}
	}

	if cfg.HeartbeatInterval < 0 || cfg.AuthTimeout < 0 || cfg.HandshakeTimeout < 0 {
		return cfg, fmt.Errorf("timeouts and intervals must not be negative")
	}
	if cfg.MaxReconnectDelay < cfg.ReconnectDelay {
		return cfg, fmt.Errorf("MaxReconnectDelay (%s) is shorter than ReconnectDelay (%s)",
			cfg.MaxReconnectDelay, cfg.ReconnectDelay)
	}
	if cfg.JitterFraction >= 1 {
		return cfg, fmt.Errorf("JitterFraction must be below 1, got %s",
			strconv.FormatFloat(cfg.JitterFraction, 'g', -1, 64))
	}
	return cfg, nil
}

// durationOr returns v if set, else the duration parsed from env, else def.
func durationOr(v time.Duration, env string, def time.Duration) (time.Duration, error) {
	if v != 0 {
		return v, nil
	}
	s := os.Getenv(env)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", env, err)
	}
	return d, nil
}
