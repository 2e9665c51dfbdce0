// Package config loads and validates server configuration from the
// environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// ServerConfig is the full configuration for the realtime server.
type ServerConfig struct {
	// Port the HTTP server listens on.
	Port string

	// JWTSecret signs and verifies connection tokens. Required unless
	// DevTokens is set.
	JWTSecret string

	// DevTokens, when non-empty, switches admission to a static token list.
	// Development only.
	DevTokens []string

	// DBPath is the SQLite file backing the connection audit log. Empty
	// disables auditing.
	DBPath string

	// LogLevel is one of debug, info, warn, error.
	LogLevel string

	// SessionQueueSize is the per-session outbound queue capacity.
	SessionQueueSize int

	// SweepInterval is how often the liveness sweep runs.
	SweepInterval time.Duration

	// PingAfter is the silence threshold before the sweep pings a session.
	PingAfter time.Duration

	// IdleTimeout is the silence threshold before the sweep evicts a session.
	IdleTimeout time.Duration
}

// Default values for optional configuration fields.
const (
	DefaultPort             = "8080"
	DefaultLogLevel         = "info"
	DefaultSessionQueueSize = 256
	DefaultSweepInterval    = 30 * time.Second
	DefaultPingAfter        = 30 * time.Second
	DefaultIdleTimeout      = 60 * time.Second
)

// FromEnv builds a ServerConfig from environment variables, applying
// defaults and validating the result.
func FromEnv() (*ServerConfig, error) {
	cfg := &ServerConfig{
		Port:      os.Getenv("PORT"),
		JWTSecret: os.Getenv("JWT_SECRET"),
		DBPath:    os.Getenv("DB_PATH"),
		LogLevel:  os.Getenv("LOG_LEVEL"),
	}

	if v := os.Getenv("DEV_TOKEN"); v != "" {
		cfg.DevTokens = []string{v}
	}

	var err error
	if cfg.SessionQueueSize, err = envInt("SESSION_QUEUE_SIZE"); err != nil {
		return nil, err
	}
	if cfg.SweepInterval, err = envDuration("SWEEP_INTERVAL"); err != nil {
		return nil, err
	}
	if cfg.PingAfter, err = envDuration("PING_AFTER"); err != nil {
		return nil, err
	}
	if cfg.IdleTimeout, err = envDuration("IDLE_TIMEOUT"); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *ServerConfig) applyDefaults() {
	if c.Port == "" {
		c.Port = DefaultPort
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.SessionQueueSize == 0 {
		c.SessionQueueSize = DefaultSessionQueueSize
	}
	if c.SweepInterval == 0 {
		c.SweepInterval = DefaultSweepInterval
	}
	if c.PingAfter == 0 {
		c.PingAfter = DefaultPingAfter
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
}

// Validate checks cross-field constraints.
func (c *ServerConfig) Validate() error {
	if c.JWTSecret == "" && len(c.DevTokens) == 0 {
		return fmt.Errorf("JWT_SECRET (or DEV_TOKEN) is required")
	}
	if c.PingAfter >= c.IdleTimeout {
		return fmt.Errorf("PING_AFTER (%s) must be shorter than IDLE_TIMEOUT (%s)", c.PingAfter, c.IdleTimeout)
	}
	if c.SessionQueueSize < 0 {
		return fmt.Errorf("SESSION_QUEUE_SIZE must be positive")
	}
	return nil
}

func envInt(key string) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func envDuration(key string) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
