package wsclient

import "time"

// Default values for optional configuration fields.
const (
	DefaultReconnectInterval    = 5 * time.Second
	DefaultMaxReconnectAttempts = 5
	DefaultHeartbeatInterval    = 30 * time.Second
	DefaultHandshakeTimeout     = 10 * time.Second
	DefaultWriteTimeout         = 10 * time.Second
	DefaultQueueLimit           = 512

	// maxBackoffFactor caps the linear backoff multiplier so retry storms
	// stay bounded instead of growing without limit.
	maxBackoffFactor = 3
)

// Config controls the reconnect manager.
type Config struct {
	// URL is the websocket endpoint, e.g. ws://host/ws.
	URL string

	// ClientID identifies this consumer for server-side logging.
	ClientID string

	// Token is the connection token presented at admission.
	Token string

	// ReconnectInterval is the base delay between reconnect attempts.
	ReconnectInterval time.Duration

	// MaxReconnectAttempts bounds consecutive failed attempts before the
	// manager gives up and invokes OnClose.
	MaxReconnectAttempts int

	// HeartbeatInterval is the period of the heartbeat send timer.
	HeartbeatInterval time.Duration

	// HandshakeTimeout bounds the websocket dial.
	HandshakeTimeout time.Duration

	// WriteTimeout bounds individual socket writes.
	WriteTimeout time.Duration

	// QueueLimit bounds the pending queue built up while disconnected.
	// On overflow the oldest entry is dropped to keep the freshest state.
	QueueLimit int

	// AutoReconnect re-establishes the connection after a close. Enabled in
	// DefaultConfig.
	AutoReconnect bool
}

// DefaultConfig returns a Config with the standard defaults and automatic
// reconnection enabled.
func DefaultConfig(url string) Config {
	return Config{
		URL:                  url,
		ReconnectInterval:    DefaultReconnectInterval,
		MaxReconnectAttempts: DefaultMaxReconnectAttempts,
		HeartbeatInterval:    DefaultHeartbeatInterval,
		HandshakeTimeout:     DefaultHandshakeTimeout,
		WriteTimeout:         DefaultWriteTimeout,
		QueueLimit:           DefaultQueueLimit,
		AutoReconnect:        true,
	}
}

func (c *Config) applyDefaults() {
	if c.ReconnectInterval == 0 {
		c.ReconnectInterval = DefaultReconnectInterval
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.QueueLimit == 0 {
		c.QueueLimit = DefaultQueueLimit
	}
}

// reconnectDelay returns the backoff before the given attempt: the base
// interval times min(attempt, 3).
func reconnectDelay(base time.Duration, attempt int) time.Duration {
	factor := attempt
	if factor > maxBackoffFactor {
		factor = maxBackoffFactor
	}
	if factor < 1 {
		factor = 1
	}
	return base * time.Duration(factor)
}
