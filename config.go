package jrpc

import (
	"errors"
	"time"

	"github.com/danmuck/jrpc/internal/protocol/netstring"
	"github.com/danmuck/jrpc/internal/transport"
)

// DefaultTimeout applies to connect, read and write when neither the phase
// timeout nor Timeout is set.
const DefaultTimeout = transport.DefaultTimeout

var ErrInvalidPayloadLimit = errors.New("jrpc: max payload bytes must not be negative")

// BackoffConfig paces connect retries. The zero value retries immediately.
type BackoffConfig = transport.BackoffConfig

// Config describes one client connection. It is copied by New; resolve it
// with WithDefaults before inspecting effective timeouts.
type Config struct {
	// Endpoint is "host:port".
	Endpoint string

	// Timeout is the fallback for the three phase timeouts.
	Timeout        time.Duration
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration

	// ConnectRetryCount bounds retries after the first failed connect.
	ConnectRetryCount int
	ConnectBackoff    BackoffConfig

	// Namespace is prepended to every method name sent.
	Namespace string

	// CloseAfterEachCall closes the connection after every call, success or
	// failure, for servers that expect one request per connection.
	CloseAfterEachCall bool

	// TCPAuthKey is installed as the TCP MD5 signature key when set.
	TCPAuthKey []byte

	// MaxPayloadBytes caps a response frame. Zero means 16 MiB.
	MaxPayloadBytes int
}

// WithDefaults resolves phase timeouts (phase, then Timeout, then
// DefaultTimeout) and copies the auth key.
func (c Config) WithDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = c.Timeout
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = c.Timeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = c.Timeout
	}
	if len(c.TCPAuthKey) > 0 {
		c.TCPAuthKey = append([]byte(nil), c.TCPAuthKey...)
	}
	return c
}

func (c Config) Validate() error {
	if err := c.TransportConfig().Validate(); err != nil {
		return err
	}
	if c.MaxPayloadBytes < 0 {
		return ErrInvalidPayloadLimit
	}
	return nil
}

// TransportConfig returns the socket settings carried by c.
func (c Config) TransportConfig() transport.Config {
	return transport.Config{
		Endpoint:          c.Endpoint,
		ConnectTimeout:    c.ConnectTimeout,
		ReadTimeout:       c.ReadTimeout,
		WriteTimeout:      c.WriteTimeout,
		ConnectRetryCount: c.ConnectRetryCount,
		Backoff:           c.ConnectBackoff,
		TCPAuthKey:        c.TCPAuthKey,
	}
}

func (c Config) frameLimits() netstring.Limits {
	limits := netstring.DefaultLimits()
	if c.MaxPayloadBytes > 0 {
		limits.MaxPayloadBytes = c.MaxPayloadBytes
	}
	return limits
}
