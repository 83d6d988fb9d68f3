package jrpc

import (
	"time"

	"github.com/danmuck/jrpc/internal/protocol/jsonrpc"
	"github.com/rs/zerolog"
)

type (
	IDGenerator     = jsonrpc.IDGenerator
	IDGeneratorFunc = jsonrpc.IDGeneratorFunc
)

// RandomIDs returns the default generator: 32 characters of [a-z0-9A-Z].
func RandomIDs() IDGenerator { return jsonrpc.RandomIDGenerator{} }

// UUIDs returns a generator of dashless random UUIDs.
func UUIDs() IDGenerator { return jsonrpc.UUIDGenerator{} }

type Option func(*Client)

// WithTransport replaces the TCP socket built from Config.
func WithTransport(t Transport) Option {
	return func(c *Client) { c.transport = t }
}

func WithIDGenerator(g IDGenerator) Option {
	return func(c *Client) {
		if g != nil {
			c.ids = g
		}
	}
}

// WithLogger sets the sink for connection events and call trace lines.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithTraceTruncate sets how many payload bytes a trace line keeps.
func WithTraceTruncate(n int) Option {
	return func(c *Client) { c.truncateLen = n }
}

// WithMiddleware appends mw to the call chain. The first middleware given is
// the outermost.
func WithMiddleware(mw ...Middleware) Option {
	return func(c *Client) { c.middleware = append(c.middleware, mw...) }
}

// WithMetrics records call and connect metrics on the default prometheus
// registry.
func WithMetrics() Option {
	return func(c *Client) {
		c.metrics = true
		c.middleware = append(c.middleware, MetricsMiddleware())
	}
}

type callOptions struct {
	readTimeout  time.Duration
	writeTimeout time.Duration
}

// CallOption overrides connection defaults for a single call.
type CallOption func(*callOptions)

func WithReadTimeout(d time.Duration) CallOption {
	return func(o *callOptions) { o.readTimeout = d }
}

func WithWriteTimeout(d time.Duration) CallOption {
	return func(o *callOptions) { o.writeTimeout = d }
}
