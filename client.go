// Package jrpc is a JSON-RPC 2.0 client over raw TCP with netstring framing.
//
// A Client owns one connection and issues one call at a time. Calls block
// until the response arrives or a timeout fires; there is no cancellation
// beyond timeouts. A closed or half-closed connection is re-established
// before the next call.
//
//	c, err := jrpc.New(jrpc.Config{Endpoint: "127.0.0.1:7070"})
//	sum, err := jrpc.Invoke[int](c, "sum", []int{1, 2})
package jrpc

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/jrpc/internal/observability"
	"github.com/danmuck/jrpc/internal/protocol/jsonrpc"
	"github.com/danmuck/jrpc/internal/protocol/netstring"
	"github.com/danmuck/jrpc/internal/rpcerr"
	"github.com/danmuck/jrpc/internal/transport"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Transport is the byte stream a Client speaks over. Read returns exactly
// length bytes; both Read and Write fail with *Error values once their
// timeout passes.
type Transport interface {
	Connect() error
	Read(length int, timeout time.Duration) ([]byte, error)
	Write(data []byte, timeout time.Duration) (int, error)
	Closed() bool
	Close() error
}

// State is the client lifecycle position.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateReady
	StateInFlight
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateInFlight:
		return "in_flight"
	case StateFailed:
		return "failed"
	default:
		return "invalid"
	}
}

// Client issues JSON-RPC calls over a single connection. Calls on one Client
// are serialized.
type Client struct {
	cfg         Config
	transport   Transport
	ids         IDGenerator
	logger      zerolog.Logger
	truncateLen int
	middleware  []Middleware
	metrics     bool
	limits      netstring.Limits

	invoke Invoker
	mu     sync.Mutex
	state  atomic.Int32
}

// New resolves and validates cfg and builds an unconnected client. The
// connection is opened by Connect or lazily by the first call.
func New(cfg Config, opts ...Option) (*Client, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Client{
		cfg:         cfg,
		ids:         RandomIDs(),
		logger:      log.Logger.With().Str("component", "jrpc").Logger(),
		truncateLen: observability.DefaultTruncateLen,
		limits:      cfg.frameLimits(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.transport == nil {
		sock, err := transport.New(cfg.TransportConfig(), c.logger)
		if err != nil {
			return nil, err
		}
		c.transport = sock
	}
	chain := append([]Middleware{LoggingMiddleware(c.logger, c.truncateLen)}, c.middleware...)
	c.invoke = Chain(chain...)(c.roundTrip)
	return c, nil
}

// Config returns the resolved configuration.
func (c *Client) Config() Config { return c.cfg }

func (c *Client) State() State { return State(c.state.Load()) }

func (c *Client) setState(s State) { c.state.Store(int32(s)) }

// Connect opens the connection now instead of on the first call. It is a
// no-op on a live connection.
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureConnected(); err != nil {
		return err
	}
	c.setState(StateReady)
	return nil
}

// Close releases the connection. A later call reconnects.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setState(StateIdle)
	return c.transport.Close()
}

// Call sends a request and returns its raw result. params must be nil, a
// sequence or a mapping.
func (c *Client) Call(method string, params any, opts ...CallOption) (json.RawMessage, error) {
	id := c.ids.NextID()
	if id == "" {
		return nil, rpcerr.Validation("empty request id from id generator")
	}
	return c.perform(method, params, id, opts)
}

// CallInto sends a request and decodes its result into out. A nil out
// discards the result.
func (c *Client) CallInto(method string, params any, out any, opts ...CallOption) error {
	result, err := c.Call(method, params, opts...)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(result, out); err != nil {
		return &rpcerr.Error{
			Kind:    rpcerr.KindClientValidation,
			Op:      rpcerr.OpCall,
			Message: fmt.Sprintf("decode result of %s", method),
			Err:     err,
		}
	}
	return nil
}

// Invoke is the typed form of CallInto.
func Invoke[T any](c *Client, method string, params any, opts ...CallOption) (T, error) {
	var out T
	err := c.CallInto(method, params, &out, opts...)
	return out, err
}

// Notify sends a notification. It returns once the message is written and
// never reads from the connection.
func (c *Client) Notify(method string, params any, opts ...CallOption) error {
	_, err := c.perform(method, params, "", opts)
	return err
}

func (c *Client) perform(method string, params any, id string, opts []CallOption) (json.RawMessage, error) {
	req, err := jsonrpc.NewRequest(c.cfg.Namespace+method, params, id)
	if err != nil {
		return nil, err
	}
	payload, err := req.Encode()
	if err != nil {
		return nil, err
	}

	o := callOptions{readTimeout: c.cfg.ReadTimeout, writeTimeout: c.cfg.WriteTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	if o.readTimeout <= 0 {
		o.readTimeout = c.cfg.ReadTimeout
	}
	if o.writeTimeout <= 0 {
		o.writeTimeout = c.cfg.WriteTimeout
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	result, err := c.invoke(&Call{
		Method:       req.Method,
		ID:           req.ID,
		Payload:      payload,
		ReadTimeout:  o.readTimeout,
		WriteTimeout: o.writeTimeout,
	})
	switch {
	case err == nil || rpcerr.KindOf(err).IsServer():
		c.setState(StateReady)
	default:
		c.setState(StateFailed)
	}
	if c.cfg.CloseAfterEachCall {
		_ = c.transport.Close()
		if c.State() == StateReady {
			c.setState(StateIdle)
		}
	}
	return result, err
}

// roundTrip is the innermost invoker: connect if needed, write the frame,
// and for requests read and validate the response.
func (c *Client) roundTrip(call *Call) (json.RawMessage, error) {
	if err := c.ensureConnected(); err != nil {
		return nil, err
	}
	c.setState(StateInFlight)

	if err := netstring.WriteFrame(c.transport, call.Payload, call.WriteTimeout); err != nil {
		return nil, c.fail(rpcerr.OpWrite, err)
	}
	if call.IsNotification() {
		return nil, nil
	}

	payload, err := netstring.ReadFrame(c.transport, call.ReadTimeout, c.limits)
	if err != nil {
		return nil, c.fail(rpcerr.OpRead, err)
	}
	result, err := jsonrpc.ParseResponse(payload, call.ID)
	if err != nil {
		if rpcerr.KindOf(err).IsServer() {
			return nil, err
		}
		return nil, c.fail(rpcerr.OpCall, err)
	}
	return result, nil
}

func (c *Client) ensureConnected() error {
	if !c.transport.Closed() {
		return nil
	}
	c.setState(StateConnecting)
	err := c.transport.Connect()
	if c.metrics {
		observability.RecordConnect(c.cfg.Endpoint, err == nil)
	}
	if err != nil {
		c.setState(StateFailed)
		if _, ok := rpcerr.As(err); !ok {
			err = rpcerr.Connection(rpcerr.OpConnect, err)
		}
		return err
	}
	return nil
}

// fail closes the transport after a failed exchange and makes sure the
// caller gets an *Error.
func (c *Client) fail(op rpcerr.Op, err error) error {
	if cerr := c.transport.Close(); cerr != nil {
		c.logger.Debug().Err(cerr).Msg("close after failure")
	}
	if _, ok := rpcerr.As(err); !ok {
		err = rpcerr.Connection(op, err)
	}
	return err
}
