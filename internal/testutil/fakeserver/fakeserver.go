// Package fakeserver is a loopback netstring JSON-RPC peer for tests.
package fakeserver

import (
	"encoding/json"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danmuck/jrpc/internal/protocol/jsonrpc"
	"github.com/danmuck/jrpc/internal/protocol/netstring"
	"github.com/danmuck/jrpc/internal/rpcerr"
	"github.com/rs/zerolog/log"
)

// Handler answers one request. The returned payload is framed and sent back;
// nil sends nothing.
type Handler func(req jsonrpc.Request) []byte

type Server struct {
	ln           net.Listener
	handler      Handler
	accepted     atomic.Int32
	disconnected atomic.Int32

	chunkSize     int
	chunkDelay    time.Duration
	closeAfter    bool
	raw           bool
	responseDelay time.Duration

	mu       sync.Mutex
	requests []jsonrpc.Request
	conns    []net.Conn
	wg       sync.WaitGroup
}

type Option func(*Server)

// WithChunkedWrites splits every reply into size-byte writes spaced by delay.
func WithChunkedWrites(size int, delay time.Duration) Option {
	return func(s *Server) {
		s.chunkSize = size
		s.chunkDelay = delay
	}
}

// WithCloseAfterResponse closes the connection after the first reply.
func WithCloseAfterResponse() Option {
	return func(s *Server) { s.closeAfter = true }
}

// WithRawReplies writes handler output as-is instead of framing it.
func WithRawReplies() Option {
	return func(s *Server) { s.raw = true }
}

// WithResponseDelay waits before replying.
func WithResponseDelay(d time.Duration) Option {
	return func(s *Server) { s.responseDelay = d }
}

// Start listens on 127.0.0.1:0 and serves until the test ends.
func Start(t testing.TB, handler Handler, opts ...Option) *Server {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("fakeserver listen: %v", err)
	}
	s := &Server{ln: ln, handler: handler}
	for _, opt := range opts {
		opt(s)
	}
	s.wg.Add(1)
	go s.acceptLoop()
	t.Cleanup(s.Close)
	return s
}

func (s *Server) Addr() string { return s.ln.Addr().String() }

// Accepted reports how many connections the server has accepted.
func (s *Server) Accepted() int { return int(s.accepted.Load()) }

// Disconnected reports how many connections the server has closed.
func (s *Server) Disconnected() int { return int(s.disconnected.Load()) }

// Requests returns every decoded request in arrival order.
func (s *Server) Requests() []jsonrpc.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]jsonrpc.Request(nil), s.requests...)
}

func (s *Server) Close() {
	_ = s.ln.Close()
	s.mu.Lock()
	for _, c := range s.conns {
		_ = c.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.accepted.Add(1)
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()
		s.wg.Add(1)
		go s.serve(conn)
	}
}

func (s *Server) serve(conn net.Conn) {
	defer func() {
		_ = conn.Close()
		s.disconnected.Add(1)
		s.wg.Done()
	}()
	r := connReader{conn: conn}
	for {
		payload, err := netstring.ReadFrame(r, 10*time.Second, netstring.DefaultLimits())
		if err != nil {
			return
		}
		var req jsonrpc.Request
		if err := json.Unmarshal(payload, &req); err != nil {
			log.Debug().Err(err).Msg("fakeserver: undecodable request")
			continue
		}
		s.mu.Lock()
		s.requests = append(s.requests, req)
		s.mu.Unlock()

		if s.handler == nil {
			continue
		}
		reply := s.handler(req)
		if reply == nil {
			continue
		}
		if s.responseDelay > 0 {
			time.Sleep(s.responseDelay)
		}
		if !s.raw {
			reply = netstring.Encode(reply)
		}
		if err := s.write(conn, reply); err != nil {
			return
		}
		if s.closeAfter {
			return
		}
	}
}

func (s *Server) write(conn net.Conn, data []byte) error {
	if s.chunkSize <= 0 {
		_, err := conn.Write(data)
		return err
	}
	for len(data) > 0 {
		n := min(s.chunkSize, len(data))
		if _, err := conn.Write(data[:n]); err != nil {
			return err
		}
		data = data[n:]
		time.Sleep(s.chunkDelay)
	}
	return nil
}

// connReader adapts a net.Conn to the framer's timeout-bounded reads.
type connReader struct {
	conn net.Conn
}

func (r connReader) Read(length int, timeout time.Duration) ([]byte, error) {
	_ = r.conn.SetReadDeadline(time.Now().Add(timeout))
	buf := make([]byte, length)
	if _, err := io.ReadFull(r.conn, buf); err != nil {
		return nil, rpcerr.Connection(rpcerr.OpRead, err)
	}
	return buf, nil
}

// Result encodes a success response.
func Result(id string, v any) []byte {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return mustMarshal(jsonrpc.Response{JSONRPC: jsonrpc.Version, Result: raw, ID: idJSON(id)})
}

// Error encodes an error response. An empty id is sent as null.
func Error(id string, code int, message string) []byte {
	return mustMarshal(jsonrpc.Response{
		JSONRPC: jsonrpc.Version,
		Error:   &jsonrpc.ErrorObject{Code: code, Message: message},
		ID:      idJSON(id),
	})
}

func idJSON(id string) json.RawMessage {
	if id == "" {
		return json.RawMessage("null")
	}
	return mustMarshal(id)
}

func mustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
