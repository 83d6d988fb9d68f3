// Package transport owns one raw TCP socket per Socket value.
//
// All I/O is non-blocking; poll(2) readiness waits bound every connect, read
// and write by its timeout. Before each wait, and again once the descriptor
// is ready, the socket is checked for a received FIN so a half-closed peer
// surfaces as ConnectionClosed instead of a hang or a silently lost write.
//
// A Socket is not safe for concurrent use.
package transport

import (
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"time"

	"github.com/danmuck/jrpc/internal/rpcerr"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

// State is the socket lifecycle position.
type State int

const (
	StateUnconnected State = iota
	StateConnecting
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnconnected:
		return "unconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return "invalid"
	}
}

// Socket is a timeout-bounded byte transport over a single TCP connection.
type Socket struct {
	cfg    Config
	logger zerolog.Logger
	rng    *rand.Rand
	fd     int
	state  State
}

// New validates cfg and returns an unconnected socket. No I/O happens here.
func New(cfg Config, logger zerolog.Logger) (*Socket, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Socket{
		cfg:    cfg,
		logger: logger.With().Str("endpoint", cfg.Endpoint).Logger(),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		fd:     -1,
		state:  StateUnconnected,
	}, nil
}

func (s *Socket) Config() Config { return s.cfg }

func (s *Socket) State() State { return s.state }

// Read returns exactly length bytes, or fails with a timeout, a closed
// connection, or a read failure. Any failure closes the socket.
func (s *Socket) Read(length int, timeout time.Duration) ([]byte, error) {
	if timeout <= 0 {
		timeout = s.cfg.ReadTimeout
	}
	if length < 0 {
		return nil, rpcerr.Connection(rpcerr.OpRead, fmt.Errorf("transport: negative read length %d", length))
	}
	buf := make([]byte, length)
	deadline := time.Now().Add(timeout)
	received := 0
	for received < length {
		if s.Closed() {
			return nil, rpcerr.Closed(rpcerr.OpRead)
		}
		ready, err := s.wait(unix.POLLIN, deadline)
		if err != nil {
			s.Close()
			return nil, rpcerr.Connection(rpcerr.OpRead, err)
		}
		if !ready {
			s.Close()
			return nil, rpcerr.Timeout(rpcerr.OpRead)
		}
		if s.Closed() {
			return nil, rpcerr.Closed(rpcerr.OpRead)
		}

		n, err := unix.Read(s.fd, buf[received:])
		if err != nil {
			if retryableIO(err) {
				continue
			}
			s.Close()
			return nil, rpcerr.Connection(rpcerr.OpRead, os.NewSyscallError("read", err))
		}
		if n == 0 {
			s.Close()
			return nil, rpcerr.Connection(rpcerr.OpRead, io.EOF)
		}
		received += n
	}
	return buf, nil
}

// Write sends all of data and returns the number of bytes written. Any
// failure closes the socket.
func (s *Socket) Write(data []byte, timeout time.Duration) (int, error) {
	if timeout <= 0 {
		timeout = s.cfg.WriteTimeout
	}
	deadline := time.Now().Add(timeout)
	written := 0
	for written < len(data) {
		if s.Closed() {
			return written, rpcerr.Closed(rpcerr.OpWrite)
		}
		ready, err := s.wait(unix.POLLOUT, deadline)
		if err != nil {
			s.Close()
			return written, rpcerr.Connection(rpcerr.OpWrite, err)
		}
		if !ready {
			s.Close()
			return written, rpcerr.Timeout(rpcerr.OpWrite)
		}
		if s.Closed() {
			return written, rpcerr.Closed(rpcerr.OpWrite)
		}

		n, err := unix.Write(s.fd, data[written:])
		if err != nil {
			if retryableIO(err) {
				continue
			}
			s.Close()
			return written, rpcerr.Connection(rpcerr.OpWrite, os.NewSyscallError("write", err))
		}
		written += n
	}
	return written, nil
}

// Closed reports whether the socket is unusable: never connected, closed
// locally, or half-closed by the peer. A detected FIN closes the socket.
func (s *Socket) Closed() bool {
	if s.fd < 0 || s.state != StateConnected {
		return true
	}
	if s.finReceived() {
		s.logger.Debug().Msg("peer sent FIN, closing socket")
		s.Close()
		return true
	}
	return false
}

// Close releases the descriptor. It is idempotent, and a later Connect builds
// a fresh socket.
func (s *Socket) Close() error {
	if s.fd < 0 {
		return nil
	}
	err := unix.Close(s.fd)
	s.fd = -1
	s.state = StateClosed
	if err != nil {
		return os.NewSyscallError("close", err)
	}
	return nil
}

// finReceived peeks one byte without consuming it. Zero bytes from a
// readable socket means the peer finished sending.
func (s *Socket) finReceived() bool {
	var b [1]byte
	for {
		n, _, err := unix.Recvfrom(s.fd, b[:], unix.MSG_PEEK|unix.MSG_DONTWAIT)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) {
				return false
			}
			// ECONNRESET and friends: nothing more will arrive either.
			return true
		}
		return n == 0
	}
}

// wait blocks until fd reports events or deadline passes. A zero deadline waits forever.
func (s *Socket) wait(events int16, deadline time.Time) (bool, error) {
	for {
		timeoutMS := -1
		if !deadline.IsZero() {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return false, nil
			}
			timeoutMS = int((remaining + time.Millisecond - 1) / time.Millisecond)
		}
		fds := []unix.PollFd{{Fd: int32(s.fd), Events: events}}
		n, err := unix.Poll(fds, timeoutMS)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return false, os.NewSyscallError("poll", err)
		}
		if n == 0 {
			return false, nil
		}
		if fds[0].Revents&unix.POLLNVAL != 0 {
			return false, os.NewSyscallError("poll", unix.EBADF)
		}
		return true, nil
	}
}

func retryableIO(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EINTR)
}
