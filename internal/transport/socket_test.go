package transport

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danmuck/jrpc/internal/auth"
	"github.com/danmuck/jrpc/internal/rpcerr"
	"github.com/danmuck/jrpc/internal/testutil/testlog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"
)

type peer struct {
	ln       net.Listener
	accepted atomic.Int32
	conns    chan net.Conn
}

// startPeer accepts connections on loopback and hands each to handle in its own goroutine.
func startPeer(t *testing.T, handle func(net.Conn)) *peer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	p := &peer{ln: ln, conns: make(chan net.Conn, 16)}
	t.Cleanup(func() { _ = ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			p.accepted.Add(1)
			p.conns <- conn
			if handle != nil {
				go handle(conn)
			}
		}
	}()
	return p
}

func (p *peer) addr() string { return p.ln.Addr().String() }

func newSocket(t *testing.T, cfg Config) *Socket {
	t.Helper()
	s, err := New(cfg, log.Logger)
	if err != nil {
		t.Fatalf("new socket: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func freePort(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()
	return addr
}

func TestConnectWriteRead(t *testing.T) {
	testlog.Start(t)
	p := startPeer(t, func(conn net.Conn) {
		defer conn.Close()
		_, _ = io.Copy(conn, conn)
	})
	s := newSocket(t, Config{Endpoint: p.addr(), ReadTimeout: time.Second, WriteTimeout: time.Second})

	if s.State() != StateUnconnected || !s.Closed() {
		t.Fatalf("fresh socket should be unconnected, state=%v", s.State())
	}
	if err := s.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if s.State() != StateConnected || s.Closed() {
		t.Fatalf("expected connected socket, state=%v", s.State())
	}

	n, err := s.Write([]byte("hello, socket"), 0)
	if err != nil || n != 13 {
		t.Fatalf("write n=%d err=%v", n, err)
	}
	got, err := s.Read(13, 0)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != "hello, socket" {
		t.Fatalf("read got=%q", string(got))
	}
}

func TestConnectIsIdempotentAndReconnects(t *testing.T) {
	testlog.Start(t)
	p := startPeer(t, nil)
	s := newSocket(t, Config{Endpoint: p.addr()})

	if err := s.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := s.Connect(); err != nil {
		t.Fatalf("second connect on live socket: %v", err)
	}
	waitFor(t, func() bool { return p.accepted.Load() == 1 })

	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close should be idempotent: %v", err)
	}
	if s.State() != StateClosed || !s.Closed() {
		t.Fatalf("expected closed state, got %v", s.State())
	}

	if err := s.Connect(); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	waitFor(t, func() bool { return p.accepted.Load() == 2 })
}

func TestReadReassemblesSingleByteChunks(t *testing.T) {
	testlog.Start(t)
	payload := []byte(`{"jsonrpc":"2.0","result":3,"id":"abc"}`)
	p := startPeer(t, func(conn net.Conn) {
		defer conn.Close()
		for _, b := range payload {
			if _, err := conn.Write([]byte{b}); err != nil {
				return
			}
			time.Sleep(time.Millisecond)
		}
		time.Sleep(time.Second)
	})
	s := newSocket(t, Config{Endpoint: p.addr()})
	if err := s.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}

	got, err := s.Read(len(payload), 2*time.Second)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("read got=%q want=%q", got, payload)
	}
}

func TestWriteLargePayloadCompletes(t *testing.T) {
	testlog.Start(t)
	payload := bytes.Repeat([]byte("0123456789abcdef"), 512*1024)
	received := make(chan []byte, 1)
	p := startPeer(t, func(conn net.Conn) {
		defer conn.Close()
		time.Sleep(50 * time.Millisecond)
		var buf bytes.Buffer
		chunk := make([]byte, 4096)
		for buf.Len() < len(payload) {
			n, err := conn.Read(chunk)
			buf.Write(chunk[:n])
			if err != nil {
				break
			}
		}
		received <- buf.Bytes()
	})
	s := newSocket(t, Config{Endpoint: p.addr()})
	if err := s.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}

	n, err := s.Write(payload, 5*time.Second)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if n != len(payload) {
		t.Fatalf("written got=%d want=%d", n, len(payload))
	}
	select {
	case got := <-received:
		if !bytes.Equal(got, payload) {
			t.Fatalf("peer received %d bytes, want %d", len(got), len(payload))
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("peer did not receive payload")
	}
}

func TestReadTimeoutClosesSocket(t *testing.T) {
	testlog.Start(t)
	p := startPeer(t, nil)
	s := newSocket(t, Config{Endpoint: p.addr()})
	if err := s.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}

	start := time.Now()
	_, err := s.Read(1, 100*time.Millisecond)
	if !errors.Is(err, rpcerr.ErrReadTimeout) {
		t.Fatalf("expected read timeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed < 90*time.Millisecond || elapsed > 2*time.Second {
		t.Fatalf("timeout not honoured, elapsed=%v", elapsed)
	}
	if !s.Closed() {
		t.Fatalf("socket should report closed after a timeout")
	}
}

func TestReadTimeoutSpansChunks(t *testing.T) {
	testlog.Start(t)
	p := startPeer(t, func(conn net.Conn) {
		for i := 0; i < 20; i++ {
			if _, err := conn.Write([]byte{'x'}); err != nil {
				return
			}
			time.Sleep(30 * time.Millisecond)
		}
	})
	s := newSocket(t, Config{Endpoint: p.addr()})
	if err := s.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}

	_, err := s.Read(20, 150*time.Millisecond)
	if !errors.Is(err, rpcerr.ErrReadTimeout) {
		t.Fatalf("expected the whole read to be bounded by the timeout, got %v", err)
	}
}

func TestWriteTimeoutClosesSocket(t *testing.T) {
	testlog.Start(t)
	// The peer accepts and never reads, so the send buffers fill up.
	p := startPeer(t, nil)
	s := newSocket(t, Config{Endpoint: p.addr()})
	if err := s.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}

	start := time.Now()
	n, err := s.Write(make([]byte, 64<<20), 200*time.Millisecond)
	if !errors.Is(err, rpcerr.ErrWriteTimeout) {
		t.Fatalf("expected write timeout, got n=%d err=%v", n, err)
	}
	if elapsed := time.Since(start); elapsed < 180*time.Millisecond || elapsed > 3*time.Second {
		t.Fatalf("timeout not honoured, elapsed=%v", elapsed)
	}
	if !s.Closed() {
		t.Fatalf("socket should report closed after a write timeout")
	}
}

func TestConnectTimeoutIsRetried(t *testing.T) {
	testlog.Start(t)
	// 10.255.255.1 is not routed on most networks, so the SYN goes unanswered.
	s := newSocket(t, Config{
		Endpoint:          "10.255.255.1:7070",
		ConnectTimeout:    150 * time.Millisecond,
		ConnectRetryCount: 1,
	})

	start := time.Now()
	err := s.Connect()
	for _, errno := range []unix.Errno{unix.ENETUNREACH, unix.EHOSTUNREACH, unix.EACCES, unix.EPERM} {
		if errors.Is(err, errno) {
			t.Skipf("no route for an unanswered connect here: %v", err)
		}
	}
	if !errors.Is(err, rpcerr.ErrConnectTimeout) {
		t.Fatalf("expected connect timeout, got %v", err)
	}
	if !errors.Is(err, rpcerr.ErrConnectionFailed) {
		t.Fatalf("expected retries to end in connection failed, got %v", err)
	}
	if !strings.Contains(err.Error(), "after 2 attempts") {
		t.Fatalf("connect timeout should be retried, got %q", err.Error())
	}
	if elapsed := time.Since(start); elapsed < 280*time.Millisecond || elapsed > 3*time.Second {
		t.Fatalf("each attempt should wait the connect timeout, elapsed=%v", elapsed)
	}
	if !s.Closed() {
		t.Fatalf("failed connect must leave the socket closed")
	}
}

func TestClosedDetectsPeerFIN(t *testing.T) {
	testlog.Start(t)
	p := startPeer(t, func(conn net.Conn) {
		_ = conn.Close()
	})
	s := newSocket(t, Config{Endpoint: p.addr()})
	if err := s.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}

	waitFor(t, s.Closed)
	if s.State() != StateClosed {
		t.Fatalf("half-close detection should close locally, state=%v", s.State())
	}
	_, err := s.Write([]byte("lost"), time.Second)
	if !errors.Is(err, rpcerr.ErrConnectionClosed) {
		t.Fatalf("expected connection closed on write, got %v", err)
	}
}

func TestReadAfterPeerFINIsConnectionClosed(t *testing.T) {
	testlog.Start(t)
	closed := make(chan struct{})
	p := startPeer(t, func(conn net.Conn) {
		_, _ = conn.Write([]byte("ab"))
		_ = conn.Close()
		close(closed)
	})
	s := newSocket(t, Config{Endpoint: p.addr()})
	if err := s.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	<-closed
	time.Sleep(20 * time.Millisecond)

	// Buffered bytes are still delivered; the missing tail is not.
	_, err := s.Read(4, time.Second)
	if !errors.Is(err, rpcerr.ErrConnectionClosed) {
		t.Fatalf("expected connection closed, got %v", err)
	}
}

func TestConnectRefusedExhaustsRetries(t *testing.T) {
	testlog.Start(t)
	s := newSocket(t, Config{
		Endpoint:          freePort(t),
		ConnectTimeout:    time.Second,
		ConnectRetryCount: 2,
		Backoff:           BackoffConfig{InitialDelay: time.Millisecond},
	})

	err := s.Connect()
	if !errors.Is(err, rpcerr.ErrConnectionFailed) {
		t.Fatalf("expected connection failed, got %v", err)
	}
	if !errors.Is(err, unix.ECONNREFUSED) {
		t.Fatalf("expected ECONNREFUSED cause, got %v", err)
	}
	if !strings.Contains(err.Error(), "after 3 attempts") {
		t.Fatalf("expected 3 attempts, got %q", err.Error())
	}
	if !s.Closed() {
		t.Fatalf("failed connect must leave the socket closed")
	}
}

func TestConnectUnresolvableHostIsNotRetried(t *testing.T) {
	testlog.Start(t)
	s := newSocket(t, Config{Endpoint: "no-such-host.invalid:7070", ConnectRetryCount: 5})
	err := s.Connect()
	if !errors.Is(err, rpcerr.ErrConnectionFailed) {
		t.Fatalf("expected connection failed, got %v", err)
	}
	if strings.Contains(err.Error(), "attempts") {
		t.Fatalf("resolution failure should not be retried: %q", err.Error())
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	testlog.Start(t)
	tests := []struct {
		name    string
		cfg     Config
		wantErr error
	}{
		{name: "missing endpoint", cfg: Config{}, wantErr: ErrEndpointRequired},
		{name: "no port", cfg: Config{Endpoint: "localhost"}, wantErr: ErrInvalidEndpoint},
		{name: "no host", cfg: Config{Endpoint: ":7070"}, wantErr: ErrInvalidEndpoint},
		{name: "bad port", cfg: Config{Endpoint: "localhost:http"}, wantErr: ErrInvalidEndpoint},
		{name: "negative retries", cfg: Config{Endpoint: "localhost:1", ConnectRetryCount: -1}, wantErr: ErrInvalidRetry},
		{name: "oversized key", cfg: Config{Endpoint: "localhost:1", TCPAuthKey: make([]byte, auth.MaxKeyLen+1)}, wantErr: auth.ErrKeyTooLong},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := New(tc.cfg, log.Logger); !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestWithDefaultsResolvesTimeouts(t *testing.T) {
	key := []byte("k")
	cfg := Config{Endpoint: "localhost:1", ReadTimeout: time.Second, TCPAuthKey: key}.WithDefaults()
	if cfg.ConnectTimeout != DefaultTimeout || cfg.WriteTimeout != DefaultTimeout {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.ReadTimeout != time.Second {
		t.Fatalf("explicit read timeout overwritten: %v", cfg.ReadTimeout)
	}
	key[0] = 'x'
	if string(cfg.TCPAuthKey) != "k" {
		t.Fatalf("key must be copied, got %q", cfg.TCPAuthKey)
	}
}

func TestBuildTCPMD5SigIPv4(t *testing.T) {
	sa := &unix.SockaddrInet4{Port: 179, Addr: [4]byte{10, 1, 2, 3}}
	opt, err := buildTCPMD5Sig(sa, []byte("secret"))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(opt) != 216 {
		t.Fatalf("option size got=%d want=216", len(opt))
	}
	if fam := binary.NativeEndian.Uint16(opt[0:2]); fam != unix.AF_INET {
		t.Fatalf("family got=%d", fam)
	}
	if opt[2] != 0 || opt[3] != 0 {
		t.Fatalf("port must be zero, got %v", opt[2:4])
	}
	if !bytes.Equal(opt[4:8], []byte{10, 1, 2, 3}) {
		t.Fatalf("address got=%v", opt[4:8])
	}
	if kl := binary.NativeEndian.Uint16(opt[130:132]); kl != 6 {
		t.Fatalf("key length got=%d", kl)
	}
	if string(opt[136:142]) != "secret" {
		t.Fatalf("key got=%q", opt[136:142])
	}
	if !bytes.Equal(opt[142:], make([]byte, 216-142)) {
		t.Fatalf("key tail must be zero padded")
	}
}

func TestBuildTCPMD5SigIPv6(t *testing.T) {
	sa := &unix.SockaddrInet6{Port: 179}
	sa.Addr[15] = 1
	opt, err := buildTCPMD5Sig(sa, []byte("k"))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if fam := binary.NativeEndian.Uint16(opt[0:2]); fam != unix.AF_INET6 {
		t.Fatalf("family got=%d", fam)
	}
	if opt[23] != 1 {
		t.Fatalf("address not placed at sin6_addr")
	}
	if _, err := buildTCPMD5Sig(sa, nil); !errors.Is(err, auth.ErrEmptyKey) {
		t.Fatalf("expected empty key error, got %v", err)
	}
}

func TestNextBackoffDelayDeterministicNoJitter(t *testing.T) {
	cfg := BackoffConfig{
		InitialDelay: 250 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     5 * time.Second,
	}
	if got := NextBackoffDelay(cfg, 1, nil); got != 250*time.Millisecond {
		t.Fatalf("attempt1 got=%v", got)
	}
	if got := NextBackoffDelay(cfg, 3, nil); got != time.Second {
		t.Fatalf("attempt3 got=%v", got)
	}
	if got := NextBackoffDelay(cfg, 6, nil); got != 5*time.Second {
		t.Fatalf("attempt6 got=%v", got)
	}
	if got := NextBackoffDelay(BackoffConfig{}, 4, nil); got != 0 {
		t.Fatalf("zero config should retry immediately, got=%v", got)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}
