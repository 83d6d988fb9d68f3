package jrpc

import (
	"errors"
	"testing"
	"time"

	"github.com/danmuck/jrpc/internal/testutil/testlog"
	"github.com/danmuck/jrpc/internal/transport"
)

func TestConfigWithDefaultsResolvesTimeouts(t *testing.T) {
	testlog.Start(t)
	tests := []struct {
		name                   string
		in                     Config
		connect, read, written time.Duration
	}{
		{name: "all unset", in: Config{}, connect: DefaultTimeout, read: DefaultTimeout, written: DefaultTimeout},
		{name: "shared timeout", in: Config{Timeout: time.Second}, connect: time.Second, read: time.Second, written: time.Second},
		{
			name:    "phase overrides",
			in:      Config{Timeout: time.Second, ReadTimeout: 3 * time.Second, ConnectTimeout: 2 * time.Second},
			connect: 2 * time.Second, read: 3 * time.Second, written: time.Second,
		},
		{name: "phase without shared", in: Config{WriteTimeout: time.Millisecond}, connect: DefaultTimeout, read: DefaultTimeout, written: time.Millisecond},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := tc.in.WithDefaults()
			if got.ConnectTimeout != tc.connect || got.ReadTimeout != tc.read || got.WriteTimeout != tc.written {
				t.Fatalf("got connect=%v read=%v write=%v", got.ConnectTimeout, got.ReadTimeout, got.WriteTimeout)
			}
		})
	}
}

func TestConfigValidate(t *testing.T) {
	testlog.Start(t)
	tests := []struct {
		name    string
		cfg     Config
		wantErr error
	}{
		{name: "ok", cfg: Config{Endpoint: "127.0.0.1:7070"}},
		{name: "missing endpoint", cfg: Config{}, wantErr: transport.ErrEndpointRequired},
		{name: "no port", cfg: Config{Endpoint: "127.0.0.1"}, wantErr: transport.ErrInvalidEndpoint},
		{name: "negative retry", cfg: Config{Endpoint: "h:1", ConnectRetryCount: -2}, wantErr: transport.ErrInvalidRetry},
		{name: "negative payload cap", cfg: Config{Endpoint: "h:1", MaxPayloadBytes: -1}, wantErr: ErrInvalidPayloadLimit},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.WithDefaults().Validate()
			if tc.wantErr == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
			if _, nerr := New(tc.cfg); !errors.Is(nerr, tc.wantErr) {
				t.Fatalf("New expected %v, got %v", tc.wantErr, nerr)
			}
		})
	}
}

func TestNewCopiesConfig(t *testing.T) {
	testlog.Start(t)
	key := []byte("secret")
	cfg := Config{Endpoint: "127.0.0.1:7070", TCPAuthKey: key, MaxPayloadBytes: 1024}
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	key[0] = 'X'
	if string(c.Config().TCPAuthKey) != "secret" {
		t.Fatalf("client shares the caller's key buffer: %q", c.Config().TCPAuthKey)
	}
	if c.limits.MaxPayloadBytes != 1024 {
		t.Fatalf("payload cap got=%d want=1024", c.limits.MaxPayloadBytes)
	}
	if c.State() != StateIdle {
		t.Fatalf("New must not connect, state=%v", c.State())
	}
}

func TestStateString(t *testing.T) {
	want := map[State]string{
		StateIdle:       "idle",
		StateConnecting: "connecting",
		StateReady:      "ready",
		StateInFlight:   "in_flight",
		StateFailed:     "failed",
		State(99):       "invalid",
	}
	for s, name := range want {
		if s.String() != name {
			t.Fatalf("State(%d) got=%q want=%q", int(s), s.String(), name)
		}
	}
}
