package transport

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/danmuck/jrpc/internal/auth"
)

// DefaultTimeout applies to any phase whose timeout is unset.
const DefaultTimeout = 5 * time.Second

var (
	ErrEndpointRequired = errors.New("transport: endpoint required")
	ErrInvalidEndpoint  = errors.New("transport: invalid endpoint")
	ErrInvalidRetry     = errors.New("transport: connect retry count must not be negative")
)

// BackoffConfig paces connect retries. The zero value retries immediately.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// Config is the resolved socket configuration.
type Config struct {
	Endpoint          string
	ConnectTimeout    time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	ConnectRetryCount int
	Backoff           BackoffConfig
	TCPAuthKey        []byte
}

// WithDefaults fills unset timeouts with DefaultTimeout.
func (c Config) WithDefaults() Config {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultTimeout
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = DefaultTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultTimeout
	}
	if len(c.TCPAuthKey) > 0 {
		c.TCPAuthKey = append([]byte(nil), c.TCPAuthKey...)
	}
	return c
}

func (c Config) Validate() error {
	if _, _, err := SplitEndpoint(c.Endpoint); err != nil {
		return err
	}
	if c.ConnectRetryCount < 0 {
		return ErrInvalidRetry
	}
	if len(c.TCPAuthKey) > 0 {
		if err := auth.ValidateKey(c.TCPAuthKey); err != nil {
			return err
		}
	}
	return nil
}

// SplitEndpoint parses a "host:port" endpoint. Both parts are required.
func SplitEndpoint(endpoint string) (string, int, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return "", 0, ErrEndpointRequired
	}
	host, portRaw, err := net.SplitHostPort(endpoint)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %q: %v", ErrInvalidEndpoint, endpoint, err)
	}
	if strings.TrimSpace(host) == "" {
		return "", 0, fmt.Errorf("%w: %q: missing host", ErrInvalidEndpoint, endpoint)
	}
	port, err := strconv.Atoi(portRaw)
	if err != nil || port <= 0 || port > 65535 {
		return "", 0, fmt.Errorf("%w: %q: bad port", ErrInvalidEndpoint, endpoint)
	}
	return host, port, nil
}
