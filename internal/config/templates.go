package config

import (
	"fmt"
	"os"

	"github.com/danmuck/jrpc/internal/auth"
	"github.com/pelletier/go-toml/v2"
)

func Template() string {
	return clientTemplate
}

func WriteTemplate(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(clientTemplate), 0o600)
}

// effectiveConfig is the rendered form of a resolved ClientConfig.
type effectiveConfig struct {
	Endpoint           string  `toml:"endpoint"`
	ConnectTimeout     string  `toml:"connect_timeout"`
	ReadTimeout        string  `toml:"read_timeout"`
	WriteTimeout       string  `toml:"write_timeout"`
	ConnectRetryCount  int     `toml:"connect_retry_count"`
	Namespace          string  `toml:"namespace"`
	CloseAfterEachCall bool    `toml:"close_after_each_call"`
	TCPAuthKey         string  `toml:"tcp_auth_key"`
	MaxPayloadBytes    int     `toml:"max_payload_bytes"`
	IDGenerator        string  `toml:"id_generator"`
	RateLimit          float64 `toml:"rate_limit"`
	RateBurst          int     `toml:"rate_burst"`
	MetricsAddr        string  `toml:"metrics_addr"`
}

// Render encodes cfg with every default resolved. The auth key is redacted.
func Render(cfg ClientConfig) ([]byte, error) {
	c := cfg.Client.WithDefaults()
	out := effectiveConfig{
		Endpoint:           c.Endpoint,
		ConnectTimeout:     c.ConnectTimeout.String(),
		ReadTimeout:        c.ReadTimeout.String(),
		WriteTimeout:       c.WriteTimeout.String(),
		ConnectRetryCount:  c.ConnectRetryCount,
		Namespace:          c.Namespace,
		CloseAfterEachCall: c.CloseAfterEachCall,
		TCPAuthKey:         auth.Redact(c.TCPAuthKey),
		MaxPayloadBytes:    c.MaxPayloadBytes,
		IDGenerator:        cfg.IDGenerator,
		RateLimit:          cfg.RateLimit,
		RateBurst:          cfg.RateBurst,
		MetricsAddr:        cfg.MetricsAddr,
	}
	b, err := toml.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("render config: %w", err)
	}
	return b, nil
}

const clientTemplate = `# jrpcctl client configuration
endpoint = "127.0.0.1:7070"

# Shared fallback for the three phase timeouts.
timeout = "5s"
# connect_timeout = "2s"
# read_timeout_ms = 1500
# write_timeout = "5s"

connect_retry_count = 2
namespace = ""
close_after_each_call = false

# Plain text, or hex:/base64: prefixed. Installed as TCP_MD5SIG on Linux.
# tcp_auth_key = "hex:73656372657421"

# max_payload_bytes = 16777216
id_generator = "random"

# Calls per second; 0 disables pacing.
rate_limit = 0
rate_burst = 1

# metrics_addr = "127.0.0.1:9464"
trace_truncate = 100

[backoff]
initial_delay = "100ms"
multiplier = 2.0
max_delay = "2s"
jitter = true
`
