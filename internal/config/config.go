package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/jrpc"
	"github.com/danmuck/jrpc/internal/auth"
)

const (
	EnvEndpoint   = "JRPC_ENDPOINT"
	EnvTimeout    = "JRPC_TIMEOUT"
	EnvNamespace  = "JRPC_NAMESPACE"
	EnvTCPAuthKey = "JRPC_TCP_AUTH_KEY"
)

const (
	IDGeneratorRandom = "random"
	IDGeneratorUUID   = "uuid"
)

// ClientConfig is everything a client.toml can set: the connection itself
// plus how the command line wires it.
type ClientConfig struct {
	Client        jrpc.Config
	IDGenerator   string
	RateLimit     float64
	RateBurst     int
	MetricsAddr   string
	TraceTruncate int
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Client:      jrpc.Config{Timeout: jrpc.DefaultTimeout},
		IDGenerator: IDGeneratorRandom,
	}
}

// client.toml key mapping. Durations are strings ("2s") or _ms integers; the
// _ms form wins when both are set.
type fileConfig struct {
	Endpoint           string      `toml:"endpoint"`
	Timeout            string      `toml:"timeout"`
	TimeoutMS          int64       `toml:"timeout_ms"`
	ConnectTimeout     string      `toml:"connect_timeout"`
	ConnectTimeoutMS   int64       `toml:"connect_timeout_ms"`
	ReadTimeout        string      `toml:"read_timeout"`
	ReadTimeoutMS      int64       `toml:"read_timeout_ms"`
	WriteTimeout       string      `toml:"write_timeout"`
	WriteTimeoutMS     int64       `toml:"write_timeout_ms"`
	ConnectRetryCount  int         `toml:"connect_retry_count"`
	Namespace          string      `toml:"namespace"`
	CloseAfterEachCall bool        `toml:"close_after_each_call"`
	TCPAuthKey         string      `toml:"tcp_auth_key"`
	MaxPayloadBytes    int         `toml:"max_payload_bytes"`
	IDGenerator        string      `toml:"id_generator"`
	RateLimit          float64     `toml:"rate_limit"`
	RateBurst          int         `toml:"rate_burst"`
	MetricsAddr        string      `toml:"metrics_addr"`
	TraceTruncate      int         `toml:"trace_truncate"`
	Backoff            fileBackoff `toml:"backoff"`
}

type fileBackoff struct {
	InitialDelay string  `toml:"initial_delay"`
	Multiplier   float64 `toml:"multiplier"`
	MaxDelay     string  `toml:"max_delay"`
	Jitter       bool    `toml:"jitter"`
}

// LoadClientConfig layers the keys defined in path over DefaultClientConfig
// and validates the result.
func LoadClientConfig(path string) (ClientConfig, error) {
	cfg := DefaultClientConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return ClientConfig{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return ClientConfig{}, fmt.Errorf("config parse failed (%s): unknown key %q", path, undecoded[0].String())
	}

	if meta.IsDefined("endpoint") {
		cfg.Client.Endpoint = strings.TrimSpace(raw.Endpoint)
	}

	durations := []struct {
		key   string
		str   string
		ms    int64
		field *time.Duration
	}{
		{"timeout", raw.Timeout, raw.TimeoutMS, &cfg.Client.Timeout},
		{"connect_timeout", raw.ConnectTimeout, raw.ConnectTimeoutMS, &cfg.Client.ConnectTimeout},
		{"read_timeout", raw.ReadTimeout, raw.ReadTimeoutMS, &cfg.Client.ReadTimeout},
		{"write_timeout", raw.WriteTimeout, raw.WriteTimeoutMS, &cfg.Client.WriteTimeout},
		{"backoff.initial_delay", raw.Backoff.InitialDelay, 0, &cfg.Client.ConnectBackoff.InitialDelay},
		{"backoff.max_delay", raw.Backoff.MaxDelay, 0, &cfg.Client.ConnectBackoff.MaxDelay},
	}
	for _, d := range durations {
		keys := strings.Split(d.key, ".")
		if meta.IsDefined(keys...) {
			v, err := parseDuration(d.str)
			if err != nil {
				return ClientConfig{}, fmt.Errorf("parse %s: %w", d.key, err)
			}
			*d.field = v
		}
		if len(keys) == 1 && meta.IsDefined(d.key+"_ms") {
			if d.ms < 0 {
				return ClientConfig{}, fmt.Errorf("parse %s_ms: must not be negative", d.key)
			}
			*d.field = time.Duration(d.ms) * time.Millisecond
		}
	}

	if meta.IsDefined("connect_retry_count") {
		cfg.Client.ConnectRetryCount = raw.ConnectRetryCount
	}
	if meta.IsDefined("backoff", "multiplier") {
		cfg.Client.ConnectBackoff.Multiplier = raw.Backoff.Multiplier
	}
	if meta.IsDefined("backoff", "jitter") {
		cfg.Client.ConnectBackoff.Jitter = raw.Backoff.Jitter
	}
	if meta.IsDefined("namespace") {
		cfg.Client.Namespace = raw.Namespace
	}
	if meta.IsDefined("close_after_each_call") {
		cfg.Client.CloseAfterEachCall = raw.CloseAfterEachCall
	}
	if meta.IsDefined("tcp_auth_key") {
		key, err := auth.ParseKey(raw.TCPAuthKey)
		if err != nil {
			return ClientConfig{}, fmt.Errorf("parse tcp_auth_key: %w", err)
		}
		cfg.Client.TCPAuthKey = key
	}
	if meta.IsDefined("max_payload_bytes") {
		cfg.Client.MaxPayloadBytes = raw.MaxPayloadBytes
	}
	if meta.IsDefined("id_generator") {
		cfg.IDGenerator = strings.ToLower(strings.TrimSpace(raw.IDGenerator))
	}
	if meta.IsDefined("rate_limit") {
		cfg.RateLimit = raw.RateLimit
	}
	if meta.IsDefined("rate_burst") {
		cfg.RateBurst = raw.RateBurst
	}
	if meta.IsDefined("metrics_addr") {
		cfg.MetricsAddr = strings.TrimSpace(raw.MetricsAddr)
	}
	if meta.IsDefined("trace_truncate") {
		cfg.TraceTruncate = raw.TraceTruncate
	}

	if err := ValidateClientConfig(cfg); err != nil {
		return ClientConfig{}, fmt.Errorf("config invalid (%s): %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overrides cfg from JRPC_* variables. A nil lookup reads the
// process environment.
func ApplyEnv(cfg *ClientConfig, lookup func(string) (string, bool)) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if v, ok := lookup(EnvEndpoint); ok && strings.TrimSpace(v) != "" {
		cfg.Client.Endpoint = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvTimeout); ok && strings.TrimSpace(v) != "" {
		d, err := parseDuration(v)
		if err != nil {
			return fmt.Errorf("parse %s: %w", EnvTimeout, err)
		}
		cfg.Client.Timeout = d
	}
	if v, ok := lookup(EnvNamespace); ok {
		cfg.Client.Namespace = v
	}
	if v, ok := lookup(EnvTCPAuthKey); ok && v != "" {
		key, err := auth.ParseKey(v)
		if err != nil {
			return fmt.Errorf("parse %s: %w", EnvTCPAuthKey, err)
		}
		cfg.Client.TCPAuthKey = key
	}
	return nil
}

// ValidateClientConfig checks the settings that do not depend on a live
// endpoint. A missing endpoint is allowed so flags can supply it later.
func ValidateClientConfig(cfg ClientConfig) error {
	switch cfg.IDGenerator {
	case "", IDGeneratorRandom, IDGeneratorUUID:
	default:
		return fmt.Errorf("unknown id_generator %q", cfg.IDGenerator)
	}
	if cfg.RateLimit < 0 {
		return fmt.Errorf("rate_limit must not be negative")
	}
	if cfg.RateBurst < 0 {
		return fmt.Errorf("rate_burst must not be negative")
	}
	if cfg.Client.ConnectRetryCount < 0 {
		return fmt.Errorf("connect_retry_count must not be negative")
	}
	if cfg.Client.MaxPayloadBytes < 0 {
		return fmt.Errorf("max_payload_bytes must not be negative")
	}
	if strings.TrimSpace(cfg.Client.Endpoint) != "" {
		return cfg.Client.WithDefaults().Validate()
	}
	return nil
}

func parseDuration(s string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("duration %s must not be negative", s)
	}
	return d, nil
}
