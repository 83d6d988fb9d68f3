package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		raw    string
		want   zerolog.Level
		wantOK bool
	}{
		{raw: "", want: zerolog.InfoLevel, wantOK: false},
		{raw: "TRACE", want: zerolog.TraceLevel, wantOK: true},
		{raw: " debug ", want: zerolog.DebugLevel, wantOK: true},
		{raw: "warning", want: zerolog.WarnLevel, wantOK: true},
		{raw: "error", want: zerolog.ErrorLevel, wantOK: true},
		{raw: "off", want: zerolog.Disabled, wantOK: true},
		{raw: "loud", want: zerolog.InfoLevel, wantOK: false},
	}
	for _, tc := range tests {
		got, ok := ParseLevel(tc.raw)
		if got != tc.want || ok != tc.wantOK {
			t.Fatalf("ParseLevel(%q) got=(%v,%v) want=(%v,%v)", tc.raw, got, ok, tc.want, tc.wantOK)
		}
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv(EnvLogLevel, "error")
	t.Setenv(EnvLogTimestamp, "false")
	t.Setenv(EnvLogNoColor, "1")
	t.Setenv(EnvLogBypass, "not-a-bool")

	cfg := defaultConfig(ProfileRuntime)
	applyEnvOverrides(&cfg)
	if cfg.Level != zerolog.ErrorLevel {
		t.Fatalf("level got=%v", cfg.Level)
	}
	if cfg.Timestamp {
		t.Fatalf("timestamp should be disabled")
	}
	if !cfg.NoColor {
		t.Fatalf("nocolor should be enabled")
	}
	if cfg.Bypass {
		t.Fatalf("invalid bool must be ignored")
	}
}

func TestApplyWritesThroughConsoleLogger(t *testing.T) {
	prevLogger := log.Logger
	prevLevel := zerolog.GlobalLevel()
	t.Cleanup(func() {
		log.Logger = prevLogger
		zerolog.SetGlobalLevel(prevLevel)
	})

	var buf bytes.Buffer
	Apply(Config{Level: zerolog.InfoLevel, NoColor: true, Out: &buf})
	log.Debug().Msg("hidden")
	log.Info().Str("method", "sum").Msg("visible")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug line leaked: %q", out)
	}
	if !strings.Contains(out, "visible") || !strings.Contains(out, "method=sum") {
		t.Fatalf("unexpected output: %q", out)
	}
}
