package observability

import (
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
)

// DefaultTruncateLen is how many payload bytes a trace line keeps.
const DefaultTruncateLen = 100

// CallTrace is one request/response trace line.
type CallTrace struct {
	Method    string
	ID        string
	Kind      string
	Request   []byte
	Response  []byte
	Elapsed   time.Duration
	Err       error
	ErrorKind string
	Server    bool
}

// LogCall writes a trace line. Successful calls log at debug, JSON-RPC error
// responses at warn, and transport or protocol failures at error.
func LogCall(logger zerolog.Logger, tr CallTrace, truncateLen int) {
	if truncateLen <= 0 {
		truncateLen = DefaultTruncateLen
	}

	event := logger.Debug()
	if tr.Err != nil {
		if tr.Server {
			event = logger.Warn()
		} else {
			event = logger.Error()
		}
	}
	if event == nil {
		return
	}

	event = event.
		Str("method", tr.Method).
		Str("kind", tr.Kind).
		Str("request", Truncate(string(tr.Request), truncateLen)).
		Dur("elapsed", tr.Elapsed)
	if tr.ID != "" {
		event = event.Str("id", tr.ID)
	}
	if tr.Response != nil {
		event = event.Str("response", Truncate(string(tr.Response), truncateLen))
	}
	if tr.Err != nil {
		event = event.Str("error_kind", tr.ErrorKind).Err(tr.Err)
	}
	event.Msg("jrpc_call")
}

// Truncate keeps the first n+1 bytes of s and appends "..." when s is longer
// than n. The cut backs off to a rune boundary so UTF-8 text stays valid.
func Truncate(s string, n int) string {
	if n < 0 || len(s) <= n {
		return s
	}
	cut := n + 1
	for cut > 0 && cut < len(s) && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
