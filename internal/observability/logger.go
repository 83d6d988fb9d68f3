package observability

import (
	"io"
	"os"
	"time"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
)

// NewConsoleLogger builds a human-readable zerolog logger tagged with app.
// Colors are only emitted when out is a terminal and noColor is false.
func NewConsoleLogger(out io.Writer, app string, timestamp bool, noColor bool) zerolog.Logger {
	if f, ok := out.(*os.File); ok {
		if !isatty.IsTerminal(f.Fd()) && !isatty.IsCygwinTerminal(f.Fd()) {
			noColor = true
		} else {
			out = colorable.NewColorable(f)
		}
	}
	output := zerolog.ConsoleWriter{
		Out:        out,
		NoColor:    noColor,
		TimeFormat: time.RFC3339,
	}
	if !timestamp {
		output.PartsExclude = []string{zerolog.TimestampFieldName}
	}
	ctx := zerolog.New(output).With().Str("app", app)
	if timestamp {
		ctx = ctx.Timestamp()
	}
	return ctx.Logger()
}
