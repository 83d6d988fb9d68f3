package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/danmuck/jrpc"
	"github.com/danmuck/jrpc/internal/config"
	"github.com/danmuck/jrpc/internal/logging"
	"github.com/rs/zerolog/log"
)

const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

func main() {
	logging.ConfigureRuntime()
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr, os.LookupEnv))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer, lookup func(string) (string, bool)) int {
	f, fset, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}

	cfg, err := loadSettings(f, lookup)
	if err != nil {
		fmt.Fprintf(stderr, "jrpcctl: %v\n", err)
		return exitError
	}
	if f.printConfig {
		out, err := config.Render(cfg)
		if err != nil {
			fmt.Fprintf(stderr, "jrpcctl: %v\n", err)
			return exitError
		}
		_, _ = stdout.Write(out)
		return exitOK
	}

	if !f.repl && fset.NArg() == 0 {
		fset.Usage()
		return exitUsage
	}

	client, err := newClient(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "jrpcctl: %v\n", err)
		return exitError
	}
	defer client.Close()

	if cfg.MetricsAddr != "" {
		srv, err := startMetricsServer(cfg.MetricsAddr)
		if err != nil {
			fmt.Fprintf(stderr, "jrpcctl: %v\n", err)
			return exitError
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(ctx)
		}()
	}

	if f.repl {
		if err := runInteractive(client, stdin, stdout, stderr); err != nil {
			fmt.Fprintf(stderr, "jrpcctl: %v\n", err)
			return exitError
		}
		return exitOK
	}

	params, err := parseParams(strings.Join(fset.Args()[1:], " "))
	if err != nil {
		fmt.Fprintf(stderr, "jrpcctl: %v\n", err)
		return exitUsage
	}
	if err := execute(client, fset.Arg(0), params, f.notify, stdout); err != nil {
		fmt.Fprintf(stderr, "jrpcctl: %v\n", err)
		return exitError
	}
	return exitOK
}

func newClient(cfg config.ClientConfig) (*jrpc.Client, error) {
	opts := []jrpc.Option{
		jrpc.WithLogger(log.Logger.With().Str("component", "jrpcctl").Logger()),
	}
	if cfg.IDGenerator == config.IDGeneratorUUID {
		opts = append(opts, jrpc.WithIDGenerator(jrpc.UUIDs()))
	}
	if cfg.TraceTruncate > 0 {
		opts = append(opts, jrpc.WithTraceTruncate(cfg.TraceTruncate))
	}
	if cfg.MetricsAddr != "" {
		opts = append(opts, jrpc.WithMetrics())
	}
	if cfg.RateLimit > 0 {
		opts = append(opts, jrpc.WithMiddleware(jrpc.RateLimitMiddleware(cfg.RateLimit, cfg.RateBurst)))
	}
	return jrpc.New(cfg.Client, opts...)
}

// parseParams accepts an empty string (no params) or a JSON array/object.
func parseParams(raw string) (json.RawMessage, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if !json.Valid([]byte(raw)) {
		return nil, fmt.Errorf("params are not valid JSON: %s", raw)
	}
	return json.RawMessage(raw), nil
}

// execute sends one call and prints its indented result.
func execute(c *jrpc.Client, method string, params json.RawMessage, notify bool, out io.Writer) error {
	var p any
	if params != nil {
		p = params
	}
	if notify {
		return c.Notify(method, p)
	}
	result, err := c.Call(method, p)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, result, "", "  "); err != nil {
		buf.Reset()
		buf.Write(result)
	}
	buf.WriteByte('\n')
	_, err = out.Write(buf.Bytes())
	return err
}
