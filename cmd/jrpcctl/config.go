package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"time"

	"github.com/danmuck/jrpc/internal/config"
	"github.com/joho/godotenv"
)

// cliFlags holds the command line as parsed. Only flags the user actually set
// override file and environment settings.
type cliFlags struct {
	configPath  string
	envFile     string
	endpoint    string
	timeout     time.Duration
	namespace   string
	retries     int
	closeEach   bool
	notify      bool
	uuid        bool
	repl        bool
	printConfig bool
	metricsAddr string
	set         map[string]bool
}

func parseFlags(args []string, output io.Writer) (*cliFlags, *flag.FlagSet, error) {
	f := &cliFlags{set: make(map[string]bool)}
	fset := flag.NewFlagSet("jrpcctl", flag.ContinueOnError)
	fset.SetOutput(output)
	fset.StringVar(&f.configPath, "config", "", "client config file (TOML)")
	fset.StringVar(&f.envFile, "env", ".env", "dotenv file loaded before JRPC_* overrides")
	fset.StringVar(&f.endpoint, "endpoint", "", "server host:port")
	fset.DurationVar(&f.timeout, "timeout", 0, "default connect/read/write timeout")
	fset.StringVar(&f.namespace, "namespace", "", "prefix for every method name")
	fset.IntVar(&f.retries, "retries", 0, "connect retry count")
	fset.BoolVar(&f.closeEach, "close-after-each-call", false, "reconnect for every call")
	fset.BoolVar(&f.notify, "notify", false, "send a notification instead of a request")
	fset.BoolVar(&f.uuid, "uuid", false, "use UUID correlation ids")
	fset.BoolVar(&f.repl, "repl", false, "interactive mode")
	fset.BoolVar(&f.printConfig, "print-config", false, "print the effective config and exit")
	fset.StringVar(&f.metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address")
	fset.Usage = func() {
		fmt.Fprintln(fset.Output(), "usage: jrpcctl [flags] method [json-params]")
		fmt.Fprintln(fset.Output(), "       jrpcctl [flags] -repl")
		fset.PrintDefaults()
	}
	if err := fset.Parse(args); err != nil {
		return nil, fset, err
	}
	fset.Visit(func(fl *flag.Flag) { f.set[fl.Name] = true })
	return f, fset, nil
}

// loadSettings resolves the client config: defaults, then the TOML file,
// then .env and JRPC_* variables, then flags.
func loadSettings(f *cliFlags, lookup func(string) (string, bool)) (config.ClientConfig, error) {
	if f.envFile != "" {
		if err := godotenv.Load(f.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return config.ClientConfig{}, fmt.Errorf("load %s: %w", f.envFile, err)
		}
	}

	cfg := config.DefaultClientConfig()
	if f.configPath != "" {
		loaded, err := config.LoadClientConfig(f.configPath)
		if err != nil {
			return config.ClientConfig{}, err
		}
		cfg = loaded
	}
	if err := config.ApplyEnv(&cfg, lookup); err != nil {
		return config.ClientConfig{}, err
	}

	if f.set["endpoint"] {
		cfg.Client.Endpoint = f.endpoint
	}
	if f.set["timeout"] {
		cfg.Client.Timeout = f.timeout
	}
	if f.set["namespace"] {
		cfg.Client.Namespace = f.namespace
	}
	if f.set["retries"] {
		cfg.Client.ConnectRetryCount = f.retries
	}
	if f.set["close-after-each-call"] {
		cfg.Client.CloseAfterEachCall = f.closeEach
	}
	if f.uuid {
		cfg.IDGenerator = config.IDGeneratorUUID
	}
	if f.set["metrics-addr"] {
		cfg.MetricsAddr = f.metricsAddr
	}
	if err := config.ValidateClientConfig(cfg); err != nil {
		return config.ClientConfig{}, err
	}
	return cfg, nil
}
