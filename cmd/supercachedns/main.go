// Command supercachedns runs the supercaching DNS forwarder.
//
// It answers client queries from the configured upstream resolvers when it
// can, and from the durable supercache when it cannot: any name the
// forwarder has ever resolved keeps resolving for as long as the process is
// up, with TTLs rewritten to reflect the true age of the answer.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jroosing/supercachedns/internal/config"
	"github.com/jroosing/supercachedns/internal/database"
	"github.com/jroosing/supercachedns/internal/logging"
	"github.com/jroosing/supercachedns/internal/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

// cliFlags holds parsed command-line flag values.
type cliFlags struct {
	bindAddress     string
	bindPort        int
	upstreamTimeout int
	upstreamServers string
	apiAddress      string
	jsonLogs        bool
	debug           bool
}

// parseFlags parses command-line flags and returns the values.
func parseFlags() cliFlags {
	var f cliFlags
	flag.StringVar(&f.bindAddress, "bind-address", config.DefaultBindAddress, "IP to bind the UDP and TCP listeners to")
	flag.IntVar(&f.bindPort, "bind-port", config.DefaultBindPort, "Port for both UDP and TCP listeners")
	flag.IntVar(&f.upstreamTimeout, "upstream-timeout", int(config.DefaultUpstreamTimeout/time.Second),
		"Per-query upstream timeout in seconds; keep below the ~5s client timeout")
	flag.StringVar(&f.upstreamServers, "upstream-servers", "",
		"Comma-separated upstream specs, \"address[:port][/protocol]\" (required)")
	flag.StringVar(&f.upstreamServers, "u", "", "Shorthand for -upstream-servers")
	flag.StringVar(&f.apiAddress, "api-address", "", "Address for the admin API (disabled when empty)")
	flag.BoolVar(&f.jsonLogs, "json-logs", false, "Enable JSON structured logging")
	flag.BoolVar(&f.debug, "debug", false, "Enable debug logging")
	flag.Parse()
	return f
}

// buildConfig assembles and validates the runtime configuration from flags
// and environment.
func buildConfig(f cliFlags) (*config.Config, error) {
	cfg := &config.Config{
		BindAddress:     f.bindAddress,
		BindPort:        f.bindPort,
		UpstreamTimeout: time.Duration(f.upstreamTimeout) * time.Second,
		DatabaseURL:     config.LoadEnvironment(),
		APIAddress:      f.apiAddress,
		Logging: config.LoggingConfig{
			Level:      "INFO",
			Structured: f.jsonLogs,
		},
	}
	if f.debug {
		cfg.Logging.Level = "DEBUG"
	}

	if f.upstreamServers == "" {
		return nil, fmt.Errorf("at least one upstream server is required (-upstream-servers)")
	}
	upstreams, err := config.ParseUpstreamSpecs(f.upstreamServers)
	if err != nil {
		return nil, err
	}
	cfg.Upstreams = upstreams

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func run() error {
	cfg, err := buildConfig(parseFlags())
	if err != nil {
		return err
	}

	logger := logging.Configure(logging.Config{
		Level:      cfg.Logging.Level,
		Structured: cfg.Logging.Structured,
	})

	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open supercache database: %w", err)
	}
	defer db.Close()

	logger.Info("supercachedns starting",
		"bind", fmt.Sprintf("%s:%d", cfg.BindAddress, cfg.BindPort),
		"upstreams", len(cfg.Upstreams),
		"database", cfg.DatabaseURL,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	runner := server.NewRunner(logger)
	if err := runner.Run(ctx, cfg, db); err != nil {
		return fmt.Errorf("server exited with error: %w", err)
	}
	return nil
}
