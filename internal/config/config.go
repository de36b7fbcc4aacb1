// Package config holds the runtime configuration for the supercaching DNS
// forwarder: listener binding, upstream resolver specs, timeouts, and the
// database location.
//
// Configuration comes from command-line flags plus the DATABASE_URL
// environment variable. An optional .env file in the working directory is
// loaded before the environment is consulted.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
)

// Defaults for listener and upstream settings.
const (
	DefaultBindAddress     = "127.0.0.1"
	DefaultBindPort        = 53
	DefaultUpstreamTimeout = 3 * time.Second
)

// EnvDatabaseURL names the environment variable holding the SQLite
// connection string for the supercache.
const EnvDatabaseURL = "DATABASE_URL"

// Config is the assembled runtime configuration.
type Config struct {
	BindAddress     string
	BindPort        int
	UpstreamTimeout time.Duration
	Upstreams       []UpstreamSpec
	DatabaseURL     string

	// APIAddress enables the operator admin API when non-empty.
	APIAddress string

	Logging LoggingConfig
}

// LoggingConfig mirrors the flags controlling log output.
type LoggingConfig struct {
	Level      string
	Structured bool
}

// Validate checks the invariants that must hold before the server starts.
func (c *Config) Validate() error {
	if len(c.Upstreams) == 0 {
		return fmt.Errorf("at least one upstream server is required")
	}
	if c.BindPort < 1 || c.BindPort > 65535 {
		return fmt.Errorf("bind port %d out of range", c.BindPort)
	}
	if c.UpstreamTimeout <= 0 {
		return fmt.Errorf("upstream timeout must be positive")
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("%s is required", EnvDatabaseURL)
	}
	return nil
}

// LoadEnvironment loads the optional .env file from the working directory
// and returns the database URL from the environment. A missing .env file is
// not an error; a missing DATABASE_URL is reported by Validate.
func LoadEnvironment() string {
	if _, err := os.Stat(".env"); err == nil {
		// Real environment variables win over .env entries.
		_ = godotenv.Load(".env")
	}
	return os.Getenv(EnvDatabaseURL)
}
