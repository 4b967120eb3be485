package config

import (
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all environment-based configuration for deck-sync.
type Config struct {
	// Base URL of the collaboration server the pull endpoint lives on.
	ServerURL string `env:"DECKSYNC_SERVER_URL" envDefault:"https://plugin.ankicollab.com"`

	// Directory holding the subscription state database. Defaults to
	// ~/.deck-sync when empty.
	StateDir string `env:"DECKSYNC_STATE_DIR"`

	// Timeout for a single pull request round trip.
	PullTimeout time.Duration `env:"DECKSYNC_PULL_TIMEOUT" envDefault:"60s"`

	// Number of concurrent copy workers used by the media exporter.
	MediaWorkers int `env:"DECKSYNC_MEDIA_WORKERS" envDefault:"4"`

	// Environment controls log format.
	Environment string `env:"ENVIRONMENT" envDefault:"development"`

	// LogLevel overrides the environment's default log level.
	LogLevel string `env:"DECKSYNC_LOG_LEVEL" envDefault:""`
}

// warnInsecureEnvFile checks whether the .env file (if present) has
// overly permissive permissions. On Unix systems, group or world
// readable files risk exposing credentials to other users.
func warnInsecureEnvFile() {
	if runtime.GOOS == "windows" {
		return
	}

	info, err := os.Stat(".env")
	if err != nil {
		return // file does not exist, nothing to check
	}

	mode := info.Mode().Perm()
	if mode&0o077 != 0 {
		log.Printf("WARNING: .env file has insecure permissions %04o; recommended 0600", mode)
	}
}

// Load reads configuration from environment variables.
// It first attempts to load a .env file if present, then parses env vars.
func Load() (*Config, error) {
	_ = godotenv.Load()

	warnInsecureEnvFile()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if cfg.StateDir == "" {
		dir, err := defaultStateDir()
		if err != nil {
			return nil, err
		}

		cfg.StateDir = dir
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	// Resolve StateDir to an absolute path at startup so the bbolt
	// database always lands in the same place regardless of the working
	// directory a subcommand runs from.
	absDir, err := filepath.Abs(cfg.StateDir)
	if err != nil {
		return nil, fmt.Errorf("resolving state dir to absolute path: %w", err)
	}

	cfg.StateDir = absDir

	return cfg, nil
}

func (c *Config) validate() error {
	u, err := url.Parse(c.ServerURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("DECKSYNC_SERVER_URL must be an absolute URL, got %q", c.ServerURL)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("DECKSYNC_SERVER_URL must use http or https, got %q", u.Scheme)
	}

	if c.PullTimeout <= 0 {
		return fmt.Errorf("DECKSYNC_PULL_TIMEOUT must be positive")
	}

	if c.MediaWorkers < 1 {
		return fmt.Errorf("DECKSYNC_MEDIA_WORKERS must be at least 1")
	}

	return nil
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// StatePath returns the full path of the subscription state database.
func (c *Config) StatePath() string {
	return filepath.Join(c.StateDir, "subscriptions.db")
}

func defaultStateDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determining home directory: %w", err)
	}

	return filepath.Join(home, ".deck-sync"), nil
}
