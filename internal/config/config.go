package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all environment-based configuration for photosync.
type Config struct {
	// Directory containing the local media collection (required).
	LibraryDir string `env:"PHOTOSYNC_LIBRARY_DIR"`

	// Directory for local state (databases). Defaults to ~/.photosync.
	DataDir string `env:"PHOTOSYNC_DATA_DIR"`

	// Remote asset store endpoint and API key (required).
	ServerURL string `env:"PHOTOSYNC_SERVER_URL"`
	APIKey    string `env:"PHOTOSYNC_API_KEY"`

	// Device name this client identifies as. Defaults to system hostname.
	DeviceName string `env:"DEVICE_NAME"`

	// Worker budgets per pipeline phase. Small fixed budgets bound
	// in-flight byte buffers and remote request rate.
	HashWorkers   int `env:"PHOTOSYNC_HASH_WORKERS" envDefault:"3"`
	CheckWorkers  int `env:"PHOTOSYNC_CHECK_WORKERS" envDefault:"5"`
	UploadWorkers int `env:"PHOTOSYNC_UPLOAD_WORKERS" envDefault:"2"`

	// Remote index sync tuning.
	SyncInterval     time.Duration `env:"PHOTOSYNC_SYNC_INTERVAL" envDefault:"15m"`
	FullSyncPageSize int           `env:"PHOTOSYNC_FULL_SYNC_PAGE_SIZE" envDefault:"10000"`

	// Completed upload-job rows older than this are purged.
	JobRetention time.Duration `env:"PHOTOSYNC_JOB_RETENTION" envDefault:"168h"`

	// Environment controls log format.
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
}

// warnInsecureEnvFile checks whether the .env file (if present) has
// overly permissive permissions. On Unix systems, group or world
// readable files risk exposing the API key to other users.
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

	if cfg.DeviceName == "" {
		hostname, err := os.Hostname()
		if err != nil || hostname == "" {
			hostname = "photosync"
		}

		cfg.DeviceName = hostname
	}

	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("determining home directory: %w", err)
		}

		cfg.DataDir = filepath.Join(home, ".photosync")
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	// Resolve LibraryDir to an absolute path at startup. Asset identifiers
	// are paths relative to this directory, so it must be stable for the
	// lifetime of the local databases.
	absDir, err := filepath.Abs(cfg.LibraryDir)
	if err != nil {
		return nil, fmt.Errorf("resolving library dir to absolute path: %w", err)
	}

	cfg.LibraryDir = absDir

	return cfg, nil
}

func (c *Config) validate() error {
	if c.LibraryDir == "" {
		return fmt.Errorf("PHOTOSYNC_LIBRARY_DIR is required")
	}

	if c.ServerURL == "" {
		return fmt.Errorf("PHOTOSYNC_SERVER_URL is required")
	}

	// APIKey may be empty here: once provided on a first run it is kept
	// sealed in the settings database and picked up from there.

	if c.HashWorkers < 1 || c.CheckWorkers < 1 || c.UploadWorkers < 1 {
		return fmt.Errorf("worker budgets must be at least 1")
	}

	if c.FullSyncPageSize < 1 {
		return fmt.Errorf("PHOTOSYNC_FULL_SYNC_PAGE_SIZE must be at least 1")
	}

	return nil
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
