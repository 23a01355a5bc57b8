package config

import (
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"usagecache/pkg/errors"
)

type Config struct {
	App           AppConfig
	Store         StoreConfig
	Cursor        CursorConfig
	Sync          SyncConfig
	API           APIConfig
	ErrorTracking ErrorTrackingConfig
}

type AppConfig struct {
	Name     string `envconfig:"APP_NAME" default:"usagecache"`
	Env      string `envconfig:"APP_ENV" default:"development"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	Debug    bool   `envconfig:"DEBUG" default:"false"`
}

type StoreConfig struct {
	// Dir holds the SQLite database; created if missing
	Dir  string `envconfig:"STORE_DIR" default:"."`
	File string `envconfig:"STORE_FILE" default:"usagecache.db"`
}

type CursorConfig struct {
	// BaseURLs are tried in order until one answers; covers the
	// cursor.com / www.cursor.com split
	BaseURLs     []string      `envconfig:"CURSOR_BASE_URLS" default:"https://cursor.com,https://www.cursor.com"`
	SessionToken string        `envconfig:"CURSOR_SESSION_TOKEN"`
	TeamID       int           `envconfig:"CURSOR_TEAM_ID" default:"0"`
	PageSize     int           `envconfig:"CURSOR_PAGE_SIZE" default:"300"`
	PageInterval time.Duration `envconfig:"CURSOR_PAGE_INTERVAL" default:"100ms"`
	Timeout      time.Duration `envconfig:"CURSOR_TIMEOUT" default:"30s"`
}

type SyncConfig struct {
	// Overlap is the trailing window re-fetched on every sync to absorb
	// late status corrections to near-present events
	Overlap        time.Duration `envconfig:"SYNC_OVERLAP" default:"30m"`
	WorkerInterval time.Duration `envconfig:"SYNC_WORKER_INTERVAL" default:"5m"`
	WorkerEnabled  bool          `envconfig:"SYNC_WORKER_ENABLED" default:"true"`
}

type APIConfig struct {
	ListenAddr      string        `envconfig:"API_LISTEN_ADDR" default:":8880"`
	ShutdownTimeout time.Duration `envconfig:"API_SHUTDOWN_TIMEOUT" default:"10s"`
}

type ErrorTrackingConfig struct {
	Enabled     bool   `envconfig:"ERROR_TRACKING_ENABLED" default:"false"`
	SentryDSN   string `envconfig:"SENTRY_DSN"`
	Environment string `envconfig:"SENTRY_ENVIRONMENT" default:"production"`
}

// Load reads configuration from environment variables
// It first tries to load .env file (useful for local development)
func Load() (*Config, error) {
	// Load .env file if exists (ignore error if not exists)
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to process env config")
	}

	return &cfg, nil
}
