package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // pure-Go SQLite driver

	"usagecache/internal/adapters/config"
	"usagecache/pkg/errors"
)

// Client wraps sqlx.DB for the local SQLite store
type Client struct {
	db   *sqlx.DB
	path string
}

// NewClient opens (or creates) the SQLite database under the configured
// directory and enables WAL mode so reads stay concurrent with writes
func NewClient(cfg config.StoreConfig) (*Client, error) {
	dir := cfg.Dir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, errors.Wrapf(errors.ErrStorage, "create store dir: %v", err)
	}

	path := filepath.Join(dir, cfg.File)
	db, err := sqlx.Connect("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrStorage, "open sqlite: %v", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, errors.Wrapf(errors.ErrStorage, "enable WAL: %v", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, errors.Wrapf(errors.ErrStorage, "set busy timeout: %v", err)
	}

	// single writer; SQLite serializes writes anyway
	db.SetMaxOpenConns(4)
	db.SetConnMaxIdleTime(30 * time.Minute)

	return &Client{db: db, path: path}, nil
}

// DB returns the underlying sqlx.DB instance
func (c *Client) DB() *sqlx.DB {
	return c.db
}

// Path returns the database file path
func (c *Client) Path() string {
	return c.path
}

// Close closes the database connection
func (c *Client) Close() error {
	return c.db.Close()
}

// Health checks database connectivity
func (c *Client) Health(ctx context.Context) error {
	return c.db.PingContext(ctx)
}
