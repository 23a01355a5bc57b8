package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "usagecache", cfg.App.Name)
	assert.Equal(t, "usagecache.db", cfg.Store.File)
	assert.Equal(t, []string{"https://cursor.com", "https://www.cursor.com"}, cfg.Cursor.BaseURLs)
	assert.Equal(t, 300, cfg.Cursor.PageSize)
	assert.Equal(t, 100*time.Millisecond, cfg.Cursor.PageInterval)
	assert.Equal(t, 30*time.Minute, cfg.Sync.Overlap)
	assert.True(t, cfg.Sync.WorkerEnabled)
	assert.Equal(t, ":8880", cfg.API.ListenAddr)
	assert.False(t, cfg.ErrorTracking.Enabled)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("CURSOR_SESSION_TOKEN", "secret")
	t.Setenv("CURSOR_BASE_URLS", "http://localhost:9999")
	t.Setenv("SYNC_OVERLAP", "5m")
	t.Setenv("STORE_DIR", "/var/lib/usagecache")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "secret", cfg.Cursor.SessionToken)
	assert.Equal(t, []string{"http://localhost:9999"}, cfg.Cursor.BaseURLs)
	assert.Equal(t, 5*time.Minute, cfg.Sync.Overlap)
	assert.Equal(t, "/var/lib/usagecache", cfg.Store.Dir)
}
