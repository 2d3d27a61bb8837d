package model

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "Europe/Paris", cfg.App.Timezone)
	assert.Equal(t, 300*time.Second, cfg.Sync.CacheTTL)
	assert.Equal(t, 300*time.Second, cfg.Sync.RefreshBuffer)
	assert.Equal(t, 10*time.Minute, cfg.OAuth.StateTTL)
	assert.Equal(t, "email-kanban-salt", cfg.Security.KDFSalt)
	assert.Equal(t, 100000, cfg.Security.KDFIterations)
	assert.Equal(t, 4, cfg.Sync.Concurrency)
	require.NoError(t, cfg.Validate())
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mailboard.yaml")
	yaml := `
app:
  secret_key: from-file
  base_url: https://board.example.com
sync:
  cache_ttl: 2m
providers:
  google:
    client_id: gid
    client_secret: gsecret
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	t.Setenv("APP_SECRET_KEY", "from-env")
	t.Setenv("SYNC_CONCURRENCY", "8")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.App.SecretKey)
	assert.Equal(t, "https://board.example.com", cfg.App.BaseURL)
	assert.Equal(t, 2*time.Minute, cfg.Sync.CacheTTL)
	assert.Equal(t, 8, cfg.Sync.Concurrency)
	assert.True(t, cfg.Providers.Google.Configured())
	assert.False(t, cfg.Providers.Microsoft.Configured())
}

func TestValidateRejectsBadTimezone(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	cfg.App.Timezone = "Mars/Olympus"
	assert.Error(t, cfg.Validate())
}
