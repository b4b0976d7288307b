package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 10*time.Minute, cfg.Sessions.OAuthStateTTL.Std())
	assert.Equal(t, 30*time.Minute, cfg.Sessions.IdleThreshold.Std())
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
server:
  port: "9090"
storage:
  sqlite_path: /tmp/other.db
sessions:
  idle_threshold: 10m
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "/tmp/other.db", cfg.Storage.SQLitePath)
	assert.Equal(t, 10*time.Minute, cfg.Sessions.IdleThreshold.Std())
	// Unset fields keep their defaults.
	assert.Equal(t, 10*time.Minute, cfg.Sessions.OAuthStateTTL.Std())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "7070")
	t.Setenv("JWT_SECRET", "override")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "7070", cfg.Server.Port)
	assert.Equal(t, "override", cfg.Auth.JWTSecret)
}
