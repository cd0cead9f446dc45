package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFile_Defaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9090\n"), 0o644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Progress.ClearCooldown)
	assert.Equal(t, 3, cfg.Submission.MaxAttempts)
	assert.Equal(t, 64, cfg.Broadcast.ClientBuffer)
	assert.False(t, cfg.Broadcast.EmitLegacyData)
	assert.Equal(t, "local", cfg.Storage.Driver)
	assert.False(t, cfg.Redis.Enabled())
}

func TestLoadFile_YAMLAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
progress:
  clear_cooldown: 2s
submission:
  max_attempts: 0
  artifact_timeout: 1500ms
broadcast:
  emit_legacy_data: true
redis:
  host: cache.internal
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	t.Setenv("DB_HOST", "db.internal")

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, 2*time.Second, cfg.Progress.ClearCooldown)
	assert.Equal(t, 1, cfg.Submission.MaxAttempts)
	assert.Equal(t, 1500*time.Millisecond, cfg.Submission.ArtifactTimeout)
	assert.True(t, cfg.Broadcast.EmitLegacyData)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, "cache.internal:6379", cfg.Redis.Addr())
}

func TestLoadFile_MissingExplicitFile(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
