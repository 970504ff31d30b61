package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setArgs(t *testing.T, args ...string) {
	t.Helper()
	orig := os.Args
	os.Args = append([]string{"glimpsed"}, args...)
	t.Cleanup(func() { os.Args = orig })
}

func TestLoadDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.LoadDefaults()

	assert.Equal(t, "local", cfg.OwnerID)
	assert.Equal(t, BackendSQLite, cfg.StorageBackend)
	assert.Equal(t, "glimpse.db", cfg.SQLitePath)
	assert.Equal(t, 30*time.Second, cfg.CaptureInterval)
	assert.Equal(t, 2, cfg.GapFactor)
	assert.Empty(t, cfg.GeminiAPIKey)
	assert.Empty(t, cfg.VaultSecret)
}

func TestGapThreshold(t *testing.T) {
	cfg := &Config{CaptureInterval: 30 * time.Second, GapFactor: 3}
	assert.Equal(t, 90*time.Second, cfg.GapThreshold())

	// Non-positive factors fall back to 2x.
	cfg.GapFactor = 0
	assert.Equal(t, 60*time.Second, cfg.GapThreshold())
}

func TestS3Enabled(t *testing.T) {
	cfg := &Config{}
	assert.False(t, cfg.S3Enabled())

	cfg.S3Bucket = "glimpse-captures"
	assert.True(t, cfg.S3Enabled())
}

func TestLoadEnv(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "env-key")
	t.Setenv("GLIMPSE_VAULT_SECRET", "env-secret")
	t.Setenv("GLIMPSE_DATABASE_DSN", "postgres://env/db")

	cfg := &Config{}
	cfg.LoadDefaults()
	cfg.loadEnv()

	assert.Equal(t, "env-key", cfg.GeminiAPIKey)
	assert.Equal(t, "env-secret", cfg.VaultSecret)
	assert.Equal(t, "postgres://env/db", cfg.DatabaseDSN)
}

func TestLoadConfig_Flags(t *testing.T) {
	setArgs(t, "-o", "alice", "-m", "postgres", "-i", "60", "-g", "3", "-b", "captures")

	cfg := LoadConfig()

	assert.Equal(t, "alice", cfg.OwnerID)
	assert.Equal(t, BackendPostgres, cfg.StorageBackend)
	assert.Equal(t, 60*time.Second, cfg.CaptureInterval)
	assert.Equal(t, 3, cfg.GapFactor)
	assert.Equal(t, "captures", cfg.S3Bucket)
	assert.True(t, cfg.S3Enabled())
}

func TestLoadConfig_JsonOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"owner_id": "bob",
		"storage_backend": "postgres",
		"capture_interval": "45s",
		"gap_factor": 4
	}`), 0o600))

	setArgs(t, "-c", path)

	cfg := LoadConfig()

	assert.Equal(t, "bob", cfg.OwnerID)
	assert.Equal(t, BackendPostgres, cfg.StorageBackend)
	assert.Equal(t, 45*time.Second, cfg.CaptureInterval)
	assert.Equal(t, 4, cfg.GapFactor)
	// Values the file omits keep their defaults.
	assert.Equal(t, "glimpse.db", cfg.SQLitePath)
}

func TestLoadConfig_FlagsBeatJson(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"owner_id": "bob"}`), 0o600))

	setArgs(t, "-c", path, "-o", "carol")

	cfg := LoadConfig()
	assert.Equal(t, "carol", cfg.OwnerID)
}

func TestLoadConfig_FlagsBeatEnv(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "env-key")
	setArgs(t, "-k", "flag-key")

	cfg := LoadConfig()
	assert.Equal(t, "flag-key", cfg.GeminiAPIKey)
}
