package backup

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfigYAML = `
storage:
  provider: LOCAL
  prefix: nightly/
  local:
    base_path: /srv/backups
retention:
  window: 720h
  keep_daily: 7
  keep_weekly: 4
compression:
  enabled: true
  algorithm: ZSTD
  level: 3
lock:
  provider: LOCAL
  ttl: 45s
orchestrator:
  stale_after: 90m
sources:
  - id: orders
    type: mysql
    dsn: user:pw@tcp(db:3306)/orders
  - id: audit
    type: file
    path: /var/log/audit.log
`

func TestConfigLoader_LoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dbkeeper.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testConfigYAML), 0644))

	config, err := NewConfigLoader(path).LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, StorageProviderLocal, config.Storage.Provider)
	assert.Equal(t, "nightly/", config.Storage.Prefix)
	assert.Equal(t, "/srv/backups", config.Storage.Local.BasePath)
	assert.Equal(t, 720*time.Hour, config.Retention.Window)
	assert.Equal(t, 4, config.Retention.KeepWeekly)
	assert.Equal(t, CompressionTypeZstd, config.Compression.Algorithm)
	assert.Equal(t, 45*time.Second, config.Lock.TTL)
	assert.Equal(t, 90*time.Minute, config.Orchestrator.StaleAfter)
	require.Len(t, config.Sources, 2)
	assert.Equal(t, "orders", config.Sources[0].ID)
	assert.Equal(t, "audit", config.Sources[1].ID)
}

func TestConfigLoader_LoadConfigMissingFileUsesDefaults(t *testing.T) {
	// A missing file is fine; the environment still has to supply enough
	// for validation, which defaults alone cannot (no sources).
	path := filepath.Join(t.TempDir(), "absent.yaml")

	_, err := NewConfigLoader(path).LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one source")
}

func TestConfigLoader_LoadConfigInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("storage: [unclosed"), 0644))

	_, err := NewConfigLoader(path).LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load config from file")
}

func TestConfigLoader_EnvironmentOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dbkeeper.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testConfigYAML), 0644))

	t.Setenv("DBKEEPER_STORAGE_PREFIX", "hourly/")
	t.Setenv("DBKEEPER_RETENTION_KEEP_DAILY", "30")

	config, err := NewConfigLoader(path).LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "hourly/", config.Storage.Prefix)
	assert.Equal(t, 30, config.Retention.KeepDaily)
	// Untouched values keep their file settings
	assert.Equal(t, "/srv/backups", config.Storage.Local.BasePath)
}

func TestConfigLoader_SaveConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dbkeeper.yaml")
	loader := NewConfigLoader(path)

	original := validSystemConfig()
	original.Storage.Prefix = "roundtrip/"
	require.NoError(t, loader.SaveConfig(original))

	loaded, err := loader.LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "roundtrip/", loaded.Storage.Prefix)
	assert.Equal(t, original.Sources, loaded.Sources)
}

func TestConfigLoader_SaveConfigRejectsInvalid(t *testing.T) {
	loader := NewConfigLoader(filepath.Join(t.TempDir(), "dbkeeper.yaml"))

	invalid := validSystemConfig()
	invalid.Sources = nil
	err := loader.SaveConfig(invalid)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot save invalid configuration")
}

func TestLoadConfigFromBytes(t *testing.T) {
	config, err := LoadConfigFromBytes([]byte(testConfigYAML))
	require.NoError(t, err)
	assert.Equal(t, "nightly/", config.Storage.Prefix)

	_, err = LoadConfigFromBytes([]byte("sources: []"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation failed")
}
