package backup

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validSystemConfig() *SystemConfig {
	config := &SystemConfig{
		Sources: []SourceConfig{
			{ID: "orders", Type: "file", Path: "/var/dumps/orders.sql"},
		},
	}
	config.SetDefaults()
	return config
}

func TestSystemConfig_SetDefaults(t *testing.T) {
	config := &SystemConfig{}
	config.SetDefaults()

	assert.Equal(t, StorageProviderLocal, config.Storage.Provider)
	assert.Equal(t, "artifacts/", config.Storage.Prefix)
	require.NotNil(t, config.Storage.Local)
	assert.Equal(t, "./backups", config.Storage.Local.BasePath)
	assert.Equal(t, os.FileMode(0755), config.Storage.Local.Permissions)

	assert.Equal(t, 30*24*time.Hour, config.Retention.Window)
	assert.Equal(t, 7, config.Retention.KeepDaily)
	assert.Equal(t, 24*time.Hour, config.Retention.MinAge)

	assert.Equal(t, LockProviderLocal, config.Lock.Provider)
	assert.Equal(t, 30*time.Second, config.Lock.TTL)
	assert.Equal(t, "./backups/.locks", config.Lock.Dir)

	assert.Equal(t, "./backups/manifest.json", config.Orchestrator.ManifestPath)
	assert.Equal(t, "./backups/runs.jsonl", config.Orchestrator.RunLogPath)
	assert.Equal(t, 30*time.Minute, config.Orchestrator.UploadTimeout)
	assert.Equal(t, 15*time.Minute, config.Orchestrator.VerifyTimeout)
	assert.Equal(t, time.Hour, config.Orchestrator.StaleAfter)
	assert.Equal(t, 500*time.Millisecond, config.Orchestrator.ProgressInterval)
}

func TestSystemConfig_SetDefaultsPreservesExplicitRetention(t *testing.T) {
	config := &SystemConfig{Retention: RetentionPolicy{KeepWeekly: 8}}
	config.SetDefaults()

	// An explicit rule set must not be overlaid with the default tiers
	assert.Equal(t, 8, config.Retention.KeepWeekly)
	assert.Zero(t, config.Retention.Window)
	assert.Zero(t, config.Retention.KeepDaily)
}

func TestSystemConfig_Validate(t *testing.T) {
	t.Run("valid config passes", func(t *testing.T) {
		assert.NoError(t, validSystemConfig().Validate())
	})

	t.Run("no sources fails", func(t *testing.T) {
		config := validSystemConfig()
		config.Sources = nil
		err := config.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "at least one source")
	})

	t.Run("duplicate source IDs fail", func(t *testing.T) {
		config := validSystemConfig()
		config.Sources = append(config.Sources, SourceConfig{ID: "orders", Type: "file", Path: "/tmp/x"})
		err := config.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "duplicate source ID")
	})

	t.Run("invalid storage provider fails", func(t *testing.T) {
		config := validSystemConfig()
		config.Storage.Provider = "FTP"
		assert.Error(t, config.Validate())
	})

	t.Run("s3 provider requires credentials", func(t *testing.T) {
		config := validSystemConfig()
		config.Storage.Provider = StorageProviderS3
		config.Storage.S3 = &S3Config{Bucket: "backups"}
		err := config.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "access key")
	})

	t.Run("redis lock requires URL", func(t *testing.T) {
		config := validSystemConfig()
		config.Lock.Provider = LockProviderRedis
		err := config.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "redis URL")
	})

	t.Run("enabled encryption requires key source", func(t *testing.T) {
		config := validSystemConfig()
		config.Encryption.Enabled = true
		config.Encryption.KeyRef = "default"
		err := config.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "key source")
	})

	t.Run("negative retention values fail", func(t *testing.T) {
		config := validSystemConfig()
		config.Retention.KeepDaily = -1
		assert.Error(t, config.Validate())
	})
}

func TestSourceConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		source  SourceConfig
		wantErr bool
	}{
		{"valid file source", SourceConfig{ID: "a", Type: "file", Path: "/tmp/a"}, false},
		{"valid mysql source", SourceConfig{ID: "b", Type: "mysql", DSN: "user:pw@tcp(db:3306)/app"}, false},
		{"missing ID", SourceConfig{Type: "file", Path: "/tmp/a"}, true},
		{"file without path", SourceConfig{ID: "a", Type: "file"}, true},
		{"mysql without DSN", SourceConfig{ID: "b", Type: "mysql"}, true},
		{"unknown type", SourceConfig{ID: "c", Type: "postgres", DSN: "x"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.source.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSystemConfig_LoadFromEnvironment(t *testing.T) {
	t.Setenv("DBKEEPER_STORAGE_PREFIX", "nightly/")
	t.Setenv("DBKEEPER_LOCAL_BASE_PATH", "/srv/backups")
	t.Setenv("DBKEEPER_RETENTION_WINDOW", "168h")
	t.Setenv("DBKEEPER_RETENTION_KEEP_DAILY", "14")
	t.Setenv("DBKEEPER_COMPRESSION_ENABLED", "true")
	t.Setenv("DBKEEPER_COMPRESSION_ALGORITHM", "zstd")
	t.Setenv("DBKEEPER_LOCK_TTL", "90s")
	t.Setenv("DBKEEPER_STALE_AFTER", "2h")

	config := validSystemConfig()
	config.LoadFromEnvironment()

	assert.Equal(t, "nightly/", config.Storage.Prefix)
	assert.Equal(t, "/srv/backups", config.Storage.Local.BasePath)
	assert.Equal(t, 168*time.Hour, config.Retention.Window)
	assert.Equal(t, 14, config.Retention.KeepDaily)
	assert.True(t, config.Compression.Enabled)
	assert.Equal(t, CompressionTypeZstd, config.Compression.Algorithm)
	assert.Equal(t, 90*time.Second, config.Lock.TTL)
	assert.Equal(t, 2*time.Hour, config.Orchestrator.StaleAfter)
}

func TestEncryptionConfig_GetEncryptionKey(t *testing.T) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}

	t.Run("disabled returns nil", func(t *testing.T) {
		config := EncryptionConfig{Enabled: false}
		got, err := config.GetEncryptionKey()
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("env source decodes hex", func(t *testing.T) {
		t.Setenv("TEST_BACKUP_KEY", hex.EncodeToString(key))
		config := EncryptionConfig{Enabled: true, KeySource: "env", KeyEnvVar: "TEST_BACKUP_KEY"}
		got, err := config.GetEncryptionKey()
		require.NoError(t, err)
		assert.Equal(t, key, got)
	})

	t.Run("env source rejects short key", func(t *testing.T) {
		t.Setenv("TEST_BACKUP_KEY", hex.EncodeToString(key[:16]))
		config := EncryptionConfig{Enabled: true, KeySource: "env", KeyEnvVar: "TEST_BACKUP_KEY"}
		_, err := config.GetEncryptionKey()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "32 bytes")
	})

	t.Run("env source missing variable", func(t *testing.T) {
		config := EncryptionConfig{Enabled: true, KeySource: "env", KeyEnvVar: "TEST_BACKUP_KEY_UNSET"}
		_, err := config.GetEncryptionKey()
		assert.Error(t, err)
	})

	t.Run("file source reads raw bytes", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "backup.key")
		require.NoError(t, os.WriteFile(path, key, 0600))
		config := EncryptionConfig{Enabled: true, KeySource: "file", KeyPath: path}
		got, err := config.GetEncryptionKey()
		require.NoError(t, err)
		assert.Equal(t, key, got)
	})

	t.Run("passphrase derives deterministic key", func(t *testing.T) {
		config := EncryptionConfig{
			Enabled:    true,
			KeySource:  "passphrase",
			Passphrase: "correct horse battery staple",
			Salt:       "a1b2c3d4e5f60718",
		}
		first, err := config.GetEncryptionKey()
		require.NoError(t, err)
		require.Len(t, first, 32)

		second, err := config.GetEncryptionKey()
		require.NoError(t, err)
		assert.Equal(t, first, second)

		config.Passphrase = "different"
		third, err := config.GetEncryptionKey()
		require.NoError(t, err)
		assert.NotEqual(t, first, third)
	})

	t.Run("passphrase requires salt", func(t *testing.T) {
		config := EncryptionConfig{Enabled: true, KeySource: "passphrase", Passphrase: "pw"}
		_, err := config.GetEncryptionKey()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "salt")
	})

	t.Run("retriever override wins", func(t *testing.T) {
		config := EncryptionConfig{
			Enabled:      true,
			KeySource:    "env",
			KeyRetriever: func() ([]byte, error) { return key, nil },
		}
		got, err := config.GetEncryptionKey()
		require.NoError(t, err)
		assert.Equal(t, key, got)
	})
}

func TestSystemConfig_FindSource(t *testing.T) {
	config := validSystemConfig()

	source, err := config.FindSource("orders")
	require.NoError(t, err)
	assert.Equal(t, "orders", source.ID)

	_, err = config.FindSource("users")
	require.Error(t, err)
	assert.True(t, IsErrorType(err, ErrorTypeNotFound))
}
