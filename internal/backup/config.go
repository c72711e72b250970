package backup

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/pbkdf2"
	"gopkg.in/yaml.v3"
)

// SystemConfig represents the complete orchestrator configuration
type SystemConfig struct {
	Storage      StorageConfig      `yaml:"storage"`
	Retention    RetentionPolicy    `yaml:"retention"`
	Compression  CompressionConfig  `yaml:"compression"`
	Encryption   EncryptionConfig   `yaml:"encryption"`
	Lock         LockConfig         `yaml:"lock"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Sources      []SourceConfig     `yaml:"sources"`
}

// StorageConfig defines storage provider configuration
type StorageConfig struct {
	Provider StorageProviderType `yaml:"provider"`
	Prefix   string              `yaml:"prefix"`
	Local    *LocalConfig        `yaml:"local,omitempty"`
	S3       *S3Config           `yaml:"s3,omitempty"`
	Azure    *AzureConfig        `yaml:"azure,omitempty"`
	GCS      *GCSConfig          `yaml:"gcs,omitempty"`
}

// LocalConfig for local file system storage
type LocalConfig struct {
	BasePath    string      `yaml:"base_path"`
	Permissions os.FileMode `yaml:"permissions"`
}

// S3Config for Amazon S3 storage
type S3Config struct {
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
}

// AzureConfig for Azure Blob Storage
type AzureConfig struct {
	AccountName   string `yaml:"account_name"`
	AccountKey    string `yaml:"account_key"`
	ContainerName string `yaml:"container_name"`
}

// GCSConfig for Google Cloud Storage
type GCSConfig struct {
	Bucket          string `yaml:"bucket"`
	CredentialsPath string `yaml:"credentials_path"`
	ProjectID       string `yaml:"project_id"`
}

// RetentionPolicy defines which artifacts to keep versus expire.
// It is stateless configuration, recomputed fresh each run.
type RetentionPolicy struct {
	MinAge      time.Duration `yaml:"min_age"`
	Window      time.Duration `yaml:"window"`
	KeepDaily   int           `yaml:"keep_daily"`
	KeepWeekly  int           `yaml:"keep_weekly"`
	KeepMonthly int           `yaml:"keep_monthly"`
}

// CompressionConfig defines compression settings
type CompressionConfig struct {
	Enabled   bool            `yaml:"enabled"`
	Algorithm CompressionType `yaml:"algorithm"`
	Level     int             `yaml:"level"`
}

// EncryptionConfig defines encryption settings
type EncryptionConfig struct {
	Enabled    bool   `yaml:"enabled"`
	KeySource  string `yaml:"key_source"` // "env", "file", "passphrase"
	KeyRef     string `yaml:"key_ref"`    // opaque identifier recorded in the manifest
	KeyPath    string `yaml:"key_path"`
	KeyEnvVar  string `yaml:"key_env_var"`
	Passphrase string `yaml:"passphrase,omitempty"`
	Salt       string `yaml:"salt,omitempty"` // hex, for passphrase derivation

	// KeyRetriever overrides key lookup (testing or custom key management)
	KeyRetriever func() ([]byte, error) `yaml:"-"`
}

// LockConfig defines run-lock settings
type LockConfig struct {
	Provider LockProviderType `yaml:"provider"`
	TTL      time.Duration    `yaml:"ttl"`
	Dir      string           `yaml:"dir"`       // local lease files
	RedisURL string           `yaml:"redis_url"` // redis lease store
}

// OrchestratorConfig defines per-run operational settings
type OrchestratorConfig struct {
	ManifestPath     string        `yaml:"manifest_path"`
	RunLogPath       string        `yaml:"run_log_path"`
	UploadTimeout    time.Duration `yaml:"upload_timeout"`
	VerifyTimeout    time.Duration `yaml:"verify_timeout"`
	StaleAfter       time.Duration `yaml:"stale_after"`
	ProgressInterval time.Duration `yaml:"progress_interval"`
}

// SourceConfig declares one backup source
type SourceConfig struct {
	ID   string `yaml:"id"`
	Type string `yaml:"type"` // "file" or "mysql"
	Path string `yaml:"path,omitempty"`
	DSN  string `yaml:"dsn,omitempty"`

	// Optional per-source overrides of the global transform settings
	Compression *CompressionConfig `yaml:"compression,omitempty"`
	Encryption  *EncryptionConfig  `yaml:"encryption,omitempty"`
}

// Validate validates the SystemConfig
func (sc *SystemConfig) Validate() error {
	var errs ValidationErrors

	collect := func(section string, err error) {
		if err == nil {
			return
		}
		if validationErrs, ok := err.(ValidationErrors); ok {
			errs = append(errs, validationErrs...)
		} else {
			errs.Add(section, err.Error(), nil)
		}
	}

	collect("storage", sc.Storage.Validate())
	collect("retention", sc.Retention.Validate())
	collect("compression", sc.Compression.Validate())
	collect("encryption", sc.Encryption.Validate())
	collect("lock", sc.Lock.Validate())
	collect("orchestrator", sc.Orchestrator.Validate())

	if len(sc.Sources) == 0 {
		errs.Add("sources", "at least one source must be configured", nil)
	}
	seen := make(map[string]bool)
	for _, src := range sc.Sources {
		collect("sources", src.Validate())
		if seen[src.ID] {
			errs.Add("sources", fmt.Sprintf("duplicate source ID %q", src.ID), src.ID)
		}
		seen[src.ID] = true
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// SetDefaults sets default values for the full configuration
func (sc *SystemConfig) SetDefaults() {
	sc.Storage.SetDefaults()
	sc.Retention.SetDefaults()
	sc.Compression.SetDefaults()
	sc.Encryption.SetDefaults()
	sc.Lock.SetDefaults()
	sc.Orchestrator.SetDefaults()
}

// LoadFromEnvironment loads configuration values from DBKEEPER_* variables
func (sc *SystemConfig) LoadFromEnvironment() {
	sc.Storage.LoadFromEnvironment()
	sc.Retention.LoadFromEnvironment()
	sc.Compression.LoadFromEnvironment()
	sc.Encryption.LoadFromEnvironment()
	sc.Lock.LoadFromEnvironment()
	sc.Orchestrator.LoadFromEnvironment()
}

// Validate validates the StorageConfig
func (sc *StorageConfig) Validate() error {
	var errs ValidationErrors

	if !isValidStorageProviderType(sc.Provider) {
		errs.Add("provider", "invalid storage provider type", sc.Provider)
		return errs
	}

	collect := func(section string, cfg interface{ Validate() error }, present bool) {
		if !present {
			errs.Add(section, fmt.Sprintf("%s storage configuration is required", section), nil)
			return
		}
		if err := cfg.Validate(); err != nil {
			if validationErrs, ok := err.(ValidationErrors); ok {
				errs = append(errs, validationErrs...)
			} else {
				errs.Add(section, err.Error(), nil)
			}
		}
	}

	switch sc.Provider {
	case StorageProviderLocal:
		collect("local", sc.Local, sc.Local != nil)
	case StorageProviderS3:
		collect("s3", sc.S3, sc.S3 != nil)
	case StorageProviderAzure:
		collect("azure", sc.Azure, sc.Azure != nil)
	case StorageProviderGCS:
		collect("gcs", sc.GCS, sc.GCS != nil)
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// SetDefaults sets default values for storage configuration
func (sc *StorageConfig) SetDefaults() {
	if sc.Provider == "" {
		sc.Provider = StorageProviderLocal
	}
	if sc.Prefix == "" {
		sc.Prefix = "artifacts/"
	}

	switch sc.Provider {
	case StorageProviderLocal:
		if sc.Local == nil {
			sc.Local = &LocalConfig{}
		}
		sc.Local.SetDefaults()
	case StorageProviderS3:
		if sc.S3 == nil {
			sc.S3 = &S3Config{}
		}
		sc.S3.SetDefaults()
	case StorageProviderAzure:
		if sc.Azure == nil {
			sc.Azure = &AzureConfig{}
		}
	case StorageProviderGCS:
		if sc.GCS == nil {
			sc.GCS = &GCSConfig{}
		}
		sc.GCS.SetDefaults()
	}
}

// LoadFromEnvironment loads storage configuration from environment variables
func (sc *StorageConfig) LoadFromEnvironment() {
	if val := os.Getenv("DBKEEPER_STORAGE_PROVIDER"); val != "" {
		sc.Provider = StorageProviderType(strings.ToUpper(val))
	}
	if val := os.Getenv("DBKEEPER_STORAGE_PREFIX"); val != "" {
		sc.Prefix = val
	}

	switch sc.Provider {
	case StorageProviderLocal:
		if sc.Local == nil {
			sc.Local = &LocalConfig{}
		}
		sc.Local.LoadFromEnvironment()
	case StorageProviderS3:
		if sc.S3 == nil {
			sc.S3 = &S3Config{}
		}
		sc.S3.LoadFromEnvironment()
	case StorageProviderAzure:
		if sc.Azure == nil {
			sc.Azure = &AzureConfig{}
		}
		sc.Azure.LoadFromEnvironment()
	case StorageProviderGCS:
		if sc.GCS == nil {
			sc.GCS = &GCSConfig{}
		}
		sc.GCS.LoadFromEnvironment()
	}
}

// Validate validates the LocalConfig
func (lc *LocalConfig) Validate() error {
	var errs ValidationErrors

	if lc.BasePath == "" {
		errs.Add("base_path", "base path is required for local storage", lc.BasePath)
	}
	if lc.Permissions == 0 {
		lc.Permissions = 0755
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// SetDefaults sets default values for local storage configuration
func (lc *LocalConfig) SetDefaults() {
	if lc.BasePath == "" {
		lc.BasePath = "./backups"
	}
	if lc.Permissions == 0 {
		lc.Permissions = 0755
	}
}

// LoadFromEnvironment loads local storage configuration from environment variables
func (lc *LocalConfig) LoadFromEnvironment() {
	if val := os.Getenv("DBKEEPER_LOCAL_BASE_PATH"); val != "" {
		lc.BasePath = val
	}
	if val := os.Getenv("DBKEEPER_LOCAL_PERMISSIONS"); val != "" {
		if parsed, err := strconv.ParseUint(val, 8, 32); err == nil {
			lc.Permissions = os.FileMode(parsed)
		}
	}
}

// Validate validates the S3Config
func (s3c *S3Config) Validate() error {
	var errs ValidationErrors

	if s3c.Bucket == "" {
		errs.Add("bucket", "S3 bucket name is required", s3c.Bucket)
	}
	if s3c.Region == "" {
		errs.Add("region", "S3 region is required", s3c.Region)
	}
	if s3c.AccessKey == "" {
		errs.Add("access_key", "S3 access key is required", s3c.AccessKey)
	}
	if s3c.SecretKey == "" {
		errs.Add("secret_key", "S3 secret key is required", s3c.SecretKey)
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// SetDefaults sets default values for S3 storage configuration
func (s3c *S3Config) SetDefaults() {
	if s3c.Region == "" {
		s3c.Region = "us-east-1"
	}
}

// LoadFromEnvironment loads S3 storage configuration from environment variables
func (s3c *S3Config) LoadFromEnvironment() {
	if val := os.Getenv("DBKEEPER_S3_BUCKET"); val != "" {
		s3c.Bucket = val
	}
	if val := os.Getenv("DBKEEPER_S3_REGION"); val != "" {
		s3c.Region = val
	}
	if val := os.Getenv("DBKEEPER_S3_ACCESS_KEY"); val != "" {
		s3c.AccessKey = val
	}
	if val := os.Getenv("DBKEEPER_S3_SECRET_KEY"); val != "" {
		s3c.SecretKey = val
	}
}

// Validate validates the AzureConfig
func (ac *AzureConfig) Validate() error {
	var errs ValidationErrors

	if ac.AccountName == "" {
		errs.Add("account_name", "Azure account name is required", ac.AccountName)
	}
	if ac.AccountKey == "" {
		errs.Add("account_key", "Azure account key is required", ac.AccountKey)
	}
	if ac.ContainerName == "" {
		errs.Add("container_name", "Azure container name is required", ac.ContainerName)
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// LoadFromEnvironment loads Azure storage configuration from environment variables
func (ac *AzureConfig) LoadFromEnvironment() {
	if val := os.Getenv("DBKEEPER_AZURE_ACCOUNT_NAME"); val != "" {
		ac.AccountName = val
	}
	if val := os.Getenv("DBKEEPER_AZURE_ACCOUNT_KEY"); val != "" {
		ac.AccountKey = val
	}
	if val := os.Getenv("DBKEEPER_AZURE_CONTAINER_NAME"); val != "" {
		ac.ContainerName = val
	}
}

// Validate validates the GCSConfig
func (gc *GCSConfig) Validate() error {
	var errs ValidationErrors

	if gc.Bucket == "" {
		errs.Add("bucket", "GCS bucket name is required", gc.Bucket)
	}
	if gc.CredentialsPath == "" {
		errs.Add("credentials_path", "GCS credentials path is required", gc.CredentialsPath)
	}
	if gc.ProjectID == "" {
		errs.Add("project_id", "GCS project ID is required", gc.ProjectID)
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// SetDefaults sets default values for GCS storage configuration
func (gc *GCSConfig) SetDefaults() {
	if gc.CredentialsPath == "" {
		gc.CredentialsPath = os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")
	}
}

// LoadFromEnvironment loads GCS storage configuration from environment variables
func (gc *GCSConfig) LoadFromEnvironment() {
	if val := os.Getenv("DBKEEPER_GCS_BUCKET"); val != "" {
		gc.Bucket = val
	}
	if val := os.Getenv("DBKEEPER_GCS_CREDENTIALS_PATH"); val != "" {
		gc.CredentialsPath = val
	}
	if val := os.Getenv("DBKEEPER_GCS_PROJECT_ID"); val != "" {
		gc.ProjectID = val
	}
}

// parseConfigDuration accepts either a Go duration string ("90m") or a bare
// nanosecond count, which is what yaml.Marshal emits for time.Duration.
func parseConfigDuration(s string) (time.Duration, error) {
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Duration(n), nil
	}
	return 0, fmt.Errorf("invalid duration %q", s)
}

func assignDuration(dst *time.Duration, field string, raw *string) error {
	if raw == nil {
		return nil
	}
	parsed, err := parseConfigDuration(*raw)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	*dst = parsed
	return nil
}

func durationString(d time.Duration) string {
	if d == 0 {
		return ""
	}
	return d.String()
}

type retentionPolicyYAML struct {
	MinAge      *string `yaml:"min_age,omitempty"`
	Window      *string `yaml:"window,omitempty"`
	KeepDaily   *int    `yaml:"keep_daily,omitempty"`
	KeepWeekly  *int    `yaml:"keep_weekly,omitempty"`
	KeepMonthly *int    `yaml:"keep_monthly,omitempty"`
}

// UnmarshalYAML decodes duration fields from "720h" style strings. Fields
// absent from the document keep their current values.
func (rp *RetentionPolicy) UnmarshalYAML(value *yaml.Node) error {
	var raw retentionPolicyYAML
	if err := value.Decode(&raw); err != nil {
		return err
	}
	if err := assignDuration(&rp.MinAge, "min_age", raw.MinAge); err != nil {
		return err
	}
	if err := assignDuration(&rp.Window, "window", raw.Window); err != nil {
		return err
	}
	if raw.KeepDaily != nil {
		rp.KeepDaily = *raw.KeepDaily
	}
	if raw.KeepWeekly != nil {
		rp.KeepWeekly = *raw.KeepWeekly
	}
	if raw.KeepMonthly != nil {
		rp.KeepMonthly = *raw.KeepMonthly
	}
	return nil
}

// MarshalYAML writes durations as human-readable strings
func (rp RetentionPolicy) MarshalYAML() (interface{}, error) {
	out := retentionPolicyYAML{}
	if s := durationString(rp.MinAge); s != "" {
		out.MinAge = &s
	}
	if s := durationString(rp.Window); s != "" {
		out.Window = &s
	}
	if rp.KeepDaily != 0 {
		out.KeepDaily = &rp.KeepDaily
	}
	if rp.KeepWeekly != 0 {
		out.KeepWeekly = &rp.KeepWeekly
	}
	if rp.KeepMonthly != 0 {
		out.KeepMonthly = &rp.KeepMonthly
	}
	return out, nil
}

// Validate validates the RetentionPolicy
func (rp *RetentionPolicy) Validate() error {
	var errs ValidationErrors

	if rp.MinAge < 0 {
		errs.Add("min_age", "minimum age cannot be negative", rp.MinAge)
	}
	if rp.Window < 0 {
		errs.Add("window", "retention window cannot be negative", rp.Window)
	}
	if rp.KeepDaily < 0 {
		errs.Add("keep_daily", "keep daily cannot be negative", rp.KeepDaily)
	}
	if rp.KeepWeekly < 0 {
		errs.Add("keep_weekly", "keep weekly cannot be negative", rp.KeepWeekly)
	}
	if rp.KeepMonthly < 0 {
		errs.Add("keep_monthly", "keep monthly cannot be negative", rp.KeepMonthly)
	}
	if rp.Window == 0 && rp.KeepDaily == 0 && rp.KeepWeekly == 0 && rp.KeepMonthly == 0 {
		errs.Add("retention", "at least one retention rule must be configured", nil)
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// SetDefaults sets default values for the retention policy
func (rp *RetentionPolicy) SetDefaults() {
	if rp.Window == 0 && rp.KeepDaily == 0 && rp.KeepWeekly == 0 && rp.KeepMonthly == 0 {
		rp.Window = 30 * 24 * time.Hour
		rp.KeepDaily = 7
	}
	if rp.MinAge == 0 {
		rp.MinAge = 24 * time.Hour
	}
}

// LoadFromEnvironment loads retention configuration from environment variables
func (rp *RetentionPolicy) LoadFromEnvironment() {
	if val := os.Getenv("DBKEEPER_RETENTION_MIN_AGE"); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			rp.MinAge = parsed
		}
	}
	if val := os.Getenv("DBKEEPER_RETENTION_WINDOW"); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			rp.Window = parsed
		}
	}
	if val := os.Getenv("DBKEEPER_RETENTION_KEEP_DAILY"); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			rp.KeepDaily = parsed
		}
	}
	if val := os.Getenv("DBKEEPER_RETENTION_KEEP_WEEKLY"); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			rp.KeepWeekly = parsed
		}
	}
	if val := os.Getenv("DBKEEPER_RETENTION_KEEP_MONTHLY"); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			rp.KeepMonthly = parsed
		}
	}
}

// Validate validates the CompressionConfig
func (cc *CompressionConfig) Validate() error {
	var errs ValidationErrors

	if cc.Enabled {
		if !isValidCompressionType(cc.Algorithm) {
			errs.Add("algorithm", "invalid compression algorithm", cc.Algorithm)
		}

		switch cc.Algorithm {
		case CompressionTypeGzip:
			if cc.Level < 1 || cc.Level > 9 {
				errs.Add("level", "gzip compression level must be between 1 and 9", cc.Level)
			}
		case CompressionTypeLZ4:
			if cc.Level < 1 || cc.Level > 12 {
				errs.Add("level", "lz4 compression level must be between 1 and 12", cc.Level)
			}
		case CompressionTypeZstd:
			if cc.Level < 1 || cc.Level > 22 {
				errs.Add("level", "zstd compression level must be between 1 and 22", cc.Level)
			}
		}
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// SetDefaults sets default values for compression configuration
func (cc *CompressionConfig) SetDefaults() {
	if cc.Enabled && cc.Algorithm == "" {
		cc.Algorithm = CompressionTypeGzip
	}
	if cc.Enabled && cc.Level == 0 {
		switch cc.Algorithm {
		case CompressionTypeGzip:
			cc.Level = 6
		case CompressionTypeLZ4:
			cc.Level = 1
		case CompressionTypeZstd:
			cc.Level = 3
		}
	}
}

// LoadFromEnvironment loads compression configuration from environment variables
func (cc *CompressionConfig) LoadFromEnvironment() {
	if val := os.Getenv("DBKEEPER_COMPRESSION_ENABLED"); val != "" {
		cc.Enabled = strings.ToLower(val) == "true"
	}
	if val := os.Getenv("DBKEEPER_COMPRESSION_ALGORITHM"); val != "" {
		cc.Algorithm = CompressionType(strings.ToUpper(val))
	}
	if val := os.Getenv("DBKEEPER_COMPRESSION_LEVEL"); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			cc.Level = parsed
		}
	}
}

// Validate validates the EncryptionConfig
func (ec *EncryptionConfig) Validate() error {
	var errs ValidationErrors

	if ec.Enabled {
		switch ec.KeySource {
		case "env":
			if ec.KeyEnvVar == "" {
				errs.Add("key_env_var", "key environment variable name is required for env key source", ec.KeyEnvVar)
			}
		case "file":
			if ec.KeyPath == "" {
				errs.Add("key_path", "key file path is required for file key source", ec.KeyPath)
			}
		case "passphrase":
			if ec.Passphrase == "" {
				errs.Add("passphrase", "passphrase is required for passphrase key source", nil)
			}
		case "":
			errs.Add("key_source", "key source is required when encryption is enabled", ec.KeySource)
		default:
			errs.Add("key_source", "invalid key source, must be 'env', 'file', or 'passphrase'", ec.KeySource)
		}
		if ec.KeyRef == "" {
			errs.Add("key_ref", "key reference is required when encryption is enabled", ec.KeyRef)
		}
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// SetDefaults sets default values for encryption configuration
func (ec *EncryptionConfig) SetDefaults() {
	if ec.Enabled && ec.KeySource == "" {
		ec.KeySource = "env"
		ec.KeyEnvVar = "DBKEEPER_ENCRYPTION_KEY"
	}
	if ec.Enabled && ec.KeyRef == "" {
		ec.KeyRef = "default"
	}
}

// LoadFromEnvironment loads encryption configuration from environment variables
func (ec *EncryptionConfig) LoadFromEnvironment() {
	if val := os.Getenv("DBKEEPER_ENCRYPTION_ENABLED"); val != "" {
		ec.Enabled = strings.ToLower(val) == "true"
	}
	if val := os.Getenv("DBKEEPER_ENCRYPTION_KEY_SOURCE"); val != "" {
		ec.KeySource = val
	}
	if val := os.Getenv("DBKEEPER_ENCRYPTION_KEY_REF"); val != "" {
		ec.KeyRef = val
	}
	if val := os.Getenv("DBKEEPER_ENCRYPTION_KEY_PATH"); val != "" {
		ec.KeyPath = val
	}
	if val := os.Getenv("DBKEEPER_ENCRYPTION_KEY_ENV_VAR"); val != "" {
		ec.KeyEnvVar = val
	}
}

// GetEncryptionKey retrieves the 32-byte AES-256 key per the configuration
func (ec *EncryptionConfig) GetEncryptionKey() ([]byte, error) {
	if !ec.Enabled {
		return nil, nil
	}

	if ec.KeyRetriever != nil {
		return ec.KeyRetriever()
	}

	switch ec.KeySource {
	case "env":
		keyStr := os.Getenv(ec.KeyEnvVar)
		if keyStr == "" {
			return nil, fmt.Errorf("encryption key not found in environment variable %s", ec.KeyEnvVar)
		}
		key, err := hex.DecodeString(keyStr)
		if err != nil {
			return nil, fmt.Errorf("failed to decode hex key from environment variable: %w", err)
		}
		if len(key) != 32 {
			return nil, fmt.Errorf("encryption key must be 32 bytes for AES-256, got %d bytes", len(key))
		}
		return key, nil

	case "file":
		keyData, err := os.ReadFile(ec.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read encryption key from file %s: %w", ec.KeyPath, err)
		}
		if len(keyData) != 32 {
			return nil, fmt.Errorf("encryption key file must contain 32 bytes for AES-256, got %d bytes", len(keyData))
		}
		return keyData, nil

	case "passphrase":
		salt, err := hex.DecodeString(ec.Salt)
		if err != nil {
			return nil, fmt.Errorf("failed to decode passphrase salt: %w", err)
		}
		if len(salt) == 0 {
			return nil, fmt.Errorf("passphrase key source requires a hex salt")
		}
		return pbkdf2.Key([]byte(ec.Passphrase), salt, 100000, 32, sha256.New), nil

	default:
		return nil, fmt.Errorf("invalid key source: %s", ec.KeySource)
	}
}

type lockConfigYAML struct {
	Provider *string `yaml:"provider,omitempty"`
	TTL      *string `yaml:"ttl,omitempty"`
	Dir      *string `yaml:"dir,omitempty"`
	RedisURL *string `yaml:"redis_url,omitempty"`
}

// UnmarshalYAML decodes the TTL from a "30s" style string
func (lc *LockConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw lockConfigYAML
	if err := value.Decode(&raw); err != nil {
		return err
	}
	if raw.Provider != nil {
		lc.Provider = LockProviderType(strings.ToUpper(*raw.Provider))
	}
	if err := assignDuration(&lc.TTL, "ttl", raw.TTL); err != nil {
		return err
	}
	if raw.Dir != nil {
		lc.Dir = *raw.Dir
	}
	if raw.RedisURL != nil {
		lc.RedisURL = *raw.RedisURL
	}
	return nil
}

// MarshalYAML writes the TTL as a human-readable string
func (lc LockConfig) MarshalYAML() (interface{}, error) {
	out := lockConfigYAML{}
	if lc.Provider != "" {
		provider := string(lc.Provider)
		out.Provider = &provider
	}
	if s := durationString(lc.TTL); s != "" {
		out.TTL = &s
	}
	if lc.Dir != "" {
		out.Dir = &lc.Dir
	}
	if lc.RedisURL != "" {
		out.RedisURL = &lc.RedisURL
	}
	return out, nil
}

// Validate validates the LockConfig
func (lc *LockConfig) Validate() error {
	var errs ValidationErrors

	if !isValidLockProviderType(lc.Provider) {
		errs.Add("provider", "invalid lock provider type", lc.Provider)
	}
	if lc.TTL < 0 {
		errs.Add("ttl", "lock TTL cannot be negative", lc.TTL)
	}
	if lc.Provider == LockProviderRedis && lc.RedisURL == "" {
		errs.Add("redis_url", "redis URL is required for redis lock provider", lc.RedisURL)
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// SetDefaults sets default values for lock configuration
func (lc *LockConfig) SetDefaults() {
	if lc.Provider == "" {
		lc.Provider = LockProviderLocal
	}
	if lc.TTL == 0 {
		lc.TTL = 30 * time.Second
	}
	if lc.Provider == LockProviderLocal && lc.Dir == "" {
		lc.Dir = "./backups/.locks"
	}
}

// LoadFromEnvironment loads lock configuration from environment variables
func (lc *LockConfig) LoadFromEnvironment() {
	if val := os.Getenv("DBKEEPER_LOCK_PROVIDER"); val != "" {
		lc.Provider = LockProviderType(strings.ToUpper(val))
	}
	if val := os.Getenv("DBKEEPER_LOCK_TTL"); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			lc.TTL = parsed
		}
	}
	if val := os.Getenv("DBKEEPER_LOCK_DIR"); val != "" {
		lc.Dir = val
	}
	if val := os.Getenv("DBKEEPER_LOCK_REDIS_URL"); val != "" {
		lc.RedisURL = val
	}
}

type orchestratorConfigYAML struct {
	ManifestPath     *string `yaml:"manifest_path,omitempty"`
	RunLogPath       *string `yaml:"run_log_path,omitempty"`
	UploadTimeout    *string `yaml:"upload_timeout,omitempty"`
	VerifyTimeout    *string `yaml:"verify_timeout,omitempty"`
	StaleAfter       *string `yaml:"stale_after,omitempty"`
	ProgressInterval *string `yaml:"progress_interval,omitempty"`
}

// UnmarshalYAML decodes timeout fields from "15m" style strings
func (oc *OrchestratorConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw orchestratorConfigYAML
	if err := value.Decode(&raw); err != nil {
		return err
	}
	if raw.ManifestPath != nil {
		oc.ManifestPath = *raw.ManifestPath
	}
	if raw.RunLogPath != nil {
		oc.RunLogPath = *raw.RunLogPath
	}
	if err := assignDuration(&oc.UploadTimeout, "upload_timeout", raw.UploadTimeout); err != nil {
		return err
	}
	if err := assignDuration(&oc.VerifyTimeout, "verify_timeout", raw.VerifyTimeout); err != nil {
		return err
	}
	if err := assignDuration(&oc.StaleAfter, "stale_after", raw.StaleAfter); err != nil {
		return err
	}
	if err := assignDuration(&oc.ProgressInterval, "progress_interval", raw.ProgressInterval); err != nil {
		return err
	}
	return nil
}

// MarshalYAML writes timeouts as human-readable strings
func (oc OrchestratorConfig) MarshalYAML() (interface{}, error) {
	out := orchestratorConfigYAML{}
	if oc.ManifestPath != "" {
		out.ManifestPath = &oc.ManifestPath
	}
	if oc.RunLogPath != "" {
		out.RunLogPath = &oc.RunLogPath
	}
	if s := durationString(oc.UploadTimeout); s != "" {
		out.UploadTimeout = &s
	}
	if s := durationString(oc.VerifyTimeout); s != "" {
		out.VerifyTimeout = &s
	}
	if s := durationString(oc.StaleAfter); s != "" {
		out.StaleAfter = &s
	}
	if s := durationString(oc.ProgressInterval); s != "" {
		out.ProgressInterval = &s
	}
	return out, nil
}

// Validate validates the OrchestratorConfig
func (oc *OrchestratorConfig) Validate() error {
	var errs ValidationErrors

	if oc.UploadTimeout < 0 {
		errs.Add("upload_timeout", "upload timeout cannot be negative", oc.UploadTimeout)
	}
	if oc.VerifyTimeout < 0 {
		errs.Add("verify_timeout", "verify timeout cannot be negative", oc.VerifyTimeout)
	}
	if oc.StaleAfter < 0 {
		errs.Add("stale_after", "staleness threshold cannot be negative", oc.StaleAfter)
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// SetDefaults sets default values for orchestrator configuration
func (oc *OrchestratorConfig) SetDefaults() {
	if oc.ManifestPath == "" {
		oc.ManifestPath = "./backups/manifest.json"
	}
	if oc.RunLogPath == "" {
		oc.RunLogPath = "./backups/runs.jsonl"
	}
	if oc.UploadTimeout == 0 {
		oc.UploadTimeout = 30 * time.Minute
	}
	if oc.VerifyTimeout == 0 {
		oc.VerifyTimeout = 15 * time.Minute
	}
	if oc.StaleAfter == 0 {
		oc.StaleAfter = time.Hour
	}
	if oc.ProgressInterval == 0 {
		oc.ProgressInterval = 500 * time.Millisecond
	}
}

// LoadFromEnvironment loads orchestrator configuration from environment variables
func (oc *OrchestratorConfig) LoadFromEnvironment() {
	if val := os.Getenv("DBKEEPER_MANIFEST_PATH"); val != "" {
		oc.ManifestPath = val
	}
	if val := os.Getenv("DBKEEPER_RUN_LOG_PATH"); val != "" {
		oc.RunLogPath = val
	}
	if val := os.Getenv("DBKEEPER_STALE_AFTER"); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			oc.StaleAfter = parsed
		}
	}
}

// Validate validates a SourceConfig
func (sc *SourceConfig) Validate() error {
	var errs ValidationErrors

	if sc.ID == "" {
		errs.Add("id", "source ID is required", sc.ID)
	}
	switch sc.Type {
	case "file":
		if sc.Path == "" {
			errs.Add("path", "path is required for file sources", sc.Path)
		}
	case "mysql":
		if sc.DSN == "" {
			errs.Add("dsn", "DSN is required for mysql sources", nil)
		}
	case "":
		errs.Add("type", "source type is required", sc.Type)
	default:
		errs.Add("type", "invalid source type, must be 'file' or 'mysql'", sc.Type)
	}

	if sc.Compression != nil {
		sc.Compression.SetDefaults()
		if err := sc.Compression.Validate(); err != nil {
			if validationErrs, ok := err.(ValidationErrors); ok {
				errs = append(errs, validationErrs...)
			} else {
				errs.Add("compression", err.Error(), nil)
			}
		}
	}
	if sc.Encryption != nil {
		sc.Encryption.SetDefaults()
		if err := sc.Encryption.Validate(); err != nil {
			if validationErrs, ok := err.(ValidationErrors); ok {
				errs = append(errs, validationErrs...)
			} else {
				errs.Add("encryption", err.Error(), nil)
			}
		}
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// FindSource returns the configured source with the given ID
func (sc *SystemConfig) FindSource(id string) (*SourceConfig, error) {
	for i := range sc.Sources {
		if sc.Sources[i].ID == id {
			return &sc.Sources[i], nil
		}
	}
	return nil, NewNotFoundError(fmt.Sprintf("source %s is not configured", id), nil)
}
