// Package config provides configuration management for bundlefs.
// It handles loading and validating configuration from YAML or JSON files and environment variables.
package config

import "time"

// AppConfig represents the complete application configuration
type AppConfig struct {
	Server        ServerConfig        `koanf:"server"`
	Auth          AuthConfig          `koanf:"auth"`
	Log           LogConfig           `koanf:"log"`
	Metrics       MetricsConfig       `koanf:"metrics"`
	Backend       BackendConfig       `koanf:"backend"`
	Mounts        []MountConfig       `koanf:"mounts" validate:"dive"`
	MetadataStore MetadataStoreConfig `koanf:"metadata_store"`
	DLM           DLMConfig           `koanf:"dlm"`
	Upload        UploadConfig        `koanf:"upload"`
	Events        EventsConfig        `koanf:"events"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	ListenAddr      string        `koanf:"listen_addr" validate:"required"`
	CertFile        string        `koanf:"cert_file"`
	KeyFile         string        `koanf:"key_file"`
	ReadTimeout     time.Duration `koanf:"read_timeout" validate:"gte=0"`
	WriteTimeout    time.Duration `koanf:"write_timeout" validate:"gte=0"`
	IdleTimeout     time.Duration `koanf:"idle_timeout" validate:"gte=0"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	// APIKeys authenticate as the unrestricted root user
	APIKeys []string     `koanf:"api_keys"`
	Users   []UserConfig `koanf:"users" validate:"dive"`
}

// UserConfig binds an API key to a named user confined to path prefixes
type UserConfig struct {
	Name     string   `koanf:"name" validate:"required,ne=root"`
	APIKey   string   `koanf:"api_key" validate:"required,min=16"`
	Prefixes []string `koanf:"prefixes" validate:"dive,startswith=/"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json console"`
	// Mode controls how paths and user IDs are sanitized in logs
	Mode string `koanf:"mode" validate:"omitempty,oneof=production development debug"`
}

// MetricsConfig holds metrics server configuration
type MetricsConfig struct {
	Enabled bool `koanf:"enabled"`
	// ListenAddr serves /metrics on a separate listener when set
	ListenAddr string `koanf:"listen_addr"`
}

// BackendConfig holds backend storage configuration
type BackendConfig struct {
	DefaultBackend         string `koanf:"default_backend" validate:"oneof=localfs s3"`
	LocalFSRootPath        string `koanf:"localfs_root_path"`
	S3AccessKey            string `koanf:"s3_access_key"`
	S3SecretKey            string `koanf:"s3_secret_key"`
	S3Region               string `koanf:"s3_region"`
	S3BucketName           string `koanf:"s3_bucket_name"`
	S3Endpoint             string `koanf:"s3_endpoint"`               // Custom S3 endpoint (e.g., for MinIO)
	S3ServerSideEncryption string `koanf:"s3_server_side_encryption"` // SSE algorithm (AES256, aws:kms)
	S3ACL                  string `koanf:"s3_acl"`                    // Object ACL (private, public-read, etc.)
	S3KMSKeyID             string `koanf:"s3_kms_key_id"`             // KMS key ID for SSE-KMS
	S3PartSizeMB           int    `koanf:"s3_part_size_mb" validate:"omitempty,min=5"`
}

// MountConfig routes a path prefix to a backend
type MountConfig struct {
	Prefix  string `koanf:"prefix" validate:"required,startswith=/"`
	Backend string `koanf:"backend" validate:"oneof=localfs s3"`
	// LocalFSRootPath is the directory backing a localfs mount
	LocalFSRootPath string `koanf:"localfs_root_path" validate:"required_if=Backend localfs"`
}

// MetadataStoreConfig holds metadata store configuration
type MetadataStoreConfig struct {
	Type           string        `koanf:"type" validate:"oneof=sqlite postgres redis badger"`
	DSN            string        `koanf:"dsn"`
	SQLitePath     string        `koanf:"sqlite_path"`
	BadgerPath     string        `koanf:"badger_path"`
	RedisAddr      string        `koanf:"redis_addr"`
	RedisPassword  string        `koanf:"redis_password"`
	RedisDB        int           `koanf:"redis_db" validate:"gte=0"`
	RedisKeyPrefix string        `koanf:"redis_key_prefix"`
	CacheTTL       time.Duration `koanf:"cache_ttl" validate:"gte=0"`
	CacheSize      int           `koanf:"cache_size" validate:"gte=0"`
}

// DLMConfig holds lock manager configuration
type DLMConfig struct {
	Type          string        `koanf:"type" validate:"oneof=local redis"`
	RedisAddr     string        `koanf:"redis_addr"`
	RedisPassword string        `koanf:"redis_password"`
	LockTTL       time.Duration `koanf:"lock_ttl" validate:"gt=0"`
}

// UploadConfig holds bundled upload settings
type UploadConfig struct {
	// SpoolDir holds request bodies while they are committed; empty uses the OS temp dir
	SpoolDir      string  `koanf:"spool_dir"`
	MaxUploadSize int64   `koanf:"max_upload_size" validate:"gte=0"`
	RateLimit     float64 `koanf:"rate_limit" validate:"gte=0"`
	RateBurst     int     `koanf:"rate_burst" validate:"gte=0"`
}

// EventsConfig holds commit event settings
type EventsConfig struct {
	Enabled   bool `koanf:"enabled"`
	QueueSize int  `koanf:"queue_size" validate:"gte=0"`
	LogHooks  bool `koanf:"log_hooks"`
}
