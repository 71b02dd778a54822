package config

import "time"

// DefaultAppConfig returns an AppConfig struct with sensible default values
func DefaultAppConfig() AppConfig {
	return AppConfig{
		Server: ServerConfig{
			ListenAddr:      ":8080",
			ReadTimeout:     0, // uploads may be large; bounded by the client
			WriteTimeout:    0,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Auth: AuthConfig{
			APIKeys: []string{},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
			Mode:   "", // empty keeps BUNDLEFS_LOG_MODE or production
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Backend: BackendConfig{
			DefaultBackend:         "localfs",
			LocalFSRootPath:        "/var/lib/bundlefs/data",
			S3Region:               "us-east-1",
			S3ServerSideEncryption: "AES256",  // Default to AES256 for security
			S3ACL:                  "private", // Default to private ACL for security
			S3PartSizeMB:           16,
		},
		MetadataStore: MetadataStoreConfig{
			Type:           "sqlite",
			SQLitePath:     "/var/lib/bundlefs/index.sqlite3",
			BadgerPath:     "/var/lib/bundlefs/index.badger",
			RedisAddr:      "localhost:6379",
			RedisKeyPrefix: "bundlefs:",
			CacheTTL:       5 * time.Minute,
			CacheSize:      1000,
		},
		DLM: DLMConfig{
			Type:      "local",
			RedisAddr: "localhost:6379",
			LockTTL:   30 * time.Minute,
		},
		Upload: UploadConfig{
			MaxUploadSize: 10 << 30,
			RateLimit:     50,
			RateBurst:     100,
		},
		Events: EventsConfig{
			Enabled:   true,
			QueueSize: 64,
		},
	}
}
