package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// validate is the singleton validator instance
var validate = validator.New()

// Validate checks the configuration using struct tags and the rules that
// cannot be expressed in tags
func Validate(cfg *AppConfig) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}
	return validateCustomRules(cfg)
}

func validateCustomRules(cfg *AppConfig) error {
	if len(cfg.Auth.APIKeys) == 0 && len(cfg.Auth.Users) == 0 {
		return fmt.Errorf("auth: at least one api key or user must be configured")
	}

	keys := make(map[string]string)
	for i, key := range cfg.Auth.APIKeys {
		if len(key) < 16 {
			return fmt.Errorf("auth.api_keys[%d]: key must be at least 16 characters", i)
		}
		keys[key] = "root"
	}
	names := make(map[string]bool)
	for i, user := range cfg.Auth.Users {
		if names[user.Name] {
			return fmt.Errorf("auth.users[%d]: duplicate user name %q", i, user.Name)
		}
		names[user.Name] = true
		if owner, ok := keys[user.APIKey]; ok {
			return fmt.Errorf("auth.users[%d]: api key already assigned to %q", i, owner)
		}
		keys[user.APIKey] = user.Name
	}

	if err := validateBackend(cfg.Backend.DefaultBackend, cfg.Backend); err != nil {
		return fmt.Errorf("backend: %w", err)
	}

	prefixes := make(map[string]bool)
	for i, mount := range cfg.Mounts {
		prefix := strings.TrimSuffix(mount.Prefix, "/")
		if prefix == "" {
			return fmt.Errorf("mounts[%d]: prefix must not be the root", i)
		}
		if prefixes[prefix] {
			return fmt.Errorf("mounts[%d]: duplicate prefix %q", i, mount.Prefix)
		}
		prefixes[prefix] = true
		if mount.Backend == "s3" && cfg.Backend.DefaultBackend == "s3" {
			return fmt.Errorf("mounts[%d]: s3 mount would share the default bucket", i)
		}
	}

	switch cfg.MetadataStore.Type {
	case "postgres":
		if cfg.MetadataStore.DSN == "" {
			return fmt.Errorf("metadata_store.dsn is required for postgres")
		}
	case "sqlite":
		if cfg.MetadataStore.SQLitePath == "" {
			return fmt.Errorf("metadata_store.sqlite_path is required for sqlite")
		}
	case "badger":
		if cfg.MetadataStore.BadgerPath == "" {
			return fmt.Errorf("metadata_store.badger_path is required for badger")
		}
	case "redis":
		if cfg.MetadataStore.RedisAddr == "" {
			return fmt.Errorf("metadata_store.redis_addr is required for redis")
		}
	}

	if cfg.DLM.Type == "redis" && cfg.DLM.RedisAddr == "" {
		return fmt.Errorf("dlm.redis_addr is required for redis locks")
	}

	if (cfg.Server.CertFile == "") != (cfg.Server.KeyFile == "") {
		return fmt.Errorf("server: cert_file and key_file must be set together")
	}

	if cfg.Upload.RateLimit > 0 && cfg.Upload.RateBurst == 0 {
		return fmt.Errorf("upload.rate_burst must be positive when rate_limit is set")
	}

	return nil
}

func validateBackend(backendType string, cfg BackendConfig) error {
	switch backendType {
	case "localfs":
		if cfg.LocalFSRootPath == "" {
			return fmt.Errorf("localfs_root_path is required for localfs")
		}
	case "s3":
		if cfg.S3BucketName == "" {
			return fmt.Errorf("s3_bucket_name is required for s3")
		}
		if cfg.S3Region == "" {
			return fmt.Errorf("s3_region is required for s3")
		}
	}
	return nil
}

// formatValidationError converts validator errors into user-friendly messages
func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
		e := validationErrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
			e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
