package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix for environment variable overrides. Nested keys
// are separated by a double underscore, e.g. BUNDLEFS_METADATA_STORE__TYPE.
const EnvPrefix = "BUNDLEFS_"

// defaultConfigFiles are searched in the working directory when no file is given
var defaultConfigFiles = []string{"config.yaml", "config.yml", "config.json"}

// LoadConfigFromFile loads configuration from multiple sources with strict priority:
// 1. Environment variables (highest priority)
// 2. The given config file, or the first of config.yaml, config.yml and
//    config.json in the working directory when configFilePath is empty
// 3. Defaults (lowest priority)
func LoadConfigFromFile(configFilePath string) (AppConfig, error) {
	k := koanf.New(".")

	// Load default configuration first
	if err := k.Load(structs.Provider(DefaultAppConfig(), "koanf"), nil); err != nil {
		return AppConfig{}, fmt.Errorf("failed to load default config: %w", err)
	}

	if configFilePath != "" {
		if _, err := os.Stat(configFilePath); err != nil {
			return AppConfig{}, fmt.Errorf("specified config file %s not found: %w", configFilePath, err)
		}
		if err := loadFile(k, configFilePath); err != nil {
			return AppConfig{}, err
		}
	} else {
		for _, configFile := range defaultConfigFiles {
			if _, err := os.Stat(configFile); err == nil {
				if err := loadFile(k, configFile); err != nil {
					return AppConfig{}, err
				}
				break
			}
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return AppConfig{}, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg AppConfig
	if err := k.Unmarshal("", &cfg); err != nil {
		return AppConfig{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return AppConfig{}, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func loadFile(k *koanf.Koanf, path string) error {
	var parser koanf.Parser
	switch {
	case strings.HasSuffix(path, ".yaml"), strings.HasSuffix(path, ".yml"):
		parser = yaml.Parser()
	case strings.HasSuffix(path, ".json"):
		parser = json.Parser()
	default:
		return fmt.Errorf("unsupported config file format: %s", path)
	}

	if err := k.Load(file.Provider(path), parser); err != nil {
		return fmt.Errorf("failed to load config file %s: %w", path, err)
	}
	return nil
}

// envKey maps BUNDLEFS_UPLOAD__SPOOL_DIR to upload.spool_dir
func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
}
