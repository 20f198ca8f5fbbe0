package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. AGENTMEMORY_CACHE_REDIS_ADDR.
const EnvPrefix = "AGENTMEMORY"

// InitViper creates a *viper.Viper with defaults from Default(), the config
// file at path (if path is not empty) and environment overrides.
//
// Precedence, highest first:
//  1. Environment variables (AGENTMEMORY_STORAGE_BACKEND, ...)
//  2. The config file (YAML, TOML or JSON, by extension)
//  3. Defaults from Default()
func InitViper(path string) (*viper.Viper, error) {
	v := viper.New()
	setViperDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
				return nil, fmt.Errorf("reading config: %w", err)
			}
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v, nil
}

// Load reads the configuration. An empty path uses defaults and environment only.
func Load(path string) (*Config, error) {
	v, err := InitViper(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects unknown backends and out-of-range values.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "sqlite", "postgres", "memory":
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	switch c.Cache.Backend {
	case "redis", "memory":
	default:
		return fmt.Errorf("unknown cache backend %q", c.Cache.Backend)
	}
	switch c.Log.Backend {
	case "std", "golog":
	default:
		return fmt.Errorf("unknown log backend %q", c.Log.Backend)
	}
	if c.Memory.PreserveThreshold <= 0 || c.Memory.PreserveThreshold > 1 {
		return fmt.Errorf("memory.preserve_threshold must be within (0,1], got %v", c.Memory.PreserveThreshold)
	}
	if c.Preference.MinConfidence < 0 || c.Preference.MinConfidence > 1 {
		return fmt.Errorf("preference.min_confidence must be within [0,1], got %v", c.Preference.MinConfidence)
	}
	return nil
}

// setViperDefaults registers Default() under dotted keys so that env
// overrides are seen by Unmarshal.
func setViperDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.backend", d.Log.Backend)

	v.SetDefault("storage.backend", d.Storage.Backend)
	v.SetDefault("storage.sqlite_path", d.Storage.SqlitePath)
	v.SetDefault("storage.postgres_url", d.Storage.PostgresURL)
	v.SetDefault("storage.message_table", d.Storage.MessageTable)
	v.SetDefault("storage.item_table", d.Storage.ItemTable)

	v.SetDefault("cache.backend", d.Cache.Backend)
	v.SetDefault("cache.redis_addr", d.Cache.RedisAddr)
	v.SetDefault("cache.redis_password", d.Cache.RedisPassword)
	v.SetDefault("cache.redis_db", d.Cache.RedisDB)
	v.SetDefault("cache.prefix", d.Cache.Prefix)
	v.SetDefault("cache.ttl", d.Cache.TTL)

	v.SetDefault("memory.compression_enabled", d.Memory.CompressionEnabled)
	v.SetDefault("memory.preserve_threshold", d.Memory.PreserveThreshold)
	v.SetDefault("memory.min_interval", d.Memory.MinInterval)
	v.SetDefault("memory.lock_wait", d.Memory.LockWait)
	v.SetDefault("memory.lock_lease", d.Memory.LockLease)
	v.SetDefault("memory.trigger_messages", d.Memory.TriggerMessages)

	v.SetDefault("preference.min_confidence", d.Preference.MinConfidence)
	v.SetDefault("preference.min_input_length", d.Preference.MinInputLength)
	v.SetDefault("preference.extraction_enabled", d.Preference.ExtractionEnabled)

	v.SetDefault("openai.api_key", d.OpenAI.APIKey)
	v.SetDefault("openai.base_url", d.OpenAI.BaseURL)
	v.SetDefault("openai.model", d.OpenAI.Model)
}
