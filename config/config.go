package config

import (
	"time"

	"github.com/smallnest/agentmemory/memory"
	"github.com/smallnest/agentmemory/preference"
)

// Config is the complete agentmemory configuration. Keys use the
// mapstructure names below, e.g. "cache.redis_addr".
type Config struct {
	Log        LogConfig        `mapstructure:"log"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Memory     MemoryConfig     `mapstructure:"memory"`
	Preference PreferenceConfig `mapstructure:"preference"`
	OpenAI     OpenAIConfig     `mapstructure:"openai"`
}

// LogConfig selects the logger.
type LogConfig struct {
	Level   string `mapstructure:"level"`
	Backend string `mapstructure:"backend"` // "std" or "golog"
}

// StorageConfig selects the authoritative message and item store.
type StorageConfig struct {
	Backend      string `mapstructure:"backend"` // "sqlite", "postgres" or "memory"
	SqlitePath   string `mapstructure:"sqlite_path"`
	PostgresURL  string `mapstructure:"postgres_url"`
	MessageTable string `mapstructure:"message_table"`
	ItemTable    string `mapstructure:"item_table"`
}

// CacheConfig selects the conversation cache.
type CacheConfig struct {
	Backend       string        `mapstructure:"backend"` // "redis" or "memory"
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	Prefix        string        `mapstructure:"prefix"`
	TTL           time.Duration `mapstructure:"ttl"`
}

// MemoryConfig holds the compaction policy.
type MemoryConfig struct {
	CompressionEnabled bool          `mapstructure:"compression_enabled"`
	PreserveThreshold  float64       `mapstructure:"preserve_threshold"`
	MinInterval        time.Duration `mapstructure:"min_interval"`
	LockWait           time.Duration `mapstructure:"lock_wait"`
	LockLease          time.Duration `mapstructure:"lock_lease"`
	TriggerMessages    int           `mapstructure:"trigger_messages"`
}

// PreferenceConfig holds preference learning thresholds.
type PreferenceConfig struct {
	MinConfidence     float64 `mapstructure:"min_confidence"`
	MinInputLength    int     `mapstructure:"min_input_length"`
	ExtractionEnabled bool    `mapstructure:"extraction_enabled"`
}

// OpenAIConfig configures the preference extractor.
type OpenAIConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	mem := memory.DefaultConfig()
	pref := preference.DefaultConfig()
	return &Config{
		Log: LogConfig{
			Level:   "info",
			Backend: "std",
		},
		Storage: StorageConfig{
			Backend:      "sqlite",
			SqlitePath:   "agentmemory.db",
			MessageTable: "conversation_messages",
			ItemTable:    "store_items",
		},
		Cache: CacheConfig{
			Backend:   "redis",
			RedisAddr: "localhost:6379",
			Prefix:    "agentmemory:",
			TTL:       30 * time.Minute,
		},
		Memory: MemoryConfig{
			CompressionEnabled: mem.Enabled,
			PreserveThreshold:  mem.PreserveThreshold,
			MinInterval:        mem.MinInterval,
			LockWait:           mem.LockWait,
			LockLease:          mem.LockLease,
			TriggerMessages:    mem.TriggerMessages,
		},
		Preference: PreferenceConfig{
			MinConfidence:  pref.MinConfidence,
			MinInputLength: pref.MinInputLength,
		},
		OpenAI: OpenAIConfig{
			Model: "gpt-4o-mini",
		},
	}
}
