package config

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/smallnest/agentmemory/log"
	"github.com/smallnest/agentmemory/memory"
	"github.com/smallnest/agentmemory/preference"
	"github.com/smallnest/agentmemory/store"
	"github.com/smallnest/agentmemory/store/inmemory"
	"github.com/smallnest/agentmemory/store/postgres"
	"github.com/smallnest/agentmemory/store/redis"
	"github.com/smallnest/agentmemory/store/sqlite"
)

// Logger builds the configured logger.
func (c *Config) Logger() (log.Logger, error) {
	level, err := log.ParseLevel(c.Log.Level)
	if err != nil {
		return nil, err
	}
	if c.Log.Backend == "golog" {
		return log.NewGologLoggerWithLevel(nil, level), nil
	}
	return log.NewDefaultLogger(level), nil
}

// MemoryConfig converts the memory section.
func (c *Config) MemoryConfig(logger log.Logger) memory.Config {
	return memory.Config{
		Enabled:           c.Memory.CompressionEnabled,
		PreserveThreshold: c.Memory.PreserveThreshold,
		MinInterval:       c.Memory.MinInterval,
		LockWait:          c.Memory.LockWait,
		LockLease:         c.Memory.LockLease,
		TriggerMessages:   c.Memory.TriggerMessages,
		Logger:            logger,
	}
}

// PreferenceConfig converts the preference section.
func (c *Config) PreferenceConfig(logger log.Logger) preference.Config {
	return preference.Config{
		MinConfidence:     c.Preference.MinConfidence,
		MinInputLength:    c.Preference.MinInputLength,
		ExtractionEnabled: c.Preference.ExtractionEnabled,
		Logger:            logger,
	}
}

func (c *Config) RedisOptions() redis.RedisOptions {
	return redis.RedisOptions{
		Addr:     c.Cache.RedisAddr,
		Password: c.Cache.RedisPassword,
		DB:       c.Cache.RedisDB,
		Prefix:   c.Cache.Prefix,
		TTL:      c.Cache.TTL,
	}
}

func (c *Config) PostgresOptions() postgres.PostgresOptions {
	return postgres.PostgresOptions{
		ConnString:    c.Storage.PostgresURL,
		TableName:     c.Storage.MessageTable,
		ItemTableName: c.Storage.ItemTable,
	}
}

func (c *Config) SqliteOptions() sqlite.SqliteOptions {
	return sqlite.SqliteOptions{
		Path:          c.Storage.SqlitePath,
		TableName:     c.Storage.MessageTable,
		ItemTableName: c.Storage.ItemTable,
	}
}

// Storage bundles the message and item stores of one backend.
type Storage struct {
	Messages memory.MessageStore
	Items    store.ItemStore
	close    func() error
}

// Close releases the backend connection.
func (s *Storage) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

// OpenStorage connects to the configured storage backend and prepares its schema.
func (c *Config) OpenStorage(ctx context.Context) (*Storage, error) {
	switch c.Storage.Backend {
	case "sqlite":
		s, err := sqlite.NewSqliteStore(c.SqliteOptions())
		if err != nil {
			return nil, err
		}
		return &Storage{Messages: s, Items: s, close: s.Close}, nil

	case "postgres":
		s, err := postgres.NewPostgresStore(ctx, c.PostgresOptions())
		if err != nil {
			return nil, err
		}
		if err := s.InitSchema(ctx); err != nil {
			s.Close()
			return nil, err
		}
		return &Storage{Messages: s, Items: s, close: func() error { s.Close(); return nil }}, nil

	case "memory":
		return &Storage{Messages: inmemory.NewMessageStore(), Items: inmemory.NewItemStore()}, nil
	}
	return nil, fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
}

// NewCache creates the configured cache.
func (c *Config) NewCache() (memory.Cache, error) {
	switch c.Cache.Backend {
	case "redis":
		return redis.NewRedisCache(c.RedisOptions()), nil
	case "memory":
		return inmemory.NewCache(c.Cache.TTL), nil
	}
	return nil, fmt.Errorf("unknown cache backend %q", c.Cache.Backend)
}

// NewExtractor returns an OpenAI preference extractor, or nil when no API
// key is configured.
func (c *Config) NewExtractor() preference.Extractor {
	if c.OpenAI.APIKey == "" {
		return nil
	}
	oc := openai.DefaultConfig(c.OpenAI.APIKey)
	if c.OpenAI.BaseURL != "" {
		oc.BaseURL = c.OpenAI.BaseURL
	}
	return preference.NewOpenAIExtractor(openai.NewClientWithConfig(oc), c.OpenAI.Model)
}
