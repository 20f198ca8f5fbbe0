package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallnest/agentmemory/log"
	"github.com/smallnest/agentmemory/memory"
	"github.com/smallnest/agentmemory/preference"
	"github.com/smallnest/agentmemory/store/inmemory"
	"github.com/smallnest/agentmemory/store/redis"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, Default(), cfg)
	assert.Equal(t, "sqlite", cfg.Storage.Backend)
	assert.Equal(t, "redis", cfg.Cache.Backend)
	assert.Equal(t, 30*time.Minute, cfg.Cache.TTL)
	assert.True(t, cfg.Memory.CompressionEnabled)
	assert.InDelta(t, memory.DefaultPreserveThreshold, cfg.Memory.PreserveThreshold, 1e-9)
	assert.Equal(t, memory.DefaultMinInterval, cfg.Memory.MinInterval)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, "agentmemory.yaml", `
log:
  level: debug
  backend: golog
storage:
  backend: memory
cache:
  backend: memory
  ttl: 5m
memory:
  preserve_threshold: 0.5
  min_interval: 10s
  trigger_messages: 12
preference:
  min_confidence: 0.7
  extraction_enabled: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "golog", cfg.Log.Backend)
	assert.Equal(t, "memory", cfg.Storage.Backend)
	assert.Equal(t, 5*time.Minute, cfg.Cache.TTL)
	assert.InDelta(t, 0.5, cfg.Memory.PreserveThreshold, 1e-9)
	assert.Equal(t, 10*time.Second, cfg.Memory.MinInterval)
	assert.Equal(t, 12, cfg.Memory.TriggerMessages)
	assert.InDelta(t, 0.7, cfg.Preference.MinConfidence, 1e-9)
	assert.True(t, cfg.Preference.ExtractionEnabled)
	// Untouched keys keep their defaults.
	assert.Equal(t, "conversation_messages", cfg.Storage.MessageTable)
	assert.Equal(t, memory.DefaultLockLease, cfg.Memory.LockLease)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "agentmemory.yaml", "cache:\n  redis_addr: file:6379\n")
	t.Setenv("AGENTMEMORY_CACHE_REDIS_ADDR", "env:6379")
	t.Setenv("AGENTMEMORY_MEMORY_COMPRESSION_ENABLED", "false")
	t.Setenv("AGENTMEMORY_OPENAI_API_KEY", "sk-test")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "env:6379", cfg.Cache.RedisAddr)
	assert.False(t, cfg.Memory.CompressionEnabled)
	assert.Equal(t, "sk-test", cfg.OpenAI.APIKey)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "bad.yaml", "storage:\n  backend: mongo\n"))
	assert.ErrorContains(t, err, "unknown storage backend")

	_, err = Load(writeConfig(t, "bad.yaml", "memory:\n  preserve_threshold: 2\n"))
	assert.ErrorContains(t, err, "preserve_threshold")
}

func TestLoad_ZeroPreserveThresholdIsRejected(t *testing.T) {
	_, err := Load(writeConfig(t, "zero.yaml", "memory:\n  preserve_threshold: 0\n"))
	require.Error(t, err)
	assert.ErrorContains(t, err, "(0,1]")

	t.Setenv("AGENTMEMORY_MEMORY_PRESERVE_THRESHOLD", "0")
	_, err = Load("")
	assert.ErrorContains(t, err, "preserve_threshold")
}

func TestConfig_Logger(t *testing.T) {
	cfg := Default()
	logger, err := cfg.Logger()
	require.NoError(t, err)
	assert.IsType(t, &log.DefaultLogger{}, logger)

	cfg.Log.Backend = "golog"
	cfg.Log.Level = "warn"
	logger, err = cfg.Logger()
	require.NoError(t, err)
	require.IsType(t, &log.GologLogger{}, logger)
	assert.Equal(t, log.LogLevelWarn, logger.(*log.GologLogger).GetLevel())

	cfg.Log.Level = "loud"
	_, err = cfg.Logger()
	assert.Error(t, err)
}

func TestConfig_Conversions(t *testing.T) {
	cfg := Default()
	cfg.Memory.TriggerMessages = 8
	cfg.Preference.MinInputLength = 3

	mc := cfg.MemoryConfig(log.NoOpLogger{})
	assert.True(t, mc.Enabled)
	assert.Equal(t, 8, mc.TriggerMessages)
	assert.NotNil(t, mc.Logger)

	pc := cfg.PreferenceConfig(nil)
	assert.Equal(t, 3, pc.MinInputLength)

	assert.Equal(t, "agentmemory:", cfg.RedisOptions().Prefix)
	assert.Equal(t, "store_items", cfg.PostgresOptions().ItemTableName)
	assert.Equal(t, "agentmemory.db", cfg.SqliteOptions().Path)
}

func TestConfig_OpenStorage(t *testing.T) {
	ctx := context.Background()

	cfg := Default()
	cfg.Storage.SqlitePath = filepath.Join(t.TempDir(), "memory.db")
	st, err := cfg.OpenStorage(ctx)
	require.NoError(t, err)
	defer st.Close()

	require.NoError(t, st.Messages.Save(ctx, "c1", memory.NewUserMessage("hello")))
	msgs, err := st.Messages.Load(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello", msgs[0].Content)

	cfg.Storage.Backend = "memory"
	mem, err := cfg.OpenStorage(ctx)
	require.NoError(t, err)
	assert.IsType(t, &inmemory.MessageStore{}, mem.Messages)
	assert.NoError(t, mem.Close())

	cfg.Storage.Backend = "nope"
	_, err = cfg.OpenStorage(ctx)
	assert.Error(t, err)
}

func TestConfig_NewCache(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)

	cfg := Default()
	cfg.Cache.RedisAddr = mr.Addr()
	cache, err := cfg.NewCache()
	require.NoError(t, err)
	require.IsType(t, &redis.RedisCache{}, cache)
	defer cache.(*redis.RedisCache).Close()

	require.NoError(t, cache.SetMessages(ctx, "c1", []*memory.Message{memory.NewUserMessage("hi")}))
	assert.True(t, mr.Exists("agentmemory:messages:c1"))

	cfg.Cache.Backend = "memory"
	cache, err = cfg.NewCache()
	require.NoError(t, err)
	assert.IsType(t, &inmemory.Cache{}, cache)
}

func TestConfig_NewExtractor(t *testing.T) {
	cfg := Default()
	assert.Nil(t, cfg.NewExtractor())

	cfg.OpenAI.APIKey = "sk-test"
	cfg.OpenAI.BaseURL = "http://localhost:1/v1"
	assert.IsType(t, &preference.OpenAIExtractor{}, cfg.NewExtractor())
}

func TestConfig_EndToEnd(t *testing.T) {
	ctx := context.Background()
	cfg := Default()
	cfg.Storage.Backend = "memory"
	cfg.Cache.Backend = "memory"

	st, err := cfg.OpenStorage(ctx)
	require.NoError(t, err)
	cache, err := cfg.NewCache()
	require.NoError(t, err)

	mem := memory.NewConversationMemory(st.Messages, cache, nil, cfg.MemoryConfig(log.NoOpLogger{}))
	require.NoError(t, mem.Add(ctx, "c1", memory.NewUserMessage("hello")))

	msgs, err := mem.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Len(t, msgs, 1)

	prefs := preference.NewManager(st.Items, cfg.NewExtractor(), cfg.PreferenceConfig(log.NoOpLogger{}))
	res, err := prefs.Learn(ctx, "alice", "language", "Go", "", 0.9)
	require.NoError(t, err)
	assert.True(t, res.IsNew)
}
