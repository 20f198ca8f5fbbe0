// Package config loads agentmemory settings with viper and builds the
// configured logger, storage backend, cache and preference extractor.
//
// Settings come from defaults, an optional YAML/TOML/JSON file and
// environment variables prefixed with AGENTMEMORY_, in increasing order of
// precedence. Nested keys map to underscores:
//
//	AGENTMEMORY_STORAGE_BACKEND=postgres
//	AGENTMEMORY_STORAGE_POSTGRES_URL=postgres://localhost/agentmemory
//	AGENTMEMORY_CACHE_REDIS_ADDR=redis:6379
//	AGENTMEMORY_MEMORY_PRESERVE_THRESHOLD=0.4
package config
