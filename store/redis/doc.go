// Package redis provides a Redis-backed memory.Cache.
//
// The cache holds, per conversation, the JSON-encoded message log, the time
// of the last compaction, and the compaction lock. Keys are namespaced by a
// configurable prefix:
//
//	<prefix>messages:<conversation>     JSON array, expires after TTL
//	<prefix>compression:<conversation>  unix milliseconds
//	<prefix>lock:<conversation>         random token, expires after the lease
//
// # Basic Usage
//
//	cache := redis.NewRedisCache(redis.RedisOptions{
//		Addr:   "localhost:6379",
//		Prefix: "agentmemory:",
//		TTL:    30 * time.Minute,
//	})
//	defer cache.Close()
//
//	mem := memory.NewConversationMemory(store, cache, summarizer, memory.DefaultConfig())
//
// # Locking
//
// TryLock uses SET NX PX with a random token and polls until the wait
// elapses. Unlock runs a compare-and-delete script, so a worker whose lease
// already expired cannot release a lock now held by someone else.
package redis
