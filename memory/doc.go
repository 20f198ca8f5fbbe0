// Package memory is the working memory of a multi-turn agent.
//
// A ConversationMemory keeps each conversation log in two places: a
// MessageStore, which is authoritative, and a Cache, which is disposable.
// Writes go to the store first and then to the cache. Any failure drops the
// cache entry, so the next read reloads from the store.
//
//	mem := memory.NewConversationMemory(store, cache, memory.NewLLMSummarizer(model), memory.DefaultConfig())
//	_ = mem.Add(ctx, "conv-1", memory.NewUserMessage("hello"))
//	history, _ := mem.History(ctx, "conv-1")
//
// # Compaction
//
// Compress replaces the older part of a log with a single summary message.
// It runs under a per-conversation lock held in the Cache, respects a minimum
// interval between runs, and never splits an assistant tool call from its
// results (see FindCompressionBoundary).
//
// # Tool chains
//
// History passes the log through a ToolChainValidator before returning it.
// Assistant tool calls left without results, for example after a crash
// between two writes, are stripped so providers accept the request.
//
// # Model integration
//
// ToMessageContent and FromContentChoice convert between this package's
// Message and langchaingo's llms types.
package memory
