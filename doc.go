// Agent Memory - Conversation Memory for Multi-Turn LLM Agents
//
// agentmemory keeps the message log of agent conversations in a durable
// store, serves it through a fast cache, compacts old turns into LLM
// summaries and repairs tool-call chains before they reach a model. It also
// learns per-user preferences from conversation text.
//
// # Quick Start
//
//	package main
//
//	import (
//		"context"
//		"fmt"
//
//		"github.com/smallnest/agentmemory/config"
//		"github.com/smallnest/agentmemory/memory"
//		"github.com/smallnest/agentmemory/prebuilt"
//		"github.com/smallnest/agentmemory/preference"
//		"github.com/tmc/langchaingo/llms/openai"
//	)
//
//	func main() {
//		ctx := context.Background()
//
//		cfg, _ := config.Load("agentmemory.yaml")
//		logger, _ := cfg.Logger()
//
//		storage, _ := cfg.OpenStorage(ctx)
//		defer storage.Close()
//		cache, _ := cfg.NewCache()
//
//		llm, _ := openai.New()
//		mem := memory.NewConversationMemory(storage.Messages, cache,
//			memory.NewLLMSummarizer(llm), cfg.MemoryConfig(logger))
//		prefs := preference.NewManager(storage.Items, cfg.NewExtractor(),
//			cfg.PreferenceConfig(logger))
//
//		session, _ := prebuilt.NewChatSession(llm, mem,
//			prebuilt.WithUserID("alice"),
//			prebuilt.WithPreferences(prefs),
//			prebuilt.WithSystemPrompt("You are a helpful assistant."),
//		)
//
//		reply, _ := session.Chat(ctx, "I prefer answers in Go, please.")
//		fmt.Println(reply.Content)
//	}
//
// # Packages
//
//   - memory: messages, ConversationMemory, compaction and tool-chain repair
//   - store: the namespaced ItemStore interface
//   - store/inmemory: process-local store and cache
//   - store/redis: Redis cache with TTLs and distributed locks
//   - store/postgres: PostgreSQL message and item store
//   - store/sqlite: SQLite message and item store
//   - preference: user preference learning and deduplication
//   - prebuilt: ChatSession, a langchaingo chat loop backed by memory
//   - config: viper configuration and backend factories
//   - log: leveled logging with a golog adapter
//
// # Consistency
//
// Writes go to the store first and to the cache second. Any failure drops
// the cache entry so the next read reloads from the store. Compaction holds
// a per-conversation lock and never splits an assistant tool call from its
// results.
package agentmemory // import "github.com/smallnest/agentmemory"
