// Package log provides the small leveled logging interface used across agentmemory.
//
// Every component takes a Logger in its config and falls back to the
// package-level logger when none is given. Two implementations ship with the
// package:
//
//   - DefaultLogger: writes through the standard library log package
//   - GologLogger: adapts a kataras/golog logger
//
// # Log Levels
//
//   - LogLevelDebug: cache hits and misses, lock attempts
//   - LogLevelInfo: completed compactions, learned preferences
//   - LogLevelWarn: repaired tool chains, skipped extractions, failed cleanups
//   - LogLevelError: failures that are returned to the caller
//   - LogLevelNone: disables all logging output
//
// # Example Usage
//
//	logger := log.NewGologLoggerWithLevel(nil, log.LogLevelDebug)
//	log.SetDefaultLogger(logger)
//
//	mem := memory.NewConversationMemory(store, cache, summarizer, memory.Config{
//		Logger: log.Named("memory", logger),
//	})
//
// Named loggers prefix each line with the component name:
//
//	[agentmemory] 2026/01/02 15:04:05 [WARN] [memory] dropped dangling tool calls in conv-42
package log
