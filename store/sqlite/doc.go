// Package sqlite provides a SQLite-backed memory.MessageStore and
// store.ItemStore for single-node deployments.
//
// Messages live in one table ordered by an autoincrement sequence, so Load
// returns them in the order they were saved. Replace runs inside a
// transaction: readers see either the old log or the compacted one.
//
//	s, err := sqlite.NewSqliteStore(sqlite.SqliteOptions{Path: "./agentmemory.db"})
//	if err != nil {
//		return err
//	}
//	defer s.Close()
//
//	mem := memory.NewConversationMemory(s, cache, summarizer, memory.DefaultConfig())
//
// The same database also backs user preferences through the ItemStore
// methods. Use the path ":memory:" for a throwaway database.
package sqlite
