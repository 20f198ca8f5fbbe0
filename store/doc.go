// Package store defines the namespaced key/value contract shared by the
// agentmemory storage backends, and is the parent of those backends:
//
//   - store/inmemory: process-local maps, for tests and single-process tools
//   - store/sqlite: file-based storage through database/sql and go-sqlite3
//   - store/postgres: PostgreSQL through pgx
//   - store/redis: the conversation cache and compaction lock
//
// Conversation logs use memory.MessageStore and memory.Cache. Everything else
// that must survive a restart, such as user preferences, goes through
// ItemStore:
//
//	ns := []string{"preferences"}
//	if err := items.PutItem(ctx, ns, "alice", json.RawMessage(`{"preferences":[]}`)); err != nil {
//		return err
//	}
//	item, err := items.GetItem(ctx, ns, "alice") // nil, nil when absent
//
// Namespace components must be non-empty and must not contain "/".
package store
