// Package preference learns stable user preferences and keeps them across
// conversations.
//
// Preferences are stored per user as a single document in a store.ItemStore,
// under the namespace "preferences". A Manager merges new candidates into
// that document with a Deduplicator, so restating a preference raises its
// usage count instead of adding a duplicate.
//
//	prefs := preference.NewManager(items, nil, preference.DefaultConfig())
//	res, err := prefs.Learn(ctx, "alice", "language", "Go", "I write everything in Go", 0.9)
//
// LearnFromTurn is a fallback for hosts without an explicit learning path:
// it asks an Extractor for at most one preference in a user message and
// stores it disabled, to be confirmed later with SetEnabled.
package preference
