package memory

import (
	"context"
	"time"
)

// MessageStore is the system of record for conversation logs.
type MessageStore interface {
	// Save appends msg to the conversation's log.
	Save(ctx context.Context, conversationID string, msg *Message) error

	// Load returns the full log in order. An unknown conversation yields an
	// empty slice, not an error.
	Load(ctx context.Context, conversationID string) ([]*Message, error)

	// Replace atomically swaps the whole log for msgs.
	Replace(ctx context.Context, conversationID string, msgs []*Message) error

	// Delete removes the conversation's log.
	Delete(ctx context.Context, conversationID string) error
}

// LockHandle identifies a held distributed lock.
type LockHandle struct {
	ConversationID string
	Token          string
}

// Cache holds the disposable hot copy of conversation logs, per-conversation
// compaction metadata, and the per-conversation compaction lock.
type Cache interface {
	// GetMessages returns the cached log and whether it was present.
	GetMessages(ctx context.Context, conversationID string) ([]*Message, bool, error)
	SetMessages(ctx context.Context, conversationID string, msgs []*Message) error
	DeleteMessages(ctx context.Context, conversationID string) error
	RefreshExpiration(ctx context.Context, conversationID string) error

	// ClearAll drops every cache entry held for the conversation.
	ClearAll(ctx context.Context, conversationID string) error

	// GetLastCompressionTime returns the last compaction time and whether
	// one was recorded.
	GetLastCompressionTime(ctx context.Context, conversationID string) (time.Time, bool, error)
	SetLastCompressionTime(ctx context.Context, conversationID string, t time.Time) error

	// TryLock waits up to wait for the conversation's lock and holds it for
	// at most lease. A nil handle with a nil error means another holder has it.
	TryLock(ctx context.Context, conversationID string, wait, lease time.Duration) (*LockHandle, error)
	Unlock(ctx context.Context, lock *LockHandle) error
}
