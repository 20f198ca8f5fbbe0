package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/smallnest/agentmemory/log"
)

// ConversationMemory keeps conversation logs consistent between the
// authoritative MessageStore and the disposable Cache, and compacts long logs
// under a per-conversation distributed lock.
//
// Add and Get take no lock. The lock only serializes Compress.
type ConversationMemory struct {
	store      MessageStore
	cache      Cache
	summarizer Summarizer
	validator  *ToolChainValidator
	cfg        Config
	logger     log.Logger

	loads singleflight.Group
	now   func() time.Time
}

// NewConversationMemory wires a store, a cache and a summarizer. summarizer
// may be nil when compaction is never used.
func NewConversationMemory(store MessageStore, cache Cache, summarizer Summarizer, cfg Config) *ConversationMemory {
	cfg = cfg.withDefaults()
	return &ConversationMemory{
		store:      store,
		cache:      cache,
		summarizer: summarizer,
		validator:  NewToolChainValidator(cfg.Logger),
		cfg:        cfg,
		logger:     cfg.Logger,
		now:        time.Now,
	}
}

// Config returns the effective configuration.
func (m *ConversationMemory) Config() Config {
	return m.cfg
}

// Add appends msg to the conversation. The store is written before the
// cache; on any failure the cache entry is dropped before the error returns.
func (m *ConversationMemory) Add(ctx context.Context, conversationID string, msg *Message) error {
	return m.AddMessages(ctx, conversationID, msg)
}

// AddMessages appends msgs in order with the same guarantees as Add.
func (m *ConversationMemory) AddMessages(ctx context.Context, conversationID string, msgs ...*Message) (err error) {
	if conversationID == "" || len(msgs) == 0 {
		return ErrInvalidArgument
	}
	for _, msg := range msgs {
		if msg == nil {
			return ErrInvalidArgument
		}
	}

	defer func() {
		if err != nil {
			m.invalidate(ctx, conversationID)
		}
	}()

	stamp, stampErr := m.compactionStamp(ctx, conversationID)
	current, err := m.load(ctx, conversationID, false)
	if err != nil {
		return err
	}

	for _, msg := range msgs {
		stampMessage(msg, m.now)
		if err := m.store.Save(ctx, conversationID, msg); err != nil {
			return fmt.Errorf("failed to save message to conversation %q: %w", conversationID, err)
		}
		current = append(current, msg)
	}

	if err := m.cache.SetMessages(ctx, conversationID, current); err != nil {
		return fmt.Errorf("failed to update cache for conversation %q: %w", conversationID, err)
	}
	// current may predate a compaction that finished while we were writing.
	after, readErr := m.compactionStamp(ctx, conversationID)
	if stampErr != nil || readErr != nil || !after.Equal(stamp) {
		m.logger.Debug("conversation %q compacted during write, dropping cached log", conversationID)
		m.invalidate(ctx, conversationID)
	}
	return nil
}

// Get returns the conversation log. A cache hit refreshes the entry's
// expiration and never touches the store; a miss loads from the store and
// backfills the cache.
func (m *ConversationMemory) Get(ctx context.Context, conversationID string) ([]*Message, error) {
	if conversationID == "" {
		return nil, ErrInvalidArgument
	}
	return m.load(ctx, conversationID, true)
}

// History returns the log repaired by the ToolChainValidator, ready to be
// sent to a model.
func (m *ConversationMemory) History(ctx context.Context, conversationID string) ([]*Message, error) {
	msgs, err := m.Get(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	return m.validator.Validate(conversationID, msgs), nil
}

func (m *ConversationMemory) load(ctx context.Context, conversationID string, refresh bool) ([]*Message, error) {
	msgs, hit, err := m.cache.GetMessages(ctx, conversationID)
	if err != nil {
		m.logger.Warn("cache read failed for %q, falling back to store: %v", conversationID, err)
	}
	if err == nil && hit {
		if refresh {
			if err := m.cache.RefreshExpiration(ctx, conversationID); err != nil {
				m.logger.Warn("failed to refresh cache expiration for %q: %v", conversationID, err)
			}
		}
		m.logger.Debug("cache hit for %q (%d messages)", conversationID, len(msgs))
		return msgs, nil
	}

	m.logger.Debug("cache miss for %q", conversationID)
	v, err, _ := m.loads.Do(conversationID, func() (any, error) {
		loaded, err := m.store.Load(ctx, conversationID)
		if err != nil {
			return nil, fmt.Errorf("failed to load conversation %q: %w", conversationID, err)
		}
		if err := m.cache.SetMessages(ctx, conversationID, loaded); err != nil {
			m.logger.Warn("failed to backfill cache for %q: %v", conversationID, err)
		}
		return loaded, nil
	})
	if err != nil {
		return nil, err
	}
	// Results are shared between coalesced callers.
	return CloneMessages(v.([]*Message)), nil
}

// Compress replaces the older part of the log with a summary.
//
// It is a no-op when compaction is disabled, when the last compaction is
// more recent than MinInterval, or when another worker holds the lock. On
// failure the cache entry is dropped and the error returned; the lock is
// always released.
func (m *ConversationMemory) Compress(ctx context.Context, conversationID string, opts ...CompressOption) (err error) {
	if conversationID == "" {
		return ErrInvalidArgument
	}
	o := compressOptions{preserve: m.cfg.PreserveThreshold}
	for _, opt := range opts {
		opt(&o)
	}

	var (
		seen   time.Time
		seenOK bool
	)
	if !o.force {
		if !m.cfg.Enabled {
			m.logger.Debug("compaction disabled, skipping %q", conversationID)
			return nil
		}
		last, err := m.compactionStamp(ctx, conversationID)
		if err != nil {
			m.logger.Warn("failed to read compaction time for %q, treating as eligible: %v", conversationID, err)
		} else {
			if !m.intervalElapsed(last) {
				m.logger.Debug("compaction of %q ran less than %s ago, skipping", conversationID, m.cfg.MinInterval)
				return nil
			}
			seen, seenOK = last, true
		}
	}
	if m.summarizer == nil {
		return ErrNoSummarizer
	}

	lock, err := m.cache.TryLock(ctx, conversationID, m.cfg.LockWait, m.cfg.LockLease)
	if err != nil {
		return fmt.Errorf("failed to acquire compaction lock for %q: %w", conversationID, err)
	}
	if lock == nil {
		m.logger.Debug("compaction of %q already running elsewhere", conversationID)
		return nil
	}
	defer m.unlock(ctx, lock)
	defer func() {
		if err != nil {
			m.invalidate(ctx, conversationID)
		}
	}()

	// Another worker may have compacted while we waited for the lock.
	if seenOK {
		if last, err := m.compactionStamp(ctx, conversationID); err == nil && !last.Equal(seen) {
			m.logger.Debug("compaction of %q finished while waiting for the lock, skipping", conversationID)
			return nil
		}
	}

	msgs, err := m.store.Load(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("failed to load conversation %q for compaction: %w", conversationID, err)
	}

	pinned, rest := splitPinned(msgs)
	idx := FindCompressionBoundary(rest, o.preserve)
	head, tail := rest[:idx], rest[idx:]
	if !hasNewContent(head) {
		m.logger.Debug("nothing to compact in %q", conversationID)
		return nil
	}

	hint := o.hint
	if hint == "" {
		hint = latestUserGoal(head)
	}
	summary, err := m.summarizer.CompressMessages(ctx, head, hint)
	if err != nil {
		return fmt.Errorf("failed to summarize conversation %q: %w", conversationID, err)
	}
	if summary.IsEmpty() {
		return ErrEmptySummary
	}

	compacted := make([]*Message, 0, len(pinned)+1+len(tail))
	compacted = append(compacted, pinned...)
	compacted = append(compacted, summary.Message())
	compacted = append(compacted, tail...)

	if err := m.store.Replace(ctx, conversationID, compacted); err != nil {
		return fmt.Errorf("failed to replace conversation %q: %w", conversationID, err)
	}
	if err := m.cache.DeleteMessages(ctx, conversationID); err != nil {
		return fmt.Errorf("failed to invalidate cache for %q: %w", conversationID, err)
	}
	if err := m.cache.SetLastCompressionTime(ctx, conversationID, m.now()); err != nil {
		m.logger.Warn("failed to record compaction time for %q: %v", conversationID, err)
	}
	// Writers that checked the stamp before it moved may have re-cached the
	// old log after the first delete.
	if err := m.cache.DeleteMessages(ctx, conversationID); err != nil {
		m.logger.Warn("failed to invalidate cache for %q after compaction: %v", conversationID, err)
	}

	m.logger.Info("compacted %q: %d messages summarized, %d kept", conversationID, len(head), len(pinned)+len(tail))
	return nil
}

// ShouldCompress reports whether msgs is long enough to be worth compacting.
func (m *ConversationMemory) ShouldCompress(msgs []*Message) bool {
	return m.cfg.Enabled && len(msgs) >= m.cfg.TriggerMessages
}

// Clear deletes the conversation from the store, then from the cache. If the
// store delete fails the cache is left alone, since it still matches the store.
func (m *ConversationMemory) Clear(ctx context.Context, conversationID string) error {
	if conversationID == "" {
		return ErrInvalidArgument
	}
	if err := m.store.Delete(ctx, conversationID); err != nil {
		return fmt.Errorf("failed to delete conversation %q: %w", conversationID, err)
	}
	if err := m.cache.ClearAll(ctx, conversationID); err != nil {
		return fmt.Errorf("failed to clear cache for %q: %w", conversationID, err)
	}
	return nil
}

// compactionStamp returns the last recorded compaction time, or the zero
// time when none was recorded.
func (m *ConversationMemory) compactionStamp(ctx context.Context, conversationID string) (time.Time, error) {
	last, ok, err := m.cache.GetLastCompressionTime(ctx, conversationID)
	if err != nil || !ok {
		return time.Time{}, err
	}
	return last, nil
}

func (m *ConversationMemory) intervalElapsed(last time.Time) bool {
	return last.IsZero() || m.now().Sub(last) >= m.cfg.MinInterval
}

// invalidate drops the cached log even when ctx is already cancelled.
func (m *ConversationMemory) invalidate(ctx context.Context, conversationID string) {
	if err := m.cache.DeleteMessages(context.WithoutCancel(ctx), conversationID); err != nil {
		m.logger.Error("failed to invalidate cache for %q: %v", conversationID, err)
	}
}

func (m *ConversationMemory) unlock(ctx context.Context, lock *LockHandle) {
	if err := m.cache.Unlock(context.WithoutCancel(ctx), lock); err != nil {
		m.logger.Warn("failed to release compaction lock for %q: %v", lock.ConversationID, err)
	}
}

// splitPinned separates the leading system prompt(s) from the rest of the
// log. Earlier summaries are not pinned; they are folded into the next one.
func splitPinned(msgs []*Message) ([]*Message, []*Message) {
	i := 0
	for i < len(msgs) && msgs[i] != nil && msgs[i].Role == RoleSystem && !msgs[i].IsSummary() {
		i++
	}
	return msgs[:i], msgs[i:]
}

func hasNewContent(head []*Message) bool {
	for _, m := range head {
		if m != nil && !m.IsSummary() {
			return true
		}
	}
	return false
}

func latestUserGoal(msgs []*Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i] != nil && msgs[i].Role == RoleUser {
			return msgs[i].Content
		}
	}
	return ""
}

func stampMessage(msg *Message, now func() time.Time) {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = now()
	}
}
