package inmemory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/smallnest/agentmemory/memory"
)

const lockPollInterval = 10 * time.Millisecond

type cacheEntry struct {
	msgs      []*memory.Message
	expiresAt time.Time
}

type lockEntry struct {
	token     string
	expiresAt time.Time
}

// Cache implements memory.Cache in process memory. Locks only exclude
// callers sharing the same Cache value.
type Cache struct {
	mu          sync.Mutex
	ttl         time.Duration
	entries     map[string]cacheEntry
	compression map[string]time.Time
	locks       map[string]lockEntry
	now         func() time.Time
}

var _ memory.Cache = (*Cache)(nil)

// NewCache creates a cache whose message entries expire after ttl. A zero
// ttl keeps entries until they are deleted.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{
		ttl:         ttl,
		entries:     make(map[string]cacheEntry),
		compression: make(map[string]time.Time),
		locks:       make(map[string]lockEntry),
		now:         time.Now,
	}
}

func (c *Cache) expiry() time.Time {
	if c.ttl <= 0 {
		return time.Time{}
	}
	return c.now().Add(c.ttl)
}

func (c *Cache) expired(t time.Time) bool {
	return !t.IsZero() && !c.now().Before(t)
}

// GetMessages returns a copy of the cached log.
func (c *Cache) GetMessages(ctx context.Context, conversationID string) ([]*memory.Message, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[conversationID]
	if !ok {
		return nil, false, nil
	}
	if c.expired(e.expiresAt) {
		delete(c.entries, conversationID)
		return nil, false, nil
	}
	msgs := memory.CloneMessages(e.msgs)
	if msgs == nil {
		msgs = []*memory.Message{}
	}
	return msgs, true, nil
}

// SetMessages stores a copy of msgs.
func (c *Cache) SetMessages(ctx context.Context, conversationID string, msgs []*memory.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[conversationID] = cacheEntry{msgs: memory.CloneMessages(msgs), expiresAt: c.expiry()}
	return nil
}

// DeleteMessages drops the cached log.
func (c *Cache) DeleteMessages(ctx context.Context, conversationID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, conversationID)
	return nil
}

// RefreshExpiration restarts the entry's TTL.
func (c *Cache) RefreshExpiration(ctx context.Context, conversationID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[conversationID]; ok {
		e.expiresAt = c.expiry()
		c.entries[conversationID] = e
	}
	return nil
}

// ClearAll drops the log and the compaction time.
func (c *Cache) ClearAll(ctx context.Context, conversationID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, conversationID)
	delete(c.compression, conversationID)
	return nil
}

func (c *Cache) GetLastCompressionTime(ctx context.Context, conversationID string) (time.Time, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.compression[conversationID]
	return t, ok, nil
}

func (c *Cache) SetLastCompressionTime(ctx context.Context, conversationID string, t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.compression[conversationID] = t
	return nil
}

// TryLock polls for the lock until wait elapses or ctx is done.
func (c *Cache) TryLock(ctx context.Context, conversationID string, wait, lease time.Duration) (*memory.LockHandle, error) {
	token := uuid.New().String()
	deadline := c.now().Add(wait)

	for {
		if c.acquire(conversationID, token, lease) {
			return &memory.LockHandle{ConversationID: conversationID, Token: token}, nil
		}
		if !c.now().Before(deadline) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockPollInterval):
		}
	}
}

func (c *Cache) acquire(conversationID, token string, lease time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if l, held := c.locks[conversationID]; held && !c.expired(l.expiresAt) {
		return false
	}
	c.locks[conversationID] = lockEntry{token: token, expiresAt: c.now().Add(lease)}
	return true
}

// Unlock releases the lock if it is still held by the same token.
func (c *Cache) Unlock(ctx context.Context, lock *memory.LockHandle) error {
	if lock == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if l, ok := c.locks[lock.ConversationID]; ok && l.token == lock.Token {
		delete(c.locks, lock.ConversationID)
	}
	return nil
}
