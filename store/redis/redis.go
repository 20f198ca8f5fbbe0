package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/smallnest/agentmemory/memory"
)

const lockPollInterval = 50 * time.Millisecond

// unlockScript deletes the lock only if it still holds the caller's token.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisCache implements memory.Cache using Redis
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

var _ memory.Cache = (*RedisCache)(nil)

// RedisOptions configuration for Redis connection
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string        // Key prefix, default "agentmemory:"
	TTL      time.Duration // Expiration for cached logs, default 0 (no expiration)
}

// NewRedisCache creates a new Redis-backed cache
func NewRedisCache(opts RedisOptions) *RedisCache {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	return NewRedisCacheWithClient(client, opts)
}

// NewRedisCacheWithClient creates a cache on an existing client. Connection
// fields of opts are ignored.
func NewRedisCacheWithClient(client *redis.Client, opts RedisOptions) *RedisCache {
	prefix := opts.Prefix
	if prefix == "" {
		prefix = "agentmemory:"
	}

	return &RedisCache{
		client: client,
		prefix: prefix,
		ttl:    opts.TTL,
	}
}

// Client exposes the underlying client.
func (c *RedisCache) Client() *redis.Client {
	return c.client
}

// Close closes the underlying client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) messagesKey(id string) string {
	return fmt.Sprintf("%smessages:%s", c.prefix, id)
}

func (c *RedisCache) compressionKey(id string) string {
	return fmt.Sprintf("%scompression:%s", c.prefix, id)
}

func (c *RedisCache) lockKey(id string) string {
	return fmt.Sprintf("%slock:%s", c.prefix, id)
}

// GetMessages retrieves the cached log
func (c *RedisCache) GetMessages(ctx context.Context, conversationID string) ([]*memory.Message, bool, error) {
	data, err := c.client.Get(ctx, c.messagesKey(conversationID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to load messages from redis: %w", err)
	}

	var msgs []*memory.Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal messages: %w", err)
	}
	if msgs == nil {
		msgs = []*memory.Message{}
	}
	return msgs, true, nil
}

// SetMessages stores the log with the configured TTL
func (c *RedisCache) SetMessages(ctx context.Context, conversationID string, msgs []*memory.Message) error {
	if msgs == nil {
		msgs = []*memory.Message{}
	}
	data, err := json.Marshal(msgs)
	if err != nil {
		return fmt.Errorf("failed to marshal messages: %w", err)
	}
	if err := c.client.Set(ctx, c.messagesKey(conversationID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save messages to redis: %w", err)
	}
	return nil
}

// DeleteMessages removes the cached log
func (c *RedisCache) DeleteMessages(ctx context.Context, conversationID string) error {
	if err := c.client.Del(ctx, c.messagesKey(conversationID)).Err(); err != nil {
		return fmt.Errorf("failed to delete messages from redis: %w", err)
	}
	return nil
}

// RefreshExpiration restarts the TTL of the cached log
func (c *RedisCache) RefreshExpiration(ctx context.Context, conversationID string) error {
	if c.ttl <= 0 {
		return nil
	}
	if err := c.client.Expire(ctx, c.messagesKey(conversationID), c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to refresh expiration: %w", err)
	}
	return nil
}

// ClearAll removes the cached log and the compaction time
func (c *RedisCache) ClearAll(ctx context.Context, conversationID string) error {
	pipe := c.client.Pipeline()
	pipe.Del(ctx, c.messagesKey(conversationID))
	pipe.Del(ctx, c.compressionKey(conversationID))

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to clear conversation cache: %w", err)
	}
	return nil
}

func (c *RedisCache) GetLastCompressionTime(ctx context.Context, conversationID string) (time.Time, bool, error) {
	ms, err := c.client.Get(ctx, c.compressionKey(conversationID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("failed to load compression time: %w", err)
	}
	return time.UnixMilli(ms), true, nil
}

func (c *RedisCache) SetLastCompressionTime(ctx context.Context, conversationID string, t time.Time) error {
	value := strconv.FormatInt(t.UnixMilli(), 10)
	if err := c.client.Set(ctx, c.compressionKey(conversationID), value, 0).Err(); err != nil {
		return fmt.Errorf("failed to save compression time: %w", err)
	}
	return nil
}

// TryLock acquires the conversation lock with SET NX, retrying until wait
// elapses. It returns nil without error when the lock stays taken.
func (c *RedisCache) TryLock(ctx context.Context, conversationID string, wait, lease time.Duration) (*memory.LockHandle, error) {
	key := c.lockKey(conversationID)
	token := uuid.New().String()
	deadline := time.Now().Add(wait)

	for {
		ok, err := c.client.SetNX(ctx, key, token, lease).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire lock: %w", err)
		}
		if ok {
			return &memory.LockHandle{ConversationID: conversationID, Token: token}, nil
		}
		if !time.Now().Before(deadline) {
			return nil, nil
		}

		timer := time.NewTimer(lockPollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// Unlock releases the lock if the token still matches
func (c *RedisCache) Unlock(ctx context.Context, lock *memory.LockHandle) error {
	if lock == nil {
		return nil
	}
	if err := unlockScript.Run(ctx, c.client, []string{c.lockKey(lock.ConversationID)}, lock.Token).Err(); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}
