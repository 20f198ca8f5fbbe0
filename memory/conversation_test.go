package memory_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallnest/agentmemory/log"
	"github.com/smallnest/agentmemory/memory"
	"github.com/smallnest/agentmemory/store/inmemory"
)

type countingStore struct {
	memory.MessageStore
	loads    atomic.Int32
	replaces atomic.Int32
	saveErr  error
}

func (s *countingStore) Load(ctx context.Context, id string) ([]*memory.Message, error) {
	s.loads.Add(1)
	return s.MessageStore.Load(ctx, id)
}

func (s *countingStore) Save(ctx context.Context, id string, msg *memory.Message) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	return s.MessageStore.Save(ctx, id, msg)
}

func (s *countingStore) Replace(ctx context.Context, id string, msgs []*memory.Message) error {
	s.replaces.Add(1)
	return s.MessageStore.Replace(ctx, id, msgs)
}

type failingCache struct {
	memory.Cache
	setErr  error
	deletes atomic.Int32
}

func (c *failingCache) SetMessages(ctx context.Context, id string, msgs []*memory.Message) error {
	if c.setErr != nil {
		return c.setErr
	}
	return c.Cache.SetMessages(ctx, id, msgs)
}

func (c *failingCache) DeleteMessages(ctx context.Context, id string) error {
	c.deletes.Add(1)
	return c.Cache.DeleteMessages(ctx, id)
}

// hookCache runs beforeSet once, just before the next SetMessages.
type hookCache struct {
	memory.Cache
	beforeSet func()
}

func (c *hookCache) SetMessages(ctx context.Context, id string, msgs []*memory.Message) error {
	if f := c.beforeSet; f != nil {
		c.beforeSet = nil
		f()
	}
	return c.Cache.SetMessages(ctx, id, msgs)
}

func testConfig() memory.Config {
	cfg := memory.DefaultConfig()
	cfg.MinInterval = 0
	cfg.LockWait = 50 * time.Millisecond
	cfg.Logger = log.NoOpLogger{}
	return cfg
}

func staticSummarizer(narrative string) memory.SummarizerFunc {
	return func(ctx context.Context, msgs []*memory.Message, hint string) (*memory.CompressedSummary, error) {
		return &memory.CompressedSummary{Narrative: narrative}, nil
	}
}

func seed(t *testing.T, mem *memory.ConversationMemory, id string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		var msg *memory.Message
		if i%2 == 0 {
			msg = memory.NewUserMessage(fmt.Sprintf("user %d", i))
		} else {
			msg = memory.NewAssistantMessage(fmt.Sprintf("assistant %d", i))
		}
		require.NoError(t, mem.Add(context.Background(), id, msg))
	}
}

func TestConversationMemory_WriteThenRead(t *testing.T) {
	ctx := context.Background()
	st := &countingStore{MessageStore: inmemory.NewMessageStore()}
	mem := memory.NewConversationMemory(st, inmemory.NewCache(time.Minute), nil, testConfig())

	require.NoError(t, mem.Add(ctx, "c1", memory.NewUserMessage("hello")))
	require.NoError(t, mem.AddMessages(ctx, "c1", memory.NewAssistantMessage("hi"), memory.NewUserMessage("bye")))
	loadsAfterWrites := st.loads.Load()

	msgs, err := mem.Get(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "hello", msgs[0].Content)
	assert.Equal(t, "bye", msgs[2].Content)
	assert.Equal(t, loadsAfterWrites, st.loads.Load(), "cache hit must not touch the store")
}

func TestConversationMemory_MissBackfillsCache(t *testing.T) {
	ctx := context.Background()
	backing := inmemory.NewMessageStore()
	require.NoError(t, backing.Save(ctx, "c1", memory.NewUserMessage("from store")))
	st := &countingStore{MessageStore: backing}
	mem := memory.NewConversationMemory(st, inmemory.NewCache(time.Minute), nil, testConfig())

	first, err := mem.Get(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, first, 1)
	second, err := mem.Get(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, second, 1)

	assert.Equal(t, int32(1), st.loads.Load())
}

func TestConversationMemory_StoreFailureInvalidatesCache(t *testing.T) {
	ctx := context.Background()
	st := &countingStore{MessageStore: inmemory.NewMessageStore()}
	cache := inmemory.NewCache(time.Minute)
	mem := memory.NewConversationMemory(st, cache, nil, testConfig())

	require.NoError(t, mem.Add(ctx, "c1", memory.NewUserMessage("kept")))

	st.saveErr = errors.New("disk full")
	err := mem.Add(ctx, "c1", memory.NewUserMessage("lost"))
	require.ErrorIs(t, err, st.saveErr)

	_, hit, _ := cache.GetMessages(ctx, "c1")
	assert.False(t, hit)

	st.saveErr = nil
	msgs, err := mem.Get(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "kept", msgs[0].Content)
}

func TestConversationMemory_CacheFailureInvalidatesCache(t *testing.T) {
	ctx := context.Background()
	st := inmemory.NewMessageStore()
	cache := &failingCache{Cache: inmemory.NewCache(time.Minute), setErr: errors.New("redis down")}
	mem := memory.NewConversationMemory(st, cache, nil, testConfig())

	err := mem.Add(ctx, "c1", memory.NewUserMessage("hello"))
	require.ErrorIs(t, err, cache.setErr)
	assert.Equal(t, int32(1), cache.deletes.Load())
	assert.Equal(t, 1, st.Len("c1"), "store write precedes the cache write")
}

func TestConversationMemory_InvalidArguments(t *testing.T) {
	ctx := context.Background()
	mem := memory.NewConversationMemory(inmemory.NewMessageStore(), inmemory.NewCache(0), nil, testConfig())

	assert.ErrorIs(t, mem.Add(ctx, "", memory.NewUserMessage("x")), memory.ErrInvalidArgument)
	assert.ErrorIs(t, mem.Add(ctx, "c1", nil), memory.ErrInvalidArgument)
	_, err := mem.Get(ctx, "")
	assert.ErrorIs(t, err, memory.ErrInvalidArgument)
	assert.ErrorIs(t, mem.Compress(ctx, "c1"), memory.ErrNoSummarizer)
}

func TestConversationMemory_HistoryRepairsToolChain(t *testing.T) {
	ctx := context.Background()
	mem := memory.NewConversationMemory(inmemory.NewMessageStore(), inmemory.NewCache(0), nil, testConfig())

	require.NoError(t, mem.Add(ctx, "c1", memory.NewUserMessage("hi")))
	require.NoError(t, mem.Add(ctx, "c1", memory.NewAssistantMessage("let me check",
		memory.ToolCall{ID: "c1", Name: "search", Arguments: "{}"})))

	history, err := mem.History(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.False(t, history[1].HasToolCalls())

	raw, err := mem.Get(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, raw[1].HasToolCalls(), "the stored log is not rewritten")
}

func TestConversationMemory_Compress(t *testing.T) {
	ctx := context.Background()
	st := &countingStore{MessageStore: inmemory.NewMessageStore()}
	cache := inmemory.NewCache(time.Minute)

	var gotHint string
	var gotHead int
	summarizer := memory.SummarizerFunc(func(ctx context.Context, msgs []*memory.Message, hint string) (*memory.CompressedSummary, error) {
		gotHint, gotHead = hint, len(msgs)
		return &memory.CompressedSummary{MainTopics: []string{"greetings"}}, nil
	})
	mem := memory.NewConversationMemory(st, cache, summarizer, testConfig())

	require.NoError(t, mem.Add(ctx, "c1", memory.NewSystemMessage("you are helpful")))
	seed(t, mem, "c1", 10)

	require.NoError(t, mem.Compress(ctx, "c1"))
	assert.Equal(t, int32(1), st.replaces.Load())
	assert.Equal(t, 7, gotHead)
	assert.Equal(t, "user 6", gotHint)

	_, hit, _ := cache.GetMessages(ctx, "c1")
	assert.False(t, hit, "compaction drops the cached log")
	_, recorded, _ := cache.GetLastCompressionTime(ctx, "c1")
	assert.True(t, recorded)

	msgs, err := mem.Get(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, msgs, 5)
	assert.Equal(t, "you are helpful", msgs[0].Content)
	assert.True(t, msgs[1].IsSummary())
	assert.Contains(t, msgs[1].Content, "greetings")
	assert.Equal(t, "assistant 7", msgs[2].Content)
	assert.Equal(t, "assistant 9", msgs[4].Content)
}

func TestConversationMemory_CompressHintOption(t *testing.T) {
	ctx := context.Background()
	var gotHint string
	summarizer := memory.SummarizerFunc(func(ctx context.Context, msgs []*memory.Message, hint string) (*memory.CompressedSummary, error) {
		gotHint = hint
		return &memory.CompressedSummary{Narrative: "n"}, nil
	})
	mem := memory.NewConversationMemory(inmemory.NewMessageStore(), inmemory.NewCache(0), summarizer, testConfig())
	seed(t, mem, "c1", 6)

	require.NoError(t, mem.Compress(ctx, "c1", memory.WithHint("focus on billing"), memory.WithPreserveThreshold(0.5)))
	assert.Equal(t, "focus on billing", gotHint)

	msgs, _ := mem.Get(ctx, "c1")
	assert.Len(t, msgs, 4)
}

func TestConversationMemory_CompressGates(t *testing.T) {
	ctx := context.Background()
	st := &countingStore{MessageStore: inmemory.NewMessageStore()}

	cfg := testConfig()
	cfg.Enabled = false
	mem := memory.NewConversationMemory(st, inmemory.NewCache(0), staticSummarizer("s"), cfg)
	seed(t, mem, "c1", 10)

	require.NoError(t, mem.Compress(ctx, "c1"))
	assert.Equal(t, int32(0), st.replaces.Load(), "disabled")
	assert.False(t, mem.ShouldCompress(make([]*memory.Message, 100)))

	require.NoError(t, mem.Compress(ctx, "c1", memory.WithForce()))
	assert.Equal(t, int32(1), st.replaces.Load(), "forced")
}

func TestConversationMemory_MinInterval(t *testing.T) {
	ctx := context.Background()
	st := &countingStore{MessageStore: inmemory.NewMessageStore()}

	cfg := testConfig()
	cfg.MinInterval = time.Hour
	mem := memory.NewConversationMemory(st, inmemory.NewCache(0), staticSummarizer("s"), cfg)
	seed(t, mem, "c1", 10)

	require.NoError(t, mem.Compress(ctx, "c1"))
	seed(t, mem, "c1", 10)
	require.NoError(t, mem.Compress(ctx, "c1"))

	assert.Equal(t, int32(1), st.replaces.Load())
}

func TestConversationMemory_NothingNewToCompact(t *testing.T) {
	ctx := context.Background()
	st := &countingStore{MessageStore: inmemory.NewMessageStore()}
	mem := memory.NewConversationMemory(st, inmemory.NewCache(0), staticSummarizer("s"), testConfig())
	seed(t, mem, "c1", 2)

	require.NoError(t, mem.Compress(ctx, "c1", memory.WithPreserveThreshold(1)))
	assert.Equal(t, int32(0), st.replaces.Load())
}

func TestConversationMemory_SummarizerFailure(t *testing.T) {
	ctx := context.Background()
	st := &countingStore{MessageStore: inmemory.NewMessageStore()}
	cache := inmemory.NewCache(time.Minute)
	boom := errors.New("model unavailable")
	failing := memory.SummarizerFunc(func(ctx context.Context, msgs []*memory.Message, hint string) (*memory.CompressedSummary, error) {
		return nil, boom
	})
	mem := memory.NewConversationMemory(st, cache, failing, testConfig())
	seed(t, mem, "c1", 10)

	err := mem.Compress(ctx, "c1")
	require.ErrorIs(t, err, boom)
	assert.Equal(t, int32(0), st.replaces.Load())

	_, hit, _ := cache.GetMessages(ctx, "c1")
	assert.False(t, hit, "failure drops the cached log")

	lock, err := cache.TryLock(ctx, "c1", 0, time.Second)
	require.NoError(t, err)
	assert.NotNil(t, lock, "failure releases the lock")

	msgs, err := mem.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Len(t, msgs, 10)
}

func TestConversationMemory_EmptySummary(t *testing.T) {
	ctx := context.Background()
	mem := memory.NewConversationMemory(inmemory.NewMessageStore(), inmemory.NewCache(0), staticSummarizer(" "), testConfig())
	seed(t, mem, "c1", 10)

	assert.ErrorIs(t, mem.Compress(ctx, "c1"), memory.ErrEmptySummary)
}

func TestConversationMemory_ConcurrentCompressRunsOnce(t *testing.T) {
	ctx := context.Background()
	st := &countingStore{MessageStore: inmemory.NewMessageStore()}
	cache := inmemory.NewCache(time.Minute)

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	slow := memory.SummarizerFunc(func(ctx context.Context, msgs []*memory.Message, hint string) (*memory.CompressedSummary, error) {
		once.Do(func() { close(entered) })
		<-release
		return &memory.CompressedSummary{Narrative: "summary"}, nil
	})

	workerA := memory.NewConversationMemory(st, cache, slow, testConfig())
	workerB := memory.NewConversationMemory(st, cache, slow, testConfig())
	seed(t, workerA, "c1", 10)

	errA := make(chan error, 1)
	go func() { errA <- workerA.Compress(ctx, "c1") }()
	<-entered

	require.NoError(t, workerB.Compress(ctx, "c1"), "a held lock is a silent skip")
	close(release)
	require.NoError(t, <-errA)

	assert.Equal(t, int32(1), st.replaces.Load())
}

func TestConversationMemory_WaitingWorkerSkipsFreshCompaction(t *testing.T) {
	ctx := context.Background()
	st := &countingStore{MessageStore: inmemory.NewMessageStore()}
	cache := inmemory.NewCache(time.Minute)

	slow := memory.SummarizerFunc(func(ctx context.Context, msgs []*memory.Message, hint string) (*memory.CompressedSummary, error) {
		time.Sleep(100 * time.Millisecond)
		return &memory.CompressedSummary{Narrative: "summary"}, nil
	})
	cfg := testConfig()
	cfg.MinInterval = time.Hour
	cfg.LockWait = memory.DefaultLockWait

	workerA := memory.NewConversationMemory(st, cache, slow, cfg)
	workerB := memory.NewConversationMemory(st, cache, slow, cfg)
	seed(t, workerA, "c1", 20)

	start := make(chan struct{})
	errs := make(chan error, 2)
	var wg sync.WaitGroup
	for _, w := range []*memory.ConversationMemory{workerA, workerB} {
		wg.Add(1)
		go func(w *memory.ConversationMemory) {
			defer wg.Done()
			<-start
			errs <- w.Compress(ctx, "c1")
		}(w)
	}
	close(start)
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	assert.Equal(t, int32(1), st.replaces.Load())
	msgs, err := workerB.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Len(t, msgs, 7, "summary plus the last 6 messages, summarized once")
}

func TestConversationMemory_AddDuringCompactionDropsStaleCache(t *testing.T) {
	ctx := context.Background()
	st := inmemory.NewMessageStore()
	cache := &hookCache{Cache: inmemory.NewCache(time.Minute)}
	mem := memory.NewConversationMemory(st, cache, staticSummarizer("earlier turns"), testConfig())
	seed(t, mem, "c1", 10)

	// The compaction lands between the write's cache read and its cache write.
	cache.beforeSet = func() {
		require.NoError(t, mem.Compress(ctx, "c1"))
	}
	require.NoError(t, mem.Add(ctx, "c1", memory.NewUserMessage("late")))

	_, hit, _ := cache.GetMessages(ctx, "c1")
	assert.False(t, hit, "the pre-compaction snapshot must not stay cached")

	stored, err := st.Load(ctx, "c1")
	require.NoError(t, err)
	msgs, err := mem.Get(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, msgs, len(stored))
	require.Len(t, msgs, 4)
	assert.True(t, msgs[0].IsSummary())
	assert.Equal(t, "late", msgs[3].Content)
}

func TestConversationMemory_ZeroPreserveThresholdUsesDefault(t *testing.T) {
	cfg := testConfig()
	cfg.PreserveThreshold = 0
	mem := memory.NewConversationMemory(inmemory.NewMessageStore(), inmemory.NewCache(0), nil, cfg)

	assert.InDelta(t, memory.DefaultPreserveThreshold, mem.Config().PreserveThreshold, 1e-9)
}

func TestConversationMemory_Clear(t *testing.T) {
	ctx := context.Background()
	st := inmemory.NewMessageStore()
	cache := inmemory.NewCache(time.Minute)
	mem := memory.NewConversationMemory(st, cache, staticSummarizer("s"), testConfig())
	seed(t, mem, "c1", 10)
	require.NoError(t, mem.Compress(ctx, "c1"))

	require.NoError(t, mem.Clear(ctx, "c1"))

	assert.Equal(t, 0, st.Len("c1"))
	_, hit, _ := cache.GetMessages(ctx, "c1")
	assert.False(t, hit)
	_, recorded, _ := cache.GetLastCompressionTime(ctx, "c1")
	assert.False(t, recorded)

	msgs, err := mem.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Empty(t, msgs)
}
