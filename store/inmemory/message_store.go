// Package inmemory provides process-local implementations of the agentmemory
// storage interfaces. They back tests and single-process tools; nothing in
// agentmemory falls back to them silently.
package inmemory

import (
	"context"
	"sync"

	"github.com/smallnest/agentmemory/memory"
)

// MessageStore implements memory.MessageStore with a map
type MessageStore struct {
	mu    sync.RWMutex
	convs map[string][]*memory.Message
}

var _ memory.MessageStore = (*MessageStore)(nil)

// NewMessageStore creates an empty store.
func NewMessageStore() *MessageStore {
	return &MessageStore{convs: make(map[string][]*memory.Message)}
}

// Save appends a copy of msg.
func (s *MessageStore) Save(ctx context.Context, conversationID string, msg *memory.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.convs[conversationID] = append(s.convs[conversationID], msg.Clone())
	return nil
}

// Load returns a copy of the log.
func (s *MessageStore) Load(ctx context.Context, conversationID string) ([]*memory.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := memory.CloneMessages(s.convs[conversationID])
	if msgs == nil {
		msgs = []*memory.Message{}
	}
	return msgs, nil
}

// Replace swaps the log under a single lock acquisition.
func (s *MessageStore) Replace(ctx context.Context, conversationID string, msgs []*memory.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.convs[conversationID] = memory.CloneMessages(msgs)
	return nil
}

// Delete removes the log.
func (s *MessageStore) Delete(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.convs, conversationID)
	return nil
}

// Len returns the number of stored messages for a conversation.
func (s *MessageStore) Len(conversationID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.convs[conversationID])
}
