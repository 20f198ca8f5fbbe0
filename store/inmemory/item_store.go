package inmemory

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/smallnest/agentmemory/store"
)

// ItemStore implements store.ItemStore with nested maps.
type ItemStore struct {
	mu    sync.RWMutex
	items map[string]map[string]*store.Item
}

var _ store.ItemStore = (*ItemStore)(nil)

// NewItemStore creates an empty store.
func NewItemStore() *ItemStore {
	return &ItemStore{items: make(map[string]map[string]*store.Item)}
}

func copyItem(it *store.Item) *store.Item {
	c := *it
	c.Namespace = append([]string(nil), it.Namespace...)
	c.Value = append(json.RawMessage(nil), it.Value...)
	return &c
}

func (s *ItemStore) GetItem(ctx context.Context, namespace []string, key string) (*store.Item, error) {
	if err := store.ValidateKey(namespace, key); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	it, ok := s.items[store.JoinNamespace(namespace)][key]
	if !ok {
		return nil, nil
	}
	return copyItem(it), nil
}

func (s *ItemStore) PutItem(ctx context.Context, namespace []string, key string, value json.RawMessage) error {
	if err := store.ValidateKey(namespace, key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ns := store.JoinNamespace(namespace)
	bucket, ok := s.items[ns]
	if !ok {
		bucket = make(map[string]*store.Item)
		s.items[ns] = bucket
	}

	now := time.Now()
	created := now
	if prev, ok := bucket[key]; ok {
		created = prev.CreatedAt
	}
	bucket[key] = &store.Item{
		Namespace: append([]string(nil), namespace...),
		Key:       key,
		Value:     append(json.RawMessage(nil), value...),
		CreatedAt: created,
		UpdatedAt: now,
	}
	return nil
}

func (s *ItemStore) SearchItems(ctx context.Context, namespace []string, filter store.SearchFilter) ([]*store.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bucket := s.items[store.JoinNamespace(namespace)]
	keys := make([]string, 0, len(bucket))
	for k := range bucket {
		if strings.HasPrefix(k, filter.KeyPrefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	if filter.Limit > 0 && len(keys) > filter.Limit {
		keys = keys[:filter.Limit]
	}

	items := make([]*store.Item, 0, len(keys))
	for _, k := range keys {
		items = append(items, copyItem(bucket[k]))
	}
	return items, nil
}

func (s *ItemStore) DeleteItem(ctx context.Context, namespace []string, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items[store.JoinNamespace(namespace)], key)
	return nil
}
