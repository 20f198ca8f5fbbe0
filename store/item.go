package store

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// ErrInvalidNamespace is returned for an empty namespace or key.
var ErrInvalidNamespace = errors.New("store: namespace and key must not be empty")

// Item is one value in a namespaced key/value store
type Item struct {
	Namespace []string        `json:"namespace"`
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// SearchFilter narrows SearchItems within a namespace.
type SearchFilter struct {
	// KeyPrefix keeps only keys starting with the prefix. Empty matches all.
	KeyPrefix string
	// Limit caps the number of results. Zero means no limit.
	Limit int
}

// ItemStore defines the interface for namespaced key/value persistence
type ItemStore interface {
	// GetItem returns the item, or nil with a nil error when absent.
	GetItem(ctx context.Context, namespace []string, key string) (*Item, error)

	// PutItem creates or overwrites the item.
	PutItem(ctx context.Context, namespace []string, key string, value json.RawMessage) error

	// SearchItems lists items in namespace ordered by key.
	SearchItems(ctx context.Context, namespace []string, filter SearchFilter) ([]*Item, error)

	// DeleteItem removes the item. Deleting a missing item is not an error.
	DeleteItem(ctx context.Context, namespace []string, key string) error
}

// JoinNamespace renders a namespace path as a single storage key component.
func JoinNamespace(namespace []string) string {
	return strings.Join(namespace, "/")
}

// SplitNamespace reverses JoinNamespace.
func SplitNamespace(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, "/")
}

// ValidateKey checks namespace and key before they reach a backend.
func ValidateKey(namespace []string, key string) error {
	if len(namespace) == 0 || key == "" {
		return ErrInvalidNamespace
	}
	for _, part := range namespace {
		if part == "" || strings.Contains(part, "/") {
			return ErrInvalidNamespace
		}
	}
	return nil
}
