package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/smallnest/agentmemory/memory"
	"github.com/smallnest/agentmemory/store"
)

// DBPool defines the interface for database connection pool
type DBPool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// execer is satisfied by both DBPool and pgx.Tx.
type execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// PostgresStore implements memory.MessageStore and store.ItemStore using PostgreSQL
type PostgresStore struct {
	pool      DBPool
	tableName string
	itemTable string
}

var (
	_ memory.MessageStore = (*PostgresStore)(nil)
	_ store.ItemStore     = (*PostgresStore)(nil)
)

// PostgresOptions configuration for Postgres connection
type PostgresOptions struct {
	ConnString    string
	TableName     string // Default "conversation_messages"
	ItemTableName string // Default "store_items"
}

func (o PostgresOptions) withDefaults() PostgresOptions {
	if o.TableName == "" {
		o.TableName = "conversation_messages"
	}
	if o.ItemTableName == "" {
		o.ItemTableName = "store_items"
	}
	return o
}

// NewPostgresStore creates a new Postgres store
func NewPostgresStore(ctx context.Context, opts PostgresOptions) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, opts.ConnString)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	return NewPostgresStoreWithPool(pool, opts), nil
}

// NewPostgresStoreWithPool creates a new Postgres store with an existing pool
// Useful for testing with mocks
func NewPostgresStoreWithPool(pool DBPool, opts PostgresOptions) *PostgresStore {
	opts = opts.withDefaults()
	return &PostgresStore{
		pool:      pool,
		tableName: opts.TableName,
		itemTable: opts.ItemTableName,
	}
}

// InitSchema creates the necessary tables if they don't exist
func (s *PostgresStore) InitSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			seq BIGSERIAL PRIMARY KEY,
			id TEXT NOT NULL,
			conversation_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			tool_calls JSONB,
			tool_results JSONB,
			metadata JSONB,
			created_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_%s_conversation_id ON %s (conversation_id, seq);
		CREATE TABLE IF NOT EXISTS %s (
			namespace TEXT NOT NULL,
			key TEXT NOT NULL,
			value JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (namespace, key)
		);
	`, s.tableName, s.tableName, s.tableName, s.itemTable)

	_, err := s.pool.Exec(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close closes the connection pool
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Save appends a message to the conversation
func (s *PostgresStore) Save(ctx context.Context, conversationID string, msg *memory.Message) error {
	if err := s.insert(ctx, s.pool, conversationID, msg); err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}
	return nil
}

func (s *PostgresStore) insert(ctx context.Context, db execer, conversationID string, msg *memory.Message) error {
	toolCalls, toolResults, metadata, err := encodeMessage(msg)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, conversation_id, role, content, tool_calls, tool_results, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, s.tableName)

	_, err = db.Exec(ctx, query,
		msg.ID,
		conversationID,
		string(msg.Role),
		msg.Content,
		toolCalls,
		toolResults,
		metadata,
		msg.Timestamp,
	)
	return err
}

// Load returns the conversation in insertion order
func (s *PostgresStore) Load(ctx context.Context, conversationID string) ([]*memory.Message, error) {
	query := fmt.Sprintf(`
		SELECT id, role, content, tool_calls, tool_results, metadata, created_at
		FROM %s
		WHERE conversation_id = $1
		ORDER BY seq ASC
	`, s.tableName)

	rows, err := s.pool.Query(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	defer rows.Close()

	msgs := []*memory.Message{}
	for rows.Next() {
		var msg memory.Message
		var role string
		var toolCalls, toolResults, metadata []byte

		err := rows.Scan(
			&msg.ID,
			&role,
			&msg.Content,
			&toolCalls,
			&toolResults,
			&metadata,
			&msg.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		msg.Role = memory.Role(role)

		if err := decodeMessage(&msg, toolCalls, toolResults, metadata); err != nil {
			return nil, err
		}
		msgs = append(msgs, &msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating message rows: %w", err)
	}

	return msgs, nil
}

// Replace swaps the whole conversation in one transaction
func (s *PostgresStore) Replace(ctx context.Context, conversationID string, msgs []*memory.Message) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := s.replaceRows(ctx, tx, conversationID, msgs); err != nil {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("failed to replace messages: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit replace: %w", err)
	}
	return nil
}

func (s *PostgresStore) replaceRows(ctx context.Context, tx pgx.Tx, conversationID string, msgs []*memory.Message) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE conversation_id = $1", s.tableName)
	if _, err := tx.Exec(ctx, query, conversationID); err != nil {
		return err
	}
	for _, msg := range msgs {
		if err := s.insert(ctx, tx, conversationID, msg); err != nil {
			return err
		}
	}
	return nil
}

// Delete removes the conversation
func (s *PostgresStore) Delete(ctx context.Context, conversationID string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE conversation_id = $1", s.tableName)
	_, err := s.pool.Exec(ctx, query, conversationID)
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	return nil
}

// GetItem retrieves an item, or nil when absent
func (s *PostgresStore) GetItem(ctx context.Context, namespace []string, key string) (*store.Item, error) {
	if err := store.ValidateKey(namespace, key); err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT key, value, created_at, updated_at
		FROM %s
		WHERE namespace = $1 AND key = $2
	`, s.itemTable)

	item := store.Item{Namespace: namespace}
	var value []byte
	err := s.pool.QueryRow(ctx, query, store.JoinNamespace(namespace), key).Scan(
		&item.Key,
		&value,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load item: %w", err)
	}
	item.Value = json.RawMessage(value)
	return &item, nil
}

// PutItem creates or overwrites an item
func (s *PostgresStore) PutItem(ctx context.Context, namespace []string, key string, value json.RawMessage) error {
	if err := store.ValidateKey(namespace, key); err != nil {
		return err
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (namespace, key, value, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (namespace, key) DO UPDATE SET
			value = EXCLUDED.value,
			updated_at = EXCLUDED.updated_at
	`, s.itemTable)

	now := time.Now()
	_, err := s.pool.Exec(ctx, query, store.JoinNamespace(namespace), key, []byte(value), now, now)
	if err != nil {
		return fmt.Errorf("failed to save item: %w", err)
	}
	return nil
}

// SearchItems lists items of a namespace ordered by key
func (s *PostgresStore) SearchItems(ctx context.Context, namespace []string, filter store.SearchFilter) ([]*store.Item, error) {
	query := fmt.Sprintf(`
		SELECT key, value, created_at, updated_at
		FROM %s
		WHERE namespace = $1 AND key LIKE $2
		ORDER BY key ASC
	`, s.itemTable)
	args := []any{store.JoinNamespace(namespace), escapeLike(filter.KeyPrefix) + "%"}
	if filter.Limit > 0 {
		query += " LIMIT $3"
		args = append(args, filter.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search items: %w", err)
	}
	defer rows.Close()

	items := []*store.Item{}
	for rows.Next() {
		item := store.Item{Namespace: append([]string(nil), namespace...)}
		var value []byte
		if err := rows.Scan(&item.Key, &value, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan item row: %w", err)
		}
		item.Value = json.RawMessage(value)
		items = append(items, &item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating item rows: %w", err)
	}
	return items, nil
}

// DeleteItem removes an item
func (s *PostgresStore) DeleteItem(ctx context.Context, namespace []string, key string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE namespace = $1 AND key = $2", s.itemTable)
	_, err := s.pool.Exec(ctx, query, store.JoinNamespace(namespace), key)
	if err != nil {
		return fmt.Errorf("failed to delete item: %w", err)
	}
	return nil
}

// escapeLike quotes LIKE wildcards using the default backslash escape.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func encodeMessage(msg *memory.Message) (toolCalls, toolResults, metadata []byte, err error) {
	if len(msg.ToolCalls) > 0 {
		if toolCalls, err = json.Marshal(msg.ToolCalls); err != nil {
			return nil, nil, nil, fmt.Errorf("failed to marshal tool calls: %w", err)
		}
	}
	if len(msg.ToolResults) > 0 {
		if toolResults, err = json.Marshal(msg.ToolResults); err != nil {
			return nil, nil, nil, fmt.Errorf("failed to marshal tool results: %w", err)
		}
	}
	if len(msg.Metadata) > 0 {
		if metadata, err = json.Marshal(msg.Metadata); err != nil {
			return nil, nil, nil, fmt.Errorf("failed to marshal metadata: %w", err)
		}
	}
	return toolCalls, toolResults, metadata, nil
}

func decodeMessage(msg *memory.Message, toolCalls, toolResults, metadata []byte) error {
	if len(toolCalls) > 0 {
		if err := json.Unmarshal(toolCalls, &msg.ToolCalls); err != nil {
			return fmt.Errorf("failed to unmarshal tool calls: %w", err)
		}
	}
	if len(toolResults) > 0 {
		if err := json.Unmarshal(toolResults, &msg.ToolResults); err != nil {
			return fmt.Errorf("failed to unmarshal tool results: %w", err)
		}
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &msg.Metadata); err != nil {
			return fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	return nil
}
