package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/smallnest/agentmemory/memory"
	"github.com/smallnest/agentmemory/store"
)

// SqliteStore implements memory.MessageStore and store.ItemStore using SQLite
type SqliteStore struct {
	db        *sql.DB
	tableName string
	itemTable string
}

var (
	_ memory.MessageStore = (*SqliteStore)(nil)
	_ store.ItemStore     = (*SqliteStore)(nil)
)

// SqliteOptions configuration for SQLite connection
type SqliteOptions struct {
	Path          string
	TableName     string // Default "conversation_messages"
	ItemTableName string // Default "store_items"
}

// NewSqliteStore opens the database and creates the schema
func NewSqliteStore(opts SqliteOptions) (*SqliteStore, error) {
	db, err := sql.Open("sqlite3", opts.Path)
	if err != nil {
		return nil, fmt.Errorf("unable to open database: %w", err)
	}
	if opts.Path == ":memory:" {
		// Every connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	tableName := opts.TableName
	if tableName == "" {
		tableName = "conversation_messages"
	}
	itemTable := opts.ItemTableName
	if itemTable == "" {
		itemTable = "store_items"
	}

	s := &SqliteStore{
		db:        db,
		tableName: tableName,
		itemTable: itemTable,
	}

	if err := s.InitSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// InitSchema creates the necessary tables if they don't exist
func (s *SqliteStore) InitSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL,
			conversation_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			tool_calls TEXT,
			tool_results TEXT,
			metadata TEXT,
			created_at DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_%s_conversation_id ON %s (conversation_id, seq);
		CREATE TABLE IF NOT EXISTS %s (
			namespace TEXT NOT NULL,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			PRIMARY KEY (namespace, key)
		);
	`, s.tableName, s.tableName, s.tableName, s.itemTable)

	_, err := s.db.ExecContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *SqliteStore) Close() error {
	return s.db.Close()
}

type execContexter interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Save appends a message to the conversation
func (s *SqliteStore) Save(ctx context.Context, conversationID string, msg *memory.Message) error {
	if err := s.insert(ctx, s.db, conversationID, msg); err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}
	return nil
}

func (s *SqliteStore) insert(ctx context.Context, db execContexter, conversationID string, msg *memory.Message) error {
	toolCalls, err := nullableJSON(msg.ToolCalls, len(msg.ToolCalls))
	if err != nil {
		return fmt.Errorf("failed to marshal tool calls: %w", err)
	}
	toolResults, err := nullableJSON(msg.ToolResults, len(msg.ToolResults))
	if err != nil {
		return fmt.Errorf("failed to marshal tool results: %w", err)
	}
	metadata, err := nullableJSON(msg.Metadata, len(msg.Metadata))
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, conversation_id, role, content, tool_calls, tool_results, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, s.tableName)

	_, err = db.ExecContext(ctx, query,
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
func (s *SqliteStore) Load(ctx context.Context, conversationID string) ([]*memory.Message, error) {
	query := fmt.Sprintf(`
		SELECT id, role, content, tool_calls, tool_results, metadata, created_at
		FROM %s
		WHERE conversation_id = ?
		ORDER BY seq ASC
	`, s.tableName)

	rows, err := s.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	defer rows.Close()

	msgs := []*memory.Message{}
	for rows.Next() {
		var msg memory.Message
		var role string
		var toolCalls, toolResults, metadata sql.NullString

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

		if toolCalls.Valid {
			if err := json.Unmarshal([]byte(toolCalls.String), &msg.ToolCalls); err != nil {
				return nil, fmt.Errorf("failed to unmarshal tool calls: %w", err)
			}
		}
		if toolResults.Valid {
			if err := json.Unmarshal([]byte(toolResults.String), &msg.ToolResults); err != nil {
				return nil, fmt.Errorf("failed to unmarshal tool results: %w", err)
			}
		}
		if metadata.Valid {
			if err := json.Unmarshal([]byte(metadata.String), &msg.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
			}
		}

		msgs = append(msgs, &msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating message rows: %w", err)
	}

	return msgs, nil
}

// Replace swaps the whole conversation in one transaction
func (s *SqliteStore) Replace(ctx context.Context, conversationID string, msgs []*memory.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := s.replaceRows(ctx, tx, conversationID, msgs); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to replace messages: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit replace: %w", err)
	}
	return nil
}

func (s *SqliteStore) replaceRows(ctx context.Context, tx *sql.Tx, conversationID string, msgs []*memory.Message) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE conversation_id = ?", s.tableName)
	if _, err := tx.ExecContext(ctx, query, conversationID); err != nil {
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
func (s *SqliteStore) Delete(ctx context.Context, conversationID string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE conversation_id = ?", s.tableName)
	_, err := s.db.ExecContext(ctx, query, conversationID)
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	return nil
}

// GetItem retrieves an item, or nil when absent
func (s *SqliteStore) GetItem(ctx context.Context, namespace []string, key string) (*store.Item, error) {
	if err := store.ValidateKey(namespace, key); err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT key, value, created_at, updated_at
		FROM %s
		WHERE namespace = ? AND key = ?
	`, s.itemTable)

	item := store.Item{Namespace: namespace}
	var value string
	err := s.db.QueryRowContext(ctx, query, store.JoinNamespace(namespace), key).Scan(
		&item.Key,
		&value,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load item: %w", err)
	}
	item.Value = json.RawMessage(value)
	return &item, nil
}

// PutItem creates or overwrites an item
func (s *SqliteStore) PutItem(ctx context.Context, namespace []string, key string, value json.RawMessage) error {
	if err := store.ValidateKey(namespace, key); err != nil {
		return err
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (namespace, key, value, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(namespace, key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`, s.itemTable)

	now := time.Now()
	_, err := s.db.ExecContext(ctx, query, store.JoinNamespace(namespace), key, string(value), now, now)
	if err != nil {
		return fmt.Errorf("failed to save item: %w", err)
	}
	return nil
}

// SearchItems lists items of a namespace ordered by key
func (s *SqliteStore) SearchItems(ctx context.Context, namespace []string, filter store.SearchFilter) ([]*store.Item, error) {
	// instr is case-sensitive, unlike LIKE.
	query := fmt.Sprintf(`
		SELECT key, value, created_at, updated_at
		FROM %s
		WHERE namespace = ? AND instr(key, ?) = 1
		ORDER BY key ASC
	`, s.itemTable)
	args := []any{store.JoinNamespace(namespace), filter.KeyPrefix}
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search items: %w", err)
	}
	defer rows.Close()

	items := []*store.Item{}
	for rows.Next() {
		item := store.Item{Namespace: append([]string(nil), namespace...)}
		var value string
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
func (s *SqliteStore) DeleteItem(ctx context.Context, namespace []string, key string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE namespace = ? AND key = ?", s.itemTable)
	_, err := s.db.ExecContext(ctx, query, store.JoinNamespace(namespace), key)
	if err != nil {
		return fmt.Errorf("failed to delete item: %w", err)
	}
	return nil
}

func nullableJSON(v any, n int) (sql.NullString, error) {
	if n == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}
