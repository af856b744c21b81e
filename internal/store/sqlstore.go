package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Schema is applied at startup. The table set is small enough that
// versioned migrations are not worth carrying.
const Schema = `
PRAGMA foreign_keys = ON;

CREATE TABLE IF NOT EXISTS users (
  id TEXT PRIMARY KEY,
  email TEXT NOT NULL UNIQUE,
  display_name TEXT,
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS chats (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  title TEXT NOT NULL DEFAULT 'New Chat',
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL,
  FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS messages (
  id TEXT PRIMARY KEY,
  chat_id TEXT NOT NULL,
  user_id TEXT NOT NULL,
  role TEXT NOT NULL CHECK (role IN ('user', 'assistant')),
  content TEXT NOT NULL,
  created_at TEXT NOT NULL,
  FOREIGN KEY (chat_id) REFERENCES chats(id) ON DELETE CASCADE,
  FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_chats_user_updated ON chats(user_id, updated_at);
CREATE INDEX IF NOT EXISTS idx_messages_chat_created ON messages(chat_id, created_at);
`

// SQLStore implements Store over a libsql/sqlite database.
type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) SQLStore {
	return SQLStore{db: db}
}

// EnsureSchema creates the table set if it does not exist yet.
func (s SQLStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s SQLStore) UpsertUser(ctx context.Context, id, email, name string) (User, error) {
	ts := now()
	query := `
INSERT INTO users (id, email, display_name, created_at, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  email = excluded.email,
  display_name = excluded.display_name,
  updated_at = excluded.updated_at
RETURNING id, email, COALESCE(display_name, ''), created_at, updated_at;
`

	var out User
	if err := s.db.QueryRowContext(ctx, query, id, strings.ToLower(email), strings.TrimSpace(name), ts, ts).Scan(
		&out.ID,
		&out.Email,
		&out.Name,
		&out.CreatedAt,
		&out.UpdatedAt,
	); err != nil {
		return User{}, fmt.Errorf("upsert user: %w", err)
	}

	return out, nil
}

func (s SQLStore) CreateChat(ctx context.Context, ownerID, title string) (Chat, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = DefaultTitle
	}

	chat := Chat{
		ID:        uuid.NewString(),
		UserID:    ownerID,
		Title:     title,
		CreatedAt: now(),
	}
	chat.UpdatedAt = chat.CreatedAt

	query := `INSERT INTO chats (id, user_id, title, created_at, updated_at) VALUES (?, ?, ?, ?, ?);`
	if _, err := s.db.ExecContext(ctx, query, chat.ID, chat.UserID, chat.Title, chat.CreatedAt, chat.UpdatedAt); err != nil {
		return Chat{}, fmt.Errorf("insert chat: %w", err)
	}

	return chat, nil
}

func (s SQLStore) GetChat(ctx context.Context, chatID, ownerID string) (Chat, error) {
	query := `
SELECT id, user_id, title, created_at, updated_at
FROM chats
WHERE id = ? AND user_id = ?
LIMIT 1;
`

	var out Chat
	err := s.db.QueryRowContext(ctx, query, chatID, ownerID).Scan(
		&out.ID,
		&out.UserID,
		&out.Title,
		&out.CreatedAt,
		&out.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Chat{}, ErrNotFound
	}
	if err != nil {
		return Chat{}, fmt.Errorf("get chat: %w", err)
	}
	return out, nil
}

func (s SQLStore) ListChats(ctx context.Context, ownerID string) ([]Chat, error) {
	query := `
SELECT id, user_id, title, created_at, updated_at
FROM chats
WHERE user_id = ?
ORDER BY updated_at DESC, id ASC;
`

	rows, err := s.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	defer rows.Close()

	chats := make([]Chat, 0, 16)
	for rows.Next() {
		var chat Chat
		if err := rows.Scan(&chat.ID, &chat.UserID, &chat.Title, &chat.CreatedAt, &chat.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan chat: %w", err)
		}
		chats = append(chats, chat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	return chats, nil
}

func (s SQLStore) RenameChat(ctx context.Context, chatID, ownerID, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		title = DefaultTitle
	}

	result, err := s.db.ExecContext(ctx, `
UPDATE chats
SET title = ?, updated_at = ?
WHERE id = ? AND user_id = ?;
`, title, now(), chatID, ownerID)
	if err != nil {
		return fmt.Errorf("rename chat: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rename chat rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s SQLStore) DeleteChat(ctx context.Context, chatID, ownerID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete chat: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM chats WHERE id = ? AND user_id = ? LIMIT 1;`, chatID, ownerID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("check chat: %w", err)
	}

	// Messages first; see the Store contract.
	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE chat_id = ?;`, chatID); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM chats WHERE id = ? AND user_id = ?;`, chatID, ownerID); err != nil {
		return fmt.Errorf("delete chat: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete chat: %w", err)
	}
	return nil
}

func (s SQLStore) DeleteAllChats(ctx context.Context, ownerID string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin delete all chats: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
DELETE FROM messages
WHERE chat_id IN (SELECT id FROM chats WHERE user_id = ?);
`, ownerID); err != nil {
		return 0, fmt.Errorf("delete messages: %w", err)
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM chats WHERE user_id = ?;`, ownerID)
	if err != nil {
		return 0, fmt.Errorf("delete chats: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete chats rows affected: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit delete all chats: %w", err)
	}
	return int(affected), nil
}

func (s SQLStore) AppendMessage(ctx context.Context, chatID, ownerID, role, content string) (Message, error) {
	if !validRole(role) {
		return Message{}, fmt.Errorf("invalid message role %q", role)
	}

	if _, err := s.GetChat(ctx, chatID, ownerID); err != nil {
		return Message{}, err
	}

	message := Message{
		ID:        uuid.NewString(),
		ChatID:    chatID,
		Role:      role,
		Content:   content,
		CreatedAt: now(),
	}

	query := `INSERT INTO messages (id, chat_id, user_id, role, content, created_at) VALUES (?, ?, ?, ?, ?, ?);`
	if _, err := s.db.ExecContext(ctx, query, message.ID, message.ChatID, ownerID, message.Role, message.Content, message.CreatedAt); err != nil {
		return Message{}, fmt.Errorf("insert message: %w", err)
	}

	// Touch is best-effort; the message above is already durable.
	if _, err := s.db.ExecContext(ctx, `
UPDATE chats
SET updated_at = ?
WHERE id = ? AND user_id = ? AND updated_at < ?;
`, message.CreatedAt, chatID, ownerID, message.CreatedAt); err != nil {
		return Message{}, fmt.Errorf("touch chat: %w", err)
	}

	return message, nil
}

func (s SQLStore) ListMessages(ctx context.Context, chatID, ownerID string) ([]Message, error) {
	query := `
SELECT m.id, m.chat_id, m.role, m.content, m.created_at
FROM messages m
JOIN chats c ON c.id = m.chat_id
WHERE m.chat_id = ? AND c.user_id = ?
ORDER BY m.created_at ASC, m.rowid ASC;
`

	rows, err := s.db.QueryContext(ctx, query, chatID, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	messages := make([]Message, 0, 32)
	for rows.Next() {
		var message Message
		if err := rows.Scan(&message.ID, &message.ChatID, &message.Role, &message.Content, &message.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, message)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return messages, nil
}
