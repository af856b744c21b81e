package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned for chats that do not exist and, identically,
// for chats owned by another user. Callers cannot distinguish the two.
var ErrNotFound = errors.New("chat not found")

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// DefaultTitle is applied when a chat is created with an empty title.
const DefaultTitle = "New Chat"

// timeLayout is RFC 3339 with fixed-width nanoseconds so stored
// timestamps sort lexicographically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

type User struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Name      string `json:"name,omitempty"`
	CreatedAt string `json:"createdAt"`
	UpdatedAt string `json:"updatedAt"`
}

type Chat struct {
	ID        string `json:"id"`
	UserID    string `json:"userId"`
	Title     string `json:"title"`
	CreatedAt string `json:"createdAt"`
	UpdatedAt string `json:"updatedAt"`
}

type Message struct {
	ID        string `json:"id"`
	ChatID    string `json:"chatId"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	CreatedAt string `json:"createdAt"`
}

// Store is the conversation store contract. Ownership checks are folded
// into every lookup: a chat owned by someone else behaves exactly like a
// chat that does not exist.
type Store interface {
	// UpsertUser creates the user on first sight and refreshes the
	// display name on subsequent calls.
	UpsertUser(ctx context.Context, id, email, name string) (User, error)

	CreateChat(ctx context.Context, ownerID, title string) (Chat, error)
	GetChat(ctx context.Context, chatID, ownerID string) (Chat, error)
	// ListChats returns the owner's chats, most recently updated first.
	ListChats(ctx context.Context, ownerID string) ([]Chat, error)
	RenameChat(ctx context.Context, chatID, ownerID, title string) error
	// DeleteChat removes the chat and all of its messages. Messages go
	// first so an interrupted delete can never leave messages pointing
	// at a missing chat.
	DeleteChat(ctx context.Context, chatID, ownerID string) error
	// DeleteAllChats removes every chat owned by ownerID and returns
	// how many were deleted.
	DeleteAllChats(ctx context.Context, ownerID string) (int, error)

	// AppendMessage validates ownership, inserts the message, then
	// touches the chat's updated_at. The touch is best-effort relative
	// to the insert: a stored message is never rolled back because the
	// timestamp write failed.
	AppendMessage(ctx context.Context, chatID, ownerID, role, content string) (Message, error)
	// ListMessages returns the chat's messages in creation order. A
	// missing or foreign-owned chat yields an empty slice, not an error.
	ListMessages(ctx context.Context, chatID, ownerID string) ([]Message, error)
}

func validRole(role string) bool {
	return role == RoleUser || role == RoleAssistant
}

func now() string {
	return time.Now().UTC().Format(timeLayout)
}
