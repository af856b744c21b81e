package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Key prefixes for the badger document layout. The owner id is part of
// the chat key, so ownership checks collapse into key lookups.
const (
	userKeyPrefix = "user:"
	chatKeyPrefix = "chat:"
	msgKeyPrefix  = "msg:"
)

// chatDoc is the stored form of a chat. NextSeq numbers messages so
// listing preserves append order even when timestamps collide.
type chatDoc struct {
	Chat
	NextSeq uint64 `json:"nextSeq"`
}

// DocStore implements Store over badger, one JSON document per record.
type DocStore struct {
	db *badger.DB
}

func NewDocStore(db *badger.DB) DocStore {
	return DocStore{db: db}
}

func chatKey(ownerID, chatID string) []byte {
	return []byte(chatKeyPrefix + ownerID + ":" + chatID)
}

func msgKey(chatID string, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%s:%012d", msgKeyPrefix, chatID, seq))
}

func (s DocStore) UpsertUser(ctx context.Context, id, email, name string) (User, error) {
	var out User
	err := s.db.Update(func(txn *badger.Txn) error {
		key := []byte(userKeyPrefix + id)
		ts := now()

		item, err := txn.Get(key)
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
			out = User{ID: id, Email: strings.ToLower(email), Name: strings.TrimSpace(name), CreatedAt: ts, UpdatedAt: ts}
		case err != nil:
			return fmt.Errorf("get user: %w", err)
		default:
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &out)
			}); err != nil {
				return fmt.Errorf("unmarshal user: %w", err)
			}
			out.Email = strings.ToLower(email)
			out.Name = strings.TrimSpace(name)
			out.UpdatedAt = ts
		}

		data, err := json.Marshal(out)
		if err != nil {
			return fmt.Errorf("marshal user: %w", err)
		}
		return txn.Set(key, data)
	})
	if err != nil {
		return User{}, err
	}
	return out, nil
}

func (s DocStore) CreateChat(ctx context.Context, ownerID, title string) (Chat, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = DefaultTitle
	}

	doc := chatDoc{
		Chat: Chat{
			ID:        uuid.NewString(),
			UserID:    ownerID,
			Title:     title,
			CreatedAt: now(),
		},
	}
	doc.UpdatedAt = doc.CreatedAt

	err := s.db.Update(func(txn *badger.Txn) error {
		data, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("marshal chat: %w", err)
		}
		return txn.Set(chatKey(ownerID, doc.ID), data)
	})
	if err != nil {
		return Chat{}, err
	}
	return doc.Chat, nil
}

func (s DocStore) GetChat(ctx context.Context, chatID, ownerID string) (Chat, error) {
	var doc chatDoc
	err := s.db.View(func(txn *badger.Txn) error {
		return getChatDoc(txn, ownerID, chatID, &doc)
	})
	if err != nil {
		return Chat{}, err
	}
	return doc.Chat, nil
}

func (s DocStore) ListChats(ctx context.Context, ownerID string) ([]Chat, error) {
	chats := make([]Chat, 0, 16)

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(chatKeyPrefix + ownerID + ":")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var doc chatDoc
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &doc)
			})
			if err != nil {
				return fmt.Errorf("unmarshal chat: %w", err)
			}
			chats = append(chats, doc.Chat)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}

	sort.SliceStable(chats, func(i, j int) bool {
		if chats[i].UpdatedAt != chats[j].UpdatedAt {
			return chats[i].UpdatedAt > chats[j].UpdatedAt
		}
		return chats[i].ID < chats[j].ID
	})
	return chats, nil
}

func (s DocStore) RenameChat(ctx context.Context, chatID, ownerID, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		title = DefaultTitle
	}

	return s.db.Update(func(txn *badger.Txn) error {
		var doc chatDoc
		if err := getChatDoc(txn, ownerID, chatID, &doc); err != nil {
			return err
		}

		doc.Title = title
		doc.UpdatedAt = now()

		data, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("marshal chat: %w", err)
		}
		return txn.Set(chatKey(ownerID, chatID), data)
	})
}

func (s DocStore) DeleteChat(ctx context.Context, chatID, ownerID string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		var doc chatDoc
		if err := getChatDoc(txn, ownerID, chatID, &doc); err != nil {
			return err
		}
		return deleteChatDoc(txn, ownerID, chatID)
	})
}

func (s DocStore) DeleteAllChats(ctx context.Context, ownerID string) (int, error) {
	chats, err := s.ListChats(ctx, ownerID)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, chat := range chats {
		err := s.db.Update(func(txn *badger.Txn) error {
			return deleteChatDoc(txn, ownerID, chat.ID)
		})
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

func (s DocStore) AppendMessage(ctx context.Context, chatID, ownerID, role, content string) (Message, error) {
	if !validRole(role) {
		return Message{}, fmt.Errorf("invalid message role %q", role)
	}

	message := Message{
		ID:      uuid.NewString(),
		ChatID:  chatID,
		Role:    role,
		Content: content,
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		var doc chatDoc
		if err := getChatDoc(txn, ownerID, chatID, &doc); err != nil {
			return err
		}

		message.CreatedAt = now()
		seq := doc.NextSeq
		doc.NextSeq++
		if doc.UpdatedAt < message.CreatedAt {
			doc.UpdatedAt = message.CreatedAt
		}

		data, err := json.Marshal(message)
		if err != nil {
			return fmt.Errorf("marshal message: %w", err)
		}
		if err := txn.Set(msgKey(chatID, seq), data); err != nil {
			return fmt.Errorf("set message: %w", err)
		}

		chatData, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("marshal chat: %w", err)
		}
		return txn.Set(chatKey(ownerID, chatID), chatData)
	})
	if err != nil {
		return Message{}, err
	}
	return message, nil
}

func (s DocStore) ListMessages(ctx context.Context, chatID, ownerID string) ([]Message, error) {
	messages := make([]Message, 0, 32)

	err := s.db.View(func(txn *badger.Txn) error {
		var doc chatDoc
		if err := getChatDoc(txn, ownerID, chatID, &doc); err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil
			}
			return err
		}

		opts := badger.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(msgKeyPrefix + chatID + ":")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var message Message
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &message)
			})
			if err != nil {
				return fmt.Errorf("unmarshal message: %w", err)
			}
			messages = append(messages, message)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return messages, nil
}

func getChatDoc(txn *badger.Txn, ownerID, chatID string, doc *chatDoc) error {
	item, err := txn.Get(chatKey(ownerID, chatID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get chat: %w", err)
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, doc)
	})
}

// deleteChatDoc deletes a chat's messages, then the chat itself, inside
// the caller's transaction.
func deleteChatDoc(txn *badger.Txn, ownerID, chatID string) error {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)

	prefix := []byte(msgKeyPrefix + chatID + ":")
	keys := make([][]byte, 0, 32)
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	it.Close()

	for _, key := range keys {
		if err := txn.Delete(key); err != nil {
			return fmt.Errorf("delete message: %w", err)
		}
	}
	if err := txn.Delete(chatKey(ownerID, chatID)); err != nil {
		return fmt.Errorf("delete chat: %w", err)
	}
	return nil
}
