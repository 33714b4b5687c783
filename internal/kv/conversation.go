package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/matheus3301/relay/internal/chat"
)

type conversationRecord struct {
	ID           string   `json:"id"`
	Participants []string `json:"participants"`
	CreatedAt    int64    `json:"created_at"`
}

func (r conversationRecord) toChat() chat.Conversation {
	return chat.Conversation{
		ID:           r.ID,
		Participants: r.Participants,
		CreatedAt:    time.UnixMilli(r.CreatedAt).UTC(),
	}
}

// InsertConversationIfAbsent relies on Badger's optimistic transactions: two
// racing inserts conflict on the conversation key, the loser is replayed and
// then observes the winner's record.
func (s *Store) InsertConversationIfAbsent(_ context.Context, c chat.Conversation) (chat.Conversation, bool, error) {
	var (
		stored  chat.Conversation
		created bool
	)
	err := s.update("insert conversation", func(txn *badger.Txn) error {
		existing, err := getConversation(txn, c.ID)
		if err == nil {
			stored, created = existing, false
			return nil
		}
		if !errors.Is(err, chat.ErrNotFound) {
			return err
		}

		rec := conversationRecord{ID: c.ID, Participants: c.Participants, CreatedAt: c.CreatedAt.UnixMilli()}
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		if err := txn.Set(key("conv", c.ID), data); err != nil {
			return err
		}
		for _, p := range c.Participants {
			if err := txn.Set(key("pconv", p, c.ID), nil); err != nil {
				return err
			}
		}
		stored, created = rec.toChat(), true
		return nil
	})
	if err != nil {
		return chat.Conversation{}, false, err
	}
	return stored, created, nil
}

// GetConversation returns a conversation by id or chat.ErrNotFound.
func (s *Store) GetConversation(_ context.Context, id string) (chat.Conversation, error) {
	var c chat.Conversation
	err := s.view("get conversation", func(txn *badger.Txn) error {
		var err error
		c, err = getConversation(txn, id)
		return err
	})
	return c, err
}

func getConversation(txn *badger.Txn, id string) (chat.Conversation, error) {
	item, err := txn.Get(key("conv", id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return chat.Conversation{}, fmt.Errorf("conversation %q: %w", id, chat.ErrNotFound)
	}
	if err != nil {
		return chat.Conversation{}, err
	}
	var rec conversationRecord
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &rec)
	}); err != nil {
		return chat.Conversation{}, err
	}
	return rec.toChat(), nil
}

// ListConversations returns the conversations participantID belongs to,
// newest first.
func (s *Store) ListConversations(_ context.Context, participantID string) ([]chat.Conversation, error) {
	var convs []chat.Conversation
	err := s.view("list conversations", func(txn *badger.Txn) error {
		p := prefix("pconv", participantID)
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = p
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			convID := string(it.Item().Key()[len(p):])
			c, err := getConversation(txn, convID)
			if err != nil {
				return err
			}
			convs = append(convs, c)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(convs, func(a, b chat.Conversation) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return convs, nil
}
