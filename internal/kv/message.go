package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/matheus3301/relay/internal/chat"
	"github.com/samber/lo"
)

const defaultPageSize = 50

type messageRecord struct {
	ConversationID  string `json:"conversation_id"`
	Seq             int64  `json:"seq"`
	ClientMsgID     string `json:"client_msg_id"`
	SenderID        string `json:"sender_id"`
	Body            []byte `json:"body"`
	CreatedAt       int64  `json:"created_at"`
	ClientCreatedAt int64  `json:"client_created_at,omitempty"`
	Read            bool   `json:"read"`
}

func (r messageRecord) toChat() (chat.Message, error) {
	body, err := chat.DecodeBody(r.Body)
	if err != nil {
		return chat.Message{}, err
	}
	m := chat.Message{
		ConversationID: r.ConversationID,
		ID:             r.Seq,
		ClientMsgID:    r.ClientMsgID,
		SenderID:       r.SenderID,
		Body:           body,
		CreatedAt:      time.UnixMilli(r.CreatedAt).UTC(),
		Read:           r.Read,
	}
	if r.ClientCreatedAt != 0 {
		m.ClientCreatedAt = time.UnixMilli(r.ClientCreatedAt).UTC()
	}
	return m, nil
}

type headRecord struct {
	Seq       int64 `json:"seq"`
	CreatedAt int64 `json:"created_at"`
}

func messageKey(conv string, createdAt, seq int64) []byte {
	return key("msg", conv, pad(createdAt), pad(seq))
}

// AppendMessage stores m as the next message of its conversation.
func (s *Store) AppendMessage(_ context.Context, m chat.NewMessage) (chat.Message, bool, error) {
	if m.ClientMsgID == "" {
		m.ClientMsgID = uuid.NewString()
	}
	body, err := chat.EncodeBody(m.Body)
	if err != nil {
		return chat.Message{}, false, err
	}

	var (
		stored    chat.Message
		duplicate bool
	)
	err = s.update("append", func(txn *badger.Txn) error {
		if _, err := getConversation(txn, m.ConversationID); err != nil {
			return err
		}

		if item, err := txn.Get(key("cid", m.ConversationID, m.ClientMsgID)); err == nil {
			rec, err := readMessageAt(txn, item)
			if err != nil {
				return err
			}
			if rec.SenderID != m.SenderID {
				return fmt.Errorf("%w: client message id %q already used by another sender", chat.ErrConflict, m.ClientMsgID)
			}
			msg, err := rec.toChat()
			if err != nil {
				return err
			}
			stored, duplicate = msg, true
			return nil
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		var head headRecord
		if err := getJSON(txn, key("head", m.ConversationID), &head); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		rec := messageRecord{
			ConversationID: m.ConversationID,
			Seq:            head.Seq + 1,
			ClientMsgID:    m.ClientMsgID,
			SenderID:       m.SenderID,
			Body:           body,
			CreatedAt:      max(m.CreatedAt.UnixMilli(), head.CreatedAt),
		}
		if !m.ClientCreatedAt.IsZero() {
			rec.ClientCreatedAt = m.ClientCreatedAt.UnixMilli()
		}

		mk := messageKey(rec.ConversationID, rec.CreatedAt, rec.Seq)
		if err := setJSON(txn, mk, rec); err != nil {
			return err
		}
		if err := setJSON(txn, key("head", m.ConversationID), headRecord{Seq: rec.Seq, CreatedAt: rec.CreatedAt}); err != nil {
			return err
		}
		if err := txn.Set(key("mid", rec.ConversationID, pad(rec.Seq)), mk); err != nil {
			return err
		}
		if err := txn.Set(key("cid", rec.ConversationID, rec.ClientMsgID), mk); err != nil {
			return err
		}
		if err := addUnread(txn, rec.ConversationID, rec.SenderID, 1); err != nil {
			return err
		}
		msg, err := rec.toChat()
		if err != nil {
			return err
		}
		stored, duplicate = msg, false
		return nil
	})
	if err != nil {
		return chat.Message{}, false, err
	}
	return stored, duplicate, nil
}

// ListMessages walks the message keys of a conversation from the page cursor.
func (s *Store) ListMessages(_ context.Context, conversationID string, page chat.Page) ([]chat.Message, error) {
	limit := page.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}
	p := prefix("msg", conversationID)

	var msgs []chat.Message
	err := s.view("list messages", func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = p
		var seek, skip []byte
		switch {
		case page.After != nil:
			seek = messageKey(conversationID, page.After.CreatedAt, page.After.ID)
			skip = seek
		case page.Before != nil:
			opts.Reverse = true
			seek = messageKey(conversationID, page.Before.CreatedAt, page.Before.ID)
			skip = seek
		default:
			opts.Reverse = true
			seek = append(slices.Clone(p), 0xff)
		}
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(seek); it.ValidForPrefix(p) && len(msgs) < limit; it.Next() {
			item := it.Item()
			if skip != nil && string(item.Key()) == string(skip) {
				continue
			}
			var rec messageRecord
			if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &rec) }); err != nil {
				return err
			}
			m, err := rec.toChat()
			if err != nil {
				return err
			}
			msgs = append(msgs, m)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return msgs, nil
}

// LatestMessage returns the newest message or nil when the conversation is empty.
func (s *Store) LatestMessage(ctx context.Context, conversationID string) (*chat.Message, error) {
	msgs, err := s.ListMessages(ctx, conversationID, chat.Page{Limit: 1})
	if err != nil || len(msgs) == 0 {
		return nil, err
	}
	return &msgs[0], nil
}

// MarkRead flips the read flag of ids that readerID did not send. Every id
// must exist; otherwise the transaction is discarded and chat.ErrNotFound returned.
func (s *Store) MarkRead(_ context.Context, conversationID string, ids []int64, readerID string) ([]int64, error) {
	ids = lo.Uniq(ids)
	slices.Sort(ids)

	var changed []int64
	err := s.update("mark read", func(txn *badger.Txn) error {
		changed = nil
		for _, id := range ids {
			item, err := txn.Get(key("mid", conversationID, pad(id)))
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("message %d in conversation %q: %w", id, conversationID, chat.ErrNotFound)
			}
			if err != nil {
				return err
			}
			rec, err := readMessageAt(txn, item)
			if err != nil {
				return err
			}
			if rec.Read || rec.SenderID == readerID {
				continue
			}
			if err := markRecordRead(txn, rec); err != nil {
				return err
			}
			changed = append(changed, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return changed, nil
}

// MarkAllRead marks every unread message not sent by readerID as read.
func (s *Store) MarkAllRead(_ context.Context, conversationID, readerID string) ([]int64, error) {
	var changed []int64
	err := s.update("mark all read", func(txn *badger.Txn) error {
		changed = nil
		p := prefix("msg", conversationID)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = p
		it := txn.NewIterator(opts)
		var pending []messageRecord
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			var rec messageRecord
			if err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &rec) }); err != nil {
				it.Close()
				return err
			}
			if !rec.Read && rec.SenderID != readerID {
				pending = append(pending, rec)
			}
		}
		it.Close()

		for _, rec := range pending {
			if err := markRecordRead(txn, rec); err != nil {
				return err
			}
			changed = append(changed, rec.Seq)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.Sort(changed)
	return changed, nil
}

// CountUnread sums the unread counters of every sender other than participantID.
func (s *Store) CountUnread(_ context.Context, conversationID, participantID string) (int, error) {
	total := 0
	err := s.view("count unread", func(txn *badger.Txn) error {
		p := prefix("ucnt", conversationID)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = p
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			sender := string(it.Item().Key()[len(p):])
			if sender == participantID {
				continue
			}
			if err := it.Item().Value(func(val []byte) error {
				n, err := strconv.Atoi(string(val))
				total += n
				return err
			}); err != nil {
				return err
			}
		}
		return nil
	})
	return total, err
}

func markRecordRead(txn *badger.Txn, rec messageRecord) error {
	rec.Read = true
	if err := setJSON(txn, messageKey(rec.ConversationID, rec.CreatedAt, rec.Seq), rec); err != nil {
		return err
	}
	return addUnread(txn, rec.ConversationID, rec.SenderID, -1)
}

func addUnread(txn *badger.Txn, conv, sender string, delta int) error {
	k := key("ucnt", conv, sender)
	n := 0
	item, err := txn.Get(k)
	switch {
	case err == nil:
		if err := item.Value(func(val []byte) error {
			n, err = strconv.Atoi(string(val))
			return err
		}); err != nil {
			return err
		}
	case !errors.Is(err, badger.ErrKeyNotFound):
		return err
	}
	return txn.Set(k, []byte(strconv.Itoa(max(n+delta, 0))))
}

// readMessageAt follows an index item whose value is a message key.
func readMessageAt(txn *badger.Txn, index *badger.Item) (messageRecord, error) {
	mk, err := index.ValueCopy(nil)
	if err != nil {
		return messageRecord{}, err
	}
	var rec messageRecord
	if err := getJSON(txn, mk, &rec); err != nil {
		return messageRecord{}, err
	}
	return rec, nil
}

func getJSON(txn *badger.Txn, k []byte, v any) error {
	item, err := txn.Get(k)
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func setJSON(txn *badger.Txn, k []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set(k, data)
}
