package kv

import (
	"context"

	"github.com/dgraph-io/badger/v4"
)

// UnreadStates returns the last recorded unread flag per participant.
func (s *Store) UnreadStates(_ context.Context, conversationID string) (map[string]bool, error) {
	states := make(map[string]bool)
	err := s.view("unread states", func(txn *badger.Txn) error {
		p := prefix("ustate", conversationID)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = p
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			pid := string(it.Item().Key()[len(p):])
			if err := it.Item().Value(func(val []byte) error {
				states[pid] = string(val) == "1"
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return states, nil
}

// SetUnreadState records the unread flag published for a participant.
func (s *Store) SetUnreadState(_ context.Context, conversationID, participantID string, unread bool) error {
	v := []byte("0")
	if unread {
		v = []byte("1")
	}
	return s.update("set unread state", func(txn *badger.Txn) error {
		return txn.Set(key("ustate", conversationID, participantID), v)
	})
}
