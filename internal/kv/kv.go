// Package kv implements chat.Store on BadgerDB.
//
// Key layout (components separated by NUL, timestamps and sequences zero padded
// so lexicographic order is numeric order):
//
//	conv\x00{conv}                          conversation record
//	pconv\x00{participant}\x00{conv}        participant index
//	head\x00{conv}                          last sequence and timestamp
//	msg\x00{conv}\x00{created:020}\x00{seq:020}  message record
//	mid\x00{conv}\x00{seq:020}              sequence -> message key
//	cid\x00{conv}\x00{client id}            client message id -> message key
//	ucnt\x00{conv}\x00{sender}              unread messages sent by sender
//	ustate\x00{conv}\x00{participant}       last published unread flag
package kv

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/matheus3301/relay/internal/chat"
	"go.uber.org/zap"
)

// maxConflictRetries bounds how often a transaction is replayed after
// badger.ErrConflict before the failure is reported as transient.
const maxConflictRetries = 16

// Store is a BadgerDB-backed chat.Store.
type Store struct {
	db *badger.DB
}

var _ chat.Store = (*Store)(nil)

// Open opens (or creates) a Badger database in dir.
func Open(dir string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := badger.DefaultOptions(dir).
		WithLogger(badgerLogger{logger.Sugar().Named("badger")}).
		WithLoggingLevel(badger.WARNING)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &Store{db: db}, nil
}

// Close flushes and closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// update runs fn in a read-write transaction, replaying it on write conflicts.
// fn must not keep state across attempts.
func (s *Store) update(op string, fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt <= maxConflictRetries; attempt++ {
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return wrapErr(op, err)
		}
	}
	return wrapErr(op, err)
}

func (s *Store) view(op string, fn func(txn *badger.Txn) error) error {
	return wrapErr(op, s.db.View(fn))
}

func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, chat.ErrNotFound) || errors.Is(err, chat.ErrInvalidArgument) || errors.Is(err, chat.ErrConflict) {
		return err
	}
	if errors.Is(err, badger.ErrConflict) {
		return &chat.StoreError{Op: op, Err: err, Temporary: true}
	}
	return &chat.StoreError{Op: op, Err: err}
}

func key(parts ...string) []byte {
	return []byte(strings.Join(parts, "\x00"))
}

func prefix(parts ...string) []byte {
	return append(key(parts...), 0)
}

func pad(n int64) string {
	return fmt.Sprintf("%020d", n)
}

type badgerLogger struct {
	*zap.SugaredLogger
}

func (l badgerLogger) Warningf(format string, args ...any) {
	l.Warnf(format, args...)
}
