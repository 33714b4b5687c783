package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/matheus3301/relay/internal/chat"
	"github.com/mattn/go-sqlite3"
)

// DB wraps a SQLite database connection and implements chat.Store.
type DB struct {
	*sql.DB
}

var _ chat.Store = (*DB)(nil)

// Open creates a new SQLite connection with WAL mode and recommended pragmas.
// Transactions begin IMMEDIATE so read-then-write sequences wait on the
// busy timeout instead of failing on a stale snapshot.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// Verify connection.
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return &DB{db}, nil
}

// wrapErr tags busy/locked SQLite failures as retryable.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, chat.ErrNotFound) || errors.Is(err, chat.ErrInvalidArgument) || errors.Is(err, chat.ErrConflict) {
		return err
	}
	var se sqlite3.Error
	if errors.As(err, &se) && (se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked) {
		return &chat.StoreError{Op: op, Err: err, Temporary: true}
	}
	return &chat.StoreError{Op: op, Err: err}
}
