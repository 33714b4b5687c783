package chat

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a conversation or message id is unknown.
	ErrNotFound = errors.New("not found")
	// ErrConflict signals an identity invariant violation: a derived conversation
	// id already exists with a different participant set. Not retryable.
	ErrConflict = errors.New("conflict")
	// ErrPermission is returned when the caller acts outside its conversations
	// or on behalf of someone else.
	ErrPermission = errors.New("permission denied")
	// ErrTransient marks a persistence failure the caller may retry with backoff.
	ErrTransient = errors.New("transient store error")
	// ErrInvalidArgument is returned for malformed input.
	ErrInvalidArgument = errors.New("invalid argument")
)

// StoreError wraps a backend failure with the store operation that produced it.
type StoreError struct {
	Op        string
	Err       error
	Temporary bool
}

func (e *StoreError) Error() string {
	if e.Temporary {
		return fmt.Sprintf("store %s (retryable): %v", e.Op, e.Err)
	}
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrTransient) match temporary store errors.
func (e *StoreError) Is(target error) bool {
	return target == ErrTransient && e.Temporary
}

// Retryable reports whether the operation may succeed if repeated.
func (e *StoreError) Retryable() bool { return e.Temporary }

// IsRetryable reports whether err is a transient store failure.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransient)
}
