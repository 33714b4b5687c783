package rpc

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/matheus3301/relay/internal/chat"
	"github.com/matheus3301/relay/internal/feed"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Code maps a domain error to its gRPC code.
func Code(err error) codes.Code {
	switch {
	case err == nil:
		return codes.OK
	case errors.Is(err, chat.ErrNotFound):
		return codes.NotFound
	case errors.Is(err, chat.ErrConflict):
		return codes.Aborted
	case errors.Is(err, chat.ErrPermission):
		return codes.PermissionDenied
	case errors.Is(err, chat.ErrTransient), errors.Is(err, feed.ErrSlowConsumer), errors.Is(err, feed.ErrClosed):
		return codes.Unavailable
	case errors.Is(err, chat.ErrInvalidArgument):
		return codes.InvalidArgument
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	}
	if s, ok := status.FromError(err); ok {
		return s.Code()
	}
	return codes.Internal
}

// ToStatus converts a domain error to a gRPC status error.
func ToStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	return status.Error(Code(err), err.Error())
}

// FromStatus converts a gRPC status error back to a wrapped chat sentinel so
// callers can use errors.Is and chat.IsRetryable across the wire.
func FromStatus(err error) error {
	if err == nil || errors.Is(err, io.EOF) {
		return err
	}
	s, ok := status.FromError(err)
	if !ok {
		return err
	}
	var sentinel error
	switch s.Code() {
	case codes.NotFound:
		sentinel = chat.ErrNotFound
	case codes.Aborted:
		sentinel = chat.ErrConflict
	case codes.PermissionDenied, codes.Unauthenticated:
		sentinel = chat.ErrPermission
	case codes.InvalidArgument:
		sentinel = chat.ErrInvalidArgument
	case codes.Unavailable:
		return &chat.StoreError{Op: "rpc", Err: errors.New(s.Message()), Temporary: true}
	default:
		return err
	}
	return fmt.Errorf("%w: %s", sentinel, s.Message())
}
