// Package messages is the append-only message log of each conversation.
package messages

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/matheus3301/relay/internal/chat"
)

// Options configures a Store. Zero values pick the defaults.
type Options struct {
	MaxTextLength int
	Now           func() time.Time
}

// Store assigns ids and timestamps, validates bodies and pages through the
// persistent message log.
type Store struct {
	backend chat.MessageStore
	maxText int
	now     func() time.Time
}

// New wraps backend.
func New(backend chat.MessageStore, opts Options) *Store {
	if opts.MaxTextLength <= 0 {
		opts.MaxTextLength = chat.MaxTextLength
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{backend: backend, maxText: opts.MaxTextLength, now: opts.Now}
}

// MaxPageSize caps a single page read.
const MaxPageSize = 500

// PageSize clamps a requested page size to MaxPageSize. Zero or negative picks def.
func PageSize(n, def int) int {
	if n <= 0 {
		n = def
	}
	return min(n, MaxPageSize)
}

// Ack is the result of an append. Duplicate is set when the client message id
// was already committed and Message is the earlier record.
type Ack struct {
	Message   chat.Message
	Duplicate bool
}

// AppendOption customises a single append.
type AppendOption func(*chat.NewMessage)

// WithClientMsgID makes the append idempotent on id.
func WithClientMsgID(id string) AppendOption {
	return func(m *chat.NewMessage) { m.ClientMsgID = id }
}

// WithClientTime records the sender device timestamp. It is kept for display
// only; ordering always uses the server timestamp.
func WithClientTime(t time.Time) AppendOption {
	return func(m *chat.NewMessage) { m.ClientCreatedAt = t }
}

// Append stores body as the next message from senderID.
func (s *Store) Append(ctx context.Context, conversationID, senderID string, body chat.Body, opts ...AppendOption) (Ack, error) {
	if err := body.ValidateLength(s.maxText); err != nil {
		return Ack{}, err
	}
	m := chat.NewMessage{
		ConversationID: conversationID,
		SenderID:       senderID,
		Body:           body,
		CreatedAt:      s.now().UTC(),
	}
	for _, opt := range opts {
		opt(&m)
	}
	stored, dup, err := s.backend.AppendMessage(ctx, m)
	if err != nil {
		return Ack{}, fmt.Errorf("append to %q: %w", conversationID, err)
	}
	return Ack{Message: stored, Duplicate: dup}, nil
}

// ListRecent returns up to limit messages newest first, strictly older than
// before when it is set. Limit is clamped to MaxPageSize.
func (s *Store) ListRecent(ctx context.Context, conversationID string, limit int, before *chat.Cursor) ([]chat.Message, error) {
	msgs, err := s.backend.ListMessages(ctx, conversationID, chat.Page{Before: before, Limit: PageSize(limit, MaxPageSize)})
	if err != nil {
		return nil, fmt.Errorf("list %q: %w", conversationID, err)
	}
	return msgs, nil
}

// ListAfter returns up to limit messages oldest first, strictly newer than after.
// Limit is clamped to MaxPageSize.
func (s *Store) ListAfter(ctx context.Context, conversationID string, after chat.Cursor, limit int) ([]chat.Message, error) {
	msgs, err := s.backend.ListMessages(ctx, conversationID, chat.Page{After: &after, Limit: PageSize(limit, MaxPageSize)})
	if err != nil {
		return nil, fmt.Errorf("list %q after %v: %w", conversationID, after, err)
	}
	return msgs, nil
}

// Iterate lazily walks the conversation newest first, fetching pageSize
// messages at a time. Each page resumes from the cursor of the last message
// yielded, so concurrent appends neither skip nor repeat messages. Iteration
// can be restarted from any yielded message's Cursor.
func (s *Store) Iterate(ctx context.Context, conversationID string, pageSize int, before *chat.Cursor) iter.Seq2[chat.Message, error] {
	return func(yield func(chat.Message, error) bool) {
		cursor := before
		for {
			page, err := s.ListRecent(ctx, conversationID, pageSize, cursor)
			if err != nil {
				yield(chat.Message{}, err)
				return
			}
			for _, m := range page {
				if !yield(m, nil) {
					return
				}
			}
			if len(page) == 0 || (pageSize > 0 && len(page) < pageSize) {
				return
			}
			c := page[len(page)-1].Cursor()
			cursor = &c
		}
	}
}

// Latest returns the newest message, or nil for an empty conversation.
func (s *Store) Latest(ctx context.Context, conversationID string) (*chat.Message, error) {
	return s.backend.LatestMessage(ctx, conversationID)
}

// MarkRead sets read=true on ids not sent by readerID and returns the ids
// that actually changed. Repeating a call is a no-op.
func (s *Store) MarkRead(ctx context.Context, conversationID string, ids []int64, readerID string) ([]int64, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	changed, err := s.backend.MarkRead(ctx, conversationID, ids, readerID)
	if err != nil {
		return nil, fmt.Errorf("mark read in %q: %w", conversationID, err)
	}
	return changed, nil
}

// MarkAllRead marks every message from the other participants as read.
func (s *Store) MarkAllRead(ctx context.Context, conversationID, readerID string) ([]int64, error) {
	changed, err := s.backend.MarkAllRead(ctx, conversationID, readerID)
	if err != nil {
		return nil, fmt.Errorf("mark all read in %q: %w", conversationID, err)
	}
	return changed, nil
}
