// Package engine serializes every mutation of a conversation, enforces
// participant permissions and publishes the resulting domain events.
package engine

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/matheus3301/relay/internal/bus"
	"github.com/matheus3301/relay/internal/chat"
	"github.com/matheus3301/relay/internal/directory"
	"github.com/matheus3301/relay/internal/identity"
	"github.com/matheus3301/relay/internal/lock"
	"github.com/matheus3301/relay/internal/messages"
	"github.com/matheus3301/relay/internal/unread"
	"go.uber.org/zap"
)

const recomputeTimeout = 5 * time.Second

// Engine is the conversation service core. Operations on one conversation run
// one at a time; different conversations proceed in parallel.
type Engine struct {
	dir     *directory.Directory
	msgs    *messages.Store
	tracker *unread.Tracker
	bus     *bus.Bus
	locks   *lock.Keyed
	logger  *zap.Logger
}

// New creates an engine.
func New(dir *directory.Directory, msgs *messages.Store, tracker *unread.Tracker, b *bus.Bus, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		dir:     dir,
		msgs:    msgs,
		tracker: tracker,
		bus:     b,
		locks:   lock.NewKeyed(),
		logger:  logger.Named("engine"),
	}
}

// ResolveOrCreate returns the conversation between participantIDs. The caller
// must be one of them. conversation.created is published once, by the caller
// whose insert created the record.
func (e *Engine) ResolveOrCreate(ctx context.Context, participantIDs []string) (chat.Conversation, error) {
	caller, err := identity.Require(ctx)
	if err != nil {
		return chat.Conversation{}, err
	}
	if !slices.Contains(participantIDs, caller.ID) {
		return chat.Conversation{}, fmt.Errorf("%w: %s is not in the participant set", chat.ErrPermission, caller.ID)
	}
	c, created, err := e.dir.ResolveOrCreate(ctx, participantIDs)
	if err != nil {
		return chat.Conversation{}, err
	}
	if created {
		for _, p := range c.Participants {
			e.bus.Publish(bus.NewEvent(bus.ParticipantTopic(p), bus.ConversationCreated, c))
		}
	}
	return c, nil
}

// Conversation returns a conversation the caller belongs to.
func (e *Engine) Conversation(ctx context.Context, id string) (chat.Conversation, error) {
	c, _, err := e.member(ctx, id)
	return c, err
}

// Conversations lists the caller's conversations.
func (e *Engine) Conversations(ctx context.Context) ([]chat.Conversation, error) {
	caller, err := identity.Require(ctx)
	if err != nil {
		return nil, err
	}
	return e.dir.ListFor(ctx, caller.ID)
}

// Append stores a message from senderID, who must be the caller. The Ack tells
// a committed send from a retried one; any error means nothing was committed.
func (e *Engine) Append(ctx context.Context, conversationID, senderID string, body chat.Body, opts ...messages.AppendOption) (messages.Ack, error) {
	c, caller, err := e.member(ctx, conversationID)
	if err != nil {
		return messages.Ack{}, err
	}
	if senderID != caller.ID {
		return messages.Ack{}, fmt.Errorf("%w: %s cannot send as %s", chat.ErrPermission, caller.ID, senderID)
	}
	if body.SenderName == "" {
		body.SenderName = caller.DisplayName
	}

	unlock := e.locks.Lock(c.ID)
	defer unlock()

	ack, err := e.msgs.Append(ctx, c.ID, senderID, body, opts...)
	if err != nil {
		e.logStoreErr("append", c.ID, err)
		return messages.Ack{}, err
	}
	if ack.Duplicate {
		return ack, nil
	}
	e.bus.Publish(bus.NewEvent(bus.ConversationTopic(c.ID), bus.MessageAppended, ack.Message))
	e.afterChange(ctx, c)
	return ack, nil
}

// ListRecent returns the caller's view of a conversation, newest first.
func (e *Engine) ListRecent(ctx context.Context, conversationID string, limit int, before *chat.Cursor) ([]chat.Message, error) {
	c, _, err := e.member(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	return e.msgs.ListRecent(ctx, c.ID, limit, before)
}

// ListAfter returns messages newer than after, oldest first.
func (e *Engine) ListAfter(ctx context.Context, conversationID string, after chat.Cursor, limit int) ([]chat.Message, error) {
	c, _, err := e.member(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	return e.msgs.ListAfter(ctx, c.ID, after, limit)
}

// MarkRead marks ids as read by readerID, who must be the caller.
func (e *Engine) MarkRead(ctx context.Context, conversationID string, ids []int64, readerID string) ([]int64, error) {
	return e.markRead(ctx, conversationID, readerID, func(c chat.Conversation) ([]int64, error) {
		return e.msgs.MarkRead(ctx, c.ID, ids, readerID)
	})
}

// MarkAllRead marks every message from the other participants as read.
func (e *Engine) MarkAllRead(ctx context.Context, conversationID, readerID string) ([]int64, error) {
	return e.markRead(ctx, conversationID, readerID, func(c chat.Conversation) ([]int64, error) {
		return e.msgs.MarkAllRead(ctx, c.ID, readerID)
	})
}

func (e *Engine) markRead(ctx context.Context, conversationID, readerID string, mark func(chat.Conversation) ([]int64, error)) ([]int64, error) {
	c, caller, err := e.member(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if readerID != caller.ID {
		return nil, fmt.Errorf("%w: %s cannot mark messages read for %s", chat.ErrPermission, caller.ID, readerID)
	}

	unlock := e.locks.Lock(c.ID)
	defer unlock()

	changed, err := mark(c)
	if err != nil {
		e.logStoreErr("mark read", c.ID, err)
		return nil, err
	}
	if len(changed) == 0 {
		return nil, nil
	}
	e.bus.Publish(bus.NewEvent(bus.ConversationTopic(c.ID), bus.MessageRead, chat.ReadReceipt{
		ConversationID: c.ID,
		ReaderID:       readerID,
		IDs:            changed,
	}))
	e.afterChange(ctx, c)
	return changed, nil
}

// ComputeUnread reports whether participantID, who must be the caller, has
// unread messages in the conversation.
func (e *Engine) ComputeUnread(ctx context.Context, conversationID, participantID string) (bool, error) {
	c, err := e.self(ctx, conversationID, participantID)
	if err != nil {
		return false, err
	}
	return e.tracker.Compute(ctx, c.ID, participantID)
}

// Summary returns the conversation-list entry of a conversation for participantID.
func (e *Engine) Summary(ctx context.Context, conversationID, participantID string) (chat.Summary, error) {
	c, err := e.self(ctx, conversationID, participantID)
	if err != nil {
		return chat.Summary{}, err
	}
	return e.summarize(ctx, c, participantID)
}

// Inbox returns participantID's conversations, most recent activity first.
func (e *Engine) Inbox(ctx context.Context, participantID string) ([]chat.Summary, error) {
	caller, err := identity.Require(ctx)
	if err != nil {
		return nil, err
	}
	if participantID != caller.ID {
		return nil, fmt.Errorf("%w: %s cannot read the inbox of %s", chat.ErrPermission, caller.ID, participantID)
	}
	convs, err := e.dir.ListFor(ctx, participantID)
	if err != nil {
		return nil, err
	}
	sums := make([]chat.Summary, 0, len(convs))
	for _, c := range convs {
		s, err := e.summarize(ctx, c, participantID)
		if err != nil {
			return nil, err
		}
		sums = append(sums, s)
	}
	slices.SortStableFunc(sums, func(a, b chat.Summary) int {
		if c := b.ActivityAt().Compare(a.ActivityAt()); c != 0 {
			return c
		}
		return cmp.Compare(a.Conversation.ID, b.Conversation.ID)
	})
	return sums, nil
}

func (e *Engine) summarize(ctx context.Context, c chat.Conversation, participantID string) (chat.Summary, error) {
	last, err := e.msgs.Latest(ctx, c.ID)
	if err != nil {
		return chat.Summary{}, err
	}
	has, err := e.tracker.Compute(ctx, c.ID, participantID)
	if err != nil {
		return chat.Summary{}, err
	}
	n, err := e.tracker.UnreadCount(ctx, c.ID, participantID)
	if err != nil {
		return chat.Summary{}, err
	}
	return chat.Summary{Conversation: c, LastMessage: last, HasUnread: has, UnreadCount: n}, nil
}

// afterChange recomputes unread flags and notifies list subscribers. Runs under
// the conversation lock. The mutation has already committed, so it outlives the
// caller's context; failures are logged and the next change catches up.
func (e *Engine) afterChange(ctx context.Context, c chat.Conversation) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recomputeTimeout)
	defer cancel()

	changes, err := e.tracker.Recompute(ctx, c)
	if err != nil {
		e.logger.Warn("unread recompute failed", zap.String("conversation", c.ID), zap.Error(err))
	}
	for _, ch := range changes {
		e.bus.Publish(bus.NewEvent(bus.ParticipantTopic(ch.ParticipantID), bus.UnreadChanged, ch))
	}
	for _, p := range c.Participants {
		e.bus.Publish(bus.NewEvent(bus.ParticipantTopic(p), bus.SummaryChanged, c.ID))
	}
}

// member loads a conversation and checks the caller belongs to it.
func (e *Engine) member(ctx context.Context, conversationID string) (chat.Conversation, chat.Participant, error) {
	caller, err := identity.Require(ctx)
	if err != nil {
		return chat.Conversation{}, chat.Participant{}, err
	}
	c, err := e.dir.Get(ctx, conversationID)
	if err != nil {
		return chat.Conversation{}, chat.Participant{}, err
	}
	if !c.Has(caller.ID) {
		return chat.Conversation{}, chat.Participant{}, fmt.Errorf("%w: %s is not a participant of %s", chat.ErrPermission, caller.ID, c.ID)
	}
	return c, caller, nil
}

// self is member plus the requirement that participantID is the caller.
func (e *Engine) self(ctx context.Context, conversationID, participantID string) (chat.Conversation, error) {
	c, caller, err := e.member(ctx, conversationID)
	if err != nil {
		return chat.Conversation{}, err
	}
	if participantID != caller.ID {
		return chat.Conversation{}, fmt.Errorf("%w: %s cannot read unread state of %s", chat.ErrPermission, caller.ID, participantID)
	}
	return c, nil
}

func (e *Engine) logStoreErr(op, conversationID string, err error) {
	if chat.IsRetryable(err) {
		e.logger.Warn("transient store failure", zap.String("op", op), zap.String("conversation", conversationID), zap.Error(err))
	}
}
