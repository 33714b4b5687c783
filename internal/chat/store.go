package chat

import "context"

// ConversationStore persists conversations. InsertConversationIfAbsent must be
// atomic: concurrent callers with the same id observe exactly one insert.
type ConversationStore interface {
	InsertConversationIfAbsent(ctx context.Context, c Conversation) (stored Conversation, created bool, err error)
	GetConversation(ctx context.Context, id string) (Conversation, error)
	ListConversations(ctx context.Context, participantID string) ([]Conversation, error)
}

// MessageStore persists the append-only message log of each conversation.
//
// AppendMessage assigns the next sequence id and moves CreatedAt forward so that
// it is never earlier than the previous message. A repeated ClientMsgID returns
// the already stored message with duplicate=true.
type MessageStore interface {
	AppendMessage(ctx context.Context, m NewMessage) (stored Message, duplicate bool, err error)
	ListMessages(ctx context.Context, conversationID string, page Page) ([]Message, error)
	LatestMessage(ctx context.Context, conversationID string) (*Message, error)
	MarkRead(ctx context.Context, conversationID string, ids []int64, readerID string) (changed []int64, err error)
	MarkAllRead(ctx context.Context, conversationID, readerID string) (changed []int64, err error)
	CountUnread(ctx context.Context, conversationID, participantID string) (int, error)
}

// UnreadStateStore keeps the last published unread flag per participant.
type UnreadStateStore interface {
	UnreadStates(ctx context.Context, conversationID string) (map[string]bool, error)
	SetUnreadState(ctx context.Context, conversationID, participantID string, unread bool) error
}

// Store is the persistent store collaborator.
type Store interface {
	ConversationStore
	MessageStore
	UnreadStateStore
	Close() error
}
