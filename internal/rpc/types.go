// Package rpc defines the relay.v1 wire types, the ConversationService
// descriptor and its client. Messages are plain structs carried by a JSON
// codec registered with grpc-go.
package rpc

// Cursor is a position in a conversation's (created_at, id) order.
type Cursor struct {
	CreatedAtUnixMs int64 `json:"created_at_unix_ms"`
	ID              int64 `json:"id"`
}

type Conversation struct {
	ID              string   `json:"id"`
	Participants    []string `json:"participants"`
	CreatedAtUnixMs int64    `json:"created_at_unix_ms"`
}

type Message struct {
	ConversationID        string         `json:"conversation_id"`
	ID                    int64          `json:"id"`
	ClientMsgID           string         `json:"client_msg_id"`
	SenderID              string         `json:"sender_id"`
	SenderName            string         `json:"sender_name,omitempty"`
	Text                  string         `json:"text"`
	Attributes            map[string]any `json:"attributes,omitempty"`
	CreatedAtUnixMs       int64          `json:"created_at_unix_ms"`
	ClientCreatedAtUnixMs int64          `json:"client_created_at_unix_ms,omitempty"`
	Read                  bool           `json:"read"`
}

type Summary struct {
	Conversation Conversation `json:"conversation"`
	LastMessage  *Message     `json:"last_message,omitempty"`
	Preview      string       `json:"preview,omitempty"`
	HasUnread    bool         `json:"has_unread"`
	UnreadCount  int          `json:"unread_count"`
}

type ReadReceipt struct {
	ConversationID string  `json:"conversation_id"`
	ReaderID       string  `json:"reader_id"`
	IDs            []int64 `json:"ids"`
}

type UnreadChange struct {
	ConversationID string `json:"conversation_id"`
	ParticipantID  string `json:"participant_id"`
	Unread         bool   `json:"unread"`
}

type ResolveConversationRequest struct {
	ParticipantIDs []string `json:"participant_ids"`
}

type ResolveConversationResponse struct {
	Conversation Conversation `json:"conversation"`
}

type ListConversationsRequest struct{}

type ListConversationsResponse struct {
	Summaries []Summary `json:"summaries"`
}

type SendMessageRequest struct {
	ConversationID        string         `json:"conversation_id"`
	ClientMsgID           string         `json:"client_msg_id,omitempty"`
	Text                  string         `json:"text"`
	Attributes            map[string]any `json:"attributes,omitempty"`
	ClientCreatedAtUnixMs int64          `json:"client_created_at_unix_ms,omitempty"`
}

type SendMessageResponse struct {
	Message   Message `json:"message"`
	Duplicate bool    `json:"duplicate"`
}

type ListMessagesRequest struct {
	ConversationID string  `json:"conversation_id"`
	Limit          int     `json:"limit,omitempty"`
	Before         *Cursor `json:"before,omitempty"`
}

type ListMessagesResponse struct {
	Messages []Message `json:"messages"`
	// NextCursor pages further back; nil when the page was not full.
	NextCursor *Cursor `json:"next_cursor,omitempty"`
}

type MarkReadRequest struct {
	ConversationID string  `json:"conversation_id"`
	IDs            []int64 `json:"ids"`
}

type MarkAllReadRequest struct {
	ConversationID string `json:"conversation_id"`
}

type MarkReadResponse struct {
	Changed []int64 `json:"changed"`
}

type GetUnreadRequest struct {
	ConversationID string `json:"conversation_id"`
}

type GetUnreadResponse struct {
	HasUnread   bool `json:"has_unread"`
	UnreadCount int  `json:"unread_count"`
}

type WatchConversationRequest struct {
	ConversationID string  `json:"conversation_id"`
	Limit          int     `json:"limit,omitempty"`
	After          *Cursor `json:"after,omitempty"`
}

type WatchInboxRequest struct {
	Limit int `json:"limit,omitempty"`
}

// FeedEvent is one streamed feed update.
type FeedEvent struct {
	EventID          string        `json:"event_id"`
	Kind             string        `json:"kind"`
	ConversationID   string        `json:"conversation_id,omitempty"`
	OccurredAtUnixMs int64         `json:"occurred_at_unix_ms"`
	Conversation     *Conversation `json:"conversation,omitempty"`
	Messages         []Message     `json:"messages,omitempty"`
	Read             *ReadReceipt  `json:"read,omitempty"`
	Summaries        []Summary     `json:"summaries,omitempty"`
	Unread           *UnreadChange `json:"unread,omitempty"`
	Error            string        `json:"error,omitempty"`
}
