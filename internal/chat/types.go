// Package chat holds the conversation model shared by every layer: participants,
// conversations, messages, cursors and the persistent store contract.
package chat

import "time"

// Participant is an identity reference supplied by the identity collaborator.
type Participant struct {
	ID          string
	DisplayName string
}

// Conversation is a thread between a fixed set of participants.
// Participants is sorted and never changes after creation.
type Conversation struct {
	ID           string
	Participants []string
	CreatedAt    time.Time
}

// Has reports whether participantID belongs to the conversation.
func (c Conversation) Has(participantID string) bool {
	for _, p := range c.Participants {
		if p == participantID {
			return true
		}
	}
	return false
}

// Message is an immutable record in a conversation. Only Read ever changes,
// and only from false to true.
type Message struct {
	ConversationID  string
	ID              int64 // per-conversation sequence, assigned by the store
	ClientMsgID     string
	SenderID        string
	Body            Body
	CreatedAt       time.Time // server-assigned, never earlier than the previous message
	ClientCreatedAt time.Time
	Read            bool
}

// Cursor returns the message position in the conversation's total order.
func (m Message) Cursor() Cursor {
	return Cursor{CreatedAt: m.CreatedAt.UnixMilli(), ID: m.ID}
}

// NewMessage is the input to MessageStore.AppendMessage.
type NewMessage struct {
	ConversationID  string
	ClientMsgID     string
	SenderID        string
	Body            Body
	CreatedAt       time.Time // proposed; the store moves it forward if needed
	ClientCreatedAt time.Time
}

// Cursor identifies a position in a conversation: (CreatedAt ms, ID) with ID as tie-break.
type Cursor struct {
	CreatedAt int64
	ID        int64
}

// Less reports whether c sorts strictly before o.
func (c Cursor) Less(o Cursor) bool {
	if c.CreatedAt != o.CreatedAt {
		return c.CreatedAt < o.CreatedAt
	}
	return c.ID < o.ID
}

// Page selects a window of messages. Before lists newest-first strictly older
// than the cursor; After lists oldest-first strictly newer. With neither set the
// newest messages are returned newest-first.
type Page struct {
	Before *Cursor
	After  *Cursor
	Limit  int
}

// Summary is the conversation-list view of a conversation for one participant.
type Summary struct {
	Conversation Conversation
	LastMessage  *Message
	HasUnread    bool
	UnreadCount  int
}

// ActivityAt is the time the summary sorts by: the last message, or creation.
func (s Summary) ActivityAt() time.Time {
	if s.LastMessage != nil {
		return s.LastMessage.CreatedAt
	}
	return s.Conversation.CreatedAt
}

// UnreadChange records a transition of a participant's unread flag.
type UnreadChange struct {
	ConversationID string
	ParticipantID  string
	Unread         bool
}

// ReadReceipt records messages a reader marked as read in one operation.
type ReadReceipt struct {
	ConversationID string
	ReaderID       string
	IDs            []int64
}
