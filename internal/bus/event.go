package bus

import (
	"time"

	"github.com/google/uuid"
)

// Event kinds published by the engine.
const (
	ConversationCreated = "conversation.created"
	MessageAppended     = "message.appended"
	MessageRead         = "message.read"
	UnreadChanged       = "unread.changed"
	SummaryChanged      = "summary.changed"
)

// Event represents a domain event published on the bus.
type Event struct {
	ID        string
	Kind      string
	Topic     string
	Timestamp time.Time
	Payload   any
}

// NewEvent stamps an event with a fresh id and the current time.
func NewEvent(topic, kind string, payload any) Event {
	return Event{
		ID:        uuid.NewString(),
		Kind:      kind,
		Topic:     topic,
		Timestamp: time.Now(),
		Payload:   payload,
	}
}

// ConversationTopic is the topic carrying a conversation's message events.
func ConversationTopic(conversationID string) string {
	return "conversation:" + conversationID
}

// ParticipantTopic is the topic carrying a participant's conversation-list events.
func ParticipantTopic(participantID string) string {
	return "participant:" + participantID
}
