package rpc

import (
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/relay/internal/chat"
	"github.com/matheus3301/relay/internal/feed"
	"github.com/samber/lo"
)

const previewLength = 100

func FromCursor(c chat.Cursor) *Cursor {
	return &Cursor{CreatedAtUnixMs: c.CreatedAt, ID: c.ID}
}

// ToChat returns nil for a nil cursor.
func (c *Cursor) ToChat() *chat.Cursor {
	if c == nil {
		return nil
	}
	return &chat.Cursor{CreatedAt: c.CreatedAtUnixMs, ID: c.ID}
}

func FromConversation(c chat.Conversation) Conversation {
	return Conversation{ID: c.ID, Participants: c.Participants, CreatedAtUnixMs: c.CreatedAt.UnixMilli()}
}

func FromMessage(m chat.Message) Message {
	out := Message{
		ConversationID:  m.ConversationID,
		ID:              m.ID,
		ClientMsgID:     m.ClientMsgID,
		SenderID:        m.SenderID,
		SenderName:      m.Body.SenderName,
		Text:            m.Body.Text,
		Attributes:      m.Body.Attributes,
		CreatedAtUnixMs: m.CreatedAt.UnixMilli(),
		Read:            m.Read,
	}
	if !m.ClientCreatedAt.IsZero() {
		out.ClientCreatedAtUnixMs = m.ClientCreatedAt.UnixMilli()
	}
	return out
}

func FromMessages(msgs []chat.Message) []Message {
	return lo.Map(msgs, func(m chat.Message, _ int) Message { return FromMessage(m) })
}

// ToChat converts a wire message back to the domain type.
func (m Message) ToChat() chat.Message {
	out := chat.Message{
		ConversationID: m.ConversationID,
		ID:             m.ID,
		ClientMsgID:    m.ClientMsgID,
		SenderID:       m.SenderID,
		Body:           chat.Body{Text: m.Text, SenderName: m.SenderName, Attributes: m.Attributes},
		CreatedAt:      time.UnixMilli(m.CreatedAtUnixMs).UTC(),
		Read:           m.Read,
	}
	if m.ClientCreatedAtUnixMs != 0 {
		out.ClientCreatedAt = time.UnixMilli(m.ClientCreatedAtUnixMs).UTC()
	}
	return out
}

func FromSummary(s chat.Summary) Summary {
	out := Summary{
		Conversation: FromConversation(s.Conversation),
		HasUnread:    s.HasUnread,
		UnreadCount:  s.UnreadCount,
	}
	if s.LastMessage != nil {
		m := FromMessage(*s.LastMessage)
		out.LastMessage = &m
		out.Preview = s.LastMessage.Body.Preview(previewLength)
	}
	return out
}

func FromSummaries(sums []chat.Summary) []Summary {
	return lo.Map(sums, func(s chat.Summary, _ int) Summary { return FromSummary(s) })
}

// FromUpdate wraps a feed update in a FeedEvent envelope.
func FromUpdate(u feed.Update) *FeedEvent {
	evt := &FeedEvent{
		EventID:          uuid.NewString(),
		Kind:             string(u.Kind),
		ConversationID:   u.ConversationID,
		OccurredAtUnixMs: time.Now().UnixMilli(),
		Messages:         FromMessages(u.Messages),
		Summaries:        FromSummaries(u.Summaries),
	}
	if u.Conversation != nil {
		c := FromConversation(*u.Conversation)
		evt.Conversation = &c
	}
	if u.Read != nil {
		evt.Read = &ReadReceipt{ConversationID: u.Read.ConversationID, ReaderID: u.Read.ReaderID, IDs: u.Read.IDs}
	}
	if u.Unread != nil {
		evt.Unread = &UnreadChange{ConversationID: u.Unread.ConversationID, ParticipantID: u.Unread.ParticipantID, Unread: u.Unread.Unread}
	}
	if u.Err != nil {
		evt.Error = u.Err.Error()
	}
	return evt
}
