package feed

import (
	"context"

	"github.com/matheus3301/relay/internal/bus"
	"github.com/matheus3301/relay/internal/chat"
)

// SubscribeConversation delivers the newest messages of a conversation, then
// every append and read mark in order. With opts.After set the snapshot is
// replaced by the messages missed since that cursor.
func (d *Dispatcher) SubscribeConversation(ctx context.Context, conversationID string, opts Options, handler Handler) (*Subscription, error) {
	conv, err := d.src.Conversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	st := &conversationStream{src: d.src, conv: conv, limit: d.limit(opts), after: opts.After}
	return d.start(ctx, kindConversation, conv.ID, bus.ConversationTopic(conv.ID), st, opts, handler)
}

type conversationStream struct {
	src   Source
	conv  chat.Conversation
	limit int
	after *chat.Cursor

	// last is the newest message cursor delivered so far.
	last chat.Cursor
}

func (cs *conversationStream) initial(ctx context.Context) ([]Update, error) {
	if cs.after == nil {
		msgs, err := cs.src.ListRecent(ctx, cs.conv.ID, cs.limit, nil)
		if err != nil {
			return nil, err
		}
		if len(msgs) > 0 {
			cs.last = msgs[0].Cursor()
		}
		conv := cs.conv
		return []Update{{Kind: KindSnapshot, ConversationID: conv.ID, Conversation: &conv, Messages: msgs}}, nil
	}

	cs.last = *cs.after
	var updates []Update
	for {
		page, err := cs.src.ListAfter(ctx, cs.conv.ID, cs.last, cs.limit)
		if err != nil {
			return nil, err
		}
		for _, m := range page {
			updates = append(updates, appended(m))
			cs.last = m.Cursor()
		}
		if len(page) < cs.limit {
			return updates, nil
		}
	}
}

func (cs *conversationStream) next(_ context.Context, evt bus.Event) ([]Update, error) {
	switch p := evt.Payload.(type) {
	case chat.Message:
		if !cs.last.Less(p.Cursor()) {
			return nil, nil
		}
		cs.last = p.Cursor()
		return []Update{appended(p)}, nil
	case chat.ReadReceipt:
		return []Update{{Kind: KindRead, ConversationID: p.ConversationID, Read: &p}}, nil
	}
	return nil, nil
}

func appended(m chat.Message) Update {
	return Update{Kind: KindAppended, ConversationID: m.ConversationID, Messages: []chat.Message{m}}
}
