package feed

import (
	"context"

	"github.com/matheus3301/relay/internal/bus"
	"github.com/matheus3301/relay/internal/chat"
)

// SubscribeConversationList delivers the summaries of every conversation of
// participantID, then re-delivers a conversation's summary whenever its last
// message or unread state changes. One subscription covers all conversations.
// The snapshot is the whole inbox; Options.Limit does not apply to it.
func (d *Dispatcher) SubscribeConversationList(ctx context.Context, participantID string, opts Options, handler Handler) (*Subscription, error) {
	st := &listStream{src: d.src, participant: participantID}
	return d.start(ctx, kindList, participantID, bus.ParticipantTopic(participantID), st, opts, handler)
}

type listStream struct {
	src         Source
	participant string
}

func (ls *listStream) initial(ctx context.Context) ([]Update, error) {
	sums, err := ls.src.Inbox(ctx, ls.participant)
	if err != nil {
		return nil, err
	}
	return []Update{{Kind: KindListSnapshot, Summaries: sums}}, nil
}

func (ls *listStream) next(ctx context.Context, evt bus.Event) ([]Update, error) {
	var convID string
	switch p := evt.Payload.(type) {
	case chat.UnreadChange:
		return []Update{{Kind: KindUnreadChanged, ConversationID: p.ConversationID, Unread: &p}}, nil
	case chat.Conversation:
		convID = p.ID
	case string:
		convID = p
	default:
		return nil, nil
	}
	// Summaries are read at delivery time so an upsert never carries stale state.
	sum, err := ls.src.Summary(ctx, convID, ls.participant)
	if err != nil {
		return nil, err
	}
	return []Update{{Kind: KindConversation, ConversationID: convID, Summaries: []chat.Summary{sum}}}, nil
}
