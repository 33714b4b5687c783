// Package api implements the relay.v1 gRPC services on top of the engine and
// the feed dispatcher.
package api

import (
	"context"
	"time"

	"github.com/matheus3301/relay/internal/chat"
	"github.com/matheus3301/relay/internal/engine"
	"github.com/matheus3301/relay/internal/feed"
	"github.com/matheus3301/relay/internal/identity"
	"github.com/matheus3301/relay/internal/messages"
	"github.com/matheus3301/relay/internal/rpc"
	"go.uber.org/zap"
)

const defaultPageLimit = 50

// ConversationService implements rpc.ConversationServiceServer. The caller
// identity is placed on the context by identity.UnaryServerInterceptor.
type ConversationService struct {
	engine *engine.Engine
	feed   *feed.Dispatcher
	logger *zap.Logger
}

var _ rpc.ConversationServiceServer = (*ConversationService)(nil)

// NewConversationService creates the service.
func NewConversationService(e *engine.Engine, d *feed.Dispatcher, logger *zap.Logger) *ConversationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConversationService{engine: e, feed: d, logger: logger}
}

func (s *ConversationService) ResolveConversation(ctx context.Context, req *rpc.ResolveConversationRequest) (*rpc.ResolveConversationResponse, error) {
	c, err := s.engine.ResolveOrCreate(ctx, req.ParticipantIDs)
	if err != nil {
		return nil, rpc.ToStatus(err)
	}
	return &rpc.ResolveConversationResponse{Conversation: rpc.FromConversation(c)}, nil
}

func (s *ConversationService) ListConversations(ctx context.Context, _ *rpc.ListConversationsRequest) (*rpc.ListConversationsResponse, error) {
	caller, err := identity.Require(ctx)
	if err != nil {
		return nil, rpc.ToStatus(err)
	}
	sums, err := s.engine.Inbox(ctx, caller.ID)
	if err != nil {
		return nil, rpc.ToStatus(err)
	}
	return &rpc.ListConversationsResponse{Summaries: rpc.FromSummaries(sums)}, nil
}

func (s *ConversationService) SendMessage(ctx context.Context, req *rpc.SendMessageRequest) (*rpc.SendMessageResponse, error) {
	caller, err := identity.Require(ctx)
	if err != nil {
		return nil, rpc.ToStatus(err)
	}
	var opts []messages.AppendOption
	if req.ClientMsgID != "" {
		opts = append(opts, messages.WithClientMsgID(req.ClientMsgID))
	}
	if req.ClientCreatedAtUnixMs != 0 {
		opts = append(opts, messages.WithClientTime(time.UnixMilli(req.ClientCreatedAtUnixMs)))
	}
	body := chat.Body{Text: req.Text, Attributes: req.Attributes}
	ack, err := s.engine.Append(ctx, req.ConversationID, caller.ID, body, opts...)
	if err != nil {
		return nil, rpc.ToStatus(err)
	}
	return &rpc.SendMessageResponse{Message: rpc.FromMessage(ack.Message), Duplicate: ack.Duplicate}, nil
}

func (s *ConversationService) ListMessages(ctx context.Context, req *rpc.ListMessagesRequest) (*rpc.ListMessagesResponse, error) {
	limit := messages.PageSize(req.Limit, defaultPageLimit)
	msgs, err := s.engine.ListRecent(ctx, req.ConversationID, limit, req.Before.ToChat())
	if err != nil {
		return nil, rpc.ToStatus(err)
	}
	resp := &rpc.ListMessagesResponse{Messages: rpc.FromMessages(msgs)}
	if len(msgs) == limit {
		resp.NextCursor = rpc.FromCursor(msgs[len(msgs)-1].Cursor())
	}
	return resp, nil
}

func (s *ConversationService) MarkRead(ctx context.Context, req *rpc.MarkReadRequest) (*rpc.MarkReadResponse, error) {
	caller, err := identity.Require(ctx)
	if err != nil {
		return nil, rpc.ToStatus(err)
	}
	changed, err := s.engine.MarkRead(ctx, req.ConversationID, req.IDs, caller.ID)
	if err != nil {
		return nil, rpc.ToStatus(err)
	}
	return &rpc.MarkReadResponse{Changed: changed}, nil
}

func (s *ConversationService) MarkAllRead(ctx context.Context, req *rpc.MarkAllReadRequest) (*rpc.MarkReadResponse, error) {
	caller, err := identity.Require(ctx)
	if err != nil {
		return nil, rpc.ToStatus(err)
	}
	changed, err := s.engine.MarkAllRead(ctx, req.ConversationID, caller.ID)
	if err != nil {
		return nil, rpc.ToStatus(err)
	}
	return &rpc.MarkReadResponse{Changed: changed}, nil
}

func (s *ConversationService) GetUnread(ctx context.Context, req *rpc.GetUnreadRequest) (*rpc.GetUnreadResponse, error) {
	caller, err := identity.Require(ctx)
	if err != nil {
		return nil, rpc.ToStatus(err)
	}
	sum, err := s.engine.Summary(ctx, req.ConversationID, caller.ID)
	if err != nil {
		return nil, rpc.ToStatus(err)
	}
	return &rpc.GetUnreadResponse{HasUnread: sum.HasUnread, UnreadCount: sum.UnreadCount}, nil
}

func (s *ConversationService) WatchConversation(req *rpc.WatchConversationRequest, stream rpc.EventStream) error {
	opts := feed.Options{Limit: req.Limit, After: req.After.ToChat()}
	return s.watch(stream, func(ctx context.Context, h feed.Handler) (*feed.Subscription, error) {
		return s.feed.SubscribeConversation(ctx, req.ConversationID, withStatusError(opts), h)
	})
}

func (s *ConversationService) WatchInbox(req *rpc.WatchInboxRequest, stream rpc.EventStream) error {
	caller, err := identity.Require(stream.Context())
	if err != nil {
		return rpc.ToStatus(err)
	}
	opts := feed.Options{Limit: req.Limit}
	return s.watch(stream, func(ctx context.Context, h feed.Handler) (*feed.Subscription, error) {
		return s.feed.SubscribeConversationList(ctx, caller.ID, withStatusError(opts), h)
	})
}

// withStatusError keeps the terminal error off the event stream; watch
// reports it as the stream status instead.
func withStatusError(opts feed.Options) feed.Options {
	opts.OnError = func(error) {}
	return opts
}

// watch forwards feed updates to the stream until the client goes away or
// the subscription ends.
func (s *ConversationService) watch(stream rpc.EventStream, subscribe func(context.Context, feed.Handler) (*feed.Subscription, error)) error {
	sub, err := subscribe(stream.Context(), func(u feed.Update) error {
		return stream.Send(rpc.FromUpdate(u))
	})
	if err != nil {
		return rpc.ToStatus(err)
	}
	<-sub.Done()
	if err := sub.Err(); err != nil {
		s.logger.Info("watch ended", zap.String("subscription", sub.ID()), zap.Error(err))
		return rpc.ToStatus(err)
	}
	return nil
}
