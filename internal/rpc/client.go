package rpc

import (
	"context"

	"google.golang.org/grpc"
)

// Client is the ConversationService client. Errors are translated back to the
// chat sentinels with FromStatus.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps an established connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// EventReceiver is the client side of a feed stream.
type EventReceiver interface {
	Recv() (*FeedEvent, error)
}

func callOpts(opts []grpc.CallOption) []grpc.CallOption {
	return append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	if err := cc.Invoke(ctx, method, in, out, callOpts(opts)...); err != nil {
		return nil, FromStatus(err)
	}
	return out, nil
}

func (c *Client) ResolveConversation(ctx context.Context, in *ResolveConversationRequest, opts ...grpc.CallOption) (*ResolveConversationResponse, error) {
	return invoke[ResolveConversationResponse](ctx, c.cc, ResolveConversationMethod, in, opts)
}

func (c *Client) ListConversations(ctx context.Context, in *ListConversationsRequest, opts ...grpc.CallOption) (*ListConversationsResponse, error) {
	return invoke[ListConversationsResponse](ctx, c.cc, ListConversationsMethod, in, opts)
}

func (c *Client) SendMessage(ctx context.Context, in *SendMessageRequest, opts ...grpc.CallOption) (*SendMessageResponse, error) {
	return invoke[SendMessageResponse](ctx, c.cc, SendMessageMethod, in, opts)
}

func (c *Client) ListMessages(ctx context.Context, in *ListMessagesRequest, opts ...grpc.CallOption) (*ListMessagesResponse, error) {
	return invoke[ListMessagesResponse](ctx, c.cc, ListMessagesMethod, in, opts)
}

func (c *Client) MarkRead(ctx context.Context, in *MarkReadRequest, opts ...grpc.CallOption) (*MarkReadResponse, error) {
	return invoke[MarkReadResponse](ctx, c.cc, MarkReadMethod, in, opts)
}

func (c *Client) MarkAllRead(ctx context.Context, in *MarkAllReadRequest, opts ...grpc.CallOption) (*MarkReadResponse, error) {
	return invoke[MarkReadResponse](ctx, c.cc, MarkAllReadMethod, in, opts)
}

func (c *Client) GetUnread(ctx context.Context, in *GetUnreadRequest, opts ...grpc.CallOption) (*GetUnreadResponse, error) {
	return invoke[GetUnreadResponse](ctx, c.cc, GetUnreadMethod, in, opts)
}

func (c *Client) WatchConversation(ctx context.Context, in *WatchConversationRequest, opts ...grpc.CallOption) (EventReceiver, error) {
	return c.watch(ctx, 0, WatchConversationMethod, in, opts)
}

func (c *Client) WatchInbox(ctx context.Context, in *WatchInboxRequest, opts ...grpc.CallOption) (EventReceiver, error) {
	return c.watch(ctx, 1, WatchInboxMethod, in, opts)
}

func (c *Client) watch(ctx context.Context, idx int, method string, in any, opts []grpc.CallOption) (EventReceiver, error) {
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[idx], method, callOpts(opts)...)
	if err != nil {
		return nil, FromStatus(err)
	}
	if err := stream.SendMsg(in); err != nil {
		return nil, FromStatus(err)
	}
	if err := stream.CloseSend(); err != nil {
		return nil, FromStatus(err)
	}
	return &eventReceiver{stream}, nil
}

type eventReceiver struct {
	grpc.ClientStream
}

func (r *eventReceiver) Recv() (*FeedEvent, error) {
	evt := new(FeedEvent)
	if err := r.ClientStream.RecvMsg(evt); err != nil {
		return nil, FromStatus(err)
	}
	return evt, nil
}
