package rpc

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "relay.v1.ConversationService"

const (
	ResolveConversationMethod = "/" + ServiceName + "/ResolveConversation"
	ListConversationsMethod   = "/" + ServiceName + "/ListConversations"
	SendMessageMethod         = "/" + ServiceName + "/SendMessage"
	ListMessagesMethod        = "/" + ServiceName + "/ListMessages"
	MarkReadMethod            = "/" + ServiceName + "/MarkRead"
	MarkAllReadMethod         = "/" + ServiceName + "/MarkAllRead"
	GetUnreadMethod           = "/" + ServiceName + "/GetUnread"
	WatchConversationMethod   = "/" + ServiceName + "/WatchConversation"
	WatchInboxMethod          = "/" + ServiceName + "/WatchInbox"
)

// ConversationServiceServer is the server API for ConversationService.
type ConversationServiceServer interface {
	ResolveConversation(context.Context, *ResolveConversationRequest) (*ResolveConversationResponse, error)
	ListConversations(context.Context, *ListConversationsRequest) (*ListConversationsResponse, error)
	SendMessage(context.Context, *SendMessageRequest) (*SendMessageResponse, error)
	ListMessages(context.Context, *ListMessagesRequest) (*ListMessagesResponse, error)
	MarkRead(context.Context, *MarkReadRequest) (*MarkReadResponse, error)
	MarkAllRead(context.Context, *MarkAllReadRequest) (*MarkReadResponse, error)
	GetUnread(context.Context, *GetUnreadRequest) (*GetUnreadResponse, error)
	WatchConversation(*WatchConversationRequest, EventStream) error
	WatchInbox(*WatchInboxRequest, EventStream) error
}

// EventStream is the server side of a feed stream.
type EventStream interface {
	Send(*FeedEvent) error
	grpc.ServerStream
}

type eventStream struct {
	grpc.ServerStream
}

func (s *eventStream) Send(evt *FeedEvent) error {
	return s.ServerStream.SendMsg(evt)
}

// RegisterConversationServiceServer registers srv on s.
func RegisterConversationServiceServer(s grpc.ServiceRegistrar, srv ConversationServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// ServiceDesc describes ConversationService for grpc.Server.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ConversationServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(ResolveConversationMethod, ConversationServiceServer.ResolveConversation),
		unary(ListConversationsMethod, ConversationServiceServer.ListConversations),
		unary(SendMessageMethod, ConversationServiceServer.SendMessage),
		unary(ListMessagesMethod, ConversationServiceServer.ListMessages),
		unary(MarkReadMethod, ConversationServiceServer.MarkRead),
		unary(MarkAllReadMethod, ConversationServiceServer.MarkAllRead),
		unary(GetUnreadMethod, ConversationServiceServer.GetUnread),
	},
	Streams: []grpc.StreamDesc{
		serverStream(WatchConversationMethod, ConversationServiceServer.WatchConversation),
		serverStream(WatchInboxMethod, ConversationServiceServer.WatchInbox),
	},
	Metadata: "relay/v1/conversation.proto",
}

func methodName(full string) string {
	return full[len(ServiceName)+2:]
}

func unary[Req, Resp any](full string, call func(ConversationServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: methodName(full),
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(ConversationServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: full}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(ConversationServiceServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

func serverStream[Req any](full string, call func(ConversationServiceServer, *Req, EventStream) error) grpc.StreamDesc {
	return grpc.StreamDesc{
		StreamName: methodName(full),
		Handler: func(srv any, stream grpc.ServerStream) error {
			in := new(Req)
			if err := stream.RecvMsg(in); err != nil {
				return err
			}
			return call(srv.(ConversationServiceServer), in, &eventStream{stream})
		},
		ServerStreams: true,
	}
}
