package identity

import (
	"context"

	"github.com/matheus3301/relay/internal/chat"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// UnaryServerInterceptor lifts the participant from incoming metadata onto the
// handler context. Calls without an id are rejected with Unauthenticated.
func UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx, err := fromIncoming(ctx)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamServerInterceptor is the streaming counterpart of UnaryServerInterceptor.
func StreamServerInterceptor() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, _ *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx, err := fromIncoming(ss.Context())
		if err != nil {
			return err
		}
		return handler(srv, &wrappedStream{ServerStream: ss, ctx: ctx})
	}
}

// OutgoingContext attaches p to ctx as gRPC metadata for client calls.
func OutgoingContext(ctx context.Context, p chat.Participant) context.Context {
	return metadata.AppendToOutgoingContext(ctx, MetadataID, p.ID, MetadataName, p.DisplayName)
}

func fromIncoming(ctx context.Context) (context.Context, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	p, err := Parse(first(md.Get(MetadataID)), first(md.Get(MetadataName)))
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, err.Error())
	}
	return WithParticipant(ctx, p), nil
}

func first(vals []string) string {
	if len(vals) == 0 {
		return ""
	}
	return vals[0]
}

type wrappedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (w *wrappedStream) Context() context.Context { return w.ctx }
