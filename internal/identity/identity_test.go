package identity

import (
	"context"
	"testing"

	"github.com/matheus3301/relay/internal/chat"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

func TestContextRoundTrip(t *testing.T) {
	_, ok := FromContext(context.Background())
	require.False(t, ok)

	_, err := Require(context.Background())
	require.ErrorIs(t, err, chat.ErrPermission)

	ctx := WithParticipant(context.Background(), chat.Participant{ID: "u1", DisplayName: "Ana"})
	p, err := Require(ctx)
	require.NoError(t, err)
	require.Equal(t, "u1", p.ID)
	require.Equal(t, "Ana", p.DisplayName)
}

func TestParse(t *testing.T) {
	p, err := Parse("  u1 ", " Ana ")
	require.NoError(t, err)
	require.Equal(t, chat.Participant{ID: "u1", DisplayName: "Ana"}, p)

	_, err = Parse("", "Ana")
	require.ErrorIs(t, err, chat.ErrPermission)

	_, err = Parse("a_b", "")
	require.ErrorIs(t, err, chat.ErrInvalidArgument)
}

func TestUnaryServerInterceptor(t *testing.T) {
	interceptor := UnaryServerInterceptor()
	handler := func(ctx context.Context, _ any) (any, error) {
		p, err := Require(ctx)
		return p.ID, err
	}

	md := metadata.Pairs(MetadataID, "u2", MetadataName, "Bia")
	got, err := interceptor(metadata.NewIncomingContext(context.Background(), md), nil, &grpc.UnaryServerInfo{}, handler)
	require.NoError(t, err)
	require.Equal(t, "u2", got)

	_, err = interceptor(context.Background(), nil, &grpc.UnaryServerInfo{}, handler)
	require.Equal(t, codes.Unauthenticated, status.Code(err))
}

func TestOutgoingContext(t *testing.T) {
	ctx := OutgoingContext(context.Background(), chat.Participant{ID: "u1", DisplayName: "Ana"})
	md, ok := metadata.FromOutgoingContext(ctx)
	require.True(t, ok)
	require.Equal(t, []string{"u1"}, md.Get(MetadataID))
	require.Equal(t, []string{"Ana"}, md.Get(MetadataName))
}
