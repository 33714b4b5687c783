// Package identity carries the calling participant on a context.Context.
//
// The service performs no authentication: whatever id the transport supplies
// (gRPC metadata, HTTP headers) is trusted as sender and reader identity.
package identity

import (
	"context"
	"fmt"
	"strings"

	"github.com/matheus3301/relay/internal/chat"
)

// Metadata keys carrying the participant on gRPC calls. HTTP uses the
// canonical header form (X-Participant-Id, X-Participant-Name).
const (
	MetadataID   = "x-participant-id"
	MetadataName = "x-participant-name"
)

type ctxKey struct{}

// WithParticipant returns a context carrying p.
func WithParticipant(ctx context.Context, p chat.Participant) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

// FromContext returns the participant stored by WithParticipant.
func FromContext(ctx context.Context) (chat.Participant, bool) {
	p, ok := ctx.Value(ctxKey{}).(chat.Participant)
	return p, ok && p.ID != ""
}

// Require returns the calling participant or chat.ErrPermission.
func Require(ctx context.Context) (chat.Participant, error) {
	p, ok := FromContext(ctx)
	if !ok {
		return chat.Participant{}, fmt.Errorf("%w: no participant identity", chat.ErrPermission)
	}
	return p, nil
}

// Parse builds a participant from transport values.
func Parse(id, name string) (chat.Participant, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return chat.Participant{}, fmt.Errorf("%w: missing participant id", chat.ErrPermission)
	}
	if err := chat.ValidateParticipantID(id); err != nil {
		return chat.Participant{}, err
	}
	return chat.Participant{ID: id, DisplayName: strings.TrimSpace(name)}, nil
}
