// Package directory maps participant sets to conversations.
package directory

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/matheus3301/relay/internal/chat"
	"go.uber.org/zap"
)

// Directory resolves participant sets to conversations, creating them lazily.
type Directory struct {
	store  chat.ConversationStore
	now    func() time.Time
	logger *zap.Logger
}

// New creates a directory backed by store.
func New(store chat.ConversationStore, logger *zap.Logger) *Directory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Directory{store: store, now: time.Now, logger: logger}
}

// ResolveOrCreate returns the conversation between participantIDs. The id is
// derived from the sorted set, so every caller with the same set converges on
// one record; created is true only for the caller whose insert won.
func (d *Directory) ResolveOrCreate(ctx context.Context, participantIDs []string) (chat.Conversation, bool, error) {
	norm, err := chat.NormalizeParticipants(participantIDs)
	if err != nil {
		return chat.Conversation{}, false, err
	}
	id, _ := chat.ConversationID(norm)

	stored, created, err := d.store.InsertConversationIfAbsent(ctx, chat.Conversation{
		ID:           id,
		Participants: norm,
		CreatedAt:    d.now().UTC().Truncate(time.Millisecond),
	})
	if err != nil {
		return chat.Conversation{}, false, fmt.Errorf("resolve conversation %q: %w", id, err)
	}
	if !slices.Equal(stored.Participants, norm) {
		d.logger.Error("conversation participant set mismatch",
			zap.String("conversation", id),
			zap.Strings("stored", stored.Participants),
			zap.Strings("requested", norm),
		)
		return chat.Conversation{}, false, fmt.Errorf("%w: conversation %q exists with participants %v", chat.ErrConflict, id, stored.Participants)
	}
	if created {
		d.logger.Info("conversation created", zap.String("conversation", id), zap.Int("participants", len(norm)))
	}
	return stored, created, nil
}

// Get returns a conversation by id.
func (d *Directory) Get(ctx context.Context, id string) (chat.Conversation, error) {
	return d.store.GetConversation(ctx, id)
}

// ListFor returns every conversation participantID belongs to.
func (d *Directory) ListFor(ctx context.Context, participantID string) ([]chat.Conversation, error) {
	return d.store.ListConversations(ctx, participantID)
}
