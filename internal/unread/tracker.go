// Package unread derives per-participant unread state from message read flags
// and detects transitions of that state.
package unread

import (
	"context"
	"fmt"

	"github.com/matheus3301/relay/internal/chat"
	"go.uber.org/zap"
)

// Policy selects how the unread flag is derived.
type Policy string

const (
	// PolicyLatest looks only at the newest message: unread iff it is unread
	// and was sent by someone else. An older unread message hidden behind a
	// newer one does not count.
	PolicyLatest Policy = "latest"
	// PolicyAny is unread iff any message from someone else is unread.
	PolicyAny Policy = "any"
)

// ParsePolicy maps a config value to a Policy. Empty selects PolicyLatest.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case "", PolicyLatest:
		return PolicyLatest, nil
	case PolicyAny:
		return PolicyAny, nil
	}
	return "", fmt.Errorf("%w: unknown unread policy %q", chat.ErrInvalidArgument, s)
}

// Backend is the subset of chat.Store the tracker reads and writes.
type Backend interface {
	LatestMessage(ctx context.Context, conversationID string) (*chat.Message, error)
	CountUnread(ctx context.Context, conversationID, participantID string) (int, error)
	UnreadStates(ctx context.Context, conversationID string) (map[string]bool, error)
	SetUnreadState(ctx context.Context, conversationID, participantID string, unread bool) error
}

// Tracker computes unread flags. Recompute must be serialized per
// conversation by the caller.
type Tracker struct {
	backend Backend
	policy  Policy
	logger  *zap.Logger
}

// New creates a tracker with the given policy.
func New(backend Backend, policy Policy, logger *zap.Logger) *Tracker {
	if policy == "" {
		policy = PolicyLatest
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{backend: backend, policy: policy, logger: logger}
}

// Policy returns the active policy.
func (t *Tracker) Policy() Policy { return t.policy }

// Compute reports whether participantID has unread messages in the conversation.
func (t *Tracker) Compute(ctx context.Context, conversationID, participantID string) (bool, error) {
	if t.policy == PolicyAny {
		n, err := t.backend.CountUnread(ctx, conversationID, participantID)
		if err != nil {
			return false, fmt.Errorf("compute unread: %w", err)
		}
		return n > 0, nil
	}
	latest, err := t.backend.LatestMessage(ctx, conversationID)
	if err != nil {
		return false, fmt.Errorf("compute unread: %w", err)
	}
	return isUnreadFor(latest, participantID), nil
}

// UnreadCount returns how many messages from others participantID has not read.
// It is independent of the policy.
func (t *Tracker) UnreadCount(ctx context.Context, conversationID, participantID string) (int, error) {
	n, err := t.backend.CountUnread(ctx, conversationID, participantID)
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return n, nil
}

// Recompute evaluates every participant of c, persists the new flags and
// returns only the ones that changed since the last recompute.
func (t *Tracker) Recompute(ctx context.Context, c chat.Conversation) ([]chat.UnreadChange, error) {
	previous, err := t.backend.UnreadStates(ctx, c.ID)
	if err != nil {
		return nil, fmt.Errorf("load unread state: %w", err)
	}

	// The latest-message policy needs one read for the whole conversation.
	var latest *chat.Message
	if t.policy == PolicyLatest {
		if latest, err = t.backend.LatestMessage(ctx, c.ID); err != nil {
			return nil, fmt.Errorf("recompute unread: %w", err)
		}
	}

	var changes []chat.UnreadChange
	for _, p := range c.Participants {
		var now bool
		if t.policy == PolicyLatest {
			now = isUnreadFor(latest, p)
		} else if now, err = t.Compute(ctx, c.ID, p); err != nil {
			return nil, err
		}
		if now == previous[p] {
			continue
		}
		if err := t.backend.SetUnreadState(ctx, c.ID, p, now); err != nil {
			return changes, fmt.Errorf("store unread state: %w", err)
		}
		changes = append(changes, chat.UnreadChange{ConversationID: c.ID, ParticipantID: p, Unread: now})
	}
	if len(changes) > 0 {
		t.logger.Debug("unread state changed", zap.String("conversation", c.ID), zap.Int("changes", len(changes)))
	}
	return changes, nil
}

func isUnreadFor(m *chat.Message, participantID string) bool {
	return m != nil && !m.Read && m.SenderID != participantID
}
