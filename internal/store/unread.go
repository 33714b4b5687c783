package store

import (
	"context"
	"time"

	"github.com/matheus3301/relay/internal/chat"
)

// UnreadStates returns the last recorded unread flag per participant.
func (db *DB) UnreadStates(ctx context.Context, conversationID string) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT participant_id, unread FROM unread_state WHERE conversation_id = ?`, conversationID)
	if err != nil {
		return nil, wrapErr("unread states", err)
	}
	defer func() { _ = rows.Close() }()

	states := make(map[string]bool)
	for rows.Next() {
		var (
			pid    string
			unread bool
		)
		if err := rows.Scan(&pid, &unread); err != nil {
			return nil, wrapErr("scan unread state", err)
		}
		states[pid] = unread
	}
	return states, wrapErr("unread states", rows.Err())
}

// SetUnreadState records the unread flag published for a participant.
func (db *DB) SetUnreadState(ctx context.Context, conversationID, participantID string, unread bool) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO unread_state (conversation_id, participant_id, unread, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(conversation_id, participant_id) DO UPDATE SET
			unread = excluded.unread,
			updated_at = excluded.updated_at`,
		conversationID, participantID, unread, time.Now().UnixMilli())
	return wrapErr("set unread state", err)
}

var _ chat.UnreadStateStore = (*DB)(nil)
