package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/matheus3301/relay/internal/chat"
)

// participantSep separates ids in GROUP_CONCAT output (ASCII unit separator).
const participantSep = "\x1f"

// InsertConversationIfAbsent inserts c unless a conversation with the same id
// exists. The insert and participant rows commit in one transaction; the
// existing record is returned when the id was already taken.
func (db *DB) InsertConversationIfAbsent(ctx context.Context, c chat.Conversation) (chat.Conversation, bool, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return chat.Conversation{}, false, wrapErr("begin insert conversation", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO conversations (id, created_at) VALUES (?, ?) ON CONFLICT(id) DO NOTHING`,
		c.ID, c.CreatedAt.UnixMilli())
	if err != nil {
		return chat.Conversation{}, false, wrapErr("insert conversation", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return chat.Conversation{}, false, wrapErr("insert conversation", err)
	}
	if n == 0 {
		existing, err := getConversation(ctx, tx, c.ID)
		if err != nil {
			return chat.Conversation{}, false, wrapErr("load conversation", err)
		}
		return existing, false, nil
	}

	for _, p := range c.Participants {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO conversation_participants (conversation_id, participant_id) VALUES (?, ?)`,
			c.ID, p); err != nil {
			return chat.Conversation{}, false, wrapErr("insert participant", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return chat.Conversation{}, false, wrapErr("commit conversation", err)
	}
	c.CreatedAt = time.UnixMilli(c.CreatedAt.UnixMilli()).UTC()
	return c, true, nil
}

// GetConversation returns a conversation by id or chat.ErrNotFound.
func (db *DB) GetConversation(ctx context.Context, id string) (chat.Conversation, error) {
	c, err := getConversation(ctx, db.DB, id)
	return c, wrapErr("get conversation", err)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func getConversation(ctx context.Context, q querier, id string) (chat.Conversation, error) {
	var (
		c            chat.Conversation
		createdAt    int64
		participants sql.NullString
	)
	err := q.QueryRowContext(ctx, `
		SELECT c.id, c.created_at,
			(SELECT GROUP_CONCAT(participant_id, char(31)) FROM conversation_participants WHERE conversation_id = c.id)
		FROM conversations c
		WHERE c.id = ?`, id).
		Scan(&c.ID, &createdAt, &participants)
	if errors.Is(err, sql.ErrNoRows) {
		return chat.Conversation{}, fmt.Errorf("conversation %q: %w", id, chat.ErrNotFound)
	}
	if err != nil {
		return chat.Conversation{}, err
	}
	c.CreatedAt = time.UnixMilli(createdAt).UTC()
	c.Participants = splitParticipants(participants.String)
	return c, nil
}

// ListConversations returns the conversations participantID belongs to,
// newest first.
func (db *DB) ListConversations(ctx context.Context, participantID string) ([]chat.Conversation, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT c.id, c.created_at,
			(SELECT GROUP_CONCAT(cp.participant_id, char(31)) FROM conversation_participants cp WHERE cp.conversation_id = c.id)
		FROM conversations c
		JOIN conversation_participants p ON p.conversation_id = c.id
		WHERE p.participant_id = ?
		ORDER BY c.created_at DESC, c.id`, participantID)
	if err != nil {
		return nil, wrapErr("list conversations", err)
	}
	defer func() { _ = rows.Close() }()

	var convs []chat.Conversation
	for rows.Next() {
		var (
			c            chat.Conversation
			createdAt    int64
			participants sql.NullString
		)
		if err := rows.Scan(&c.ID, &createdAt, &participants); err != nil {
			return nil, wrapErr("scan conversation", err)
		}
		c.CreatedAt = time.UnixMilli(createdAt).UTC()
		c.Participants = splitParticipants(participants.String)
		convs = append(convs, c)
	}
	return convs, wrapErr("list conversations", rows.Err())
}

func splitParticipants(s string) []string {
	if s == "" {
		return nil
	}
	ids := strings.Split(s, participantSep)
	slices.Sort(ids)
	return ids
}
