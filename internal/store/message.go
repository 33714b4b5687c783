package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/relay/internal/chat"
	"github.com/samber/lo"
)

const defaultPageSize = 50

const messageColumns = `conversation_id, seq, client_msg_id, sender_id, body, created_at, client_created_at, read`

// AppendMessage stores m as the next message of its conversation.
func (db *DB) AppendMessage(ctx context.Context, m chat.NewMessage) (chat.Message, bool, error) {
	if m.ClientMsgID == "" {
		m.ClientMsgID = uuid.NewString()
	}
	body, err := chat.EncodeBody(m.Body)
	if err != nil {
		return chat.Message{}, false, err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return chat.Message{}, false, wrapErr("begin append", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM conversations WHERE id = ?`, m.ConversationID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return chat.Message{}, false, fmt.Errorf("conversation %q: %w", m.ConversationID, chat.ErrNotFound)
	}
	if err != nil {
		return chat.Message{}, false, wrapErr("append", err)
	}

	dup, err := scanMessage(tx.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE conversation_id = ? AND client_msg_id = ?`,
		m.ConversationID, m.ClientMsgID))
	if err == nil {
		if dup.SenderID != m.SenderID {
			return chat.Message{}, false, fmt.Errorf("%w: client message id %q already used by another sender", chat.ErrConflict, m.ClientMsgID)
		}
		return dup, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return chat.Message{}, false, wrapErr("append", err)
	}

	var lastSeq, lastAt int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0), COALESCE(MAX(created_at), 0) FROM messages WHERE conversation_id = ?`,
		m.ConversationID).Scan(&lastSeq, &lastAt); err != nil {
		return chat.Message{}, false, wrapErr("append", err)
	}

	createdAt := max(m.CreatedAt.UnixMilli(), lastAt)
	var clientAt int64
	if !m.ClientCreatedAt.IsZero() {
		clientAt = m.ClientCreatedAt.UnixMilli()
	}
	stored := chat.Message{
		ConversationID: m.ConversationID,
		ID:             lastSeq + 1,
		ClientMsgID:    m.ClientMsgID,
		SenderID:       m.SenderID,
		Body:           m.Body,
		CreatedAt:      time.UnixMilli(createdAt).UTC(),
	}
	if clientAt != 0 {
		stored.ClientCreatedAt = time.UnixMilli(clientAt).UTC()
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO messages (`+messageColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0)`,
		stored.ConversationID, stored.ID, stored.ClientMsgID, stored.SenderID, body, createdAt, clientAt); err != nil {
		return chat.Message{}, false, wrapErr("insert message", err)
	}
	if err := tx.Commit(); err != nil {
		return chat.Message{}, false, wrapErr("commit append", err)
	}
	return stored, false, nil
}

// ListMessages returns messages using keyset pagination on (created_at, seq).
func (db *DB) ListMessages(ctx context.Context, conversationID string, page chat.Page) ([]chat.Message, error) {
	limit := page.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}

	var (
		rows *sql.Rows
		err  error
	)
	switch {
	case page.After != nil:
		rows, err = db.QueryContext(ctx, `
			SELECT `+messageColumns+` FROM messages
			WHERE conversation_id = ? AND (created_at > ? OR (created_at = ? AND seq > ?))
			ORDER BY created_at ASC, seq ASC
			LIMIT ?`, conversationID, page.After.CreatedAt, page.After.CreatedAt, page.After.ID, limit)
	case page.Before != nil:
		rows, err = db.QueryContext(ctx, `
			SELECT `+messageColumns+` FROM messages
			WHERE conversation_id = ? AND (created_at < ? OR (created_at = ? AND seq < ?))
			ORDER BY created_at DESC, seq DESC
			LIMIT ?`, conversationID, page.Before.CreatedAt, page.Before.CreatedAt, page.Before.ID, limit)
	default:
		rows, err = db.QueryContext(ctx, `
			SELECT `+messageColumns+` FROM messages
			WHERE conversation_id = ?
			ORDER BY created_at DESC, seq DESC
			LIMIT ?`, conversationID, limit)
	}
	if err != nil {
		return nil, wrapErr("list messages", err)
	}
	defer func() { _ = rows.Close() }()

	var msgs []chat.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, wrapErr("scan message", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, wrapErr("list messages", rows.Err())
}

// LatestMessage returns the newest message or nil when the conversation is empty.
func (db *DB) LatestMessage(ctx context.Context, conversationID string) (*chat.Message, error) {
	m, err := scanMessage(db.QueryRowContext(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at DESC, seq DESC
		LIMIT 1`, conversationID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr("latest message", err)
	}
	return &m, nil
}

// MarkRead flips the read flag of ids that readerID did not send. Every id
// must exist; otherwise nothing is updated and chat.ErrNotFound is returned.
func (db *DB) MarkRead(ctx context.Context, conversationID string, ids []int64, readerID string) ([]int64, error) {
	ids = lo.Uniq(ids)
	slices.Sort(ids)

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, wrapErr("begin mark read", err)
	}
	defer func() { _ = tx.Rollback() }()

	var changed []int64
	for _, id := range ids {
		var (
			sender string
			read   bool
		)
		err := tx.QueryRowContext(ctx,
			`SELECT sender_id, read FROM messages WHERE conversation_id = ? AND seq = ?`,
			conversationID, id).Scan(&sender, &read)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("message %d in conversation %q: %w", id, conversationID, chat.ErrNotFound)
		}
		if err != nil {
			return nil, wrapErr("mark read", err)
		}
		if !read && sender != readerID {
			changed = append(changed, id)
		}
	}
	if len(changed) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(changed)), ",")
	args := append([]any{conversationID}, lo.Map(changed, func(id int64, _ int) any { return id })...)
	if _, err := tx.ExecContext(ctx,
		`UPDATE messages SET read = 1 WHERE conversation_id = ? AND seq IN (`+placeholders+`)`, args...); err != nil {
		return nil, wrapErr("mark read", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, wrapErr("commit mark read", err)
	}
	return changed, nil
}

// MarkAllRead marks every unread message not sent by readerID as read.
func (db *DB) MarkAllRead(ctx context.Context, conversationID, readerID string) ([]int64, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, wrapErr("begin mark all read", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx,
		`SELECT seq FROM messages WHERE conversation_id = ? AND read = 0 AND sender_id != ? ORDER BY seq`,
		conversationID, readerID)
	if err != nil {
		return nil, wrapErr("mark all read", err)
	}
	var changed []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, wrapErr("mark all read", err)
		}
		changed = append(changed, id)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return nil, wrapErr("mark all read", err)
	}
	if len(changed) == 0 {
		return nil, nil
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE messages SET read = 1 WHERE conversation_id = ? AND read = 0 AND sender_id != ?`,
		conversationID, readerID); err != nil {
		return nil, wrapErr("mark all read", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, wrapErr("commit mark all read", err)
	}
	return changed, nil
}

// CountUnread counts unread messages in the conversation not sent by participantID.
func (db *DB) CountUnread(ctx context.Context, conversationID, participantID string) (int, error) {
	var n int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE conversation_id = ? AND read = 0 AND sender_id != ?`,
		conversationID, participantID).Scan(&n)
	return n, wrapErr("count unread", err)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(s scanner) (chat.Message, error) {
	var (
		m         chat.Message
		body      []byte
		createdAt int64
		clientAt  int64
	)
	if err := s.Scan(&m.ConversationID, &m.ID, &m.ClientMsgID, &m.SenderID, &body, &createdAt, &clientAt, &m.Read); err != nil {
		return chat.Message{}, err
	}
	b, err := chat.DecodeBody(body)
	if err != nil {
		return chat.Message{}, err
	}
	m.Body = b
	m.CreatedAt = time.UnixMilli(createdAt).UTC()
	if clientAt != 0 {
		m.ClientCreatedAt = time.UnixMilli(clientAt).UTC()
	}
	return m, nil
}
