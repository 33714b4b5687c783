// Package storetest is a conformance suite for chat.Store implementations.
package storetest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/matheus3301/relay/internal/chat"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// Factory returns an empty store; cleanup is registered on t.
type Factory func(t *testing.T) chat.Store

// Run exercises every chat.Store operation against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s chat.Store)
	}{
		{"InsertConversationIfAbsent", testInsertIfAbsent},
		{"ConcurrentInsertConversation", testConcurrentInsert},
		{"GetConversationNotFound", testGetNotFound},
		{"ListConversations", testListConversations},
		{"AppendAssignsOrder", testAppendOrder},
		{"AppendReconcilesClock", testAppendClock},
		{"AppendIdempotentOnClientID", testAppendDuplicate},
		{"AppendUnknownConversation", testAppendUnknown},
		{"ListMessagesPagination", testPagination},
		{"LatestMessage", testLatest},
		{"MarkRead", testMarkRead},
		{"MarkReadUnknownID", testMarkReadUnknown},
		{"MarkAllRead", testMarkAllRead},
		{"UnreadState", testUnreadState},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tc.fn(t, newStore(t))
		})
	}
}

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func conversation(t *testing.T, s chat.Store, ids ...string) chat.Conversation {
	t.Helper()
	id, err := chat.ConversationID(ids)
	require.NoError(t, err)
	norm, _ := chat.NormalizeParticipants(ids)
	c, _, err := s.InsertConversationIfAbsent(context.Background(), chat.Conversation{ID: id, Participants: norm, CreatedAt: base})
	require.NoError(t, err)
	return c
}

func appendText(t *testing.T, s chat.Store, convID, sender, text string, at time.Time) chat.Message {
	t.Helper()
	m, dup, err := s.AppendMessage(context.Background(), chat.NewMessage{
		ConversationID: convID,
		ClientMsgID:    fmt.Sprintf("%s-%s-%d", sender, text, at.UnixNano()),
		SenderID:       sender,
		Body:           chat.Body{Text: text, SenderName: sender},
		CreatedAt:      at,
	})
	require.NoError(t, err)
	require.False(t, dup)
	return m
}

func testInsertIfAbsent(t *testing.T, s chat.Store) {
	req := require.New(t)
	ctx := context.Background()
	c := chat.Conversation{ID: "u1_u2", Participants: []string{"u1", "u2"}, CreatedAt: base}

	stored, created, err := s.InsertConversationIfAbsent(ctx, c)
	req.NoError(err)
	req.True(created)
	req.Equal(c, stored)

	again, created, err := s.InsertConversationIfAbsent(ctx, chat.Conversation{ID: "u1_u2", Participants: []string{"u1", "u2"}, CreatedAt: base.Add(time.Hour)})
	req.NoError(err)
	req.False(created)
	req.Equal(c, again, "existing record wins")

	got, err := s.GetConversation(ctx, "u1_u2")
	req.NoError(err)
	req.Equal(c, got)
}

func testConcurrentInsert(t *testing.T, s chat.Store) {
	req := require.New(t)
	const n = 16
	created := make([]bool, n)
	var g errgroup.Group
	for i := range n {
		g.Go(func() error {
			_, ok, err := s.InsertConversationIfAbsent(context.Background(),
				chat.Conversation{ID: "a_b", Participants: []string{"a", "b"}, CreatedAt: base})
			created[i] = ok
			return err
		})
	}
	req.NoError(g.Wait())

	count := 0
	for _, ok := range created {
		if ok {
			count++
		}
	}
	req.Equal(1, count, "exactly one caller inserts")

	convs, err := s.ListConversations(context.Background(), "a")
	req.NoError(err)
	req.Len(convs, 1)
}

func testGetNotFound(t *testing.T, s chat.Store) {
	_, err := s.GetConversation(context.Background(), "nobody_none")
	require.ErrorIs(t, err, chat.ErrNotFound)
}

func testListConversations(t *testing.T, s chat.Store) {
	req := require.New(t)
	conversation(t, s, "u1", "u2")
	conversation(t, s, "u1", "u3")
	conversation(t, s, "u2", "u3")

	convs, err := s.ListConversations(context.Background(), "u1")
	req.NoError(err)
	req.Len(convs, 2)
	for _, c := range convs {
		req.True(c.Has("u1"))
		req.Len(c.Participants, 2)
	}

	convs, err = s.ListConversations(context.Background(), "stranger")
	req.NoError(err)
	req.Empty(convs)
}

func testAppendOrder(t *testing.T, s chat.Store) {
	req := require.New(t)
	c := conversation(t, s, "u1", "u2")

	m1 := appendText(t, s, c.ID, "u1", "one", base)
	m2 := appendText(t, s, c.ID, "u2", "two", base)
	m3 := appendText(t, s, c.ID, "u1", "three", base.Add(time.Second))

	req.Equal(int64(1), m1.ID)
	req.Equal(int64(2), m2.ID)
	req.Equal(int64(3), m3.ID)
	req.False(m1.Read)
	req.True(m1.Cursor().Less(m2.Cursor()))
	req.True(m2.Cursor().Less(m3.Cursor()))

	msgs, err := s.ListMessages(context.Background(), c.ID, chat.Page{})
	req.NoError(err)
	req.Len(msgs, 3)
	req.Equal([]string{"three", "two", "one"}, []string{msgs[0].Body.Text, msgs[1].Body.Text, msgs[2].Body.Text})
	req.Equal("u1", msgs[0].Body.SenderName)
}

func testAppendClock(t *testing.T, s chat.Store) {
	req := require.New(t)
	c := conversation(t, s, "u1", "u2")

	late := appendText(t, s, c.ID, "u1", "late", base.Add(time.Minute))
	early := appendText(t, s, c.ID, "u2", "early", base)

	req.False(early.CreatedAt.Before(late.CreatedAt), "timestamps never go backwards")
	req.True(late.Cursor().Less(early.Cursor()))
}

func testAppendDuplicate(t *testing.T, s chat.Store) {
	req := require.New(t)
	ctx := context.Background()
	c := conversation(t, s, "u1", "u2")
	nm := chat.NewMessage{ConversationID: c.ID, ClientMsgID: "client-1", SenderID: "u1", Body: chat.Body{Text: "hi"}, CreatedAt: base}

	first, dup, err := s.AppendMessage(ctx, nm)
	req.NoError(err)
	req.False(dup)

	second, dup, err := s.AppendMessage(ctx, nm)
	req.NoError(err)
	req.True(dup)
	req.Equal(first, second)

	nm.SenderID = "u2"
	_, _, err = s.AppendMessage(ctx, nm)
	req.ErrorIs(err, chat.ErrConflict)

	msgs, err := s.ListMessages(ctx, c.ID, chat.Page{})
	req.NoError(err)
	req.Len(msgs, 1)
}

func testAppendUnknown(t *testing.T, s chat.Store) {
	_, _, err := s.AppendMessage(context.Background(), chat.NewMessage{
		ConversationID: "x_y", SenderID: "x", Body: chat.Body{Text: "hi"}, CreatedAt: base,
	})
	require.ErrorIs(t, err, chat.ErrNotFound)
}

func testPagination(t *testing.T, s chat.Store) {
	req := require.New(t)
	ctx := context.Background()
	c := conversation(t, s, "u1", "u2")
	for i := range 7 {
		appendText(t, s, c.ID, "u1", fmt.Sprintf("m%d", i+1), base)
	}

	var seen []int64
	var before *chat.Cursor
	for {
		page, err := s.ListMessages(ctx, c.ID, chat.Page{Before: before, Limit: 3})
		req.NoError(err)
		if len(page) == 0 {
			break
		}
		for _, m := range page {
			seen = append(seen, m.ID)
		}
		cur := page[len(page)-1].Cursor()
		before = &cur
	}
	req.Equal([]int64{7, 6, 5, 4, 3, 2, 1}, seen)

	after, err := s.ListMessages(ctx, c.ID, chat.Page{After: &chat.Cursor{CreatedAt: base.UnixMilli(), ID: 4}, Limit: 10})
	req.NoError(err)
	req.Len(after, 3)
	req.Equal(int64(5), after[0].ID)
	req.Equal(int64(7), after[2].ID)
}

func testLatest(t *testing.T, s chat.Store) {
	req := require.New(t)
	ctx := context.Background()
	c := conversation(t, s, "u1", "u2")

	latest, err := s.LatestMessage(ctx, c.ID)
	req.NoError(err)
	req.Nil(latest)

	appendText(t, s, c.ID, "u1", "one", base)
	appendText(t, s, c.ID, "u2", "two", base)

	latest, err = s.LatestMessage(ctx, c.ID)
	req.NoError(err)
	req.NotNil(latest)
	req.Equal("two", latest.Body.Text)
}

func testMarkRead(t *testing.T, s chat.Store) {
	req := require.New(t)
	ctx := context.Background()
	c := conversation(t, s, "u1", "u2")
	fromU1 := appendText(t, s, c.ID, "u1", "hi", base)
	fromU2 := appendText(t, s, c.ID, "u2", "hello", base)

	n, err := s.CountUnread(ctx, c.ID, "u2")
	req.NoError(err)
	req.Equal(1, n)

	changed, err := s.MarkRead(ctx, c.ID, []int64{fromU1.ID, fromU2.ID, fromU1.ID}, "u2")
	req.NoError(err)
	req.Equal([]int64{fromU1.ID}, changed, "own messages are not marked")

	changed, err = s.MarkRead(ctx, c.ID, []int64{fromU1.ID}, "u2")
	req.NoError(err)
	req.Empty(changed, "second mark is a no-op")

	msgs, err := s.ListMessages(ctx, c.ID, chat.Page{})
	req.NoError(err)
	req.False(msgs[0].Read, "u2's own message stays unread")
	req.True(msgs[1].Read)

	n, err = s.CountUnread(ctx, c.ID, "u2")
	req.NoError(err)
	req.Zero(n)
	n, err = s.CountUnread(ctx, c.ID, "u1")
	req.NoError(err)
	req.Equal(1, n)
}

func testMarkReadUnknown(t *testing.T, s chat.Store) {
	req := require.New(t)
	ctx := context.Background()
	c := conversation(t, s, "u1", "u2")
	m := appendText(t, s, c.ID, "u1", "hi", base)

	_, err := s.MarkRead(ctx, c.ID, []int64{m.ID, 99}, "u2")
	req.ErrorIs(err, chat.ErrNotFound)

	n, err := s.CountUnread(ctx, c.ID, "u2")
	req.NoError(err)
	req.Equal(1, n, "no partial update")
}

func testMarkAllRead(t *testing.T, s chat.Store) {
	req := require.New(t)
	ctx := context.Background()
	c := conversation(t, s, "u1", "u2")
	appendText(t, s, c.ID, "u1", "a", base)
	appendText(t, s, c.ID, "u2", "b", base)
	appendText(t, s, c.ID, "u1", "c", base)

	changed, err := s.MarkAllRead(ctx, c.ID, "u2")
	req.NoError(err)
	req.Equal([]int64{1, 3}, changed)

	changed, err = s.MarkAllRead(ctx, c.ID, "u2")
	req.NoError(err)
	req.Empty(changed)

	n, err := s.CountUnread(ctx, c.ID, "u1")
	req.NoError(err)
	req.Equal(1, n)
}

func testUnreadState(t *testing.T, s chat.Store) {
	req := require.New(t)
	ctx := context.Background()
	c := conversation(t, s, "u1", "u2")

	states, err := s.UnreadStates(ctx, c.ID)
	req.NoError(err)
	req.Empty(states)

	req.NoError(s.SetUnreadState(ctx, c.ID, "u2", true))
	req.NoError(s.SetUnreadState(ctx, c.ID, "u1", false))
	req.NoError(s.SetUnreadState(ctx, c.ID, "u2", false))

	states, err = s.UnreadStates(ctx, c.ID)
	req.NoError(err)
	req.Equal(map[string]bool{"u1": false, "u2": false}, states)
}
