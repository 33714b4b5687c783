package engine

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/matheus3301/relay/internal/bus"
	"github.com/matheus3301/relay/internal/chat"
	"github.com/matheus3301/relay/internal/directory"
	"github.com/matheus3301/relay/internal/identity"
	"github.com/matheus3301/relay/internal/messages"
	"github.com/matheus3301/relay/internal/store"
	"github.com/matheus3301/relay/internal/unread"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

type harness struct {
	engine *Engine
	bus    *bus.Bus
	db     *store.DB
}

func newHarness(t *testing.T, policy unread.Policy) *harness {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "relay.db"))
	require.NoError(t, err)
	_, err = db.Migrate()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	b := bus.New()
	e := New(
		directory.New(db, nil),
		messages.New(db, messages.Options{}),
		unread.New(db, policy, nil),
		b,
		nil,
	)
	return &harness{engine: e, bus: b, db: db}
}

func as(id string) context.Context {
	return identity.WithParticipant(context.Background(), chat.Participant{ID: id, DisplayName: "name-" + id})
}

func drain(sub *bus.Subscription) []bus.Event {
	var evts []bus.Event
	for {
		select {
		case evt := <-sub.C:
			evts = append(evts, evt)
		case <-time.After(50 * time.Millisecond):
			return evts
		}
	}
}

func kinds(evts []bus.Event) []string {
	out := make([]string, len(evts))
	for i, e := range evts {
		out[i] = e.Kind
	}
	return out
}

// U1 and U2 meet, U1 says hi, U2 reads it.
func TestFirstContactScenario(t *testing.T) {
	h := newHarness(t, unread.PolicyLatest)
	e := h.engine

	var (
		g     errgroup.Group
		convs [2]chat.Conversation
	)
	for i, caller := range []string{"U1", "U2"} {
		g.Go(func() error {
			c, err := e.ResolveOrCreate(as(caller), []string{"U1", "U2"})
			convs[i] = c
			return err
		})
	}
	require.NoError(t, g.Wait())
	require.Equal(t, convs[0].ID, convs[1].ID)
	conv := convs[0]

	ack, err := e.Append(as("U1"), conv.ID, "U1", chat.Body{Text: "hi"})
	require.NoError(t, err)
	require.False(t, ack.Duplicate)

	recent, err := e.ListRecent(as("U2"), conv.ID, 1, nil)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	require.Equal(t, "hi", recent[0].Body.Text)
	require.Equal(t, "U1", recent[0].SenderID)
	require.False(t, recent[0].Read)
	require.Equal(t, "name-U1", recent[0].Body.SenderName)

	u2, err := e.ComputeUnread(as("U2"), conv.ID, "U2")
	require.NoError(t, err)
	require.True(t, u2)
	u1, err := e.ComputeUnread(as("U1"), conv.ID, "U1")
	require.NoError(t, err)
	require.False(t, u1)

	changed, err := e.MarkRead(as("U2"), conv.ID, []int64{ack.Message.ID}, "U2")
	require.NoError(t, err)
	require.Equal(t, []int64{ack.Message.ID}, changed)

	u2, err = e.ComputeUnread(as("U2"), conv.ID, "U2")
	require.NoError(t, err)
	require.False(t, u2)
}

func TestConversationCreatedPublishedOnce(t *testing.T) {
	h := newHarness(t, unread.PolicyLatest)
	sub := h.bus.Subscribe(bus.ParticipantTopic("a"), 64)
	defer sub.Unsubscribe()

	var g errgroup.Group
	for range 10 {
		g.Go(func() error {
			_, err := h.engine.ResolveOrCreate(as("a"), []string{"a", "b"})
			return err
		})
	}
	require.NoError(t, g.Wait())

	evts := drain(sub)
	require.Equal(t, []string{bus.ConversationCreated}, kinds(evts))
	require.Equal(t, "a_b", evts[0].Payload.(chat.Conversation).ID)
}

func TestUnreadChangedFiresOncePerTransition(t *testing.T) {
	h := newHarness(t, unread.PolicyLatest)
	e := h.engine
	c, err := e.ResolveOrCreate(as("a"), []string{"a", "b"})
	require.NoError(t, err)

	sub := h.bus.Subscribe(bus.ParticipantTopic("b"), 64)
	defer sub.Unsubscribe()

	ack, err := e.Append(as("a"), c.ID, "a", chat.Body{Text: "x"})
	require.NoError(t, err)
	require.Equal(t, []string{bus.UnreadChanged, bus.SummaryChanged}, kinds(drain(sub)))

	_, err = e.MarkRead(as("b"), c.ID, []int64{ack.Message.ID}, "b")
	require.NoError(t, err)
	evts := drain(sub)
	require.Equal(t, []string{bus.UnreadChanged, bus.SummaryChanged}, kinds(evts))
	require.Equal(t, chat.UnreadChange{ConversationID: c.ID, ParticipantID: "b", Unread: false}, evts[0].Payload)

	// Second mark is a no-op: nothing changes, nothing is published.
	changed, err := e.MarkRead(as("b"), c.ID, []int64{ack.Message.ID}, "b")
	require.NoError(t, err)
	require.Empty(t, changed)
	require.Empty(t, drain(sub))
}

// cancelOnAppend cancels the sender's context as soon as the append commits,
// like a client that hangs up right after its send went through.
type cancelOnAppend struct {
	*store.DB
	cancel context.CancelFunc
}

func (s cancelOnAppend) AppendMessage(ctx context.Context, m chat.NewMessage) (chat.Message, bool, error) {
	stored, dup, err := s.DB.AppendMessage(ctx, m)
	s.cancel()
	return stored, dup, err
}

func TestUnreadTrackedWhenCallerGoesAwayAfterCommit(t *testing.T) {
	h := newHarness(t, unread.PolicyLatest)
	c, err := h.engine.ResolveOrCreate(as("a"), []string{"a", "b"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(as("a"))
	defer cancel()
	e := New(
		directory.New(h.db, nil),
		messages.New(cancelOnAppend{DB: h.db, cancel: cancel}, messages.Options{}),
		unread.New(h.db, unread.PolicyLatest, nil),
		h.bus,
		nil,
	)

	sub := h.bus.Subscribe(bus.ParticipantTopic("b"), 64)
	defer sub.Unsubscribe()

	ack, err := e.Append(ctx, c.ID, "a", chat.Body{Text: "hi"})
	require.NoError(t, err)
	require.Error(t, ctx.Err())

	evts := drain(sub)
	require.Equal(t, []string{bus.UnreadChanged, bus.SummaryChanged}, kinds(evts))
	require.Equal(t, chat.UnreadChange{ConversationID: c.ID, ParticipantID: "b", Unread: true}, evts[0].Payload)

	states, err := h.db.UnreadStates(context.Background(), c.ID)
	require.NoError(t, err)
	require.True(t, states["b"])

	// The stored flag is current, so the read transition is published too.
	_, err = e.MarkRead(as("b"), c.ID, []int64{ack.Message.ID}, "b")
	require.NoError(t, err)
	evts = drain(sub)
	require.Equal(t, []string{bus.UnreadChanged, bus.SummaryChanged}, kinds(evts))
	require.Equal(t, chat.UnreadChange{ConversationID: c.ID, ParticipantID: "b", Unread: false}, evts[0].Payload)
}

func TestAppendPublishesInOrder(t *testing.T) {
	h := newHarness(t, unread.PolicyLatest)
	e := h.engine
	c, err := e.ResolveOrCreate(as("a"), []string{"a", "b"})
	require.NoError(t, err)

	sub := h.bus.Subscribe(bus.ConversationTopic(c.ID), 256)
	defer sub.Unsubscribe()

	var g errgroup.Group
	for _, sender := range []string{"a", "b"} {
		g.Go(func() error {
			for range 20 {
				if _, err := e.Append(as(sender), c.ID, sender, chat.Body{Text: sender}); err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	evts := drain(sub)
	require.Len(t, evts, 40)
	for i := 1; i < len(evts); i++ {
		prev := evts[i-1].Payload.(chat.Message).Cursor()
		cur := evts[i].Payload.(chat.Message).Cursor()
		require.True(t, prev.Less(cur), "event %d out of order", i)
	}
}

func TestDuplicateAppendPublishesNothing(t *testing.T) {
	h := newHarness(t, unread.PolicyLatest)
	e := h.engine
	c, err := e.ResolveOrCreate(as("a"), []string{"a", "b"})
	require.NoError(t, err)

	_, err = e.Append(as("a"), c.ID, "a", chat.Body{Text: "x"}, messages.WithClientMsgID("c1"))
	require.NoError(t, err)

	sub := h.bus.Subscribe(bus.ConversationTopic(c.ID), 8)
	defer sub.Unsubscribe()
	ack, err := e.Append(as("a"), c.ID, "a", chat.Body{Text: "x"}, messages.WithClientMsgID("c1"))
	require.NoError(t, err)
	require.True(t, ack.Duplicate)
	require.Empty(t, drain(sub))
}

func TestPermissions(t *testing.T) {
	h := newHarness(t, unread.PolicyLatest)
	e := h.engine
	c, err := e.ResolveOrCreate(as("a"), []string{"a", "b"})
	require.NoError(t, err)
	ack, err := e.Append(as("a"), c.ID, "a", chat.Body{Text: "x"})
	require.NoError(t, err)

	tests := []struct {
		name string
		call func() error
	}{
		{"no identity", func() error {
			_, err := e.ListRecent(context.Background(), c.ID, 10, nil)
			return err
		}},
		{"resolve for others", func() error {
			_, err := e.ResolveOrCreate(as("z"), []string{"a", "b"})
			return err
		}},
		{"send as someone else", func() error {
			_, err := e.Append(as("b"), c.ID, "a", chat.Body{Text: "x"})
			return err
		}},
		{"outsider sends", func() error {
			_, err := e.Append(as("z"), c.ID, "z", chat.Body{Text: "x"})
			return err
		}},
		{"outsider lists", func() error {
			_, err := e.ListRecent(as("z"), c.ID, 10, nil)
			return err
		}},
		{"mark read for someone else", func() error {
			_, err := e.MarkRead(as("a"), c.ID, []int64{ack.Message.ID}, "b")
			return err
		}},
		{"outsider marks read", func() error {
			_, err := e.MarkRead(as("z"), c.ID, []int64{ack.Message.ID}, "z")
			return err
		}},
		{"read another unread summary", func() error {
			_, err := e.ComputeUnread(as("a"), c.ID, "b")
			return err
		}},
		{"read another inbox", func() error {
			_, err := e.Inbox(as("a"), "b")
			return err
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.ErrorIs(t, tt.call(), chat.ErrPermission)
		})
	}

	_, err = e.ListRecent(as("a"), "a_q", 10, nil)
	require.ErrorIs(t, err, chat.ErrNotFound)
}

func TestInboxOrderedByActivity(t *testing.T) {
	h := newHarness(t, unread.PolicyAny)
	e := h.engine
	ab, err := e.ResolveOrCreate(as("a"), []string{"a", "b"})
	require.NoError(t, err)
	ac, err := e.ResolveOrCreate(as("a"), []string{"a", "c"})
	require.NoError(t, err)

	_, err = e.Append(as("b"), ab.ID, "b", chat.Body{Text: "old"})
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	_, err = e.Append(as("c"), ac.ID, "c", chat.Body{Text: "new"})
	require.NoError(t, err)
	_, err = e.Append(as("c"), ac.ID, "c", chat.Body{Text: "newer"})
	require.NoError(t, err)

	sums, err := e.Inbox(as("a"), "a")
	require.NoError(t, err)
	require.Len(t, sums, 2)
	require.Equal(t, ac.ID, sums[0].Conversation.ID)
	require.Equal(t, "newer", sums[0].LastMessage.Body.Text)
	require.True(t, sums[0].HasUnread)
	require.Equal(t, 2, sums[0].UnreadCount)
	require.Equal(t, ab.ID, sums[1].Conversation.ID)

	_, err = e.MarkAllRead(as("a"), ac.ID, "a")
	require.NoError(t, err)
	sum, err := e.Summary(as("a"), ac.ID, "a")
	require.NoError(t, err)
	require.False(t, sum.HasUnread)
	require.Zero(t, sum.UnreadCount)
}
