package gateway_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/matheus3301/relay/internal/bus"
	"github.com/matheus3301/relay/internal/directory"
	"github.com/matheus3301/relay/internal/engine"
	"github.com/matheus3301/relay/internal/feed"
	"github.com/matheus3301/relay/internal/gateway"
	"github.com/matheus3301/relay/internal/messages"
	"github.com/matheus3301/relay/internal/rpc"
	"github.com/matheus3301/relay/internal/store"
	"github.com/matheus3301/relay/internal/unread"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "relay.db"))
	require.NoError(t, err)
	_, err = db.Migrate()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	b := bus.New()
	e := engine.New(
		directory.New(db, nil),
		messages.New(db, messages.Options{}),
		unread.New(db, unread.PolicyLatest, nil),
		b, nil,
	)
	d := feed.New(e, b, feed.Config{}, nil)
	srv := httptest.NewServer(gateway.New(e, d, nil).Handler())
	t.Cleanup(func() {
		d.Close()
		srv.Close()
	})
	return srv
}

func do(t *testing.T, srv *httptest.Server, method, path, as string, body any, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, srv.URL+path, &buf)
	require.NoError(t, err)
	if as != "" {
		req.Header.Set(gateway.HeaderParticipantID, as)
	}
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func resolve(t *testing.T, srv *httptest.Server, as string, ids ...string) string {
	t.Helper()
	var res rpc.ResolveConversationResponse
	code := do(t, srv, http.MethodPost, "/v1/conversations", as, rpc.ResolveConversationRequest{ParticipantIDs: ids}, &res)
	require.Equal(t, http.StatusOK, code)
	return res.Conversation.ID
}

func TestRESTConversationFlow(t *testing.T) {
	srv := newServer(t)
	convID := resolve(t, srv, "alice", "alice", "bob")
	require.Equal(t, convID, resolve(t, srv, "bob", "bob", "alice"))

	var sent rpc.SendMessageResponse
	code := do(t, srv, http.MethodPost, "/v1/conversations/"+convID+"/messages", "alice",
		rpc.SendMessageRequest{ClientMsgID: "c1", Text: "hi bob"}, &sent)
	require.Equal(t, http.StatusCreated, code)
	require.Equal(t, int64(1), sent.Message.ID)

	code = do(t, srv, http.MethodPost, "/v1/conversations/"+convID+"/messages", "alice",
		rpc.SendMessageRequest{ClientMsgID: "c1", Text: "hi bob"}, &sent)
	require.Equal(t, http.StatusOK, code)
	require.True(t, sent.Duplicate)

	var unreadRes rpc.GetUnreadResponse
	require.Equal(t, http.StatusOK, do(t, srv, http.MethodGet, "/v1/conversations/"+convID+"/unread", "bob", nil, &unreadRes))
	require.True(t, unreadRes.HasUnread)

	var list rpc.ListMessagesResponse
	require.Equal(t, http.StatusOK, do(t, srv, http.MethodGet, "/v1/conversations/"+convID+"/messages?limit=10", "bob", nil, &list))
	require.Len(t, list.Messages, 1)
	require.Nil(t, list.NextCursor)

	var marked rpc.MarkReadResponse
	require.Equal(t, http.StatusOK, do(t, srv, http.MethodPost, "/v1/conversations/"+convID+"/read-all", "bob", nil, &marked))
	require.Equal(t, []int64{1}, marked.Changed)

	var inbox rpc.ListConversationsResponse
	require.Equal(t, http.StatusOK, do(t, srv, http.MethodGet, "/v1/conversations", "bob", nil, &inbox))
	require.Len(t, inbox.Summaries, 1)
	require.False(t, inbox.Summaries[0].HasUnread)
}

func TestRESTErrorStatuses(t *testing.T) {
	srv := newServer(t)
	convID := resolve(t, srv, "alice", "alice", "bob")

	tests := []struct {
		name   string
		method string
		path   string
		as     string
		body   any
		want   int
	}{
		{"no identity", http.MethodGet, "/v1/conversations", "", nil, http.StatusUnauthorized},
		{"not a member", http.MethodGet, "/v1/conversations/" + convID + "/messages", "carol", nil, http.StatusForbidden},
		{"unknown conversation", http.MethodGet, "/v1/conversations/nope/messages", "alice", nil, http.StatusNotFound},
		{"single participant", http.MethodPost, "/v1/conversations", "alice", rpc.ResolveConversationRequest{ParticipantIDs: []string{"alice"}}, http.StatusBadRequest},
		{"bad limit", http.MethodGet, "/v1/conversations/" + convID + "/messages?limit=x", "alice", nil, http.StatusBadRequest},
		{"half cursor", http.MethodGet, "/v1/conversations/" + convID + "/messages?before_ms=1", "alice", nil, http.StatusBadRequest},
		{"unknown message", http.MethodPost, "/v1/conversations/" + convID + "/read", "bob", rpc.MarkReadRequest{IDs: []int64{42}}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body struct {
				Error string `json:"error"`
			}
			code := do(t, srv, tt.method, tt.path, tt.as, tt.body, &body)
			require.Equal(t, tt.want, code)
			require.NotEmpty(t, body.Error)
		})
	}
}

func dial(t *testing.T, srv *httptest.Server, path, as string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	header := http.Header{}
	header.Set(gateway.HeaderParticipantID, as)
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	if conn != nil {
		t.Cleanup(func() { _ = conn.Close() })
	}
	return conn, resp, err
}

func readEvent(t *testing.T, conn *websocket.Conn) rpc.FeedEvent {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var evt rpc.FeedEvent
	require.NoError(t, conn.ReadJSON(&evt))
	return evt
}

func TestWebSocketConversationFeed(t *testing.T) {
	srv := newServer(t)
	convID := resolve(t, srv, "alice", "alice", "bob")

	conn, _, err := dial(t, srv, "/v1/ws/conversations/"+convID, "bob")
	require.NoError(t, err)

	evt := readEvent(t, conn)
	require.Equal(t, string(feed.KindSnapshot), evt.Kind)
	require.Empty(t, evt.Messages)

	code := do(t, srv, http.MethodPost, "/v1/conversations/"+convID+"/messages", "alice", rpc.SendMessageRequest{Text: "live"}, nil)
	require.Equal(t, http.StatusCreated, code)

	evt = readEvent(t, conn)
	require.Equal(t, string(feed.KindAppended), evt.Kind)
	require.Equal(t, "live", evt.Messages[0].Text)
}

func TestWebSocketInboxFeed(t *testing.T) {
	srv := newServer(t)

	conn, _, err := dial(t, srv, "/v1/ws/inbox", "bob")
	require.NoError(t, err)
	evt := readEvent(t, conn)
	require.Equal(t, string(feed.KindListSnapshot), evt.Kind)
	require.Empty(t, evt.Summaries)

	convID := resolve(t, srv, "alice", "alice", "bob")
	evt = readEvent(t, conn)
	require.Equal(t, string(feed.KindConversation), evt.Kind)
	require.Equal(t, convID, evt.Summaries[0].Conversation.ID)
}

func TestWebSocketRejectsNonMemberBeforeUpgrade(t *testing.T) {
	srv := newServer(t)
	convID := resolve(t, srv, "alice", "alice", "bob")

	_, resp, err := dial(t, srv, "/v1/ws/conversations/"+convID, "carol")
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}
