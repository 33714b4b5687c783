package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/matheus3301/relay/internal/chat"
	"github.com/matheus3301/relay/internal/identity"
	"github.com/matheus3301/relay/internal/messages"
	"github.com/matheus3301/relay/internal/rpc"
)

const defaultPageLimit = 50

func (g *Gateway) resolveConversation(w http.ResponseWriter, r *http.Request) {
	var req rpc.ResolveConversationRequest
	if err := decode(w, r, &req); err != nil {
		g.fail(w, r, err)
		return
	}
	c, err := g.engine.ResolveOrCreate(r.Context(), req.ParticipantIDs)
	if err != nil {
		g.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rpc.ResolveConversationResponse{Conversation: rpc.FromConversation(c)})
}

func (g *Gateway) listConversations(w http.ResponseWriter, r *http.Request) {
	caller, _ := identity.FromContext(r.Context())
	sums, err := g.engine.Inbox(r.Context(), caller.ID)
	if err != nil {
		g.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rpc.ListConversationsResponse{Summaries: rpc.FromSummaries(sums)})
}

func (g *Gateway) sendMessage(w http.ResponseWriter, r *http.Request) {
	var req rpc.SendMessageRequest
	if err := decode(w, r, &req); err != nil {
		g.fail(w, r, err)
		return
	}
	caller, _ := identity.FromContext(r.Context())

	var opts []messages.AppendOption
	if req.ClientMsgID != "" {
		opts = append(opts, messages.WithClientMsgID(req.ClientMsgID))
	}
	if req.ClientCreatedAtUnixMs != 0 {
		opts = append(opts, messages.WithClientTime(time.UnixMilli(req.ClientCreatedAtUnixMs)))
	}
	body := chat.Body{Text: req.Text, Attributes: req.Attributes}
	ack, err := g.engine.Append(r.Context(), mux.Vars(r)["id"], caller.ID, body, opts...)
	if err != nil {
		g.fail(w, r, err)
		return
	}
	status := http.StatusCreated
	if ack.Duplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, rpc.SendMessageResponse{Message: rpc.FromMessage(ack.Message), Duplicate: ack.Duplicate})
}

func (g *Gateway) listMessages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := intParam(q, "limit", defaultPageLimit)
	if err != nil {
		g.fail(w, r, err)
		return
	}
	limit = messages.PageSize(limit, defaultPageLimit)
	before, err := cursorParam(q, "before")
	if err != nil {
		g.fail(w, r, err)
		return
	}
	msgs, err := g.engine.ListRecent(r.Context(), mux.Vars(r)["id"], limit, before)
	if err != nil {
		g.fail(w, r, err)
		return
	}
	resp := rpc.ListMessagesResponse{Messages: rpc.FromMessages(msgs)}
	if len(msgs) == limit {
		resp.NextCursor = rpc.FromCursor(msgs[len(msgs)-1].Cursor())
	}
	writeJSON(w, http.StatusOK, resp)
}

func (g *Gateway) markRead(w http.ResponseWriter, r *http.Request) {
	var req rpc.MarkReadRequest
	if err := decode(w, r, &req); err != nil {
		g.fail(w, r, err)
		return
	}
	caller, _ := identity.FromContext(r.Context())
	changed, err := g.engine.MarkRead(r.Context(), mux.Vars(r)["id"], req.IDs, caller.ID)
	if err != nil {
		g.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rpc.MarkReadResponse{Changed: changed})
}

func (g *Gateway) markAllRead(w http.ResponseWriter, r *http.Request) {
	caller, _ := identity.FromContext(r.Context())
	changed, err := g.engine.MarkAllRead(r.Context(), mux.Vars(r)["id"], caller.ID)
	if err != nil {
		g.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rpc.MarkReadResponse{Changed: changed})
}

func (g *Gateway) getUnread(w http.ResponseWriter, r *http.Request) {
	caller, _ := identity.FromContext(r.Context())
	sum, err := g.engine.Summary(r.Context(), mux.Vars(r)["id"], caller.ID)
	if err != nil {
		g.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rpc.GetUnreadResponse{HasUnread: sum.HasUnread, UnreadCount: sum.UnreadCount})
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: request body: %v", chat.ErrInvalidArgument, err)
	}
	return nil
}

func intParam(q url.Values, name string, def int) (int, error) {
	raw := q.Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", chat.ErrInvalidArgument, name)
	}
	return n, nil
}

// cursorParam reads {name}_ms and {name}_id. Both or neither must be set.
func cursorParam(q url.Values, name string) (*chat.Cursor, error) {
	ms, id := q.Get(name+"_ms"), q.Get(name+"_id")
	if ms == "" && id == "" {
		return nil, nil
	}
	createdAt, errMs := strconv.ParseInt(ms, 10, 64)
	seq, errID := strconv.ParseInt(id, 10, 64)
	if errMs != nil || errID != nil {
		return nil, fmt.Errorf("%w: %s cursor needs integer %s_ms and %s_id", chat.ErrInvalidArgument, name, name, name)
	}
	return &chat.Cursor{CreatedAt: createdAt, ID: seq}, nil
}
