package gateway

import (
	"context"
	"errors"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/matheus3301/relay/internal/feed"
	"github.com/matheus3301/relay/internal/identity"
	"github.com/matheus3301/relay/internal/rpc"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	readLimit  = 512

	// maxCloseReason keeps close frames within the 125 byte control limit.
	maxCloseReason = 123
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Any origin; identity travels in headers.
	CheckOrigin: func(*http.Request) bool { return true },
}

var errFeedEnded = errors.New("feed ended")

func (g *Gateway) watchConversation(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	q := r.URL.Query()
	limit, err := intParam(q, "limit", 0)
	if err != nil {
		g.fail(w, r, err)
		return
	}
	after, err := cursorParam(q, "after")
	if err != nil {
		g.fail(w, r, err)
		return
	}
	// Membership errors are reported as HTTP statuses before the upgrade.
	if _, err := g.engine.Conversation(r.Context(), id); err != nil {
		g.fail(w, r, err)
		return
	}
	opts := feed.Options{Limit: limit, After: after}
	g.serveFeed(w, r, func(ctx context.Context, h feed.Handler) (*feed.Subscription, error) {
		return g.feed.SubscribeConversation(ctx, id, opts, h)
	})
}

func (g *Gateway) watchInbox(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r.URL.Query(), "limit", 0)
	if err != nil {
		g.fail(w, r, err)
		return
	}
	caller, _ := identity.FromContext(r.Context())
	g.serveFeed(w, r, func(ctx context.Context, h feed.Handler) (*feed.Subscription, error) {
		return g.feed.SubscribeConversationList(ctx, caller.ID, feed.Options{Limit: limit}, h)
	})
}

// serveFeed upgrades the request and writes each feed update as a JSON text
// frame. The feed handler is the only data writer; pings go through
// WriteControl, which gorilla allows concurrently. A terminal feed error is
// sent as a KindError frame followed by a close frame.
func (g *Gateway) serveFeed(w http.ResponseWriter, r *http.Request, subscribe func(context.Context, feed.Handler) (*feed.Subscription, error)) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()

	grp, ctx := errgroup.WithContext(r.Context())
	sub, err := subscribe(ctx, func(u feed.Update) error {
		if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
			return err
		}
		return conn.WriteJSON(rpc.FromUpdate(u))
	})
	if err != nil {
		closeWith(conn, err)
		return
	}

	grp.Go(func() error { return readLoop(conn) })
	grp.Go(func() error { return pingLoop(ctx, conn) })
	grp.Go(func() error {
		<-sub.Done()
		closeWith(conn, sub.Err())
		_ = conn.Close()
		return errFeedEnded
	})
	_ = grp.Wait()
	g.logger.Debug("websocket feed closed", zap.String("subscription", sub.ID()), zap.Error(sub.Err()))
}

// readLoop discards client frames and returns once the peer goes away, which
// cancels the subscription context.
func readLoop(conn *websocket.Conn) error {
	conn.SetReadLimit(readLimit)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.NextReader(); err != nil {
			return err
		}
	}
}

func pingLoop(ctx context.Context, conn *websocket.Conn) error {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return err
			}
		}
	}
}

func closeWith(conn *websocket.Conn, err error) {
	code, reason := websocket.CloseNormalClosure, ""
	switch {
	case err == nil:
	case errors.Is(err, feed.ErrSlowConsumer):
		code, reason = websocket.CloseTryAgainLater, err.Error()
	case errors.Is(err, feed.ErrClosed):
		code, reason = websocket.CloseGoingAway, err.Error()
	default:
		code, reason = websocket.CloseInternalServerErr, err.Error()
	}
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, truncateReason(reason)), time.Now().Add(writeWait))
}

// truncateReason cuts reason to maxCloseReason bytes on a rune boundary so the
// close frame stays valid UTF-8.
func truncateReason(reason string) string {
	if len(reason) <= maxCloseReason {
		return reason
	}
	n := maxCloseReason
	for n > 0 && !utf8.RuneStart(reason[n]) {
		n--
	}
	return reason[:n]
}
