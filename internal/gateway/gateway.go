// Package gateway exposes the conversation service over HTTP for clients that
// cannot speak gRPC: a JSON mirror of the RPCs under /v1 and WebSocket feeds.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/matheus3301/relay/internal/chat"
	"github.com/matheus3301/relay/internal/engine"
	"github.com/matheus3301/relay/internal/feed"
	"github.com/matheus3301/relay/internal/identity"
	"go.uber.org/zap"
)

// Identity headers. Values are trusted as-is.
const (
	HeaderParticipantID   = "X-Participant-Id"
	HeaderParticipantName = "X-Participant-Name"
)

const maxBodyBytes = 1 << 20

// Gateway serves the HTTP and WebSocket surface.
type Gateway struct {
	engine *engine.Engine
	feed   *feed.Dispatcher
	logger *zap.Logger
	router *mux.Router
	server *http.Server
}

// New builds the router. Call Serve to start listening.
func New(e *engine.Engine, d *feed.Dispatcher, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &Gateway{engine: e, feed: d, logger: logger.Named("gateway")}
	g.router = g.routes()
	g.server = &http.Server{
		Handler:           g.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return g
}

func (g *Gateway) routes() *mux.Router {
	r := mux.NewRouter()
	v1 := r.PathPrefix("/v1").Subrouter()
	v1.Use(g.withIdentity)

	v1.HandleFunc("/conversations", g.resolveConversation).Methods(http.MethodPost)
	v1.HandleFunc("/conversations", g.listConversations).Methods(http.MethodGet)
	v1.HandleFunc("/conversations/{id}/messages", g.sendMessage).Methods(http.MethodPost)
	v1.HandleFunc("/conversations/{id}/messages", g.listMessages).Methods(http.MethodGet)
	v1.HandleFunc("/conversations/{id}/read", g.markRead).Methods(http.MethodPost)
	v1.HandleFunc("/conversations/{id}/read-all", g.markAllRead).Methods(http.MethodPost)
	v1.HandleFunc("/conversations/{id}/unread", g.getUnread).Methods(http.MethodGet)

	v1.HandleFunc("/ws/conversations/{id}", g.watchConversation).Methods(http.MethodGet)
	v1.HandleFunc("/ws/inbox", g.watchInbox).Methods(http.MethodGet)
	return r
}

// Handler returns the root handler, for tests and embedding.
func (g *Gateway) Handler() http.Handler { return g.router }

// Serve accepts connections on lis until Shutdown. It returns nil after a
// clean shutdown.
func (g *Gateway) Serve(lis net.Listener) error {
	g.logger.Info("HTTP gateway starting", zap.String("addr", lis.Addr().String()))
	if err := g.server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight REST calls.
// WebSocket feeds end when the dispatcher is closed.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("HTTP gateway stopping")
	return g.server.Shutdown(ctx)
}

func (g *Gateway) withIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := identity.Parse(r.Header.Get(HeaderParticipantID), r.Header.Get(HeaderParticipantName))
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(identity.WithParticipant(r.Context(), p)))
	})
}

type errorBody struct {
	Error string `json:"error"`
}

// StatusCode maps a domain error to an HTTP status.
func StatusCode(err error) int {
	switch {
	case errors.Is(err, chat.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, chat.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, chat.ErrPermission):
		return http.StatusForbidden
	case errors.Is(err, chat.ErrTransient), errors.Is(err, feed.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, chat.ErrInvalidArgument):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (g *Gateway) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusCode(err)
	if status >= http.StatusInternalServerError {
		g.logger.Warn("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	writeError(w, status, err)
}
