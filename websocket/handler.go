package websocket

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/f3mi/Collaborative-Code-Review-Knowledge-Sharing-Platform-with-AI-Assist/config"
	"github.com/f3mi/Collaborative-Code-Review-Knowledge-Sharing-Platform-with-AI-Assist/event"
	"github.com/f3mi/Collaborative-Code-Review-Knowledge-Sharing-Platform-with-AI-Assist/metrics"
	"github.com/f3mi/Collaborative-Code-Review-Knowledge-Sharing-Platform-with-AI-Assist/session"
)

// Handler owns the websocket endpoint: it upgrades connections, runs one
// read loop per connection and hands decoded events to the router. A
// connection's teardown always runs Leave, so membership never outlives the
// transport.
type Handler struct {
	manager  *Manager
	registry *session.Registry
	router   *Router
	presence *Presence
	cfg      *config.AppConfig
	upgrader websocket.Upgrader
}

// NewHandler creates a new websocket handler. Browser connections must come
// from the configured allowed origin; non-browser clients (no Origin header)
// are accepted.
func NewHandler(manager *Manager, registry *session.Registry, router *Router, presence *Presence, cfg *config.AppConfig) *Handler {
	allowed := cfg.Server.AllowedOrigin
	return &Handler{
		manager:  manager,
		registry: registry,
		router:   router,
		presence: presence,
		cfg:      cfg,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || origin == allowed || allowed == "*"
			},
		},
	}
}

// HandleWebSocket handles incoming websocket connections.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	connID := uuid.New().String()
	cs := NewClientSession(connID, conn, &h.cfg.WebSocket)
	cs.StartTimers()

	h.manager.Add(connID, cs)
	defer h.teardown(cs)

	conn.SetReadLimit(h.cfg.WebSocket.MessageSizeLimit)
	conn.SetPongHandler(cs.PongHandler())

	slog.Info("client connected", "connection", connID, "remote", r.RemoteAddr)

	// Tell the client its connection id; cursor and presence events
	// reference it.
	if err := cs.safeWriteJSON(map[string]string{"connectionId": connID}); err != nil {
		slog.Debug("failed to send connection id", "connection", connID, "error", err)
		return
	}

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) &&
				!errors.Is(err, net.ErrClosed) {
				slog.Debug("read error", "connection", connID, "error", err)
			}
			return
		}
		cs.UpdateActivity()

		ev, err := event.Decode(msg)
		if err != nil {
			// Malformed or unknown frames are discarded; the connection
			// itself stays up.
			reason := "invalid"
			if errors.Is(err, event.ErrUnknownKind) {
				reason = "unknown_kind"
			}
			metrics.EventsDiscarded.WithLabelValues(reason).Inc()
			slog.Debug("discarding inbound event", "connection", connID, "error", err)
			continue
		}
		metrics.EventsReceived.WithLabelValues(ev.Kind()).Inc()

		h.dispatch(r.Context(), cs, ev)
	}
}

// dispatch maps each inbound event variant to its outbound broadcast.
func (h *Handler) dispatch(ctx context.Context, cs *ClientSession, ev event.Inbound) {
	switch e := ev.(type) {
	case event.JoinSession:
		res := h.registry.Join(cs.ID, e.SessionID, e.UserID, e.Username)
		h.presence.NotifyJoin(ctx, res, cs.ID)
		slog.Info("user joined session", "connection", cs.ID, "user", e.Username, "session", e.SessionID)

	case event.CodeChange:
		h.router.Broadcast(ctx, event.Outbound{
			Event: event.KindCodeUpdated,
			Data:  event.CodeUpdated{Code: e.Code, UserID: e.UserID, Timestamp: timestamp()},
		}, e.SessionID, cs.ID)

	case event.CursorMove:
		h.router.Broadcast(ctx, event.Outbound{
			Event: event.KindCursorUpdated,
			Data:  event.CursorUpdated{Position: e.Position, UserID: e.UserID, ConnectionID: cs.ID},
		}, e.SessionID, cs.ID)

	case event.AddComment:
		h.router.Broadcast(ctx, event.Outbound{
			Event: event.KindCommentAdded,
			Data:  event.CommentAdded{Comment: e.Comment, UserID: e.UserID, Timestamp: timestamp()},
		}, e.SessionID, cs.ID)

	case event.AISuggestion:
		h.router.Broadcast(ctx, event.Outbound{
			Event: event.KindAISuggestionReceived,
			Data:  event.AISuggestionReceived{Suggestion: e.Suggestion, UserID: e.UserID, Timestamp: timestamp()},
		}, e.SessionID, cs.ID)

	case event.TypingStart:
		h.router.Broadcast(ctx, event.Outbound{
			Event: event.KindUserTyping,
			Data:  event.UserTyping{UserID: e.UserID, Typing: true},
		}, e.SessionID, cs.ID)

	case event.TypingStop:
		h.router.Broadcast(ctx, event.Outbound{
			Event: event.KindUserTyping,
			Data:  event.UserTyping{UserID: e.UserID, Typing: false},
		}, e.SessionID, cs.ID)
	}
}

// teardown runs when a connection's read loop exits for any reason. The
// implicit leave keeps membership consistent even on abnormal termination.
func (h *Handler) teardown(cs *ClientSession) {
	if res, ok := h.registry.Leave(cs.ID); ok {
		h.presence.NotifyLeave(context.Background(), res)
	}
	h.manager.Remove(cs.ID)
	cs.Close(websocket.CloseNormalClosure, "connection closed")
	slog.Info("client disconnected", "connection", cs.ID)
}
