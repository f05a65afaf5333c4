// Package docsync exposes a per-session websocket transport for the
// external document-sync (CRDT) collaborator. Frames are relayed verbatim
// between the connections of one document room; the relay never looks
// inside them, so document merge semantics live entirely with the clients
// and the sync service.
package docsync

import (
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Handler serves /docsync/{sessionId}. Document rooms are independent of the
// event session registry: a client may sync a document without joining the
// review session, and vice versa.
type Handler struct {
	mu           sync.Mutex
	rooms        map[string]*room
	upgrader     websocket.Upgrader
	writeTimeout time.Duration
}

type room struct {
	mu    sync.Mutex
	peers map[*peer]bool
}

type peer struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func NewHandler(allowedOrigin string, writeTimeout time.Duration) *Handler {
	return &Handler{
		rooms:        make(map[string]*room),
		writeTimeout: writeTimeout,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || origin == allowedOrigin || allowedOrigin == "*"
			},
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Path shape: /docsync/{sessionId}
	sessionID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/docsync"), "/")
	if sessionID == "" || strings.Contains(sessionID, "/") {
		http.NotFound(w, r)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Debug("docsync upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	p := &peer{conn: conn}
	rm := h.join(sessionID, p)
	defer h.leave(sessionID, rm, p)

	slog.Debug("docsync peer connected", "session", sessionID, "remote", r.RemoteAddr)

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		rm.relay(p, messageType, data, h.writeTimeout)
	}
}

func (h *Handler) join(sessionID string, p *peer) *room {
	h.mu.Lock()
	defer h.mu.Unlock()

	rm := h.rooms[sessionID]
	if rm == nil {
		rm = &room{peers: make(map[*peer]bool)}
		h.rooms[sessionID] = rm
	}
	rm.mu.Lock()
	rm.peers[p] = true
	rm.mu.Unlock()
	return rm
}

func (h *Handler) leave(sessionID string, rm *room, p *peer) {
	p.conn.Close()

	h.mu.Lock()
	defer h.mu.Unlock()

	rm.mu.Lock()
	delete(rm.peers, p)
	empty := len(rm.peers) == 0
	rm.mu.Unlock()

	if empty {
		delete(h.rooms, sessionID)
	}
}

// RoomCount reports the number of live document rooms.
func (h *Handler) RoomCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms)
}

// relay forwards one frame to every other peer in the room. A peer whose
// write fails is skipped; its own read loop will notice the broken
// transport and remove it.
func (rm *room) relay(sender *peer, messageType int, data []byte, timeout time.Duration) {
	rm.mu.Lock()
	targets := make([]*peer, 0, len(rm.peers))
	for p := range rm.peers {
		if p != sender {
			targets = append(targets, p)
		}
	}
	rm.mu.Unlock()

	for _, p := range targets {
		if err := p.write(messageType, data, timeout); err != nil {
			slog.Debug("docsync relay write failed", "error", err)
		}
	}
}

func (p *peer) write(messageType int, data []byte, timeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.conn.SetWriteDeadline(time.Now().Add(timeout))
	return p.conn.WriteMessage(messageType, data)
}
