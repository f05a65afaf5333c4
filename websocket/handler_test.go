package websocket

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gorilla "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/f3mi/Collaborative-Code-Review-Knowledge-Sharing-Platform-with-AI-Assist/config"
	"github.com/f3mi/Collaborative-Code-Review-Knowledge-Sharing-Platform-with-AI-Assist/event"
	"github.com/f3mi/Collaborative-Code-Review-Knowledge-Sharing-Platform-with-AI-Assist/session"
)

const readWait = 2 * time.Second

func newTestServer(t *testing.T) (*httptest.Server, *session.Registry) {
	t.Helper()

	cfg := &config.AppConfig{
		Server: config.ServerConfig{AllowedOrigin: "*"},
		WebSocket: config.WebSocketConfig{
			MessageSizeLimit: 65536,
			PingInterval:     25,
			PongTimeout:      30,
			ActivityTimeout:  300,
			WriteTimeout:     2,
			WriteRetries:     1,
		},
	}

	registry := session.NewRegistry()
	manager := NewManager()
	router := NewRouter(registry, manager, nil, "test-instance")
	presence := NewPresence(router, registry)
	handler := NewHandler(manager, registry, router, presence, cfg)

	srv := httptest.NewServer(http.HandlerFunc(handler.HandleWebSocket))
	t.Cleanup(srv.Close)
	return srv, registry
}

type testClient struct {
	t      *testing.T
	conn   *gorilla.Conn
	connID string
}

func dial(t *testing.T, srv *httptest.Server) *testClient {
	t.Helper()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := gorilla.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	var hello map[string]string
	conn.SetReadDeadline(time.Now().Add(readWait))
	require.NoError(t, conn.ReadJSON(&hello))
	require.NotEmpty(t, hello["connectionId"])

	return &testClient{t: t, conn: conn, connID: hello["connectionId"]}
}

func (c *testClient) send(kind string, data map[string]any) {
	c.t.Helper()
	require.NoError(c.t, c.conn.WriteJSON(map[string]any{"event": kind, "data": data}))
}

func (c *testClient) read() event.Frame {
	c.t.Helper()
	var frame event.Frame
	c.conn.SetReadDeadline(time.Now().Add(readWait))
	require.NoError(c.t, c.conn.ReadJSON(&frame))
	return frame
}

func (c *testClient) join(sessionID, userID, username string) {
	c.t.Helper()
	c.send(event.KindJoinSession, map[string]any{
		"sessionId": sessionID, "userId": userID, "username": username,
	})
}

func TestHandler_JoinDeliversParticipantListToJoinerOnly(t *testing.T) {
	srv, _ := newTestServer(t)

	a := dial(t, srv)
	a.join("s1", "ua", "alice")
	frame := a.read()
	assert.Equal(t, event.KindSessionParticipants, frame.Event)

	var list event.SessionParticipants
	require.NoError(t, json.Unmarshal(frame.Data, &list))
	require.Len(t, list.Participants, 1)
	assert.Equal(t, a.connID, list.Participants[0].ConnectionID)
	assert.Equal(t, "alice", list.Participants[0].Username)

	b := dial(t, srv)
	b.join("s1", "ub", "bob")

	// The joiner gets the full post-join list; the existing member gets
	// user-joined.
	frame = b.read()
	assert.Equal(t, event.KindSessionParticipants, frame.Event)
	require.NoError(t, json.Unmarshal(frame.Data, &list))
	assert.Len(t, list.Participants, 2)

	frame = a.read()
	assert.Equal(t, event.KindUserJoined, frame.Event)
	var joined event.UserJoined
	require.NoError(t, json.Unmarshal(frame.Data, &joined))
	assert.Equal(t, "bob", joined.Username)
	assert.Equal(t, b.connID, joined.ConnectionID)
}

func TestHandler_CommentEchoesToSenderAndPeers(t *testing.T) {
	srv, _ := newTestServer(t)

	a := dial(t, srv)
	a.join("s1", "a", "alice")
	a.read() // session-participants

	b := dial(t, srv)
	b.join("s1", "b", "bob")
	b.read() // session-participants
	a.read() // user-joined

	a.send(event.KindAddComment, map[string]any{
		"sessionId": "s1", "comment": "nit", "userId": "a",
	})

	for _, c := range []*testClient{a, b} {
		frame := c.read()
		assert.Equal(t, event.KindCommentAdded, frame.Event)
		var comment event.CommentAdded
		require.NoError(t, json.Unmarshal(frame.Data, &comment))
		assert.JSONEq(t, `"nit"`, string(comment.Comment))
		assert.Equal(t, "a", comment.UserID)
		assert.NotEmpty(t, comment.Timestamp)
	}
}

func TestHandler_CursorMoveExcludesSender(t *testing.T) {
	srv, _ := newTestServer(t)

	a := dial(t, srv)
	a.join("s1", "a", "alice")
	a.read()

	b := dial(t, srv)
	b.join("s1", "b", "bob")
	b.read()
	a.read()

	a.send(event.KindCursorMove, map[string]any{
		"sessionId": "s1", "position": map[string]any{"line": 5}, "userId": "a",
	})

	frame := b.read()
	assert.Equal(t, event.KindCursorUpdated, frame.Event)
	var cursor event.CursorUpdated
	require.NoError(t, json.Unmarshal(frame.Data, &cursor))
	assert.JSONEq(t, `{"line":5}`, string(cursor.Position))
	assert.Equal(t, a.connID, cursor.ConnectionID)

	// A must not see its own cursor echo: the next frame A receives is the
	// comment sent afterwards, not cursor-updated.
	b.send(event.KindAddComment, map[string]any{
		"sessionId": "s1", "comment": "after cursor", "userId": "b",
	})
	frame = a.read()
	assert.Equal(t, event.KindCommentAdded, frame.Event)
}

func TestHandler_TypingIndicators(t *testing.T) {
	srv, _ := newTestServer(t)

	a := dial(t, srv)
	a.join("s1", "a", "alice")
	a.read()

	b := dial(t, srv)
	b.join("s1", "b", "bob")
	b.read()
	a.read()

	a.send(event.KindTypingStart, map[string]any{"sessionId": "s1", "userId": "a"})
	frame := b.read()
	assert.Equal(t, event.KindUserTyping, frame.Event)
	var typing event.UserTyping
	require.NoError(t, json.Unmarshal(frame.Data, &typing))
	assert.True(t, typing.Typing)

	a.send(event.KindTypingStop, map[string]any{"sessionId": "s1", "userId": "a"})
	frame = b.read()
	require.NoError(t, json.Unmarshal(frame.Data, &typing))
	assert.False(t, typing.Typing)
}

func TestHandler_SessionHopEmitsOneLeaveAndOneJoin(t *testing.T) {
	srv, registry := newTestServer(t)

	a := dial(t, srv)
	a.join("s1", "a", "alice")
	a.read()

	b := dial(t, srv)
	b.join("s1", "b", "bob")
	b.read()
	a.read()

	a.join("s2", "a", "alice")

	// B sees exactly one user-left for A's departure from s1.
	frame := b.read()
	assert.Equal(t, event.KindUserLeft, frame.Event)
	var left event.UserLeft
	require.NoError(t, json.Unmarshal(frame.Data, &left))
	assert.Equal(t, a.connID, left.ConnectionID)

	// A gets the participant list for s2.
	frame = a.read()
	assert.Equal(t, event.KindSessionParticipants, frame.Event)

	assert.ElementsMatch(t, []string{b.connID}, registry.MembersOf("s1"))
	assert.ElementsMatch(t, []string{a.connID}, registry.MembersOf("s2"))
}

func TestHandler_DisconnectRemovesSoleMemberSession(t *testing.T) {
	srv, registry := newTestServer(t)

	a := dial(t, srv)
	a.join("solo", "a", "alice")
	a.read()
	require.Equal(t, 1, registry.SessionCount())

	a.conn.Close()

	require.Eventually(t, func() bool {
		return registry.SessionCount() == 0
	}, readWait, 10*time.Millisecond)
	assert.Empty(t, registry.MembersOf("solo"))
}

func TestHandler_DisconnectNotifiesRemainingMembers(t *testing.T) {
	srv, _ := newTestServer(t)

	a := dial(t, srv)
	a.join("s1", "a", "alice")
	a.read()

	b := dial(t, srv)
	b.join("s1", "b", "bob")
	b.read()
	a.read()

	aConnID := a.connID
	a.conn.Close()

	frame := b.read()
	assert.Equal(t, event.KindUserLeft, frame.Event)
	var left event.UserLeft
	require.NoError(t, json.Unmarshal(frame.Data, &left))
	assert.Equal(t, aConnID, left.ConnectionID)
}

func TestHandler_MalformedFramesAreDiscardedNotFatal(t *testing.T) {
	srv, _ := newTestServer(t)

	a := dial(t, srv)
	a.join("s1", "a", "alice")
	a.read()

	// Garbage, unknown kind, missing fields: all ignored.
	require.NoError(t, a.conn.WriteMessage(gorilla.TextMessage, []byte("garbage")))
	a.send("no-such-event", map[string]any{"sessionId": "s1"})
	a.send(event.KindAddComment, map[string]any{"sessionId": "s1"})

	// Connection still works afterwards.
	a.send(event.KindAddComment, map[string]any{
		"sessionId": "s1", "comment": "still alive", "userId": "a",
	})
	frame := a.read()
	assert.Equal(t, event.KindCommentAdded, frame.Event)
}
