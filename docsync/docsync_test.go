package docsync

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const readWait = 2 * time.Second

func newTestServer(t *testing.T) (*httptest.Server, *Handler) {
	t.Helper()
	h := NewHandler("*", time.Second)
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv, h
}

func dialRoom(t *testing.T, srv *httptest.Server, sessionID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/docsync/" + sessionID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestDocsync_RelaysFramesToPeersOnly(t *testing.T) {
	srv, _ := newTestServer(t)

	a := dialRoom(t, srv, "doc1")
	b := dialRoom(t, srv, "doc1")

	payload := []byte{0x01, 0x02, 0xff} // opaque to the relay
	require.NoError(t, a.WriteMessage(websocket.BinaryMessage, payload))

	b.SetReadDeadline(time.Now().Add(readWait))
	messageType, data, err := b.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, messageType)
	assert.Equal(t, payload, data)

	// The sender gets no echo: the next frame a reads is b's reply.
	require.NoError(t, b.WriteMessage(websocket.BinaryMessage, []byte("reply")))
	a.SetReadDeadline(time.Now().Add(readWait))
	_, data, err = a.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, []byte("reply"), data)
}

func TestDocsync_RoomsAreIsolated(t *testing.T) {
	srv, _ := newTestServer(t)

	a := dialRoom(t, srv, "doc1")
	other := dialRoom(t, srv, "doc2")
	b := dialRoom(t, srv, "doc1")

	require.NoError(t, a.WriteMessage(websocket.TextMessage, []byte("doc1 update")))

	b.SetReadDeadline(time.Now().Add(readWait))
	_, data, err := b.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, []byte("doc1 update"), data)

	other.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	_, _, err = other.ReadMessage()
	assert.Error(t, err, "peer in another room must not receive the frame")
}

func TestDocsync_EmptyRoomsAreRemoved(t *testing.T) {
	srv, h := newTestServer(t)

	a := dialRoom(t, srv, "doc1")
	require.Eventually(t, func() bool { return h.RoomCount() == 1 }, readWait, 10*time.Millisecond)

	a.Close()
	require.Eventually(t, func() bool { return h.RoomCount() == 0 }, readWait, 10*time.Millisecond)
}

func TestDocsync_RejectsMissingSession(t *testing.T) {
	srv, _ := newTestServer(t)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/docsync/"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 404, resp.StatusCode)
}
