// Package testhelpers provides common utilities for testing the chat relay
// over real WebSocket connections.
//
// It deliberately does not import the server package so that in-package
// tests can use it too.
package testhelpers

import (
	"net"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// DefaultTimeout bounds every read performed by these helpers.
const DefaultTimeout = 2 * time.Second

// HistoryEntry mirrors one message inside a history event.
type HistoryEntry struct {
	ID        string `json:"id"`
	Author    string `json:"author"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
}

// Event is a decoded server frame. Only the fields of its Type are set.
type Event struct {
	Type      string         `json:"type"`
	Message   string         `json:"message"`
	Names     []string       `json:"names"`
	Messages  []HistoryEntry `json:"messages"`
	ID        string         `json:"id"`
	Author    string         `json:"author"`
	Text      string         `json:"text"`
	Timestamp int64          `json:"timestamp"`
}

// WebSocketURL turns an httptest server URL into its /ws endpoint.
func WebSocketURL(t *testing.T, serverURL string) string {
	t.Helper()
	u, err := url.Parse(serverURL)
	require.NoError(t, err)
	u.Scheme = "ws"
	u.Path = "/ws"
	return u.String()
}

// Connect dials wsURL presenting origin and registers cleanup of the connection.
func Connect(t *testing.T, wsURL, origin string) *websocket.Conn {
	t.Helper()

	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	headers := http.Header{}
	if origin != "" {
		headers.Set("Origin", origin)
	}

	conn, resp, err := dialer.Dial(wsURL, headers)
	if resp != nil {
		_ = resp.Body.Close()
	}
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// SendJoin sends a join event.
func SendJoin(t *testing.T, conn *websocket.Conn, name string) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(map[string]any{"type": "join", "name": name}))
}

// SendChat sends a message event.
func SendChat(t *testing.T, conn *websocket.Conn, text string) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(map[string]any{"type": "message", "text": text}))
}

// SendRaw sends data as a text frame.
func SendRaw(t *testing.T, conn *websocket.Conn, data string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(data)))
}

// ReadEvent reads the next frame within DefaultTimeout.
func ReadEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(DefaultTimeout)))
	var ev Event
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

// ReadUntil reads frames until one of type typ arrives and returns it.
func ReadUntil(t *testing.T, conn *websocket.Conn, typ string) Event {
	t.Helper()
	for {
		ev := ReadEvent(t, conn)
		if ev.Type == typ {
			return ev
		}
	}
}

// Join sends a join event and consumes the history and roster frames it
// produces for the joining connection.
func Join(t *testing.T, conn *websocket.Conn, name string) (history, users Event) {
	t.Helper()
	SendJoin(t, conn, name)
	history = ReadEvent(t, conn)
	require.Equal(t, "history", history.Type)
	users = ReadEvent(t, conn)
	require.Equal(t, "users", users.Type)
	return history, users
}

// ExpectNoMessage fails if any frame arrives within timeout. A timed out
// gorilla connection cannot be read again, so call it last.
func ExpectNoMessage(t *testing.T, conn *websocket.Conn, timeout time.Duration) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(timeout)))
	_, data, err := conn.ReadMessage()
	require.Error(t, err, "expected no message, got %s", data)
	netErr, ok := err.(net.Error)
	require.True(t, ok && netErr.Timeout(), "unexpected error while waiting for absence of message: %v", err)
}

// CloseWebSocket sends a normal close frame and closes the connection.
func CloseWebSocket(conn *websocket.Conn) error {
	err := conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		return err
	}
	return conn.Close()
}
