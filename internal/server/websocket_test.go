package server_test

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/chatrelay/internal/server"
	th "github.com/Tyrowin/chatrelay/internal/testhelpers"
)

const testOrigin = "http://localhost:8080"

type relay struct {
	hub   *server.Hub
	srv   *httptest.Server
	wsURL string
}

func startRelay(t *testing.T, customize func(cfg *server.Config), inf server.Inference) *relay {
	t.Helper()

	cfg := server.NewConfig()
	cfg.AllowedOrigins = []string{testOrigin}
	if customize != nil {
		customize(cfg)
	}

	hub := server.NewHub(*cfg, nil)
	server.StartHub(hub)
	srv := httptest.NewServer(server.SetupRoutes(server.NewHandlers(hub, inf)))
	t.Cleanup(func() {
		_ = hub.Shutdown(2 * time.Second)
		srv.Close()
	})

	return &relay{hub: hub, srv: srv, wsURL: th.WebSocketURL(t, srv.URL)}
}

func (r *relay) connect(t *testing.T) *websocket.Conn {
	t.Helper()
	return th.Connect(t, r.wsURL, testOrigin)
}

func TestJoinReceivesHistoryThenRoster(t *testing.T) {
	req := require.New(t)
	r := startRelay(t, nil, nil)

	bob := r.connect(t)
	th.Join(t, bob, "Bob")
	th.SendChat(t, bob, "first")
	req.Equal("first", th.ReadUntil(t, bob, "message").Text)

	alice := r.connect(t)
	history, users := th.Join(t, alice, "Alice")
	req.Len(history.Messages, 1)
	req.Equal("Bob", history.Messages[0].Author)
	req.Equal("first", history.Messages[0].Text)
	req.Equal([]string{"Bob", "Alice"}, users.Names)

	req.Equal([]string{"Bob", "Alice"}, th.ReadUntil(t, bob, "users").Names)
}

func TestMessageIsTrimmedAndBroadcast(t *testing.T) {
	req := require.New(t)
	r := startRelay(t, nil, nil)

	alice := r.connect(t)
	th.Join(t, alice, "Alice")
	bob := r.connect(t)
	th.Join(t, bob, "Bob")
	th.ReadUntil(t, alice, "users")

	th.SendChat(t, alice, " hi ")

	for _, conn := range []*websocket.Conn{alice, bob} {
		ev := th.ReadEvent(t, conn)
		req.Equal("message", ev.Type)
		req.Equal("Alice", ev.Author)
		req.Equal("hi", ev.Text)
		req.NotEmpty(ev.ID)
		req.NotZero(ev.Timestamp)
	}

	stored := r.hub.Store().Snapshot()
	req.Len(stored, 1)
	req.Equal("Alice", stored[0].Author)
	req.Equal("hi", stored[0].Text)
}

func TestProtocolErrorsGoToSenderOnly(t *testing.T) {
	tests := []struct {
		name   string
		join   bool
		frame  string
		reason string
	}{
		{name: "unknown type", join: true, frame: `{"type":"ping"}`, reason: "unknown type"},
		{name: "unknown type before join", frame: `{"type":"ping"}`, reason: "unknown type"},
		{name: "bad payload", join: true, frame: `not json`, reason: "bad payload"},
		{name: "not joined", frame: `{"type":"message","text":"hello"}`, reason: "not joined"},
		{name: "empty name", frame: `{"type":"join","name":"   "}`, reason: "empty name"},
		{name: "missing name", frame: `{"type":"join"}`, reason: "empty name"},
		{name: "invalid message", join: true, frame: `{"type":"message","text":7}`, reason: "invalid message"},
		{name: "message too long", join: true, frame: `{"type":"message","text":"` + strings.Repeat("x", 1001) + `"}`, reason: "message too long"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := require.New(t)
			r := startRelay(t, nil, nil)

			observer := r.connect(t)
			th.Join(t, observer, "Observer")

			sender := r.connect(t)
			if tt.join {
				th.Join(t, sender, "Sender")
				th.ReadUntil(t, observer, "users")
			}
			rosterBefore := r.hub.Sessions().NamesSnapshot()

			th.SendRaw(t, sender, tt.frame)

			ev := th.ReadEvent(t, sender)
			req.Equal("error", ev.Type)
			req.Equal(tt.reason, ev.Message)

			req.Zero(r.hub.Store().Len())
			req.Equal(rosterBefore, r.hub.Sessions().NamesSnapshot())
			th.ExpectNoMessage(t, observer, 200*time.Millisecond)
		})
	}
}

func TestBlankMessageIsIgnoredSilently(t *testing.T) {
	req := require.New(t)
	r := startRelay(t, nil, nil)

	alice := r.connect(t)
	th.Join(t, alice, "Alice")

	th.SendChat(t, alice, "   \t ")

	req.Zero(r.hub.Store().Len())
	th.ExpectNoMessage(t, alice, 300*time.Millisecond)
}

func TestSenderCanContinueAfterProtocolError(t *testing.T) {
	req := require.New(t)
	r := startRelay(t, nil, nil)

	conn := r.connect(t)
	th.SendChat(t, conn, "too early")
	req.Equal("not joined", th.ReadEvent(t, conn).Message)

	th.Join(t, conn, "Alice")
	th.SendChat(t, conn, "now it works")
	req.Equal("now it works", th.ReadEvent(t, conn).Text)
}

func TestDuplicateNamesAppearInRoster(t *testing.T) {
	req := require.New(t)
	r := startRelay(t, nil, nil)

	first := r.connect(t)
	th.Join(t, first, "Sam")
	second := r.connect(t)
	_, users := th.Join(t, second, "Sam")

	req.Equal([]string{"Sam", "Sam"}, users.Names)
	req.Equal([]string{"Sam", "Sam"}, th.ReadUntil(t, first, "users").Names)
}

func TestDisconnectRemovesSessionAndUpdatesRoster(t *testing.T) {
	req := require.New(t)
	r := startRelay(t, nil, nil)

	alice := r.connect(t)
	th.Join(t, alice, "Alice")
	bob := r.connect(t)
	th.Join(t, bob, "Bob")
	req.Equal([]string{"Alice", "Bob"}, th.ReadUntil(t, alice, "users").Names)

	req.NoError(th.CloseWebSocket(bob))

	req.Equal([]string{"Alice"}, th.ReadUntil(t, alice, "users").Names)
	req.Eventually(func() bool {
		return r.hub.Sessions().Len() == 1 && r.hub.ClientCount() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestUnjoinedDisconnectStillRebroadcastsRoster(t *testing.T) {
	req := require.New(t)
	r := startRelay(t, nil, nil)

	alice := r.connect(t)
	th.Join(t, alice, "Alice")

	lurker := r.connect(t)
	req.NoError(th.CloseWebSocket(lurker))

	req.Equal([]string{"Alice"}, th.ReadUntil(t, alice, "users").Names)
}

func TestHistoryIsCappedAtCapacity(t *testing.T) {
	req := require.New(t)
	r := startRelay(t, func(cfg *server.Config) { cfg.HistoryCapacity = 3 }, nil)

	alice := r.connect(t)
	th.Join(t, alice, "Alice")
	for _, text := range []string{"A", "B", "C", "D"} {
		th.SendChat(t, alice, text)
		req.Equal(text, th.ReadEvent(t, alice).Text)
	}

	bob := r.connect(t)
	history, _ := th.Join(t, bob, "Bob")
	got := make([]string, 0, len(history.Messages))
	for _, m := range history.Messages {
		got = append(got, m.Text)
	}
	req.Equal([]string{"B", "C", "D"}, got)
}

func TestRapidMessagesAreAllDeliveredByDefault(t *testing.T) {
	req := require.New(t)
	r := startRelay(t, nil, nil)

	alice := r.connect(t)
	th.Join(t, alice, "Alice")

	const n = 15
	for i := 0; i < n; i++ {
		th.SendChat(t, alice, fmt.Sprintf("msg %d", i))
	}
	for i := 0; i < n; i++ {
		ev := th.ReadEvent(t, alice)
		req.Equal("message", ev.Type)
		req.Equal(fmt.Sprintf("msg %d", i), ev.Text)
	}
	req.Equal(n, r.hub.Store().Len())
}

func TestRateLimitedFrameIsAnsweredWithError(t *testing.T) {
	req := require.New(t)
	r := startRelay(t, func(cfg *server.Config) {
		cfg.RateLimit.Burst = 2
		cfg.RateLimit.RefillInterval = time.Hour
	}, nil)

	alice := r.connect(t)
	th.Join(t, alice, "Alice")
	th.SendChat(t, alice, "one")
	req.Equal("one", th.ReadEvent(t, alice).Text)

	th.SendChat(t, alice, "two")
	ev := th.ReadEvent(t, alice)
	req.Equal("error", ev.Type)
	req.Equal("rate limited", ev.Message)
	req.Equal(1, r.hub.Store().Len())
	req.Equal([]string{"Alice"}, r.hub.Sessions().NamesSnapshot())
}

func TestVeryLongMessageIsRejectedNotDisconnected(t *testing.T) {
	req := require.New(t)
	r := startRelay(t, nil, nil)

	alice := r.connect(t)
	th.Join(t, alice, "Alice")

	th.SendChat(t, alice, strings.Repeat("x", 10000))
	ev := th.ReadEvent(t, alice)
	req.Equal("error", ev.Type)
	req.Equal("message too long", ev.Message)
	req.Zero(r.hub.Store().Len())
	req.Equal([]string{"Alice"}, r.hub.Sessions().NamesSnapshot())

	th.SendChat(t, alice, "still here")
	req.Equal("still here", th.ReadEvent(t, alice).Text)
}

func TestOversizedFrameClosesConnection(t *testing.T) {
	r := startRelay(t, func(cfg *server.Config) { cfg.MaxMessageSize = 1024 }, nil)

	conn := r.connect(t)
	th.SendRaw(t, conn, `{"type":"message","text":"`+strings.Repeat("x", 2048)+`"}`)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
}

func TestDisallowedOriginIsRejected(t *testing.T) {
	r := startRelay(t, nil, nil)

	dialer := websocket.Dialer{HandshakeTimeout: 2 * time.Second}
	headers := http.Header{}
	headers.Set("Origin", "http://evil.example")
	conn, resp, err := dialer.Dial(r.wsURL, headers)
	if conn != nil {
		_ = conn.Close()
	}
	require.Error(t, err)
	require.NotNil(t, resp)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestWebSocketEndpointRejectsPost(t *testing.T) {
	r := startRelay(t, nil, nil)

	resp, err := http.Post(r.srv.URL+"/ws", "text/plain", strings.NewReader("test"))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestShutdownClosesClients(t *testing.T) {
	req := require.New(t)
	r := startRelay(t, nil, nil)

	conn := r.connect(t)
	th.Join(t, conn, "Alice")

	req.NoError(r.hub.Shutdown(2 * time.Second))

	req.NoError(conn.SetReadDeadline(time.Now().Add(2 * time.Second)))
	_, _, err := conn.ReadMessage()
	req.Error(err)
}
