package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"planning-poker-server/internal/core"
	"planning-poker-server/internal/gateway"
	"planning-poker-server/internal/hub"
	"planning-poker-server/internal/protocol"
)

func newTestServer(t *testing.T, opts ClientOptions, origins ...string) (*httptest.Server, *hub.Hub) {
	t.Helper()
	store, err := core.NewStore()
	require.NoError(t, err)
	h := hub.New()

	srv := httptest.NewServer(NewRouter(RouterConfig{
		Registry:       h,
		Sessions:       gateway.New(store, h),
		Rooms:          store,
		Stats:          h,
		Client:         opts,
		AllowedOrigins: origins,
	}))
	t.Cleanup(func() {
		h.CloseAll()
		srv.Close()
		store.Close()
	})
	return srv, h
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	ws, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { ws.Close() })
	return ws
}

func send(t *testing.T, ws *websocket.Conn, event string, payload any) {
	t.Helper()
	data, err := protocol.Encode(event, payload)
	require.NoError(t, err)
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, data))
}

func receive(t *testing.T, ws *websocket.Conn) protocol.Message {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	msg, err := protocol.Decode(data)
	require.NoError(t, err)
	return msg
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, ClientOptions{})

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
	_, err = time.Parse(time.RFC3339, body["timestamp"])
	assert.NoError(t, err)
}

func TestWebsocketSession(t *testing.T) {
	srv, _ := newTestServer(t, ClientOptions{})
	ann, bo := dial(t, srv), dial(t, srv)

	send(t, ann, protocol.EventCreateRoom, protocol.CreateRoomPayload{UserName: "Ann"})
	msg := receive(t, ann)
	require.Equal(t, protocol.EventRoomJoined, msg.Type)
	var created protocol.RoomJoinedPayload
	require.NoError(t, msg.Bind(&created))
	assert.True(t, created.User.IsModerator)

	send(t, bo, protocol.EventJoinRoom, protocol.JoinRoomPayload{RoomID: strings.ToLower(created.RoomID), UserName: "Bo"})
	msg = receive(t, bo)
	require.Equal(t, protocol.EventRoomJoined, msg.Type)
	assert.Equal(t, protocol.EventParticipantsUpdated, receive(t, ann).Type)

	resp, err := http.Get(srv.URL + "/stats")
	require.NoError(t, err)
	var stats map[string]int
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	resp.Body.Close()
	assert.Equal(t, map[string]int{"rooms": 1, "occupiedRooms": 1, "connections": 2}, stats)

	// closing the socket counts as leaving
	require.NoError(t, ann.Close())
	msg = receive(t, bo)
	require.Equal(t, protocol.EventParticipantsUpdated, msg.Type)
	var updated protocol.ParticipantsPayload
	require.NoError(t, msg.Bind(&updated))
	require.Len(t, updated.Participants, 1)
	assert.Equal(t, "Bo", updated.Participants[0].Name)
	assert.True(t, updated.Participants[0].IsModerator)
}

func TestWebsocketRateLimit(t *testing.T) {
	srv, _ := newTestServer(t, ClientOptions{MaxMessagesPerSecond: 1})
	ws := dial(t, srv)

	for i := 0; i < 3; i++ {
		send(t, ws, "shuffle", struct{}{})
	}

	var messages []string
	for i := 0; i < 3; i++ {
		msg := receive(t, ws)
		require.Equal(t, protocol.EventError, msg.Type)
		var p protocol.ErrorPayload
		require.NoError(t, msg.Bind(&p))
		messages = append(messages, p.Message)
	}
	assert.Equal(t, []string{gateway.MsgUnknownEvent, msgRateLimited, msgRateLimited}, messages)
}

func TestWebsocketOrigin(t *testing.T) {
	srv, _ := newTestServer(t, ClientOptions{}, "https://poker.example.com")
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	header := http.Header{"Origin": []string{"https://evil.example.com"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	header = http.Header{"Origin": []string{"https://poker.example.com"}}
	ws, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	resp.Body.Close()
	ws.Close()
}

func TestCheckOrigin(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    bool
	}{
		{name: "no list", origin: "https://a.example", want: true},
		{name: "wildcard", allowed: []string{"*"}, origin: "https://a.example", want: true},
		{name: "listed", allowed: []string{"https://a.example"}, origin: "https://a.example", want: true},
		{name: "not listed", allowed: []string{"https://a.example"}, origin: "https://b.example", want: false},
		{name: "no origin header", allowed: []string{"https://a.example"}, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/ws", nil)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, checkOrigin(tt.allowed)(r))
		})
	}
}

func TestClientOptionsDefaults(t *testing.T) {
	o := ClientOptions{PongTimeout: 10 * time.Second, PingInterval: 20 * time.Second}.withDefaults()
	assert.Equal(t, 9*time.Second, o.PingInterval)
	assert.Equal(t, int64(4096), o.MaxMessageSize)
	assert.Equal(t, 256, o.SendBuffer)
	assert.Zero(t, o.MaxMessagesPerSecond)
}

func TestServerCloseSendsCloseFrame(t *testing.T) {
	srv, h := newTestServer(t, ClientOptions{})
	ws := dial(t, srv)

	send(t, ws, protocol.EventCreateRoom, protocol.CreateRoomPayload{UserName: "Ann"})
	require.Equal(t, protocol.EventRoomJoined, receive(t, ws).Type)

	h.CloseAll()

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := ws.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}
