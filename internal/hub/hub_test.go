package hub

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"planning-poker-server/internal/protocol"
)

type mockConn struct {
	id       string
	received [][]byte
	closed   bool
	mu       sync.Mutex
	sendErr  error
}

func (m *mockConn) ID() string { return m.id }

func (m *mockConn) Send(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.received = append(m.received, data)
	return nil
}

func (m *mockConn) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockConn) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *mockConn) types(t *testing.T) []string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.received))
	for _, data := range m.received {
		msg, err := protocol.Decode(data)
		require.NoError(t, err)
		out = append(out, msg.Type)
	}
	return out
}

func setup(t *testing.T, rooms map[string]string) (*Hub, map[string]*mockConn) {
	t.Helper()
	h := New()
	conns := make(map[string]*mockConn)
	for id, room := range rooms {
		c := &mockConn{id: id}
		h.Register(c)
		if room != "" {
			require.NoError(t, h.Join(id, room))
		}
		conns[id] = c
	}
	return h, conns
}

func TestHub_Notify(t *testing.T) {
	tests := []struct {
		name   string
		notify func(*Hub)
		want   map[string]int
	}{
		{
			name:   "room members only",
			notify: func(h *Hub) { h.NotifyRoom("R1", protocol.EventTableReset, protocol.TableResetPayload{}) },
			want:   map[string]int{"a": 1, "b": 1, "c": 0, "d": 0},
		},
		{
			name: "everybody but the sender",
			notify: func(h *Hub) {
				h.NotifyOthers("R1", "a", protocol.EventTableReset, protocol.TableResetPayload{})
			},
			want: map[string]int{"a": 0, "b": 1, "c": 0, "d": 0},
		},
		{
			name:   "single connection, even outside any room",
			notify: func(h *Hub) { h.NotifyOne("d", protocol.EventError, protocol.ErrorPayload{Message: "x"}) },
			want:   map[string]int{"a": 0, "b": 0, "c": 0, "d": 1},
		},
		{
			name:   "unknown room",
			notify: func(h *Hub) { h.NotifyRoom("NOPE", protocol.EventTableReset, protocol.TableResetPayload{}) },
			want:   map[string]int{"a": 0, "b": 0, "c": 0, "d": 0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, conns := setup(t, map[string]string{"a": "R1", "b": "R1", "c": "R2", "d": ""})
			tt.notify(h)
			for id, n := range tt.want {
				assert.Len(t, conns[id].types(t), n, id)
			}
		})
	}
}

func TestHub_NotifyUnknownConnection(t *testing.T) {
	h := New()
	assert.NotPanics(t, func() {
		h.NotifyOne("ghost", protocol.EventError, protocol.ErrorPayload{Message: "x"})
	})
}

func TestHub_Membership(t *testing.T) {
	h, _ := setup(t, map[string]string{"a": "R1"})

	room, ok := h.RoomOf("a")
	require.True(t, ok)
	assert.Equal(t, "R1", room)

	// leaving a room the connection is not in leaves it where it is
	h.Leave("a", "R2")
	room, _ = h.RoomOf("a")
	assert.Equal(t, "R1", room)

	require.NoError(t, h.Join("a", "R2"))
	room, _ = h.RoomOf("a")
	assert.Equal(t, "R2", room)

	h.Leave("a", "R2")
	_, ok = h.RoomOf("a")
	assert.False(t, ok)

	assert.ErrorIs(t, h.Join("ghost", "R1"), ErrUnknownConnection)
}

func TestHub_Unregister(t *testing.T) {
	h, conns := setup(t, map[string]string{"a": "R1", "b": "R1"})

	h.Unregister("a")
	_, ok := h.RoomOf("a")
	assert.False(t, ok)

	h.NotifyRoom("R1", protocol.EventTableReset, protocol.TableResetPayload{})
	assert.Empty(t, conns["a"].types(t))
	assert.Len(t, conns["b"].types(t), 1)
}

func TestHub_Stats(t *testing.T) {
	h, _ := setup(t, map[string]string{"a": "R1", "b": "R1", "c": "R2", "d": ""})

	rooms, connections := h.Stats()
	assert.Equal(t, 2, rooms)
	assert.Equal(t, 4, connections)
}

func TestHub_SendFailureClosesConnection(t *testing.T) {
	h, conns := setup(t, map[string]string{"a": "R1", "b": "R1"})
	conns["a"].sendErr = errors.New("buffer full")

	h.NotifyRoom("R1", protocol.EventTableReset, protocol.TableResetPayload{})

	assert.True(t, conns["a"].isClosed())
	assert.False(t, conns["b"].isClosed())
	assert.Len(t, conns["b"].types(t), 1)
}

func TestHub_PreservesOrderPerConnection(t *testing.T) {
	h, conns := setup(t, map[string]string{"a": "R1", "b": "R1"})

	events := []string{
		protocol.EventParticipantsUpdated,
		protocol.EventVotesRevealed,
		protocol.EventTableReset,
		protocol.EventParticipantsUpdated,
	}
	for _, e := range events {
		h.NotifyRoom("R1", e, struct{}{})
	}

	assert.Equal(t, events, conns["a"].types(t))
	assert.Equal(t, events, conns["b"].types(t))
}

func TestHub_CloseAll(t *testing.T) {
	rooms := make(map[string]string)
	for i := 0; i < 5; i++ {
		rooms[fmt.Sprint(i)] = "R1"
	}
	h, conns := setup(t, rooms)

	h.CloseAll()
	for id, c := range conns {
		assert.True(t, c.isClosed(), id)
	}
}
