package hub

import (
	"errors"
	"fmt"

	"github.com/hashicorp/go-memdb"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/iter"
	"planning-poker-server/internal/protocol"
)

var ErrUnknownConnection = errors.New("unknown connection")

// Connection is a live client link. Send must not block.
type Connection interface {
	ID() string
	Send(data []byte) error
	Close() error
}

const membersTable = "members"

type member struct {
	ConnID string
	RoomID string
	Conn   Connection
}

var schema = &memdb.DBSchema{
	Tables: map[string]*memdb.TableSchema{
		membersTable: {
			Name: membersTable,
			Indexes: map[string]*memdb.IndexSchema{
				"id": {
					Name:    "id",
					Unique:  true,
					Indexer: &memdb.StringFieldIndex{Field: "ConnID"},
				},
				"room": {
					Name:         "room",
					AllowMissing: true,
					Indexer:      &memdb.StringFieldIndex{Field: "RoomID"},
				},
			},
		},
	},
}

// Hub tracks connections and which room each one belongs to, and delivers
// events to them.
type Hub struct {
	db *memdb.MemDB
}

func New() *Hub {
	db, err := memdb.NewMemDB(schema)
	if err != nil {
		panic(fmt.Sprintf("hub: invalid schema: %v", err))
	}
	return &Hub{db: db}
}

func (h *Hub) Register(conn Connection) {
	txn := h.db.Txn(true)
	defer txn.Abort()

	if err := txn.Insert(membersTable, &member{ConnID: conn.ID(), Conn: conn}); err != nil {
		log.Error().Err(err).Str("conn", conn.ID()).Msg("register connection")
		return
	}
	txn.Commit()
	log.Debug().Str("conn", conn.ID()).Msg("connection registered")
}

func (h *Hub) Unregister(connID string) {
	txn := h.db.Txn(true)
	defer txn.Abort()

	if _, err := txn.DeleteAll(membersTable, "id", connID); err != nil {
		log.Error().Err(err).Str("conn", connID).Msg("unregister connection")
		return
	}
	txn.Commit()
	log.Debug().Str("conn", connID).Msg("connection unregistered")
}

// Join associates the connection with roomID, replacing any previous room.
func (h *Hub) Join(connID, roomID string) error {
	txn := h.db.Txn(true)
	defer txn.Abort()

	m, err := lookup(txn, connID)
	if err != nil {
		return err
	}
	if err := txn.Insert(membersTable, &member{ConnID: m.ConnID, RoomID: roomID, Conn: m.Conn}); err != nil {
		return fmt.Errorf("join %s to %s: %w", connID, roomID, err)
	}
	txn.Commit()
	return nil
}

// Leave drops the association if the connection is currently in roomID.
func (h *Hub) Leave(connID, roomID string) {
	txn := h.db.Txn(true)
	defer txn.Abort()

	m, err := lookup(txn, connID)
	if err != nil || m.RoomID != roomID {
		return
	}
	if err := txn.Insert(membersTable, &member{ConnID: m.ConnID, Conn: m.Conn}); err != nil {
		log.Error().Err(err).Str("conn", connID).Str("room", roomID).Msg("leave room")
		return
	}
	txn.Commit()
}

// RoomOf returns the room the connection is associated with.
func (h *Hub) RoomOf(connID string) (string, bool) {
	txn := h.db.Txn(false)
	defer txn.Abort()

	m, err := lookup(txn, connID)
	if err != nil || m.RoomID == "" {
		return "", false
	}
	return m.RoomID, true
}

// NotifyRoom delivers an event to every connection in roomID.
func (h *Hub) NotifyRoom(roomID, event string, payload any) {
	h.notifyRoom(roomID, "", event, payload)
}

// NotifyOthers is NotifyRoom minus the connection exceptID.
func (h *Hub) NotifyOthers(roomID, exceptID, event string, payload any) {
	h.notifyRoom(roomID, exceptID, event, payload)
}

// NotifyOne delivers an event to a single connection.
func (h *Hub) NotifyOne(connID, event string, payload any) {
	txn := h.db.Txn(false)
	m, err := lookup(txn, connID)
	txn.Abort()
	if err != nil {
		log.Debug().Err(err).Str("conn", connID).Str("event", event).Msg("drop event")
		return
	}

	data, err := protocol.Encode(event, payload)
	if err != nil {
		log.Error().Err(err).Str("event", event).Msg("encode event")
		return
	}
	deliver(m.Conn, data)
}

// Stats reports how many rooms have at least one connection and how many
// connections are registered.
func (h *Hub) Stats() (rooms, connections int) {
	txn := h.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get(membersTable, "id")
	if err != nil {
		return 0, 0
	}
	seen := make(map[string]struct{})
	for obj := it.Next(); obj != nil; obj = it.Next() {
		m := obj.(*member)
		connections++
		if m.RoomID != "" {
			seen[m.RoomID] = struct{}{}
		}
	}
	return len(seen), connections
}

// CloseAll closes every registered connection. Their disconnect paths
// unregister them.
func (h *Hub) CloseAll() {
	txn := h.db.Txn(false)
	it, err := txn.Get(membersTable, "id")
	if err != nil {
		txn.Abort()
		return
	}
	var conns []Connection
	for obj := it.Next(); obj != nil; obj = it.Next() {
		conns = append(conns, obj.(*member).Conn)
	}
	txn.Abort()

	for _, c := range conns {
		_ = c.Close()
	}
}

func (h *Hub) notifyRoom(roomID, exceptID, event string, payload any) {
	conns := h.members(roomID, exceptID)
	if len(conns) == 0 {
		return
	}

	data, err := protocol.Encode(event, payload)
	if err != nil {
		log.Error().Err(err).Str("event", event).Msg("encode event")
		return
	}

	log.Debug().Str("room", roomID).Str("event", event).Int("connections", len(conns)).Msg("broadcast")
	iter.ForEach(conns, func(c *Connection) {
		deliver(*c, data)
	})
}

func (h *Hub) members(roomID, exceptID string) []Connection {
	txn := h.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get(membersTable, "room", roomID)
	if err != nil {
		return nil
	}
	var conns []Connection
	for obj := it.Next(); obj != nil; obj = it.Next() {
		m := obj.(*member)
		if m.ConnID != exceptID {
			conns = append(conns, m.Conn)
		}
	}
	return conns
}

// deliver drops a connection that cannot keep up; closing it ends its read
// loop, which runs the normal disconnect path.
func deliver(conn Connection, data []byte) {
	if err := conn.Send(data); err != nil {
		log.Warn().Err(err).Str("conn", conn.ID()).Msg("send failed, closing connection")
		_ = conn.Close()
	}
}

func lookup(txn *memdb.Txn, connID string) (*member, error) {
	raw, err := txn.First(membersTable, "id", connID)
	if err != nil {
		return nil, fmt.Errorf("lookup connection %s: %w", connID, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownConnection, connID)
	}
	return raw.(*member), nil
}
