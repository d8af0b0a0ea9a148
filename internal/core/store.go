package core

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-memdb"
	"planning-poker-server/internal/entities"
)

const roomsTable = "rooms"

type roomRecord struct {
	ID   string
	Room *Room
}

var storeSchema = &memdb.DBSchema{
	Tables: map[string]*memdb.TableSchema{
		roomsTable: {
			Name: roomsTable,
			Indexes: map[string]*memdb.IndexSchema{
				"id": {
					Name:    "id",
					Unique:  true,
					Indexer: &memdb.StringFieldIndex{Field: "ID"},
				},
			},
		},
	},
}

// Store maps room codes to live rooms.
type Store struct {
	db     *memdb.MemDB
	policy RetentionPolicy
	now    func() time.Time
}

type Option func(*Store)

func WithPolicy(p RetentionPolicy) Option {
	return func(s *Store) { s.policy = p }
}

// WithClock overrides time.Now, used for empty timers.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func NewStore(opts ...Option) (*Store, error) {
	db, err := memdb.NewMemDB(storeSchema)
	if err != nil {
		return nil, fmt.Errorf("create room table: %w", err)
	}
	s := &Store{
		db:     db,
		policy: DeleteAfter(DefaultGracePeriod),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Store) Policy() RetentionPolicy {
	return s.policy
}

// Create registers a new room with creator as its moderator. The hook runs
// before the room becomes visible to Get, so nothing can reach the room
// ahead of it. A live room with the same id yields ErrRoomExists.
func (s *Store) Create(id string, creator entities.Participant, hook Hook) (*Room, error) {
	txn := s.db.Txn(true)
	defer txn.Abort()

	existing, err := txn.First(roomsTable, "id", id)
	if err != nil {
		return nil, fmt.Errorf("lookup room %s: %w", id, err)
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: %s", ErrRoomExists, id)
	}

	room := newRoom(id, s)
	creator.ClearVote()
	creator.IsModerator = true
	room.participants = []entities.Participant{creator}

	if err := txn.Insert(roomsTable, &roomRecord{ID: id, Room: room}); err != nil {
		return nil, fmt.Errorf("insert room %s: %w", id, err)
	}
	room.emit(hook)
	txn.Commit()

	go room.roomCycle()
	return room, nil
}

func (s *Store) Get(id string) (*Room, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	raw, err := txn.First(roomsTable, "id", id)
	if err != nil {
		return nil, fmt.Errorf("lookup room %s: %w", id, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: %s", ErrRoomNotFound, id)
	}
	return raw.(*roomRecord).Room, nil
}

// Delete shuts the room down and drops it from the store.
func (s *Store) Delete(id string) error {
	room, err := s.Get(id)
	if err != nil {
		return err
	}
	return room.close()
}

// ForEach calls fn for every live room. It iterates a snapshot, so fn may
// delete rooms.
func (s *Store) ForEach(fn func(*Room)) {
	for _, room := range s.rooms() {
		fn(room)
	}
}

func (s *Store) Len() int {
	return len(s.rooms())
}

// Close shuts every room down.
func (s *Store) Close() {
	s.ForEach(func(room *Room) {
		_ = room.close()
	})
}

func (s *Store) rooms() []*Room {
	txn := s.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get(roomsTable, "id")
	if err != nil {
		return nil
	}
	var rooms []*Room
	for obj := it.Next(); obj != nil; obj = it.Next() {
		rooms = append(rooms, obj.(*roomRecord).Room)
	}
	return rooms
}

func (s *Store) remove(id string) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	if _, err := txn.DeleteAll(roomsTable, "id", id); err != nil {
		return fmt.Errorf("delete room %s: %w", id, err)
	}
	txn.Commit()
	return nil
}
