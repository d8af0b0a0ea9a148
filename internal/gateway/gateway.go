package gateway

import (
	"errors"

	"github.com/rs/zerolog/log"
	"planning-poker-server/internal/core"
	"planning-poker-server/internal/entities"
	"planning-poker-server/internal/protocol"
)

// Messages sent back in error events.
const (
	MsgRoomNotFound   = "Room not found"
	MsgRevealDenied   = "Only moderators can reveal votes"
	MsgResetDenied    = "Only moderators can reset the table"
	MsgInvalidMessage = "Invalid message"
	MsgUnknownEvent   = "Unknown event"
	MsgCreateFailed   = "Could not create room, please try again"
)

// maxCodeAttempts bounds how often a colliding room code is redrawn.
const maxCodeAttempts = 5

// Dispatcher delivers events to connections and tracks room membership.
type Dispatcher interface {
	Join(connID, roomID string) error
	Leave(connID, roomID string)
	RoomOf(connID string) (string, bool)
	NotifyRoom(roomID, event string, payload any)
	NotifyOthers(roomID, exceptID, event string, payload any)
	NotifyOne(connID, event string, payload any)
}

// Gateway turns client events into room operations and their broadcasts.
type Gateway struct {
	store    *core.Store
	dispatch Dispatcher
	deck     protocol.Deck
	newCode  CodeGenerator
}

type Option func(*Gateway)

// WithDeck restricts votes to the given card values.
func WithDeck(deck []string) Option {
	return func(g *Gateway) { g.deck = deck }
}

func WithCodeGenerator(gen CodeGenerator) Option {
	return func(g *Gateway) { g.newCode = gen }
}

func New(store *core.Store, dispatch Dispatcher, opts ...Option) *Gateway {
	g := &Gateway{
		store:    store,
		dispatch: dispatch,
		newCode:  NewRoomCode,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Handle processes one inbound frame from connID.
func (g *Gateway) Handle(connID string, data []byte) {
	msg, err := protocol.Decode(data)
	if err != nil {
		log.Warn().Err(err).Str("conn", connID).Msg("invalid message")
		g.fail(connID, MsgInvalidMessage)
		return
	}

	switch msg.Type {
	case protocol.EventCreateRoom:
		var p protocol.CreateRoomPayload
		if g.bind(connID, msg, &p) {
			g.createRoom(connID, p)
		}
	case protocol.EventJoinRoom:
		var p protocol.JoinRoomPayload
		if g.bind(connID, msg, &p) {
			g.joinRoom(connID, p)
		}
	case protocol.EventVote:
		var p protocol.VotePayload
		if g.bind(connID, msg, &p) {
			g.vote(connID, p)
		}
	case protocol.EventRevealVotes:
		var p protocol.RoomPayload
		if g.bind(connID, msg, &p) {
			g.reveal(connID, p)
		}
	case protocol.EventResetTable:
		var p protocol.RoomPayload
		if g.bind(connID, msg, &p) {
			g.reset(connID, p)
		}
	case protocol.EventLeaveRoom:
		var p protocol.RoomPayload
		if g.bind(connID, msg, &p) {
			g.leave(connID, protocol.NormalizeRoomID(p.RoomID))
		}
	default:
		log.Warn().Str("conn", connID).Str("type", msg.Type).Msg("unknown event")
		g.fail(connID, MsgUnknownEvent)
	}
}

// Disconnect treats a closed connection exactly like leave-room for the
// room it was in.
func (g *Gateway) Disconnect(connID string) {
	if roomID, ok := g.dispatch.RoomOf(connID); ok {
		g.leave(connID, roomID)
	}
}

func (g *Gateway) createRoom(connID string, p protocol.CreateRoomPayload) {
	name, err := protocol.NormalizeName(p.UserName)
	if err != nil {
		g.fail(connID, err.Error())
		return
	}
	g.leaveCurrent(connID)

	creator := entities.NewParticipant(connID, name)
	for attempt := 1; attempt <= maxCodeAttempts; attempt++ {
		code, err := g.newCode()
		if err != nil {
			log.Error().Err(err).Msg("room code")
			break
		}

		_, err = g.store.Create(code, creator, g.joined(connID))
		if errors.Is(err, core.ErrRoomExists) {
			log.Warn().Str("room", code).Int("attempt", attempt).Msg("room code collision")
			continue
		}
		if err != nil {
			log.Error().Err(err).Str("room", code).Msg("create room")
			break
		}
		log.Info().Str("room", code).Str("name", name).Msg("room created")
		return
	}
	g.fail(connID, MsgCreateFailed)
}

func (g *Gateway) joinRoom(connID string, p protocol.JoinRoomPayload) {
	name, err := protocol.NormalizeName(p.UserName)
	if err != nil {
		g.fail(connID, err.Error())
		return
	}
	roomID := protocol.NormalizeRoomID(p.RoomID)
	room, err := g.store.Get(roomID)
	if err != nil {
		g.fail(connID, MsgRoomNotFound)
		return
	}

	if current, ok := g.dispatch.RoomOf(connID); ok && current == roomID {
		g.confirm(connID, room)
		return
	}
	g.leaveCurrent(connID)

	_, err = room.AddParticipant(entities.NewParticipant(connID, name), g.joined(connID))
	switch {
	case errors.Is(err, core.ErrRoomNotFound):
		g.fail(connID, MsgRoomNotFound)
	case errors.Is(err, core.ErrAlreadyParticipant):
		g.confirm(connID, room)
	}
}

func (g *Gateway) vote(connID string, p protocol.VotePayload) {
	room, ok := g.room(connID, p.RoomID)
	if !ok {
		return
	}
	vote := string(p.Vote)
	if err := g.deck.Validate(vote); err != nil {
		g.fail(connID, err.Error())
		return
	}

	err := room.CastVote(connID, vote, func(snap entities.Room) {
		g.dispatch.NotifyRoom(snap.ID, protocol.EventParticipantsUpdated, participantsPayload(snap))
	})
	if errors.Is(err, core.ErrRoomNotFound) {
		g.fail(connID, MsgRoomNotFound)
	}
}

func (g *Gateway) reveal(connID string, p protocol.RoomPayload) {
	room, ok := g.room(connID, p.RoomID)
	if !ok {
		return
	}

	err := room.Reveal(connID, func(snap entities.Room) {
		g.dispatch.NotifyRoom(snap.ID, protocol.EventVotesRevealed,
			protocol.VotesRevealedPayload{Participants: snap.Participants})
	})
	switch {
	case errors.Is(err, core.ErrForbidden):
		g.fail(connID, MsgRevealDenied)
	case errors.Is(err, core.ErrRoomNotFound):
		g.fail(connID, MsgRoomNotFound)
	}
}

func (g *Gateway) reset(connID string, p protocol.RoomPayload) {
	room, ok := g.room(connID, p.RoomID)
	if !ok {
		return
	}

	err := room.Reset(connID, func(snap entities.Room) {
		g.dispatch.NotifyRoom(snap.ID, protocol.EventTableReset, protocol.TableResetPayload{})
		g.dispatch.NotifyRoom(snap.ID, protocol.EventParticipantsUpdated, participantsPayload(snap))
	})
	switch {
	case errors.Is(err, core.ErrForbidden):
		g.fail(connID, MsgResetDenied)
	case errors.Is(err, core.ErrRoomNotFound):
		g.fail(connID, MsgRoomNotFound)
	}
}

// leave removes connID from roomID. Unknown rooms and participants are
// ignored.
func (g *Gateway) leave(connID, roomID string) {
	g.dispatch.Leave(connID, roomID)

	room, err := g.store.Get(roomID)
	if err != nil {
		return
	}
	err = room.RemoveParticipant(connID, func(snap entities.Room) {
		g.dispatch.NotifyRoom(snap.ID, protocol.EventParticipantsUpdated, participantsPayload(snap))
	})
	if err != nil && !errors.Is(err, core.ErrNotParticipant) && !errors.Is(err, core.ErrRoomNotFound) {
		log.Error().Err(err).Str("conn", connID).Str("room", roomID).Msg("leave room")
	}
}

func (g *Gateway) leaveCurrent(connID string) {
	if current, ok := g.dispatch.RoomOf(connID); ok {
		g.leave(connID, current)
	}
}

// joined returns the hook that attaches connID to the room, confirms the
// join to it and tells everybody else.
func (g *Gateway) joined(connID string) core.Hook {
	return func(snap entities.Room) {
		if err := g.dispatch.Join(connID, snap.ID); err != nil {
			log.Warn().Err(err).Str("conn", connID).Str("room", snap.ID).Msg("attach connection")
		}
		g.dispatch.NotifyOne(connID, protocol.EventRoomJoined, roomJoinedPayload(connID, snap))
		g.dispatch.NotifyOthers(snap.ID, connID, protocol.EventParticipantsUpdated, participantsPayload(snap))
	}
}

// confirm resends room-joined to a connection that is already in the room.
func (g *Gateway) confirm(connID string, room *core.Room) {
	snap, err := room.Snapshot()
	if err != nil {
		g.fail(connID, MsgRoomNotFound)
		return
	}
	g.dispatch.NotifyOne(connID, protocol.EventRoomJoined, roomJoinedPayload(connID, snap))
}

func (g *Gateway) room(connID, roomID string) (*core.Room, bool) {
	room, err := g.store.Get(protocol.NormalizeRoomID(roomID))
	if err != nil {
		g.fail(connID, MsgRoomNotFound)
		return nil, false
	}
	return room, true
}

func (g *Gateway) bind(connID string, msg protocol.Message, v any) bool {
	if err := msg.Bind(v); err != nil {
		log.Warn().Err(err).Str("conn", connID).Msg("invalid payload")
		g.fail(connID, MsgInvalidMessage)
		return false
	}
	return true
}

func (g *Gateway) fail(connID, message string) {
	g.dispatch.NotifyOne(connID, protocol.EventError, protocol.ErrorPayload{Message: message})
}

func roomJoinedPayload(connID string, snap entities.Room) protocol.RoomJoinedPayload {
	user, _ := snap.Participant(connID)
	return protocol.RoomJoinedPayload{
		RoomID:       snap.ID,
		User:         user,
		Participants: snap.Participants,
		Revealed:     snap.Revealed,
	}
}

func participantsPayload(snap entities.Room) protocol.ParticipantsPayload {
	return protocol.ParticipantsPayload{Participants: snap.Participants, Revealed: snap.Revealed}
}
