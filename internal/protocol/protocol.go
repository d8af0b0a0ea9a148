package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"

	"planning-poker-server/internal/entities"
)

// Message is the envelope of every websocket frame in both directions.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Client -> server events
const (
	EventCreateRoom  = "create-room"
	EventJoinRoom    = "join-room"
	EventVote        = "vote"
	EventRevealVotes = "reveal-votes"
	EventResetTable  = "reset-table"
	EventLeaveRoom   = "leave-room"
)

// Server -> client events
const (
	EventRoomJoined          = "room-joined"
	EventParticipantsUpdated = "participants-updated"
	EventVotesRevealed       = "votes-revealed"
	EventTableReset          = "table-reset"
	EventError               = "error"
)

type CreateRoomPayload struct {
	UserName string `json:"userName"`
}

type JoinRoomPayload struct {
	RoomID   string `json:"roomId"`
	UserName string `json:"userName"`
}

type VotePayload struct {
	RoomID string    `json:"roomId"`
	Vote   VoteValue `json:"vote"`
}

// VoteValue is a card value. Clients may send it as a JSON string or a
// JSON number; numbers keep their literal text, so 0.5 stays "0.5".
type VoteValue string

func (v *VoteValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = VoteValue(s)
	case string(data) == "null":
		*v = ""
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("vote must be a string or a number: %w", err)
		}
		*v = VoteValue(n.String())
	}
	return nil
}

// RoomPayload carries just the room id (reveal-votes, reset-table, leave-room).
type RoomPayload struct {
	RoomID string `json:"roomId"`
}

type RoomJoinedPayload struct {
	RoomID       string                 `json:"roomId"`
	User         entities.Participant   `json:"user"`
	Participants []entities.Participant `json:"participants"`
	Revealed     bool                   `json:"revealed"`
}

type ParticipantsPayload struct {
	Participants []entities.Participant `json:"participants"`
	Revealed     bool                   `json:"revealed"`
}

type VotesRevealedPayload struct {
	Participants []entities.Participant `json:"participants"`
}

type TableResetPayload struct{}

type ErrorPayload struct {
	Message string `json:"message"`
}

// Encode wraps payload into a Message and marshals it.
func Encode(event string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", event, err)
	}
	data, err := json.Marshal(Message{Type: event, Payload: raw})
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", event, err)
	}
	return data, nil
}

// Decode parses a frame. An empty payload decodes as "{}".
func Decode(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}
	if msg.Type == "" {
		return Message{}, fmt.Errorf("decode message: missing type")
	}
	if len(msg.Payload) == 0 || string(msg.Payload) == "null" {
		msg.Payload = json.RawMessage("{}")
	}
	return msg, nil
}

func (m Message) Bind(v any) error {
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", m.Type, err)
	}
	return nil
}
