package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"planning-poker-server/internal/entities"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name        string
		in          string
		wantType    string
		wantPayload string
		wantErr     bool
	}{
		{name: "with payload", in: `{"type":"vote","payload":{"roomId":"A","vote":"3"}}`, wantType: EventVote, wantPayload: `{"roomId":"A","vote":"3"}`},
		{name: "missing payload", in: `{"type":"leave-room"}`, wantType: EventLeaveRoom, wantPayload: `{}`},
		{name: "null payload", in: `{"type":"leave-room","payload":null}`, wantType: EventLeaveRoom, wantPayload: `{}`},
		{name: "missing type", in: `{"payload":{}}`, wantErr: true},
		{name: "not json", in: `vote 3`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Decode([]byte(tt.in))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantType, msg.Type)
			assert.JSONEq(t, tt.wantPayload, string(msg.Payload))
		})
	}
}

func TestBind(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"join-room","payload":{"roomId":"abc123","userName":"Bo"}}`))
	require.NoError(t, err)

	var p JoinRoomPayload
	require.NoError(t, msg.Bind(&p))
	assert.Equal(t, JoinRoomPayload{RoomID: "abc123", UserName: "Bo"}, p)

	msg, err = Decode([]byte(`{"type":"vote","payload":"nope"}`))
	require.NoError(t, err)
	assert.Error(t, msg.Bind(&VotePayload{}))
}

func TestEncode(t *testing.T) {
	vote := "5"
	data, err := Encode(EventVotesRevealed, VotesRevealedPayload{Participants: []entities.Participant{
		{ID: "a", Name: "Ann", Vote: &vote, HasVoted: true, IsModerator: true},
		{ID: "b", Name: "Bo"},
	}})
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"type": "votes-revealed",
		"payload": {"participants": [
			{"id":"a","name":"Ann","vote":"5","hasVoted":true,"isModerator":true},
			{"id":"b","name":"Bo","vote":null,"hasVoted":false,"isModerator":false}
		]}
	}`, string(data))

	data, err = Encode(EventTableReset, TableResetPayload{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"table-reset","payload":{}}`, string(data))

	_, err = Encode(EventError, json.RawMessage(`{bad`))
	assert.Error(t, err)
}

func TestVotePayload(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    VoteValue
		wantErr bool
	}{
		{name: "string", in: `{"roomId":"A","vote":"13"}`, want: "13"},
		{name: "integer", in: `{"roomId":"A","vote":3}`, want: "3"},
		{name: "fraction keeps its text", in: `{"roomId":"A","vote":0.5}`, want: "0.5"},
		{name: "null", in: `{"roomId":"A","vote":null}`, want: ""},
		{name: "missing", in: `{"roomId":"A"}`, want: ""},
		{name: "boolean", in: `{"roomId":"A","vote":true}`, wantErr: true},
		{name: "object", in: `{"roomId":"A","vote":{"v":1}}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Decode([]byte(`{"type":"vote","payload":` + tt.in + `}`))
			require.NoError(t, err)

			var p VotePayload
			err = msg.Bind(&p)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.Vote)
		})
	}
}
