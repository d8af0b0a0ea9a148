package entities

// Participant is one connected user in a room as seen on the wire.
type Participant struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Vote        *string `json:"vote"`
	HasVoted    bool    `json:"hasVoted"`
	IsModerator bool    `json:"isModerator"`
}

func NewParticipant(id, name string) Participant {
	return Participant{ID: id, Name: name}
}

// ClearVote drops the current vote, keeping Vote and HasVoted consistent.
func (p *Participant) ClearVote() {
	p.Vote = nil
	p.HasVoted = false
}

func (p *Participant) SetVote(value string) {
	v := value
	p.Vote = &v
	p.HasVoted = true
}
