package entities

import "time"

// Room is a point-in-time copy of a room's state. It never aliases the
// live room, so it is safe to marshal from any goroutine.
type Room struct {
	ID           string        `json:"id"`
	Participants []Participant `json:"participants"`
	Revealed     bool          `json:"revealed"`
	EmptySince   *time.Time    `json:"emptySince,omitempty"`
}

func (r Room) Participant(id string) (Participant, bool) {
	for _, p := range r.Participants {
		if p.ID == id {
			return p, true
		}
	}
	return Participant{}, false
}
