package core

import (
	"slices"
	"time"

	"github.com/rs/zerolog/log"
	"planning-poker-server/internal/entities"
)

// Hook runs on the room goroutine right after a state change, with a copy
// of the resulting state. Broadcasts issued from a hook are therefore
// ordered exactly like the changes that caused them.
// A hook must not call back into the same room.
type Hook func(room entities.Room)

type roomCmd struct {
	apply func()
	done  chan struct{}
}

// Room is a single estimation session. Its state is owned by one goroutine
// (roomCycle); every exported method hands a closure to that goroutine and
// waits for it to finish.
type Room struct {
	id     string
	store  *Store
	cmds   chan roomCmd
	closed chan struct{}

	// owned by roomCycle
	participants []entities.Participant
	revealed     bool
	emptySince   *time.Time
	dead         bool
}

func newRoom(id string, store *Store) *Room {
	return &Room{
		id:     id,
		store:  store,
		cmds:   make(chan roomCmd),
		closed: make(chan struct{}),
	}
}

func (r *Room) ID() string {
	return r.id
}

func (r *Room) roomCycle() {
	defer close(r.closed)
	for cmd := range r.cmds {
		cmd.apply()
		close(cmd.done)
		if r.dead {
			return
		}
	}
}

// exec runs fn on the room goroutine. It fails with ErrRoomNotFound once the
// room has been shut down; r.cmds is unbuffered, so an accepted command is
// always applied.
func (r *Room) exec(fn func()) error {
	cmd := roomCmd{apply: fn, done: make(chan struct{})}
	select {
	case r.cmds <- cmd:
	case <-r.closed:
		return ErrRoomNotFound
	}
	<-cmd.done
	return nil
}

// Snapshot returns a copy of the current state.
func (r *Room) Snapshot() (entities.Room, error) {
	var snap entities.Room
	err := r.exec(func() {
		snap = r.snapshot()
	})
	return snap, err
}

// AddParticipant appends p. The first participant of an empty room becomes
// moderator; joining always clears the empty timer.
func (r *Room) AddParticipant(p entities.Participant, hook Hook) (entities.Participant, error) {
	var (
		added entities.Participant
		err   error
	)
	execErr := r.exec(func() {
		if r.indexOf(p.ID) >= 0 {
			err = ErrAlreadyParticipant
			return
		}
		p.ClearVote()
		p.IsModerator = len(r.participants) == 0
		r.participants = append(r.participants, p)
		r.emptySince = nil
		added = p

		log.Info().Str("room", r.id).Str("participant", p.ID).Str("name", p.Name).
			Bool("moderator", p.IsModerator).Msg("participant joined")
		r.emit(hook)
	})
	if execErr != nil {
		return entities.Participant{}, execErr
	}
	return added, err
}

// RemoveParticipant drops the participant with the given id. When the
// moderator leaves, whoever is now first in line takes over. The hook only
// runs if somebody is left to hear about it.
func (r *Room) RemoveParticipant(id string, hook Hook) error {
	var err error
	execErr := r.exec(func() {
		idx := r.indexOf(id)
		if idx < 0 {
			err = ErrNotParticipant
			return
		}
		left := r.participants[idx]
		r.participants = slices.Delete(r.participants, idx, idx+1)

		log.Info().Str("room", r.id).Str("participant", left.ID).Str("name", left.Name).Msg("participant left")

		if len(r.participants) == 0 {
			if r.store.policy.Immediate() {
				r.shutdown()
				return
			}
			now := r.store.now()
			r.emptySince = &now
			log.Info().Str("room", r.id).Dur("grace", r.store.policy.Grace).Msg("room is empty, grace period started")
			return
		}

		if left.IsModerator {
			r.participants[0].IsModerator = true
			log.Info().Str("room", r.id).Str("participant", r.participants[0].ID).Msg("moderator handed off")
		}
		r.emit(hook)
	})
	if execErr != nil {
		return execErr
	}
	return err
}

// CastVote records value for the participant. The value is opaque here.
func (r *Room) CastVote(id, value string, hook Hook) error {
	var err error
	execErr := r.exec(func() {
		idx := r.indexOf(id)
		if idx < 0 {
			err = ErrNotParticipant
			return
		}
		r.participants[idx].SetVote(value)
		log.Debug().Str("room", r.id).Str("participant", id).Str("vote", value).Msg("vote cast")
		r.emit(hook)
	})
	if execErr != nil {
		return execErr
	}
	return err
}

// Reveal makes the current votes visible. Only the moderator may reveal;
// revealing an already revealed table still runs the hook.
func (r *Room) Reveal(id string, hook Hook) error {
	var err error
	execErr := r.exec(func() {
		if !r.isModerator(id) {
			err = ErrForbidden
			return
		}
		r.revealed = true
		log.Info().Str("room", r.id).Msg("votes revealed")
		r.emit(hook)
	})
	if execErr != nil {
		return execErr
	}
	return err
}

// Reset clears every vote and hides the table again. Moderator only.
func (r *Room) Reset(id string, hook Hook) error {
	var err error
	execErr := r.exec(func() {
		if !r.isModerator(id) {
			err = ErrForbidden
			return
		}
		for i := range r.participants {
			r.participants[i].ClearVote()
		}
		r.revealed = false
		log.Info().Str("room", r.id).Msg("table reset")
		r.emit(hook)
	})
	if execErr != nil {
		return execErr
	}
	return err
}

// Expire shuts the room down if it has been empty for longer than grace at
// the moment of the call. It reports when the room was emptied.
func (r *Room) Expire(now time.Time, grace time.Duration) (time.Time, bool, error) {
	var (
		since   time.Time
		expired bool
	)
	err := r.exec(func() {
		if len(r.participants) > 0 || r.emptySince == nil {
			return
		}
		since = *r.emptySince
		if now.Sub(since) > grace {
			expired = true
			r.shutdown()
		}
	})
	return since, expired, err
}

func (r *Room) close() error {
	return r.exec(r.shutdown)
}

// shutdown must run on the room goroutine.
func (r *Room) shutdown() {
	r.dead = true
	if err := r.store.remove(r.id); err != nil {
		log.Error().Err(err).Str("room", r.id).Msg("remove room from store")
		return
	}
	log.Info().Str("room", r.id).Msg("room deleted")
}

func (r *Room) emit(hook Hook) {
	if hook != nil {
		hook(r.snapshot())
	}
}

func (r *Room) indexOf(id string) int {
	return slices.IndexFunc(r.participants, func(p entities.Participant) bool {
		return p.ID == id
	})
}

func (r *Room) isModerator(id string) bool {
	idx := r.indexOf(id)
	return idx >= 0 && r.participants[idx].IsModerator
}

func (r *Room) snapshot() entities.Room {
	snap := entities.Room{
		ID:           r.id,
		Participants: make([]entities.Participant, len(r.participants)),
		Revealed:     r.revealed,
	}
	for i, p := range r.participants {
		if p.Vote != nil {
			v := *p.Vote
			p.Vote = &v
		}
		snap.Participants[i] = p
	}
	if r.emptySince != nil {
		t := *r.emptySince
		snap.EmptySince = &t
	}
	return snap
}
