package core

import (
	"context"
	"errors"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"
)

const DefaultSweepInterval = 10 * time.Minute

// Janitor periodically deletes rooms that stayed empty past the store's
// grace period.
type Janitor struct {
	store    *Store
	interval time.Duration
}

func NewJanitor(store *Store, interval time.Duration) *Janitor {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Janitor{store: store, interval: interval}
}

// Run sweeps on every tick until ctx is done.
func (j *Janitor) Run(ctx context.Context) {
	policy := j.store.Policy()
	if policy.Immediate() {
		log.Info().Msg("janitor idle, rooms are deleted as soon as they empty")
		return
	}

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	log.Info().Dur("interval", j.interval).Dur("grace", policy.Grace).Msg("janitor started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("janitor stopped")
			return
		case <-ticker.C:
			if n := j.Sweep(); n > 0 {
				log.Info().Int("deleted", n).Int("remaining", j.store.Len()).Msg("janitor sweep")
			}
		}
	}
}

// Sweep deletes every expired room and returns how many it deleted. Each
// room is checked on its own goroutine at sweep time, so a room rejoined
// since the last sweep is never touched.
func (j *Janitor) Sweep() int {
	now := j.store.now()
	grace := j.store.Policy().Grace
	deleted := 0

	j.store.ForEach(func(room *Room) {
		since, expired, err := room.Expire(now, grace)
		if err != nil {
			if !errors.Is(err, ErrRoomNotFound) {
				log.Error().Err(err).Str("room", room.ID()).Msg("expire room")
			}
			return
		}
		if expired {
			deleted++
			log.Info().Str("room", room.ID()).Str("empty_since", humanize.RelTime(since, now, "ago", "from now")).
				Msg("stale room deleted")
		}
	})
	return deleted
}
