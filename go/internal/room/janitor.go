package room

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/blitz/go/internal/models"
	"github.com/rs/zerolog/log"
)

const (
	defaultVacancyGrace = 5 * time.Minute
	sweepTimeout        = 5 * time.Second
)

// RoomDeleter is the store capability the janitor needs.
type RoomDeleter interface {
	DeleteIf(ctx context.Context, roomID string, cond func(room *models.Room) bool) (bool, error)
}

// Janitor removes rooms that stay vacant for a grace period. Occupancy is
// checked when the timer fires, inside the delete transaction, so a
// reconnect on any instance keeps the room alive.
type Janitor struct {
	store RoomDeleter
	clock clockwork.Clock
	grace time.Duration

	mu      sync.Mutex
	timers  map[string]clockwork.Timer
	stopped bool
}

// NewJanitor creates a janitor.
func NewJanitor(store RoomDeleter, clock clockwork.Clock, grace time.Duration) *Janitor {
	return &Janitor{
		store:  store,
		clock:  clock,
		grace:  grace,
		timers: make(map[string]clockwork.Timer),
	}
}

// Schedule arms (or re-arms) the cleanup timer for roomID.
func (j *Janitor) Schedule(roomID string) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.stopped {
		return
	}
	if t, ok := j.timers[roomID]; ok {
		t.Stop()
	}

	var timer clockwork.Timer
	timer = j.clock.AfterFunc(j.grace, func() {
		j.mu.Lock()
		if j.timers[roomID] != timer {
			j.mu.Unlock()
			return
		}
		delete(j.timers, roomID)
		j.mu.Unlock()
		j.sweep(roomID)
	})
	j.timers[roomID] = timer

	log.Debug().Str("room_id", roomID).Dur("grace", j.grace).Msg("scheduled vacancy cleanup")
}

// Cancel drops any pending cleanup for roomID.
func (j *Janitor) Cancel(roomID string) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if t, ok := j.timers[roomID]; ok {
		t.Stop()
		delete(j.timers, roomID)
	}
}

// Pending reports whether a cleanup is scheduled for roomID.
func (j *Janitor) Pending(roomID string) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	_, ok := j.timers[roomID]
	return ok
}

// Stop cancels every pending cleanup.
func (j *Janitor) Stop() {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.stopped = true
	for roomID, t := range j.timers {
		t.Stop()
		delete(j.timers, roomID)
	}
}

func (j *Janitor) sweep(roomID string) {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	deleted, err := j.store.DeleteIf(ctx, roomID, vacant)
	if err != nil {
		log.Error().Err(err).Str("room_id", roomID).Msg("vacancy cleanup failed")
		return
	}
	if deleted {
		log.Info().Str("room_id", roomID).Msg("removed vacant room")
	} else {
		log.Debug().Str("room_id", roomID).Msg("room occupied again, cleanup skipped")
	}
}

func vacant(r *models.Room) bool {
	return r.LiveCount() == 0 && !r.Running()
}
