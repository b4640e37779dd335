package matchclock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/blitz/go/internal/models"
	"github.com/mcdev12/blitz/go/internal/relay"
	"github.com/rs/zerolog/log"
)

const (
	defaultWorkers       = 4
	workChannelBuffer    = 1024
	defaultEvaluateLimit = 5 * time.Second
)

// RoomStore is what the scheduler needs from the shared store.
type RoomStore interface {
	Get(ctx context.Context, roomID string) (*models.Room, error)
	Mutate(ctx context.Context, roomID string, fn func(room *models.Room) error) (*models.Room, error)
}

// EventPublisher publishes room events after a committed write.
type EventPublisher interface {
	Publish(ctx context.Context, events ...*relay.Event) error
}

// firing identifies the clock state a timer was armed for. A firing whose
// seat or stamp no longer matches the record is stale.
type firing struct {
	RoomID        string
	Seat          models.Seat
	LastTimestamp int64
}

type armedTimer struct {
	timer  clockwork.Timer
	firing firing
	stop   chan struct{}
}

// Config tunes the scheduler.
type Config struct {
	Workers int
	// EvaluateTimeout bounds one timeout evaluation against the store.
	EvaluateTimeout time.Duration
}

// Scheduler keeps at most one local timer per room and resolves time
// forfeits when they fire. The timers are an index only; every decision is
// taken against the stored record.
type Scheduler struct {
	store      RoomStore
	publisher  EventPublisher
	clock      clockwork.Clock
	instanceID string
	cfg        Config

	workCh chan firing

	activeTimers   map[string]*armedTimer
	activeTimersMu sync.Mutex

	// inFlight holds rooms a worker is evaluating, with the latest firing
	// that arrived meanwhile. Guarded by activeTimersMu.
	inFlight map[string]*firing

	lifecycle context.Context
	cancel    context.CancelFunc
}

// NewScheduler creates a scheduler. Timers may be armed before Run starts;
// their firings queue until workers are running.
func NewScheduler(store RoomStore, publisher EventPublisher, clock clockwork.Clock, instanceID string, cfg Config) *Scheduler {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.EvaluateTimeout <= 0 {
		cfg.EvaluateTimeout = defaultEvaluateLimit
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		store:        store,
		publisher:    publisher,
		clock:        clock,
		instanceID:   instanceID,
		cfg:          cfg,
		workCh:       make(chan firing, workChannelBuffer),
		activeTimers: make(map[string]*armedTimer),
		inFlight:     make(map[string]*firing),
		lifecycle:    ctx,
		cancel:       cancel,
	}
}

// Arm reads the room and schedules its timeout, replacing any local timer.
// Rooms that are idle or terminal have their timer cancelled instead.
func (s *Scheduler) Arm(ctx context.Context, roomID string) error {
	room, err := s.store.Get(ctx, roomID)
	if err != nil {
		if errors.Is(err, models.ErrRoomNotFound) {
			s.Cancel(roomID)
			return nil
		}
		return err
	}
	s.ArmFrom(room)
	return nil
}

// ArmFrom schedules from an already committed snapshot of the room.
func (s *Scheduler) ArmFrom(room *models.Room) {
	deadline, ok := Deadline(room)
	if !ok {
		s.Cancel(room.ID)
		return
	}

	f := firing{
		RoomID:        room.ID,
		Seat:          room.ActiveSeat,
		LastTimestamp: room.Clocks[room.ActiveSeat].LastTimestamp.UnixMilli(),
	}

	duration := deadline.Sub(s.clock.Now())
	if duration < 0 {
		duration = 0
	}

	armed := &armedTimer{
		timer:  s.clock.NewTimer(duration),
		firing: f,
		stop:   make(chan struct{}),
	}
	s.replaceTimer(room.ID, armed)

	go s.wait(armed)

	log.Debug().
		Str("room_id", room.ID).
		Str("seat", string(f.Seat)).
		Time("deadline", deadline).
		Dur("duration", duration).
		Msg("armed clock timer")
}

func (s *Scheduler) wait(armed *armedTimer) {
	select {
	case <-armed.timer.Chan():
		s.removeTimer(armed)
		select {
		case s.workCh <- armed.firing:
			log.Debug().Str("room_id", armed.firing.RoomID).Msg("timer fired - enqueued for evaluation")
		case <-s.lifecycle.Done():
		default:
			log.Warn().Str("room_id", armed.firing.RoomID).Msg("timer fired but work channel full")
		}
	case <-armed.stop:
	case <-s.lifecycle.Done():
		stopAndDrainTimer(armed.timer)
	}
}

// Cancel stops the local timer for roomID, if any.
func (s *Scheduler) Cancel(roomID string) {
	s.activeTimersMu.Lock()
	defer s.activeTimersMu.Unlock()

	if armed, ok := s.activeTimers[roomID]; ok {
		disarm(armed)
		delete(s.activeTimers, roomID)
		log.Debug().Str("room_id", roomID).Msg("cancelled clock timer")
	}
}

// Armed reports whether a local timer is pending for roomID.
func (s *Scheduler) Armed(roomID string) bool {
	s.activeTimersMu.Lock()
	defer s.activeTimersMu.Unlock()
	_, ok := s.activeTimers[roomID]
	return ok
}

// ActiveTimers returns the number of pending local timers.
func (s *Scheduler) ActiveTimers() int {
	s.activeTimersMu.Lock()
	defer s.activeTimersMu.Unlock()
	return len(s.activeTimers)
}

func (s *Scheduler) replaceTimer(roomID string, armed *armedTimer) {
	s.activeTimersMu.Lock()
	defer s.activeTimersMu.Unlock()

	if existing, ok := s.activeTimers[roomID]; ok {
		disarm(existing)
		log.Debug().Str("room_id", roomID).Msg("replaced existing clock timer")
	}
	s.activeTimers[roomID] = armed
}

// removeTimer drops armed from the index unless it has already been replaced.
func (s *Scheduler) removeTimer(armed *armedTimer) {
	s.activeTimersMu.Lock()
	defer s.activeTimersMu.Unlock()

	if current, ok := s.activeTimers[armed.firing.RoomID]; ok && current == armed {
		delete(s.activeTimers, armed.firing.RoomID)
	}
}

// beginEvaluation claims f's room for the calling worker. If another worker
// is already evaluating the room, f is parked behind it and false is returned.
func (s *Scheduler) beginEvaluation(f firing) bool {
	s.activeTimersMu.Lock()
	defer s.activeTimersMu.Unlock()

	if _, busy := s.inFlight[f.RoomID]; busy {
		parked := f
		s.inFlight[f.RoomID] = &parked
		return false
	}
	s.inFlight[f.RoomID] = nil
	return true
}

// finishEvaluation hands back a firing parked while roomID was evaluated,
// keeping the room claimed, or releases the room when there is none.
func (s *Scheduler) finishEvaluation(roomID string) (firing, bool) {
	s.activeTimersMu.Lock()
	defer s.activeTimersMu.Unlock()

	parked, ok := s.inFlight[roomID]
	if !ok || parked == nil {
		delete(s.inFlight, roomID)
		return firing{}, false
	}
	s.inFlight[roomID] = nil
	return *parked, true
}

func disarm(armed *armedTimer) {
	stopAndDrainTimer(armed.timer)
	close(armed.stop)
}

// stopAndDrainTimer stops a timer and drains its channel if it already fired.
func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}

var errStaleFiring = errors.New("stale timer firing")

// Evaluate resolves a fired timer against the stored record. Firings for a
// room that has moved on are no-ops. If the active seat has run out of time
// the forfeit is written and Ended is published; this happens at most once
// per room because the write only succeeds while the room is running. A timer
// that fired before the deadline is re-armed for the residual.
func (s *Scheduler) Evaluate(ctx context.Context, f firing) error {
	var expired bool
	room, err := s.store.Mutate(ctx, f.RoomID, func(r *models.Room) error {
		expired = false
		if !r.Running() || r.ActiveSeat != f.Seat {
			return errStaleFiring
		}
		last := r.Clocks[r.ActiveSeat].LastTimestamp
		if last == nil || last.UnixMilli() != f.LastTimestamp {
			return errStaleFiring
		}
		expired = Expire(r, s.clock.Now())
		return nil
	})
	switch {
	case errors.Is(err, errStaleFiring), errors.Is(err, models.ErrRoomNotFound):
		log.Debug().Str("room_id", f.RoomID).Msg("ignoring stale clock timer")
		return nil
	case err != nil:
		return err
	}

	if !expired {
		log.Debug().Str("room_id", f.RoomID).Msg("clock timer fired early, re-arming")
		s.ArmFrom(room)
		return nil
	}

	log.Info().
		Str("room_id", room.ID).
		Str("result", room.Result).
		Int64("version", room.Version).
		Msg("room ended on time")

	now := s.clock.Now()
	_ = s.publisher.Publish(ctx, relay.ClockUpdated(room, now), relay.Ended(room, now))
	return nil
}
