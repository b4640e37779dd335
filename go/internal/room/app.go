package room

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/blitz/go/internal/matchclock"
	"github.com/mcdev12/blitz/go/internal/models"
	"github.com/mcdev12/blitz/go/internal/relay"
	"github.com/rs/zerolog/log"
)

const (
	DefaultInitialTime = 5 * time.Minute
	defaultIDAttempts  = 3
	roomIDLength       = 8
)

// RoomStore defines what the room app needs from the shared store
type RoomStore interface {
	Create(ctx context.Context, room *models.Room) error
	Get(ctx context.Context, roomID string) (*models.Room, error)
	Mutate(ctx context.Context, roomID string, fn func(room *models.Room) error) (*models.Room, error)
	DeleteIf(ctx context.Context, roomID string, cond func(room *models.Room) bool) (bool, error)
}

// PositionSource provides the starting position for new rooms.
type PositionSource interface {
	InitialPosition() string
}

// ClockScheduler defines what the room app needs from the clock scheduler
type ClockScheduler interface {
	ArmFrom(room *models.Room)
	Cancel(roomID string)
}

// EventPublisher publishes events derived from a committed write.
type EventPublisher interface {
	Publish(ctx context.Context, events ...*relay.Event) error
}

// Config tunes room creation and cleanup.
type Config struct {
	DefaultInitialTime time.Duration
	MaxInitialTime     time.Duration
	IDAttempts         int
	// VacancyGrace is how long a room with no live connections is kept
	// before the janitor removes it. Running matches are never removed.
	VacancyGrace time.Duration
}

// App handles room lifecycle and membership.
type App struct {
	store     RoomStore
	positions PositionSource
	scheduler ClockScheduler
	publisher EventPublisher
	janitor   *Janitor
	clock     clockwork.Clock
	cfg       Config

	newID    func() string
	pickSeat func() models.Seat
}

// NewApp creates a new room App
func NewApp(store RoomStore, positions PositionSource, scheduler ClockScheduler, publisher EventPublisher, clock clockwork.Clock, cfg Config) *App {
	if cfg.DefaultInitialTime <= 0 {
		cfg.DefaultInitialTime = DefaultInitialTime
	}
	if cfg.IDAttempts <= 0 {
		cfg.IDAttempts = defaultIDAttempts
	}
	if cfg.VacancyGrace <= 0 {
		cfg.VacancyGrace = defaultVacancyGrace
	}
	return &App{
		store:     store,
		positions: positions,
		scheduler: scheduler,
		publisher: publisher,
		janitor:   NewJanitor(store, clock, cfg.VacancyGrace),
		clock:     clock,
		cfg:       cfg,
		newID:     newRoomID,
		pickSeat:  randomSeat,
	}
}

// Janitor exposes the vacancy janitor so the caller can stop it on shutdown.
func (a *App) Janitor() *Janitor {
	return a.janitor
}

func newRoomID() string {
	return uuid.New().String()[:roomIDLength]
}

func randomSeat() models.Seat {
	return models.AllSeats[rand.IntN(len(models.AllSeats))]
}

// CreateRoom writes a fresh idle room and seats the requestor. An id
// collision is retried with a new id a bounded number of times.
func (a *App) CreateRoom(ctx context.Context, req CreateRoomRequest) (*CreateRoomResult, error) {
	seat, initial, err := a.validateCreateRoomRequest(req)
	if err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	for attempt := 1; attempt <= a.cfg.IDAttempts; attempt++ {
		r := models.NewRoom(a.newID(), a.positions.InitialPosition(), initial, a.clock.Now())
		r.Seats[seat] = req.Requestor
		if req.Opponent != "" && req.Opponent != req.Requestor {
			r.Seats[seat.Opponent()] = req.Opponent
		}

		err := a.store.Create(ctx, r)
		if err == nil {
			log.Info().
				Str("room_id", r.ID).
				Str("user", req.Requestor).
				Str("seat", string(seat)).
				Dur("initial_time", initial).
				Msg("created room")
			return &CreateRoomResult{Room: r, Seat: seat, OpponentSeat: seat.Opponent()}, nil
		}
		if !errors.Is(err, models.ErrRoomExists) {
			return nil, fmt.Errorf("failed to create room: %w", err)
		}
		log.Warn().Str("room_id", r.ID).Int("attempt", attempt).Msg("room id collision")
	}

	return nil, fmt.Errorf("failed to create room after %d attempts: %w", a.cfg.IDAttempts, models.ErrRoomExists)
}

func (a *App) validateCreateRoomRequest(req CreateRoomRequest) (models.Seat, time.Duration, error) {
	if req.Requestor == "" {
		return "", 0, fmt.Errorf("%w: requestor is required", models.ErrMalformedPayload)
	}

	initial := req.InitialTime
	switch {
	case initial < 0:
		return "", 0, fmt.Errorf("%w: initial time must be positive", models.ErrMalformedPayload)
	case initial == 0:
		initial = a.cfg.DefaultInitialTime
	case a.cfg.MaxInitialTime > 0 && initial > a.cfg.MaxInitialTime:
		return "", 0, fmt.Errorf("%w: initial time exceeds %s", models.ErrMalformedPayload, a.cfg.MaxInitialTime)
	}

	if req.SeatPreference == "" {
		return a.pickSeat(), initial, nil
	}
	seat, ok := models.ParseSeat(req.SeatPreference)
	if !ok {
		return "", 0, fmt.Errorf("%w: unknown seat %q", models.ErrMalformedPayload, req.SeatPreference)
	}
	return seat, initial, nil
}

// GetRoom returns the current record.
func (a *App) GetRoom(ctx context.Context, roomID string) (*models.Room, error) {
	r, err := a.store.Get(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to get room: %w", err)
	}
	return r, nil
}

// JoinRoom records a live connection for identity, binding the first open
// seat if the identity holds none. The join that makes both seats live starts
// the match. Seat binding, the live-connection check and the start are one
// conditional write, so concurrent joins for the last seat have one winner.
func (a *App) JoinRoom(ctx context.Context, identity, roomID, claim string) (*JoinResult, error) {
	if identity == "" || claim == "" {
		return nil, fmt.Errorf("%w: identity and connection are required", models.ErrMalformedPayload)
	}

	var (
		seat    models.Seat
		started bool
	)

	r, err := a.store.Mutate(ctx, roomID, func(r *models.Room) error {
		started = false

		s, ok := r.SeatOf(identity)
		if !ok {
			for _, candidate := range models.AllSeats {
				if r.IsOpen(candidate) {
					s, ok = candidate, true
					break
				}
			}
			if !ok {
				if r.LiveCount() == len(models.AllSeats) {
					return models.ErrRoomFull
				}
				return models.ErrNotAParticipant
			}
			r.Seats[s] = identity
		}

		if r.IsLive(s) && r.Live[s] != claim {
			return models.ErrAlreadyJoined
		}
		r.Live[s] = claim
		seat = s

		if r.LiveCount() == len(models.AllSeats) && !r.Active && !r.Terminal() {
			matchclock.Start(r, a.clock.Now())
			started = true
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to join room: %w", err)
	}

	a.janitor.Cancel(roomID)

	log.Info().
		Str("room_id", roomID).
		Str("user", identity).
		Str("seat", string(seat)).
		Bool("started", started).
		Msg("joined room")

	if started {
		now := a.clock.Now()
		_ = a.publisher.Publish(ctx, relay.Started(r, now), relay.ClockUpdated(r, now))
	}
	if r.Running() {
		a.scheduler.ArmFrom(r)
	}

	return &JoinResult{Room: r, Seat: seat, Started: started}, nil
}

var errClaimNotHeld = errors.New("claim not held")

// LeaveRoom releases the live claim held by claim. The room record and its
// seat bindings stay so the participant can reconnect. Once no live
// connections remain the janitor is armed.
func (a *App) LeaveRoom(ctx context.Context, roomID, claim string) (*LeaveResult, error) {
	var seat models.Seat

	r, err := a.store.Mutate(ctx, roomID, func(r *models.Room) error {
		for _, s := range models.AllSeats {
			if r.Live[s] == claim {
				seat = s
				delete(r.Live, s)
				return nil
			}
		}
		return errClaimNotHeld
	})
	switch {
	case errors.Is(err, errClaimNotHeld), errors.Is(err, models.ErrRoomNotFound):
		return &LeaveResult{Left: false}, nil
	case err != nil:
		return nil, fmt.Errorf("failed to leave room: %w", err)
	}

	log.Info().
		Str("room_id", roomID).
		Str("user", r.Seats[seat]).
		Str("seat", string(seat)).
		Msg("left room")

	_ = a.publisher.Publish(ctx, relay.Left(r, seat, claim, a.clock.Now()))

	if r.LiveCount() == 0 {
		a.janitor.Schedule(roomID)
	}

	return &LeaveResult{Room: r, Seat: seat, Left: true}, nil
}
