package move

import (
	"context"
	"fmt"
	"strings"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/blitz/go/internal/matchclock"
	"github.com/mcdev12/blitz/go/internal/models"
	"github.com/mcdev12/blitz/go/internal/relay"
	"github.com/rs/zerolog/log"
)

// Oracle is the rules engine the validator checks transitions against.
type Oracle interface {
	Apply(position string, mv models.Move) (models.Transition, error)
	SamePosition(a, b string) bool
}

// RoomStore defines what the validator needs from the shared store
type RoomStore interface {
	Mutate(ctx context.Context, roomID string, fn func(room *models.Room) error) (*models.Room, error)
}

// ClockScheduler defines what the validator needs from the clock scheduler
type ClockScheduler interface {
	ArmFrom(room *models.Room)
	Cancel(roomID string)
}

// EventPublisher publishes events derived from a committed write.
type EventPublisher interface {
	Publish(ctx context.Context, events ...*relay.Event) error
}

// App validates and applies moves.
type App struct {
	store     RoomStore
	oracle    Oracle
	scheduler ClockScheduler
	publisher EventPublisher
	clock     clockwork.Clock
}

// NewApp creates a new move App
func NewApp(store RoomStore, oracle Oracle, scheduler ClockScheduler, publisher EventPublisher, clock clockwork.Clock) *App {
	return &App{
		store:     store,
		oracle:    oracle,
		scheduler: scheduler,
		publisher: publisher,
		clock:     clock,
	}
}

// SubmitMove accepts mv only if it is the submitter's turn, the claimed
// starting position is current and the rules engine produces the claimed
// result. Position, move log and both clocks are committed in one write.
// If the mover's time ran out before the move arrived the forfeit is written
// instead and ErrGameOver is returned.
func (a *App) SubmitMove(ctx context.Context, req SubmitMoveRequest) (*SubmitMoveResult, error) {
	if err := validateSubmitMoveRequest(&req); err != nil {
		return nil, err
	}

	var (
		timedOut bool
		mover    models.Seat
		before   string
	)

	room, err := a.store.Mutate(ctx, req.RoomID, func(r *models.Room) error {
		timedOut = false

		if !r.Running() {
			return models.ErrGameOver
		}
		seat, ok := r.SeatOf(req.Identity)
		if !ok {
			return models.ErrNotAParticipant
		}
		if seat != r.ActiveSeat {
			return models.ErrNotYourTurn
		}
		if !a.oracle.SamePosition(req.ClaimedFrom, r.Position) {
			return models.ErrStaleState
		}

		next, err := a.oracle.Apply(r.Position, req.Move)
		if err != nil {
			return err
		}
		if !a.oracle.SamePosition(next.Position, req.ClaimedAfter) {
			return fmt.Errorf("%w: resulting position does not match the claimed one", models.ErrIllegalMove)
		}

		if matchclock.Advance(r, a.clock.Now()) {
			timedOut = true
			return nil
		}

		mover = seat
		before = r.Position
		r.Position = next.Position
		r.MoveLog = append(r.MoveLog, req.Move)
		if next.Result != "" {
			matchclock.Finish(r, next.Result)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to submit move: %w", err)
	}

	now := a.clock.Now()

	if timedOut {
		a.scheduler.Cancel(room.ID)
		log.Info().
			Str("room_id", room.ID).
			Str("user", req.Identity).
			Str("result", room.Result).
			Msg("move arrived after time ran out")
		_ = a.publisher.Publish(ctx, relay.ClockUpdated(room, now), relay.Ended(room, now))
		return nil, fmt.Errorf("failed to submit move: %w", models.ErrGameOver)
	}

	events := []*relay.Event{
		relay.StateChanged(room, mover, req.Move, before, now),
		relay.ClockUpdated(room, now),
	}
	if room.Terminal() {
		a.scheduler.Cancel(room.ID)
		events = append(events, relay.Ended(room, now))
	} else {
		a.scheduler.ArmFrom(room)
	}
	_ = a.publisher.Publish(ctx, events...)

	log.Debug().
		Str("room_id", room.ID).
		Str("user", req.Identity).
		Str("move", req.Move.String()).
		Int("ply", len(room.MoveLog)).
		Msg("move accepted")

	return &SubmitMoveResult{Room: room, Mover: mover, Before: before}, nil
}

func validateSubmitMoveRequest(req *SubmitMoveRequest) error {
	req.Move.From = strings.ToLower(strings.TrimSpace(req.Move.From))
	req.Move.To = strings.ToLower(strings.TrimSpace(req.Move.To))
	req.Move.Promotion = strings.ToLower(strings.TrimSpace(req.Move.Promotion))

	switch {
	case req.RoomID == "":
		return fmt.Errorf("%w: room id is required", models.ErrMalformedPayload)
	case req.Identity == "":
		return fmt.Errorf("%w: identity is required", models.ErrMalformedPayload)
	case req.Move.From == "" || req.Move.To == "":
		return fmt.Errorf("%w: move needs from and to squares", models.ErrMalformedPayload)
	case req.ClaimedFrom == "" || req.ClaimedAfter == "":
		return fmt.Errorf("%w: claimed positions are required", models.ErrMalformedPayload)
	}
	return nil
}
