package relay

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/blitz/go/internal/models"
	"github.com/rs/zerolog/log"
)

// EventType names a room event.
type EventType string

const (
	EventStarted      EventType = "Started"
	EventStateChanged EventType = "StateChanged"
	EventClockUpdated EventType = "ClockUpdated"
	EventEnded        EventType = "Ended"
	EventLeft         EventType = "Left"
)

// Event is the envelope every room event travels in. Version is the room
// record version the event was derived from.
type Event struct {
	EventID   string          `json:"eventId"`
	EventType EventType       `json:"eventType"`
	RoomID    string          `json:"roomId"`
	Version   int64           `json:"version"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// StartedPayload is the payload for a Started event
type StartedPayload struct {
	Position   string            `json:"position"`
	Seats      map[string]string `json:"seats"`
	ActiveSeat models.Seat       `json:"active_seat"`
}

// StateChangedPayload is the payload for a StateChanged event
type StateChangedPayload struct {
	Position string      `json:"position"`
	Mover    models.Seat `json:"mover"`
	Sender   string      `json:"sender"`
	Move     models.Move `json:"move"`
	Before   string      `json:"before"`
}

// ClockUpdatedPayload is the payload for a ClockUpdated event. Remaining
// times are milliseconds as of the write that produced the event.
type ClockUpdatedPayload struct {
	RemainingA int64       `json:"remaining_a"`
	RemainingB int64       `json:"remaining_b"`
	ActiveSeat models.Seat `json:"active_seat,omitempty"`
}

// EndedPayload is the payload for an Ended event
type EndedPayload struct {
	Result string `json:"result"`
}

// LeftPayload is the payload for a Left event
type LeftPayload struct {
	Username     string      `json:"username"`
	Seat         models.Seat `json:"seat"`
	ConnectionID string      `json:"connection_id"`
}

// NewEvent wraps payload in an envelope stamped with the room's version.
func NewEvent(eventType EventType, room *models.Room, payload any, now time.Time) (*Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}
	return &Event{
		EventID:   uuid.New().String(),
		EventType: eventType,
		RoomID:    room.ID,
		Version:   room.Version,
		Timestamp: now,
		Payload:   raw,
	}, nil
}

// build is NewEvent for payloads that always marshal. A failure is logged and
// yields nil, which Publisher skips.
func build(eventType EventType, room *models.Room, payload any, now time.Time) *Event {
	evt, err := NewEvent(eventType, room, payload, now)
	if err != nil {
		log.Error().Err(err).Str("room_id", room.ID).Msg("failed to build room event")
		return nil
	}
	return evt
}

// Decode unmarshals the payload into v.
func (e *Event) Decode(v any) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("failed to unmarshal %s payload: %w", e.EventType, err)
	}
	return nil
}

// Started builds the event published when the second participant joins.
func Started(room *models.Room, now time.Time) *Event {
	seats := make(map[string]string, len(room.Seats))
	for seat, identity := range room.Seats {
		seats[string(seat)] = identity
	}
	return build(EventStarted, room, StartedPayload{
		Position:   room.Position,
		Seats:      seats,
		ActiveSeat: room.ActiveSeat,
	}, now)
}

// ClockUpdated snapshots both clocks.
func ClockUpdated(room *models.Room, now time.Time) *Event {
	p := ClockUpdatedPayload{
		RemainingA: room.Clock(models.SeatA).Remaining.Milliseconds(),
		RemainingB: room.Clock(models.SeatB).Remaining.Milliseconds(),
	}
	if room.Running() {
		p.ActiveSeat = room.ActiveSeat
	}
	return build(EventClockUpdated, room, p, now)
}

// StateChanged describes an accepted move.
func StateChanged(room *models.Room, mover models.Seat, move models.Move, before string, now time.Time) *Event {
	return build(EventStateChanged, room, StateChangedPayload{
		Position: room.Position,
		Mover:    mover,
		Sender:   room.Seats[mover],
		Move:     move,
		Before:   before,
	}, now)
}

// Ended announces the terminal result.
func Ended(room *models.Room, now time.Time) *Event {
	return build(EventEnded, room, EndedPayload{Result: room.Result}, now)
}

// Left announces that a participant's connection went away.
func Left(room *models.Room, seat models.Seat, connectionID string, now time.Time) *Event {
	return build(EventLeft, room, LeftPayload{
		Username:     room.Seats[seat],
		Seat:         seat,
		ConnectionID: connectionID,
	}, now)
}
