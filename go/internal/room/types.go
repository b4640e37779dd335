package room

import (
	"time"

	"github.com/mcdev12/blitz/go/internal/models"
)

// CreateRoomRequest describes a new room. Opponent and SeatPreference are
// optional; a zero InitialTime selects the configured default.
type CreateRoomRequest struct {
	Requestor      string
	Opponent       string
	SeatPreference string
	InitialTime    time.Duration
}

// CreateRoomResult reports where the requestor was seated.
type CreateRoomResult struct {
	Room         *models.Room
	Seat         models.Seat
	OpponentSeat models.Seat
}

// JoinResult is the committed room after a join. Started is true when this
// join began the match.
type JoinResult struct {
	Room    *models.Room
	Seat    models.Seat
	Started bool
}

// LeaveResult describes a released live claim. Left is false when the claim
// was no longer held.
type LeaveResult struct {
	Room *models.Room
	Seat models.Seat
	Left bool
}
