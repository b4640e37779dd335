package matchclock

import (
	"time"

	"github.com/mcdev12/blitz/go/internal/models"
)

// NewFiring builds the firing a timer armed at lastTimestamp would deliver.
func NewFiring(roomID string, seat models.Seat, lastTimestamp time.Time) firing {
	return firing{RoomID: roomID, Seat: seat, LastTimestamp: lastTimestamp.UnixMilli()}
}
