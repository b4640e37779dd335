package matchclock

import (
	"fmt"
	"time"

	"github.com/mcdev12/blitz/go/internal/models"
)

// Start puts an idle room into Running with seat A to move. Only A's clock is
// stamped so exactly one timestamp is set while the match runs.
func Start(room *models.Room, now time.Time) {
	room.Active = true
	room.ActiveSeat = models.SeatA
	for _, seat := range models.AllSeats {
		c := room.Clocks[seat]
		c.LastTimestamp = nil
		room.Clocks[seat] = c
	}
	stamp(room, models.SeatA, now)
}

// Remaining returns seat's time left at now, counting the running interval
// for the active seat. It never goes below zero.
func Remaining(room *models.Room, seat models.Seat, now time.Time) time.Duration {
	c := room.Clocks[seat]
	left := c.Remaining
	if room.Running() && seat == room.ActiveSeat && c.LastTimestamp != nil {
		left -= elapsed(*c.LastTimestamp, now)
	}
	if left < 0 {
		return 0
	}
	return left
}

// Deadline is the instant the active seat runs out of time.
func Deadline(room *models.Room) (time.Time, bool) {
	if !room.Running() {
		return time.Time{}, false
	}
	c := room.Clocks[room.ActiveSeat]
	if c.LastTimestamp == nil {
		return time.Time{}, false
	}
	return c.LastTimestamp.Add(c.Remaining), true
}

// Advance charges the active seat for the time since its stamp and hands the
// turn to the opponent. If the charge exhausts the active seat's budget the
// room is forfeited instead and Advance reports true. Budgets are stored in
// whole milliseconds, so less than one millisecond left counts as exhausted.
func Advance(room *models.Room, now time.Time) (timedOut bool) {
	seat := room.ActiveSeat
	c := room.Clocks[seat]
	if c.LastTimestamp != nil {
		c.Remaining -= elapsed(*c.LastTimestamp, now)
	}
	if c.Remaining < time.Millisecond {
		room.Clocks[seat] = c
		Forfeit(room, seat)
		return true
	}

	c.LastTimestamp = nil
	room.Clocks[seat] = c
	room.ActiveSeat = seat.Opponent()
	stamp(room, room.ActiveSeat, now)
	return false
}

// Expire forfeits the active seat if its budget is spent at now. A room with
// time left is not modified.
func Expire(room *models.Room, now time.Time) bool {
	if !room.Running() {
		return false
	}
	if Remaining(room, room.ActiveSeat, now) >= time.Millisecond {
		return false
	}
	Forfeit(room, room.ActiveSeat)
	return true
}

// Forfeit ends the match with seat losing on time.
func Forfeit(room *models.Room, seat models.Seat) {
	c := room.Clocks[seat]
	c.Remaining = 0
	room.Clocks[seat] = c
	Finish(room, fmt.Sprintf("%s wins on time", seat.Opponent().DisplayName()))
}

// Finish makes the room terminal with result and stops both clocks.
func Finish(room *models.Room, result string) {
	room.Result = result
	room.Active = false
	for _, seat := range models.AllSeats {
		c := room.Clocks[seat]
		c.LastTimestamp = nil
		room.Clocks[seat] = c
	}
}

func stamp(room *models.Room, seat models.Seat, now time.Time) {
	c := room.Clocks[seat]
	ts := now
	c.LastTimestamp = &ts
	room.Clocks[seat] = c
}

func elapsed(since, now time.Time) time.Duration {
	d := now.Sub(since)
	if d < 0 {
		return 0
	}
	return d
}
