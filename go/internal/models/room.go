package models

import (
	"strings"
	"time"
)

// Seat identifies one of the two participant positions in a room.
type Seat string

const (
	// SeatA moves first (White).
	SeatA Seat = "A"
	// SeatB moves second (Black).
	SeatB Seat = "B"
)

// AllSeats lists seats in binding order.
var AllSeats = []Seat{SeatA, SeatB}

// ParseSeat accepts the canonical seat names as well as the colour aliases
// clients send ("w"/"b", "white"/"black").
func ParseSeat(s string) (Seat, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "a", "w", "white":
		return SeatA, true
	case "b", "black":
		return SeatB, true
	}
	return "", false
}

// Valid reports whether s is one of the two seats.
func (s Seat) Valid() bool {
	return s == SeatA || s == SeatB
}

// Opponent returns the other seat.
func (s Seat) Opponent() Seat {
	if s == SeatA {
		return SeatB
	}
	return SeatA
}

// DisplayName is the human-readable side name used in results.
func (s Seat) DisplayName() string {
	if s == SeatA {
		return "White"
	}
	return "Black"
}

// Color is the single-letter wire name of the seat.
func (s Seat) Color() string {
	if s == SeatA {
		return "w"
	}
	return "b"
}

// Clock is one participant's countdown. LastTimestamp is set only while the
// seat is the active one in a running match.
type Clock struct {
	Remaining     time.Duration `json:"remaining"`
	LastTimestamp *time.Time    `json:"last_timestamp,omitempty"`
}

// Move is a single transition in coordinate notation.
type Move struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Promotion string `json:"promotion,omitempty"`
}

// String renders the move as a UCI string (e.g. "e7e8q").
func (m Move) String() string {
	return strings.ToLower(m.From + m.To + m.Promotion)
}

// Room is the authoritative record of one match.
type Room struct {
	ID          string          `json:"id"`
	Position    string          `json:"position"`
	MoveLog     []Move          `json:"move_log"`
	Seats       map[Seat]string `json:"seats"`
	Active      bool            `json:"active"`
	ActiveSeat  Seat            `json:"active_seat,omitempty"`
	Clocks      map[Seat]Clock  `json:"clocks"`
	Result      string          `json:"result,omitempty"`
	Live        map[Seat]string `json:"-"`
	Version     int64           `json:"version"`
	InitialTime time.Duration   `json:"initial_time"`
	CreatedAt   time.Time       `json:"created_at"`
}

// NewRoom builds an idle room with both clocks at initialTime and no seats bound.
func NewRoom(id, position string, initialTime time.Duration, createdAt time.Time) *Room {
	return &Room{
		ID:       id,
		Position: position,
		MoveLog:  []Move{},
		Seats:    map[Seat]string{},
		Clocks: map[Seat]Clock{
			SeatA: {Remaining: initialTime},
			SeatB: {Remaining: initialTime},
		},
		Live:        map[Seat]string{},
		InitialTime: initialTime,
		CreatedAt:   createdAt,
	}
}

// IsOpen reports whether no identity is bound to seat.
func (r *Room) IsOpen(seat Seat) bool {
	return r.Seats[seat] == ""
}

// SeatOf returns the seat bound to identity, if any.
func (r *Room) SeatOf(identity string) (Seat, bool) {
	if identity == "" {
		return "", false
	}
	for _, s := range AllSeats {
		if r.Seats[s] == identity {
			return s, true
		}
	}
	return "", false
}

// IsLive reports whether seat currently holds a live connection claim.
func (r *Room) IsLive(seat Seat) bool {
	return r.Live[seat] != ""
}

// LiveCount is the number of seats holding a live connection claim.
func (r *Room) LiveCount() int {
	n := 0
	for _, s := range AllSeats {
		if r.IsLive(s) {
			n++
		}
	}
	return n
}

// Running reports whether the match is in progress.
func (r *Room) Running() bool {
	return r.Active && r.Result == ""
}

// Terminal reports whether the match has a result.
func (r *Room) Terminal() bool {
	return r.Result != ""
}

// Clone returns a deep copy of the room.
func (r *Room) Clone() *Room {
	c := *r
	c.MoveLog = append([]Move(nil), r.MoveLog...)
	c.Seats = make(map[Seat]string, len(r.Seats))
	for k, v := range r.Seats {
		c.Seats[k] = v
	}
	c.Live = make(map[Seat]string, len(r.Live))
	for k, v := range r.Live {
		c.Live[k] = v
	}
	c.Clocks = make(map[Seat]Clock, len(r.Clocks))
	for k, v := range r.Clocks {
		if v.LastTimestamp != nil {
			ts := *v.LastTimestamp
			v.LastTimestamp = &ts
		}
		c.Clocks[k] = v
	}
	return &c
}

// Clock returns the clock for seat.
func (r *Room) Clock(seat Seat) Clock {
	return r.Clocks[seat]
}

// Transition is what the rules engine produces for an accepted move. Result is
// set when the move ends the game.
type Transition struct {
	Position string
	Result   string
}
