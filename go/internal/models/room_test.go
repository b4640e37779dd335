package models

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSeat(t *testing.T) {
	cases := map[string]Seat{"A": SeatA, "w": SeatA, "White": SeatA, "b": SeatB, " B ": SeatB, "black": SeatB}
	for in, want := range cases {
		got, ok := ParseSeat(in)
		require.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}

	_, ok := ParseSeat("x")
	assert.False(t, ok)
}

func TestSeatHelpers(t *testing.T) {
	assert.Equal(t, SeatB, SeatA.Opponent())
	assert.Equal(t, SeatA, SeatB.Opponent())
	assert.Equal(t, "White", SeatA.DisplayName())
	assert.Equal(t, "b", SeatB.Color())
	assert.False(t, Seat("C").Valid())
}

func TestRoomSeatsAndClone(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	r := NewRoom("abcd1234", "start", 5*time.Minute, now)

	assert.True(t, r.IsOpen(SeatA))
	assert.True(t, r.IsOpen(SeatB))

	r.Seats[SeatB] = "bob"
	seat, ok := r.SeatOf("bob")
	require.True(t, ok)
	assert.Equal(t, SeatB, seat)
	_, ok = r.SeatOf("")
	assert.False(t, ok)

	c := r.Clock(SeatA)
	c.LastTimestamp = &now
	r.Clocks[SeatA] = c

	cp := r.Clone()
	later := now.Add(time.Second)
	*cp.Clocks[SeatA].LastTimestamp = later
	cp.Seats[SeatA] = "alice"
	cp.MoveLog = append(cp.MoveLog, Move{From: "e2", To: "e4"})

	assert.Equal(t, now, *r.Clocks[SeatA].LastTimestamp)
	assert.True(t, r.IsOpen(SeatA))
	assert.Empty(t, r.MoveLog)
}

func TestErrorCode(t *testing.T) {
	wrapped := fmt.Errorf("join: %w", ErrRoomFull)
	assert.Equal(t, "RoomFull", ErrorCode(wrapped))
	assert.Equal(t, "Internal", ErrorCode(errors.New("boom")))
	assert.Equal(t, "", ErrorCode(nil))
}

func TestMoveString(t *testing.T) {
	assert.Equal(t, "e7e8q", Move{From: "E7", To: "e8", Promotion: "Q"}.String())
}
