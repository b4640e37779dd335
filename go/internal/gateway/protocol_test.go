package gateway

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/mcdev12/blitz/go/internal/models"
	"github.com/mcdev12/blitz/go/internal/relay"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePayload(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		want    JoinRoomPayload
		wantErr bool
	}{
		{name: "object", data: `{"roomId":"abc12345"}`, want: JoinRoomPayload{RoomID: "abc12345"}},
		{name: "string encoded object", data: `"{\"roomId\":\"abc12345\"}"`, want: JoinRoomPayload{RoomID: "abc12345"}},
		{name: "padded object", data: "  {\"roomId\":\"x\"}\n", want: JoinRoomPayload{RoomID: "x"}},
		{name: "missing", data: ``, wantErr: true},
		{name: "number", data: `42`, wantErr: true},
		{name: "array", data: `[1,2]`, wantErr: true},
		{name: "string that is not json", data: `"roomId=abc"`, wantErr: true},
		{name: "truncated object", data: `{"roomId":`, wantErr: true},
		{name: "wrong field type", data: `{"roomId":7}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got JoinRoomPayload
			err := ParsePayload(json.RawMessage(tt.data), &got)
			if tt.wantErr {
				assert.ErrorIs(t, err, models.ErrMalformedPayload)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSubmitMovePayloadNormalize(t *testing.T) {
	t.Run("current shape", func(t *testing.T) {
		var p SubmitMovePayload
		require.NoError(t, ParsePayload(json.RawMessage(`{
			"roomId": "r1",
			"move": {"from": "g1", "to": "f3"},
			"claimedFrom": "before",
			"claimedAfter": "after"
		}`), &p))

		mv, from, after, err := p.normalize()
		require.NoError(t, err)
		assert.Equal(t, models.Move{From: "g1", To: "f3"}, mv)
		assert.Equal(t, "before", from)
		assert.Equal(t, "after", after)
		assert.Equal(t, "r1", p.RoomID)
	})

	t.Run("legacy message", func(t *testing.T) {
		var p SubmitMovePayload
		require.NoError(t, ParsePayload(json.RawMessage(
			`"{\"message\":{\"from\":\"e7\",\"to\":\"e8\",\"promotion\":\"q\",\"before\":\"b\",\"after\":\"a\"}}"`,
		), &p))

		mv, from, after, err := p.normalize()
		require.NoError(t, err)
		assert.Equal(t, models.Move{From: "e7", To: "e8", Promotion: "q"}, mv)
		assert.Equal(t, "b", from)
		assert.Equal(t, "a", after)
	})

	t.Run("no move", func(t *testing.T) {
		_, _, _, err := SubmitMovePayload{RoomID: "r1"}.normalize()
		assert.ErrorIs(t, err, models.ErrMalformedPayload)
	})
}

func TestNewErrorMessage(t *testing.T) {
	wrapped := fmt.Errorf("failed to join room: %w", models.ErrRoomFull)
	assert.Equal(t, ErrorMessage{Message: "room is full", Code: "RoomFull"}, NewErrorMessage(wrapped))

	msg := NewErrorMessage(fmt.Errorf("dial tcp: connection refused"))
	assert.Equal(t, "Internal", msg.Code)
	assert.Equal(t, "internal error", msg.Message)
}

func decodeFrame(t *testing.T, raw []byte, v any) string {
	t.Helper()
	var f Frame
	require.NoError(t, json.Unmarshal(raw, &f))
	if v != nil {
		require.NoError(t, json.Unmarshal(f.Data, v))
	}
	return f.Event
}

func runningRoom() *models.Room {
	r := models.NewRoom("r1", startFEN, 5*time.Minute, t0)
	r.Seats[models.SeatA] = "alice"
	r.Seats[models.SeatB] = "bob"
	r.Active = true
	r.ActiveSeat = models.SeatA
	r.Version = 4
	return r
}

func TestTranslate(t *testing.T) {
	r := runningRoom()

	t.Run("started", func(t *testing.T) {
		out, err := translate(relay.Started(r, t0))
		require.NoError(t, err)

		var msg GameStartMessage
		assert.Equal(t, EventGameStart, decodeFrame(t, out.Frame, &msg))
		assert.Equal(t, GameStartMessage{Fen: startFEN, White: "alice", Black: "bob"}, msg)
		assert.Empty(t, out.Exclude)
	})

	t.Run("clock updated", func(t *testing.T) {
		c := r.Clone()
		c.Clocks[models.SeatA] = models.Clock{Remaining: 295 * time.Second}
		out, err := translate(relay.ClockUpdated(c, t0))
		require.NoError(t, err)

		var msg ClockUpdateMessage
		assert.Equal(t, EventClockUpdate, decodeFrame(t, out.Frame, &msg))
		assert.Equal(t, ClockUpdateMessage{W: 295000, B: 300000}, msg)
	})

	t.Run("state changed excludes mover", func(t *testing.T) {
		c := r.Clone()
		c.Position = afterNf3FEN
		out, err := translate(relay.StateChanged(c, models.SeatA, models.Move{From: "G1", To: "F3"}, startFEN, t0))
		require.NoError(t, err)

		var msg ReceiveMessageMessage
		assert.Equal(t, EventReceiveMessage, decodeFrame(t, out.Frame, &msg))
		assert.Equal(t, "alice", msg.Sender)
		assert.Equal(t, LegacyMessage{From: "g1", To: "f3", Before: startFEN, After: afterNf3FEN}, msg.Message)
		assert.Equal(t, "alice", out.Exclude)
	})

	t.Run("ended", func(t *testing.T) {
		c := r.Clone()
		c.Active = false
		c.Result = "Black wins on time"
		out, err := translate(relay.Ended(c, t0))
		require.NoError(t, err)

		var msg GameEndMessage
		assert.Equal(t, EventGameEnd, decodeFrame(t, out.Frame, &msg))
		assert.Equal(t, "Black wins on time", msg.Result)
	})

	t.Run("left", func(t *testing.T) {
		out, err := translate(relay.Left(r, models.SeatB, "i1/c1", t0))
		require.NoError(t, err)

		var msg LeftRoomMessage
		assert.Equal(t, EventLeftRoom, decodeFrame(t, out.Frame, &msg))
		assert.Equal(t, LeftRoomMessage{Action: "disconnected", Username: "bob"}, msg)
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := translate(&relay.Event{EventType: "Bogus", Payload: json.RawMessage(`{}`)})
		assert.Error(t, err)
	})
}
