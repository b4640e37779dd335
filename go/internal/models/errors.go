package models

import "errors"

// Error taxonomy shared by every component. Callers match with errors.Is.
var (
	ErrRoomExists       = errors.New("room already exists")
	ErrRoomNotFound     = errors.New("room not found")
	ErrRoomFull         = errors.New("room is full")
	ErrAlreadyJoined    = errors.New("already joined from another connection")
	ErrNotAParticipant  = errors.New("not a participant in this room")
	ErrNotYourTurn      = errors.New("not your turn")
	ErrStaleState       = errors.New("claimed position does not match the current position")
	ErrIllegalMove      = errors.New("illegal move")
	ErrGameOver         = errors.New("game is over")
	ErrMalformedPayload = errors.New("malformed payload")
	ErrStoreUnavailable = errors.New("state store unavailable")
	ErrUnauthenticated  = errors.New("unauthenticated")
)

// ErrorCode maps an error to its wire code. Unknown errors map to "Internal".
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrRoomExists):
		return "RoomExists"
	case errors.Is(err, ErrRoomNotFound):
		return "RoomNotFound"
	case errors.Is(err, ErrRoomFull):
		return "RoomFull"
	case errors.Is(err, ErrAlreadyJoined):
		return "AlreadyJoined"
	case errors.Is(err, ErrNotAParticipant):
		return "NotAParticipant"
	case errors.Is(err, ErrNotYourTurn):
		return "NotYourTurn"
	case errors.Is(err, ErrStaleState):
		return "StaleState"
	case errors.Is(err, ErrIllegalMove):
		return "IllegalMove"
	case errors.Is(err, ErrGameOver):
		return "GameOver"
	case errors.Is(err, ErrMalformedPayload):
		return "MalformedPayload"
	case errors.Is(err, ErrStoreUnavailable):
		return "StoreUnavailable"
	case errors.Is(err, ErrUnauthenticated):
		return "Unauthenticated"
	default:
		return "Internal"
	}
}
