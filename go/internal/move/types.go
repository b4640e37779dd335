package move

import (
	"github.com/mcdev12/blitz/go/internal/models"
)

// SubmitMoveRequest is a move submission from a verified participant.
// ClaimedFrom and ClaimedAfter are the positions the client believes the
// move starts from and produces.
type SubmitMoveRequest struct {
	Identity     string
	RoomID       string
	ClaimedFrom  string
	Move         models.Move
	ClaimedAfter string
}

// SubmitMoveResult is the committed state after an accepted move.
type SubmitMoveResult struct {
	Room   *models.Room
	Mover  models.Seat
	Before string
}
