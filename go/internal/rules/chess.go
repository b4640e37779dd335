package rules

import (
	"fmt"
	"strings"

	"github.com/mcdev12/blitz/go/internal/models"
	"github.com/notnil/chess"
)

// Chess applies moves with standard chess rules. Positions are FEN strings.
type Chess struct{}

// NewChess returns the chess rules engine.
func NewChess() *Chess {
	return &Chess{}
}

// InitialPosition returns the standard starting FEN.
func (c *Chess) InitialPosition() string {
	return chess.NewGame().Position().String()
}

// Apply plays mv on position and returns the resulting position. Rejected
// moves return ErrIllegalMove.
func (c *Chess) Apply(position string, mv models.Move) (models.Transition, error) {
	fen, err := chess.FEN(position)
	if err != nil {
		return models.Transition{}, fmt.Errorf("invalid position %q: %w", position, err)
	}
	game := chess.NewGame(fen)

	move, err := chess.UCINotation{}.Decode(game.Position(), mv.String())
	if err != nil {
		return models.Transition{}, fmt.Errorf("%w: %s: %v", models.ErrIllegalMove, mv, err)
	}
	if err := game.Move(move); err != nil {
		return models.Transition{}, fmt.Errorf("%w: %s: %v", models.ErrIllegalMove, mv, err)
	}

	return models.Transition{
		Position: game.Position().String(),
		Result:   resultText(game.Outcome(), game.Method()),
	}, nil
}

// SamePosition compares two FENs field by field. The en passant target may be
// left out on one side, since some clients only emit it when a capture is
// possible, but a target that is given must be one the placement allows.
func (c *Chess) SamePosition(a, b string) bool {
	fa, fb := strings.Fields(a), strings.Fields(b)
	if len(fa) != 6 || len(fb) != 6 {
		return a == b
	}
	for i := range fa {
		if i != 3 && fa[i] != fb[i] {
			return false
		}
	}
	switch {
	case fa[3] == fb[3]:
		return true
	case fa[3] == "-":
		return enPassantTarget(fb[0], fb[1], fb[3])
	case fb[3] == "-":
		return enPassantTarget(fa[0], fa[1], fa[3])
	default:
		return false
	}
}

// enPassantTarget reports whether square is the target left by a pawn that
// just advanced two squares, with side to move next.
func enPassantTarget(placement, side, square string) bool {
	if len(square) != 2 || square[0] < 'a' || square[0] > 'h' {
		return false
	}
	file := int(square[0] - 'a')

	var (
		pawn                     byte
		landed, passed, startRow int
	)
	switch {
	case side == "b" && square[1] == '3':
		pawn, landed, passed, startRow = 'P', 4, 3, 2
	case side == "w" && square[1] == '6':
		pawn, landed, passed, startRow = 'p', 5, 6, 7
	default:
		return false
	}

	board, ok := expandPlacement(placement)
	if !ok {
		return false
	}
	return board[landed][file] == pawn && board[passed][file] == 0 && board[startRow][file] == 0
}

// expandPlacement turns the FEN piece placement into a board indexed by rank
// (1-8) and file (0-7). Empty squares are zero.
func expandPlacement(placement string) ([9][8]byte, bool) {
	var board [9][8]byte
	rows := strings.Split(placement, "/")
	if len(rows) != 8 {
		return board, false
	}
	for i, row := range rows {
		rank := 8 - i
		file := 0
		for j := 0; j < len(row); j++ {
			ch := row[j]
			if ch >= '1' && ch <= '8' {
				file += int(ch - '0')
				continue
			}
			if file > 7 {
				return board, false
			}
			board[rank][file] = ch
			file++
		}
		if file != 8 {
			return board, false
		}
	}
	return board, true
}

func resultText(outcome chess.Outcome, method chess.Method) string {
	switch outcome {
	case chess.WhiteWon:
		return "White wins by " + methodText(method)
	case chess.BlackWon:
		return "Black wins by " + methodText(method)
	case chess.Draw:
		return "Draw by " + methodText(method)
	default:
		return ""
	}
}

func methodText(method chess.Method) string {
	switch method {
	case chess.Checkmate:
		return "checkmate"
	case chess.Stalemate:
		return "stalemate"
	case chess.InsufficientMaterial:
		return "insufficient material"
	case chess.ThreefoldRepetition, chess.FivefoldRepetition:
		return "repetition"
	case chess.FiftyMoveRule, chess.SeventyFiveMoveRule:
		return "move rule"
	default:
		return "agreement"
	}
}
