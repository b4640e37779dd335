package rules

import (
	"testing"

	"github.com/mcdev12/blitz/go/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const startFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

func TestInitialPosition(t *testing.T) {
	assert.Equal(t, startFEN, NewChess().InitialPosition())
}

func TestApplyLegalMove(t *testing.T) {
	c := NewChess()
	tr, err := c.Apply(startFEN, models.Move{From: "g1", To: "f3"})
	require.NoError(t, err)
	assert.Equal(t, "rnbqkbnr/pppppppp/8/8/8/5N2/PPPPPPPP/RNBQKB1R b KQkq - 1 1", tr.Position)
	assert.Empty(t, tr.Result)
}

func TestApplyIllegalMove(t *testing.T) {
	c := NewChess()
	_, err := c.Apply(startFEN, models.Move{From: "e2", To: "e5"})
	assert.ErrorIs(t, err, models.ErrIllegalMove)

	_, err = c.Apply(startFEN, models.Move{From: "zz", To: "e4"})
	assert.ErrorIs(t, err, models.ErrIllegalMove)
}

func TestApplyCheckmate(t *testing.T) {
	c := NewChess()
	// Fool's mate, black to deliver mate.
	pos := "rnbqkbnr/pppp1ppp/8/4p3/6P1/5P2/PPPPP2P/RNBQKBNR b KQkq - 0 2"
	tr, err := c.Apply(pos, models.Move{From: "d8", To: "h4"})
	require.NoError(t, err)
	assert.Equal(t, "Black wins by checkmate", tr.Result)
}

func TestSamePosition(t *testing.T) {
	c := NewChess()
	afterE4 := "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq e3 0 1"
	afterE4NoTarget := "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq - 0 1"
	afterE4E5 := "rnbqkbnr/pppp1ppp/8/4p3/4P3/8/PPPP1PPP/RNBQKBNR w KQkq e6 0 2"

	tests := []struct {
		name string
		a, b string
		want bool
	}{
		{"identical", startFEN, startFEN, true},
		{"omitted target after double push", afterE4, afterE4NoTarget, true},
		{"omitted target either side", afterE4NoTarget, afterE4, true},
		{"black double push", afterE4E5, "rnbqkbnr/pppp1ppp/8/4p3/4P3/8/PPPP1PPP/RNBQKBNR w KQkq - 0 2", true},
		{"target without a double push", "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq e3 0 1", startFEN, false},
		{"target on the wrong file", "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq d3 0 1", afterE4NoTarget, false},
		{"different targets", afterE4, "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq d3 0 1", false},
		{"different placement", afterE4, startFEN, false},
		{"different side to move", afterE4NoTarget, "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR w KQkq - 0 1", false},
		{"different clocks", afterE4NoTarget, "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq - 1 1", false},
		{"not a fen", "garbage", startFEN, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.SamePosition(tt.a, tt.b))
		})
	}
}
