package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"

	"github.com/park285/cheese-chessroom/internal/game"
	"github.com/park285/cheese-chessroom/internal/rules"
)

var glyphs = map[rules.Kind][2]string{
	rules.King:   {"♔", "♚"},
	rules.Queen:  {"♕", "♛"},
	rules.Rook:   {"♖", "♜"},
	rules.Bishop: {"♗", "♝"},
	rules.Knight: {"♘", "♞"},
	rules.Pawn:   {"♙", "♟"},
}

var (
	lightSquare = color.New(color.BgHiYellow, color.FgBlack)
	darkSquare  = color.New(color.BgYellow, color.FgBlack)
	lastSquare  = color.New(color.BgHiGreen, color.FgBlack)
	rankLabel   = color.New(color.FgHiBlack)
)

func glyph(p rules.Piece) string {
	if p.IsEmpty() {
		return " "
	}
	g := glyphs[p.Kind]
	if p.Color == rules.White {
		return g[0]
	}
	return g[1]
}

// drawBoard renders the board for a terminal, white at the bottom unless
// flipped. The squares of last, when given, are highlighted.
func drawBoard(b rules.Board, flipped bool, last *game.MoveRecord) string {
	var sb strings.Builder
	for i := 0; i < 8; i++ {
		row := i
		if flipped {
			row = 7 - i
		}
		sq := rules.Sq(row, 0)
		sb.WriteString(rankLabel.Sprint(sq.Algebraic()[1:]))
		sb.WriteString(" ")
		for j := 0; j < 8; j++ {
			col := j
			if flipped {
				col = 7 - j
			}
			sq := rules.Sq(row, col)
			paint := lightSquare
			if (row+col)%2 == 1 {
				paint = darkSquare
			}
			if last != nil && (last.From == sq || last.To == sq) {
				paint = lastSquare
			}
			sb.WriteString(paint.Sprint(" " + glyph(b.At(sq)) + " "))
		}
		sb.WriteString("\n")
	}
	sb.WriteString("  ")
	for j := 0; j < 8; j++ {
		col := j
		if flipped {
			col = 7 - j
		}
		sb.WriteString(rankLabel.Sprint(" " + rules.Sq(7, col).Algebraic()[:1] + " "))
	}
	sb.WriteString("\n")
	return sb.String()
}

// parseMove accepts "e2e4", "e2-e4", "e2xe4" or two separate squares.
func parseMove(args []string) (rules.Square, rules.Square, bool) {
	joined := strings.ToLower(strings.Join(args, ""))
	joined = strings.NewReplacer("-", "", "x", "", " ", "").Replace(joined)
	if len(joined) != 4 {
		return rules.Square{}, rules.Square{}, false
	}
	from, err := rules.ParseSquare(joined[:2])
	if err != nil {
		return rules.Square{}, rules.Square{}, false
	}
	to, err := rules.ParseSquare(joined[2:])
	if err != nil {
		return rules.Square{}, rules.Square{}, false
	}
	return from, to, true
}

func clockText(secs int) string {
	if secs < 0 {
		secs = 0
	}
	return fmt.Sprintf("%02d:%02d", secs/60, secs%60)
}
