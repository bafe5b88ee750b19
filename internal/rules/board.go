package rules

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Board is an 8x8 grid indexed [row][col]. It is a value type; copies are
// independent and two boards compare with ==.
type Board [8][8]Piece

var backRank = [8]Kind{Rook, Knight, Bishop, Queen, King, Bishop, Knight, Rook}

// StartingBoard returns the standard initial position.
func StartingBoard() Board {
	var b Board
	for c := 0; c < 8; c++ {
		b[0][c] = NewPiece(Black, backRank[c])
		b[1][c] = NewPiece(Black, Pawn)
		b[6][c] = NewPiece(White, Pawn)
		b[7][c] = NewPiece(White, backRank[c])
	}
	return b
}

// At returns the piece on sq, or Empty when sq is off-board.
func (b Board) At(sq Square) Piece {
	if !sq.Valid() {
		return Empty
	}
	return b[sq.Row][sq.Col]
}

// Set places p on sq. Off-board squares are ignored.
func (b *Board) Set(sq Square, p Piece) {
	if !sq.Valid() {
		return
	}
	b[sq.Row][sq.Col] = p
}

// Codes returns the board as rows of wire codes.
func (b Board) Codes() [][]string {
	out := make([][]string, 8)
	for r := 0; r < 8; r++ {
		out[r] = make([]string, 8)
		for c := 0; c < 8; c++ {
			out[r][c] = b[r][c].Code()
		}
	}
	return out
}

// BoardFromCodes parses rows of wire codes. The grid must be exactly 8x8.
func BoardFromCodes(rows [][]string) (Board, error) {
	var b Board
	if len(rows) != 8 {
		return b, fmt.Errorf("%w: %d rows", ErrBadBoard, len(rows))
	}
	for r, row := range rows {
		if len(row) != 8 {
			return b, fmt.Errorf("%w: row %d has %d cells", ErrBadBoard, r, len(row))
		}
		for c, code := range row {
			p, err := ParsePieceCode(code)
			if err != nil {
				return b, fmt.Errorf("%w at %s", err, Sq(r, c))
			}
			b[r][c] = p
		}
	}
	return b, nil
}

func (b Board) MarshalJSON() ([]byte, error) { return json.Marshal(b.Codes()) }

func (b *Board) UnmarshalJSON(raw []byte) error {
	var rows [][]string
	if err := json.Unmarshal(raw, &rows); err != nil {
		return fmt.Errorf("%w: %v", ErrBadBoard, err)
	}
	parsed, err := BoardFromCodes(rows)
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

// String draws the board as text, rank 8 first, "." for empty squares.
func (b Board) String() string {
	var sb strings.Builder
	for r := 0; r < 8; r++ {
		fmt.Fprintf(&sb, "%d ", 8-r)
		for c := 0; c < 8; c++ {
			code := b[r][c].Code()
			if code == "" {
				code = "."
			}
			sb.WriteString(code)
			if c < 7 {
				sb.WriteByte(' ')
			}
		}
		sb.WriteByte('\n')
	}
	sb.WriteString("  a b c d e f g h")
	return sb.String()
}

// Count returns the number of occupied squares.
func (b Board) Count() int {
	n := 0
	for r := 0; r < 8; r++ {
		for c := 0; c < 8; c++ {
			if !b[r][c].IsEmpty() {
				n++
			}
		}
	}
	return n
}
