package roomwire

import (
	"fmt"

	"github.com/park285/cheese-chessroom/internal/rules"
)

const (
	StatusActive  = "active"
	StatusTimeout = "timeout"
)

// Players records which seats are occupied.
type Players struct {
	White bool `json:"white"`
	Black bool `json:"black"`
}

// Occupied reports whether the seat of the given color is taken.
func (p Players) Occupied(c rules.Color) bool {
	if c == rules.Black {
		return p.Black
	}
	return p.White
}

// With returns a copy with the seat of c set to v.
func (p Players) With(c rules.Color, v bool) Players {
	if c == rules.Black {
		p.Black = v
	} else {
		p.White = v
	}
	return p
}

// Room is the shared record stored under the room id.
type Room struct {
	Board       [][]string `json:"board"`
	CurrentTurn string     `json:"currentTurn"`
	MoveHistory []Move     `json:"moveHistory"`
	WhiteTime   int        `json:"whiteTime"`
	BlackTime   int        `json:"blackTime"`
	Players     Players    `json:"players"`
	CreatedAt   int64      `json:"createdAt"`
	UpdatedAt   int64      `json:"updatedAt,omitempty"`
	Seq         int64      `json:"seq"`
	Status      string     `json:"status,omitempty"`
	Winner      string     `json:"winner,omitempty"`
}

// Move is one entry of the append-only move log.
type Move struct {
	From     string `json:"from"`
	To       string `json:"to"`
	Piece    string `json:"piece"`
	Captured string `json:"captured,omitempty"`
	Turn     string `json:"turn"`
	FromRow  int    `json:"fromRow"`
	FromCol  int    `json:"fromCol"`
	ToRow    int    `json:"toRow"`
	ToCol    int    `json:"toCol"`
}

// Validate checks the record against the wire schema. Unknown piece codes,
// a non-8x8 board, negative clocks or bad enum strings are rejected.
func (r *Room) Validate() error {
	if r == nil {
		return invalid("room is nil")
	}
	if _, err := rules.BoardFromCodes(r.Board); err != nil {
		return invalid(err.Error())
	}
	if _, err := rules.ParseColor(r.CurrentTurn); err != nil {
		return invalid("currentTurn " + r.CurrentTurn)
	}
	if r.WhiteTime < 0 || r.BlackTime < 0 {
		return invalid(fmt.Sprintf("negative clock %d/%d", r.WhiteTime, r.BlackTime))
	}
	switch r.Status {
	case "", StatusActive:
		if r.Winner != "" {
			return invalid("winner set on active room")
		}
	case StatusTimeout:
		if _, err := rules.ParseColor(r.Winner); err != nil {
			return invalid("winner " + r.Winner)
		}
	default:
		return invalid("status " + r.Status)
	}
	for i := range r.MoveHistory {
		if err := r.MoveHistory[i].Validate(); err != nil {
			return fmt.Errorf("moveHistory[%d]: %w", i, err)
		}
	}
	return nil
}

// Validate checks indices, algebraic squares and piece/turn consistency.
func (m *Move) Validate() error {
	if m == nil {
		return invalid("move is nil")
	}
	from := rules.Sq(m.FromRow, m.FromCol)
	to := rules.Sq(m.ToRow, m.ToCol)
	if !from.Valid() || !to.Valid() {
		return invalid(fmt.Sprintf("indices off board %v->%v", from, to))
	}
	if from == to {
		return invalid("from equals to")
	}
	if m.From != from.Algebraic() || m.To != to.Algebraic() {
		return invalid(fmt.Sprintf("squares %s-%s do not match indices", m.From, m.To))
	}
	turn, err := rules.ParseColor(m.Turn)
	if err != nil {
		return invalid("turn " + m.Turn)
	}
	piece, err := rules.ParsePieceCode(m.Piece)
	if err != nil || piece.IsEmpty() {
		return invalid("piece " + m.Piece)
	}
	if piece.Color != turn {
		return invalid("piece " + m.Piece + " does not belong to " + m.Turn)
	}
	if _, err := rules.ParsePieceCode(m.Captured); err != nil {
		return invalid("captured " + m.Captured)
	}
	return nil
}

// Over reports whether the record carries a final status.
func (r *Room) Over() bool { return r != nil && r.Status != "" && r.Status != StatusActive }
