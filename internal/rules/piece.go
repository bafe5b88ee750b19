package rules

import (
	"fmt"
	"strings"
)

// Color identifies a chess side.
type Color uint8

const (
	White Color = iota
	Black
)

func (c Color) String() string {
	if c == Black {
		return "black"
	}
	return "white"
}

// Opponent returns the other side.
func (c Color) Opponent() Color {
	if c == White {
		return Black
	}
	return White
}

// ParseColor accepts "white" or "black" (case-insensitive).
func ParseColor(s string) (Color, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "white":
		return White, nil
	case "black":
		return Black, nil
	}
	return White, fmt.Errorf("%w: color %q", ErrBadCode, s)
}

func (c Color) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

func (c *Color) UnmarshalText(b []byte) error {
	v, err := ParseColor(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// Kind is the piece type. The zero value means "no piece".
type Kind uint8

const (
	NoKind Kind = iota
	Pawn
	Knight
	Bishop
	Rook
	Queen
	King
)

var kindLetters = [...]byte{NoKind: 0, Pawn: 'p', Knight: 'n', Bishop: 'b', Rook: 'r', Queen: 'q', King: 'k'}

func (k Kind) String() string {
	switch k {
	case Pawn:
		return "pawn"
	case Knight:
		return "knight"
	case Bishop:
		return "bishop"
	case Rook:
		return "rook"
	case Queen:
		return "queen"
	case King:
		return "king"
	}
	return "none"
}

// Piece is a tagged value: Kind == NoKind is the empty square.
type Piece struct {
	Kind  Kind
	Color Color
}

// Empty is the canonical empty-square value.
var Empty = Piece{}

// NewPiece builds an occupied piece. NoKind collapses to Empty.
func NewPiece(c Color, k Kind) Piece {
	if k == NoKind {
		return Empty
	}
	return Piece{Kind: k, Color: c}
}

func (p Piece) IsEmpty() bool { return p.Kind == NoKind }

// Code returns the single-letter wire code: uppercase for white,
// lowercase for black, "" for empty.
func (p Piece) Code() string {
	if p.IsEmpty() || int(p.Kind) >= len(kindLetters) {
		return ""
	}
	ch := kindLetters[p.Kind]
	if p.Color == White {
		ch -= 'a' - 'A'
	}
	return string(ch)
}

func (p Piece) String() string {
	if p.IsEmpty() {
		return "empty"
	}
	return p.Color.String() + " " + p.Kind.String()
}

// ParsePieceCode is the inverse of Piece.Code. Anything other than one of
// "kqrbnpKQRBNP" or "" is rejected.
func ParsePieceCode(s string) (Piece, error) {
	if s == "" {
		return Empty, nil
	}
	if len(s) != 1 {
		return Empty, fmt.Errorf("%w: piece %q", ErrBadCode, s)
	}
	ch := s[0]
	color := Black
	if ch >= 'A' && ch <= 'Z' {
		color = White
		ch += 'a' - 'A'
	}
	for k, letter := range kindLetters {
		if letter != 0 && letter == ch {
			return Piece{Kind: Kind(k), Color: color}, nil
		}
	}
	return Empty, fmt.Errorf("%w: piece %q", ErrBadCode, s)
}
