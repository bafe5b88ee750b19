package rules

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrBadCode   = errors.New("invalid code")
	ErrBadSquare = errors.New("invalid square")
	ErrBadBoard  = errors.New("invalid board")
)

// Square addresses a board cell. Row 0 is rank 8, column 0 is file a.
type Square struct {
	Row int
	Col int
}

// Sq is shorthand for Square{row, col}.
func Sq(row, col int) Square { return Square{Row: row, Col: col} }

func (s Square) Valid() bool {
	return s.Row >= 0 && s.Row < 8 && s.Col >= 0 && s.Col < 8
}

// Algebraic renders the square as file+rank, e.g. row 6 col 4 -> "e2".
func (s Square) Algebraic() string {
	if !s.Valid() {
		return fmt.Sprintf("(%d,%d)", s.Row, s.Col)
	}
	return string([]byte{byte('a' + s.Col), byte('0' + 8 - s.Row)})
}

func (s Square) String() string { return s.Algebraic() }

// ParseSquare reads "e2" style coordinates.
func ParseSquare(s string) (Square, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) != 2 {
		return Square{}, fmt.Errorf("%w: %q", ErrBadSquare, s)
	}
	file, rank := s[0], s[1]
	if file < 'a' || file > 'h' || rank < '1' || rank > '8' {
		return Square{}, fmt.Errorf("%w: %q", ErrBadSquare, s)
	}
	return Square{Row: 8 - int(rank-'0'), Col: int(file - 'a')}, nil
}

// MustSquare panics on malformed input. Intended for literals in tests and tables.
func MustSquare(s string) Square {
	sq, err := ParseSquare(s)
	if err != nil {
		panic(err)
	}
	return sq
}
