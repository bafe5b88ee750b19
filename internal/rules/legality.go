package rules

// IsLegalMove reports whether the side on move may move the piece on from to
// to. It covers piece geometry, obstruction and capture rules only: no check
// detection, castling, en passant or promotion.
func IsLegalMove(b *Board, turn Color, from, to Square) bool {
	if b == nil || !from.Valid() || !to.Valid() || from == to {
		return false
	}
	piece := b.At(from)
	if piece.IsEmpty() || piece.Color != turn {
		return false
	}
	target := b.At(to)
	if !target.IsEmpty() && target.Color == piece.Color {
		return false
	}

	dr := to.Row - from.Row
	dc := to.Col - from.Col
	switch piece.Kind {
	case Pawn:
		return legalPawnMove(b, piece.Color, from, to, target)
	case Knight:
		adr, adc := abs(dr), abs(dc)
		return (adr == 1 && adc == 2) || (adr == 2 && adc == 1)
	case Bishop:
		return abs(dr) == abs(dc) && !PathBlocked(b, from, to)
	case Rook:
		return (dr == 0) != (dc == 0) && !PathBlocked(b, from, to)
	case Queen:
		straight := (dr == 0) != (dc == 0)
		diagonal := abs(dr) == abs(dc)
		return (straight || diagonal) && !PathBlocked(b, from, to)
	case King:
		return abs(dr) <= 1 && abs(dc) <= 1
	}
	return false
}

// pawn direction: white moves toward row 0.
func legalPawnMove(b *Board, c Color, from, to Square, target Piece) bool {
	dir, startRow := -1, 6
	if c == Black {
		dir, startRow = 1, 1
	}
	dr := to.Row - from.Row
	dc := to.Col - from.Col

	if dc == 0 {
		if !target.IsEmpty() {
			return false
		}
		if dr == dir {
			return true
		}
		if dr == 2*dir && from.Row == startRow {
			return b.At(Sq(from.Row+dir, from.Col)).IsEmpty()
		}
		return false
	}
	// diagonal step only onto an enemy piece
	return abs(dc) == 1 && dr == dir && !target.IsEmpty() && target.Color != c
}

// PathBlocked walks the squares strictly between from and to in unit steps
// and reports whether any is occupied. Only meaningful for straight or
// diagonal lines; other geometries report false.
func PathBlocked(b *Board, from, to Square) bool {
	dr := to.Row - from.Row
	dc := to.Col - from.Col
	if !(dr == 0 || dc == 0 || abs(dr) == abs(dc)) {
		return false
	}
	sr, sc := sign(dr), sign(dc)
	r, c := from.Row+sr, from.Col+sc
	for r != to.Row || c != to.Col {
		if !b.At(Sq(r, c)).IsEmpty() {
			return true
		}
		r += sr
		c += sc
	}
	return false
}

// LegalTargets lists every square the piece on from may move to.
func LegalTargets(b *Board, turn Color, from Square) []Square {
	if b == nil || !from.Valid() {
		return nil
	}
	var out []Square
	for r := 0; r < 8; r++ {
		for c := 0; c < 8; c++ {
			if to := Sq(r, c); IsLegalMove(b, turn, from, to) {
				out = append(out, to)
			}
		}
	}
	return out
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func sign(v int) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}
