package archive

import (
	"fmt"
	"strings"
	"time"

	nchess "github.com/corentings/chess/v2"
	"github.com/google/uuid"

	"github.com/park285/cheese-chessroom/internal/game"
	"github.com/park285/cheese-chessroom/internal/rules"
)

// Game is one archived game.
type Game struct {
	ID        string
	RoomID    string
	WhiteName string
	BlackName string
	Result    string
	Method    string
	Moves     []string
	FinalFEN  string
	WhiteTime int
	BlackTime int
	StartedAt time.Time
	EndedAt   time.Time
}

// Duration is the wall time between start and end, never negative.
func (g *Game) Duration() time.Duration {
	d := g.EndedAt.Sub(g.StartedAt)
	if d < 0 {
		return 0
	}
	return d
}

// NewGame captures a session snapshot. An unfinished game is archived with
// no winner and method "unfinished".
func NewGame(roomID, white, black string, snap game.Snapshot, started, ended time.Time) *Game {
	g := &Game{
		ID:        uuid.NewString(),
		RoomID:    strings.ToUpper(strings.TrimSpace(roomID)),
		WhiteName: white,
		BlackName: black,
		Moves:     make([]string, 0, len(snap.History)),
		FinalFEN:  FEN(snap.Board, snap.Turn, len(snap.History)),
		WhiteTime: snap.WhiteTime,
		BlackTime: snap.BlackTime,
		StartedAt: started,
		EndedAt:   ended,
	}
	for _, rec := range snap.History {
		g.Moves = append(g.Moves, rec.Notation())
	}
	if snap.Outcome.Over() {
		g.Result = snap.Outcome.Winner.String()
		g.Method = string(snap.Outcome.Status)
	} else {
		g.Method = "unfinished"
	}
	return g
}

func mapResultToPGN(result string) string {
	switch strings.ToLower(strings.TrimSpace(result)) {
	case "white":
		return "1-0"
	case "black":
		return "0-1"
	default:
		return "*"
	}
}

// MovesText numbers moves pairwise: "1. e2-e4 c7-c5 2. g1-f3".
func MovesText(moves []string) string {
	var b strings.Builder
	for i := 0; i < len(moves); i += 2 {
		if i > 0 {
			b.WriteString(" ")
		}
		b.WriteString(fmt.Sprintf("%d. %s", i/2+1, strings.TrimSpace(moves[i])))
		if i+1 < len(moves) {
			b.WriteString(" ")
			b.WriteString(strings.TrimSpace(moves[i+1]))
		}
	}
	return b.String()
}

// Summary is a one-line human form of an archived game.
func (g *Game) Summary() string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("%s vs %s  %s", sanitizeName(g.WhiteName), sanitizeName(g.BlackName), mapResultToPGN(g.Result)))
	if g.Method != "" {
		b.WriteString(" (" + g.Method + ")")
	}
	if text := MovesText(g.Moves); text != "" {
		b.WriteString("  " + text)
	}
	return b.String()
}

func sanitizeName(s string) string {
	s = strings.ReplaceAll(s, "\\", " ")
	s = strings.ReplaceAll(s, "\"", "'")
	s = strings.TrimSpace(s)
	if s == "" {
		return "?"
	}
	return s
}

var chessPieces = map[rules.Piece]nchess.Piece{
	rules.NewPiece(rules.White, rules.King):   nchess.WhiteKing,
	rules.NewPiece(rules.White, rules.Queen):  nchess.WhiteQueen,
	rules.NewPiece(rules.White, rules.Rook):   nchess.WhiteRook,
	rules.NewPiece(rules.White, rules.Bishop): nchess.WhiteBishop,
	rules.NewPiece(rules.White, rules.Knight): nchess.WhiteKnight,
	rules.NewPiece(rules.White, rules.Pawn):   nchess.WhitePawn,
	rules.NewPiece(rules.Black, rules.King):   nchess.BlackKing,
	rules.NewPiece(rules.Black, rules.Queen):  nchess.BlackQueen,
	rules.NewPiece(rules.Black, rules.Rook):   nchess.BlackRook,
	rules.NewPiece(rules.Black, rules.Bishop): nchess.BlackBishop,
	rules.NewPiece(rules.Black, rules.Knight): nchess.BlackKnight,
	rules.NewPiece(rules.Black, rules.Pawn):   nchess.BlackPawn,
}

func chessBoard(b rules.Board) *nchess.Board {
	m := make(map[nchess.Square]nchess.Piece, 32)
	for row := 0; row < 8; row++ {
		for col := 0; col < 8; col++ {
			p := b[row][col]
			if p.IsEmpty() {
				continue
			}
			m[nchess.NewSquare(nchess.File(col), nchess.Rank(7-row))] = chessPieces[p]
		}
	}
	return nchess.NewBoard(m)
}

// FEN writes the position with no castling or en passant rights, which the
// rules never grant. plies is the number of moves played.
func FEN(b rules.Board, turn rules.Color, plies int) string {
	side := "w"
	if turn == rules.Black {
		side = "b"
	}
	return fmt.Sprintf("%s %s - - 0 %d", chessBoard(b).String(), side, plies/2+1)
}
