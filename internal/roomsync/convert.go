package roomsync

import (
	"fmt"

	"github.com/park285/cheese-chessroom/internal/game"
	"github.com/park285/cheese-chessroom/internal/roomwire"
	"github.com/park285/cheese-chessroom/internal/rules"
)

// MoveToWire encodes a committed move as a move-log entry.
func MoveToWire(rec game.MoveRecord) roomwire.Move {
	return roomwire.Move{
		From:     rec.From.Algebraic(),
		To:       rec.To.Algebraic(),
		Piece:    rec.Piece.Code(),
		Captured: rec.Captured.Code(),
		Turn:     rec.Turn.String(),
		FromRow:  rec.From.Row,
		FromCol:  rec.From.Col,
		ToRow:    rec.To.Row,
		ToCol:    rec.To.Col,
	}
}

// MoveFromWire decodes a move-log entry. Row/column indices are
// authoritative; the algebraic fields are checked by Validate.
func MoveFromWire(m roomwire.Move) (game.MoveRecord, error) {
	if err := m.Validate(); err != nil {
		return game.MoveRecord{}, err
	}
	piece, _ := rules.ParsePieceCode(m.Piece)
	captured, _ := rules.ParsePieceCode(m.Captured)
	turn, _ := rules.ParseColor(m.Turn)
	return game.MoveRecord{
		From:     rules.Sq(m.FromRow, m.FromCol),
		To:       rules.Sq(m.ToRow, m.ToCol),
		Piece:    piece,
		Captured: captured,
		Turn:     turn,
	}, nil
}

// MovesFromWire decodes a whole move log.
func MovesFromWire(ms []roomwire.Move) ([]game.MoveRecord, error) {
	out := make([]game.MoveRecord, 0, len(ms))
	for i, m := range ms {
		rec, err := MoveFromWire(m)
		if err != nil {
			return nil, fmt.Errorf("move %d: %w", i, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// SnapshotToRoom encodes the game fields of a session snapshot. Seats,
// createdAt and seq are owned by the store.
func SnapshotToRoom(snap game.Snapshot) *roomwire.Room {
	history := make([]roomwire.Move, 0, len(snap.History))
	for _, rec := range snap.History {
		history = append(history, MoveToWire(rec))
	}
	r := &roomwire.Room{
		Board:       snap.Board.Codes(),
		CurrentTurn: snap.Turn.String(),
		MoveHistory: history,
		WhiteTime:   snap.WhiteTime,
		BlackTime:   snap.BlackTime,
		Status:      roomwire.StatusActive,
	}
	if snap.Outcome.Over() {
		r.Status = string(snap.Outcome.Status)
		r.Winner = snap.Outcome.Winner.String()
	}
	return r
}

// RoomToSnapshot decodes a room record into session state.
func RoomToSnapshot(r *roomwire.Room) (game.Snapshot, error) {
	if err := r.Validate(); err != nil {
		return game.Snapshot{}, err
	}
	board, _ := rules.BoardFromCodes(r.Board)
	turn, _ := rules.ParseColor(r.CurrentTurn)
	history, err := MovesFromWire(r.MoveHistory)
	if err != nil {
		return game.Snapshot{}, err
	}
	snap := game.Snapshot{
		Board:     board,
		Turn:      turn,
		History:   history,
		WhiteTime: r.WhiteTime,
		BlackTime: r.BlackTime,
		Outcome:   outcomeOf(r),
	}
	return snap, nil
}

func outcomeOf(r *roomwire.Room) game.Outcome {
	if !r.Over() {
		return game.Outcome{Status: game.StatusActive}
	}
	winner, _ := rules.ParseColor(r.Winner)
	return game.Outcome{Status: game.Status(r.Status), Winner: winner}
}
