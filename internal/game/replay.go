package game

import "github.com/park285/cheese-chessroom/internal/rules"

// Replay rebuilds board and side to move by applying history to the
// standard starting position, the same way remote moves are applied.
func Replay(history []MoveRecord) (rules.Board, rules.Color) {
	b := rules.StartingBoard()
	turn := rules.White
	for _, rec := range history {
		if !rec.From.Valid() || !rec.To.Valid() {
			continue
		}
		b.Set(rec.To, b.At(rec.From))
		b.Set(rec.From, rules.Empty)
		turn = rec.Turn.Opponent()
	}
	return b, turn
}

// ReplayHistory rebuilds the session from its own history, discarding any
// board or turn drift. Clocks and outcome are kept.
func (s *Session) ReplayHistory() {
	s.mu.Lock()
	s.board, s.turn = Replay(s.history)
	observers := s.observersLocked()
	s.mu.Unlock()
	emit(observers, Event{Kind: EventLoaded})
}
