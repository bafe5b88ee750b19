package game

import (
	"context"
	"sync"
	"time"

	"github.com/park285/cheese-chessroom/internal/rules"
	"go.uber.org/zap"
)

// Session owns the board, turn, history and clocks of one game. All methods
// are safe for concurrent use; each one runs to completion under the session
// lock, and callbacks fire after the lock is released.
type Session struct {
	mu sync.Mutex

	board     rules.Board
	turn      rules.Color
	history   []MoveRecord
	whiteTime int
	blackTime int
	outcome   Outcome
	mode      Mode
	link      Link
	flipped   bool

	clockSeconds int
	tickEvery    time.Duration
	manualClock  bool
	clockRunning bool
	clockGen     uint64
	clockCancel  context.CancelFunc

	observers []Observer
	logger    *zap.Logger
}

type Option func(*Session)

// WithClockSeconds sets the starting time per side.
func WithClockSeconds(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.clockSeconds = n
		}
	}
}

// WithManualClock disables the background ticker; callers drive Tick themselves.
func WithManualClock() Option { return func(s *Session) { s.manualClock = true } }

// WithTickInterval changes the ticker period of the background clock.
func WithTickInterval(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.tickEvery = d
		}
	}
}

func WithObserver(fn Observer) Option {
	return func(s *Session) {
		if fn != nil {
			s.observers = append(s.observers, fn)
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewSession starts a local game from the standard position.
func NewSession(opts ...Option) *Session {
	s := &Session{
		clockSeconds: DefaultClockSeconds,
		tickEvery:    time.Second,
		mode:         LocalMode{},
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.resetLocked()
	return s
}

// Observe registers fn for future events.
func (s *Session) Observe(fn Observer) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	s.observers = append(s.observers, fn)
	s.mu.Unlock()
}

// AttemptMove is the only path for locally originated moves. It returns the
// committed record, or false when the move is rejected. Rejection leaves the
// state untouched.
func (s *Session) AttemptMove(from, to rules.Square) (MoveRecord, bool) {
	s.mu.Lock()
	if s.outcome.Over() {
		s.mu.Unlock()
		return MoveRecord{}, false
	}
	if om, ok := s.mode.(OnlineMode); ok && om.Color != s.turn {
		s.mu.Unlock()
		return MoveRecord{}, false
	}
	if !rules.IsLegalMove(&s.board, s.turn, from, to) {
		s.mu.Unlock()
		return MoveRecord{}, false
	}
	rec := MoveRecord{
		From:     from,
		To:       to,
		Piece:    s.board.At(from),
		Captured: s.board.At(to),
		Turn:     s.turn,
	}
	index := s.commitLocked(rec)
	link := s.link
	observers := s.observersLocked()
	s.mu.Unlock()

	s.logger.Debug("move_commit", zap.Int("index", index), zap.String("move", rec.Notation()), zap.String("turn", rec.Turn.String()))
	if link != nil {
		link.PublishMove(index, rec)
	}
	emit(observers, Event{Kind: EventMove, Index: index, Move: rec})
	return rec, true
}

// ApplyTrusted applies a move received from the remote peer without rules
// validation. It reports whether the move was applied; an index already
// present in history is a duplicate and is ignored.
func (s *Session) ApplyTrusted(index int, rec MoveRecord) (bool, error) {
	return s.applyRemote(index, rec, false)
}

// ApplyChecked is ApplyTrusted with rules validation. An illegal move is
// not applied and yields ErrIllegalMove.
func (s *Session) ApplyChecked(index int, rec MoveRecord) (bool, error) {
	return s.applyRemote(index, rec, true)
}

func (s *Session) applyRemote(index int, rec MoveRecord, validate bool) (bool, error) {
	if !rec.From.Valid() || !rec.To.Valid() || rec.From == rec.To {
		return false, ErrBadMove
	}
	s.mu.Lock()
	switch {
	case index < len(s.history):
		s.mu.Unlock()
		return false, nil
	case index > len(s.history):
		s.mu.Unlock()
		return false, ErrHistoryGap
	}
	if validate && (rec.Turn != s.turn || !rules.IsLegalMove(&s.board, s.turn, rec.From, rec.To)) {
		s.mu.Unlock()
		return false, ErrIllegalMove
	}
	// the local board is the source of the moving piece, not the record
	applied := MoveRecord{
		From:     rec.From,
		To:       rec.To,
		Piece:    s.board.At(rec.From),
		Captured: s.board.At(rec.To),
		Turn:     rec.Turn,
	}
	if applied.Piece.IsEmpty() {
		applied.Piece = rec.Piece
	}
	s.board.Set(rec.To, s.board.At(rec.From))
	s.board.Set(rec.From, rules.Empty)
	s.history = append(s.history, applied)
	s.turn = rec.Turn.Opponent()
	if !s.outcome.Over() {
		s.startClockLocked()
	}
	observers := s.observersLocked()
	s.mu.Unlock()

	s.logger.Debug("move_remote", zap.Int("index", index), zap.String("move", applied.Notation()))
	emit(observers, Event{Kind: EventMove, Index: index, Move: applied, Remote: true})
	return true, nil
}

func (s *Session) commitLocked(rec MoveRecord) int {
	s.board.Set(rec.To, rec.Piece)
	s.board.Set(rec.From, rules.Empty)
	s.history = append(s.history, rec)
	s.turn = rec.Turn.Opponent()
	s.startClockLocked()
	return len(s.history) - 1
}

// IsLegalMove checks a move against the current position without applying it.
func (s *Session) IsLegalMove(from, to rules.Square) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return rules.IsLegalMove(&s.board, s.turn, from, to)
}

// LegalTargets lists destinations for the piece on from (move highlights).
func (s *Session) LegalTargets(from rules.Square) []rules.Square {
	s.mu.Lock()
	defer s.mu.Unlock()
	return rules.LegalTargets(&s.board, s.turn, from)
}

// Reset returns to the standard position. An online session leaves its room
// first.
func (s *Session) Reset() {
	s.mu.Lock()
	link := s.link
	_, online := s.mode.(OnlineMode)
	s.mu.Unlock()
	if online && link != nil {
		link.Leave()
	}

	s.mu.Lock()
	s.resetLocked()
	observers := s.observersLocked()
	s.mu.Unlock()
	emit(observers, Event{Kind: EventReset})
}

func (s *Session) resetLocked() {
	s.stopClockLocked()
	s.board = rules.StartingBoard()
	s.turn = rules.White
	s.history = nil
	s.whiteTime = s.clockSeconds
	s.blackTime = s.clockSeconds
	s.outcome = Outcome{Status: StatusActive}
}

// Flip toggles which side is drawn at the bottom. It does not touch game state.
func (s *Session) Flip() {
	s.mu.Lock()
	s.flipped = !s.flipped
	s.mu.Unlock()
}

func (s *Session) SetFlipped(v bool) {
	s.mu.Lock()
	s.flipped = v
	s.mu.Unlock()
}

func (s *Session) Flipped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flipped
}

// GoOnline binds the session to a room. The link receives committed local
// moves and local game-over events.
func (s *Session) GoOnline(roomID string, color rules.Color, link Link) {
	s.mu.Lock()
	s.mode = OnlineMode{RoomID: roomID, Color: color, Conn: ConnConnected}
	s.link = link
	observers := s.observersLocked()
	s.mu.Unlock()
	emit(observers, Event{Kind: EventMode})
}

// GoLocal drops the room binding and stops the clock.
func (s *Session) GoLocal() {
	s.mu.Lock()
	s.mode = LocalMode{}
	s.link = nil
	s.stopClockLocked()
	observers := s.observersLocked()
	s.mu.Unlock()
	emit(observers, Event{Kind: EventMode})
}

// SetConnState records the transport state of an online session.
func (s *Session) SetConnState(c ConnState) {
	s.mu.Lock()
	om, ok := s.mode.(OnlineMode)
	if !ok || om.Conn == c {
		s.mu.Unlock()
		return
	}
	om.Conn = c
	s.mode = om
	observers := s.observersLocked()
	s.mu.Unlock()
	emit(observers, Event{Kind: EventMode})
}

func (s *Session) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// Online returns the room binding when the session is online.
func (s *Session) Online() (OnlineMode, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	om, ok := s.mode.(OnlineMode)
	return om, ok
}

// EndGame records an outcome decided elsewhere (e.g. the remote peer's
// clock). It does not notify the link.
func (s *Session) EndGame(o Outcome) bool {
	if !o.Over() {
		return false
	}
	s.mu.Lock()
	if s.outcome.Over() {
		s.mu.Unlock()
		return false
	}
	s.outcome = o
	s.stopClockLocked()
	observers := s.observersLocked()
	s.mu.Unlock()
	emit(observers, Event{Kind: EventGameOver, Outcome: o})
	return true
}

func (s *Session) Outcome() Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outcome
}

func (s *Session) Board() rules.Board {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.board
}

func (s *Session) Turn() rules.Color {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.turn
}

func (s *Session) HistoryLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.history)
}

// History returns a copy of the committed moves.
func (s *Session) History() []MoveRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]MoveRecord(nil), s.history...)
}

// Clocks returns the remaining seconds for white and black.
func (s *Session) Clocks() (white, black int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.whiteTime, s.blackTime
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Board:     s.board,
		Turn:      s.turn,
		History:   append([]MoveRecord(nil), s.history...),
		WhiteTime: s.whiteTime,
		BlackTime: s.blackTime,
		Outcome:   s.outcome,
	}
}

// LoadSnapshot overwrites board, turn, history, clocks and outcome. A game in
// progress keeps (or starts) its clock; a finished one stops it.
func (s *Session) LoadSnapshot(snap Snapshot) {
	s.mu.Lock()
	s.board = snap.Board
	s.turn = snap.Turn
	s.history = append([]MoveRecord(nil), snap.History...)
	s.whiteTime = snap.WhiteTime
	s.blackTime = snap.BlackTime
	s.outcome = snap.Outcome
	if s.outcome.Status == "" {
		s.outcome.Status = StatusActive
	}
	switch {
	case s.outcome.Over():
		s.stopClockLocked()
	case len(s.history) > 0:
		s.startClockLocked()
	}
	observers := s.observersLocked()
	s.mu.Unlock()
	emit(observers, Event{Kind: EventLoaded})
}

func (s *Session) observersLocked() []Observer {
	if len(s.observers) == 0 {
		return nil
	}
	return append([]Observer(nil), s.observers...)
}

func emit(observers []Observer, ev Event) {
	for _, fn := range observers {
		fn(ev)
	}
}
