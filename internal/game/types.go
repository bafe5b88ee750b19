package game

import (
	"errors"

	"github.com/park285/cheese-chessroom/internal/rules"
)

// DefaultClockSeconds is the starting time per side.
const DefaultClockSeconds = 600

var (
	ErrHistoryGap  = errors.New("move index ahead of local history")
	ErrBadMove     = errors.New("malformed move record")
	ErrIllegalMove = errors.New("move rejected by rules engine")
)

// MoveRecord is one committed move. Records are never mutated after commit.
type MoveRecord struct {
	From     rules.Square
	To       rules.Square
	Piece    rules.Piece
	Captured rules.Piece
	Turn     rules.Color
}

// Notation renders the move as "e2-e4", or "e4xd5" for captures.
func (m MoveRecord) Notation() string {
	sep := "-"
	if !m.Captured.IsEmpty() {
		sep = "x"
	}
	return m.From.Algebraic() + sep + m.To.Algebraic()
}

// Status is the lifecycle of a game.
type Status string

const (
	StatusActive  Status = "active"
	StatusTimeout Status = "timeout"
)

// Outcome describes how a game ended. Winner is meaningful only when Over.
type Outcome struct {
	Status Status
	Winner rules.Color
}

func (o Outcome) Over() bool { return o.Status != "" && o.Status != StatusActive }

// ConnState mirrors the transport connection of an online game.
type ConnState string

const (
	ConnConnecting   ConnState = "connecting"
	ConnConnected    ConnState = "connected"
	ConnDisconnected ConnState = "disconnected"
	ConnClosed       ConnState = "closed"
)

// Mode is either LocalMode or OnlineMode.
type Mode interface{ isMode() }

// LocalMode is hotseat play on one device.
type LocalMode struct{}

// OnlineMode binds the session to a shared room as one color.
type OnlineMode struct {
	RoomID string
	Color  rules.Color
	Conn   ConnState
}

func (LocalMode) isMode()  {}
func (OnlineMode) isMode() {}

// Snapshot is a self-contained copy of the game state.
type Snapshot struct {
	Board     rules.Board
	Turn      rules.Color
	History   []MoveRecord
	WhiteTime int
	BlackTime int
	Outcome   Outcome
}

// Link is the online collaborator of a session. The session calls it after
// releasing its own lock, so implementations may call back into the session.
type Link interface {
	PublishMove(index int, rec MoveRecord)
	GameOver(o Outcome)
	Leave()
}

// EventKind tags what changed in a session.
type EventKind string

const (
	EventMove     EventKind = "move"
	EventClock    EventKind = "clock"
	EventGameOver EventKind = "game_over"
	EventReset    EventKind = "reset"
	EventLoaded   EventKind = "loaded"
	EventMode     EventKind = "mode"
)

// Event is delivered to observers after a state change.
type Event struct {
	Kind    EventKind
	Index   int
	Move    MoveRecord
	Remote  bool
	Outcome Outcome
}

// Observer receives session events. It runs outside the session lock.
type Observer func(ev Event)
