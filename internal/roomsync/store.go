package roomsync

import (
	"context"
	"crypto/rand"
	"errors"
	"strings"

	"github.com/park285/cheese-chessroom/internal/roomwire"
	"github.com/park285/cheese-chessroom/internal/rules"
)

// Store is the passive shared store a Peer syncs through. The Redis store
// and the relay client both satisfy it.
type Store interface {
	Ready(ctx context.Context) error
	CreateRoom(ctx context.Context, id string, room *roomwire.Room) error
	LoadRoom(ctx context.Context, id string) (*roomwire.Room, error)
	ClaimSeat(ctx context.Context, id string, c rules.Color) (*roomwire.Room, error)
	RegisterDisconnect(ctx context.Context, id string, c rules.Color) error
	CancelDisconnect(ctx context.Context, id string) error
	UpdateRoom(ctx context.Context, id string, expectedSeq int64, room *roomwire.Room) (*roomwire.Room, error)
	AppendMove(ctx context.Context, id string, index int, m *roomwire.Move) error
	LoadMoves(ctx context.Context, id string) ([]roomwire.Move, error)
	DeleteRoom(ctx context.Context, id string) error
	Subscribe(ctx context.Context, id string) (roomwire.Feed, error)
}

var (
	ErrAlreadyOnline = errors.New("already bound to a room")
	ErrRoomFull      = errors.New("room is full")
	ErrNoRoomCode    = errors.New("could not allocate a room code")
)

const (
	roomCodeLen     = 6
	roomCodeLetters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	roomCodeTries   = 5
)

// NewRoomCode returns 6 random characters from [A-Z0-9].
func NewRoomCode() (string, error) {
	b := make([]byte, roomCodeLen)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	for i := range b {
		b[i] = roomCodeLetters[int(b[i])%len(roomCodeLetters)]
	}
	return string(b), nil
}

func normalizeID(id string) string { return strings.ToUpper(strings.TrimSpace(id)) }
