package roomstore

import (
	"context"
	"sync"

	"github.com/park285/cheese-chessroom/internal/obslog"
	"github.com/park285/cheese-chessroom/internal/rules"
	"go.uber.org/zap"
)

// SeatWriter frees or occupies a seat. RedisStore implements it.
type SeatWriter interface {
	SetSeat(ctx context.Context, id string, c rules.Color, occupied bool) error
}

// Presence holds deferred "seat is now empty" writes, one per room, to run
// when a connection goes away.
type Presence struct {
	w     SeatWriter
	mu    sync.Mutex
	seats map[string]rules.Color
}

func NewPresence(w SeatWriter) *Presence {
	return &Presence{w: w, seats: make(map[string]rules.Color)}
}

// Register records that seat c of room id should be freed on Fire.
func (p *Presence) Register(id string, c rules.Color) {
	p.mu.Lock()
	p.seats[NormalizeID(id)] = c
	p.mu.Unlock()
}

// Cancel drops the registration for room id.
func (p *Presence) Cancel(id string) {
	p.mu.Lock()
	delete(p.seats, NormalizeID(id))
	p.mu.Unlock()
}

// Len reports the number of pending registrations.
func (p *Presence) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.seats)
}

// Fire runs and clears every pending registration.
func (p *Presence) Fire(ctx context.Context) {
	p.mu.Lock()
	pending := p.seats
	p.seats = make(map[string]rules.Color)
	p.mu.Unlock()

	for id, c := range pending {
		if err := p.w.SetSeat(ctx, id, c, false); err != nil {
			obslog.L().Warn("presence_release_error", zap.String("room", id), zap.String("color", c.String()), zap.Error(err))
			continue
		}
		obslog.L().Info("presence_release", zap.String("room", id), zap.String("color", c.String()))
	}
}
