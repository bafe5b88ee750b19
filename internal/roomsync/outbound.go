package roomsync

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/park285/cheese-chessroom/internal/game"
	"github.com/park285/cheese-chessroom/internal/roomwire"
)

// PublishMove appends a committed local move to the room's move log, then
// refreshes the room record. A conflicting index means both sides wrote the
// same slot; the log wins and the session is rebuilt from it.
func (p *Peer) PublishMove(index int, rec game.MoveRecord) {
	id, gen, ok := p.binding()
	if !ok {
		return
	}
	ctx, cancel := p.opCtx()
	defer cancel()

	m := MoveToWire(rec)
	err := p.store.AppendMove(ctx, id, index, &m)
	switch {
	case err == nil:
	case errors.Is(err, roomwire.ErrMoveExists):
		p.logger.Warn("move_conflict", zap.String("room", id), zap.Int("index", index), zap.String("move", rec.Notation()))
		p.resync(ctx, gen, id)
		return
	case errors.Is(err, roomwire.ErrRoomNotFound):
		p.roomGone(gen)
		return
	default:
		p.logger.Error("move_publish_error", zap.String("room", id), zap.Int("index", index), zap.Error(err))
		p.notify("room.sync_error", map[string]any{"Error": err.Error()})
		return
	}
	p.writeRecord(ctx, gen, id)
}

// GameOver records a locally decided outcome in the room record.
func (p *Peer) GameOver(o game.Outcome) {
	id, gen, ok := p.binding()
	if !ok {
		return
	}
	ctx, cancel := p.opCtx()
	defer cancel()
	p.logger.Info("game_over_publish", zap.String("room", id), zap.String("status", string(o.Status)), zap.String("winner", o.Winner.String()))
	p.writeRecord(ctx, gen, id)
}

// Leave is called by the session when it is reset while online.
func (p *Peer) Leave() {
	ctx, cancel := p.opCtx()
	defer cancel()
	_ = p.LeaveRoom(ctx)
}

// writeRecord replaces the room record with the local snapshot under a seq
// compare-and-swap. A record that is already ahead of the local history only
// takes the local outcome, and a finished game is never reopened.
func (p *Peer) writeRecord(ctx context.Context, gen uint64, id string) {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	for attempt := 0; attempt < casRetries; attempt++ {
		cur, err := p.store.LoadRoom(ctx, id)
		if errors.Is(err, roomwire.ErrRoomNotFound) {
			p.roomGone(gen)
			return
		}
		if err != nil {
			p.logger.Warn("room_write_load_error", zap.String("room", id), zap.Error(err))
			return
		}
		if !p.current(gen) {
			return
		}
		snap := p.session.Snapshot()
		next := SnapshotToRoom(snap)
		if len(cur.MoveHistory) > len(snap.History) {
			// keep the newer game fields, but a local result still lands
			if !next.Over() || cur.Over() {
				return
			}
			merged := *cur
			merged.Status, merged.Winner = next.Status, next.Winner
			next = &merged
		}
		if cur.Over() && !next.Over() {
			next.Status, next.Winner = cur.Status, cur.Winner
		}
		updated, err := p.store.UpdateRoom(ctx, id, cur.Seq, next)
		if errors.Is(err, roomwire.ErrSeqConflict) {
			p.logger.Debug("room_write_retry", zap.String("room", id), zap.Int("attempt", attempt+1))
			continue
		}
		if err != nil {
			p.logger.Warn("room_write_error", zap.String("room", id), zap.Error(err))
			return
		}
		p.mu.Lock()
		if p.gen == gen && updated.Seq > p.seq {
			p.seq = updated.Seq
		}
		p.mu.Unlock()
		return
	}
	p.logger.Warn("room_write_gave_up", zap.String("room", id))
}
