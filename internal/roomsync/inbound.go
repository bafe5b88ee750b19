package roomsync

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/park285/cheese-chessroom/internal/game"
	"github.com/park285/cheese-chessroom/internal/roomwire"
)

// consume applies feed events until the feed closes. Events of a binding
// that is no longer current are drained and dropped.
func (p *Peer) consume(gen uint64, feed roomwire.Feed) {
	for ev := range feed.Events() {
		if !p.current(gen) {
			continue
		}
		p.handle(gen, ev)
	}
	if p.current(gen) {
		p.logger.Warn("room_feed_closed", zap.String("room", p.RoomID()))
		p.session.SetConnState(game.ConnDisconnected)
	}
}

func (p *Peer) handle(gen uint64, ev roomwire.Event) {
	switch ev.Type {
	case roomwire.EventMove:
		if ev.Move == nil {
			return
		}
		rec, err := MoveFromWire(*ev.Move)
		if err != nil {
			p.logger.Warn("remote_move_invalid", zap.String("room", ev.RoomID), zap.Int("index", ev.Index), zap.Error(err))
			p.notify("room.sync_error", map[string]any{"Error": err.Error()})
			return
		}
		p.queue(gen, ev.Index, rec)
	case roomwire.EventRoom:
		p.onSnapshot(gen, ev.Snapshot)
	case roomwire.EventDeleted:
		p.roomGone(gen)
	case roomwire.EventInvalid:
		p.logger.Warn("room_event_invalid", zap.String("room", ev.RoomID), zap.String("error", ev.Error))
		p.notify("room.sync_error", map[string]any{"Error": ev.Error})
	}
}

// queue buffers a remote move by index and applies every move that is now
// contiguous with local history.
func (p *Peer) queue(gen uint64, index int, rec game.MoveRecord) {
	p.mu.Lock()
	if p.gen != gen {
		p.mu.Unlock()
		return
	}
	p.pending[index] = rec
	p.mu.Unlock()
	p.drain(gen)
}

func (p *Peer) drain(gen uint64) {
	for {
		n := p.session.HistoryLen()
		p.mu.Lock()
		if p.gen != gen || !p.online {
			p.mu.Unlock()
			return
		}
		for i := range p.pending {
			if i < n {
				delete(p.pending, i)
			}
		}
		rec, ok := p.pending[n]
		delete(p.pending, n)
		p.mu.Unlock()
		if !ok {
			return
		}
		if !p.apply(gen, n, rec) {
			return
		}
	}
}

// apply hands one remote move to the session and reports whether draining
// may continue.
func (p *Peer) apply(gen uint64, index int, rec game.MoveRecord) bool {
	var err error
	if p.validateRemote {
		_, err = p.session.ApplyChecked(index, rec)
	} else {
		_, err = p.session.ApplyTrusted(index, rec)
	}
	switch {
	case err == nil:
		return true
	case errors.Is(err, game.ErrIllegalMove):
		p.mu.Lock()
		if p.gen == gen {
			p.violations++
			p.pending = map[int]game.MoveRecord{}
		}
		p.mu.Unlock()
		p.logger.Warn("peer_violation", zap.String("room", p.RoomID()), zap.Int("index", index), zap.String("move", rec.Notation()))
		p.notify("room.peer_violation", map[string]any{"Move": rec.Notation()})
		return false
	case errors.Is(err, game.ErrHistoryGap):
		p.mu.Lock()
		if p.gen == gen {
			p.pending[index] = rec
		}
		p.mu.Unlock()
		return false
	default:
		p.logger.Warn("remote_move_rejected", zap.Int("index", index), zap.Error(err))
		p.notify("room.sync_error", map[string]any{"Error": err.Error()})
		return false
	}
}

// onSnapshot merges a room record: seats, seq and status always; board
// state according to the reconcile mode.
func (p *Peer) onSnapshot(gen uint64, r *roomwire.Room) {
	if r == nil {
		return
	}
	p.mu.Lock()
	if p.gen != gen || r.Seq < p.seq {
		p.mu.Unlock()
		return
	}
	p.seq = r.Seq
	id := p.roomID
	was := p.opponentPresent
	present := r.Players.Occupied(p.color.Opponent())
	p.opponentPresent = present
	p.mu.Unlock()

	if present != was {
		if present {
			p.logger.Info("opponent_joined", zap.String("room", id))
			p.notify("room.opponent_joined", nil)
		} else {
			p.logger.Info("opponent_away", zap.String("room", id))
			p.notify("room.opponent_away", nil)
		}
	}

	if r.Over() {
		o := outcomeOf(r)
		if p.session.EndGame(o) {
			p.notify("game.timeout", map[string]any{"Winner": o.Winner.String()})
		}
	}

	ctx, cancel := p.opCtx()
	defer cancel()
	local := p.session.HistoryLen()
	remote := len(r.MoveHistory)

	if p.reconcile == ReconcileSnapshot {
		if remote < local {
			return
		}
		snap, err := RoomToSnapshot(r)
		if err != nil {
			return
		}
		cur := p.session.Snapshot()
		if cur.Board == snap.Board && cur.Turn == snap.Turn && len(cur.History) == remote {
			return
		}
		if cur.Outcome.Over() {
			snap.Outcome = cur.Outcome
		}
		p.session.LoadSnapshot(snap)
		p.logger.Debug("room_snapshot_applied", zap.String("room", id), zap.Int64("seq", r.Seq))
		return
	}

	switch {
	case remote > local:
		p.catchUp(ctx, gen, id)
	case remote == local && remote > 0:
		snap := p.session.Snapshot()
		codes := snap.Board.Codes()
		if !sameCodes(codes, r.Board) || snap.Turn.String() != r.CurrentTurn {
			p.resync(ctx, gen, id)
		}
	}
}

// catchUp queues every logged move past local history.
func (p *Peer) catchUp(ctx context.Context, gen uint64, id string) {
	moves, err := p.store.LoadMoves(ctx, id)
	if err != nil {
		p.logger.Warn("room_catchup_error", zap.String("room", id), zap.Error(err))
		return
	}
	local := p.session.HistoryLen()
	for i := local; i < len(moves); i++ {
		rec, err := MoveFromWire(moves[i])
		if err != nil {
			return
		}
		p.mu.Lock()
		if p.gen == gen {
			p.pending[i] = rec
		}
		p.mu.Unlock()
	}
	p.drain(gen)
}

// resync rebuilds board, turn and history from the move log.
func (p *Peer) resync(ctx context.Context, gen uint64, id string) {
	moves, err := p.store.LoadMoves(ctx, id)
	if err != nil {
		p.logger.Warn("room_resync_error", zap.String("room", id), zap.Error(err))
		p.notify("room.sync_error", map[string]any{"Error": err.Error()})
		return
	}
	history, err := MovesFromWire(moves)
	if err != nil {
		p.notify("room.sync_error", map[string]any{"Error": err.Error()})
		return
	}
	if !p.current(gen) {
		return
	}
	board, turn := game.Replay(history)
	snap := p.session.Snapshot()
	if len(snap.History) == len(history) && snap.Board == board && snap.Turn == turn {
		return
	}
	snap.Board, snap.Turn, snap.History = board, turn, history
	p.mu.Lock()
	if p.gen == gen {
		p.pending = map[int]game.MoveRecord{}
	}
	p.mu.Unlock()
	p.session.LoadSnapshot(snap)
	p.logger.Info("room_resync", zap.String("room", id), zap.Int("moves", len(history)))
}

// roomGone handles deletion of the room by the other side.
func (p *Peer) roomGone(gen uint64) {
	id, feed, ok := p.detach(gen)
	if !ok {
		return
	}
	if feed != nil {
		_ = feed.Close()
	}
	ctx, cancel := p.opCtx()
	defer cancel()
	_ = p.store.CancelDisconnect(ctx, id)
	p.session.GoLocal()
	p.logger.Info("room_gone", zap.String("room", id))
	p.notify("room.opponent_left", nil)
}

func sameCodes(a, b [][]string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if len(a[i]) != len(b[i]) {
			return false
		}
		for j := range a[i] {
			if a[i][j] != b[i][j] {
				return false
			}
		}
	}
	return true
}
