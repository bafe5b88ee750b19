package roomsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/park285/cheese-chessroom/internal/game"
	"github.com/park285/cheese-chessroom/internal/msgcat"
	"github.com/park285/cheese-chessroom/internal/obslog"
	"github.com/park285/cheese-chessroom/internal/roomwire"
	"github.com/park285/cheese-chessroom/internal/rules"
)

// ReconcileMode selects how room snapshots are merged into the session.
type ReconcileMode string

const (
	// ReconcileBootstrap treats the move log as the only source of truth
	// once joined. Snapshots only carry seats, status and seq.
	ReconcileBootstrap ReconcileMode = "bootstrap"
	// ReconcileSnapshot overwrites board and turn from any snapshot whose
	// history is at least as long as the local one.
	ReconcileSnapshot ReconcileMode = "snapshot"
)

const (
	defaultPublishTimeout = 5 * time.Second
	casRetries            = 5
)

// Notice is a user-facing status message.
type Notice struct {
	Key  string
	Text string
}

// Peer binds one game session to one room of a Store. It is the session's
// Link while online.
type Peer struct {
	store   Store
	session *game.Session
	catalog *msgcat.Catalog
	logger  *zap.Logger

	validateRemote bool
	reconcile      ReconcileMode
	publishTimeout time.Duration
	newCode        func() (string, error)

	mu              sync.Mutex
	gen             uint64
	roomID          string
	color           rules.Color
	online          bool
	feed            roomwire.Feed
	seq             int64
	opponentPresent bool
	pending         map[int]game.MoveRecord
	violations      int
	notices         []func(Notice)

	// serializes the whole-record writes that follow each publish
	writeMu sync.Mutex
}

type Option func(*Peer)

func WithCatalog(c *msgcat.Catalog) Option { return func(p *Peer) { p.catalog = c } }

func WithLogger(l *zap.Logger) Option {
	return func(p *Peer) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithValidateRemote runs remote moves through the rules engine before
// applying them.
func WithValidateRemote(v bool) Option { return func(p *Peer) { p.validateRemote = v } }

func WithReconcile(m ReconcileMode) Option {
	return func(p *Peer) {
		if m == ReconcileBootstrap || m == ReconcileSnapshot {
			p.reconcile = m
		}
	}
}

func WithPublishTimeout(d time.Duration) Option {
	return func(p *Peer) {
		if d > 0 {
			p.publishTimeout = d
		}
	}
}

// WithCodeSource replaces the room code generator.
func WithCodeSource(fn func() (string, error)) Option {
	return func(p *Peer) {
		if fn != nil {
			p.newCode = fn
		}
	}
}

func NewPeer(store Store, session *game.Session, opts ...Option) *Peer {
	p := &Peer{
		store:          store,
		session:        session,
		logger:         obslog.L(),
		reconcile:      ReconcileBootstrap,
		publishTimeout: defaultPublishTimeout,
		newCode:        NewRoomCode,
		pending:        map[int]game.MoveRecord{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// OnNotice registers a callback for user-facing status messages.
func (p *Peer) OnNotice(fn func(Notice)) {
	p.mu.Lock()
	p.notices = append(p.notices, fn)
	p.mu.Unlock()
}

func (p *Peer) notify(key string, data map[string]any) {
	text := key
	if p.catalog != nil {
		text = p.catalog.Text(key, data)
	}
	p.mu.Lock()
	fns := append(([]func(Notice))(nil), p.notices...)
	p.mu.Unlock()
	n := Notice{Key: key, Text: text}
	for _, fn := range fns {
		fn(n)
	}
}

func (p *Peer) RoomID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.roomID
}

func (p *Peer) Color() rules.Color {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.color
}

func (p *Peer) Online() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.online
}

// OpponentPresent reports whether the other seat is occupied.
func (p *Peer) OpponentPresent() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.opponentPresent
}

// Violations counts remote moves rejected by validation.
func (p *Peer) Violations() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.violations
}

// Seq is the last room seq seen.
func (p *Peer) Seq() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.seq
}

// StatusKey returns the message key for the room status line, or "" when
// offline.
func (p *Peer) StatusKey() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case !p.online:
		return ""
	case p.opponentPresent:
		return "room.in_progress"
	default:
		return "room.waiting"
	}
}

// SetConnState forwards transport state to the session.
func (p *Peer) SetConnState(c game.ConnState) { p.session.SetConnState(c) }

// CreateRoom starts a fresh game, hosts it as white and returns the code.
func (p *Peer) CreateRoom(ctx context.Context) (string, error) {
	if p.Online() {
		return "", ErrAlreadyOnline
	}
	if err := p.store.Ready(ctx); err != nil {
		p.notify("room.not_ready", nil)
		return "", readyErr(err)
	}

	p.session.Reset()
	var (
		id   string
		room *roomwire.Room
	)
	for attempt := 0; attempt < roomCodeTries; attempt++ {
		code, err := p.newCode()
		if err != nil {
			return "", err
		}
		r := SnapshotToRoom(p.session.Snapshot())
		r.Players = roomwire.Players{White: true}
		err = p.store.CreateRoom(ctx, code, r)
		if errors.Is(err, roomwire.ErrRoomExists) {
			p.logger.Debug("room_code_collision", zap.String("room", code))
			continue
		}
		if err != nil {
			p.notify("room.sync_error", map[string]any{"Error": err.Error()})
			return "", err
		}
		id, room = code, r
		break
	}
	if id == "" {
		return "", ErrNoRoomCode
	}

	if err := p.attach(ctx, id, rules.White, room); err != nil {
		_ = p.store.DeleteRoom(ctx, id)
		return "", err
	}
	p.session.SetFlipped(false)
	p.logger.Info("room_host", zap.String("room", id))
	p.notify("room.created", map[string]any{"Room": id})
	return id, nil
}

// JoinRoom claims the black seat of an existing room and loads its game.
func (p *Peer) JoinRoom(ctx context.Context, id string) error {
	id = normalizeID(id)
	if p.Online() {
		return ErrAlreadyOnline
	}
	if err := p.store.Ready(ctx); err != nil {
		p.notify("room.not_ready", nil)
		return readyErr(err)
	}

	room, err := p.store.LoadRoom(ctx, id)
	if errors.Is(err, roomwire.ErrRoomNotFound) {
		p.notify("room.not_found", map[string]any{"Room": id})
		return err
	}
	if err != nil {
		p.notify("room.sync_error", map[string]any{"Error": err.Error()})
		return err
	}
	if room.Players.Black {
		p.notify("room.full", map[string]any{"Room": id})
		return fmt.Errorf("%w: %s", ErrRoomFull, id)
	}
	room, err = p.store.ClaimSeat(ctx, id, rules.Black)
	switch {
	case errors.Is(err, roomwire.ErrSeatTaken):
		p.notify("room.full", map[string]any{"Room": id})
		return fmt.Errorf("%w: %s", ErrRoomFull, id)
	case errors.Is(err, roomwire.ErrRoomNotFound):
		p.notify("room.not_found", map[string]any{"Room": id})
		return err
	case err != nil:
		p.notify("room.sync_error", map[string]any{"Error": err.Error()})
		return err
	}

	snap, err := p.bootstrap(ctx, id, room)
	if err != nil {
		p.notify("room.sync_error", map[string]any{"Error": err.Error()})
		return err
	}
	p.session.LoadSnapshot(snap)

	if err := p.attach(ctx, id, rules.Black, room); err != nil {
		return err
	}
	p.session.SetFlipped(true)
	p.logger.Info("room_join", zap.String("room", id), zap.Int("moves", len(snap.History)))
	p.notify("room.joined", map[string]any{"Room": id, "Color": rules.Black.String()})
	return nil
}

// bootstrap builds the joining session state. The move log wins over the
// record's embedded history when it is longer.
func (p *Peer) bootstrap(ctx context.Context, id string, room *roomwire.Room) (game.Snapshot, error) {
	snap, err := RoomToSnapshot(room)
	if err != nil {
		return game.Snapshot{}, err
	}
	moves, err := p.store.LoadMoves(ctx, id)
	if err != nil {
		return game.Snapshot{}, err
	}
	if len(moves) > len(snap.History) || (p.reconcile == ReconcileBootstrap && len(moves) > 0) {
		history, err := MovesFromWire(moves)
		if err != nil {
			return game.Snapshot{}, err
		}
		snap.History = history
		snap.Board, snap.Turn = game.Replay(history)
	}
	return snap, nil
}

// attach registers the disconnect cleanup, subscribes to the room feed and
// switches the session online.
func (p *Peer) attach(ctx context.Context, id string, c rules.Color, room *roomwire.Room) error {
	if err := p.store.RegisterDisconnect(ctx, id, c); err != nil {
		p.logger.Warn("presence_register_error", zap.String("room", id), zap.Error(err))
	}

	p.mu.Lock()
	p.gen++
	gen := p.gen
	p.roomID = id
	p.color = c
	p.online = true
	p.seq = room.Seq
	p.opponentPresent = room.Players.Occupied(c.Opponent())
	p.pending = map[int]game.MoveRecord{}
	p.mu.Unlock()

	p.session.GoOnline(id, c, p)

	feed, err := p.store.Subscribe(ctx, id)
	if err != nil {
		p.detach(gen)
		_ = p.store.CancelDisconnect(ctx, id)
		p.session.GoLocal()
		p.notify("room.sync_error", map[string]any{"Error": err.Error()})
		return err
	}
	p.mu.Lock()
	if p.gen != gen {
		p.mu.Unlock()
		_ = feed.Close()
		return ErrAlreadyOnline
	}
	p.feed = feed
	p.mu.Unlock()

	go p.consume(gen, feed)
	return nil
}

// detach drops the room binding if gen is still current and returns the
// feed to close.
func (p *Peer) detach(gen uint64) (string, roomwire.Feed, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if gen != p.gen || !p.online {
		return "", nil, false
	}
	p.gen++
	id, feed := p.roomID, p.feed
	p.online = false
	p.roomID = ""
	p.feed = nil
	p.opponentPresent = false
	p.pending = map[int]game.MoveRecord{}
	return id, feed, true
}

// LeaveRoom unsubscribes, deletes the room and returns the session to local
// mode. Events still in flight for the old room are dropped.
func (p *Peer) LeaveRoom(ctx context.Context) error {
	p.mu.Lock()
	gen := p.gen
	p.mu.Unlock()

	id, feed, ok := p.detach(gen)
	if !ok {
		return nil
	}
	if feed != nil {
		_ = feed.Close()
	}
	p.session.GoLocal()

	if err := p.store.CancelDisconnect(ctx, id); err != nil {
		p.logger.Warn("presence_cancel_error", zap.String("room", id), zap.Error(err))
	}
	if err := p.store.DeleteRoom(ctx, id); err != nil {
		p.logger.Warn("room_delete_error", zap.String("room", id), zap.Error(err))
		return err
	}
	p.logger.Info("room_leave", zap.String("room", id))
	p.notify("room.left", map[string]any{"Room": id})
	return nil
}

// Close leaves the current room, if any.
func (p *Peer) Close(ctx context.Context) error { return p.LeaveRoom(ctx) }

func (p *Peer) current(gen uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.online && p.gen == gen
}

func (p *Peer) binding() (string, uint64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.roomID, p.gen, p.online
}

func (p *Peer) opCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), p.publishTimeout)
}

func readyErr(err error) error {
	if errors.Is(err, roomwire.ErrNotReady) {
		return err
	}
	return fmt.Errorf("%w: %v", roomwire.ErrNotReady, err)
}
