package roomsync

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/park285/cheese-chessroom/internal/game"
	"github.com/park285/cheese-chessroom/internal/roomstore"
	"github.com/park285/cheese-chessroom/internal/roomwire"
	"github.com/park285/cheese-chessroom/internal/rules"
)

type noticeLog struct {
	mu   sync.Mutex
	keys []string
}

func (n *noticeLog) record(x Notice) {
	n.mu.Lock()
	n.keys = append(n.keys, x.Key)
	n.mu.Unlock()
}

func (n *noticeLog) has(key string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, k := range n.keys {
		if k == key {
			return true
		}
	}
	return false
}

type player struct {
	store   *roomstore.RedisStore
	session *game.Session
	peer    *Peer
	notices *noticeLog
}

func newPlayer(t *testing.T, mr *miniredis.Miniredis, opts ...Option) *player {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := roomstore.NewStore(rdb)
	t.Cleanup(func() { _ = rdb.Close() })

	session := game.NewSession(game.WithManualClock(), game.WithClockSeconds(3))
	peer := NewPeer(store, session, append([]Option{WithPublishTimeout(2 * time.Second)}, opts...)...)
	log := &noticeLog{}
	peer.OnNotice(log.record)
	t.Cleanup(func() { _ = peer.Close(context.Background()) })
	return &player{store: store, session: session, peer: peer, notices: log}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func sq(s string) rules.Square { return rules.MustSquare(s) }

func move(t *testing.T, p *player, from, to string) {
	t.Helper()
	if _, ok := p.session.AttemptMove(sq(from), sq(to)); !ok {
		t.Fatalf("move %s-%s rejected\n%s", from, to, p.session.Board())
	}
}

func hostAndJoin(t *testing.T, mr *miniredis.Miniredis, joinOpts ...Option) (*player, *player, string) {
	t.Helper()
	ctx := context.Background()
	host := newPlayer(t, mr)
	guest := newPlayer(t, mr, joinOpts...)

	id, err := host.peer.CreateRoom(ctx)
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if len(id) != 6 || strings.ToUpper(id) != id {
		t.Fatalf("unexpected room code %q", id)
	}
	if err := guest.peer.JoinRoom(ctx, strings.ToLower(id)); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}
	waitFor(t, "host to see opponent", host.peer.OpponentPresent)
	return host, guest, id
}

func TestHostAndGuestExchangeMoves(t *testing.T) {
	mr := miniredis.RunT(t)
	host, guest, id := hostAndJoin(t, mr)

	if om, ok := host.session.Online(); !ok || om.Color != rules.White || om.RoomID != id {
		t.Fatalf("host mode = %+v", host.session.Mode())
	}
	if om, ok := guest.session.Online(); !ok || om.Color != rules.Black {
		t.Fatalf("guest mode = %+v", guest.session.Mode())
	}
	if !guest.session.Flipped() || host.session.Flipped() {
		t.Fatalf("guest should see the board flipped")
	}
	if !host.notices.has("room.created") || !host.notices.has("room.opponent_joined") || !guest.notices.has("room.joined") {
		t.Fatalf("missing notices host=%v guest=%v", host.notices.keys, guest.notices.keys)
	}

	// black may not move first
	if _, ok := guest.session.AttemptMove(sq("e7"), sq("e5")); ok {
		t.Fatalf("guest moved out of turn")
	}

	move(t, host, "e2", "e4")
	waitFor(t, "guest to receive e2-e4", func() bool { return guest.session.HistoryLen() == 1 })
	move(t, guest, "e7", "e5")
	waitFor(t, "host to receive e7-e5", func() bool { return host.session.HistoryLen() == 2 })
	move(t, host, "g1", "f3")
	waitFor(t, "guest to receive g1-f3", func() bool { return guest.session.HistoryLen() == 3 })

	if host.session.Board() != guest.session.Board() {
		t.Fatalf("boards diverged\nhost:\n%s\nguest:\n%s", host.session.Board(), guest.session.Board())
	}
	if host.session.Turn() != rules.Black || guest.session.Turn() != rules.Black {
		t.Fatalf("turn should be black on both sides")
	}

	moves, err := host.store.LoadMoves(context.Background(), id)
	if err != nil {
		t.Fatalf("LoadMoves: %v", err)
	}
	if len(moves) != 3 || moves[1].From != "e7" || moves[1].Turn != "black" {
		t.Fatalf("unexpected move log %+v", moves)
	}
	waitFor(t, "room record to catch up", func() bool {
		r, err := host.store.LoadRoom(context.Background(), id)
		return err == nil && len(r.MoveHistory) == 3 && r.CurrentTurn == "black"
	})
}

func TestJoinAfterMovesReplaysLog(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()
	host := newPlayer(t, mr)
	id, err := host.peer.CreateRoom(ctx)
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	move(t, host, "d2", "d4")
	// black's reply goes straight into the log, standing in for an opponent
	reply := MoveToWire(game.MoveRecord{From: sq("d7"), To: sq("d5"), Piece: rules.NewPiece(rules.Black, rules.Pawn), Turn: rules.Black})
	if err := host.store.AppendMove(ctx, id, 1, &reply); err != nil {
		t.Fatalf("AppendMove: %v", err)
	}
	waitFor(t, "host to apply logged reply", func() bool { return host.session.HistoryLen() == 2 })

	guest := newPlayer(t, mr)
	if err := guest.peer.JoinRoom(ctx, id); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}
	if guest.session.HistoryLen() != 2 || guest.session.Board() != host.session.Board() {
		t.Fatalf("guest bootstrap mismatch\n%s", guest.session.Board())
	}
	if guest.session.Turn() != rules.White {
		t.Fatalf("turn = %v, want white", guest.session.Turn())
	}
	if !guest.session.ClockRunning() {
		t.Fatalf("clock should run after loading a game in progress")
	}
}

func TestJoinErrors(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	lost := newPlayer(t, mr)
	err := lost.peer.JoinRoom(ctx, "NOPE00")
	if !errors.Is(err, roomwire.ErrRoomNotFound) || !lost.notices.has("room.not_found") {
		t.Fatalf("missing room: err=%v notices=%v", err, lost.notices.keys)
	}
	if lost.peer.Online() {
		t.Fatalf("failed join must stay local")
	}

	_, _, id := hostAndJoin(t, mr)
	third := newPlayer(t, mr)
	err = third.peer.JoinRoom(ctx, id)
	if !errors.Is(err, ErrRoomFull) || !third.notices.has("room.full") {
		t.Fatalf("full room: err=%v notices=%v", err, third.notices.keys)
	}
}

func TestStoreNotReady(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	p := newPlayer(t, mr)
	mr.Close()

	_, err = p.peer.CreateRoom(context.Background())
	if !errors.Is(err, roomwire.ErrNotReady) || !p.notices.has("room.not_ready") {
		t.Fatalf("err=%v notices=%v", err, p.notices.keys)
	}
	if _, ok := p.session.Online(); ok {
		t.Fatalf("session went online without a store")
	}
}

func TestRoomCodeCollisionRetries(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()
	codes := []string{"TAKEN1", "TAKEN1", "FRESH2"}
	var i int
	p := newPlayer(t, mr, WithCodeSource(func() (string, error) {
		c := codes[i]
		i++
		return c, nil
	}))
	blocker := roomwire.Room{
		Board:       rules.StartingBoard().Codes(),
		CurrentTurn: "white",
		WhiteTime:   600,
		BlackTime:   600,
		Status:      roomwire.StatusActive,
	}
	if err := p.store.CreateRoom(ctx, "TAKEN1", &blocker); err != nil {
		t.Fatalf("seed: %v", err)
	}

	id, err := p.peer.CreateRoom(ctx)
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if id != "FRESH2" {
		t.Fatalf("id = %q, want FRESH2", id)
	}
}

func TestLeaveDeletesRoomAndReleasesOpponent(t *testing.T) {
	mr := miniredis.RunT(t)
	host, guest, id := hostAndJoin(t, mr)

	if err := host.peer.LeaveRoom(context.Background()); err != nil {
		t.Fatalf("LeaveRoom: %v", err)
	}
	if _, ok := host.session.Online(); ok {
		t.Fatalf("host still online")
	}
	if _, err := host.store.LoadRoom(context.Background(), id); !errors.Is(err, roomwire.ErrRoomNotFound) {
		t.Fatalf("room should be gone, got %v", err)
	}
	waitFor(t, "guest to drop to local", func() bool { return !guest.peer.Online() })
	if _, ok := guest.session.Online(); ok {
		t.Fatalf("guest session still online")
	}
	if !guest.notices.has("room.opponent_left") {
		t.Fatalf("guest notices %v", guest.notices.keys)
	}
	// leaving twice is harmless
	if err := host.peer.LeaveRoom(context.Background()); err != nil {
		t.Fatalf("second LeaveRoom: %v", err)
	}
}

func TestResetWhileOnlineLeaves(t *testing.T) {
	mr := miniredis.RunT(t)
	host, _, id := hostAndJoin(t, mr)
	move(t, host, "e2", "e4")

	host.session.Reset()

	if host.peer.Online() {
		t.Fatalf("peer still bound after reset")
	}
	if host.session.HistoryLen() != 0 || host.session.Board() != rules.StartingBoard() {
		t.Fatalf("reset did not restore the start position")
	}
	if _, err := host.store.LoadRoom(context.Background(), id); !errors.Is(err, roomwire.ErrRoomNotFound) {
		t.Fatalf("room should be deleted, got %v", err)
	}
}

func TestValidateRemoteRejectsIllegalMove(t *testing.T) {
	mr := miniredis.RunT(t)
	_, guest, id := hostAndJoin(t, mr, WithValidateRemote(true))

	bogus := MoveToWire(game.MoveRecord{From: sq("e2"), To: sq("e5"), Piece: rules.NewPiece(rules.White, rules.Pawn), Turn: rules.White})
	if err := guest.store.AppendMove(context.Background(), id, 0, &bogus); err != nil {
		t.Fatalf("AppendMove: %v", err)
	}
	waitFor(t, "violation", func() bool { return guest.peer.Violations() == 1 })
	if guest.session.HistoryLen() != 0 {
		t.Fatalf("illegal remote move was applied")
	}
	if !guest.notices.has("room.peer_violation") {
		t.Fatalf("notices %v", guest.notices.keys)
	}
}

func TestTrustedRemoteMoveIsApplied(t *testing.T) {
	mr := miniredis.RunT(t)
	_, guest, id := hostAndJoin(t, mr)

	odd := MoveToWire(game.MoveRecord{From: sq("e2"), To: sq("e5"), Piece: rules.NewPiece(rules.White, rules.Pawn), Turn: rules.White})
	if err := guest.store.AppendMove(context.Background(), id, 0, &odd); err != nil {
		t.Fatalf("AppendMove: %v", err)
	}
	waitFor(t, "trusted apply", func() bool { return guest.session.HistoryLen() == 1 })
	b := guest.session.Board()
	if b.At(sq("e5")) != rules.NewPiece(rules.White, rules.Pawn) || !b.At(sq("e2")).IsEmpty() {
		t.Fatalf("trusted move not applied\n%s", b)
	}
}

func TestTimeoutPropagatesToOpponent(t *testing.T) {
	mr := miniredis.RunT(t)
	host, guest, id := hostAndJoin(t, mr)

	move(t, host, "e2", "e4")
	waitFor(t, "guest to receive e2-e4", func() bool { return guest.session.HistoryLen() == 1 })

	// host's clock for black runs out first
	for i := 0; i < 3; i++ {
		host.session.Tick()
	}
	if o := host.session.Outcome(); o.Status != game.StatusTimeout || o.Winner != rules.White {
		t.Fatalf("host outcome = %+v", o)
	}
	waitFor(t, "guest to learn the outcome", func() bool { return guest.session.Outcome().Over() })
	if o := guest.session.Outcome(); o.Winner != rules.White {
		t.Fatalf("guest outcome = %+v", o)
	}
	if guest.session.ClockRunning() {
		t.Fatalf("guest clock should stop")
	}
	r, err := host.store.LoadRoom(context.Background(), id)
	if err != nil || r.Status != roomwire.StatusTimeout || r.Winner != "white" {
		t.Fatalf("room record %+v err=%v", r, err)
	}
	if _, ok := guest.session.AttemptMove(sq("e7"), sq("e5")); ok {
		t.Fatalf("move accepted after game over")
	}
}

func TestOutOfOrderMovesAreBuffered(t *testing.T) {
	session := game.NewSession(game.WithManualClock())
	p := NewPeer(nil, session)
	p.online, p.gen = true, 1

	first := game.MoveRecord{From: sq("e2"), To: sq("e4"), Piece: rules.NewPiece(rules.White, rules.Pawn), Turn: rules.White}
	second := game.MoveRecord{From: sq("e7"), To: sq("e5"), Piece: rules.NewPiece(rules.Black, rules.Pawn), Turn: rules.Black}

	p.queue(1, 1, second)
	if session.HistoryLen() != 0 {
		t.Fatalf("move applied past a gap")
	}
	p.queue(1, 0, first)
	if session.HistoryLen() != 2 || session.Turn() != rules.White {
		t.Fatalf("buffered move not drained: len=%d", session.HistoryLen())
	}
	// duplicate and stale-generation deliveries are dropped
	p.queue(1, 0, first)
	p.queue(0, 2, first)
	if session.HistoryLen() != 2 {
		t.Fatalf("duplicate applied")
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	s := game.NewSession(game.WithManualClock())
	s.AttemptMove(sq("e2"), sq("e4"))
	s.AttemptMove(sq("d7"), sq("d5"))
	s.AttemptMove(sq("e4"), sq("d5"))
	s.EndGame(game.Outcome{Status: game.StatusTimeout, Winner: rules.Black})

	r := SnapshotToRoom(s.Snapshot())
	if r.Status != roomwire.StatusTimeout || r.Winner != "black" || r.MoveHistory[2].Captured != "p" {
		t.Fatalf("encoded room %+v", r)
	}
	got, err := RoomToSnapshot(r)
	if err != nil {
		t.Fatalf("RoomToSnapshot: %v", err)
	}
	want := s.Snapshot()
	if got.Board != want.Board || got.Turn != want.Turn || len(got.History) != 3 || got.Outcome != want.Outcome {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestNewRoomCode(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		c, err := NewRoomCode()
		if err != nil {
			t.Fatalf("NewRoomCode: %v", err)
		}
		if len(c) != 6 || strings.Trim(c, roomCodeLetters) != "" {
			t.Fatalf("bad code %q", c)
		}
		seen[c] = true
	}
	if len(seen) < 45 {
		t.Fatalf("codes repeat too often: %d unique", len(seen))
	}
}

func TestSnapshotReconcileMode(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()
	host := newPlayer(t, mr, WithReconcile(ReconcileSnapshot))
	guest := newPlayer(t, mr, WithReconcile(ReconcileSnapshot))

	id, err := host.peer.CreateRoom(ctx)
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if err := guest.peer.JoinRoom(ctx, id); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}
	waitFor(t, "host to see opponent", host.peer.OpponentPresent)

	script := [][2]string{{"e2", "e4"}, {"e7", "e5"}, {"g1", "f3"}, {"b8", "c6"}, {"f1", "c4"}, {"g8", "f6"}}
	for i, m := range script {
		mover, other := host, guest
		if i%2 == 1 {
			mover, other = guest, host
		}
		move(t, mover, m[0], m[1])
		n := i + 1
		waitFor(t, m[0]+"-"+m[1]+" to arrive", func() bool { return other.session.HistoryLen() == n })
	}
	waitFor(t, "room record to settle", func() bool {
		r, err := host.store.LoadRoom(ctx, id)
		return err == nil && len(r.MoveHistory) == len(script)
	})
	if host.session.HistoryLen() != len(script) || guest.session.HistoryLen() != len(script) {
		t.Fatalf("history lengths host=%d guest=%d", host.session.HistoryLen(), guest.session.HistoryLen())
	}
	if host.session.Board() != guest.session.Board() {
		t.Fatalf("boards diverged\nhost:\n%s\nguest:\n%s", host.session.Board(), guest.session.Board())
	}

	// a record with the same history but a different board overwrites local state
	cur, err := host.store.LoadRoom(ctx, id)
	if err != nil {
		t.Fatalf("LoadRoom: %v", err)
	}
	cur.Board[0][0] = ""
	if _, err := host.store.UpdateRoom(ctx, id, cur.Seq, cur); err != nil {
		t.Fatalf("UpdateRoom: %v", err)
	}
	waitFor(t, "guest to take the record's board", func() bool {
		b := guest.session.Board()
		return b.At(sq("a8")).IsEmpty()
	})

	// a record with a shorter history never replaces newer local moves
	_, gen, ok := guest.peer.binding()
	if !ok {
		t.Fatalf("guest not bound")
	}
	stale := SnapshotToRoom(game.NewSession(game.WithManualClock()).Snapshot())
	stale.Players = roomwire.Players{White: true, Black: true}
	stale.Seq = guest.peer.Seq() + 100
	guest.peer.onSnapshot(gen, stale)
	if guest.session.HistoryLen() != len(script) {
		t.Fatalf("shorter snapshot replaced history: len=%d", guest.session.HistoryLen())
	}
}

func TestBootstrapResyncsFromMoveLog(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()
	host, guest, id := hostAndJoin(t, mr)

	move(t, host, "e2", "e4")
	waitFor(t, "guest to receive e2-e4", func() bool { return guest.session.HistoryLen() == 1 })
	waitFor(t, "room record to catch up", func() bool {
		r, err := host.store.LoadRoom(ctx, id)
		return err == nil && len(r.MoveHistory) == 1
	})

	// local board drifts from the log while history length still matches
	drift := guest.session.Snapshot()
	drift.Board.Set(sq("a8"), rules.Empty)
	guest.session.LoadSnapshot(drift)

	cur, err := host.store.LoadRoom(ctx, id)
	if err != nil {
		t.Fatalf("LoadRoom: %v", err)
	}
	if _, err := host.store.UpdateRoom(ctx, id, cur.Seq, cur); err != nil {
		t.Fatalf("UpdateRoom: %v", err)
	}
	waitFor(t, "guest to rebuild from the log", func() bool {
		return guest.session.Board() == host.session.Board()
	})

	// a record whose board disagrees with the log does not change the board
	cur, err = host.store.LoadRoom(ctx, id)
	if err != nil {
		t.Fatalf("LoadRoom: %v", err)
	}
	cur.Board[0][0] = ""
	updated, err := host.store.UpdateRoom(ctx, id, cur.Seq, cur)
	if err != nil {
		t.Fatalf("UpdateRoom: %v", err)
	}
	waitFor(t, "guest to see the record", func() bool { return guest.peer.Seq() >= updated.Seq })
	b := guest.session.Board()
	if b.At(sq("a8")) != rules.NewPiece(rules.Black, rules.Rook) {
		t.Fatalf("record board leaked into the session\n%s", b)
	}
	if guest.session.HistoryLen() != 1 || guest.session.Turn() != rules.Black {
		t.Fatalf("history len=%d turn=%v", guest.session.HistoryLen(), guest.session.Turn())
	}
}

func TestGameOverLandsWhenRecordIsAhead(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()
	p := newPlayer(t, mr)

	ahead := game.NewSession(game.WithManualClock())
	ahead.AttemptMove(sq("e2"), sq("e4"))
	ahead.AttemptMove(sq("e7"), sq("e5"))
	room := SnapshotToRoom(ahead.Snapshot())
	room.Players = roomwire.Players{White: true, Black: true}
	if err := p.store.CreateRoom(ctx, "AHEAD1", room); err != nil {
		t.Fatalf("seed: %v", err)
	}

	p.peer.mu.Lock()
	p.peer.online, p.peer.gen, p.peer.roomID = true, 1, "AHEAD1"
	p.peer.mu.Unlock()

	o := game.Outcome{Status: game.StatusTimeout, Winner: rules.Black}
	if !p.session.EndGame(o) {
		t.Fatalf("EndGame refused")
	}
	p.peer.GameOver(o)

	r, err := p.store.LoadRoom(ctx, "AHEAD1")
	if err != nil {
		t.Fatalf("LoadRoom: %v", err)
	}
	if r.Status != roomwire.StatusTimeout || r.Winner != "black" {
		t.Fatalf("outcome not recorded: status=%q winner=%q", r.Status, r.Winner)
	}
	if len(r.MoveHistory) != 2 || r.CurrentTurn != "white" {
		t.Fatalf("newer game fields were overwritten: %+v", r)
	}
}
