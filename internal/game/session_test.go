package game

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/park285/cheese-chessroom/internal/rules"
)

type recordingLink struct {
	mu        sync.Mutex
	published []int
	outcomes  []Outcome
	leaves    int
	onLeave   func()
}

func (l *recordingLink) PublishMove(index int, rec MoveRecord) {
	l.mu.Lock()
	l.published = append(l.published, index)
	l.mu.Unlock()
}

func (l *recordingLink) GameOver(o Outcome) {
	l.mu.Lock()
	l.outcomes = append(l.outcomes, o)
	l.mu.Unlock()
}

func (l *recordingLink) Leave() {
	l.mu.Lock()
	l.leaves++
	fn := l.onLeave
	l.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (l *recordingLink) gameOvers() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.outcomes)
}

func sq(s string) rules.Square { return rules.MustSquare(s) }

func mustMove(t *testing.T, s *Session, from, to string) MoveRecord {
	t.Helper()
	rec, ok := s.AttemptMove(sq(from), sq(to))
	if !ok {
		t.Fatalf("move %s-%s rejected\n%s", from, to, s.Board())
	}
	return rec
}

func waitFor(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", d)
}

func TestTurnGating(t *testing.T) {
	s := NewSession(WithManualClock())

	if _, ok := s.AttemptMove(sq("e7"), sq("e5")); ok {
		t.Fatalf("black moved on white's turn")
	}
	if s.HistoryLen() != 0 || s.Turn() != rules.White {
		t.Fatalf("rejected move changed state")
	}

	rec := mustMove(t, s, "e2", "e4")
	if rec.Piece.Code() != "P" || !rec.Captured.IsEmpty() || rec.Turn != rules.White {
		t.Fatalf("unexpected record %+v", rec)
	}
	b := s.Board()
	if b.At(sq("e4")).Code() != "P" || !b.At(sq("e2")).IsEmpty() {
		t.Fatalf("board not updated:\n%s", b)
	}
	if s.HistoryLen() != 1 || s.Turn() != rules.Black {
		t.Fatalf("expected 1 move and black to move, got %d / %s", s.HistoryLen(), s.Turn())
	}
}

func TestRejectedMoveLeavesStateUntouched(t *testing.T) {
	s := NewSession(WithManualClock())
	before := s.Snapshot()
	for _, mv := range [][2]string{{"e2", "e5"}, {"a1", "a3"}, {"e2", "e2"}, {"d1", "d2"}, {"e4", "e5"}} {
		if _, ok := s.AttemptMove(sq(mv[0]), sq(mv[1])); ok {
			t.Fatalf("%s-%s should be rejected", mv[0], mv[1])
		}
	}
	after := s.Snapshot()
	if after.Board != before.Board || after.Turn != before.Turn || len(after.History) != 0 {
		t.Fatalf("state changed after rejected moves")
	}
	if s.ClockRunning() {
		t.Fatalf("clock started without a committed move")
	}
}

func TestTurnParityAndReplay(t *testing.T) {
	s := NewSession(WithManualClock())
	moves := [][2]string{
		{"e2", "e4"}, {"d7", "d5"},
		{"e4", "d5"}, {"d8", "d5"},
		{"b1", "c3"}, {"d5", "a5"},
		{"g1", "f3"}, {"c8", "g4"},
	}
	for i, mv := range moves {
		mustMove(t, s, mv[0], mv[1])
		wantTurn := rules.White
		if (i+1)%2 == 1 {
			wantTurn = rules.Black
		}
		if s.Turn() != wantTurn {
			t.Fatalf("after %d moves expected %s to move, got %s", i+1, wantTurn, s.Turn())
		}
	}
	hist := s.History()
	if hist[2].Notation() != "e4xd5" || hist[0].Notation() != "e2-e4" {
		t.Fatalf("unexpected notation %q %q", hist[0].Notation(), hist[2].Notation())
	}
	board, turn := Replay(hist)
	if board != s.Board() || turn != s.Turn() {
		t.Fatalf("replay diverged\nreplay:\n%s\nsession:\n%s", board, s.Board())
	}
}

func TestApplyTrustedIndexing(t *testing.T) {
	s := NewSession(WithManualClock())

	// not legal for the rules engine, applied anyway
	rec := MoveRecord{From: sq("a1"), To: sq("a5"), Turn: rules.White}
	ok, err := s.ApplyTrusted(0, rec)
	if err != nil || !ok {
		t.Fatalf("ApplyTrusted(0): ok=%v err=%v", ok, err)
	}
	b := s.Board()
	if b.At(sq("a5")).Code() != "R" || !b.At(sq("a1")).IsEmpty() {
		t.Fatalf("trusted move not applied:\n%s", b)
	}
	if s.Turn() != rules.Black {
		t.Fatalf("turn should be opposite of record turn")
	}
	if !s.ClockRunning() {
		t.Fatalf("first remote move should start the clock")
	}

	if ok, err := s.ApplyTrusted(0, rec); ok || err != nil {
		t.Fatalf("duplicate index must be ignored: ok=%v err=%v", ok, err)
	}
	if ok, err := s.ApplyTrusted(5, rec); ok || !errors.Is(err, ErrHistoryGap) {
		t.Fatalf("gap must report ErrHistoryGap: ok=%v err=%v", ok, err)
	}
	if _, err := s.ApplyTrusted(1, MoveRecord{From: rules.Sq(9, 0), To: sq("a6")}); !errors.Is(err, ErrBadMove) {
		t.Fatalf("off-board record must be rejected, got %v", err)
	}
	if s.HistoryLen() != 1 {
		t.Fatalf("history should hold exactly one move, got %d", s.HistoryLen())
	}
}

func TestApplyCheckedRejectsIllegal(t *testing.T) {
	s := NewSession(WithManualClock())
	if _, err := s.ApplyChecked(0, MoveRecord{From: sq("a1"), To: sq("a5"), Turn: rules.White}); !errors.Is(err, ErrIllegalMove) {
		t.Fatalf("expected ErrIllegalMove, got %v", err)
	}
	if _, err := s.ApplyChecked(0, MoveRecord{From: sq("e2"), To: sq("e4"), Turn: rules.Black}); !errors.Is(err, ErrIllegalMove) {
		t.Fatalf("wrong-turn record should be illegal, got %v", err)
	}
	if ok, err := s.ApplyChecked(0, MoveRecord{From: sq("e2"), To: sq("e4"), Turn: rules.White}); !ok || err != nil {
		t.Fatalf("legal remote move rejected: ok=%v err=%v", ok, err)
	}
}

func TestClockExpiry(t *testing.T) {
	s := NewSession(WithManualClock(), WithClockSeconds(2))

	s.Tick()
	if w, b := s.Clocks(); w != 2 || b != 2 {
		t.Fatalf("clock ticked before first move: %d/%d", w, b)
	}

	mustMove(t, s, "e2", "e4")
	s.Tick()
	if _, b := s.Clocks(); b != 1 {
		t.Fatalf("expected black at 1, got %d", b)
	}
	s.Tick()
	w, b := s.Clocks()
	if b != 0 || w != 2 {
		t.Fatalf("expected 2/0 after expiry, got %d/%d", w, b)
	}
	o := s.Outcome()
	if !o.Over() || o.Status != StatusTimeout || o.Winner != rules.White {
		t.Fatalf("expected white to win on time, got %+v", o)
	}

	s.Tick()
	s.Tick()
	if w2, b2 := s.Clocks(); w2 != 2 || b2 != 0 {
		t.Fatalf("ticks after game over changed clocks: %d/%d", w2, b2)
	}
	if _, ok := s.AttemptMove(sq("e7"), sq("e5")); ok {
		t.Fatalf("move accepted after game over")
	}
}

func TestBackgroundClockExpiresAndNotifiesLink(t *testing.T) {
	link := &recordingLink{}
	var events []EventKind
	var mu sync.Mutex
	s := NewSession(
		WithClockSeconds(3),
		WithTickInterval(5*time.Millisecond),
		WithObserver(func(ev Event) {
			mu.Lock()
			events = append(events, ev.Kind)
			mu.Unlock()
		}),
	)
	s.GoOnline("ROOM01", rules.White, link)
	mustMove(t, s, "e2", "e4")

	waitFor(t, 2*time.Second, func() bool { return s.Outcome().Over() })
	if o := s.Outcome(); o.Winner != rules.White {
		t.Fatalf("expected white to win on time, got %+v", o)
	}
	if _, b := s.Clocks(); b != 0 {
		t.Fatalf("black clock should be 0, got %d", b)
	}
	time.Sleep(30 * time.Millisecond)
	if n := link.gameOvers(); n != 1 {
		t.Fatalf("expected one game-over notification, got %d", n)
	}
	mu.Lock()
	defer mu.Unlock()
	if events[len(events)-1] != EventGameOver {
		t.Fatalf("last event should be game over, got %v", events)
	}
}

func TestResetCancelsClock(t *testing.T) {
	s := NewSession(WithClockSeconds(100), WithTickInterval(5*time.Millisecond))
	mustMove(t, s, "e2", "e4")
	waitFor(t, time.Second, func() bool { _, b := s.Clocks(); return b < 100 })

	s.Reset()
	time.Sleep(40 * time.Millisecond)
	if w, b := s.Clocks(); w != 100 || b != 100 {
		t.Fatalf("clock kept running after reset: %d/%d", w, b)
	}
	if s.ClockRunning() || s.HistoryLen() != 0 || s.Turn() != rules.White {
		t.Fatalf("reset did not restore the initial state")
	}
	if s.Board() != rules.StartingBoard() {
		t.Fatalf("reset board differs from the starting position")
	}
}

func TestOnlineGuardBlocksOpponentTurn(t *testing.T) {
	link := &recordingLink{}
	s := NewSession(WithManualClock())
	s.GoOnline("ROOM01", rules.Black, link)

	if _, ok := s.AttemptMove(sq("e2"), sq("e4")); ok {
		t.Fatalf("black seat moved a white piece")
	}
	if _, err := s.ApplyTrusted(0, MoveRecord{From: sq("e2"), To: sq("e4"), Turn: rules.White}); err != nil {
		t.Fatalf("ApplyTrusted: %v", err)
	}
	mustMove(t, s, "e7", "e5")
	if len(link.published) != 1 || link.published[0] != 1 {
		t.Fatalf("expected local move published at index 1, got %v", link.published)
	}
}

func TestResetLeavesRoomFirst(t *testing.T) {
	s := NewSession(WithManualClock())
	link := &recordingLink{}
	link.onLeave = s.GoLocal
	s.GoOnline("ROOM01", rules.White, link)
	mustMove(t, s, "e2", "e4")

	s.Reset()
	if link.leaves != 1 {
		t.Fatalf("expected one leave, got %d", link.leaves)
	}
	if _, online := s.Online(); online {
		t.Fatalf("session still online after reset")
	}
	if s.HistoryLen() != 0 {
		t.Fatalf("history not cleared")
	}
}

func TestEndGameFromRemote(t *testing.T) {
	link := &recordingLink{}
	s := NewSession(WithManualClock())
	s.GoOnline("ROOM01", rules.White, link)
	mustMove(t, s, "e2", "e4")

	if !s.EndGame(Outcome{Status: StatusTimeout, Winner: rules.White}) {
		t.Fatalf("EndGame should apply to an active game")
	}
	if s.EndGame(Outcome{Status: StatusTimeout, Winner: rules.Black}) {
		t.Fatalf("EndGame must not override a finished game")
	}
	if s.ClockRunning() {
		t.Fatalf("clock should stop at game over")
	}
	if link.gameOvers() != 0 {
		t.Fatalf("remote game over must not be echoed to the link")
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	a := NewSession(WithManualClock())
	mustMove(t, a, "e2", "e4")
	mustMove(t, a, "e7", "e5")

	b := NewSession(WithManualClock())
	b.LoadSnapshot(a.Snapshot())
	if b.Board() != a.Board() || b.Turn() != a.Turn() || b.HistoryLen() != 2 {
		t.Fatalf("snapshot load diverged")
	}
	if !b.ClockRunning() {
		t.Fatalf("loading a game in progress should run the clock")
	}
	mustMove(t, b, "g1", "f3")
}

func TestFlipDoesNotTouchState(t *testing.T) {
	s := NewSession(WithManualClock())
	before := s.Snapshot()
	s.Flip()
	if !s.Flipped() {
		t.Fatalf("flip not recorded")
	}
	if s.Snapshot().Board != before.Board {
		t.Fatalf("flip changed the board")
	}
}
