package roomclient

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/park285/cheese-chessroom/internal/game"
	"github.com/park285/cheese-chessroom/internal/relay"
	"github.com/park285/cheese-chessroom/internal/roomstore"
	"github.com/park285/cheese-chessroom/internal/roomsync"
	"github.com/park285/cheese-chessroom/internal/roomwire"
	"github.com/park285/cheese-chessroom/internal/rules"
)

func init() { gin.SetMode(gin.TestMode) }

type harness struct {
	store *roomstore.RedisStore
	relay *relay.Server
	wsURL string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	store := roomstore.NewStore(rdb)
	srv := relay.New(store)
	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(hs.Close)
	return &harness{store: store, relay: srv, wsURL: "ws" + strings.TrimPrefix(hs.URL, "http") + "/ws"}
}

func (h *harness) client(t *testing.T, opts ...Option) *Client {
	t.Helper()
	c := New(h.wsURL, append([]Option{WithReconnect(5, 10*time.Millisecond)}, opts...)...)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = c.Close(ctx)
	})
	return c
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

type seat struct {
	client  *Client
	session *game.Session
	peer    *roomsync.Peer
}

func (h *harness) seat(t *testing.T) *seat {
	t.Helper()
	c := h.client(t)
	s := game.NewSession(game.WithManualClock())
	p := roomsync.NewPeer(c, s, roomsync.WithPublishTimeout(2*time.Second))
	c.OnStateChange(func(st State) { p.SetConnState(st.ConnState()) })
	t.Cleanup(func() { _ = p.Close(context.Background()) })
	return &seat{client: c, session: s, peer: p}
}

func TestReadyRequiresConnection(t *testing.T) {
	h := newHarness(t)
	c := New(h.wsURL, WithReconnect(0, 0))
	if err := c.Ready(context.Background()); !errors.Is(err, roomwire.ErrNotReady) {
		t.Fatalf("Ready before Connect = %v", err)
	}
	if _, err := c.LoadRoom(context.Background(), "ABC123"); !errors.Is(err, roomwire.ErrNotReady) {
		t.Fatalf("LoadRoom before Connect = %v", err)
	}

	c = h.client(t)
	if err := c.Ready(context.Background()); err != nil {
		t.Fatalf("Ready: %v", err)
	}
	if _, err := c.LoadRoom(context.Background(), "abc123"); !errors.Is(err, roomwire.ErrRoomNotFound) {
		t.Fatalf("LoadRoom missing = %v", err)
	}
}

func TestStoreContractOverRelay(t *testing.T) {
	h := newHarness(t)
	c := h.client(t)
	ctx := context.Background()

	room := &roomwire.Room{
		Board:       rules.StartingBoard().Codes(),
		CurrentTurn: "white",
		WhiteTime:   600,
		BlackTime:   600,
		Players:     roomwire.Players{White: true},
		Status:      roomwire.StatusActive,
	}
	if err := c.CreateRoom(ctx, "k2p9qq", room); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if room.Seq != 1 || room.CreatedAt == 0 {
		t.Fatalf("create should echo the stored record, got %+v", room)
	}
	if err := c.CreateRoom(ctx, "K2P9QQ", room); !errors.Is(err, roomwire.ErrRoomExists) {
		t.Fatalf("duplicate create = %v", err)
	}

	feed, err := c.Subscribe(ctx, "K2P9QQ")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	ev := <-feed.Events()
	if ev.Type != roomwire.EventRoom {
		t.Fatalf("catch-up event %+v", ev)
	}

	claimed, err := c.ClaimSeat(ctx, "K2P9QQ", rules.Black)
	if err != nil || !claimed.Players.Black || claimed.Seq != 2 {
		t.Fatalf("ClaimSeat = %+v %v", claimed, err)
	}
	if _, err := c.ClaimSeat(ctx, "K2P9QQ", rules.Black); !errors.Is(err, roomwire.ErrSeatTaken) {
		t.Fatalf("second claim = %v", err)
	}
	if _, err := c.UpdateRoom(ctx, "K2P9QQ", 1, room); !errors.Is(err, roomwire.ErrSeqConflict) {
		t.Fatalf("stale update = %v", err)
	}

	m := roomsync.MoveToWire(game.MoveRecord{From: sq("e2"), To: sq("e4"), Piece: rules.NewPiece(rules.White, rules.Pawn), Turn: rules.White})
	if err := c.AppendMove(ctx, "K2P9QQ", 0, &m); err != nil {
		t.Fatalf("AppendMove: %v", err)
	}
	if err := c.AppendMove(ctx, "K2P9QQ", 0, &m); !errors.Is(err, roomwire.ErrMoveExists) {
		t.Fatalf("duplicate append = %v", err)
	}
	moves, err := c.LoadMoves(ctx, "K2P9QQ")
	if err != nil || len(moves) != 1 || moves[0].To != "e4" {
		t.Fatalf("LoadMoves = %+v %v", moves, err)
	}

	sawMove := false
	timeout := time.After(3 * time.Second)
	for !sawMove {
		select {
		case ev := <-feed.Events():
			sawMove = ev.Type == roomwire.EventMove && ev.Index == 0
		case <-timeout:
			t.Fatalf("no move event")
		}
	}

	if err := c.DeleteRoom(ctx, "K2P9QQ"); err != nil {
		t.Fatalf("DeleteRoom: %v", err)
	}
	_ = feed.Close()
	if _, err := c.LoadRoom(ctx, "K2P9QQ"); !errors.Is(err, roomwire.ErrRoomNotFound) {
		t.Fatalf("LoadRoom after delete = %v", err)
	}
}

func TestPeersPlayOverRelay(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	host, guest := h.seat(t), h.seat(t)

	id, err := host.peer.CreateRoom(ctx)
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if err := guest.peer.JoinRoom(ctx, id); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}
	waitFor(t, "host to see the guest", host.peer.OpponentPresent)

	if _, ok := host.session.AttemptMove(sq("e2"), sq("e4")); !ok {
		t.Fatalf("e2-e4 rejected")
	}
	waitFor(t, "guest to get e2-e4", func() bool { return guest.session.HistoryLen() == 1 })
	if _, ok := guest.session.AttemptMove(sq("c7"), sq("c5")); !ok {
		t.Fatalf("c7-c5 rejected")
	}
	waitFor(t, "host to get c7-c5", func() bool { return host.session.HistoryLen() == 2 })
	if host.session.Board() != guest.session.Board() {
		t.Fatalf("boards diverged")
	}

	if err := guest.peer.LeaveRoom(ctx); err != nil {
		t.Fatalf("LeaveRoom: %v", err)
	}
	waitFor(t, "host to go local", func() bool { return !host.peer.Online() })
}

func TestDroppedClientReleasesSeat(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	host, guest := h.seat(t), h.seat(t)

	id, err := host.peer.CreateRoom(ctx)
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if err := guest.peer.JoinRoom(ctx, id); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}
	waitFor(t, "host to see the guest", host.peer.OpponentPresent)

	closeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := guest.client.Close(closeCtx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	waitFor(t, "host to see the seat freed", func() bool { return !host.peer.OpponentPresent() })
	r, err := h.store.LoadRoom(ctx, id)
	if err != nil || r.Players.Black || !r.Players.White {
		t.Fatalf("room after drop %+v %v", r, err)
	}
}

func TestReconnectRestoresRoom(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	host, guest := h.seat(t), h.seat(t)

	var mu sync.Mutex
	seen := map[*Client][]State{}
	for _, c := range []*Client{host.client, guest.client} {
		c := c
		c.OnStateChange(func(s State) {
			mu.Lock()
			seen[c] = append(seen[c], s)
			mu.Unlock()
		})
	}
	reconnected := func(c *Client) func() bool {
		return func() bool {
			mu.Lock()
			defer mu.Unlock()
			n := len(seen[c])
			return n >= 2 && seen[c][n-1] == StateConnected
		}
	}

	id, err := host.peer.CreateRoom(ctx)
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if err := guest.peer.JoinRoom(ctx, id); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}

	h.relay.CloseConnections()

	waitFor(t, "guest to reconnect", reconnected(guest.client))
	waitFor(t, "host to reconnect", reconnected(host.client))
	waitFor(t, "seats restored", func() bool {
		r, err := h.store.LoadRoom(ctx, id)
		return err == nil && r.Players.White && r.Players.Black
	})
	if om, ok := guest.session.Online(); !ok || om.Conn != game.ConnConnected {
		t.Fatalf("guest mode after reconnect %+v", guest.session.Mode())
	}

	if _, ok := host.session.AttemptMove(sq("d2"), sq("d4")); !ok {
		t.Fatalf("d2-d4 rejected")
	}
	waitFor(t, "guest to get d2-d4 after reconnect", func() bool { return guest.session.HistoryLen() == 1 })
}

func TestStateMapping(t *testing.T) {
	tests := []struct {
		in   State
		want game.ConnState
	}{
		{StateConnected, game.ConnConnected},
		{StateConnecting, game.ConnConnecting},
		{StateReconnecting, game.ConnConnecting},
		{StateDisconnected, game.ConnDisconnected},
		{StateFailed, game.ConnDisconnected},
		{StateClosed, game.ConnClosed},
	}
	for _, tt := range tests {
		if got := tt.in.ConnState(); got != tt.want {
			t.Errorf("%s.ConnState() = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestBackoffDuration(t *testing.T) {
	base := 10 * time.Millisecond
	if backoffDuration(base, 0) != base || backoffDuration(base, 3) != 40*time.Millisecond || backoffDuration(base, 20) != 320*time.Millisecond {
		t.Fatalf("unexpected backoff schedule")
	}
}
