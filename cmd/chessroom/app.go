package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/park285/cheese-chessroom/internal/archive"
	"github.com/park285/cheese-chessroom/internal/game"
	"github.com/park285/cheese-chessroom/internal/msgcat"
	"github.com/park285/cheese-chessroom/internal/render"
	"github.com/park285/cheese-chessroom/internal/roomclient"
	"github.com/park285/cheese-chessroom/internal/roomsync"
	"github.com/park285/cheese-chessroom/internal/rules"
)

const commandTimeout = 15 * time.Second

// app is the terminal front end: it reads commands, drives the session and
// prints whatever the session and the peer report.
type app struct {
	name        string
	session     *game.Session
	peer        *roomsync.Peer
	catalog     *msgcat.Catalog
	archive     archive.Archive
	relayHTTP   *roomclient.HTTPClient
	snapshotDir string
	logger      *zap.Logger

	outMu sync.Mutex
	out   io.Writer

	mu      sync.Mutex
	started time.Time
	last    *game.MoveRecord
}

func newApp(name string, session *game.Session, peer *roomsync.Peer, catalog *msgcat.Catalog, arch archive.Archive, out io.Writer) *app {
	a := &app{
		name:        name,
		session:     session,
		peer:        peer,
		catalog:     catalog,
		archive:     arch,
		snapshotDir: ".",
		logger:      zap.NewNop(),
		out:         out,
		started:     time.Now(),
	}
	session.Observe(a.onEvent)
	peer.OnNotice(func(n roomsync.Notice) { a.println(n.Text) })
	return a
}

func (a *app) println(lines ...string) {
	a.outMu.Lock()
	defer a.outMu.Unlock()
	for _, l := range lines {
		fmt.Fprintln(a.out, strings.TrimRight(l, "\n"))
	}
}

func (a *app) text(key string, data map[string]any) string { return a.catalog.Text(key, data) }

func (a *app) onEvent(ev game.Event) {
	switch ev.Kind {
	case game.EventMove:
		a.mu.Lock()
		mv := ev.Move
		a.last = &mv
		a.mu.Unlock()
		if ev.Remote {
			a.println(fmt.Sprintf("%d. %s", ev.Index/2+1, ev.Move.Notation()))
			a.printBoard()
		}
	case game.EventReset:
		a.mu.Lock()
		a.started = time.Now()
		a.last = nil
		a.mu.Unlock()
	case game.EventLoaded:
		a.mu.Lock()
		a.last = nil
		a.mu.Unlock()
	case game.EventGameOver:
		a.println(a.text("game.timeout", map[string]any{"Winner": colorName(ev.Outcome.Winner)}))
		go a.archiveGame()
	}
}

func colorName(c rules.Color) string {
	if c == rules.Black {
		return "Black"
	}
	return "White"
}

func (a *app) archiveGame() {
	if a.archive == nil {
		return
	}
	white, black := a.name, a.name
	if om, ok := a.session.Online(); ok {
		if om.Color == rules.White {
			black = "opponent"
		} else {
			white = "opponent"
		}
	}
	a.mu.Lock()
	started := a.started
	a.mu.Unlock()

	g := archive.NewGame(a.peer.RoomID(), white, black, a.session.Snapshot(), started, time.Now())
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	if err := a.archive.SaveGame(ctx, g); err != nil {
		a.logger.Warn("archive_save_error", zap.String("game", g.ID), zap.Error(err))
		return
	}
	a.println(a.text("cli.archived", map[string]any{"ID": g.ID}))
}

func (a *app) printBoard() {
	a.mu.Lock()
	last := a.last
	a.mu.Unlock()
	a.println(drawBoard(a.session.Board(), a.session.Flipped(), last), a.turnLine())
}

func (a *app) turnLine() string {
	white, black := a.session.Clocks()
	return fmt.Sprintf("%s  [white %s | black %s]",
		a.text("game.turn", map[string]any{"Color": colorName(a.session.Turn())}), clockText(white), clockText(black))
}

// exec runs one command line and reports whether the user asked to quit.
func (a *app) exec(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	cmd, args := strings.ToLower(fields[0]), fields[1:]
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	switch cmd {
	case "quit", "exit":
		return true
	case "help", "?":
		a.println(a.text("cli.help", nil))
	case "board":
		a.printBoard()
	case "move", "mv":
		a.move(args)
	case "targets":
		a.targets(args)
	case "flip":
		a.session.Flip()
		a.printBoard()
	case "reset":
		a.session.Reset()
		a.printBoard()
	case "host":
		if _, err := a.peer.CreateRoom(ctx); err != nil {
			a.roomError(err)
			return false
		}
		a.printBoard()
	case "join":
		if len(args) != 1 {
			a.println(a.text("cli.unknown", map[string]any{"Command": line}))
			return false
		}
		if err := a.peer.JoinRoom(ctx, args[0]); err != nil {
			a.roomError(err)
			return false
		}
		a.printBoard()
	case "leave":
		if !a.peer.Online() {
			a.println(a.text("cli.not_online", nil))
			return false
		}
		if err := a.peer.LeaveRoom(ctx); err != nil {
			a.logger.Debug("room_leave_failed", zap.Error(err))
		}
	case "status":
		a.status()
	case "snapshot":
		a.snapshot(ctx, args)
	case "history":
		a.history(ctx)
	case "peek":
		a.peek(ctx, args)
	default:
		if _, _, ok := parseMove(fields); ok {
			a.move(fields)
			return false
		}
		a.println(a.text("cli.unknown", map[string]any{"Command": cmd}))
	}
	return false
}

// roomError prints failures the peer does not report as a notice.
func (a *app) roomError(err error) {
	a.logger.Debug("room_command_failed", zap.Error(err))
	if errors.Is(err, roomsync.ErrAlreadyOnline) || errors.Is(err, roomsync.ErrNoRoomCode) {
		a.println(err.Error())
	}
}

func (a *app) move(args []string) {
	from, to, ok := parseMove(args)
	if !ok {
		a.println(a.text("cli.bad_move", nil))
		return
	}
	if a.session.Outcome().Over() {
		a.println(a.text("game.over", nil))
		return
	}
	if om, online := a.session.Online(); online && om.Color != a.session.Turn() {
		a.println(a.text("game.not_your_turn", nil))
		return
	}
	if _, ok := a.session.AttemptMove(from, to); !ok {
		a.println(a.text("game.illegal", nil))
		return
	}
	a.printBoard()
}

func (a *app) targets(args []string) {
	if len(args) != 1 {
		a.println(a.text("cli.bad_move", nil))
		return
	}
	from, err := rules.ParseSquare(strings.ToLower(args[0]))
	if err != nil {
		a.println(a.text("cli.bad_move", nil))
		return
	}
	sqs := a.session.LegalTargets(from)
	names := make([]string, 0, len(sqs))
	for _, sq := range sqs {
		names = append(names, sq.Algebraic())
	}
	a.println(from.Algebraic() + ": " + strings.Join(names, " "))
}

func (a *app) status() {
	lines := []string{a.turnLine()}
	if om, ok := a.session.Online(); ok {
		lines = append(lines,
			fmt.Sprintf("room %s as %s (%s)", om.RoomID, om.Color, om.Conn),
			a.text(a.peer.StatusKey(), nil),
		)
	} else {
		lines = append(lines, "local game")
	}
	if o := a.session.Outcome(); o.Over() {
		lines = append(lines, a.text("game.timeout", map[string]any{"Winner": colorName(o.Winner)}))
	}
	a.println(lines...)
}

func (a *app) snapshot(ctx context.Context, args []string) {
	room := a.peer.RoomID()
	if room == "" {
		room = "local"
	}
	path := filepath.Join(a.snapshotDir, "board-"+strings.ToLower(room)+".png")
	if len(args) > 0 {
		path = args[0]
	}
	a.mu.Lock()
	var hl *render.Highlight
	if a.last != nil {
		hl = &render.Highlight{From: a.last.From, To: a.last.To}
	}
	a.mu.Unlock()

	raw, err := render.PNG(ctx, a.session.Board(), render.Options{
		Flipped:   a.session.Flipped(),
		Highlight: hl,
		Header:    strings.ToUpper(room),
		Footer:    a.turnLine(),
	})
	if err != nil {
		a.println(err.Error())
		return
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		a.println(err.Error())
		return
	}
	a.println(a.text("cli.snapshot_saved", map[string]any{"Path": path}))
}

func (a *app) history(ctx context.Context) {
	if a.archive == nil {
		a.println(a.text("cli.no_games", nil))
		return
	}
	games, err := a.archive.RecentGames(ctx, 10)
	if err != nil {
		a.println(err.Error())
		return
	}
	if len(games) == 0 {
		a.println(a.text("cli.no_games", nil))
		return
	}
	for _, g := range games {
		a.println(g.EndedAt.Format("2006-01-02 15:04") + "  " + g.Summary())
	}
}

func (a *app) peek(ctx context.Context, args []string) {
	if a.relayHTTP == nil {
		a.println(a.text("cli.relay_only", nil))
		return
	}
	if len(args) != 1 {
		a.println(a.text("cli.unknown", map[string]any{"Command": "peek"}))
		return
	}
	room, err := a.relayHTTP.Room(ctx, args[0])
	if err != nil {
		a.println(a.text("room.not_found", map[string]any{"Room": strings.ToUpper(args[0])}))
		return
	}
	snap, err := roomsync.RoomToSnapshot(room)
	if err != nil {
		a.println(err.Error())
		return
	}
	a.println(drawBoard(snap.Board, false, nil),
		fmt.Sprintf("%s to move, %d moves, seq %d", colorName(snap.Turn), len(snap.History), room.Seq))
}
