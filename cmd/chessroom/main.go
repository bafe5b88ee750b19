package main

import (
	"bufio"
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	petname "github.com/dustinkirkland/golang-petname"
	"go.uber.org/zap"

	appcfg "github.com/park285/cheese-chessroom/internal/config"
	"github.com/park285/cheese-chessroom/internal/archive"
	"github.com/park285/cheese-chessroom/internal/game"
	"github.com/park285/cheese-chessroom/internal/msgcat"
	"github.com/park285/cheese-chessroom/internal/obslog"
	"github.com/park285/cheese-chessroom/internal/roomclient"
	"github.com/park285/cheese-chessroom/internal/roomstore"
	"github.com/park285/cheese-chessroom/internal/roomsync"
)

func main() {
	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv("logs/chessroom.log"); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer obslog.Sync()
	logger := obslog.L()

	catalog, err := msgcat.New(cfg.MessagesLocale, cfg.MessagesDir)
	if err != nil {
		log.Fatalf("messages init error: %v", err)
	}

	name := cfg.PlayerName
	if name == "" {
		name = petname.Generate(2, "-")
	}

	session := game.NewSession(game.WithClockSeconds(cfg.ClockSeconds), game.WithLogger(logger))

	var (
		store     roomsync.Store
		relay     *roomclient.Client
		relayHTTP *roomclient.HTTPClient
		closeFns  []func()
	)
	switch cfg.Transport {
	case appcfg.TransportRelay:
		relay = roomclient.New(cfg.RelayURL,
			roomclient.WithLogger(logger),
			roomclient.WithReconnect(cfg.ReconnectTries, cfg.ReconnectDelay),
			roomclient.WithHeaderProvider(func() map[string]string { return map[string]string{"X-Player-Name": name} }),
		)
		relayHTTP = roomclient.NewHTTPClient(roomclient.HTTPBase(cfg.RelayURL))
		store = relay
		closeFns = append(closeFns, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			_ = relay.Close(ctx)
		})
	default:
		rs, err := roomstore.NewRedisStore(cfg.RedisURL, roomstore.WithTTL(cfg.RoomTTL))
		if err != nil {
			log.Fatalf("redis init error: %v", err)
		}
		store = rs
		closeFns = append(closeFns, func() { _ = rs.Close() })
	}

	peer := roomsync.NewPeer(store, session,
		roomsync.WithCatalog(catalog),
		roomsync.WithLogger(logger),
		roomsync.WithValidateRemote(cfg.ValidateRemote),
		roomsync.WithReconcile(roomsync.ReconcileMode(cfg.ReconcileMode)),
		roomsync.WithPublishTimeout(cfg.PublishTimeout),
	)

	var arch archive.Archive = archive.NewMemoryArchive()
	if cfg.DatabaseURL != "" {
		repo, err := archive.NewRepository(cfg.DatabaseURL)
		if err != nil {
			logger.Warn("archive_init_error", zap.Error(err))
		} else {
			arch = repo
		}
	}
	defer arch.Close()

	ui := newApp(name, session, peer, catalog, arch, os.Stdout)
	ui.relayHTTP = relayHTTP
	ui.snapshotDir = cfg.SnapshotDir
	ui.logger = logger

	if relay != nil {
		relay.OnStateChange(func(s roomclient.State) {
			logger.Info("relay_state", zap.String("state", string(s)))
			peer.SetConnState(s.ConnState())
		})
		cctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := relay.Connect(cctx); err != nil {
			logger.Warn("relay_connect_error", zap.Error(err))
		}
		cancel()
	}

	ui.println(catalog.Text("cli.welcome", map[string]any{"Name": name}))
	ui.printBoard()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
loop:
	for {
		select {
		case <-sigCh:
			break loop
		case line, ok := <-lines:
			if !ok || ui.exec(ctx, line) {
				break loop
			}
		}
	}

	leaveCtx, leaveCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := peer.Close(leaveCtx); err != nil {
		logger.Debug("peer_close_error", zap.Error(err))
	}
	leaveCancel()
	for _, fn := range closeFns {
		fn()
	}
}
