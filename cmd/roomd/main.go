package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	appcfg "github.com/park285/cheese-chessroom/internal/config"
	"github.com/park285/cheese-chessroom/internal/obslog"
	"github.com/park285/cheese-chessroom/internal/relay"
	"github.com/park285/cheese-chessroom/internal/roomstore"
)

// Version is set at build time.
var Version = "dev"

func main() {
	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if cfg.RedisURL == "" {
		log.Fatal("REDIS_URL is required")
	}
	if err := obslog.InitFromEnv("logs/roomd.log"); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer obslog.Sync()
	logger := obslog.L()

	if os.Getenv(gin.EnvGinMode) == "" {
		gin.SetMode(gin.ReleaseMode)
	}

	store, err := roomstore.NewRedisStore(cfg.RedisURL, roomstore.WithTTL(cfg.RoomTTL))
	if err != nil {
		log.Fatalf("redis init error: %v", err)
	}
	defer store.Close()

	rl := relay.New(store, relay.WithLogger(logger), relay.WithOrigins(cfg.RelayOrigins))
	srv := &http.Server{
		Addr:              cfg.RelayAddr,
		Handler:           rl.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("relay_listen", zap.String("addr", cfg.RelayAddr), zap.String("version", Version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("relay_listen_failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("relay_shutdown")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// hijacked websockets are not tracked by http.Server
	if err := rl.Shutdown(ctx); err != nil {
		logger.Warn("relay_shutdown_error", zap.Error(err))
	}
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("http_shutdown_error", zap.Error(err))
	}
	logger.Info("relay_exited")
}
