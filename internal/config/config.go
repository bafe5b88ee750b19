package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Transport selects how a player process reaches the shared room store.
type Transport string

const (
	TransportRedis Transport = "redis"
	TransportRelay Transport = "relay"
)

// Reconcile selects how whole-room snapshots are merged into local state.
type Reconcile string

const (
	ReconcileBootstrap Reconcile = "bootstrap"
	ReconcileSnapshot  Reconcile = "snapshot"
)

type AppConfig struct {
	Transport Transport
	RedisURL  string
	RelayURL  string
	RelayAddr string

	DatabaseURL string

	ClockSeconds    int
	RoomTTL         time.Duration
	PublishTimeout  time.Duration
	ValidateRemote  bool
	ReconcileMode   Reconcile
	MessagesLocale  string
	MessagesDir     string
	PlayerName      string
	ReconnectTries  int
	ReconnectDelay  time.Duration
	SnapshotDir     string
	RelayOrigins    []string
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present; real environment variables win.
func Load() (*AppConfig, error) {
	_ = godotenv.Load()

	cfg := &AppConfig{
		Transport:      TransportRedis,
		RelayAddr:      ":8080",
		ClockSeconds:   600,
		RoomTTL:        24 * time.Hour,
		PublishTimeout: 5 * time.Second,
		ReconcileMode:  ReconcileBootstrap,
		MessagesLocale: "en",
		ReconnectTries: 5,
		ReconnectDelay: time.Second,
		SnapshotDir:    ".",
	}

	if v := env("TRANSPORT"); v != "" {
		cfg.Transport = Transport(strings.ToLower(v))
	}
	cfg.RedisURL = env("REDIS_URL")
	cfg.RelayURL = env("RELAY_URL")
	if v := env("RELAY_ADDR"); v != "" {
		cfg.RelayAddr = v
	}
	cfg.DatabaseURL = env("DATABASE_URL")

	if v := env("CLOCK_SECONDS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("CLOCK_SECONDS must be a positive integer, got %q", v)
		}
		cfg.ClockSeconds = n
	}
	if v := env("ROOM_TTL_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RoomTTL = time.Duration(n) * time.Second
		}
	}
	if v := env("PUBLISH_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.PublishTimeout = time.Duration(n) * time.Millisecond
		}
	}
	if v := env("VALIDATE_REMOTE_MOVES"); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			cfg.ValidateRemote = b
		}
	}
	if v := env("RECONCILE_MODE"); v != "" {
		cfg.ReconcileMode = Reconcile(strings.ToLower(v))
	}
	if v := env("MESSAGES_LOCALE"); v != "" {
		cfg.MessagesLocale = v
	}
	cfg.MessagesDir = env("MESSAGES_DIR")
	cfg.PlayerName = env("PLAYER_NAME")
	if v := env("RECONNECT_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.ReconnectTries = n
		}
	}
	if v := env("SNAPSHOT_DIR"); v != "" {
		cfg.SnapshotDir = v
	}
	if v := env("RELAY_ALLOWED_ORIGINS"); v != "" {
		for _, p := range strings.Split(v, ",") {
			if s := strings.TrimSpace(p); s != "" {
				cfg.RelayOrigins = append(cfg.RelayOrigins, s)
			}
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *AppConfig) validate() error {
	switch c.Transport {
	case TransportRedis:
		if c.RedisURL == "" {
			return errors.New("REDIS_URL is required when TRANSPORT=redis")
		}
	case TransportRelay:
		if c.RelayURL == "" {
			return errors.New("RELAY_URL is required when TRANSPORT=relay")
		}
	default:
		return fmt.Errorf("TRANSPORT must be redis or relay, got %q", c.Transport)
	}
	switch c.ReconcileMode {
	case ReconcileBootstrap, ReconcileSnapshot:
	default:
		return fmt.Errorf("RECONCILE_MODE must be bootstrap or snapshot, got %q", c.ReconcileMode)
	}
	return nil
}

func env(k string) string { return strings.TrimSpace(os.Getenv(k)) }
