package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/park285/cheese-chessroom/internal/roomclient"
	"github.com/park285/cheese-chessroom/internal/roomstore"
)

func main() {
	_ = godotenv.Load()
	relayURL := os.Getenv("RELAY_URL")
	redisURL := os.Getenv("REDIS_URL")
	room := os.Getenv("CHECK_ROOM")
	if len(os.Args) > 1 {
		room = os.Args[1]
	}

	if relayURL == "" && redisURL == "" {
		log.Fatal("RELAY_URL or REDIS_URL is required")
	}
	failed := false

	if redisURL != "" {
		if !checkRedis(redisURL, room) {
			failed = true
		}
	} else {
		log.Println("REDIS_URL not set; skipping Redis check")
	}

	if relayURL != "" {
		if !checkRelay(relayURL, room) {
			failed = true
		}
	} else {
		log.Println("RELAY_URL not set; skipping relay check")
	}

	if failed {
		os.Exit(1)
	}
}

func checkRedis(redisURL, room string) bool {
	store, err := roomstore.NewRedisStore(redisURL)
	if err != nil {
		log.Printf("redis init error: %v", err)
		return false
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := store.Ready(ctx); err != nil {
		log.Printf("redis ping error: %v", err)
		return false
	}
	log.Println("redis ok")
	if room == "" {
		return true
	}
	r, err := store.LoadRoom(ctx, room)
	if err != nil {
		log.Printf("redis room %s: %v", room, err)
		return false
	}
	moves, err := store.LoadMoves(ctx, room)
	if err != nil {
		log.Printf("redis moves %s: %v", room, err)
		return false
	}
	log.Printf("redis room %s: seq=%d turn=%s status=%s log=%d white=%t black=%t",
		room, r.Seq, r.CurrentTurn, r.Status, len(moves), r.Players.White, r.Players.Black)
	return true
}

func checkRelay(relayURL, room string) bool {
	hc := roomclient.NewHTTPClient(roomclient.HTTPBase(relayURL), roomclient.WithHTTPTimeout(5*time.Second))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := hc.Health(ctx); err != nil {
		log.Printf("/healthz error: %v", err)
		return false
	}
	log.Println("/healthz ok")
	if room != "" {
		r, err := hc.Room(ctx, room)
		if err != nil {
			log.Printf("/api/rooms/%s error: %v", room, err)
			return false
		}
		log.Printf("/api/rooms/%s ok: seq=%d turn=%s status=%s", room, r.Seq, r.CurrentTurn, r.Status)
	}

	ws := roomclient.New(relayURL, roomclient.WithReconnect(0, 0))
	ws.OnStateChange(func(state roomclient.State) {
		log.Printf("WS state: %s", state)
	})
	cctx, ccancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer ccancel()
	if err := ws.Connect(cctx); err != nil {
		log.Printf("WS connect error: %v", err)
		return false
	}
	defer ws.Close(context.Background())
	if err := ws.Ready(cctx); err != nil {
		log.Printf("WS ready error: %v", err)
		return false
	}
	log.Println("WS ready ok")
	return true
}
