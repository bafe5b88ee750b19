package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

var ErrDuplicateGame = errors.New("game already archived")

// Archive stores finished games.
type Archive interface {
	SaveGame(ctx context.Context, g *Game) error
	RecentGames(ctx context.Context, limit int) ([]*Game, error)
	Close() error
}

const schema = `
CREATE TABLE IF NOT EXISTS room_games (
	game_id      UUID PRIMARY KEY,
	room_id      TEXT NOT NULL,
	white_name   TEXT NOT NULL,
	black_name   TEXT NOT NULL,
	result       TEXT NOT NULL,
	result_method TEXT NOT NULL,
	moves        JSONB NOT NULL,
	moves_text   TEXT NOT NULL,
	final_fen    TEXT NOT NULL,
	white_time   INTEGER NOT NULL,
	black_time   INTEGER NOT NULL,
	started_at   TIMESTAMPTZ NOT NULL,
	ended_at     TIMESTAMPTZ NOT NULL,
	duration_ms  BIGINT NOT NULL
)`

type Repository struct {
	db *sql.DB
}

func NewRepository(databaseURL string) (*Repository, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create room_games: %w", err)
	}
	return &Repository{db: db}, nil
}

func (r *Repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// SaveGame upserts g keyed by its id.
func (r *Repository) SaveGame(ctx context.Context, g *Game) error {
	if r == nil || r.db == nil || g == nil {
		return nil
	}
	movesRaw, err := json.Marshal(g.Moves)
	if err != nil {
		return fmt.Errorf("marshal moves: %w", err)
	}

	const q = `INSERT INTO room_games (
		game_id, room_id, white_name, black_name,
		result, result_method, moves, moves_text, final_fen,
		white_time, black_time, started_at, ended_at, duration_ms
	) VALUES (
		$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14
	) ON CONFLICT (game_id) DO UPDATE SET
		room_id=EXCLUDED.room_id,
		white_name=EXCLUDED.white_name,
		black_name=EXCLUDED.black_name,
		result=EXCLUDED.result,
		result_method=EXCLUDED.result_method,
		moves=EXCLUDED.moves,
		moves_text=EXCLUDED.moves_text,
		final_fen=EXCLUDED.final_fen,
		white_time=EXCLUDED.white_time,
		black_time=EXCLUDED.black_time,
		started_at=EXCLUDED.started_at,
		ended_at=EXCLUDED.ended_at,
		duration_ms=EXCLUDED.duration_ms`

	_, err = r.db.ExecContext(ctx, q,
		g.ID, g.RoomID,
		sanitizeName(g.WhiteName), sanitizeName(g.BlackName),
		g.Result, g.Method, string(movesRaw), MovesText(g.Moves), g.FinalFEN,
		g.WhiteTime, g.BlackTime,
		g.StartedAt, g.EndedAt, g.Duration().Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("upsert room game: %w", err)
	}
	return nil
}

func (r *Repository) RecentGames(ctx context.Context, limit int) ([]*Game, error) {
	if limit <= 0 {
		limit = 10
	}
	const q = `
		SELECT game_id, room_id, white_name, black_name, result, result_method,
			moves, final_fen, white_time, black_time, started_at, ended_at
		FROM room_games
		ORDER BY ended_at DESC
		LIMIT $1`

	rows, err := r.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("select room games: %w", err)
	}
	defer rows.Close()

	games := make([]*Game, 0, limit)
	for rows.Next() {
		var (
			g         Game
			movesJSON []byte
		)
		if err := rows.Scan(
			&g.ID, &g.RoomID, &g.WhiteName, &g.BlackName, &g.Result, &g.Method,
			&movesJSON, &g.FinalFEN, &g.WhiteTime, &g.BlackTime, &g.StartedAt, &g.EndedAt,
		); err != nil {
			return nil, fmt.Errorf("scan room game: %w", err)
		}
		if err := json.Unmarshal(movesJSON, &g.Moves); err != nil {
			return nil, fmt.Errorf("unmarshal moves: %w", err)
		}
		games = append(games, &g)
	}
	return games, rows.Err()
}
