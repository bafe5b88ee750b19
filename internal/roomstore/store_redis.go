package roomstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/park285/cheese-chessroom/internal/obslog"
	"github.com/park285/cheese-chessroom/internal/roomwire"
	"github.com/park285/cheese-chessroom/internal/rules"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const defaultRoomTTL = 24 * time.Hour

// RedisStore keeps room records, move logs and live feeds in Redis.
//
//	room:<id>         JSON room record
//	room:<id>:moves   hash index -> JSON move (append-only via HSETNX)
//	room:<id>:events  pub/sub channel of roomwire.Event
type RedisStore struct {
	rdb      *redis.Client
	ownsConn bool
	ttl      time.Duration
	now      func() time.Time
	presence *Presence
}

type Option func(*RedisStore)

// WithTTL overrides the expiry of room keys.
func WithTTL(d time.Duration) Option {
	return func(s *RedisStore) {
		if d > 0 {
			s.ttl = d
		}
	}
}

// WithClock replaces time.Now for createdAt/updatedAt stamps.
func WithClock(now func() time.Time) Option {
	return func(s *RedisStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewRedisStore dials redisURL and pings it.
func NewRedisStore(redisURL string, opts ...Option) (*RedisStore, error) {
	if strings.TrimSpace(redisURL) == "" {
		return nil, fmt.Errorf("REDIS_URL required for room store")
	}
	ropts, err := ParseRedisURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(ropts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	s := NewStore(rdb, opts...)
	s.ownsConn = true
	return s, nil
}

// NewStore wraps an existing client. The caller keeps ownership of rdb.
func NewStore(rdb *redis.Client, opts ...Option) *RedisStore {
	s := &RedisStore{rdb: rdb, ttl: defaultRoomTTL, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	s.presence = NewPresence(s)
	return s
}

// Close fires pending disconnect writes and releases an owned connection.
func (s *RedisStore) Close() error {
	if s == nil || s.rdb == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	s.presence.Fire(ctx)
	cancel()
	if s.ownsConn {
		return s.rdb.Close()
	}
	return nil
}

func (s *RedisStore) keyRoom(id string) string   { return "room:" + NormalizeID(id) }
func (s *RedisStore) keyMoves(id string) string  { return s.keyRoom(id) + ":moves" }
func (s *RedisStore) keyEvents(id string) string { return s.keyRoom(id) + ":events" }

// NormalizeID trims and uppercases a room code.
func NormalizeID(id string) string { return strings.ToUpper(strings.TrimSpace(id)) }

func (s *RedisStore) Ready(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", roomwire.ErrNotReady, err)
	}
	return nil
}

// CreateRoom writes the initial record. It fails with ErrRoomExists when the
// id is taken so the caller can retry with a fresh code.
func (s *RedisStore) CreateRoom(ctx context.Context, id string, room *roomwire.Room) error {
	if NormalizeID(id) == "" {
		return fmt.Errorf("%w: empty room id", roomwire.ErrInvalidRecord)
	}
	if err := room.Validate(); err != nil {
		return err
	}
	rec := *room
	now := s.now().UnixMilli()
	if rec.CreatedAt == 0 {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	rec.Seq = 1
	raw, err := json.Marshal(&rec)
	if err != nil {
		return err
	}
	ok, err := s.rdb.SetNX(ctx, s.keyRoom(id), raw, s.ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return roomwire.ErrRoomExists
	}
	// a stale move log from an expired room of the same id must not leak in
	_ = s.rdb.Del(ctx, s.keyMoves(id)).Err()
	*room = rec
	obslog.L().Info("room_create", zap.String("room", NormalizeID(id)))
	s.publish(ctx, id, roomwire.Event{Type: roomwire.EventRoom, Snapshot: &rec})
	return nil
}

func (s *RedisStore) LoadRoom(ctx context.Context, id string) (*roomwire.Room, error) {
	return s.load(ctx, s.rdb, id)
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *RedisStore) load(ctx context.Context, g getter, id string) (*roomwire.Room, error) {
	raw, err := g.Get(ctx, s.keyRoom(id)).Bytes()
	if err == redis.Nil {
		return nil, roomwire.ErrRoomNotFound
	}
	if err != nil {
		return nil, err
	}
	var r roomwire.Room
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("%w: %v", roomwire.ErrInvalidRecord, err)
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

// ClaimSeat occupies the seat of color c. It fails with ErrSeatTaken when
// the seat is already occupied.
func (s *RedisStore) ClaimSeat(ctx context.Context, id string, c rules.Color) (*roomwire.Room, error) {
	var out *roomwire.Room
	err := s.mutate(ctx, id, func(cur *roomwire.Room) error {
		if cur.Players.Occupied(c) {
			return roomwire.ErrSeatTaken
		}
		cur.Players = cur.Players.With(c, true)
		out = cur
		return nil
	})
	if err != nil {
		obslog.L().Warn("room_claim_error", zap.String("room", NormalizeID(id)), zap.String("color", c.String()), zap.Error(err))
		return nil, err
	}
	obslog.L().Info("room_claim", zap.String("room", NormalizeID(id)), zap.String("color", c.String()))
	return out, nil
}

// SetSeat marks a seat occupied or free. A missing room is not an error.
func (s *RedisStore) SetSeat(ctx context.Context, id string, c rules.Color, occupied bool) error {
	err := s.mutate(ctx, id, func(cur *roomwire.Room) error {
		if cur.Players.Occupied(c) == occupied {
			return errNoChange
		}
		cur.Players = cur.Players.With(c, occupied)
		return nil
	})
	if errors.Is(err, roomwire.ErrRoomNotFound) || errors.Is(err, errNoChange) {
		return nil
	}
	return err
}

// UpdateRoom replaces the game fields of the record when its seq still
// equals expectedSeq. Seats and createdAt are kept from the stored record.
func (s *RedisStore) UpdateRoom(ctx context.Context, id string, expectedSeq int64, room *roomwire.Room) (*roomwire.Room, error) {
	if err := room.Validate(); err != nil {
		return nil, err
	}
	var out *roomwire.Room
	err := s.mutate(ctx, id, func(cur *roomwire.Room) error {
		if cur.Seq != expectedSeq {
			return roomwire.ErrSeqConflict
		}
		next := *room
		next.Players = cur.Players
		next.CreatedAt = cur.CreatedAt
		next.Seq = cur.Seq
		*cur = next
		out = cur
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

var errNoChange = errors.New("no change")

// mutate runs fn against the stored record under WATCH, bumps seq and
// publishes the new snapshot. fn returning an error aborts the write.
func (s *RedisStore) mutate(ctx context.Context, id string, fn func(cur *roomwire.Room) error) error {
	key := s.keyRoom(id)
	var written *roomwire.Room
	txf := func(tx *redis.Tx) error {
		cur, err := s.load(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := fn(cur); err != nil {
			return err
		}
		cur.Seq++
		cur.UpdatedAt = s.now().UnixMilli()
		raw, err := json.Marshal(cur)
		if err != nil {
			return err
		}
		pipe := tx.TxPipeline()
		pipe.Set(ctx, key, raw, s.ttl)
		pipe.Expire(ctx, s.keyMoves(id), s.ttl)
		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}
		written = cur
		return nil
	}

	var err error
	for attempt := 0; attempt < 5; attempt++ {
		err = s.rdb.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if errors.Is(err, redis.TxFailedErr) {
		return roomwire.ErrSeqConflict
	}
	if err != nil {
		return err
	}
	s.publish(ctx, id, roomwire.Event{Type: roomwire.EventRoom, Snapshot: written})
	return nil
}

// AppendMove writes the move at index. Each index can be written once.
func (s *RedisStore) AppendMove(ctx context.Context, id string, index int, m *roomwire.Move) error {
	if index < 0 {
		return fmt.Errorf("%w: negative index", roomwire.ErrInvalidRecord)
	}
	if err := m.Validate(); err != nil {
		return err
	}
	n, err := s.rdb.Exists(ctx, s.keyRoom(id)).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return roomwire.ErrRoomNotFound
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return err
	}
	ok, err := s.rdb.HSetNX(ctx, s.keyMoves(id), strconv.Itoa(index), raw).Result()
	if err != nil {
		return err
	}
	if !ok {
		return roomwire.ErrMoveExists
	}
	_ = s.rdb.Expire(ctx, s.keyMoves(id), s.ttl).Err()
	obslog.L().Debug("room_move", zap.String("room", NormalizeID(id)), zap.Int("index", index), zap.String("from", m.From), zap.String("to", m.To))
	mv := *m
	s.publish(ctx, id, roomwire.Event{Type: roomwire.EventMove, Index: index, Move: &mv})
	return nil
}

// LoadMoves returns the contiguous prefix of the move log starting at 0.
func (s *RedisStore) LoadMoves(ctx context.Context, id string) ([]roomwire.Move, error) {
	all, err := s.rdb.HGetAll(ctx, s.keyMoves(id)).Result()
	if err != nil {
		return nil, err
	}
	byIndex := make(map[int]roomwire.Move, len(all))
	indices := make([]int, 0, len(all))
	for k, v := range all {
		i, err := strconv.Atoi(k)
		if err != nil || i < 0 {
			continue
		}
		var m roomwire.Move
		if err := json.Unmarshal([]byte(v), &m); err != nil {
			return nil, fmt.Errorf("%w: move %d: %v", roomwire.ErrInvalidRecord, i, err)
		}
		if err := m.Validate(); err != nil {
			return nil, fmt.Errorf("move %d: %w", i, err)
		}
		byIndex[i] = m
		indices = append(indices, i)
	}
	sort.Ints(indices)
	out := make([]roomwire.Move, 0, len(indices))
	for want, i := range indices {
		if i != want {
			break
		}
		out = append(out, byIndex[i])
	}
	return out, nil
}

// DeleteRoom removes the record and its move log. Deleting a missing room
// is not an error.
func (s *RedisStore) DeleteRoom(ctx context.Context, id string) error {
	n, err := s.rdb.Del(ctx, s.keyRoom(id), s.keyMoves(id)).Result()
	if err != nil {
		return err
	}
	s.presence.Cancel(id)
	if n > 0 {
		obslog.L().Info("room_delete", zap.String("room", NormalizeID(id)))
		s.publish(ctx, id, roomwire.Event{Type: roomwire.EventDeleted})
	}
	return nil
}

// RegisterDisconnect frees seat c of room id when this store is closed.
func (s *RedisStore) RegisterDisconnect(ctx context.Context, id string, c rules.Color) error {
	s.presence.Register(id, c)
	return nil
}

// CancelDisconnect drops a registration made with RegisterDisconnect.
func (s *RedisStore) CancelDisconnect(ctx context.Context, id string) error {
	s.presence.Cancel(id)
	return nil
}

func (s *RedisStore) publish(ctx context.Context, id string, ev roomwire.Event) {
	ev.RoomID = NormalizeID(id)
	raw, err := json.Marshal(&ev)
	if err != nil {
		obslog.L().Error("room_publish_encode_error", zap.String("room", ev.RoomID), zap.Error(err))
		return
	}
	if err := s.rdb.Publish(ctx, s.keyEvents(id), raw).Err(); err != nil {
		obslog.L().Warn("room_publish_error", zap.String("room", ev.RoomID), zap.String("type", string(ev.Type)), zap.Error(err))
	}
}

// ParseRedisURL accepts redis:// and rediss:// URLs with an optional db path.
func ParseRedisURL(raw string) (*redis.Options, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	db := 0
	if p := strings.TrimPrefix(u.Path, "/"); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			db = n
		}
	}
	pass, _ := u.User.Password()
	return &redis.Options{Addr: u.Host, Password: pass, DB: db}, nil
}
