package roomstore

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/park285/cheese-chessroom/internal/obslog"
	"github.com/park285/cheese-chessroom/internal/roomwire"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const feedBuffer = 64

// Subscription is a live feed of one room backed by Redis pub/sub.
type Subscription struct {
	roomID string
	ps     *redis.PubSub
	out    chan roomwire.Event

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Subscribe opens the room's live feed. The feed first replays the current
// record and the existing move log, then forwards live events. Subscription
// happens before the catch-up read so no write falls in between; consumers
// see at-least-once delivery and must ignore duplicates.
func (s *RedisStore) Subscribe(ctx context.Context, id string) (roomwire.Feed, error) {
	ps := s.rdb.Subscribe(ctx, s.keyEvents(id))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}

	room, err := s.LoadRoom(ctx, id)
	if err != nil {
		_ = ps.Close()
		return nil, err
	}
	moves, err := s.LoadMoves(ctx, id)
	if err != nil {
		_ = ps.Close()
		return nil, err
	}

	catchUp := make([]roomwire.Event, 0, len(moves)+1)
	rid := NormalizeID(id)
	catchUp = append(catchUp, roomwire.Event{Type: roomwire.EventRoom, RoomID: rid, Snapshot: room})
	for i := range moves {
		m := moves[i]
		catchUp = append(catchUp, roomwire.Event{Type: roomwire.EventMove, RoomID: rid, Index: i, Move: &m})
	}

	sub := &Subscription{
		roomID: rid,
		ps:     ps,
		out:    make(chan roomwire.Event, feedBuffer),
		stopCh: make(chan struct{}),
	}
	sub.wg.Add(1)
	go sub.forward(catchUp)
	return sub, nil
}

func (sub *Subscription) Events() <-chan roomwire.Event { return sub.out }

// Close stops the feed. Events() is closed once the forwarder exits.
func (sub *Subscription) Close() error {
	var err error
	sub.stopOnce.Do(func() {
		close(sub.stopCh)
		err = sub.ps.Close()
	})
	sub.wg.Wait()
	return err
}

func (sub *Subscription) forward(catchUp []roomwire.Event) {
	defer sub.wg.Done()
	defer close(sub.out)

	for _, ev := range catchUp {
		if !sub.emit(ev) {
			return
		}
	}
	msgs := sub.ps.Channel()
	for {
		select {
		case <-sub.stopCh:
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			if !sub.emit(decodeEvent(sub.roomID, msg.Payload)) {
				return
			}
		}
	}
}

func (sub *Subscription) emit(ev roomwire.Event) bool {
	select {
	case <-sub.stopCh:
		return false
	case sub.out <- ev:
		return true
	}
}

// decodeEvent turns a payload into an event; anything that does not parse
// or validate becomes an EventInvalid carrying the reason.
func decodeEvent(roomID, payload string) roomwire.Event {
	var ev roomwire.Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		obslog.L().Warn("room_feed_decode_error", zap.String("room", roomID), zap.Error(err))
		return roomwire.Event{Type: roomwire.EventInvalid, RoomID: roomID, Error: err.Error()}
	}
	if err := ev.Validate(); err != nil {
		obslog.L().Warn("room_feed_invalid", zap.String("room", roomID), zap.String("type", string(ev.Type)), zap.Error(err))
		return roomwire.Event{Type: roomwire.EventInvalid, RoomID: roomID, Error: err.Error()}
	}
	ev.RoomID = roomID
	return ev
}
