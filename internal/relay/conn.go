package relay

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/cheese-chessroom/internal/roomstore"
	"github.com/park285/cheese-chessroom/internal/roomwire"
	"github.com/park285/cheese-chessroom/internal/rules"
)

// conn is one relay WebSocket client. Disconnect registrations made over
// it fire when it goes away.
type conn struct {
	id       string
	player   string
	srv      *Server
	ws       *websocket.Conn
	logger   *zap.Logger
	presence *roomstore.Presence

	ctx    context.Context
	cancel context.CancelFunc

	subsMu sync.Mutex
	subs   map[string]roomwire.Feed
	wg     sync.WaitGroup

	closeOnce sync.Once
}

func newConn(parent context.Context, s *Server, ws *websocket.Conn, player string) *conn {
	id := uuid.NewString()
	ctx, cancel := context.WithCancel(parent)
	c := &conn{
		ctx:    ctx,
		cancel: cancel,
		id:     id,
		player: player,
		srv:    s,
		ws:     ws,
		logger: s.logger.With(zap.String("conn", id)),
		subs:   make(map[string]roomwire.Feed),
	}
	c.presence = roomstore.NewPresence(ownedSeats{c})
	return c
}

// ownedSeats frees a seat only while this connection still owns it.
type ownedSeats struct{ c *conn }

func (o ownedSeats) SetSeat(ctx context.Context, id string, col rules.Color, occupied bool) error {
	if !o.c.srv.release(id, col, o.c) {
		return nil
	}
	return o.c.srv.backend.SetSeat(ctx, id, col, occupied)
}

// serve reads requests until the connection drops. Requests are handled in
// arrival order.
func (c *conn) serve() {
	defer c.cleanup()
	c.logger.Info("relay_conn_open", zap.String("player", c.player))

	for {
		var req roomwire.Request
		if err := wsjson.Read(c.ctx, c.ws, &req); err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure && c.ctx.Err() == nil {
				c.logger.Debug("relay_read_error", zap.Error(err))
			}
			return
		}
		reply := c.handle(&req)
		reply.ID = req.ID
		if !reply.OK {
			c.srv.metrics.RequestErrors.WithLabelValues(reply.Code).Inc()
		}
		if err := c.write(&reply); err != nil {
			return
		}
	}
}

func (c *conn) write(r *roomwire.Reply) error {
	ctx, cancel := context.WithTimeout(c.ctx, requestTimeout)
	defer cancel()
	return wsjson.Write(ctx, c.ws, r)
}

func (c *conn) handle(req *roomwire.Request) roomwire.Reply {
	ctx, cancel := context.WithTimeout(c.ctx, requestTimeout)
	defer cancel()
	id := roomstore.NormalizeID(req.RoomID)
	if req.Op != roomwire.OpReady && id == "" {
		return failed(fmt.Errorf("%w: missing roomId", roomwire.ErrInvalidRecord))
	}

	switch req.Op {
	case roomwire.OpReady:
		return result(c.srv.backend.Ready(ctx))

	case roomwire.OpCreate:
		if req.Room == nil {
			return failed(fmt.Errorf("%w: missing room", roomwire.ErrInvalidRecord))
		}
		if err := c.srv.backend.CreateRoom(ctx, id, req.Room); err != nil {
			return failed(err)
		}
		c.srv.metrics.RoomsCreated.Inc()
		c.logger.Info("relay_room_create", zap.String("room", id), zap.String("player", c.player))
		return roomwire.Reply{OK: true, Room: req.Room, Seq: req.Room.Seq}

	case roomwire.OpLoad:
		return roomReply(c.srv.backend.LoadRoom(ctx, id))

	case roomwire.OpClaim:
		color, err := rules.ParseColor(req.Color)
		if err != nil {
			return failed(fmt.Errorf("%w: %v", roomwire.ErrInvalidRecord, err))
		}
		return roomReply(c.srv.backend.ClaimSeat(ctx, id, color))

	case roomwire.OpSeat:
		color, err := rules.ParseColor(req.Color)
		if err != nil {
			return failed(fmt.Errorf("%w: %v", roomwire.ErrInvalidRecord, err))
		}
		return result(c.srv.backend.SetSeat(ctx, id, color, req.Occupied))

	case roomwire.OpDisconnect:
		if req.Color == "" {
			c.presence.Cancel(id)
			c.srv.disown(id, c)
			return roomwire.Reply{OK: true}
		}
		color, err := rules.ParseColor(req.Color)
		if err != nil {
			return failed(fmt.Errorf("%w: %v", roomwire.ErrInvalidRecord, err))
		}
		c.presence.Register(id, color)
		c.srv.own(id, color, c)
		return roomwire.Reply{OK: true}

	case roomwire.OpUpdate:
		if req.Room == nil {
			return failed(fmt.Errorf("%w: missing room", roomwire.ErrInvalidRecord))
		}
		return roomReply(c.srv.backend.UpdateRoom(ctx, id, req.ExpectedSeq, req.Room))

	case roomwire.OpAppend:
		if req.Move == nil {
			return failed(fmt.Errorf("%w: missing move", roomwire.ErrInvalidRecord))
		}
		if err := c.srv.backend.AppendMove(ctx, id, req.Index, req.Move); err != nil {
			return failed(err)
		}
		c.srv.metrics.MovesAppended.Inc()
		return roomwire.Reply{OK: true}

	case roomwire.OpMoves:
		moves, err := c.srv.backend.LoadMoves(ctx, id)
		if err != nil {
			return failed(err)
		}
		return roomwire.Reply{OK: true, Moves: moves}

	case roomwire.OpDelete:
		c.presence.Cancel(id)
		c.srv.disown(id, c)
		return result(c.srv.backend.DeleteRoom(ctx, id))

	case roomwire.OpSubscribe:
		return result(c.subscribe(id))

	case roomwire.OpUnsubscribe:
		c.unsubscribe(id)
		return roomwire.Reply{OK: true}
	}
	return failed(fmt.Errorf("%w: unknown op %q", roomwire.ErrInvalidRecord, req.Op))
}

// subscribe replaces any existing subscription to the room and forwards its
// events as push frames.
func (c *conn) subscribe(id string) error {
	c.unsubscribe(id)
	feed, err := c.srv.backend.Subscribe(c.ctx, id)
	if err != nil {
		return err
	}
	c.subsMu.Lock()
	c.subs[id] = feed
	c.subsMu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for ev := range feed.Events() {
			ev := ev
			if err := c.write(&roomwire.Reply{Op: roomwire.OpEvent, OK: true, Event: &ev}); err != nil {
				return
			}
		}
	}()
	c.logger.Debug("relay_subscribe", zap.String("room", id))
	return nil
}

func (c *conn) unsubscribe(id string) {
	c.subsMu.Lock()
	feed, ok := c.subs[id]
	delete(c.subs, id)
	c.subsMu.Unlock()
	if ok {
		_ = feed.Close()
	}
}

func (c *conn) close(code websocket.StatusCode, reason string) {
	c.closeOnce.Do(func() {
		c.cancel()
		_ = c.ws.Close(code, reason)
	})
}

// cleanup closes subscriptions and frees the seats this connection held.
func (c *conn) cleanup() {
	c.subsMu.Lock()
	feeds := c.subs
	c.subs = make(map[string]roomwire.Feed)
	c.subsMu.Unlock()
	for _, f := range feeds {
		_ = f.Close()
	}
	c.close(websocket.StatusNormalClosure, "bye")
	c.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	c.presence.Fire(ctx)
	c.logger.Info("relay_conn_closed", zap.String("player", c.player))
}

func result(err error) roomwire.Reply {
	if err != nil {
		return failed(err)
	}
	return roomwire.Reply{OK: true}
}

func roomReply(room *roomwire.Room, err error) roomwire.Reply {
	if err != nil {
		return failed(err)
	}
	return roomwire.Reply{OK: true, Room: room, Seq: room.Seq}
}

func failed(err error) roomwire.Reply {
	return roomwire.Reply{OK: false, Code: roomwire.CodeOf(err), Error: err.Error()}
}
