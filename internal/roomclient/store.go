package roomclient

import (
	"context"
	"strings"

	"github.com/park285/cheese-chessroom/internal/roomwire"
	"github.com/park285/cheese-chessroom/internal/rules"
)

func normalizeID(id string) string { return strings.ToUpper(strings.TrimSpace(id)) }

// Ready fails with ErrNotReady unless the socket is up and the relay's
// backend answers.
func (c *Client) Ready(ctx context.Context) error {
	if c.State() != StateConnected {
		return roomwire.ErrNotReady
	}
	_, err := c.call(ctx, roomwire.Request{Op: roomwire.OpReady})
	return err
}

func (c *Client) CreateRoom(ctx context.Context, id string, room *roomwire.Room) error {
	reply, err := c.call(ctx, roomwire.Request{Op: roomwire.OpCreate, RoomID: normalizeID(id), Room: room})
	if err != nil {
		return err
	}
	if reply.Room != nil {
		*room = *reply.Room
	}
	return nil
}

func (c *Client) LoadRoom(ctx context.Context, id string) (*roomwire.Room, error) {
	return c.roomCall(ctx, roomwire.Request{Op: roomwire.OpLoad, RoomID: normalizeID(id)})
}

func (c *Client) ClaimSeat(ctx context.Context, id string, col rules.Color) (*roomwire.Room, error) {
	return c.roomCall(ctx, roomwire.Request{Op: roomwire.OpClaim, RoomID: normalizeID(id), Color: col.String()})
}

func (c *Client) SetSeat(ctx context.Context, id string, col rules.Color, occupied bool) error {
	_, err := c.call(ctx, roomwire.Request{Op: roomwire.OpSeat, RoomID: normalizeID(id), Color: col.String(), Occupied: occupied})
	return err
}

// RegisterDisconnect asks the relay to free seat col when this connection
// drops. The registration is replayed after a reconnect.
func (c *Client) RegisterDisconnect(ctx context.Context, id string, col rules.Color) error {
	id = normalizeID(id)
	if _, err := c.call(ctx, roomwire.Request{Op: roomwire.OpDisconnect, RoomID: id, Color: col.String()}); err != nil {
		return err
	}
	c.subsM.Lock()
	c.seats[id] = col
	c.subsM.Unlock()
	return nil
}

func (c *Client) CancelDisconnect(ctx context.Context, id string) error {
	id = normalizeID(id)
	c.subsM.Lock()
	delete(c.seats, id)
	c.subsM.Unlock()
	_, err := c.call(ctx, roomwire.Request{Op: roomwire.OpDisconnect, RoomID: id})
	return err
}

func (c *Client) UpdateRoom(ctx context.Context, id string, expectedSeq int64, room *roomwire.Room) (*roomwire.Room, error) {
	return c.roomCall(ctx, roomwire.Request{Op: roomwire.OpUpdate, RoomID: normalizeID(id), ExpectedSeq: expectedSeq, Room: room})
}

func (c *Client) AppendMove(ctx context.Context, id string, index int, m *roomwire.Move) error {
	_, err := c.call(ctx, roomwire.Request{Op: roomwire.OpAppend, RoomID: normalizeID(id), Index: index, Move: m})
	return err
}

func (c *Client) LoadMoves(ctx context.Context, id string) ([]roomwire.Move, error) {
	reply, err := c.call(ctx, roomwire.Request{Op: roomwire.OpMoves, RoomID: normalizeID(id)})
	if err != nil {
		return nil, err
	}
	return reply.Moves, nil
}

func (c *Client) DeleteRoom(ctx context.Context, id string) error {
	id = normalizeID(id)
	c.subsM.Lock()
	delete(c.seats, id)
	c.subsM.Unlock()
	_, err := c.call(ctx, roomwire.Request{Op: roomwire.OpDelete, RoomID: id})
	return err
}

// Subscribe opens the room's feed. The relay replays the current record and
// move log before live events.
func (c *Client) Subscribe(ctx context.Context, id string) (roomwire.Feed, error) {
	id = normalizeID(id)
	f := newFeed(c, id)
	c.subsM.Lock()
	if old := c.subs[id]; old != nil {
		old.stop()
	}
	c.subs[id] = f
	c.subsM.Unlock()

	if _, err := c.call(ctx, roomwire.Request{Op: roomwire.OpSubscribe, RoomID: id}); err != nil {
		c.subsM.Lock()
		if c.subs[id] == f {
			delete(c.subs, id)
		}
		c.subsM.Unlock()
		f.stop()
		return nil, err
	}
	return f, nil
}

// dropFeed unregisters a closed feed and tells the relay in the background.
func (c *Client) dropFeed(f *feed) {
	c.subsM.Lock()
	if c.subs[f.roomID] != f {
		c.subsM.Unlock()
		return
	}
	delete(c.subs, f.roomID)
	c.subsM.Unlock()

	if c.current() == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(c.rootCtx, c.requestTimeout)
		defer cancel()
		_, _ = c.call(ctx, roomwire.Request{Op: roomwire.OpUnsubscribe, RoomID: f.roomID})
	}()
}

func (c *Client) roomCall(ctx context.Context, req roomwire.Request) (*roomwire.Room, error) {
	reply, err := c.call(ctx, req)
	if err != nil {
		return nil, err
	}
	if reply.Room == nil {
		return nil, roomwire.ErrInvalidRecord
	}
	return reply.Room, nil
}
