package roomclient

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/cheese-chessroom/internal/roomwire"
	"github.com/park285/cheese-chessroom/internal/rules"
)

const (
	dialTimeout = 10 * time.Second
	readLimit   = 1 << 20
)

// Client speaks the relay protocol over one WebSocket and implements the
// room store contract. It reconnects with backoff, re-subscribing rooms
// and re-registering seats afterwards.
type Client struct {
	wsURL  string
	logger *zap.Logger

	connM sync.RWMutex
	conn  *websocket.Conn
	state State

	stateCbs []stateCallbackEntry
	cbM      sync.RWMutex

	pendingM sync.Mutex
	pending  map[string]chan roomwire.Reply

	subsM sync.Mutex
	subs  map[string]*feed
	seats map[string]rules.Color

	maxReconnectAttempts int
	reconnectDelay       time.Duration
	pingInterval         time.Duration
	requestTimeout       time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	rootCtx    context.Context
	rootCancel context.CancelFunc

	headerProvider HeaderProvider
}

type Option func(*Client)

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

func WithReconnect(attempts int, delay time.Duration) Option {
	return func(c *Client) {
		c.maxReconnectAttempts = attempts
		if delay > 0 {
			c.reconnectDelay = delay
		}
	}
}

func WithPingInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.pingInterval = d
		}
	}
}

func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.requestTimeout = d
		}
	}
}

func WithHeaderProvider(h HeaderProvider) Option {
	return func(c *Client) { c.headerProvider = h }
}

func New(wsURL string, opts ...Option) *Client {
	c := &Client{
		wsURL:                wsURL,
		logger:               zap.NewNop(),
		state:                StateDisconnected,
		pending:              make(map[string]chan roomwire.Reply),
		subs:                 make(map[string]*feed),
		seats:                make(map[string]rules.Color),
		maxReconnectAttempts: 5,
		reconnectDelay:       100 * time.Millisecond,
		pingInterval:         30 * time.Second,
		requestTimeout:       10 * time.Second,
		stopCh:               make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.rootCtx, c.rootCancel = context.WithCancel(context.Background())
	return c
}

// Connect dials the relay. On failure a background reconnect is scheduled
// and the dial error returned.
func (c *Client) Connect(ctx context.Context) error {
	c.connM.Lock()
	if c.state == StateConnected || c.state == StateConnecting {
		c.connM.Unlock()
		return nil
	}
	c.connM.Unlock()

	c.setState(StateConnecting)
	if err := c.dial(ctx); err != nil {
		c.logger.Warn("relay_dial_error", zap.String("url", c.wsURL), zap.Error(err))
		c.setState(StateFailed)
		c.scheduleReconnect()
		return err
	}
	return nil
}

func (c *Client) dial(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	conn, _, err := websocket.Dial(dialCtx, c.wsURL, &websocket.DialOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
		HTTPHeader:      c.buildHeaders(),
	})
	if err != nil {
		return err
	}
	conn.SetReadLimit(readLimit)

	c.connM.Lock()
	c.conn = conn
	c.connM.Unlock()
	c.setState(StateConnected)

	c.wg.Add(2)
	go c.listen(conn)
	go c.pingLoop(conn)
	return nil
}

func (c *Client) listen(conn *websocket.Conn) {
	defer c.wg.Done()
	for {
		var msg roomwire.Reply
		if err := wsjson.Read(c.rootCtx, conn, &msg); err != nil {
			if c.isStopping() {
				return
			}
			c.logger.Warn("relay_read_error", zap.Error(err))
			c.lost(conn, "reconnect")
			return
		}
		if msg.Op == roomwire.OpEvent {
			c.dispatch(msg.Event)
			continue
		}
		c.pendingM.Lock()
		ch, ok := c.pending[msg.ID]
		delete(c.pending, msg.ID)
		c.pendingM.Unlock()
		if ok {
			ch <- msg
		}
	}
}

func (c *Client) pingLoop(conn *websocket.Conn) {
	defer c.wg.Done()
	t := time.NewTicker(c.pingInterval)
	defer t.Stop()
	consecutivePingFailures := 0
	for {
		select {
		case <-c.stopCh:
			return
		case <-t.C:
			if c.current() != conn {
				return
			}
			ctx, cancel := context.WithTimeout(c.rootCtx, 3*time.Second)
			err := conn.Ping(ctx)
			cancel()
			if err != nil {
				consecutivePingFailures++
				if consecutivePingFailures >= 2 {
					if c.isStopping() {
						return
					}
					c.lost(conn, "ping failure")
					return
				}
				continue
			}
			consecutivePingFailures = 0
		}
	}
}

// lost tears down conn once and starts reconnecting.
func (c *Client) lost(conn *websocket.Conn, reason string) {
	c.connM.Lock()
	if c.conn != conn {
		c.connM.Unlock()
		return
	}
	c.conn = nil
	c.connM.Unlock()

	_ = conn.Close(websocket.StatusGoingAway, reason)
	c.failPending()
	c.setState(StateDisconnected)
	c.scheduleReconnect()
}

func (c *Client) scheduleReconnect() {
	if c.maxReconnectAttempts <= 0 || c.isStopping() {
		return
	}
	c.setState(StateReconnecting)

	go func() {
		for attempt := 1; attempt <= c.maxReconnectAttempts; attempt++ {
			select {
			case <-c.stopCh:
				return
			case <-time.After(backoffDuration(c.reconnectDelay, attempt)):
			}
			if err := c.dial(c.rootCtx); err != nil {
				c.logger.Debug("relay_redial_error", zap.Int("attempt", attempt), zap.Error(err))
				continue
			}
			c.logger.Info("relay_reconnected", zap.Int("attempt", attempt))
			c.restore()
			return
		}
		c.setState(StateFailed)
	}()
}

// restore re-subscribes open feeds and re-occupies registered seats on a
// fresh connection. A room that vanished meanwhile is reported as deleted.
func (c *Client) restore() {
	c.subsM.Lock()
	feeds := make([]*feed, 0, len(c.subs))
	for _, f := range c.subs {
		feeds = append(feeds, f)
	}
	seats := make(map[string]rules.Color, len(c.seats))
	for id, col := range c.seats {
		seats[id] = col
	}
	c.subsM.Unlock()

	ctx, cancel := context.WithTimeout(c.rootCtx, c.requestTimeout)
	defer cancel()
	for id, col := range seats {
		// register first so a late release from the old connection is skipped
		if _, err := c.call(ctx, roomwire.Request{Op: roomwire.OpDisconnect, RoomID: id, Color: col.String()}); err != nil {
			c.logger.Warn("relay_restore_presence_error", zap.String("room", id), zap.Error(err))
			continue
		}
		if _, err := c.call(ctx, roomwire.Request{Op: roomwire.OpSeat, RoomID: id, Color: col.String(), Occupied: true}); err != nil {
			c.logger.Warn("relay_restore_seat_error", zap.String("room", id), zap.Error(err))
		}
	}
	for _, f := range feeds {
		_, err := c.call(ctx, roomwire.Request{Op: roomwire.OpSubscribe, RoomID: f.roomID})
		if err == nil {
			continue
		}
		c.logger.Warn("relay_restore_subscribe_error", zap.String("room", f.roomID), zap.Error(err))
		if roomwire.CodeOf(err) == roomwire.CodeRoomNotFound {
			f.push(roomwire.Event{Type: roomwire.EventDeleted, RoomID: f.roomID})
		}
	}
}

func (c *Client) dispatch(ev *roomwire.Event) {
	if ev == nil {
		return
	}
	c.subsM.Lock()
	f := c.subs[ev.RoomID]
	c.subsM.Unlock()
	if f != nil {
		f.push(*ev)
	}
}

// call sends one request and waits for its reply.
func (c *Client) call(ctx context.Context, req roomwire.Request) (roomwire.Reply, error) {
	conn := c.current()
	if conn == nil {
		return roomwire.Reply{}, roomwire.ErrNotReady
	}
	req.ID = uuid.NewString()
	ch := make(chan roomwire.Reply, 1)
	c.pendingM.Lock()
	c.pending[req.ID] = ch
	c.pendingM.Unlock()
	defer func() {
		c.pendingM.Lock()
		delete(c.pending, req.ID)
		c.pendingM.Unlock()
	}()

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.requestTimeout)
		defer cancel()
	}
	if err := wsjson.Write(ctx, conn, &req); err != nil {
		return roomwire.Reply{}, roomwire.FromCode(roomwire.CodeNotReady, err.Error())
	}
	select {
	case reply := <-ch:
		return reply, reply.Err()
	case <-ctx.Done():
		return roomwire.Reply{}, ctx.Err()
	case <-c.stopCh:
		return roomwire.Reply{}, roomwire.ErrNotReady
	}
}

func (c *Client) failPending() {
	c.pendingM.Lock()
	pending := c.pending
	c.pending = make(map[string]chan roomwire.Reply)
	c.pendingM.Unlock()
	for id, ch := range pending {
		ch <- roomwire.Reply{ID: id, OK: false, Code: roomwire.CodeNotReady, Error: "connection lost"}
	}
}

func (c *Client) current() *websocket.Conn {
	c.connM.RLock()
	defer c.connM.RUnlock()
	return c.conn
}

// State returns the current connection state.
func (c *Client) State() State {
	c.connM.RLock()
	defer c.connM.RUnlock()
	return c.state
}

func (c *Client) OnStateChange(cb StateCallback) int {
	c.cbM.Lock()
	defer c.cbM.Unlock()
	id := len(c.stateCbs) + 1
	c.stateCbs = append(c.stateCbs, stateCallbackEntry{id: id, callback: cb})
	return id
}

func (c *Client) RemoveStateCallback(id int) {
	c.cbM.Lock()
	defer c.cbM.Unlock()
	for i, cb := range c.stateCbs {
		if cb.id == id {
			c.stateCbs = append(c.stateCbs[:i], c.stateCbs[i+1:]...)
			break
		}
	}
}

func (c *Client) setState(state State) {
	c.connM.Lock()
	c.state = state
	c.connM.Unlock()

	c.cbM.RLock()
	callbacks := make([]stateCallbackEntry, len(c.stateCbs))
	copy(callbacks, c.stateCbs)
	c.cbM.RUnlock()
	for _, entry := range callbacks {
		if entry.callback != nil {
			entry.callback(state)
		}
	}
}

// Close stops reconnecting, closes the socket and every feed.
func (c *Client) Close(ctx context.Context) error {
	c.stopOnce.Do(func() { close(c.stopCh) })

	c.connM.Lock()
	conn := c.conn
	c.conn = nil
	c.connM.Unlock()
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "close")
	}

	c.subsM.Lock()
	feeds := c.subs
	c.subs = make(map[string]*feed)
	c.subsM.Unlock()
	for _, f := range feeds {
		f.stop()
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		c.rootCancel()
		c.setState(StateClosed)
		return nil
	}
}

func (c *Client) isStopping() bool {
	select {
	case <-c.stopCh:
		return true
	default:
		return false
	}
}
