package relay

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/park285/cheese-chessroom/internal/roomwire"
	"github.com/park285/cheese-chessroom/internal/rules"
)

// Backend is the room store the relay exposes. RedisStore implements it.
type Backend interface {
	Ready(ctx context.Context) error
	CreateRoom(ctx context.Context, id string, room *roomwire.Room) error
	LoadRoom(ctx context.Context, id string) (*roomwire.Room, error)
	ClaimSeat(ctx context.Context, id string, c rules.Color) (*roomwire.Room, error)
	SetSeat(ctx context.Context, id string, c rules.Color, occupied bool) error
	UpdateRoom(ctx context.Context, id string, expectedSeq int64, room *roomwire.Room) (*roomwire.Room, error)
	AppendMove(ctx context.Context, id string, index int, m *roomwire.Move) error
	LoadMoves(ctx context.Context, id string) ([]roomwire.Move, error)
	DeleteRoom(ctx context.Context, id string) error
	Subscribe(ctx context.Context, id string) (roomwire.Feed, error)
}

const (
	readLimit      = 1 << 20
	requestTimeout = 10 * time.Second
	releaseTimeout = 5 * time.Second
)

// Server relays store operations from WebSocket clients to a Backend.
type Server struct {
	backend  Backend
	logger   *zap.Logger
	metrics  *Metrics
	registry *prometheus.Registry
	origins  []string
	engine   *gin.Engine

	mu      sync.Mutex
	conns   map[*conn]struct{}
	owners  map[seatKey]*conn
	closing bool
	wg      sync.WaitGroup
}

// seatKey names one seat of one room. The connection that registered a
// disconnect for it last owns the release.
type seatKey struct {
	room  string
	color rules.Color
}

type Option func(*Server)

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithOrigins sets the host patterns accepted in the WebSocket Origin
// header. Clients that send no Origin are always accepted.
func WithOrigins(patterns []string) Option {
	return func(s *Server) { s.origins = append([]string(nil), patterns...) }
}

func New(backend Backend, opts ...Option) *Server {
	s := &Server{
		backend:  backend,
		logger:   zap.NewNop(),
		registry: prometheus.NewRegistry(),
		conns:    make(map[*conn]struct{}),
		owners:   make(map[seatKey]*conn),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.metrics = NewMetrics(s.registry)
	s.engine = s.routes()
	return s
}

// Handler returns the HTTP handler serving every relay route.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) Metrics() *Metrics { return s.metrics }

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/ws", s.handleWS)
	r.GET("/api/rooms/:id", s.handleRoom)
	r.GET("/healthz", s.handleHealth)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))
	return r
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if err := s.backend.Ready(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"ok": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) handleRoom(c *gin.Context) {
	room, err := s.backend.LoadRoom(c.Request.Context(), c.Param("id"))
	if errors.Is(err, roomwire.ErrRoomNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"code": roomwire.CodeRoomNotFound, "error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": roomwire.CodeOf(err), "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, room)
}

func (s *Server) handleWS(c *gin.Context) {
	s.mu.Lock()
	closing := s.closing
	s.mu.Unlock()
	if closing {
		c.JSON(http.StatusServiceUnavailable, gin.H{"code": roomwire.CodeNotReady, "error": "relay is shutting down"})
		return
	}
	ws, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		OriginPatterns:  s.origins,
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		s.logger.Warn("relay_accept_error", zap.Error(err))
		return
	}
	ws.SetReadLimit(readLimit)

	cn := newConn(c.Request.Context(), s, ws, c.GetHeader("X-Player-Name"))
	s.track(cn, true)
	defer s.track(cn, false)
	cn.serve()
}

func (s *Server) track(cn *conn, open bool) {
	s.mu.Lock()
	if open {
		s.conns[cn] = struct{}{}
		s.wg.Add(1)
	} else {
		delete(s.conns, cn)
		s.wg.Done()
	}
	s.mu.Unlock()
	if open {
		s.metrics.Connections.Inc()
	} else {
		s.metrics.Connections.Dec()
	}
}

func (s *Server) own(id string, col rules.Color, cn *conn) {
	s.mu.Lock()
	s.owners[seatKey{id, col}] = cn
	s.mu.Unlock()
}

func (s *Server) disown(id string, cn *conn) {
	s.mu.Lock()
	for k, owner := range s.owners {
		if k.room == id && owner == cn {
			delete(s.owners, k)
		}
	}
	s.mu.Unlock()
}

// release reports whether cn still owns the seat, dropping the ownership.
// A seat re-registered by a newer connection is left alone.
func (s *Server) release(id string, col rules.Color, cn *conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := seatKey{id, col}
	if s.owners[k] != cn {
		return false
	}
	delete(s.owners, k)
	return true
}

// CloseConnections drops every open connection. Each one fires its
// disconnect writes; clients are free to reconnect.
func (s *Server) CloseConnections() {
	s.mu.Lock()
	open := make([]*conn, 0, len(s.conns))
	for cn := range s.conns {
		open = append(open, cn)
	}
	s.mu.Unlock()
	for _, cn := range open {
		cn.close(websocket.StatusGoingAway, "going away")
	}
}

// Shutdown refuses new connections, drops the open ones and waits for
// their cleanup to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()
	s.CloseConnections()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}
