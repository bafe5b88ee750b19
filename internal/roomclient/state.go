package roomclient

import (
	"net/http"
	"strings"
	"time"

	"github.com/park285/cheese-chessroom/internal/game"
)

// State is the relay connection state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateFailed       State = "failed"
	StateClosed       State = "closed"
)

// ConnState maps the relay state onto the session's transport state.
func (s State) ConnState() game.ConnState {
	switch s {
	case StateConnected:
		return game.ConnConnected
	case StateConnecting, StateReconnecting:
		return game.ConnConnecting
	case StateClosed:
		return game.ConnClosed
	default:
		return game.ConnDisconnected
	}
}

type StateCallback func(state State)

// HeaderProvider supplies extra handshake headers.
type HeaderProvider func() map[string]string

type stateCallbackEntry struct {
	id       int
	callback StateCallback
}

func (c *Client) buildHeaders() http.Header {
	hdr := http.Header{}
	if c.headerProvider == nil {
		return hdr
	}
	for k, v := range c.headerProvider() {
		if strings.TrimSpace(k) == "" || strings.TrimSpace(v) == "" {
			continue
		}
		hdr.Set(k, v)
	}
	return hdr
}

// backoffDuration doubles base per attempt, capped at 32x.
func backoffDuration(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		attempt = 6
	}
	return time.Duration(1<<uint(attempt-1)) * base
}
