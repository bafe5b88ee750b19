package game

import (
	"context"
	"time"

	"github.com/park285/cheese-chessroom/internal/rules"
	"go.uber.org/zap"
)

// startClockLocked begins the countdown once per game. Each start bumps the
// generation so a ticker from an earlier run can never touch the clocks.
func (s *Session) startClockLocked() {
	if s.clockRunning {
		return
	}
	s.clockRunning = true
	s.clockGen++
	if s.manualClock {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.clockCancel = cancel
	go s.runClock(ctx, s.clockGen, s.tickEvery)
}

func (s *Session) stopClockLocked() {
	s.clockRunning = false
	s.clockGen++
	if s.clockCancel != nil {
		s.clockCancel()
		s.clockCancel = nil
	}
}

func (s *Session) runClock(ctx context.Context, gen uint64, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if !s.tick(gen) {
				return
			}
		}
	}
}

// ClockRunning reports whether the countdown is active.
func (s *Session) ClockRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clockRunning
}

// Tick takes one second from the side on move. It does nothing when the
// clock is stopped or the game is over.
func (s *Session) Tick() {
	s.mu.Lock()
	gen := s.clockGen
	s.mu.Unlock()
	s.tick(gen)
}

// tick reports whether the ticker of generation gen should keep running.
func (s *Session) tick(gen uint64) bool {
	s.mu.Lock()
	if gen != s.clockGen || !s.clockRunning || s.outcome.Over() {
		s.mu.Unlock()
		return false
	}
	remaining := &s.whiteTime
	if s.turn == rules.Black {
		remaining = &s.blackTime
	}
	if *remaining > 0 {
		*remaining--
	}
	if *remaining > 0 {
		observers := s.observersLocked()
		s.mu.Unlock()
		emit(observers, Event{Kind: EventClock})
		return true
	}

	*remaining = 0
	o := Outcome{Status: StatusTimeout, Winner: s.turn.Opponent()}
	s.outcome = o
	s.stopClockLocked()
	link := s.link
	observers := s.observersLocked()
	s.mu.Unlock()

	s.logger.Info("clock_expired", zap.String("loser", o.Winner.Opponent().String()), zap.String("winner", o.Winner.String()))
	if link != nil {
		link.GameOver(o)
	}
	emit(observers, Event{Kind: EventGameOver, Outcome: o})
	return false
}
