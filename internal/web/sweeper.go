package web

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/facemark/facemark/internal/database"
)

// Sweeper periodically ends active sessions whose scheduled end has passed.
// Per-session timers close sessions promptly while the process runs; the
// sweeper catches sessions whose timers were lost to a restart.
type Sweeper struct {
	sessions database.SessionStore
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewSweeper creates a sweeper ticking at the given interval.
func NewSweeper(sessions database.SessionStore, interval time.Duration) *Sweeper {
	return &Sweeper{
		sessions: sessions,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start runs the sweep loop in the background. One sweep is executed
// immediately so sessions overdue across a restart close right away.
func (s *Sweeper) Start() {
	go func() {
		s.sweep()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.sweep()
			case <-s.stopCh:
				return
			}
		}
	}()
}

// Stop terminates the sweep loop.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
}

func (s *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	ended, err := s.sessions.EndOverdue(ctx)
	if err != nil {
		log.Printf("overdue session sweep failed: %v", err)
		return
	}
	if ended > 0 {
		log.Printf("closed %d overdue attendance sessions", ended)
	}
}
