package secgate

import (
	"context"
	"log"
	"sync"
	"time"
)

// DefaultSweepInterval is how often the background sweeper runs.
const DefaultSweepInterval = 10 * time.Minute

// sweeper periodically clears elapsed lockouts, dead session index
// members, expired IP list entries and stale in-memory risk state.
// It never touches the request path.
type sweeper struct {
	engine   *Engine
	interval time.Duration
	done     chan struct{}
	wg       sync.WaitGroup
	once     sync.Once
}

func newSweeper(e *Engine, interval time.Duration) *sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	s := &sweeper{
		engine:   e,
		interval: interval,
		done:     make(chan struct{}),
	}
	s.wg.Add(1)
	go s.run()
	return s
}

func (s *sweeper) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.done:
			return
		}
	}
}

func (s *sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if _, err := s.engine.lockouts.Sweep(ctx); err != nil {
		log.Printf("secgate: lockout sweep: %v", err)
	}
	if _, err := s.engine.sessions.Prune(ctx); err != nil {
		log.Printf("secgate: session prune: %v", err)
	}
	if _, err := s.engine.iplists.Prune(ctx); err != nil {
		log.Printf("secgate: ip list prune: %v", err)
	}
	if s.engine.riskMemory != nil {
		s.engine.riskMemory.Prune()
	}
}

func (s *sweeper) stop() {
	s.once.Do(func() {
		close(s.done)
		s.wg.Wait()
	})
}

// StartSweeper launches the engine's background maintenance loop.
// Calling it twice is a no-op; Close stops it.
func (e *Engine) StartSweeper(interval time.Duration) {
	if e == nil || e.sweep != nil {
		return
	}
	e.sweep = newSweeper(e, interval)
}
