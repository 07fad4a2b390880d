// Package scheduler runs the periodic maintenance loop: expiring stale
// reservations and widening invite waves for unclaimed tasks.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"matchline/internal/engine"
)

// Scheduler owns the background sweep goroutine. Start and Stop are
// idempotent and safe to call from multiple goroutines.
type Scheduler struct {
	Engine   engine.Engine
	Interval time.Duration
	Log      *slog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func New(e engine.Engine, interval time.Duration, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{Engine: e, Interval: interval, Log: log}
}

// Start launches the sweep loop. A second Start while running is a no-op.
// The first sweep runs immediately, then on every interval tick.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true
	go s.loop(ctx, s.done)
	s.Log.Info("scheduler started", "interval", s.Interval)
}

// Stop signals the loop and waits for the in-flight sweep to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel, done := s.cancel, s.done
	s.running = false
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()

	cancel()
	<-done
	s.Log.Info("scheduler stopped")
}

// Running reports whether the loop is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	s.Sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one maintenance pass: release expired reservations first so the
// reopened tasks are immediately eligible for expansion, then widen waves.
// Also invocable directly for manual or test-driven sweeps.
func (s *Scheduler) Sweep(ctx context.Context) (released, expanded int) {
	released, err := s.Engine.ReleaseExpiredReservations(ctx)
	if err != nil {
		s.Log.Error("expiry sweep failed", "error", err)
	}
	expanded, err = s.Engine.ProcessExpansions(ctx)
	if err != nil {
		s.Log.Error("expansion sweep failed", "error", err)
	}
	if released > 0 || expanded > 0 {
		s.Log.Info("sweep completed", "released", released, "expanded", expanded)
	}
	return released, expanded
}
