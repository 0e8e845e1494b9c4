// Package heartbeat runs the single recurring liveness broadcast. The loop
// exists exactly while the registry is non-empty: the registry's occupancy
// hooks call Start on 0->1 and Stop on 1->0.
package heartbeat

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"wsrelay/internal/monitoring"
)

// BroadcastFunc emits one heartbeat broadcast. An error fails only that
// tick; the loop continues on the next one.
type BroadcastFunc func() error

// Scheduler ticks at a fixed interval while running. Start and Stop are
// idempotent within a run; cancellation is cooperative and leaves no
// dangling ticker.
type Scheduler struct {
	interval  time.Duration
	clk       clock.Clock
	logger    zerolog.Logger
	broadcast BroadcastFunc

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// New creates a stopped scheduler.
func New(interval time.Duration, clk clock.Clock, logger zerolog.Logger, broadcast BroadcastFunc) *Scheduler {
	if clk == nil {
		clk = clock.New()
	}
	return &Scheduler{
		interval:  interval,
		clk:       clk,
		logger:    logger.With().Str("component", "heartbeat").Logger(),
		broadcast: broadcast,
	}
}

// Start transitions STOPPED -> RUNNING. A second Start during a run is a
// no-op. Non-blocking; safe to call from the registry hook under its lock.
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

	go s.run(ctx, s.done)
	s.logger.Info().Dur("interval", s.interval).Msg("Heartbeat started")
}

// Stop transitions RUNNING -> STOPPED. A second Stop is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	cancel()
	s.logger.Info().Msg("Heartbeat stopped")
}

// Wait blocks until the current run's loop has exited. Returns immediately
// when the scheduler never ran.
func (s *Scheduler) Wait() {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Running reports whether the loop is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := s.clk.Ticker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.broadcast(); err != nil {
				// One failed tick must not kill the loop.
				s.logger.Error().Err(err).Msg("Heartbeat tick failed")
				continue
			}
			monitoring.HeartbeatsTotal.Inc()
			s.logger.Debug().Msg("Heartbeat broadcast sent")
		}
	}
}
