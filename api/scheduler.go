/*
scheduler.go - Periodic sweep scheduler

PURPOSE:
  Runs the engine's time-driven sweeps on an interval: Borrowed records
  past their due date become Overdue, and Reserved records past their
  hold window become ReservationExpired.

DESIGN:
  - Background goroutine with a configurable check interval
  - Both sweeps are idempotent, so overlapping or repeated runs are safe
  - Sweeps never touch copy counts, so they can run alongside live
    borrow/return traffic

USAGE:
  scheduler := NewSweepScheduler(engine)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - circulation/engine.go: SweepOverdue, SweepReservations
*/
package api

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/warp/circulation-engine/circulation"
)

// SweepScheduler drives the overdue and reservation-expiry sweeps.
type SweepScheduler struct {
	Engine        *circulation.Engine
	CheckInterval time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan bool
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewSweepScheduler creates a scheduler with the default hourly interval.
func NewSweepScheduler(engine *circulation.Engine) *SweepScheduler {
	return &SweepScheduler{
		Engine:        engine,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		stop:          make(chan bool),
	}
}

// Start begins the scheduler.
func (s *SweepScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		log.Println("[Scheduler] Disabled, not starting")
		return
	}

	s.ticker = time.NewTicker(s.CheckInterval)
	s.wg.Add(1)

	go s.run()

	log.Printf("[Scheduler] Started with check interval: %v", s.CheckInterval)
}

// Stop stops the scheduler.
func (s *SweepScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		s.ticker.Stop()
		close(s.stop)
		s.wg.Wait()
		log.Println("[Scheduler] Stopped")
	}
}

func (s *SweepScheduler) run() {
	defer s.wg.Done()

	// Run immediately on start
	s.sweep()

	for {
		select {
		case <-s.ticker.C:
			s.sweep()
		case <-s.stop:
			return
		}
	}
}

func (s *SweepScheduler) sweep() {
	ctx := context.Background()

	overdue, err := s.Engine.SweepOverdue(ctx)
	if err != nil {
		log.Printf("[Scheduler] Overdue sweep failed: %v", err)
	}
	expired, err := s.Engine.SweepReservations(ctx)
	if err != nil {
		log.Printf("[Scheduler] Reservation sweep failed: %v", err)
	}

	if overdue > 0 || expired > 0 {
		log.Printf("[Scheduler] Completed: %d loans marked overdue, %d reservations expired", overdue, expired)
	}
}

// RunNow triggers an immediate sweep (for testing/admin).
func (s *SweepScheduler) RunNow() {
	s.sweep()
}
