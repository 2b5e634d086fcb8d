// Package local re-arms processors in-process with timers.
package local

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/BranchIntl/couponqueue/schedulers"
)

// DefaultDelay is the pause between a yield and the next invocation
const DefaultDelay = time.Second

// Scheduler fires one timer per identifier
type Scheduler struct {
	run    schedulers.RunFunc
	delay  time.Duration
	mu     sync.Mutex
	timers map[string]*time.Timer
	closed bool
	wg     sync.WaitGroup
}

// New creates a scheduler calling run after delay
func New(run schedulers.RunFunc, delay time.Duration) *Scheduler {
	if delay <= 0 {
		delay = DefaultDelay
	}
	return &Scheduler{
		run:    run,
		delay:  delay,
		timers: make(map[string]*time.Timer),
	}
}

// ScheduleNext arms the timer for identifier, replacing a pending one
func (s *Scheduler) ScheduleNext(ctx context.Context, identifier string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.stop(identifier)

	var timer *time.Timer
	s.wg.Add(1)
	timer = time.AfterFunc(s.delay, func() {
		defer s.wg.Done()

		s.mu.Lock()
		if s.timers[identifier] == timer {
			delete(s.timers, identifier)
		}
		s.mu.Unlock()

		if err := s.run(context.Background(), identifier); err != nil {
			slog.Error("Scheduled run failed", "identifier", identifier, "error", err)
		}
	})
	s.timers[identifier] = timer
	return nil
}

// Clear cancels the pending timer for identifier
func (s *Scheduler) Clear(ctx context.Context, identifier string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stop(identifier)
	return nil
}

// Pending reports whether a timer is armed for identifier
func (s *Scheduler) Pending(identifier string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.timers[identifier]
	return ok
}

// Wait blocks until no timer is armed or running
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// Close cancels all pending timers and ignores later requests
func (s *Scheduler) Close() error {
	s.mu.Lock()
	s.closed = true
	for identifier := range s.timers {
		s.stop(identifier)
	}
	s.mu.Unlock()

	s.wg.Wait()
	return nil
}

// stop expects the caller to hold the lock
func (s *Scheduler) stop(identifier string) {
	timer, ok := s.timers[identifier]
	if !ok {
		return
	}
	delete(s.timers, identifier)
	if timer.Stop() {
		s.wg.Done()
	}
}
