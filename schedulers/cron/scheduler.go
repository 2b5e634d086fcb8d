// Package cron re-arms processors with a recurring healthcheck. Every tick
// invokes the processor of each registered identifier; an invocation that
// finds the queue empty or the lock held returns straight away.
package cron

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/BranchIntl/couponqueue/errors"
	"github.com/BranchIntl/couponqueue/schedulers"
	"github.com/robfig/cron/v3"
)

// DefaultSpec is the healthcheck interval
const DefaultSpec = "@every 5m"

// Scheduler runs a healthcheck entry per identifier
type Scheduler struct {
	cron    *cron.Cron
	spec    string
	run     schedulers.RunFunc
	mu      sync.Mutex
	entries map[string]cron.EntryID
}

// Option configures a Scheduler
type Option func(*Scheduler)

// WithSpec sets the schedule, in standard cron syntax or a descriptor
// such as "@every 1m"
func WithSpec(spec string) Option {
	return func(s *Scheduler) {
		if spec != "" {
			s.spec = spec
		}
	}
}

// New creates a stopped scheduler
func New(run schedulers.RunFunc, opts ...Option) *Scheduler {
	logger := cron.PrintfLogger(slog.NewLogLogger(slog.Default().Handler(), slog.LevelDebug))

	s := &Scheduler{
		cron: cron.New(cron.WithChain(
			cron.Recover(logger),
			cron.SkipIfStillRunning(logger),
		)),
		spec:    DefaultSpec,
		run:     run,
		entries: make(map[string]cron.EntryID),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Validate checks the configured spec
func (s *Scheduler) Validate() error {
	if _, err := cron.ParseStandard(s.spec); err != nil {
		return fmt.Errorf("%w: cron spec %q: %v", errors.ErrInvalidConfig, s.spec, err)
	}
	return nil
}

// Start begins ticking in the background
func (s *Scheduler) Start() {
	s.cron.Start()
	slog.Info("Cron scheduler started", "spec", s.spec)
}

// Stop halts ticking and waits for running invocations
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	slog.Info("Cron scheduler stopped")
}

// ScheduleNext registers the healthcheck for identifier if it is not
// registered yet
func (s *Scheduler) ScheduleNext(ctx context.Context, identifier string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[identifier]; ok {
		return nil
	}

	id, err := s.cron.AddFunc(s.spec, func() {
		if err := s.run(context.Background(), identifier); err != nil {
			slog.Error("Healthcheck run failed", "identifier", identifier, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("%w: cron spec %q: %v", errors.ErrInvalidConfig, s.spec, err)
	}

	s.entries[identifier] = id
	slog.Debug("Healthcheck scheduled", "identifier", identifier, "spec", s.spec)
	return nil
}

// Clear removes the healthcheck for identifier
func (s *Scheduler) Clear(ctx context.Context, identifier string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.entries[identifier]; ok {
		s.cron.Remove(id)
		delete(s.entries, identifier)
		slog.Debug("Healthcheck cleared", "identifier", identifier)
	}
	return nil
}

// Scheduled lists identifiers with a registered healthcheck
func (s *Scheduler) Scheduled() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	identifiers := make([]string, 0, len(s.entries))
	for identifier := range s.entries {
		identifiers = append(identifiers, identifier)
	}
	sort.Strings(identifiers)
	return identifiers
}
