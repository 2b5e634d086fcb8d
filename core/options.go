package core

import (
	"time"

	"github.com/BranchIntl/couponqueue/budget"
	"github.com/BranchIntl/couponqueue/lock"
	"github.com/BranchIntl/couponqueue/results"
	"github.com/BranchIntl/couponqueue/statistics"
	"github.com/BranchIntl/couponqueue/statistics/noop"
)

// Config holds processor configuration
type Config struct {
	TimeLimit    time.Duration
	TimeMargin   time.Duration
	MemoryLimit  int64
	MemoryFactor float64
	StaleAfter   time.Duration

	budget   func() budget.Monitor
	now      func() time.Time
	stats    statistics.Statistics
	results  results.Registry
	observer BatchObserver
}

// ProcessorOption is a function that modifies processor configuration
type ProcessorOption func(*Config)

// defaultConfig returns default configuration
func defaultConfig() *Config {
	return &Config{
		TimeLimit:    budget.DefaultTimeLimit,
		MemoryFactor: budget.DefaultMemoryFactor,
		StaleAfter:   lock.DefaultStaleAfter,
		now:          time.Now,
		stats:        noop.NewStatistics(),
	}
}

// newBudget starts the monitor for one invocation
func (c *Config) newBudget() budget.Monitor {
	if c.budget != nil {
		return c.budget()
	}
	return budget.New(budget.Limits{
		TimeLimit:    c.TimeLimit,
		TimeMargin:   c.TimeMargin,
		MemoryLimit:  c.MemoryLimit,
		MemoryFactor: c.MemoryFactor,
	})
}

// WithTimeLimit sets the wall-clock budget of one invocation and the safety
// margin kept free at its end
func WithTimeLimit(limit, margin time.Duration) ProcessorOption {
	return func(c *Config) {
		c.TimeLimit = limit
		c.TimeMargin = margin
	}
}

// WithMemoryLimit sets the memory budget in bytes and the share of it that
// may be used. Zero keeps the defaults.
func WithMemoryLimit(limit int64, factor float64) ProcessorOption {
	return func(c *Config) {
		c.MemoryLimit = limit
		if factor > 0 {
			c.MemoryFactor = factor
		}
	}
}

// WithStaleAfter sets how old a lock must be before it is taken over
func WithStaleAfter(d time.Duration) ProcessorOption {
	return func(c *Config) {
		c.StaleAfter = d
	}
}

// WithBudget replaces the budget monitor built for every invocation
func WithBudget(factory func() budget.Monitor) ProcessorOption {
	return func(c *Config) {
		c.budget = factory
	}
}

// WithClock replaces time.Now for locks and progress counters
func WithClock(now func() time.Time) ProcessorOption {
	return func(c *Config) {
		c.now = now
	}
}

// WithStatistics sets the metrics sink
func WithStatistics(stats statistics.Statistics) ProcessorOption {
	return func(c *Config) {
		if stats != nil {
			c.stats = stats
		}
	}
}

// WithResults sets the registry completed runs merge their produced items
// into
func WithResults(r results.Registry) ProcessorOption {
	return func(c *Config) {
		c.results = r
	}
}

// WithBatchObserver registers a callback run after every item
func WithBatchObserver(fn BatchObserver) ProcessorOption {
	return func(c *Config) {
		c.observer = fn
	}
}
