// Package budget decides, within one invocation, whether the processor may
// keep consuming work or must yield.
package budget

import (
	"math"
	"runtime"
	"runtime/debug"
	"runtime/metrics"
	"time"
)

const (
	// DefaultTimeLimit is the wall-clock ceiling of one invocation
	DefaultTimeLimit = 20 * time.Second

	// DefaultMemoryFactor is the share of the memory limit that may be used
	DefaultMemoryFactor = 0.9

	// FallbackMemoryLimit is used when no limit is configured and the
	// runtime soft limit is unbounded
	FallbackMemoryLimit int64 = 128 << 20
)

const heapMetric = "/memory/classes/heap/objects:bytes"

// Monitor reports whether the current invocation has exhausted its budget
type Monitor interface {
	TimeExceeded() bool
	MemoryExceeded() bool
}

// Limits configures a Budget. Zero values select defaults.
type Limits struct {
	TimeLimit    time.Duration
	TimeMargin   time.Duration
	MemoryLimit  int64
	MemoryFactor float64
}

// Budget is the runtime-backed Monitor
type Budget struct {
	limits  Limits
	started time.Time
	now     func() time.Time
	memory  func() uint64
	sample  []metrics.Sample
}

// New creates a budget and starts its clock
func New(limits Limits) *Budget {
	if limits.TimeLimit <= 0 {
		limits.TimeLimit = DefaultTimeLimit
	}
	if limits.MemoryFactor <= 0 || limits.MemoryFactor > 1 {
		limits.MemoryFactor = DefaultMemoryFactor
	}

	b := &Budget{
		limits: limits,
		now:    time.Now,
		sample: []metrics.Sample{{Name: heapMetric}},
	}
	b.memory = b.heapInUse
	b.Start()
	return b
}

// Start resets the invocation clock
func (b *Budget) Start() {
	b.started = b.now()
}

// TimeExceeded reports whether elapsed time passed the limit minus margin
func (b *Budget) TimeExceeded() bool {
	ceiling := b.limits.TimeLimit - b.limits.TimeMargin
	return b.now().Sub(b.started) >= ceiling
}

// MemoryExceeded reports whether heap usage passed limit × factor
func (b *Budget) MemoryExceeded() bool {
	allowed := float64(b.MemoryLimit()) * b.limits.MemoryFactor
	return float64(b.memory()) >= allowed
}

// MemoryLimit is the effective limit in bytes: the configured one, else the
// runtime soft limit, else FallbackMemoryLimit
func (b *Budget) MemoryLimit() int64 {
	if b.limits.MemoryLimit > 0 {
		return b.limits.MemoryLimit
	}
	if soft := debug.SetMemoryLimit(-1); soft > 0 && soft != math.MaxInt64 {
		return soft
	}
	return FallbackMemoryLimit
}

func (b *Budget) heapInUse() uint64 {
	metrics.Read(b.sample)
	if b.sample[0].Value.Kind() == metrics.KindUint64 {
		return b.sample[0].Value.Uint64()
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.HeapAlloc
}

// Unlimited never reports an exhausted budget
type Unlimited struct{}

func (Unlimited) TimeExceeded() bool   { return false }
func (Unlimited) MemoryExceeded() bool { return false }
