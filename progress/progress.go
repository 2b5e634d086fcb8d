// Package progress persists the counters of an active run and derives the
// completion percentage and remaining time shown to operators.
package progress

import (
	"context"
	"math"
	"strconv"
	"time"

	"github.com/BranchIntl/couponqueue/errors"
	"github.com/BranchIntl/couponqueue/item"
	"github.com/BranchIntl/couponqueue/store"
)

const (
	keyStartTime = "start_time"
	keyCurrent   = "current_time"
	keyAll       = "all_tasks_count"
	keyRemaining = "remaining_tasks_count"
	keyAction    = "bulk_action"
)

// State is the raw counter set of one run. Zero values mean unset.
type State struct {
	StartTime   time.Time
	CurrentTime time.Time
	All         int64
	Remaining   int64
	Action      item.Action
}

// Started reports whether the run has pulled its first batch
func (s State) Started() bool {
	return s.All > 0
}

// Successful is the number of items that left the queue
func (s State) Successful() int64 {
	return s.All - s.Remaining
}

// Progress is the derived view of a State
type Progress struct {
	PercentCompletion float64 `json:"percent_completion"`
	RemainingSeconds  *int64  `json:"total_seconds,omitempty"`
}

// Tracker reads and writes the counters of one processor identifier
type Tracker struct {
	store      store.Store
	identifier string
	now        func() time.Time
}

// Option configures a Tracker
type Option func(*Tracker)

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		t.now = now
	}
}

// New creates a tracker
func New(s store.Store, identifier string, opts ...Option) *Tracker {
	t := &Tracker{
		store:      s,
		identifier: identifier,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Begin records the start of a run the first time a batch is pulled. It is
// a no-op once the run has started and reports whether it wrote anything.
func (t *Tracker) Begin(ctx context.Context, count int) (bool, error) {
	_, err := t.store.Get(ctx, t.key(keyStartTime))
	if err == nil {
		return false, nil
	}
	if !errors.IsNotFound(err) {
		return false, err
	}

	now := t.now().Unix()
	if err := t.setInt(ctx, keyStartTime, now); err != nil {
		return false, err
	}
	if err := t.setInt(ctx, keyCurrent, now); err != nil {
		return false, err
	}
	if err := t.setInt(ctx, keyAll, int64(count)); err != nil {
		return false, err
	}
	return true, t.setInt(ctx, keyRemaining, int64(count))
}

// Heartbeat records the live remaining count after an item
func (t *Tracker) Heartbeat(ctx context.Context, remaining int) error {
	if err := t.setInt(ctx, keyCurrent, t.now().Unix()); err != nil {
		return err
	}
	return t.setInt(ctx, keyRemaining, int64(remaining))
}

// SetAction tags the run with what it is doing
func (t *Tracker) SetAction(ctx context.Context, action item.Action) error {
	return t.store.Set(ctx, t.key(keyAction), []byte(action))
}

// Action returns the run's tag, or "" when none is set
func (t *Tracker) Action(ctx context.Context) (item.Action, error) {
	data, err := t.store.Get(ctx, t.key(keyAction))
	if errors.IsNotFound(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return item.Action(data), nil
}

// State reads all counters
func (t *Tracker) State(ctx context.Context) (State, error) {
	var (
		s   State
		err error
	)

	start, err := t.getInt(ctx, keyStartTime)
	if err != nil {
		return State{}, err
	}
	current, err := t.getInt(ctx, keyCurrent)
	if err != nil {
		return State{}, err
	}
	if start > 0 {
		s.StartTime = time.Unix(start, 0)
	}
	if current > 0 {
		s.CurrentTime = time.Unix(current, 0)
	}

	if s.All, err = t.getInt(ctx, keyAll); err != nil {
		return State{}, err
	}
	if s.Remaining, err = t.getInt(ctx, keyRemaining); err != nil {
		return State{}, err
	}
	if s.Action, err = t.Action(ctx); err != nil {
		return State{}, err
	}
	return s, nil
}

// Get derives percentage and ETA from the stored counters
func (t *Tracker) Get(ctx context.Context) (Progress, error) {
	s, err := t.State(ctx)
	if err != nil {
		return Progress{}, err
	}
	return Compute(s), nil
}

// Compute derives the progress of s. The ETA extrapolates elapsed time per
// percent linearly and is omitted until some progress was made.
func Compute(s State) Progress {
	if s.All <= 0 {
		return Progress{}
	}

	p := Progress{
		PercentCompletion: float64(s.All-s.Remaining) * 100 / float64(s.All),
	}
	if p.PercentCompletion <= 0 || s.StartTime.IsZero() || s.CurrentTime.IsZero() {
		return p
	}

	elapsed := s.CurrentTime.Sub(s.StartTime).Seconds()
	remaining := int64(math.Ceil(elapsed / p.PercentCompletion * (100 - p.PercentCompletion)))
	p.RemainingSeconds = &remaining
	return p
}

// Reset deletes all counters
func (t *Tracker) Reset(ctx context.Context) error {
	return t.store.Delete(ctx,
		t.key(keyStartTime),
		t.key(keyCurrent),
		t.key(keyAll),
		t.key(keyRemaining),
		t.key(keyAction),
	)
}

func (t *Tracker) key(name string) string {
	return store.Key(t.identifier, name)
}

func (t *Tracker) setInt(ctx context.Context, name string, v int64) error {
	return t.store.Set(ctx, t.key(name), []byte(strconv.FormatInt(v, 10)))
}

// getInt returns 0 for absent or unparsable counters
func (t *Tracker) getInt(ctx context.Context, name string) (int64, error) {
	data, err := t.store.Get(ctx, t.key(name))
	if errors.IsNotFound(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	v, perr := strconv.ParseInt(string(data), 10, 64)
	if perr != nil {
		return 0, nil
	}
	return v, nil
}
