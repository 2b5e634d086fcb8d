package progress

import (
	"context"
	"testing"
	"time"

	"github.com/BranchIntl/couponqueue/internal/storetest"
	"github.com/BranchIntl/couponqueue/item"
	"github.com/BranchIntl/couponqueue/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTracker(t *testing.T) (*Tracker, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	return New(memory.NewStore(), "wp_1", WithClock(clock.Now)), clock
}

func int64Ptr(v int64) *int64 { return &v }

func TestCompute(t *testing.T) {
	start := time.Unix(1_700_000_000, 0)

	tests := []struct {
		name     string
		state    State
		expected Progress
	}{
		{
			name:     "unset counters",
			state:    State{},
			expected: Progress{},
		},
		{
			name:     "no progress yet omits eta",
			state:    State{StartTime: start, CurrentTime: start.Add(5 * time.Second), All: 100, Remaining: 100},
			expected: Progress{PercentCompletion: 0},
		},
		{
			name:     "quarter done after ten seconds",
			state:    State{StartTime: start, CurrentTime: start.Add(10 * time.Second), All: 100, Remaining: 75},
			expected: Progress{PercentCompletion: 25, RemainingSeconds: int64Ptr(30)},
		},
		{
			name:     "one third done",
			state:    State{StartTime: start, CurrentTime: start.Add(10 * time.Second), All: 3, Remaining: 2},
			expected: Progress{PercentCompletion: 100.0 / 3, RemainingSeconds: int64Ptr(20)},
		},
		{
			name:     "fractional eta rounds up",
			state:    State{StartTime: start, CurrentTime: start.Add(5 * time.Second), All: 3, Remaining: 1},
			expected: Progress{PercentCompletion: 200.0 / 3, RemainingSeconds: int64Ptr(3)},
		},
		{
			name:     "finished",
			state:    State{StartTime: start, CurrentTime: start.Add(7 * time.Second), All: 5, Remaining: 0},
			expected: Progress{PercentCompletion: 100, RemainingSeconds: int64Ptr(0)},
		},
		{
			name:     "missing times omit eta",
			state:    State{All: 10, Remaining: 5},
			expected: Progress{PercentCompletion: 50},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Compute(tt.state)
			assert.InDelta(t, tt.expected.PercentCompletion, got.PercentCompletion, 1e-9)
			assert.Equal(t, tt.expected.RemainingSeconds, got.RemainingSeconds)
		})
	}
}

func TestTracker_ETAExample(t *testing.T) {
	ctx := context.Background()
	tracker, clock := newTracker(t)

	started, err := tracker.Begin(ctx, 100)
	require.NoError(t, err)
	assert.True(t, started)

	clock.Advance(10 * time.Second)
	require.NoError(t, tracker.Heartbeat(ctx, 75))

	p, err := tracker.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, 25.0, p.PercentCompletion)
	require.NotNil(t, p.RemainingSeconds)
	assert.Equal(t, int64(30), *p.RemainingSeconds)
}

func TestTracker_BeginOnlyOnce(t *testing.T) {
	ctx := context.Background()
	tracker, clock := newTracker(t)

	_, err := tracker.Begin(ctx, 10)
	require.NoError(t, err)
	require.NoError(t, tracker.Heartbeat(ctx, 4))

	clock.Advance(time.Minute)
	started, err := tracker.Begin(ctx, 4)
	require.NoError(t, err)
	assert.False(t, started)

	s, err := tracker.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(10), s.All)
	assert.Equal(t, int64(4), s.Remaining)
	assert.Equal(t, int64(6), s.Successful())
	assert.Equal(t, time.Unix(1_700_000_000, 0), s.StartTime)
	assert.True(t, s.Started())
}

func TestTracker_ActionAndReset(t *testing.T) {
	ctx := context.Background()
	tracker, _ := newTracker(t)

	action, err := tracker.Action(ctx)
	require.NoError(t, err)
	assert.Equal(t, item.Action(""), action)

	require.NoError(t, tracker.SetAction(ctx, item.ActionImportEmail))
	_, err = tracker.Begin(ctx, 3)
	require.NoError(t, err)

	s, err := tracker.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, item.ActionImportEmail, s.Action)

	require.NoError(t, tracker.Reset(ctx))
	s, err = tracker.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, State{}, s)
	assert.False(t, s.Started())

	p, err := tracker.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, Progress{}, p)
}

func TestTracker_StoreFailure(t *testing.T) {
	ctx := context.Background()
	s := storetest.Wrap(memory.NewStore())
	tracker := New(s, "wp_1")

	s.Fail("get")
	_, err := tracker.Get(ctx)
	assert.ErrorIs(t, err, storetest.ErrInjected)

	_, err = tracker.Begin(ctx, 1)
	assert.ErrorIs(t, err, storetest.ErrInjected)
}
