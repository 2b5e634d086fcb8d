package local

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduler_ScheduleNext(t *testing.T) {
	calls := make(chan string, 1)
	s := New(func(ctx context.Context, identifier string) error {
		calls <- identifier
		return nil
	}, 10*time.Millisecond)

	require.NoError(t, s.ScheduleNext(context.Background(), "wp_1"))
	assert.True(t, s.Pending("wp_1"))

	select {
	case id := <-calls:
		assert.Equal(t, "wp_1", id)
	case <-time.After(time.Second):
		t.Fatal("scheduled run did not fire")
	}
	s.Wait()
	assert.False(t, s.Pending("wp_1"))
}

func TestScheduler_ReplacesPendingTimer(t *testing.T) {
	var calls int32
	s := New(func(ctx context.Context, identifier string) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}, 20*time.Millisecond)

	for i := 0; i < 5; i++ {
		require.NoError(t, s.ScheduleNext(context.Background(), "wp_1"))
	}
	s.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestScheduler_Clear(t *testing.T) {
	var calls int32
	s := New(func(ctx context.Context, identifier string) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}, 50*time.Millisecond)

	require.NoError(t, s.ScheduleNext(context.Background(), "wp_1"))
	require.NoError(t, s.Clear(context.Background(), "wp_1"))
	s.Wait()

	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
	assert.False(t, s.Pending("wp_1"))
}

func TestScheduler_RearmFromRun(t *testing.T) {
	var (
		mu    sync.Mutex
		calls int
		s     *Scheduler
	)
	s = New(func(ctx context.Context, identifier string) error {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n < 3 {
			return s.ScheduleNext(ctx, identifier)
		}
		return fmt.Errorf("stop")
	}, time.Millisecond)

	require.NoError(t, s.ScheduleNext(context.Background(), "wp_1"))
	s.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, calls)
}

func TestScheduler_Close(t *testing.T) {
	s := New(func(ctx context.Context, identifier string) error { return nil }, time.Hour)

	require.NoError(t, s.ScheduleNext(context.Background(), "wp_1"))
	require.NoError(t, s.Close())
	assert.False(t, s.Pending("wp_1"))

	require.NoError(t, s.ScheduleNext(context.Background(), "wp_1"))
	assert.False(t, s.Pending("wp_1"))
}
