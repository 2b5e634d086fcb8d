package cron

import (
	"context"
	"testing"
	"time"

	"github.com/BranchIntl/couponqueue/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduler_ScheduleNextAndClear(t *testing.T) {
	ctx := context.Background()
	s := New(func(ctx context.Context, identifier string) error { return nil })

	require.NoError(t, s.ScheduleNext(ctx, "wp_1"))
	require.NoError(t, s.ScheduleNext(ctx, "wp_1"))
	require.NoError(t, s.ScheduleNext(ctx, "wp_2"))
	assert.Equal(t, []string{"wp_1", "wp_2"}, s.Scheduled())
	assert.Len(t, s.cron.Entries(), 2)

	require.NoError(t, s.Clear(ctx, "wp_1"))
	require.NoError(t, s.Clear(ctx, "missing"))
	assert.Equal(t, []string{"wp_2"}, s.Scheduled())
	assert.Len(t, s.cron.Entries(), 1)
}

func TestScheduler_InvalidSpec(t *testing.T) {
	s := New(func(ctx context.Context, identifier string) error { return nil }, WithSpec("not a spec"))

	assert.ErrorIs(t, s.Validate(), errors.ErrInvalidConfig)
	assert.ErrorIs(t, s.ScheduleNext(context.Background(), "wp_1"), errors.ErrInvalidConfig)
	assert.Empty(t, s.Scheduled())
}

func TestScheduler_Ticks(t *testing.T) {
	calls := make(chan string, 4)
	s := New(func(ctx context.Context, identifier string) error {
		select {
		case calls <- identifier:
		default:
		}
		return nil
	}, WithSpec("@every 1s"))
	require.NoError(t, s.Validate())

	require.NoError(t, s.ScheduleNext(context.Background(), "wp_1"))
	s.Start()
	defer s.Stop()

	select {
	case id := <-calls:
		assert.Equal(t, "wp_1", id)
	case <-time.After(3 * time.Second):
		t.Fatal("healthcheck did not fire")
	}
}
