package couponqueue

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/BranchIntl/couponqueue/config"
	"github.com/BranchIntl/couponqueue/core"
	"github.com/BranchIntl/couponqueue/errors"
	"github.com/BranchIntl/couponqueue/item"
	"github.com/BranchIntl/couponqueue/registry"
	"github.com/BranchIntl/couponqueue/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type couponSink struct {
	mu    sync.Mutex
	codes []string
}

func (c *couponSink) handlers(t *testing.T) *registry.Registry {
	t.Helper()
	r := registry.NewRegistry()
	require.NoError(t, r.RegisterHandler("CouponGenerator", registry.Methods{
		"Generate": func(ctx context.Context, args ...any) (any, error) {
			code := fmt.Sprint(args[0])
			c.mu.Lock()
			c.codes = append(c.codes, code)
			c.mu.Unlock()
			return code, nil
		},
	}))
	return r
}

func (c *couponSink) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.codes)
}

func coupons(n int) []item.WorkItem {
	items := make([]item.WorkItem, n)
	for i := range items {
		items[i] = item.New("CouponGenerator", "Generate", fmt.Sprintf("CODE%02d", i))
	}
	return items
}

func testConfig(scheduler string) *config.Config {
	cfg := config.Default()
	cfg.Scheduler.Type = scheduler
	cfg.Scheduler.Delay = config.Duration{Duration: 10 * time.Millisecond}
	return cfg
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Store.Type = "cassandra"

	_, err := New(context.Background(), cfg, registry.NewRegistry())
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
}

func TestNew_InvalidCronSpec(t *testing.T) {
	cfg := testConfig("cron")
	cfg.Scheduler.CronSpec = "every so often"

	_, err := New(context.Background(), cfg, registry.NewRegistry())
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
}

func TestService_RunWithoutScheduler(t *testing.T) {
	ctx := context.Background()
	sink := &couponSink{}

	svc, err := New(ctx, testConfig("none"), sink.handlers(t))
	require.NoError(t, err)
	defer svc.Close()

	require.NoError(t, svc.Processor().Dispatch(ctx, item.ActionGenerate, coupons(3)...))

	outcome, err := svc.Processor().Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, core.OutcomeCompleted, outcome)
	assert.Equal(t, 3, sink.count())

	result, err := svc.Processor().ConsumeResult(ctx)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, int64(3), result.Successful)
}

func TestService_LocalSchedulerDrainsInBackground(t *testing.T) {
	ctx := context.Background()
	sink := &couponSink{}

	svc, err := New(ctx, testConfig("local"), sink.handlers(t))
	require.NoError(t, err)
	defer svc.Close()

	require.NoError(t, svc.Processor().Dispatch(ctx, item.ActionGenerate, coupons(5)...))

	require.Eventually(t, func() bool {
		running, err := svc.Processor().IsRunning(ctx)
		return err == nil && !running
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 5, sink.count())
}

func TestService_WorkResumesLeftoverRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sink := &couponSink{}

	svc, err := New(ctx, testConfig("none"), sink.handlers(t))
	require.NoError(t, err)
	defer svc.Close()

	require.NoError(t, svc.Processor().Dispatch(ctx, item.ActionImport, coupons(4)...))

	done := make(chan error, 1)
	go func() { done <- svc.Work(ctx) }()

	require.Eventually(t, func() bool { return sink.count() == 4 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	assert.NoError(t, <-done)
}

func TestService_LocalSchedulerRecoversCrashedRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sink := &couponSink{}

	cfg := testConfig("none")
	cfg.Store.Type = "sqlite"
	cfg.Store.Path = filepath.Join(t.TempDir(), "couponqueue.db")
	cfg.Processor.TimeLimit = config.Duration{Duration: 100 * time.Millisecond}
	cfg.Processor.StaleAfter = config.Duration{Duration: 300 * time.Millisecond}

	// a worker dispatched the run and died holding the lock
	crashed, err := New(ctx, cfg, sink.handlers(t))
	require.NoError(t, err)
	require.NoError(t, crashed.Processor().Dispatch(ctx, item.ActionGenerate, coupons(5)...))
	lockedAt := []byte(strconv.FormatInt(time.Now().UnixNano(), 10))
	require.NoError(t, crashed.Store().Set(ctx, store.Key(cfg.Processor.Identifier, "process_lock"), lockedAt))
	require.NoError(t, crashed.Close())

	cfg.Scheduler.Type = "local"
	svc, err := New(ctx, cfg, sink.handlers(t))
	require.NoError(t, err)
	defer svc.Close()

	done := make(chan error, 1)
	go func() { done <- svc.Work(ctx) }()

	require.Eventually(t, func() bool {
		running, err := svc.Processor().IsRunning(ctx)
		return err == nil && !running && sink.count() == 5
	}, 3*time.Second, 20*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}

func TestService_IgnoresForeignIdentifier(t *testing.T) {
	ctx := context.Background()
	sink := &couponSink{}

	svc, err := New(ctx, testConfig("none"), sink.handlers(t))
	require.NoError(t, err)
	defer svc.Close()

	require.NoError(t, svc.Processor().Dispatch(ctx, item.ActionGenerate, coupons(2)...))
	require.NoError(t, svc.run(ctx, "someone_else"))
	assert.Equal(t, 0, sink.count())

	require.NoError(t, svc.run(ctx, svc.Processor().Identifier()))
	assert.Equal(t, 2, sink.count())
}

func TestService_Router(t *testing.T) {
	ctx := context.Background()
	sink := &couponSink{}

	svc, err := New(ctx, testConfig("none"), sink.handlers(t))
	require.NoError(t, err)
	defer svc.Close()

	require.NoError(t, svc.Processor().Dispatch(ctx, item.ActionGenerate, coupons(1)...))
	_, err = svc.Processor().Run(ctx)
	require.NoError(t, err)

	router := svc.Router()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "couponqueue_invocations_total")

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestService_MetricsDisabled(t *testing.T) {
	cfg := testConfig("none")
	cfg.HTTP.Metrics = false

	svc, err := New(context.Background(), cfg, registry.NewRegistry())
	require.NoError(t, err)
	defer svc.Close()

	assert.Nil(t, svc.Metrics())

	rec := httptest.NewRecorder()
	svc.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestService_CloseIsIdempotent(t *testing.T) {
	svc, err := New(context.Background(), testConfig("local"), registry.NewRegistry())
	require.NoError(t, err)

	assert.NoError(t, svc.Close())
	assert.NoError(t, svc.Close())
}

func TestNew_StatisticsConnectFailure(t *testing.T) {
	cfg := testConfig("none")
	cfg.Statistics.RedisURL = "http://localhost:6379"

	_, err := New(context.Background(), cfg, registry.NewRegistry())
	var connErr *errors.ConnectionError
	assert.ErrorAs(t, err, &connErr)
}

func TestService_CronHealthcheckSurvivesCompletion(t *testing.T) {
	ctx := context.Background()
	sink := &couponSink{}

	svc, err := New(ctx, testConfig("cron"), sink.handlers(t))
	require.NoError(t, err)
	defer svc.Close()

	require.NoError(t, svc.Processor().Dispatch(ctx, item.ActionGenerate, coupons(2)...))
	outcome, err := svc.Processor().Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, core.OutcomeCompleted, outcome)

	assert.Equal(t, []string{svc.Processor().Identifier()}, svc.cron.Scheduled())
}
