package core

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/BranchIntl/couponqueue/budget"
	"github.com/BranchIntl/couponqueue/internal/storetest"
	"github.com/BranchIntl/couponqueue/item"
	"github.com/BranchIntl/couponqueue/registry"
	"github.com/BranchIntl/couponqueue/results"
	"github.com/BranchIntl/couponqueue/store/memory"
	"github.com/stretchr/testify/require"
)

const testIdentifier = "wc_sc_coupon_importer"

// TestSetup provides common test dependencies
type TestSetup struct {
	Store     *storetest.FailingStore
	Registry  *registry.Registry
	Scheduler *MockScheduler
	Stats     *MockStatistics
	Results   *results.Store
	Coupons   *CouponRecorder
}

// NewTestSetup creates a standard test setup with all mocks
func NewTestSetup(t *testing.T) *TestSetup {
	t.Helper()

	// Set up a quiet logger for tests to avoid noise
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
	slog.SetDefault(logger)

	s := storetest.Wrap(memory.NewStore())
	setup := &TestSetup{
		Store:     s,
		Registry:  registry.NewRegistry(),
		Scheduler: NewMockScheduler(),
		Stats:     NewMockStatistics(),
		Results:   results.NewStore(s, "display_coupons"),
		Coupons:   &CouponRecorder{},
	}
	require.NoError(t, setup.Registry.RegisterHandler("Coupons", setup.Coupons.Handler()))
	return setup
}

// NewProcessor builds a processor over the setup's dependencies
func (s *TestSetup) NewProcessor(t *testing.T, options ...ProcessorOption) *Processor {
	t.Helper()

	defaults := []ProcessorOption{
		WithStatistics(s.Stats),
		WithResults(s.Results),
		WithBudget(func() budget.Monitor { return budget.Unlimited{} }),
	}
	p, err := NewProcessor(testIdentifier, s.Store, s.Registry, s.Scheduler, append(defaults, options...)...)
	require.NoError(t, err)
	return p
}

// ExceedAfter makes every invocation yield after n items
func ExceedAfter(n int) ProcessorOption {
	return WithBudget(func() budget.Monitor { return &MockBudget{exceedAfter: n} })
}

// ContextWithTimeout creates a context with standard timeout for tests
func ContextWithTimeout(t *testing.T) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), time.Second)
}

// Coupons builds n generate items with codes C1..Cn
func Coupons(n int) []item.WorkItem {
	items := make([]item.WorkItem, n)
	for i := range items {
		items[i] = item.New("Coupons", "Generate", fmt.Sprintf("C%d", i+1))
	}
	return items
}

// CouponRecorder is a fake coupon handler recording every call. Codes
// listed in failing make Generate return an error.
type CouponRecorder struct {
	mu      sync.Mutex
	calls   []string
	failing map[string]bool
	block   chan struct{}
	started chan struct{}
}

func (c *CouponRecorder) FailOn(codes ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failing == nil {
		c.failing = make(map[string]bool)
	}
	for _, code := range codes {
		c.failing[code] = true
	}
}

// BlockNext makes the next Generate call signal started and wait for
// release to be closed
func (c *CouponRecorder) BlockNext() (started <-chan struct{}, release chan<- struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = make(chan struct{})
	c.block = make(chan struct{})
	return c.started, c.block
}

func (c *CouponRecorder) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

func (c *CouponRecorder) Handler() registry.Handler {
	return registry.Methods{
		"Generate": func(ctx context.Context, args ...any) (any, error) {
			code := fmt.Sprint(args[0])

			c.mu.Lock()
			c.calls = append(c.calls, code)
			fail := c.failing[code]
			started, block := c.started, c.block
			c.started, c.block = nil, nil
			c.mu.Unlock()

			if started != nil {
				close(started)
				<-block
			}
			if fail {
				return nil, fmt.Errorf("coupon %s already exists", code)
			}
			return code, nil
		},
		"Retry": func(ctx context.Context, args ...any) (any, error) {
			c.mu.Lock()
			c.calls = append(c.calls, "retry")
			c.mu.Unlock()
			return item.New("Coupons", "Generate", args...), nil
		},
	}
}
