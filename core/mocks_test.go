package core

import (
	"context"
	"sync"
	"time"

	"github.com/BranchIntl/couponqueue/item"
)

// Mock implementations for testing

// MockScheduler records re-arm requests
type MockScheduler struct {
	mu            sync.Mutex
	scheduled     []string
	cleared       []string
	scheduleError error
}

func NewMockScheduler() *MockScheduler {
	return &MockScheduler{}
}

func (m *MockScheduler) ScheduleNext(ctx context.Context, identifier string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.scheduleError != nil {
		return m.scheduleError
	}
	m.scheduled = append(m.scheduled, identifier)
	return nil
}

func (m *MockScheduler) Clear(ctx context.Context, identifier string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cleared = append(m.cleared, identifier)
	return nil
}

func (m *MockScheduler) SetScheduleError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scheduleError = err
}

func (m *MockScheduler) ScheduledCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.scheduled)
}

func (m *MockScheduler) ClearedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.cleared)
}

// MockStatistics records processor events
type MockStatistics struct {
	mu          sync.Mutex
	completed   int
	failed      int
	requeued    int
	invocations []string
	runs        []item.RunResult
}

func NewMockStatistics() *MockStatistics {
	return &MockStatistics{}
}

func (m *MockStatistics) RecordItemCompleted(identifier string, w item.WorkItem, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completed++
}

func (m *MockStatistics) RecordItemFailed(identifier string, w item.WorkItem, err error, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failed++
}

func (m *MockStatistics) RecordItemRequeued(identifier string, w item.WorkItem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requeued++
}

func (m *MockStatistics) RecordInvocation(identifier string, outcome string, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invocations = append(m.invocations, outcome)
}

func (m *MockStatistics) RecordRunCompleted(identifier string, result item.RunResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, result)
}

func (m *MockStatistics) Type() string { return "mock" }

func (m *MockStatistics) Runs() []item.RunResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]item.RunResult(nil), m.runs...)
}

func (m *MockStatistics) Invocations() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.invocations...)
}

// MockBudget reports the time budget exhausted once every exceedAfter
// checks. Zero never exhausts it.
type MockBudget struct {
	exceedAfter int
	checks      int
}

func (m *MockBudget) TimeExceeded() bool {
	m.checks++
	return m.exceedAfter > 0 && m.checks >= m.exceedAfter
}

func (m *MockBudget) MemoryExceeded() bool { return false }
