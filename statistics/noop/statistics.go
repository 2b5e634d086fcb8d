package noop

import (
	"time"

	"github.com/BranchIntl/couponqueue/item"
)

// NoOpStatistics implements the Statistics interface with no-op operations
type NoOpStatistics struct{}

// NewStatistics creates a new no-op statistics backend
func NewStatistics() *NoOpStatistics {
	return &NoOpStatistics{}
}

// Type returns the statistics backend type
func (n *NoOpStatistics) Type() string {
	return "noop"
}

func (n *NoOpStatistics) RecordItemCompleted(identifier string, w item.WorkItem, duration time.Duration) {
}

func (n *NoOpStatistics) RecordItemFailed(identifier string, w item.WorkItem, err error, duration time.Duration) {
}

func (n *NoOpStatistics) RecordItemRequeued(identifier string, w item.WorkItem) {}

func (n *NoOpStatistics) RecordInvocation(identifier string, outcome string, duration time.Duration) {
}

func (n *NoOpStatistics) RecordRunCompleted(identifier string, result item.RunResult) {}
