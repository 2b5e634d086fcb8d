// Package statistics defines the metrics sink the batch processor reports
// to. Implementations live in the subpackages.
package statistics

import (
	"strings"
	"time"

	"github.com/BranchIntl/couponqueue/item"
)

// Statistics receives processor events
type Statistics interface {
	// Work item metrics
	RecordItemCompleted(identifier string, w item.WorkItem, duration time.Duration)
	RecordItemFailed(identifier string, w item.WorkItem, err error, duration time.Duration)
	RecordItemRequeued(identifier string, w item.WorkItem)

	// Invocation and run metrics
	RecordInvocation(identifier string, outcome string, duration time.Duration)
	RecordRunCompleted(identifier string, result item.RunResult)

	Type() string
}

// Multi fans every event out to each backend in order
type Multi []Statistics

func (m Multi) RecordItemCompleted(identifier string, w item.WorkItem, duration time.Duration) {
	for _, s := range m {
		s.RecordItemCompleted(identifier, w, duration)
	}
}

func (m Multi) RecordItemFailed(identifier string, w item.WorkItem, err error, duration time.Duration) {
	for _, s := range m {
		s.RecordItemFailed(identifier, w, err, duration)
	}
}

func (m Multi) RecordItemRequeued(identifier string, w item.WorkItem) {
	for _, s := range m {
		s.RecordItemRequeued(identifier, w)
	}
}

func (m Multi) RecordInvocation(identifier string, outcome string, duration time.Duration) {
	for _, s := range m {
		s.RecordInvocation(identifier, outcome, duration)
	}
}

func (m Multi) RecordRunCompleted(identifier string, result item.RunResult) {
	for _, s := range m {
		s.RecordRunCompleted(identifier, result)
	}
}

// Type joins the backend types with "+"
func (m Multi) Type() string {
	types := make([]string, len(m))
	for i, s := range m {
		types[i] = s.Type()
	}
	return strings.Join(types, "+")
}
