// Package schedulers defines how a processor asks to be invoked again.
// When an invocation yields with work left it emits a re-arm request;
// the implementations in the subpackages turn that request into a later
// call of the processor.
package schedulers

import "context"

// Scheduler is the sink for re-arm requests
type Scheduler interface {
	// ScheduleNext causes another invocation for identifier within a
	// bounded delay
	ScheduleNext(ctx context.Context, identifier string) error

	// Clear drops any pending invocation for identifier
	Clear(ctx context.Context, identifier string) error
}

// RunFunc performs one invocation of the processor for identifier
type RunFunc func(ctx context.Context, identifier string) error

// Noop discards every request. Runs then advance only when triggered
// externally.
type Noop struct{}

func (Noop) ScheduleNext(ctx context.Context, identifier string) error { return nil }
func (Noop) Clear(ctx context.Context, identifier string) error        { return nil }
