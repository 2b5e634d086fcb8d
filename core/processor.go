// Package core drives a resumable batch run. A Processor owns one
// identifier: each call to Run is one invocation that drains queued work
// items until its budget is spent, then either asks to be invoked again or
// finalizes the run.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BranchIntl/couponqueue/dispatch"
	"github.com/BranchIntl/couponqueue/errors"
	"github.com/BranchIntl/couponqueue/item"
	"github.com/BranchIntl/couponqueue/lock"
	"github.com/BranchIntl/couponqueue/progress"
	"github.com/BranchIntl/couponqueue/queue"
	"github.com/BranchIntl/couponqueue/results"
	"github.com/BranchIntl/couponqueue/schedulers"
	"github.com/BranchIntl/couponqueue/store"
)

// Processor is the batch processor for one identifier
type Processor struct {
	identifier string
	store      store.Store
	scheduler  schedulers.Scheduler
	config     *Config

	queue      *queue.Queue
	locks      *lock.Manager
	progress   *progress.Tracker
	dispatcher *dispatch.Dispatcher
	results    results.Registry

	mu      sync.Mutex
	pending []item.WorkItem
}

// NewProcessor creates a processor with dependency injection
func NewProcessor(
	identifier string,
	s store.Store,
	registry Registry,
	scheduler schedulers.Scheduler,
	options ...ProcessorOption,
) (*Processor, error) {
	if identifier == "" {
		return nil, errors.ErrEmptyIdentifier
	}

	config := defaultConfig()
	for _, opt := range options {
		opt(config)
	}
	if scheduler == nil {
		scheduler = schedulers.Noop{}
	}
	if config.results == nil {
		config.results = results.NewStore(s, results.DefaultKey)
	}

	return &Processor{
		identifier: identifier,
		store:      s,
		scheduler:  scheduler,
		config:     config,
		queue:      queue.New(s, identifier),
		locks:      lock.NewManager(s, lock.WithStaleAfter(config.StaleAfter), lock.WithClock(config.now)),
		progress:   progress.New(s, identifier, progress.WithClock(config.now)),
		dispatcher: dispatch.New(identifier, s, registry, config.stats),
		results:    config.results,
	}, nil
}

// Identifier returns the processor identifier
func (p *Processor) Identifier() string {
	return p.identifier
}

// Run performs one invocation. Another active invocation yields
// OutcomeLocked and an empty queue yields OutcomeIdle; neither is an
// error. The error is non-nil only for store failures, which leave the
// queue as it was after the last processed item.
func (p *Processor) Run(ctx context.Context) (Outcome, error) {
	start := time.Now()

	outcome, processed, err := p.run(ctx)
	if err != nil {
		outcome = OutcomeFailed
		slog.Error("Invocation failed", "identifier", p.identifier, "processed", processed, "error", err)
	} else {
		slog.Info("Invocation finished", "identifier", p.identifier, "outcome", outcome.String(), "processed", processed)
	}

	p.config.stats.RecordInvocation(p.identifier, outcome.String(), time.Since(start))
	return outcome, err
}

func (p *Processor) run(ctx context.Context) (Outcome, int, error) {
	var (
		processed int
		empty     bool
		completed bool
	)

	// finalizing happens under the lock so a run completes at most once;
	// re-arming happens after release so the next invocation can acquire it
	acquired, err := p.withLock(ctx, func() error {
		var err error
		if processed, err = p.drain(ctx); err != nil {
			return err
		}
		if empty, err = p.queue.IsEmpty(ctx); err != nil || !empty {
			return err
		}
		completed, err = p.complete(ctx)
		return err
	})
	if err != nil {
		return OutcomeFailed, processed, err
	}
	if !acquired {
		return OutcomeLocked, 0, nil
	}

	if !empty {
		if err := p.scheduler.ScheduleNext(ctx, p.identifier); err != nil {
			return OutcomeFailed, processed, fmt.Errorf("schedule next invocation: %w", err)
		}
		return OutcomeRearmed, processed, nil
	}
	if completed {
		return OutcomeCompleted, processed, nil
	}
	return OutcomeIdle, processed, nil
}

// withLock runs fn while holding the process lock. The lock is released on
// every exit path.
func (p *Processor) withLock(ctx context.Context, fn func() error) (acquired bool, err error) {
	lease, err := p.locks.TryLock(ctx, p.identifier)
	if err != nil || lease == nil {
		return false, err
	}

	defer func() {
		// the caller's context may already be cancelled
		if releaseErr := p.locks.Release(context.WithoutCancel(ctx), lease); releaseErr != nil {
			slog.Error("Failed to release process lock", "identifier", p.identifier, "error", releaseErr)
			if err == nil {
				err = releaseErr
			}
		}
	}()

	return true, fn()
}

// drain processes items until the queue is empty, the budget is spent or
// ctx is done. The shrinking batch is persisted after every item.
func (p *Processor) drain(ctx context.Context) (int, error) {
	monitor := p.config.newBudget()
	processed := 0

	for {
		batch, err := p.queue.NextBatch(ctx)
		if err != nil {
			return processed, err
		}
		if batch == nil {
			return processed, nil
		}

		if _, err := p.progress.Begin(ctx, batch.Len()); err != nil {
			return processed, err
		}
		if batch.Len() == 0 {
			if err := p.queue.Delete(ctx, batch.Key); err != nil {
				return processed, err
			}
			continue
		}

		// one pass over the batch; re-queued items are revisited on the
		// next pass
		i := 0
		for i < len(batch.Items) {
			next, err := p.dispatcher.Task(ctx, batch.Items[i])
			if err != nil {
				return processed, err
			}
			processed++

			if next != nil {
				batch.Items[i] = *next
				i++
			} else {
				batch.Items = append(batch.Items[:i], batch.Items[i+1:]...)
			}

			if err := p.queue.Update(ctx, batch.Key, batch.Items); err != nil {
				return processed, err
			}
			if err := p.progress.Heartbeat(ctx, len(batch.Items)); err != nil {
				return processed, err
			}
			if p.config.observer != nil {
				p.config.observer(p.identifier, len(batch.Items))
			}

			if monitor.TimeExceeded() || monitor.MemoryExceeded() {
				slog.Info("Invocation budget exhausted", "identifier", p.identifier,
					"processed", processed, "remaining", len(batch.Items))
				return processed, nil
			}
			if ctx.Err() != nil {
				slog.Info("Invocation cancelled", "identifier", p.identifier, "processed", processed)
				return processed, nil
			}
		}
	}
}

// Push buffers items for the next Dispatch
func (p *Processor) Push(items ...item.WorkItem) *Processor {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.pending = append(p.pending, items...)
	return p
}

// Dispatch starts a run: the pushed items plus items are saved as one batch
// tagged with action, and the first invocation is scheduled. It fails with
// ErrProcessRunning while an earlier run is still active.
func (p *Processor) Dispatch(ctx context.Context, action item.Action, items ...item.WorkItem) error {
	if !action.Valid() {
		return fmt.Errorf("%w: %q", errors.ErrUnknownAction, action)
	}

	p.mu.Lock()
	pushed := len(p.pending)
	batch := append(append([]item.WorkItem(nil), p.pending...), items...)
	p.mu.Unlock()
	if len(batch) == 0 {
		return errors.ErrNoItems
	}

	acquired, err := p.withLock(ctx, func() error {
		empty, err := p.queue.IsEmpty(ctx)
		if err != nil {
			return err
		}
		if !empty {
			return errors.ErrProcessRunning
		}

		// a run whose last invocation died between draining and finalizing
		if _, err := p.complete(ctx); err != nil {
			return err
		}

		if err := p.progress.SetAction(ctx, action); err != nil {
			return err
		}
		key, err := p.queue.Save(ctx, batch)
		if err != nil {
			return err
		}
		slog.Info("Run dispatched", "identifier", p.identifier, "action", string(action),
			"items", len(batch), "batch", key)
		return nil
	})
	if err != nil {
		return err
	}
	if !acquired {
		return errors.ErrProcessRunning
	}

	p.mu.Lock()
	p.pending = p.pending[pushed:]
	p.mu.Unlock()

	return p.scheduler.ScheduleNext(ctx, p.identifier)
}

// IsRunning reports whether a run is active: an invocation holds the lock
// or work is still queued
func (p *Processor) IsRunning(ctx context.Context) (bool, error) {
	locked, err := p.locks.IsLocked(ctx, p.identifier)
	if err != nil || locked {
		return locked, err
	}

	empty, err := p.queue.IsEmpty(ctx)
	if err != nil {
		return false, err
	}
	return !empty, nil
}

// Progress returns completion percentage and ETA of the active run
func (p *Processor) Progress(ctx context.Context) (progress.Progress, error) {
	return p.progress.Get(ctx)
}

// Status summarizes the active run
func (p *Processor) Status(ctx context.Context) (Status, error) {
	locked, err := p.locks.IsLocked(ctx, p.identifier)
	if err != nil {
		return Status{}, err
	}
	queued, err := p.queue.Len(ctx)
	if err != nil {
		return Status{}, err
	}
	state, err := p.progress.State(ctx)
	if err != nil {
		return Status{}, err
	}

	return Status{
		Identifier: p.identifier,
		Running:    locked || queued > 0,
		Locked:     locked,
		Queued:     queued,
		Action:     state.Action,
		Progress:   progress.Compute(state),
	}, nil
}

// ConsumeResult returns the summary of the last completed run and clears
// it, so it is shown once. It returns nil when there is none.
func (p *Processor) ConsumeResult(ctx context.Context) (*item.RunResult, error) {
	key := p.resultKey()

	data, err := p.store.Get(ctx, key)
	if errors.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := p.store.Delete(ctx, key); err != nil {
		return nil, err
	}

	result, err := item.DecodeResult(data)
	if err != nil {
		return nil, errors.NewStoreError("decode_result", key, err)
	}
	return &result, nil
}

// Cancel abandons the active run: queued work, counters and produced items
// are dropped and the pending invocation is unscheduled. It fails with
// ErrProcessRunning while an invocation is draining.
func (p *Processor) Cancel(ctx context.Context) error {
	acquired, err := p.withLock(ctx, func() error {
		if err := p.queue.Clear(ctx); err != nil {
			return err
		}
		if err := p.progress.Reset(ctx); err != nil {
			return err
		}
		return p.dispatcher.ResetResults(ctx)
	})
	if err != nil {
		return err
	}
	if !acquired {
		return errors.ErrProcessRunning
	}

	slog.Info("Run cancelled", "identifier", p.identifier)
	return p.scheduler.Clear(ctx, p.identifier)
}

// Unlock force-releases the process lock, for operators recovering from a
// crashed invocation before the lock turns stale
func (p *Processor) Unlock(ctx context.Context) error {
	slog.Warn("Force releasing process lock", "identifier", p.identifier)
	return p.locks.ForceRelease(ctx, p.identifier)
}

// Health returns the current health status
func (p *Processor) Health(ctx context.Context) HealthStatus {
	status := HealthStatus{LastCheck: time.Now()}

	if checker, ok := p.store.(interface{ Health() error }); ok {
		status.StoreHealth = checker.Health()
	}
	if status.StoreHealth == nil {
		queued, err := p.queue.Len(ctx)
		status.StoreHealth = err
		status.Queued = queued
	}
	if status.StoreHealth == nil {
		status.Running, status.StoreHealth = p.IsRunning(ctx)
	}

	status.Healthy = status.StoreHealth == nil
	return status
}

func (p *Processor) resultKey() string {
	return store.Key(p.identifier, "process_result")
}
