package core

import (
	"context"
	"log/slog"

	"github.com/BranchIntl/couponqueue/item"
)

// complete finalizes a drained run: produced items are merged into the
// results registry, the run summary is stored for one-time display and the
// counters are cleared. Without counters there is no run to finalize and
// complete reports false.
func (p *Processor) complete(ctx context.Context) (bool, error) {
	state, err := p.progress.State(ctx)
	if err != nil {
		return false, err
	}
	if !state.Started() {
		return false, nil
	}

	produced, err := p.dispatcher.Results(ctx)
	if err != nil {
		return false, err
	}
	if len(produced) > 0 {
		if err := p.results.Merge(ctx, produced); err != nil {
			return false, err
		}
	}
	// merged items leave the accumulator at once so a retried completion
	// does not merge them again
	if err := p.dispatcher.ResetResults(ctx); err != nil {
		return false, err
	}

	result := item.RunResult{
		Action:     state.Action,
		Successful: state.Successful(),
	}
	data, err := item.EncodeResult(result)
	if err != nil {
		return false, err
	}
	if err := p.store.Set(ctx, p.resultKey(), data); err != nil {
		return false, err
	}

	// counters go last: while they exist a retry finalizes the run again
	if err := p.progress.Reset(ctx); err != nil {
		return false, err
	}
	if err := p.scheduler.Clear(ctx, p.identifier); err != nil {
		slog.Warn("Failed to clear schedule", "identifier", p.identifier, "error", err)
	}

	p.config.stats.RecordRunCompleted(p.identifier, result)
	slog.Info("Run completed", "identifier", p.identifier, "action", string(result.Action),
		"successful", result.Successful, "produced", len(produced))
	return true, nil
}
