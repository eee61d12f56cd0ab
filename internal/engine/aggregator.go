package engine

import (
	"context"
	"fmt"
	"log/slog"
)

// AggregatorStore is the slice of the data store the aggregator needs.
type AggregatorStore interface {
	RefreshDispatchCounts(ctx context.Context, dispatchID string) error
	CompleteDrainedDispatches(ctx context.Context) (int, error)
}

// Aggregator keeps dispatch-level counters and completion status consistent
// with recipient-level state. Counters are always recomputed from recipient
// rows rather than incremented, so every refresh is idempotent.
type Aggregator struct {
	store  AggregatorStore
	logger *slog.Logger
}

func NewAggregator(store AggregatorStore, logger *slog.Logger) *Aggregator {
	return &Aggregator{store: store, logger: logger}
}

// RefreshCounts recomputes sent_count and failed_count for one dispatch.
func (a *Aggregator) RefreshCounts(ctx context.Context, dispatchID string) error {
	if err := a.store.RefreshDispatchCounts(ctx, dispatchID); err != nil {
		return fmt.Errorf("refreshing counts for dispatch %s: %w", dispatchID, err)
	}
	return nil
}

// SweepCompletions completes every sending dispatch whose queue has drained.
// A dispatch with failed recipients still completes; per-recipient failure is
// distinct from dispatch-level failure.
func (a *Aggregator) SweepCompletions(ctx context.Context) (int, error) {
	completed, err := a.store.CompleteDrainedDispatches(ctx)
	if err != nil {
		return 0, fmt.Errorf("sweeping completions: %w", err)
	}
	if completed > 0 {
		a.logger.Info("dispatches completed", "count", completed)
	}
	return completed, nil
}
