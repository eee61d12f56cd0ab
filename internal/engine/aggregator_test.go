package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
)

type fakeAggregatorStore struct {
	refreshed []string
	completed int
	err       error
}

func (f *fakeAggregatorStore) RefreshDispatchCounts(ctx context.Context, dispatchID string) error {
	if f.err != nil {
		return f.err
	}
	f.refreshed = append(f.refreshed, dispatchID)
	return nil
}

func (f *fakeAggregatorStore) CompleteDrainedDispatches(ctx context.Context) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	return f.completed, nil
}

func TestAggregator_RefreshCounts(t *testing.T) {
	store := &fakeAggregatorStore{}
	agg := NewAggregator(store, slog.New(slog.NewJSONHandler(io.Discard, nil)))

	if err := agg.RefreshCounts(context.Background(), "d1"); err != nil {
		t.Fatalf("RefreshCounts: %v", err)
	}
	if len(store.refreshed) != 1 || store.refreshed[0] != "d1" {
		t.Errorf("refreshed = %v, want [d1]", store.refreshed)
	}

	store.err = errors.New("connection lost")
	if err := agg.RefreshCounts(context.Background(), "d2"); err == nil {
		t.Error("expected the store error to surface")
	}
}

func TestAggregator_SweepCompletions(t *testing.T) {
	store := &fakeAggregatorStore{completed: 3}
	agg := NewAggregator(store, slog.New(slog.NewJSONHandler(io.Discard, nil)))

	n, err := agg.SweepCompletions(context.Background())
	if err != nil {
		t.Fatalf("SweepCompletions: %v", err)
	}
	if n != 3 {
		t.Errorf("completed = %d, want 3", n)
	}

	store.err = errors.New("connection lost")
	if _, err := agg.SweepCompletions(context.Background()); err == nil {
		t.Error("expected the store error to surface")
	}
}
