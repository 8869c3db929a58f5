// Package metrics computes point-in-time quality statistics over the
// success library.
package metrics

import (
	"context"
	"fmt"

	"success-library/internal/domain"
	"success-library/internal/observability"
	"success-library/internal/storage"
)

// CounterSource exposes the blacklist oracle's hit-rate counters. The
// aggregator owns the observation window; the oracle only counts.
type CounterSource interface {
	Counters() (hits, checks uint64)
	ResetCounters()
}

// Aggregator computes MetricsSnapshots from the story store and the
// blacklist oracle's counters. It holds no state of its own and takes no
// locks that could stall writers; staleness of a few seconds is fine.
type Aggregator struct {
	store    storage.StoryStore
	counters CounterSource // may be nil when no oracle is running
}

// NewAggregator creates an Aggregator. counters may be nil; the hit rate
// then reports 0.
func NewAggregator(store storage.StoryStore, counters CounterSource) *Aggregator {
	return &Aggregator{store: store, counters: counters}
}

// Snapshot computes current library metrics. On store failure it returns
// a partial snapshot carrying the counter-derived fields alongside the
// error, so callers can report what is known instead of nothing.
func (a *Aggregator) Snapshot(ctx context.Context) (*domain.MetricsSnapshot, error) {
	snap := &domain.MetricsSnapshot{
		BlacklistHitRate: a.hitRate(),
	}

	stats, err := a.store.AggregateStats(ctx)
	if err != nil {
		snap.Partial = true
		observability.RecordSnapshot(true)
		return snap, fmt.Errorf("aggregate stats: %w", err)
	}

	snap.Total = stats.Total
	snap.Blacklisted = stats.Blacklisted
	snap.AvgSuccessROI = stats.AvgSuccessROI
	snap.MedianTimeToPeak = stats.MedianTimeToPeak
	snap.Stories24h = stats.Stories24h

	observability.RecordSnapshot(false)
	return snap, nil
}

// ResetWindow closes the hit-rate observation window, zeroing the
// oracle's counters.
func (a *Aggregator) ResetWindow() {
	if a.counters != nil {
		a.counters.ResetCounters()
	}
}

func (a *Aggregator) hitRate() float64 {
	if a.counters == nil {
		return 0
	}
	hits, checks := a.counters.Counters()
	if checks == 0 {
		return 0
	}
	return float64(hits) / float64(checks)
}
