package classifier

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"success-library/internal/domain"
	"success-library/internal/observability"
	"success-library/internal/storage"
)

// Sweeper force-finalizes stories left PENDING past their observation
// deadline. The in-process Watcher handles the live case; the sweeper
// heals stories orphaned by a crash or restart, so no story is ever left
// PENDING past its deadline in any reachable execution.
type Sweeper struct {
	store storage.StoryStore
	sink  BlacklistSink
}

// NewSweeper creates a Sweeper. sink may be nil.
func NewSweeper(store storage.StoryStore, sink BlacklistSink) *Sweeper {
	return &Sweeper{store: store, sink: sink}
}

// SweepOnce finalizes all currently overdue pending stories as
// FALSE_POSITIVE. The running peak was lost with the watcher, so peak ROI
// is recorded as 0 with a SWEEP reason tag for operator diagnosis.
// Returns the number of stories finalized.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	now, err := s.store.Now(ctx)
	if err != nil {
		return 0, fmt.Errorf("sweep clock: %w", err)
	}

	overdue, err := s.store.PendingPastDeadline(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("sweep query: %w", err)
	}

	swept := 0
	for _, story := range overdue {
		err := s.store.Finalize(ctx, story.ID, storage.Finalization{
			Outcome: domain.OutcomeFalsePositive,
			PeakROI: 0,
			Reason:  domain.ReasonSweep,
		})
		switch {
		case err == nil:
			swept++
			observability.RecordFinalized(string(domain.OutcomeFalsePositive), domain.ReasonSweep)
			if s.sink != nil {
				s.sink.Add(story.TokenAddress)
			}
		case errors.Is(err, storage.ErrInvalidTransition):
			// A live watcher finalized it between query and sweep.
		default:
			return swept, fmt.Errorf("sweep finalize %s: %w", story.ID, err)
		}
	}
	return swept, nil
}

// Run sweeps on the given interval until ctx is cancelled. An initial
// sweep runs immediately to heal whatever a previous process left behind.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) error {
	if _, err := s.SweepOnce(ctx); err != nil {
		log.Printf("sweeper: initial sweep: %v", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			n, err := s.SweepOnce(ctx)
			if err != nil {
				log.Printf("sweeper: %v", err)
				continue
			}
			if n > 0 {
				log.Printf("sweeper: force-finalized %d overdue stories", n)
			}
		}
	}
}
