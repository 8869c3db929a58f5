package classifier

import (
	"context"
	"sync"
	"testing"
	"time"

	"success-library/internal/domain"
	"success-library/internal/pricefeed"
	"success-library/internal/storage"
	"success-library/internal/storage/memory"
)

// recordingSink remembers tokens pushed to the blacklist.
type recordingSink struct {
	mu     sync.Mutex
	tokens []string
}

func (r *recordingSink) Add(token string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens = append(r.tokens, token)
}

func (r *recordingSink) added() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.tokens...)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.SuccessThresholdROI = 0.05
	cfg.DeclineMarginPct = 0.10
	cfg.FinalizeRetryDelay = 10 * time.Millisecond
	return cfg
}

func insertPending(t *testing.T, store storage.StoryStore, token string, window time.Duration) *domain.SuccessStory {
	t.Helper()
	story := &domain.SuccessStory{
		StrategyID:          "strat-1",
		TokenAddress:        token,
		ObservationDeadline: time.Now().Add(window),
	}
	if err := store.Insert(context.Background(), story); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	return story
}

// watch runs Watch in the background and returns a channel carrying its
// result.
func watch(c *Classifier, story *domain.SuccessStory, entryPrice float64) <-chan error {
	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		done <- c.Watch(ctx, story, entryPrice)
	}()
	return done
}

// publishUntil keeps publishing a sample until the watcher finishes, so
// the test does not race the subscription.
func publishUntil(t *testing.T, feed *pricefeed.ManualFeed, done <-chan error, samples ...pricefeed.Sample) error {
	t.Helper()
	for {
		for _, s := range samples {
			feed.Publish(s)
		}
		select {
		case err := <-done:
			return err
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestWatch_PeakConfirmedSuccess(t *testing.T) {
	store := memory.NewStoryStore()
	feed := pricefeed.NewManualFeed()
	sink := &recordingSink{}
	c := New(store, feed, sink, testConfig())

	story := insertPending(t, store, "mint-win", time.Minute)
	base := story.CreatedAt
	done := watch(c, story, 1.00)

	// Cross the threshold, peak at +20%, then fall 15% off the peak.
	err := publishUntil(t, feed, done,
		pricefeed.Sample{TokenAddress: "mint-win", Price: 1.06, Time: base.Add(5 * time.Second)},
		pricefeed.Sample{TokenAddress: "mint-win", Price: 1.20, Time: base.Add(30 * time.Second)},
		pricefeed.Sample{TokenAddress: "mint-win", Price: 1.02, Time: base.Add(40 * time.Second)},
	)
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	got, err := store.GetByID(context.Background(), story.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.Outcome != domain.OutcomeSuccess {
		t.Fatalf("Outcome = %s, want SUCCESS", got.Outcome)
	}
	if got.PeakROI == nil || *got.PeakROI < 0.19 || *got.PeakROI > 0.21 {
		t.Errorf("PeakROI = %v, want ~0.20", got.PeakROI)
	}
	if got.TimeToPeakSecs == nil || *got.TimeToPeakSecs != 30 {
		t.Errorf("TimeToPeakSecs = %v, want 30", got.TimeToPeakSecs)
	}
	if got.Reason != domain.ReasonPeakConfirmed {
		t.Errorf("Reason = %s, want PEAK_CONFIRMED", got.Reason)
	}
	if len(sink.added()) != 0 {
		t.Errorf("SUCCESS must not blacklist, pushed %v", sink.added())
	}
}

func TestWatch_DeadlineFalsePositive(t *testing.T) {
	store := memory.NewStoryStore()
	feed := pricefeed.NewManualFeed()
	sink := &recordingSink{}
	c := New(store, feed, sink, testConfig())

	story := insertPending(t, store, "mint-flat", 150*time.Millisecond)
	done := watch(c, story, 1.00)

	// Price never reaches the threshold; worst case it dips below entry.
	err := publishUntil(t, feed, done,
		pricefeed.Sample{TokenAddress: "mint-flat", Price: 1.02, Time: time.Now()},
		pricefeed.Sample{TokenAddress: "mint-flat", Price: 0.90, Time: time.Now()},
	)
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	got, err := store.GetByID(context.Background(), story.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.Outcome != domain.OutcomeFalsePositive {
		t.Fatalf("Outcome = %s, want FALSE_POSITIVE", got.Outcome)
	}
	// Best ROI observed is +2%, recorded even though classification failed.
	if got.PeakROI == nil || *got.PeakROI < 0.019 || *got.PeakROI > 0.021 {
		t.Errorf("PeakROI = %v, want ~0.02", got.PeakROI)
	}
	if got.Reason != domain.ReasonDeadline {
		t.Errorf("Reason = %s, want DEADLINE", got.Reason)
	}

	added := sink.added()
	if len(added) != 1 || added[0] != "mint-flat" {
		t.Errorf("blacklist push = %v, want [mint-flat]", added)
	}
}

func TestWatch_NegativeBestROI(t *testing.T) {
	store := memory.NewStoryStore()
	feed := pricefeed.NewManualFeed()
	c := New(store, feed, nil, testConfig())

	story := insertPending(t, store, "mint-dump", 150*time.Millisecond)
	done := watch(c, story, 1.00)

	// Every sample is below entry: best ROI is the least bad one.
	err := publishUntil(t, feed, done,
		pricefeed.Sample{TokenAddress: "mint-dump", Price: 0.95, Time: time.Now()},
		pricefeed.Sample{TokenAddress: "mint-dump", Price: 0.80, Time: time.Now()},
	)
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	got, err := store.GetByID(context.Background(), story.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.Outcome != domain.OutcomeFalsePositive {
		t.Fatalf("Outcome = %s, want FALSE_POSITIVE", got.Outcome)
	}
	if got.PeakROI == nil || *got.PeakROI > -0.04 || *got.PeakROI < -0.06 {
		t.Errorf("PeakROI = %v, want ~-0.05 (best of all-negative samples)", got.PeakROI)
	}
}

func TestWatch_DeadlineAfterThresholdCrossed(t *testing.T) {
	store := memory.NewStoryStore()
	feed := pricefeed.NewManualFeed()
	c := New(store, feed, nil, testConfig())

	story := insertPending(t, store, "mint-rising", 150*time.Millisecond)
	done := watch(c, story, 1.00)

	// Threshold crossed but price keeps climbing: no decline ever
	// confirms the peak before the deadline.
	err := publishUntil(t, feed, done,
		pricefeed.Sample{TokenAddress: "mint-rising", Price: 1.10, Time: time.Now()},
	)
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	got, err := store.GetByID(context.Background(), story.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.Outcome != domain.OutcomeSuccess {
		t.Fatalf("Outcome = %s, want SUCCESS (threshold was crossed)", got.Outcome)
	}
	if got.Reason != domain.ReasonDeadlinePeak {
		t.Errorf("Reason = %s, want DEADLINE_PEAK", got.Reason)
	}
}

func TestWatch_NoSamplesAtAll(t *testing.T) {
	store := memory.NewStoryStore()
	feed := pricefeed.NewManualFeed()
	c := New(store, feed, nil, testConfig())

	story := insertPending(t, store, "mint-silent", 100*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Watch(ctx, story, 1.00); err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	got, err := store.GetByID(context.Background(), story.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	// The deadline always forces a decision, even with a dead feed.
	if got.Outcome != domain.OutcomeFalsePositive {
		t.Errorf("Outcome = %s, want FALSE_POSITIVE", got.Outcome)
	}
	if got.PeakROI == nil || *got.PeakROI != 0 {
		t.Errorf("PeakROI = %v, want 0 with no samples", got.PeakROI)
	}
}

func TestWatch_InvalidEntryPrice(t *testing.T) {
	store := memory.NewStoryStore()
	c := New(store, pricefeed.NewManualFeed(), nil, testConfig())

	story := insertPending(t, store, "mint-x", time.Minute)
	err := c.Watch(context.Background(), story, 0)
	if err != storage.ErrValidation {
		t.Errorf("expected ErrValidation for zero entry price, got %v", err)
	}
}

func TestSweeper_ForceFinalizesOverdue(t *testing.T) {
	store := memory.NewStoryStore()
	sink := &recordingSink{}
	sweeper := NewSweeper(store, sink)
	ctx := context.Background()

	overdue := insertPending(t, store, "mint-orphan", -time.Minute)
	fresh := insertPending(t, store, "mint-live", time.Hour)

	n, err := sweeper.SweepOnce(ctx)
	if err != nil {
		t.Fatalf("SweepOnce failed: %v", err)
	}
	if n != 1 {
		t.Errorf("swept = %d, want 1", n)
	}

	got, err := store.GetByID(ctx, overdue.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.Outcome != domain.OutcomeFalsePositive {
		t.Errorf("Outcome = %s, want FALSE_POSITIVE", got.Outcome)
	}
	if got.Reason != domain.ReasonSweep {
		t.Errorf("Reason = %s, want SWEEP", got.Reason)
	}

	still, err := store.GetByID(ctx, fresh.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if still.Outcome != domain.OutcomePending {
		t.Errorf("fresh story Outcome = %s, want PENDING", still.Outcome)
	}

	added := sink.added()
	if len(added) != 1 || added[0] != "mint-orphan" {
		t.Errorf("blacklist push = %v, want [mint-orphan]", added)
	}

	// A second sweep finds nothing new.
	n, err = sweeper.SweepOnce(ctx)
	if err != nil {
		t.Fatalf("second SweepOnce failed: %v", err)
	}
	if n != 0 {
		t.Errorf("second sweep = %d, want 0", n)
	}
}
