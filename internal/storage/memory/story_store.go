package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"success-library/internal/domain"
	"success-library/internal/metrics"
	"success-library/internal/storage"
)

// StoryStore is an in-memory implementation of storage.StoryStore.
// Used for tests and --use-memory demo mode; durability guarantees are
// the Postgres store's job.
type StoryStore struct {
	mu   sync.RWMutex
	data map[string]*domain.SuccessStory // keyed by story ID
	seq  []string                        // IDs in insertion order
}

// NewStoryStore creates a new in-memory story store.
func NewStoryStore() *StoryStore {
	return &StoryStore{
		data: make(map[string]*domain.SuccessStory),
	}
}

// Insert adds a new story in state PENDING and assigns its ID.
func (s *StoryStore) Insert(_ context.Context, story *domain.SuccessStory) error {
	if story == nil || story.TokenAddress == "" || story.ObservationDeadline.IsZero() {
		return storage.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if story.ID == "" {
		story.ID = uuid.NewString()
	}
	story.Outcome = domain.OutcomePending
	if story.CreatedAt.IsZero() {
		story.CreatedAt = time.Now().UTC()
	}

	cp := cloneStory(story)
	s.data[story.ID] = cp
	s.seq = append(s.seq, story.ID)
	return nil
}

// Finalize transitions a PENDING story to a terminal outcome.
// First finalize wins; later attempts get ErrInvalidTransition.
func (s *StoryStore) Finalize(_ context.Context, id string, fin storage.Finalization) error {
	if !fin.Outcome.Terminal() {
		return storage.ErrValidation
	}
	if fin.Outcome == domain.OutcomeSuccess && fin.TimeToPeakSecs == nil {
		return storage.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	story, exists := s.data[id]
	if !exists || story.Outcome != domain.OutcomePending {
		return storage.ErrInvalidTransition
	}

	roi := fin.PeakROI
	story.Outcome = fin.Outcome
	story.PeakROI = &roi
	story.Reason = fin.Reason
	if fin.TimeToPeakSecs != nil {
		tts := *fin.TimeToPeakSecs
		story.TimeToPeakSecs = &tts
	}
	if fin.Drawdown != nil {
		dd := *fin.Drawdown
		story.Drawdown = &dd
	}
	return nil
}

// GetByID retrieves a story by ID. Returns ErrNotFound if not exists.
func (s *StoryStore) GetByID(_ context.Context, id string) (*domain.SuccessStory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	story, exists := s.data[id]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return cloneStory(story), nil
}

// ExistsFalsePositive reports whether any FALSE_POSITIVE story exists for
// the token address.
func (s *StoryStore) ExistsFalsePositive(_ context.Context, tokenAddress string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, story := range s.data {
		if story.TokenAddress == tokenAddress && story.Outcome == domain.OutcomeFalsePositive {
			return true, nil
		}
	}
	return false, nil
}

// BlacklistedTokens returns distinct token addresses with at least one
// FALSE_POSITIVE story.
func (s *StoryStore) BlacklistedTokens(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	var tokens []string
	for _, story := range s.data {
		if story.Outcome != domain.OutcomeFalsePositive {
			continue
		}
		if _, dup := seen[story.TokenAddress]; dup {
			continue
		}
		seen[story.TokenAddress] = struct{}{}
		tokens = append(tokens, story.TokenAddress)
	}
	sort.Strings(tokens)
	return tokens, nil
}

// PendingPastDeadline returns PENDING stories whose deadline is at or
// before now.
func (s *StoryStore) PendingPastDeadline(_ context.Context, now time.Time) ([]*domain.SuccessStory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.SuccessStory
	for _, story := range s.data {
		if story.Outcome == domain.OutcomePending && !story.ObservationDeadline.After(now) {
			result = append(result, cloneStory(story))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ObservationDeadline.Before(result[j].ObservationDeadline)
	})
	return result, nil
}

// AggregateStats computes library statistics over the current story set.
func (s *StoryStore) AggregateStats(_ context.Context) (*domain.LibraryStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &domain.LibraryStats{}
	cutoff := time.Now().Add(-24 * time.Hour)

	var successROIs []float64
	var timesToPeak []float64

	for _, story := range s.data {
		stats.Total++
		if story.Outcome == domain.OutcomeFalsePositive {
			stats.Blacklisted++
		}
		if story.CreatedAt.After(cutoff) {
			stats.Stories24h++
		}
		if story.Outcome == domain.OutcomeSuccess {
			if story.PeakROI != nil {
				successROIs = append(successROIs, *story.PeakROI)
			}
			if story.TimeToPeakSecs != nil {
				timesToPeak = append(timesToPeak, float64(*story.TimeToPeakSecs))
			}
		}
	}

	stats.AvgSuccessROI = metrics.Mean(successROIs)
	sort.Float64s(timesToPeak)
	stats.MedianTimeToPeak = metrics.Percentile(timesToPeak, 0.50)
	return stats, nil
}

// Scan streams stories ordered by created_at DESC into fn.
func (s *StoryStore) Scan(_ context.Context, fn func(*domain.SuccessStory) error) error {
	// Copy out under the lock, then release before invoking fn so slow
	// consumers cannot stall writers.
	s.mu.RLock()
	stories := make([]*domain.SuccessStory, 0, len(s.seq))
	for _, id := range s.seq {
		stories = append(stories, cloneStory(s.data[id]))
	}
	s.mu.RUnlock()

	sort.SliceStable(stories, func(i, j int) bool {
		return stories[i].CreatedAt.After(stories[j].CreatedAt)
	})

	for _, story := range stories {
		if err := fn(story); err != nil {
			return err
		}
	}
	return nil
}

// Now returns the process clock.
func (s *StoryStore) Now(_ context.Context) (time.Time, error) {
	return time.Now().UTC(), nil
}

// cloneStory deep-copies a story so callers never share pointers with
// the store's internal state.
func cloneStory(s *domain.SuccessStory) *domain.SuccessStory {
	cp := *s
	if s.PeakROI != nil {
		v := *s.PeakROI
		cp.PeakROI = &v
	}
	if s.TimeToPeakSecs != nil {
		v := *s.TimeToPeakSecs
		cp.TimeToPeakSecs = &v
	}
	if s.Drawdown != nil {
		v := *s.Drawdown
		cp.Drawdown = &v
	}
	if s.Features != nil {
		f := *s.Features
		cp.Features = &f
	}
	return &cp
}

var _ storage.StoryStore = (*StoryStore)(nil)
