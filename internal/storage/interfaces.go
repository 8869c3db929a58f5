package storage

import (
	"context"
	"time"

	"success-library/internal/domain"
)

// Finalization carries the terminal classification of a story.
type Finalization struct {
	Outcome        domain.Outcome // SUCCESS or FALSE_POSITIVE
	PeakROI        float64
	TimeToPeakSecs *int64   // required for SUCCESS, nil otherwise
	Drawdown       *float64 // optional
	Reason         string   // reason code, optional
}

// StoryStore provides access to success_stories storage.
//
// Insert and Finalize are durable before they return. ExistsFalsePositive
// is an indexed point query and the authoritative blacklist predicate; the
// blacklist cache is a disposable projection of it. Aggregate and scan
// queries run read-committed and never block concurrent writers.
type StoryStore interface {
	// Insert adds a new story in state PENDING and assigns its ID.
	// Returns ErrValidation if the token address is empty or the
	// observation deadline is zero.
	Insert(ctx context.Context, s *domain.SuccessStory) error

	// Finalize transitions a PENDING story to a terminal outcome.
	// Returns ErrInvalidTransition if the story is missing or already
	// terminal; ErrValidation if the finalization is malformed
	// (non-terminal outcome, or SUCCESS without time-to-peak).
	// Concurrent finalizations of the same story are serialized:
	// first wins, the rest get ErrInvalidTransition.
	Finalize(ctx context.Context, id string, fin Finalization) error

	// GetByID retrieves a story by ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, id string) (*domain.SuccessStory, error)

	// ExistsFalsePositive reports whether any FALSE_POSITIVE story exists
	// for the token address. Served by the (token_address, outcome) index.
	ExistsFalsePositive(ctx context.Context, tokenAddress string) (bool, error)

	// BlacklistedTokens returns the distinct token addresses with at
	// least one FALSE_POSITIVE story. Used for cache rebuilds.
	BlacklistedTokens(ctx context.Context) ([]string, error)

	// PendingPastDeadline returns stories still PENDING whose observation
	// deadline is at or before now. Used by the classifier sweeper.
	PendingPastDeadline(ctx context.Context, now time.Time) ([]*domain.SuccessStory, error)

	// AggregateStats computes library statistics. The 24h window is
	// evaluated against the store's clock, not the caller's.
	AggregateStats(ctx context.Context) (*domain.LibraryStats, error)

	// Scan streams all stories ordered by created_at DESC into fn.
	// Stopping early: fn returns an error, which Scan propagates.
	// Safe to run concurrently with writers; stories inserted after the
	// scan starts need not appear.
	Scan(ctx context.Context, fn func(*domain.SuccessStory) error) error

	// Now returns the store's clock. Memory stores use the process clock;
	// the Postgres store asks the server, so distributed callers agree.
	Now(ctx context.Context) (time.Time, error)
}

// BlacklistSource is the subset of StoryStore the blacklist oracle needs.
type BlacklistSource interface {
	ExistsFalsePositive(ctx context.Context, tokenAddress string) (bool, error)
	BlacklistedTokens(ctx context.Context) ([]string, error)
}
