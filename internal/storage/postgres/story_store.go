package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"success-library/internal/domain"
	"success-library/internal/storage"
)

// StoryStore implements storage.StoryStore using PostgreSQL.
// Every Insert and Finalize is committed before returning.
type StoryStore struct {
	pool *Pool
}

// NewStoryStore creates a new StoryStore.
func NewStoryStore(pool *Pool) *StoryStore {
	return &StoryStore{pool: pool}
}

// Compile-time interface check.
var _ storage.StoryStore = (*StoryStore)(nil)

// Trailing newline matters: callers concatenate FROM directly after.
const storyColumns = `
	id, strategy_id, token_address, market_context, lesson,
	outcome, peak_roi, time_to_peak_secs, drawdown, reason,
	num_hops, total_fees_bps, max_price_impact_bps, route_liquidity, profit_ratio,
	created_at, observation_deadline
`

// Insert adds a new story in state PENDING and assigns its ID.
func (s *StoryStore) Insert(ctx context.Context, story *domain.SuccessStory) error {
	if story == nil || story.TokenAddress == "" || story.ObservationDeadline.IsZero() {
		return storage.ErrValidation
	}

	if story.ID == "" {
		story.ID = uuid.NewString()
	}
	story.Outcome = domain.OutcomePending

	var numHops, totalFeesBps, maxImpactBps *int
	var routeLiquidity, profitRatio *float64
	if f := story.Features; f != nil {
		numHops = &f.NumHops
		totalFeesBps = &f.TotalFeesBps
		maxImpactBps = &f.MaxPriceImpactBps
		routeLiquidity = &f.RouteLiquidity
		profitRatio = &f.ProfitRatio
	}

	query := `
		INSERT INTO success_stories (
			id, strategy_id, token_address, market_context, lesson,
			outcome, reason,
			num_hops, total_fees_bps, max_price_impact_bps, route_liquidity, profit_ratio,
			observation_deadline
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7,
			$8, $9, $10, $11, $12,
			$13
		)
		RETURNING created_at
	`

	err := s.pool.QueryRow(ctx, query,
		story.ID, story.StrategyID, story.TokenAddress, story.MarketContext, story.Lesson,
		story.Outcome, story.Reason,
		numHops, totalFeesBps, maxImpactBps, routeLiquidity, profitRatio,
		story.ObservationDeadline,
	).Scan(&story.CreatedAt)
	if err != nil {
		if isUnavailableError(err) {
			return storage.ErrUnavailable
		}
		return fmt.Errorf("insert story: %w", err)
	}
	return nil
}

// Finalize transitions a PENDING story to a terminal outcome. The WHERE
// outcome = 'PENDING' guard serializes concurrent finalizations at the
// row level: first commit wins, the rest see zero affected rows.
func (s *StoryStore) Finalize(ctx context.Context, id string, fin storage.Finalization) error {
	if !fin.Outcome.Terminal() {
		return storage.ErrValidation
	}
	if fin.Outcome == domain.OutcomeSuccess && fin.TimeToPeakSecs == nil {
		return storage.ErrValidation
	}

	query := `
		UPDATE success_stories
		SET outcome = $2,
		    peak_roi = $3,
		    time_to_peak_secs = $4,
		    drawdown = $5,
		    reason = $6
		WHERE id = $1 AND outcome = 'PENDING'
	`

	tag, err := s.pool.Exec(ctx, query,
		id, fin.Outcome, fin.PeakROI, fin.TimeToPeakSecs, fin.Drawdown, fin.Reason,
	)
	if err != nil {
		if isUnavailableError(err) {
			return storage.ErrUnavailable
		}
		return fmt.Errorf("finalize story: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Missing or already terminal; both are the same contract error.
		return storage.ErrInvalidTransition
	}
	return nil
}

// GetByID retrieves a story by ID. Returns ErrNotFound if not exists.
func (s *StoryStore) GetByID(ctx context.Context, id string) (*domain.SuccessStory, error) {
	query := `SELECT` + storyColumns + `FROM success_stories WHERE id = $1`

	row := s.pool.QueryRow(ctx, query, id)
	story, err := scanStory(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		if isUnavailableError(err) {
			return nil, storage.ErrUnavailable
		}
		return nil, fmt.Errorf("get story by id: %w", err)
	}
	return story, nil
}

// ExistsFalsePositive reports whether any FALSE_POSITIVE story exists for
// the token address. Served by the (token_address, outcome) index.
func (s *StoryStore) ExistsFalsePositive(ctx context.Context, tokenAddress string) (bool, error) {
	query := `
		SELECT EXISTS(
			SELECT 1 FROM success_stories
			WHERE token_address = $1 AND outcome = 'FALSE_POSITIVE'
		)
	`

	var exists bool
	if err := s.pool.QueryRow(ctx, query, tokenAddress).Scan(&exists); err != nil {
		if isUnavailableError(err) {
			return false, storage.ErrUnavailable
		}
		return false, fmt.Errorf("exists false positive: %w", err)
	}
	return exists, nil
}

// BlacklistedTokens returns distinct token addresses with at least one
// FALSE_POSITIVE story.
func (s *StoryStore) BlacklistedTokens(ctx context.Context) ([]string, error) {
	query := `
		SELECT DISTINCT token_address
		FROM success_stories
		WHERE outcome = 'FALSE_POSITIVE'
		ORDER BY token_address
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		if isUnavailableError(err) {
			return nil, storage.ErrUnavailable
		}
		return nil, fmt.Errorf("blacklisted tokens: %w", err)
	}
	defer rows.Close()

	var tokens []string
	for rows.Next() {
		var token string
		if err := rows.Scan(&token); err != nil {
			return nil, fmt.Errorf("scan blacklisted token: %w", err)
		}
		tokens = append(tokens, token)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate blacklisted tokens: %w", err)
	}
	return tokens, nil
}

// PendingPastDeadline returns PENDING stories whose deadline is at or
// before now.
func (s *StoryStore) PendingPastDeadline(ctx context.Context, now time.Time) ([]*domain.SuccessStory, error) {
	query := `SELECT` + storyColumns + `
		FROM success_stories
		WHERE outcome = 'PENDING' AND observation_deadline <= $1
		ORDER BY observation_deadline ASC
	`

	rows, err := s.pool.Query(ctx, query, now)
	if err != nil {
		if isUnavailableError(err) {
			return nil, storage.ErrUnavailable
		}
		return nil, fmt.Errorf("pending past deadline: %w", err)
	}
	defer rows.Close()

	return scanStories(rows)
}

// AggregateStats computes library statistics in a single statement. The
// 24h window and the percentile both run server-side, so the result
// matches what ad-hoc SQL reporting would produce.
func (s *StoryStore) AggregateStats(ctx context.Context) (*domain.LibraryStats, error) {
	query := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE outcome = 'FALSE_POSITIVE'),
			COALESCE(AVG(peak_roi) FILTER (WHERE outcome = 'SUCCESS'), 0),
			COALESCE(
				PERCENTILE_CONT(0.5) WITHIN GROUP (ORDER BY time_to_peak_secs)
					FILTER (WHERE outcome = 'SUCCESS'),
				0),
			COUNT(*) FILTER (WHERE created_at > NOW() - INTERVAL '24 hours')
		FROM success_stories
	`

	stats := &domain.LibraryStats{}
	err := s.pool.QueryRow(ctx, query).Scan(
		&stats.Total,
		&stats.Blacklisted,
		&stats.AvgSuccessROI,
		&stats.MedianTimeToPeak,
		&stats.Stories24h,
	)
	if err != nil {
		if isUnavailableError(err) {
			return nil, storage.ErrUnavailable
		}
		return nil, fmt.Errorf("aggregate stats: %w", err)
	}
	return stats, nil
}

// Scan streams all stories ordered by created_at DESC into fn. Rows are
// consumed lazily off the wire; fn returning an error stops the scan.
func (s *StoryStore) Scan(ctx context.Context, fn func(*domain.SuccessStory) error) error {
	query := `SELECT` + storyColumns + `FROM success_stories ORDER BY created_at DESC, id DESC`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		if isUnavailableError(err) {
			return storage.ErrUnavailable
		}
		return fmt.Errorf("scan stories: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		story, err := scanStory(rows)
		if err != nil {
			return fmt.Errorf("scan story row: %w", err)
		}
		if err := fn(story); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate story rows: %w", err)
	}
	return nil
}

// Now returns the database server's clock.
func (s *StoryStore) Now(ctx context.Context) (time.Time, error) {
	var now time.Time
	if err := s.pool.QueryRow(ctx, `SELECT NOW()`).Scan(&now); err != nil {
		if isUnavailableError(err) {
			return time.Time{}, storage.ErrUnavailable
		}
		return time.Time{}, fmt.Errorf("store clock: %w", err)
	}
	return now, nil
}

// scanStory scans a single row into a SuccessStory.
func scanStory(row pgx.Row) (*domain.SuccessStory, error) {
	var story domain.SuccessStory
	var numHops, totalFeesBps, maxImpactBps *int
	var routeLiquidity, profitRatio *float64
	var reason *string

	err := row.Scan(
		&story.ID, &story.StrategyID, &story.TokenAddress, &story.MarketContext, &story.Lesson,
		&story.Outcome, &story.PeakROI, &story.TimeToPeakSecs, &story.Drawdown, &reason,
		&numHops, &totalFeesBps, &maxImpactBps, &routeLiquidity, &profitRatio,
		&story.CreatedAt, &story.ObservationDeadline,
	)
	if err != nil {
		return nil, err
	}

	if reason != nil {
		story.Reason = *reason
	}
	if numHops != nil || totalFeesBps != nil || maxImpactBps != nil || routeLiquidity != nil || profitRatio != nil {
		f := &domain.RouteFeatures{}
		if numHops != nil {
			f.NumHops = *numHops
		}
		if totalFeesBps != nil {
			f.TotalFeesBps = *totalFeesBps
		}
		if maxImpactBps != nil {
			f.MaxPriceImpactBps = *maxImpactBps
		}
		if routeLiquidity != nil {
			f.RouteLiquidity = *routeLiquidity
		}
		if profitRatio != nil {
			f.ProfitRatio = *profitRatio
		}
		story.Features = f
	}

	return &story, nil
}

// scanStories scans multiple rows into a slice of SuccessStory.
func scanStories(rows pgx.Rows) ([]*domain.SuccessStory, error) {
	var stories []*domain.SuccessStory
	for rows.Next() {
		story, err := scanStory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan story row: %w", err)
		}
		stories = append(stories, story)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate story rows: %w", err)
	}
	return stories, nil
}
