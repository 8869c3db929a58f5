// Package export writes the success library to line-delimited formats:
// a JSONL dump for backup/analysis and a CSV feature extract for the
// training pipeline.
package export

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"success-library/internal/domain"
	"success-library/internal/observability"
	"success-library/internal/storage"
)

// storyLine is the wire form of one exported story. Timestamps are
// RFC3339 text; fields that are unset on the record are omitted rather
// than written as null.
type storyLine struct {
	ID                  string   `json:"id"`
	StrategyID          string   `json:"strategy_id,omitempty"`
	TokenAddress        string   `json:"token_address"`
	MarketContext       string   `json:"market_context,omitempty"`
	Lesson              string   `json:"lesson,omitempty"`
	Outcome             string   `json:"outcome"`
	PeakROI             *float64 `json:"peak_roi,omitempty"`
	TimeToPeakSecs      *int64   `json:"time_to_peak_secs,omitempty"`
	Drawdown            *float64 `json:"drawdown,omitempty"`
	Reason              string   `json:"reason,omitempty"`
	NumHops             *int     `json:"num_hops,omitempty"`
	TotalFeesBps        *int     `json:"total_fees_bps,omitempty"`
	MaxPriceImpactBps   *int     `json:"max_price_impact_bps,omitempty"`
	RouteLiquidity      *float64 `json:"route_liquidity,omitempty"`
	ProfitRatio         *float64 `json:"profit_ratio,omitempty"`
	CreatedAt           string   `json:"created_at"`
	ObservationDeadline string   `json:"observation_deadline"`
}

// WriteJSONL streams every story, newest first, one JSON object per line.
// Returns the number of stories written.
func WriteJSONL(ctx context.Context, store storage.StoryStore, w io.Writer) (int, error) {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)

	count := 0
	err := store.Scan(ctx, func(story *domain.SuccessStory) error {
		if err := enc.Encode(toLine(story)); err != nil {
			return fmt.Errorf("encode story %s: %w", story.ID, err)
		}
		count++
		return nil
	})
	if err != nil {
		return count, err
	}
	if err := bw.Flush(); err != nil {
		return count, fmt.Errorf("flush export: %w", err)
	}

	observability.RecordExported(count)
	return count, nil
}

// ParseStoryLine parses one JSONL line back into a story. Every field of
// an exported record round-trips exactly.
func ParseStoryLine(line []byte) (*domain.SuccessStory, error) {
	var sl storyLine
	if err := json.Unmarshal(line, &sl); err != nil {
		return nil, fmt.Errorf("parse story line: %w", err)
	}

	createdAt, err := time.Parse(time.RFC3339Nano, sl.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	deadline, err := time.Parse(time.RFC3339Nano, sl.ObservationDeadline)
	if err != nil {
		return nil, fmt.Errorf("parse observation_deadline: %w", err)
	}

	story := &domain.SuccessStory{
		ID:                  sl.ID,
		StrategyID:          sl.StrategyID,
		TokenAddress:        sl.TokenAddress,
		MarketContext:       sl.MarketContext,
		Lesson:              sl.Lesson,
		Outcome:             domain.Outcome(sl.Outcome),
		PeakROI:             sl.PeakROI,
		TimeToPeakSecs:      sl.TimeToPeakSecs,
		Drawdown:            sl.Drawdown,
		Reason:              sl.Reason,
		CreatedAt:           createdAt,
		ObservationDeadline: deadline,
	}
	if !story.Outcome.Valid() {
		return nil, fmt.Errorf("parse story line: unknown outcome %q", sl.Outcome)
	}

	if sl.NumHops != nil || sl.TotalFeesBps != nil || sl.MaxPriceImpactBps != nil ||
		sl.RouteLiquidity != nil || sl.ProfitRatio != nil {
		f := &domain.RouteFeatures{}
		if sl.NumHops != nil {
			f.NumHops = *sl.NumHops
		}
		if sl.TotalFeesBps != nil {
			f.TotalFeesBps = *sl.TotalFeesBps
		}
		if sl.MaxPriceImpactBps != nil {
			f.MaxPriceImpactBps = *sl.MaxPriceImpactBps
		}
		if sl.RouteLiquidity != nil {
			f.RouteLiquidity = *sl.RouteLiquidity
		}
		if sl.ProfitRatio != nil {
			f.ProfitRatio = *sl.ProfitRatio
		}
		story.Features = f
	}

	return story, nil
}

func toLine(story *domain.SuccessStory) storyLine {
	sl := storyLine{
		ID:                  story.ID,
		StrategyID:          story.StrategyID,
		TokenAddress:        story.TokenAddress,
		MarketContext:       story.MarketContext,
		Lesson:              story.Lesson,
		Outcome:             string(story.Outcome),
		PeakROI:             story.PeakROI,
		TimeToPeakSecs:      story.TimeToPeakSecs,
		Drawdown:            story.Drawdown,
		Reason:              story.Reason,
		CreatedAt:           story.CreatedAt.Format(time.RFC3339Nano),
		ObservationDeadline: story.ObservationDeadline.Format(time.RFC3339Nano),
	}
	if f := story.Features; f != nil {
		sl.NumHops = &f.NumHops
		sl.TotalFeesBps = &f.TotalFeesBps
		sl.MaxPriceImpactBps = &f.MaxPriceImpactBps
		sl.RouteLiquidity = &f.RouteLiquidity
		sl.ProfitRatio = &f.ProfitRatio
	}
	return sl
}
