package domain

import "time"

// Outcome is the classification state of a success story.
type Outcome string

// Story outcomes. A story starts PENDING and transitions to exactly one
// terminal outcome; terminal outcomes never revert.
const (
	OutcomePending       Outcome = "PENDING"
	OutcomeSuccess       Outcome = "SUCCESS"
	OutcomeFalsePositive Outcome = "FALSE_POSITIVE"
)

// Terminal reports whether the outcome is a terminal state.
func (o Outcome) Terminal() bool {
	return o == OutcomeSuccess || o == OutcomeFalsePositive
}

// Valid reports whether the outcome is one of the known states.
func (o Outcome) Valid() bool {
	return o == OutcomePending || o.Terminal()
}

// Finalization reason codes, recorded for operator diagnosis only.
// A deadline-forced FALSE_POSITIVE is a normal outcome, not an error.
const (
	ReasonPeakConfirmed = "PEAK_CONFIRMED" // threshold crossed, decline from peak observed
	ReasonDeadlinePeak  = "DEADLINE_PEAK"  // threshold crossed, deadline hit before decline
	ReasonDeadline      = "DEADLINE"       // threshold never crossed before deadline
	ReasonSweep         = "SWEEP"          // force-finalized by the deadline sweeper
	ReasonEngine        = "ENGINE"         // classification supplied by the trading engine
)

// SuccessStory is the persisted outcome of one executed trade attempt.
// Corresponds to the success_stories table.
type SuccessStory struct {
	ID           string // UUID, assigned at insert
	StrategyID   string // strategy that produced the trade
	TokenAddress string // traded token mint; repeats across stories

	// Context captured at detection time
	MarketContext string
	Lesson        string

	// Classification
	Outcome        Outcome
	PeakROI        *float64 // set once terminal
	TimeToPeakSecs *int64   // set only for SUCCESS
	Drawdown       *float64 // max % retrace from peak during observation
	Reason         string   // reason code, optional

	// Route features derived upstream by the trading engine.
	// Exported verbatim to the training pipeline, never recomputed here.
	Features *RouteFeatures

	CreatedAt           time.Time
	ObservationDeadline time.Time
}

// RouteFeatures is the feature set the ML pipeline trains on.
type RouteFeatures struct {
	NumHops           int
	TotalFeesBps      int
	MaxPriceImpactBps int
	RouteLiquidity    float64
	ProfitRatio       float64
}

// LibraryStats holds store-side aggregates over the story set.
// Timestamps are evaluated against the store's own clock so that
// distributed callers agree on the 24h window.
type LibraryStats struct {
	Total            int64
	Blacklisted      int64   // stories with a FALSE_POSITIVE outcome
	AvgSuccessROI    float64 // 0 when no SUCCESS stories exist
	MedianTimeToPeak float64 // linear-interpolated p50, 0 when no SUCCESS stories
	Stories24h       int64
}

// MetricsSnapshot is a point-in-time view of library quality metrics.
// Computed on demand, never persisted.
type MetricsSnapshot struct {
	Total            int64
	Blacklisted      int64
	AvgSuccessROI    float64
	MedianTimeToPeak float64
	Stories24h       int64
	BlacklistHitRate float64

	// Partial marks a snapshot whose store-side fields could not be
	// computed; counter-derived fields are still valid.
	Partial bool
}
