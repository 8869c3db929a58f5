// Package classifier watches pending stories and finalizes their
// classification from observed price behavior. A story is SUCCESS when
// ROI crosses the configured threshold and the peak is confirmed by a
// decline, FALSE_POSITIVE when the observation deadline expires without
// the threshold ever being crossed.
package classifier

import (
	"context"
	"errors"
	"log"
	"time"

	"success-library/internal/domain"
	"success-library/internal/observability"
	"success-library/internal/pricefeed"
	"success-library/internal/storage"
)

// Config holds classification policy. Thresholds are owned by the trading
// engine's configuration and consumed here as parameters.
type Config struct {
	// SuccessThresholdROI is the ROI a position must reach to qualify as
	// SUCCESS (0.05 = +5%).
	SuccessThresholdROI float64
	// DeclineMarginPct confirms the peak has passed: price has dropped
	// this fraction below the peak price (0.10 = 10% off peak).
	DeclineMarginPct float64
	// FinalizeRetryDelay is the initial backoff when the store is
	// unavailable at finalize time. Doubles per attempt.
	FinalizeRetryDelay time.Duration
	// FinalizeRetryMax caps the backoff delay.
	FinalizeRetryMax time.Duration
}

// DefaultConfig returns a conservative default policy.
func DefaultConfig() Config {
	return Config{
		SuccessThresholdROI: 0.05,
		DeclineMarginPct:    0.10,
		FinalizeRetryDelay:  500 * time.Millisecond,
		FinalizeRetryMax:    30 * time.Second,
	}
}

// BlacklistSink receives token addresses freshly classified as false
// positives, so new blacklist entries become visible without waiting for
// the next cache rebuild.
type BlacklistSink interface {
	Add(tokenAddress string)
}

// Classifier finalizes pending stories from observed price trajectories.
type Classifier struct {
	store  storage.StoryStore
	feed   pricefeed.Feed
	sink   BlacklistSink
	config Config
}

// New creates a Classifier. sink may be nil when no blacklist push is
// wanted (e.g. offline replays).
func New(store storage.StoryStore, feed pricefeed.Feed, sink BlacklistSink, config Config) *Classifier {
	return &Classifier{
		store:  store,
		feed:   feed,
		sink:   sink,
		config: config,
	}
}

// Watch observes one pending story until it reaches a terminal outcome.
// entryPrice is the execution price the engine entered at. Watch returns
// once the story is finalized; it never leaves the story PENDING past its
// observation deadline.
func (c *Classifier) Watch(ctx context.Context, story *domain.SuccessStory, entryPrice float64) error {
	if entryPrice <= 0 {
		return storage.ErrValidation
	}

	samples, err := c.feed.Subscribe(ctx, story.TokenAddress)
	if err != nil {
		// No feed at all: the deadline still forces a decision.
		log.Printf("classifier: subscribe %s failed: %v", story.TokenAddress, err)
		samples = nil
	}

	deadline := time.NewTimer(time.Until(story.ObservationDeadline))
	defer deadline.Stop()

	var (
		bestROI       float64 // best ROI observed, may be negative; 0 if no samples
		sampled       bool
		peakPrice     = entryPrice
		peakAt        = story.CreatedAt
		crossed       bool // threshold exceeded at some point
		worstFromPeak float64
	)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-deadline.C:
			return c.finalizeAtDeadline(ctx, story, crossed, bestROI, peakAt, worstFromPeak)

		case sample, ok := <-samples:
			if !ok {
				// Feed stopped producing; wait out the deadline.
				samples = nil
				continue
			}

			roi := (sample.Price - entryPrice) / entryPrice
			if !sampled || roi > bestROI {
				bestROI = roi
				sampled = true
			}
			if sample.Price > peakPrice {
				peakPrice = sample.Price
				peakAt = sample.Time
				worstFromPeak = 0
			} else if peakPrice > 0 {
				fromPeak := (peakPrice - sample.Price) / peakPrice
				if fromPeak > worstFromPeak {
					worstFromPeak = fromPeak
				}
			}
			if roi >= c.config.SuccessThresholdROI {
				crossed = true
			}

			// Peak-confirmed success: threshold was crossed and price has
			// come off the peak by the configured margin.
			if crossed && worstFromPeak >= c.config.DeclineMarginPct {
				peakROI := (peakPrice - entryPrice) / entryPrice
				tts := secondsBetween(story.CreatedAt, peakAt)
				dd := worstFromPeak * 100
				return c.finalize(ctx, story, storage.Finalization{
					Outcome:        domain.OutcomeSuccess,
					PeakROI:        peakROI,
					TimeToPeakSecs: &tts,
					Drawdown:       &dd,
					Reason:         domain.ReasonPeakConfirmed,
				})
			}
		}
	}
}

// finalizeAtDeadline forces a terminal decision once the observation
// deadline is reached. Deadline expiry is a normal outcome, not an error.
func (c *Classifier) finalizeAtDeadline(ctx context.Context, story *domain.SuccessStory, crossed bool, bestROI float64, peakAt time.Time, worstFromPeak float64) error {
	if crossed {
		// Threshold was crossed but the decline never confirmed before
		// the deadline: count it as SUCCESS with the observed peak.
		tts := secondsBetween(story.CreatedAt, peakAt)
		dd := worstFromPeak * 100
		return c.finalize(ctx, story, storage.Finalization{
			Outcome:        domain.OutcomeSuccess,
			PeakROI:        bestROI,
			TimeToPeakSecs: &tts,
			Drawdown:       &dd,
			Reason:         domain.ReasonDeadlinePeak,
		})
	}

	return c.finalize(ctx, story, storage.Finalization{
		Outcome: domain.OutcomeFalsePositive,
		PeakROI: bestROI,
		Reason:  domain.ReasonDeadline,
	})
}

// finalize commits the terminal outcome, retrying with doubling backoff
// while the store is unreachable. Losing an outcome record corrupts the
// feedback loop, so unavailability is retried rather than surfaced.
func (c *Classifier) finalize(ctx context.Context, story *domain.SuccessStory, fin storage.Finalization) error {
	delay := c.config.FinalizeRetryDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}

	for {
		err := c.store.Finalize(ctx, story.ID, fin)
		if err == nil {
			observability.RecordFinalized(string(fin.Outcome), fin.Reason)
			if fin.Outcome == domain.OutcomeFalsePositive && c.sink != nil {
				c.sink.Add(story.TokenAddress)
			}
			return nil
		}
		if !errors.Is(err, storage.ErrUnavailable) {
			// Lost the race to another finalizer, or bad input; the
			// stored terminal values stand.
			return err
		}

		observability.RecordFinalizeRetry()
		log.Printf("classifier: store unavailable finalizing %s, retrying in %s", story.ID, delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > c.config.FinalizeRetryMax && c.config.FinalizeRetryMax > 0 {
			delay = c.config.FinalizeRetryMax
		}
	}
}

func secondsBetween(from, to time.Time) int64 {
	secs := int64(to.Sub(from) / time.Second)
	if secs < 0 {
		return 0
	}
	return secs
}
