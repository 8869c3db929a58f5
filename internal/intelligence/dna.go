// Package intelligence scores launch-time token characteristics against
// the profile of past winners in the library.
package intelligence

import (
	"context"

	"success-library/internal/domain"
	"success-library/internal/metrics"
)

// Score weights. Liquidity depth dominates; launch-hour efficiency and
// security hardening fill out the remaining 60 points.
const (
	liquidityDeepLamports    = 1_000_000_000
	liquidityShallowLamports = 500_000_000

	matchThresholdLearning     = 30 // small library, cast a wide net
	matchThresholdProfessional = 50 // >100 stories, tighten up
	eliteThreshold             = 80

	professionalPhaseStories = 100
)

// Score rates a TokenDNA 0-100.
func Score(dna *domain.TokenDNA) uint64 {
	var score uint64

	// Liquidity depth (40 pts)
	switch {
	case dna.InitialLiquidity >= liquidityDeepLamports:
		score += 40
	case dna.InitialLiquidity >= liquidityShallowLamports:
		score += 20
	}

	// Launch hour efficiency (30 pts): US/EU overlap hours perform best.
	switch {
	case dna.LaunchHourUTC >= 13 && dna.LaunchHourUTC <= 21:
		score += 30
	case dna.LaunchHourUTC == 12 || dna.LaunchHourUTC == 22:
		score += 15
	}

	// Security hardening (30 pts)
	if dna.MintRenounced {
		score += 20
	}
	if dna.HasTwitter {
		score += 10
	}

	return score
}

// Matcher decides whether a candidate's DNA matches the library's success
// profile. The match threshold tightens once the library has enough
// stories to trust.
type Matcher struct {
	aggregator *metrics.Aggregator
}

// NewMatcher creates a Matcher over the given aggregator.
func NewMatcher(aggregator *metrics.Aggregator) *Matcher {
	return &Matcher{aggregator: aggregator}
}

// Match scores the DNA and applies the phase-dependent threshold.
func (m *Matcher) Match(ctx context.Context, dna *domain.TokenDNA) (*domain.DNAMatch, error) {
	snap, err := m.aggregator.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	score := Score(dna)
	threshold := uint64(matchThresholdLearning)
	if snap.Total > professionalPhaseStories {
		threshold = matchThresholdProfessional
	}

	return &domain.DNAMatch{
		IsMatch: score >= threshold,
		IsElite: score >= eliteThreshold,
		Score:   score,
	}, nil
}
