// Package blacklist provides the low-latency decision surface consulted
// by the trading engine before acting on a candidate opportunity.
//
// The authoritative blacklist predicate is "does any FALSE_POSITIVE story
// exist for this token"; the oracle serves an eventually-consistent
// in-memory projection of it. Staleness is bounded by the rebuild
// interval: a token finalized FALSE_POSITIVE may read as clean until the
// classifier's push or the next rebuild lands, and a rebuild racing a
// push may momentarily undo a very fresh entry — the next push retry or
// rebuild cycle converges it. A fresh rebuild never reports a token
// blacklisted that the store says is clean.
package blacklist

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"success-library/internal/observability"
	"success-library/internal/storage"
)

// tokenSet is an immutable snapshot of blacklisted token addresses.
// Lookups read whole snapshots through an atomic pointer; mutation is
// copy-on-write, so readers never see a set mid-build.
type tokenSet map[string]struct{}

// Oracle answers IsBlacklisted from an in-memory cache. Lookups never
// touch storage: if the cache has not been built yet the oracle fails
// open (not blacklisted) — missing a hit costs one more bad trade, while
// blocking the engine on a store outage would starve it.
type Oracle struct {
	source storage.BlacklistSource
	shared *SharedSet // optional cross-instance mirror, may be nil

	snapshot atomic.Pointer[tokenSet]

	// Hit-rate counters, read and reset only through the Metrics
	// Aggregator's observation window.
	checks atomic.Uint64
	hits   atomic.Uint64
}

// NewOracle creates an Oracle over the given source. The cache starts
// empty; call Rebuild (or RunRebuildLoop, which rebuilds at startup)
// before serving decisions.
func NewOracle(source storage.BlacklistSource, shared *SharedSet) *Oracle {
	o := &Oracle{source: source, shared: shared}
	empty := make(tokenSet)
	o.snapshot.Store(&empty)
	return o
}

// IsBlacklisted reports whether the token is known to have produced a
// false-positive opportunity. O(1) map lookup, no locks, no I/O.
func (o *Oracle) IsBlacklisted(tokenAddress string) bool {
	set := *o.snapshot.Load()
	_, hit := set[tokenAddress]

	o.checks.Add(1)
	if hit {
		o.hits.Add(1)
	}
	observability.RecordBlacklistCheck(hit)
	return hit
}

// Add pushes a freshly blacklisted token into the cache, making it
// visible to lookups without waiting for the next rebuild. Copy-on-write:
// concurrent readers keep their snapshot.
func (o *Oracle) Add(tokenAddress string) {
	for {
		old := o.snapshot.Load()
		if _, exists := (*old)[tokenAddress]; exists {
			return
		}
		next := make(tokenSet, len(*old)+1)
		for token := range *old {
			next[token] = struct{}{}
		}
		next[tokenAddress] = struct{}{}
		if o.snapshot.CompareAndSwap(old, &next) {
			break
		}
	}

	if o.shared != nil {
		if err := o.shared.Add(context.Background(), tokenAddress); err != nil {
			log.Printf("blacklist: shared-set push %s: %v", tokenAddress, err)
		}
	}
}

// Rebuild replaces the cache with a freshly built set from the
// authoritative store (merged with the shared mirror when configured) and
// swaps it in atomically. Readers are never blocked: they see either the
// old snapshot or the new one, never a partial build.
func (o *Oracle) Rebuild(ctx context.Context) error {
	start := time.Now()

	tokens, err := o.source.BlacklistedTokens(ctx)
	if err != nil {
		observability.RecordRebuildError()
		return err
	}

	next := make(tokenSet, len(tokens))
	for _, token := range tokens {
		next[token] = struct{}{}
	}

	// Union in pushes from other instances that may not have reached the
	// store view this rebuild read from.
	if o.shared != nil {
		mirrored, err := o.shared.Members(ctx)
		if err != nil {
			log.Printf("blacklist: shared-set read: %v", err)
		} else {
			for _, token := range mirrored {
				next[token] = struct{}{}
			}
		}
	}

	o.snapshot.Store(&next)
	observability.RecordRebuild(time.Since(start).Seconds(), len(next))
	return nil
}

// RunRebuildLoop rebuilds immediately and then on the given interval
// until ctx is cancelled. The interval is the documented staleness bound
// for entries that missed the push path.
func (o *Oracle) RunRebuildLoop(ctx context.Context, interval time.Duration) error {
	if err := o.Rebuild(ctx); err != nil {
		log.Printf("blacklist: startup rebuild: %v", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := o.Rebuild(ctx); err != nil {
				log.Printf("blacklist: rebuild: %v", err)
			}
		}
	}
}

// Size returns the number of cached blacklist entries.
func (o *Oracle) Size() int {
	return len(*o.snapshot.Load())
}

// Counters returns the cumulative (hits, checks) pair since the last
// reset.
func (o *Oracle) Counters() (hits, checks uint64) {
	return o.hits.Load(), o.checks.Load()
}

// ResetCounters zeroes the hit-rate counters. Called by the Metrics
// Aggregator when it closes an observation window, never by the oracle
// itself.
func (o *Oracle) ResetCounters() {
	o.hits.Store(0)
	o.checks.Store(0)
}
