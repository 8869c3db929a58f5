// Package pricefeed supplies realized price samples for tokens under
// observation. The feed is a collaborator: prices are consumed here,
// never computed.
package pricefeed

import (
	"context"
	"sync"
	"time"
)

// Sample is one observed price point for a token.
type Sample struct {
	TokenAddress string
	Price        float64
	Time         time.Time
}

// Feed delivers price samples for a token until the subscription context
// is cancelled. The returned channel is closed when the feed stops
// producing; consumers must tolerate early closure.
type Feed interface {
	Subscribe(ctx context.Context, tokenAddress string) (<-chan Sample, error)
}

// ManualFeed is an in-process Feed fed by the caller. Used in tests and
// when the trading engine pushes samples directly instead of over a
// WebSocket.
type ManualFeed struct {
	mu   sync.Mutex
	subs map[string][]chan Sample
}

// NewManualFeed creates an empty ManualFeed.
func NewManualFeed() *ManualFeed {
	return &ManualFeed{subs: make(map[string][]chan Sample)}
}

// Subscribe registers a subscriber for the token.
func (f *ManualFeed) Subscribe(ctx context.Context, tokenAddress string) (<-chan Sample, error) {
	ch := make(chan Sample, 64)

	f.mu.Lock()
	f.subs[tokenAddress] = append(f.subs[tokenAddress], ch)
	f.mu.Unlock()

	go func() {
		<-ctx.Done()
		f.unsubscribe(tokenAddress, ch)
	}()

	return ch, nil
}

// Publish delivers a sample to all subscribers of the token. Slow
// subscribers drop samples rather than block the publisher.
func (f *ManualFeed) Publish(s Sample) {
	// Sends stay under the lock so Close cannot close a channel with a
	// send in flight; sends are non-blocking.
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, ch := range f.subs[s.TokenAddress] {
		select {
		case ch <- s:
		default:
		}
	}
}

// Close closes all subscriber channels for the token, signalling that the
// feed has stopped producing.
func (f *ManualFeed) Close(tokenAddress string) {
	f.mu.Lock()
	subs := f.subs[tokenAddress]
	delete(f.subs, tokenAddress)
	f.mu.Unlock()

	for _, ch := range subs {
		close(ch)
	}
}

func (f *ManualFeed) unsubscribe(tokenAddress string, target chan Sample) {
	f.mu.Lock()
	defer f.mu.Unlock()

	subs := f.subs[tokenAddress]
	for i, ch := range subs {
		if ch == target {
			f.subs[tokenAddress] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

var _ Feed = (*ManualFeed)(nil)
