package pricefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// WSConfig configures WebSocket feed behavior.
type WSConfig struct {
	// ReconnectDelay is the initial delay before a reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay caps the delay between reconnect attempts.
	MaxReconnectDelay time.Duration
	// PingInterval is the interval for sending ping frames.
	PingInterval time.Duration
	// WriteTimeout is the timeout for writing messages.
	WriteTimeout time.Duration
}

// DefaultWSConfig returns default WebSocket configuration.
func DefaultWSConfig() WSConfig {
	return WSConfig{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

// wsRequest is the subscribe/unsubscribe frame sent to the feed endpoint.
type wsRequest struct {
	Op    string `json:"op"`
	Token string `json:"token"`
}

// wsTick is one inbound price update.
type wsTick struct {
	Token string  `json:"token"`
	Price float64 `json:"price"`
	TsMs  int64   `json:"ts_ms"`
}

// WSFeed implements Feed over a price-tick WebSocket endpoint. It owns a
// single connection, fans ticks out to per-token subscribers, and
// reconnects with doubling backoff, resubscribing to active tokens.
type WSFeed struct {
	endpoint string
	config   WSConfig

	conn   *websocket.Conn
	connMu sync.Mutex
	closed atomic.Bool

	subsMu sync.RWMutex
	subs   map[string][]chan Sample

	done chan struct{}
	wg   sync.WaitGroup
}

// NewWSFeed connects to the endpoint and starts the read and ping loops.
func NewWSFeed(ctx context.Context, endpoint string, config *WSConfig) (*WSFeed, error) {
	cfg := DefaultWSConfig()
	if config != nil {
		cfg = *config
	}

	f := &WSFeed{
		endpoint: endpoint,
		config:   cfg,
		subs:     make(map[string][]chan Sample),
		done:     make(chan struct{}),
	}

	if err := f.connect(ctx); err != nil {
		return nil, err
	}

	f.wg.Add(2)
	go f.readLoop()
	go f.pingLoop()

	return f, nil
}

// connect establishes the WebSocket connection.
func (f *WSFeed) connect(ctx context.Context) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}
	f.conn = conn
	return nil
}

// Subscribe starts streaming price samples for the token. The channel is
// closed when the feed shuts down.
func (f *WSFeed) Subscribe(ctx context.Context, tokenAddress string) (<-chan Sample, error) {
	if f.closed.Load() {
		return nil, fmt.Errorf("feed closed")
	}

	ch := make(chan Sample, 64)

	f.subsMu.Lock()
	first := len(f.subs[tokenAddress]) == 0
	f.subs[tokenAddress] = append(f.subs[tokenAddress], ch)
	f.subsMu.Unlock()

	if first {
		if err := f.send(wsRequest{Op: "subscribe", Token: tokenAddress}); err != nil {
			f.removeSub(tokenAddress, ch)
			return nil, err
		}
	}

	go func() {
		select {
		case <-ctx.Done():
		case <-f.done:
		}
		f.removeSub(tokenAddress, ch)
		close(ch)
	}()

	return ch, nil
}

// Close shuts the feed down and closes the connection.
func (f *WSFeed) Close() error {
	if !f.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(f.done)

	f.connMu.Lock()
	err := f.conn.Close()
	f.connMu.Unlock()

	f.wg.Wait()
	return err
}

func (f *WSFeed) send(req wsRequest) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()

	f.conn.SetWriteDeadline(time.Now().Add(f.config.WriteTimeout))
	if err := f.conn.WriteJSON(req); err != nil {
		return fmt.Errorf("websocket write: %w", err)
	}
	return nil
}

// readLoop reads ticks and dispatches them until shutdown, reconnecting
// on read errors.
func (f *WSFeed) readLoop() {
	defer f.wg.Done()

	for {
		select {
		case <-f.done:
			return
		default:
		}

		f.connMu.Lock()
		conn := f.conn
		f.connMu.Unlock()

		_, data, err := conn.ReadMessage()
		if err != nil {
			if f.closed.Load() {
				return
			}
			f.reconnect()
			continue
		}

		var tick wsTick
		if err := json.Unmarshal(data, &tick); err != nil {
			// Non-tick frame (ack, heartbeat); skip.
			continue
		}
		f.dispatch(tick)
	}
}

// pingLoop sends ping frames to keep the connection alive.
func (f *WSFeed) pingLoop() {
	defer f.wg.Done()

	ticker := time.NewTicker(f.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-f.done:
			return
		case <-ticker.C:
			f.connMu.Lock()
			f.conn.SetWriteDeadline(time.Now().Add(f.config.WriteTimeout))
			err := f.conn.WriteMessage(websocket.PingMessage, nil)
			f.connMu.Unlock()
			if err != nil && !f.closed.Load() {
				log.Printf("pricefeed: ping failed: %v", err)
			}
		}
	}
}

// reconnect re-establishes the connection with doubling backoff and
// resubscribes to all active tokens.
func (f *WSFeed) reconnect() {
	delay := f.config.ReconnectDelay
	for {
		select {
		case <-f.done:
			return
		case <-time.After(delay):
		}

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := f.connect(ctx)
		cancel()
		if err == nil {
			break
		}

		log.Printf("pricefeed: reconnect failed: %v", err)
		delay *= 2
		if delay > f.config.MaxReconnectDelay {
			delay = f.config.MaxReconnectDelay
		}
	}

	f.subsMu.RLock()
	tokens := make([]string, 0, len(f.subs))
	for token := range f.subs {
		tokens = append(tokens, token)
	}
	f.subsMu.RUnlock()

	for _, token := range tokens {
		if err := f.send(wsRequest{Op: "subscribe", Token: token}); err != nil {
			log.Printf("pricefeed: resubscribe %s failed: %v", token, err)
		}
	}
}

func (f *WSFeed) dispatch(tick wsTick) {
	sample := Sample{
		TokenAddress: tick.Token,
		Price:        tick.Price,
		Time:         time.UnixMilli(tick.TsMs),
	}

	// Sends happen under the read lock: removeSub takes the write lock
	// before the channel is closed, so no send can race a close. Sends
	// are non-blocking, so holding the lock here is cheap.
	f.subsMu.RLock()
	defer f.subsMu.RUnlock()

	for _, ch := range f.subs[tick.Token] {
		select {
		case ch <- sample:
		default:
			// Subscriber lagging; drop rather than block the reader.
		}
	}
}

func (f *WSFeed) removeSub(tokenAddress string, target chan Sample) {
	f.subsMu.Lock()
	defer f.subsMu.Unlock()

	subs := f.subs[tokenAddress]
	for i, ch := range subs {
		if ch == target {
			f.subs[tokenAddress] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(f.subs[tokenAddress]) == 0 {
		delete(f.subs, tokenAddress)
	}
}

var _ Feed = (*WSFeed)(nil)
