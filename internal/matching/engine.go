// Package matching is the Matching Engine (spec §4.C): owns the feed
// client and the order book, fans out fire-and-forget settlement calls
// on every match, and exposes the read surface the selector and order
// intake use. Grounded on the Rust prototype's matching_engine.rs for
// the tick-batch/match/spawn-settlement shape, reworked so settlement
// runs one in-process Execution Procedure call instead of a second HTTP
// hop (§9: the two steps are now atomic within execution.Executor).
package matching

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"tradeforge/internal/book"
	"tradeforge/internal/core"
	"tradeforge/internal/feed"
)

// Executor is the subset of execution.Executor the engine calls.
type Executor interface {
	Execute(ctx context.Context, orderID string, executionPrice decimal.Decimal) error
}

// Engine owns the feed client, the order book, and the latest-snapshot
// price map.
type Engine struct {
	feed     *feed.Client
	book     *book.Book
	executor Executor
	logger   core.Logger

	mu        sync.RWMutex
	snapshots map[string]core.TickerSnapshot
}

// New builds a Matching Engine over an already-constructed feed client
// and order book.
func New(feedClient *feed.Client, b *book.Book, executor Executor, logger core.Logger) *Engine {
	return &Engine{
		feed:      feedClient,
		book:      b,
		executor:  executor,
		logger:    logger.With("component", "matching"),
		snapshots: make(map[string]core.TickerSnapshot),
	}
}

// Run drives the feed client's reconnect loop and processes every tick
// batch it hands over (§4.A, §4.C). Blocks until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	return e.feed.Run(ctx, e.onBatch)
}

// onBatch is the feed.BatchHandler: the book's single writer (§5).
func (e *Engine) onBatch(batch []feed.TickerUpdate) {
	for _, u := range batch {
		e.mu.Lock()
		e.snapshots[u.CoinID] = u.Snapshot
		e.mu.Unlock()

		if !e.book.HasOrders(u.CoinID) {
			continue
		}
		receivedAt := time.Now()
		matched := e.book.MatchAgainst(u.CoinID, u.Snapshot.CurrentPrice)
		for _, order := range matched {
			e.logger.Info("order matched",
				"order_id", order.ID, "side", order.Side, "limit_price", order.Price,
				"market_price", u.Snapshot.CurrentPrice, "elapsed", time.Since(receivedAt))
			go e.settle(order.ID, u.Snapshot.CurrentPrice)
		}
	}
}

// settle runs the Execution Procedure fire-and-forget from the tick
// loop's perspective (§4.C step 2: the tick loop must never block on
// settlement).
func (e *Engine) settle(orderID string, executionPrice decimal.Decimal) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.executor.Execute(ctx, orderID, executionPrice); err != nil {
		e.logger.Error("settlement failed", "order_id", orderID, "error", err)
	}
}

// AddOrder inserts a resting limit order into the book (§4.C public
// surface; also used by the automation engine to place limit sells).
func (e *Engine) AddOrder(o core.RestingOrder) error {
	return e.book.Insert(o)
}

// Remove cancels a resting order, used by the automation engine's
// force-exit path to pull a pending limit sell before replacing it.
func (e *Engine) Remove(coinID, orderID string) bool {
	return e.book.Remove(coinID, orderID)
}

// GetPrices returns a snapshot copy of the price map.
func (e *Engine) GetPrices() map[string]decimal.Decimal {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]decimal.Decimal, len(e.snapshots))
	for coinID, snap := range e.snapshots {
		out[coinID] = snap.CurrentPrice
	}
	return out
}

// GetPrice returns the latest known price for one coin, ok=false if
// never seen.
func (e *Engine) GetPrice(coinID string) (decimal.Decimal, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	snap, ok := e.snapshots[coinID]
	if !ok {
		return decimal.Zero, false
	}
	return snap.CurrentPrice, true
}

// GetTopVolumeCoins returns the n coins with the highest 24h quote
// volume, filtering out non-positive price or volume (§4.C public
// surface). The return type satisfies selector.PriceSource, which the
// selector package defines independently to avoid an import cycle.
func (e *Engine) GetTopVolumeCoins(n int) []core.TickerEntry {
	e.mu.RLock()
	entries := make([]core.TickerEntry, 0, len(e.snapshots))
	for coinID, snap := range e.snapshots {
		if snap.CurrentPrice.Sign() <= 0 || snap.QuoteVolume24h.Sign() <= 0 {
			continue
		}
		entries = append(entries, core.TickerEntry{CoinID: coinID, Snapshot: snap})
	}
	e.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Snapshot.QuoteVolume24h.GreaterThan(entries[j].Snapshot.QuoteVolume24h)
	})
	if len(entries) > n {
		entries = entries[:n]
	}
	return entries
}
