// Package book implements the in-memory Order Book (spec §4.B): a
// coin -> insertion-ordered list of resting limit orders, matched
// against incoming market ticks.
package book

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"tradeforge/internal/apperrors"
	"tradeforge/internal/core"
)

// Book is the single mutable, single-writer order book. All matching
// happens under its lock (§5).
type Book struct {
	mu     sync.Mutex
	orders map[string][]core.RestingOrder
}

// New creates an empty order book.
func New() *Book {
	return &Book{orders: make(map[string][]core.RestingOrder)}
}

// Insert appends a resting order for its coin. Rejects non-positive
// prices (§4.B).
func (b *Book) Insert(o core.RestingOrder) error {
	if o.Price.Sign() <= 0 {
		return apperrors.ErrInvalidOrderParameter
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.orders[o.CoinID] = append(b.orders[o.CoinID], o)
	return nil
}

// MatchAgainst removes and returns every resting order for coinID whose
// price condition is satisfied by marketPrice: buy orders where
// marketPrice <= price, sell orders where marketPrice >= price.
// Removal is stable; the relative order of remaining entries is
// preserved (§4.B, §5).
func (b *Book) MatchAgainst(coinID string, marketPrice decimal.Decimal) []core.RestingOrder {
	b.mu.Lock()
	defer b.mu.Unlock()

	resting := b.orders[coinID]
	if len(resting) == 0 {
		return nil
	}

	var matched []core.RestingOrder
	remaining := resting[:0:0]
	for _, o := range resting {
		isMatch := (o.Side == core.Buy && marketPrice.LessThanOrEqual(o.Price)) ||
			(o.Side == core.Sell && marketPrice.GreaterThanOrEqual(o.Price))
		if isMatch {
			matched = append(matched, o)
		} else {
			remaining = append(remaining, o)
		}
	}

	if len(remaining) == 0 {
		delete(b.orders, coinID)
	} else {
		b.orders[coinID] = remaining
	}
	return matched
}

// Remove deletes a single resting order by id, used when a limit order
// is cancelled or force-exited out from under the book.
func (b *Book) Remove(coinID, orderID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	resting := b.orders[coinID]
	for i, o := range resting {
		if o.ID == orderID {
			b.orders[coinID] = append(resting[:i], resting[i+1:]...)
			return true
		}
	}
	return false
}

// HasOrders reports whether any resting orders exist for coinID —
// used by the matching engine to skip the scan entirely on coins with
// an empty book.
func (b *Book) HasOrders(coinID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.orders[coinID]) > 0
}

// PendingOrderLoader is satisfied by the strategy store: it yields
// every persisted order with status=pending and mode=limit so the book
// can be bootstrapped on engine start (§4.B bootstrap).
type PendingOrderLoader interface {
	LoadPendingLimitOrders(ctx context.Context) ([]core.Order, error)
}

// Bootstrap loads every persisted pending limit order into the book.
// Orders with a non-positive price are skipped with a warning, matching
// the §4.B/§7 "invalid order" disposition.
func (b *Book) Bootstrap(ctx context.Context, store PendingOrderLoader, logger core.Logger) error {
	orders, err := store.LoadPendingLimitOrders(ctx)
	if err != nil {
		return err
	}

	for _, o := range orders {
		if o.PricePerUnit.Sign() <= 0 {
			logger.Warn("skipping pending order with invalid price", "order_id", o.ID, "price", o.PricePerUnit)
			continue
		}
		_ = b.Insert(core.RestingOrder{
			ID:         o.ID,
			UserID:     o.UserID,
			CoinID:     o.CoinID,
			CoinSymbol: o.CoinSymbol,
			Side:       o.Side,
			Quantity:   o.Quantity,
			Price:      o.PricePerUnit,
		})
	}
	return nil
}
