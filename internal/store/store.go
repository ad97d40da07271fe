// Package store defines the Strategy Store contract (spec §4.I): the
// authoritative relational rows for strategies, orders, holdings,
// profiles, transactions and strategy logs. The SQLite-backed
// implementation lives in sqlite.go, grounded on the teacher's
// market_maker/internal/engine/simple/store_sqlite.go.
package store

import (
	"context"

	"tradeforge/internal/core"
)

// Store is the full persistence surface used by the matching and
// automation engines.
type Store interface {
	// Migrate runs the idempotent schema migrations (§4.I).
	Migrate(ctx context.Context) error

	// LoadPendingLimitOrders satisfies book.PendingOrderLoader (§4.B
	// bootstrap).
	LoadPendingLimitOrders(ctx context.Context) ([]core.Order, error)

	// InsertOrder persists a new order row and returns its id.
	InsertOrder(ctx context.Context, o core.Order) (string, error)

	// GetOrder loads an order by id.
	GetOrder(ctx context.Context, id string) (core.Order, bool, error)

	// SetOrderStatus updates status-only fields (cancel/fail paths). The
	// matching engine does not call it: completion is written inside the
	// execution transaction (Tx.CompleteOrder).
	SetOrderStatus(ctx context.Context, id string, status core.OrderStatus) error

	// RunInTx executes fn within a single serializable, row-locking
	// database transaction and commits iff fn returns nil. The
	// execution package (§4.D) is the only caller; it composes Tx
	// primitives into the buy/sell settlement procedure.
	RunInTx(ctx context.Context, fn func(Tx) error) error

	// GetHolding loads a (user, coin) holding, ok=false if absent.
	GetHolding(ctx context.Context, userID, coinID string) (core.Holding, bool, error)

	// EnsureProfile returns the user's profile, creating one with the
	// seed balance if absent (§4.D step 2).
	EnsureProfile(ctx context.Context, userID string) (core.Profile, error)

	// Strategy rows.
	InsertStrategy(ctx context.Context, s core.Strategy) (string, error)
	GetStrategy(ctx context.Context, id string) (core.Strategy, bool, error)
	ListRunningStrategies(ctx context.Context) ([]core.Strategy, error)
	UpdateStrategy(ctx context.Context, s core.Strategy) error

	// AppendStrategyLog writes one audit-log row (§3 Strategy Log).
	AppendStrategyLog(ctx context.Context, l core.StrategyLog) error
}
