package store

import (
	"context"

	"github.com/shopspring/decimal"

	"tradeforge/internal/core"
)

// Tx is the set of database primitives the Execution Procedure (§4.D)
// composes inside a single transaction. All methods operate against the
// transaction's connection/lock scope, not the store's pool.
type Tx interface {
	// GetOrderForUpdate loads the order row for settlement.
	GetOrderForUpdate(ctx context.Context, orderID string) (core.Order, bool, error)

	// LockOrCreateProfile locks the owner's profile row FOR UPDATE
	// (SQLite: within the enclosing BEGIN IMMEDIATE transaction),
	// creating it with decimalutil.SeedBalance if absent (§4.D step 2).
	LockOrCreateProfile(ctx context.Context, userID string) (core.Profile, error)

	// SetProfileBalance writes the new balance for userID.
	SetProfileBalance(ctx context.Context, userID string, balance decimal.Decimal) error

	// GetHoldingForUpdate locks a (user, coin) holding row, ok=false if
	// absent.
	GetHoldingForUpdate(ctx context.Context, userID, coinID string) (core.Holding, bool, error)

	// UpsertHolding inserts or replaces a holding row wholesale.
	UpsertHolding(ctx context.Context, h core.Holding) error

	// DeleteHolding removes a (user, coin) holding row.
	DeleteHolding(ctx context.Context, userID, coinID string) error

	// CompleteOrder marks an order completed with its final execution
	// price/total and completion time.
	CompleteOrder(ctx context.Context, orderID string, price, total decimal.Decimal) error

	// InsertTransaction writes the settlement audit record (§3, §6).
	InsertTransaction(ctx context.Context, t core.Transaction) error
}
