// Package core defines the shared domain types used across the matching
// and automation engines.
package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide identifies which side of the book an order rests on.
type OrderSide string

const (
	Buy  OrderSide = "buy"
	Sell OrderSide = "sell"
)

// OrderMode distinguishes resting limit orders from immediately-filled
// market orders.
type OrderMode string

const (
	Limit  OrderMode = "limit"
	Market OrderMode = "market"
)

// OrderStatus is the lifecycle state of a persisted order row.
type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderCompleted OrderStatus = "completed"
	OrderCancelled OrderStatus = "cancelled"
	OrderFailed    OrderStatus = "failed"
)

// StrategyStatus is the lifecycle state of a strategy row.
type StrategyStatus string

const (
	StrategyRunning      StrategyStatus = "running"
	StrategyStopped      StrategyStatus = "stopped"
	StrategyCompleted    StrategyStatus = "completed"
	StrategyForceStopped StrategyStatus = "force_stopped"
)

// ExitStyle selects which exit variant a strategy runs under. Immutable
// after creation — see SPEC_FULL.md §H supplement.
type ExitStyle string

const (
	TrailingStopExit ExitStyle = "trailing_stop"
	FixedTargetExit  ExitStyle = "fixed_target"
)

// Order is a unit of execution, buy or sell, limit or market.
type Order struct {
	ID            string
	UserID        string
	CoinID        string // lowercase
	CoinSymbol    string // uppercase
	Side          OrderSide
	Mode          OrderMode
	Quantity      decimal.Decimal
	PricePerUnit  decimal.Decimal // required for limit; set at fill for market
	TotalAmount   decimal.Decimal
	Status        OrderStatus
	CreatedAt     time.Time
	CompletedAt   *time.Time
}

// Holding is a (user, coin) aggregated position.
type Holding struct {
	UserID          string
	CoinID          string
	CoinSymbol      string
	Quantity        decimal.Decimal
	AverageBuyPrice decimal.Decimal
	LastUpdated     time.Time
}

// Profile is a user's tradeable balance.
type Profile struct {
	ID          string
	DisplayName string
	Email       string
	Balance     decimal.Decimal
}

// TickerEntry pairs a coin id with its latest ticker snapshot, the
// shape the Matching Engine's top-volume listing and the Strategy
// Selector's price source share (§4.C, §4.G).
type TickerEntry struct {
	CoinID   string
	Snapshot TickerSnapshot
}

// TickerSnapshot is the latest known market state for one coin.
type TickerSnapshot struct {
	CurrentPrice   decimal.Decimal
	OpenPrice24h   decimal.Decimal
	QuoteVolume24h decimal.Decimal
}

// Change24h returns (current-open)/open, zero if open is zero.
func (t TickerSnapshot) Change24h() decimal.Decimal {
	if t.OpenPrice24h.IsZero() {
		return decimal.Zero
	}
	return t.CurrentPrice.Sub(t.OpenPrice24h).Div(t.OpenPrice24h)
}

// RestingOrder is the in-memory book projection of a pending limit order.
type RestingOrder struct {
	ID         string
	UserID     string
	CoinID     string
	CoinSymbol string
	Side       OrderSide
	Quantity   decimal.Decimal
	Price      decimal.Decimal
}

// Strategy is the long-lived automated-trading intention.
type Strategy struct {
	ID        string
	OwnerID   string
	ExitStyle ExitStyle

	// Immutable parameters
	NotionalAmount    decimal.Decimal
	ProfitTargetPct   decimal.Decimal
	TotalIterations   int
	DurationMinutes   int
	StartedAt         time.Time

	// Lifecycle
	Status              StrategyStatus
	IterationsCompleted int

	// Position state, all zero-value/nil when idle
	CurrentCoinID   *string
	EntryPrice      decimal.Decimal
	HighWaterMark   decimal.Decimal
	CurrentOrderID  *string
}

// EndTime is the computed terminal bound start + duration.
func (s Strategy) EndTime() time.Time {
	return s.StartedAt.Add(time.Duration(s.DurationMinutes) * time.Minute)
}

// HasPosition reports whether the strategy currently holds a coin.
func (s Strategy) HasPosition() bool {
	return s.CurrentCoinID != nil && *s.CurrentCoinID != ""
}

// StrategyLogAction enumerates the strategy audit-log action kinds.
type StrategyLogAction string

const (
	ActionBuy       StrategyLogAction = "buy"
	ActionSell      StrategyLogAction = "sell"
	ActionForceSell StrategyLogAction = "sell_force"
)

// StrategyLog is an append-only audit record of a strategy action.
type StrategyLog struct {
	StrategyID string
	Action     StrategyLogAction
	CoinID     string
	CoinSymbol string
	Price      decimal.Decimal
	Quantity   decimal.Decimal
	Amount     decimal.Decimal
	Profit     *decimal.Decimal // nil for buys
	LoggedAt   time.Time
}

// Trade is a single recent exchange trade used for VWAP, flow analysis,
// and the recent/24h-average volume ratio.
type Trade struct {
	Price        decimal.Decimal
	Quantity     decimal.Decimal
	IsBuyerMaker bool // true => aggressor was a seller
	Timestamp    time.Time
}

// Transaction is the settlement audit record written by the Execution
// Procedure (§3, §6).
type Transaction struct {
	ID           string
	UserID       string
	OrderID      string
	Type         OrderSide
	CoinID       string
	CoinSymbol   string
	Quantity     decimal.Decimal
	PricePerUnit decimal.Decimal
	TotalAmount  decimal.Decimal
	CreatedAt    time.Time
}

// BookLevel is one price/quantity level of an order-book side.
type BookLevel struct {
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

// Depth is the top-of-book snapshot for a coin.
type Depth struct {
	Bids []BookLevel
	Asks []BookLevel
}
