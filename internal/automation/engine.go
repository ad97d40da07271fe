// Package automation is the Strategy State Machine (spec §4.H): a
// 2-second tick loop over every running strategy, dispatching on
// position state and driving both the trailing-stop and fixed-target
// exit variants. Grounded on the Rust prototype's services/automation.rs
// for the tick/dispatch shape, enriched per §4.H's fuller description
// (selector-driven entry, ATR trailing stop, force-exit, outer backoff).
package automation

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"tradeforge/internal/apperrors"
	"tradeforge/internal/core"
	"tradeforge/internal/indicators"
	"tradeforge/internal/retry"
	"tradeforge/internal/store"
)

// Executor is the subset of execution.Executor the engine calls.
type Executor interface {
	Execute(ctx context.Context, orderID string, executionPrice decimal.Decimal) error
}

// OrderBook is the subset of the Matching Engine used to register and
// cancel resting orders placed by strategies.
type OrderBook interface {
	AddOrder(o core.RestingOrder) error
	Remove(coinID, orderID string) bool
}

// PriceSource is the subset of the Matching Engine used to read the
// current price of a coin a strategy holds.
type PriceSource interface {
	GetPrice(coinID string) (decimal.Decimal, bool)
}

// Klines is the subset of the Market Data Fetcher used to compute ATR.
type Klines interface {
	Klines(ctx context.Context, symbol, interval string, limit int) []decimal.Decimal
}

// Candidate is the shape the selector hands back; duplicated here
// (rather than importing internal/selector) to keep automation's
// dependency graph one-directional — cmd/engine wires the concrete
// selector.Selector through the Selector interface below.
type Candidate struct {
	CoinID       string
	CurrentPrice decimal.Decimal
}

// Selector is the subset of the Strategy Selector the engine calls.
type Selector interface {
	Select(ctx context.Context) (*Candidate, error)
}

// Engine runs the strategy state machine.
type Engine struct {
	store       store.Store
	executor    Executor
	book        OrderBook
	prices      PriceSource
	klines      Klines
	selector    Selector
	logger      core.Logger
	quoteSuffix string

	tickInterval time.Duration
	failures     int
}

// New builds an automation Engine.
func New(s store.Store, executor Executor, book OrderBook, prices PriceSource, klines Klines, sel Selector, logger core.Logger, quoteSuffix string) *Engine {
	return &Engine{
		store: s, executor: executor, book: book, prices: prices, klines: klines, selector: sel,
		logger: logger.With("component", "automation"), quoteSuffix: quoteSuffix,
		tickInterval: 2 * time.Second,
	}
}

// SetTickInterval overrides the default 2-second tick, e.g. from config.
func (e *Engine) SetTickInterval(d time.Duration) {
	if d > 0 {
		e.tickInterval = d
	}
}

// Run ticks every tickInterval (2 seconds unless overridden) until ctx
// is cancelled, applying linear
// outer-loop backoff (§4.H) when a full cycle fails.
func (e *Engine) Run(ctx context.Context) error {
	for {
		if err := e.processStrategies(ctx); err != nil {
			e.failures++
			delay := retry.LinearSchedule(e.failures)
			e.logger.Error("automation cycle failed, backing off", "error", err, "delay", delay, "consecutive_failures", e.failures)
			if !sleepOrDone(ctx, delay) {
				return ctx.Err()
			}
			continue
		}
		e.failures = 0
		if !sleepOrDone(ctx, e.tickInterval) {
			return ctx.Err()
		}
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// processStrategies is one tick: snapshot running strategies, then
// dispatch each per §4.H's state table. A per-strategy error is logged
// and the cycle continues; only a failure to even list strategies
// aborts the whole cycle (triggering the outer backoff).
func (e *Engine) processStrategies(ctx context.Context) error {
	strategies, err := e.store.ListRunningStrategies(ctx)
	if err != nil {
		return err
	}

	for _, st := range strategies {
		if e.terminate(ctx, &st) {
			continue
		}

		var procErr error
		switch {
		case st.CurrentOrderID != nil:
			procErr = e.checkOrderStatus(ctx, &st)
		case st.CurrentCoinID != nil:
			procErr = e.handleActiveTrade(ctx, &st)
		default:
			procErr = e.handleEntry(ctx, &st)
		}
		if procErr != nil {
			e.logger.Error("strategy cycle step failed", "strategy_id", st.ID, "error", procErr)
		}
	}
	return nil
}

// terminate applies §4.H's termination checks, stopping the strategy
// and persisting it if either fires.
func (e *Engine) terminate(ctx context.Context, st *core.Strategy) bool {
	if time.Now().Before(st.EndTime()) && st.IterationsCompleted < st.TotalIterations {
		return false
	}
	st.Status = core.StrategyCompleted
	if err := e.store.UpdateStrategy(ctx, *st); err != nil {
		e.logger.Error("failed to persist strategy completion", "strategy_id", st.ID, "error", err)
	}
	return true
}

func (e *Engine) symbol(coinID string) string {
	return strings.ToUpper(coinID) + strings.ToUpper(e.quoteSuffix)
}

// handleEntry is §4.H.3: select a candidate and open a position.
func (e *Engine) handleEntry(ctx context.Context, st *core.Strategy) error {
	fresh, ok, err := e.store.GetStrategy(ctx, st.ID)
	if err != nil {
		return err
	}
	if !ok || fresh.Status != core.StrategyRunning {
		return nil // race guard: stop/force-exit landed between snapshot and now
	}

	candidate, err := e.selector.Select(ctx)
	if err != nil {
		return err
	}
	if candidate == nil {
		return nil
	}

	quantity := st.NotionalAmount.Div(candidate.CurrentPrice)
	orderID, err := e.store.InsertOrder(ctx, core.Order{
		UserID: st.OwnerID, CoinID: candidate.CoinID, CoinSymbol: strings.ToUpper(candidate.CoinID),
		Side: core.Buy, Mode: core.Market, Quantity: quantity, PricePerUnit: candidate.CurrentPrice,
		TotalAmount: st.NotionalAmount, Status: core.OrderPending, CreatedAt: time.Now(),
	})
	if err != nil {
		return err
	}
	if err := e.executor.Execute(ctx, orderID, candidate.CurrentPrice); err != nil {
		if !errors.Is(err, apperrors.ErrInsufficientBalance) {
			return err
		}
		e.logger.Warn("entry aborted, insufficient balance", "strategy_id", st.ID, "coin_id", candidate.CoinID)
		return nil
	}

	if err := e.logAction(ctx, st.ID, core.ActionBuy, candidate.CoinID, candidate.CurrentPrice, quantity, st.NotionalAmount, nil); err != nil {
		return err
	}

	coinID := candidate.CoinID
	st.CurrentCoinID = &coinID
	st.EntryPrice = candidate.CurrentPrice
	st.HighWaterMark = candidate.CurrentPrice

	if st.ExitStyle == core.FixedTargetExit {
		if err := e.placeTargetSell(ctx, st, quantity); err != nil {
			return err
		}
	}

	return e.store.UpdateStrategy(ctx, *st)
}

// placeTargetSell is the fixed-target variant's half of §4.H.3: a
// pending limit sell registered with the book at entry*(1+target%).
func (e *Engine) placeTargetSell(ctx context.Context, st *core.Strategy, quantity decimal.Decimal) error {
	target := st.EntryPrice.Mul(decimal.NewFromInt(1).Add(st.ProfitTargetPct.Div(decimal.NewFromInt(100))))

	orderID, err := e.store.InsertOrder(ctx, core.Order{
		UserID: st.OwnerID, CoinID: *st.CurrentCoinID, CoinSymbol: strings.ToUpper(*st.CurrentCoinID),
		Side: core.Sell, Mode: core.Limit, Quantity: quantity, PricePerUnit: target,
		TotalAmount: target.Mul(quantity), Status: core.OrderPending, CreatedAt: time.Now(),
	})
	if err != nil {
		return err
	}
	if err := e.book.AddOrder(core.RestingOrder{
		ID: orderID, UserID: st.OwnerID, CoinID: *st.CurrentCoinID, CoinSymbol: strings.ToUpper(*st.CurrentCoinID),
		Side: core.Sell, Quantity: quantity, Price: target,
	}); err != nil {
		return err
	}
	st.CurrentOrderID = &orderID
	return nil
}

// checkOrderStatus is §4.H.1: the fixed-target variant's pending-sell
// poll.
func (e *Engine) checkOrderStatus(ctx context.Context, st *core.Strategy) error {
	order, ok, err := e.store.GetOrder(ctx, *st.CurrentOrderID)
	if err != nil {
		return err
	}
	if !ok {
		st.CurrentOrderID = nil
		return e.store.UpdateStrategy(ctx, *st)
	}

	switch order.Status {
	case core.OrderCompleted:
		profit := order.PricePerUnit.Sub(st.EntryPrice).Mul(order.Quantity)
		if err := e.logAction(ctx, st.ID, core.ActionSell, order.CoinID, order.PricePerUnit, order.Quantity, order.TotalAmount, &profit); err != nil {
			return err
		}
		st.CurrentCoinID = nil
		st.CurrentOrderID = nil
		st.EntryPrice = decimal.Zero
		st.HighWaterMark = decimal.Zero
		st.IterationsCompleted++
	case core.OrderCancelled, core.OrderFailed:
		st.CurrentOrderID = nil // resume monitoring; handleActiveTrade re-places the sell next tick
	default:
		return nil // still pending, nothing to do this tick
	}
	return e.store.UpdateStrategy(ctx, *st)
}

// handleActiveTrade is §4.H.2: the trailing-stop variant's per-tick
// stop/target evaluation, plus the fixed-target variant's re-place
// path after a cancelled sell.
func (e *Engine) handleActiveTrade(ctx context.Context, st *core.Strategy) error {
	current, ok := e.prices.GetPrice(*st.CurrentCoinID)
	if !ok {
		return nil
	}

	if st.ExitStyle == core.FixedTargetExit {
		quantity := st.NotionalAmount.Div(st.EntryPrice)
		return e.placeTargetSellAndPersist(ctx, st, quantity)
	}

	if current.GreaterThan(st.HighWaterMark) {
		st.HighWaterMark = current
	}

	closes := e.klines.Klines(ctx, e.symbol(*st.CurrentCoinID), "1m", 20)
	atr := indicators.ATRApprox(closes, 14)

	stop := trailingStop(st.EntryPrice, st.HighWaterMark, current, atr)
	target := st.EntryPrice.Mul(decimal.NewFromInt(1).Add(st.ProfitTargetPct.Div(decimal.NewFromInt(100))))

	if current.GreaterThan(stop) && current.LessThan(target) {
		return e.store.UpdateStrategy(ctx, *st) // persist the updated high-water mark even without an exit
	}

	quantity := st.NotionalAmount.Div(st.EntryPrice)
	orderID, err := e.store.InsertOrder(ctx, core.Order{
		UserID: st.OwnerID, CoinID: *st.CurrentCoinID, CoinSymbol: strings.ToUpper(*st.CurrentCoinID),
		Side: core.Sell, Mode: core.Market, Quantity: quantity, PricePerUnit: current,
		TotalAmount: current.Mul(quantity), Status: core.OrderPending, CreatedAt: time.Now(),
	})
	if err != nil {
		return err
	}
	if err := e.executor.Execute(ctx, orderID, current); err != nil {
		return err
	}

	profit := current.Sub(st.EntryPrice).Mul(quantity)
	if err := e.logAction(ctx, st.ID, core.ActionSell, *st.CurrentCoinID, current, quantity, current.Mul(quantity), &profit); err != nil {
		return err
	}

	st.CurrentCoinID = nil
	st.EntryPrice = decimal.Zero
	st.HighWaterMark = decimal.Zero
	st.CurrentOrderID = nil
	st.IterationsCompleted++
	return e.store.UpdateStrategy(ctx, *st)
}

func (e *Engine) placeTargetSellAndPersist(ctx context.Context, st *core.Strategy, quantity decimal.Decimal) error {
	if err := e.placeTargetSell(ctx, st, quantity); err != nil {
		return err
	}
	return e.store.UpdateStrategy(ctx, *st)
}

// trailingStop implements §4.H.2's stop formula. Above a 0.5% profit it
// trails the high-water mark; below it, it protects the entry. The
// spec lists hwm*0.995 as an ATR=0 fallback for the trailing branch and
// entry*0.97 for the initial-stop branch; both are applied here on
// their respective branch since neither branch can borrow the other's
// reference price without producing a stop detached from the strategy's
// current state.
func trailingStop(entry, hwm, current, atr decimal.Decimal) decimal.Decimal {
	profitPct := current.Sub(entry).Div(entry).Mul(decimal.NewFromInt(100))

	if profitPct.GreaterThan(decimal.NewFromFloat(0.5)) {
		if atr.IsZero() {
			return hwm.Mul(decimal.NewFromFloat(0.995))
		}
		stop := hwm.Sub(decimal.NewFromInt(2).Mul(atr))
		floor := current.Mul(decimal.NewFromFloat(0.999))
		if stop.GreaterThan(current) {
			return floor
		}
		return stop
	}

	if atr.IsZero() {
		return entry.Mul(decimal.NewFromFloat(0.97))
	}
	return entry.Sub(decimal.NewFromInt(3).Mul(atr))
}

// ForceExit implements §4.H's force_exit: cancel any tracked pending
// order and, if a position is open, insert a pending market sell for
// the remaining notional and mark the strategy force-stopped.
func (e *Engine) ForceExit(ctx context.Context, strategyID string) error {
	st, ok, err := e.store.GetStrategy(ctx, strategyID)
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.ErrStrategyNotFound
	}

	if st.CurrentOrderID != nil {
		if st.CurrentCoinID != nil {
			e.book.Remove(*st.CurrentCoinID, *st.CurrentOrderID)
		}
		if err := e.store.SetOrderStatus(ctx, *st.CurrentOrderID, core.OrderCancelled); err != nil {
			return err
		}
		st.CurrentOrderID = nil
	}

	if st.CurrentCoinID != nil {
		current, ok := e.prices.GetPrice(*st.CurrentCoinID)
		if !ok {
			current = st.EntryPrice
		}
		quantity := st.NotionalAmount.Div(st.EntryPrice)
		orderID, err := e.store.InsertOrder(ctx, core.Order{
			UserID: st.OwnerID, CoinID: *st.CurrentCoinID, CoinSymbol: strings.ToUpper(*st.CurrentCoinID),
			Side: core.Sell, Mode: core.Market, Quantity: quantity, PricePerUnit: current,
			TotalAmount: current.Mul(quantity), Status: core.OrderPending, CreatedAt: time.Now(),
		})
		if err != nil {
			return err
		}
		if err := e.book.AddOrder(core.RestingOrder{
			ID: orderID, UserID: st.OwnerID, CoinID: *st.CurrentCoinID, CoinSymbol: strings.ToUpper(*st.CurrentCoinID),
			Side: core.Sell, Quantity: quantity, Price: current,
		}); err != nil {
			return err
		}
		if err := e.logAction(ctx, st.ID, core.ActionForceSell, *st.CurrentCoinID, current, quantity, current.Mul(quantity), nil); err != nil {
			return err
		}
	}

	st.Status = core.StrategyForceStopped
	return e.store.UpdateStrategy(ctx, st)
}

func (e *Engine) logAction(ctx context.Context, strategyID string, action core.StrategyLogAction, coinID string, price, quantity, amount decimal.Decimal, profit *decimal.Decimal) error {
	return e.store.AppendStrategyLog(ctx, core.StrategyLog{
		StrategyID: strategyID, Action: action, CoinID: coinID, CoinSymbol: strings.ToUpper(coinID),
		Price: price, Quantity: quantity, Amount: amount, Profit: profit, LoggedAt: time.Now(),
	})
}
