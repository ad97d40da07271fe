// Package execution implements the Execution Procedure (spec §4.D): the
// single atomic balance/holdings/transaction mutation invoked by both
// the Matching Engine and the Automation Engine whenever a trade
// completes. Grounded on the Rust prototype's
// original_source/backend/src/services/execution.rs and the teacher's
// transactional-settlement style in
// market_maker/internal/trading/execution/executor.go.
package execution

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"tradeforge/internal/apperrors"
	"tradeforge/internal/core"
	"tradeforge/internal/decimalutil"
	"tradeforge/internal/store"
)

// Executor runs the Execution Procedure against a Store.
type Executor struct {
	store  store.Store
	logger core.Logger
}

// New builds an Executor over the given store.
func New(s store.Store, logger core.Logger) *Executor {
	return &Executor{store: s, logger: logger.With("component", "execution")}
}

// Execute settles orderID at executionPrice inside one transaction
// (§4.D steps 1-6). A missing order is a no-op, not an error (step 1).
// A buy that would overdraw the balance aborts the whole transaction
// and returns apperrors.ErrInsufficientBalance; the order is left
// untouched for the caller to observe on its next cycle (§7, §9).
func (e *Executor) Execute(ctx context.Context, orderID string, executionPrice decimal.Decimal) error {
	err := e.store.RunInTx(ctx, func(tx store.Tx) error {
		order, ok, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if !ok {
			e.logger.Warn("order not found during execution, no-op", "order_id", orderID)
			return nil
		}

		profile, err := tx.LockOrCreateProfile(ctx, order.UserID)
		if err != nil {
			return err
		}

		total := executionPrice.Mul(order.Quantity)
		fee := decimalutil.Fee(total)

		switch order.Side {
		case core.Buy:
			err = e.settleBuy(ctx, tx, order, profile, total, fee)
		case core.Sell:
			err = e.settleSell(ctx, tx, order, profile, total, fee)
		default:
			return apperrors.ErrInvalidOrderParameter
		}
		if err != nil {
			return err
		}

		if err := tx.CompleteOrder(ctx, order.ID, executionPrice, total); err != nil {
			return err
		}

		return tx.InsertTransaction(ctx, core.Transaction{
			UserID:       order.UserID,
			OrderID:      order.ID,
			Type:         order.Side,
			CoinID:       order.CoinID,
			CoinSymbol:   order.CoinSymbol,
			Quantity:     order.Quantity,
			PricePerUnit: executionPrice,
			TotalAmount:  total,
		})
	})

	if errors.Is(err, apperrors.ErrInsufficientBalance) {
		e.logger.Error("insufficient balance, order remains pending", "order_id", orderID)
	}
	return err
}

func (e *Executor) settleBuy(ctx context.Context, tx store.Tx, order core.Order, profile core.Profile, total, fee decimal.Decimal) error {
	totalCost := total.Add(fee)
	if profile.Balance.LessThan(totalCost) {
		return apperrors.ErrInsufficientBalance
	}

	newBalance := profile.Balance.Sub(totalCost)
	if err := tx.SetProfileBalance(ctx, order.UserID, newBalance); err != nil {
		return err
	}

	holding, ok, err := tx.GetHoldingForUpdate(ctx, order.UserID, order.CoinID)
	if err != nil {
		return err
	}

	if ok {
		newAvg := decimalutil.WeightedAverage(holding.Quantity, holding.AverageBuyPrice, order.Quantity, total)
		holding.Quantity = holding.Quantity.Add(order.Quantity)
		holding.AverageBuyPrice = newAvg
	} else {
		holding = core.Holding{
			UserID:          order.UserID,
			CoinID:          order.CoinID,
			CoinSymbol:      order.CoinSymbol,
			Quantity:        order.Quantity,
			AverageBuyPrice: total.Div(order.Quantity),
		}
	}
	return tx.UpsertHolding(ctx, holding)
}

// settleSell is intentionally tolerant of a missing/short holding: it
// logs and settles the full order quantity anyway (the holding, if any,
// is deleted and the full proceeds are credited) rather than failing the
// order. This mirrors the Rust prototype's behavior exactly (§9 Design
// Notes: "insufficient-holdings on sell is non-fatal" — a known bug
// surface preserved for fidelity rather than silently fixed).
func (e *Executor) settleSell(ctx context.Context, tx store.Tx, order core.Order, profile core.Profile, total, fee decimal.Decimal) error {
	holding, ok, err := tx.GetHoldingForUpdate(ctx, order.UserID, order.CoinID)
	if err != nil {
		return err
	}

	currentQty := decimal.Zero
	if ok {
		currentQty = holding.Quantity
	}
	if currentQty.LessThan(order.Quantity) {
		e.logger.Error("insufficient holdings for sell, settling full order quantity",
			"user_id", order.UserID, "coin_id", order.CoinID, "selling", order.Quantity, "held", currentQty)
	}

	newQty := currentQty.Sub(order.Quantity)
	if ok {
		if newQty.GreaterThan(decimalutil.DustEpsilon) {
			holding.Quantity = newQty
			if err := tx.UpsertHolding(ctx, holding); err != nil {
				return err
			}
		} else if err := tx.DeleteHolding(ctx, order.UserID, order.CoinID); err != nil {
			return err
		}
	}

	proceeds := total.Sub(fee)
	return tx.SetProfileBalance(ctx, order.UserID, profile.Balance.Add(proceeds))
}
