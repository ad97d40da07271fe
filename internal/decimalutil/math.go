// Package decimalutil collects the small decimal helpers shared by the
// execution procedure and the strategy store, grounded on the
// teacher's pkg/tradingutils/math.go.
package decimalutil

import "github.com/shopspring/decimal"

func init() {
	// shopspring/decimal defaults Div to 16 fractional digits; the spec
	// requires >= 28 digits of precision on every money computation.
	decimal.DivisionPrecision = 28
}

// TradingFeeRate is the 10bps fee applied to both buy cost and sell
// proceeds (§6 Constants).
var TradingFeeRate = decimal.NewFromFloat(0.001)

// SeedBalance is credited to a user's profile the first time it is
// touched by the execution procedure (§6 Constants).
var SeedBalance = decimal.NewFromInt(100000)

// Configure overrides the default fee rate and seed balance from
// operator configuration (§6's constants are defaults, not hardwired;
// config.TradingConfig.FeeRate/SeedBalance feed this at startup).
func Configure(feeRate, seedBalance decimal.Decimal) {
	TradingFeeRate = feeRate
	SeedBalance = seedBalance
}

// DustEpsilon is the residual quantity below which a holding is
// considered fully closed and its row deleted (§3 Holding invariants).
var DustEpsilon = decimal.New(1, -6) // 10^-6

// Fee returns total * TradingFeeRate.
func Fee(total decimal.Decimal) decimal.Decimal {
	return total.Mul(TradingFeeRate)
}

// WeightedAverage computes the cost-weighted average buy price after
// adding qty units bought at cost totalCost to an existing holding of
// existingQty at existingAvg.
func WeightedAverage(existingQty, existingAvg, qty, totalCost decimal.Decimal) decimal.Decimal {
	totalQty := existingQty.Add(qty)
	if totalQty.IsZero() {
		return decimal.Zero
	}
	oldCost := existingQty.Mul(existingAvg)
	return oldCost.Add(totalCost).Div(totalQty)
}
