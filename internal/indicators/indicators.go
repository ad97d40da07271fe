// Package indicators is the Indicator Kernel (spec §4.E): pure decimal
// functions over price/trade series, grounded on the teacher's
// market_maker/internal/risk ATR recurrence and reworked for closes-only
// and trade-tape inputs.
package indicators

import (
	"github.com/shopspring/decimal"
)

var (
	two     = decimal.NewFromInt(2)
	hundred = decimal.NewFromInt(100)
	fifty   = decimal.NewFromInt(50)
)

// RSI computes Wilder's smoothed relative strength index over period
// (default 14). Returns 50 when there isn't enough history to seed the
// recurrence, and 100 when the smoothed average loss is zero (no delta
// in the series was a loss) rather than dividing by zero.
func RSI(prices []decimal.Decimal, period int) decimal.Decimal {
	if len(prices) <= period {
		return fifty
	}

	gainSum, lossSum := decimal.Zero, decimal.Zero
	for i := 1; i <= period; i++ {
		delta := prices[i].Sub(prices[i-1])
		if delta.Sign() > 0 {
			gainSum = gainSum.Add(delta)
		} else {
			lossSum = lossSum.Add(delta.Neg())
		}
	}
	periodDec := decimal.NewFromInt(int64(period))
	avgGain := gainSum.Div(periodDec)
	avgLoss := lossSum.Div(periodDec)

	for i := period + 1; i < len(prices); i++ {
		delta := prices[i].Sub(prices[i-1])
		gain, loss := decimal.Zero, decimal.Zero
		if delta.Sign() > 0 {
			gain = delta
		} else {
			loss = delta.Neg()
		}
		pMinus1 := decimal.NewFromInt(int64(period - 1))
		avgGain = avgGain.Mul(pMinus1).Add(gain).Div(periodDec)
		avgLoss = avgLoss.Mul(pMinus1).Add(loss).Div(periodDec)
	}

	if avgLoss.IsZero() {
		return hundred
	}
	rs := avgGain.Div(avgLoss)
	return hundred.Sub(hundred.Div(decimal.NewFromInt(1).Add(rs)))
}

// EMA computes the exponential moving average over period, seeded with
// prices[0].
func EMA(prices []decimal.Decimal, period int) decimal.Decimal {
	if len(prices) == 0 {
		return decimal.Zero
	}
	multiplier := two.Div(decimal.NewFromInt(int64(period + 1)))
	ema := prices[0]
	for _, p := range prices[1:] {
		ema = p.Sub(ema).Mul(multiplier).Add(ema)
	}
	return ema
}

// EMASeries returns the running EMA value after each price, for feeding
// a second EMA pass (e.g. the MACD signal line).
func EMASeries(prices []decimal.Decimal, period int) []decimal.Decimal {
	if len(prices) == 0 {
		return nil
	}
	multiplier := two.Div(decimal.NewFromInt(int64(period + 1)))
	out := make([]decimal.Decimal, len(prices))
	out[0] = prices[0]
	for i := 1; i < len(prices); i++ {
		out[i] = prices[i].Sub(out[i-1]).Mul(multiplier).Add(out[i-1])
	}
	return out
}

// MACDResult bundles the three MACD outputs.
type MACDResult struct {
	MACD      decimal.Decimal
	Signal    decimal.Decimal
	Histogram decimal.Decimal
}

// legacySignalMultiplier is the source's approximated signal line
// (macd * 0.7). Superseded by the true 9-period EMA signal below;
// kept only as the documented legacy fallback (§9).
var legacySignalMultiplier = decimal.NewFromFloat(0.7)

// MACD requires at least 26 prices. It reports the true signal line (a
// 9-period EMA over the historical MACD series) rather than the
// source's macd*0.7 shortcut, per the spec's §9 recommendation; the
// shortcut is exposed separately as LegacySignal for callers that want
// it.
func MACD(prices []decimal.Decimal, period int) MACDResult {
	if len(prices) < 26 {
		return MACDResult{}
	}

	fast := EMASeries(prices, 12)
	slow := EMASeries(prices, 26)
	macdSeries := make([]decimal.Decimal, len(prices))
	for i := range prices {
		macdSeries[i] = fast[i].Sub(slow[i])
	}

	macd := macdSeries[len(macdSeries)-1]
	signal := EMA(macdSeries, 9)
	return MACDResult{MACD: macd, Signal: signal, Histogram: macd.Sub(signal)}
}

// LegacySignal reproduces the source's macd*0.7 approximation for a
// single macd value.
func LegacySignal(macd decimal.Decimal) decimal.Decimal {
	return macd.Mul(legacySignalMultiplier)
}

// BollingerBands holds the upper band, middle SMA, and lower band.
type BollingerBands struct {
	Upper  decimal.Decimal
	Middle decimal.Decimal
	Lower  decimal.Decimal
}

// Bollinger computes bands over the last period samples (default 20)
// with width k standard deviations (default 2). With fewer than period
// samples it returns the flat (avg, avg, avg) fallback.
func Bollinger(prices []decimal.Decimal, period int, k decimal.Decimal) BollingerBands {
	if len(prices) == 0 {
		return BollingerBands{}
	}
	window := prices
	if len(window) > period {
		window = window[len(window)-period:]
	}

	sma := mean(window)
	if len(prices) < period {
		return BollingerBands{Upper: sma, Middle: sma, Lower: sma}
	}

	sigma := stddev(window, sma)
	spread := k.Mul(sigma)
	return BollingerBands{Upper: sma.Add(spread), Middle: sma, Lower: sma.Sub(spread)}
}

func mean(xs []decimal.Decimal) decimal.Decimal {
	if len(xs) == 0 {
		return decimal.Zero
	}
	sum := decimal.Zero
	for _, x := range xs {
		sum = sum.Add(x)
	}
	return sum.Div(decimal.NewFromInt(int64(len(xs))))
}

func stddev(xs []decimal.Decimal, avg decimal.Decimal) decimal.Decimal {
	if len(xs) == 0 {
		return decimal.Zero
	}
	sumSq := decimal.Zero
	for _, x := range xs {
		diff := x.Sub(avg)
		sumSq = sumSq.Add(diff.Mul(diff))
	}
	variance := sumSq.Div(decimal.NewFromInt(int64(len(xs))))
	return sqrt(variance)
}

// sqrt is a Newton's-method square root since shopspring/decimal has no
// native fractional-exponent Pow. Converges to the package's 28-digit
// division precision within a handful of iterations for any realistic
// price variance.
func sqrt(x decimal.Decimal) decimal.Decimal {
	if x.Sign() <= 0 {
		return decimal.Zero
	}
	guess := x
	half := decimal.NewFromFloat(0.5)
	for i := 0; i < 32; i++ {
		next := guess.Add(x.Div(guess)).Mul(half)
		if next.Sub(guess).Abs().LessThan(decimal.New(1, -18)) {
			return next
		}
		guess = next
	}
	return guess
}

// ATRApprox is the close-to-close mean absolute difference surrogate
// for true ATR (§9: the market data fetcher only exposes closes, not
// full OHLC).
func ATRApprox(closes []decimal.Decimal, period int) decimal.Decimal {
	if len(closes) < 2 {
		return decimal.Zero
	}
	window := closes
	if len(window) > period+1 {
		window = window[len(window)-(period+1):]
	}

	sum := decimal.Zero
	count := 0
	for i := 1; i < len(window); i++ {
		sum = sum.Add(window[i].Sub(window[i-1]).Abs())
		count++
	}
	if count == 0 {
		return decimal.Zero
	}
	return sum.Div(decimal.NewFromInt(int64(count)))
}

// SupportResistance returns (min, max) of the last lookback closes
// (default 20). With fewer samples it falls back to last*0.98/1.02.
func SupportResistance(closes []decimal.Decimal, lookback int) (support, resistance decimal.Decimal) {
	if len(closes) == 0 {
		return decimal.Zero, decimal.Zero
	}
	last := closes[len(closes)-1]
	if len(closes) < lookback {
		return last.Mul(decimal.NewFromFloat(0.98)), last.Mul(decimal.NewFromFloat(1.02))
	}

	window := closes[len(closes)-lookback:]
	support, resistance = window[0], window[0]
	for _, c := range window[1:] {
		if c.LessThan(support) {
			support = c
		}
		if c.GreaterThan(resistance) {
			resistance = c
		}
	}
	return support, resistance
}

// Trade is the minimal shape VWAP needs from a trade-tape entry.
type Trade struct {
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

// VWAP returns the volume-weighted average price over trades, or
// currentPrice if total volume is zero.
func VWAP(trades []Trade, currentPrice decimal.Decimal) decimal.Decimal {
	notional, volume := decimal.Zero, decimal.Zero
	for _, t := range trades {
		notional = notional.Add(t.Price.Mul(t.Quantity))
		volume = volume.Add(t.Quantity)
	}
	if volume.IsZero() {
		return currentPrice
	}
	return notional.Div(volume)
}

// VolumeRatio is current 24h quote volume over its trailing average;
// callers pass the average computed from their own history window. A
// zero average returns 1 (neutral) rather than dividing by zero.
func VolumeRatio(current, average decimal.Decimal) decimal.Decimal {
	if average.IsZero() {
		return decimal.NewFromInt(1)
	}
	return current.Div(average)
}
