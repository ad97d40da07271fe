// Package selector implements the Strategy Selector (spec §4.G):
// top-volume filtering, BTC-trend abort, concurrent per-coin analysis,
// weighted entry scoring, and final candidate selection. Concurrency is
// grounded on the teacher's pkg/concurrency worker-pool pattern; the
// indicator math calls straight into internal/indicators.
package selector

import (
	"context"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"tradeforge/internal/concurrency"
	"tradeforge/internal/core"
	"tradeforge/internal/indicators"
)

var (
	minVolume         = decimal.NewFromInt(1_000_000)
	sidewaysThreshold = decimal.NewFromFloat(0.01)
	crashThreshold    = decimal.NewFromFloat(-0.05)
	btcDumpThreshold  = decimal.NewFromFloat(-0.01)
	rsiRejectCeiling  = decimal.NewFromInt(70)
	entryScoreFloor   = decimal.NewFromFloat(0.7)
	volumeRatioFloor  = decimal.NewFromFloat(1.2)
	predictedRetFloor = decimal.NewFromFloat(-0.05)
)


// PriceSource is the subset of the Matching Engine the selector reads.
type PriceSource interface {
	GetTopVolumeCoins(n int) []core.TickerEntry
}

// DataSource is the subset of the Market Data Fetcher the selector
// calls during per-coin analysis.
type DataSource interface {
	Depth(ctx context.Context, symbol string, limit int) (core.Depth, error)
	Trades(ctx context.Context, symbol string, limit int) []core.Trade
	Klines(ctx context.Context, symbol, interval string, limit int) []decimal.Decimal
}

// Config tunes the selector's blacklist and symbol mapping.
type Config struct {
	Blacklist   map[string]struct{}
	QuoteSuffix string // appended to a coin id to form the exchange symbol, e.g. "usdt"
}

// Candidate is the selector's chosen coin for a strategy's entry.
type Candidate struct {
	CoinID         string
	Symbol         string
	CurrentPrice   decimal.Decimal
	RSI            decimal.Decimal
	EntryScore     decimal.Decimal
	PredictedReturn decimal.Decimal
}

// Selector runs the selection algorithm against one cycle's snapshot.
type Selector struct {
	data   DataSource
	prices PriceSource
	pool   *concurrency.Pool
	logger core.Logger
	cfg    Config
}

// New builds a Selector. pool bounds per-coin analysis fan-out to its
// configured worker count (§5: width 10).
func New(data DataSource, prices PriceSource, pool *concurrency.Pool, logger core.Logger, cfg Config) *Selector {
	return &Selector{data: data, prices: prices, pool: pool, logger: logger.With("component", "selector"), cfg: cfg}
}

func (s *Selector) symbol(coinID string) string {
	return strings.ToUpper(coinID) + strings.ToUpper(s.cfg.QuoteSuffix)
}

// Select runs one full cycle of §4.G. A nil candidate with nil error
// means "no eligible coin this cycle" (including the BTC-dump abort),
// not a failure.
func (s *Selector) Select(ctx context.Context) (*Candidate, error) {
	top := s.prices.GetTopVolumeCoins(30)
	filtered := s.prefilter(top)
	if len(filtered) == 0 {
		return nil, nil
	}

	btcTrend, err := s.btcTrend(ctx)
	if err != nil {
		return nil, err
	}
	if btcTrend.LessThan(btcDumpThreshold) {
		s.logger.Warn("aborting cycle, btc trend is dumping", "btc_trend", btcTrend)
		return nil, nil
	}

	analyses := s.analyzeAll(ctx, filtered, btcTrend)

	var best *Candidate
	for _, a := range analyses {
		if a == nil || !a.eligible() {
			continue
		}
		c := a.toCandidate()
		if best == nil || isBetter(c, best) {
			best = c
		}
	}
	return best, nil
}

func isBetter(c, best *Candidate) bool {
	if c.EntryScore.GreaterThan(best.EntryScore) {
		return true
	}
	if c.EntryScore.Equal(best.EntryScore) {
		return c.RSI.LessThan(best.RSI)
	}
	return false
}

// prefilter applies §4.G step 2's blacklist/volume/sideways/crash
// filters.
func (s *Selector) prefilter(coins []core.TickerEntry) []core.TickerEntry {
	out := make([]core.TickerEntry, 0, len(coins))
	for _, c := range coins {
		if _, blacklisted := s.cfg.Blacklist[strings.ToLower(c.CoinID)]; blacklisted {
			continue
		}
		if c.Snapshot.QuoteVolume24h.LessThan(minVolume) {
			continue
		}
		change := c.Snapshot.Change24h().Abs()
		if change.LessThan(sidewaysThreshold) {
			continue
		}
		if c.Snapshot.Change24h().LessThan(crashThreshold) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// btcTrend is the 5-sample close-over-close return on 1-minute BTC
// klines (§4.G step 3).
func (s *Selector) btcTrend(ctx context.Context) (decimal.Decimal, error) {
	closes := s.data.Klines(ctx, s.symbol("btc"), "1m", 5)
	if len(closes) < 2 {
		return decimal.Zero, nil
	}
	first, last := closes[0], closes[len(closes)-1]
	if first.IsZero() {
		return decimal.Zero, nil
	}
	return last.Sub(first).Div(first), nil
}

// analysis holds one coin's §4.G step 4 outputs plus its derived score.
type analysis struct {
	coinID   string
	symbol   string
	current  decimal.Decimal
	rsi      decimal.Decimal
	macd     indicators.MACDResult
	bbMiddle decimal.Decimal
	bbLower  decimal.Decimal
	support  decimal.Decimal
	resist   decimal.Decimal
	vwap     decimal.Decimal

	buyVolume, sellVolume     decimal.Decimal
	buyPressure, sellPressure decimal.Decimal
	resistanceWall            bool
	volumeRatio               decimal.Decimal
	trend24h                  decimal.Decimal

	entryScore      decimal.Decimal
	predictedReturn decimal.Decimal
}

func (a *analysis) toCandidate() *Candidate {
	return &Candidate{
		CoinID: a.coinID, Symbol: a.symbol, CurrentPrice: a.current,
		RSI: a.rsi, EntryScore: a.entryScore, PredictedReturn: a.predictedReturn,
	}
}

// eligible applies §4.G step 6's rejection filters.
func (a *analysis) eligible() bool {
	if a.rsi.GreaterThan(rsiRejectCeiling) {
		return false
	}
	if a.entryScore.LessThan(entryScoreFloor) {
		return false
	}
	if a.volumeRatio.LessThan(volumeRatioFloor) {
		return false
	}
	if a.predictedReturn.LessThan(predictedRetFloor) {
		return false
	}
	return true
}

func (s *Selector) analyzeAll(ctx context.Context, coins []core.TickerEntry, btcTrend decimal.Decimal) []*analysis {
	out := make([]*analysis, len(coins))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i, c := range coins {
		i, c := i, c
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.pool.SubmitAndWait(func() {
				a, err := s.analyzeCoin(ctx, c)
				if err != nil {
					s.logger.Warn("analyze_coin failed, skipping coin", "coin_id", c.CoinID, "error", err)
					return
				}
				a.predictedReturn = a.computePredictedReturn(btcTrend)
				mu.Lock()
				out[i] = a
				mu.Unlock()
			})
		}()
	}
	wg.Wait()
	return out
}

// analyzeCoin is §4.G step 4: one coin's indicator/order-book/trade
// analysis. A depth failure aborts the coin (returns err); trades and
// klines failures degrade gracefully per §4.F.
func (s *Selector) analyzeCoin(ctx context.Context, c core.TickerEntry) (*analysis, error) {
	symbol := s.symbol(c.CoinID)
	closes := s.data.Klines(ctx, symbol, "1m", 30)

	depth, err := s.data.Depth(ctx, symbol, 20)
	if err != nil {
		return nil, err
	}
	trades := s.data.Trades(ctx, symbol, 50)

	a := &analysis{
		coinID:   c.CoinID,
		symbol:   symbol,
		current:  c.Snapshot.CurrentPrice,
		rsi:      indicators.RSI(closes, 14),
		macd:     indicators.MACD(closes, 26),
		trend24h: c.Snapshot.Change24h(),
	}
	bb := indicators.Bollinger(closes, 20, decimal.NewFromInt(2))
	a.bbMiddle, a.bbLower = bb.Middle, bb.Lower
	a.support, a.resist = indicators.SupportResistance(closes, 20)

	vwapTrades := make([]indicators.Trade, 0, len(trades))
	for _, t := range trades {
		vwapTrades = append(vwapTrades, indicators.Trade{Price: t.Price, Quantity: t.Quantity})
		if t.IsBuyerMaker {
			a.sellVolume = a.sellVolume.Add(t.Quantity) // maker=true => aggressor was a seller
		} else {
			a.buyVolume = a.buyVolume.Add(t.Quantity)
		}
	}
	a.vwap = indicators.VWAP(vwapTrades, a.current)

	a.buyPressure = topPressure(depth.Bids, 10)
	a.sellPressure = topPressure(depth.Asks, 10)
	a.resistanceWall = hasResistanceWall(depth.Asks)

	a.volumeRatio = volumeRatio(trades, c.Snapshot.QuoteVolume24h)

	a.entryScore = computeEntryScore(a)
	return a, nil
}

// volumeRatio compares the quote volume actually traded over the
// fetched trade sample's real time span against the volume that span
// would see at the coin's 24h average rate (§4.G step 4's "true
// (recent / 24h-average) ratio" the placeholder formula was flagged as
// needing). Falls back to a neutral 1.0 when there isn't enough data
// to measure a span (fewer than two trades, a zero-length span, or no
// 24h volume to project from).
func volumeRatio(trades []core.Trade, quoteVolume24h decimal.Decimal) decimal.Decimal {
	neutral := decimal.NewFromInt(1)
	if len(trades) < 2 || quoteVolume24h.IsZero() {
		return neutral
	}

	span := trades[len(trades)-1].Timestamp.Sub(trades[0].Timestamp)
	if span <= 0 {
		return neutral
	}

	recentQuoteVolume := decimal.Zero
	for _, t := range trades {
		recentQuoteVolume = recentQuoteVolume.Add(t.Price.Mul(t.Quantity))
	}

	expected := quoteVolume24h.Mul(decimal.NewFromFloat(span.Hours() / 24))
	if expected.IsZero() {
		return neutral
	}
	return recentQuoteVolume.Div(expected)
}

func topPressure(levels []core.BookLevel, n int) decimal.Decimal {
	if len(levels) > n {
		levels = levels[:n]
	}
	sum := decimal.Zero
	for _, l := range levels {
		sum = sum.Add(l.Price.Mul(l.Quantity))
	}
	return sum
}

// hasResistanceWall flags a top-10 ask whose quantity exceeds 5x the
// mean of the top-20 ask quantities (§4.G step 4).
func hasResistanceWall(asks []core.BookLevel) bool {
	if len(asks) == 0 {
		return false
	}
	window := asks
	if len(window) > 20 {
		window = window[:20]
	}
	sum := decimal.Zero
	for _, a := range window {
		sum = sum.Add(a.Quantity)
	}
	mean := sum.Div(decimal.NewFromInt(int64(len(window))))
	threshold := mean.Mul(decimal.NewFromInt(5))

	top := asks
	if len(top) > 10 {
		top = top[:10]
	}
	for _, a := range top {
		if a.Quantity.GreaterThan(threshold) {
			return true
		}
	}
	return false
}

var (
	rsiW, macdW, bbW, volW, supW = decimal.NewFromFloat(0.25), decimal.NewFromFloat(0.20), decimal.NewFromFloat(0.15), decimal.NewFromFloat(0.20), decimal.NewFromFloat(0.20)
)

// computeEntryScore implements §4.G step 5's weighted score.
func computeEntryScore(a *analysis) decimal.Decimal {
	rsiScore := scoreRSI(a.rsi)
	macdScore := scoreMACD(a.macd)
	bbScore := scoreBollinger(a.current, a.bbMiddle, a.bbLower)
	volScore := scoreVolumeRatio(a.volumeRatio)
	supScore := scoreSupport(a.current, a.support)

	return rsiW.Mul(rsiScore).
		Add(macdW.Mul(macdScore)).
		Add(bbW.Mul(bbScore)).
		Add(volW.Mul(volScore)).
		Add(supW.Mul(supScore))
}

func scoreRSI(rsi decimal.Decimal) decimal.Decimal {
	switch {
	case rsi.LessThan(decimal.NewFromInt(30)):
		return decimal.NewFromInt(1)
	case rsi.LessThan(decimal.NewFromInt(45)):
		return decimal.NewFromFloat(0.7)
	case rsi.LessThan(decimal.NewFromInt(55)):
		return decimal.NewFromFloat(0.5)
	case rsi.LessThan(decimal.NewFromInt(70)):
		return decimal.NewFromFloat(0.3)
	default:
		return decimal.Zero
	}
}

func scoreMACD(m indicators.MACDResult) decimal.Decimal {
	above := m.MACD.GreaterThan(m.Signal)
	switch {
	case above && m.Histogram.GreaterThan(decimal.Zero):
		return decimal.NewFromInt(1)
	case above:
		return decimal.NewFromFloat(0.6)
	default:
		return decimal.NewFromFloat(0.2)
	}
}

func scoreBollinger(current, middle, lower decimal.Decimal) decimal.Decimal {
	switch {
	case current.LessThanOrEqual(lower.Mul(decimal.NewFromFloat(1.01))):
		return decimal.NewFromInt(1)
	case current.LessThan(middle):
		return decimal.NewFromFloat(0.6)
	default:
		return decimal.NewFromFloat(0.3)
	}
}

func scoreVolumeRatio(ratio decimal.Decimal) decimal.Decimal {
	switch {
	case ratio.GreaterThan(decimal.NewFromFloat(1.5)):
		return decimal.NewFromInt(1)
	case ratio.GreaterThan(decimal.NewFromFloat(1.2)):
		return decimal.NewFromFloat(0.7)
	case ratio.GreaterThan(decimal.NewFromInt(1)):
		return decimal.NewFromFloat(0.5)
	default:
		return decimal.NewFromFloat(0.2)
	}
}

func scoreSupport(current, support decimal.Decimal) decimal.Decimal {
	if support.IsZero() {
		return decimal.NewFromFloat(0.1)
	}
	distance := current.Sub(support).Div(support).Abs()
	switch {
	case distance.LessThanOrEqual(decimal.NewFromFloat(0.01)):
		return decimal.NewFromInt(1)
	case distance.LessThanOrEqual(decimal.NewFromFloat(0.02)):
		return decimal.NewFromFloat(0.7)
	case distance.LessThanOrEqual(decimal.NewFromFloat(0.05)):
		return decimal.NewFromFloat(0.4)
	default:
		return decimal.NewFromFloat(0.1)
	}
}

// predicted-return bias weights (§4.G step 6: "exact weights are
// tunable"; the invariant this must satisfy is monotonicity in each
// bias, which every term below preserves by construction).
var (
	wOrderBook  = decimal.NewFromFloat(0.02)
	wTrend24h   = decimal.NewFromFloat(0.015)
	wTradeFlow  = decimal.NewFromFloat(0.015)
	wRSI        = decimal.NewFromFloat(0.03)
	wVWAP       = decimal.NewFromFloat(0.02)
	wWall       = decimal.NewFromFloat(0.02)
	wBTCTrend   = decimal.NewFromFloat(0.01)
)

// computePredictedReturn combines order-book momentum, 24h trend,
// trade-flow momentum, RSI/VWAP biases, a resistance-wall penalty, and
// the global BTC trend into a single monotonic bias sum (§4.G step 6).
func (a *analysis) computePredictedReturn(btcTrend decimal.Decimal) decimal.Decimal {
	orderBookMomentum := ratioBias(a.buyPressure, a.sellPressure)
	tradeFlowMomentum := ratioBias(a.buyVolume, a.sellVolume)
	rsiBias := decimal.NewFromInt(50).Sub(a.rsi).Div(decimal.NewFromInt(100))

	vwapBias := decimal.Zero
	if !a.current.IsZero() {
		vwapBias = a.vwap.Sub(a.current).Div(a.current)
	}

	wallBias := decimal.Zero
	if a.resistanceWall {
		wallBias = decimal.NewFromFloat(-1)
	}

	return wOrderBook.Mul(orderBookMomentum).
		Add(wTrend24h.Mul(a.trend24h)).
		Add(wTradeFlow.Mul(tradeFlowMomentum)).
		Add(wRSI.Mul(rsiBias)).
		Add(wVWAP.Mul(vwapBias)).
		Add(wWall.Mul(wallBias)).
		Add(wBTCTrend.Mul(btcTrend))
}

// ratioBias maps (a-b)/(a+b) to [-1,1], 0 when both are zero.
func ratioBias(a, b decimal.Decimal) decimal.Decimal {
	sum := a.Add(b)
	if sum.IsZero() {
		return decimal.Zero
	}
	return a.Sub(b).Div(sum)
}

