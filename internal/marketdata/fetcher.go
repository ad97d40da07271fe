// Package marketdata is the Market Data Fetcher (spec §4.F): three
// synchronous, cancellable REST calls against the exchange, grounded on
// the teacher's exchange/binancespot REST wrapper but narrowed to the
// read-only depth/trades/klines surface the selector needs.
package marketdata

import (
	"context"
	"fmt"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"tradeforge/internal/core"
)

// restRateLimit caps outbound REST calls at 25/sec with a burst of 30,
// the same ceiling the teacher's order executor holds against the
// exchange, applied here to the selector's 10-wide depth/trades/klines
// fan-out across the coin universe instead of order placement.
const restRateLimit = 25

const restBurst = 30

// Fetcher wraps a go-binance REST client with the exact failure policy
// §4.F specifies: depth errors propagate, trades errors are swallowed
// to an empty slice, klines errors are swallowed to an empty slice.
type Fetcher struct {
	client  *binance.Client
	limiter *rate.Limiter
}

// New builds a Fetcher. Public market data needs no API key; an empty
// key/secret pair still authenticates read-only endpoints.
func New(apiKey, apiSecret string) *Fetcher {
	return &Fetcher{
		client:  binance.NewClient(apiKey, apiSecret),
		limiter: rate.NewLimiter(rate.Limit(restRateLimit), restBurst),
	}
}

// Depth fetches the top `limit` bid/ask levels (default 20).
func (f *Fetcher) Depth(ctx context.Context, symbol string, limit int) (core.Depth, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return core.Depth{}, fmt.Errorf("depth %s: rate limit wait: %w", symbol, err)
	}

	res, err := f.client.NewDepthService().Symbol(symbol).Limit(limit).Do(ctx)
	if err != nil {
		return core.Depth{}, fmt.Errorf("depth %s: %w", symbol, err)
	}

	depth := core.Depth{
		Bids: make([]core.BookLevel, 0, len(res.Bids)),
		Asks: make([]core.BookLevel, 0, len(res.Asks)),
	}
	for _, b := range res.Bids {
		price, perr := decimal.NewFromString(b.Price)
		qty, qerr := decimal.NewFromString(b.Quantity)
		if perr != nil || qerr != nil {
			continue
		}
		depth.Bids = append(depth.Bids, core.BookLevel{Price: price, Quantity: qty})
	}
	for _, a := range res.Asks {
		price, perr := decimal.NewFromString(a.Price)
		qty, qerr := decimal.NewFromString(a.Quantity)
		if perr != nil || qerr != nil {
			continue
		}
		depth.Asks = append(depth.Asks, core.BookLevel{Price: price, Quantity: qty})
	}
	return depth, nil
}

// Trades fetches the most recent `limit` trades (default 50). A
// transport error is swallowed to an empty slice, not propagated (§4.F
// failure policy).
func (f *Fetcher) Trades(ctx context.Context, symbol string, limit int) []core.Trade {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil
	}

	res, err := f.client.NewRecentTradesService().Symbol(symbol).Limit(limit).Do(ctx)
	if err != nil {
		return nil
	}

	out := make([]core.Trade, 0, len(res))
	for _, t := range res {
		price, perr := decimal.NewFromString(t.Price)
		qty, qerr := decimal.NewFromString(t.Quantity)
		if perr != nil || qerr != nil {
			continue
		}
		out = append(out, core.Trade{Price: price, Quantity: qty, IsBuyerMaker: t.IsBuyerMaker, Timestamp: time.UnixMilli(t.Time)})
	}
	return out
}

// Klines fetches closes over interval/limit, oldest-first. A transport
// error is swallowed to an empty slice, which downstream indicator
// functions treat as "insufficient data" (§4.F failure policy).
func (f *Fetcher) Klines(ctx context.Context, symbol, interval string, limit int) []decimal.Decimal {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil
	}

	res, err := f.client.NewKlinesService().Symbol(symbol).Interval(interval).Limit(limit).Do(ctx)
	if err != nil {
		return nil
	}

	closes := make([]decimal.Decimal, 0, len(res))
	for _, k := range res {
		c, cerr := decimal.NewFromString(k.Close)
		if cerr != nil {
			continue
		}
		closes = append(closes, c)
	}
	return closes
}
