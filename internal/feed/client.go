// Package feed implements the Market Feed Client (spec §4.A): a
// persistent subscription to the exchange's aggregated mini-ticker
// stream, grounded on the teacher's exchange/binance/websocket.go
// reconnect loop.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"tradeforge/internal/core"
	"tradeforge/internal/retry"
)

// TickerUpdate pairs a coin id with its freshly parsed snapshot.
type TickerUpdate struct {
	CoinID   string
	Snapshot core.TickerSnapshot
}

// BatchHandler receives one batch of ticker updates per frame.
type BatchHandler func(batch []TickerUpdate)

// rawTicker mirrors the exchange's miniTicker frame fields we use;
// everything else is ignored (§6).
type rawTicker struct {
	Symbol string `json:"s"`
	Close  string `json:"c"`
	Open   string `json:"o"`
	Volume string `json:"q"`
}

// Client subscribes to the exchange's !miniTicker@arr stream.
type Client struct {
	url          string
	quoteSuffix  string
	logger       core.Logger
	dial         func(url string) (*websocket.Conn, error)
}

// NewClient builds a feed client against the given WebSocket URL (e.g.
// "wss://stream.binance.com:9443/ws/!miniTicker@arr"). quoteSuffix is
// the quote asset suffix to retain, lowercased internally (e.g.
// "usdt").
func NewClient(url, quoteSuffix string, logger core.Logger) *Client {
	return &Client{
		url:         url,
		quoteSuffix: strings.ToLower(quoteSuffix),
		logger:      logger.With("component", "feed_client"),
		dial: func(u string) (*websocket.Conn, error) {
			conn, _, err := websocket.DefaultDialer.Dial(u, nil)
			return conn, err
		},
	}
}

// Run connects and reads frames until ctx is cancelled, calling handler
// once per frame with the batch of updates it contained. On disconnect
// or dial failure it waits retry.FeedReconnectDelay and reconnects —
// no exponential backoff (§4.A).
func (c *Client) Run(ctx context.Context, handler BatchHandler) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn, err := c.dial(c.url)
		if err != nil {
			c.logger.Warn("feed connect failed, retrying", "error", err, "delay", retry.FeedReconnectDelay)
			if !sleepOrDone(ctx, retry.FeedReconnectDelay) {
				return ctx.Err()
			}
			continue
		}

		c.logger.Info("feed connected", "url", c.url)
		c.readLoop(ctx, conn, handler)
		conn.Close()

		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Warn("feed disconnected, reconnecting", "delay", retry.FeedReconnectDelay)
		if !sleepOrDone(ctx, retry.FeedReconnectDelay) {
			return ctx.Err()
		}
	}
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn, handler BatchHandler) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			c.logger.Warn("feed read error", "error", err)
			return
		}

		batch, ok := c.parseFrame(message)
		if !ok || len(batch) == 0 {
			continue
		}
		handler(batch)
	}
}

// parseFrame decodes a JSON array of miniTicker objects, keeping only
// symbols ending in the configured quote suffix. Parse errors on
// individual tickers are dropped silently (§4.A Failure).
func (c *Client) parseFrame(message []byte) ([]TickerUpdate, bool) {
	var raws []rawTicker
	if err := json.Unmarshal(message, &raws); err != nil {
		return nil, false
	}

	batch := make([]TickerUpdate, 0, len(raws))
	for _, r := range raws {
		symbol := strings.ToLower(r.Symbol)
		if !strings.HasSuffix(symbol, c.quoteSuffix) {
			continue
		}
		coinID := strings.TrimSuffix(symbol, c.quoteSuffix)
		if coinID == "" {
			continue
		}

		price, err := decimal.NewFromString(r.Close)
		if err != nil {
			continue
		}
		open, err := decimal.NewFromString(r.Open)
		if err != nil {
			continue
		}
		volume, err := decimal.NewFromString(r.Volume)
		if err != nil {
			continue
		}

		batch = append(batch, TickerUpdate{
			CoinID: coinID,
			Snapshot: core.TickerSnapshot{
				CurrentPrice:   price,
				OpenPrice24h:   open,
				QuoteVolume24h: volume,
			},
		})
	}
	return batch, true
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// Symbol builds the exchange symbol for a coin id and quote suffix
// (§6): uppercase(coin) + uppercase(quote).
func Symbol(coinID, quoteSuffix string) string {
	return fmt.Sprintf("%s%s", strings.ToUpper(coinID), strings.ToUpper(quoteSuffix))
}
