package matching

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradeforge/internal/book"
	"tradeforge/internal/core"
	"tradeforge/internal/feed"
	"tradeforge/internal/logging"
)

type fakeExecutor struct {
	mu      sync.Mutex
	calls   []string
	prices  []decimal.Decimal
	done    chan struct{}
}

func (f *fakeExecutor) Execute(ctx context.Context, orderID string, executionPrice decimal.Decimal) error {
	f.mu.Lock()
	f.calls = append(f.calls, orderID)
	f.prices = append(f.prices, executionPrice)
	f.mu.Unlock()
	if f.done != nil {
		f.done <- struct{}{}
	}
	return nil
}

func price(s string) decimal.Decimal {
	v, _ := decimal.NewFromString(s)
	return v
}

func newTestEngine(t *testing.T) (*Engine, *fakeExecutor) {
	t.Helper()
	logger, err := logging.New("ERROR")
	require.NoError(t, err)
	fc := feed.NewClient("wss://unused.test", "usdt", logger)
	exec := &fakeExecutor{done: make(chan struct{}, 10)}
	return New(fc, book.New(), exec, logger), exec
}

func TestOnBatch_UpdatesSnapshotsAndTriggersSettlement(t *testing.T) {
	e, exec := newTestEngine(t)
	require.NoError(t, e.AddOrder(core.RestingOrder{ID: "o1", CoinID: "btc", Side: core.Buy, Quantity: price("1"), Price: price("50000")}))

	e.onBatch([]feed.TickerUpdate{
		{CoinID: "btc", Snapshot: core.TickerSnapshot{CurrentPrice: price("49000"), OpenPrice24h: price("48000"), QuoteVolume24h: price("1000000")}},
	})

	select {
	case <-exec.done:
	case <-time.After(2 * time.Second):
		t.Fatal("settlement was not invoked")
	}

	exec.mu.Lock()
	defer exec.mu.Unlock()
	require.Len(t, exec.calls, 1)
	assert.Equal(t, "o1", exec.calls[0])
	assert.True(t, exec.prices[0].Equal(price("49000")))

	p, ok := e.GetPrice("btc")
	require.True(t, ok)
	assert.True(t, p.Equal(price("49000")))
}

func TestOnBatch_NoMatchLeavesBookUntouched(t *testing.T) {
	e, exec := newTestEngine(t)
	require.NoError(t, e.AddOrder(core.RestingOrder{ID: "o1", CoinID: "btc", Side: core.Buy, Quantity: price("1"), Price: price("40000")}))

	e.onBatch([]feed.TickerUpdate{
		{CoinID: "btc", Snapshot: core.TickerSnapshot{CurrentPrice: price("49000"), OpenPrice24h: price("48000"), QuoteVolume24h: price("1000000")}},
	})

	select {
	case <-exec.done:
		t.Fatal("settlement should not run when no order matches")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestGetTopVolumeCoins_SortsDescendingAndFiltersNonPositive(t *testing.T) {
	e, _ := newTestEngine(t)
	e.onBatch([]feed.TickerUpdate{
		{CoinID: "btc", Snapshot: core.TickerSnapshot{CurrentPrice: price("50000"), OpenPrice24h: price("49000"), QuoteVolume24h: price("3000000")}},
		{CoinID: "eth", Snapshot: core.TickerSnapshot{CurrentPrice: price("2000"), OpenPrice24h: price("1900"), QuoteVolume24h: price("9000000")}},
		{CoinID: "dead", Snapshot: core.TickerSnapshot{CurrentPrice: decimal.Zero, OpenPrice24h: price("1"), QuoteVolume24h: price("5000000")}},
	})

	top := e.GetTopVolumeCoins(10)
	require.Len(t, top, 2)
	assert.Equal(t, "eth", top[0].CoinID)
	assert.Equal(t, "btc", top[1].CoinID)
}
