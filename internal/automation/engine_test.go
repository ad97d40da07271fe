package automation

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradeforge/internal/apperrors"
	"tradeforge/internal/core"
	"tradeforge/internal/logging"
	"tradeforge/internal/store"
)

func price(s string) decimal.Decimal {
	v, _ := decimal.NewFromString(s)
	return v
}

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.Open(":memory:", 1)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

type fakeExecutor struct {
	calls  []string
	err    error
}

func (f *fakeExecutor) Execute(ctx context.Context, orderID string, executionPrice decimal.Decimal) error {
	if f.err != nil {
		return f.err
	}
	f.calls = append(f.calls, orderID)
	return nil
}

type fakeBook struct {
	added   []core.RestingOrder
	removed []string
}

func (f *fakeBook) AddOrder(o core.RestingOrder) error {
	f.added = append(f.added, o)
	return nil
}

func (f *fakeBook) Remove(coinID, orderID string) bool {
	f.removed = append(f.removed, orderID)
	return true
}

type fakePrices struct {
	prices map[string]decimal.Decimal
}

func (f *fakePrices) GetPrice(coinID string) (decimal.Decimal, bool) {
	p, ok := f.prices[coinID]
	return p, ok
}

type fakeKlines struct {
	closes []decimal.Decimal
}

func (f *fakeKlines) Klines(ctx context.Context, symbol, interval string, limit int) []decimal.Decimal {
	return f.closes
}

type fakeSelector struct {
	candidate *Candidate
	err       error
}

func (f *fakeSelector) Select(ctx context.Context) (*Candidate, error) {
	return f.candidate, f.err
}

func newTestEngine(t *testing.T, exec *fakeExecutor, bk *fakeBook, prices *fakePrices, kl *fakeKlines, sel *fakeSelector) (*Engine, *store.SQLiteStore) {
	t.Helper()
	logger, err := logging.New("ERROR")
	require.NoError(t, err)
	s := newTestStore(t)
	return New(s, exec, bk, prices, kl, sel, logger, "usdt"), s
}

func baseStrategy(exitStyle core.ExitStyle) core.Strategy {
	return core.Strategy{
		ID: "strat-1", OwnerID: "user-1", ExitStyle: exitStyle,
		NotionalAmount: price("1000"), ProfitTargetPct: price("2"),
		TotalIterations: 10, DurationMinutes: 60, StartedAt: time.Now(),
		Status: core.StrategyRunning,
	}
}

func TestTerminate_StopsOnIterationsExhausted(t *testing.T) {
	e, s := newTestEngine(t, &fakeExecutor{}, &fakeBook{}, &fakePrices{}, &fakeKlines{}, &fakeSelector{})
	st := baseStrategy(core.TrailingStopExit)
	st.IterationsCompleted = 10
	_, err := s.InsertStrategy(context.Background(), st)
	require.NoError(t, err)

	assert.True(t, e.terminate(context.Background(), &st))
	assert.Equal(t, core.StrategyCompleted, st.Status)
}

func TestTerminate_StopsWhenPastEndTime(t *testing.T) {
	e, _ := newTestEngine(t, &fakeExecutor{}, &fakeBook{}, &fakePrices{}, &fakeKlines{}, &fakeSelector{})
	st := baseStrategy(core.TrailingStopExit)
	st.StartedAt = time.Now().Add(-2 * time.Hour)
	st.DurationMinutes = 60

	assert.True(t, e.terminate(context.Background(), &st))
}

func TestTerminate_ContinuesWhenStillRunning(t *testing.T) {
	e, _ := newTestEngine(t, &fakeExecutor{}, &fakeBook{}, &fakePrices{}, &fakeKlines{}, &fakeSelector{})
	st := baseStrategy(core.TrailingStopExit)
	assert.False(t, e.terminate(context.Background(), &st))
}

func TestHandleEntry_TrailingStop_OpensPositionOnCandidate(t *testing.T) {
	sel := &fakeSelector{candidate: &Candidate{CoinID: "eth", CurrentPrice: price("2000")}}
	exec := &fakeExecutor{}
	e, s := newTestEngine(t, exec, &fakeBook{}, &fakePrices{}, &fakeKlines{}, sel)
	st := baseStrategy(core.TrailingStopExit)
	id, err := s.InsertStrategy(context.Background(), st)
	require.NoError(t, err)
	st.ID = id

	require.NoError(t, e.handleEntry(context.Background(), &st))

	require.NotNil(t, st.CurrentCoinID)
	assert.Equal(t, "eth", *st.CurrentCoinID)
	assert.True(t, st.EntryPrice.Equal(price("2000")))
	assert.True(t, st.HighWaterMark.Equal(price("2000")))
	assert.Nil(t, st.CurrentOrderID, "trailing-stop variant does not place a resting sell on entry")
	assert.Len(t, exec.calls, 1)
}

func TestHandleEntry_FixedTarget_PlacesLimitSell(t *testing.T) {
	sel := &fakeSelector{candidate: &Candidate{CoinID: "eth", CurrentPrice: price("2000")}}
	exec := &fakeExecutor{}
	bk := &fakeBook{}
	e, s := newTestEngine(t, exec, bk, &fakePrices{}, &fakeKlines{}, sel)
	st := baseStrategy(core.FixedTargetExit)
	id, err := s.InsertStrategy(context.Background(), st)
	require.NoError(t, err)
	st.ID = id

	require.NoError(t, e.handleEntry(context.Background(), &st))

	require.NotNil(t, st.CurrentOrderID)
	require.Len(t, bk.added, 1)
	assert.True(t, bk.added[0].Price.Equal(price("2040")), "target = 2000 * 1.02")
}

func TestHandleEntry_AbortsWhenStrategyNoLongerRunning(t *testing.T) {
	sel := &fakeSelector{candidate: &Candidate{CoinID: "eth", CurrentPrice: price("2000")}}
	e, s := newTestEngine(t, &fakeExecutor{}, &fakeBook{}, &fakePrices{}, &fakeKlines{}, sel)
	st := baseStrategy(core.TrailingStopExit)
	st.Status = core.StrategyForceStopped
	id, err := s.InsertStrategy(context.Background(), st)
	require.NoError(t, err)
	st.ID = id

	require.NoError(t, e.handleEntry(context.Background(), &st))
	assert.Nil(t, st.CurrentCoinID, "race guard must skip the entry once the strategy is no longer running")
}

func TestHandleEntry_NoCandidateIsNoOp(t *testing.T) {
	e, s := newTestEngine(t, &fakeExecutor{}, &fakeBook{}, &fakePrices{}, &fakeKlines{}, &fakeSelector{})
	st := baseStrategy(core.TrailingStopExit)
	id, err := s.InsertStrategy(context.Background(), st)
	require.NoError(t, err)
	st.ID = id

	require.NoError(t, e.handleEntry(context.Background(), &st))
	assert.Nil(t, st.CurrentCoinID)
}

func TestHandleActiveTrade_TrailingStop_ExitsOnTargetHit(t *testing.T) {
	exec := &fakeExecutor{}
	prices := &fakePrices{prices: map[string]decimal.Decimal{"eth": price("2100")}}
	e, _ := newTestEngine(t, exec, &fakeBook{}, prices, &fakeKlines{}, &fakeSelector{})
	st := baseStrategy(core.TrailingStopExit)
	coinID := "eth"
	st.CurrentCoinID = &coinID
	st.EntryPrice = price("2000")
	st.HighWaterMark = price("2000")

	require.NoError(t, e.handleActiveTrade(context.Background(), &st))

	assert.Nil(t, st.CurrentCoinID, "2100 >= entry*1.02 target should close the position")
	assert.Len(t, exec.calls, 1)
	assert.Equal(t, 1, st.IterationsCompleted)
}

func TestHandleActiveTrade_TrailingStop_ExitsOnStopHit(t *testing.T) {
	exec := &fakeExecutor{}
	prices := &fakePrices{prices: map[string]decimal.Decimal{"eth": price("1900")}}
	e, _ := newTestEngine(t, exec, &fakeBook{}, prices, &fakeKlines{closes: nil}, &fakeSelector{})
	st := baseStrategy(core.TrailingStopExit)
	coinID := "eth"
	st.CurrentCoinID = &coinID
	st.EntryPrice = price("2000")
	st.HighWaterMark = price("2000")

	require.NoError(t, e.handleActiveTrade(context.Background(), &st))

	assert.Nil(t, st.CurrentCoinID, "1900 is below entry*0.97 fallback stop with no ATR data")
	assert.Len(t, exec.calls, 1)
}

func TestHandleActiveTrade_TrailingStop_HoldsWithinBand(t *testing.T) {
	prices := &fakePrices{prices: map[string]decimal.Decimal{"eth": price("2010")}}
	e, _ := newTestEngine(t, &fakeExecutor{}, &fakeBook{}, prices, &fakeKlines{}, &fakeSelector{})
	st := baseStrategy(core.TrailingStopExit)
	coinID := "eth"
	st.CurrentCoinID = &coinID
	st.EntryPrice = price("2000")
	st.HighWaterMark = price("2000")

	require.NoError(t, e.handleActiveTrade(context.Background(), &st))

	assert.NotNil(t, st.CurrentCoinID, "2010 sits between stop and target, position stays open")
	assert.True(t, st.HighWaterMark.Equal(price("2010")), "high-water mark tracks the new high")
}

func TestCheckOrderStatus_FixedTarget_CompletedSellClosesPosition(t *testing.T) {
	e, s := newTestEngine(t, &fakeExecutor{}, &fakeBook{}, &fakePrices{}, &fakeKlines{}, &fakeSelector{})
	orderID, err := s.InsertOrder(context.Background(), core.Order{
		UserID: "user-1", CoinID: "eth", CoinSymbol: "ETH", Side: core.Sell, Mode: core.Limit,
		Quantity: price("1"), PricePerUnit: price("2040"), TotalAmount: price("2040"),
		Status: core.OrderCompleted, CreatedAt: time.Now(),
	})
	require.NoError(t, err)

	st := baseStrategy(core.FixedTargetExit)
	coinID := "eth"
	st.CurrentCoinID = &coinID
	st.CurrentOrderID = &orderID
	st.EntryPrice = price("2000")

	require.NoError(t, e.checkOrderStatus(context.Background(), &st))

	assert.Nil(t, st.CurrentCoinID)
	assert.Nil(t, st.CurrentOrderID)
	assert.Equal(t, 1, st.IterationsCompleted)
}

func TestCheckOrderStatus_CancelledSellResumesMonitoring(t *testing.T) {
	e, s := newTestEngine(t, &fakeExecutor{}, &fakeBook{}, &fakePrices{}, &fakeKlines{}, &fakeSelector{})
	orderID, err := s.InsertOrder(context.Background(), core.Order{
		UserID: "user-1", CoinID: "eth", CoinSymbol: "ETH", Side: core.Sell, Mode: core.Limit,
		Quantity: price("1"), PricePerUnit: price("2040"), TotalAmount: price("2040"),
		Status: core.OrderCancelled, CreatedAt: time.Now(),
	})
	require.NoError(t, err)

	st := baseStrategy(core.FixedTargetExit)
	coinID := "eth"
	st.CurrentCoinID = &coinID
	st.CurrentOrderID = &orderID
	st.EntryPrice = price("2000")

	require.NoError(t, e.checkOrderStatus(context.Background(), &st))

	assert.NotNil(t, st.CurrentCoinID, "position stays open, only the order tracking clears")
	assert.Nil(t, st.CurrentOrderID)
}

func TestCheckOrderStatus_StillPendingIsNoOp(t *testing.T) {
	e, s := newTestEngine(t, &fakeExecutor{}, &fakeBook{}, &fakePrices{}, &fakeKlines{}, &fakeSelector{})
	orderID, err := s.InsertOrder(context.Background(), core.Order{
		UserID: "user-1", CoinID: "eth", CoinSymbol: "ETH", Side: core.Sell, Mode: core.Limit,
		Quantity: price("1"), PricePerUnit: price("2040"), TotalAmount: price("2040"),
		Status: core.OrderPending, CreatedAt: time.Now(),
	})
	require.NoError(t, err)

	st := baseStrategy(core.FixedTargetExit)
	coinID := "eth"
	st.CurrentCoinID = &coinID
	st.CurrentOrderID = &orderID

	require.NoError(t, e.checkOrderStatus(context.Background(), &st))
	assert.NotNil(t, st.CurrentCoinID)
	assert.NotNil(t, st.CurrentOrderID)
}

func TestForceExit_CancelsOrderAndInsertsMarketSell(t *testing.T) {
	bk := &fakeBook{}
	prices := &fakePrices{prices: map[string]decimal.Decimal{"eth": price("2050")}}
	e, s := newTestEngine(t, &fakeExecutor{}, bk, prices, &fakeKlines{}, &fakeSelector{})
	st := baseStrategy(core.FixedTargetExit)
	id, err := s.InsertStrategy(context.Background(), st)
	require.NoError(t, err)
	st.ID = id
	coinID := "eth"
	st.CurrentCoinID = &coinID
	st.EntryPrice = price("2000")
	orderID, err := s.InsertOrder(context.Background(), core.Order{
		UserID: "user-1", CoinID: "eth", CoinSymbol: "ETH", Side: core.Sell, Mode: core.Limit,
		Quantity: price("0.5"), PricePerUnit: price("2040"), TotalAmount: price("1020"),
		Status: core.OrderPending, CreatedAt: time.Now(),
	})
	require.NoError(t, err)
	st.CurrentOrderID = &orderID
	require.NoError(t, s.UpdateStrategy(context.Background(), st))

	require.NoError(t, e.ForceExit(context.Background(), st.ID))

	assert.Len(t, bk.removed, 1)
	require.Len(t, bk.added, 1)
	assert.True(t, bk.added[0].Quantity.Equal(price("0.5")), "1000/2000 notional quantity")

	final, ok, err := s.GetStrategy(context.Background(), st.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, core.StrategyForceStopped, final.Status)
}

func TestForceExit_UnknownStrategyReturnsNotFound(t *testing.T) {
	e, _ := newTestEngine(t, &fakeExecutor{}, &fakeBook{}, &fakePrices{}, &fakeKlines{}, &fakeSelector{})
	err := e.ForceExit(context.Background(), "missing")
	assert.ErrorIs(t, err, apperrors.ErrStrategyNotFound)
}

func TestRun_BacksOffOnListFailure(t *testing.T) {
	e, s := newTestEngine(t, &fakeExecutor{}, &fakeBook{}, &fakePrices{}, &fakeKlines{}, &fakeSelector{})
	e.failures = 2
	assert.Greater(t, e.tickInterval, time.Duration(0))
	require.NoError(t, s.Close()) // every ListRunningStrategies call now fails

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := e.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded, "Run sleeps in backoff until the context ends")
	assert.Equal(t, 3, e.failures, "the failed cycle counts as one more consecutive failure")
}
