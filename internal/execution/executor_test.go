package execution

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradeforge/internal/apperrors"
	"tradeforge/internal/core"
	"tradeforge/internal/decimalutil"
	"tradeforge/internal/logging"
	"tradeforge/internal/store"
)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.Open(":memory:", 1)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestExecutor(t *testing.T) (*Executor, *store.SQLiteStore) {
	t.Helper()
	logger, err := logging.New("ERROR")
	require.NoError(t, err)
	s := newTestStore(t)
	return New(s, logger), s
}

func d(s string) decimal.Decimal {
	v, _ := decimal.NewFromString(s)
	return v
}

func TestExecute_Buy_DebitsBalanceAndCreatesHolding(t *testing.T) {
	ctx := context.Background()
	ex, s := newTestExecutor(t)

	userID := "user-1"
	_, err := s.EnsureProfile(ctx, userID)
	require.NoError(t, err)
	require.NoError(t, s.RunInTx(ctx, func(tx store.Tx) error {
		return tx.SetProfileBalance(ctx, userID, d("50000"))
	}))

	orderID, err := s.InsertOrder(ctx, core.Order{
		UserID: userID, CoinID: "btc", CoinSymbol: "BTC",
		Side: core.Buy, Mode: core.Limit, Quantity: d("1"), PricePerUnit: d("40000"),
		Status: core.OrderPending, CreatedAt: time.Now(),
	})
	require.NoError(t, err)

	require.NoError(t, ex.Execute(ctx, orderID, d("39500")))

	profile, err := s.EnsureProfile(ctx, userID)
	require.NoError(t, err)
	assert.True(t, profile.Balance.Equal(d("10460.5")), "got %s", profile.Balance)

	holding, ok, err := s.GetHolding(ctx, userID, "btc")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, holding.Quantity.Equal(d("1")))
	assert.True(t, holding.AverageBuyPrice.Equal(d("39500")))

	order, ok, err := s.GetOrder(ctx, orderID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, core.OrderCompleted, order.Status)
}

func TestExecute_Buy_InsufficientBalanceAborts(t *testing.T) {
	ctx := context.Background()
	ex, s := newTestExecutor(t)

	userID := "user-2"
	_, err := s.EnsureProfile(ctx, userID)
	require.NoError(t, err)
	require.NoError(t, s.RunInTx(ctx, func(tx store.Tx) error {
		return tx.SetProfileBalance(ctx, userID, d("1000"))
	}))

	orderID, err := s.InsertOrder(ctx, core.Order{
		UserID: userID, CoinID: "btc", CoinSymbol: "BTC",
		Side: core.Buy, Mode: core.Limit, Quantity: d("1"), PricePerUnit: d("40000"),
		Status: core.OrderPending, CreatedAt: time.Now(),
	})
	require.NoError(t, err)

	err = ex.Execute(ctx, orderID, d("39500"))
	assert.ErrorIs(t, err, apperrors.ErrInsufficientBalance)

	profile, err := s.EnsureProfile(ctx, userID)
	require.NoError(t, err)
	assert.True(t, profile.Balance.Equal(d("1000")), "balance must be unchanged on abort")

	order, ok, err := s.GetOrder(ctx, orderID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, core.OrderPending, order.Status, "order stays pending when execution aborts")
}

func TestExecute_Sell_CreditsBalanceAndDeletesDustHolding(t *testing.T) {
	ctx := context.Background()
	ex, s := newTestExecutor(t)

	userID := "user-3"
	_, err := s.EnsureProfile(ctx, userID)
	require.NoError(t, err)

	require.NoError(t, s.RunInTx(ctx, func(tx store.Tx) error {
		return tx.UpsertHolding(ctx, core.Holding{UserID: userID, CoinID: "btc", CoinSymbol: "BTC", Quantity: d("2"), AverageBuyPrice: d("30000")})
	}))

	orderID, err := s.InsertOrder(ctx, core.Order{
		UserID: userID, CoinID: "btc", CoinSymbol: "BTC",
		Side: core.Sell, Mode: core.Limit, Quantity: d("2"), PricePerUnit: d("50000"),
		Status: core.OrderPending, CreatedAt: time.Now(),
	})
	require.NoError(t, err)

	require.NoError(t, ex.Execute(ctx, orderID, d("50000")))

	profile, err := s.EnsureProfile(ctx, userID)
	require.NoError(t, err)
	assert.True(t, profile.Balance.Equal(decimalutil.SeedBalance.Add(d("99900"))), "got %s", profile.Balance)

	_, ok, err := s.GetHolding(ctx, userID, "btc")
	require.NoError(t, err)
	assert.False(t, ok, "holding must be deleted once it falls to dust")
}

func TestExecute_Sell_InsufficientHoldingsIsNonFatal(t *testing.T) {
	ctx := context.Background()
	ex, s := newTestExecutor(t)

	userID := "user-4"
	_, err := s.EnsureProfile(ctx, userID)
	require.NoError(t, err)

	orderID, err := s.InsertOrder(ctx, core.Order{
		UserID: userID, CoinID: "eth", CoinSymbol: "ETH",
		Side: core.Sell, Mode: core.Market, Quantity: d("5"), PricePerUnit: decimal.Zero,
		Status: core.OrderPending, CreatedAt: time.Now(),
	})
	require.NoError(t, err)

	// No holding exists at all; per §9 this is tolerated, not rejected.
	require.NoError(t, ex.Execute(ctx, orderID, d("2000")))

	order, ok, err := s.GetOrder(ctx, orderID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, core.OrderCompleted, order.Status)
}

func TestExecute_MissingOrderIsNoOp(t *testing.T) {
	ex, _ := newTestExecutor(t)
	err := ex.Execute(context.Background(), "does-not-exist", d("100"))
	assert.NoError(t, err)
}

func TestExecute_RoundTrip_BuyThenSell_CostsExactlyTwoFees(t *testing.T) {
	ctx := context.Background()
	ex, s := newTestExecutor(t)

	userID := "user-5"
	profile, err := s.EnsureProfile(ctx, userID)
	require.NoError(t, err)
	original := profile.Balance

	buyID, err := s.InsertOrder(ctx, core.Order{
		UserID: userID, CoinID: "sol", CoinSymbol: "SOL",
		Side: core.Buy, Mode: core.Limit, Quantity: d("10"), PricePerUnit: d("100"),
		Status: core.OrderPending, CreatedAt: time.Now(),
	})
	require.NoError(t, err)
	require.NoError(t, ex.Execute(ctx, buyID, d("100")))

	sellID, err := s.InsertOrder(ctx, core.Order{
		UserID: userID, CoinID: "sol", CoinSymbol: "SOL",
		Side: core.Sell, Mode: core.Limit, Quantity: d("10"), PricePerUnit: d("100"),
		Status: core.OrderPending, CreatedAt: time.Now(),
	})
	require.NoError(t, err)
	require.NoError(t, ex.Execute(ctx, sellID, d("100")))

	_, ok, err := s.GetHolding(ctx, userID, "sol")
	require.NoError(t, err)
	assert.False(t, ok)

	p, err := s.EnsureProfile(ctx, userID)
	require.NoError(t, err)
	expected := original.Sub(d("10").Mul(d("100")).Mul(decimalutil.TradingFeeRate).Mul(d("2")))
	assert.True(t, p.Balance.Equal(expected), "want %s got %s", expected, p.Balance)
}
