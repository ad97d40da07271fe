package feed

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradeforge/internal/logging"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	logger, err := logging.New("ERROR")
	require.NoError(t, err)
	return NewClient("wss://example.invalid/ws/!miniTicker@arr", "usdt", logger)
}

func TestParseFrame_FiltersAndLowercases(t *testing.T) {
	c := newTestClient(t)

	frame := []byte(`[
		{"s":"BTCUSDT","c":"65000.5","o":"64000.0","q":"123456789.1"},
		{"s":"ETHBTC","c":"0.05","o":"0.048","q":"1000"},
		{"s":"SOLUSDT","c":"150","o":"140","q":"9999"}
	]`)

	batch, ok := c.parseFrame(frame)
	require.True(t, ok)
	require.Len(t, batch, 2)

	assert.Equal(t, "btc", batch[0].CoinID)
	assert.Equal(t, "65000.5", batch[0].Snapshot.CurrentPrice.String())
	assert.Equal(t, "sol", batch[1].CoinID)
}

func TestParseFrame_DropsUnparseableTickersSilently(t *testing.T) {
	c := newTestClient(t)

	frame := []byte(`[
		{"s":"BTCUSDT","c":"not-a-number","o":"64000.0","q":"123"},
		{"s":"ETHUSDT","c":"3000","o":"2900","q":"500"}
	]`)

	batch, ok := c.parseFrame(frame)
	require.True(t, ok)
	require.Len(t, batch, 1)
	assert.Equal(t, "eth", batch[0].CoinID)
}

func TestParseFrame_InvalidJSON(t *testing.T) {
	c := newTestClient(t)
	_, ok := c.parseFrame([]byte(`not json`))
	assert.False(t, ok)
}

func TestSymbol(t *testing.T) {
	assert.Equal(t, "BTCUSDT", Symbol("btc", "usdt"))
}
