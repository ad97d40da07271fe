package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandEnvVars_SubstitutesFromEnvironment(t *testing.T) {
	os.Setenv("TEST_TRADEFORGE_API_KEY", "key_value")
	defer os.Unsetenv("TEST_TRADEFORGE_API_KEY")

	got := expandEnvVars("api_key: ${TEST_TRADEFORGE_API_KEY}")
	assert.Equal(t, "api_key: key_value", got)
}

func validConfig() Config {
	return Config{
		Exchange: ExchangeConfig{WSBaseURL: "wss://stream.binance.com:9443", QuoteSuffix: "usdt"},
		Database: DatabaseConfig{DSN: "file:tradeforge.db", MaxOpenConns: 1},
		Trading:  TradingConfig{FeeRate: 0.001, SeedBalance: 50000},
	}
}

func TestValidate_AcceptsAWellFormedConfig(t *testing.T) {
	c := validConfig()
	require.NoError(t, c.Validate())
	assert.Equal(t, "trailing_stop", c.Strategies.DefaultExitStyle, "default exit style fills in when unset")
	assert.Equal(t, "INFO", c.System.LogLevel, "default log level fills in when unset")
	assert.Equal(t, 5, c.Timing.FeedReconnectDelaySeconds)
	assert.Equal(t, 2000, c.Timing.StrategyCyclePeriodMillis)
}

func TestValidate_RejectsMissingWSBaseURL(t *testing.T) {
	c := validConfig()
	c.Exchange.WSBaseURL = ""
	assert.Error(t, c.Validate())
}

func TestValidate_RejectsFeeRateOutOfRange(t *testing.T) {
	c := validConfig()
	c.Trading.FeeRate = 1.5
	assert.Error(t, c.Validate())
}

func TestValidate_RejectsUnknownExitStyle(t *testing.T) {
	c := validConfig()
	c.Strategies.DefaultExitStyle = "martingale"
	assert.Error(t, c.Validate())
}

func TestValidate_RejectsUnknownLogLevel(t *testing.T) {
	c := validConfig()
	c.System.LogLevel = "TRACE"
	assert.Error(t, c.Validate())
}

func TestSecret_RedactsOnStringAndJSON(t *testing.T) {
	s := Secret("super-secret")
	assert.Equal(t, "[REDACTED]", s.String())
	b, err := s.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"[REDACTED]"`, string(b))
	assert.Equal(t, "", Secret("").String())
}
