// Package config handles configuration loading and validation, grounded
// on the teacher's internal/config/config.go: a single YAML file with
// hand-rolled per-section Validate methods.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the complete tradeforge configuration.
type Config struct {
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Database   DatabaseConfig   `yaml:"database"`
	Trading    TradingConfig    `yaml:"trading"`
	Timing     TimingConfig     `yaml:"timing"`
	Strategies StrategiesConfig `yaml:"strategies"`
	System     SystemConfig     `yaml:"system"`
}

// ExchangeConfig holds the REST/WS endpoints and credentials used by
// the Market Feed Client and Market Data Fetcher.
type ExchangeConfig struct {
	WSBaseURL   string `yaml:"ws_base_url"`
	APIKey      Secret `yaml:"api_key"`
	APISecret   Secret `yaml:"api_secret"`
	QuoteSuffix string `yaml:"quote_suffix"`
}

// DatabaseConfig holds the Strategy Store's connection settings.
type DatabaseConfig struct {
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

// TradingConfig holds Execution Procedure parameters.
type TradingConfig struct {
	FeeRate     float64  `yaml:"fee_rate"`
	SeedBalance float64  `yaml:"seed_balance"`
	Blacklist   []string `yaml:"blacklist"`
}

// TimingConfig holds the tick/reconnect intervals and concurrency caps.
// StrategyCyclePeriodMillis and SelectorConcurrency are wired into the
// engines; FeedReconnectDelaySeconds is validated and defaulted but the
// feed client reconnects after the fixed retry.FeedReconnectDelay.
type TimingConfig struct {
	FeedReconnectDelaySeconds int `yaml:"feed_reconnect_delay_seconds"`
	StrategyCyclePeriodMillis int `yaml:"strategy_cycle_period_millis"`
	SelectorConcurrency       int `yaml:"selector_concurrency"`
}

// StrategiesConfig holds defaults applied to newly created strategies.
type StrategiesConfig struct {
	DefaultExitStyle string `yaml:"default_exit_style" validate:"oneof=trailing_stop fixed_target"`
}

// SystemConfig holds process-level settings.
type SystemConfig struct {
	LogLevel string `yaml:"log_level" validate:"oneof=DEBUG INFO WARN ERROR"`
}

// Load reads, expands, parses and validates a YAML config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

// Validate checks every section, collecting all errors before returning.
func (c *Config) Validate() error {
	var errs []string
	for _, fn := range []func() error{
		c.validateExchange,
		c.validateDatabase,
		c.validateTrading,
		c.validateTiming,
		c.validateStrategies,
		c.validateSystem,
	} {
		if err := fn(); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateExchange() error {
	if c.Exchange.WSBaseURL == "" {
		return fmt.Errorf("exchange.ws_base_url is required")
	}
	if c.Exchange.QuoteSuffix == "" {
		c.Exchange.QuoteSuffix = "usdt"
	}
	return nil
}

func (c *Config) validateDatabase() error {
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if c.Database.MaxOpenConns <= 0 {
		c.Database.MaxOpenConns = 1
	}
	return nil
}

func (c *Config) validateTrading() error {
	if c.Trading.FeeRate < 0 || c.Trading.FeeRate > 1 {
		return fmt.Errorf("trading.fee_rate must be between 0 and 1")
	}
	if c.Trading.SeedBalance < 0 {
		return fmt.Errorf("trading.seed_balance must not be negative")
	}
	return nil
}

func (c *Config) validateTiming() error {
	if c.Timing.FeedReconnectDelaySeconds <= 0 {
		c.Timing.FeedReconnectDelaySeconds = 5
	}
	if c.Timing.StrategyCyclePeriodMillis <= 0 {
		c.Timing.StrategyCyclePeriodMillis = 2000
	}
	if c.Timing.SelectorConcurrency <= 0 {
		c.Timing.SelectorConcurrency = 10
	}
	return nil
}

func (c *Config) validateStrategies() error {
	switch c.Strategies.DefaultExitStyle {
	case "", "trailing_stop":
		c.Strategies.DefaultExitStyle = "trailing_stop"
	case "fixed_target":
	default:
		return fmt.Errorf("strategies.default_exit_style must be trailing_stop or fixed_target, got %q", c.Strategies.DefaultExitStyle)
	}
	return nil
}

func (c *Config) validateSystem() error {
	level := strings.ToUpper(c.System.LogLevel)
	switch level {
	case "":
		c.System.LogLevel = "INFO"
	case "DEBUG", "INFO", "WARN", "ERROR":
		c.System.LogLevel = level
	default:
		return fmt.Errorf("system.log_level must be one of DEBUG INFO WARN ERROR, got %q", c.System.LogLevel)
	}
	return nil
}

func expandEnvVars(s string) string {
	return os.Expand(s, os.Getenv)
}
