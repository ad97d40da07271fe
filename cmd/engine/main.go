// Command engine is tradeforge's process entrypoint: it loads
// configuration, wires the Matching Engine and Automation Engine, and
// runs them under one signal-aware lifecycle. Grounded on the teacher's
// cmd/live_server/main.go wiring shape.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"tradeforge/internal/automation"
	"tradeforge/internal/book"
	"tradeforge/internal/bootstrap"
	"tradeforge/internal/concurrency"
	"tradeforge/internal/config"
	"tradeforge/internal/decimalutil"
	"tradeforge/internal/execution"
	"tradeforge/internal/feed"
	"tradeforge/internal/logging"
	"tradeforge/internal/marketdata"
	"tradeforge/internal/matching"
	"tradeforge/internal/selector"
	"tradeforge/internal/store"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.System.LogLevel)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	decimalutil.Configure(decimal.NewFromFloat(cfg.Trading.FeeRate), decimal.NewFromFloat(cfg.Trading.SeedBalance))

	s, err := store.Open(cfg.Database.DSN, cfg.Database.MaxOpenConns)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer s.Close()

	ctx := context.Background()
	if err := s.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate store: %w", err)
	}

	b := book.New()
	if err := b.Bootstrap(ctx, s, logger); err != nil {
		return fmt.Errorf("bootstrap book: %w", err)
	}

	executor := execution.New(s, logger)
	feedClient := feed.NewClient(cfg.Exchange.WSBaseURL, cfg.Exchange.QuoteSuffix, logger)
	matchingEngine := matching.New(feedClient, b, executor, logger)

	fetcher := marketdata.New(string(cfg.Exchange.APIKey), string(cfg.Exchange.APISecret))
	blacklist := make(map[string]struct{}, len(cfg.Trading.Blacklist))
	for _, coinID := range cfg.Trading.Blacklist {
		blacklist[coinID] = struct{}{}
	}
	pool := concurrency.New("strategy-selector", cfg.Timing.SelectorConcurrency, logger)
	defer pool.Stop()
	sel := selector.New(fetcher, matchingEngine, pool, logger, selector.Config{
		Blacklist:   blacklist,
		QuoteSuffix: cfg.Exchange.QuoteSuffix,
	})

	automationEngine := automation.New(s, executor, matchingEngine, matchingEngine, fetcher, selectorAdapter{sel}, logger, cfg.Exchange.QuoteSuffix)
	automationEngine.SetTickInterval(time.Duration(cfg.Timing.StrategyCyclePeriodMillis) * time.Millisecond)

	app := bootstrap.New(logger)
	return app.Run(matchingEngine, automationEngine)
}

// selectorAdapter narrows selector.Selector's richer Candidate down to
// the shape automation.Selector depends on, keeping automation's
// dependency graph from importing selector's full analysis internals.
type selectorAdapter struct {
	sel *selector.Selector
}

func (a selectorAdapter) Select(ctx context.Context) (*automation.Candidate, error) {
	c, err := a.sel.Select(ctx)
	if err != nil || c == nil {
		return nil, err
	}
	return &automation.Candidate{CoinID: c.CoinID, CurrentPrice: c.CurrentPrice}, nil
}
