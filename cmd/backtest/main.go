// Backtest replays the bull call spread over historical trading days.
//
// Spot levels, expiries and option contracts come from the brokerage's
// historical API. Fills are simulated from intrinsic value plus a time-value
// estimate, and every simulated trade is written to CSV (and the journal when
// DATABASE_PATH is set).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/spreadbot/core"
	"github.com/web3guy0/spreadbot/exec"
	"github.com/web3guy0/spreadbot/feeds"
	"github.com/web3guy0/spreadbot/internal/config"
	"github.com/web3guy0/spreadbot/internal/logging"
	"github.com/web3guy0/spreadbot/storage"
	"github.com/web3guy0/spreadbot/strategy"
)

func main() {
	os.Exit(run())
}

func run() int {
	underlying := flag.String("underlying", "", "underlying index (default UNDERLYING)")
	fromDate := flag.String("from-date", "", "first day, YYYY-MM-DD (default FROM_DATE)")
	toDate := flag.String("to-date", "", "last day, YYYY-MM-DD (default TO_DATE)")
	spreadWidth := flag.Float64("spread-width", 0, "points between long and short strike (default SPREAD_WIDTH)")
	output := flag.String("output", "backtest_results.csv", "CSV output path")
	providerExpiries := flag.Bool("provider-expiries", false, "use the gateway expiry list instead of calculated weekly expiries")
	verbose := flag.Bool("verbose", false, "info logging")
	debug := flag.Bool("debug", false, "debug logging")
	flag.Parse()

	// ═══════════════════════════════════════════════════════════════════════════════
	// BOOTSTRAP
	// ═══════════════════════════════════════════════════════════════════════════════

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		return 1
	}
	if *underlying != "" {
		cfg.Underlying = strings.ToUpper(*underlying)
	}
	if *fromDate != "" {
		cfg.FromDate = *fromDate
	}
	if *toDate != "" {
		cfg.ToDate = *toDate
	}
	if *spreadWidth > 0 {
		cfg.SpreadWidth = decimal.NewFromFloat(*spreadWidth)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		return 1
	}

	closer := logging.Setup(logging.Options{
		Name:  "backtest",
		Dir:   cfg.LogDir,
		Level: logging.Level(zerolog.WarnLevel, *verbose, *debug || cfg.Debug),
	})
	defer closer.Close()

	from, to, err := cfg.DateRange()
	if err != nil {
		log.Error().Err(err).Msg("Invalid date range")
		return 1
	}

	log.Info().Str("config", cfg.String()).Msg("⚙️ Backtest configuration")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ═══════════════════════════════════════════════════════════════════════════════
	// INITIALIZE COMPONENTS
	// ═══════════════════════════════════════════════════════════════════════════════

	// 1. Gateway
	if err := cfg.ValidateGateway(); err != nil {
		log.Error().Err(err).Msg("Historical data needs gateway credentials")
		return 1
	}
	client := exec.NewClient(exec.Config{
		BaseURL:   cfg.GatewayURL,
		APIKey:    cfg.GatewayAPIKey,
		APISecret: cfg.GatewayAPISecret,
		Timeout:   cfg.GatewayTimeout,
	})
	if err := client.Authenticate(ctx); err != nil {
		if errors.Is(err, exec.ErrAuth) {
			log.Error().Err(err).Msg("❌ Authentication failed")
		} else {
			log.Error().Err(err).Msg("❌ Gateway unreachable")
		}
		return 1
	}

	// 2. Data providers
	history := feeds.NewHistorical(client)
	instruments := feeds.NewInstruments(client, cfg.LotFallback)
	if err := instruments.Load(ctx, false); err != nil {
		log.Warn().Err(err).Int("fallback", cfg.LotFallback).Msg("⚠️ Instrument table unavailable, using fallback lot size")
	}

	// 3. Strategy
	strat, err := strategy.NewDebitSpread(cfg.StrategyConfig(), instruments)
	if err != nil {
		log.Error().Err(err).Msg("Failed to create strategy")
		return 1
	}

	// 4. Backtester
	bt, err := core.NewBacktester(strat, history, instruments, backtestConfig(cfg, *providerExpiries))
	if err != nil {
		log.Error().Err(err).Msg("Failed to create backtester")
		return 1
	}

	// 5. Journal
	db, err := storage.New(cfg.DatabasePath)
	if err != nil {
		log.Warn().Err(err).Msg("Journal unavailable, continuing without persistence")
	} else {
		defer db.Close()
		if db.IsEnabled() {
			bt.SetJournal(db)
		}
	}

	// ═══════════════════════════════════════════════════════════════════════════════
	// RUN
	// ═══════════════════════════════════════════════════════════════════════════════

	fmt.Printf("Backtesting %s %s → %s (width %s)\n",
		cfg.Underlying, from.Format("2006-01-02"), to.Format("2006-01-02"), cfg.SpreadWidth)

	result := bt.Run(ctx, cfg.Underlying, from, to)

	fmt.Println(result.Summary())

	if len(result.Trades) > 0 {
		if err := result.WriteCSV(*output); err != nil {
			log.Error().Err(err).Str("path", *output).Msg("Failed to write results")
			return 1
		}
		fmt.Printf("Results written to %s\n", *output)
	} else {
		fmt.Println("No trades executed")
	}

	if result.TotalPnL.IsNegative() {
		return 1
	}
	return 0
}

// backtestConfig maps settings onto the simulator. Calculated weekly expiries
// are the default; providerExpiries switches to the gateway list, which the
// backtester falls back from when it comes back empty.
func backtestConfig(cfg *config.Config, providerExpiries bool) core.BacktestConfig {
	return core.BacktestConfig{
		EntryTime:             cfg.EntryTime,
		ExitTime:              cfg.ExitTime,
		Slippage:              cfg.Slippage,
		BrokeragePerOrder:     cfg.BrokeragePerOrder,
		Location:              cfg.Location(),
		UseCalculatedExpiries: !providerExpiries,
	}
}
