// Live runs the bull call spread against the market in paper or live mode.
//
// Paper mode simulates fills from the tick stream. Live mode routes both legs
// to the brokerage and asks for confirmation before starting.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/spreadbot/bot"
	"github.com/web3guy0/spreadbot/core"
	"github.com/web3guy0/spreadbot/exec"
	"github.com/web3guy0/spreadbot/execution"
	"github.com/web3guy0/spreadbot/feeds"
	"github.com/web3guy0/spreadbot/internal/config"
	"github.com/web3guy0/spreadbot/internal/logging"
	"github.com/web3guy0/spreadbot/risk"
	"github.com/web3guy0/spreadbot/storage"
	"github.com/web3guy0/spreadbot/strategy"
)

func main() {
	mode := flag.String("mode", "", "paper or live (default MODE)")
	spreadWidth := flag.Float64("spread-width", 0, "points between long and short strike (default SPREAD_WIDTH)")
	verbose := flag.Bool("verbose", false, "debug logging")
	dryRun := flag.Bool("dry-run", false, "print configuration and market status, then exit")
	flag.Parse()

	// ═══════════════════════════════════════════════════════════════════════════════
	// BOOTSTRAP
	// ═══════════════════════════════════════════════════════════════════════════════

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	if *mode != "" {
		cfg.Mode = strings.ToUpper(*mode)
	}
	if *spreadWidth > 0 {
		cfg.SpreadWidth = decimal.NewFromFloat(*spreadWidth)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	closer := logging.Setup(logging.Options{
		Name:  "live",
		Dir:   cfg.LogDir,
		Level: logging.Level(zerolog.InfoLevel, *verbose, cfg.Debug),
	})
	defer closer.Close()

	log.Info().Msg("═══════════════════════════════════════════════════════════════")
	log.Info().Msg("              SPREADBOT - BULL CALL SPREAD")
	log.Info().Msg("═══════════════════════════════════════════════════════════════")
	log.Info().Str("config", cfg.String()).Msg("⚙️ Configuration")

	loc := cfg.Location()
	printMarketStatus(time.Now().In(loc))

	if *dryRun {
		fmt.Println(cfg.String())
		return
	}

	if !cfg.IsPaper() && !confirmLive() {
		fmt.Println("Live trading not confirmed, exiting")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ═══════════════════════════════════════════════════════════════════════════════
	// INITIALIZE COMPONENTS
	// ═══════════════════════════════════════════════════════════════════════════════

	// 1. Gateway
	if err := cfg.ValidateGateway(); err != nil {
		log.Fatal().Err(err).Msg("Gateway credentials missing")
	}
	client := exec.NewClient(exec.Config{
		BaseURL:   cfg.GatewayURL,
		APIKey:    cfg.GatewayAPIKey,
		APISecret: cfg.GatewayAPISecret,
		Timeout:   cfg.GatewayTimeout,
	})
	if err := authenticate(ctx, client, authAttempts, authRetryDelay); err != nil {
		if errors.Is(err, exec.ErrAuth) {
			log.Fatal().Err(err).Msg("❌ Authentication failed")
		}
		log.Fatal().Err(err).Int("attempts", authAttempts).Msg("❌ Gateway unreachable, no session token for orders or the feed")
	}
	log.Info().Msg("✅ Execution layer initialized")

	// 2. Market data
	cache := feeds.NewPriceCache()
	stream := feeds.NewStream(cfg.FeedURL, client, cache)
	live := feeds.NewLive(client)
	history := feeds.NewHistorical(client)
	instruments := feeds.NewInstruments(client, cfg.LotFallback)
	if err := instruments.Load(ctx, false); err != nil {
		log.Warn().Err(err).Int("fallback", cfg.LotFallback).Msg("⚠️ Instrument table unavailable, using fallback lot size")
	}
	log.Info().Int("instruments", instruments.Count()).Msg("✅ Market data initialized")

	// 3. Strategy and orders
	strat, err := strategy.NewDebitSpread(cfg.StrategyConfig(), instruments)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create strategy")
	}
	orders := execution.NewOrderManager(client, cfg.IsPaper(), cfg.BrokeragePerOrder)

	// 4. Journal
	db, err := storage.New(cfg.DatabasePath)
	if err != nil {
		log.Warn().Err(err).Msg("Journal unavailable, continuing without persistence")
	} else {
		defer db.Close()
	}

	// 5. Telegram
	var tg *bot.TelegramBot
	if cfg.TelegramToken != "" {
		tg, err = bot.NewTelegramBot(cfg.TelegramToken, cfg.TelegramChatID)
		if err != nil {
			log.Warn().Err(err).Msg("⚠️ Telegram disabled")
		}
	}

	deps := core.LiveDeps{
		Strategy: strat,
		Orders:   orders,
		Ticks:    stream,
		Prices:   cache,
		Spot:     live,
		Chains:   history,
		Lots:     instruments,
	}
	if db != nil && db.IsEnabled() {
		deps.Journal = db
	}
	if tg != nil {
		deps.Notifier = tg
	}
	var breaker *risk.CircuitBreaker
	if cfg.BreakerEnabled() {
		breaker = risk.NewCircuitBreaker(cfg.MaxConsecutiveLosses, cfg.MaxSessionLoss)
		deps.Gate = breaker
		log.Info().
			Int("max_losses", cfg.MaxConsecutiveLosses).
			Str("max_session_loss", cfg.MaxSessionLoss.StringFixed(2)).
			Msg("✅ Circuit breaker armed")
	}

	trader := core.NewLiveTrader(core.LiveConfig{
		Underlying:        cfg.Underlying,
		Paper:             cfg.IsPaper(),
		Slippage:          cfg.Slippage,
		BrokeragePerOrder: cfg.BrokeragePerOrder,
		Location:          loc,
		Interval:          cfg.PollInterval,
	}, deps)

	if tg != nil {
		tg.SetStatusProvider(trader)
		if deps.Journal != nil {
			tg.SetHistory(db)
		}
		if breaker != nil {
			tg.SetBreaker(breaker)
		}
		tg.Start()
		tg.NotifyStartup(cfg.Mode, cfg.Underlying, cfg.SpreadWidth)
	}

	// ═══════════════════════════════════════════════════════════════════════════════
	// RUN
	// ═══════════════════════════════════════════════════════════════════════════════

	trader.Start(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("🛑 Shutting down")

	trader.Stop()
	cancel()
	if tg != nil {
		tg.Stop()
	}

	log.Info().Int64("ticks", cache.Accepted()).Int64("malformed", cache.Malformed()).Msg("📡 Feed totals")
	log.Info().Msg("👋 Goodbye")
}

const (
	authAttempts   = 5
	authRetryDelay = 5 * time.Second
)

type authenticator interface {
	Authenticate(ctx context.Context) error
}

// authenticate retries transport failures. Rejected credentials fail at once.
func authenticate(ctx context.Context, a authenticator, attempts int, delay time.Duration) error {
	var err error
	for i := 1; i <= attempts; i++ {
		err = a.Authenticate(ctx)
		if err == nil || errors.Is(err, exec.ErrAuth) {
			return err
		}
		if i == attempts {
			break
		}
		log.Warn().Err(err).Int("attempt", i).Dur("retry_in", delay).Msg("⚠️ Gateway unreachable, retrying...")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}

func printMarketStatus(now time.Time) {
	if core.IsMarketOpen(now) {
		fmt.Printf("Market is OPEN (%s)\n", now.Format("Mon 02 Jan 15:04 MST"))
		return
	}
	fmt.Printf("Market is CLOSED. Next open: %s\n", core.NextMarketOpen(now).Format("Mon 02 Jan 15:04 MST"))
}

func confirmLive() bool {
	fmt.Println("⚠️  LIVE MODE: real orders will be placed with the brokerage.")
	fmt.Print("Type YES to continue: ")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	return strings.TrimSpace(line) == "YES"
}
