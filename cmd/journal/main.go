// Journal prints what the trade journal recorded: recent live spreads, the
// rows of one backtest run, or the broker's current net positions.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/spreadbot/core"
	"github.com/web3guy0/spreadbot/exec"
	"github.com/web3guy0/spreadbot/internal/config"
	"github.com/web3guy0/spreadbot/storage"
)

func main() {
	runID := flag.String("run", "", "print the trade rows of a backtest run")
	limit := flag.Int("limit", 20, "number of live spreads to print")
	broker := flag.Bool("positions", false, "print broker net positions instead")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Println("❌ Config error:", err)
		os.Exit(1)
	}

	if *broker {
		if err := printBrokerPositions(cfg); err != nil {
			fmt.Println("❌", err)
			os.Exit(1)
		}
		return
	}

	if cfg.DatabasePath == "" {
		fmt.Println("❌ DATABASE_PATH not set")
		os.Exit(1)
	}
	db, err := storage.New(cfg.DatabasePath)
	if err != nil {
		fmt.Println("❌ Journal error:", err)
		os.Exit(1)
	}
	defer db.Close()

	if *runID != "" {
		err = printBacktestRun(db, *runID)
	} else {
		err = printSpreads(db, *limit)
	}
	if err != nil {
		fmt.Println("❌ Query error:", err)
		os.Exit(1)
	}
}

type tally struct {
	wins, losses int
	total        decimal.Decimal
}

func (t *tally) add(pnl decimal.Decimal) {
	if pnl.IsPositive() {
		t.wins++
	} else {
		t.losses++
	}
	t.total = t.total.Add(pnl)
}

func (t *tally) print() {
	n := t.wins + t.losses
	rate := decimal.Zero
	if n > 0 {
		rate = decimal.NewFromInt(int64(t.wins)).Div(decimal.NewFromInt(int64(n)))
	}
	fmt.Printf("\n📈 SUMMARY:\n")
	fmt.Printf("   Wins: %d | Losses: %d | Win Rate: %s\n", t.wins, t.losses, core.FormatPercent(rate))
	fmt.Printf("   Total P&L: %s\n", core.FormatCurrency(t.total))
}

func printSpreads(db *storage.Database, limit int) error {
	trades, err := db.RecentSpreads(limit)
	if err != nil {
		return err
	}
	fmt.Printf("📊 LIVE SPREADS - %d most recent\n\n", len(trades))

	fmt.Println("═══════════════════════════════════════════════════════════════════════════════════════")
	fmt.Println("│ EXITED       │ LONG                           │ ENTRY   │ EXIT    │ NET P&L      │")
	fmt.Println("═══════════════════════════════════════════════════════════════════════════════════════")

	var t tally
	for _, tr := range trades {
		entry := tr.EntryLong.Sub(tr.EntryShort)
		exit := tr.ExitLong.Sub(tr.ExitShort)
		fmt.Printf("│ %-12s │ %-30s │ %7s │ %7s │ %12s │\n",
			tr.ExitedAt.Format("Jan 2 15:04"),
			tr.LongSymbol,
			entry.StringFixed(2),
			exit.StringFixed(2),
			core.FormatCurrency(tr.PnL),
		)
		t.add(tr.PnL)
	}
	fmt.Println("═══════════════════════════════════════════════════════════════════════════════════════")
	t.print()

	if len(trades) > 0 {
		first, last := trades[len(trades)-1], trades[0]
		fmt.Printf("\n   Date Range: %s to %s\n",
			first.EnteredAt.Format("Jan 2 15:04"),
			last.ExitedAt.Format("Jan 2 15:04"),
		)
	}
	return nil
}

func printBacktestRun(db *storage.Database, runID string) error {
	rows, err := db.BacktestTrades(runID)
	if err != nil {
		return err
	}
	fmt.Printf("📊 BACKTEST RUN %s - %d trades\n\n", runID, len(rows))

	fmt.Println("═══════════════════════════════════════════════════════════════════════════════")
	fmt.Println("│ DATE       │ SPOT      │ STRIKES       │ DEBIT  │ EXIT   │ NET P&L      │")
	fmt.Println("═══════════════════════════════════════════════════════════════════════════════")

	var t tally
	for _, r := range rows {
		fmt.Printf("│ %-10s │ %9s │ %5s / %5s │ %6s │ %6s │ %12s │\n",
			r.Date.Format("2006-01-02"),
			r.SpotPrice.StringFixed(2),
			r.BuyStrike.String(), r.SellStrike.String(),
			r.EntryNetDebit.StringFixed(2),
			r.ExitNetDebit.StringFixed(2),
			core.FormatCurrency(r.NetPnL),
		)
		t.add(r.NetPnL)
	}
	fmt.Println("═══════════════════════════════════════════════════════════════════════════════")
	t.print()
	return nil
}

func printBrokerPositions(cfg *config.Config) error {
	if err := cfg.ValidateGateway(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	client := exec.NewClient(exec.Config{
		BaseURL:   cfg.GatewayURL,
		APIKey:    cfg.GatewayAPIKey,
		APISecret: cfg.GatewayAPISecret,
		Timeout:   cfg.GatewayTimeout,
	})
	if err := client.Authenticate(ctx); err != nil {
		return err
	}
	positions, err := client.Positions(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("💼 BROKER POSITIONS - %d\n\n", len(positions))
	total := decimal.Zero
	for _, p := range positions {
		fmt.Printf("   %-30s qty %5d  avg %9s  P&L %12s\n",
			p.Symbol, p.Quantity, p.AveragePrice.StringFixed(2), core.FormatCurrency(p.PnL))
		total = total.Add(p.PnL)
	}
	fmt.Printf("\n   Total P&L: %s\n", core.FormatCurrency(total))
	return nil
}
