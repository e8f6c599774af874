package core

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/spreadbot/strategy"
	"github.com/web3guy0/spreadbot/types"
)

type fakeHistory struct {
	spot      map[string]decimal.Decimal
	chain     types.OptionChain
	expiries  []time.Time
	panicDay  string
	chainHits int
}

func (f *fakeHistory) SpotPrice(_ context.Context, _ string, day time.Time) (decimal.Decimal, bool) {
	key := day.Format("2006-01-02")
	if key == f.panicDay {
		panic("corrupt candle")
	}
	p, ok := f.spot[key]
	return p, ok
}

func (f *fakeHistory) OptionChain(context.Context, string, time.Time) types.OptionChain {
	f.chainHits++
	return f.chain
}

func (f *fakeHistory) Expiries(context.Context, string) []time.Time {
	return f.expiries
}

type fakeJournal struct {
	runIDs []string
	rows   []TradeRow
}

func (j *fakeJournal) SaveBacktestTrade(runID string, row TradeRow) error {
	j.runIDs = append(j.runIDs, runID)
	j.rows = append(j.rows, row)
	return nil
}

func newTestBacktester(t *testing.T, data HistoricalData) *Backtester {
	t.Helper()
	strat, err := strategy.NewDebitSpread(strategy.DefaultDebitSpreadConfig(), nil)
	if err != nil {
		t.Fatal(err)
	}
	bt, err := NewBacktester(strat, data, nil, DefaultBacktestConfig())
	if err != nil {
		t.Fatal(err)
	}
	return bt
}

func TestBacktestWeekendAndMissingSpotProduceNoTrades(t *testing.T) {
	bt := newTestBacktester(t, &fakeHistory{})

	// Saturday, Sunday, then a Monday with no spot price
	result := bt.Run(context.Background(), "NIFTY", date(2025, 1, 4), date(2025, 1, 6))

	if result.TotalTrades != 0 || len(result.Trades) != 0 {
		t.Fatalf("trades = %d", result.TotalTrades)
	}
	if !result.WinRate().IsZero() || !result.AvgPnL().IsZero() {
		t.Fatalf("win rate = %s", result.WinRate())
	}
	summary := result.Summary()
	for _, want := range []string{"Total Trades:     0", "Win Rate:         0.0%", "Total P&L:        ₹0.00"} {
		if !strings.Contains(summary, want) {
			t.Errorf("summary missing %q:\n%s", want, summary)
		}
	}
}

func TestBacktestSimulatesDayWithSyntheticChain(t *testing.T) {
	data := &fakeHistory{spot: map[string]decimal.Decimal{"2025-01-02": decimal.NewFromInt(24000)}}
	bt := newTestBacktester(t, data)
	journal := &fakeJournal{}
	bt.SetJournal(journal)

	result := bt.Run(context.Background(), "NIFTY", date(2025, 1, 2), date(2025, 1, 2))
	if result.TotalTrades != 1 {
		t.Fatalf("trades = %d", result.TotalTrades)
	}

	row := result.Trades[0]
	if row.BuySymbol != "NSE-NIFTY-09Jan25-24000-CE" || row.SellSymbol != "NSE-NIFTY-09Jan25-24300-CE" {
		t.Fatalf("legs = %s / %s", row.BuySymbol, row.SellSymbol)
	}
	if row.DaysToExpiry != 7 || !row.Expiry.Equal(date(2025, 1, 9)) {
		t.Errorf("expiry = %v dte = %d", row.Expiry, row.DaysToExpiry)
	}
	if row.EntryTime.Hour() != 9 || row.EntryTime.Minute() != 25 {
		t.Errorf("entry time = %v", row.EntryTime)
	}

	// long 10 + 0.5 slippage, short 5 - 0.5 slippage
	checks := map[string][2]decimal.Decimal{
		"entry_buy":  {row.EntryBuy, decimal.NewFromFloat(10.5)},
		"entry_sell": {row.EntrySell, decimal.NewFromFloat(4.5)},
		"net_debit":  {row.EntryNetDebit, decimal.NewFromInt(6)},
		"exit_buy":   {row.ExitBuy, decimal.NewFromFloat(9.5)},
		"exit_sell":  {row.ExitSell, decimal.NewFromFloat(4.75)},
		"brokerage":  {row.Brokerage, decimal.NewFromInt(80)},
		"gross":      {row.GrossPnL, decimal.NewFromFloat(-1.25)},
		"net":        {row.NetPnL, decimal.NewFromFloat(-81.25)},
	}
	for name, c := range checks {
		if !c[0].Equal(c[1]) {
			t.Errorf("%s = %s, want %s", name, c[0], c[1])
		}
	}

	if result.LosingTrades != 1 || !result.MaxDrawdown.Equal(decimal.NewFromFloat(81.25)) {
		t.Errorf("losing = %d drawdown = %s", result.LosingTrades, result.MaxDrawdown)
	}
	if pnl, ok := result.DailyPnL["2025-01-02"]; !ok || !pnl.Equal(row.NetPnL) {
		t.Errorf("daily pnl = %v", result.DailyPnL)
	}
	if bt.Positions().HasOpenPositions() || len(bt.Positions().ClosedPositions()) != 1 {
		t.Error("spread not closed")
	}

	if len(journal.rows) != 1 || journal.runIDs[0] != result.RunID || result.RunID == "" {
		t.Errorf("journal = %+v", journal.runIDs)
	}
}

func TestBacktestRecoversFromFailingDay(t *testing.T) {
	data := &fakeHistory{
		panicDay: "2025-01-03",
		spot: map[string]decimal.Decimal{
			"2025-01-02": decimal.NewFromInt(24000),
			"2025-01-06": decimal.NewFromInt(24100),
		},
	}
	bt := newTestBacktester(t, data)

	result := bt.Run(context.Background(), "NIFTY", date(2025, 1, 2), date(2025, 1, 6))
	if result.TotalTrades != 2 {
		t.Fatalf("trades = %d", result.TotalTrades)
	}
	if result.Trades[1].BuySymbol != "NSE-NIFTY-09Jan25-24100-CE" {
		t.Errorf("monday leg = %s", result.Trades[1].BuySymbol)
	}
	if !result.TotalPnL.Equal(decimal.NewFromFloat(-162.5)) || !result.MaxDrawdown.Equal(decimal.NewFromFloat(162.5)) {
		t.Errorf("total = %s drawdown = %s", result.TotalPnL, result.MaxDrawdown)
	}
}

func TestBacktestProviderExpiriesFallBack(t *testing.T) {
	data := &fakeHistory{spot: map[string]decimal.Decimal{"2025-01-02": decimal.NewFromInt(24000)}}
	providerBacktester := func() *Backtester {
		strat, _ := strategy.NewDebitSpread(strategy.DefaultDebitSpreadConfig(), nil)
		cfg := DefaultBacktestConfig()
		cfg.UseCalculatedExpiries = false
		bt, err := NewBacktester(strat, data, nil, cfg)
		if err != nil {
			t.Fatal(err)
		}
		return bt
	}

	if got := providerBacktester().Run(context.Background(), "NIFTY", date(2025, 1, 2), date(2025, 1, 2)); got.TotalTrades != 1 {
		t.Fatalf("trades = %d with calculated fallback", got.TotalTrades)
	}

	data.expiries = []time.Time{date(2025, 1, 30)}
	got := providerBacktester().Run(context.Background(), "NIFTY", date(2025, 1, 2), date(2025, 1, 2))
	if got.TotalTrades != 1 || !got.Trades[0].Expiry.Equal(date(2025, 1, 30)) {
		t.Fatalf("provider expiry not used: %+v", got.Trades)
	}
}

func TestBacktestUsesProviderChain(t *testing.T) {
	data := &fakeHistory{
		spot: map[string]decimal.Decimal{"2025-01-02": decimal.NewFromInt(24000)},
		chain: types.OptionChain{Calls: []string{
			"NSE-NIFTY-09Jan25-23800-CE", "NSE-NIFTY-09Jan25-23900-CE", "NSE-NIFTY-09Jan25-24000-CE",
			"NSE-NIFTY-09Jan25-24100-CE", "NSE-NIFTY-09Jan25-24200-CE", "NSE-NIFTY-09Jan25-24600-CE",
		}},
	}
	result := newTestBacktester(t, data).Run(context.Background(), "NIFTY", date(2025, 1, 2), date(2025, 1, 2))
	if result.TotalTrades != 1 {
		t.Fatalf("trades = %d", result.TotalTrades)
	}
	if got := result.Trades[0].SellStrike; !got.Equal(decimal.NewFromInt(24200)) {
		t.Errorf("sell strike = %s, want snapped 24200", got)
	}
}

func TestWriteCSV(t *testing.T) {
	data := &fakeHistory{spot: map[string]decimal.Decimal{"2025-01-02": decimal.NewFromInt(24000)}}
	result := newTestBacktester(t, data).Run(context.Background(), "NIFTY", date(2025, 1, 2), date(2025, 1, 2))

	path := filepath.Join(t.TempDir(), "results.csv")
	if err := result.WriteCSV(path); err != nil {
		t.Fatal(err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 || len(rows[0]) != 20 {
		t.Fatalf("rows = %d cols = %d", len(rows), len(rows[0]))
	}
	if rows[0][19] != "pnl_after_brokerage" || rows[1][19] != "-81.25" || rows[1][0] != "2025-01-02" {
		t.Errorf("row = %v", rows[1])
	}
}

func TestMaxDrawdownTracksPeak(t *testing.T) {
	r := newBacktestResult("run")
	for i, pnl := range []float64{100, -30, -50, 40, -80} {
		r.add(TradeRow{Date: date(2025, 1, i+1), NetPnL: decimal.NewFromFloat(pnl)})
	}
	r.calculateStats()

	// peak 100, trough -20
	if !r.MaxDrawdown.Equal(decimal.NewFromInt(120)) {
		t.Errorf("drawdown = %s", r.MaxDrawdown)
	}
	if r.WinningTrades != 2 || r.LosingTrades != 3 || !r.TotalPnL.Equal(decimal.NewFromInt(-20)) {
		t.Errorf("stats = %d/%d %s", r.WinningTrades, r.LosingTrades, r.TotalPnL)
	}
	if !r.WinRate().Equal(decimal.NewFromFloat(0.4)) {
		t.Errorf("win rate = %s", r.WinRate())
	}
}
