package core

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TradeRow is one simulated trading day
type TradeRow struct {
	Date          time.Time
	EntryTime     time.Time
	Expiry        time.Time
	DaysToExpiry  int
	Underlying    string
	SpotPrice     decimal.Decimal
	BuyStrike     decimal.Decimal
	SellStrike    decimal.Decimal
	BuySymbol     string
	SellSymbol    string
	EntryBuy      decimal.Decimal
	EntrySell     decimal.Decimal
	EntryNetDebit decimal.Decimal
	ExitBuy       decimal.Decimal
	ExitSell      decimal.Decimal
	ExitNetDebit  decimal.Decimal
	LotSize       int
	GrossPnL      decimal.Decimal
	Brokerage     decimal.Decimal
	NetPnL        decimal.Decimal // after brokerage
}

// csvHeader is the trade row column order
var csvHeader = []string{
	"date", "entry_time", "expiry", "days_to_expiry", "underlying", "spot_price",
	"buy_strike", "sell_strike", "buy_symbol", "sell_symbol",
	"entry_buy", "entry_sell", "entry_net_debit",
	"exit_buy", "exit_sell", "exit_net_debit",
	"lot_size", "gross_pnl", "brokerage", "pnl_after_brokerage",
}

func (r TradeRow) record() []string {
	return []string{
		r.Date.Format("2006-01-02"),
		r.EntryTime.Format("2006-01-02 15:04:05"),
		r.Expiry.Format("2006-01-02"),
		strconv.Itoa(r.DaysToExpiry),
		r.Underlying,
		r.SpotPrice.StringFixed(2),
		r.BuyStrike.String(),
		r.SellStrike.String(),
		r.BuySymbol,
		r.SellSymbol,
		r.EntryBuy.StringFixed(2),
		r.EntrySell.StringFixed(2),
		r.EntryNetDebit.StringFixed(2),
		r.ExitBuy.StringFixed(2),
		r.ExitSell.StringFixed(2),
		r.ExitNetDebit.StringFixed(2),
		strconv.Itoa(r.LotSize),
		r.GrossPnL.StringFixed(2),
		r.Brokerage.StringFixed(2),
		r.NetPnL.StringFixed(2),
	}
}

// BacktestResult aggregates trade rows and the statistics derived from them
type BacktestResult struct {
	RunID    string
	Trades   []TradeRow
	DailyPnL map[string]decimal.Decimal // YYYY-MM-DD -> net P&L

	TotalTrades   int
	WinningTrades int
	LosingTrades  int
	TotalPnL      decimal.Decimal
	MaxDrawdown   decimal.Decimal
}

func newBacktestResult(runID string) *BacktestResult {
	return &BacktestResult{
		RunID:    runID,
		DailyPnL: make(map[string]decimal.Decimal),
	}
}

func (r *BacktestResult) add(row TradeRow) {
	r.Trades = append(r.Trades, row)
	r.DailyPnL[row.Date.Format("2006-01-02")] = row.NetPnL
}

// WinRate is winning trades over total trades; zero with no trades
func (r *BacktestResult) WinRate() decimal.Decimal {
	if r.TotalTrades == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(r.WinningTrades)).Div(decimal.NewFromInt(int64(r.TotalTrades)))
}

// AvgPnL is the mean net P&L per trade; zero with no trades
func (r *BacktestResult) AvgPnL() decimal.Decimal {
	if r.TotalTrades == 0 {
		return decimal.Zero
	}
	return r.TotalPnL.Div(decimal.NewFromInt(int64(r.TotalTrades)))
}

// calculateStats derives counts, totals and the max drawdown. The drawdown is
// the largest drop from a running peak of cumulative P&L, peak starting at 0.
func (r *BacktestResult) calculateStats() {
	r.TotalTrades = len(r.Trades)
	r.WinningTrades, r.LosingTrades = 0, 0
	r.TotalPnL, r.MaxDrawdown = decimal.Zero, decimal.Zero

	cumulative, peak := decimal.Zero, decimal.Zero
	for _, t := range r.Trades {
		switch {
		case t.NetPnL.IsPositive():
			r.WinningTrades++
		case t.NetPnL.IsNegative():
			r.LosingTrades++
		}
		cumulative = cumulative.Add(t.NetPnL)
		peak = decimal.Max(peak, cumulative)
		r.MaxDrawdown = decimal.Max(r.MaxDrawdown, peak.Sub(cumulative))
	}
	r.TotalPnL = cumulative
}

// Summary renders the closing report block
func (r *BacktestResult) Summary() string {
	rule := strings.Repeat("=", 80)
	var b strings.Builder
	fmt.Fprintf(&b, "\n%s\n%s\n%s\n", rule, "                            BACKTEST SUMMARY", rule)
	fmt.Fprintf(&b, "Total Trades:     %d\n", r.TotalTrades)
	fmt.Fprintf(&b, "Winning Trades:   %d\n", r.WinningTrades)
	fmt.Fprintf(&b, "Losing Trades:    %d\n", r.LosingTrades)
	fmt.Fprintf(&b, "Win Rate:         %s\n", FormatPercent(r.WinRate()))
	fmt.Fprintf(&b, "Total P&L:        %s\n", FormatCurrency(r.TotalPnL))
	fmt.Fprintf(&b, "Max Drawdown:     %s\n", FormatCurrency(r.MaxDrawdown))
	fmt.Fprintf(&b, "%s\n", rule)
	return b.String()
}

// WriteCSV writes one row per trade with a header line
func (r *BacktestResult) WriteCSV(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, t := range r.Trades {
		if err := w.Write(t.record()); err != nil {
			return fmt.Errorf("write row %s: %w", t.Date.Format("2006-01-02"), err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush %s: %w", path, err)
	}
	return f.Close()
}
