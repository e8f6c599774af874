package core

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/spreadbot/execution"
	"github.com/web3guy0/spreadbot/strategy"
	"github.com/web3guy0/spreadbot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// BACKTESTER - Replays the strategy one trading day at a time
// ═══════════════════════════════════════════════════════════════════════════════
//
// Per weekday:
//   nearest expiry → spot → chain (synthetic if empty) → snapshot at entry time
//   → ShouldEnter/EntryOrders → simulated fills → OpenSpread
//   → 5% decay exit → CloseSpread → trade row
//
// A failing day is logged and skipped, never fatal to the run.
//
// ═══════════════════════════════════════════════════════════════════════════════

// HistoricalData supplies the market inputs of a backtest
type HistoricalData interface {
	SpotPrice(ctx context.Context, underlying string, day time.Time) (decimal.Decimal, bool)
	OptionChain(ctx context.Context, underlying string, expiry time.Time) types.OptionChain
	Expiries(ctx context.Context, underlying string) []time.Time
}

// BacktestJournal persists trade rows of a run
type BacktestJournal interface {
	SaveBacktestTrade(runID string, row TradeRow) error
}

// BacktestConfig holds simulation settings
type BacktestConfig struct {
	EntryTime             string // HH:MM
	ExitTime              string // HH:MM
	Slippage              decimal.Decimal
	BrokeragePerOrder     decimal.Decimal
	Location              *time.Location
	UseCalculatedExpiries bool
}

// DefaultBacktestConfig returns the stock simulation settings
func DefaultBacktestConfig() BacktestConfig {
	return BacktestConfig{
		EntryTime:             "09:25",
		ExitTime:              "15:20",
		Slippage:              decimal.NewFromFloat(0.5),
		BrokeragePerOrder:     decimal.NewFromInt(20),
		Location:              time.UTC,
		UseCalculatedExpiries: true,
	}
}

// Backtester drives a strategy over historical days
type Backtester struct {
	config    BacktestConfig
	strategy  strategy.Strategy
	data      HistoricalData
	lots      strategy.LotSizer
	orders    *execution.OrderManager
	positions *execution.PositionManager
	journal   BacktestJournal

	entryHour, entryMin int
	exitHour, exitMin   int

	clock time.Time // simulated time for position stamps
}

// NewBacktester creates a backtester. lots may be nil for a lot size of 1.
func NewBacktester(strat strategy.Strategy, data HistoricalData, lots strategy.LotSizer, config BacktestConfig) (*Backtester, error) {
	eh, em, err := strategy.ParseClock(config.EntryTime)
	if err != nil {
		return nil, fmt.Errorf("entry time: %w", err)
	}
	xh, xm, err := strategy.ParseClock(config.ExitTime)
	if err != nil {
		return nil, fmt.Errorf("exit time: %w", err)
	}
	if config.Location == nil {
		config.Location = time.UTC
	}

	b := &Backtester{
		config:    config,
		strategy:  strat,
		data:      data,
		lots:      lots,
		orders:    execution.NewOrderManager(nil, true, config.BrokeragePerOrder),
		positions: execution.NewPositionManager(),
		entryHour: eh,
		entryMin:  em,
		exitHour:  xh,
		exitMin:   xm,
	}
	b.positions.SetClock(func() time.Time { return b.clock })
	return b, nil
}

// SetJournal stores every trade row of subsequent runs
func (b *Backtester) SetJournal(j BacktestJournal) {
	b.journal = j
}

// Positions exposes the session's position book
func (b *Backtester) Positions() *execution.PositionManager {
	return b.positions
}

// Run replays [from, to] for underlying. Cancelling ctx stops after the
// current day and returns the partial result.
func (b *Backtester) Run(ctx context.Context, underlying string, from, to time.Time) *BacktestResult {
	result := newBacktestResult(uuid.NewString())
	b.positions.Clear()
	b.orders.ClearOrders()

	from = b.inMarketTZ(from)
	to = b.inMarketTZ(to)

	log.Info().
		Str("run_id", result.RunID).
		Str("underlying", underlying).
		Str("from", from.Format("2006-01-02")).
		Str("to", to.Format("2006-01-02")).
		Str("strategy", b.strategy.Name()).
		Str("entry", b.config.EntryTime).
		Str("exit", b.config.ExitTime).
		Str("slippage", b.config.Slippage.String()).
		Msg("🚀 Backtest started")

	expiries := b.expiryUniverse(ctx, underlying, from, to)
	if len(expiries) == 0 {
		log.Error().Msg("❌ No expiries available")
		return result
	}

	for day := from; !day.After(to); day = day.AddDate(0, 0, 1) {
		if ctx.Err() != nil {
			log.Warn().Str("day", day.Format("2006-01-02")).Msg("Backtest cancelled")
			break
		}
		if isWeekend(day) {
			log.Debug().Str("day", day.Format("2006-01-02")).Msg("⏭️ Weekend, skipping")
			continue
		}

		row, err := b.runDay(ctx, underlying, day, expiries)
		switch {
		case err != nil:
			log.Error().Err(err).Str("day", day.Format("2006-01-02")).Msg("❌ Day failed")
		case row == nil:
			log.Info().Str("day", day.Format("2006-01-02")).Msg("No trade")
		default:
			result.add(*row)
			log.Info().
				Str("day", day.Format("2006-01-02")).
				Str("pnl", FormatCurrency(row.NetPnL)).
				Msg("✅ Trade completed")
		}
	}

	result.calculateStats()
	b.journalRows(result)

	log.Info().
		Int("trades", result.TotalTrades).
		Str("win_rate", FormatPercent(result.WinRate())).
		Str("total_pnl", FormatCurrency(result.TotalPnL)).
		Str("max_drawdown", FormatCurrency(result.MaxDrawdown)).
		Msg("🏁 Backtest finished")

	return result
}

func (b *Backtester) expiryUniverse(ctx context.Context, underlying string, from, to time.Time) []time.Time {
	if b.config.UseCalculatedExpiries {
		return CalculateWeeklyExpiries(from, to)
	}

	expiries := b.data.Expiries(ctx, underlying)
	if len(expiries) == 0 {
		log.Warn().Msg("⚠️ No expiries from provider, falling back to calculated")
		return CalculateWeeklyExpiries(from, to)
	}
	return expiries
}

// runDay simulates one day. A nil row means no trade.
func (b *Backtester) runDay(ctx context.Context, underlying string, day time.Time, expiries []time.Time) (row *TradeRow, err error) {
	defer func() {
		if r := recover(); r != nil {
			row, err = nil, fmt.Errorf("panic: %v", r)
		}
	}()

	date := day.Format("2006-01-02")

	expiry, ok := NearestExpiry(day, expiries)
	if !ok {
		log.Warn().Str("day", date).Msg("⚠️ No future expiry")
		return nil, nil
	}

	spot, ok := b.data.SpotPrice(ctx, underlying, day)
	if !ok {
		log.Warn().Str("day", date).Msg("⚠️ No spot price")
		return nil, nil
	}

	chain := b.data.OptionChain(ctx, underlying, expiry)
	if len(chain.Calls) == 0 {
		log.Debug().Str("day", date).Msg("No chain from provider, simulating contracts")
		chain = SyntheticChain(underlying, spot, expiry)
	}

	entryAt := b.at(day, b.entryHour, b.entryMin)
	md := types.MarketData{
		Underlying:    underlying,
		SpotPrice:     spot,
		Timestamp:     entryAt,
		Chain:         chain,
		Expiries:      expiries,
		CurrentExpiry: expiry,
	}

	if !b.strategy.ShouldEnter(md) {
		log.Info().Str("day", date).Msg("Entry conditions not met")
		return nil, nil
	}

	entry := b.strategy.EntryOrders(md)
	buy, sell, ok := splitLegs(entry)
	if !ok {
		log.Warn().Str("day", date).Int("orders", len(entry)).Msg("⚠️ Entry legs not resolved")
		return nil, nil
	}
	buyStrike, okBuy := strategy.ExtractStrike(buy.Symbol)
	sellStrike, okSell := strategy.ExtractStrike(sell.Symbol)
	if !okBuy || !okSell {
		log.Warn().Str("buy", buy.Symbol).Str("sell", sell.Symbol).Msg("⚠️ Leg symbols carry no strike")
		return nil, nil
	}

	legs := []types.Order{buy, sell}
	if validRecords(b.orders.PlaceOrders(ctx, legs)) < len(legs) {
		log.Warn().Str("day", date).Msg("⚠️ Entry aborted, leg rejected")
		return nil, nil
	}

	dte := DaysBetween(day, expiry)
	long := LongLegPrice(spot, buyStrike, dte)
	short := ShortLegPrice(spot, sellStrike, dte)
	entryBuy := SlippedFill(long.Theoretical, b.config.Slippage, types.SideBuy)
	entrySell := SlippedFill(short.Theoretical, b.config.Slippage, types.SideSell)

	log.Debug().
		Int("dte", dte).
		Str("buy_intrinsic", long.Intrinsic.StringFixed(2)).
		Str("buy_tv", long.TimeValue.StringFixed(2)).
		Str("sell_intrinsic", short.Intrinsic.StringFixed(2)).
		Str("sell_tv", short.TimeValue.StringFixed(2)).
		Str("entry_buy", entryBuy.StringFixed(2)).
		Str("entry_sell", entrySell.StringFixed(2)).
		Msg("💰 Entry prices")

	lot := lotSize(b.lots, underlying)
	legBrokerage := b.orders.CalculateBrokerage(legs)

	b.clock = entryAt
	pos := b.positions.OpenSpread(execution.OpenParams{
		Underlying:  underlying,
		Strategy:    b.strategy.Name(),
		LongSymbol:  buy.Symbol,
		ShortSymbol: sell.Symbol,
		LongPrice:   entryBuy,
		ShortPrice:  entrySell,
		Quantity:    1,
		LotSize:     lot,
		Brokerage:   legBrokerage,
		EntryTime:   entryAt,
	})
	if obs, ok := b.strategy.(strategy.LifecycleObserver); ok {
		obs.OnPositionOpened(pos)
	}

	b.clock = b.at(day, b.exitHour, b.exitMin)
	exitMD := md
	exitMD.Timestamp = b.clock
	if !b.strategy.ShouldExit(pos, exitMD) {
		log.Debug().Str("spread_id", pos.ID).Msg("No exit signal, closing at session end")
	}
	if exit := b.strategy.ExitOrders(pos, exitMD); len(exit) > 0 {
		b.orders.PlaceOrders(ctx, exit)
	}

	exitBuy := ExitPrice(long.Theoretical)
	exitSell := ExitPrice(short.Theoretical)
	pnl, ok := b.positions.CloseSpread(pos.ID, exitBuy, exitSell, legBrokerage)
	if !ok {
		return nil, fmt.Errorf("close %s: %w", pos.ID, execution.ErrSpreadNotFound)
	}
	if obs, ok := b.strategy.(strategy.LifecycleObserver); ok {
		obs.OnPositionClosed(pos, pnl)
	}

	totalBrokerage := legBrokerage.Mul(decimal.NewFromInt(2))
	return &TradeRow{
		Date:          day,
		EntryTime:     entryAt,
		Expiry:        expiry,
		DaysToExpiry:  dte,
		Underlying:    underlying,
		SpotPrice:     spot,
		BuyStrike:     buyStrike,
		SellStrike:    sellStrike,
		BuySymbol:     buy.Symbol,
		SellSymbol:    sell.Symbol,
		EntryBuy:      entryBuy,
		EntrySell:     entrySell,
		EntryNetDebit: entryBuy.Sub(entrySell),
		ExitBuy:       exitBuy,
		ExitSell:      exitSell,
		ExitNetDebit:  exitBuy.Sub(exitSell),
		LotSize:       lot,
		GrossPnL:      pnl.Add(totalBrokerage),
		Brokerage:     totalBrokerage,
		NetPnL:        pnl,
	}, nil
}

func (b *Backtester) journalRows(result *BacktestResult) {
	if b.journal == nil {
		return
	}
	for _, row := range result.Trades {
		if err := b.journal.SaveBacktestTrade(result.RunID, row); err != nil {
			log.Error().Err(err).Str("day", row.Date.Format("2006-01-02")).Msg("Failed to journal trade")
		}
	}
}

func (b *Backtester) at(day time.Time, hour, minute int) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, b.config.Location)
}

func (b *Backtester) inMarketTZ(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, b.config.Location)
}

// splitLegs picks the BUY and SELL order out of an entry pair
func splitLegs(orders []types.Order) (buy, sell types.Order, ok bool) {
	var haveBuy, haveSell bool
	for _, o := range orders {
		switch {
		case o.Side == types.SideBuy && !haveBuy:
			buy, haveBuy = o, true
		case o.Side == types.SideSell && !haveSell:
			sell, haveSell = o, true
		}
	}
	return buy, sell, haveBuy && haveSell
}

func validRecords(records []*execution.OrderRecord) int {
	n := 0
	for _, r := range records {
		if r.Valid() {
			n++
		}
	}
	return n
}

func lotSize(lots strategy.LotSizer, underlying string) int {
	if lots == nil {
		return 1
	}
	if n := lots.LotSize(underlying); n > 0 {
		return n
	}
	return 1
}
