package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/spreadbot/execution"
	"github.com/web3guy0/spreadbot/strategy"
	"github.com/web3guy0/spreadbot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// LIVE TRADER - Real-time orchestration loop
// ═══════════════════════════════════════════════════════════════════════════════
//
// Every tick interval:
//   market hours? → refresh marks from the price cache → snapshot
//   → no open spread: ShouldEnter → place legs → subscribe → OpenSpread
//   → open spreads:   ShouldExit  → place missing legs → fills → unsubscribe → CloseSpread
//
// A rejected exit leg is retried on the next check. Legs already accepted are
// remembered per spread and never re-sent.
//
// All order and position work happens on the loop goroutine. The feed only
// writes into the price cache, which the loop reads.
//
// Stop: finish the in-flight check → disconnect → force-close at marks → summary
//
// ═══════════════════════════════════════════════════════════════════════════════

// TickSource is the streaming feed
type TickSource interface {
	Connect(ctx context.Context) error
	Disconnect()
	Subscribe(symbols []string) error
	Unsubscribe(symbols []string) error
}

// PriceReader reads last prices written by the feed
type PriceReader interface {
	Get(symbol string) (decimal.Decimal, bool)
	GetSince(symbol string, since time.Time) (decimal.Decimal, bool)
}

// SpotSource polls the underlying level directly
type SpotSource interface {
	SpotLTP(ctx context.Context, underlying string) (decimal.Decimal, bool)
}

// ChainSource lists expiries and option contracts
type ChainSource interface {
	Expiries(ctx context.Context, underlying string) []time.Time
	OptionChain(ctx context.Context, underlying string, expiry time.Time) types.OptionChain
}

// TradeNotifier receives trade notifications (Telegram)
type TradeNotifier interface {
	NotifyEntry(pos *execution.SpreadPosition)
	NotifyExit(pos *execution.SpreadPosition, pnl decimal.Decimal)
	NotifySummary(stats execution.Stats)
	NotifyError(err error)
}

// EntryGate can veto new entries based on realized results
type EntryGate interface {
	Allow() bool
	Record(pnl decimal.Decimal)
}

// GateReporter is an EntryGate that exposes its state
type GateReporter interface {
	GetStats() (consecutiveLosses int, sessionPnL decimal.Decimal, tripped bool, reason string)
}

// SpreadJournal persists closed spreads
type SpreadJournal interface {
	SaveSpread(pos *execution.SpreadPosition) error
}

// LiveConfig holds live loop settings
type LiveConfig struct {
	Underlying        string
	Paper             bool
	Slippage          decimal.Decimal
	BrokeragePerOrder decimal.Decimal
	Location          *time.Location
	Interval          time.Duration
}

// LiveDeps are the collaborators of a LiveTrader. Notifier, Journal and Gate are optional.
type LiveDeps struct {
	Strategy strategy.Strategy
	Orders   *execution.OrderManager
	Ticks    TickSource
	Prices   PriceReader
	Spot     SpotSource
	Chains   ChainSource
	Lots     strategy.LotSizer
	Notifier TradeNotifier
	Journal  SpreadJournal
	Gate     EntryGate
}

// LiveTrader runs a strategy against the live market
type LiveTrader struct {
	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	config    LiveConfig
	deps      LiveDeps
	positions *execution.PositionManager
	now       func() time.Time

	// per-day lookups
	day      string
	expiries []time.Time
	chains   map[string]types.OptionChain

	// accepted exit legs by spread id, then symbol
	exits map[string]map[string]*execution.OrderRecord

	statusMu sync.RWMutex
	status   LiveStatus
}

// LiveStatus is a copy of the session state, safe to read off the loop goroutine
type LiveStatus struct {
	Mode       string
	Underlying string
	MarketOpen bool
	CheckedAt  time.Time
	Open       []execution.SpreadPosition
	Unrealized decimal.Decimal
	Stats      execution.Stats
	Gate       *GateStatus
}

// GateStatus is the entry gate state, nil when no gate is wired
type GateStatus struct {
	Tripped           bool
	Reason            string
	ConsecutiveLosses int
	SessionPnL        decimal.Decimal
}

// NewLiveTrader creates a live trader
func NewLiveTrader(config LiveConfig, deps LiveDeps) *LiveTrader {
	if config.Location == nil {
		config.Location = time.Local
	}
	if config.Interval <= 0 {
		config.Interval = time.Second
	}

	t := &LiveTrader{
		config:    config,
		deps:      deps,
		positions: execution.NewPositionManager(),
		now:       time.Now,
		chains:    make(map[string]types.OptionChain),
		exits:     make(map[string]map[string]*execution.OrderRecord),
	}
	t.positions.SetClock(func() time.Time { return t.now() })
	return t
}

// SetClock replaces the wall clock
func (t *LiveTrader) SetClock(now func() time.Time) {
	t.now = now
}

// Positions exposes the session's position book
func (t *LiveTrader) Positions() *execution.PositionManager {
	return t.positions
}

// IsRunning reports whether the loop is active
func (t *LiveTrader) IsRunning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// Start connects the feed and launches the loop
func (t *LiveTrader) Start(ctx context.Context) {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return
	}
	t.running = true
	t.stopCh = make(chan struct{})
	t.doneCh = make(chan struct{})
	t.mu.Unlock()

	if err := t.deps.Ticks.Connect(ctx); err != nil {
		log.Warn().Err(err).Msg("⚠️ Feed connect failed, redialing in background and polling spot meanwhile")
	}
	if err := t.deps.Ticks.Subscribe([]string{spotSymbol(t.config.Underlying)}); err != nil {
		log.Debug().Err(err).Msg("Spot subscription deferred")
	}

	log.Info().
		Str("mode", t.mode()).
		Str("strategy", t.deps.Strategy.Name()).
		Str("underlying", t.config.Underlying).
		Dur("interval", t.config.Interval).
		Msg("⚡ Live trader started")

	go t.loop(ctx)
}

// Stop ends the loop, disconnects the feed, force-closes open spreads at
// their last mark and logs the session summary.
func (t *LiveTrader) Stop() {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	t.running = false
	close(t.stopCh)
	t.mu.Unlock()

	<-t.doneCh
	t.deps.Ticks.Disconnect()

	t.forceClose()
	t.publishStatus(t.now().In(t.config.Location))

	stats := t.positions.Stats()
	log.Info().
		Int("trades", stats.TotalTrades).
		Int("wins", stats.WinningTrades).
		Int("losses", stats.LosingTrades).
		Str("win_rate", FormatPercent(stats.WinRate)).
		Str("total_pnl", FormatCurrency(stats.TotalPnL)).
		Msg("🏁 Session summary")
	if t.deps.Notifier != nil {
		t.deps.Notifier.NotifySummary(stats)
	}
	log.Info().Msg("Live trader stopped")
}

func (t *LiveTrader) loop(ctx context.Context) {
	defer close(t.doneCh)

	ticker := time.NewTicker(t.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.safeCheck(ctx)
		}
	}
}

func (t *LiveTrader) safeCheck(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("panic", fmt.Sprint(r)).Msg("❌ Trading window check failed")
			t.notifyError(fmt.Errorf("trading window check panicked: %v", r))
		}
	}()
	t.CheckTradingWindow(ctx)
}

// CheckTradingWindow runs one decision cycle
func (t *LiveTrader) CheckTradingWindow(ctx context.Context) {
	now := t.now().In(t.config.Location)
	defer t.publishStatus(now)
	if !IsMarketOpen(now) {
		return
	}

	t.refreshMarks()

	md, ok := t.marketData(ctx, now)
	if ok && !t.positions.HasOpenPositions() && t.entryAllowed() && t.deps.Strategy.ShouldEnter(md) {
		t.executeEntry(ctx, md)
	}
	if !ok {
		// exits only need the clock
		md = types.MarketData{Underlying: t.config.Underlying, Timestamp: now}
	}

	for _, pos := range t.positions.OpenPositions() {
		if t.deps.Strategy.ShouldExit(pos, md) {
			t.executeExit(ctx, pos, md)
		}
	}
}

// refreshMarks copies ticks newer than each spread's entry onto its legs
func (t *LiveTrader) refreshMarks() {
	for _, pos := range t.positions.OpenPositions() {
		for _, sym := range []string{pos.LongSymbol, pos.ShortSymbol} {
			if px, ok := t.deps.Prices.GetSince(sym, pos.EntryTime); ok {
				t.positions.UpdateMark(pos.ID, sym, px)
			}
		}
		log.Debug().
			Str("spread_id", pos.ID).
			Str("mtm", FormatCurrency(pos.UnrealizedPnL())).
			Msg("📊 Marks refreshed")
	}
}

func (t *LiveTrader) marketData(ctx context.Context, now time.Time) (types.MarketData, bool) {
	underlying := t.config.Underlying

	spot, ok := t.deps.Prices.Get(spotSymbol(underlying))
	if !ok {
		spot, ok = t.deps.Spot.SpotLTP(ctx, underlying)
	}
	if !ok {
		log.Debug().Str("underlying", underlying).Msg("No spot price")
		return types.MarketData{}, false
	}

	t.rollDay(now)
	if len(t.expiries) == 0 {
		t.expiries = t.deps.Chains.Expiries(ctx, underlying)
	}
	expiry, ok := NearestExpiry(now, t.expiries)
	if !ok {
		log.Debug().Str("underlying", underlying).Msg("No future expiry")
		return types.MarketData{}, false
	}

	key := expiry.Format("2006-01-02")
	chain, ok := t.chains[key]
	if !ok {
		chain = t.deps.Chains.OptionChain(ctx, underlying, expiry)
		if len(chain.Calls) > 0 {
			t.chains[key] = chain
		}
	}

	return types.MarketData{
		Underlying:    underlying,
		SpotPrice:     spot,
		Timestamp:     now,
		Chain:         chain,
		Expiries:      t.expiries,
		CurrentExpiry: expiry,
	}, true
}

func (t *LiveTrader) rollDay(now time.Time) {
	day := now.Format("2006-01-02")
	if day == t.day {
		return
	}
	t.day = day
	t.expiries = nil
	t.chains = make(map[string]types.OptionChain)
}

func (t *LiveTrader) executeEntry(ctx context.Context, md types.MarketData) {
	buy, sell, ok := splitLegs(t.deps.Strategy.EntryOrders(md))
	if !ok {
		log.Warn().Msg("⚠️ No entry orders generated")
		return
	}

	legs := []types.Order{buy, sell}
	records := t.deps.Orders.PlaceOrders(ctx, legs)
	if validRecords(records) < len(legs) {
		for _, r := range records {
			if !r.Valid() {
				log.Error().Str("symbol", r.Order.Symbol).Str("reason", r.RejectReason).Msg("❌ Entry leg rejected")
				t.notifyError(fmt.Errorf("entry leg %s rejected: %s", r.Order.Symbol, r.RejectReason))
			}
		}
		return
	}

	if err := t.deps.Ticks.Subscribe([]string{buy.Symbol, sell.Symbol}); err != nil {
		log.Warn().Err(err).Msg("Leg subscription deferred to reconnect")
	}

	longPx, shortPx := t.entryFills(ctx, md, records[0], records[1])

	pos := t.positions.OpenSpread(execution.OpenParams{
		Underlying:  md.Underlying,
		Strategy:    t.deps.Strategy.Name(),
		LongSymbol:  buy.Symbol,
		ShortSymbol: sell.Symbol,
		LongPrice:   longPx,
		ShortPrice:  shortPx,
		Quantity:    1,
		LotSize:     lotSize(t.deps.Lots, md.Underlying),
		Brokerage:   t.deps.Orders.CalculateBrokerage(legs),
	})

	if obs, ok := t.deps.Strategy.(strategy.LifecycleObserver); ok {
		obs.OnPositionOpened(pos)
	}
	if t.deps.Notifier != nil {
		t.deps.Notifier.NotifyEntry(pos)
	}
}

// entryFills resolves the long and short entry prices. Live fills come from
// the order book; paper fills from the first tick or the intrinsic estimate.
func (t *LiveTrader) entryFills(ctx context.Context, md types.MarketData, buyRec, sellRec *execution.OrderRecord) (decimal.Decimal, decimal.Decimal) {
	if !t.deps.Orders.IsPaper() {
		longPx, okLong := t.brokerFill(ctx, buyRec)
		shortPx, okShort := t.brokerFill(ctx, sellRec)
		if okLong && okShort {
			return longPx, shortPx
		}
		log.Warn().Msg("⚠️ Broker fills unavailable, estimating entry prices")
	}

	var longPx, shortPx decimal.Decimal
	longTick, okLong := t.deps.Prices.Get(buyRec.Order.Symbol)
	shortTick, okShort := t.deps.Prices.Get(sellRec.Order.Symbol)
	if okLong && okShort {
		longPx = SlippedFill(longTick, t.config.Slippage, types.SideBuy)
		shortPx = SlippedFill(shortTick, t.config.Slippage, types.SideSell)
	} else {
		buyStrike, _ := strategy.ExtractStrike(buyRec.Order.Symbol)
		sellStrike, _ := strategy.ExtractStrike(sellRec.Order.Symbol)
		longPx, shortPx = PaperEntryPrices(md.SpotPrice, buyStrike, sellStrike, t.config.Slippage)
	}

	buyRec.FillPrice = decimal.NullDecimal{Decimal: longPx, Valid: true}
	sellRec.FillPrice = decimal.NullDecimal{Decimal: shortPx, Valid: true}
	return longPx, shortPx
}

func (t *LiveTrader) brokerFill(ctx context.Context, rec *execution.OrderRecord) (decimal.Decimal, bool) {
	rec, ok := t.deps.Orders.RefreshOrderStatus(ctx, rec.OrderID)
	if !ok || !rec.Filled() || !rec.FillPrice.Valid {
		return decimal.Zero, false
	}
	return rec.FillPrice.Decimal, true
}

func (t *LiveTrader) executeExit(ctx context.Context, pos *execution.SpreadPosition, md types.MarketData) {
	orders := t.deps.Strategy.ExitOrders(pos, md)
	if len(orders) < 2 {
		log.Warn().Str("spread_id", pos.ID).Msg("⚠️ No exit orders generated")
		return
	}

	accepted, retry := t.exits[pos.ID]
	if !retry {
		accepted = make(map[string]*execution.OrderRecord, len(orders))
		t.exits[pos.ID] = accepted
	}

	var missing []types.Order
	for _, o := range orders {
		if _, ok := accepted[o.Symbol]; !ok {
			missing = append(missing, o)
		}
	}

	for _, r := range t.deps.Orders.PlaceOrders(ctx, missing) {
		if r.Valid() {
			accepted[r.Order.Symbol] = r
			continue
		}
		log.Error().
			Str("spread_id", pos.ID).
			Str("symbol", r.Order.Symbol).
			Str("reason", r.RejectReason).
			Msg("❌ Exit leg rejected, retrying next check")
		if !retry {
			t.notifyError(fmt.Errorf("exit leg %s of %s rejected: %s", r.Order.Symbol, pos.ID, r.RejectReason))
		}
	}
	if len(accepted) < len(orders) {
		return
	}

	records := make([]*execution.OrderRecord, 0, len(orders))
	for _, o := range orders {
		records = append(records, accepted[o.Symbol])
	}

	exitLong, exitShort := t.exitFills(ctx, pos, records)

	symbols := []string{pos.LongSymbol, pos.ShortSymbol}
	if err := t.deps.Ticks.Unsubscribe(symbols); err != nil {
		log.Debug().Err(err).Strs("symbols", symbols).Msg("Unsubscribe skipped")
	}

	t.close(pos, exitLong, exitShort, t.deps.Orders.CalculateBrokerage(orders))
}

// exitFills resolves exit prices: broker fills in live mode, otherwise the
// latest tick (or mark) with slippage against us.
func (t *LiveTrader) exitFills(ctx context.Context, pos *execution.SpreadPosition, records []*execution.OrderRecord) (decimal.Decimal, decimal.Decimal) {
	exitLong := SlippedFill(t.lastPrice(pos.LongSymbol, pos.MarkLong), t.config.Slippage, types.SideSell)
	exitShort := SlippedFill(t.lastPrice(pos.ShortSymbol, pos.MarkShort), t.config.Slippage, types.SideBuy)

	if t.deps.Orders.IsPaper() {
		for _, r := range records {
			switch r.Order.Symbol {
			case pos.LongSymbol:
				r.FillPrice = decimal.NullDecimal{Decimal: exitLong, Valid: true}
			case pos.ShortSymbol:
				r.FillPrice = decimal.NullDecimal{Decimal: exitShort, Valid: true}
			}
		}
		return exitLong, exitShort
	}

	for _, r := range records {
		px, ok := t.brokerFill(ctx, r)
		if !ok {
			log.Warn().Str("symbol", r.Order.Symbol).Msg("⚠️ Broker fill unavailable, using last price")
			continue
		}
		switch r.Order.Symbol {
		case pos.LongSymbol:
			exitLong = px
		case pos.ShortSymbol:
			exitShort = px
		}
	}
	return exitLong, exitShort
}

func (t *LiveTrader) lastPrice(symbol string, fallback decimal.Decimal) decimal.Decimal {
	if px, ok := t.deps.Prices.Get(symbol); ok {
		return px
	}
	return fallback
}

func (t *LiveTrader) close(pos *execution.SpreadPosition, exitLong, exitShort, brokerage decimal.Decimal) {
	delete(t.exits, pos.ID)
	pnl, ok := t.positions.CloseSpread(pos.ID, exitLong, exitShort, brokerage)
	if !ok {
		return
	}

	log.Info().
		Str("spread_id", pos.ID).
		Str("pnl", FormatCurrency(pnl)).
		Msg("✅ Exit executed")

	if obs, ok := t.deps.Strategy.(strategy.LifecycleObserver); ok {
		obs.OnPositionClosed(pos, pnl)
	}
	if t.deps.Gate != nil {
		t.deps.Gate.Record(pnl)
	}
	if t.deps.Notifier != nil {
		t.deps.Notifier.NotifyExit(pos, pnl)
	}
	if t.deps.Journal != nil {
		if err := t.deps.Journal.SaveSpread(pos); err != nil {
			log.Error().Err(err).Str("spread_id", pos.ID).Msg("Failed to journal spread")
		}
	}
}

func (t *LiveTrader) entryAllowed() bool {
	return t.deps.Gate == nil || t.deps.Gate.Allow()
}

func (t *LiveTrader) notifyError(err error) {
	if t.deps.Notifier != nil {
		t.deps.Notifier.NotifyError(err)
	}
}

// forceClose books every open spread at its last mark
func (t *LiveTrader) forceClose() {
	for _, pos := range t.positions.OpenPositions() {
		log.Warn().Str("spread_id", pos.ID).Msg("⚠️ Force closing on shutdown")
		legs := []types.Order{{Symbol: pos.LongSymbol}, {Symbol: pos.ShortSymbol}}
		t.close(pos, pos.MarkLong, pos.MarkShort, t.deps.Orders.CalculateBrokerage(legs))
	}
}

// Status returns the state published after the last check
func (t *LiveTrader) Status() LiveStatus {
	t.statusMu.RLock()
	defer t.statusMu.RUnlock()
	st := t.status
	st.Open = append([]execution.SpreadPosition(nil), t.status.Open...)
	if t.status.Gate != nil {
		gate := *t.status.Gate
		st.Gate = &gate
	}
	return st
}

func (t *LiveTrader) publishStatus(now time.Time) {
	st := LiveStatus{
		Mode:       t.mode(),
		Underlying: t.config.Underlying,
		MarketOpen: IsMarketOpen(now),
		CheckedAt:  now,
		Unrealized: t.positions.TotalUnrealizedPnL(),
		Stats:      t.positions.Stats(),
	}
	for _, pos := range t.positions.OpenPositions() {
		st.Open = append(st.Open, *pos)
	}
	if gr, ok := t.deps.Gate.(GateReporter); ok {
		losses, pnl, tripped, reason := gr.GetStats()
		st.Gate = &GateStatus{
			Tripped:           tripped,
			Reason:            reason,
			ConsecutiveLosses: losses,
			SessionPnL:        pnl,
		}
	}

	t.statusMu.Lock()
	t.status = st
	t.statusMu.Unlock()
}

func (t *LiveTrader) mode() string {
	if t.config.Paper {
		return "PAPER"
	}
	return "LIVE"
}

func spotSymbol(underlying string) string {
	return types.ExchangeNSE + "_" + underlying
}
