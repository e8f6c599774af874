package strategy

import (
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/spreadbot/execution"
	"github.com/web3guy0/spreadbot/risk"
	"github.com/web3guy0/spreadbot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// DEBIT SPREAD - Bull call spread, one entry per day
// ═══════════════════════════════════════════════════════════════════════════════
//
// Entry: buy the ATM call, sell the call spread_width points higher
//        (snapped to a listed strike), inside a 5 minute entry window.
// Exit:  close both legs once the exit time is reached.
// Risk:  limited to the net debit paid.
//
// State per trading day:
//
//   NOT_ENTERED ──entry window, spot > 0, calls listed──▶ ENTERED
//        ▲                                                   │
//        └──────────────── date changes ─────────────────────┘
//
// ═══════════════════════════════════════════════════════════════════════════════

const entryWindowMinutes = 5

// DebitSpreadConfig holds strategy settings
type DebitSpreadConfig struct {
	SpreadWidth       decimal.Decimal // points between long and short strike
	EntryTime         string          // HH:MM
	ExitTime          string          // HH:MM
	Capital           decimal.Decimal
	RiskPct           decimal.Decimal
	BrokeragePerOrder decimal.Decimal
}

// DefaultDebitSpreadConfig returns the stock settings
func DefaultDebitSpreadConfig() DebitSpreadConfig {
	return DebitSpreadConfig{
		SpreadWidth:       decimal.NewFromInt(300),
		EntryTime:         "09:25",
		ExitTime:          "15:20",
		Capital:           decimal.NewFromInt(100000),
		RiskPct:           decimal.NewFromFloat(0.02),
		BrokeragePerOrder: decimal.NewFromInt(risk.DefaultBrokeragePerOrder),
	}
}

// DebitSpread is the bull call spread strategy
type DebitSpread struct {
	config DebitSpreadConfig
	lots   LotSizer
	sizer  *risk.Sizer

	entryHour, entryMin int
	exitHour, exitMin   int

	// per-day state
	currentDate  string
	enteredToday bool
	buySymbol    string
	sellSymbol   string
	buyStrike    decimal.Decimal
	sellStrike   decimal.Decimal
	lotSize      int
}

// NewDebitSpread creates the strategy. lots may be nil, in which case the
// lot size is 1.
func NewDebitSpread(config DebitSpreadConfig, lots LotSizer) (*DebitSpread, error) {
	eh, em, err := ParseClock(config.EntryTime)
	if err != nil {
		return nil, err
	}
	xh, xm, err := ParseClock(config.ExitTime)
	if err != nil {
		return nil, err
	}

	s := &DebitSpread{
		config:    config,
		lots:      lots,
		sizer:     risk.NewSizer(config.Capital, config.RiskPct, config.BrokeragePerOrder),
		entryHour: eh,
		entryMin:  em,
		exitHour:  xh,
		exitMin:   xm,
		lotSize:   1,
	}

	log.Info().
		Str("strategy", s.Name()).
		Str("width", config.SpreadWidth.String()).
		Str("entry", config.EntryTime).
		Str("exit", config.ExitTime).
		Str("risk_per_trade", s.sizer.RiskAmount().StringFixed(2)).
		Msg("🎯 Strategy initialized")

	return s, nil
}

// Name returns the strategy identifier
func (s *DebitSpread) Name() string {
	return "BullCallSpread"
}

// Config returns the strategy settings
func (s *DebitSpread) Config() DebitSpreadConfig {
	return s.config
}

// ShouldEnter checks the entry conditions for md
func (s *DebitSpread) ShouldEnter(md types.MarketData) bool {
	s.rollDay(md.Timestamp)

	if s.enteredToday {
		return false
	}
	if !s.inEntryWindow(md.Timestamp) {
		return false
	}
	if !md.SpotPrice.IsPositive() {
		log.Warn().Str("underlying", md.Underlying).Msg("Invalid spot price for entry")
		return false
	}
	if len(md.Chain.Calls) == 0 {
		log.Warn().Str("underlying", md.Underlying).Msg("No calls in option chain")
		return false
	}
	return true
}

// EntryOrders selects strikes and builds the BUY long / SELL short pair.
// Marks the day as entered only when both legs resolve.
func (s *DebitSpread) EntryOrders(md types.MarketData) []types.Order {
	s.rollDay(md.Timestamp)

	calls := md.Chain.Calls
	strikes := Strikes(calls)
	if len(strikes) == 0 {
		log.Error().Int("contracts", len(calls)).Msg("Could not extract strikes from option chain")
		return nil
	}

	buyStrike, _ := FindATMStrike(md.SpotPrice, strikes)
	sellStrike := SnapStrike(buyStrike.Add(s.config.SpreadWidth), buyStrike, strikes)

	buySymbol, okBuy := FindContract(calls, buyStrike, OptionCall)
	sellSymbol, okSell := FindContract(calls, sellStrike, OptionCall)
	if !okBuy || !okSell {
		log.Error().
			Str("buy_strike", buyStrike.String()).
			Str("sell_strike", sellStrike.String()).
			Msg("Could not find contracts for strikes")
		return nil
	}

	s.buyStrike, s.sellStrike = buyStrike, sellStrike
	s.buySymbol, s.sellSymbol = buySymbol, sellSymbol
	s.lotSize = 1
	if s.lots != nil {
		if n := s.lots.LotSize(md.Underlying); n > 0 {
			s.lotSize = n
		}
	}

	orders := []types.Order{
		s.leg(buySymbol, types.SideBuy, s.lotSize),
		s.leg(sellSymbol, types.SideSell, s.lotSize),
	}
	s.enteredToday = true

	log.Info().
		Str("buy", buyStrike.String()+"CE").
		Str("sell", sellStrike.String()+"CE").
		Str("spot", md.SpotPrice.StringFixed(2)).
		Int("lot_size", s.lotSize).
		Msg("🟢 Entry orders generated")

	return orders
}

// ShouldExit is true once the exit time is reached
func (s *DebitSpread) ShouldExit(_ *execution.SpreadPosition, md types.MarketData) bool {
	return s.atOrPastExit(md.Timestamp)
}

// ExitOrders builds SELL long / BUY short from the position's legs,
// falling back to the symbols cached at entry.
func (s *DebitSpread) ExitOrders(pos *execution.SpreadPosition, _ types.MarketData) []types.Order {
	buySymbol, sellSymbol := s.buySymbol, s.sellSymbol
	qty := s.lotSize
	if pos != nil {
		if pos.LongSymbol != "" {
			buySymbol = pos.LongSymbol
		}
		if pos.ShortSymbol != "" {
			sellSymbol = pos.ShortSymbol
		}
		if n := pos.Quantity * pos.LotSize; n > 0 {
			qty = n
		}
	}

	if buySymbol == "" || sellSymbol == "" {
		log.Error().Msg("Cannot generate exit orders: leg symbols missing")
		return nil
	}

	log.Info().Str("long", buySymbol).Str("short", sellSymbol).Msg("🔴 Exit orders generated")

	return []types.Order{
		s.leg(buySymbol, types.SideSell, qty),
		s.leg(sellSymbol, types.SideBuy, qty),
	}
}

// OnPositionOpened logs the opened spread
func (s *DebitSpread) OnPositionOpened(pos *execution.SpreadPosition) {
	log.Debug().Str("spread_id", pos.ID).Str("net_debit", pos.NetDebit().StringFixed(2)).Msg("Position opened")
}

// OnPositionClosed logs the closed spread
func (s *DebitSpread) OnPositionClosed(pos *execution.SpreadPosition, pnl decimal.Decimal) {
	log.Debug().Str("spread_id", pos.ID).Str("pnl", pnl.StringFixed(2)).Msg("Position closed")
}

// CalculateMaxContracts sizes a spread at netDebit using the current lot size.
// Not applied automatically; callers opt in.
func (s *DebitSpread) CalculateMaxContracts(netDebit decimal.Decimal) int {
	return s.sizer.MaxContracts(netDebit, s.lotSize)
}

// BuyStrike is the long strike chosen at the last entry
func (s *DebitSpread) BuyStrike() decimal.Decimal { return s.buyStrike }

// SellStrike is the short strike chosen at the last entry
func (s *DebitSpread) SellStrike() decimal.Decimal { return s.sellStrike }

// BuySymbol is the long contract chosen today
func (s *DebitSpread) BuySymbol() string { return s.buySymbol }

// SellSymbol is the short contract chosen today
func (s *DebitSpread) SellSymbol() string { return s.sellSymbol }

// LotSize is the lot size used for the last entry
func (s *DebitSpread) LotSize() int { return s.lotSize }

// EnteredToday reports whether today's entry already happened
func (s *DebitSpread) EnteredToday() bool { return s.enteredToday }

func (s *DebitSpread) rollDay(ts time.Time) {
	date := ts.Format("2006-01-02")
	if date == s.currentDate {
		return
	}
	s.currentDate = date
	s.enteredToday = false
	s.buySymbol = ""
	s.sellSymbol = ""
}

func (s *DebitSpread) inEntryWindow(ts time.Time) bool {
	return ts.Hour() == s.entryHour &&
		ts.Minute() >= s.entryMin &&
		ts.Minute() < s.entryMin+entryWindowMinutes
}

func (s *DebitSpread) atOrPastExit(ts time.Time) bool {
	return (ts.Hour() == s.exitHour && ts.Minute() >= s.exitMin) || ts.Hour() > s.exitHour
}

func (s *DebitSpread) leg(symbol string, side types.Side, qty int) types.Order {
	return types.Order{
		Symbol:   symbol,
		Exchange: types.ExchangeNSE,
		Side:     side,
		Quantity: qty,
		Kind:     types.OrderMarket,
		Segment:  types.SegmentFNO,
		Product:  types.ProductIntraday,
	}
}
