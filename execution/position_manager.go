package execution

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// POSITION MANAGER - Two-leg spread bookkeeping
// ═══════════════════════════════════════════════════════════════════════════════
//
// A SpreadPosition is the atomic unit: both legs open together and close
// together. OpenSpread is the only constructor and CloseSpread the only
// mutation of entry/exit state. A closed spread moves from the open set to
// the closed list and never changes again.
//
//   net_debit  = long_price - short_price
//   total_cost = net_debit * quantity * lot_size
//   pnl        = (exit_net - entry_net) * quantity * lot_size - brokerage
//
// ═══════════════════════════════════════════════════════════════════════════════

// ErrSpreadNotFound is logged when closing an unknown spread id
var ErrSpreadNotFound = errors.New("spread not found")

// SpreadPosition is a long call plus a short call opened as one unit
type SpreadPosition struct {
	ID         string
	Underlying string
	Strategy   string

	LongSymbol  string
	ShortSymbol string
	LongPrice   decimal.Decimal
	ShortPrice  decimal.Decimal
	Quantity    int
	LotSize     int
	EntryTime   time.Time

	// Mark-to-market leg prices, seeded with the entry prices
	MarkLong  decimal.Decimal
	MarkShort decimal.Decimal

	ExitTime       *time.Time
	ExitLongPrice  decimal.Decimal
	ExitShortPrice decimal.Decimal
	RealizedPnL    decimal.Decimal
	Brokerage      decimal.Decimal
}

// NetDebit is the per-unit premium paid at entry
func (p *SpreadPosition) NetDebit() decimal.Decimal {
	return p.LongPrice.Sub(p.ShortPrice)
}

// TotalCost is the premium paid for the whole position
func (p *SpreadPosition) TotalCost() decimal.Decimal {
	return p.NetDebit().Mul(p.units())
}

// IsOpen reports whether the spread is still open
func (p *SpreadPosition) IsOpen() bool {
	return p.ExitTime == nil
}

// MarkValue is the current per-unit value of the spread
func (p *SpreadPosition) MarkValue() decimal.Decimal {
	return p.MarkLong.Sub(p.MarkShort)
}

// UnrealizedPnL is the mark-to-market P&L before exit brokerage
func (p *SpreadPosition) UnrealizedPnL() decimal.Decimal {
	if !p.IsOpen() {
		return decimal.Zero
	}
	return p.MarkValue().Sub(p.NetDebit()).Mul(p.units()).Sub(p.Brokerage)
}

// Snapshot renders the position for reports
func (p *SpreadPosition) Snapshot() map[string]any {
	snap := map[string]any{
		"spread_id":    p.ID,
		"underlying":   p.Underlying,
		"strategy":     p.Strategy,
		"long_symbol":  p.LongSymbol,
		"short_symbol": p.ShortSymbol,
		"entry_long":   p.LongPrice.StringFixed(2),
		"entry_short":  p.ShortPrice.StringFixed(2),
		"net_debit":    p.NetDebit().StringFixed(2),
		"quantity":     p.Quantity,
		"lot_size":     p.LotSize,
		"entry_time":   p.EntryTime.Format(time.RFC3339),
		"exit_time":    nil,
		"exit_long":    p.ExitLongPrice.StringFixed(2),
		"exit_short":   p.ExitShortPrice.StringFixed(2),
		"realized_pnl": p.RealizedPnL.StringFixed(2),
		"brokerage":    p.Brokerage.StringFixed(2),
	}
	if p.ExitTime != nil {
		snap["exit_time"] = p.ExitTime.Format(time.RFC3339)
	}
	return snap
}

func (p *SpreadPosition) units() decimal.Decimal {
	return decimal.NewFromInt(int64(p.Quantity) * int64(p.LotSize))
}

// close is the single mutation point, reached only through CloseSpread
func (p *SpreadPosition) close(exitLong, exitShort, brokerage decimal.Decimal, at time.Time) decimal.Decimal {
	p.ExitTime = &at
	p.ExitLongPrice = exitLong
	p.ExitShortPrice = exitShort
	p.MarkLong = exitLong
	p.MarkShort = exitShort
	p.Brokerage = p.Brokerage.Add(brokerage)

	entryValue := p.NetDebit().Mul(p.units())
	exitValue := exitLong.Sub(exitShort).Mul(p.units())
	p.RealizedPnL = exitValue.Sub(entryValue).Sub(p.Brokerage)

	return p.RealizedPnL
}

// OpenParams describes a spread being opened
type OpenParams struct {
	Underlying  string
	Strategy    string
	LongSymbol  string
	ShortSymbol string
	LongPrice   decimal.Decimal
	ShortPrice  decimal.Decimal
	Quantity    int
	LotSize     int
	Brokerage   decimal.Decimal // entry brokerage
	EntryTime   time.Time       // zero means now
}

// Stats summarizes closed positions
type Stats struct {
	TotalTrades   int
	WinningTrades int
	LosingTrades  int
	WinRate       decimal.Decimal // fraction in [0,1]
	TotalPnL      decimal.Decimal
	AvgPnL        decimal.Decimal
}

// PositionManager owns the open and closed spread collections.
// One instance per trading session, used from one goroutine.
type PositionManager struct {
	open    map[string]*SpreadPosition
	order   []string // open ids in opening order
	closed  []*SpreadPosition
	counter int
	now     func() time.Time
}

// NewPositionManager creates an empty position manager
func NewPositionManager() *PositionManager {
	return &PositionManager{
		open: make(map[string]*SpreadPosition),
		now:  time.Now,
	}
}

// SetClock replaces the time source used for entry and exit stamps
func (m *PositionManager) SetClock(now func() time.Time) {
	m.now = now
}

// OpenSpread records a new open spread. Always succeeds.
func (m *PositionManager) OpenSpread(p OpenParams) *SpreadPosition {
	m.counter++
	entry := p.EntryTime
	if entry.IsZero() {
		entry = m.now()
	}

	pos := &SpreadPosition{
		ID:          fmt.Sprintf("SPREAD_%d", m.counter),
		Underlying:  p.Underlying,
		Strategy:    p.Strategy,
		LongSymbol:  p.LongSymbol,
		ShortSymbol: p.ShortSymbol,
		LongPrice:   p.LongPrice,
		ShortPrice:  p.ShortPrice,
		Quantity:    p.Quantity,
		LotSize:     p.LotSize,
		EntryTime:   entry,
		MarkLong:    p.LongPrice,
		MarkShort:   p.ShortPrice,
		Brokerage:   p.Brokerage,
	}

	m.open[pos.ID] = pos
	m.order = append(m.order, pos.ID)

	log.Info().
		Str("spread_id", pos.ID).
		Str("long", pos.LongSymbol).
		Str("short", pos.ShortSymbol).
		Str("long_px", pos.LongPrice.StringFixed(2)).
		Str("short_px", pos.ShortPrice.StringFixed(2)).
		Str("net_debit", pos.NetDebit().StringFixed(2)).
		Msg("📈 Spread opened")

	return pos
}

// CloseSpread closes an open spread and returns its realized P&L.
// Unknown ids return false, log a warning and leave state untouched.
func (m *PositionManager) CloseSpread(spreadID string, exitLong, exitShort, brokerage decimal.Decimal) (decimal.Decimal, bool) {
	pos, ok := m.open[spreadID]
	if !ok {
		log.Warn().Err(ErrSpreadNotFound).Str("spread_id", spreadID).Msg("Close ignored")
		return decimal.Zero, false
	}

	pnl := pos.close(exitLong, exitShort, brokerage, m.now())

	delete(m.open, spreadID)
	for i, id := range m.order {
		if id == spreadID {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	m.closed = append(m.closed, pos)

	log.Info().
		Str("spread_id", spreadID).
		Str("exit_long", exitLong.StringFixed(2)).
		Str("exit_short", exitShort.StringFixed(2)).
		Str("pnl", pnl.StringFixed(2)).
		Msg("📉 Spread closed")

	return pnl, true
}

// UpdateMark overwrites the mark of whichever leg trades as symbol
func (m *PositionManager) UpdateMark(spreadID, symbol string, price decimal.Decimal) bool {
	pos, ok := m.open[spreadID]
	if !ok || !price.IsPositive() {
		return false
	}
	switch symbol {
	case pos.LongSymbol:
		pos.MarkLong = price
	case pos.ShortSymbol:
		pos.MarkShort = price
	default:
		return false
	}
	return true
}

// Get returns an open spread by id
func (m *PositionManager) Get(spreadID string) (*SpreadPosition, bool) {
	p, ok := m.open[spreadID]
	return p, ok
}

// OpenPositions returns open spreads in opening order
func (m *PositionManager) OpenPositions() []*SpreadPosition {
	out := make([]*SpreadPosition, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.open[id])
	}
	return out
}

// ClosedPositions returns copies of the closed spreads in closing order
func (m *PositionManager) ClosedPositions() []SpreadPosition {
	out := make([]SpreadPosition, 0, len(m.closed))
	for _, p := range m.closed {
		out = append(out, *p)
	}
	return out
}

// TotalRealizedPnL sums realized P&L over closed spreads
func (m *PositionManager) TotalRealizedPnL() decimal.Decimal {
	total := decimal.Zero
	for _, p := range m.closed {
		total = total.Add(p.RealizedPnL)
	}
	return total
}

// TotalUnrealizedPnL sums mark-to-market P&L over open spreads
func (m *PositionManager) TotalUnrealizedPnL() decimal.Decimal {
	total := decimal.Zero
	for _, p := range m.open {
		total = total.Add(p.UnrealizedPnL())
	}
	return total
}

// TotalExposure sums total cost over open spreads
func (m *PositionManager) TotalExposure() decimal.Decimal {
	total := decimal.Zero
	for _, p := range m.open {
		total = total.Add(p.TotalCost())
	}
	return total
}

// HasOpenPositions reports whether any spread is open
func (m *PositionManager) HasOpenPositions() bool {
	return len(m.open) > 0
}

// Stats computes win rate and average P&L over closed spreads
func (m *PositionManager) Stats() Stats {
	s := Stats{
		WinRate:  decimal.Zero,
		TotalPnL: decimal.Zero,
		AvgPnL:   decimal.Zero,
	}
	if len(m.closed) == 0 {
		return s
	}

	for _, p := range m.closed {
		switch {
		case p.RealizedPnL.IsPositive():
			s.WinningTrades++
		case p.RealizedPnL.IsNegative():
			s.LosingTrades++
		}
		s.TotalPnL = s.TotalPnL.Add(p.RealizedPnL)
	}

	n := decimal.NewFromInt(int64(len(m.closed)))
	s.TotalTrades = len(m.closed)
	s.WinRate = decimal.NewFromInt(int64(s.WinningTrades)).Div(n)
	s.AvgPnL = s.TotalPnL.Div(n)
	return s
}

// Clear drops every position
func (m *PositionManager) Clear() {
	m.open = make(map[string]*SpreadPosition)
	m.order = nil
	m.closed = nil
}
