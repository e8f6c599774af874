package strategy

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/spreadbot/execution"
	"github.com/web3guy0/spreadbot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// STRATEGY INTERFACE - Plug-in pattern for spread strategies
// ═══════════════════════════════════════════════════════════════════════════════
//
// Orchestrators drive every strategy the same way:
//
//   ShouldEnter(md) → EntryOrders(md) → OrderManager → PositionManager.OpenSpread
//   ShouldExit(pos, md) → ExitOrders(pos, md) → OrderManager → PositionManager.CloseSpread
//
// A strategy only emits Order values. It never touches positions or order
// records; its own state is whatever it needs to decide within a day.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Strategy is the interface all spread strategies implement
type Strategy interface {
	// Name returns the strategy identifier
	Name() string

	// ShouldEnter decides whether to open a spread on this snapshot
	ShouldEnter(md types.MarketData) bool

	// EntryOrders builds the opening legs. Empty when legs cannot be resolved.
	EntryOrders(md types.MarketData) []types.Order

	// ShouldExit decides whether an open spread should be closed
	ShouldExit(pos *execution.SpreadPosition, md types.MarketData) bool

	// ExitOrders builds the closing legs for pos
	ExitOrders(pos *execution.SpreadPosition, md types.MarketData) []types.Order
}

// LifecycleObserver is implemented by strategies that want position events
type LifecycleObserver interface {
	OnPositionOpened(pos *execution.SpreadPosition)
	OnPositionClosed(pos *execution.SpreadPosition, pnl decimal.Decimal)
}

// LotSizer resolves the contract multiple of an underlying
type LotSizer interface {
	LotSize(underlying string) int
}

// ParseClock parses an HH:MM wall-clock time
func ParseClock(s string) (hour, minute int, err error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q, want HH:MM", s)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return hour, minute, nil
}
