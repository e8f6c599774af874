package risk

import (
	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// POSITION SIZING - fixed-fraction sizing for debit spreads
// ═══════════════════════════════════════════════════════════════════════════════
//
// Formula: contracts = floor((capital * risk_pct - brokerage * orders) / (net_debit * lot_size))
//
// The whole net debit is the max loss of a debit spread, so it is the
// per-unit risk. Brokerage for every order of the round trip is paid out
// of the risk budget before sizing.
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	DefaultBrokeragePerOrder = 20
	DefaultOrdersRequired    = 2
)

// ComputeMaxContracts returns how many spreads fit inside the risk budget.
// Never negative. Zero when net debit or lot size is not positive.
func ComputeMaxContracts(capital, riskPct, netDebit decimal.Decimal, lotSize int, brokeragePerOrder decimal.Decimal, ordersRequired int) int {
	if netDebit.LessThanOrEqual(decimal.Zero) || lotSize <= 0 {
		return 0
	}

	riskAmount := capital.Mul(riskPct)
	perContract := netDebit.Mul(decimal.NewFromInt(int64(lotSize)))
	brokerage := brokeragePerOrder.Mul(decimal.NewFromInt(int64(ordersRequired)))

	budget := riskAmount.Sub(brokerage)
	if budget.LessThanOrEqual(decimal.Zero) {
		return 0
	}

	return int(budget.Div(perContract).Floor().IntPart())
}

// Sizer binds account settings to ComputeMaxContracts
type Sizer struct {
	capital        decimal.Decimal
	riskPct        decimal.Decimal
	brokerage      decimal.Decimal
	ordersRequired int
}

// NewSizer creates a new position sizer
func NewSizer(capital, riskPct, brokeragePerOrder decimal.Decimal) *Sizer {
	return &Sizer{
		capital:        capital,
		riskPct:        riskPct,
		brokerage:      brokeragePerOrder,
		ordersRequired: DefaultOrdersRequired,
	}
}

// MaxContracts sizes a spread at the given net debit and lot size
func (s *Sizer) MaxContracts(netDebit decimal.Decimal, lotSize int) int {
	return ComputeMaxContracts(s.capital, s.riskPct, netDebit, lotSize, s.brokerage, s.ordersRequired)
}

// RiskAmount is the capital at risk per trade
func (s *Sizer) RiskAmount() decimal.Decimal {
	return s.capital.Mul(s.riskPct)
}
