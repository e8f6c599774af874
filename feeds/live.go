package feeds

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/spreadbot/types"
)

// LiveGateway is the slice of the brokerage API used for live quotes
type LiveGateway interface {
	LTP(ctx context.Context, symbols []string, segment string) (map[string]decimal.Decimal, error)
	Quote(ctx context.Context, exchange, segment, symbol string) (types.Quote, error)
}

// Live polls current prices directly from the gateway
type Live struct {
	gw LiveGateway
}

// NewLive creates a live data poller
func NewLive(gw LiveGateway) *Live {
	return &Live{gw: gw}
}

// LTP returns last prices for symbols; empty on failure
func (l *Live) LTP(ctx context.Context, symbols []string, segment string) map[string]decimal.Decimal {
	out, err := l.gw.LTP(ctx, symbols, segment)
	if err != nil {
		log.Error().Err(err).Strs("symbols", symbols).Msg("Failed to get LTP")
		return map[string]decimal.Decimal{}
	}
	return out
}

// SpotLTP returns the current index level of underlying
func (l *Live) SpotLTP(ctx context.Context, underlying string) (decimal.Decimal, bool) {
	symbol := types.ExchangeNSE + "_" + underlying
	p, ok := l.LTP(ctx, []string{symbol}, types.SegmentCash)[symbol]
	if !ok || !p.IsPositive() {
		return decimal.Zero, false
	}
	return p, true
}

// Quote returns a full quote; false on failure
func (l *Live) Quote(ctx context.Context, symbol, exchange, segment string) (types.Quote, bool) {
	q, err := l.gw.Quote(ctx, exchange, segment, symbol)
	if err != nil {
		log.Error().Err(err).Str("symbol", symbol).Msg("Failed to get quote")
		return types.Quote{}, false
	}
	return q, true
}

// OptionGreeks returns the greeks of an option contract
func (l *Live) OptionGreeks(ctx context.Context, symbol string) (*types.Greeks, bool) {
	q, ok := l.Quote(ctx, symbol, types.ExchangeNSE, types.SegmentFNO)
	if !ok || q.Greeks == nil {
		return nil, false
	}
	return q.Greeks, true
}
