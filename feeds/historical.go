package feeds

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/spreadbot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// HISTORICAL DATA - Candles, expiries and option chains
// ═══════════════════════════════════════════════════════════════════════════════
//
// Gateway failures never escape this provider. A failed call turns into an
// empty result so orchestration loops just skip the cycle.
//
// ═══════════════════════════════════════════════════════════════════════════════

const spotCandleInterval = 5 // minutes

// HistoricalGateway is the slice of the brokerage API used for history
type HistoricalGateway interface {
	LTP(ctx context.Context, symbols []string, segment string) (map[string]decimal.Decimal, error)
	HistoricalCandles(ctx context.Context, symbol string, start, end time.Time, interval int) ([]types.Candle, error)
	Expiries(ctx context.Context, underlying, exchange string) ([]time.Time, error)
	Contracts(ctx context.Context, underlying string, expiry time.Time, exchange string) ([]string, error)
}

// Historical serves historical market data with a candle cache
type Historical struct {
	gw HistoricalGateway

	mu      sync.RWMutex
	candles map[string][]types.Candle
}

// NewHistorical creates a provider over gw
func NewHistorical(gw HistoricalGateway) *Historical {
	return &Historical{
		gw:      gw,
		candles: make(map[string][]types.Candle),
	}
}

// Candles returns bars for symbol across the trading sessions of [from, to].
// Results are cached per symbol, range and interval.
func (h *Historical) Candles(ctx context.Context, symbol string, from, to time.Time, interval int) []types.Candle {
	key := fmt.Sprintf("%s_%s_%s_%d", symbol, from.Format("2006-01-02"), to.Format("2006-01-02"), interval)

	h.mu.RLock()
	cached, ok := h.candles[key]
	h.mu.RUnlock()
	if ok {
		log.Debug().Str("symbol", symbol).Msg("📦 Candle cache hit")
		return cached
	}

	start := time.Date(from.Year(), from.Month(), from.Day(), 9, 15, 0, 0, from.Location())
	end := time.Date(to.Year(), to.Month(), to.Day(), 15, 30, 0, 0, to.Location())

	candles, err := h.gw.HistoricalCandles(ctx, symbol, start, end, interval)
	if err != nil {
		log.Debug().Err(err).Str("symbol", symbol).Msg("Candle fetch failed")
		return nil
	}
	if len(candles) == 0 {
		log.Debug().Str("symbol", symbol).Msg("No candle data")
		return nil
	}

	h.mu.Lock()
	h.candles[key] = candles
	h.mu.Unlock()

	log.Debug().Str("symbol", symbol).Int("candles", len(candles)).Msg("📊 Candles fetched")
	return candles
}

// SpotPrice returns the underlying's last 5 minute close on day, falling
// back to the current LTP.
func (h *Historical) SpotPrice(ctx context.Context, underlying string, day time.Time) (decimal.Decimal, bool) {
	candles := h.Candles(ctx, types.ExchangeNSE+"-"+underlying, day, day, spotCandleInterval)
	if n := len(candles); n > 0 {
		return candles[n-1].Close, true
	}

	symbol := types.ExchangeNSE + "_" + underlying
	ltp, err := h.gw.LTP(ctx, []string{symbol}, types.SegmentCash)
	if err != nil {
		log.Debug().Err(err).Str("symbol", symbol).Msg("LTP fallback failed")
	} else if p, ok := ltp[symbol]; ok && p.IsPositive() {
		return p, true
	}

	log.Warn().Str("underlying", underlying).Str("day", day.Format("2006-01-02")).Msg("Could not get spot price")
	return decimal.Zero, false
}

// OptionChain returns the contracts listed for expiry, split into calls and puts
func (h *Historical) OptionChain(ctx context.Context, underlying string, expiry time.Time) types.OptionChain {
	contracts, err := h.gw.Contracts(ctx, underlying, expiry, types.ExchangeNSE)
	if err != nil {
		log.Error().Err(err).Str("underlying", underlying).Msg("Failed to get option chain")
		return types.OptionChain{}
	}

	var chain types.OptionChain
	for _, c := range contracts {
		switch {
		case strings.HasSuffix(c, "CE"):
			chain.Calls = append(chain.Calls, c)
		case strings.HasSuffix(c, "PE"):
			chain.Puts = append(chain.Puts, c)
		}
	}

	log.Debug().
		Int("calls", len(chain.Calls)).
		Int("puts", len(chain.Puts)).
		Str("expiry", expiry.Format("2006-01-02")).
		Msg("📋 Option chain loaded")
	return chain
}

// Expiries returns listed expiries for underlying, ascending
func (h *Historical) Expiries(ctx context.Context, underlying string) []time.Time {
	expiries, err := h.gw.Expiries(ctx, underlying, types.ExchangeNSE)
	if err != nil {
		log.Error().Err(err).Str("underlying", underlying).Msg("Failed to get expiries")
		return nil
	}
	sort.Slice(expiries, func(i, j int) bool { return expiries[i].Before(expiries[j]) })
	return expiries
}

// ClearCache drops cached candles
func (h *Historical) ClearCache() {
	h.mu.Lock()
	h.candles = make(map[string][]types.Candle)
	h.mu.Unlock()
	log.Debug().Msg("🗑️ Candle cache cleared")
}
