package feeds

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/spreadbot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// PRICE CACHE - Shared last-price table between feed and trading loop
// ═══════════════════════════════════════════════════════════════════════════════
//
// The stream goroutine writes, the trading loop reads. Every access goes
// through the mutex. Ticks that fail to parse are counted, not dropped
// silently.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Skip reasons for ticks that never reach the cache
const (
	SkipBadJSON       = "bad_json"
	SkipNoSymbol      = "missing_symbol"
	SkipNoPrice       = "missing_price"
	SkipNonPositive   = "non_positive_price"
	SkipUnknownFormat = "unknown_format"
)

// ParseResult is the outcome of parsing one tick
type ParseResult struct {
	Tick   types.Tick
	OK     bool
	Reason string // set when !OK
}

type tickMessage struct {
	Type          string              `json:"type"`
	Symbol        string              `json:"symbol"`
	TradingSymbol string              `json:"trading_symbol"`
	LTP           decimal.NullDecimal `json:"ltp"`
	LastPrice     decimal.NullDecimal `json:"last_price"`
	Ticks         []tickMessage       `json:"ticks"`
}

// ParseTickMessage decodes a feed frame into per-tick results.
// A frame is either a single tick or {"type":"ticks","ticks":[...]}.
func ParseTickMessage(data []byte, now time.Time) []ParseResult {
	var msg tickMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return []ParseResult{{Reason: SkipBadJSON}}
	}

	if len(msg.Ticks) > 0 {
		out := make([]ParseResult, 0, len(msg.Ticks))
		for _, t := range msg.Ticks {
			out = append(out, parseTick(t, now))
		}
		return out
	}

	// control frames (ack, heartbeat) carry neither symbol nor price
	if msg.Symbol == "" && msg.TradingSymbol == "" && !msg.LTP.Valid && !msg.LastPrice.Valid {
		return nil
	}

	switch msg.Type {
	case "", "tick", "ltp":
		return []ParseResult{parseTick(msg, now)}
	}
	return []ParseResult{{Reason: SkipUnknownFormat}}
}

func parseTick(m tickMessage, now time.Time) ParseResult {
	symbol := m.Symbol
	if symbol == "" {
		symbol = m.TradingSymbol
	}
	if symbol == "" {
		return ParseResult{Reason: SkipNoSymbol}
	}

	price := m.LTP
	if !price.Valid {
		price = m.LastPrice
	}
	if !price.Valid {
		return ParseResult{Tick: types.Tick{Symbol: symbol}, Reason: SkipNoPrice}
	}
	if !price.Decimal.IsPositive() {
		return ParseResult{Tick: types.Tick{Symbol: symbol}, Reason: SkipNonPositive}
	}

	return ParseResult{
		Tick: types.Tick{Symbol: symbol, LTP: price.Decimal, Timestamp: now},
		OK:   true,
	}
}

type cachedPrice struct {
	price decimal.Decimal
	at    time.Time
}

// PriceCache holds the latest price per symbol
type PriceCache struct {
	mu     sync.RWMutex
	prices map[string]cachedPrice

	accepted  atomic.Int64
	malformed atomic.Int64
}

// NewPriceCache creates an empty cache
func NewPriceCache() *PriceCache {
	return &PriceCache{prices: make(map[string]cachedPrice)}
}

// Apply records a parse result. Accepted ticks overwrite the cached
// price, skipped ticks bump the malformed counter.
func (c *PriceCache) Apply(r ParseResult) bool {
	if !r.OK {
		c.malformed.Add(1)
		return false
	}
	c.Set(r.Tick)
	return true
}

// Set stores a tick
func (c *PriceCache) Set(t types.Tick) {
	c.mu.Lock()
	c.prices[t.Symbol] = cachedPrice{price: t.LTP, at: t.Timestamp}
	c.mu.Unlock()
	c.accepted.Add(1)
}

// Get returns the latest price for symbol
func (c *PriceCache) Get(symbol string) (decimal.Decimal, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.prices[symbol]
	return p.price, ok
}

// GetSince returns the price only if it arrived after since
func (c *PriceCache) GetSince(symbol string, since time.Time) (decimal.Decimal, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.prices[symbol]
	if !ok || p.at.Before(since) {
		return decimal.Zero, false
	}
	return p.price, true
}

// Delete forgets symbols, used after unsubscribing
func (c *PriceCache) Delete(symbols ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range symbols {
		delete(c.prices, s)
	}
}

// Snapshot copies the whole table
func (c *PriceCache) Snapshot() map[string]decimal.Decimal {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]decimal.Decimal, len(c.prices))
	for k, v := range c.prices {
		out[k] = v.price
	}
	return out
}

// Accepted is the number of ticks written to the cache
func (c *PriceCache) Accepted() int64 {
	return c.accepted.Load()
}

// Malformed is the number of ticks skipped at parse time
func (c *PriceCache) Malformed() int64 {
	return c.malformed.Load()
}
