package feeds

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/spreadbot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// INSTRUMENTS - Contract metadata catalog
// ═══════════════════════════════════════════════════════════════════════════════

const loadTimeout = 30 * time.Second

// InstrumentGateway loads the instrument table
type InstrumentGateway interface {
	Instruments(ctx context.Context) ([]types.Instrument, error)
}

// Instruments caches the instrument table after the first load
type Instruments struct {
	mu          sync.RWMutex
	gw          InstrumentGateway
	rows        []types.Instrument
	loaded      bool
	lotFallback int
}

// NewInstruments creates a catalog. lotFallback is used when an underlying
// has no lot size on record.
func NewInstruments(gw InstrumentGateway, lotFallback int) *Instruments {
	if lotFallback <= 0 {
		lotFallback = 1
	}
	return &Instruments{gw: gw, lotFallback: lotFallback}
}

// Load fetches the instrument table. Cached unless force is set.
func (c *Instruments) Load(ctx context.Context, force bool) error {
	c.mu.RLock()
	loaded := c.loaded
	c.mu.RUnlock()
	if loaded && !force {
		return nil
	}
	if c.gw == nil {
		return nil
	}

	rows, err := c.gw.Instruments(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to load instruments")
		return err
	}

	c.mu.Lock()
	c.rows = rows
	c.loaded = true
	c.mu.Unlock()

	log.Info().Int("instruments", len(rows)).Msg("📚 Instruments loaded")
	return nil
}

// Count returns the number of loaded instruments
func (c *Instruments) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.rows)
}

func (c *Instruments) ensure() {
	ctx, cancel := context.WithTimeout(context.Background(), loadTimeout)
	defer cancel()
	c.Load(ctx, false)
}

// LotSize returns the lot size of underlying, or the fallback
func (c *Instruments) LotSize(underlying string) int {
	c.ensure()

	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, r := range c.rows {
		if r.Underlying == underlying && r.LotSize > 0 {
			return r.LotSize
		}
	}
	return c.lotFallback
}

// Options filters options by underlying, type ("" for both) and expiry
// (zero for all)
func (c *Instruments) Options(underlying, optionType string, expiry time.Time) []types.Instrument {
	c.ensure()

	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []types.Instrument
	for _, r := range c.rows {
		if r.Underlying != underlying {
			continue
		}
		if optionType != "" && r.InstrumentType != optionType {
			continue
		}
		if optionType == "" && r.InstrumentType != "CE" && r.InstrumentType != "PE" {
			continue
		}
		if !expiry.IsZero() && !sameDay(r.Expiry, expiry) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// FindOptionByStrike finds one contract by strike, type and expiry
func (c *Instruments) FindOptionByStrike(underlying string, strike decimal.Decimal, optionType string, expiry time.Time) (types.Instrument, bool) {
	for _, r := range c.Options(underlying, optionType, expiry) {
		if r.Strike.Equal(strike) {
			return r, true
		}
	}
	return types.Instrument{}, false
}

// AvailableStrikes lists distinct strikes for an expiry, ascending
func (c *Instruments) AvailableStrikes(underlying string, expiry time.Time, optionType string) []decimal.Decimal {
	seen := make(map[string]bool)
	var out []decimal.Decimal
	for _, r := range c.Options(underlying, optionType, expiry) {
		if k := r.Strike.String(); !seen[k] {
			seen[k] = true
			out = append(out, r.Strike)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LessThan(out[j]) })
	return out
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
