package risk

import (
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// CIRCUIT BREAKER - Halts new entries after a losing streak
// ═══════════════════════════════════════════════════════════════════════════════
//
// Trips when either limit is hit, and stays tripped for the rest of the
// session. Open spreads still exit normally; only new entries are blocked.
//
//   consecutive losing spreads ≥ maxConsecutiveLosses   (0 = off)
//   realized session loss      ≥ maxSessionLoss         (0 = off)
//
// ═══════════════════════════════════════════════════════════════════════════════

// CircuitBreaker gates entries on realized results
type CircuitBreaker struct {
	mu sync.RWMutex

	// Configuration
	maxConsecutiveLosses int
	maxSessionLoss       decimal.Decimal

	// State
	consecutiveLosses int
	sessionPnL        decimal.Decimal
	tripped           bool
	reason            string
}

// NewCircuitBreaker creates a breaker. Zero limits disable that check.
func NewCircuitBreaker(maxConsecutiveLosses int, maxSessionLoss decimal.Decimal) *CircuitBreaker {
	return &CircuitBreaker{
		maxConsecutiveLosses: maxConsecutiveLosses,
		maxSessionLoss:       maxSessionLoss.Abs(),
	}
}

// Allow reports whether a new spread may be opened
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return !cb.tripped
}

// Record books the realized P&L of a closed spread
func (cb *CircuitBreaker) Record(pnl decimal.Decimal) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.sessionPnL = cb.sessionPnL.Add(pnl)
	if pnl.IsNegative() {
		cb.consecutiveLosses++
	} else {
		cb.consecutiveLosses = 0
	}

	if cb.tripped {
		return
	}
	if cb.maxConsecutiveLosses > 0 && cb.consecutiveLosses >= cb.maxConsecutiveLosses {
		cb.trip("max consecutive losses")
		return
	}
	if cb.maxSessionLoss.IsPositive() && cb.sessionPnL.Neg().GreaterThanOrEqual(cb.maxSessionLoss) {
		cb.trip("max session loss")
	}
}

func (cb *CircuitBreaker) trip(reason string) {
	cb.tripped = true
	cb.reason = reason
	log.Warn().
		Str("reason", reason).
		Int("consecutive_losses", cb.consecutiveLosses).
		Str("session_pnl", cb.sessionPnL.StringFixed(2)).
		Msg("🚨 CIRCUIT BREAKER TRIPPED")
}

// IsTripped returns current trip state
func (cb *CircuitBreaker) IsTripped() bool {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.tripped
}

// GetStats returns circuit breaker statistics
func (cb *CircuitBreaker) GetStats() (consecutiveLosses int, sessionPnL decimal.Decimal, tripped bool, reason string) {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.consecutiveLosses, cb.sessionPnL, cb.tripped, cb.reason
}

// ForceReset clears the trip and the loss streak
func (cb *CircuitBreaker) ForceReset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.consecutiveLosses = 0
	cb.sessionPnL = decimal.Zero
	cb.tripped = false
	cb.reason = ""
	log.Info().Msg("Circuit breaker manually reset")
}
