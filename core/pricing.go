package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/spreadbot/strategy"
	"github.com/web3guy0/spreadbot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// FILL SIMULATION - Approximate option prices for backtest and paper trading
// ═══════════════════════════════════════════════════════════════════════════════
//
// Not a pricing model. Backtest legs are priced as
//
//   intrinsic  = max(0, spot - strike)
//   factor     = max(0.01, dte / 30) * 0.02
//   long tv    = max(10, |spot - strike| * factor)
//   short tv   = max(5,  |spot - strike| * factor * 0.5)
//
// and exits decay both theoretical prices by 5%.
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	syntheticStrikeStep  = 50
	syntheticStrikeRange = 10 // strikes each side of ATM
)

var (
	hundred         = decimal.NewFromInt(100)
	minFactor       = decimal.NewFromFloat(0.01)
	factorScale     = decimal.NewFromFloat(0.02)
	daysPerMonth    = decimal.NewFromInt(30)
	minLongTV       = decimal.NewFromInt(10)
	minShortTV      = decimal.NewFromInt(5)
	shortTVScale    = decimal.NewFromFloat(0.5)
	exitDecay       = decimal.NewFromFloat(0.95)
	paperLongFloor  = decimal.NewFromInt(10)
	paperShortFloor = decimal.NewFromInt(5)
	paperLongAdd    = decimal.NewFromInt(20)
	paperShortAdd   = decimal.NewFromInt(10)
)

// LegPrice is the simulated price of one option leg
type LegPrice struct {
	Intrinsic   decimal.Decimal
	TimeValue   decimal.Decimal
	Theoretical decimal.Decimal
}

// SyntheticChain builds a call/put chain around spot for dates the gateway
// cannot serve: 21 strikes 50 points apart centred on spot rounded to 50.
func SyntheticChain(underlying string, spot decimal.Decimal, expiry time.Time) types.OptionChain {
	step := decimal.NewFromInt(syntheticStrikeStep)
	base := spot.Div(step).Round(0).Mul(step)
	exp := expiry.Format("02Jan06")

	var chain types.OptionChain
	for i := -syntheticStrikeRange; i <= syntheticStrikeRange; i++ {
		strike := base.Add(step.Mul(decimal.NewFromInt(int64(i))))
		prefix := fmt.Sprintf("%s-%s-%s-%s-", types.ExchangeNSE, underlying, exp, strike.String())
		chain.Calls = append(chain.Calls, prefix+strategy.OptionCall)
		chain.Puts = append(chain.Puts, prefix+strategy.OptionPut)
	}
	return chain
}

// LongLegPrice prices the bought call
func LongLegPrice(spot, strike decimal.Decimal, daysToExpiry int) LegPrice {
	tv := decimal.Max(minLongTV, spot.Sub(strike).Abs().Mul(timeValueFactor(daysToExpiry)))
	return legPrice(spot, strike, tv)
}

// ShortLegPrice prices the sold call; it carries half the time value scale
func ShortLegPrice(spot, strike decimal.Decimal, daysToExpiry int) LegPrice {
	tv := decimal.Max(minShortTV, spot.Sub(strike).Abs().Mul(timeValueFactor(daysToExpiry)).Mul(shortTVScale))
	return legPrice(spot, strike, tv)
}

// ExitPrice applies the intraday decay to a theoretical price
func ExitPrice(theoretical decimal.Decimal) decimal.Decimal {
	return theoretical.Mul(exitDecay)
}

// PaperEntryPrices approximates entry fills when no tick has arrived yet.
// Slippage is applied against us on both legs.
func PaperEntryPrices(spot, buyStrike, sellStrike, slippage decimal.Decimal) (long, short decimal.Decimal) {
	long = decimal.Max(paperLongFloor, spot.Sub(buyStrike)).Add(paperLongAdd).Add(slippage)
	short = decimal.Max(paperShortFloor, spot.Sub(sellStrike)).Add(paperShortAdd).Sub(slippage)
	return long, short
}

// SlippedFill moves price against the side taking it
func SlippedFill(price, slippage decimal.Decimal, side types.Side) decimal.Decimal {
	if side == types.SideBuy {
		return price.Add(slippage)
	}
	return price.Sub(slippage)
}

func timeValueFactor(daysToExpiry int) decimal.Decimal {
	f := decimal.NewFromInt(int64(daysToExpiry)).Div(daysPerMonth)
	return decimal.Max(minFactor, f).Mul(factorScale)
}

func legPrice(spot, strike, tv decimal.Decimal) LegPrice {
	intrinsic := decimal.Max(decimal.Zero, spot.Sub(strike))
	return LegPrice{
		Intrinsic:   intrinsic,
		TimeValue:   tv,
		Theoretical: intrinsic.Add(tv),
	}
}

// FormatCurrency renders amount as rupees with thousands separators
func FormatCurrency(amount decimal.Decimal) string {
	s := amount.Abs().StringFixed(2)
	whole, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		whole, frac = s[:i], s[i:]
	}

	var b strings.Builder
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}

	sign := ""
	if amount.IsNegative() && !amount.Round(2).IsZero() {
		sign = "-"
	}
	return "₹" + sign + b.String() + frac
}

// FormatPercent renders a fraction as a one-decimal percentage
func FormatPercent(fraction decimal.Decimal) string {
	return fraction.Mul(hundred).StringFixed(1) + "%"
}
