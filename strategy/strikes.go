package strategy

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// Contract symbols look like NSE-NIFTY-02Jan25-24000-CE:
// exchange, underlying, expiry, strike, option type.

const (
	OptionCall = "CE"
	OptionPut  = "PE"
)

// ExtractStrike parses the strike component of a contract symbol
func ExtractStrike(symbol string) (decimal.Decimal, bool) {
	parts := strings.Split(symbol, "-")
	if len(parts) < 4 {
		return decimal.Zero, false
	}
	strike, err := decimal.NewFromString(parts[3])
	if err != nil {
		return decimal.Zero, false
	}
	return strike, true
}

// IsCall reports whether symbol is a call contract
func IsCall(symbol string) bool {
	return strings.HasSuffix(strings.ToUpper(symbol), OptionCall)
}

// IsPut reports whether symbol is a put contract
func IsPut(symbol string) bool {
	return strings.HasSuffix(strings.ToUpper(symbol), OptionPut)
}

// Strikes returns the distinct strikes found in contracts, ascending.
// Symbols without a numeric strike are skipped.
func Strikes(contracts []string) []decimal.Decimal {
	seen := make(map[string]bool)
	var out []decimal.Decimal
	for _, c := range contracts {
		s, ok := ExtractStrike(c)
		if !ok {
			continue
		}
		key := s.String()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LessThan(out[j]) })
	return out
}

// FindATMStrike returns the strike closest to spot. Ties go to the first
// strike in the given order, so pass strikes ascending.
func FindATMStrike(spot decimal.Decimal, strikes []decimal.Decimal) (decimal.Decimal, bool) {
	if len(strikes) == 0 {
		return decimal.Zero, false
	}
	best := strikes[0]
	bestDist := best.Sub(spot).Abs()
	for _, s := range strikes[1:] {
		if dist := s.Sub(spot).Abs(); dist.LessThan(bestDist) {
			best, bestDist = s, dist
		}
	}
	return best, true
}

// SnapStrike returns target if it is listed, otherwise the listed strike
// above floor that is nearest to target. Returns target unchanged when no
// strike lies above floor.
func SnapStrike(target, floor decimal.Decimal, strikes []decimal.Decimal) decimal.Decimal {
	var higher []decimal.Decimal
	for _, s := range strikes {
		if s.Equal(target) {
			return target
		}
		if s.GreaterThan(floor) {
			higher = append(higher, s)
		}
	}
	if len(higher) == 0 {
		return target
	}
	snapped, _ := FindATMStrike(target, higher)
	return snapped
}

// FindContract finds the contract of optionType trading at strike
func FindContract(contracts []string, strike decimal.Decimal, optionType string) (string, bool) {
	for _, c := range contracts {
		if !strings.HasSuffix(c, optionType) {
			continue
		}
		if s, ok := ExtractStrike(c); ok && s.Equal(strike) {
			return c, true
		}
	}
	return "", false
}
