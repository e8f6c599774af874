package core

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestCalculateWeeklyExpiries(t *testing.T) {
	cases := []struct {
		name      string
		from, to  time.Time
		wantFirst time.Time
	}{
		{"from thursday", date(2025, 1, 2), date(2025, 1, 3), date(2025, 1, 2)},
		{"from friday", date(2025, 1, 3), date(2025, 1, 10), date(2025, 1, 9)},
		{"from sunday", date(2024, 12, 29), date(2025, 2, 28), date(2025, 1, 2)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := CalculateWeeklyExpiries(tc.from, tc.to)
			if len(got) == 0 {
				t.Fatal("no expiries")
			}
			if !got[0].Equal(tc.wantFirst) {
				t.Errorf("first = %v, want %v", got[0], tc.wantFirst)
			}
			for i, e := range got {
				if e.Weekday() != time.Thursday {
					t.Errorf("expiry %v is a %v", e, e.Weekday())
				}
				if i > 0 && !e.After(got[i-1]) {
					t.Errorf("not ascending at %d", i)
				}
			}
			last := got[len(got)-1]
			horizon := tc.to.AddDate(0, 0, 60)
			if last.After(horizon) || horizon.Sub(last) >= 7*24*time.Hour {
				t.Errorf("last = %v does not cover through %v", last, horizon)
			}
		})
	}
}

func TestNearestExpiryStrictlyAfterDay(t *testing.T) {
	expiries := []time.Time{date(2025, 1, 16), date(2025, 1, 2), date(2025, 1, 9)}

	got, ok := NearestExpiry(date(2025, 1, 2), expiries)
	if !ok || !got.Equal(date(2025, 1, 9)) {
		t.Fatalf("nearest = %v %v", got, ok)
	}

	got, ok = NearestExpiry(time.Date(2025, 1, 8, 9, 25, 0, 0, time.UTC), expiries)
	if !ok || !got.Equal(date(2025, 1, 9)) {
		t.Fatalf("nearest = %v %v", got, ok)
	}

	if _, ok := NearestExpiry(date(2025, 1, 16), expiries); ok {
		t.Fatal("expected no expiry after the last one")
	}
}

func TestMarketHours(t *testing.T) {
	at := func(d, h, m int) time.Time { return time.Date(2025, 1, d, h, m, 0, 0, time.UTC) }
	cases := []struct {
		t    time.Time
		open bool
	}{
		{at(2, 9, 14), false},
		{at(2, 9, 15), true},
		{at(2, 12, 0), true},
		{at(2, 15, 30), true},
		{at(2, 15, 31), false},
		{at(4, 10, 0), false}, // Saturday
		{at(5, 10, 0), false}, // Sunday
	}
	for _, tc := range cases {
		if got := IsMarketOpen(tc.t); got != tc.open {
			t.Errorf("IsMarketOpen(%v) = %v", tc.t, got)
		}
	}

	if got := NextMarketOpen(at(2, 8, 0)); !got.Equal(at(2, 9, 15)) {
		t.Errorf("before open: %v", got)
	}
	if got := NextMarketOpen(at(2, 10, 0)); !got.Equal(at(3, 9, 15)) {
		t.Errorf("after open: %v", got)
	}
	if got := NextMarketOpen(at(3, 16, 0)); !got.Equal(at(6, 9, 15)) {
		t.Errorf("friday evening: %v", got)
	}
}

func TestSyntheticChain(t *testing.T) {
	chain := SyntheticChain("NIFTY", decimal.NewFromFloat(24012.3), date(2025, 1, 9))
	if len(chain.Calls) != 21 || len(chain.Puts) != 21 {
		t.Fatalf("chain sizes %d/%d", len(chain.Calls), len(chain.Puts))
	}
	if chain.Calls[0] != "NSE-NIFTY-09Jan25-23500-CE" {
		t.Errorf("first call = %s", chain.Calls[0])
	}
	if chain.Calls[10] != "NSE-NIFTY-09Jan25-24000-CE" {
		t.Errorf("atm call = %s", chain.Calls[10])
	}
	if chain.Puts[20] != "NSE-NIFTY-09Jan25-24500-PE" {
		t.Errorf("last put = %s", chain.Puts[20])
	}
}

func TestLegPricing(t *testing.T) {
	spot := decimal.NewFromInt(24000)

	long := LongLegPrice(spot, decimal.NewFromInt(23500), 30)
	// intrinsic 500, factor 0.02, tv max(10, 10) = 10
	if !long.Intrinsic.Equal(decimal.NewFromInt(500)) || !long.Theoretical.Equal(decimal.NewFromInt(510)) {
		t.Errorf("long = %+v", long)
	}

	short := ShortLegPrice(spot, decimal.NewFromInt(25000), 30)
	// intrinsic 0, tv max(5, 1000*0.02*0.5 = 10) = 10
	if !short.Intrinsic.IsZero() || !short.Theoretical.Equal(decimal.NewFromInt(10)) {
		t.Errorf("short = %+v", short)
	}

	floor := LongLegPrice(spot, spot, 0)
	if !floor.Theoretical.Equal(decimal.NewFromInt(10)) {
		t.Errorf("floored long = %+v", floor)
	}

	if got := ExitPrice(decimal.NewFromInt(100)); !got.Equal(decimal.NewFromInt(95)) {
		t.Errorf("exit = %s", got)
	}

	l, s := PaperEntryPrices(spot, spot, decimal.NewFromInt(24300), decimal.NewFromFloat(0.5))
	if !l.Equal(decimal.NewFromFloat(30.5)) || !s.Equal(decimal.NewFromFloat(14.5)) {
		t.Errorf("paper entry = %s / %s", l, s)
	}
}

func TestFormatCurrency(t *testing.T) {
	cases := map[string]decimal.Decimal{
		"₹0.00":          decimal.Zero,
		"₹999.50":        decimal.NewFromFloat(999.5),
		"₹1,234.56":      decimal.NewFromFloat(1234.56),
		"₹-81.25":        decimal.NewFromFloat(-81.25),
		"₹-1,000,000.00": decimal.NewFromInt(-1000000),
	}
	for want, in := range cases {
		if got := FormatCurrency(in); got != want {
			t.Errorf("FormatCurrency(%s) = %s, want %s", in, got, want)
		}
	}
}
