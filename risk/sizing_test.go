package risk

import (
	"testing"

	"github.com/shopspring/decimal"
)

func d(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func TestComputeMaxContractsWorkedExample(t *testing.T) {
	// risk 2000, per contract 1250, brokerage 40 -> floor(1960/1250) = 1
	got := ComputeMaxContracts(d(100000), d(0.02), d(50), 25, d(20), 2)
	if got != 1 {
		t.Fatalf("max contracts = %d, want 1", got)
	}
}

func TestComputeMaxContractsZeroGuards(t *testing.T) {
	cases := []struct {
		name     string
		netDebit decimal.Decimal
		lotSize  int
	}{
		{"zero debit", decimal.Zero, 25},
		{"negative debit", d(-10), 25},
		{"zero lot", d(50), 0},
		{"negative lot", d(50), -1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ComputeMaxContracts(d(100000), d(0.02), tc.netDebit, tc.lotSize, d(20), 2); got != 0 {
				t.Errorf("got %d, want 0", got)
			}
		})
	}
}

func TestComputeMaxContractsBrokerageExceedsBudget(t *testing.T) {
	if got := ComputeMaxContracts(d(1000), d(0.01), d(5), 1, d(20), 2); got != 0 {
		t.Fatalf("got %d, want 0", got)
	}
}

func TestComputeMaxContractsMonotonicInCapital(t *testing.T) {
	prev := 0
	for capital := 0; capital <= 2_000_000; capital += 25_000 {
		got := ComputeMaxContracts(d(float64(capital)), d(0.02), d(42.5), 25, d(20), 2)
		if got < prev {
			t.Fatalf("capital %d: %d < previous %d", capital, got, prev)
		}
		prev = got
	}
	if prev == 0 {
		t.Fatal("expected non-zero size at the top of the range")
	}
}

func TestSizer(t *testing.T) {
	s := NewSizer(d(100000), d(0.02), d(20))
	if got := s.MaxContracts(d(50), 25); got != 1 {
		t.Fatalf("MaxContracts = %d, want 1", got)
	}
	if !s.RiskAmount().Equal(d(2000)) {
		t.Fatalf("RiskAmount = %s", s.RiskAmount())
	}
	// two orders: floor((2000-40)/250) = 7
	if got := s.MaxContracts(d(10), 25); got != 7 {
		t.Fatalf("MaxContracts = %d, want 7", got)
	}
}
