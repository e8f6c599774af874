package feeds

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/spreadbot/types"
)

type fakeLiveGateway struct {
	prices map[string]decimal.Decimal
	quote  types.Quote
	err    error
}

func (g *fakeLiveGateway) LTP(_ context.Context, symbols []string, _ string) (map[string]decimal.Decimal, error) {
	if g.err != nil {
		return nil, g.err
	}
	out := make(map[string]decimal.Decimal)
	for _, s := range symbols {
		if p, ok := g.prices[s]; ok {
			out[s] = p
		}
	}
	return out, nil
}

func (g *fakeLiveGateway) Quote(context.Context, string, string, string) (types.Quote, error) {
	return g.quote, g.err
}

func TestLiveSpotLTP(t *testing.T) {
	gw := &fakeLiveGateway{prices: map[string]decimal.Decimal{
		"NSE_NIFTY":     decimal.NewFromFloat(24012.5),
		"NSE_BANKNIFTY": decimal.Zero,
	}}
	l := NewLive(gw)

	if p, ok := l.SpotLTP(context.Background(), "NIFTY"); !ok || !p.Equal(decimal.NewFromFloat(24012.5)) {
		t.Errorf("nifty = %s %v", p, ok)
	}
	if _, ok := l.SpotLTP(context.Background(), "BANKNIFTY"); ok {
		t.Error("zero price accepted")
	}
	if _, ok := l.SpotLTP(context.Background(), "SENSEX"); ok {
		t.Error("missing symbol accepted")
	}

	gw.err = errors.New("timeout")
	if got := l.LTP(context.Background(), []string{"NSE_NIFTY"}, types.SegmentCash); len(got) != 0 {
		t.Errorf("ltp on failure = %v", got)
	}
}

func TestLiveOptionGreeks(t *testing.T) {
	gw := &fakeLiveGateway{quote: types.Quote{
		Symbol: "NSE-NIFTY-09Jan25-24000-CE",
		Greeks: &types.Greeks{Delta: decimal.NewFromFloat(0.52)},
	}}
	l := NewLive(gw)

	g, ok := l.OptionGreeks(context.Background(), "NSE-NIFTY-09Jan25-24000-CE")
	if !ok || !g.Delta.Equal(decimal.NewFromFloat(0.52)) {
		t.Errorf("greeks = %+v %v", g, ok)
	}

	gw.quote.Greeks = nil
	if _, ok := l.OptionGreeks(context.Background(), "X"); ok {
		t.Error("greeks without data")
	}
}
