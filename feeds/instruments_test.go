package feeds

import (
	"context"
	"errors"
	"testing"

	"github.com/web3guy0/spreadbot/types"
)

type fakeInstrumentGateway struct {
	rows  []types.Instrument
	err   error
	calls int
}

func (g *fakeInstrumentGateway) Instruments(context.Context) ([]types.Instrument, error) {
	g.calls++
	return g.rows, g.err
}

func TestInstrumentsLoadFailureFallsBack(t *testing.T) {
	gw := &fakeInstrumentGateway{err: errors.New("503")}
	c := NewInstruments(gw, 50)

	if err := c.Load(context.Background(), false); err == nil {
		t.Fatal("expected load error")
	}
	if got := c.LotSize("NIFTY"); got != 50 {
		t.Errorf("lot size = %d", got)
	}

	gw.err = nil
	gw.rows = []types.Instrument{{Underlying: "NIFTY", InstrumentType: "CE", LotSize: 75}}
	if err := c.Load(context.Background(), true); err != nil {
		t.Fatal(err)
	}
	if c.Count() != 1 || c.LotSize("NIFTY") != 75 {
		t.Errorf("after reload count = %d", c.Count())
	}
}
