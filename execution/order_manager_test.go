package execution

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/spreadbot/types"
)

type fakeGateway struct {
	placeErr  map[string]error // by symbol
	book      []types.BrokerOrder
	cancelled []string
	next      int
}

func (g *fakeGateway) PlaceOrder(_ context.Context, o types.Order) (types.OrderAck, error) {
	if err := g.placeErr[o.Symbol]; err != nil {
		return types.OrderAck{}, err
	}
	g.next++
	return types.OrderAck{OrderID: "GW" + string(rune('0'+g.next)), Status: "OPEN"}, nil
}

func (g *fakeGateway) Orders(context.Context) ([]types.BrokerOrder, error) {
	return g.book, nil
}

func (g *fakeGateway) CancelOrder(_ context.Context, id string) error {
	g.cancelled = append(g.cancelled, id)
	return nil
}

func legOrders() []types.Order {
	return []types.Order{
		{Symbol: "LONG-CE", Exchange: types.ExchangeNSE, Side: types.SideBuy, Quantity: 25, Kind: types.OrderMarket, Segment: types.SegmentFNO, Product: types.ProductIntraday},
		{Symbol: "SHORT-CE", Exchange: types.ExchangeNSE, Side: types.SideSell, Quantity: 25, Kind: types.OrderMarket, Segment: types.SegmentFNO, Product: types.ProductIntraday},
	}
}

func TestPaperOrdersAreSimulated(t *testing.T) {
	m := NewOrderManager(nil, true, decimal.NewFromInt(20))
	records := m.PlaceOrders(context.Background(), legOrders())

	if len(records) != 2 {
		t.Fatalf("records = %d", len(records))
	}
	for i, r := range records {
		if r.Status != StatusSimulated || !r.Filled() {
			t.Errorf("leg %d status = %s", i, r.Status)
		}
		if r.FillQuantity != 25 || r.FilledAt == nil {
			t.Errorf("leg %d fill = %d %v", i, r.FillQuantity, r.FilledAt)
		}
	}
	if records[0].OrderID != "PAPER_1" || records[1].OrderID != "PAPER_2" {
		t.Fatalf("ids = %s, %s", records[0].OrderID, records[1].OrderID)
	}

	got, ok := m.RefreshOrderStatus(context.Background(), "PAPER_1")
	if !ok || got != records[0] || got.Status != StatusSimulated {
		t.Fatal("paper refresh should return the stored record")
	}
	if len(m.FilledOrders()) != 2 {
		t.Fatalf("filled = %d", len(m.FilledOrders()))
	}
	if !m.CancelOrder(context.Background(), "PAPER_2") || records[1].Status != StatusCancelled {
		t.Fatal("paper cancel failed")
	}
	if m.CancelOrder(context.Background(), "PAPER_9") {
		t.Fatal("cancel of unknown paper order succeeded")
	}
}

func TestLivePartialLegFailure(t *testing.T) {
	gw := &fakeGateway{placeErr: map[string]error{"SHORT-CE": errors.New("margin shortfall")}}
	m := NewOrderManager(gw, false, decimal.NewFromInt(20))

	records := m.PlaceOrders(context.Background(), legOrders())
	if records[0].Status != StatusPlaced || records[0].OrderID != "GW1" {
		t.Fatalf("long leg = %+v", records[0])
	}
	if records[1].Status != StatusRejected || records[1].RejectReason != "margin shortfall" {
		t.Fatalf("short leg = %+v", records[1])
	}
	if len(m.AllOrders()) != 1 {
		t.Fatalf("tracked = %d, only the placed leg is tracked", len(m.AllOrders()))
	}
}

func TestLiveWithoutGatewayRejects(t *testing.T) {
	m := NewOrderManager(nil, false, decimal.NewFromInt(20))
	r := m.PlaceOrder(context.Background(), legOrders()[0])
	if r.Status != StatusRejected || r.RejectReason == "" {
		t.Fatalf("record = %+v", r)
	}
}

func TestRefreshMapsStatusText(t *testing.T) {
	cases := []struct {
		status string
		want   OrderStatus
	}{
		{"COMPLETE", StatusFilled},
		{"executed_filled", StatusFilled},
		{"PARTIALLY_FILLED", StatusPartiallyFilled},
		{"Cancelled", StatusCancelled},
		{"REJECTED", StatusRejected},
		{"OPEN", StatusPlaced},
	}
	for _, tc := range cases {
		t.Run(tc.status, func(t *testing.T) {
			gw := &fakeGateway{}
			m := NewOrderManager(gw, false, decimal.NewFromInt(20))
			r := m.PlaceOrder(context.Background(), legOrders()[0])

			gw.book = []types.BrokerOrder{
				{OrderID: "OTHER", Status: "REJECTED"},
				{OrderID: r.OrderID, Status: tc.status, AveragePrice: decimal.NewFromFloat(101.5), FilledQuantity: 25, RejectionReason: "rms"},
			}
			got, ok := m.RefreshOrderStatus(context.Background(), r.OrderID)
			if !ok || got.Status != tc.want {
				t.Fatalf("status = %s, want %s", got.Status, tc.want)
			}
			if tc.want == StatusFilled {
				if !got.FillPrice.Valid || !got.FillPrice.Decimal.Equal(decimal.NewFromFloat(101.5)) || got.FillQuantity != 25 {
					t.Fatalf("fill = %+v", got)
				}
			}
			if tc.want == StatusRejected && got.RejectReason != "rms" {
				t.Fatalf("reason = %q", got.RejectReason)
			}
		})
	}
}

func TestRefreshUnknownOrder(t *testing.T) {
	m := NewOrderManager(&fakeGateway{}, false, decimal.NewFromInt(20))
	if _, ok := m.RefreshOrderStatus(context.Background(), "nope"); ok {
		t.Fatal("expected not found")
	}
}

func TestLiveCancel(t *testing.T) {
	gw := &fakeGateway{}
	m := NewOrderManager(gw, false, decimal.NewFromInt(20))
	r := m.PlaceOrder(context.Background(), legOrders()[0])

	if !m.CancelOrder(context.Background(), r.OrderID) {
		t.Fatal("cancel failed")
	}
	if r.Status != StatusCancelled || len(gw.cancelled) != 1 {
		t.Fatalf("status = %s, cancelled = %v", r.Status, gw.cancelled)
	}
}

func TestBrokerageAndClear(t *testing.T) {
	m := NewOrderManager(nil, true, decimal.NewFromInt(20))
	if got := m.CalculateBrokerage(legOrders()); !got.Equal(decimal.NewFromInt(40)) {
		t.Fatalf("brokerage = %s", got)
	}
	m.PlaceOrders(context.Background(), legOrders())
	m.ClearOrders()
	if len(m.AllOrders()) != 0 {
		t.Fatal("clear left records")
	}
}

func TestOrderStatusTerminal(t *testing.T) {
	for _, s := range []OrderStatus{StatusFilled, StatusCancelled, StatusRejected, StatusSimulated} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []OrderStatus{StatusPending, StatusPlaced, StatusPartiallyFilled} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}
