package exec

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/spreadbot/types"
)

func fastRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}
}

func ok(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"status": "SUCCESS", "payload": payload})
}

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(Config{BaseURL: srv.URL, APIKey: "key", APISecret: "secret", Retry: fastRetry()})
}

func TestAuthenticateSetsBearer(t *testing.T) {
	var sawBearer atomic.Bool
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/auth/token":
			var body map[string]string
			json.NewDecoder(r.Body).Decode(&body)
			if body["api_key"] != "key" || body["api_secret"] != "secret" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			ok(w, map[string]string{"access_token": "tok"})
		case "/v1/live-data/ltp":
			if r.Header.Get("Authorization") == "Bearer tok" {
				sawBearer.Store(true)
			}
			ok(w, map[string]float64{"NSE_NIFTY": 24012.35})
		}
	})

	if err := c.Authenticate(context.Background()); err != nil {
		t.Fatal(err)
	}
	prices, err := c.LTP(context.Background(), []string{"NSE_NIFTY"}, types.SegmentCash)
	if err != nil {
		t.Fatal(err)
	}
	if !prices["NSE_NIFTY"].Equal(decimal.NewFromFloat(24012.35)) {
		t.Fatalf("ltp = %v", prices)
	}
	if !sawBearer.Load() {
		t.Fatal("bearer token not sent")
	}
}

func TestAuthenticateFailureIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	})

	err := c.Authenticate(context.Background())
	if !errors.Is(err, ErrAuth) {
		t.Fatalf("err = %v, want ErrAuth", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1", calls.Load())
	}
}

func TestAuthenticateRequiresCredentials(t *testing.T) {
	c := NewClient(Config{BaseURL: "http://127.0.0.1:1", Retry: fastRetry()})
	if err := c.Authenticate(context.Background()); !errors.Is(err, ErrAuth) {
		t.Fatalf("err = %v", err)
	}
}

func TestTransientErrorsAreRetried(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		ok(w, map[string]any{"expiries": []string{"2025-01-09", "bad", "2025-01-02"}})
	})

	exp, err := c.Expiries(context.Background(), "NIFTY", types.ExchangeNSE)
	if err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 3 || len(exp) != 2 {
		t.Fatalf("calls = %d, expiries = %v", calls.Load(), exp)
	}
}

func TestRetriesExhausted(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	if _, err := c.Contracts(context.Background(), "NIFTY", time.Now(), types.ExchangeNSE); err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 3 {
		t.Fatalf("calls = %d, want 3", calls.Load())
	}
}

func TestGatewayFailureStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"status": "FAILURE",
			"error":  map[string]string{"code": "GA001", "message": "bad symbol"},
		})
	})
	if _, err := c.Quote(context.Background(), "NSE", "FNO", "X"); err == nil {
		t.Fatal("expected error")
	}
}

func TestPlaceOrderSendsPayload(t *testing.T) {
	var got map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		ok(w, map[string]string{"order_id": "GMK123", "order_status": "OPEN"})
	})

	ack, err := c.PlaceOrder(context.Background(), types.Order{
		Symbol: "NSE-NIFTY-02Jan25-24000-CE", Exchange: "NSE", Side: types.SideBuy,
		Quantity: 25, Kind: types.OrderMarket, Segment: "FNO", Product: "INTRADAY",
	})
	if err != nil {
		t.Fatal(err)
	}
	if ack.OrderID != "GMK123" || ack.Status != "OPEN" {
		t.Fatalf("ack = %+v", ack)
	}
	if got["transaction_type"] != "BUY" || got["trading_symbol"] != "NSE-NIFTY-02Jan25-24000-CE" {
		t.Fatalf("payload = %v", got)
	}
	if _, hasPrice := got["price"]; hasPrice {
		t.Fatal("market order should not carry a price")
	}
	if ref, _ := got["order_reference_id"].(string); ref == "" {
		t.Fatal("missing order reference")
	}
}

func TestOrdersAndCandles(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/order/list":
			ok(w, map[string]any{"order_list": []map[string]any{
				{"order_id": "A", "order_status": "COMPLETE", "average_fill_price": 101.5, "filled_quantity": 25},
			}})
		case "/v1/historical/candles":
			if r.URL.Query().Get("interval_in_minutes") != "5" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			ok(w, map[string]any{"candles": [][]float64{
				{1735790700, 24000, 24050, 23990, 24020, 1000},
				{1735791000, 24020},
			}})
		}
	})

	orders, err := c.Orders(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(orders) != 1 || orders[0].Status != "COMPLETE" || !orders[0].AveragePrice.Equal(decimal.NewFromFloat(101.5)) {
		t.Fatalf("orders = %+v", orders)
	}

	candles, err := c.HistoricalCandles(context.Background(), "NSE-NIFTY", time.Now(), time.Now(), 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(candles) != 1 || !candles[0].Close.Equal(decimal.NewFromInt(24020)) || candles[0].Volume != 1000 {
		t.Fatalf("candles = %+v", candles)
	}
}

func TestRetryBackoff(t *testing.T) {
	p := DefaultRetryPolicy()
	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second, 10 * time.Second, 10 * time.Second}
	for i, w := range want {
		if got := p.Backoff(i); got != w {
			t.Errorf("attempt %d: %v, want %v", i, got, w)
		}
	}
}

func TestRetryStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := RetryPolicy{MaxAttempts: 5, InitialBackoff: time.Hour, MaxBackoff: time.Hour}

	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- p.Do(ctx, "test", func() error {
			calls++
			return errors.New("boom")
		})
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err == nil || calls != 1 {
			t.Fatalf("err = %v, calls = %d", err, calls)
		}
	case <-time.After(time.Second):
		t.Fatal("retry did not observe cancellation")
	}
}
