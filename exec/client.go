package exec

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/spreadbot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// BROKERAGE REST CLIENT
// ═══════════════════════════════════════════════════════════════════════════════
//
// Market data, instruments and order routing against the brokerage REST API.
// Authenticates once with API key + secret and sends the access token as a
// bearer header. Every call goes through the retry policy; authentication
// failures are never retried.
//
// Response envelope: {"status": "SUCCESS", "payload": {...}}
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	DefaultBaseURL = "https://api.groww.in"
	dateLayout     = "2006-01-02"
	timeLayout     = "2006-01-02 15:04:05"
)

// ErrAuth marks an authentication failure. Nothing works without a token.
var ErrAuth = errors.New("gateway authentication failed")

// Config holds client settings
type Config struct {
	BaseURL   string
	APIKey    string
	APISecret string
	Timeout   time.Duration
	Retry     RetryPolicy
}

// Client is the brokerage REST gateway
type Client struct {
	baseURL    string
	apiKey     string
	apiSecret  string
	retry      RetryPolicy
	httpClient *http.Client

	mu    sync.RWMutex
	token string
}

// NewClient creates a new gateway client
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultRetryPolicy()
	}

	c := &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		apiSecret:  cfg.APISecret,
		retry:      cfg.Retry,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}

	log.Info().
		Str("base_url", c.baseURL).
		Int("max_attempts", c.retry.MaxAttempts).
		Msg("🚀 Gateway client initialized")

	return c
}

// ═══════════════════════════════════════════════════════════════════════════════
// AUTHENTICATION
// ═══════════════════════════════════════════════════════════════════════════════

// Authenticate exchanges the API key and secret for an access token
func (c *Client) Authenticate(ctx context.Context) error {
	if c.apiKey == "" || c.apiSecret == "" {
		return fmt.Errorf("%w: api key and secret are required", ErrAuth)
	}

	var out struct {
		AccessToken string `json:"access_token"`
	}
	body := map[string]string{"api_key": c.apiKey, "api_secret": c.apiSecret}
	if err := c.call(ctx, "authenticate", http.MethodPost, "/v1/auth/token", nil, body, &out); err != nil {
		return err
	}
	if out.AccessToken == "" {
		return fmt.Errorf("%w: empty access token", ErrAuth)
	}

	c.mu.Lock()
	c.token = out.AccessToken
	c.mu.Unlock()

	log.Info().Msg("🔑 Gateway authenticated")
	return nil
}

// AccessToken returns the current bearer token
func (c *Client) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// ═══════════════════════════════════════════════════════════════════════════════
// MARKET DATA
// ═══════════════════════════════════════════════════════════════════════════════

// LTP returns last traded prices keyed by exchange symbol
func (c *Client) LTP(ctx context.Context, symbols []string, segment string) (map[string]decimal.Decimal, error) {
	q := url.Values{}
	q.Set("segment", segment)
	q.Set("exchange_symbols", strings.Join(symbols, ","))

	out := make(map[string]decimal.Decimal)
	if err := c.call(ctx, "ltp", http.MethodGet, "/v1/live-data/ltp", q, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

type quotePayload struct {
	LastPrice decimal.Decimal `json:"last_price"`
	Volume    int64           `json:"volume"`
	OHLC      struct {
		Open  decimal.Decimal `json:"open"`
		High  decimal.Decimal `json:"high"`
		Low   decimal.Decimal `json:"low"`
		Close decimal.Decimal `json:"close"`
	} `json:"ohlc"`
	Greeks *struct {
		Delta decimal.Decimal `json:"delta"`
		Gamma decimal.Decimal `json:"gamma"`
		Theta decimal.Decimal `json:"theta"`
		Vega  decimal.Decimal `json:"vega"`
		IV    decimal.Decimal `json:"iv"`
		Rho   decimal.Decimal `json:"rho"`
	} `json:"greeks"`
}

// Quote returns the full quote for one symbol
func (c *Client) Quote(ctx context.Context, exchange, segment, symbol string) (types.Quote, error) {
	q := url.Values{}
	q.Set("exchange", exchange)
	q.Set("segment", segment)
	q.Set("trading_symbol", symbol)

	var p quotePayload
	if err := c.call(ctx, "quote", http.MethodGet, "/v1/live-data/quote", q, nil, &p); err != nil {
		return types.Quote{}, err
	}

	quote := types.Quote{
		Symbol: symbol,
		LTP:    p.LastPrice,
		Open:   p.OHLC.Open,
		High:   p.OHLC.High,
		Low:    p.OHLC.Low,
		Close:  p.OHLC.Close,
		Volume: p.Volume,
	}
	if p.Greeks != nil {
		quote.Greeks = &types.Greeks{
			Delta: p.Greeks.Delta,
			Gamma: p.Greeks.Gamma,
			Theta: p.Greeks.Theta,
			Vega:  p.Greeks.Vega,
			IV:    p.Greeks.IV,
			Rho:   p.Greeks.Rho,
		}
	}
	return quote, nil
}

// HistoricalCandles returns OHLCV bars in [start, end]. interval is in minutes.
func (c *Client) HistoricalCandles(ctx context.Context, symbol string, start, end time.Time, interval int) ([]types.Candle, error) {
	q := url.Values{}
	q.Set("trading_symbol", symbol)
	q.Set("start_time", start.Format(timeLayout))
	q.Set("end_time", end.Format(timeLayout))
	q.Set("interval_in_minutes", strconv.Itoa(interval))

	var p struct {
		Candles [][]decimal.Decimal `json:"candles"`
	}
	if err := c.call(ctx, "candles", http.MethodGet, "/v1/historical/candles", q, nil, &p); err != nil {
		return nil, err
	}
	return parseCandles(p.Candles), nil
}

// parseCandles turns [epoch, open, high, low, close, volume] rows into candles.
// Short rows are skipped.
func parseCandles(rows [][]decimal.Decimal) []types.Candle {
	candles := make([]types.Candle, 0, len(rows))
	for _, r := range rows {
		if len(r) < 5 {
			continue
		}
		cd := types.Candle{
			Time:  time.Unix(r[0].IntPart(), 0),
			Open:  r[1],
			High:  r[2],
			Low:   r[3],
			Close: r[4],
		}
		if len(r) > 5 {
			cd.Volume = r[5].IntPart()
		}
		candles = append(candles, cd)
	}
	return candles
}

type instrumentPayload struct {
	TradingSymbol    string          `json:"trading_symbol"`
	UnderlyingSymbol string          `json:"underlying_symbol"`
	Exchange         string          `json:"exchange"`
	Segment          string          `json:"segment"`
	InstrumentType   string          `json:"instrument_type"`
	StrikePrice      decimal.Decimal `json:"strike_price"`
	ExpiryDate       string          `json:"expiry_date"`
	LotSize          int             `json:"lot_size"`
}

// Instruments returns the full instrument table
func (c *Client) Instruments(ctx context.Context) ([]types.Instrument, error) {
	var p struct {
		Instruments []instrumentPayload `json:"instruments"`
	}
	if err := c.call(ctx, "instruments", http.MethodGet, "/v1/instruments", nil, nil, &p); err != nil {
		return nil, err
	}

	out := make([]types.Instrument, 0, len(p.Instruments))
	for _, ip := range p.Instruments {
		inst := types.Instrument{
			Symbol:         ip.TradingSymbol,
			Underlying:     ip.UnderlyingSymbol,
			Exchange:       ip.Exchange,
			Segment:        ip.Segment,
			InstrumentType: ip.InstrumentType,
			Strike:         ip.StrikePrice,
			LotSize:        ip.LotSize,
		}
		if ip.ExpiryDate != "" {
			if t, err := time.Parse(dateLayout, ip.ExpiryDate); err == nil {
				inst.Expiry = t
			}
		}
		out = append(out, inst)
	}
	return out, nil
}

// Expiries returns the listed expiry dates for an underlying
func (c *Client) Expiries(ctx context.Context, underlying, exchange string) ([]time.Time, error) {
	q := url.Values{}
	q.Set("exchange", exchange)
	q.Set("underlying_symbol", underlying)

	var p struct {
		Expiries []string `json:"expiries"`
	}
	if err := c.call(ctx, "expiries", http.MethodGet, "/v1/historical/expiries", q, nil, &p); err != nil {
		return nil, err
	}

	out := make([]time.Time, 0, len(p.Expiries))
	for _, s := range p.Expiries {
		t, err := time.Parse(dateLayout, s)
		if err != nil {
			log.Debug().Str("expiry", s).Msg("Skipping unparseable expiry")
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

// Contracts returns contract symbols for an underlying and expiry
func (c *Client) Contracts(ctx context.Context, underlying string, expiry time.Time, exchange string) ([]string, error) {
	q := url.Values{}
	q.Set("exchange", exchange)
	q.Set("underlying_symbol", underlying)
	q.Set("expiry_date", expiry.Format(dateLayout))

	var p struct {
		Contracts []string `json:"contracts"`
	}
	if err := c.call(ctx, "contracts", http.MethodGet, "/v1/historical/contracts", q, nil, &p); err != nil {
		return nil, err
	}
	return p.Contracts, nil
}

// ═══════════════════════════════════════════════════════════════════════════════
// ORDERS
// ═══════════════════════════════════════════════════════════════════════════════

// PlaceOrder submits an order. A reference id is generated once so that
// retried submissions are recognizable as the same order.
func (c *Client) PlaceOrder(ctx context.Context, order types.Order) (types.OrderAck, error) {
	body := order.Payload()
	body["order_reference_id"] = uuid.NewString()

	var p struct {
		OrderID     string `json:"order_id"`
		OrderStatus string `json:"order_status"`
	}
	if err := c.call(ctx, "place_order", http.MethodPost, "/v1/order/create", nil, body, &p); err != nil {
		return types.OrderAck{}, err
	}
	if p.OrderID == "" {
		return types.OrderAck{}, fmt.Errorf("place order: empty order id")
	}

	log.Info().
		Str("order_id", p.OrderID).
		Str("status", p.OrderStatus).
		Str("symbol", order.Symbol).
		Msg("✅ Order accepted")

	return types.OrderAck{OrderID: p.OrderID, Status: p.OrderStatus}, nil
}

// Orders returns the day's order book
func (c *Client) Orders(ctx context.Context) ([]types.BrokerOrder, error) {
	var p struct {
		OrderList []struct {
			OrderID          string          `json:"order_id"`
			TradingSymbol    string          `json:"trading_symbol"`
			OrderStatus      string          `json:"order_status"`
			AverageFillPrice decimal.Decimal `json:"average_fill_price"`
			FilledQuantity   int             `json:"filled_quantity"`
			Remark           string          `json:"remark"`
		} `json:"order_list"`
	}
	if err := c.call(ctx, "orders", http.MethodGet, "/v1/order/list", nil, nil, &p); err != nil {
		return nil, err
	}

	out := make([]types.BrokerOrder, 0, len(p.OrderList))
	for _, o := range p.OrderList {
		out = append(out, types.BrokerOrder{
			OrderID:         o.OrderID,
			Symbol:          o.TradingSymbol,
			Status:          o.OrderStatus,
			AveragePrice:    o.AverageFillPrice,
			FilledQuantity:  o.FilledQuantity,
			RejectionReason: o.Remark,
		})
	}
	return out, nil
}

// CancelOrder cancels an open order
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	body := map[string]string{"order_id": orderID}
	return c.call(ctx, "cancel_order", http.MethodPost, "/v1/order/cancel", nil, body, nil)
}

// Positions returns the account's net positions
func (c *Client) Positions(ctx context.Context) ([]types.BrokerPosition, error) {
	var p struct {
		Positions []struct {
			TradingSymbol string          `json:"trading_symbol"`
			Quantity      int             `json:"quantity"`
			NetPrice      decimal.Decimal `json:"net_price"`
			RealisedPnL   decimal.Decimal `json:"realised_pnl"`
		} `json:"positions"`
	}
	if err := c.call(ctx, "positions", http.MethodGet, "/v1/positions/user", nil, nil, &p); err != nil {
		return nil, err
	}

	out := make([]types.BrokerPosition, 0, len(p.Positions))
	for _, bp := range p.Positions {
		out = append(out, types.BrokerPosition{
			Symbol:       bp.TradingSymbol,
			Quantity:     bp.Quantity,
			AveragePrice: bp.NetPrice,
			PnL:          bp.RealisedPnL,
		})
	}
	return out, nil
}

// ═══════════════════════════════════════════════════════════════════════════════
// HTTP HELPERS
// ═══════════════════════════════════════════════════════════════════════════════

type envelope struct {
	Status  string          `json:"status"`
	Payload json.RawMessage `json:"payload"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// call runs one request under the retry policy and decodes the payload into out
func (c *Client) call(ctx context.Context, op, method, path string, query url.Values, body, out any) error {
	return c.retry.Do(ctx, op, func() error {
		raw, err := c.do(ctx, method, path, query, body)
		if err != nil {
			return err
		}
		if out == nil || len(raw) == 0 || string(raw) == "null" {
			return nil
		}
		if err := json.Unmarshal(raw, out); err != nil {
			return Permanent(fmt.Errorf("%s: parse payload: %w", op, err))
		}
		return nil
	})
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, Permanent(err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, Permanent(err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.AccessToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, Permanent(fmt.Errorf("%w: HTTP %d: %s", ErrAuth, resp.StatusCode, string(data)))
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(data))
	case resp.StatusCode >= 400:
		return nil, Permanent(fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(data)))
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, Permanent(fmt.Errorf("parse envelope: %w", err))
	}
	if !strings.EqualFold(env.Status, "SUCCESS") {
		msg := env.Status
		if env.Error != nil {
			msg = env.Error.Code + ": " + env.Error.Message
		}
		return nil, Permanent(fmt.Errorf("gateway error: %s", msg))
	}
	return env.Payload, nil
}
