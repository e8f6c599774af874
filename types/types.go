package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SHARED TYPES - Avoid import cycles
// ═══════════════════════════════════════════════════════════════════════════════

// Side is the direction of an order
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderKind is the execution style of an order
type OrderKind string

const (
	OrderMarket OrderKind = "MARKET"
	OrderLimit  OrderKind = "LIMIT"
)

const (
	ExchangeNSE     = "NSE"
	SegmentFNO      = "FNO"
	SegmentCash     = "CASH"
	ProductIntraday = "INTRADAY"
)

// Order is an instruction to trade. It has no identity until placed.
type Order struct {
	Symbol   string
	Exchange string
	Side     Side
	Quantity int
	Kind     OrderKind
	Price    decimal.NullDecimal // limit price, only for LIMIT
	Segment  string
	Product  string
}

// Payload renders the order as a gateway request body
func (o Order) Payload() map[string]any {
	p := map[string]any{
		"trading_symbol":   o.Symbol,
		"exchange":         o.Exchange,
		"transaction_type": string(o.Side),
		"quantity":         o.Quantity,
		"order_type":       string(o.Kind),
		"segment":          o.Segment,
		"product":          o.Product,
		"validity":         "DAY",
	}
	if o.Kind == OrderLimit && o.Price.Valid {
		p["price"] = o.Price.Decimal.String()
	}
	return p
}

// OptionChain lists the contract symbols available for one expiry
type OptionChain struct {
	Calls []string
	Puts  []string
}

// Candle is one OHLCV bar
type Candle struct {
	Time   time.Time
	Open   decimal.Decimal
	High   decimal.Decimal
	Low    decimal.Decimal
	Close  decimal.Decimal
	Volume int64
}

// MarketData is a decision-time snapshot. Built fresh each cycle and never mutated.
type MarketData struct {
	Underlying    string
	SpotPrice     decimal.Decimal
	Timestamp     time.Time
	Chain         OptionChain
	Expiries      []time.Time
	CurrentExpiry time.Time
	VIX           decimal.NullDecimal
	OHLCV         *Candle
}

// Greeks carried on an option quote
type Greeks struct {
	Delta decimal.Decimal
	Gamma decimal.Decimal
	Theta decimal.Decimal
	Vega  decimal.Decimal
	IV    decimal.Decimal
	Rho   decimal.Decimal
}

// Quote is a full market quote for one symbol
type Quote struct {
	Symbol string
	LTP    decimal.Decimal
	Open   decimal.Decimal
	High   decimal.Decimal
	Low    decimal.Decimal
	Close  decimal.Decimal
	Volume int64
	Greeks *Greeks
}

// Instrument is one row of the brokerage instrument table
type Instrument struct {
	Symbol         string
	Underlying     string
	Exchange       string
	Segment        string
	InstrumentType string // CE, PE, FUT, IDX, EQ
	Strike         decimal.Decimal
	Expiry         time.Time
	LotSize        int
}

// OrderAck is the gateway's answer to an order placement
type OrderAck struct {
	OrderID string
	Status  string
}

// BrokerOrder is an order as reported by the gateway's order book
type BrokerOrder struct {
	OrderID         string
	Symbol          string
	Status          string
	AveragePrice    decimal.Decimal
	FilledQuantity  int
	RejectionReason string
}

// BrokerPosition is a net position as reported by the gateway
type BrokerPosition struct {
	Symbol       string
	Quantity     int
	AveragePrice decimal.Decimal
	PnL          decimal.Decimal
}

// Tick is a last-traded-price update from the streaming feed
type Tick struct {
	Symbol    string
	LTP       decimal.Decimal
	Timestamp time.Time
}
