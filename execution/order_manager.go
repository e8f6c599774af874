package execution

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/spreadbot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// ORDER MANAGER - Order placement and status tracking
// ═══════════════════════════════════════════════════════════════════════════════
//
// Order Flow:
//   Strategy → []types.Order → OrderManager → Gateway (LIVE) / simulated fill (PAPER)
//                                   ↓
//                              OrderRecord
//                          ↓        ↓        ↓
//                     SIMULATED  PLACED  REJECTED
//                                   ↓ refresh
//                      FILLED / CANCELLED / REJECTED
//
// Legs are placed one by one with no rollback. A failed leg shows up as a
// REJECTED record, never as an error, and the caller inspects statuses.
//
// The manager is owned by a single orchestration loop and is not locked.
//
// ═══════════════════════════════════════════════════════════════════════════════

// OrderStatus is the lifecycle state of a placed order
type OrderStatus string

const (
	StatusPending         OrderStatus = "PENDING"
	StatusPlaced          OrderStatus = "PLACED"
	StatusFilled          OrderStatus = "FILLED"
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	StatusCancelled       OrderStatus = "CANCELLED"
	StatusRejected        OrderStatus = "REJECTED"
	StatusSimulated       OrderStatus = "SIMULATED"
)

// Terminal reports whether no further transition is possible
func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusFilled, StatusCancelled, StatusRejected, StatusSimulated:
		return true
	}
	return false
}

// OrderRecord wraps an Order once it has been placed
type OrderRecord struct {
	Order        types.Order
	OrderID      string
	Status       OrderStatus
	FillPrice    decimal.NullDecimal
	FillQuantity int
	PlacedAt     time.Time
	FilledAt     *time.Time
	RejectReason string
}

// Filled reports a real or simulated full fill
func (r *OrderRecord) Filled() bool {
	return r.Status == StatusFilled || r.Status == StatusSimulated
}

// Valid reports whether the leg made it past placement
func (r *OrderRecord) Valid() bool {
	return r.Status != StatusRejected && r.Status != StatusCancelled
}

// OrderGateway is the slice of the brokerage API the order manager needs
type OrderGateway interface {
	PlaceOrder(ctx context.Context, order types.Order) (types.OrderAck, error)
	Orders(ctx context.Context) ([]types.BrokerOrder, error)
	CancelOrder(ctx context.Context, orderID string) error
}

// OrderManager places orders and owns the order-record table
type OrderManager struct {
	gateway   OrderGateway
	paper     bool
	brokerage decimal.Decimal

	orders  map[string]*OrderRecord
	placed  []string // ids in placement order
	counter int

	now func() time.Time
}

// NewOrderManager creates an order manager. gateway may be nil in paper mode.
func NewOrderManager(gateway OrderGateway, paper bool, brokeragePerOrder decimal.Decimal) *OrderManager {
	mode := "PAPER"
	if !paper {
		mode = "LIVE"
	}
	log.Debug().
		Str("mode", mode).
		Str("brokerage_per_order", brokeragePerOrder.StringFixed(2)).
		Msg("📋 Order manager initialized")

	return &OrderManager{
		gateway:   gateway,
		paper:     paper,
		brokerage: brokeragePerOrder,
		orders:    make(map[string]*OrderRecord),
		now:       time.Now,
	}
}

// IsPaper reports whether fills are simulated
func (m *OrderManager) IsPaper() bool {
	return m.paper
}

// PlaceOrder places a single order and returns its record
func (m *OrderManager) PlaceOrder(ctx context.Context, order types.Order) *OrderRecord {
	m.counter++
	record := &OrderRecord{
		Order:    order,
		Status:   StatusPending,
		PlacedAt: m.now(),
	}

	if m.paper {
		filled := m.now()
		record.OrderID = fmt.Sprintf("PAPER_%d", m.counter)
		record.Status = StatusSimulated
		record.FillQuantity = order.Quantity
		record.FilledAt = &filled
		m.track(record)

		log.Info().
			Str("order_id", record.OrderID).
			Str("side", string(order.Side)).
			Int("qty", order.Quantity).
			Str("symbol", order.Symbol).
			Msg("📝 PAPER order simulated")
		return record
	}

	if m.gateway == nil {
		return m.reject(record, "gateway not configured")
	}

	ack, err := m.gateway.PlaceOrder(ctx, order)
	if err != nil {
		return m.reject(record, err.Error())
	}

	record.OrderID = ack.OrderID
	record.Status = StatusPlaced
	m.track(record)

	log.Info().
		Str("order_id", record.OrderID).
		Str("side", string(order.Side)).
		Int("qty", order.Quantity).
		Str("symbol", order.Symbol).
		Str("gateway_status", ack.Status).
		Msg("📤 Order placed")

	return record
}

// PlaceOrders places each order independently, in input order
func (m *OrderManager) PlaceOrders(ctx context.Context, orders []types.Order) []*OrderRecord {
	records := make([]*OrderRecord, 0, len(orders))
	for _, o := range orders {
		records = append(records, m.PlaceOrder(ctx, o))
	}
	return records
}

// Get returns the record for an order id
func (m *OrderManager) Get(orderID string) (*OrderRecord, bool) {
	r, ok := m.orders[orderID]
	return r, ok
}

// AllOrders returns every tracked record in placement order
func (m *OrderManager) AllOrders() []*OrderRecord {
	out := make([]*OrderRecord, 0, len(m.placed))
	for _, id := range m.placed {
		out = append(out, m.orders[id])
	}
	return out
}

// FilledOrders returns records that are FILLED or SIMULATED
func (m *OrderManager) FilledOrders() []*OrderRecord {
	var out []*OrderRecord
	for _, r := range m.AllOrders() {
		if r.Filled() {
			out = append(out, r)
		}
	}
	return out
}

// RefreshOrderStatus reconciles a record with the gateway order book.
// In paper mode it returns the stored record untouched.
func (m *OrderManager) RefreshOrderStatus(ctx context.Context, orderID string) (*OrderRecord, bool) {
	record, ok := m.orders[orderID]
	if !ok {
		return nil, false
	}
	if m.paper || m.gateway == nil {
		return record, true
	}

	book, err := m.gateway.Orders(ctx)
	if err != nil {
		log.Error().Err(err).Str("order_id", orderID).Msg("Failed to refresh order status")
		return record, true
	}

	for _, bo := range book {
		if bo.OrderID != orderID {
			continue
		}
		applyBrokerStatus(record, bo, m.now())
		break
	}

	return record, true
}

// applyBrokerStatus maps gateway status text onto the record
func applyBrokerStatus(record *OrderRecord, bo types.BrokerOrder, now time.Time) {
	status := strings.ToUpper(bo.Status)
	switch {
	case strings.Contains(status, "PARTIAL"):
		record.Status = StatusPartiallyFilled
		record.FillPrice = decimal.NullDecimal{Decimal: bo.AveragePrice, Valid: true}
		record.FillQuantity = bo.FilledQuantity
	case strings.Contains(status, "COMPLETE") || strings.Contains(status, "FILLED"):
		record.Status = StatusFilled
		record.FillPrice = decimal.NullDecimal{Decimal: bo.AveragePrice, Valid: true}
		record.FillQuantity = bo.FilledQuantity
		record.FilledAt = &now
	case strings.Contains(status, "CANCEL"):
		record.Status = StatusCancelled
	case strings.Contains(status, "REJECT"):
		record.Status = StatusRejected
		record.RejectReason = bo.RejectionReason
	}
}

// CancelOrder cancels a tracked order. Returns false if it could not be cancelled.
func (m *OrderManager) CancelOrder(ctx context.Context, orderID string) bool {
	record, ok := m.orders[orderID]

	if m.paper {
		if !ok {
			return false
		}
		record.Status = StatusCancelled
		return true
	}

	if m.gateway == nil {
		return false
	}
	if err := m.gateway.CancelOrder(ctx, orderID); err != nil {
		log.Error().Err(err).Str("order_id", orderID).Msg("Failed to cancel order")
		return false
	}
	if ok {
		record.Status = StatusCancelled
	}
	return true
}

// CalculateBrokerage is the flat per-order charge for a set of orders
func (m *OrderManager) CalculateBrokerage(orders []types.Order) decimal.Decimal {
	return m.brokerage.Mul(decimal.NewFromInt(int64(len(orders))))
}

// ClearOrders drops every record
func (m *OrderManager) ClearOrders() {
	m.orders = make(map[string]*OrderRecord)
	m.placed = nil
}

func (m *OrderManager) track(record *OrderRecord) {
	if _, exists := m.orders[record.OrderID]; !exists {
		m.placed = append(m.placed, record.OrderID)
	}
	m.orders[record.OrderID] = record
}

func (m *OrderManager) reject(record *OrderRecord, reason string) *OrderRecord {
	record.Status = StatusRejected
	record.RejectReason = reason

	log.Error().
		Str("symbol", record.Order.Symbol).
		Str("side", string(record.Order.Side)).
		Str("reason", reason).
		Msg("❌ Order rejected")

	return record
}
