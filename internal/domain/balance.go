package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Balance is a single asset balance from the private balances channel.
type Balance struct {
	Asset     string          `json:"asset"`
	Total     decimal.Decimal `json:"total"`
	Available decimal.Decimal `json:"available"`
	InOrders  decimal.Decimal `json:"in_orders"`
}

// OwnTrade is an execution of one of our own orders, reported on the
// private owns channel.
type OwnTrade struct {
	TradeID   string          `json:"trade_id"`
	OrderID   string          `json:"order_id"`
	Pair      string          `json:"pair"`
	Side      TradeSide       `json:"side"`
	OrderType string          `json:"type"`
	Price     decimal.Decimal `json:"price"`
	Volume    decimal.Decimal `json:"volume"`
	Cost      decimal.Decimal `json:"cost"`
	Fee       decimal.Decimal `json:"fee"`
	Time      time.Time       `json:"time"`
}

// OrderStatus enumerates the lifecycle of an open order.
type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderOpen      OrderStatus = "open"
	OrderClosed    OrderStatus = "closed"
	OrderCancelled OrderStatus = "cancelled"
)

// OpenOrder is an order reported on the private openOrders channel.
type OpenOrder struct {
	OrderID   string          `json:"order_id"`
	Pair      string          `json:"pair"`
	Side      TradeSide       `json:"side"`
	OrderType string          `json:"type"`
	Price     decimal.Decimal `json:"price"`
	Volume    decimal.Decimal `json:"volume"`
	Status    OrderStatus     `json:"status"`
	Time      time.Time       `json:"time"`
}

// OrderRequest is what a strategy asks to place. Execution itself is
// outside this system; the request is only published and persisted.
type OrderRequest struct {
	ClientID string          `json:"client_id"`
	Pair     string          `json:"pair"`
	Side     TradeSide       `json:"side"`
	Type     string          `json:"order_type"` // "market" or "limit"
	Price    decimal.Decimal `json:"price"`
	Volume   decimal.Decimal `json:"volume"`
	Strategy string          `json:"strategy"`
}
