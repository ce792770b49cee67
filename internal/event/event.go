package event

import (
	"time"

	"market_hub/internal/domain"

	"github.com/shopspring/decimal"
)

// Kind identifies the type of an event. The set is closed: consumers must
// treat unknown kinds as ignorable.
type Kind string

const (
	// Market data events
	KindPriceUpdate     Kind = "PRICE_UPDATE"
	KindOrderBookUpdate Kind = "ORDER_BOOK_UPDATE"
	KindTradeUpdate     Kind = "TRADE_UPDATE"

	// Private account events
	KindBalanceUpdate    Kind = "BALANCE_UPDATE"
	KindOwnTradesUpdate  Kind = "OWN_TRADES_UPDATE"
	KindOpenOrdersUpdate Kind = "OPEN_ORDERS_UPDATE"
	KindPositionUpdate   Kind = "POSITION_UPDATE"

	// System events
	KindModuleError      Kind = "MODULE_ERROR"
	KindStateChanged     Kind = "STATE_CHANGED"
	KindStateWatch       Kind = "STATE_WATCH_NOTIFICATION"
	KindConnectionStatus Kind = "CONNECTION_STATUS"

	// Strategy events
	KindSignalGenerated Kind = "SIGNAL_GENERATED"
	KindOrderPlaced     Kind = "ORDER_PLACED"
)

// Event is the unit of communication between modules. Immutable once
// published. Data holds the payload struct matching Type.
type Event struct {
	Type      Kind
	Data      any
	Source    string
	Timestamp time.Time
}

// PriceUpdatePayload carries a full ticker snapshot for a pair.
type PriceUpdatePayload struct {
	Pair      string
	Ticker    domain.Ticker
	Timestamp time.Time
}

// OrderBookPayload carries a read-only snapshot of the full book, not the
// delta that produced it.
type OrderBookPayload struct {
	Pair      string
	Book      domain.OrderBook
	Timestamp time.Time
}

// TradeUpdatePayload carries only the trades that just arrived, not the
// full rolling window.
type TradeUpdatePayload struct {
	Pair      string
	Trades    []domain.Trade
	Timestamp time.Time
}

// BalancePayload carries the latest account balances.
type BalancePayload struct {
	Balances  []domain.Balance
	Timestamp time.Time
}

// OwnTradesPayload carries executions of our own orders.
type OwnTradesPayload struct {
	Trades    []domain.OwnTrade
	Timestamp time.Time
}

// OpenOrdersPayload carries the current open order set.
type OpenOrdersPayload struct {
	Orders    []domain.OpenOrder
	Timestamp time.Time
}

// ModuleErrorPayload carries enough structured detail for a consumer to
// render the error without re-deriving context.
type ModuleErrorPayload struct {
	Module    string
	Kind      string // Error class: transport, decode, subscription, auth, storage
	Message   string
	Timestamp time.Time
}

// StateChangedPayload notifies any listener that a state key was written.
type StateChangedPayload struct {
	Key      string
	OldValue any
	NewValue any
	Source   string
}

// StateWatchPayload is addressed to a single registered watcher; watchers
// filter on WatcherID.
type StateWatchPayload struct {
	Key       string
	Value     any
	WatcherID string
	Source    string
	Timestamp time.Time
}

// ConnectionStatusPayload reports a transition of the public or private stream.
type ConnectionStatusPayload struct {
	Stream    string // "public" or "private"
	Status    string // "connecting", "connected", "disconnected"
	Detail    string // Error text when status is "disconnected", else empty
	Timestamp time.Time
}

// SignalPayload is a strategy's trading signal.
type SignalPayload struct {
	Pair      string
	Direction domain.TradeSide
	Strength  decimal.Decimal
	Price     decimal.Decimal
	Strategy  string
	Timestamp time.Time
}

// OrderPlacedPayload carries an order request produced from a signal.
type OrderPlacedPayload struct {
	Request   domain.OrderRequest
	Timestamp time.Time
}
