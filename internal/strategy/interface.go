package strategy

import (
	"market_hub/internal/domain"
	"market_hub/internal/event"

	"github.com/shopspring/decimal"
)

// Signal is a strategy's trading recommendation. Strength is the relative
// magnitude of the condition that triggered it.
type Signal struct {
	Pair      string
	Direction domain.TradeSide
	Strength  decimal.Decimal
	Price     decimal.Decimal
}

// Strategy is the contract a trading strategy implements. It is called
// synchronously on the event bus delivery goroutine: ProcessData must not
// block.
type Strategy interface {
	// Name identifies the strategy in events and persisted records.
	Name() string

	// Initialize prepares per-pair state before any data arrives.
	Initialize(pairs []string) error

	// ProcessData consumes one price update and returns a signal, or nil
	// when the update does not trigger one.
	ProcessData(update event.PriceUpdatePayload) *Signal

	// GenerateOrder turns a signal into an order request, or nil when the
	// signal does not clear the strategy's thresholds.
	GenerateOrder(sig Signal) *domain.OrderRequest
}
