package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Ticker is the latest snapshot for a pair. It is replaced wholesale on
// every update, never merged field by field.
type Ticker struct {
	Price      decimal.Decimal `json:"price"`  // Last trade close
	Volume     decimal.Decimal `json:"volume"` // 24h volume
	VWAP       decimal.Decimal `json:"vwap"`
	TradeCount int64           `json:"trades"`
	Low        decimal.Decimal `json:"low"`
	High       decimal.Decimal `json:"high"`
	Open       decimal.Decimal `json:"open"`
}

// TradeSide marks the taker side of a trade.
type TradeSide string

const (
	SideBuy  TradeSide = "b"
	SideSell TradeSide = "s"
)

// Trade is a single executed public trade.
type Trade struct {
	Price     decimal.Decimal `json:"price"`
	Volume    decimal.Decimal `json:"volume"`
	Time      time.Time       `json:"time"`
	Side      TradeSide       `json:"side"`
	OrderType string          `json:"type"` // "m" market / "l" limit
}

// OrderBook holds price levels keyed by the exchange's original price
// string. Keeping the string key avoids float-key ambiguity when the
// exchange sends "5000.0" and "5000.00" for the same level.
type OrderBook struct {
	Bids map[string]decimal.Decimal `json:"bids"`
	Asks map[string]decimal.Decimal `json:"asks"`
}

// NewOrderBook returns an empty book with both sides initialized.
func NewOrderBook() OrderBook {
	return OrderBook{
		Bids: make(map[string]decimal.Decimal),
		Asks: make(map[string]decimal.Decimal),
	}
}

// Clone returns a deep copy safe to hand outside the cache lock.
func (b OrderBook) Clone() OrderBook {
	out := OrderBook{
		Bids: make(map[string]decimal.Decimal, len(b.Bids)),
		Asks: make(map[string]decimal.Decimal, len(b.Asks)),
	}
	for p, v := range b.Bids {
		out.Bids[p] = v
	}
	for p, v := range b.Asks {
		out.Asks[p] = v
	}
	return out
}

// BookSide selects one side of an order book.
type BookSide string

const (
	BookBids BookSide = "bids"
	BookAsks BookSide = "asks"
)

// PriceLevel is a single (price, volume) entry of a book delta.
// Volume zero means the level is removed.
type PriceLevel struct {
	Price  string
	Volume decimal.Decimal
}
