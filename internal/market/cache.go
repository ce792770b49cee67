package market

import (
	"sort"
	"sync"
	"time"

	"market_hub/internal/domain"
	"market_hub/internal/event"
)

const sourceName = "MarketDataCache"

// maxTrades bounds the rolling trade window per pair.
const maxTrades = 1000

// Status describes cache contents, for observability only.
type Status struct {
	Pairs       []string
	BookLevels  int
	TradeCount  int
	TickerCount int
}

// Cache owns the per-pair order book, rolling trade window and ticker
// snapshot. All pairs share one lock: updates never take more than one
// lock, and readers always see a fully applied update or none of it.
// Readers receive copies, never references into the live maps.
type Cache struct {
	mu      sync.RWMutex
	books   map[string]domain.OrderBook
	trades  map[string][]domain.Trade
	tickers map[string]domain.Ticker

	bus *event.Bus
}

// NewCache creates an empty cache publishing update events on bus.
func NewCache(bus *event.Bus) *Cache {
	return &Cache{
		books:   make(map[string]domain.OrderBook),
		trades:  make(map[string][]domain.Trade),
		tickers: make(map[string]domain.Ticker),
		bus:     bus,
	}
}

// InitPair creates empty book, trade window and ticker entries for pair.
// Idempotent: an already-initialized pair keeps its data.
func (c *Cache) InitPair(pair string) {
	c.mu.Lock()
	if _, ok := c.books[pair]; !ok {
		c.books[pair] = domain.NewOrderBook()
		c.trades[pair] = nil
		delete(c.tickers, pair)
	}
	c.mu.Unlock()
}

// ResetPair reinitializes a pair's order book to empty on both sides.
// Called at (re)subscribe time, when the exchange restarts its book feed.
func (c *Cache) ResetPair(pair string) {
	c.mu.Lock()
	c.books[pair] = domain.NewOrderBook()
	c.mu.Unlock()
}

// ApplyBookUpdate merges price levels into one side of a pair's book.
// Volume exactly zero removes the level, anything else upserts it; the
// book never holds a zero-volume entry. A single OrderBookUpdate event
// carrying a snapshot of the full book is published per call.
func (c *Cache) ApplyBookUpdate(pair string, side domain.BookSide, levels []domain.PriceLevel) {
	now := time.Now().UTC()

	c.mu.Lock()
	book, ok := c.books[pair]
	if !ok {
		book = domain.NewOrderBook()
		c.books[pair] = book
	}

	levelMap := book.Bids
	if side == domain.BookAsks {
		levelMap = book.Asks
	}
	for _, lvl := range levels {
		if lvl.Volume.IsZero() {
			delete(levelMap, lvl.Price)
		} else {
			levelMap[lvl.Price] = lvl.Volume
		}
	}

	snapshot := book.Clone()
	c.bus.Publish(event.Event{
		Type: event.KindOrderBookUpdate,
		Data: event.OrderBookPayload{
			Pair:      pair,
			Book:      snapshot,
			Timestamp: now,
		},
		Source: sourceName,
	})
	c.mu.Unlock()
}

// ApplyTrades appends trades in arrival order and truncates the window to
// the most recent maxTrades, discarding oldest first. The published
// TradeUpdate carries only the newly arrived trades.
func (c *Cache) ApplyTrades(pair string, trades []domain.Trade) {
	if len(trades) == 0 {
		return
	}
	now := time.Now().UTC()

	c.mu.Lock()
	window := append(c.trades[pair], trades...)
	if len(window) > maxTrades {
		window = window[len(window)-maxTrades:]
	}
	c.trades[pair] = window

	published := make([]domain.Trade, len(trades))
	copy(published, trades)
	c.bus.Publish(event.Event{
		Type: event.KindTradeUpdate,
		Data: event.TradeUpdatePayload{
			Pair:      pair,
			Trades:    published,
			Timestamp: now,
		},
		Source: sourceName,
	})
	c.mu.Unlock()
}

// ApplyTicker replaces the pair's ticker snapshot and publishes it.
func (c *Cache) ApplyTicker(pair string, ticker domain.Ticker) {
	now := time.Now().UTC()

	c.mu.Lock()
	c.tickers[pair] = ticker
	c.bus.Publish(event.Event{
		Type: event.KindPriceUpdate,
		Data: event.PriceUpdatePayload{
			Pair:      pair,
			Ticker:    ticker,
			Timestamp: now,
		},
		Source: sourceName,
	})
	c.mu.Unlock()
}

// OrderBook returns a copy of the pair's book. The second result is false
// for a pair that was never initialized.
func (c *Cache) OrderBook(pair string) (domain.OrderBook, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	book, ok := c.books[pair]
	if !ok {
		return domain.OrderBook{}, false
	}
	return book.Clone(), true
}

// Trades returns a copy of at most limit most-recent trades in arrival
// order. limit <= 0 returns the whole window. An unknown pair returns nil.
func (c *Cache) Trades(pair string, limit int) []domain.Trade {
	c.mu.RLock()
	defer c.mu.RUnlock()

	window := c.trades[pair]
	if len(window) == 0 {
		return nil
	}
	if limit > 0 && limit < len(window) {
		window = window[len(window)-limit:]
	}
	out := make([]domain.Trade, len(window))
	copy(out, window)
	return out
}

// Ticker returns the latest snapshot for pair. The second result is false
// when no ticker has arrived yet.
func (c *Cache) Ticker(pair string) (domain.Ticker, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	t, ok := c.tickers[pair]
	return t, ok
}

// Status reports aggregate cache sizes.
func (c *Cache) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	st := Status{TickerCount: len(c.tickers)}
	for pair, book := range c.books {
		st.Pairs = append(st.Pairs, pair)
		st.BookLevels += len(book.Bids) + len(book.Asks)
	}
	for _, window := range c.trades {
		st.TradeCount += len(window)
	}
	sort.Strings(st.Pairs)
	return st
}
