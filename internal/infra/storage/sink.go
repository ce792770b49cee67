package storage

import (
	"log/slog"

	"market_hub/internal/event"
)

// Sink is a pure consumer: it subscribes to finalized domain events and
// writes them to storage. It never calls back into producers.
type Sink struct {
	storage *Storage
	bus     *event.Bus
	subs    []*event.Subscription
	logger  *slog.Logger
}

// NewSink creates a sink writing to storage. Call Start to subscribe.
func NewSink(storage *Storage, bus *event.Bus) *Sink {
	return &Sink{
		storage: storage,
		bus:     bus,
		logger:  slog.Default().With("module", "storage_sink"),
	}
}

// Start subscribes to own-trade, open-order and balance events.
func (s *Sink) Start() {
	s.subs = append(s.subs,
		s.bus.Subscribe(event.KindOwnTradesUpdate, s.onOwnTrades),
		s.bus.Subscribe(event.KindOpenOrdersUpdate, s.onOpenOrders),
		s.bus.Subscribe(event.KindBalanceUpdate, s.onBalances),
	)
}

// Stop unsubscribes from the bus.
func (s *Sink) Stop() {
	for _, sub := range s.subs {
		s.bus.Unsubscribe(sub)
	}
	s.subs = nil
}

func (s *Sink) onOwnTrades(ev event.Event) {
	payload, ok := ev.Data.(event.OwnTradesPayload)
	if !ok {
		return
	}
	for _, t := range payload.Trades {
		if err := s.storage.SaveTrade(t); err != nil {
			s.logger.Error("trade persist failed", slog.Any("error", err))
		}
	}
}

func (s *Sink) onOpenOrders(ev event.Event) {
	payload, ok := ev.Data.(event.OpenOrdersPayload)
	if !ok {
		return
	}
	for _, o := range payload.Orders {
		if err := s.storage.SaveOrder(o); err != nil {
			s.logger.Error("order persist failed", slog.Any("error", err))
		}
	}
}

func (s *Sink) onBalances(ev event.Event) {
	payload, ok := ev.Data.(event.BalancePayload)
	if !ok {
		return
	}
	if err := s.storage.SaveBalances(payload.Balances, payload.Timestamp); err != nil {
		s.logger.Error("balance persist failed", slog.Any("error", err))
	}
}
