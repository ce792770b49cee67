package strategy

import (
	"log/slog"
	"time"

	"market_hub/internal/event"
)

// Runner drives a strategy from the event bus: price updates in, signal
// and order events out. The strategy runs on the bus delivery goroutine,
// so its state needs no locking.
type Runner struct {
	strat  Strategy
	bus    *event.Bus
	sub    *event.Subscription
	logger *slog.Logger
}

// NewRunner attaches a strategy to the bus. Call Start to begin.
func NewRunner(strat Strategy, bus *event.Bus) *Runner {
	return &Runner{
		strat:  strat,
		bus:    bus,
		logger: slog.Default().With("module", "strategy_runner", "strategy", strat.Name()),
	}
}

// Start initializes the strategy for pairs and subscribes it to price
// updates.
func (r *Runner) Start(pairs []string) error {
	if err := r.strat.Initialize(pairs); err != nil {
		return err
	}
	r.sub = r.bus.Subscribe(event.KindPriceUpdate, r.onPriceUpdate)
	r.logger.Info("strategy started", slog.Any("pairs", pairs))
	return nil
}

// Stop detaches the strategy from the bus.
func (r *Runner) Stop() {
	r.bus.Unsubscribe(r.sub)
	r.sub = nil
}

func (r *Runner) onPriceUpdate(ev event.Event) {
	update, ok := ev.Data.(event.PriceUpdatePayload)
	if !ok {
		return
	}

	sig := r.strat.ProcessData(update)
	if sig == nil {
		return
	}

	// Reentrant publish: we are on the delivery goroutine, and Publish
	// only enqueues.
	r.bus.Publish(event.Event{
		Type: event.KindSignalGenerated,
		Data: event.SignalPayload{
			Pair:      sig.Pair,
			Direction: sig.Direction,
			Strength:  sig.Strength,
			Price:     sig.Price,
			Strategy:  r.strat.Name(),
			Timestamp: time.Now().UTC(),
		},
		Source: r.strat.Name(),
	})

	order := r.strat.GenerateOrder(*sig)
	if order == nil {
		return
	}
	r.bus.Publish(event.Event{
		Type: event.KindOrderPlaced,
		Data: event.OrderPlacedPayload{
			Request:   *order,
			Timestamp: time.Now().UTC(),
		},
		Source: r.strat.Name(),
	})
	r.logger.Info("order requested",
		slog.String("pair", order.Pair),
		slog.String("side", string(order.Side)),
		slog.String("volume", order.Volume.String()))
}
