package event

import (
	"sync"
	"testing"
	"time"

	"market_hub/internal/domain"

	"github.com/shopspring/decimal"
)

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestBus_DeliveryOrder(t *testing.T) {
	bus := NewBus()
	bus.Start()
	defer bus.Stop()

	var mu sync.Mutex
	var prices []decimal.Decimal
	bus.Subscribe(KindPriceUpdate, func(ev Event) {
		payload := ev.Data.(PriceUpdatePayload)
		mu.Lock()
		prices = append(prices, payload.Ticker.Price)
		mu.Unlock()
	})

	for _, p := range []int64{100, 101, 102} {
		bus.Publish(Event{
			Type:   KindPriceUpdate,
			Data:   PriceUpdatePayload{Pair: "ETH/USD", Ticker: tickerWithPrice(p)},
			Source: "test",
		})
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(prices) == 3
	}, "expected 3 deliveries")

	mu.Lock()
	defer mu.Unlock()
	for i, want := range []int64{100, 101, 102} {
		if !prices[i].Equal(decimal.NewFromInt(want)) {
			t.Errorf("prices[%d] = %v, want %d", i, prices[i], want)
		}
	}
}

func TestBus_ReentrantPublish(t *testing.T) {
	bus := NewBus()
	bus.Start()
	defer bus.Stop()

	nested := make(chan struct{})
	bus.Subscribe(KindStateChanged, func(ev Event) {
		// Publishing from the delivery goroutine must not block.
		done := make(chan struct{})
		go func() {
			bus.Publish(Event{Type: KindConnectionStatus, Source: "nested"})
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Error("nested publish blocked")
		}
	})
	bus.Subscribe(KindConnectionStatus, func(ev Event) {
		close(nested)
	})

	bus.Publish(Event{Type: KindStateChanged, Source: "test"})

	select {
	case <-nested:
	case <-time.After(2 * time.Second):
		t.Fatal("nested event was never delivered")
	}
}

func TestBus_StopDrainsQueue(t *testing.T) {
	bus := NewBus()

	var mu sync.Mutex
	received := 0
	bus.Subscribe(KindTradeUpdate, func(ev Event) {
		mu.Lock()
		received++
		mu.Unlock()
	})

	bus.Start()
	const n = 200
	for i := 0; i < n; i++ {
		bus.Publish(Event{Type: KindTradeUpdate, Source: "test"})
	}
	bus.Stop()

	mu.Lock()
	defer mu.Unlock()
	if received != n {
		t.Errorf("received %d events after Stop, want %d (Stop must drain)", received, n)
	}
}

func TestBus_HandlerPanicDoesNotStopDelivery(t *testing.T) {
	bus := NewBus()
	bus.Start()
	defer bus.Stop()

	var mu sync.Mutex
	got := 0
	bus.Subscribe(KindPriceUpdate, func(ev Event) {
		panic("boom")
	})
	bus.Subscribe(KindPriceUpdate, func(ev Event) {
		mu.Lock()
		got++
		mu.Unlock()
	})

	bus.Publish(Event{Type: KindPriceUpdate, Data: PriceUpdatePayload{}, Source: "test"})
	bus.Publish(Event{Type: KindPriceUpdate, Data: PriceUpdatePayload{}, Source: "test"})

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got == 2
	}, "surviving handler should receive both events")
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus()
	bus.Start()
	defer bus.Stop()

	var mu sync.Mutex
	got := 0
	sub := bus.Subscribe(KindTradeUpdate, func(ev Event) {
		mu.Lock()
		got++
		mu.Unlock()
	})
	sentinel := make(chan struct{}, 1)
	bus.Subscribe(KindConnectionStatus, func(ev Event) {
		sentinel <- struct{}{}
	})

	bus.Publish(Event{Type: KindTradeUpdate, Source: "test"})
	bus.Publish(Event{Type: KindConnectionStatus, Source: "test"})
	<-sentinel

	bus.Unsubscribe(sub)
	bus.Unsubscribe(sub) // Idempotent
	bus.Unsubscribe(nil)

	bus.Publish(Event{Type: KindTradeUpdate, Source: "test"})
	bus.Publish(Event{Type: KindConnectionStatus, Source: "test"})
	<-sentinel

	mu.Lock()
	defer mu.Unlock()
	if got != 1 {
		t.Errorf("got %d deliveries after unsubscribe, want 1", got)
	}
}

func TestBus_Statistics(t *testing.T) {
	bus := NewBus()
	bus.Subscribe(KindPriceUpdate, func(ev Event) {})
	bus.Subscribe(KindPriceUpdate, func(ev Event) {})

	bus.Publish(Event{Type: KindPriceUpdate, Source: "test"})
	bus.Publish(Event{Type: KindPriceUpdate, Source: "test"})
	bus.Publish(Event{Type: KindTradeUpdate, Source: "test"})

	stats := bus.Statistics()
	if stats.EventCounts[KindPriceUpdate] != 2 {
		t.Errorf("price update count = %d, want 2", stats.EventCounts[KindPriceUpdate])
	}
	if stats.EventCounts[KindTradeUpdate] != 1 {
		t.Errorf("trade update count = %d, want 1", stats.EventCounts[KindTradeUpdate])
	}
	if stats.SubscriberCounts[KindPriceUpdate] != 2 {
		t.Errorf("subscriber count = %d, want 2", stats.SubscriberCounts[KindPriceUpdate])
	}
	// Not started: everything is still queued.
	if stats.QueueDepth != 3 {
		t.Errorf("queue depth = %d, want 3", stats.QueueDepth)
	}
	if stats.LastEventTimes[KindPriceUpdate].IsZero() {
		t.Error("last event time should be set")
	}

	bus.ClearStatistics()
	if got := bus.Statistics().EventCounts[KindPriceUpdate]; got != 0 {
		t.Errorf("count after clear = %d, want 0", got)
	}
}

func tickerWithPrice(p int64) domain.Ticker {
	return domain.Ticker{Price: decimal.NewFromInt(p)}
}
