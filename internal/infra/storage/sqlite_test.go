package storage

import (
	"path/filepath"
	"testing"
	"time"

	"market_hub/internal/domain"
	"market_hub/internal/event"

	"github.com/shopspring/decimal"
)

func setupTestStorage(t *testing.T) *Storage {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewStorage(dbPath)
	if err != nil {
		t.Fatalf("NewStorage failed: %v", err)
	}
	return s
}

func sampleTrade(id string, at time.Time) domain.OwnTrade {
	return domain.OwnTrade{
		TradeID:   id,
		OrderID:   "O-" + id,
		Pair:      "BTC/USD",
		Side:      domain.SideBuy,
		OrderType: "l",
		Price:     decimal.RequireFromString("50000.5"),
		Volume:    decimal.RequireFromString("0.01"),
		Cost:      decimal.RequireFromString("500.005"),
		Fee:       decimal.RequireFromString("0.8"),
		Time:      at,
	}
}

func TestSaveAndQueryTrades(t *testing.T) {
	s := setupTestStorage(t)
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"T1", "T2", "T3"} {
		tr := sampleTrade(id, base.Add(time.Duration(i)*time.Minute))
		if err := s.SaveTrade(tr); err != nil {
			t.Fatalf("SaveTrade(%s) failed: %v", id, err)
		}
	}

	recs, err := s.TradesByPair("BTC/USD", 0)
	if err != nil {
		t.Fatalf("TradesByPair failed: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("got %d trades, want 3", len(recs))
	}
	// Newest first.
	if recs[0].TradeID != "T3" || recs[2].TradeID != "T1" {
		t.Errorf("unexpected order: %s .. %s", recs[0].TradeID, recs[2].TradeID)
	}
	if !recs[0].Price.Equal(decimal.RequireFromString("50000.5")) {
		t.Errorf("price lost precision: %v", recs[0].Price)
	}

	limited, err := s.TradesByPair("BTC/USD", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 2 {
		t.Errorf("limit ignored, got %d", len(limited))
	}

	none, err := s.TradesByPair("ETH/USD", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(none) != 0 {
		t.Errorf("unexpected trades for other pair: %d", len(none))
	}
}

func TestSaveTradeUpsert(t *testing.T) {
	s := setupTestStorage(t)
	at := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	tr := sampleTrade("T1", at)
	if err := s.SaveTrade(tr); err != nil {
		t.Fatal(err)
	}
	tr.Fee = decimal.RequireFromString("1.2")
	if err := s.SaveTrade(tr); err != nil {
		t.Fatal(err)
	}

	recs, err := s.TradesByPair("BTC/USD", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 {
		t.Fatalf("duplicate id created %d rows", len(recs))
	}
	if !recs[0].Fee.Equal(decimal.RequireFromString("1.2")) {
		t.Errorf("fee not updated: %v", recs[0].Fee)
	}
}

func TestOrderStatusTransitions(t *testing.T) {
	s := setupTestStorage(t)
	at := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	order := domain.OpenOrder{
		OrderID:   "O1",
		Pair:      "BTC/USD",
		Side:      domain.SideSell,
		OrderType: "limit",
		Price:     decimal.NewFromInt(51000),
		Volume:    decimal.RequireFromString("0.05"),
		Status:    domain.OrderOpen,
		Time:      at,
	}
	if err := s.SaveOrder(order); err != nil {
		t.Fatal(err)
	}

	open, err := s.OpenOrders()
	if err != nil {
		t.Fatal(err)
	}
	if len(open) != 1 || open[0].OrderID != "O1" {
		t.Fatalf("open orders = %+v", open)
	}

	order.Status = domain.OrderClosed
	if err := s.SaveOrder(order); err != nil {
		t.Fatal(err)
	}
	open, err = s.OpenOrders()
	if err != nil {
		t.Fatal(err)
	}
	if len(open) != 0 {
		t.Errorf("closed order still listed as open: %+v", open)
	}
}

func TestBalanceHistoryAndPrune(t *testing.T) {
	s := setupTestStorage(t)
	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	for day := 0; day < 5; day++ {
		balances := []domain.Balance{
			{
				Asset:     "BTC",
				Total:     decimal.NewFromInt(int64(day + 1)),
				Available: decimal.NewFromInt(int64(day + 1)),
				InOrders:  decimal.Zero,
			},
			{
				Asset:     "USD",
				Total:     decimal.NewFromInt(1000),
				Available: decimal.NewFromInt(900),
				InOrders:  decimal.NewFromInt(100),
			},
		}
		at := base.AddDate(0, 0, day)
		if err := s.SaveBalances(balances, at); err != nil {
			t.Fatalf("SaveBalances day %d failed: %v", day, err)
		}
	}

	hist, err := s.BalanceHistory("BTC", base)
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 5 {
		t.Fatalf("got %d BTC rows, want 5", len(hist))
	}
	// Oldest first.
	if !hist[0].Total.Equal(decimal.NewFromInt(1)) || !hist[4].Total.Equal(decimal.NewFromInt(5)) {
		t.Errorf("history out of order: first=%v last=%v", hist[0].Total, hist[4].Total)
	}

	// Drop the first two days for every asset.
	removed, err := s.PruneBalanceHistory(base.AddDate(0, 0, 2))
	if err != nil {
		t.Fatalf("PruneBalanceHistory failed: %v", err)
	}
	if removed != 4 {
		t.Errorf("removed %d rows, want 4", removed)
	}

	hist, err = s.BalanceHistory("BTC", base)
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 3 {
		t.Errorf("got %d BTC rows after prune, want 3", len(hist))
	}
}

func TestSaveBalancesEmpty(t *testing.T) {
	s := setupTestStorage(t)
	if err := s.SaveBalances(nil, time.Now()); err != nil {
		t.Errorf("empty save should be a no-op, got %v", err)
	}
}

func TestSinkPersistsEvents(t *testing.T) {
	s := setupTestStorage(t)
	bus := event.NewBus()
	bus.Start()
	defer bus.Stop()

	sink := NewSink(s, bus)
	sink.Start()
	defer sink.Stop()

	at := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	bus.Publish(event.Event{
		Type: event.KindOwnTradesUpdate,
		Data: event.OwnTradesPayload{
			Trades:    []domain.OwnTrade{sampleTrade("T1", at)},
			Timestamp: at,
		},
		Source: "test",
	})
	bus.Publish(event.Event{
		Type: event.KindBalanceUpdate,
		Data: event.BalancePayload{
			Balances: []domain.Balance{{
				Asset:     "BTC",
				Total:     decimal.NewFromInt(2),
				Available: decimal.NewFromInt(2),
				InOrders:  decimal.Zero,
			}},
			Timestamp: at,
		},
		Source: "test",
	})

	waitForRows(t, func() bool {
		trades, err := s.TradesByPair("BTC/USD", 0)
		if err != nil {
			return false
		}
		hist, err := s.BalanceHistory("BTC", at.Add(-time.Hour))
		if err != nil {
			return false
		}
		return len(trades) == 1 && len(hist) == 1
	})
}

func TestSinkStopUnsubscribes(t *testing.T) {
	s := setupTestStorage(t)
	bus := event.NewBus()
	bus.Start()
	defer bus.Stop()

	sink := NewSink(s, bus)
	sink.Start()
	sink.Stop()

	at := time.Now().UTC()
	bus.Publish(event.Event{
		Type: event.KindOwnTradesUpdate,
		Data: event.OwnTradesPayload{
			Trades:    []domain.OwnTrade{sampleTrade("T9", at)},
			Timestamp: at,
		},
		Source: "test",
	})

	// Give delivery a moment, then confirm nothing was written.
	time.Sleep(50 * time.Millisecond)
	trades, err := s.TradesByPair("BTC/USD", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(trades) != 0 {
		t.Errorf("stopped sink still persisted %d trades", len(trades))
	}
}

func waitForRows(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("rows never appeared")
}
