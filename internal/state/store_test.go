package state

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"market_hub/internal/event"
)

func newTestStore() (*Store, *event.Bus) {
	bus := event.NewBus()
	return NewStore(bus), bus
}

func TestStore_SetGet(t *testing.T) {
	store, _ := newTestStore()

	if err := store.Set("price_feed", "running", "test", 0, false); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if got := store.Get("price_feed", nil); got != "running" {
		t.Errorf("Get = %v, want running", got)
	}
	if got := store.Get("missing", "default"); got != "default" {
		t.Errorf("Get missing = %v, want default", got)
	}

	// Last writer wins
	store.Set("price_feed", "stopped", "other", 0, false)
	if got := store.Get("price_feed", nil); got != "stopped" {
		t.Errorf("Get after overwrite = %v, want stopped", got)
	}
}

func TestStore_SetValidation(t *testing.T) {
	store, _ := newTestStore()

	if err := store.Set("", "v", "test", 0, false); err == nil {
		t.Error("empty key should be rejected")
	}
	if err := store.Set("k", "v", "test", -time.Second, false); err == nil {
		t.Error("negative ttl should be rejected")
	}
}

func TestStore_TTLExpiry(t *testing.T) {
	store, _ := newTestStore()

	store.Set("ephemeral", 42, "test", 100*time.Millisecond, false)
	if got := store.Get("ephemeral", nil); got != 42 {
		t.Fatalf("Get before expiry = %v, want 42", got)
	}

	time.Sleep(150 * time.Millisecond)

	if got := store.Get("ephemeral", "gone"); got != "gone" {
		t.Errorf("Get after expiry = %v, want default", got)
	}
	// Eviction happened on read
	for _, k := range store.Info().Keys {
		if k == "ephemeral" {
			t.Error("expired key should be evicted from Info")
		}
	}
}

func TestStore_ChangeEventAndWatchers(t *testing.T) {
	store, bus := newTestStore()
	bus.Start()
	defer bus.Stop()

	changed := make(chan event.StateChangedPayload, 4)
	bus.Subscribe(event.KindStateChanged, func(ev event.Event) {
		changed <- ev.Data.(event.StateChangedPayload)
	})
	watched := make(chan event.StateWatchPayload, 4)
	bus.Subscribe(event.KindStateWatch, func(ev event.Event) {
		watched <- ev.Data.(event.StateWatchPayload)
	})

	store.Watch("balance", "risk_monitor")
	store.Set("balance", 100, "account", 0, false)

	select {
	case p := <-changed:
		if p.Key != "balance" || p.NewValue != 100 || p.OldValue != nil {
			t.Errorf("unexpected change payload: %+v", p)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no StateChanged event")
	}
	select {
	case p := <-watched:
		if p.WatcherID != "risk_monitor" || p.Key != "balance" || p.Value != 100 {
			t.Errorf("unexpected watch payload: %+v", p)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no watch notification")
	}

	// Old value travels on the second write
	store.Set("balance", 200, "account", 0, false)
	select {
	case p := <-changed:
		if p.OldValue != 100 || p.NewValue != 200 {
			t.Errorf("unexpected second change payload: %+v", p)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no second StateChanged event")
	}

	// After Unwatch no more notifications arrive
	store.Unwatch("balance", "risk_monitor")
	store.Set("balance", 300, "account", 0, false)
	<-changed
	select {
	case p := <-watched:
		if p.Value == 300 {
			t.Error("watcher notified after Unwatch")
		}
	case <-time.After(50 * time.Millisecond):
	}
}

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	store, _ := newTestStore()
	path := filepath.Join(t.TempDir(), "state.json")

	store.Set("persistent_str", "hello", "module_a", 30*time.Second, true)
	store.Set("persistent_num", 3.5, "module_b", 0, true)
	store.Set("transient", "secret", "module_a", 0, false)

	if err := store.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	fresh, _ := newTestStore()
	if err := fresh.Load(path); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if got := fresh.Get("persistent_str", nil); got != "hello" {
		t.Errorf("persistent_str = %v, want hello", got)
	}
	if got := fresh.Get("persistent_num", nil); got != 3.5 {
		t.Errorf("persistent_num = %v, want 3.5", got)
	}
	if got := fresh.Get("transient", "absent"); got != "absent" {
		t.Error("non-persistent entry survived round-trip")
	}

	info := fresh.Info()
	if info.TotalKeys != 2 {
		t.Errorf("loaded %d keys, want 2", info.TotalKeys)
	}
	for i, want := range []string{"module_a", "module_b"} {
		if info.Sources[i] != want {
			t.Errorf("Sources[%d] = %s, want %s", i, info.Sources[i], want)
		}
	}
}

func TestStore_LoadMalformedFile(t *testing.T) {
	store, _ := newTestStore()
	path := filepath.Join(t.TempDir(), "missing.json")

	if err := store.Load(path); err == nil {
		t.Error("loading a missing file should fail")
	}
	if store.Info().TotalKeys != 0 {
		t.Error("failed load must not apply anything")
	}
}

func TestStore_ClearBySource(t *testing.T) {
	store, _ := newTestStore()

	store.Set("a", 1, "feed", 0, false)
	store.Set("b", 2, "feed", 0, false)
	store.Set("c", 3, "gui", 0, false)

	store.Clear("feed")
	info := store.Info()
	if info.TotalKeys != 1 || info.Keys[0] != "c" {
		t.Errorf("after Clear(feed): %+v", info)
	}

	store.Clear("")
	if store.Info().TotalKeys != 0 {
		t.Error("Clear(\"\") should remove everything")
	}
}

func TestStore_ConcurrentAccess(t *testing.T) {
	store, _ := newTestStore()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				store.Set("shared", j, "worker", 0, false)
				store.Get("shared", nil)
			}
		}(i)
	}
	wg.Wait()

	if got := store.Get("shared", nil); got != 99 {
		t.Errorf("final value = %v, want 99", got)
	}
}
