package state

import (
	"encoding/json"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"market_hub/internal/domain"
	"market_hub/internal/event"
)

const sourceName = "StateStore"

// Entry holds a state value with its metadata.
type Entry struct {
	Value      any
	Timestamp  time.Time
	Source     string
	TTL        time.Duration // 0 means no expiry
	Persistent bool          // Whether Save writes this entry
}

func (e Entry) expired(now time.Time) bool {
	return e.TTL > 0 && now.Sub(e.Timestamp) > e.TTL
}

// Info describes the current store contents, for observability.
type Info struct {
	TotalKeys int
	Watchers  map[string]int
	Sources   []string
	Keys      []string
}

// Store is the process-wide key/value cache shared between modules.
// Every write emits a StateChanged event and one StateWatch event per
// registered watcher of the key. Expired entries are evicted lazily on
// read, not swept in the background.
type Store struct {
	mu       sync.RWMutex
	entries  map[string]Entry
	watchers map[string]map[string]struct{} // key -> watcher ids

	bus    *event.Bus
	logger *slog.Logger
}

// NewStore creates a store publishing change notifications on bus.
func NewStore(bus *event.Bus) *Store {
	return &Store{
		entries:  make(map[string]Entry),
		watchers: make(map[string]map[string]struct{}),
		bus:      bus,
		logger:   slog.Default().With("module", "state_store"),
	}
}

// Set atomically replaces the value for key. Last writer wins. The
// change event and watcher notifications are enqueued while the lock is
// held, so a Get after Set returns sees the new value and the events
// carry a consistent old/new pair.
func (s *Store) Set(key string, value any, source string, ttl time.Duration, persistent bool) error {
	if key == "" {
		return &domain.ValidationError{Field: "key", Reason: "must not be empty"}
	}
	if ttl < 0 {
		return &domain.ValidationError{Field: "ttl", Reason: "must not be negative"}
	}

	entry := Entry{
		Value:      value,
		Timestamp:  time.Now().UTC(),
		Source:     source,
		TTL:        ttl,
		Persistent: persistent,
	}

	s.mu.Lock()
	old, hadOld := s.entries[key]
	s.entries[key] = entry

	var oldValue any
	if hadOld {
		oldValue = old.Value
	}
	s.bus.Publish(event.Event{
		Type: event.KindStateChanged,
		Data: event.StateChangedPayload{
			Key:      key,
			OldValue: oldValue,
			NewValue: value,
			Source:   source,
		},
		Source: sourceName,
	})

	for id := range s.watchers[key] {
		s.bus.Publish(event.Event{
			Type: event.KindStateWatch,
			Data: event.StateWatchPayload{
				Key:       key,
				Value:     value,
				WatcherID: id,
				Source:    source,
				Timestamp: entry.Timestamp,
			},
			Source: sourceName,
		})
	}
	s.mu.Unlock()

	return nil
}

// Get returns the value for key, or def if the key is absent or its TTL
// has elapsed. An expired entry is evicted on the spot.
func (s *Store) Get(key string, def any) any {
	now := time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		return def
	}
	if entry.expired(now) {
		delete(s.entries, key)
		return def
	}
	return entry.Value
}

// Watch registers watcherID's interest in key changes. Each change
// produces one StateWatch event addressed to the watcher.
func (s *Store) Watch(key, watcherID string) {
	s.mu.Lock()
	if s.watchers[key] == nil {
		s.watchers[key] = make(map[string]struct{})
	}
	s.watchers[key][watcherID] = struct{}{}
	s.mu.Unlock()
}

// Unwatch removes a watcher registration. Idempotent.
func (s *Store) Unwatch(key, watcherID string) {
	s.mu.Lock()
	if m := s.watchers[key]; m != nil {
		delete(m, watcherID)
		if len(m) == 0 {
			delete(s.watchers, key)
		}
	}
	s.mu.Unlock()
}

// Clear removes all entries, or only those written by source when source
// is non-empty.
func (s *Store) Clear(source string) {
	s.mu.Lock()
	if source == "" {
		s.entries = make(map[string]Entry)
	} else {
		for k, e := range s.entries {
			if e.Source == source {
				delete(s.entries, k)
			}
		}
	}
	s.mu.Unlock()
}

// Info returns a snapshot of keys, sources and watcher counts. Expired
// entries that have not been read yet still appear; eviction is lazy.
func (s *Store) Info() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info := Info{
		TotalKeys: len(s.entries),
		Watchers:  make(map[string]int, len(s.watchers)),
	}
	seen := make(map[string]struct{})
	for k, e := range s.entries {
		info.Keys = append(info.Keys, k)
		if _, ok := seen[e.Source]; !ok {
			seen[e.Source] = struct{}{}
			info.Sources = append(info.Sources, e.Source)
		}
	}
	for k, m := range s.watchers {
		info.Watchers[k] = len(m)
	}
	sort.Strings(info.Keys)
	sort.Strings(info.Sources)
	return info
}

// persistedEntry is the stable on-disk schema. TTL is stored in seconds.
type persistedEntry struct {
	Value      json.RawMessage `json:"value"`
	Timestamp  string          `json:"timestamp"`
	Source     string          `json:"source"`
	TTLSeconds float64         `json:"ttl"`
	Persistent bool            `json:"persistent"`
}

// Save writes all persistent entries to path as JSON. A value that cannot
// be serialized fails the whole save and names the offending key.
func (s *Store) Save(path string) error {
	s.mu.RLock()
	out := make(map[string]persistedEntry)
	for k, e := range s.entries {
		if !e.Persistent {
			continue
		}
		raw, err := json.Marshal(e.Value)
		if err != nil {
			s.mu.RUnlock()
			serr := &domain.StorageError{Op: "save", Path: path, Key: k, Err: err}
			s.logger.Error("state save failed", slog.Any("error", serr))
			return serr
		}
		out[k] = persistedEntry{
			Value:      raw,
			Timestamp:  e.Timestamp.Format(time.RFC3339Nano),
			Source:     e.Source,
			TTLSeconds: e.TTL.Seconds(),
			Persistent: true,
		}
	}
	s.mu.RUnlock()

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return &domain.StorageError{Op: "save", Path: path, Err: err}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		serr := &domain.StorageError{Op: "save", Path: path, Err: err}
		s.logger.Error("state save failed", slog.Any("error", serr))
		return serr
	}
	return nil
}

// Load restores entries from path. One malformed record fails the whole
// load and reports which key failed; nothing is partially applied.
// Values come back as generic JSON types (map, slice, float64, string).
func (s *Store) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return &domain.StorageError{Op: "load", Path: path, Err: err}
	}

	var raw map[string]persistedEntry
	if err := json.Unmarshal(data, &raw); err != nil {
		return &domain.StorageError{Op: "load", Path: path, Err: err}
	}

	loaded := make(map[string]Entry, len(raw))
	for k, pe := range raw {
		ts, err := time.Parse(time.RFC3339Nano, pe.Timestamp)
		if err != nil {
			return &domain.StorageError{Op: "load", Path: path, Key: k, Err: err}
		}
		var value any
		if err := json.Unmarshal(pe.Value, &value); err != nil {
			return &domain.StorageError{Op: "load", Path: path, Key: k, Err: err}
		}
		loaded[k] = Entry{
			Value:      value,
			Timestamp:  ts,
			Source:     pe.Source,
			TTL:        time.Duration(pe.TTLSeconds * float64(time.Second)),
			Persistent: true,
		}
	}

	s.mu.Lock()
	for k, e := range loaded {
		s.entries[k] = e
	}
	s.mu.Unlock()

	s.logger.Info("state loaded", slog.String("path", path), slog.Int("keys", len(loaded)))
	return nil
}
