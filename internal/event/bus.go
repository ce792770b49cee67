package event

import (
	"log/slog"
	"sync"
	"time"
)

// HandlerFunc processes a delivered event. Handlers run on the bus's
// delivery goroutine, one event at a time; a slow handler delays every
// subscriber behind it.
type HandlerFunc func(Event)

// Subscription is the token returned by Subscribe. Go functions are not
// comparable, so unsubscription works through the token rather than the
// handler value.
type Subscription struct {
	kind Kind
}

// Statistics is a read-only snapshot of bus activity. Not authoritative
// for control flow.
type Statistics struct {
	EventCounts      map[Kind]uint64
	LastEventTimes   map[Kind]time.Time
	SubscriberCounts map[Kind]int
	QueueDepth       int
}

// Bus is an in-process publish/subscribe event bus with asynchronous
// delivery. Publish never blocks: events go into an unbounded FIFO drained
// by a single worker goroutine, so a handler may publish from inside its
// own dispatch without deadlocking.
//
// Stop drains: events already enqueued when Stop is called are still
// delivered before the worker exits.
type Bus struct {
	// Queue state, guarded by mu. cond signals the worker on enqueue and stop.
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []Event
	running bool
	stopped bool

	// Subscriber registry, guarded separately so handler registration
	// never contends with the hot publish path.
	regMu    sync.RWMutex
	handlers map[Kind]map[*Subscription]HandlerFunc

	// Statistics, guarded by mu alongside the queue.
	counts   map[Kind]uint64
	lastSeen map[Kind]time.Time

	wg     sync.WaitGroup
	logger *slog.Logger
}

// NewBus creates a bus. Call Start before expecting delivery; Publish
// before Start only enqueues.
func NewBus() *Bus {
	b := &Bus{
		handlers: make(map[Kind]map[*Subscription]HandlerFunc),
		counts:   make(map[Kind]uint64),
		lastSeen: make(map[Kind]time.Time),
		logger:   slog.Default().With("module", "event_bus"),
	}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Start launches the delivery worker. Idempotent.
func (b *Bus) Start() {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return
	}
	b.running = true
	b.stopped = false
	b.mu.Unlock()

	b.wg.Add(1)
	go b.deliverLoop()
	b.logger.Info("event bus started")
}

// Stop signals the worker and waits for it to drain the queue and exit.
// Safe to call from any goroutine except the delivery worker itself.
func (b *Bus) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	b.stopped = true
	b.cond.Broadcast()
	b.mu.Unlock()

	b.wg.Wait()
	b.logger.Info("event bus stopped")
}

// Subscribe registers a handler for a kind and returns the token needed to
// unsubscribe. Multiple handlers per kind are allowed; their relative
// invocation order for one event is unspecified.
func (b *Bus) Subscribe(kind Kind, fn HandlerFunc) *Subscription {
	sub := &Subscription{kind: kind}
	b.regMu.Lock()
	if b.handlers[kind] == nil {
		b.handlers[kind] = make(map[*Subscription]HandlerFunc)
	}
	b.handlers[kind][sub] = fn
	b.regMu.Unlock()
	return sub
}

// Unsubscribe removes a handler. Idempotent: a token that was already
// removed (or nil) is a no-op.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.regMu.Lock()
	if m := b.handlers[sub.kind]; m != nil {
		delete(m, sub)
		if len(m) == 0 {
			delete(b.handlers, sub.kind)
		}
	}
	b.regMu.Unlock()
}

// Publish enqueues an event and returns immediately. A zero timestamp is
// assigned here. Events published after Stop are counted but never
// delivered.
func (b *Bus) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	b.mu.Lock()
	b.queue = append(b.queue, ev)
	b.counts[ev.Type]++
	b.lastSeen[ev.Type] = ev.Timestamp
	b.cond.Signal()
	b.mu.Unlock()
}

// Statistics returns a snapshot of per-kind counters, subscriber counts
// and current queue depth.
func (b *Bus) Statistics() Statistics {
	stats := Statistics{
		EventCounts:      make(map[Kind]uint64),
		LastEventTimes:   make(map[Kind]time.Time),
		SubscriberCounts: make(map[Kind]int),
	}

	b.mu.Lock()
	for k, c := range b.counts {
		stats.EventCounts[k] = c
	}
	for k, t := range b.lastSeen {
		stats.LastEventTimes[k] = t
	}
	stats.QueueDepth = len(b.queue)
	b.mu.Unlock()

	b.regMu.RLock()
	for k, m := range b.handlers {
		stats.SubscriberCounts[k] = len(m)
	}
	b.regMu.RUnlock()

	return stats
}

// ClearStatistics resets per-kind counters.
func (b *Bus) ClearStatistics() {
	b.mu.Lock()
	b.counts = make(map[Kind]uint64)
	b.lastSeen = make(map[Kind]time.Time)
	b.mu.Unlock()
}

func (b *Bus) deliverLoop() {
	defer b.wg.Done()

	for {
		b.mu.Lock()
		for len(b.queue) == 0 && !b.stopped {
			b.cond.Wait()
		}
		if len(b.queue) == 0 {
			// Stopped and drained.
			b.mu.Unlock()
			return
		}
		ev := b.queue[0]
		b.queue = b.queue[1:]
		b.mu.Unlock()

		b.dispatch(ev)
	}
}

// dispatch invokes every handler registered for the event's kind. A panic
// in one handler is logged and does not stop delivery to the rest.
func (b *Bus) dispatch(ev Event) {
	b.regMu.RLock()
	fns := make([]HandlerFunc, 0, len(b.handlers[ev.Type]))
	for _, fn := range b.handlers[ev.Type] {
		fns = append(fns, fn)
	}
	b.regMu.RUnlock()

	for _, fn := range fns {
		b.safeInvoke(fn, ev)
	}
}

func (b *Bus) safeInvoke(fn HandlerFunc, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				slog.String("kind", string(ev.Type)),
				slog.String("source", ev.Source),
				slog.Any("panic", r))
		}
	}()
	fn(ev)
}
