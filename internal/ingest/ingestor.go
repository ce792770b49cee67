package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"market_hub/internal/domain"
	"market_hub/internal/event"
	"market_hub/internal/infra"
	"market_hub/internal/market"
	"market_hub/internal/state"
)

const sourceName = "StreamIngestor"

// State keys the ingestor mirrors into the shared store.
const (
	feedStatusKey        = "feed_status"
	privateFeedStatusKey = "private_feed_status"
)

// publicChannels are subscribed for every pair.
var publicChannels = []string{channelBook, channelTrade, channelTicker}

// privateChannels are subscribed once on the authenticated stream.
var privateChannels = []string{channelOwnTrades, channelOpenOrders, channelBalances}

// SubscriptionState tracks a pair's subscribe lifecycle.
type SubscriptionState string

const (
	SubUnsubscribed SubscriptionState = "unsubscribed"
	SubSubscribing  SubscriptionState = "subscribing"
	SubSubscribed   SubscriptionState = "subscribed"
)

// Status reports the ingestor's observable state.
type Status struct {
	Running          bool
	SubscribedPairs  []string
	ConnectionStatus string
	CacheSizes       market.Status
}

// Ingestor consumes the transport's raw message streams, applies decoded
// updates to the market data cache and publishes normalized events. It
// owns reconnect scheduling and pair re-subscription; the transport owns
// only the socket.
//
// A malformed message is logged, surfaced as a ModuleError event and
// dropped; the receive loop never terminates because of one bad frame.
type Ingestor struct {
	transport domain.Transport
	cache     *market.Cache
	bus       *event.Bus
	store     *state.Store
	logger    *slog.Logger

	mu             sync.Mutex
	running        bool
	privateRunning bool
	connStatus     string
	pairs          map[string]SubscriptionState
	pairOrder      []string
	cancel         context.CancelFunc
	wg             sync.WaitGroup
}

// NewIngestor wires an ingestor to its collaborators. store may be nil
// when no shared state mirroring is wanted (tests).
func NewIngestor(transport domain.Transport, cache *market.Cache, bus *event.Bus, store *state.Store) *Ingestor {
	ing := &Ingestor{
		transport:  transport,
		cache:      cache,
		bus:        bus,
		store:      store,
		connStatus: "disconnected",
		pairs:      make(map[string]SubscriptionState),
		logger:     slog.Default().With("module", "ingestor"),
	}
	ing.setFeedStatus(feedStatusKey, "initialized")
	return ing
}

// Start opens the public stream and subscribes every pair. Idempotent:
// calling Start while running is a no-op.
func (ing *Ingestor) Start(ctx context.Context, pairs []string) error {
	if len(pairs) == 0 {
		return &domain.ValidationError{Field: "pairs", Reason: "must not be empty"}
	}

	ing.mu.Lock()
	if ing.running {
		ing.mu.Unlock()
		return nil
	}
	ing.running = true
	for _, p := range pairs {
		if _, ok := ing.pairs[p]; !ok {
			ing.pairs[p] = SubUnsubscribed
			ing.pairOrder = append(ing.pairOrder, p)
		}
	}
	ctx, ing.cancel = context.WithCancel(ctx)
	ing.mu.Unlock()

	ing.wg.Add(1)
	go ing.runLoop(ctx)
	return nil
}

// StartPrivate opens the authenticated stream for own-trades, open-orders
// and balance updates. An AuthError stops the private stream without
// affecting the public one.
func (ing *Ingestor) StartPrivate(ctx context.Context) error {
	ing.mu.Lock()
	if ing.privateRunning {
		ing.mu.Unlock()
		return nil
	}
	if !ing.running {
		ing.mu.Unlock()
		return &domain.ValidationError{Field: "ingestor", Reason: "start public stream first"}
	}
	ing.privateRunning = true
	ing.mu.Unlock()

	if err := ing.connectPrivate(ctx); err != nil {
		ing.mu.Lock()
		ing.privateRunning = false
		ing.mu.Unlock()
		return err
	}

	ing.wg.Add(1)
	go ing.privateLoop(ctx)
	return nil
}

// Stop closes the connection and stops further cache mutation. Caches
// stay readable for late readers. Idempotent, and safe to call from a
// different goroutine than the receive loops.
func (ing *Ingestor) Stop() {
	ing.mu.Lock()
	if !ing.running {
		ing.mu.Unlock()
		return
	}
	ing.running = false
	ing.privateRunning = false
	cancel := ing.cancel
	ing.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	ing.transport.Disconnect()
	ing.wg.Wait()

	ing.setConnStatus("public", "disconnected", "stopped")
	ing.setFeedStatus(feedStatusKey, "stopped")
	ing.logger.Info("ingestor stopped")
}

// Subscribe adds a pair at runtime. Re-subscribing an already subscribed
// pair is a no-op.
func (ing *Ingestor) Subscribe(pair string) error {
	if pair == "" {
		return &domain.ValidationError{Field: "pair", Reason: "must not be empty"}
	}

	ing.mu.Lock()
	st, known := ing.pairs[pair]
	if known && st != SubUnsubscribed {
		ing.mu.Unlock()
		return nil
	}
	if !known {
		ing.pairs[pair] = SubUnsubscribed
		ing.pairOrder = append(ing.pairOrder, pair)
	}
	connected := ing.connStatus == "connected"
	ing.mu.Unlock()

	if !connected {
		// Will be picked up by subscribeAll on (re)connect.
		return nil
	}
	return ing.subscribePair(pair)
}

// Status returns the running flag, subscribed pairs, connection status
// and aggregate cache sizes. Observability only.
func (ing *Ingestor) Status() Status {
	ing.mu.Lock()
	st := Status{
		Running:          ing.running,
		ConnectionStatus: ing.connStatus,
	}
	for pair, subSt := range ing.pairs {
		if subSt == SubSubscribed {
			st.SubscribedPairs = append(st.SubscribedPairs, pair)
		}
	}
	ing.mu.Unlock()

	sort.Strings(st.SubscribedPairs)
	st.CacheSizes = ing.cache.Status()
	return st
}

// runLoop drives the connect / subscribe / consume cycle with exponential
// backoff between attempts, until the context is cancelled.
func (ing *Ingestor) runLoop(ctx context.Context) {
	defer ing.wg.Done()
	retry := 0

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		ing.setConnStatus("public", "connecting", "")
		if err := ing.transport.Connect(ctx); err != nil {
			ing.setConnStatus("public", "disconnected", err.Error())
			ing.publishError("transport", err)
			retry++
			if !ing.sleep(ctx, infra.CalculateBackoff(retry)) {
				return
			}
			continue
		}

		retry = 0
		ing.setConnStatus("public", "connected", "")
		ing.setFeedStatus(feedStatusKey, "connected")

		// Book feeds restart from scratch on every connection.
		ing.markAllUnsubscribed()
		ing.subscribeAll()

		msgs := ing.transport.Messages()
		if msgs == nil {
			continue
		}
		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-msgs:
				if !ok {
					msgs = nil
				} else {
					ing.handleMessage(raw)
				}
			}
			if msgs == nil {
				break
			}
		}

		ing.setConnStatus("public", "disconnected", domain.ErrConnectionClosed.Error())
		ing.publishError("transport", domain.NewTransportError("read", domain.ErrConnectionClosed))
	}
}

func (ing *Ingestor) markAllUnsubscribed() {
	ing.mu.Lock()
	for p := range ing.pairs {
		ing.pairs[p] = SubUnsubscribed
	}
	ing.mu.Unlock()
}

// subscribeAll subscribes pairs sequentially. A failure for one pair is
// logged and does not stop the rest.
func (ing *Ingestor) subscribeAll() {
	ing.mu.Lock()
	order := make([]string, len(ing.pairOrder))
	copy(order, ing.pairOrder)
	ing.mu.Unlock()

	for _, pair := range order {
		if err := ing.subscribePair(pair); err != nil {
			serr := &domain.SubscriptionError{Pair: pair, Err: err}
			ing.logger.Error("subscribe failed", slog.Any("error", serr))
			ing.publishError("subscription", serr)
		}
	}
}

func (ing *Ingestor) subscribePair(pair string) error {
	if err := ing.transport.SendSubscribe(pair, publicChannels); err != nil {
		return err
	}

	ing.cache.InitPair(pair)
	ing.cache.ResetPair(pair)

	ing.mu.Lock()
	ing.pairs[pair] = SubSubscribing
	ing.mu.Unlock()
	return nil
}

// handleMessage decodes one raw frame and routes it. Decode failures are
// dropped after logging; they never abort the loop.
func (ing *Ingestor) handleMessage(raw json.RawMessage) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return
	}

	switch trimmed[0] {
	case '{':
		ing.handleEventFrame(trimmed)
	case '[':
		ing.handleDataFrame(trimmed)
	default:
		ing.dropMessage("", errors.New("frame is neither object nor array"))
	}
}

func (ing *Ingestor) handleEventFrame(raw []byte) {
	var frame eventFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		ing.dropMessage("", err)
		return
	}

	switch frame.Event {
	case "heartbeat", "pong", "systemStatus":
		// Keepalive noise.
	case "subscriptionStatus":
		ing.handleSubscriptionStatus(frame)
	case "error":
		err := errors.New(frame.Msg)
		ing.logger.Error("stream error event", slog.String("msg", frame.Msg))
		ing.publishError("transport", err)
	default:
		ing.logger.Debug("ignoring event frame", slog.String("event", frame.Event))
	}
}

func (ing *Ingestor) handleSubscriptionStatus(frame eventFrame) {
	if frame.Status == "error" {
		serr := &domain.SubscriptionError{Pair: frame.Pair, Err: errors.New(frame.ErrorMessage)}
		ing.logger.Error("subscription rejected", slog.Any("error", serr))
		ing.publishError("subscription", serr)

		ing.mu.Lock()
		if _, ok := ing.pairs[frame.Pair]; ok {
			ing.pairs[frame.Pair] = SubUnsubscribed
		}
		ing.mu.Unlock()
		return
	}

	if frame.Status == "subscribed" && frame.Pair != "" {
		ing.mu.Lock()
		ing.pairs[frame.Pair] = SubSubscribed
		ing.mu.Unlock()
		ing.logger.Info("pair subscribed",
			slog.String("pair", frame.Pair),
			slog.String("channel", frame.ChannelName))
	}
}

func (ing *Ingestor) handleDataFrame(raw []byte) {
	var parts []json.RawMessage
	if err := json.Unmarshal(raw, &parts); err != nil {
		ing.dropMessage("", err)
		return
	}
	if len(parts) < 4 {
		// Private frames have 3 elements and arrive on the other stream;
		// anything shorter here is malformed.
		ing.dropMessage("", errors.New("public frame too short"))
		return
	}

	var channel, pair string
	if err := json.Unmarshal(parts[1], &channel); err != nil {
		ing.dropMessage("", err)
		return
	}
	if err := json.Unmarshal(parts[len(parts)-1], &pair); err != nil {
		ing.dropMessage(channel, err)
		return
	}

	switch channel {
	case channelBook:
		ing.handleBook(pair, parts[2])
	case channelTrade:
		ing.handleTrades(pair, parts[2])
	case channelTicker:
		ing.handleTicker(pair, parts[2])
	default:
		ing.logger.Debug("unknown channel", slog.String("channel", channel))
	}
}

func (ing *Ingestor) handleBook(pair string, payload json.RawMessage) {
	var book bookPayload
	if err := json.Unmarshal(payload, &book); err != nil {
		ing.dropMessage(channelBook, err)
		return
	}

	if len(book.Bids) > 0 {
		levels, err := parseBookLevels(book.Bids)
		if err != nil {
			ing.dropMessage(channelBook, err)
			return
		}
		ing.cache.ApplyBookUpdate(pair, domain.BookBids, levels)
	}
	if len(book.Asks) > 0 {
		levels, err := parseBookLevels(book.Asks)
		if err != nil {
			ing.dropMessage(channelBook, err)
			return
		}
		ing.cache.ApplyBookUpdate(pair, domain.BookAsks, levels)
	}
}

func (ing *Ingestor) handleTrades(pair string, payload json.RawMessage) {
	var rows [][]json.RawMessage
	if err := json.Unmarshal(payload, &rows); err != nil {
		ing.dropMessage(channelTrade, err)
		return
	}
	trades, err := parseTrades(rows)
	if err != nil {
		ing.dropMessage(channelTrade, err)
		return
	}
	ing.cache.ApplyTrades(pair, trades)
}

func (ing *Ingestor) handleTicker(pair string, payload json.RawMessage) {
	var tp tickerPayload
	if err := json.Unmarshal(payload, &tp); err != nil {
		ing.dropMessage(channelTicker, err)
		return
	}
	ticker, err := parseTicker(tp)
	if err != nil {
		ing.dropMessage(channelTicker, err)
		return
	}
	ing.cache.ApplyTicker(pair, ticker)
}

// dropMessage records a DecodeError and moves on.
func (ing *Ingestor) dropMessage(channel string, err error) {
	derr := &domain.DecodeError{Channel: channel, Reason: "malformed message", Err: err}
	ing.logger.Warn("dropping message", slog.Any("error", derr))
	ing.publishError("decode", derr)
}

func (ing *Ingestor) publishError(kind string, err error) {
	ing.bus.Publish(event.Event{
		Type: event.KindModuleError,
		Data: event.ModuleErrorPayload{
			Module:    sourceName,
			Kind:      kind,
			Message:   err.Error(),
			Timestamp: time.Now().UTC(),
		},
		Source: sourceName,
	})
}

func (ing *Ingestor) setConnStatus(stream, status, detail string) {
	if stream == "public" {
		ing.mu.Lock()
		ing.connStatus = status
		ing.mu.Unlock()
	}
	ing.bus.Publish(event.Event{
		Type: event.KindConnectionStatus,
		Data: event.ConnectionStatusPayload{
			Stream:    stream,
			Status:    status,
			Detail:    detail,
			Timestamp: time.Now().UTC(),
		},
		Source: sourceName,
	})
}

func (ing *Ingestor) setFeedStatus(key, value string) {
	if ing.store == nil {
		return
	}
	// Status mirror is diagnostic, not persisted.
	if err := ing.store.Set(key, value, sourceName, 0, false); err != nil {
		ing.logger.Warn("state mirror failed", slog.Any("error", err))
	}
}

// sleep waits for d or until ctx is done; reports whether to continue.
func (ing *Ingestor) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
