package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"market_hub/internal/domain"
	"market_hub/internal/event"
	"market_hub/internal/infra"
)

// balanceEntry is one asset's balance on the balances channel.
type balanceEntry struct {
	Total     json.RawMessage `json:"total"`
	Available json.RawMessage `json:"available"`
	InOrders  json.RawMessage `json:"in_orders"`
}

// ownTradeEntry is one execution on the owns channel.
type ownTradeEntry struct {
	TradeID string          `json:"trade_id"`
	OrderID string          `json:"order_id"`
	Pair    string          `json:"pair"`
	Side    string          `json:"side"`
	Type    string          `json:"type"`
	Price   json.RawMessage `json:"price"`
	Volume  json.RawMessage `json:"vol"`
	Cost    json.RawMessage `json:"cost"`
	Fee     json.RawMessage `json:"fee"`
	Time    json.RawMessage `json:"time"`
}

// openOrderEntry is one order on the openOrders channel.
type openOrderEntry struct {
	OrderID string          `json:"order_id"`
	Pair    string          `json:"pair"`
	Side    string          `json:"side"`
	Type    string          `json:"type"`
	Price   json.RawMessage `json:"price"`
	Volume  json.RawMessage `json:"vol"`
	Status  string          `json:"status"`
	Time    json.RawMessage `json:"time"`
}

// connectPrivate opens the authenticated stream and subscribes the
// private channels. AuthError is returned as-is so the caller can tell a
// credential failure from a transport one.
func (ing *Ingestor) connectPrivate(ctx context.Context) error {
	if err := ing.transport.ConnectPrivate(ctx); err != nil {
		ing.setFeedStatus(privateFeedStatusKey, "error: "+err.Error())
		ing.setConnStatus("private", "disconnected", err.Error())
		var authErr *domain.AuthError
		if errors.As(err, &authErr) {
			ing.publishError("auth", err)
		} else {
			ing.publishError("transport", err)
		}
		return err
	}

	if err := ing.transport.SendPrivateSubscribe(privateChannels); err != nil {
		ing.publishError("subscription", err)
		return err
	}

	ing.setConnStatus("private", "connected", "")
	ing.setFeedStatus(privateFeedStatusKey, "connected")
	return nil
}

// privateLoop consumes the private stream, reconnecting on transport
// failures. A credential rejection ends the loop: retrying with the same
// keys cannot succeed.
func (ing *Ingestor) privateLoop(ctx context.Context) {
	defer ing.wg.Done()
	retry := 0

	for {
		msgs := ing.transport.PrivateMessages()
		if msgs != nil {
			for {
				var raw json.RawMessage
				var ok bool
				select {
				case <-ctx.Done():
					return
				case raw, ok = <-msgs:
				}
				if !ok {
					break
				}
				ing.handlePrivateMessage(raw)
			}
			ing.setConnStatus("private", "disconnected", domain.ErrConnectionClosed.Error())
		}

		ing.mu.Lock()
		running := ing.privateRunning
		ing.mu.Unlock()
		if !running {
			return
		}

		retry++
		if !ing.sleep(ctx, infra.CalculateBackoff(retry)) {
			return
		}
		ing.setConnStatus("private", "connecting", "")
		if err := ing.connectPrivate(ctx); err != nil {
			var authErr *domain.AuthError
			if errors.As(err, &authErr) {
				ing.logger.Error("private stream halted", slog.Any("error", err))
				return
			}
			continue
		}
		retry = 0
	}
}

// handlePrivateMessage routes [channelID, channelName, payload] frames.
func (ing *Ingestor) handlePrivateMessage(raw json.RawMessage) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return
	}
	if trimmed[0] == '{' {
		ing.handleEventFrame(trimmed)
		return
	}

	var parts []json.RawMessage
	if err := json.Unmarshal(trimmed, &parts); err != nil {
		ing.dropMessage("", err)
		return
	}
	if len(parts) < 3 {
		ing.dropMessage("", errors.New("private frame too short"))
		return
	}

	var channel string
	if err := json.Unmarshal(parts[1], &channel); err != nil {
		ing.dropMessage("", err)
		return
	}

	switch channel {
	case channelOwnTrades:
		ing.handleOwnTrades(parts[2])
	case channelOpenOrders:
		ing.handleOpenOrders(parts[2])
	case channelBalances:
		ing.handleBalances(parts[2])
	default:
		ing.logger.Debug("unknown private channel", slog.String("channel", channel))
	}
}

func (ing *Ingestor) handleOwnTrades(payload json.RawMessage) {
	var entries []ownTradeEntry
	if err := json.Unmarshal(payload, &entries); err != nil {
		ing.dropMessage(channelOwnTrades, err)
		return
	}

	trades := make([]domain.OwnTrade, 0, len(entries))
	for _, e := range entries {
		price, err := parseDecimal(e.Price)
		if err != nil {
			ing.dropMessage(channelOwnTrades, err)
			return
		}
		volume, err := parseDecimal(e.Volume)
		if err != nil {
			ing.dropMessage(channelOwnTrades, err)
			return
		}
		cost, err := parseDecimal(e.Cost)
		if err != nil {
			ing.dropMessage(channelOwnTrades, err)
			return
		}
		fee, err := parseDecimal(e.Fee)
		if err != nil {
			ing.dropMessage(channelOwnTrades, err)
			return
		}
		ts, err := parseUnixTime(e.Time)
		if err != nil {
			ing.dropMessage(channelOwnTrades, err)
			return
		}
		trades = append(trades, domain.OwnTrade{
			TradeID:   e.TradeID,
			OrderID:   e.OrderID,
			Pair:      e.Pair,
			Side:      domain.TradeSide(e.Side),
			OrderType: e.Type,
			Price:     price,
			Volume:    volume,
			Cost:      cost,
			Fee:       fee,
			Time:      ts,
		})
	}

	ing.bus.Publish(event.Event{
		Type: event.KindOwnTradesUpdate,
		Data: event.OwnTradesPayload{
			Trades:    trades,
			Timestamp: time.Now().UTC(),
		},
		Source: sourceName,
	})
}

func (ing *Ingestor) handleOpenOrders(payload json.RawMessage) {
	var entries []openOrderEntry
	if err := json.Unmarshal(payload, &entries); err != nil {
		ing.dropMessage(channelOpenOrders, err)
		return
	}

	orders := make([]domain.OpenOrder, 0, len(entries))
	for _, e := range entries {
		price, err := parseDecimal(e.Price)
		if err != nil {
			ing.dropMessage(channelOpenOrders, err)
			return
		}
		volume, err := parseDecimal(e.Volume)
		if err != nil {
			ing.dropMessage(channelOpenOrders, err)
			return
		}
		ts, err := parseUnixTime(e.Time)
		if err != nil {
			ing.dropMessage(channelOpenOrders, err)
			return
		}
		orders = append(orders, domain.OpenOrder{
			OrderID:   e.OrderID,
			Pair:      e.Pair,
			Side:      domain.TradeSide(e.Side),
			OrderType: e.Type,
			Price:     price,
			Volume:    volume,
			Status:    domain.OrderStatus(e.Status),
			Time:      ts,
		})
	}

	ing.bus.Publish(event.Event{
		Type: event.KindOpenOrdersUpdate,
		Data: event.OpenOrdersPayload{
			Orders:    orders,
			Timestamp: time.Now().UTC(),
		},
		Source: sourceName,
	})
}

func (ing *Ingestor) handleBalances(payload json.RawMessage) {
	var entries map[string]balanceEntry
	if err := json.Unmarshal(payload, &entries); err != nil {
		ing.dropMessage(channelBalances, err)
		return
	}

	balances := make([]domain.Balance, 0, len(entries))
	for asset, e := range entries {
		total, err := parseDecimal(e.Total)
		if err != nil {
			ing.dropMessage(channelBalances, err)
			return
		}
		available, err := parseDecimal(e.Available)
		if err != nil {
			ing.dropMessage(channelBalances, err)
			return
		}
		inOrders, err := parseDecimal(e.InOrders)
		if err != nil {
			ing.dropMessage(channelBalances, err)
			return
		}
		balances = append(balances, domain.Balance{
			Asset:     asset,
			Total:     total,
			Available: available,
			InOrders:  inOrders,
		})
	}

	ing.bus.Publish(event.Event{
		Type: event.KindBalanceUpdate,
		Data: event.BalancePayload{
			Balances:  balances,
			Timestamp: time.Now().UTC(),
		},
		Source: sourceName,
	})
}
