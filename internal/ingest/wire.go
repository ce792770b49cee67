package ingest

import (
	"encoding/json"
	"fmt"
	"time"

	"market_hub/internal/domain"

	"github.com/shopspring/decimal"
)

// Public channel names.
const (
	channelBook   = "book"
	channelTrade  = "trade"
	channelTicker = "ticker"
)

// Private channel names.
const (
	channelOwnTrades  = "owns"
	channelOpenOrders = "openOrders"
	channelBalances   = "balances"
)

// eventFrame is a JSON-object control frame (subscription status,
// heartbeat, error) as opposed to an array data frame.
type eventFrame struct {
	Event        string `json:"event"`
	Status       string `json:"status"`
	Pair         string `json:"pair"`
	ChannelName  string `json:"channelName"`
	ErrorMessage string `json:"errorMessage"`
	Msg          string `json:"msg"`
}

// bookPayload is the delta payload of a book frame. Either side may be
// absent.
type bookPayload struct {
	Bids [][]json.RawMessage `json:"bids"`
	Asks [][]json.RawMessage `json:"asks"`
}

// tickerPayload mirrors the exchange's ticker object: each field is an
// array whose indices carry different aggregation windows.
type tickerPayload struct {
	C []json.RawMessage `json:"c"` // close: [price, lot volume]
	V []json.RawMessage `json:"v"` // volume: [today, 24h]
	P []json.RawMessage `json:"p"` // vwap: [today, 24h]
	T []json.RawMessage `json:"t"` // trade count: [today, 24h]
	L []json.RawMessage `json:"l"` // low: [today, 24h]
	H []json.RawMessage `json:"h"` // high: [today, 24h]
	O []json.RawMessage `json:"o"` // open: [today, 24h]
}

// parseDecimal accepts both quoted ("50000.1") and bare (50000.1) JSON
// numbers, as the exchange mixes the two.
func parseDecimal(raw json.RawMessage) (decimal.Decimal, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return decimal.NewFromString(s)
	}
	var f json.Number
	if err := json.Unmarshal(raw, &f); err != nil {
		return decimal.Decimal{}, fmt.Errorf("not a number: %s", string(raw))
	}
	return decimal.NewFromString(f.String())
}

// parsePriceKey returns the price's original string representation, which
// keys the order book maps.
func parsePriceKey(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var f json.Number
	if err := json.Unmarshal(raw, &f); err != nil {
		return "", fmt.Errorf("not a price: %s", string(raw))
	}
	return f.String(), nil
}

// parseUnixTime parses an epoch-seconds value with fractional precision.
func parseUnixTime(raw json.RawMessage) (time.Time, error) {
	d, err := parseDecimal(raw)
	if err != nil {
		return time.Time{}, err
	}
	sec := d.IntPart()
	frac := d.Sub(decimal.NewFromInt(sec))
	nanos := frac.Mul(decimal.NewFromInt(int64(time.Second))).IntPart()
	return time.Unix(sec, nanos).UTC(), nil
}

// parseBookLevels converts one side of a book delta into price levels.
// Each row is [price, volume, timestamp]; the timestamp is unused.
func parseBookLevels(rows [][]json.RawMessage) ([]domain.PriceLevel, error) {
	levels := make([]domain.PriceLevel, 0, len(rows))
	for _, row := range rows {
		if len(row) < 2 {
			return nil, fmt.Errorf("book row has %d fields, want at least 2", len(row))
		}
		price, err := parsePriceKey(row[0])
		if err != nil {
			return nil, err
		}
		volume, err := parseDecimal(row[1])
		if err != nil {
			return nil, err
		}
		levels = append(levels, domain.PriceLevel{Price: price, Volume: volume})
	}
	return levels, nil
}

// parseTrades converts trade rows [price, volume, time, side, orderType].
func parseTrades(rows [][]json.RawMessage) ([]domain.Trade, error) {
	trades := make([]domain.Trade, 0, len(rows))
	for _, row := range rows {
		if len(row) < 5 {
			return nil, fmt.Errorf("trade row has %d fields, want 5", len(row))
		}
		price, err := parseDecimal(row[0])
		if err != nil {
			return nil, err
		}
		volume, err := parseDecimal(row[1])
		if err != nil {
			return nil, err
		}
		ts, err := parseUnixTime(row[2])
		if err != nil {
			return nil, err
		}
		var side, orderType string
		if err := json.Unmarshal(row[3], &side); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(row[4], &orderType); err != nil {
			return nil, err
		}
		trades = append(trades, domain.Trade{
			Price:     price,
			Volume:    volume,
			Time:      ts,
			Side:      domain.TradeSide(side),
			OrderType: orderType,
		})
	}
	return trades, nil
}

// parseTicker builds a ticker snapshot, rejecting payloads missing any
// required field.
func parseTicker(p tickerPayload) (domain.Ticker, error) {
	var t domain.Ticker
	if len(p.C) < 1 {
		return t, fmt.Errorf("missing close field %q", "c")
	}
	for name, field := range map[string][]json.RawMessage{
		"v": p.V, "p": p.P, "t": p.T, "l": p.L, "h": p.H, "o": p.O,
	} {
		if len(field) < 2 {
			return t, fmt.Errorf("missing or short field %q", name)
		}
	}

	var err error
	if t.Price, err = parseDecimal(p.C[0]); err != nil {
		return t, err
	}
	if t.Volume, err = parseDecimal(p.V[1]); err != nil {
		return t, err
	}
	if t.VWAP, err = parseDecimal(p.P[1]); err != nil {
		return t, err
	}
	count, err := parseDecimal(p.T[1])
	if err != nil {
		return t, err
	}
	t.TradeCount = count.IntPart()
	if t.Low, err = parseDecimal(p.L[1]); err != nil {
		return t, err
	}
	if t.High, err = parseDecimal(p.H[1]); err != nil {
		return t, err
	}
	if t.Open, err = parseDecimal(p.O[1]); err != nil {
		return t, err
	}
	return t, nil
}
